package otogi

import (
	"fmt"
	"time"
)

// EventKind identifies a neutral domain event type.
type EventKind string

const (
	// EventKindArticleCreated is emitted when a new chat message is posted.
	EventKindArticleCreated EventKind = "article.created"
	// EventKindNoticeReceived is emitted when a platform delivers a group notice
	// such as a membership change.
	EventKindNoticeReceived EventKind = "notice.received"
	// EventKindCommandReceived is derived by the kernel from an ordinary command article.
	EventKindCommandReceived EventKind = "command.received"
	// EventKindSystemCommandReceived is derived by the kernel from a system command article.
	EventKindSystemCommandReceived EventKind = "system_command.received"
)

// Platform identifies an external chat platform source.
type Platform string

const (
	// PlatformTelegram is Telegram.
	PlatformTelegram Platform = "telegram"
	// PlatformOneBot is any OneBot v11 implementation, typically bridging QQ.
	PlatformOneBot Platform = "onebot"
	// PlatformDiscord is Discord.
	PlatformDiscord Platform = "discord"
)

// ConversationType identifies conversation scope.
type ConversationType string

const (
	// ConversationTypePrivate is a direct/private conversation.
	ConversationTypePrivate ConversationType = "private"
	// ConversationTypeGroup is a group conversation.
	ConversationTypeGroup ConversationType = "group"
	// ConversationTypeChannel is a channel-style conversation.
	ConversationTypeChannel ConversationType = "channel"
)

// EventSource identifies the configured driver instance that produced an event.
type EventSource struct {
	// Platform is the upstream platform of the driver.
	Platform Platform
	// ID is the configured driver instance name.
	ID string
}

// Event is the neutral protocol envelope that all drivers publish and modules consume.
//
// Article, Notice, and Command are optional payload branches selected by Kind.
type Event struct {
	// ID is a stable identifier for this event instance.
	ID string
	// Kind selects which payload branch is expected.
	Kind EventKind
	// OccurredAt is the source-platform timestamp for the event.
	OccurredAt time.Time
	// Source identifies the driver instance that published the event.
	Source EventSource
	// Conversation identifies where the event happened.
	Conversation Conversation
	// Actor identifies who initiated the event when available.
	Actor Actor
	// Article carries message content for article and command events.
	Article *Article
	// Notice carries the raw platform notice payload.
	Notice *Notice
	// Command carries the bound invocation for command events.
	Command *CommandInvocation
	// Metadata stores optional driver-provided key/value context.
	Metadata map[string]string
}

// Conversation identifies the neutral destination where an event occurred.
type Conversation struct {
	// ID is the stable conversation identifier on the source platform.
	ID string
	// Type describes the conversation scope.
	Type ConversationType
	// Title is a best-effort display label for the conversation.
	Title string
}

// Actor identifies the user/account that initiated an event.
type Actor struct {
	// ID is the stable actor identifier on the source platform.
	ID string
	// Username is the platform handle when available.
	Username string
	// DisplayName is the human-readable actor name.
	DisplayName string
	// IsBot reports whether the actor is an automated account.
	IsBot bool
}

// Article holds neutral chat message content.
type Article struct {
	// ID is the message identifier on the source platform.
	ID string
	// ReplyToID is the parent message identifier when this is a reply.
	ReplyToID string
	// Text is the plain message text with platform markup removed.
	Text string
	// Mentions lists users referenced by the message in order of appearance.
	Mentions []Mention
}

// Mention references one user inside an article.
type Mention struct {
	// UserID is the platform identifier of the mentioned user.
	UserID string
	// DisplayName is the rendered mention label when available.
	DisplayName string
}

// Notice carries a platform notice exactly as the driver received it.
//
// Payload keys follow the dialect of the producing platform; consumers are
// expected to resolve field aliases themselves.
type Notice struct {
	// Payload is the raw string-keyed notice body.
	Payload map[string]any
}

// Validate checks event envelope and payload coherence.
func (e *Event) Validate() error {
	if e == nil {
		return fmt.Errorf("%w: nil event", ErrInvalidEvent)
	}
	if e.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidEvent)
	}
	if e.Kind == "" {
		return fmt.Errorf("%w: missing kind", ErrInvalidEvent)
	}
	if e.OccurredAt.IsZero() {
		return fmt.Errorf("%w: missing occurred_at", ErrInvalidEvent)
	}

	switch e.Kind {
	case EventKindArticleCreated:
		if e.Conversation.ID == "" {
			return fmt.Errorf("%w: missing conversation id", ErrInvalidEvent)
		}
		if e.Article == nil {
			return fmt.Errorf("%w: %s requires article payload", ErrInvalidEvent, e.Kind)
		}
	case EventKindNoticeReceived:
		if e.Notice == nil || e.Notice.Payload == nil {
			return fmt.Errorf("%w: %s requires notice payload", ErrInvalidEvent, e.Kind)
		}
	case EventKindCommandReceived, EventKindSystemCommandReceived:
		if e.Conversation.ID == "" {
			return fmt.Errorf("%w: missing conversation id", ErrInvalidEvent)
		}
		if e.Command == nil {
			return fmt.Errorf("%w: %s requires command payload", ErrInvalidEvent, e.Kind)
		}
		if err := e.Command.Validate(); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidEvent, err)
		}
	default:
		return fmt.Errorf("%w: unsupported kind %q", ErrInvalidEvent, e.Kind)
	}

	return nil
}
