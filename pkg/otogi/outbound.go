package otogi

import (
	"context"
	"fmt"
)

// ServiceSinkDispatcher is the canonical service registry key for outbound messaging.
const ServiceSinkDispatcher = "otogi.sink_dispatcher"

// SinkDispatcher sends neutral outbound messages to one sink adapter.
type SinkDispatcher interface {
	// SendMessage publishes a new outbound message to a destination conversation.
	SendMessage(ctx context.Context, request SendMessageRequest) (*OutboundMessage, error)
}

// OutboundTarget identifies a conversation on a specific sink.
//
// It addresses both outbound messages and member directory lookups.
type OutboundTarget struct {
	// Conversation identifies the destination conversation.
	Conversation Conversation
	// Sink selects the driver instance; nil lets the router pick the only one.
	Sink *EventSource
}

// Validate checks target identity fields used for outbound routing.
func (t OutboundTarget) Validate() error {
	if t.Conversation.ID == "" {
		return fmt.Errorf("%w: missing conversation id", ErrInvalidOutboundRequest)
	}
	if t.Conversation.Type == "" {
		return fmt.Errorf("%w: missing conversation type", ErrInvalidOutboundRequest)
	}
	if t.Sink != nil && t.Sink.Platform == "" && t.Sink.ID == "" {
		return fmt.Errorf("%w: missing sink identity", ErrInvalidOutboundRequest)
	}

	return nil
}

// OutboundTargetFromEvent derives a reply target from an inbound event.
func OutboundTargetFromEvent(event *Event) (OutboundTarget, error) {
	if event == nil {
		return OutboundTarget{}, fmt.Errorf("%w: nil event", ErrInvalidOutboundRequest)
	}

	target := OutboundTarget{Conversation: event.Conversation}
	if event.Source.Platform != "" || event.Source.ID != "" {
		source := event.Source
		target.Sink = &source
	}
	if err := target.Validate(); err != nil {
		return OutboundTarget{}, fmt.Errorf("derive target from event %s: %w", event.Kind, err)
	}

	return target, nil
}

// OutboundMessage identifies a message successfully emitted by the dispatcher.
type OutboundMessage struct {
	// ID is the destination-platform message identifier.
	ID string
	// Target is the destination where this message was delivered.
	Target OutboundTarget
}

// SendMessageRequest describes a new outbound text message.
type SendMessageRequest struct {
	// Target identifies where the message should be sent.
	Target OutboundTarget
	// Text is the plain-text message body.
	Text string
	// ReplyToMessageID optionally links this message as a reply.
	ReplyToMessageID string
}

// Validate checks the request envelope before dispatch.
func (r SendMessageRequest) Validate() error {
	if err := r.Target.Validate(); err != nil {
		return fmt.Errorf("validate send message target: %w", err)
	}
	if r.Text == "" {
		return fmt.Errorf("%w: missing message text", ErrInvalidOutboundRequest)
	}

	return nil
}
