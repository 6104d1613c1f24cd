package telegram

import (
	"context"
	"fmt"
	"time"

	"otogi-invite/pkg/otogi"
)

// Decoder converts Telegram update DTOs into neutral otogi events.
type Decoder interface {
	// Decode maps one adapter update into a validated neutral event envelope.
	Decode(ctx context.Context, update Update) (*otogi.Event, error)
}

// DefaultDecoder maps messages to articles and membership changes to notices.
type DefaultDecoder struct{}

// NewDefaultDecoder creates a default decoder.
func NewDefaultDecoder() DefaultDecoder {
	return DefaultDecoder{}
}

// Decode converts a Telegram update into a neutral event.
func (d DefaultDecoder) Decode(_ context.Context, update Update) (*otogi.Event, error) {
	event := newBaseEvent(update)

	switch update.Type {
	case UpdateTypeMessage:
		if update.Message == nil {
			return nil, fmt.Errorf("decode message: missing message payload")
		}
		event.Kind = otogi.EventKindArticleCreated
		event.Article = decodeArticle(update.Message)
	case UpdateTypeMemberJoin, UpdateTypeMemberLeave:
		if update.Member == nil {
			return nil, fmt.Errorf("decode member update: missing member payload")
		}
		event.Kind = otogi.EventKindNoticeReceived
		event.Notice = &otogi.Notice{Payload: membershipNotice(update)}
	default:
		return nil, fmt.Errorf("decode update %s: unsupported type", update.Type)
	}

	if err := event.Validate(); err != nil {
		return nil, fmt.Errorf("decode update %s: %w", update.Type, err)
	}

	return event, nil
}

func newBaseEvent(update Update) *otogi.Event {
	occurredAt := update.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}

	return &otogi.Event{
		ID:         update.ID,
		OccurredAt: occurredAt,
		Source:     otogi.EventSource{Platform: DriverPlatform},
		Conversation: otogi.Conversation{
			ID:    update.Chat.ID,
			Type:  update.Chat.Type,
			Title: update.Chat.Title,
		},
		Actor:    mapActor(update.Actor),
		Metadata: update.Metadata,
	}
}

func decodeArticle(payload *MessagePayload) *otogi.Article {
	mentions := make([]otogi.Mention, 0, len(payload.Mentions))
	for _, mention := range payload.Mentions {
		if mention.ID == "" || mention.ID == gotdUnknownID {
			continue
		}
		mentions = append(mentions, otogi.Mention{UserID: mention.ID, DisplayName: mention.DisplayName})
	}

	return &otogi.Article{
		ID:        payload.ID,
		ReplyToID: payload.ReplyToID,
		Text:      payload.Text,
		Mentions:  mentions,
	}
}

// membershipNotice renders a membership transition in the Telegram notice dialect.
func membershipNotice(update Update) map[string]any {
	event := noticeEventIncrease
	if update.Type == UpdateTypeMemberLeave {
		event = noticeEventDecrease
	}

	payload := map[string]any{
		"type":        noticeClassification,
		"event":       event,
		"subEvent":    noticeSubEvents[update.Member.Via],
		"chat_id":     update.Chat.ID,
		"member_id":   update.Member.Member.ID,
		"member_name": update.Member.Member.DisplayName,
	}
	if operator := update.Member.Operator; operator != nil {
		payload["inviter_id"] = operator.ID
		payload["inviter_name"] = operator.DisplayName
	}

	return payload
}

func mapActor(actor ActorRef) otogi.Actor {
	return otogi.Actor{
		ID:          actor.ID,
		Username:    actor.Username,
		DisplayName: actor.DisplayName,
		IsBot:       actor.IsBot,
	}
}
