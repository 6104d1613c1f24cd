package discord

import (
	"fmt"

	"otogi-invite/pkg/otogi"
)

// Decoder converts adapter updates into neutral otogi events.
type Decoder struct{}

// NewDecoder creates a Discord update decoder.
func NewDecoder() Decoder {
	return Decoder{}
}

// Decode maps messages to articles and membership changes to notices.
func (Decoder) Decode(update Update) (*otogi.Event, error) {
	event := &otogi.Event{
		ID:           update.ID,
		OccurredAt:   update.OccurredAt,
		Source:       otogi.EventSource{Platform: DriverPlatform},
		Conversation: conversationOf(update),
		Actor:        update.Actor,
	}

	switch update.Type {
	case UpdateTypeMessage:
		if update.Message == nil {
			return nil, fmt.Errorf("decode discord message: missing payload")
		}
		event.Kind = otogi.EventKindArticleCreated
		event.Article = &otogi.Article{
			ID:        update.Message.ID,
			ReplyToID: update.Message.ReplyToID,
			Text:      update.Message.Text,
			Mentions:  update.Message.Mentions,
		}
	case UpdateTypeMemberJoin, UpdateTypeMemberLeave:
		if update.Member == nil {
			return nil, fmt.Errorf("decode discord member update: missing payload")
		}
		event.Kind = otogi.EventKindNoticeReceived
		event.Notice = &otogi.Notice{Payload: membershipNotice(update)}
	default:
		return nil, fmt.Errorf("decode discord update %s: unsupported type", update.Type)
	}

	if err := event.Validate(); err != nil {
		return nil, fmt.Errorf("decode discord update %s: %w", update.Type, err)
	}

	return event, nil
}

// conversationOf maps guild updates to the guild and direct messages to their channel.
func conversationOf(update Update) otogi.Conversation {
	if update.GuildID == "" {
		return otogi.Conversation{ID: update.ChannelID, Type: otogi.ConversationTypePrivate}
	}

	return otogi.Conversation{ID: update.GuildID, Type: otogi.ConversationTypeGroup, Title: update.GuildName}
}

func membershipNotice(update Update) map[string]any {
	detail := noticeDetailIncrease
	if update.Type == UpdateTypeMemberLeave {
		detail = noticeDetailDecrease
	}

	payload := map[string]any{
		"type":        noticeClassification,
		"detail_type": detail,
		"extra_type":  string(update.Member.Via),
		"groupId":     update.GuildID,
		"userId":      update.Member.Member.ID,
		"userName":    update.Member.Member.DisplayName,
	}
	if operator := update.Member.Operator; operator != nil {
		payload["operatorUid"] = operator.ID
		payload["operatorName"] = operator.DisplayName
	}

	return payload
}
