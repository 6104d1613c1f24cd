package onebot

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"otogi-invite/pkg/otogi"
)

// ErrIgnoredPayload marks inbound frames that carry no neutral event.
var ErrIgnoredPayload = errors.New("onebot: ignored payload")

var cqAtPattern = regexp.MustCompile(`\[CQ:at,qq=([^,\]]+)[^\]]*\]`)
var cqAnyPattern = regexp.MustCompile(`\[CQ:[^\]]*\]`)

var cqUnescaper = strings.NewReplacer("&#91;", "[", "&#93;", "]", "&#44;", ",", "&amp;", "&")

// Decoder maps raw OneBot v11 frames into neutral events.
type Decoder struct {
	now   func() time.Time
	newID func() string
}

// NewDecoder creates a decoder using wall-clock time and random ids for notices.
func NewDecoder() *Decoder {
	return &Decoder{
		now:   time.Now,
		newID: uuid.NewString,
	}
}

// Decode maps one event frame.
//
// Message frames become article events, notice frames are forwarded with
// their payload untouched, and every other frame returns ErrIgnoredPayload.
func (d *Decoder) Decode(raw []byte) (*otogi.Event, error) {
	if !gjson.ValidBytes(raw) {
		return nil, fmt.Errorf("decode onebot frame: invalid json")
	}

	frame := gjson.ParseBytes(raw)
	switch frame.Get("post_type").String() {
	case "message":
		return d.decodeMessage(frame)
	case "notice":
		return d.decodeNotice(raw, frame)
	default:
		return nil, ErrIgnoredPayload
	}
}

func (d *Decoder) decodeMessage(frame gjson.Result) (*otogi.Event, error) {
	messageID := frame.Get("message_id").String()
	if messageID == "" {
		return nil, fmt.Errorf("decode onebot message: missing message_id")
	}

	conversation := otogi.Conversation{}
	switch frame.Get("message_type").String() {
	case "group":
		conversation.ID = frame.Get("group_id").String()
		conversation.Type = otogi.ConversationTypeGroup
	case "private":
		conversation.ID = frame.Get("user_id").String()
		conversation.Type = otogi.ConversationTypePrivate
	default:
		return nil, ErrIgnoredPayload
	}
	if conversation.ID == "" {
		return nil, fmt.Errorf("decode onebot message %s: missing conversation id", messageID)
	}

	text, mentions := messageContent(frame.Get("message"), frame.Get("raw_message"))
	sender := frame.Get("sender")
	displayName := strings.TrimSpace(sender.Get("card").String())
	if displayName == "" {
		displayName = strings.TrimSpace(sender.Get("nickname").String())
	}

	return &otogi.Event{
		ID:           "onebot-message-" + messageID,
		Kind:         otogi.EventKindArticleCreated,
		OccurredAt:   d.frameTime(frame),
		Conversation: conversation,
		Actor: otogi.Actor{
			ID:          frame.Get("user_id").String(),
			Username:    sender.Get("nickname").String(),
			DisplayName: displayName,
		},
		Article: &otogi.Article{
			ID:       messageID,
			Text:     text,
			Mentions: mentions,
		},
		Metadata: map[string]string{
			"self_id": frame.Get("self_id").String(),
		},
	}, nil
}

func (d *Decoder) decodeNotice(raw []byte, frame gjson.Result) (*otogi.Event, error) {
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()
	payload := make(map[string]any)
	if err := decoder.Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode onebot notice: %w", err)
	}

	conversation := otogi.Conversation{}
	if groupID := frame.Get("group_id").String(); groupID != "" {
		conversation.ID = groupID
		conversation.Type = otogi.ConversationTypeGroup
	}

	return &otogi.Event{
		ID:           "onebot-notice-" + d.newID(),
		Kind:         otogi.EventKindNoticeReceived,
		OccurredAt:   d.frameTime(frame),
		Conversation: conversation,
		Actor:        otogi.Actor{ID: frame.Get("operator_id").String()},
		Notice:       &otogi.Notice{Payload: payload},
		Metadata: map[string]string{
			"notice_type": frame.Get("notice_type").String(),
			"self_id":     frame.Get("self_id").String(),
		},
	}, nil
}

func (d *Decoder) frameTime(frame gjson.Result) time.Time {
	if seconds := frame.Get("time").Int(); seconds > 0 {
		return time.Unix(seconds, 0)
	}

	return d.now()
}

// messageContent flattens a segment array or CQ-coded string into plain text
// plus mentions. At segments render as "@<id>" so commands keep their
// arguments in order.
func messageContent(message gjson.Result, rawMessage gjson.Result) (string, []otogi.Mention) {
	if message.IsArray() {
		return segmentContent(message)
	}

	text := message.String()
	if text == "" {
		text = rawMessage.String()
	}

	return cqContent(text)
}

func segmentContent(segments gjson.Result) (string, []otogi.Mention) {
	var builder strings.Builder
	mentions := make([]otogi.Mention, 0)
	segments.ForEach(func(_, segment gjson.Result) bool {
		data := segment.Get("data")
		switch segment.Get("type").String() {
		case "text":
			builder.WriteString(data.Get("text").String())
		case "at":
			userID := data.Get("qq").String()
			if userID == "" || userID == "all" {
				return true
			}
			mentions = append(mentions, otogi.Mention{
				UserID:      userID,
				DisplayName: data.Get("name").String(),
			})
			builder.WriteString(" @" + userID + " ")
		}
		return true
	})

	return strings.Join(strings.Fields(builder.String()), " "), mentions
}

func cqContent(text string) (string, []otogi.Mention) {
	mentions := make([]otogi.Mention, 0)
	for _, match := range cqAtPattern.FindAllStringSubmatch(text, -1) {
		if match[1] == "all" {
			continue
		}
		mentions = append(mentions, otogi.Mention{UserID: match[1]})
	}

	replaced := cqAtPattern.ReplaceAllStringFunc(text, func(code string) string {
		match := cqAtPattern.FindStringSubmatch(code)
		if len(match) < 2 || match[1] == "all" {
			return " "
		}
		return " @" + match[1] + " "
	})
	replaced = cqUnescaper.Replace(cqAnyPattern.ReplaceAllString(replaced, " "))

	return strings.Join(strings.Fields(replaced), " "), mentions
}
