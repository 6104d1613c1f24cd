package invitecount

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// ErrNotMembershipEvent marks a payload that is not a group membership notice.
var ErrNotMembershipEvent = errors.New("invitecount: not a membership event")

// Kind is the canonical coarse event kind.
type Kind string

const (
	// KindIncrease is a member joining.
	KindIncrease Kind = "increase"
	// KindDecrease is a member leaving.
	KindDecrease Kind = "decrease"
)

// SubKind is the canonical fine-grained event kind.
type SubKind string

const (
	// SubKindApprove is a join without an inviter.
	SubKindApprove SubKind = "approve"
	// SubKindInvite is a join through an inviter.
	SubKindInvite SubKind = "invite"
	// SubKindLeave is a voluntary leave.
	SubKindLeave SubKind = "leave"
	// SubKindKick is a removal by an operator.
	SubKindKick SubKind = "kick"
)

// Candidate field names per concept, first non-empty wins.
var (
	groupIDFields        = []string{"group_id", "chat_id", "group", "groupId"}
	userIDFields         = []string{"user_id", "target_id", "member_id", "userId", "member"}
	operatorIDFields     = []string{"operator_id", "inviter_id", "operator_user_id", "operatorUid", "inviter"}
	classificationFields = []string{"post_type", "type", "notice_type"}
	eventTypeFields      = []string{"notice_type", "event", "detail_type"}
	subTypeFields        = []string{"sub_type", "subEvent", "extra_type"}
)

var noticeClassifications = map[string]struct{}{
	"notice":       {},
	"group_notice": {},
}

var kindAliases = map[string]Kind{
	"group_increase":              KindIncrease,
	"member_increase":             KindIncrease,
	"group_member_increase":       KindIncrease,
	"group_member_increase_event": KindIncrease,
	"group_decrease":              KindDecrease,
	"member_decrease":             KindDecrease,
	"group_member_decrease":       KindDecrease,
	"group_member_decrease_event": KindDecrease,
}

var subKindAliases = map[string]SubKind{
	"join":     SubKindApprove,
	"approve":  SubKindApprove,
	"increase": SubKindApprove,
	"pass":     SubKindApprove,
	"invite":   SubKindInvite,
	"invited":  SubKindInvite,
	"leave":    SubKindLeave,
	"quit":     SubKindLeave,
	"exit":     SubKindLeave,
	"kick":     SubKindKick,
	"kick_me":  SubKindKick,
	"ban":      SubKindKick,
}

// MembershipEvent is one canonical membership notice.
type MembershipEvent struct {
	Kind       Kind
	SubKind    SubKind
	GroupID    string
	UserID     string
	OperatorID string
	// At is the capture time; payload time fields are not trusted.
	At time.Time
}

// Timestamp renders At in the persisted layout.
func (e MembershipEvent) Timestamp() string {
	return FormatTime(e.At)
}

// Normalize maps a raw notice payload onto a MembershipEvent.
//
// Kind and SubKind fall back to the lower-cased raw value when no alias
// matches, so callers can tell recognized-but-unsupported notices apart from
// payloads that are not membership notices at all.
func Normalize(payload map[string]any, now time.Time) (MembershipEvent, error) {
	if payload == nil {
		return MembershipEvent{}, fmt.Errorf("%w: nil payload", ErrNotMembershipEvent)
	}

	classification := strings.ToLower(firstField(payload, classificationFields))
	if _, ok := noticeClassifications[classification]; !ok {
		return MembershipEvent{}, fmt.Errorf("%w: classification %q", ErrNotMembershipEvent, classification)
	}

	groupID := firstField(payload, groupIDFields)
	if groupID == "" {
		return MembershipEvent{}, fmt.Errorf("%w: missing group id", ErrNotMembershipEvent)
	}

	return MembershipEvent{
		Kind:       canonicalKind(firstField(payload, eventTypeFields)),
		SubKind:    canonicalSubKind(firstField(payload, subTypeFields)),
		GroupID:    groupID,
		UserID:     firstField(payload, userIDFields),
		OperatorID: firstField(payload, operatorIDFields),
		At:         now,
	}, nil
}

func canonicalKind(raw string) Kind {
	normalized := strings.ToLower(raw)
	if kind, ok := kindAliases[normalized]; ok {
		return kind
	}

	return Kind(normalized)
}

func canonicalSubKind(raw string) SubKind {
	normalized := strings.ToLower(raw)
	if subKind, ok := subKindAliases[normalized]; ok {
		return subKind
	}

	return SubKind(normalized)
}

// firstField returns the first non-empty string form among fields.
func firstField(payload map[string]any, fields []string) string {
	for _, field := range fields {
		if value := stringify(payload[field]); value != "" {
			return value
		}
	}

	return ""
}

// stringify coerces one payload value to its id form.
//
// Zero counts as empty, whether sent as a number or as the string "0", matching
// protocols that send 0 for "no operator".
func stringify(value any) string {
	switch typed := value.(type) {
	case nil:
		return ""
	case string:
		return textID(typed)
	case json.Number:
		if number, err := typed.Float64(); err == nil && number == 0 {
			return ""
		}
		return typed.String()
	case float64:
		return formatFloat(typed)
	case float32:
		return formatFloat(float64(typed))
	case int:
		return formatInt(int64(typed))
	case int32:
		return formatInt(int64(typed))
	case int64:
		return formatInt(typed)
	case uint32:
		return formatInt(int64(typed))
	case uint64:
		if typed == 0 {
			return ""
		}
		return strconv.FormatUint(typed, 10)
	case fmt.Stringer:
		return textID(typed.String())
	default:
		return ""
	}
}

func textID(value string) string {
	trimmed := strings.TrimSpace(value)
	if number, err := strconv.ParseFloat(trimmed, 64); err == nil && number == 0 {
		return ""
	}

	return trimmed
}

func formatInt(value int64) string {
	if value == 0 {
		return ""
	}

	return strconv.FormatInt(value, 10)
}

func formatFloat(value float64) string {
	if value == 0 || math.IsNaN(value) || math.IsInf(value, 0) {
		return ""
	}
	if value == math.Trunc(value) && math.Abs(value) < 1<<63 {
		return strconv.FormatInt(int64(value), 10)
	}

	return strconv.FormatFloat(value, 'f', -1, 64)
}
