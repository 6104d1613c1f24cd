package invitecount

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// TimeLayout is the persisted timestamp layout. It sorts lexically.
const TimeLayout = "2006-01-02 15:04:05"

// FormatTime renders t in local time using TimeLayout.
func FormatTime(t time.Time) string {
	return t.In(time.Local).Format(TimeLayout)
}

// ParseTime parses one persisted timestamp in local time.
func ParseTime(value string) (time.Time, bool) {
	parsed, err := time.ParseInLocation(TimeLayout, strings.TrimSpace(value), time.Local)
	if err != nil {
		return time.Time{}, false
	}

	return parsed, true
}

// JoinType records how a member entered the group.
//
// Values are the persisted labels; the zero value means never observed joining.
type JoinType string

const (
	// JoinTypeUnset marks a record that never saw a join event.
	JoinTypeUnset JoinType = ""
	// JoinTypeInvited marks a member brought in by an inviter.
	JoinTypeInvited JoinType = "邀请"
	// JoinTypeSelfJoined marks a member who joined without an inviter.
	JoinTypeSelfJoined JoinType = "主动"
)

// LeaveCategory partitions leave states.
type LeaveCategory int

const (
	// LeaveNone means present, or never observed leaving.
	LeaveNone LeaveCategory = iota
	// LeaveVoluntary means the member left on their own.
	LeaveVoluntary
	// LeaveKicked means an operator removed the member.
	LeaveKicked
)

const (
	leftLabel       = "自己退群"
	kickedLabel     = "被踢"
	kickedMarker    = "踢"
	kickedLabelOpen = "("
)

// LeaveType is the structured leave state of one record.
//
// It is persisted as "自己退群", "被踢(<operator_id>)" or null.
type LeaveType struct {
	Category   LeaveCategory
	OperatorID string

	// raw keeps an unrecognized persisted label so rewrites do not lose it.
	raw string
}

// LeftVoluntarily returns the voluntary leave state.
func LeftVoluntarily() LeaveType {
	return LeaveType{Category: LeaveVoluntary}
}

// KickedBy returns the kicked leave state for one operator.
func KickedBy(operatorID string) LeaveType {
	return LeaveType{Category: LeaveKicked, OperatorID: operatorID}
}

// Present reports whether the record has no leave recorded.
func (l LeaveType) Present() bool {
	return l.Category == LeaveNone
}

// String renders the persisted label, or "" when no leave is recorded.
func (l LeaveType) String() string {
	if l.raw != "" {
		return l.raw
	}

	switch l.Category {
	case LeaveVoluntary:
		return leftLabel
	case LeaveKicked:
		return fmt.Sprintf("%s(%s)", kickedLabel, l.OperatorID)
	default:
		return ""
	}
}

// ParseLeaveType classifies one persisted leave label.
//
// Any label mentioning a kick counts as kicked; other unknown labels count as
// voluntary so every absent member falls in exactly one category.
func ParseLeaveType(label string) LeaveType {
	trimmed := strings.TrimSpace(label)
	switch {
	case trimmed == "":
		return LeaveType{}
	case trimmed == leftLabel:
		return LeftVoluntarily()
	case strings.HasPrefix(trimmed, kickedLabel+kickedLabelOpen) && strings.HasSuffix(trimmed, ")"):
		operator := strings.TrimSuffix(strings.TrimPrefix(trimmed, kickedLabel+kickedLabelOpen), ")")
		return KickedBy(operator)
	case strings.Contains(trimmed, kickedMarker):
		return LeaveType{Category: LeaveKicked, raw: trimmed}
	default:
		return LeaveType{Category: LeaveVoluntary, raw: trimmed}
	}
}

// MemberRecord is the ledger entry for one user id.
type MemberRecord struct {
	Nickname    string
	Inviter     string
	InviterName string
	JoinType    JoinType
	JoinTime    string
	Leave       LeaveType
	LeaveTime   string
}

type recordJSON struct {
	Nickname    string  `json:"nickname"`
	Inviter     *string `json:"inviter"`
	InviterName *string `json:"inviter_name"`
	JoinType    *string `json:"join_type"`
	JoinTime    *string `json:"join_time"`
	LeaveType   *string `json:"leave_type"`
	LeaveTime   *string `json:"leave_time"`
}

// MarshalJSON writes the persisted field set, with unset values as null.
func (r MemberRecord) MarshalJSON() ([]byte, error) {
	encoded, err := json.Marshal(recordJSON{
		Nickname:    r.Nickname,
		Inviter:     nullable(r.Inviter),
		InviterName: nullable(r.InviterName),
		JoinType:    nullable(string(r.JoinType)),
		JoinTime:    nullable(r.JoinTime),
		LeaveType:   nullable(r.Leave.String()),
		LeaveTime:   nullable(r.LeaveTime),
	})
	if err != nil {
		return nil, fmt.Errorf("marshal member record: %w", err)
	}

	return encoded, nil
}

// UnmarshalJSON reads the persisted field set.
func (r *MemberRecord) UnmarshalJSON(data []byte) error {
	var decoded recordJSON
	if err := json.Unmarshal(data, &decoded); err != nil {
		return fmt.Errorf("unmarshal member record: %w", err)
	}

	*r = MemberRecord{
		Nickname:    decoded.Nickname,
		Inviter:     deref(decoded.Inviter),
		InviterName: deref(decoded.InviterName),
		JoinType:    JoinType(deref(decoded.JoinType)),
		JoinTime:    deref(decoded.JoinTime),
		Leave:       ParseLeaveType(deref(decoded.LeaveType)),
		LeaveTime:   deref(decoded.LeaveTime),
	}

	return nil
}

func nullable(value string) *string {
	if value == "" {
		return nil
	}

	return &value
}

func deref(value *string) string {
	if value == nil {
		return ""
	}

	return *value
}
