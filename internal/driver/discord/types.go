package discord

import (
	"time"

	"otogi-invite/pkg/otogi"
)

// UpdateType identifies a gateway update category the adapter forwards.
type UpdateType string

const (
	// UpdateTypeMessage identifies new guild or direct messages.
	UpdateTypeMessage UpdateType = "message"
	// UpdateTypeMemberJoin identifies guild member additions.
	UpdateTypeMemberJoin UpdateType = "member_join"
	// UpdateTypeMemberLeave identifies guild member removals.
	UpdateTypeMemberLeave UpdateType = "member_leave"
)

// Via describes how a membership change happened.
type Via string

const (
	// ViaInvite is a join attributed to someone's invite code.
	ViaInvite Via = "invite"
	// ViaJoin is a join with no attributable inviter.
	ViaJoin Via = "join"
	// ViaLeave is a voluntary leave.
	ViaLeave Via = "leave"
	// ViaKick is a removal found in the audit log.
	ViaKick Via = "kick"
)

// Update is the Discord adapter's internal DTO before neutral decoding.
//
// Guild updates carry GuildID; direct messages leave it empty.
type Update struct {
	ID         string
	Type       UpdateType
	OccurredAt time.Time
	GuildID    string
	GuildName  string
	ChannelID  string
	Actor      otogi.Actor
	Message    *MessagePayload
	Member     *MemberPayload
}

// MessagePayload is the projection of one created message.
type MessagePayload struct {
	ID        string
	ReplyToID string
	Text      string
	Mentions  []otogi.Mention
}

// MemberPayload captures one join or leave. Operator is the inviter for joins
// and the kicking moderator for kicks.
type MemberPayload struct {
	Member   otogi.Actor
	Operator *otogi.Actor
	Via      Via
}
