package telegram

import (
	"time"

	"otogi-invite/pkg/otogi"
)

// UpdateType identifies the Telegram update semantic category.
type UpdateType string

const (
	// UpdateTypeMessage identifies new message updates.
	UpdateTypeMessage UpdateType = "message"
	// UpdateTypeMemberJoin identifies member join updates.
	UpdateTypeMemberJoin UpdateType = "member_join"
	// UpdateTypeMemberLeave identifies member leave updates.
	UpdateTypeMemberLeave UpdateType = "member_leave"
)

// JoinVia describes how a membership change happened.
type JoinVia string

const (
	// ViaAdded is a member added by another user.
	ViaAdded JoinVia = "added"
	// ViaLink is a member joining through someone's invite link.
	ViaLink JoinVia = "link"
	// ViaSelf is a member joining on their own or through an approved request.
	ViaSelf JoinVia = "self"
	// ViaLeft is a voluntary leave.
	ViaLeft JoinVia = "left"
	// ViaRemoved is a removal by another user.
	ViaRemoved JoinVia = "removed"
)

// Update is the Telegram adapter's internal DTO before neutral decoding.
type Update struct {
	ID         string
	Type       UpdateType
	OccurredAt time.Time
	Chat       ChatRef
	Actor      ActorRef
	Message    *MessagePayload
	Member     *MemberPayload
	Metadata   map[string]string
}

// ChatRef identifies Telegram chat context.
type ChatRef struct {
	ID    string
	Title string
	Type  otogi.ConversationType
}

// ActorRef identifies Telegram actor context.
type ActorRef struct {
	ID          string
	Username    string
	DisplayName string
	IsBot       bool
}

// MessagePayload represents a Telegram message projection.
type MessagePayload struct {
	ID        string
	ReplyToID string
	Text      string
	Mentions  []ActorRef
}

// MemberPayload captures one join or leave transition.
//
// Operator is the inviter for joins and the remover for kicks.
type MemberPayload struct {
	Member   ActorRef
	Operator *ActorRef
	Via      JoinVia
}
