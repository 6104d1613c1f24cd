package otogi

import (
	"context"
	"strings"
)

// ServiceMemberDirectory is the canonical service registry key for member lookups.
const ServiceMemberDirectory = "otogi.member_directory"

// MemberProfile is a best-effort snapshot of one group member.
//
// Platforms fill only the fields they know; empty strings mean unknown.
type MemberProfile struct {
	// UserID is the platform identifier of the member.
	UserID string
	// Card is the group-specific name (QQ group card, Discord nickname).
	Card string
	// Nickname is the account-wide nickname.
	Nickname string
	// Remark is the bot owner's private remark for the member.
	Remark string
	// DisplayName is a platform-rendered display label.
	DisplayName string
	// UserName is the login or handle of the member.
	UserName string
}

// BestName returns the first non-empty name in card, nickname, remark,
// display name, user name order.
func (p MemberProfile) BestName() string {
	for _, candidate := range []string{p.Card, p.Nickname, p.Remark, p.DisplayName, p.UserName} {
		if trimmed := strings.TrimSpace(candidate); trimmed != "" {
			return trimmed
		}
	}

	return ""
}

// MemberDirectory answers member lookups for a group conversation.
//
// Implementations return ErrMemberDirectoryUnsupported when the platform
// cannot list members and ErrMemberNotFound for a lookup miss.
type MemberDirectory interface {
	// ListMembers returns the full roster of the target group.
	ListMembers(ctx context.Context, target OutboundTarget) ([]MemberProfile, error)
	// GetMember returns one member of the target group.
	GetMember(ctx context.Context, target OutboundTarget, userID string) (MemberProfile, error)
}
