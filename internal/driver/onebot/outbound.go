package onebot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/tidwall/gjson"

	"otogi-invite/pkg/otogi"
)

const defaultActionTimeout = 10 * time.Second

// memberMissingRetcodes lists retcodes implementations return for unknown members.
var memberMissingRetcodes = map[int64]struct{}{
	100:  {},
	1200: {},
}

// Outbound adapts OneBot actions to the neutral sink and member directory.
type Outbound struct {
	caller  ActionCaller
	timeout time.Duration
	logger  *slog.Logger
}

// NewOutbound creates an outbound adapter over caller.
func NewOutbound(caller ActionCaller, timeout time.Duration, logger *slog.Logger) (*Outbound, error) {
	if caller == nil {
		return nil, fmt.Errorf("new onebot outbound: nil caller")
	}
	if timeout <= 0 {
		timeout = defaultActionTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Outbound{caller: caller, timeout: timeout, logger: logger}, nil
}

type messageSegment struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
}

// SendMessage sends text to a group or private conversation.
func (o *Outbound) SendMessage(ctx context.Context, request otogi.SendMessageRequest) (*otogi.OutboundMessage, error) {
	if err := request.Validate(); err != nil {
		return nil, fmt.Errorf("onebot send message: %w", err)
	}

	segments := make([]messageSegment, 0, 2)
	if request.ReplyToMessageID != "" {
		segments = append(segments, messageSegment{
			Type: "reply",
			Data: map[string]any{"id": request.ReplyToMessageID},
		})
	}
	segments = append(segments, messageSegment{
		Type: "text",
		Data: map[string]any{"text": request.Text},
	})

	action, params, err := sendParams(request.Target.Conversation, segments)
	if err != nil {
		return nil, fmt.Errorf("onebot send message: %w", err)
	}

	data, err := o.call(ctx, action, params)
	if err != nil {
		return nil, fmt.Errorf("onebot send message: %w", err)
	}

	return &otogi.OutboundMessage{
		ID:     data.Get("message_id").String(),
		Target: request.Target,
	}, nil
}

func sendParams(conversation otogi.Conversation, segments []messageSegment) (string, map[string]any, error) {
	id, err := strconv.ParseInt(conversation.ID, 10, 64)
	if err != nil {
		return "", nil, fmt.Errorf("%w: conversation id %q is not numeric", otogi.ErrInvalidOutboundRequest, conversation.ID)
	}

	switch conversation.Type {
	case otogi.ConversationTypeGroup:
		return "send_group_msg", map[string]any{"group_id": id, "message": segments}, nil
	case otogi.ConversationTypePrivate:
		return "send_private_msg", map[string]any{"user_id": id, "message": segments}, nil
	default:
		return "", nil, fmt.Errorf("%w: unsupported conversation type %s", otogi.ErrInvalidOutboundRequest, conversation.Type)
	}
}

// ListMembers returns the roster of a group.
func (o *Outbound) ListMembers(ctx context.Context, target otogi.OutboundTarget) ([]otogi.MemberProfile, error) {
	groupID, err := groupIDOf(target)
	if err != nil {
		return nil, fmt.Errorf("onebot list members: %w", err)
	}

	data, err := o.call(ctx, "get_group_member_list", map[string]any{"group_id": groupID, "no_cache": true})
	if err != nil {
		return nil, fmt.Errorf("onebot list members: %w", err)
	}

	members := make([]otogi.MemberProfile, 0, len(data.Array()))
	for _, item := range data.Array() {
		profile := memberProfile(item)
		if profile.UserID == "" {
			continue
		}
		members = append(members, profile)
	}

	return members, nil
}

// GetMember returns one group member.
func (o *Outbound) GetMember(ctx context.Context, target otogi.OutboundTarget, userID string) (otogi.MemberProfile, error) {
	groupID, err := groupIDOf(target)
	if err != nil {
		return otogi.MemberProfile{}, fmt.Errorf("onebot get member: %w", err)
	}
	memberID, err := strconv.ParseInt(userID, 10, 64)
	if err != nil {
		return otogi.MemberProfile{}, fmt.Errorf("onebot get member %q: %w", userID, otogi.ErrMemberNotFound)
	}

	data, err := o.call(ctx, "get_group_member_info", map[string]any{
		"group_id": groupID,
		"user_id":  memberID,
		"no_cache": false,
	})
	if err != nil {
		if isMemberMissing(err) {
			return otogi.MemberProfile{}, fmt.Errorf("onebot get member %s: %w", userID, otogi.ErrMemberNotFound)
		}
		return otogi.MemberProfile{}, fmt.Errorf("onebot get member %s: %w", userID, err)
	}

	profile := memberProfile(data)
	if profile.UserID == "" {
		return otogi.MemberProfile{}, fmt.Errorf("onebot get member %s: %w", userID, otogi.ErrMemberNotFound)
	}

	return profile, nil
}

func (o *Outbound) call(ctx context.Context, action string, params any) (gjson.Result, error) {
	callCtx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	data, err := o.caller.Call(callCtx, action, params)
	if err != nil {
		o.logger.DebugContext(ctx, "onebot action failed", "action", action, "error", err)
		return gjson.Result{}, err
	}

	return data, nil
}

func groupIDOf(target otogi.OutboundTarget) (int64, error) {
	if err := target.Validate(); err != nil {
		return 0, err
	}
	if target.Conversation.Type != otogi.ConversationTypeGroup {
		return 0, fmt.Errorf("%w: member lookups need a group conversation", otogi.ErrInvalidOutboundRequest)
	}

	groupID, err := strconv.ParseInt(target.Conversation.ID, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: group id %q is not numeric", otogi.ErrInvalidOutboundRequest, target.Conversation.ID)
	}

	return groupID, nil
}

func memberProfile(item gjson.Result) otogi.MemberProfile {
	return otogi.MemberProfile{
		UserID:   item.Get("user_id").String(),
		Card:     item.Get("card").String(),
		Nickname: item.Get("nickname").String(),
	}
}

func isMemberMissing(err error) bool {
	var actionErr *ActionError
	if !errors.As(err, &actionErr) {
		return false
	}
	_, missing := memberMissingRetcodes[actionErr.Retcode]

	return missing
}

var (
	_ otogi.SinkDispatcher  = (*Outbound)(nil)
	_ otogi.MemberDirectory = (*Outbound)(nil)
)
