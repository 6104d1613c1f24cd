package discord

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/bwmarrin/discordgo"

	"otogi-invite/pkg/otogi"
)

const (
	defaultRPCTimeout = 5 * time.Second
	guildMembersPage  = 1000
	guildMembersMax   = 20000
)

// Outbound sends replies and answers member lookups through the Discord REST API.
type Outbound struct {
	api      restAPI
	channels *ChannelCache
	timeout  time.Duration
}

// NewOutbound creates a Discord outbound dispatcher.
func NewOutbound(api restAPI, channels *ChannelCache, timeout time.Duration) (*Outbound, error) {
	if api == nil {
		return nil, fmt.Errorf("new discord outbound: nil api")
	}
	if channels == nil {
		return nil, fmt.Errorf("new discord outbound: nil channel cache")
	}
	if timeout <= 0 {
		timeout = defaultRPCTimeout
	}

	return &Outbound{api: api, channels: channels, timeout: timeout}, nil
}

// SendMessage posts text to the channel a guild conversation was last seen in,
// or directly to a private channel.
func (o *Outbound) SendMessage(ctx context.Context, request otogi.SendMessageRequest) (*otogi.OutboundMessage, error) {
	if err := request.Validate(); err != nil {
		return nil, fmt.Errorf("discord send message: %w", err)
	}

	conversation := request.Target.Conversation
	channelID, guildID := conversation.ID, ""
	if conversation.Type != otogi.ConversationTypePrivate {
		guildID = conversation.ID
		resolved, ok := o.channels.ChannelFor(guildID, request.ReplyToMessageID)
		if !ok {
			return nil, fmt.Errorf("discord send message: no known channel for guild %s", guildID)
		}
		channelID = resolved
	}

	data := &discordgo.MessageSend{
		Content:         request.Text,
		AllowedMentions: &discordgo.MessageAllowedMentions{},
	}
	if request.ReplyToMessageID != "" {
		data.Reference = &discordgo.MessageReference{
			MessageID: request.ReplyToMessageID,
			ChannelID: channelID,
			GuildID:   guildID,
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	sent, err := o.api.ChannelMessageSendComplex(channelID, data, discordgo.WithContext(callCtx))
	if err != nil {
		return nil, fmt.Errorf("discord send message to %s: %w", channelID, err)
	}
	o.channels.RememberMessage(guildID, channelID, sent.ID)

	return &otogi.OutboundMessage{ID: sent.ID, Target: request.Target}, nil
}

// ListMembers pages through a guild's member list.
func (o *Outbound) ListMembers(ctx context.Context, target otogi.OutboundTarget) ([]otogi.MemberProfile, error) {
	if err := target.Validate(); err != nil {
		return nil, fmt.Errorf("discord list members: %w", err)
	}
	if target.Conversation.Type == otogi.ConversationTypePrivate {
		return nil, fmt.Errorf("discord list members %s: %w", target.Conversation.ID, otogi.ErrMemberDirectoryUnsupported)
	}

	callCtx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	profiles := make([]otogi.MemberProfile, 0)
	after := ""
	for len(profiles) < guildMembersMax {
		page, err := o.api.GuildMembers(target.Conversation.ID, after, guildMembersPage, discordgo.WithContext(callCtx))
		if err != nil {
			return nil, fmt.Errorf("discord list members of %s: %w", target.Conversation.ID, err)
		}
		for _, member := range page {
			if member == nil || member.User == nil {
				continue
			}
			profiles = append(profiles, memberProfile(member))
			after = member.User.ID
		}
		if len(page) < guildMembersPage {
			break
		}
	}

	return profiles, nil
}

// GetMember fetches one guild member.
func (o *Outbound) GetMember(ctx context.Context, target otogi.OutboundTarget, userID string) (otogi.MemberProfile, error) {
	if err := target.Validate(); err != nil {
		return otogi.MemberProfile{}, fmt.Errorf("discord get member: %w", err)
	}
	if target.Conversation.Type == otogi.ConversationTypePrivate {
		return otogi.MemberProfile{}, fmt.Errorf("discord get member %s: %w", userID, otogi.ErrMemberDirectoryUnsupported)
	}

	callCtx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	member, err := o.api.GuildMember(target.Conversation.ID, userID, discordgo.WithContext(callCtx))
	if isUnknownMember(err) {
		return otogi.MemberProfile{}, fmt.Errorf("discord get member %s: %w", userID, otogi.ErrMemberNotFound)
	}
	if err != nil {
		return otogi.MemberProfile{}, fmt.Errorf("discord get member %s: %w", userID, err)
	}
	if member == nil || member.User == nil {
		return otogi.MemberProfile{}, fmt.Errorf("discord get member %s: %w", userID, otogi.ErrMemberNotFound)
	}

	return memberProfile(member), nil
}

func isUnknownMember(err error) bool {
	var restErr *discordgo.RESTError
	if !errors.As(err, &restErr) {
		return false
	}
	if restErr.Message != nil && (restErr.Message.Code == discordgo.ErrCodeUnknownMember ||
		restErr.Message.Code == discordgo.ErrCodeUnknownUser) {
		return true
	}

	return restErr.Response != nil && restErr.Response.StatusCode == http.StatusNotFound
}

func memberProfile(member *discordgo.Member) otogi.MemberProfile {
	return otogi.MemberProfile{
		UserID:      member.User.ID,
		Card:        member.Nick,
		Nickname:    member.User.GlobalName,
		DisplayName: userDisplayName(member.User),
		UserName:    member.User.Username,
	}
}

var (
	_ otogi.SinkDispatcher  = (*Outbound)(nil)
	_ otogi.MemberDirectory = (*Outbound)(nil)
)
