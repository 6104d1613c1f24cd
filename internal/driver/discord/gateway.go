package discord

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"otogi-invite/pkg/otogi"
)

const (
	defaultUpdateBuffer = 256
	defaultKickLookback = 15 * time.Second
	kickAuditLogLimit   = 5
)

// restAPI is the subset of the Discord REST surface the adapter calls.
type restAPI interface {
	ChannelMessageSendComplex(
		channelID string,
		data *discordgo.MessageSend,
		options ...discordgo.RequestOption,
	) (*discordgo.Message, error)
	GuildMembers(guildID string, after string, limit int, options ...discordgo.RequestOption) ([]*discordgo.Member, error)
	GuildMember(guildID string, userID string, options ...discordgo.RequestOption) (*discordgo.Member, error)
	GuildInvites(guildID string, options ...discordgo.RequestOption) ([]*discordgo.Invite, error)
	GuildAuditLog(
		guildID string,
		userID string,
		beforeID string,
		actionType int,
		limit int,
		options ...discordgo.RequestOption,
	) (*discordgo.GuildAuditLog, error)
}

// handlerRegistrar is the part of a gateway session that accepts event handlers.
type handlerRegistrar interface {
	AddHandler(handler interface{}) func()
}

// Gateway turns discordgo gateway callbacks into queued adapter updates.
//
// Joins are attributed by diffing invite counters; removals are checked
// against the kick audit log.
type Gateway struct {
	api          restAPI
	invites      *InviteTracker
	channels     *ChannelCache
	updates      chan Update
	logger       *slog.Logger
	now          func() time.Time
	kickLookback time.Duration
	rpcTimeout   time.Duration
}

// NewGateway creates a gateway adapter that queues at most buffer updates.
func NewGateway(api restAPI, channels *ChannelCache, buffer int, logger *slog.Logger) (*Gateway, error) {
	if api == nil {
		return nil, fmt.Errorf("new discord gateway: nil api")
	}
	if channels == nil {
		return nil, fmt.Errorf("new discord gateway: nil channel cache")
	}
	if buffer <= 0 {
		buffer = defaultUpdateBuffer
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Gateway{
		api:          api,
		invites:      NewInviteTracker(),
		channels:     channels,
		updates:      make(chan Update, buffer),
		logger:       logger,
		now:          func() time.Time { return time.Now().UTC() },
		kickLookback: defaultKickLookback,
		rpcTimeout:   defaultRPCTimeout,
	}, nil
}

// Updates exposes the queued update stream.
func (g *Gateway) Updates() <-chan Update {
	return g.updates
}

// Register installs the gateway callbacks on a session and returns a function
// removing them.
func (g *Gateway) Register(session handlerRegistrar) func() {
	removers := []func(){
		session.AddHandler(g.onGuildCreate),
		session.AddHandler(g.onInviteCreate),
		session.AddHandler(g.onMemberAdd),
		session.AddHandler(g.onMemberRemove),
		session.AddHandler(g.onMessageCreate),
	}

	return func() {
		for _, remove := range removers {
			remove()
		}
	}
}

func (g *Gateway) onGuildCreate(_ *discordgo.Session, event *discordgo.GuildCreate) {
	if event == nil || event.Guild == nil {
		return
	}
	g.channels.RememberGuild(event.ID, event.Name, event.SystemChannelID)

	ctx, cancel := context.WithTimeout(context.Background(), g.rpcTimeout)
	defer cancel()
	invites, err := g.api.GuildInvites(event.ID, discordgo.WithContext(ctx))
	if err != nil {
		g.logger.Warn("discord invite snapshot failed", "guild", event.ID, "error", err)
		return
	}
	g.invites.Snapshot(event.ID, invites)
}

func (g *Gateway) onInviteCreate(_ *discordgo.Session, event *discordgo.InviteCreate) {
	if event == nil || event.Invite == nil {
		return
	}
	g.invites.Track(event.GuildID, event.Invite)
}

func (g *Gateway) onMemberAdd(_ *discordgo.Session, event *discordgo.GuildMemberAdd) {
	if event == nil || event.Member == nil || event.User == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), g.rpcTimeout)
	defer cancel()

	var inviter *discordgo.User
	invites, err := g.api.GuildInvites(event.GuildID, discordgo.WithContext(ctx))
	if err != nil {
		g.logger.Warn("discord invite lookup failed", "guild", event.GuildID, "error", err)
	} else {
		inviter, _ = g.invites.Attribute(event.GuildID, invites)
	}

	g.enqueue(g.memberJoin(event.Member, inviter))
}

func (g *Gateway) onMemberRemove(_ *discordgo.Session, event *discordgo.GuildMemberRemove) {
	if event == nil || event.Member == nil || event.User == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), g.rpcTimeout)
	defer cancel()

	g.enqueue(g.memberLeave(event.GuildID, event.User, g.findKicker(ctx, event.GuildID, event.User.ID)))
}

func (g *Gateway) onMessageCreate(_ *discordgo.Session, event *discordgo.MessageCreate) {
	if event == nil || event.Message == nil || event.Author == nil {
		return
	}
	g.channels.RememberMessage(event.GuildID, event.ChannelID, event.ID)
	g.enqueue(g.message(event.Message))
}

// findKicker returns the moderator of a recent kick of userID, if any.
func (g *Gateway) findKicker(ctx context.Context, guildID string, userID string) *discordgo.User {
	log, err := g.api.GuildAuditLog(
		guildID,
		"",
		"",
		int(discordgo.AuditLogActionMemberKick),
		kickAuditLogLimit,
		discordgo.WithContext(ctx),
	)
	if err != nil {
		g.logger.Debug("discord kick audit lookup failed", "guild", guildID, "error", err)
		return nil
	}
	if log == nil {
		return nil
	}

	for _, entry := range log.AuditLogEntries {
		if entry == nil || entry.TargetID != userID || entry.UserID == "" {
			continue
		}
		created, err := discordgo.SnowflakeTimestamp(entry.ID)
		if err != nil || g.now().Sub(created) > g.kickLookback {
			continue
		}
		for _, user := range log.Users {
			if user != nil && user.ID == entry.UserID {
				return user
			}
		}
		return &discordgo.User{ID: entry.UserID}
	}

	return nil
}

func (g *Gateway) memberJoin(member *discordgo.Member, inviter *discordgo.User) Update {
	occurredAt := member.JoinedAt
	if occurredAt.IsZero() {
		occurredAt = g.now()
	}

	payload := &MemberPayload{Member: memberActor(member), Via: ViaJoin}
	actor := payload.Member
	if inviter != nil && inviter.ID != member.User.ID {
		operator := userActor(inviter)
		payload.Operator, payload.Via = &operator, ViaInvite
		actor = operator
	}

	return Update{
		ID:         memberUpdateID(UpdateTypeMemberJoin, member.GuildID, member.User.ID, occurredAt),
		Type:       UpdateTypeMemberJoin,
		OccurredAt: occurredAt,
		GuildID:    member.GuildID,
		GuildName:  g.channels.GuildName(member.GuildID),
		Actor:      actor,
		Member:     payload,
	}
}

func (g *Gateway) memberLeave(guildID string, user *discordgo.User, kicker *discordgo.User) Update {
	occurredAt := g.now()
	payload := &MemberPayload{Member: userActor(user), Via: ViaLeave}
	actor := payload.Member
	if kicker != nil && kicker.ID != user.ID {
		operator := userActor(kicker)
		payload.Operator, payload.Via = &operator, ViaKick
		actor = operator
	}

	return Update{
		ID:         memberUpdateID(UpdateTypeMemberLeave, guildID, user.ID, occurredAt),
		Type:       UpdateTypeMemberLeave,
		OccurredAt: occurredAt,
		GuildID:    guildID,
		GuildName:  g.channels.GuildName(guildID),
		Actor:      actor,
		Member:     payload,
	}
}

func (g *Gateway) message(message *discordgo.Message) Update {
	occurredAt := message.Timestamp
	if occurredAt.IsZero() {
		occurredAt = g.now()
	}

	payload := &MessagePayload{
		ID:       message.ID,
		Text:     message.Content,
		Mentions: make([]otogi.Mention, 0, len(message.Mentions)),
	}
	if message.MessageReference != nil {
		payload.ReplyToID = message.MessageReference.MessageID
	}
	for _, mentioned := range message.Mentions {
		if mentioned == nil || mentioned.ID == "" {
			continue
		}
		payload.Mentions = append(payload.Mentions, otogi.Mention{UserID: mentioned.ID, DisplayName: userDisplayName(mentioned)})
	}

	return Update{
		ID:         "discord-message-" + message.ID,
		Type:       UpdateTypeMessage,
		OccurredAt: occurredAt,
		GuildID:    message.GuildID,
		GuildName:  g.channels.GuildName(message.GuildID),
		ChannelID:  message.ChannelID,
		Actor:      userActor(message.Author),
		Message:    payload,
	}
}

// enqueue drops the update when the consumer has fallen a full buffer behind.
func (g *Gateway) enqueue(update Update) {
	select {
	case g.updates <- update:
	default:
		g.logger.Warn("discord update dropped", "update", update.ID, "type", update.Type)
	}
}

func memberUpdateID(updateType UpdateType, guildID string, userID string, occurredAt time.Time) string {
	return strings.Join([]string{
		"discord", string(updateType), guildID, userID, strconv.FormatInt(occurredAt.UnixNano(), 10),
	}, "-")
}

func memberActor(member *discordgo.Member) otogi.Actor {
	actor := userActor(member.User)
	if member.Nick != "" {
		actor.DisplayName = member.Nick
	}

	return actor
}

func userActor(user *discordgo.User) otogi.Actor {
	if user == nil {
		return otogi.Actor{}
	}

	return otogi.Actor{
		ID:          user.ID,
		Username:    user.Username,
		DisplayName: userDisplayName(user),
		IsBot:       user.Bot,
	}
}

func userDisplayName(user *discordgo.User) string {
	if user.GlobalName != "" {
		return user.GlobalName
	}

	return user.Username
}
