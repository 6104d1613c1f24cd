package telegram

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"otogi-invite/pkg/otogi"

	"github.com/gotd/td/crypto"
	gotdtelegram "github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/message/unpack"
	"github.com/gotd/td/tg"
)

const (
	defaultOutboundTimeout  = 3 * time.Second
	channelParticipantsPage = 200
	channelParticipantsMax  = 10000
)

// OutboundOption mutates outbound dispatcher configuration.
type OutboundOption func(*outboundConfig)

// WithOutboundTimeout configures a timeout bound for each outbound RPC call.
func WithOutboundTimeout(timeout time.Duration) OutboundOption {
	return func(cfg *outboundConfig) {
		if timeout > 0 {
			cfg.rpcTimeout = timeout
		}
	}
}

// WithOutboundLogger configures structured logging for outbound operations.
func WithOutboundLogger(logger *slog.Logger) OutboundOption {
	return func(cfg *outboundConfig) {
		if logger != nil {
			cfg.logger = logger
		}
	}
}

type outboundConfig struct {
	rpcTimeout time.Duration
	logger     *slog.Logger
}

// SinkDispatcher sends replies and answers member lookups through Telegram RPC.
type SinkDispatcher struct {
	cfg      outboundConfig
	peers    *PeerCache
	telegram outboundRPC
}

// NewOutboundDispatcher creates a Telegram outbound dispatcher using gotd client APIs.
func NewOutboundDispatcher(
	client *gotdtelegram.Client,
	peers *PeerCache,
	options ...OutboundOption,
) (*SinkDispatcher, error) {
	if client == nil {
		return nil, fmt.Errorf("new telegram outbound dispatcher: nil client")
	}

	return newOutboundDispatcherWithRPC(newGotdOutboundRPC(client), peers, options...)
}

func newOutboundDispatcherWithRPC(
	rpc outboundRPC,
	peers *PeerCache,
	options ...OutboundOption,
) (*SinkDispatcher, error) {
	if rpc == nil {
		return nil, fmt.Errorf("new telegram outbound dispatcher: nil rpc adapter")
	}
	if peers == nil {
		return nil, fmt.Errorf("new telegram outbound dispatcher: nil peer cache")
	}

	cfg := outboundConfig{
		rpcTimeout: defaultOutboundTimeout,
		logger:     slog.Default(),
	}
	for _, option := range options {
		option(&cfg)
	}

	return &SinkDispatcher{cfg: cfg, peers: peers, telegram: rpc}, nil
}

// SendMessage publishes a text message to a Telegram conversation.
func (d *SinkDispatcher) SendMessage(
	ctx context.Context,
	request otogi.SendMessageRequest,
) (*otogi.OutboundMessage, error) {
	if err := request.Validate(); err != nil {
		return nil, fmt.Errorf("send message validate: %w", err)
	}

	replyTo := 0
	if request.ReplyToMessageID != "" {
		parsed, err := strconv.Atoi(strings.TrimSpace(request.ReplyToMessageID))
		if err != nil || parsed <= 0 {
			return nil, fmt.Errorf("%w: invalid reply message id %q", otogi.ErrInvalidOutboundRequest, request.ReplyToMessageID)
		}
		replyTo = parsed
	}

	peer, err := d.peers.Resolve(request.Target.Conversation)
	if err != nil {
		return nil, fmt.Errorf("send message: %w", err)
	}

	rpcCtx, cancel := context.WithTimeout(ctx, d.cfg.rpcTimeout)
	defer cancel()

	id, err := d.telegram.SendText(rpcCtx, peer, request.Text, replyTo)
	if err != nil {
		return nil, fmt.Errorf("send message to %s: %w", request.Target.Conversation.ID, err)
	}
	d.cfg.logger.DebugContext(ctx,
		"telegram message sent",
		"conversation", request.Target.Conversation.ID,
		"message_id", id,
	)

	return &otogi.OutboundMessage{
		ID:     strconv.Itoa(id),
		Target: request.Target,
	}, nil
}

// ListMembers returns the roster of a basic group or megagroup.
func (d *SinkDispatcher) ListMembers(ctx context.Context, target otogi.OutboundTarget) ([]otogi.MemberProfile, error) {
	if err := target.Validate(); err != nil {
		return nil, fmt.Errorf("list members validate: %w", err)
	}
	if target.Conversation.Type == otogi.ConversationTypePrivate {
		return nil, fmt.Errorf("list members %s: %w", target.Conversation.ID, otogi.ErrMemberDirectoryUnsupported)
	}

	peer, err := d.peers.Resolve(target.Conversation)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}

	rpcCtx, cancel := context.WithTimeout(ctx, d.cfg.rpcTimeout)
	defer cancel()

	members, err := d.telegram.Members(rpcCtx, peer)
	if err != nil {
		return nil, fmt.Errorf("list members of %s: %w", target.Conversation.ID, err)
	}

	return members, nil
}

// GetMember finds one member in the group roster.
func (d *SinkDispatcher) GetMember(
	ctx context.Context,
	target otogi.OutboundTarget,
	userID string,
) (otogi.MemberProfile, error) {
	members, err := d.ListMembers(ctx, target)
	if err != nil {
		return otogi.MemberProfile{}, fmt.Errorf("get member %s: %w", userID, err)
	}
	for _, member := range members {
		if member.UserID == userID {
			return member, nil
		}
	}

	return otogi.MemberProfile{}, fmt.Errorf("get member %s: %w", userID, otogi.ErrMemberNotFound)
}

type outboundRPC interface {
	SendText(ctx context.Context, peer tg.InputPeerClass, text string, replyTo int) (int, error)
	Members(ctx context.Context, peer tg.InputPeerClass) ([]otogi.MemberProfile, error)
}

type gotdOutboundRPC struct {
	raw  *tg.Client
	rand io.Reader
}

func newGotdOutboundRPC(client *gotdtelegram.Client) gotdOutboundRPC {
	return gotdOutboundRPC{
		raw:  client.API(),
		rand: crypto.DefaultRand(),
	}
}

func (r gotdOutboundRPC) SendText(ctx context.Context, peer tg.InputPeerClass, text string, replyTo int) (int, error) {
	request := &tg.MessagesSendMessageRequest{
		Peer:      peer,
		Message:   text,
		NoWebpage: true,
	}
	if replyTo > 0 {
		request.ReplyTo = &tg.InputReplyToMessage{ReplyToMsgID: replyTo}
	}

	randomID, err := crypto.RandInt64(r.rand)
	if err != nil {
		return 0, fmt.Errorf("send text random id: %w", err)
	}
	request.RandomID = randomID

	updates, err := r.raw.MessagesSendMessage(ctx, request)
	if err != nil {
		return 0, fmt.Errorf("send text: %w", err)
	}

	messageID, err := unpack.MessageID(updates, nil)
	if err != nil {
		return 0, fmt.Errorf("extract sent message id: %w", err)
	}

	return messageID, nil
}

func (r gotdOutboundRPC) Members(ctx context.Context, peer tg.InputPeerClass) ([]otogi.MemberProfile, error) {
	switch typed := peer.(type) {
	case *tg.InputPeerChat:
		return r.chatMembers(ctx, typed.ChatID)
	case *tg.InputPeerChannel:
		return r.channelMembers(ctx, &tg.InputChannel{ChannelID: typed.ChannelID, AccessHash: typed.AccessHash})
	default:
		return nil, fmt.Errorf("members of %T: %w", peer, otogi.ErrMemberDirectoryUnsupported)
	}
}

func (r gotdOutboundRPC) chatMembers(ctx context.Context, chatID int64) ([]otogi.MemberProfile, error) {
	full, err := r.raw.MessagesGetFullChat(ctx, chatID)
	if err != nil {
		return nil, fmt.Errorf("get full chat: %w", err)
	}

	chatFull, ok := full.FullChat.(*tg.ChatFull)
	if !ok {
		return nil, fmt.Errorf("get full chat: unexpected %T", full.FullChat)
	}
	participants, ok := chatFull.Participants.(*tg.ChatParticipants)
	if !ok {
		return nil, fmt.Errorf("get full chat: participants hidden: %w", otogi.ErrMemberDirectoryUnsupported)
	}

	users := indexGotdUsers(full.Users)
	members := make([]otogi.MemberProfile, 0, len(participants.Participants))
	for _, participant := range participants.Participants {
		members = append(members, memberProfile(participant.GetUserID(), users))
	}

	return members, nil
}

func (r gotdOutboundRPC) channelMembers(ctx context.Context, channel tg.InputChannelClass) ([]otogi.MemberProfile, error) {
	members := make([]otogi.MemberProfile, 0)
	for offset := 0; offset < channelParticipantsMax; offset += channelParticipantsPage {
		result, err := r.raw.ChannelsGetParticipants(ctx, &tg.ChannelsGetParticipantsRequest{
			Channel: channel,
			Filter:  &tg.ChannelParticipantsRecent{},
			Offset:  offset,
			Limit:   channelParticipantsPage,
		})
		if err != nil {
			return nil, fmt.Errorf("get channel participants: %w", err)
		}

		page, ok := result.(*tg.ChannelsChannelParticipants)
		if !ok {
			break
		}
		users := indexGotdUsers(page.Users)
		for _, participant := range page.Participants {
			if userID, ok := channelParticipantUserID(participant); ok {
				members = append(members, memberProfile(userID, users))
			}
		}
		if len(page.Participants) < channelParticipantsPage {
			break
		}
	}

	return members, nil
}

func channelParticipantUserID(participant tg.ChannelParticipantClass) (int64, bool) {
	switch typed := participant.(type) {
	case *tg.ChannelParticipant:
		return typed.UserID, true
	case *tg.ChannelParticipantSelf:
		return typed.UserID, true
	case *tg.ChannelParticipantAdmin:
		return typed.UserID, true
	case *tg.ChannelParticipantCreator:
		return typed.UserID, true
	default:
		return 0, false
	}
}

func memberProfile(userID int64, users map[int64]*tg.User) otogi.MemberProfile {
	profile := otogi.MemberProfile{UserID: strconv.FormatInt(userID, 10)}
	if user, ok := users[userID]; ok && user != nil {
		profile.Nickname = userDisplayName(user)
		profile.UserName, _ = user.GetUsername()
	}

	return profile
}

var (
	_ otogi.SinkDispatcher  = (*SinkDispatcher)(nil)
	_ otogi.MemberDirectory = (*SinkDispatcher)(nil)
)
