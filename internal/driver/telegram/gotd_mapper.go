package telegram

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"otogi-invite/pkg/otogi"

	"github.com/gotd/td/tg"
)

const gotdUnknownID = "unknown"

// DefaultGotdUpdateMapper maps gotd messages and membership updates into adapter DTOs.
type DefaultGotdUpdateMapper struct {
	peerCache *PeerCache
}

// NewDefaultGotdUpdateMapper creates the default gotd mapper. A nil cache disables
// peer recording.
func NewDefaultGotdUpdateMapper(cache *PeerCache) DefaultGotdUpdateMapper {
	return DefaultGotdUpdateMapper{peerCache: cache}
}

// Map converts one gotd envelope into adapter updates. A service message that
// adds several users yields one update per added user; skipped classes yield none.
func (m DefaultGotdUpdateMapper) Map(ctx context.Context, envelope gotdUpdateEnvelope) ([]Update, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("map gotd update context: %w", err)
	}
	if envelope.update == nil {
		return nil, fmt.Errorf("map gotd update: nil update")
	}
	m.peerCache.RememberEnvelope(envelope)

	switch update := envelope.update.(type) {
	case *tg.UpdateNewMessage:
		return m.mapMessageClass(update.Message, envelope), nil
	case *tg.UpdateNewChannelMessage:
		return m.mapMessageClass(update.Message, envelope), nil
	case *tg.UpdateChatParticipantAdd:
		chat := resolveChatByChatID(update.ChatID, envelope)
		return []Update{membershipUpdate(
			chat,
			resolveActorByUserID(update.UserID, envelope),
			resolveActorByUserID(update.InviterID, envelope),
			true,
			firstTime(intToTimeUTC(update.Date), envelope.occurredAt),
			envelope,
		)}, nil
	case *tg.UpdateChatParticipantDelete:
		member := resolveActorByUserID(update.UserID, envelope)
		return []Update{membershipUpdate(
			resolveChatByChatID(update.ChatID, envelope),
			member,
			member,
			false,
			firstTime(envelope.occurredAt),
			envelope,
		)}, nil
	case *tg.UpdateChatParticipant:
		_, wasMember := update.GetPrevParticipant()
		_, isMember := update.GetNewParticipant()
		return m.mapParticipantChange(
			resolveChatByChatID(update.ChatID, envelope),
			update.UserID,
			update.ActorID,
			wasMember,
			isMember,
			intToTimeUTC(update.Date),
			envelope,
		), nil
	case *tg.UpdateChannelParticipant:
		previous, _ := update.GetPrevParticipant()
		current, _ := update.GetNewParticipant()
		return m.mapParticipantChange(
			resolveChatByChannelID(update.ChannelID, envelope),
			update.UserID,
			update.ActorID,
			isActiveChannelParticipant(previous),
			isActiveChannelParticipant(current),
			intToTimeUTC(update.Date),
			envelope,
		), nil
	default:
		return nil, nil
	}
}

func (m DefaultGotdUpdateMapper) mapMessageClass(message tg.MessageClass, envelope gotdUpdateEnvelope) []Update {
	switch typed := message.(type) {
	case *tg.Message:
		return []Update{m.mapMessage(typed, envelope)}
	case *tg.MessageService:
		return m.mapServiceMessage(typed, envelope)
	default:
		return nil
	}
}

func (m DefaultGotdUpdateMapper) mapMessage(message *tg.Message, envelope gotdUpdateEnvelope) Update {
	chat := resolveChatFromPeer(message.PeerID, envelope)
	actor := resolveActorFromPeer(message.FromID, envelope)
	if actor.ID == gotdUnknownID {
		actor = resolveActorFromPeer(message.PeerID, envelope)
	}
	m.peerCache.RememberConversation(chat, resolveInputPeerFromPeer(message.PeerID, envelope))

	payload := &MessagePayload{
		ID:       strconv.Itoa(message.ID),
		Text:     message.Message,
		Mentions: mapMentions(message.Message, message.Entities, envelope),
	}
	if replyTo, ok := message.GetReplyTo(); ok {
		if header, ok := replyTo.(*tg.MessageReplyHeader); ok {
			if replyToMessageID, ok := header.GetReplyToMsgID(); ok {
				payload.ReplyToID = strconv.Itoa(replyToMessageID)
			}
		}
	}

	occurredAt := firstTime(intToTimeUTC(message.Date), envelope.occurredAt)

	return Update{
		ID:         composeUpdateID(UpdateTypeMessage, chat.ID, payload.ID),
		Type:       UpdateTypeMessage,
		OccurredAt: occurredAt,
		Chat:       chat,
		Actor:      actor,
		Message:    payload,
		Metadata:   newGotdMetadata(envelope),
	}
}

// mapServiceMessage covers joins and leaves that basic groups report as service messages.
func (m DefaultGotdUpdateMapper) mapServiceMessage(message *tg.MessageService, envelope gotdUpdateEnvelope) []Update {
	chat := resolveChatFromPeer(message.PeerID, envelope)
	actor := resolveActorFromPeer(message.FromID, envelope)
	occurredAt := firstTime(intToTimeUTC(message.Date), envelope.occurredAt)
	m.peerCache.RememberConversation(chat, resolveInputPeerFromPeer(message.PeerID, envelope))

	switch action := message.Action.(type) {
	case *tg.MessageActionChatAddUser:
		updates := make([]Update, 0, len(action.Users))
		for _, userID := range action.Users {
			member := resolveActorByUserID(userID, envelope)
			updates = append(updates, membershipUpdate(chat, member, actor, true, occurredAt, envelope))
		}
		return updates
	case *tg.MessageActionChatDeleteUser:
		member := resolveActorByUserID(action.UserID, envelope)
		return []Update{membershipUpdate(chat, member, actor, false, occurredAt, envelope)}
	case *tg.MessageActionChatJoinedByLink:
		update := membershipUpdate(chat, actor, resolveActorByUserID(action.InviterID, envelope), true, occurredAt, envelope)
		if update.Member.Operator != nil {
			update.Member.Via = ViaLink
		}
		return []Update{update}
	case *tg.MessageActionChatJoinedByRequest:
		return []Update{membershipUpdate(chat, actor, actor, true, occurredAt, envelope)}
	default:
		return nil
	}
}

func (m DefaultGotdUpdateMapper) mapParticipantChange(
	chat ChatRef,
	userID int64,
	actorID int64,
	wasMember bool,
	isMember bool,
	occurredAt time.Time,
	envelope gotdUpdateEnvelope,
) []Update {
	if wasMember == isMember {
		return nil
	}

	return []Update{membershipUpdate(
		chat,
		resolveActorByUserID(userID, envelope),
		resolveActorByUserID(actorID, envelope),
		isMember,
		firstTime(occurredAt, envelope.occurredAt),
		envelope,
	)}
}

// membershipUpdate classifies one transition. An operator equal to the member,
// or an unknown operator, means the member acted alone.
func membershipUpdate(
	chat ChatRef,
	member ActorRef,
	operator ActorRef,
	joined bool,
	occurredAt time.Time,
	envelope gotdUpdateEnvelope,
) Update {
	payload := &MemberPayload{Member: member}
	acting := operator.ID != "" && operator.ID != gotdUnknownID && operator.ID != member.ID
	if acting {
		operatorCopy := operator
		payload.Operator = &operatorCopy
	}

	updateType := UpdateTypeMemberLeave
	switch {
	case joined && acting:
		updateType, payload.Via = UpdateTypeMemberJoin, ViaAdded
	case joined:
		updateType, payload.Via = UpdateTypeMemberJoin, ViaSelf
	case acting:
		payload.Via = ViaRemoved
	default:
		payload.Via = ViaLeft
	}

	actor := member
	if payload.Operator != nil {
		actor = *payload.Operator
	}

	return Update{
		ID:         composeUpdateID(updateType, chat.ID, member.ID, strconv.FormatInt(occurredAt.UnixNano(), 10)),
		Type:       updateType,
		OccurredAt: occurredAt,
		Chat:       chat,
		Actor:      actor,
		Member:     payload,
		Metadata:   newGotdMetadata(envelope),
	}
}

// mapMentions keeps text mentions that carry a user id, plus @username
// mentions of users present in the envelope.
func mapMentions(text string, entities []tg.MessageEntityClass, envelope gotdUpdateEnvelope) []ActorRef {
	mentions := make([]ActorRef, 0)
	for _, entity := range entities {
		switch typed := entity.(type) {
		case *tg.MessageEntityMentionName:
			mentions = append(mentions, resolveActorByUserID(typed.UserID, envelope))
		case *tg.MessageEntityMention:
			username := strings.TrimPrefix(utf16Slice(text, typed.Offset, typed.Length), "@")
			if actor, ok := lookupUsername(username, envelope); ok {
				mentions = append(mentions, actor)
			}
		}
	}

	return mentions
}

func lookupUsername(username string, envelope gotdUpdateEnvelope) (ActorRef, bool) {
	if username == "" {
		return ActorRef{}, false
	}
	for userID, user := range envelope.usersByID {
		if candidate, ok := user.GetUsername(); ok && strings.EqualFold(candidate, username) {
			return resolveActorByUserID(userID, envelope), true
		}
	}

	return ActorRef{}, false
}

// utf16Slice cuts text by UTF-16 code unit offsets as Telegram entities do.
func utf16Slice(text string, offset int, length int) string {
	var builder strings.Builder
	position := 0
	for _, r := range text {
		width := 1
		if r >= 0x10000 {
			width = 2
		}
		if position >= offset && position < offset+length {
			builder.WriteRune(r)
		}
		position += width
		if position >= offset+length {
			break
		}
	}

	return builder.String()
}

type gotdChatInfo struct {
	title     string
	kind      otogi.ConversationType
	inputPeer tg.InputPeerClass
}

func indexGotdUsers(users []tg.UserClass) map[int64]*tg.User {
	out := make(map[int64]*tg.User, len(users))
	for _, user := range users {
		if user == nil {
			continue
		}
		if notEmpty, ok := user.AsNotEmpty(); ok && notEmpty != nil {
			out[notEmpty.ID] = notEmpty
		}
	}

	return out
}

func indexGotdChats(chats []tg.ChatClass) map[int64]gotdChatInfo {
	out := make(map[int64]gotdChatInfo, len(chats))
	for _, chat := range chats {
		switch typed := chat.(type) {
		case *tg.Chat:
			out[typed.ID] = gotdChatInfo{
				title:     typed.Title,
				kind:      otogi.ConversationTypeGroup,
				inputPeer: &tg.InputPeerChat{ChatID: typed.ID},
			}
		case *tg.Channel:
			kind := otogi.ConversationTypeChannel
			if typed.Megagroup {
				kind = otogi.ConversationTypeGroup
			}
			out[typed.ID] = gotdChatInfo{
				title:     typed.Title,
				kind:      kind,
				inputPeer: typed.AsInputPeer(),
			}
		}
	}

	return out
}

func resolveChatFromPeer(peer tg.PeerClass, envelope gotdUpdateEnvelope) ChatRef {
	switch typed := peer.(type) {
	case *tg.PeerUser:
		actor := resolveActorByUserID(typed.UserID, envelope)
		return ChatRef{ID: actor.ID, Type: otogi.ConversationTypePrivate, Title: actor.DisplayName}
	case *tg.PeerChat:
		return resolveChatByChatID(typed.ChatID, envelope)
	case *tg.PeerChannel:
		return resolveChatByChannelID(typed.ChannelID, envelope)
	default:
		return ChatRef{ID: gotdUnknownID, Type: otogi.ConversationTypePrivate}
	}
}

func resolveChatByChatID(chatID int64, envelope gotdUpdateEnvelope) ChatRef {
	chat := ChatRef{ID: strconv.FormatInt(chatID, 10), Type: otogi.ConversationTypeGroup}
	if info, ok := envelope.chatsByID[chatID]; ok {
		chat.Title = info.title
	}

	return chat
}

func resolveChatByChannelID(channelID int64, envelope gotdUpdateEnvelope) ChatRef {
	chat := ChatRef{ID: strconv.FormatInt(channelID, 10), Type: otogi.ConversationTypeChannel}
	if info, ok := envelope.chatsByID[channelID]; ok {
		chat.Title = info.title
		chat.Type = info.kind
	}

	return chat
}

func resolveActorFromPeer(peer tg.PeerClass, envelope gotdUpdateEnvelope) ActorRef {
	switch typed := peer.(type) {
	case *tg.PeerUser:
		return resolveActorByUserID(typed.UserID, envelope)
	case *tg.PeerChannel:
		return ActorRef{
			ID:          strconv.FormatInt(typed.ChannelID, 10),
			DisplayName: envelope.chatsByID[typed.ChannelID].title,
		}
	default:
		return ActorRef{ID: gotdUnknownID}
	}
}

func resolveActorByUserID(userID int64, envelope gotdUpdateEnvelope) ActorRef {
	if userID == 0 {
		return ActorRef{ID: gotdUnknownID}
	}

	id := strconv.FormatInt(userID, 10)
	user, ok := envelope.usersByID[userID]
	if !ok || user == nil {
		return ActorRef{ID: id}
	}

	username, _ := user.GetUsername()

	return ActorRef{
		ID:          id,
		Username:    username,
		DisplayName: userDisplayName(user),
		IsBot:       user.Bot,
	}
}

func userDisplayName(user *tg.User) string {
	firstName, _ := user.GetFirstName()
	lastName, _ := user.GetLastName()

	return strings.TrimSpace(firstName + " " + lastName)
}

func resolveInputPeerFromPeer(peer tg.PeerClass, envelope gotdUpdateEnvelope) tg.InputPeerClass {
	switch typed := peer.(type) {
	case *tg.PeerUser:
		if user, ok := envelope.usersByID[typed.UserID]; ok && user != nil {
			return user.AsInputPeer()
		}
	case *tg.PeerChat:
		return &tg.InputPeerChat{ChatID: typed.ChatID}
	case *tg.PeerChannel:
		if info, ok := envelope.chatsByID[typed.ChannelID]; ok {
			return info.inputPeer
		}
	}

	return nil
}

func isActiveChannelParticipant(participant tg.ChannelParticipantClass) bool {
	switch participant.(type) {
	case *tg.ChannelParticipant, *tg.ChannelParticipantSelf, *tg.ChannelParticipantAdmin, *tg.ChannelParticipantCreator:
		return true
	default:
		return false
	}
}

func firstTime(candidates ...time.Time) time.Time {
	for _, candidate := range candidates {
		if !candidate.IsZero() {
			return candidate
		}
	}

	return time.Now().UTC()
}

func intToTimeUTC(value int) time.Time {
	if value <= 0 {
		return time.Time{}
	}

	return time.Unix(int64(value), 0).UTC()
}

func composeUpdateID(updateType UpdateType, chatID string, parts ...string) string {
	values := []string{"tg", string(updateType), chatID}
	for _, part := range parts {
		if part != "" {
			values = append(values, part)
		}
	}

	return strings.Join(values, ":")
}

func newGotdMetadata(envelope gotdUpdateEnvelope) map[string]string {
	if envelope.updateClass == "" {
		return nil
	}

	return map[string]string{"gotd_update": envelope.updateClass}
}
