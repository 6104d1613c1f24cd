package telegram

import (
	"context"
	"testing"
	"time"

	"otogi-invite/pkg/otogi"

	"github.com/google/go-cmp/cmp"
	"github.com/gotd/td/tg"
)

func newTGUser(id int64, username string, firstName string, lastName string) *tg.User {
	user := &tg.User{ID: id}
	user.SetAccessHash(id * 10)
	user.SetUsername(username)
	user.SetFirstName(firstName)
	user.SetLastName(lastName)

	return user
}

func testEnvelope(update tg.UpdateClass) gotdUpdateEnvelope {
	return gotdUpdateEnvelope{
		update:     update,
		occurredAt: time.Unix(1_700_000_000, 0).UTC(),
		usersByID: map[int64]*tg.User{
			1001: newTGUser(1001, "alice", "Alice", "A"),
			2002: newTGUser(2002, "bob", "Bob", ""),
		},
		chatsByID: map[int64]gotdChatInfo{
			100: {title: "basic", kind: otogi.ConversationTypeGroup, inputPeer: &tg.InputPeerChat{ChatID: 100}},
			300: {
				title:     "mega",
				kind:      otogi.ConversationTypeGroup,
				inputPeer: &tg.InputPeerChannel{ChannelID: 300, AccessHash: 3},
			},
		},
		updateClass: update.TypeName(),
	}
}

func serviceMessage(chatID int64, fromID int64, action tg.MessageActionClass) *tg.UpdateNewMessage {
	message := &tg.MessageService{
		ID:     9,
		PeerID: &tg.PeerChat{ChatID: chatID},
		Date:   1_700_000_100,
		Action: action,
	}
	message.SetFromID(&tg.PeerUser{UserID: fromID})

	return &tg.UpdateNewMessage{Message: message}
}

func TestDefaultGotdUpdateMapperMembership(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		update       tg.UpdateClass
		wantAccepted bool
		wantType     UpdateType
		wantVia      JoinVia
		wantMember   string
		wantOperator string
		wantChatType otogi.ConversationType
	}{
		{
			name:         "added by another user",
			update:       serviceMessage(100, 2002, &tg.MessageActionChatAddUser{Users: []int64{1001}}),
			wantAccepted: true,
			wantType:     UpdateTypeMemberJoin,
			wantVia:      ViaAdded,
			wantMember:   "1001",
			wantOperator: "2002",
			wantChatType: otogi.ConversationTypeGroup,
		},
		{
			name:         "added self",
			update:       serviceMessage(100, 1001, &tg.MessageActionChatAddUser{Users: []int64{1001}}),
			wantAccepted: true,
			wantType:     UpdateTypeMemberJoin,
			wantVia:      ViaSelf,
			wantMember:   "1001",
			wantChatType: otogi.ConversationTypeGroup,
		},
		{
			name:         "joined by invite link",
			update:       serviceMessage(100, 1001, &tg.MessageActionChatJoinedByLink{InviterID: 2002}),
			wantAccepted: true,
			wantType:     UpdateTypeMemberJoin,
			wantVia:      ViaLink,
			wantMember:   "1001",
			wantOperator: "2002",
			wantChatType: otogi.ConversationTypeGroup,
		},
		{
			name:         "joined by request",
			update:       serviceMessage(100, 1001, &tg.MessageActionChatJoinedByRequest{}),
			wantAccepted: true,
			wantType:     UpdateTypeMemberJoin,
			wantVia:      ViaSelf,
			wantMember:   "1001",
			wantChatType: otogi.ConversationTypeGroup,
		},
		{
			name:         "removed by admin",
			update:       serviceMessage(100, 2002, &tg.MessageActionChatDeleteUser{UserID: 1001}),
			wantAccepted: true,
			wantType:     UpdateTypeMemberLeave,
			wantVia:      ViaRemoved,
			wantMember:   "1001",
			wantOperator: "2002",
			wantChatType: otogi.ConversationTypeGroup,
		},
		{
			name:         "left on own",
			update:       serviceMessage(100, 1001, &tg.MessageActionChatDeleteUser{UserID: 1001}),
			wantAccepted: true,
			wantType:     UpdateTypeMemberLeave,
			wantVia:      ViaLeft,
			wantMember:   "1001",
			wantChatType: otogi.ConversationTypeGroup,
		},
		{
			name: "megagroup participant joined through inviter",
			update: &tg.UpdateChannelParticipant{
				ChannelID:      300,
				Date:           1_700_000_200,
				ActorID:        2002,
				UserID:         1001,
				NewParticipant: &tg.ChannelParticipant{UserID: 1001},
			},
			wantAccepted: true,
			wantType:     UpdateTypeMemberJoin,
			wantVia:      ViaAdded,
			wantMember:   "1001",
			wantOperator: "2002",
			wantChatType: otogi.ConversationTypeGroup,
		},
		{
			name: "megagroup participant left",
			update: &tg.UpdateChannelParticipant{
				ChannelID:       300,
				ActorID:         1001,
				UserID:          1001,
				PrevParticipant: &tg.ChannelParticipant{UserID: 1001},
				NewParticipant:  &tg.ChannelParticipantLeft{Peer: &tg.PeerUser{UserID: 1001}},
			},
			wantAccepted: true,
			wantType:     UpdateTypeMemberLeave,
			wantVia:      ViaLeft,
			wantMember:   "1001",
			wantChatType: otogi.ConversationTypeGroup,
		},
		{
			name: "megagroup role change ignored",
			update: &tg.UpdateChannelParticipant{
				ChannelID:       300,
				ActorID:         2002,
				UserID:          1001,
				PrevParticipant: &tg.ChannelParticipant{UserID: 1001},
				NewParticipant:  &tg.ChannelParticipantAdmin{UserID: 1001},
			},
		},
		{
			name:         "basic group participant add",
			update:       &tg.UpdateChatParticipantAdd{ChatID: 100, UserID: 1001, InviterID: 2002},
			wantAccepted: true,
			wantType:     UpdateTypeMemberJoin,
			wantVia:      ViaAdded,
			wantMember:   "1001",
			wantOperator: "2002",
			wantChatType: otogi.ConversationTypeGroup,
		},
		{
			name:         "basic group participant delete",
			update:       &tg.UpdateChatParticipantDelete{ChatID: 100, UserID: 1001},
			wantAccepted: true,
			wantType:     UpdateTypeMemberLeave,
			wantVia:      ViaLeft,
			wantMember:   "1001",
			wantChatType: otogi.ConversationTypeGroup,
		},
		{
			name:   "unrelated update",
			update: &tg.UpdateUserTyping{UserID: 1001},
		},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			mapped, err := NewDefaultGotdUpdateMapper(nil).Map(context.Background(), testEnvelope(testCase.update))
			if err != nil {
				t.Fatalf("map failed: %v", err)
			}
			if accepted := len(mapped) > 0; accepted != testCase.wantAccepted {
				t.Fatalf("accepted = %v, want %v", accepted, testCase.wantAccepted)
			}
			if !testCase.wantAccepted {
				return
			}
			if len(mapped) != 1 {
				t.Fatalf("mapped %d updates, want 1", len(mapped))
			}
			got := mapped[0]
			if got.Type != testCase.wantType || got.Member.Via != testCase.wantVia {
				t.Fatalf("type/via = %s/%s, want %s/%s", got.Type, got.Member.Via, testCase.wantType, testCase.wantVia)
			}
			if got.Member.Member.ID != testCase.wantMember {
				t.Fatalf("member = %+v, want %s", got.Member.Member, testCase.wantMember)
			}
			gotOperator := ""
			if got.Member.Operator != nil {
				gotOperator = got.Member.Operator.ID
			}
			if gotOperator != testCase.wantOperator {
				t.Fatalf("operator = %q, want %q", gotOperator, testCase.wantOperator)
			}
			if got.Chat.Type != testCase.wantChatType {
				t.Fatalf("chat type = %s, want %s", got.Chat.Type, testCase.wantChatType)
			}
			if got.ID == "" || got.OccurredAt.IsZero() {
				t.Fatalf("update = %+v, want id and time", got)
			}
		})
	}
}

func TestDefaultGotdUpdateMapperBatchAdd(t *testing.T) {
	t.Parallel()

	mapped, err := NewDefaultGotdUpdateMapper(nil).Map(
		context.Background(),
		testEnvelope(serviceMessage(100, 2002, &tg.MessageActionChatAddUser{Users: []int64{1001, 1002, 1003}})),
	)
	if err != nil {
		t.Fatalf("map failed: %v", err)
	}

	type joined struct {
		Member   string
		Operator string
		Via      JoinVia
	}
	got := make([]joined, 0, len(mapped))
	ids := make(map[string]struct{}, len(mapped))
	for _, update := range mapped {
		if update.Type != UpdateTypeMemberJoin || update.Member.Operator == nil {
			t.Fatalf("update = %+v, want join with operator", update)
		}
		got = append(got, joined{
			Member:   update.Member.Member.ID,
			Operator: update.Member.Operator.ID,
			Via:      update.Member.Via,
		})
		ids[update.ID] = struct{}{}
	}

	want := []joined{
		{Member: "1001", Operator: "2002", Via: ViaAdded},
		{Member: "1002", Operator: "2002", Via: ViaAdded},
		{Member: "1003", Operator: "2002", Via: ViaAdded},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("batch add mismatch (-want +got):\n%s", diff)
	}
	if len(ids) != len(mapped) {
		t.Fatalf("update ids = %v, want one per member", ids)
	}
}

func TestDefaultGotdUpdateMapperMessage(t *testing.T) {
	t.Parallel()

	text := "/invite @bob Alice"
	message := &tg.Message{
		ID:      77,
		PeerID:  &tg.PeerChannel{ChannelID: 300},
		Date:    1_700_000_000,
		Message: text,
		FromID:  &tg.PeerUser{UserID: 2002},
	}
	message.SetEntities([]tg.MessageEntityClass{
		&tg.MessageEntityBotCommand{Offset: 0, Length: 7},
		&tg.MessageEntityMention{Offset: 8, Length: 4},
		&tg.MessageEntityMentionName{Offset: 13, Length: 5, UserID: 1001},
	})
	replyHeader := &tg.MessageReplyHeader{}
	replyHeader.SetReplyToMsgID(70)
	message.SetReplyTo(replyHeader)

	peers := NewPeerCache()
	mapped, err := NewDefaultGotdUpdateMapper(peers).Map(
		context.Background(),
		testEnvelope(&tg.UpdateNewChannelMessage{Message: message}),
	)
	if err != nil || len(mapped) != 1 {
		t.Fatalf("map = (%d updates, %v), want one update", len(mapped), err)
	}
	got := mapped[0]

	if got.Type != UpdateTypeMessage || got.Message.ID != "77" || got.Message.ReplyToID != "70" {
		t.Fatalf("update = %+v", got)
	}
	if got.Chat.ID != "300" || got.Chat.Type != otogi.ConversationTypeGroup || got.Chat.Title != "mega" {
		t.Fatalf("chat = %+v", got.Chat)
	}
	if got.Actor.ID != "2002" || got.Actor.DisplayName != "Bob" {
		t.Fatalf("actor = %+v", got.Actor)
	}
	if len(got.Message.Mentions) != 2 || got.Message.Mentions[0].ID != "2002" || got.Message.Mentions[1].ID != "1001" {
		t.Fatalf("mentions = %+v", got.Message.Mentions)
	}
	if _, err := peers.Resolve(otogi.Conversation{ID: "300", Type: otogi.ConversationTypeGroup}); err != nil {
		t.Fatalf("peer not remembered: %v", err)
	}
}

func TestUTF16Slice(t *testing.T) {
	t.Parallel()

	if got := utf16Slice("😀 @bob hi", 3, 4); got != "@bob" {
		t.Fatalf("slice = %q, want @bob", got)
	}
}
