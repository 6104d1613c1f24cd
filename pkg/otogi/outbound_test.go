package otogi

import (
	"errors"
	"testing"
)

func TestOutboundTargetFromEvent(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		event    *Event
		wantSink *EventSource
		wantErr  bool
	}{
		{
			name: "source becomes sink",
			event: &Event{
				Kind:         EventKindCommandReceived,
				Source:       EventSource{Platform: PlatformOneBot, ID: "qq-main"},
				Conversation: Conversation{ID: "1001", Type: ConversationTypeGroup},
			},
			wantSink: &EventSource{Platform: PlatformOneBot, ID: "qq-main"},
		},
		{
			name: "missing source leaves sink unset",
			event: &Event{
				Kind:         EventKindCommandReceived,
				Conversation: Conversation{ID: "1001", Type: ConversationTypeGroup},
			},
		},
		{
			name: "missing conversation type fails",
			event: &Event{
				Kind:         EventKindCommandReceived,
				Conversation: Conversation{ID: "1001"},
			},
			wantErr: true,
		},
		{
			name:    "nil event fails",
			wantErr: true,
		},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			target, err := OutboundTargetFromEvent(testCase.event)
			if testCase.wantErr {
				if !errors.Is(err, ErrInvalidOutboundRequest) {
					t.Fatalf("error = %v, want %v", err, ErrInvalidOutboundRequest)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			switch {
			case testCase.wantSink == nil && target.Sink != nil:
				t.Fatalf("sink = %+v, want nil", *target.Sink)
			case testCase.wantSink != nil && (target.Sink == nil || *target.Sink != *testCase.wantSink):
				t.Fatalf("sink = %+v, want %+v", target.Sink, *testCase.wantSink)
			}
		})
	}
}

func TestMemberProfileBestName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		profile MemberProfile
		want    string
	}{
		{
			name:    "card wins",
			profile: MemberProfile{Card: "群名片", Nickname: "昵称"},
			want:    "群名片",
		},
		{
			name:    "blank card falls through to nickname",
			profile: MemberProfile{Card: "  ", Nickname: "昵称"},
			want:    "昵称",
		},
		{
			name:    "user name is last resort",
			profile: MemberProfile{UserName: "alice"},
			want:    "alice",
		},
		{
			name: "nothing known",
			want: "",
		},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			if got := testCase.profile.BestName(); got != testCase.want {
				t.Fatalf("BestName() = %q, want %q", got, testCase.want)
			}
		})
	}
}
