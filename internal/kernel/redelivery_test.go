package kernel

import (
	"testing"

	"otogi-invite/pkg/otogi"
)

func TestRedeliveryWindowSeen(t *testing.T) {
	t.Parallel()

	otherSource := newTestEvent("j1", otogi.EventKindNoticeReceived)
	otherSource.Source.ID = "qq-alt"

	tests := []struct {
		name   string
		size   int
		events []*otogi.Event
		want   []bool
	}{
		{
			name: "replay inside window",
			size: 4,
			events: []*otogi.Event{
				newTestEvent("j1", otogi.EventKindNoticeReceived),
				newTestEvent("j1", otogi.EventKindNoticeReceived),
			},
			want: []bool{false, true},
		},
		{
			name: "evicted key is fresh again",
			size: 2,
			events: []*otogi.Event{
				newTestEvent("j1", otogi.EventKindNoticeReceived),
				newTestEvent("j2", otogi.EventKindNoticeReceived),
				newTestEvent("j3", otogi.EventKindNoticeReceived),
				newTestEvent("j1", otogi.EventKindNoticeReceived),
			},
			want: []bool{false, false, false, false},
		},
		{
			name: "same id on another source or kind",
			size: 4,
			events: []*otogi.Event{
				newTestEvent("j1", otogi.EventKindNoticeReceived),
				otherSource,
				newTestEvent("j1", otogi.EventKindArticleCreated),
			},
			want: []bool{false, false, false},
		},
		{
			name: "disabled window",
			size: 0,
			events: []*otogi.Event{
				newTestEvent("j1", otogi.EventKindNoticeReceived),
				newTestEvent("j1", otogi.EventKindNoticeReceived),
			},
			want: []bool{false, false},
		},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			window := newRedeliveryWindow(testCase.size)
			for index, event := range testCase.events {
				if got := window.seen(event); got != testCase.want[index] {
					t.Fatalf("seen(%s #%d) = %v, want %v", event.ID, index, got, testCase.want[index])
				}
			}
		})
	}
}
