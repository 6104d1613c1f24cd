package kernel

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"otogi-invite/pkg/otogi"
)

func newTestBus(t *testing.T, buffer, lanes int, report func(context.Context, string, error)) *EventBus {
	t.Helper()

	bus := NewEventBus(BusDefaults{Buffer: buffer, Lanes: lanes, HandlerTimeout: time.Second}, report)
	t.Cleanup(func() {
		_ = bus.Close(context.Background())
	})

	return bus
}

func TestEventBusDeliversMatchingEvents(t *testing.T) {
	t.Parallel()

	bus := newTestBus(t, 8, 1, nil)
	received := make(chan string, 2)
	_, err := bus.Subscribe(context.Background(), otogi.InterestSet{
		Kinds: []otogi.EventKind{otogi.EventKindNoticeReceived},
	}, otogi.SubscriptionSpec{Name: "notices"}, func(_ context.Context, event *otogi.Event) error {
		received <- event.ID
		return nil
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	if err := bus.Publish(context.Background(), newTestEvent("chat", otogi.EventKindArticleCreated)); err != nil {
		t.Fatalf("publish chat: %v", err)
	}
	if err := bus.Publish(context.Background(), newTestEvent("join", otogi.EventKindNoticeReceived)); err != nil {
		t.Fatalf("publish join: %v", err)
	}

	select {
	case id := <-received:
		if id != "join" {
			t.Fatalf("received = %s, want join", id)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for notice")
	}
}

func TestEventBusBackpressurePolicies(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		policy otogi.BackpressurePolicy
		want   []string
	}{
		{
			name:   "drop newest keeps the queued event",
			policy: otogi.BackpressureDropNewest,
			want:   []string{"j1", "j2"},
		},
		{
			name:   "drop oldest keeps the latest event",
			policy: otogi.BackpressureDropOldest,
			want:   []string{"j1", "j3"},
		},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			var dropped sync.Map
			bus := newTestBus(t, 1, 1, func(_ context.Context, scope string, err error) {
				if errors.Is(err, otogi.ErrEventDropped) {
					dropped.Store(scope, true)
				}
			})

			release := make(chan struct{})
			blocked := make(chan struct{})
			var once sync.Once
			var mu sync.Mutex
			var handled []string
			_, err := bus.Subscribe(context.Background(), otogi.InterestSet{}, otogi.SubscriptionSpec{
				Name:         "slow-ledger",
				Buffer:       1,
				Workers:      1,
				Backpressure: testCase.policy,
			}, func(_ context.Context, event *otogi.Event) error {
				once.Do(func() {
					close(blocked)
					<-release
				})
				mu.Lock()
				handled = append(handled, event.ID)
				mu.Unlock()
				return nil
			})
			if err != nil {
				t.Fatalf("subscribe: %v", err)
			}

			if err := bus.Publish(context.Background(), newTestEvent("j1", otogi.EventKindNoticeReceived)); err != nil {
				t.Fatalf("publish j1: %v", err)
			}
			select {
			case <-blocked:
			case <-time.After(time.Second):
				t.Fatal("handler never started")
			}
			for _, id := range []string{"j2", "j3"} {
				if err := bus.Publish(context.Background(), newTestEvent(id, otogi.EventKindNoticeReceived)); err != nil {
					t.Fatalf("publish %s: %v", id, err)
				}
			}
			close(release)

			eventually(t, 2*time.Second, func() bool {
				mu.Lock()
				defer mu.Unlock()
				return len(handled) == len(testCase.want)
			})
			mu.Lock()
			got := append([]string(nil), handled...)
			mu.Unlock()
			if diff := cmp.Diff(testCase.want, got); diff != "" {
				t.Fatalf("handled mismatch (-want +got):\n%s", diff)
			}
			if _, ok := dropped.Load("slow-ledger"); !ok {
				t.Fatal("drop was not reported")
			}
		})
	}
}

func TestEventBusBlockPolicyHonorsPublisherContext(t *testing.T) {
	t.Parallel()

	bus := newTestBus(t, 1, 1, nil)
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })

	_, err := bus.Subscribe(context.Background(), otogi.InterestSet{}, otogi.SubscriptionSpec{
		Name:         "blocking",
		Buffer:       1,
		Workers:      1,
		Backpressure: otogi.BackpressureBlock,
	}, func(ctx context.Context, _ *otogi.Event) error {
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	for _, id := range []string{"j1", "j2"} {
		if err := bus.Publish(context.Background(), newTestEvent(id, otogi.EventKindNoticeReceived)); err != nil {
			t.Fatalf("publish %s: %v", id, err)
		}
	}

	// j1 is in the handler and j2 fills the lane; j3 must wait and give up.
	eventually(t, time.Second, func() bool {
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		err := bus.Publish(ctx, newTestEvent("j3", otogi.EventKindNoticeReceived))
		return errors.Is(err, context.DeadlineExceeded)
	})
}

func TestEventBusKeepsConversationOrderAcrossLanes(t *testing.T) {
	t.Parallel()

	const (
		groups   = 6
		perGroup = 40
	)

	bus := newTestBus(t, groups*perGroup, 4, nil)

	var mu sync.Mutex
	seen := make(map[string][]int)
	var total int
	_, err := bus.Subscribe(context.Background(), otogi.InterestSet{}, otogi.SubscriptionSpec{
		Name:    "ledger",
		Workers: 4,
	}, func(_ context.Context, event *otogi.Event) error {
		var seq int
		if _, err := fmt.Sscanf(event.Metadata["seq"], "%d", &seq); err != nil {
			return err
		}
		mu.Lock()
		seen[event.Conversation.ID] = append(seen[event.Conversation.ID], seq)
		total++
		mu.Unlock()
		return nil
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	for seq := 0; seq < perGroup; seq++ {
		for group := 0; group < groups; group++ {
			event := newTestEvent(fmt.Sprintf("g%d-%d", group, seq), otogi.EventKindNoticeReceived)
			event.Conversation.ID = fmt.Sprintf("group-%d", group)
			event.Metadata = map[string]string{"seq": fmt.Sprint(seq)}
			if err := bus.Publish(context.Background(), event); err != nil {
				t.Fatalf("publish %s: %v", event.ID, err)
			}
		}
	}

	eventually(t, 3*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return total == groups*perGroup
	})

	mu.Lock()
	defer mu.Unlock()
	for group, sequence := range seen {
		for index, seq := range sequence {
			if seq != index {
				t.Fatalf("%s handled out of order: %v", group, sequence)
			}
		}
	}
}

func TestEventBusSourceFilter(t *testing.T) {
	t.Parallel()

	bus := newTestBus(t, 8, 1, nil)
	received := make(chan string, 2)
	_, err := bus.Subscribe(context.Background(), otogi.InterestSet{
		Kinds:   []otogi.EventKind{otogi.EventKindNoticeReceived},
		Sources: []otogi.EventSource{{Platform: otogi.PlatformOneBot, ID: "qq-main"}},
	}, otogi.SubscriptionSpec{Name: "scoped"}, func(_ context.Context, event *otogi.Event) error {
		received <- event.ID
		return nil
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	other := newTestEvent("other", otogi.EventKindNoticeReceived)
	other.Source = otogi.EventSource{Platform: otogi.PlatformOneBot, ID: "qq-alt"}
	if err := bus.Publish(context.Background(), other); err != nil {
		t.Fatalf("publish other: %v", err)
	}
	if err := bus.Publish(context.Background(), newTestEvent("main", otogi.EventKindNoticeReceived)); err != nil {
		t.Fatalf("publish main: %v", err)
	}

	select {
	case id := <-received:
		if id != "main" {
			t.Fatalf("received = %s, want main", id)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for scoped event")
	}
}

func TestEventBusReportsHandlerFailures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		handler otogi.EventHandler
		wantSub string
	}{
		{
			name: "returned error",
			handler: func(context.Context, *otogi.Event) error {
				return errors.New("ledger unavailable")
			},
			wantSub: "ledger unavailable",
		},
		{
			name: "panic",
			handler: func(context.Context, *otogi.Event) error {
				panic("boom")
			},
			wantSub: "panic recovered: boom",
		},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			reported := make(chan error, 1)
			bus := newTestBus(t, 8, 1, func(_ context.Context, _ string, err error) {
				select {
				case reported <- err:
				default:
				}
			})
			if _, err := bus.Subscribe(context.Background(), otogi.InterestSet{}, otogi.SubscriptionSpec{Name: "failing"}, testCase.handler); err != nil {
				t.Fatalf("subscribe: %v", err)
			}
			if err := bus.Publish(context.Background(), newTestEvent("j1", otogi.EventKindNoticeReceived)); err != nil {
				t.Fatalf("publish: %v", err)
			}

			select {
			case err := <-reported:
				if !strings.Contains(err.Error(), testCase.wantSub) {
					t.Fatalf("reported = %v, want substring %q", err, testCase.wantSub)
				}
			case <-time.After(2 * time.Second):
				t.Fatal("handler failure was not reported")
			}
		})
	}
}

func TestEventBusSubscribeErrors(t *testing.T) {
	t.Parallel()

	canceled, cancel := context.WithCancel(context.Background())
	cancel()

	tests := []struct {
		name    string
		ctx     context.Context
		spec    otogi.SubscriptionSpec
		handler otogi.EventHandler
		closed  bool
		wantErr error
	}{
		{
			name:    "unknown backpressure",
			ctx:     context.Background(),
			spec:    otogi.SubscriptionSpec{Name: "bad", Backpressure: "spill"},
			handler: func(context.Context, *otogi.Event) error { return nil },
			wantErr: otogi.ErrInvalidSubscription,
		},
		{
			name:    "canceled context",
			ctx:     canceled,
			spec:    otogi.SubscriptionSpec{Name: "late"},
			handler: func(context.Context, *otogi.Event) error { return nil },
			wantErr: context.Canceled,
		},
		{
			name: "nil handler",
			ctx:  context.Background(),
			spec: otogi.SubscriptionSpec{Name: "empty"},
		},
		{
			name:    "closed bus",
			ctx:     context.Background(),
			spec:    otogi.SubscriptionSpec{Name: "after-close"},
			handler: func(context.Context, *otogi.Event) error { return nil },
			closed:  true,
		},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			bus := newTestBus(t, 8, 1, nil)
			if testCase.closed {
				if err := bus.Close(context.Background()); err != nil {
					t.Fatalf("close: %v", err)
				}
			}

			_, err := bus.Subscribe(testCase.ctx, otogi.InterestSet{}, testCase.spec, testCase.handler)
			if err == nil {
				t.Fatal("expected subscribe error")
			}
			if testCase.wantErr != nil && !errors.Is(err, testCase.wantErr) {
				t.Fatalf("error = %v, want %v", err, testCase.wantErr)
			}
		})
	}
}

func TestEventBusSubscriptionCloseStopsDelivery(t *testing.T) {
	t.Parallel()

	var late []error
	var mu sync.Mutex
	bus := newTestBus(t, 8, 1, nil)
	sub, err := bus.Subscribe(context.Background(), otogi.InterestSet{}, otogi.SubscriptionSpec{Name: "short-lived"},
		func(context.Context, *otogi.Event) error {
			mu.Lock()
			late = append(late, errors.New("delivered after close"))
			mu.Unlock()
			return nil
		})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if sub.Name() != "short-lived" {
		t.Fatalf("name = %q, want short-lived", sub.Name())
	}
	if err := sub.Close(context.Background()); err != nil {
		t.Fatalf("close subscription: %v", err)
	}
	if err := bus.Publish(context.Background(), newTestEvent("j1", otogi.EventKindNoticeReceived)); err != nil {
		t.Fatalf("publish: %v", err)
	}

	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if len(late) != 0 {
		t.Fatalf("handler ran %d times after close", len(late))
	}
}

func TestEventBusPublishRejections(t *testing.T) {
	t.Parallel()

	invalid := newTestEvent("", otogi.EventKindNoticeReceived)

	tests := []struct {
		name    string
		event   *otogi.Event
		closed  bool
		wantErr error
	}{
		{name: "nil event", event: nil, wantErr: otogi.ErrInvalidEvent},
		{name: "missing id", event: invalid, wantErr: otogi.ErrInvalidEvent},
		{name: "closed bus", event: newTestEvent("j1", otogi.EventKindNoticeReceived), closed: true},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			bus := newTestBus(t, 8, 1, nil)
			if testCase.closed {
				if err := bus.Close(context.Background()); err != nil {
					t.Fatalf("close: %v", err)
				}
			}

			err := bus.Publish(context.Background(), testCase.event)
			if err == nil {
				t.Fatal("expected publish error")
			}
			if testCase.wantErr != nil && !errors.Is(err, testCase.wantErr) {
				t.Fatalf("error = %v, want %v", err, testCase.wantErr)
			}
		})
	}
}

func newTestEvent(id string, kind otogi.EventKind) *otogi.Event {
	event := &otogi.Event{
		ID:         id,
		Kind:       kind,
		OccurredAt: time.Now().UTC(),
		Source:     otogi.EventSource{Platform: otogi.PlatformOneBot, ID: "qq-main"},
		Conversation: otogi.Conversation{
			ID:   "group-1",
			Type: otogi.ConversationTypeGroup,
		},
		Actor: otogi.Actor{ID: "user-1"},
	}

	switch kind {
	case otogi.EventKindArticleCreated:
		event.Article = &otogi.Article{ID: "msg-1", Text: "hello"}
	case otogi.EventKindNoticeReceived:
		event.Notice = &otogi.Notice{Payload: map[string]any{
			"post_type":   "notice",
			"notice_type": "group_increase",
			"group_id":    "group-1",
			"user_id":     "user-1",
		}}
	}

	return event
}

func eventually(t *testing.T, timeout time.Duration, condition func() bool) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}

	t.Fatal("condition not met before timeout")
}
