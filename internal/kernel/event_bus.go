package kernel

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"

	"otogi-invite/pkg/otogi"
)

// BusDefaults fills the zero-valued fields of a SubscriptionSpec.
type BusDefaults struct {
	// Buffer is the queue depth of each lane.
	Buffer int
	// Lanes is the number of ordered worker lanes per subscription.
	Lanes int
	// HandlerTimeout bounds one handler call. Zero disables the bound.
	HandlerTimeout time.Duration
}

// EventBus fans events out to subscriptions through conversation-keyed lanes.
//
// Every subscription runs Workers lanes. Events of one conversation always
// land on the same lane, so membership changes within a group are handled in
// publish order while unrelated groups proceed in parallel.
type EventBus struct {
	defaults BusDefaults
	report   func(context.Context, string, error)
	seq      atomic.Int64

	mu     sync.RWMutex
	closed bool
	subs   map[int64]*laneSubscription
}

// NewEventBus creates an event bus. report receives handler failures and
// dropped deliveries; it may be nil.
func NewEventBus(defaults BusDefaults, report func(context.Context, string, error)) *EventBus {
	if defaults.Buffer <= 0 {
		defaults.Buffer = defaultSubscriptionBuffer
	}
	if defaults.Lanes <= 0 {
		defaults.Lanes = defaultSubscriptionLanes
	}

	return &EventBus{
		defaults: defaults,
		report:   report,
		subs:     make(map[int64]*laneSubscription),
	}
}

// Publish validates event and offers it to every subscription whose interest matches.
//
// Drops caused by backpressure are reported asynchronously and do not fail
// the publish. Only blocking enqueues that give up on ctx are returned.
func (b *EventBus) Publish(ctx context.Context, event *otogi.Event) error {
	if event == nil {
		return fmt.Errorf("publish event: %w: nil event", otogi.ErrInvalidEvent)
	}
	if err := event.Validate(); err != nil {
		return fmt.Errorf("publish event %s: %w", event.Kind, err)
	}

	targets, err := b.matching(event)
	if err != nil {
		return fmt.Errorf("publish event %s: %w", event.Kind, err)
	}

	var failed []error
	for _, sub := range targets {
		err := sub.offer(ctx, event)
		switch {
		case err == nil:
		case errors.Is(err, otogi.ErrEventDropped), errors.Is(err, otogi.ErrSubscriptionClosed):
			b.reportAsync(ctx, sub.spec.Name, err)
		default:
			failed = append(failed, err)
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("publish event %s: %w", event.Kind, errors.Join(failed...))
	}

	return nil
}

// Subscribe starts a subscription and its lanes.
func (b *EventBus) Subscribe(
	ctx context.Context,
	interest otogi.InterestSet,
	spec otogi.SubscriptionSpec,
	handler otogi.EventHandler,
) (otogi.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", spec.Name, err)
	}
	if handler == nil {
		return nil, fmt.Errorf("subscribe %s: nil handler", spec.Name)
	}
	switch spec.Backpressure {
	case "", otogi.BackpressureDropNewest, otogi.BackpressureDropOldest, otogi.BackpressureBlock:
	default:
		return nil, fmt.Errorf("subscribe %s: %w: backpressure %q", spec.Name, otogi.ErrInvalidSubscription, spec.Backpressure)
	}

	id := b.seq.Add(1)
	sub := newLaneSubscription(id, interest, b.withDefaults(spec, id), handler, b)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		sub.stop()
		return nil, fmt.Errorf("subscribe %s: bus closed", sub.spec.Name)
	}
	b.subs[id] = sub

	return sub, nil
}

// Close stops every subscription and rejects later publishes and subscribes.
func (b *EventBus) Close(ctx context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	subs := b.subs
	b.subs = make(map[int64]*laneSubscription)
	b.mu.Unlock()

	var closeErr error
	for _, sub := range subs {
		if err := sub.drain(ctx); err != nil {
			closeErr = errors.Join(closeErr, err)
		}
	}
	if closeErr != nil {
		return fmt.Errorf("close event bus: %w", closeErr)
	}

	return nil
}

func (b *EventBus) matching(event *otogi.Event) ([]*laneSubscription, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, fmt.Errorf("bus closed")
	}

	targets := make([]*laneSubscription, 0, len(b.subs))
	for _, sub := range b.subs {
		if sub.interest.Matches(event) {
			targets = append(targets, sub)
		}
	}

	return targets, nil
}

func (b *EventBus) withDefaults(spec otogi.SubscriptionSpec, id int64) otogi.SubscriptionSpec {
	if spec.Name == "" {
		spec.Name = fmt.Sprintf("subscription-%d", id)
	}
	if spec.Buffer <= 0 {
		spec.Buffer = b.defaults.Buffer
	}
	if spec.Workers <= 0 {
		spec.Workers = b.defaults.Lanes
	}
	if spec.HandlerTimeout <= 0 {
		spec.HandlerTimeout = b.defaults.HandlerTimeout
	}
	if spec.Backpressure == "" {
		spec.Backpressure = otogi.BackpressureDropNewest
	}

	return spec
}

func (b *EventBus) remove(ctx context.Context, id int64) error {
	b.mu.Lock()
	sub, ok := b.subs[id]
	delete(b.subs, id)
	b.mu.Unlock()

	if !ok {
		return nil
	}

	return sub.drain(ctx)
}

func (b *EventBus) reportAsync(ctx context.Context, scope string, err error) {
	if b.report != nil {
		b.report(ctx, scope, err)
	}
}

// laneSubscription owns one queue and one worker per lane.
type laneSubscription struct {
	id       int64
	interest otogi.InterestSet
	spec     otogi.SubscriptionSpec
	handler  otogi.EventHandler
	bus      *EventBus

	lanes   []chan *otogi.Event
	ctx     context.Context
	cancel  context.CancelFunc
	workers sync.WaitGroup
	done    chan struct{}

	closing  atomic.Bool
	stopOnce sync.Once
}

func newLaneSubscription(
	id int64,
	interest otogi.InterestSet,
	spec otogi.SubscriptionSpec,
	handler otogi.EventHandler,
	bus *EventBus,
) *laneSubscription {
	ctx, cancel := context.WithCancel(context.Background())
	sub := &laneSubscription{
		id:       id,
		interest: cloneInterestSet(interest),
		spec:     spec,
		handler:  handler,
		bus:      bus,
		lanes:    make([]chan *otogi.Event, spec.Workers),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}

	for lane := range sub.lanes {
		sub.lanes[lane] = make(chan *otogi.Event, spec.Buffer)
		sub.workers.Add(1)
		go sub.work(lane)
	}
	go func() {
		sub.workers.Wait()
		close(sub.done)
	}()

	return sub
}

func cloneInterestSet(interest otogi.InterestSet) otogi.InterestSet {
	cloned := interest
	cloned.Kinds = append([]otogi.EventKind(nil), interest.Kinds...)
	cloned.Sources = append([]otogi.EventSource(nil), interest.Sources...)
	cloned.CommandNames = append([]string(nil), interest.CommandNames...)

	return cloned
}

// Name returns the subscription name.
func (s *laneSubscription) Name() string {
	return s.spec.Name
}

// Close detaches the subscription from its bus and waits for its lanes.
func (s *laneSubscription) Close(ctx context.Context) error {
	return s.bus.remove(ctx, s.id)
}

// laneOf maps an event to its lane by source and conversation.
func (s *laneSubscription) laneOf(event *otogi.Event) chan *otogi.Event {
	if len(s.lanes) == 1 {
		return s.lanes[0]
	}

	hash := fnv.New32a()
	_, _ = hash.Write([]byte(event.Source.Platform))
	_, _ = hash.Write([]byte{0})
	_, _ = hash.Write([]byte(event.Source.ID))
	_, _ = hash.Write([]byte{0})
	_, _ = hash.Write([]byte(event.Conversation.ID))

	return s.lanes[hash.Sum32()%uint32(len(s.lanes))]
}

func (s *laneSubscription) offer(ctx context.Context, event *otogi.Event) error {
	if s.closing.Load() {
		return fmt.Errorf("enqueue %s: %w", s.spec.Name, otogi.ErrSubscriptionClosed)
	}

	lane := s.laneOf(event)
	select {
	case lane <- event:
		return nil
	default:
	}

	switch s.spec.Backpressure {
	case otogi.BackpressureBlock:
		select {
		case lane <- event:
			return nil
		case <-s.ctx.Done():
			return fmt.Errorf("enqueue %s: %w", s.spec.Name, otogi.ErrSubscriptionClosed)
		case <-ctx.Done():
			return fmt.Errorf("enqueue %s: %w", s.spec.Name, ctx.Err())
		}
	case otogi.BackpressureDropOldest:
		select {
		case evicted := <-lane:
			s.bus.reportAsync(ctx, s.spec.Name, fmt.Errorf("enqueue %s: %w: evicted %s", s.spec.Name, otogi.ErrEventDropped, evicted.ID))
		default:
		}
		select {
		case lane <- event:
			return nil
		default:
		}
	}

	return fmt.Errorf("enqueue %s: %w", s.spec.Name, otogi.ErrEventDropped)
}

func (s *laneSubscription) work(lane int) {
	defer s.workers.Done()

	queue := s.lanes[lane]
	scope := fmt.Sprintf("subscription %s lane %d", s.spec.Name, lane)
	for {
		select {
		case <-s.ctx.Done():
			return
		case event := <-queue:
			if err := s.deliver(scope, event); err != nil {
				s.bus.reportAsync(s.ctx, s.spec.Name, err)
			}
		}
	}
}

func (s *laneSubscription) deliver(scope string, event *otogi.Event) error {
	ctx, cancel := s.ctx, context.CancelFunc(func() {})
	if s.spec.HandlerTimeout > 0 {
		ctx, cancel = context.WithTimeout(s.ctx, s.spec.HandlerTimeout)
	}
	defer cancel()

	if err := runSafely(scope, func() error {
		return s.handler(ctx, event)
	}); err != nil {
		return fmt.Errorf("handle event %s %s: %w", event.Kind, event.ID, err)
	}

	return nil
}

func (s *laneSubscription) stop() {
	s.stopOnce.Do(func() {
		s.closing.Store(true)
		s.cancel()
	})
}

// drain stops the lanes and waits for in-flight handlers up to ctx.
func (s *laneSubscription) drain(ctx context.Context) error {
	s.stop()

	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("shutdown subscription %s: %w", s.spec.Name, ctx.Err())
	}
}
