package invitecount

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"otogi-invite/pkg/otogi"
)

var testNow = time.Date(2025, 3, 10, 12, 0, 0, 0, time.Local)

func fixedClock(now time.Time) func() time.Time {
	return func() time.Time {
		return now
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// recordsOf builds a record set whose first-recorded order is ascending id.
func recordsOf(byID map[string]MemberRecord) Records {
	var records Records
	for _, userID := range slices.Sorted(maps.Keys(byID)) {
		records.Set(userID, byID[userID])
	}

	return records
}

type memoryStore struct {
	mu       sync.Mutex
	records  Records
	saves    int
	saveErr  error
	loadErr  error
	closed   bool
	closeErr error
}

func newMemoryStore(records map[string]MemberRecord) *memoryStore {
	return &memoryStore{records: recordsOf(records)}
}

func (s *memoryStore) Load(context.Context) (Records, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.loadErr != nil {
		return Records{}, s.loadErr
	}

	return s.records.Clone(), nil
}

func (s *memoryStore) Save(_ context.Context, records Records) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.saves++
	if s.saveErr != nil {
		return s.saveErr
	}
	s.records = records.Clone()

	return nil
}

func (s *memoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true

	return s.closeErr
}

func (s *memoryStore) saved() (map[string]MemberRecord, int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return maps.Collect(s.records.All()), s.saves
}

type lookupStub struct {
	roster    []otogi.MemberProfile
	rosterErr error
	members   map[string]otogi.MemberProfile

	mu          sync.Mutex
	rosterCalls int
	memberCalls int
}

func (s *lookupStub) Roster(context.Context, string) ([]otogi.MemberProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.rosterCalls++
	if s.rosterErr != nil {
		return nil, s.rosterErr
	}

	return s.roster, nil
}

func (s *lookupStub) Member(_ context.Context, _ string, userID string) (otogi.MemberProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.memberCalls++
	member, ok := s.members[userID]
	if !ok {
		return otogi.MemberProfile{}, otogi.ErrMemberNotFound
	}

	return member, nil
}

type moduleRuntimeStub struct {
	registry otogi.ServiceRegistry
}

func (s moduleRuntimeStub) Services() otogi.ServiceRegistry {
	return s.registry
}

func (moduleRuntimeStub) Subscribe(
	context.Context,
	otogi.InterestSet,
	otogi.SubscriptionSpec,
	otogi.EventHandler,
) (otogi.Subscription, error) {
	return nil, nil
}

type serviceRegistryStub struct {
	values map[string]any
}

func newServiceRegistryStub() *serviceRegistryStub {
	return &serviceRegistryStub{values: make(map[string]any)}
}

func (s *serviceRegistryStub) Register(name string, service any) error {
	if name == "" {
		return errors.New("empty service name")
	}
	if _, exists := s.values[name]; exists {
		return otogi.ErrServiceAlreadyRegistered
	}
	s.values[name] = service

	return nil
}

func (s *serviceRegistryStub) Resolve(name string) (any, error) {
	value, ok := s.values[name]
	if !ok {
		return nil, otogi.ErrServiceNotFound
	}

	return value, nil
}

type captureDispatcher struct {
	mu       sync.Mutex
	requests []otogi.SendMessageRequest
	sendErr  error
}

func (d *captureDispatcher) SendMessage(
	_ context.Context,
	request otogi.SendMessageRequest,
) (*otogi.OutboundMessage, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.requests = append(d.requests, request)
	if d.sendErr != nil {
		return nil, d.sendErr
	}

	return &otogi.OutboundMessage{ID: "sent-1", Target: request.Target}, nil
}

func (d *captureDispatcher) last() (otogi.SendMessageRequest, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(d.requests) == 0 {
		return otogi.SendMessageRequest{}, false
	}

	return d.requests[len(d.requests)-1], true
}

type directoryStub struct {
	lookup *lookupStub
}

func (d directoryStub) ListMembers(ctx context.Context, target otogi.OutboundTarget) ([]otogi.MemberProfile, error) {
	return d.lookup.Roster(ctx, target.Conversation.ID)
}

func (d directoryStub) GetMember(
	ctx context.Context,
	target otogi.OutboundTarget,
	userID string,
) (otogi.MemberProfile, error) {
	return d.lookup.Member(ctx, target.Conversation.ID, userID)
}
