package invitecount

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Store persists the whole ledger state.
//
// Save always receives the complete state; there is no incremental log.
// Stores keep the first-recorded order of ids across Save and Load.
type Store interface {
	// Load returns the persisted state, or an empty set when none exists.
	Load(ctx context.Context) (Records, error)
	// Save replaces the persisted state.
	Save(ctx context.Context, records Records) error
	// Close releases store resources.
	Close() error
}

// Ledger maps user ids to member records with write-through persistence.
//
// Every mutation and its Save run under one mutex, so at most one writer is
// active at a time.
type Ledger struct {
	logger *slog.Logger
	store  Store

	mu      sync.Mutex
	records Records
}

// OpenLedger loads the persisted state from store.
func OpenLedger(ctx context.Context, store Store, logger *slog.Logger) (*Ledger, error) {
	if store == nil {
		return nil, fmt.Errorf("open ledger: nil store")
	}
	if logger == nil {
		logger = slog.Default()
	}

	records, err := store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	return &Ledger{
		logger:  logger,
		store:   store,
		records: records,
	}, nil
}

// RecordInvitedJoin replaces any record for userID with a fresh invited join.
func (l *Ledger) RecordInvitedJoin(
	ctx context.Context,
	userID string,
	operatorID string,
	memberName string,
	operatorName string,
	at time.Time,
) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.records.Set(userID, MemberRecord{
		Nickname:    memberName,
		Inviter:     operatorID,
		InviterName: operatorName,
		JoinType:    JoinTypeInvited,
		JoinTime:    FormatTime(at),
	})
	l.persistLocked(ctx, "record invited join")
}

// RecordSelfJoin replaces any record for userID with a fresh self join.
func (l *Ledger) RecordSelfJoin(ctx context.Context, userID string, memberName string, at time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.records.Set(userID, MemberRecord{
		Nickname: memberName,
		JoinType: JoinTypeSelfJoined,
		JoinTime: FormatTime(at),
	})
	l.persistLocked(ctx, "record self join")
}

// RecordLeave marks a voluntary leave. It reports false for an unknown id.
func (l *Ledger) RecordLeave(ctx context.Context, userID string, at time.Time) bool {
	return l.markLeave(ctx, userID, LeftVoluntarily(), at)
}

// RecordKick marks a removal by operatorID. It reports false for an unknown id.
func (l *Ledger) RecordKick(ctx context.Context, userID string, operatorID string, at time.Time) bool {
	return l.markLeave(ctx, userID, KickedBy(operatorID), at)
}

func (l *Ledger) markLeave(ctx context.Context, userID string, leave LeaveType, at time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	record, exists := l.records.Get(userID)
	if !exists {
		return false
	}

	record.Leave = leave
	record.LeaveTime = FormatTime(at)
	l.records.Set(userID, record)
	l.persistLocked(ctx, "record leave")

	return true
}

// EnsurePlaceholder creates an empty record named fallbackName when userID is
// unknown. It reports whether a record was created.
func (l *Ledger) EnsurePlaceholder(ctx context.Context, userID string, fallbackName string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.records.Get(userID); exists {
		return false
	}

	l.records.Set(userID, MemberRecord{Nickname: fallbackName})
	l.persistLocked(ctx, "ensure placeholder")

	return true
}

// RefreshNickname updates the cached nickname of an existing record.
func (l *Ledger) RefreshNickname(ctx context.Context, userID string, name string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	record, exists := l.records.Get(userID)
	if !exists || record.Nickname == name {
		return
	}

	record.Nickname = name
	l.records.Set(userID, record)
	l.persistLocked(ctx, "refresh nickname")
}

// BulkRefreshNicknames updates nicknames of ids already present and returns
// how many records changed.
func (l *Ledger) BulkRefreshNicknames(ctx context.Context, names map[string]string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	updated := 0
	for userID, name := range names {
		record, exists := l.records.Get(userID)
		if !exists || record.Nickname == name {
			continue
		}
		record.Nickname = name
		l.records.Set(userID, record)
		updated++
	}
	if updated > 0 {
		l.persistLocked(ctx, "bulk refresh nicknames")
	}

	return updated
}

// Get returns one record.
func (l *Ledger) Get(userID string) (MemberRecord, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.records.Get(userID)
}

// Len returns the number of tracked ids.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.records.Len()
}

// Snapshot returns a copy of the full state for read-only aggregation.
func (l *Ledger) Snapshot() Records {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.records.Clone()
}

// Close releases the underlying store.
func (l *Ledger) Close() error {
	if err := l.store.Close(); err != nil {
		return fmt.Errorf("close ledger: %w", err)
	}

	return nil
}

// persistLocked writes the whole state. Failures are logged and the
// in-memory mutation is kept.
func (l *Ledger) persistLocked(ctx context.Context, scope string) {
	if err := l.store.Save(ctx, l.records.Clone()); err != nil {
		l.logger.ErrorContext(ctx,
			"invitecount persist ledger failed",
			"scope", scope,
			"records", l.records.Len(),
			"error", err,
		)
	}
}
