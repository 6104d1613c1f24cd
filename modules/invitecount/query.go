package invitecount

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// ServiceQuery is the service registry key of the invite query service.
const ServiceQuery = "invitecount.query"

// Outcome describes what one membership event did to the ledger.
type Outcome string

const (
	// OutcomeIgnored means the event did not change the ledger.
	OutcomeIgnored Outcome = "ignored"
	// OutcomeInvitedJoin means an invited join was recorded.
	OutcomeInvitedJoin Outcome = "invited_join"
	// OutcomeSelfJoin means a join without inviter was recorded.
	OutcomeSelfJoin Outcome = "self_join"
	// OutcomeLeave means a voluntary leave was recorded.
	OutcomeLeave Outcome = "leave"
	// OutcomeKick means a removal was recorded.
	OutcomeKick Outcome = "kick"
)

const (
	inviterDisplaySelf = "自己/主动进群"
	placeholderValue   = "-"
)

// InspectResult is the per-user lookup answer.
type InspectResult struct {
	UserID         string    `json:"user_id"`
	Name           string    `json:"name"`
	InviterID      string    `json:"inviter_id,omitempty"`
	InviterDisplay string    `json:"inviter_display"`
	JoinType       JoinType  `json:"join_type,omitempty"`
	JoinTime       string    `json:"join_time,omitempty"`
	JoinElapsed    string    `json:"join_elapsed"`
	Stats          UserStats `json:"stats"`
	// FirstTime is set when the lookup created the record.
	FirstTime   bool      `json:"first_time"`
	GeneratedAt time.Time `json:"generated_at"`
}

// UserView is a read-only view of one tracked user.
type UserView struct {
	UserID    string    `json:"user_id"`
	Nickname  string    `json:"nickname"`
	Inviter   string    `json:"inviter,omitempty"`
	JoinType  JoinType  `json:"join_type,omitempty"`
	JoinTime  string    `json:"join_time,omitempty"`
	LeaveType string    `json:"leave_type,omitempty"`
	LeaveTime string    `json:"leave_time,omitempty"`
	Stats     UserStats `json:"stats"`
}

// RankedInviter is one leaderboard entry with a display name.
type RankedInviter struct {
	Rank int    `json:"rank"`
	Name string `json:"name"`
	LeaderboardEntry
}

// Service is the query façade over one ledger.
type Service struct {
	ledger *Ledger
	cfg    Config
	logger *slog.Logger
	clock  func() time.Time
}

// NewService creates a query service over ledger.
func NewService(ledger *Ledger, cfg Config, logger *slog.Logger, clock func() time.Time) (*Service, error) {
	if ledger == nil {
		return nil, fmt.Errorf("new invitecount service: nil ledger")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if clock == nil {
		clock = time.Now
	}

	return &Service{
		ledger: ledger,
		cfg:    cfg,
		logger: logger,
		clock:  clock,
	}, nil
}

// HandleMembershipEvent normalizes one notice payload and applies it.
//
// Payloads that are not membership notices and transitions for unknown ids
// are ignored without error.
func (s *Service) HandleMembershipEvent(ctx context.Context, payload map[string]any, lookup MemberLookup) Outcome {
	event, err := Normalize(payload, s.clock())
	if err != nil {
		if !errors.Is(err, ErrNotMembershipEvent) {
			s.logger.WarnContext(ctx, "invitecount normalize notice failed", "error", err)
		}
		return OutcomeIgnored
	}
	if event.UserID == "" {
		return OutcomeIgnored
	}

	outcome := s.apply(ctx, event, lookup)
	if outcome != OutcomeIgnored {
		s.logger.InfoContext(ctx,
			"invitecount membership recorded",
			"outcome", string(outcome),
			"group_id", event.GroupID,
			"user_id", event.UserID,
			"operator_id", event.OperatorID,
		)
	}

	return outcome
}

func (s *Service) apply(ctx context.Context, event MembershipEvent, lookup MemberLookup) Outcome {
	resolver := newNameResolver(lookup, s.logger, event.GroupID)

	switch event.Kind {
	case KindIncrease:
		switch {
		case event.SubKind == SubKindInvite && event.OperatorID != "":
			memberName := resolver.ResolveMember(ctx, event.UserID).Name
			operatorName := resolver.ResolveMember(ctx, event.OperatorID).Name
			s.ledger.RecordInvitedJoin(ctx, event.UserID, event.OperatorID, memberName, operatorName, event.At)
			return OutcomeInvitedJoin
		case event.SubKind == SubKindApprove || event.OperatorID == "":
			memberName := resolver.ResolveMember(ctx, event.UserID).Name
			s.ledger.RecordSelfJoin(ctx, event.UserID, memberName, event.At)
			return OutcomeSelfJoin
		default:
			return OutcomeIgnored
		}
	case KindDecrease:
		switch event.SubKind {
		case SubKindLeave:
			if s.ledger.RecordLeave(ctx, event.UserID, event.At) {
				return OutcomeLeave
			}
		case SubKindKick:
			if s.ledger.RecordKick(ctx, event.UserID, event.OperatorID, event.At) {
				return OutcomeKick
			}
		}
		return OutcomeIgnored
	default:
		return OutcomeIgnored
	}
}

// QueryUser answers a lookup for userID within groupID.
//
// A missing record is created as a placeholder first, and the cached
// nickname is refreshed from the best available name.
func (s *Service) QueryUser(ctx context.Context, userID string, groupID string, lookup MemberLookup) InspectResult {
	now := s.clock()
	resolver := newNameResolver(lookup, s.logger, groupID)

	if s.cfg.SyncRosterOnQuery {
		if roster, ok := resolver.Roster(ctx); ok {
			if updated := s.ledger.BulkRefreshNicknames(ctx, rosterNames(roster)); updated > 0 {
				s.logger.DebugContext(ctx,
					"invitecount roster synced",
					"group_id", groupID,
					"updated", updated,
				)
			}
		}
	}

	name := resolver.Resolve(ctx, userID)
	firstTime := s.ledger.EnsurePlaceholder(ctx, userID, name.Name)
	if name.Resolved() {
		s.ledger.RefreshNickname(ctx, userID, name.Name)
	}

	record, _ := s.ledger.Get(userID)
	displayName := record.Nickname
	if displayName == "" {
		displayName = userID
	}

	return InspectResult{
		UserID:         userID,
		Name:           displayName,
		InviterID:      record.Inviter,
		InviterDisplay: s.inviterDisplay(ctx, resolver, record),
		JoinType:       record.JoinType,
		JoinTime:       record.JoinTime,
		JoinElapsed:    formatJoinElapsed(record.JoinTime, now),
		Stats:          ComputeUserStats(s.ledger.Snapshot(), userID, s.cfg.OnlyStatValid),
		FirstTime:      firstTime,
		GeneratedAt:    now,
	}
}

func (s *Service) inviterDisplay(ctx context.Context, resolver *nameResolver, record MemberRecord) string {
	if record.Inviter == "" {
		return inviterDisplaySelf
	}
	if !s.cfg.ShowInviter {
		return record.Inviter
	}

	if name := resolver.Resolve(ctx, record.Inviter); name.Resolved() {
		return fmt.Sprintf("%s (%s)", name.Name, record.Inviter)
	}
	if record.InviterName != "" && record.InviterName != record.Inviter {
		return fmt.Sprintf("%s (%s)", record.InviterName, record.Inviter)
	}

	return record.Inviter
}

// PeekUser returns the stored record of userID without creating or refreshing it.
func (s *Service) PeekUser(userID string) (UserView, bool) {
	record, exists := s.ledger.Get(userID)
	if !exists {
		return UserView{}, false
	}

	return UserView{
		UserID:    userID,
		Nickname:  record.Nickname,
		Inviter:   record.Inviter,
		JoinType:  record.JoinType,
		JoinTime:  record.JoinTime,
		LeaveType: record.Leave.String(),
		LeaveTime: record.LeaveTime,
		Stats:     ComputeUserStats(s.ledger.Snapshot(), userID, s.cfg.OnlyStatValid),
	}, true
}

// QueryLeaderboard ranks inviters by metric; a zero window counts all time.
//
// Names come from the cached ledger nickname of each inviter, falling back to
// the id.
func (s *Service) QueryLeaderboard(metric Metric, window time.Duration) []RankedInviter {
	records := s.ledger.Snapshot()
	entries := ComputeLeaderboard(records, metric, window, s.clock())

	ranked := make([]RankedInviter, 0, len(entries))
	for index, entry := range entries {
		name := entry.InviterID
		if record, exists := records.Get(entry.InviterID); exists && strings.TrimSpace(record.Nickname) != "" {
			name = record.Nickname
		}
		ranked = append(ranked, RankedInviter{
			Rank:             index + 1,
			Name:             name,
			LeaderboardEntry: entry,
		})
	}

	return ranked
}

// QueryRewardText returns the configured reward description.
func (s *Service) QueryRewardText() string {
	if strings.TrimSpace(s.cfg.RewardMessage) == "" {
		return DefaultRewardMessage
	}

	return s.cfg.RewardMessage
}

// formatJoinElapsed renders "N天前(YYYY-MM-DD)", the raw value when it does
// not parse, or "-" when unset.
func formatJoinElapsed(joinTime string, now time.Time) string {
	if strings.TrimSpace(joinTime) == "" {
		return placeholderValue
	}

	joinedAt, ok := ParseTime(joinTime)
	if !ok {
		return joinTime
	}
	days := int(now.Sub(joinedAt) / (24 * time.Hour))

	return fmt.Sprintf("%d天前(%s)", days, joinedAt.Format("2006-01-02"))
}
