package invitecount

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// LeaderboardLimit caps the number of ranked inviters.
const LeaderboardLimit = 10

// UserStats summarizes the members one user invited.
type UserStats struct {
	TotalInvited int `json:"total_invited"`
	ValidInvited int `json:"valid_invited"`
	KickedCount  int `json:"kicked_count"`
	LeftCount    int `json:"left_count"`
}

// ComputeUserStats counts records whose inviter is userID.
//
// With onlyValid set, kicked and left counts are taken over present members
// only, so both read zero; total and valid always cover every invitee.
func ComputeUserStats(records Records, userID string, onlyValid bool) UserStats {
	stats := UserStats{}
	if userID == "" {
		return stats
	}

	for _, record := range records.All() {
		if record.Inviter != userID {
			continue
		}
		stats.TotalInvited++
		if record.Leave.Present() {
			stats.ValidInvited++
			continue
		}
		if onlyValid {
			continue
		}
		switch record.Leave.Category {
		case LeaveKicked:
			stats.KickedCount++
		case LeaveVoluntary:
			stats.LeftCount++
		}
	}

	return stats
}

// Metric selects the leaderboard sort key.
type Metric string

const (
	// MetricValid ranks by invitees still present.
	MetricValid Metric = "valid"
	// MetricTotal ranks by all invitees.
	MetricTotal Metric = "total"
	// MetricInvalid ranks by invitees who left or were kicked.
	MetricInvalid Metric = "invalid"
)

// ParseMetric validates one metric name; empty selects MetricValid.
func ParseMetric(raw string) (Metric, error) {
	switch Metric(strings.ToLower(strings.TrimSpace(raw))) {
	case "", MetricValid:
		return MetricValid, nil
	case MetricTotal:
		return MetricTotal, nil
	case MetricInvalid:
		return MetricInvalid, nil
	default:
		return "", fmt.Errorf("parse metric %q: unsupported", raw)
	}
}

// ParseWindow reads a leaderboard window. Empty and "all" mean all time;
// window words such as "7d" or "月" and positive Go durations are accepted.
func ParseWindow(raw string) (time.Duration, error) {
	word := strings.ToLower(strings.TrimSpace(raw))
	if word == "" || word == "all" {
		return 0, nil
	}
	if window, ok := windowWords[word]; ok {
		return window, nil
	}

	window, err := time.ParseDuration(word)
	if err != nil || window <= 0 {
		return 0, fmt.Errorf("parse window %q: unsupported", raw)
	}

	return window, nil
}

// LeaderboardEntry is one ranked inviter.
type LeaderboardEntry struct {
	InviterID string `json:"inviter_id"`
	Valid     int    `json:"valid"`
	Total     int    `json:"total"`
	Invalid   int    `json:"invalid"`
}

func (e LeaderboardEntry) value(metric Metric) int {
	switch metric {
	case MetricTotal:
		return e.Total
	case MetricInvalid:
		return e.Invalid
	default:
		return e.Valid
	}
}

// ComputeLeaderboard ranks inviters by metric over records joined inside
// [now-window, now]. A zero window counts every record.
//
// Records are visited in first-recorded order and ties keep the order in
// which each inviter first appears.
func ComputeLeaderboard(
	records Records,
	metric Metric,
	window time.Duration,
	now time.Time,
) []LeaderboardEntry {
	windowStart := now.Add(-window)
	entries := make([]LeaderboardEntry, 0)
	index := make(map[string]int)
	for _, record := range records.All() {
		if record.Inviter == "" {
			continue
		}
		if window > 0 {
			joinedAt, ok := ParseTime(record.JoinTime)
			if !ok || joinedAt.Before(windowStart) || joinedAt.After(now) {
				continue
			}
		}

		position, exists := index[record.Inviter]
		if !exists {
			position = len(entries)
			index[record.Inviter] = position
			entries = append(entries, LeaderboardEntry{InviterID: record.Inviter})
		}
		entries[position].Total++
		if record.Leave.Present() {
			entries[position].Valid++
		} else {
			entries[position].Invalid++
		}
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].value(metric) > entries[j].value(metric)
	})
	if len(entries) > LeaderboardLimit {
		entries = entries[:LeaderboardLimit]
	}

	return entries
}
