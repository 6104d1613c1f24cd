package invitecount

import (
	"testing"
	"time"

	"otogi-invite/pkg/otogi"
)

func TestParseLeaderboardArgs(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want leaderboardRequest
	}{
		{name: "default valid", want: leaderboardRequest{Metric: MetricValid}},
		{name: "total", args: []string{"总"}, want: leaderboardRequest{Metric: MetricTotal}},
		{name: "total long form", args: []string{"总人数"}, want: leaderboardRequest{Metric: MetricTotal}},
		{name: "invalid", args: []string{"差"}, want: leaderboardRequest{Metric: MetricInvalid}},
		{name: "invalid long form", args: []string{"无效人数"}, want: leaderboardRequest{Metric: MetricInvalid}},
		{
			name: "window before metric",
			args: []string{"周", "总"},
			want: leaderboardRequest{Metric: MetricTotal, Window: 7 * 24 * time.Hour},
		},
		{
			name: "monthly window",
			args: []string{"30d"},
			want: leaderboardRequest{Metric: MetricValid, Window: 30 * 24 * time.Hour},
		},
		{name: "help wins", args: []string{"总", "帮助"}, want: leaderboardRequest{Help: true}},
		{name: "unknown words ignored", args: []string{"最强"}, want: leaderboardRequest{Metric: MetricValid}},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			if got := parseLeaderboardArgs(testCase.args); got != testCase.want {
				t.Fatalf("parseLeaderboardArgs(%v) = %+v, want %+v", testCase.args, got, testCase.want)
			}
		})
	}
}

func TestQueryTarget(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		mentions     []otogi.Mention
		args         []string
		allowMention bool
		want         string
	}{
		{
			name:         "first mention wins",
			mentions:     []otogi.Mention{{UserID: "1001"}, {UserID: "2002"}},
			args:         []string{"3003"},
			allowMention: true,
			want:         "1001",
		},
		{
			name:         "mention ignored when disabled",
			mentions:     []otogi.Mention{{UserID: "1001"}},
			args:         []string{"3003"},
			allowMention: false,
			want:         "3003",
		},
		{
			name:         "rendered mention token ignored when disabled",
			mentions:     []otogi.Mention{{UserID: "1001"}},
			args:         []string{"@1001"},
			allowMention: false,
			want:         "5005",
		},
		{
			name:         "bare mentioned id ignored when disabled",
			mentions:     []otogi.Mention{{UserID: "1001"}},
			args:         []string{"1001", "3003"},
			allowMention: false,
			want:         "3003",
		},
		{
			name:         "numeric argument with at sign",
			args:         []string{"@4004"},
			allowMention: true,
			want:         "4004",
		},
		{
			name:         "non numeric argument falls back to sender",
			args:         []string{"bob"},
			allowMention: true,
			want:         "5005",
		},
		{
			name:         "no target falls back to sender",
			allowMention: true,
			want:         "5005",
		},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			event := &otogi.Event{
				Kind:    otogi.EventKindCommandReceived,
				Actor:   otogi.Actor{ID: "5005"},
				Article: &otogi.Article{ID: "m1", Mentions: testCase.mentions},
				Command: &otogi.CommandInvocation{Name: commandQuery, Args: testCase.args},
			}
			if got := queryTarget(event, testCase.allowMention); got != testCase.want {
				t.Fatalf("queryTarget() = %q, want %q", got, testCase.want)
			}
		})
	}
}
