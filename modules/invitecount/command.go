package invitecount

import (
	"strings"
	"time"

	"otogi-invite/pkg/otogi"
)

const (
	commandQuery       = "邀请查询"
	commandSelf        = "我的邀请"
	commandLeaderboard = "邀请排行"
	commandReward      = "邀请奖励"
)

var inviteCommands = []otogi.CommandSpec{
	{
		Prefix:      otogi.CommandPrefixOrdinary,
		Name:        commandQuery,
		Aliases:     []string{"invite"},
		Usage:       "[@成员|QQ号]",
		Description: "查询成员的邀请统计",
	},
	{
		Prefix:      otogi.CommandPrefixOrdinary,
		Name:        commandSelf,
		Aliases:     []string{"myinvite"},
		Description: "查询自己的邀请统计",
	},
	{
		Prefix:      otogi.CommandPrefixOrdinary,
		Name:        commandLeaderboard,
		Aliases:     []string{"inviterank"},
		Usage:       "[总|差|帮助] [周|月]",
		Description: "查看邀请排行",
	},
	{
		Prefix:      otogi.CommandPrefixOrdinary,
		Name:        commandReward,
		Aliases:     []string{"invitereward"},
		Description: "查看邀请奖励说明",
	},
}

func commandNames() []string {
	names := make([]string, 0, len(inviteCommands))
	for _, spec := range inviteCommands {
		names = append(names, spec.Name)
	}

	return names
}

// leaderboardRequest is one parsed leaderboard command.
type leaderboardRequest struct {
	Metric Metric
	Window time.Duration
	Help   bool
}

var (
	metricWords = map[string]Metric{
		"总":       MetricTotal,
		"全部":      MetricTotal,
		"all":     MetricTotal,
		"人数":      MetricTotal,
		"总人数":     MetricTotal,
		"total":   MetricTotal,
		"差":       MetricInvalid,
		"失效":      MetricInvalid,
		"无效":      MetricInvalid,
		"无效人数":    MetricInvalid,
		"invalid": MetricInvalid,
		"有效":      MetricValid,
		"valid":   MetricValid,
	}
	windowWords = map[string]time.Duration{
		"周":   7 * 24 * time.Hour,
		"7":   7 * 24 * time.Hour,
		"7d":  7 * 24 * time.Hour,
		"7天":  7 * 24 * time.Hour,
		"月":   30 * 24 * time.Hour,
		"30":  30 * 24 * time.Hour,
		"30d": 30 * 24 * time.Hour,
		"30天": 30 * 24 * time.Hour,
	}
	helpWords = map[string]struct{}{
		"帮助":   {},
		"help": {},
		"h":    {},
		"?":    {},
		"？":    {},
	}
)

// parseLeaderboardArgs reads metric and window words in any order.
// Unknown words are ignored and leave the valid metric in place.
func parseLeaderboardArgs(args []string) leaderboardRequest {
	request := leaderboardRequest{Metric: MetricValid}
	for _, arg := range args {
		word := strings.ToLower(strings.TrimSpace(arg))
		if word == "" {
			continue
		}
		if _, ok := helpWords[word]; ok {
			return leaderboardRequest{Help: true}
		}
		if metric, ok := metricWords[word]; ok {
			request.Metric = metric
			continue
		}
		if window, ok := windowWords[word]; ok {
			request.Window = window
		}
	}

	return request
}

// queryTarget picks the lookup target: the first mention, then a numeric
// argument, then the sender. With mentions disallowed, argument tokens that
// render a mention ("@<id>" or a mentioned id) are skipped too.
func queryTarget(event *otogi.Event, allowMention bool) string {
	var mentioned map[string]struct{}
	if event.Article != nil {
		for _, mention := range event.Article.Mentions {
			if mention.UserID == "" {
				continue
			}
			if allowMention {
				return mention.UserID
			}
			if mentioned == nil {
				mentioned = make(map[string]struct{}, len(event.Article.Mentions))
			}
			mentioned[mention.UserID] = struct{}{}
		}
	}
	if event.Command != nil {
		for _, arg := range event.Command.Args {
			candidate := strings.TrimSpace(arg)
			if allowMention {
				candidate = strings.TrimPrefix(candidate, "@")
			}
			if _, ok := mentioned[candidate]; ok {
				continue
			}
			if isNumericID(candidate) {
				return candidate
			}
		}
	}

	return event.Actor.ID
}

func isNumericID(value string) bool {
	if value == "" {
		return false
	}
	for _, r := range value {
		if r < '0' || r > '9' {
			return false
		}
	}

	return true
}
