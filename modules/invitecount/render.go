package invitecount

import (
	"fmt"
	"strings"
	"time"
)

const (
	firstTimeNotice  = "【提示】该用户暂无数据，已帮你新建统计模板！\n"
	footerTimeLayout = "2006/01/02 15:04:05"
	emptyLeaderboard = "无邀请记录\n"
)

// RenderInspect formats a lookup answer as a chat reply.
func RenderInspect(result InspectResult) string {
	var builder strings.Builder
	if result.FirstTime {
		builder.WriteString(firstTimeNotice)
	}

	joinType := string(result.JoinType)
	if joinType == "" {
		joinType = placeholderValue
	}
	joinElapsed := result.JoinElapsed
	if joinElapsed == "" {
		joinElapsed = placeholderValue
	}

	builder.WriteString("====邀请统计====\n\n")
	fmt.Fprintf(&builder, "●被查用户：%s\n", result.Name)
	fmt.Fprintf(&builder, "●用户QQ：%s\n", result.UserID)
	fmt.Fprintf(&builder, "●邀请人：%s\n", result.InviterDisplay)
	fmt.Fprintf(&builder, "●进群方式：%s\n", joinType)
	fmt.Fprintf(&builder, "●进群时间：%s\n", joinElapsed)
	fmt.Fprintf(&builder, "●累计邀请：%d 人\n", result.Stats.TotalInvited)
	fmt.Fprintf(&builder, "●被踢人数：%d 人\n", result.Stats.KickedCount)
	fmt.Fprintf(&builder, "●自己退群：%d 人\n", result.Stats.LeftCount)
	fmt.Fprintf(&builder, "●有效邀请：%d 人\n", result.Stats.ValidInvited)
	builder.WriteString("=================\n\n")
	builder.WriteString(result.GeneratedAt.Format(footerTimeLayout))

	return builder.String()
}

// RenderLeaderboard formats a ranking as a chat reply.
func RenderLeaderboard(metric Metric, window time.Duration, ranked []RankedInviter) string {
	var builder strings.Builder
	builder.WriteString("====邀请排行====\n")
	fmt.Fprintf(&builder, "(%s%s排行，前%d)\n", windowLabel(window), metricLabel(metric), LeaderboardLimit)
	if len(ranked) == 0 {
		builder.WriteString(emptyLeaderboard)
		return builder.String()
	}

	for _, entry := range ranked {
		fmt.Fprintf(&builder,
			"%d. %s(%s) | 有效:%d 总:%d 无效:%d\n",
			entry.Rank,
			entry.Name,
			entry.InviterID,
			entry.Valid,
			entry.Total,
			entry.Invalid,
		)
	}

	return builder.String()
}

// RenderLeaderboardHelp lists the leaderboard command variants.
func RenderLeaderboardHelp() string {
	return strings.Join([]string{
		"====邀请排行 帮助====",
		"/邀请排行              —— 有效邀请排行",
		"/邀请排行 总（或 总人数）—— 总邀请排行",
		"/邀请排行 差（或 无效人数）—— 无效邀请排行（被踢+退群）",
		"/邀请排行 周（或 7天）  —— 仅统计近7天进群",
		"/邀请排行 月（或 30天） —— 仅统计近30天进群",
		"/邀请排行 帮助         —— 显示本帮助",
	}, "\n") + "\n"
}

func metricLabel(metric Metric) string {
	switch metric {
	case MetricTotal:
		return "总邀请"
	case MetricInvalid:
		return "无效邀请"
	default:
		return "有效邀请"
	}
}

func windowLabel(window time.Duration) string {
	if window <= 0 {
		return ""
	}

	return fmt.Sprintf("近%d天", int(window/(24*time.Hour)))
}
