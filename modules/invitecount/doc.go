// Package invitecount records who invited whom into a group chat and answers
// lookups and rankings over that history. Membership notices from any driver
// dialect are normalized, applied to a write-through ledger, and aggregated on
// demand for the `/邀请查询`, `/我的邀请`, `/邀请排行` and `/邀请奖励` commands.
package invitecount
