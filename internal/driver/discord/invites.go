package discord

import (
	"sync"

	"github.com/bwmarrin/discordgo"
)

type inviteUse struct {
	uses    int
	maxUses int
	inviter *discordgo.User
}

// InviteTracker keeps per-guild invite use counters so a join can be
// attributed to the invite whose counter moved.
type InviteTracker struct {
	mu      sync.Mutex
	byGuild map[string]map[string]inviteUse
}

// NewInviteTracker creates an empty tracker.
func NewInviteTracker() *InviteTracker {
	return &InviteTracker{byGuild: make(map[string]map[string]inviteUse)}
}

// Snapshot replaces the stored counters of one guild.
func (t *InviteTracker) Snapshot(guildID string, invites []*discordgo.Invite) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.byGuild[guildID] = indexInvites(invites)
}

// Track adds a freshly created invite with its current counter.
func (t *InviteTracker) Track(guildID string, invite *discordgo.Invite) {
	if invite == nil || invite.Code == "" {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	codes, ok := t.byGuild[guildID]
	if !ok {
		codes = make(map[string]inviteUse)
		t.byGuild[guildID] = codes
	}
	codes[invite.Code] = inviteUse{uses: invite.Uses, maxUses: invite.MaxUses, inviter: invite.Inviter}
}

// Attribute compares current invites with the stored snapshot and returns the
// inviter when exactly one invite explains the join. The snapshot is replaced
// either way.
func (t *InviteTracker) Attribute(guildID string, current []*discordgo.Invite) (*discordgo.User, bool) {
	next := indexInvites(current)

	t.mu.Lock()
	previous := t.byGuild[guildID]
	t.byGuild[guildID] = next
	t.mu.Unlock()

	if previous == nil {
		return nil, false
	}

	var candidates []*discordgo.User
	for code, now := range next {
		before, seen := previous[code]
		if (seen && now.uses > before.uses) || (!seen && now.uses > 0) {
			candidates = append(candidates, now.inviter)
		}
	}
	if len(candidates) == 0 {
		// A limited invite that just hit its cap disappears from the list.
		for code, before := range previous {
			if _, still := next[code]; !still && before.maxUses > 0 && before.uses+1 >= before.maxUses {
				candidates = append(candidates, before.inviter)
			}
		}
	}

	if len(candidates) != 1 || candidates[0] == nil {
		return nil, false
	}

	return candidates[0], true
}

func indexInvites(invites []*discordgo.Invite) map[string]inviteUse {
	out := make(map[string]inviteUse, len(invites))
	for _, invite := range invites {
		if invite == nil || invite.Code == "" {
			continue
		}
		out[invite.Code] = inviteUse{uses: invite.Uses, maxUses: invite.MaxUses, inviter: invite.Inviter}
	}

	return out
}
