package invitecount

import (
	"context"
	"fmt"
	"log/slog"

	"otogi-invite/pkg/otogi"
)

// MemberLookup answers member name lookups for one group.
type MemberLookup interface {
	// Roster returns the full member list of groupID.
	Roster(ctx context.Context, groupID string) ([]otogi.MemberProfile, error)
	// Member returns one member of groupID.
	Member(ctx context.Context, groupID string, userID string) (otogi.MemberProfile, error)
}

// DirectoryLookup adapts an otogi.MemberDirectory to MemberLookup for one sink.
type DirectoryLookup struct {
	Directory otogi.MemberDirectory
	// Sink selects the driver instance; nil lets the directory pick.
	Sink *otogi.EventSource
}

// Roster lists group members through the directory.
func (d DirectoryLookup) Roster(ctx context.Context, groupID string) ([]otogi.MemberProfile, error) {
	if d.Directory == nil {
		return nil, otogi.ErrMemberDirectoryUnsupported
	}

	members, err := d.Directory.ListMembers(ctx, d.target(groupID))
	if err != nil {
		return nil, fmt.Errorf("roster %s: %w", groupID, err)
	}

	return members, nil
}

// Member fetches one group member through the directory.
func (d DirectoryLookup) Member(ctx context.Context, groupID string, userID string) (otogi.MemberProfile, error) {
	if d.Directory == nil {
		return otogi.MemberProfile{}, otogi.ErrMemberDirectoryUnsupported
	}

	member, err := d.Directory.GetMember(ctx, d.target(groupID), userID)
	if err != nil {
		return otogi.MemberProfile{}, fmt.Errorf("member %s in %s: %w", userID, groupID, err)
	}

	return member, nil
}

func (d DirectoryLookup) target(groupID string) otogi.OutboundTarget {
	target := otogi.OutboundTarget{
		Conversation: otogi.Conversation{ID: groupID, Type: otogi.ConversationTypeGroup},
	}
	if d.Sink != nil {
		sink := *d.Sink
		target.Sink = &sink
	}

	return target
}

// NameSource tells where a resolved name came from.
type NameSource string

const (
	// NameSourceRoster means the name came from the group roster.
	NameSourceRoster NameSource = "roster"
	// NameSourceMember means the name came from a single member lookup.
	NameSourceMember NameSource = "member"
	// NameSourceID means nothing resolved and the raw id stands in.
	NameSourceID NameSource = "id"
)

// NameResolution is the outcome of one display-name lookup.
type NameResolution struct {
	Name   string
	Source NameSource
}

// Resolved reports whether a real name was found.
func (r NameResolution) Resolved() bool {
	return r.Source != NameSourceID
}

// nameResolver resolves names within one group and caches the roster for the
// lifetime of one request.
type nameResolver struct {
	lookup  MemberLookup
	logger  *slog.Logger
	groupID string

	rosterLoaded bool
	rosterOK     bool
	roster       []otogi.MemberProfile
}

func newNameResolver(lookup MemberLookup, logger *slog.Logger, groupID string) *nameResolver {
	return &nameResolver{
		lookup:  lookup,
		logger:  logger,
		groupID: groupID,
	}
}

// Roster returns the cached roster, fetching it on first use.
func (r *nameResolver) Roster(ctx context.Context) ([]otogi.MemberProfile, bool) {
	if r.rosterLoaded {
		return r.roster, r.rosterOK
	}
	r.rosterLoaded = true
	if r.lookup == nil || r.groupID == "" {
		return nil, false
	}

	roster, err := r.lookup.Roster(ctx, r.groupID)
	if err != nil {
		r.logUnavailable(ctx, "roster", "", err)
		return nil, false
	}
	r.roster = roster
	r.rosterOK = true

	return roster, true
}

// Resolve tries the roster, then a member lookup, then the raw id.
func (r *nameResolver) Resolve(ctx context.Context, userID string) NameResolution {
	if roster, ok := r.Roster(ctx); ok {
		for _, member := range roster {
			if member.UserID != userID {
				continue
			}
			if name := member.BestName(); name != "" && name != userID {
				return NameResolution{Name: name, Source: NameSourceRoster}
			}
			break
		}
	}

	return r.ResolveMember(ctx, userID)
}

// ResolveMember tries a member lookup, then the raw id.
func (r *nameResolver) ResolveMember(ctx context.Context, userID string) NameResolution {
	fallback := NameResolution{Name: userID, Source: NameSourceID}
	if r.lookup == nil || r.groupID == "" || userID == "" {
		return fallback
	}

	member, err := r.lookup.Member(ctx, r.groupID, userID)
	if err != nil {
		r.logUnavailable(ctx, "member", userID, err)
		return fallback
	}
	if name := member.BestName(); name != "" {
		return NameResolution{Name: name, Source: NameSourceMember}
	}

	return fallback
}

func (r *nameResolver) logUnavailable(ctx context.Context, lookup string, userID string, err error) {
	if r.logger == nil {
		return
	}
	r.logger.DebugContext(ctx,
		"invitecount name lookup unavailable",
		"lookup", lookup,
		"group_id", r.groupID,
		"user_id", userID,
		"error", err,
	)
}

// rosterNames maps every roster member to its best name, falling back to the id.
func rosterNames(roster []otogi.MemberProfile) map[string]string {
	names := make(map[string]string, len(roster))
	for _, member := range roster {
		if member.UserID == "" {
			continue
		}
		name := member.BestName()
		if name == "" {
			name = member.UserID
		}
		names[member.UserID] = name
	}

	return names
}
