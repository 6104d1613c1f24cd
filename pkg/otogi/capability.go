package otogi

import "strings"

// Capability describes what a module can process and what resources it requires.
type Capability struct {
	Name             string
	Description      string
	Interest         InterestSet
	RequiredServices []string
}

// InterestSet describes event selection criteria for capability negotiation.
type InterestSet struct {
	// Kinds restricts matching to the listed event kinds.
	Kinds []EventKind
	// Sources restricts matching to events from the listed driver instances.
	// A source with an empty ID matches every instance of its platform.
	Sources []EventSource
	// RequireArticle requires an article payload.
	RequireArticle bool
	// RequireNotice requires a notice payload.
	RequireNotice bool
	// RequireCommand requires a bound command payload.
	RequireCommand bool
	// CommandNames restricts command events to the listed canonical names.
	CommandNames []string
}

// Matches reports whether an event satisfies the declared interest set.
func (i InterestSet) Matches(event *Event) bool {
	if event == nil {
		return false
	}
	if len(i.Kinds) > 0 && !containsKind(i.Kinds, event.Kind) {
		return false
	}
	if len(i.Sources) > 0 && !sourceMatchesAny(i.Sources, event.Source) {
		return false
	}
	if i.RequireArticle && event.Article == nil {
		return false
	}
	if i.RequireNotice && event.Notice == nil {
		return false
	}
	if i.RequireCommand && event.Command == nil {
		return false
	}
	if len(i.CommandNames) > 0 {
		if event.Command == nil || !containsFolded(i.CommandNames, event.Command.Name) {
			return false
		}
	}

	return true
}

// Allows reports whether this interest set can safely satisfy another filter.
func (i InterestSet) Allows(filter InterestSet) bool {
	if len(i.Kinds) > 0 {
		if len(filter.Kinds) == 0 {
			return false
		}
		for _, kind := range filter.Kinds {
			if !containsKind(i.Kinds, kind) {
				return false
			}
		}
	}
	if len(i.CommandNames) > 0 {
		if len(filter.CommandNames) == 0 {
			return false
		}
		for _, name := range filter.CommandNames {
			if !containsFolded(i.CommandNames, name) {
				return false
			}
		}
	}
	if i.RequireArticle && !filter.RequireArticle {
		return false
	}
	if i.RequireNotice && !filter.RequireNotice {
		return false
	}
	if i.RequireCommand && !filter.RequireCommand {
		return false
	}

	return true
}

func containsKind(kinds []EventKind, target EventKind) bool {
	for _, candidate := range kinds {
		if candidate == target {
			return true
		}
	}

	return false
}

func containsFolded(values []string, target string) bool {
	target = strings.TrimSpace(target)
	for _, candidate := range values {
		if strings.EqualFold(strings.TrimSpace(candidate), target) {
			return true
		}
	}

	return false
}

func sourceMatchesAny(sources []EventSource, source EventSource) bool {
	for _, candidate := range sources {
		if candidate.Platform != "" && candidate.Platform != source.Platform {
			continue
		}
		if candidate.ID != "" && candidate.ID != source.ID {
			continue
		}
		return true
	}

	return false
}
