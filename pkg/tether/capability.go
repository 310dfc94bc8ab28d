package tether

import "slices"

// Capability describes what a module can process and what resources it requires.
type Capability struct {
	Name             string
	Description      string
	Interest         InterestSet
	RequiredServices []string
}

// InterestSet describes event selection criteria for capability negotiation.
type InterestSet struct {
	// Kinds restricts delivery to the listed event kinds.
	Kinds []EventKind
	// Sources restricts delivery to events from the listed driver instances.
	Sources []EventSource
	// Commands restricts command.received delivery to the listed command names.
	Commands []string
	// RequireMutation requires a mutation payload.
	RequireMutation bool
	// RequireInteraction requires an interaction payload.
	RequireInteraction bool
}

// Matches reports whether an event satisfies the declared interest set.
func (i InterestSet) Matches(event *Event) bool {
	if event == nil {
		return false
	}
	if len(i.Kinds) > 0 && !slices.Contains(i.Kinds, event.Kind) {
		return false
	}
	if len(i.Sources) > 0 && !sourceMatches(i.Sources, event.Source) {
		return false
	}
	if len(i.Commands) > 0 {
		if event.Command == nil || !slices.Contains(i.Commands, event.Command.Name) {
			return false
		}
	}
	if i.RequireMutation && event.Mutation == nil {
		return false
	}
	if i.RequireInteraction && event.Interaction == nil {
		return false
	}

	return true
}

// Allows reports whether this interest set can safely satisfy another filter.
func (i InterestSet) Allows(filter InterestSet) bool {
	if len(i.Kinds) > 0 && !allIncluded(filter.Kinds, i.Kinds) {
		return false
	}
	if len(i.Commands) > 0 && !allIncluded(filter.Commands, i.Commands) {
		return false
	}
	if i.RequireMutation && !filter.RequireMutation {
		return false
	}
	if i.RequireInteraction && !filter.RequireInteraction {
		return false
	}

	return true
}

// sourceMatches treats an empty platform or ID in a filter entry as a wildcard.
func sourceMatches(filters []EventSource, source EventSource) bool {
	for _, filter := range filters {
		if filter.Platform != "" && filter.Platform != source.Platform {
			continue
		}
		if filter.ID != "" && filter.ID != source.ID {
			continue
		}
		return true
	}

	return false
}

func allIncluded[T comparable](subset, allowed []T) bool {
	if len(subset) == 0 {
		return false
	}
	for _, item := range subset {
		if !slices.Contains(allowed, item) {
			return false
		}
	}

	return true
}
