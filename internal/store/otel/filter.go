package otel

import (
	"path"
	"slices"
)

// Filter controls which events are exported. Type patterns use path.Match
// syntax, so "command_*" selects every command event.
type Filter struct {
	IncludeTypes      []string
	ExcludeTypes      []string
	IncludeCategories []string
	ExcludeCategories []string
}

// Match reports whether an event should be exported. Includes narrow first,
// then excludes remove.
func (f *Filter) Match(eventType, category string) bool {
	if f == nil {
		return true
	}
	if len(f.IncludeTypes) > 0 && !matchAny(f.IncludeTypes, eventType) {
		return false
	}
	if len(f.IncludeCategories) > 0 && !slices.Contains(f.IncludeCategories, category) {
		return false
	}
	if matchAny(f.ExcludeTypes, eventType) {
		return false
	}
	return !slices.Contains(f.ExcludeCategories, category)
}

func matchAny(patterns []string, s string) bool {
	for _, p := range patterns {
		if ok, _ := path.Match(p, s); ok {
			return true
		}
	}
	return false
}
