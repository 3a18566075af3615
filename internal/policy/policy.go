package policy

import (
	"sort"

	"github.com/marib00/flashcard-app/internal/domain"
)

// BatchSize is the fixed number of cards requested per fetch.
const BatchSize = 5

// FetchSpec describes one batch request against the card store. It is a
// pure value produced by Resolve; the fetch layer interprets it.
//
// Auto preset: cards strictly ordered by next review time ascending,
// falling back to never-reviewed cards when nothing is due.
// Custom preset: the per-class levels are carried verbatim; classes at
// Off must never be returned, and an empty result is a legitimate
// terminal state rather than a trigger for any fallback.
type FetchSpec struct {
	Preset        domain.Preset
	Limit         int
	ExcludeCardID int64 // 0 means no exclusion
	Levels        [5]domain.PriorityLevel
}

// Resolve builds the fetch request for the next batch. All card fetches
// go through here; nothing issues ad-hoc requests.
func Resolve(cfg domain.PriorityConfig, excludeCardID int64) FetchSpec {
	spec := FetchSpec{
		Preset:        cfg.Preset,
		Limit:         BatchSize,
		ExcludeCardID: excludeCardID,
	}
	if cfg.Preset == domain.PresetCustom {
		for _, class := range domain.Classes() {
			spec.Levels[class] = cfg.Level(class)
		}
	}
	return spec
}

// Allows reports whether a class participates in custom selection.
func (s FetchSpec) Allows(class domain.CardClass) bool {
	return s.Levels[class] != domain.PriorityOff
}

// LevelGroup is a set of classes sharing one priority level.
type LevelGroup struct {
	Level   domain.PriorityLevel
	Classes []domain.CardClass
}

// LevelGroups returns the custom-selection walk order: classes grouped
// by their level, highest level first, Off classes excluded. Within a
// group, classes keep declaration order (new, again, hard, good, easy).
func (s FetchSpec) LevelGroups() []LevelGroup {
	byLevel := make(map[domain.PriorityLevel][]domain.CardClass)
	for _, class := range domain.Classes() {
		level := s.Levels[class]
		if level == domain.PriorityOff {
			continue
		}
		byLevel[level] = append(byLevel[level], class)
	}

	groups := make([]LevelGroup, 0, len(byLevel))
	for level, classes := range byLevel {
		groups = append(groups, LevelGroup{Level: level, Classes: classes})
	}
	sort.Slice(groups, func(i, j int) bool {
		return groups[i].Level > groups[j].Level
	})
	return groups
}
