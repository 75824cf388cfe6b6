package resolver

import (
	"sort"
	"strings"

	"RecipeAcquisition/internal/domain"
)

// Snapshot is a point-in-time, read-only view of the catalog used for matching.
type Snapshot struct {
	entries []snapshotEntry
	byID    map[int64]int
}

type snapshotEntry struct {
	ingredient domain.Ingredient
	keys       []string
}

// NewSnapshot indexes the given ingredients. The slice is copied.
func NewSnapshot(ingredients []domain.Ingredient) *Snapshot {
	s := &Snapshot{
		entries: make([]snapshotEntry, 0, len(ingredients)),
		byID:    make(map[int64]int, len(ingredients)),
	}

	sorted := append([]domain.Ingredient(nil), ingredients...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return strings.ToLower(sorted[i].Name) < strings.ToLower(sorted[j].Name)
	})

	for _, ing := range sorted {
		seen := map[string]struct{}{}
		var keys []string
		for _, name := range append([]string{ing.Name}, ing.Aliases...) {
			key := Normalize(name)
			if key == "" {
				continue
			}
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			keys = append(keys, key)
		}
		s.byID[ing.ID] = len(s.entries)
		s.entries = append(s.entries, snapshotEntry{ingredient: ing, keys: keys})
	}
	return s
}

// Len returns the number of catalog entries.
func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}
	return len(s.entries)
}

