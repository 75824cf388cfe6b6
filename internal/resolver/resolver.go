package resolver

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"RecipeAcquisition/internal/clock"
	"RecipeAcquisition/internal/domain"
	"RecipeAcquisition/internal/ports"
)

// Options holds matching thresholds and the unit vocabulary.
type Options struct {
	HighThreshold float64
	LowThreshold  float64
	TopN          int
	Units         []string
}

// DefaultOptions returns the standard thresholds.
func DefaultOptions() Options {
	return Options{HighThreshold: 0.92, LowThreshold: 0.6, TopN: 3}
}

// Deps wires the resolver's collaborators. Only Catalog is required for merges.
type Deps struct {
	Catalog ports.CatalogRepository
	Scorer  Scorer
	Clock   clock.Clock
	Logger  *slog.Logger
}

// Resolver maps free-text ingredient lines onto canonical catalog entries.
type Resolver struct {
	opts    Options
	scorer  Scorer
	parser  *LineParser
	catalog ports.CatalogRepository
	clock   clock.Clock
	leases  *leaseSet
	logger  *slog.Logger
}

// New builds a resolver. Zero option values fall back to DefaultOptions.
func New(opts Options, deps Deps) *Resolver {
	def := DefaultOptions()
	if opts.HighThreshold == 0 {
		opts.HighThreshold = def.HighThreshold
	}
	if opts.LowThreshold == 0 {
		opts.LowThreshold = def.LowThreshold
	}
	if opts.TopN <= 0 {
		opts.TopN = def.TopN
	}
	if deps.Scorer == nil {
		deps.Scorer = Levenshtein{}
	}
	if deps.Clock == nil {
		deps.Clock = clock.Real{}
	}
	return &Resolver{
		opts:    opts,
		scorer:  deps.Scorer,
		parser:  NewLineParser(opts.Units),
		catalog: deps.Catalog,
		clock:   deps.Clock,
		leases:  newLeaseSet(),
		logger:  deps.Logger,
	}
}

// Snapshot reads the current catalog.
func (r *Resolver) Snapshot(ctx context.Context) (*Snapshot, error) {
	if r.catalog == nil {
		return NewSnapshot(nil), nil
	}
	ingredients, err := r.catalog.ListIngredients(ctx)
	if err != nil {
		return nil, fmt.Errorf("load catalog snapshot: %w", err)
	}
	return NewSnapshot(ingredients), nil
}

// ResolveLine parses one raw line and matches its name against the snapshot.
func (r *Resolver) ResolveLine(raw string, snap *Snapshot) domain.IngredientCandidate {
	parsed := r.parser.Parse(raw)
	c := domain.IngredientCandidate{
		RawLine:  raw,
		Quantity: parsed.Quantity,
		Unit:     parsed.Unit,
		Name:     parsed.Name,
		Note:     parsed.Note,
		Optional: parsed.Optional,
		Status:   domain.CandidateUnresolved,
	}
	r.match(&c, snap)
	return c
}

// Rematch recomputes the match for an edited candidate, keeping its parsed parts.
func (r *Resolver) Rematch(c domain.IngredientCandidate, snap *Snapshot) domain.IngredientCandidate {
	c.Status = domain.CandidateUnresolved
	c.MatchedIngredientID = nil
	c.MatchConfidence = 0
	c.Suggestions = nil
	c.NewIngredientName = ""
	r.match(&c, snap)
	return c
}

// ResolveLines resolves every line in order.
func (r *Resolver) ResolveLines(lines []string, snap *Snapshot) []domain.IngredientCandidate {
	out := make([]domain.IngredientCandidate, 0, len(lines))
	for i, line := range lines {
		c := r.ResolveLine(line, snap)
		c.Order = i
		out = append(out, c)
	}
	return out
}

func (r *Resolver) match(c *domain.IngredientCandidate, snap *Snapshot) {
	ranked := r.Rank(c.Name, snap)
	if len(ranked) == 0 {
		return
	}

	best := ranked[0]
	c.MatchConfidence = best.Score
	for _, s := range ranked {
		if s.Score < r.opts.LowThreshold || len(c.Suggestions) == r.opts.TopN {
			break
		}
		c.Suggestions = append(c.Suggestions, s)
	}

	if best.Score >= r.opts.HighThreshold {
		id := best.IngredientID
		c.MatchedIngredientID = &id
		c.Status = domain.CandidateMatched
	}
}

// Rank scores every catalog entry against name. Ties prefer higher usage, then name order.
func (r *Resolver) Rank(name string, snap *Snapshot) []domain.MatchSuggestion {
	query := Normalize(name)
	if query == "" || snap.Len() == 0 {
		return nil
	}

	out := make([]domain.MatchSuggestion, 0, snap.Len())
	for _, e := range snap.entries {
		score := 0.0
		for _, key := range e.keys {
			if s := r.scorer.Score(query, key); s > score {
				score = s
			}
		}
		out = append(out, domain.MatchSuggestion{
			IngredientID: e.ingredient.ID,
			Name:         e.ingredient.Name,
			Score:        score,
			UsageCount:   e.ingredient.UsageCount,
			Source:       "catalog",
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.UsageCount != b.UsageCount {
			return a.UsageCount > b.UsageCount
		}
		an, bn := strings.ToLower(a.Name), strings.ToLower(b.Name)
		if an != bn {
			return an < bn
		}
		return a.IngredientID < b.IngredientID
	})
	return out
}

// FindDuplicates groups catalog entries whose names score at or above threshold.
func (r *Resolver) FindDuplicates(snap *Snapshot, threshold float64) []domain.DuplicateGroup {
	n := snap.Len()
	if n < 2 {
		return nil
	}

	parent := make([]int, n)
	for i := range parent {
		parent[i] = i
	}
	find := func(i int) int {
		for parent[i] != i {
			parent[i] = parent[parent[i]]
			i = parent[i]
		}
		return i
	}

	groupScore := map[int]float64{}
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			score := r.entryScore(snap.entries[i], snap.entries[j])
			if score < threshold {
				continue
			}
			ri, rj := find(i), find(j)
			low := score
			if s, ok := groupScore[ri]; ok && s < low {
				low = s
			}
			if s, ok := groupScore[rj]; ok && s < low {
				low = s
			}
			if ri != rj {
				parent[rj] = ri
				delete(groupScore, rj)
			}
			groupScore[ri] = low
		}
	}

	members := map[int][]domain.Ingredient{}
	var roots []int
	for i := 0; i < n; i++ {
		root := find(i)
		if _, ok := groupScore[root]; !ok {
			continue
		}
		if _, seen := members[root]; !seen {
			roots = append(roots, root)
		}
		members[root] = append(members[root], snap.entries[i].ingredient)
	}

	groups := make([]domain.DuplicateGroup, 0, len(roots))
	for _, root := range roots {
		groups = append(groups, domain.DuplicateGroup{Ingredients: members[root], Score: groupScore[root]})
	}
	return groups
}

func (r *Resolver) entryScore(a, b snapshotEntry) float64 {
	best := 0.0
	for _, ka := range a.keys {
		for _, kb := range b.keys {
			if s := r.scorer.Score(ka, kb); s > best {
				best = s
			}
		}
	}
	return best
}

func (r *Resolver) info(msg string, args ...any) {
	if r.logger != nil {
		r.logger.Info(msg, args...)
	}
}
