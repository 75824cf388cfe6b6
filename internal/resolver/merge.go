package resolver

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"RecipeAcquisition/internal/domain"
	"RecipeAcquisition/internal/ports"
)

// leaseSet marks ingredient ids that an in-process merge is currently rewriting.
type leaseSet struct {
	mu   sync.Mutex
	held map[int64]struct{}
}

func newLeaseSet() *leaseSet {
	return &leaseSet{held: map[int64]struct{}{}}
}

// acquire takes every id or none of them.
func (l *leaseSet) acquire(ids ...int64) (func(), bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, id := range ids {
		if _, busy := l.held[id]; busy {
			return nil, false
		}
	}
	for _, id := range ids {
		l.held[id] = struct{}{}
	}
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		for _, id := range ids {
			delete(l.held, id)
		}
	}, true
}

// CommitMerge folds source into target: links move to target (or are discarded when
// the recipe already links target), source names become aliases of target, and source
// is deleted. Everything happens in one transaction.
func (r *Resolver) CommitMerge(ctx context.Context, sourceID, targetID int64, initiatedBy string) (domain.MergeOperation, error) {
	if r.catalog == nil {
		return domain.MergeOperation{}, errors.New("merge: catalog is not configured")
	}
	if sourceID == targetID {
		return domain.MergeOperation{}, domain.Invalid("cannot merge ingredient %d into itself", sourceID)
	}

	release, ok := r.leases.acquire(sourceID, targetID)
	if !ok {
		return domain.MergeOperation{}, fmt.Errorf("merge %d into %d: %w", sourceID, targetID, domain.ErrCatalogConflict)
	}
	defer release()

	op := domain.MergeOperation{
		SourceIngredientID: sourceID,
		TargetIngredientID: targetID,
		InitiatedBy:        initiatedBy,
		ExecutedAt:         r.clock.Now().UTC(),
	}

	err := r.catalog.Transactionally(ctx, func(tx ports.CatalogTx) error {
		source, err := tx.GetIngredient(ctx, sourceID)
		if err != nil {
			return fmt.Errorf("load source ingredient: %w", err)
		}
		target, err := tx.GetIngredient(ctx, targetID)
		if err != nil {
			return fmt.Errorf("load target ingredient: %w", err)
		}
		op.SourceName = source.Name

		sourceLinks, err := tx.ListRecipeLinksForIngredient(ctx, sourceID)
		if err != nil {
			return fmt.Errorf("list source links: %w", err)
		}
		targetLinks, err := tx.ListRecipeLinksForIngredient(ctx, targetID)
		if err != nil {
			return fmt.Errorf("list target links: %w", err)
		}
		linked := make(map[int64]struct{}, len(targetLinks))
		for _, l := range targetLinks {
			linked[l.RecipeID] = struct{}{}
		}

		for _, l := range sourceLinks {
			if _, dup := linked[l.RecipeID]; dup {
				if err := tx.DeleteRecipeLink(ctx, l.RecipeID, sourceID); err != nil {
					return fmt.Errorf("discard duplicate link for recipe %d: %w", l.RecipeID, err)
				}
				op.DuplicatesDiscarded++
				continue
			}
			if err := tx.RetargetRecipeLink(ctx, l.RecipeID, sourceID, targetID); err != nil {
				return fmt.Errorf("retarget link for recipe %d: %w", l.RecipeID, err)
			}
		}
		op.AffectedRecipeLinkCount = len(sourceLinks)

		known := map[string]struct{}{Normalize(target.Name): {}}
		for _, a := range target.Aliases {
			known[Normalize(a)] = struct{}{}
		}
		for _, alias := range append([]string{source.Name}, source.Aliases...) {
			alias = strings.TrimSpace(alias)
			key := Normalize(alias)
			if key == "" {
				continue
			}
			if _, ok := known[key]; ok {
				continue
			}
			known[key] = struct{}{}
			if err := tx.AddIngredientAlias(ctx, targetID, alias); err != nil {
				return fmt.Errorf("add alias %q: %w", alias, err)
			}
		}

		if err := tx.DeleteIngredient(ctx, sourceID); err != nil {
			return fmt.Errorf("delete source ingredient: %w", err)
		}

		id, err := tx.InsertMergeOperation(ctx, op)
		if err != nil {
			return fmt.Errorf("record merge: %w", err)
		}
		op.ID = id
		return nil
	})
	if err != nil {
		return domain.MergeOperation{}, fmt.Errorf("merge %d into %d: %w", sourceID, targetID, err)
	}

	r.info("ingredients merged",
		"source_id", sourceID,
		"target_id", targetID,
		"links", op.AffectedRecipeLinkCount,
		"duplicates_discarded", op.DuplicatesDiscarded,
		"initiated_by", initiatedBy)
	return op, nil
}
