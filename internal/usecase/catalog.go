package usecase

import (
	"context"
	"errors"
	"log/slog"

	"RecipeAcquisition/internal/domain"
	"RecipeAcquisition/internal/infrastructure/metrics"
	"RecipeAcquisition/internal/ports"
	"RecipeAcquisition/internal/resolver"
)

// Catalog exposes the ingredient catalog to reviewers: listing, duplicate reports and merges.
type Catalog struct {
	repo               ports.CatalogRepository
	resolver           *resolver.Resolver
	duplicateThreshold float64
	metrics            *metrics.Metrics
	logger             *slog.Logger
}

// NewCatalog builds the catalog use case. A non-positive threshold falls back to 0.85.
func NewCatalog(repo ports.CatalogRepository, r *resolver.Resolver, duplicateThreshold float64, m *metrics.Metrics, logger *slog.Logger) *Catalog {
	if duplicateThreshold <= 0 {
		duplicateThreshold = 0.85
	}
	return &Catalog{repo: repo, resolver: r, duplicateThreshold: duplicateThreshold, metrics: m, logger: logger}
}

// Ingredients lists the catalog with usage counts.
func (c *Catalog) Ingredients(ctx context.Context) ([]domain.Ingredient, error) {
	return c.repo.ListIngredients(ctx)
}

// Duplicates groups catalog entries that look alike. A threshold of zero uses the configured one.
func (c *Catalog) Duplicates(ctx context.Context, threshold float64) ([]domain.DuplicateGroup, error) {
	if threshold <= 0 {
		threshold = c.duplicateThreshold
	}
	snap, err := c.resolver.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return c.resolver.FindDuplicates(snap, threshold), nil
}

// Merge folds source into target.
func (c *Catalog) Merge(ctx context.Context, sourceID, targetID int64, initiatedBy string) (domain.MergeOperation, error) {
	op, err := c.resolver.CommitMerge(ctx, sourceID, targetID, initiatedBy)
	switch {
	case err == nil:
		c.metrics.Merge("merged")
	case errors.Is(err, domain.ErrCatalogConflict):
		c.metrics.Merge("conflict")
	default:
		c.metrics.Merge("failed")
	}
	if err != nil && c.logger != nil {
		c.logger.Warn("merge failed", "source_id", sourceID, "target_id", targetID, "error", err)
	}
	return op, err
}

// Merges lists recent merge operations, newest first.
func (c *Catalog) Merges(ctx context.Context, limit int) ([]domain.MergeOperation, error) {
	return c.repo.ListMergeOperations(ctx, limit)
}

// Recipe loads a committed recipe with its ingredient links.
func (c *Catalog) Recipe(ctx context.Context, id int64) (domain.Recipe, []domain.RecipeIngredientLink, error) {
	return c.repo.GetRecipe(ctx, id)
}
