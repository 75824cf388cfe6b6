package resolver_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"RecipeAcquisition/internal/clock"
	"RecipeAcquisition/internal/config"
	"RecipeAcquisition/internal/domain"
	"RecipeAcquisition/internal/infrastructure/storage"
	"RecipeAcquisition/internal/ports"
	"RecipeAcquisition/internal/resolver"
)

func openCatalog(t *testing.T) *storage.Store {
	t.Helper()
	clk := clock.NewFake(time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC))
	s, err := storage.Open(context.Background(), config.DatabaseConfig{
		Driver: storage.DriverSQLite,
		DSN:    filepath.Join(t.TempDir(), "catalog.db"),
	}, clk, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func addIngredient(t *testing.T, s *storage.Store, name string) int64 {
	t.Helper()
	id, err := s.InsertIngredient(context.Background(), domain.Ingredient{Name: name, NormalizedName: resolver.Normalize(name)})
	require.NoError(t, err)
	return id
}

func addRecipe(t *testing.T, s *storage.Store, name string, ingredientIDs ...int64) int64 {
	t.Helper()
	ctx := context.Background()
	id, err := s.InsertRecipe(ctx, domain.Recipe{DraftID: name, Fields: domain.RecipeFields{Name: name}})
	require.NoError(t, err)
	links := make([]domain.RecipeIngredientLink, 0, len(ingredientIDs))
	for i, ing := range ingredientIDs {
		links = append(links, domain.RecipeIngredientLink{IngredientID: ing, Order: i})
	}
	require.NoError(t, s.UpsertRecipeIngredientLinks(ctx, id, links))
	return id
}

func TestCommitMergeMovesLinksAndDeletesSource(t *testing.T) {
	s := openCatalog(t)
	ctx := context.Background()

	scallion := addIngredient(t, s, "Scallion")
	greenOnion := addIngredient(t, s, "Green Onion")
	addRecipe(t, s, "soup", scallion)
	stirFry := addRecipe(t, s, "stir fry", greenOnion)
	addRecipe(t, s, "pancake", scallion, greenOnion)

	targetBefore, err := s.CountRecipeLinksForIngredient(ctx, scallion)
	require.NoError(t, err)
	sourceBefore, err := s.CountRecipeLinksForIngredient(ctx, greenOnion)
	require.NoError(t, err)

	r := resolver.New(resolver.DefaultOptions(), resolver.Deps{Catalog: s})
	op, err := r.CommitMerge(ctx, greenOnion, scallion, "reviewer")
	require.NoError(t, err)

	assert.Equal(t, sourceBefore, op.AffectedRecipeLinkCount)
	assert.Equal(t, 1, op.DuplicatesDiscarded)
	assert.Equal(t, "Green Onion", op.SourceName)
	assert.NotZero(t, op.ID)

	targetAfter, err := s.CountRecipeLinksForIngredient(ctx, scallion)
	require.NoError(t, err)
	assert.Equal(t, targetBefore+sourceBefore-op.DuplicatesDiscarded, targetAfter)

	_, err = s.GetIngredient(ctx, greenOnion)
	assert.True(t, errors.Is(err, domain.ErrNotFound))

	target, err := s.GetIngredient(ctx, scallion)
	require.NoError(t, err)
	assert.Contains(t, target.Aliases, "Green Onion")

	_, links, err := s.GetRecipe(ctx, stirFry)
	require.NoError(t, err)
	require.Len(t, links, 1)
	assert.Equal(t, scallion, links[0].IngredientID)

	into, ok, err := s.MergedInto(ctx, greenOnion)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, scallion, into)

	snap, err := r.Snapshot(ctx)
	require.NoError(t, err)
	c := r.ResolveLine("2 green onions, sliced", snap)
	require.Equal(t, domain.CandidateMatched, c.Status)
	assert.Equal(t, scallion, *c.MatchedIngredientID)
}

func TestCommitMergeRejectsSelfMerge(t *testing.T) {
	s := openCatalog(t)
	id := addIngredient(t, s, "Salt")

	r := resolver.New(resolver.DefaultOptions(), resolver.Deps{Catalog: s})
	_, err := r.CommitMerge(context.Background(), id, id, "reviewer")
	assert.True(t, errors.Is(err, domain.ErrValidationFailed))
}

func TestCommitMergeMissingSourceLeavesCatalogUntouched(t *testing.T) {
	s := openCatalog(t)
	target := addIngredient(t, s, "Pepper")

	r := resolver.New(resolver.DefaultOptions(), resolver.Deps{Catalog: s})
	_, err := r.CommitMerge(context.Background(), 404, target, "reviewer")
	assert.True(t, errors.Is(err, domain.ErrNotFound))

	ops, err := s.ListMergeOperations(context.Background(), 0)
	require.NoError(t, err)
	assert.Empty(t, ops)
}

// gatedCatalog holds every transaction until released.
type gatedCatalog struct {
	ports.CatalogRepository
	entered chan struct{}
	release chan struct{}
}

func (g *gatedCatalog) Transactionally(ctx context.Context, fn func(tx ports.CatalogTx) error) error {
	g.entered <- struct{}{}
	<-g.release
	return g.CatalogRepository.Transactionally(ctx, fn)
}

func TestCommitMergeConcurrentOverlapConflicts(t *testing.T) {
	s := openCatalog(t)
	a := addIngredient(t, s, "Tomato")
	b := addIngredient(t, s, "Tomatoe")
	c := addIngredient(t, s, "Roma Tomato")

	gate := &gatedCatalog{CatalogRepository: s, entered: make(chan struct{}, 1), release: make(chan struct{})}
	r := resolver.New(resolver.DefaultOptions(), resolver.Deps{Catalog: gate})

	done := make(chan error, 1)
	go func() {
		_, err := r.CommitMerge(context.Background(), b, a, "first")
		done <- err
	}()
	<-gate.entered

	_, err := r.CommitMerge(context.Background(), c, b, "second")
	assert.True(t, errors.Is(err, domain.ErrCatalogConflict), "overlapping merge: %v", err)

	close(gate.release)
	require.NoError(t, <-done)

	_, err = r.CommitMerge(context.Background(), c, a, "third")
	require.NoError(t, err)
}
