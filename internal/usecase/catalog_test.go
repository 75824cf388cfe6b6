package usecase

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"RecipeAcquisition/internal/domain"
)

func TestCatalogDuplicatesAndMerge(t *testing.T) {
	e := newEnv(t)
	ids := e.seed(t, "Tomato", "Tomatoe", "Basil")
	ctx := context.Background()

	groups, err := e.catalog.Duplicates(ctx, 0)
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Len(t, groups[0].Ingredients, 2)

	op, err := e.catalog.Merge(ctx, ids[1], ids[0], "ana")
	require.NoError(t, err)
	assert.Equal(t, "Tomatoe", op.SourceName)

	_, err = e.catalog.Merge(ctx, ids[2], ids[2], "ana")
	assert.True(t, errors.Is(err, domain.ErrValidationFailed))

	merges, err := e.catalog.Merges(ctx, 10)
	require.NoError(t, err)
	require.Len(t, merges, 1)

	all, err := e.catalog.Ingredients(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	count, err := testutil.GatherAndCount(e.metrics.Registry(), "recipe_acquisition_ingredient_merges_total")
	require.NoError(t, err)
	assert.Equal(t, 2, count, "one series per merge result")
}
