package usecase

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"RecipeAcquisition/internal/domain"
	"RecipeAcquisition/internal/ports"
)

func strPtr(s string) *string { return &s }
func intPtr(i int) *int       { return &i }

func TestReviewAndCommitHappyPath(t *testing.T) {
	e := newEnv(t)
	ids := e.seed(t, "Flour", "Salt")
	ctx := context.Background()
	draft := e.acquirePasta(t)

	_, err := e.workflow.UpdateFields(ctx, draft.ID, FieldEdit{Cuisine: strPtr("Italian")})
	assert.True(t, errors.Is(err, domain.ErrValidationFailed), "edits need an open draft")

	draft, err = e.workflow.Open(ctx, draft.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.DraftUnderReview, draft.Status)

	draft, err = e.workflow.UpdateFields(ctx, draft.ID, FieldEdit{Cuisine: strPtr(" Italian "), Servings: intPtr(6)})
	require.NoError(t, err)
	assert.Equal(t, "Italian", draft.Fields.Cuisine)
	assert.Equal(t, 1.0, draft.FieldConfidence[domain.FieldCuisine])

	_, err = e.workflow.Validate(ctx, draft.ID)
	var verr *domain.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Contains(t, verr.Problems, "1 ingredient line(s) are unresolved")

	draft, err = e.workflow.Decide(ctx, draft.ID, 2, Decision{Kind: DecisionCreateNew, Name: "egg"})
	require.NoError(t, err)
	assert.Equal(t, domain.CandidateCreatedNew, draft.Candidates[2].Status)

	draft, err = e.workflow.Validate(ctx, draft.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.DraftValidated, draft.Status)

	recipe, err := e.workflow.Commit(ctx, draft.ID)
	require.NoError(t, err)
	assert.NotZero(t, recipe.ID)

	stored, links, err := e.catalog.Recipe(ctx, recipe.ID)
	require.NoError(t, err)
	assert.Equal(t, "Weeknight Pasta", stored.Fields.Name)
	assert.Equal(t, 6, stored.Fields.Servings)
	require.Len(t, links, 3)
	assert.Equal(t, ids[0], links[0].IngredientID)
	assert.Equal(t, ids[1], links[1].IngredientID)

	egg, err := e.store.FindIngredientsByNormalizedName(ctx, "egg")
	require.NoError(t, err)
	require.Len(t, egg, 1)
	assert.Equal(t, "Egg", egg[0].Name)
	assert.Equal(t, "protein", egg[0].Category)
	assert.Equal(t, egg[0].ID, links[2].IngredientID)

	final, err := e.workflow.Get(ctx, draft.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.DraftCommitted, final.Status)
	assert.Equal(t, recipe.ID, final.RecipeID)

	_, err = e.workflow.Commit(ctx, draft.ID)
	assert.True(t, errors.Is(err, domain.ErrValidationFailed))
	_, err = e.workflow.Reject(ctx, draft.ID)
	assert.True(t, errors.Is(err, domain.ErrValidationFailed))
}

func TestOpenIsIdempotent(t *testing.T) {
	e := newEnv(t)
	e.seed(t, "Flour", "Salt", "Egg")
	ctx := context.Background()
	draft := e.acquirePasta(t)

	_, err := e.workflow.Open(ctx, draft.ID)
	require.NoError(t, err)
	_, err = e.workflow.UpdateFields(ctx, draft.ID, FieldEdit{Description: strPtr("Family favourite")})
	require.NoError(t, err)

	again, err := e.workflow.Open(ctx, draft.ID)
	require.NoError(t, err)
	assert.Equal(t, "Family favourite", again.Fields.Description)
}

func TestReopenOnlyFromValidated(t *testing.T) {
	e := newEnv(t)
	e.seed(t, "Flour", "Salt", "Egg")
	ctx := context.Background()
	draft := e.acquirePasta(t)

	_, err := e.workflow.Reopen(ctx, draft.ID)
	assert.True(t, errors.Is(err, domain.ErrValidationFailed), "extracted drafts are opened, not reopened")

	_, err = e.workflow.Open(ctx, draft.ID)
	require.NoError(t, err)
	_, err = e.workflow.Reopen(ctx, draft.ID)
	assert.True(t, errors.Is(err, domain.ErrValidationFailed), "already under review")

	validated, err := e.workflow.Validate(ctx, draft.ID)
	require.NoError(t, err)
	require.Equal(t, domain.DraftValidated, validated.Status)

	_, err = e.workflow.Open(ctx, draft.ID)
	assert.True(t, errors.Is(err, domain.ErrValidationFailed), "open does not leave validated")

	reopened, err := e.workflow.Reopen(ctx, draft.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.DraftUnderReview, reopened.Status)

	_, err = e.workflow.UpdateFields(ctx, draft.ID, FieldEdit{Servings: intPtr(2)})
	require.NoError(t, err)
}

func TestRejectOnlyBeforeValidation(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	draft := e.acquirePasta(t)

	rejected, err := e.workflow.Reject(ctx, draft.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.DraftRejected, rejected.Status)

	_, err = e.workflow.Open(ctx, draft.ID)
	assert.True(t, errors.Is(err, domain.ErrValidationFailed), "rejected is terminal")
}

func TestDecisions(t *testing.T) {
	e := newEnv(t)
	ids := e.seed(t, "Flour", "Salt", "Eggplant")
	ctx := context.Background()
	draft := e.acquirePasta(t)
	_, err := e.workflow.Open(ctx, draft.ID)
	require.NoError(t, err)

	_, err = e.workflow.Decide(ctx, draft.ID, 9, Decision{Kind: DecisionCreateNew})
	assert.True(t, errors.Is(err, domain.ErrValidationFailed))
	_, err = e.workflow.Decide(ctx, draft.ID, 0, Decision{Kind: "guess"})
	assert.True(t, errors.Is(err, domain.ErrValidationFailed))

	draft, err = e.workflow.Decide(ctx, draft.ID, 2, Decision{Kind: DecisionChooseAlternate, IngredientID: ids[2]})
	require.NoError(t, err)
	assert.Equal(t, domain.CandidateMatched, draft.Candidates[2].Status)
	assert.Equal(t, ids[2], *draft.Candidates[2].MatchedIngredientID)

	_, err = e.workflow.Decide(ctx, draft.ID, 2, Decision{Kind: DecisionChooseAlternate, IngredientID: 999})
	assert.True(t, errors.Is(err, domain.ErrNotFound))

	qty := 3.0
	draft, err = e.workflow.Decide(ctx, draft.ID, 2, Decision{Kind: DecisionManualOverride, Name: "duck eggs", Quantity: &qty, Unit: "whole"})
	require.NoError(t, err)
	c := draft.Candidates[2]
	assert.Equal(t, domain.CandidateUserOverridden, c.Status)
	assert.Nil(t, c.MatchedIngredientID)
	assert.Equal(t, "duck eggs", c.NewIngredientName)
	assert.Equal(t, 3.0, *c.Quantity)

	draft, err = e.workflow.Decide(ctx, draft.ID, 2, Decision{Kind: DecisionManualOverride, Name: " SALT ", Unit: "pinch"})
	require.NoError(t, err)
	c = draft.Candidates[2]
	assert.Equal(t, domain.CandidateUserOverridden, c.Status)
	require.NotNil(t, c.MatchedIngredientID, "a typed name already in the catalog links to it")
	assert.Equal(t, ids[1], *c.MatchedIngredientID)
	assert.Empty(t, c.NewIngredientName)
	assert.Equal(t, "pinch", c.Unit)

	draft, err = e.workflow.Decide(ctx, draft.ID, 0, Decision{Kind: DecisionAcceptSuggestion})
	require.NoError(t, err)
	assert.Equal(t, ids[0], *draft.Candidates[0].MatchedIngredientID)

	_, err = e.workflow.Decide(ctx, draft.ID, 0, Decision{Kind: DecisionAcceptSuggestion, IngredientID: ids[2]})
	assert.True(t, errors.Is(err, domain.ErrValidationFailed), "not a suggestion for flour")
}

func TestReplaceIngredientLinesReresolves(t *testing.T) {
	e := newEnv(t)
	e.seed(t, "Flour", "Salt")
	ctx := context.Background()
	draft := e.acquirePasta(t)
	_, err := e.workflow.Open(ctx, draft.ID)
	require.NoError(t, err)

	draft, err = e.workflow.ReplaceIngredientLines(ctx, draft.ID, []string{"3 cups flour", "", "a pinch of salt"})
	require.NoError(t, err)
	assert.Equal(t, []string{"3 cups flour", "a pinch of salt"}, draft.RawIngredientLines)
	require.Len(t, draft.Candidates, 2)
	assert.Equal(t, 1, draft.Candidates[1].Order)
	assert.Equal(t, domain.CandidateMatched, draft.Candidates[0].Status)
}

func TestCommitFollowsMergesAndFoldsDuplicateLines(t *testing.T) {
	e := newEnv(t)
	ids := e.seed(t, "Flour", "Salt", "Egg", "Plain Flour")
	ctx := context.Background()

	draft, err := e.pipeline.CreateManualDraft(ctx, ManualEntry{
		Fields:          domain.RecipeFields{Name: "Bread", Instructions: "Knead and bake."},
		IngredientLines: []string{"500 g plain flour", "1 tsp salt", "50 g flour, for dusting"},
	})
	require.NoError(t, err)
	require.Equal(t, ids[3], *draft.Candidates[0].MatchedIngredientID)

	_, err = e.workflow.Open(ctx, draft.ID)
	require.NoError(t, err)
	_, err = e.workflow.Validate(ctx, draft.ID)
	require.NoError(t, err)

	// The reviewed draft still points at "Plain Flour"; merging it away must not break the commit.
	_, err = e.catalog.Merge(ctx, ids[3], ids[0], "ana")
	require.NoError(t, err)

	recipe, err := e.workflow.Commit(ctx, draft.ID)
	require.NoError(t, err)

	_, links, err := e.catalog.Recipe(ctx, recipe.ID)
	require.NoError(t, err)
	require.Len(t, links, 2)
	assert.Equal(t, ids[0], links[0].IngredientID)
	assert.Equal(t, "also: 50 g flour, for dusting", links[0].Note)
	assert.Equal(t, ids[1], links[1].IngredientID)
}

type failingCatalog struct {
	ports.CatalogRepository
	failures int
	err      error
	attempts int
}

func (f *failingCatalog) Transactionally(ctx context.Context, fn func(tx ports.CatalogTx) error) error {
	f.attempts++
	if f.attempts <= f.failures {
		return f.err
	}
	return f.CatalogRepository.Transactionally(ctx, fn)
}

func validatedDraft(t *testing.T, e *env) domain.RecipeDraft {
	t.Helper()
	ctx := context.Background()
	draft := e.acquirePasta(t)
	_, err := e.workflow.Open(ctx, draft.ID)
	require.NoError(t, err)
	validated, err := e.workflow.Validate(ctx, draft.ID)
	require.NoError(t, err)
	return validated
}

func TestCommitFailureKeepsDraftValidated(t *testing.T) {
	e := newEnv(t)
	e.seed(t, "Flour", "Salt", "Egg")
	ctx := context.Background()
	draft := validatedDraft(t, e)

	broken := &failingCatalog{CatalogRepository: e.store, failures: 10, err: errors.New("disk full")}
	wf := NewWorkflow(WorkflowDeps{Drafts: e.store, Catalog: broken, Resolver: e.resolver, Clock: e.clock})

	_, err := wf.Commit(ctx, draft.ID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrCommitFailure))
	assert.Equal(t, 1, broken.attempts, "only conflicts are retried")

	after, err := e.workflow.Get(ctx, draft.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.DraftValidated, after.Status)
	assert.Contains(t, after.LastError, "disk full")
	assert.Equal(t, draft.Fields, after.Fields)
}

func TestCommitRetriesConflictOnce(t *testing.T) {
	e := newEnv(t)
	e.seed(t, "Flour", "Salt", "Egg")
	ctx := context.Background()

	draft := validatedDraft(t, e)
	flaky := &failingCatalog{CatalogRepository: e.store, failures: 1, err: fmt.Errorf("busy: %w", domain.ErrCatalogConflict)}
	wf := NewWorkflow(WorkflowDeps{Drafts: e.store, Catalog: flaky, Resolver: e.resolver, Clock: e.clock})
	_, err := wf.Commit(ctx, draft.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, flaky.attempts)

	draft = validatedDraft(t, e)
	stuck := &failingCatalog{CatalogRepository: e.store, failures: 2, err: fmt.Errorf("busy: %w", domain.ErrCatalogConflict)}
	wf = NewWorkflow(WorkflowDeps{Drafts: e.store, Catalog: stuck, Resolver: e.resolver, Clock: e.clock})
	_, err = wf.Commit(ctx, draft.ID)
	assert.True(t, errors.Is(err, domain.ErrCommitFailure))
	assert.True(t, errors.Is(err, domain.ErrCatalogConflict))
	assert.Equal(t, 2, stuck.attempts)
}

// Whatever mix of candidate statuses a validated draft carries, it only commits when
// every candidate is resolved.
func TestNoCommitWithUnresolvedCandidates(t *testing.T) {
	e := newEnv(t)
	ids := e.seed(t, "Flour")
	ctx := context.Background()
	rng := rand.New(rand.NewSource(42))
	statuses := []domain.CandidateStatus{
		domain.CandidateUnresolved,
		domain.CandidateMatched,
		domain.CandidateCreatedNew,
		domain.CandidateUserOverridden,
	}

	for i := 0; i < 40; i++ {
		n := 1 + rng.Intn(5)
		candidates := make([]domain.IngredientCandidate, n)
		for j := range candidates {
			c := domain.IngredientCandidate{Order: j, RawLine: fmt.Sprintf("item %d", j), Name: fmt.Sprintf("item %d", j)}
			c.Status = statuses[rng.Intn(len(statuses))]
			switch c.Status {
			case domain.CandidateMatched, domain.CandidateUserOverridden:
				c.MatchedIngredientID = &ids[0]
			case domain.CandidateCreatedNew:
				c.NewIngredientName = fmt.Sprintf("thing %d", j)
			}
			candidates[j] = c
		}
		draft := domain.RecipeDraft{
			ID:         fmt.Sprintf("prop-%d", i),
			Status:     domain.DraftValidated,
			Fields:     domain.RecipeFields{Name: "Prop", Instructions: "Stir."},
			Candidates: candidates,
		}
		require.NoError(t, e.store.CreateDraft(ctx, draft))

		_, err := e.workflow.Commit(ctx, draft.ID)
		after, getErr := e.workflow.Get(ctx, draft.ID)
		require.NoError(t, getErr)

		if draft.UnresolvedCount() > 0 {
			assert.True(t, errors.Is(err, domain.ErrValidationFailed), "draft %s: %v", draft.ID, err)
			assert.Equal(t, domain.DraftValidated, after.Status)
			assert.Zero(t, after.RecipeID)
		} else {
			assert.NoError(t, err, "draft %s", draft.ID)
			assert.Equal(t, domain.DraftCommitted, after.Status)
		}
	}
}

func TestProblemsRangeChecks(t *testing.T) {
	d := domain.RecipeDraft{
		Fields:     domain.RecipeFields{Name: "Stew", Instructions: "Simmer.", Servings: 80, PrepMinutes: 601, CookMinutes: 2000},
		Candidates: []domain.IngredientCandidate{{Status: domain.CandidateCreatedNew, NewIngredientName: "beef"}},
	}
	assert.Equal(t, []string{
		"servings must be between 1 and 50",
		"prep time must be between 0 and 600 minutes",
		"cook time must be between 0 and 1440 minutes",
	}, Problems(d))

	assert.Len(t, Problems(domain.RecipeDraft{}), 3)
}
