package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"RecipeAcquisition/internal/domain"
)

func TestAcquireBuildsDraftWithResolvedCandidates(t *testing.T) {
	e := newEnv(t)
	ids := e.seed(t, "Flour", "Salt")
	ctx := context.Background()

	job, draft, err := e.pipeline.Acquire(ctx, domain.FetchRequest{URL: "https://example.com/pasta", RequestedBy: "ana"})
	require.NoError(t, err)

	assert.Equal(t, domain.JobFetched, job.Status)
	assert.Equal(t, draft.ID, job.DraftID)
	assert.Equal(t, job.ID, draft.JobID)
	assert.Equal(t, domain.DraftExtracted, draft.Status)
	assert.Equal(t, "Weeknight Pasta", draft.Fields.Name)

	require.Len(t, draft.Candidates, 3)
	flour := draft.Candidates[0]
	assert.Equal(t, domain.CandidateMatched, flour.Status)
	assert.Equal(t, ids[0], *flour.MatchedIngredientID)
	assert.Equal(t, "cups", flour.Unit)
	assert.Equal(t, "sifted", flour.Note)
	assert.Equal(t, domain.CandidateMatched, draft.Candidates[1].Status)
	assert.Equal(t, domain.CandidateUnresolved, draft.Candidates[2].Status)
	assert.Empty(t, draft.Candidates[2].Suggestions)

	stored, err := e.store.GetDraft(ctx, draft.ID)
	require.NoError(t, err)
	assert.Equal(t, draft.Candidates, stored.Candidates)

	savedJob, err := e.pipeline.Job(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobFetched, savedJob.Status)
}

func TestAcquireRecordsFetchCause(t *testing.T) {
	e := newEnv(t)
	e.fetcher.errs["https://blocked.example/recipes/1"] = domain.NewFetchError(domain.ErrRobotsDisallowed, "https://blocked.example/recipes/1", "blocked.example", nil)

	job, _, err := e.pipeline.Acquire(context.Background(), domain.FetchRequest{URL: "https://blocked.example/recipes/1"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrRobotsDisallowed))
	assert.Equal(t, domain.JobFailed, job.Status)
	assert.Equal(t, domain.CauseBlocked, job.Cause)

	drafts, err := e.workflow.List(context.Background(), "", 0)
	require.NoError(t, err)
	assert.Empty(t, drafts)
}

func TestRescrapeCreatesIndependentDraft(t *testing.T) {
	e := newEnv(t)
	first := e.acquirePasta(t)
	second := e.acquirePasta(t)
	assert.NotEqual(t, first.ID, second.ID)

	drafts, err := e.workflow.List(context.Background(), domain.DraftExtracted, 0)
	require.NoError(t, err)
	assert.Len(t, drafts, 2)
}

func TestSubmitThenCancel(t *testing.T) {
	e := newEnv(t)
	e.fetcher.block = true
	e.fetcher.entered = make(chan struct{}, 1)
	ctx := context.Background()

	job, err := e.pipeline.Submit(ctx, domain.FetchRequest{URL: "https://slow.example/stew", RequestedBy: "ana"})
	require.NoError(t, err)
	assert.Equal(t, domain.JobPending, job.Status)

	select {
	case <-e.fetcher.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("fetch never started")
	}
	require.NoError(t, e.pipeline.Cancel(ctx, job.ID))
	e.pipeline.Wait()

	saved, err := e.pipeline.Job(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobFailed, saved.Status)
	assert.Equal(t, domain.CauseCancelled, saved.Cause)

	err = e.pipeline.Cancel(ctx, job.ID)
	assert.True(t, errors.Is(err, domain.ErrValidationFailed), "cancel of a finished job: %v", err)

	err = e.pipeline.Cancel(ctx, "missing")
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestEnrichmentIsOptional(t *testing.T) {
	e := newEnv(t)
	e.pipeline.enricher = stubEnricher{err: errors.New("quota exceeded")}
	draft := e.acquirePasta(t)
	assert.Empty(t, draft.Suggestions)

	e.pipeline.enricher = stubEnricher{suggestions: []domain.Suggestion{{Field: domain.FieldCuisine, Value: "Italian", Source: "chatgpt", Confidence: 0.3}}}
	draft = e.acquirePasta(t)
	require.Len(t, draft.Suggestions, 1)
	assert.Empty(t, draft.Fields.Cuisine, "suggestions are never applied")
}

func TestEnrichmentNamesIngredientCandidates(t *testing.T) {
	e := newEnv(t)
	e.seed(t, "Flour", "Salt")
	ctx := context.Background()
	line := func(i int) *int { return &i }

	e.pipeline.enricher = stubEnricher{suggestions: []domain.Suggestion{
		{Field: domain.FieldCuisine, Value: "Italian", Source: "chatgpt", Confidence: 0.3},
		{Field: domain.FieldIngredients, Line: line(2), Value: "Egg", Source: "chatgpt", Confidence: 0.3},
		{Field: domain.FieldIngredients, Line: line(0), Value: "flour", Source: "chatgpt", Confidence: 0.3},
		{Field: domain.FieldIngredients, Line: line(9), Value: "Butter", Source: "chatgpt", Confidence: 0.3},
	}}
	draft := e.acquirePasta(t)

	require.Len(t, draft.Suggestions, 1, "ingredient names move onto candidates")
	assert.Equal(t, domain.FieldCuisine, draft.Suggestions[0].Field)

	egg := draft.Candidates[2]
	assert.Equal(t, domain.CandidateUnresolved, egg.Status)
	require.NotEmpty(t, egg.Suggestions)
	last := egg.Suggestions[len(egg.Suggestions)-1]
	assert.Equal(t, domain.MatchSuggestion{Name: "Egg", Score: 0.3, Source: "chatgpt"}, last)

	for _, s := range draft.Candidates[0].Suggestions {
		assert.NotEqual(t, "chatgpt", s.Source, "catalog already suggests flour")
	}

	_, err := e.workflow.Open(ctx, draft.ID)
	require.NoError(t, err)
	draft, err = e.workflow.Decide(ctx, draft.ID, 2, Decision{Kind: DecisionAcceptSuggestion, Name: "egg"})
	require.NoError(t, err)
	assert.Equal(t, domain.CandidateCreatedNew, draft.Candidates[2].Status)
	assert.Equal(t, "Egg", draft.Candidates[2].NewIngredientName)
	assert.Nil(t, draft.Candidates[2].MatchedIngredientID)
}

func TestCreateManualDraft(t *testing.T) {
	e := newEnv(t)
	e.seed(t, "Rice")

	draft, err := e.pipeline.CreateManualDraft(context.Background(), ManualEntry{
		SourceURL:       "https://blocked.example/recipes/1",
		RequestedBy:     "ana",
		Fields:          domain.RecipeFields{Name: "Plain Rice", Instructions: "Boil."},
		IngredientLines: []string{"1 cup rice", "  ", "water"},
	})
	require.NoError(t, err)

	assert.Equal(t, domain.DraftExtracted, draft.Status)
	assert.Equal(t, 1.0, draft.FieldConfidence[domain.FieldName])
	assert.Equal(t, 1.0, draft.FieldConfidence[domain.FieldIngredients])
	assert.Equal(t, 0.0, draft.FieldConfidence[domain.FieldCuisine])
	assert.Equal(t, []string{"1 cup rice", "water"}, draft.RawIngredientLines)
	assert.Equal(t, domain.CandidateMatched, draft.Candidates[0].Status)

	_, err = e.pipeline.CreateManualDraft(context.Background(), ManualEntry{})
	assert.True(t, errors.Is(err, domain.ErrValidationFailed))
}
