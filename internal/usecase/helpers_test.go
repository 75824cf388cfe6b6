package usecase

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"RecipeAcquisition/internal/clock"
	"RecipeAcquisition/internal/config"
	"RecipeAcquisition/internal/domain"
	"RecipeAcquisition/internal/infrastructure/metrics"
	"RecipeAcquisition/internal/infrastructure/parser"
	"RecipeAcquisition/internal/infrastructure/storage"
	"RecipeAcquisition/internal/resolver"
	"RecipeAcquisition/internal/scanner"
)

const pastaPage = `<!doctype html>
<html><head><title>Weeknight Pasta</title>
<script type="application/ld+json">
{
  "@context": "https://schema.org",
  "@type": "Recipe",
  "name": "Weeknight Pasta",
  "recipeIngredient": ["2 cups flour, sifted", "1 tsp salt", "2 eggs"],
  "recipeInstructions": [{"@type": "HowToStep", "text": "Mix everything."}, {"@type": "HowToStep", "text": "Roll and boil."}],
  "recipeYield": "4 servings"
}
</script></head><body></body></html>`

// stubFetcher serves canned pages; block makes Fetch wait for cancellation.
type stubFetcher struct {
	mu      sync.Mutex
	pages   map[string]string
	errs    map[string]error
	block   bool
	entered chan struct{}
	calls   int
}

func (s *stubFetcher) Fetch(ctx context.Context, req domain.FetchRequest) (domain.ScrapedDocument, error) {
	s.mu.Lock()
	s.calls++
	block, entered := s.block, s.entered
	page, ok := s.pages[req.URL]
	err := s.errs[req.URL]
	s.mu.Unlock()

	if block {
		if entered != nil {
			entered <- struct{}{}
		}
		<-ctx.Done()
		return domain.ScrapedDocument{}, domain.NewFetchError(domain.ErrJobCancelled, req.URL, "", ctx.Err())
	}
	if err != nil {
		return domain.ScrapedDocument{}, err
	}
	if !ok {
		return domain.ScrapedDocument{}, domain.NewFetchError(domain.ErrNetwork, req.URL, "", fmt.Errorf("status 404"))
	}
	return domain.ScrapedDocument{SourceURL: req.URL, RawContent: []byte(page), HTTPStatus: 200, ContentType: "text/html"}, nil
}

type stubEnricher struct {
	suggestions []domain.Suggestion
	err         error
}

func (s stubEnricher) Suggest(context.Context, domain.RecipeDraft) ([]domain.Suggestion, error) {
	return s.suggestions, s.err
}

type env struct {
	store    *storage.Store
	clock    *clock.Fake
	fetcher  *stubFetcher
	resolver *resolver.Resolver
	metrics  *metrics.Metrics
	pipeline *Pipeline
	workflow *Workflow
	catalog  *Catalog
}

func newEnv(t *testing.T) *env {
	t.Helper()
	ctx := context.Background()
	clk := clock.NewFake(time.Date(2024, 4, 2, 9, 0, 0, 0, time.UTC))
	store, err := storage.Open(ctx, config.DatabaseConfig{Driver: storage.DriverSQLite, DSN: filepath.Join(t.TempDir(), "usecase.db")}, clk, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	fetcher := &stubFetcher{pages: map[string]string{"https://example.com/pasta": pastaPage}, errs: map[string]error{}}
	res := resolver.New(resolver.DefaultOptions(), resolver.Deps{Catalog: store, Clock: clk})
	m := metrics.New()

	var seq atomic.Int64
	e := &env{store: store, clock: clk, fetcher: fetcher, resolver: res, metrics: m}
	e.pipeline = NewPipeline(PipelineDeps{
		Fetcher:   fetcher,
		Extractor: parser.NewExtractor(scanner.NewDefaultRegistry(nil), nil),
		Resolver:  res,
		Drafts:    store,
		Jobs:      store,
		Clock:     clk,
		Metrics:   m,
		NewID:     func() string { return fmt.Sprintf("id-%d", seq.Add(1)) },
	})
	e.workflow = NewWorkflow(WorkflowDeps{Drafts: store, Catalog: store, Resolver: res, Clock: clk, Metrics: m})
	e.catalog = NewCatalog(store, res, 0, m, nil)
	return e
}

func (e *env) seed(t *testing.T, names ...string) []int64 {
	t.Helper()
	ids := make([]int64, 0, len(names))
	for _, n := range names {
		id, err := e.store.InsertIngredient(context.Background(), domain.Ingredient{Name: n, NormalizedName: resolver.Normalize(n)})
		require.NoError(t, err)
		ids = append(ids, id)
	}
	return ids
}

func (e *env) acquirePasta(t *testing.T) domain.RecipeDraft {
	t.Helper()
	_, draft, err := e.pipeline.Acquire(context.Background(), domain.FetchRequest{URL: "https://example.com/pasta", RequestedBy: "ana"})
	require.NoError(t, err)
	return draft
}
