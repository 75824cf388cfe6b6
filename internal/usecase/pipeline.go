package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"

	"RecipeAcquisition/internal/clock"
	"RecipeAcquisition/internal/domain"
	"RecipeAcquisition/internal/infrastructure/metrics"
	"RecipeAcquisition/internal/ports"
	"RecipeAcquisition/internal/resolver"
)

// PipelineDeps wires all driven adapters into the acquisition pipeline.
type PipelineDeps struct {
	Fetcher   ports.Fetcher
	Extractor ports.Extractor
	Resolver  *resolver.Resolver
	Enricher  ports.Enricher
	Drafts    ports.DraftRepository
	Jobs      ports.JobRepository
	Clock     clock.Clock
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
	NewID     func() string
}

// Pipeline runs one scrape job strictly as fetch, extract, resolve, then hands the draft to review.
type Pipeline struct {
	fetcher   ports.Fetcher
	extractor ports.Extractor
	resolver  *resolver.Resolver
	enricher  ports.Enricher
	drafts    ports.DraftRepository
	jobs      ports.JobRepository
	clock     clock.Clock
	metrics   *metrics.Metrics
	logger    *slog.Logger
	newID     func() string

	mu      sync.Mutex
	running map[string]context.CancelFunc
	wg      sync.WaitGroup
}

// NewPipeline constructs the orchestration component.
func NewPipeline(deps PipelineDeps) *Pipeline {
	if deps.Clock == nil {
		deps.Clock = clock.Real{}
	}
	if deps.NewID == nil {
		deps.NewID = uuid.NewString
	}
	if deps.Resolver == nil {
		deps.Resolver = resolver.New(resolver.DefaultOptions(), resolver.Deps{Clock: deps.Clock})
	}
	return &Pipeline{
		fetcher:   deps.Fetcher,
		extractor: deps.Extractor,
		resolver:  deps.Resolver,
		enricher:  deps.Enricher,
		drafts:    deps.Drafts,
		jobs:      deps.Jobs,
		clock:     deps.Clock,
		metrics:   deps.Metrics,
		logger:    deps.Logger,
		newID:     deps.NewID,
		running:   map[string]context.CancelFunc{},
	}
}

// Acquire runs a scrape job to completion and returns the resulting draft. On a fetch
// failure the job is returned with its cause alongside the error so callers can offer
// manual entry.
func (p *Pipeline) Acquire(ctx context.Context, req domain.FetchRequest) (domain.ScrapeJob, domain.RecipeDraft, error) {
	job, err := p.newJob(ctx, req)
	if err != nil {
		return domain.ScrapeJob{}, domain.RecipeDraft{}, err
	}
	jobCtx, cancel := context.WithCancel(ctx)
	p.track(job.ID, cancel)
	defer p.untrack(job.ID)

	return p.run(jobCtx, job, req)
}

// Submit starts a scrape job in the background and returns it in the pending state.
func (p *Pipeline) Submit(ctx context.Context, req domain.FetchRequest) (domain.ScrapeJob, error) {
	job, err := p.newJob(ctx, req)
	if err != nil {
		return domain.ScrapeJob{}, err
	}
	jobCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	p.track(job.ID, cancel)

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer p.untrack(job.ID)
		if _, _, err := p.run(jobCtx, job, req); err != nil {
			p.debug("background scrape finished with error", "job_id", job.ID, "error", err)
		}
	}()
	return job, nil
}

// Cancel aborts a running job. Waits end immediately; an HTTP call already on the
// wire completes and its result is discarded.
func (p *Pipeline) Cancel(ctx context.Context, jobID string) error {
	p.mu.Lock()
	cancel, ok := p.running[jobID]
	p.mu.Unlock()
	if ok {
		cancel()
		p.info("scrape job cancelled", "job_id", jobID)
		return nil
	}

	if p.jobs == nil {
		return fmt.Errorf("job %s: %w", jobID, domain.ErrNotFound)
	}
	job, err := p.jobs.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status.Terminal() {
		return domain.Invalid("job %s already finished as %s", jobID, job.Status)
	}
	return fmt.Errorf("job %s is not running in this process: %w", jobID, domain.ErrNotFound)
}

// Wait blocks until every background job has finished.
func (p *Pipeline) Wait() {
	p.wg.Wait()
}

// Job returns one scrape job.
func (p *Pipeline) Job(ctx context.Context, id string) (domain.ScrapeJob, error) {
	if p.jobs == nil {
		return domain.ScrapeJob{}, fmt.Errorf("job %s: %w", id, domain.ErrNotFound)
	}
	return p.jobs.GetJob(ctx, id)
}

// Jobs lists recent scrape jobs.
func (p *Pipeline) Jobs(ctx context.Context, limit int) ([]domain.ScrapeJob, error) {
	if p.jobs == nil {
		return nil, nil
	}
	return p.jobs.ListJobs(ctx, limit)
}

// ManualEntry is recipe data typed in by a user when a page could not be fetched.
type ManualEntry struct {
	SourceURL       string
	RequestedBy     string
	Fields          domain.RecipeFields
	IngredientLines []string
}

// CreateManualDraft builds a draft from user-entered data. Provided fields carry full
// confidence; the draft then follows the normal review workflow.
func (p *Pipeline) CreateManualDraft(ctx context.Context, entry ManualEntry) (domain.RecipeDraft, error) {
	lines := cleanLines(entry.IngredientLines)
	if strings.TrimSpace(entry.Fields.Name) == "" && len(lines) == 0 {
		return domain.RecipeDraft{}, domain.Invalid("manual entry needs at least a name or one ingredient line")
	}

	confidence := make(map[domain.Field]float64, len(domain.AllFields))
	for _, f := range domain.AllFields {
		if f == domain.FieldIngredients {
			continue
		}
		if !entry.Fields.Empty(f) {
			confidence[f] = 1
		} else {
			confidence[f] = 0
		}
	}
	confidence[domain.FieldIngredients] = 0
	if len(lines) > 0 {
		confidence[domain.FieldIngredients] = 1
	}

	draft := domain.RecipeDraft{
		SourceURL:          strings.TrimSpace(entry.SourceURL),
		Fields:             entry.Fields,
		FieldConfidence:    confidence,
		RawIngredientLines: lines,
		Status:             domain.DraftExtracted,
	}
	if err := p.resolveCandidates(ctx, &draft); err != nil {
		return domain.RecipeDraft{}, err
	}
	if err := p.saveDraft(ctx, &draft); err != nil {
		return domain.RecipeDraft{}, err
	}
	p.info("manual draft created", "draft_id", draft.ID, "requested_by", entry.RequestedBy)
	return draft, nil
}

func (p *Pipeline) newJob(ctx context.Context, req domain.FetchRequest) (domain.ScrapeJob, error) {
	job := domain.ScrapeJob{
		ID:          p.newID(),
		URL:         strings.TrimSpace(req.URL),
		RequestedBy: req.RequestedBy,
		SubmittedAt: p.clock.Now().UTC(),
		Status:      domain.JobPending,
	}
	if p.jobs != nil {
		if err := p.jobs.CreateJob(ctx, job); err != nil {
			return domain.ScrapeJob{}, fmt.Errorf("create scrape job: %w", err)
		}
	}
	return job, nil
}

func (p *Pipeline) run(ctx context.Context, job domain.ScrapeJob, req domain.FetchRequest) (domain.ScrapeJob, domain.RecipeDraft, error) {
	if p.fetcher == nil || p.extractor == nil {
		return job, domain.RecipeDraft{}, errors.New("pipeline is missing a fetcher or extractor")
	}
	done := p.metrics.JobStarted()
	defer done()

	job.Status = domain.JobFetching
	p.updateJob(ctx, job)

	doc, err := p.fetcher.Fetch(ctx, req)
	if err == nil && ctx.Err() != nil {
		err = domain.NewFetchError(domain.ErrJobCancelled, req.URL, "", ctx.Err())
	}
	if err != nil {
		job.Status = domain.JobFailed
		job.Cause = domain.Cause(err)
		job.Error = err.Error()
		job.FinishedAt = p.clock.Now().UTC()
		p.updateJob(ctx, job)
		p.info("scrape job failed", "job_id", job.ID, "url", job.URL, "cause", job.Cause)
		return job, domain.RecipeDraft{}, err
	}

	draft := p.extractor.Extract(doc)
	draft.JobID = job.ID
	p.metrics.Extracted(draft.LowConfidence)
	if draft.LowConfidence {
		p.info("low confidence extraction", "job_id", job.ID, "url", doc.SourceURL, "issues", len(draft.Issues))
	}
	if err := p.resolveCandidates(ctx, &draft); err != nil {
		return p.failJob(ctx, job, err)
	}
	p.enrich(ctx, &draft)
	if err := p.saveDraft(ctx, &draft); err != nil {
		return p.failJob(ctx, job, err)
	}

	job.Status = domain.JobFetched
	job.DraftID = draft.ID
	job.FinishedAt = p.clock.Now().UTC()
	p.updateJob(ctx, job)
	p.info("scrape job completed", "job_id", job.ID, "draft_id", draft.ID, "candidates", len(draft.Candidates))
	return job, draft, nil
}

func (p *Pipeline) failJob(ctx context.Context, job domain.ScrapeJob, err error) (domain.ScrapeJob, domain.RecipeDraft, error) {
	job.Status = domain.JobFailed
	job.Cause = domain.CauseUnknown
	job.Error = err.Error()
	job.FinishedAt = p.clock.Now().UTC()
	p.updateJob(ctx, job)
	p.warn("scrape job failed after fetch", "job_id", job.ID, "error", err)
	return job, domain.RecipeDraft{}, err
}

func (p *Pipeline) resolveCandidates(ctx context.Context, draft *domain.RecipeDraft) error {
	snap, err := p.resolver.Snapshot(ctx)
	if err != nil {
		return err
	}
	draft.Candidates = p.resolver.ResolveLines(draft.RawIngredientLines, snap)
	for _, c := range draft.Candidates {
		p.metrics.CandidateResolved(string(c.Status))
	}
	return nil
}

// enrich adds optional suggestions. Enrichment failures never fail the job.
func (p *Pipeline) enrich(ctx context.Context, draft *domain.RecipeDraft) {
	if p.enricher == nil {
		return
	}
	suggestions, err := p.enricher.Suggest(ctx, *draft)
	if err != nil {
		p.warn("enrichment failed", "url", draft.SourceURL, "error", err)
		return
	}
	for _, s := range suggestions {
		if s.Field != domain.FieldIngredients || s.Line == nil {
			draft.Suggestions = append(draft.Suggestions, s)
			continue
		}
		// Ingredient names go onto the candidate for that line, after the catalog matches.
		if idx := *s.Line; idx >= 0 && idx < len(draft.Candidates) {
			addNamedSuggestion(&draft.Candidates[idx], s)
		}
	}
}

func addNamedSuggestion(c *domain.IngredientCandidate, s domain.Suggestion) {
	for _, existing := range c.Suggestions {
		if strings.EqualFold(existing.Name, s.Value) {
			return
		}
	}
	c.Suggestions = append(c.Suggestions, domain.MatchSuggestion{Name: s.Value, Score: s.Confidence, Source: s.Source})
}

func (p *Pipeline) saveDraft(ctx context.Context, draft *domain.RecipeDraft) error {
	now := p.clock.Now().UTC()
	draft.ID = p.newID()
	draft.Version = 1
	draft.CreatedAt = now
	draft.UpdatedAt = now
	if p.drafts != nil {
		if err := p.drafts.CreateDraft(ctx, *draft); err != nil {
			return fmt.Errorf("save draft: %w", err)
		}
	}
	p.metrics.DraftTransition(string(draft.Status))
	return nil
}

// updateJob records job progress. The write outlives a cancelled job context.
func (p *Pipeline) updateJob(ctx context.Context, job domain.ScrapeJob) {
	if p.jobs == nil {
		return
	}
	if err := p.jobs.UpdateJob(context.WithoutCancel(ctx), job); err != nil {
		p.warn("update scrape job", "job_id", job.ID, "error", err)
	}
}

func (p *Pipeline) track(id string, cancel context.CancelFunc) {
	p.mu.Lock()
	p.running[id] = cancel
	p.mu.Unlock()
}

func (p *Pipeline) untrack(id string) {
	p.mu.Lock()
	if cancel, ok := p.running[id]; ok {
		cancel()
		delete(p.running, id)
	}
	p.mu.Unlock()
}

func cleanLines(lines []string) []string {
	out := make([]string, 0, len(lines))
	for _, l := range lines {
		if l = strings.TrimSpace(l); l != "" {
			out = append(out, l)
		}
	}
	return out
}

func (p *Pipeline) debug(msg string, args ...any) {
	if p.logger != nil {
		p.logger.Debug(msg, args...)
	}
}

func (p *Pipeline) info(msg string, args ...any) {
	if p.logger != nil {
		p.logger.Info(msg, args...)
	}
}

func (p *Pipeline) warn(msg string, args ...any) {
	if p.logger != nil {
		p.logger.Warn(msg, args...)
	}
}
