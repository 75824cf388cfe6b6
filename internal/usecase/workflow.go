package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"RecipeAcquisition/internal/clock"
	"RecipeAcquisition/internal/domain"
	"RecipeAcquisition/internal/infrastructure/metrics"
	"RecipeAcquisition/internal/ports"
	"RecipeAcquisition/internal/resolver"
)

// Validation limits for reviewed recipes.
const (
	maxServings    = 50
	maxPrepMinutes = 600
	maxCookMinutes = 1440

	// maxMergeHops bounds how far a stale ingredient id is followed through the merge history.
	maxMergeHops = 16
)

// DecisionKind is the reviewer's choice for one ingredient candidate.
type DecisionKind string

const (
	DecisionAcceptSuggestion DecisionKind = "accept_suggestion"
	DecisionChooseAlternate  DecisionKind = "choose_alternate"
	DecisionCreateNew        DecisionKind = "create_new"
	DecisionManualOverride   DecisionKind = "manual_override"
)

// Decision resolves one candidate. Which fields matter depends on Kind:
// accept_suggestion takes an optional IngredientID or Name among the suggestions (default: the best);
// choose_alternate needs IngredientID; create_new takes an optional Name;
// manual_override replaces the parsed parts and links IngredientID or, without one, creates Name.
type Decision struct {
	Kind         DecisionKind
	IngredientID int64
	Name         string
	Quantity     *float64
	Unit         string
	Note         string
}

// FieldEdit carries reviewer edits. Nil members are left unchanged.
type FieldEdit struct {
	Name         *string
	Description  *string
	Instructions *string
	PrepMinutes  *int
	CookMinutes  *int
	Servings     *int
	Cuisine      *string
	MealCategory *string
	DietaryTags  []string
}

// WorkflowDeps wires the review workflow.
type WorkflowDeps struct {
	Drafts   ports.DraftRepository
	Catalog  ports.CatalogRepository
	Resolver *resolver.Resolver
	Clock    clock.Clock
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
}

// Workflow is the persisted review state machine:
// extracted -> under_review -> validated -> committed, with rejected reachable before validation.
type Workflow struct {
	drafts   ports.DraftRepository
	catalog  ports.CatalogRepository
	resolver *resolver.Resolver
	clock    clock.Clock
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// NewWorkflow builds the review workflow.
func NewWorkflow(deps WorkflowDeps) *Workflow {
	if deps.Clock == nil {
		deps.Clock = clock.Real{}
	}
	if deps.Resolver == nil {
		deps.Resolver = resolver.New(resolver.DefaultOptions(), resolver.Deps{Catalog: deps.Catalog, Clock: deps.Clock})
	}
	return &Workflow{
		drafts:   deps.Drafts,
		catalog:  deps.Catalog,
		resolver: deps.Resolver,
		clock:    deps.Clock,
		metrics:  deps.Metrics,
		logger:   deps.Logger,
	}
}

// Get loads one draft.
func (w *Workflow) Get(ctx context.Context, id string) (domain.RecipeDraft, error) {
	return w.drafts.GetDraft(ctx, id)
}

// List returns drafts, optionally filtered by status.
func (w *Workflow) List(ctx context.Context, status domain.DraftStatus, limit int) ([]domain.RecipeDraft, error) {
	return w.drafts.ListDrafts(ctx, status, limit)
}

// Open moves an extracted draft into review. Opening a draft already under review keeps its edits.
func (w *Workflow) Open(ctx context.Context, id string) (domain.RecipeDraft, error) {
	draft, err := w.drafts.GetDraft(ctx, id)
	if err != nil {
		return domain.RecipeDraft{}, err
	}
	switch draft.Status {
	case domain.DraftUnderReview:
		return draft, nil
	case domain.DraftExtracted:
		return w.transition(ctx, draft, domain.DraftUnderReview)
	case domain.DraftValidated:
		return domain.RecipeDraft{}, domain.Invalid("draft %s is validated; reopen it to edit", id)
	default:
		return domain.RecipeDraft{}, domain.Invalid("draft %s is %s and cannot be opened", id, draft.Status)
	}
}

// Reopen sends a validated draft back to review before it is committed.
func (w *Workflow) Reopen(ctx context.Context, id string) (domain.RecipeDraft, error) {
	draft, err := w.drafts.GetDraft(ctx, id)
	if err != nil {
		return domain.RecipeDraft{}, err
	}
	if draft.Status != domain.DraftValidated {
		return domain.RecipeDraft{}, domain.Invalid("draft %s is %s; only validated drafts can be reopened", id, draft.Status)
	}
	return w.transition(ctx, draft, domain.DraftUnderReview)
}

// UpdateFields applies reviewer edits. Edited fields carry full confidence.
func (w *Workflow) UpdateFields(ctx context.Context, id string, edit FieldEdit) (domain.RecipeDraft, error) {
	draft, err := w.editable(ctx, id)
	if err != nil {
		return domain.RecipeDraft{}, err
	}
	if draft.FieldConfidence == nil {
		draft.FieldConfidence = map[domain.Field]float64{}
	}
	f := &draft.Fields
	set := func(field domain.Field) { draft.FieldConfidence[field] = 1 }

	if edit.Name != nil {
		f.Name = strings.TrimSpace(*edit.Name)
		set(domain.FieldName)
	}
	if edit.Description != nil {
		f.Description = strings.TrimSpace(*edit.Description)
		set(domain.FieldDescription)
	}
	if edit.Instructions != nil {
		f.Instructions = strings.TrimSpace(*edit.Instructions)
		set(domain.FieldInstructions)
	}
	if edit.PrepMinutes != nil {
		f.PrepMinutes = *edit.PrepMinutes
		set(domain.FieldPrepMinutes)
	}
	if edit.CookMinutes != nil {
		f.CookMinutes = *edit.CookMinutes
		set(domain.FieldCookMinutes)
	}
	if edit.Servings != nil {
		f.Servings = *edit.Servings
		set(domain.FieldServings)
	}
	if edit.Cuisine != nil {
		f.Cuisine = strings.TrimSpace(*edit.Cuisine)
		set(domain.FieldCuisine)
	}
	if edit.MealCategory != nil {
		f.MealCategory = strings.TrimSpace(*edit.MealCategory)
		set(domain.FieldMealCategory)
	}
	if edit.DietaryTags != nil {
		f.DietaryTags = cleanLines(edit.DietaryTags)
		set(domain.FieldDietaryTags)
	}
	return w.drafts.UpdateDraft(ctx, draft)
}

// ReplaceIngredientLines swaps the raw ingredient block and re-resolves every line
// against a fresh catalog snapshot. Earlier decisions are discarded.
func (w *Workflow) ReplaceIngredientLines(ctx context.Context, id string, lines []string) (domain.RecipeDraft, error) {
	draft, err := w.editable(ctx, id)
	if err != nil {
		return domain.RecipeDraft{}, err
	}
	snap, err := w.resolver.Snapshot(ctx)
	if err != nil {
		return domain.RecipeDraft{}, err
	}
	draft.RawIngredientLines = cleanLines(lines)
	draft.Candidates = w.resolver.ResolveLines(draft.RawIngredientLines, snap)
	if draft.FieldConfidence == nil {
		draft.FieldConfidence = map[domain.Field]float64{}
	}
	draft.FieldConfidence[domain.FieldIngredients] = 1
	if len(draft.RawIngredientLines) == 0 {
		draft.FieldConfidence[domain.FieldIngredients] = 0
	}
	for _, c := range draft.Candidates {
		w.metrics.CandidateResolved(string(c.Status))
	}
	return w.drafts.UpdateDraft(ctx, draft)
}

// Decide records the reviewer's decision for the candidate at index.
func (w *Workflow) Decide(ctx context.Context, id string, index int, d Decision) (domain.RecipeDraft, error) {
	draft, err := w.editable(ctx, id)
	if err != nil {
		return domain.RecipeDraft{}, err
	}
	if index < 0 || index >= len(draft.Candidates) {
		return domain.RecipeDraft{}, domain.Invalid("candidate %d does not exist (draft has %d)", index, len(draft.Candidates))
	}
	c := draft.Candidates[index]

	switch d.Kind {
	case DecisionAcceptSuggestion:
		if len(c.Suggestions) == 0 {
			return domain.RecipeDraft{}, domain.Invalid("candidate %d has no suggestions to accept", index)
		}
		pick := c.Suggestions[0]
		switch name := strings.TrimSpace(d.Name); {
		case d.IngredientID != 0:
			found := false
			for _, s := range c.Suggestions {
				if s.IngredientID == d.IngredientID {
					pick, found = s, true
					break
				}
			}
			if !found {
				return domain.RecipeDraft{}, domain.Invalid("ingredient %d is not among the suggestions of candidate %d", d.IngredientID, index)
			}
		case name != "":
			found := false
			for _, s := range c.Suggestions {
				if strings.EqualFold(s.Name, name) {
					pick, found = s, true
					break
				}
			}
			if !found {
				return domain.RecipeDraft{}, domain.Invalid("%q is not among the suggestions of candidate %d", name, index)
			}
		}
		// Enrichment suggestions name an ingredient the catalog does not hold yet.
		if pick.IngredientID == 0 {
			create(&c, pick.Name, domain.CandidateCreatedNew)
			break
		}
		link(&c, pick.IngredientID, pick.Score, domain.CandidateMatched)

	case DecisionChooseAlternate:
		ing, err := w.lookup(ctx, d.IngredientID)
		if err != nil {
			return domain.RecipeDraft{}, err
		}
		link(&c, ing.ID, 1, domain.CandidateMatched)

	case DecisionCreateNew:
		name := strings.TrimSpace(d.Name)
		if name == "" {
			name = c.Name
		}
		if resolver.Normalize(name) == "" {
			return domain.RecipeDraft{}, domain.Invalid("candidate %d needs a name for the new ingredient", index)
		}
		create(&c, name, domain.CandidateCreatedNew)

	case DecisionManualOverride:
		if n := strings.TrimSpace(d.Name); n != "" {
			c.Name = n
		}
		c.Quantity = d.Quantity
		c.Unit = strings.TrimSpace(d.Unit)
		c.Note = strings.TrimSpace(d.Note)
		if d.IngredientID != 0 {
			ing, err := w.lookup(ctx, d.IngredientID)
			if err != nil {
				return domain.RecipeDraft{}, err
			}
			link(&c, ing.ID, 1, domain.CandidateUserOverridden)
			break
		}
		if resolver.Normalize(c.Name) == "" {
			return domain.RecipeDraft{}, domain.Invalid("manual override of candidate %d needs a name or an ingredient id", index)
		}
		snap, err := w.resolver.Snapshot(ctx)
		if err != nil {
			return domain.RecipeDraft{}, fmt.Errorf("catalog snapshot: %w", err)
		}
		// A typed name that matches the catalog links instead of creating a duplicate.
		if m := w.resolver.Rematch(c, snap); m.Status == domain.CandidateMatched && m.MatchedIngredientID != nil {
			link(&c, *m.MatchedIngredientID, m.MatchConfidence, domain.CandidateUserOverridden)
			c.Suggestions = m.Suggestions
			break
		}
		create(&c, c.Name, domain.CandidateUserOverridden)

	default:
		return domain.RecipeDraft{}, domain.Invalid("unknown decision %q", d.Kind)
	}

	draft.Candidates[index] = c
	updated, err := w.drafts.UpdateDraft(ctx, draft)
	if err != nil {
		return domain.RecipeDraft{}, err
	}
	w.metrics.CandidateResolved(string(c.Status))
	w.debug("candidate decided", "draft_id", id, "index", index, "decision", d.Kind, "status", c.Status)
	return updated, nil
}

// Validate checks the reviewed draft and moves it to validated.
func (w *Workflow) Validate(ctx context.Context, id string) (domain.RecipeDraft, error) {
	draft, err := w.drafts.GetDraft(ctx, id)
	if err != nil {
		return domain.RecipeDraft{}, err
	}
	if draft.Status != domain.DraftUnderReview {
		return domain.RecipeDraft{}, domain.Invalid("draft %s is %s; only drafts under review can be validated", id, draft.Status)
	}
	if problems := Problems(draft); len(problems) > 0 {
		return domain.RecipeDraft{}, &domain.ValidationError{Problems: problems}
	}
	return w.transition(ctx, draft, domain.DraftValidated)
}

// Problems lists everything that keeps a draft from being validated.
func Problems(d domain.RecipeDraft) []string {
	var problems []string
	if strings.TrimSpace(d.Fields.Name) == "" {
		problems = append(problems, "name is required")
	}
	if strings.TrimSpace(d.Fields.Instructions) == "" {
		problems = append(problems, "instructions are required")
	}
	if len(d.Candidates) == 0 {
		problems = append(problems, "at least one ingredient is required")
	}
	if n := d.UnresolvedCount(); n > 0 {
		problems = append(problems, fmt.Sprintf("%d ingredient line(s) are unresolved", n))
	}
	if s := d.Fields.Servings; s != 0 && (s < 1 || s > maxServings) {
		problems = append(problems, fmt.Sprintf("servings must be between 1 and %d", maxServings))
	}
	if m := d.Fields.PrepMinutes; m < 0 || m > maxPrepMinutes {
		problems = append(problems, fmt.Sprintf("prep time must be between 0 and %d minutes", maxPrepMinutes))
	}
	if m := d.Fields.CookMinutes; m < 0 || m > maxCookMinutes {
		problems = append(problems, fmt.Sprintf("cook time must be between 0 and %d minutes", maxCookMinutes))
	}
	return problems
}

// Commit writes the recipe, its ingredient links, any new ingredients and the draft status in
// one transaction. A catalog conflict is retried once. On failure the draft stays validated
// and the error is kept in LastError.
func (w *Workflow) Commit(ctx context.Context, id string) (domain.Recipe, error) {
	draft, err := w.drafts.GetDraft(ctx, id)
	if err != nil {
		return domain.Recipe{}, err
	}
	if draft.Status != domain.DraftValidated {
		return domain.Recipe{}, domain.Invalid("draft %s is %s; only validated drafts can be committed", id, draft.Status)
	}
	if n := draft.UnresolvedCount(); n > 0 {
		return domain.Recipe{}, domain.Invalid("draft %s still has %d unresolved ingredient line(s)", id, n)
	}

	recipe, err := w.commitOnce(ctx, draft)
	if errors.Is(err, domain.ErrCatalogConflict) {
		w.info("commit conflict, retrying", "draft_id", id, "error", err)
		w.metrics.Commit("retried")
		recipe, err = w.commitOnce(ctx, draft)
	}
	if err != nil {
		w.metrics.Commit("failed")
		w.recordFailure(ctx, draft, err)
		return domain.Recipe{}, fmt.Errorf("%w: draft %s: %w", domain.ErrCommitFailure, id, err)
	}

	w.metrics.Commit("committed")
	w.metrics.DraftTransition(string(domain.DraftCommitted))
	w.info("draft committed", "draft_id", id, "recipe_id", recipe.ID)
	return recipe, nil
}

func (w *Workflow) commitOnce(ctx context.Context, draft domain.RecipeDraft) (domain.Recipe, error) {
	if w.catalog == nil {
		return domain.Recipe{}, errors.New("catalog is not configured")
	}
	recipe := domain.Recipe{
		DraftID:   draft.ID,
		SourceURL: draft.SourceURL,
		Fields:    draft.Fields,
		CreatedAt: w.clock.Now().UTC(),
	}

	err := w.catalog.Transactionally(ctx, func(tx ports.CatalogTx) error {
		links := make([]domain.RecipeIngredientLink, 0, len(draft.Candidates))
		position := map[int64]int{}
		for _, c := range draft.Candidates {
			ingredientID, err := w.ingredientFor(ctx, tx, c)
			if err != nil {
				return fmt.Errorf("line %q: %w", c.RawLine, err)
			}
			if i, dup := position[ingredientID]; dup {
				links[i].Note = joinNote(links[i].Note, c.RawLine)
				continue
			}
			position[ingredientID] = len(links)
			links = append(links, domain.RecipeIngredientLink{
				IngredientID: ingredientID,
				Quantity:     c.Quantity,
				Unit:         c.Unit,
				Note:         c.Note,
				Order:        len(links),
			})
		}

		recipeID, err := tx.InsertRecipe(ctx, recipe)
		if err != nil {
			return fmt.Errorf("insert recipe: %w", err)
		}
		if err := tx.UpsertRecipeIngredientLinks(ctx, recipeID, links); err != nil {
			return fmt.Errorf("link ingredients: %w", err)
		}

		committed := draft
		committed.Status = domain.DraftCommitted
		committed.RecipeID = recipeID
		committed.LastError = ""
		if _, err := tx.UpdateDraft(ctx, committed); err != nil {
			return fmt.Errorf("mark draft committed: %w", err)
		}
		recipe.ID = recipeID
		return nil
	})
	return recipe, err
}

// ingredientFor returns the catalog id a candidate commits to, following merges and
// creating new entries where the reviewer asked for one.
func (w *Workflow) ingredientFor(ctx context.Context, tx ports.CatalogTx, c domain.IngredientCandidate) (int64, error) {
	if c.MatchedIngredientID != nil {
		id := *c.MatchedIngredientID
		for hop := 0; hop < maxMergeHops; hop++ {
			next, merged, err := tx.MergedInto(ctx, id)
			if err != nil {
				return 0, err
			}
			if !merged {
				break
			}
			id = next
		}
		if _, err := tx.GetIngredient(ctx, id); err != nil {
			return 0, err
		}
		return id, nil
	}

	name := strings.TrimSpace(c.NewIngredientName)
	if name == "" {
		name = c.Name
	}
	key := resolver.Normalize(name)
	if key == "" {
		return 0, domain.Invalid("ingredient name is empty")
	}
	existing, err := tx.FindIngredientsByNormalizedName(ctx, key)
	if err != nil {
		return 0, err
	}
	if len(existing) > 0 {
		return existing[0].ID, nil
	}
	return tx.InsertIngredient(ctx, domain.Ingredient{
		Name:           resolver.DisplayName(name),
		NormalizedName: key,
		Category:       resolver.Categorize(name),
		CreatedAt:      w.clock.Now().UTC(),
	})
}

// recordFailure keeps the draft validated and stores the error for the reviewer.
func (w *Workflow) recordFailure(ctx context.Context, draft domain.RecipeDraft, cause error) {
	w.warn("commit failed", "draft_id", draft.ID, "error", cause)
	current, err := w.drafts.GetDraft(context.WithoutCancel(ctx), draft.ID)
	if err != nil {
		w.warn("reload draft after failed commit", "draft_id", draft.ID, "error", err)
		return
	}
	if current.Status != domain.DraftValidated {
		return
	}
	current.LastError = cause.Error()
	if _, err := w.drafts.UpdateDraft(context.WithoutCancel(ctx), current); err != nil {
		w.warn("record commit failure", "draft_id", draft.ID, "error", err)
	}
}

// Reject ends the review of a draft that has not been validated.
func (w *Workflow) Reject(ctx context.Context, id string) (domain.RecipeDraft, error) {
	draft, err := w.drafts.GetDraft(ctx, id)
	if err != nil {
		return domain.RecipeDraft{}, err
	}
	switch draft.Status {
	case domain.DraftExtracted, domain.DraftUnderReview:
		return w.transition(ctx, draft, domain.DraftRejected)
	default:
		return domain.RecipeDraft{}, domain.Invalid("draft %s is %s and cannot be rejected", id, draft.Status)
	}
}

func (w *Workflow) editable(ctx context.Context, id string) (domain.RecipeDraft, error) {
	draft, err := w.drafts.GetDraft(ctx, id)
	if err != nil {
		return domain.RecipeDraft{}, err
	}
	if draft.Status != domain.DraftUnderReview {
		return domain.RecipeDraft{}, domain.Invalid("draft %s is %s; open it for review before editing", id, draft.Status)
	}
	return draft, nil
}

func (w *Workflow) transition(ctx context.Context, draft domain.RecipeDraft, to domain.DraftStatus) (domain.RecipeDraft, error) {
	from := draft.Status
	draft.Status = to
	updated, err := w.drafts.UpdateDraft(ctx, draft)
	if err != nil {
		return domain.RecipeDraft{}, err
	}
	w.metrics.DraftTransition(string(to))
	w.info("draft transition", "draft_id", draft.ID, "from", from, "to", to)
	return updated, nil
}

func (w *Workflow) lookup(ctx context.Context, id int64) (domain.Ingredient, error) {
	if id == 0 {
		return domain.Ingredient{}, domain.Invalid("an ingredient id is required")
	}
	if w.catalog == nil {
		return domain.Ingredient{}, fmt.Errorf("ingredient %d: %w", id, domain.ErrNotFound)
	}
	return w.catalog.GetIngredient(ctx, id)
}

func link(c *domain.IngredientCandidate, ingredientID int64, confidence float64, status domain.CandidateStatus) {
	c.MatchedIngredientID = &ingredientID
	c.MatchConfidence = confidence
	c.NewIngredientName = ""
	c.Status = status
}

func create(c *domain.IngredientCandidate, name string, status domain.CandidateStatus) {
	c.MatchedIngredientID = nil
	c.MatchConfidence = 0
	c.NewIngredientName = name
	c.Status = status
}

func joinNote(note, extra string) string {
	extra = strings.TrimSpace(extra)
	switch {
	case extra == "":
		return note
	case note == "":
		return "also: " + extra
	default:
		return note + "; also: " + extra
	}
}

func (w *Workflow) debug(msg string, args ...any) {
	if w.logger != nil {
		w.logger.Debug(msg, args...)
	}
}

func (w *Workflow) info(msg string, args ...any) {
	if w.logger != nil {
		w.logger.Info(msg, args...)
	}
}

func (w *Workflow) warn(msg string, args ...any) {
	if w.logger != nil {
		w.logger.Warn(msg, args...)
	}
}
