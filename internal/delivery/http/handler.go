package http

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"RecipeAcquisition/internal/domain"
	"RecipeAcquisition/internal/infrastructure/metrics"
	"RecipeAcquisition/internal/ports"
	"RecipeAcquisition/internal/usecase"
)

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	pipeline *usecase.Pipeline
	workflow *usecase.Workflow
	catalog  *usecase.Catalog
	audit    ports.AuditReader
	metrics  *metrics.Metrics
}

// NewHandler creates a new HTTP handler.
func NewHandler(pipeline *usecase.Pipeline, workflow *usecase.Workflow, catalog *usecase.Catalog, audit ports.AuditReader, m *metrics.Metrics) *Handler {
	return &Handler{pipeline: pipeline, workflow: workflow, catalog: catalog, audit: audit, metrics: m}
}

// HealthCheck returns the health status of the API.
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": "recipe-acquisition",
	})
}

// Metrics serves the Prometheus registry.
func (h *Handler) Metrics(c *gin.Context) {
	if h.metrics == nil {
		c.Status(http.StatusNotFound)
		return
	}
	h.metrics.Handler().ServeHTTP(c.Writer, c.Request)
}

type scrapeRequest struct {
	URL         string `json:"url" binding:"required"`
	RequestedBy string `json:"requestedBy"`
	Async       bool   `json:"async"`
}

// Scrape fetches a page and returns the extracted draft. With async it returns the
// pending job immediately.
func (h *Handler) Scrape(c *gin.Context) {
	var req scrapeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	fetchReq := domain.FetchRequest{URL: req.URL, RequestedBy: requester(c, req.RequestedBy)}

	if req.Async {
		job, err := h.pipeline.Submit(c.Request.Context(), fetchReq)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusAccepted, job)
		return
	}

	job, draft, err := h.pipeline.Acquire(c.Request.Context(), fetchReq)
	if err != nil {
		var ferr *domain.FetchError
		if errors.As(err, &ferr) {
			c.JSON(statusFor(err), errorBody{
				Error:       err.Error(),
				Cause:       domain.Cause(err),
				ManualEntry: true,
				JobID:       job.ID,
			})
			return
		}
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"job": job, "draft": draft})
}

// ListJobs returns recent scrape jobs.
func (h *Handler) ListJobs(c *gin.Context) {
	jobs, err := h.pipeline.Jobs(c.Request.Context(), queryInt(c, "limit", 50))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"jobs": orEmpty(jobs)})
}

// GetJob returns one scrape job.
func (h *Handler) GetJob(c *gin.Context) {
	job, err := h.pipeline.Job(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, job)
}

// CancelJob cancels a running scrape job.
func (h *Handler) CancelJob(c *gin.Context) {
	if err := h.pipeline.Cancel(c.Request.Context(), c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}

type manualDraftRequest struct {
	SourceURL       string              `json:"sourceUrl"`
	RequestedBy     string              `json:"requestedBy"`
	Fields          domain.RecipeFields `json:"fields"`
	IngredientLines []string            `json:"ingredientLines"`
}

// CreateManualDraft accepts user-entered recipe data.
func (h *Handler) CreateManualDraft(c *gin.Context) {
	var req manualDraftRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	draft, err := h.pipeline.CreateManualDraft(c.Request.Context(), usecase.ManualEntry{
		SourceURL:       req.SourceURL,
		RequestedBy:     requester(c, req.RequestedBy),
		Fields:          req.Fields,
		IngredientLines: req.IngredientLines,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, draft)
}

// ListDrafts lists drafts, optionally filtered by ?status=.
func (h *Handler) ListDrafts(c *gin.Context) {
	drafts, err := h.workflow.List(c.Request.Context(), domain.DraftStatus(c.Query("status")), queryInt(c, "limit", 50))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"drafts": orEmpty(drafts)})
}

// GetDraft returns the full draft with ordered candidates and suggestions.
func (h *Handler) GetDraft(c *gin.Context) {
	h.respondDraft(c, h.workflow.Get)
}

// OpenDraft starts or resumes the review.
func (h *Handler) OpenDraft(c *gin.Context) {
	h.respondDraft(c, h.workflow.Open)
}

// ReopenDraft sends a validated draft back to review.
func (h *Handler) ReopenDraft(c *gin.Context) {
	h.respondDraft(c, h.workflow.Reopen)
}

// ValidateDraft checks the draft and moves it to validated.
func (h *Handler) ValidateDraft(c *gin.Context) {
	h.respondDraft(c, h.workflow.Validate)
}

// RejectDraft ends the review.
func (h *Handler) RejectDraft(c *gin.Context) {
	h.respondDraft(c, h.workflow.Reject)
}

type fieldsRequest struct {
	Name         *string  `json:"name"`
	Description  *string  `json:"description"`
	Instructions *string  `json:"instructions"`
	PrepMinutes  *int     `json:"prepMinutes"`
	CookMinutes  *int     `json:"cookMinutes"`
	Servings     *int     `json:"servings"`
	Cuisine      *string  `json:"cuisine"`
	MealCategory *string  `json:"mealCategory"`
	DietaryTags  []string `json:"dietaryTags"`
}

// UpdateFields applies a partial edit of the recipe fields.
func (h *Handler) UpdateFields(c *gin.Context) {
	var req fieldsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	draft, err := h.workflow.UpdateFields(c.Request.Context(), c.Param("id"), usecase.FieldEdit(req))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, draft)
}

type ingredientsRequest struct {
	Lines []string `json:"lines"`
}

// ReplaceIngredients swaps the ingredient block and re-resolves it.
func (h *Handler) ReplaceIngredients(c *gin.Context) {
	var req ingredientsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	draft, err := h.workflow.ReplaceIngredientLines(c.Request.Context(), c.Param("id"), req.Lines)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, draft)
}

type decisionRequest struct {
	Decision     string   `json:"decision" binding:"required"`
	IngredientID int64    `json:"ingredientId"`
	Name         string   `json:"name"`
	Quantity     *float64 `json:"quantity"`
	Unit         string   `json:"unit"`
	Note         string   `json:"note"`
}

// Decide records a decision for one candidate.
func (h *Handler) Decide(c *gin.Context) {
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		badRequest(c, "candidate index must be a number")
		return
	}
	var req decisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	draft, err := h.workflow.Decide(c.Request.Context(), c.Param("id"), index, usecase.Decision{
		Kind:         usecase.DecisionKind(strings.TrimSpace(req.Decision)),
		IngredientID: req.IngredientID,
		Name:         req.Name,
		Quantity:     req.Quantity,
		Unit:         req.Unit,
		Note:         req.Note,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, draft)
}

// CommitDraft commits a validated draft into the catalog.
func (h *Handler) CommitDraft(c *gin.Context) {
	recipe, err := h.workflow.Commit(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, recipe)
}

// GetRecipe returns a committed recipe with its ingredient links.
func (h *Handler) GetRecipe(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		badRequest(c, "recipe id must be a number")
		return
	}
	recipe, links, err := h.catalog.Recipe(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"recipe": recipe, "ingredients": orEmpty(links)})
}

// ListIngredients returns the catalog with usage counts.
func (h *Handler) ListIngredients(c *gin.Context) {
	ingredients, err := h.catalog.Ingredients(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ingredients": orEmpty(ingredients)})
}

// Duplicates reports likely duplicate catalog entries.
func (h *Handler) Duplicates(c *gin.Context) {
	threshold := 0.0
	if raw := c.Query("threshold"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || v <= 0 || v > 1 {
			badRequest(c, "threshold must be in (0, 1]")
			return
		}
		threshold = v
	}
	groups, err := h.catalog.Duplicates(c.Request.Context(), threshold)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"groups": orEmpty(groups)})
}

type mergeRequest struct {
	SourceID    int64  `json:"sourceId" binding:"required"`
	TargetID    int64  `json:"targetId" binding:"required"`
	InitiatedBy string `json:"initiatedBy"`
}

// Merge folds one ingredient into another.
func (h *Handler) Merge(c *gin.Context) {
	var req mergeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	op, err := h.catalog.Merge(c.Request.Context(), req.SourceID, req.TargetID, requester(c, req.InitiatedBy))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, op)
}

// ListMerges returns the merge history.
func (h *Handler) ListMerges(c *gin.Context) {
	ops, err := h.catalog.Merges(c.Request.Context(), queryInt(c, "limit", 50))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"merges": orEmpty(ops)})
}

// Audit returns the most recent scrape audit entries.
func (h *Handler) Audit(c *gin.Context) {
	if h.audit == nil {
		c.JSON(http.StatusOK, gin.H{"entries": []domain.AuditEntry{}})
		return
	}
	entries, err := h.audit.RecentAudit(c.Request.Context(), queryInt(c, "limit", 100))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": orEmpty(entries)})
}

func (h *Handler) respondDraft(c *gin.Context, op func(ctx context.Context, id string) (domain.RecipeDraft, error)) {
	draft, err := op(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, draft)
}

// requester prefers the explicit body value, then the X-User header.
func requester(c *gin.Context, explicit string) string {
	if v := strings.TrimSpace(explicit); v != "" {
		return v
	}
	return strings.TrimSpace(c.GetHeader("X-User"))
}

func queryInt(c *gin.Context, key string, def int) int {
	v, err := strconv.Atoi(c.Query(key))
	if err != nil || v <= 0 {
		return def
	}
	return v
}

func orEmpty[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
