package ports

import (
	"context"
	"time"

	"RecipeAcquisition/internal/domain"
)

// Fetcher retrieves raw documents under network policy constraints.
type Fetcher interface {
	Fetch(ctx context.Context, req domain.FetchRequest) (domain.ScrapedDocument, error)
}

// Extractor turns a raw document into a recipe draft. It never fails.
type Extractor interface {
	Extract(doc domain.ScrapedDocument) domain.RecipeDraft
}

// Enricher proposes extra low-confidence suggestions for a draft.
type Enricher interface {
	Suggest(ctx context.Context, draft domain.RecipeDraft) ([]domain.Suggestion, error)
}

// AuditLog receives one entry per fetch attempt.
type AuditLog interface {
	Append(ctx context.Context, entry domain.AuditEntry) error
}

// AuditReader lists recent audit entries.
type AuditReader interface {
	RecentAudit(ctx context.Context, limit int) ([]domain.AuditEntry, error)
}

// CatalogTx is the set of catalog operations available inside a transaction.
type CatalogTx interface {
	InsertRecipe(ctx context.Context, recipe domain.Recipe) (int64, error)
	InsertIngredient(ctx context.Context, ingredient domain.Ingredient) (int64, error)
	UpsertRecipeIngredientLinks(ctx context.Context, recipeID int64, links []domain.RecipeIngredientLink) error
	FindIngredientsByNormalizedName(ctx context.Context, names ...string) ([]domain.Ingredient, error)
	CountRecipeLinksForIngredient(ctx context.Context, ingredientID int64) (int, error)
	DeleteIngredient(ctx context.Context, ingredientID int64) error

	GetIngredient(ctx context.Context, ingredientID int64) (domain.Ingredient, error)
	ListRecipeLinksForIngredient(ctx context.Context, ingredientID int64) ([]domain.RecipeIngredientLink, error)
	RetargetRecipeLink(ctx context.Context, recipeID, fromID, toID int64) error
	DeleteRecipeLink(ctx context.Context, recipeID, ingredientID int64) error
	AddIngredientAlias(ctx context.Context, ingredientID int64, alias string) error
	InsertMergeOperation(ctx context.Context, op domain.MergeOperation) (int64, error)
	MergedInto(ctx context.Context, ingredientID int64) (int64, bool, error)
	UpdateDraft(ctx context.Context, draft domain.RecipeDraft) (domain.RecipeDraft, error)
}

// CatalogRepository owns the canonical ingredient catalog and committed recipes.
type CatalogRepository interface {
	CatalogTx
	Transactionally(ctx context.Context, fn func(tx CatalogTx) error) error
	ListIngredients(ctx context.Context) ([]domain.Ingredient, error)
	ListMergeOperations(ctx context.Context, limit int) ([]domain.MergeOperation, error)
	GetRecipe(ctx context.Context, recipeID int64) (domain.Recipe, []domain.RecipeIngredientLink, error)
}

// DraftRepository persists drafts between review steps.
type DraftRepository interface {
	CreateDraft(ctx context.Context, draft domain.RecipeDraft) error
	GetDraft(ctx context.Context, id string) (domain.RecipeDraft, error)
	UpdateDraft(ctx context.Context, draft domain.RecipeDraft) (domain.RecipeDraft, error)
	ListDrafts(ctx context.Context, status domain.DraftStatus, limit int) ([]domain.RecipeDraft, error)
}

// JobRepository persists scrape jobs.
type JobRepository interface {
	CreateJob(ctx context.Context, job domain.ScrapeJob) error
	UpdateJob(ctx context.Context, job domain.ScrapeJob) error
	GetJob(ctx context.Context, id string) (domain.ScrapeJob, error)
	ListJobs(ctx context.Context, limit int) ([]domain.ScrapeJob, error)
	FailStaleJobs(ctx context.Context, startedBefore time.Time, reason string) (int, error)
}

// Scheduler controls when maintenance jobs execute.
type Scheduler interface {
	Start(ctx context.Context, job func(time.Time)) error
	Stop(ctx context.Context) error
}
