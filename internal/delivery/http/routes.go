package http

import (
	"log/slog"

	"github.com/gin-gonic/gin"

	"RecipeAcquisition/internal/config"
)

// SetupRouter creates and configures the Gin router.
func SetupRouter(cfg config.HTTPConfig, handler *Handler, logger *slog.Logger) *gin.Engine {
	if cfg.Mode == gin.ReleaseMode || cfg.Mode == gin.DebugMode || cfg.Mode == gin.TestMode {
		gin.SetMode(cfg.Mode)
	}

	router := gin.New()

	router.Use(RecoveryMiddleware())
	router.Use(LoggerMiddleware(logger))
	router.Use(CORSMiddleware(cfg.AllowedOrigins))

	router.GET("/health", handler.HealthCheck)
	router.GET("/metrics", handler.Metrics)

	v1 := router.Group("/api/v1")
	{
		scrapes := v1.Group("/scrapes")
		{
			scrapes.POST("", handler.Scrape)
			scrapes.GET("", handler.ListJobs)
			scrapes.GET("/:id", handler.GetJob)
			scrapes.DELETE("/:id", handler.CancelJob)
		}

		drafts := v1.Group("/drafts")
		{
			drafts.POST("", handler.CreateManualDraft)
			drafts.GET("", handler.ListDrafts)
			drafts.GET("/:id", handler.GetDraft)
			drafts.POST("/:id/open", handler.OpenDraft)
			drafts.POST("/:id/reopen", handler.ReopenDraft)
			drafts.PATCH("/:id/fields", handler.UpdateFields)
			drafts.PUT("/:id/ingredients", handler.ReplaceIngredients)
			drafts.POST("/:id/candidates/:index", handler.Decide)
			drafts.POST("/:id/validate", handler.ValidateDraft)
			drafts.POST("/:id/commit", handler.CommitDraft)
			drafts.POST("/:id/reject", handler.RejectDraft)
		}

		ingredients := v1.Group("/ingredients")
		{
			ingredients.GET("", handler.ListIngredients)
			ingredients.GET("/duplicates", handler.Duplicates)
			ingredients.POST("/merge", handler.Merge)
			ingredients.GET("/merges", handler.ListMerges)
		}

		v1.GET("/recipes/:id", handler.GetRecipe)
		v1.GET("/audit", handler.Audit)
	}

	return router
}
