package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"RecipeAcquisition/internal/clock"
	"RecipeAcquisition/internal/config"
	httpDelivery "RecipeAcquisition/internal/delivery/http"
	"RecipeAcquisition/internal/infrastructure/audit"
	"RecipeAcquisition/internal/infrastructure/fetcher"
	"RecipeAcquisition/internal/infrastructure/llm"
	"RecipeAcquisition/internal/infrastructure/metrics"
	"RecipeAcquisition/internal/infrastructure/parser"
	"RecipeAcquisition/internal/infrastructure/scheduler"
	"RecipeAcquisition/internal/infrastructure/storage"
	"RecipeAcquisition/internal/logging"
	"RecipeAcquisition/internal/ports"
	"RecipeAcquisition/internal/resolver"
	"RecipeAcquisition/internal/scanner"
	"RecipeAcquisition/internal/usecase"
)

const shutdownTimeout = 10 * time.Second

// Application wires configs to use cases and lifecycle orchestration.
type Application struct {
	cfg    config.Config
	logger *slog.Logger

	store   *storage.Store
	mongo   *audit.MongoSink
	metrics *metrics.Metrics

	Pipeline *usecase.Pipeline
	Workflow *usecase.Workflow
	Catalog  *usecase.Catalog

	maintenance *usecase.Maintenance
	scheduler   *usecase.Scheduler
}

// New opens storage and builds every use case. Call Close when done.
func New(ctx context.Context, cfg config.Config, baseLogger *slog.Logger) (*Application, error) {
	if baseLogger == nil {
		baseLogger = logging.NewWithFormat(cfg.Logging.Level, cfg.Logging.Format, nil)
	}
	clk := clock.Real{}

	store, err := storage.Open(ctx, cfg.Database, clk, baseLogger.With("component", "storage"))
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	a := &Application{cfg: cfg, logger: baseLogger, store: store, metrics: metrics.New()}

	var mirrors []ports.AuditLog
	if cfg.Audit.MongoURI != "" {
		sink, err := audit.ConnectMongo(ctx, cfg.Audit)
		if err != nil {
			baseLogger.Warn("mongo audit mirror disabled", "error", err)
		} else {
			a.mongo = sink
			mirrors = append(mirrors, sink)
		}
	}
	auditLog := audit.NewMulti(store, baseLogger.With("component", "audit"), mirrors...)

	fetch := fetcher.New(fetcher.OptionsFromConfig(cfg.Fetcher), fetcher.Deps{
		Client:  &http.Client{},
		Clock:   clk,
		Audit:   auditLog,
		Metrics: a.metrics,
		Logger:  baseLogger.With("component", "fetcher"),
	})

	res := resolver.New(resolver.Options{
		HighThreshold: cfg.Matching.HighThreshold,
		LowThreshold:  cfg.Matching.LowThreshold,
		TopN:          cfg.Matching.TopN,
		Units:         cfg.Matching.Units,
	}, resolver.Deps{
		Catalog: store,
		Clock:   clk,
		Logger:  baseLogger.With("component", "resolver"),
	})

	var enricher ports.Enricher
	if cfg.ChatGPT.Enabled() {
		enricher = llm.NewChatGPTClient(cfg.ChatGPT)
	}

	a.Pipeline = usecase.NewPipeline(usecase.PipelineDeps{
		Fetcher:   fetch,
		Extractor: parser.NewExtractor(scanner.NewDefaultRegistry(cfg.Sites), baseLogger.With("component", "extractor")),
		Resolver:  res,
		Enricher:  enricher,
		Drafts:    store,
		Jobs:      store,
		Clock:     clk,
		Metrics:   a.metrics,
		Logger:    baseLogger.With("component", "pipeline"),
	})
	a.Workflow = usecase.NewWorkflow(usecase.WorkflowDeps{
		Drafts:   store,
		Catalog:  store,
		Resolver: res,
		Clock:    clk,
		Metrics:  a.metrics,
		Logger:   baseLogger.With("component", "workflow"),
	})
	a.Catalog = usecase.NewCatalog(store, res, cfg.Matching.DuplicateThreshold, a.metrics, baseLogger.With("component", "catalog"))

	a.maintenance = usecase.NewMaintenance(usecase.MaintenanceDeps{
		Robots:        fetch.Robots(),
		Hosts:         fetch.Hosts(),
		Users:         fetch.Users(),
		Jobs:          store,
		HostIdleAfter: cfg.Maintenance.HostIdleAfter,
		StaleJobAfter: cfg.Maintenance.StaleJobAfter,
		Clock:         clk,
		Logger:        baseLogger.With("component", "maintenance"),
	})
	a.scheduler = usecase.NewScheduler(
		scheduler.NewIntervalScheduler(cfg.Maintenance.Interval, clk),
		a.maintenance,
		baseLogger.With("component", "scheduler"),
	)

	return a, nil
}

// Serve runs the review API and the maintenance loop until ctx is cancelled.
func (a *Application) Serve(ctx context.Context) error {
	if err := a.scheduler.Start(ctx); err != nil {
		return fmt.Errorf("start maintenance: %w", err)
	}

	var auditReader ports.AuditReader = a.store
	if a.mongo != nil {
		auditReader = a.mongo
	}
	handler := httpDelivery.NewHandler(a.Pipeline, a.Workflow, a.Catalog, auditReader, a.metrics)
	router := httpDelivery.SetupRouter(a.cfg.HTTP, handler, a.logger.With("component", "http"))

	listener, err := net.Listen("tcp", a.cfg.HTTP.Addr)
	if err != nil {
		return fmt.Errorf("http listen: %w", err)
	}
	server := &http.Server{
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      2 * time.Minute,
		IdleTimeout:       60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.Serve(listener)
	}()
	a.logger.Info("review api listening", "address", listener.Addr().String())

	select {
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http serve: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		a.logger.Warn("http shutdown", "error", err)
	}
	if err := a.scheduler.Stop(shutdownCtx); err != nil {
		a.logger.Warn("maintenance stop", "error", err)
	}
	a.Pipeline.Wait()
	return nil
}

// RunMaintenance performs a single cleanup pass.
func (a *Application) RunMaintenance(ctx context.Context) (usecase.MaintenanceReport, error) {
	return a.maintenance.RunOnce(ctx)
}

// Close releases storage and the optional audit mirror.
func (a *Application) Close(ctx context.Context) error {
	var errs []error
	if a.mongo != nil {
		if err := a.mongo.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if err := a.store.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
