package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vetralabs/vetra/internal/audit"
	"github.com/vetralabs/vetra/internal/capability"
	"github.com/vetralabs/vetra/internal/config"
	"github.com/vetralabs/vetra/internal/contextstore"
	"github.com/vetralabs/vetra/internal/corpus"
	"github.com/vetralabs/vetra/internal/engine"
	"github.com/vetralabs/vetra/internal/httpapi"
	"github.com/vetralabs/vetra/internal/language"
	"github.com/vetralabs/vetra/internal/logging"
	"github.com/vetralabs/vetra/internal/memory"
	"github.com/vetralabs/vetra/internal/observability"
	"github.com/vetralabs/vetra/internal/pipeline"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config error", "error", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.Debug, cfg.LogJSON, os.Stdout)
	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	ctx := context.Background()

	contextStore, err := contextstore.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("context store init failed", "error", err)
		os.Exit(1)
	}
	defer contextStore.Close()

	corpusStore, err := corpus.NewStore(ctx, cfg.DatabaseURL, cfg.CorpusPath)
	if err != nil {
		logger.Error("corpus store init failed", "error", err)
		os.Exit(1)
	}
	defer corpusStore.Close()

	auditStore, err := audit.NewStore(ctx, cfg.DatabaseURL, cfg.AuditPath)
	if err != nil {
		logger.Error("audit store init failed", "error", err)
		os.Exit(1)
	}
	defer auditStore.Close()
	recorder := audit.NewRecorder(auditStore, logger)

	var authority *capability.Authority
	if strings.TrimSpace(cfg.OwnerSecret) != "" {
		authority, err = capability.NewAuthority(cfg.OwnerSecret, nil)
		if err != nil {
			logger.Error("capability authority init failed", "error", err)
			os.Exit(1)
		}
	} else {
		logger.Warn("VETRA_OWNER_SECRET unset; training writes will be rejected")
	}
	accessor := corpus.NewAccessor(corpusStore, authority, nil)

	ruleEngine := engine.NewRuleEngine()
	creativeEngine := engine.NewCreativeEngine()
	for _, lang := range []language.Tag{language.English, language.Hindi, language.Mixed} {
		if err := ruleEngine.SeedFromCorpus(lang, accessor.Examples(ctx, lang)); err != nil {
			logger.Warn("block-rule seeding incomplete", "language", lang, "error", err)
		}
		if err := creativeEngine.SeedFromCorpus(lang, accessor.Examples(ctx, lang)); err != nil {
			logger.Warn("corpus seeding incomplete", "language", lang, "error", err)
		}
	}

	mem := memory.NewManager(contextStore, cfg.ContextTTL, cfg.ContextMaxEntries, logger,
		memory.WithStoreErrorHook(func(op string) {
			metrics.MemoryErrors.WithLabelValues(op).Inc()
		}))

	p := pipeline.New(mem, ruleEngine, creativeEngine, metrics, logger,
		pipeline.WithEngineTimeout(cfg.EngineTimeout),
		pipeline.WithMaxQueryRunes(cfg.MaxQueryRunes),
	)

	api := httpapi.New(httpapi.Options{
		Responder:      p,
		Accessor:       accessor,
		Metrics:        metrics,
		Audit:          recorder,
		Logger:         logger,
		ContextStore:   contextStore,
		CorpusStore:    corpusStore,
		AllowAnyOrigin: cfg.AllowAnyOrigin,
		AskRateLimit:   cfg.AskRateLimit,
		TrainRateLimit: cfg.TrainRateLimit,
	})
	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: api.Router(),
	}

	runCtx, runCancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer runCancel()
	mem.StartJanitor(runCtx, time.Minute)

	g, gCtx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		logger.Info("server listening", "addr", cfg.BindAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gCtx.Done()
		logger.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("graceful shutdown failed", "error", err)
			_ = httpServer.Close()
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}
