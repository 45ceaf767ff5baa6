package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/querypilot/querypilot/internal/api"
	"github.com/querypilot/querypilot/internal/archive"
	"github.com/querypilot/querypilot/internal/auth"
	"github.com/querypilot/querypilot/internal/config"
	"github.com/querypilot/querypilot/internal/dbx"
	"github.com/querypilot/querypilot/internal/engine"
	"github.com/querypilot/querypilot/internal/history"
	"github.com/querypilot/querypilot/internal/nl2sql"
	"github.com/querypilot/querypilot/internal/observability"
	"github.com/querypilot/querypilot/internal/rollback"
	"github.com/querypilot/querypilot/internal/schema"
	"github.com/querypilot/querypilot/internal/session"
)

func main() {
	cfg, err := config.LoadFromEnv("querypilot-api")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg, os.Stdout)

	targetDB, err := dbx.Open(context.Background(), cfg.Target)
	if err != nil {
		logger.Error("failed to open target database", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() { _ = targetDB.Close() }()

	dialect, dialectName, err := dbx.Dialect(cfg.Target.Driver)
	if err != nil {
		logger.Error("unsupported target driver", slog.Any("error", err))
		os.Exit(1)
	}
	introspector, err := schema.NewIntrospector(targetDB, dialect, cfg.Target.Database, cfg.Prompt.SchemaSampleRows)
	if err != nil {
		logger.Error("failed to build schema introspector", slog.Any("error", err))
		os.Exit(1)
	}
	schemaCache := schema.NewCache(introspector, cfg.Target.SchemaCacheTTL)

	translator, err := buildTranslator(cfg)
	if err != nil {
		logger.Error("failed to initialize query translator", slog.Any("error", err))
		os.Exit(1)
	}

	var newLog session.LogFactory
	if cfg.History.Backend == "sqlite" {
		store, err := history.OpenStore(context.Background(), cfg.History.Path)
		if err != nil {
			logger.Error("failed to open history store", slog.Any("error", err))
			os.Exit(1)
		}
		defer func() { _ = store.Close() }()
		newLog = store.ForSession
	}

	sessions := session.NewManager(logger, schemaCache, translator,
		engine.New(targetDB, logger),
		&rollback.Generator{MaxAffectedRows: cfg.Rollback.MaxAffectedRows},
		newLog,
		session.Config{Dialect: dialectName, PromptBudget: cfg.Prompt.SchemaBudget})

	var exporter *archive.Exporter
	if cfg.Archive.Enabled {
		exporter, err = archive.New(context.Background(), archive.Config{
			Endpoint:         cfg.Archive.Endpoint,
			Region:           cfg.Archive.Region,
			Bucket:           cfg.Archive.Bucket,
			AccessKeyID:      cfg.Archive.AccessKeyID,
			SecretAccessKey:  cfg.Archive.SecretAccessKey,
			UseSSL:           cfg.Archive.UseSSL,
			Prefix:           cfg.Archive.Prefix,
			AutoCreateBucket: cfg.Archive.AutoCreateBucket,
		})
		if err != nil {
			logger.Error("failed to initialize archive exporter", slog.Any("error", err))
			os.Exit(1)
		}
	}

	deps := api.Dependencies{
		Logger:   logger,
		Sessions: sessions,
		Schema:   schemaCache,
		Archive:  exporter,
		Readiness: api.CombineReadinessChecks(
			func(ctx context.Context) error { return targetDB.PingContext(ctx) },
			api.CheckArchiveConfig(cfg),
		),
		DependencyTimeout: time.Second,
	}
	if cfg.Auth.Required {
		validator, err := auth.NewStaticAPIKeyValidator(cfg.Auth.StaticKeys)
		if err != nil {
			logger.Error("failed to parse static auth keys", slog.Any("error", err))
			os.Exit(1)
		}
		deps.AuthMiddleware = auth.Middleware(logger, validator)
	}

	handler := api.NewHandler(cfg, deps)
	server := &http.Server{
		Addr:         cfg.HTTP.Address,
		Handler:      handler,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("starting api server",
			slog.String("addr", cfg.HTTP.Address),
			slog.String("target_driver", cfg.Target.Driver))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("api server failed", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Info("shutting down api server")
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", slog.Any("error", err))
		_ = server.Close()
		os.Exit(1)
	}
}

func buildTranslator(cfg config.Config) (nl2sql.Translator, error) {
	var (
		translator nl2sql.Translator
		err        error
	)
	switch cfg.AI.Provider {
	case "ollama":
		translator, err = nl2sql.NewOllamaTranslator(nl2sql.OllamaConfig{
			BaseURL:     cfg.AI.BaseURL,
			Model:       cfg.AI.Model,
			Temperature: cfg.AI.Temperature,
			Timeout:     cfg.AI.Timeout,
		})
	default:
		translator, err = nl2sql.NewOpenAITranslator(nl2sql.OpenAIConfig{
			BaseURL:     cfg.AI.BaseURL,
			APIKey:      cfg.AI.APIKey,
			Model:       cfg.AI.Model,
			Temperature: cfg.AI.Temperature,
			Timeout:     cfg.AI.Timeout,
		})
	}
	if err != nil {
		return nil, err
	}
	if cfg.AI.RetryLimit > 1 {
		translator = nl2sql.NewRetryingTranslator(translator, cfg.AI.RetryLimit, cfg.AI.RetryBackoff)
	}
	return translator, nil
}
