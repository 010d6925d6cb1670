package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/miradorstack/mirador-aha/internal/api"
	"github.com/miradorstack/mirador-aha/internal/cache"
	"github.com/miradorstack/mirador-aha/internal/config"
	"github.com/miradorstack/mirador-aha/internal/engine"
	"github.com/miradorstack/mirador-aha/internal/extractors"
	"github.com/miradorstack/mirador-aha/internal/llm"
	"github.com/miradorstack/mirador-aha/internal/metrics"
	"github.com/miradorstack/mirador-aha/internal/patterns"
	"github.com/miradorstack/mirador-aha/internal/repo"
	"github.com/miradorstack/mirador-aha/internal/services"
	"github.com/miradorstack/mirador-aha/internal/store"
	"github.com/miradorstack/mirador-aha/internal/tracing"
	"github.com/miradorstack/mirador-aha/internal/utils"
)

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook, HTTP API, gRPC and metrics listeners",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), *configPath)
		},
	}
}

func runServe(parent context.Context, configPath string) error {
	if parent == nil {
		parent = context.Background()
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := utils.NewLogger(cfg.Logging.Level, cfg.Logging.JSON)
	logger.Info("starting mirador-aha",
		slog.String("version", version),
		slog.String("http_address", cfg.Server.HTTPAddress),
		slog.String("grpc_address", cfg.Server.GRPCAddress),
	)

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tp, err := tracing.New(ctx, cfg.Tracing, version, logger)
	if err != nil {
		return err
	}

	cacheProvider := buildCache(ctx, cfg.Cache, logger)
	defer cacheProvider.Close()

	incidents := store.NewMemoryStore()

	traces := repo.NewLangSmithClient(repo.LangSmithConfig{
		BaseURL:  cfg.LangSmith.BaseURL,
		APIKey:   cfg.LangSmith.APIKey,
		Timeout:  cfg.LangSmith.Timeout,
		PageSize: cfg.LangSmith.PageSize,
		MaxPages: cfg.LangSmith.MaxPages,
		CacheTTL: cfg.Cache.TraceTTL,
	}, cacheProvider, logger)
	if cfg.LangSmith.APIKey == "" {
		logger.Warn("LANGSMITH_API_KEY not set; trace retrieval will likely fail")
	}

	chain, err := llm.FromConfig(ctx, cfg.LLM, logger)
	if err != nil {
		return fmt.Errorf("initialise llm providers: %w", err)
	}
	if len(chain.Names()) == 0 {
		logger.Warn("no llm provider configured; every diagnosis will fall back")
	}

	var creator engine.IssueCreator
	if cfg.GitHub.Configured() {
		creator = buildGitHub(ctx, cfg.GitHub, logger)
	}

	newRules := engine.NewRuleEngine
	if cfg.Rules.Watch {
		newRules = engine.NewWatchedRuleEngine
	}
	ruleEngine, err := newRules(cfg.Rules.Path, logger)
	if err != nil {
		return fmt.Errorf("load rule pack: %w", err)
	}

	diagnoser := engine.NewDiagnosisEngine(logger, chain, extractors.NewRunExtractor(), engine.DiagnosisOptions{
		Temperature: cfg.LLM.Temperature,
		MaxTokens:   cfg.LLM.MaxTokens,
	})
	filer := engine.NewIssueFiler(logger, creator, cfg.GitHub.Labels)
	pipeline := engine.NewPipeline(logger, incidents, traces, diagnoser, filer, ruleEngine, cfg.LangSmith.AppURL)
	pipeline.SetTracer(tp.Tracer("github.com/miradorstack/mirador-aha/internal/engine"))

	dispatcher := services.NewDispatcher(logger, cfg.Dispatcher.Workers, cfg.Dispatcher.QueueSize)
	incidentService := services.NewIncidentService(logger, incidents, pipeline, dispatcher,
		patterns.NewMiner(logger, 1),
		services.Capabilities{LLMProviders: chain.Names(), IssueFiling: filer.Enabled()},
	)

	grpcServer, err := api.NewServer(cfg.Server, logger, api.NewIncidentGRPC(incidentService))
	if err != nil {
		return fmt.Errorf("create grpc server: %w", err)
	}

	httpServer := &http.Server{
		Addr: cfg.Server.HTTPAddress,
		Handler: api.NewHTTPHandler(logger, incidentService, api.HTTPOptions{
			Version:        version,
			Debug:          cfg.Server.Debug,
			AllowedOrigins: cfg.Server.AllowedOrigins,
		}),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
	}

	var metricsServer *http.Server
	if cfg.Server.MetricsAddress != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{
			Addr:         cfg.Server.MetricsAddress,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 15 * time.Second,
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("http server listening", slog.String("address", cfg.Server.HTTPAddress))
		return serveHTTP(httpServer)
	})
	g.Go(func() error {
		logger.Info("grpc server listening", slog.String("address", grpcServer.Address()))
		return grpcServer.Start()
	})
	if metricsServer != nil {
		g.Go(func() error {
			logger.Info("metrics server listening", slog.String("address", cfg.Server.MetricsAddress))
			return serveHTTP(metricsServer)
		})
	}
	if cfg.Rules.Watch && ruleEngine != nil {
		g.Go(func() error {
			if err := ruleEngine.Watch(gctx, cfg.Rules.Debounce); err != nil {
				logger.Warn("rule pack watch stopped", slog.Any("error", err))
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), grpcServer.GracefulTimeout())
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("http server shutdown", slog.Any("error", err))
		}
		grpcServer.Shutdown(shutdownCtx)
		if err := dispatcher.Close(shutdownCtx); err != nil {
			logger.Warn("background incidents still running at shutdown", slog.Any("error", err))
		}
		if metricsServer != nil {
			if err := metricsServer.Shutdown(shutdownCtx); err != nil {
				logger.Warn("metrics server shutdown", slog.Any("error", err))
			}
		}
		if err := tp.Shutdown(shutdownCtx); err != nil {
			logger.Warn("tracing shutdown", slog.Any("error", err))
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("server exited", slog.Any("error", err))
		return err
	}
	logger.Info("mirador-aha stopped")
	return nil
}

func serveHTTP(srv *http.Server) error {
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func buildGitHub(ctx context.Context, cfg config.GitHubConfig, logger *slog.Logger) *repo.GitHubClient {
	gh := repo.NewGitHubClient(repo.GitHubConfig{
		BaseURL:   cfg.BaseURL,
		Token:     cfg.Token,
		RepoOwner: cfg.RepoOwner,
		RepoName:  cfg.RepoName,
		Timeout:   cfg.Timeout,
	})
	checkCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()
	if err := gh.CheckAccess(checkCtx); err != nil {
		logger.Warn("github repository check failed; filing will be attempted anyway",
			slog.String("repository", gh.Repository()), slog.Any("error", err))
	} else {
		logger.Info("github issue filing enabled", slog.String("repository", gh.Repository()))
	}
	return gh
}

func buildCache(ctx context.Context, cfg config.CacheConfig, logger *slog.Logger) cache.Provider {
	switch cfg.Backend {
	case "memory":
		logger.Info("trace cache: in-process", slog.Int("size", cfg.MemorySize), slog.Duration("ttl", cfg.TraceTTL))
		return cache.NewLRUProvider(cfg.MemorySize, cfg.TraceTTL)
	case "valkey":
		provider, err := cache.NewValkeyProvider(ctx, cache.ValkeyConfig{
			Addr:         cfg.Addr,
			Username:     cfg.Username,
			Password:     cfg.Password,
			DB:           cfg.DB,
			KeyPrefix:    cfg.KeyPrefix,
			DialTimeout:  cfg.DialTimeout,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			MaxRetries:   cfg.MaxRetries,
			TLS:          cfg.TLS,
		})
		if err != nil {
			logger.Warn("valkey cache unavailable; traces will not be cached", slog.Any("error", err))
			return cache.NoopProvider{}
		}
		logger.Info("trace cache: valkey", slog.String("addr", cfg.Addr))
		return provider
	default:
		return cache.NoopProvider{}
	}
}
