// Command gateway runs the query-time HTTP service: hybrid search, grounded
// question answering, and feedback capture.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/searchit/searchit"
	"github.com/searchit/searchit/bus/kafka"
	"github.com/searchit/searchit/config"
	"github.com/searchit/searchit/embed"
	"github.com/searchit/searchit/observer"
	ossearch "github.com/searchit/searchit/search/opensearch"
	qdsearch "github.com/searchit/searchit/search/qdrant"
	"github.com/searchit/searchit/server"
	"github.com/searchit/searchit/store/postgres"
)

const (
	rateLimit  = 10
	rateWindow = time.Minute
)

func main() {
	configPath := flag.String("config", "", "path to TOML config file")
	flag.Parse()

	cfg := config.Load(*configPath)
	logger := newLogger(cfg.Env)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("gateway exited", "error", err)
		os.Exit(1)
	}
}

func newLogger(env string) *slog.Logger {
	if env == "dev" {
		return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, nil))
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observer.Init(ctx, cfg.OTELServiceName, cfg.OTELExporterOTLPEndpoint)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(shutdownCtx)
	}()

	// Metadata store
	pool, err := pgxpool.New(ctx, cfg.Postgres.DSN())
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pool.Close()

	store := postgres.New(pool)
	if err := store.Init(ctx); err != nil {
		return err
	}

	// Search backends
	lexical, err := ossearch.New(cfg.OpenSearchURL, cfg.EmbedDim, ossearch.WithLogger(logger))
	if err != nil {
		return err
	}

	dense, err := qdsearch.New(cfg.QdrantURL, cfg.EmbedDim)
	if err != nil {
		return err
	}
	defer dense.Close()
	// A dimension mismatch between config and the live collection would
	// silently ruin every dense query, so it is fatal here.
	if err := dense.Init(ctx); err != nil {
		return fmt.Errorf("init qdrant: %w", err)
	}

	embedder := embed.New(cfg.EmbedModel, cfg.EmbedDim, cfg.EmbedEndpoint, cfg.GeneratorAPIKey)

	retriever := searchit.NewHybridRetriever(lexical, dense, embedder,
		searchit.WithRRFK(cfg.RRFK),
		searchit.WithRetrieverLogger(logger))

	reranker := newReranker(cfg, logger)
	generator := searchit.NewGenerator(newSynthesizer(cfg, logger),
		searchit.WithGeneratorLogger(logger))

	producer := kafka.NewProducer(cfg.KafkaBroker, logger)
	defer producer.Close()

	limiter := searchit.NewSlidingWindowLimiter(rateLimit, rateWindow)

	srv := server.New(retriever, reranker, generator, store, limiter,
		server.Params{
			DefaultTopK: cfg.DefaultTopK,
			MaxTopK:     cfg.MaxTopK,
			RerankTopK:  cfg.RerankTopK,
			FinalTopK:   cfg.FinalTopK,
		},
		server.WithLogger(logger),
		server.WithEvents(producer),
	)

	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.GatewayPort),
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      90 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("gateway listening",
			"port", cfg.GatewayPort,
			"env", cfg.Env,
			"embed_model", cfg.EmbedModel,
			"generator", cfg.Generator)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpSrv.Shutdown(shutdownCtx)
}

// newReranker picks the cross-encoder when a serving endpoint is configured,
// the deterministic overlap stub otherwise.
func newReranker(cfg config.Config, logger *slog.Logger) searchit.Reranker {
	if cfg.RerankerEndpoint != "" {
		return searchit.NewCrossEncoder(cfg.RerankerEndpoint, cfg.RerankerModel)
	}
	logger.Info("no reranker endpoint configured, using overlap stub")
	return searchit.NewOverlapReranker(0)
}

// newSynthesizer maps the generator setting to a Synthesizer. hf without a
// token and api without a URL fall back to the stub rather than failing at
// startup.
func newSynthesizer(cfg config.Config, logger *slog.Logger) searchit.Synthesizer {
	switch cfg.Generator {
	case "hf":
		if cfg.HFToken == "" {
			logger.Warn("generator=hf but no hf_token set, falling back to stub")
			return searchit.StubSynthesizer{}
		}
		return searchit.NewHFSynthesizer(cfg.GeneratorModel, cfg.HFToken)
	case "api":
		if cfg.GeneratorAPIURL == "" {
			logger.Warn("generator=api but no generator_api_url set, falling back to stub")
			return searchit.StubSynthesizer{}
		}
		return searchit.NewAPISynthesizer(cfg.GeneratorAPIURL, cfg.GeneratorAPIKey, cfg.GeneratorModel)
	default:
		return searchit.StubSynthesizer{}
	}
}
