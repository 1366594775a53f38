// Command omni-orchestrator runs the event-driven runtime host: it wires
// the configured adapters, registers the repository crawler and document
// indexer handlers, drives the bus consume loop, and serves an ambient
// health/metrics HTTP surface. Grounded on cmd/api/main.go's
// config->wire->signal.NotifyContext->Shutdown skeleton.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/omninode-ai/omniintelligence-core/internal/adapters/embedding"
	"github.com/omninode-ai/omniintelligence-core/internal/adapters/graph"
	"github.com/omninode-ai/omniintelligence-core/internal/adapters/httpclient"
	"github.com/omninode-ai/omniintelligence-core/internal/adapters/relational"
	"github.com/omninode-ai/omniintelligence-core/internal/adapters/vector"
	"github.com/omninode-ai/omniintelligence-core/internal/bus"
	"github.com/omninode-ai/omniintelligence-core/internal/config"
	"github.com/omninode-ai/omniintelligence-core/internal/contextwriter"
	"github.com/omninode-ai/omniintelligence-core/internal/crawler"
	"github.com/omninode-ai/omniintelligence-core/internal/domain"
	"github.com/omninode-ai/omniintelligence-core/internal/envelope"
	"github.com/omninode-ai/omniintelligence-core/internal/handler"
	"github.com/omninode-ai/omniintelligence-core/internal/indexer"
	"github.com/omninode-ai/omniintelligence-core/internal/metrics"
	"github.com/omninode-ai/omniintelligence-core/internal/orchestrator"
	"github.com/omninode-ai/omniintelligence-core/pkg/mid"
	"github.com/omninode-ai/omniintelligence-core/pkg/resilience"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		logger.Error("omni-orchestrator exited with error", "err", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// --- Connect to the event bus ---
	nc, err := nats.Connect(cfg.Bus.URL)
	if err != nil {
		return fmt.Errorf("nats connect: %w", err)
	}
	defer nc.Close()

	codec := envelope.NewCodec(envelope.DefaultPayloadCap)
	router := envelope.NewRouter(cfg.Bus.DeadLetterEnv, cfg.Bus.StreamName)
	b := bus.New(nc, codec, router, logger)

	// --- Connect to Neo4j ---
	neo4jDriver, err := neo4j.NewDriverWithContext(cfg.Graph.URI, neo4j.BasicAuth(cfg.Graph.User, cfg.Graph.Password, ""))
	if err != nil {
		return fmt.Errorf("neo4j driver: %w", err)
	}
	defer neo4jDriver.Close(ctx)
	graphStore := graph.New(neo4jDriver)

	// --- Connect to Qdrant ---
	vectorStore, err := vector.New(cfg.Vector.Addr)
	if err != nil {
		return fmt.Errorf("qdrant connect: %w", err)
	}
	defer vectorStore.Close()
	if err := vectorStore.EnsureCollection(ctx, cfg.Vector.Collection, int(cfg.Vector.Dimensions)); err != nil {
		return fmt.Errorf("qdrant ensure collection: %w", err)
	}

	// --- Connect to Postgres ---
	db, err := sql.Open("postgres", cfg.Relational.DSN)
	if err != nil {
		return fmt.Errorf("postgres open: %w", err)
	}
	defer db.Close()
	relationalStore := relational.New(db)

	// --- Embedding service client ---
	httpOpts := httpclient.DefaultOpts
	httpOpts.MaxConnections = cfg.HTTPClient.MaxConnections
	httpOpts.MaxIdleConns = cfg.HTTPClient.MaxKeepaliveConnections
	httpOpts.ConnectTimeout = time.Duration(cfg.HTTPClient.ConnectTimeoutSeconds) * time.Second
	httpOpts.RequestTimeout = time.Duration(cfg.HTTPClient.RequestTimeoutSeconds) * time.Second
	httpOpts.MaxAttempts = cfg.HTTPClient.MaxAttempts
	httpClient := httpclient.New(httpOpts)
	embeddingClient := embedding.New(cfg.Embedding.ModelURL, cfg.Embedding.Model, httpClient)

	tierRules := make([]domain.TierRule, 0, len(cfg.BootstrapTiers))
	for _, t := range cfg.BootstrapTiers {
		tierRules = append(tierRules, domain.TierRule{
			Glob:       t.Pattern,
			Tier:       domain.BootstrapTier(t.Tier),
			Confidence: t.Confidence,
		})
	}

	writer := contextwriter.New(contextwriter.Deps{
		Relational: relationalStore,
		Vector:     vectorStore,
		Graph:      graphStore,
		Publisher:  b,
		TierRules:  tierRules,
		Logger:     logger,
	})

	// --- Handlers ---
	repositoryCrawler := crawler.New(crawler.Deps{
		Bus:       b,
		BatchSize: cfg.Crawler.BatchSize,
		Logger:    logger,
	})

	documentIndexer := indexer.New(indexer.Deps{
		Embedding:         embeddingClient,
		Graph:             graphStore,
		ContextWriter:     writer,
		MaxConcurrentDocs: cfg.Indexer.MaxConcurrentDocuments,
		Logger:            logger,
	})

	registry := handler.NewRegistry()
	registry.Register(repositoryCrawler)
	registry.Register(documentIndexer)

	// --- Runtime host ---
	reg := metrics.New("omni-orchestrator")
	host := orchestrator.New(b, codec, registry, orchestrator.HostOpts{
		MaxInFlight:    cfg.Orchestrator.MaxInFlight,
		HandlerTimeout: cfg.Orchestrator.HandlerTimeout(),
		ShutdownGrace:  cfg.Orchestrator.ShutdownGrace(),
		BreakerOpts: resilience.BreakerOpts{
			FailThreshold: cfg.Orchestrator.BreakerFailThreshold,
			Timeout:       cfg.Orchestrator.BreakerTimeout(),
			HalfOpenMax:   1,
		},
		Recorder: reg,
		Logger:   logger,
	})

	for _, eventType := range []string{domain.EventRepositoryScanRequested, domain.EventDocumentIndexRequested} {
		subject := router.TopicFor(eventType)
		if _, err := host.Consume(subject); err != nil {
			return fmt.Errorf("subscribe %s: %w", subject, err)
		}
		logger.Info("omni-orchestrator: subscribed", "event_type", eventType, "subject", subject)
	}

	// --- Ambient health/metrics HTTP surface ---
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", handleHealth)
	mux.Handle("GET /metrics", metrics.Handler())

	srv := &http.Server{
		Addr:         cfg.Metrics.ListenAddr,
		Handler:      mid.Chain(mux, mid.Logger(logger), mid.Recover(logger), mid.OTel("omni-orchestrator")),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("omni-orchestrator: metrics server starting", "addr", cfg.Metrics.ListenAddr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
	case <-ctx.Done():
		logger.Info("omni-orchestrator: shutdown signal received")
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), cfg.Orchestrator.ShutdownGrace())
	defer cancel()
	_ = srv.Shutdown(shutCtx)

	return host.Shutdown(shutCtx)
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}
