// Command omni-backfill walks a repository on disk and indexes it directly
// into the vector/graph/relational stores, bypassing the event bus. Useful
// for bootstrapping a fresh deployment or re-indexing after a schema
// change. Grounded on cmd/ingest/main.go's directory-scan-and-publish flow,
// reworked onto github.com/spf13/cobra.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/spf13/cobra"

	"github.com/omninode-ai/omniintelligence-core/internal/adapters/embedding"
	"github.com/omninode-ai/omniintelligence-core/internal/adapters/graph"
	"github.com/omninode-ai/omniintelligence-core/internal/adapters/httpclient"
	"github.com/omninode-ai/omniintelligence-core/internal/adapters/relational"
	"github.com/omninode-ai/omniintelligence-core/internal/adapters/vector"
	"github.com/omninode-ai/omniintelligence-core/internal/config"
	"github.com/omninode-ai/omniintelligence-core/internal/contextwriter"
	"github.com/omninode-ai/omniintelligence-core/internal/domain"
	"github.com/omninode-ai/omniintelligence-core/internal/embedproducer"
)

var (
	flagConfigFile  string
	flagDryRun      bool
	flagMaxFiles    int
	flagProjectName string
	flagBatchSize   int
	flagVerbose     bool
)

func main() {
	root := &cobra.Command{
		Use:   "omni-backfill REPOSITORY_PATH",
		Short: "Walk a repository and index it directly into the configured stores",
		Args:  cobra.ExactArgs(1),
		RunE:  runBackfill,
	}
	root.Flags().StringVar(&flagConfigFile, "config", "", "path to a YAML config overlay")
	root.Flags().BoolVar(&flagDryRun, "dry-run", false, "walk and report without writing to any store")
	root.Flags().IntVar(&flagMaxFiles, "max-files", 0, "stop after this many files (0 = unlimited)")
	root.Flags().StringVar(&flagProjectName, "project-name", "", "crawl-scope label set on each embedded chunk (the context-item writer does not store it)")
	root.Flags().IntVar(&flagBatchSize, "batch-size", 0, "override the configured embedding batch size (0 = use config)")
	root.Flags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func runBackfill(cmd *cobra.Command, args []string) error {
	repositoryPath := args[0]

	level := slog.LevelInfo
	if flagVerbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var cfg *config.Config
	var err error
	if flagConfigFile != "" {
		cfg, err = config.LoadFile(flagConfigFile)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if flagBatchSize > 0 {
		cfg.EmbedProducer.BatchSize = flagBatchSize
	}

	info, err := os.Stat(repositoryPath)
	if err != nil || !info.IsDir() {
		return fmt.Errorf("repository path %q is not a directory", repositoryPath)
	}

	files, err := walkRepository(repositoryPath)
	if err != nil {
		return fmt.Errorf("walk repository: %w", err)
	}
	if flagMaxFiles > 0 && len(files) > flagMaxFiles {
		logger.Info("omni-backfill: truncating to max-files", "discovered", len(files), "max_files", flagMaxFiles)
		files = files[:flagMaxFiles]
	}
	logger.Info("omni-backfill: discovered files", "count", len(files), "repository_path", repositoryPath)

	if flagDryRun {
		for _, f := range files {
			logger.Debug("omni-backfill: would index", "path", f)
		}
		logger.Info("omni-backfill: dry-run complete, no writes performed", "files", len(files))
		return nil
	}

	inputs := make([]embedproducer.FileInput, 0, len(files))
	for _, rel := range files {
		raw, err := os.ReadFile(filepath.Join(repositoryPath, rel))
		if err != nil {
			logger.Warn("omni-backfill: read failed, skipping", "path", rel, "error", err)
			continue
		}
		inputs = append(inputs, embedproducer.FileInput{
			SourceRef:  rel,
			Content:    raw,
			CrawlScope: flagProjectName,
		})
	}

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
		TierRules:  tierRules,
		Logger:     logger,
	})

	producer := embedproducer.New(embedproducer.Deps{
		Embedding:     embeddingClient,
		ContextWriter: writer,
		MaxConcurrent: cfg.EmbedProducer.MaxConcurrent,
		InterRequestDelay: cfg.EmbedProducer.InterRequestDelay(),
		MaxFileBytes:  cfg.EmbedProducer.MaxFileBytes,
		BatchSize:     cfg.EmbedProducer.BatchSize,
		ChunkSize:     cfg.Indexer.ChunkSize,
		ChunkOverlap:  cfg.Indexer.ChunkOverlap,
		Logger:        logger,
	})

	counters := producer.ProcessFiles(ctx, inputs)
	logger.Info("omni-backfill: complete",
		"chunks_embedded", counters.ChunksEmbedded,
		"skipped_too_large", counters.SkippedTooLarge,
		"skipped_binary", counters.SkippedBinary,
		"failed_embedding", counters.FailedEmbedding,
	)
	return nil
}

// walkRepository returns every regular file under root, relative to root
// and sorted for stable output, skipping common non-source directories and
// files whose base name starts with ".".
func walkRepository(root string) ([]string, error) {
	excluded := map[string]bool{".git": true, "node_modules": true, "vendor": true, "dist": true, "build": true}
	var out []string
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != root && excluded[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		if strings.HasPrefix(filepath.Base(rel), ".") {
			return nil
		}
		out = append(out, rel)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(out)
	return out, nil
}
