package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/product-agent/backend/internal/catalog"
	"github.com/product-agent/backend/internal/embedding"
	"github.com/product-agent/backend/internal/ingestion"
	"github.com/product-agent/backend/internal/retrieval"
	"github.com/product-agent/backend/internal/storage/sqlite"
	"github.com/product-agent/backend/internal/vector/milvus"
	"github.com/product-agent/backend/pkg/config"
	appLogger "github.com/product-agent/backend/pkg/logger"
)

var (
	catalogPath string
	verbose     bool

	cfg *config.Config
	cat *catalog.Catalog
)

var rootCmd = &cobra.Command{
	Use:   "indexer",
	Short: "Build the per-model manual index",
	Long: `Indexer chunks every model's manual and support data from the product
catalog, embeds the chunks and writes them into one vector namespace per model.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load()
		if err != nil {
			return err
		}

		level := cfg.Logging.Level
		if verbose {
			level = "debug"
		}
		if err := appLogger.Init(level, "console", "stderr", appLogger.Rotation{}); err != nil {
			return err
		}

		if catalogPath == "" {
			catalogPath = cfg.Catalog.Path
		}
		cat, err = catalog.Load(catalogPath)
		if err != nil {
			return err
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		appLogger.Sync()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&catalogPath, "catalog", "", "path to products.json (default from config)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	rootCmd.AddCommand(indexCmd, dropCmd, chunksCmd, runsCmd, evalCmd)
}

// pipeline holds the clients one indexing command needs.
type pipeline struct {
	indexer   *ingestion.Indexer
	retriever *retrieval.Retriever
	closers   []func()
}

func (p *pipeline) Close() {
	for i := len(p.closers) - 1; i >= 0; i-- {
		p.closers[i]()
	}
}

func newPipeline(ctx context.Context) (*pipeline, error) {
	p := &pipeline{}

	index, err := milvus.NewClient(ctx, cfg.Milvus.Endpoint, cfg.Milvus.APIKey, cfg.Milvus.CollectionName, cfg.Embedding.Dimension)
	if err != nil {
		return nil, err
	}
	p.closers = append(p.closers, func() { _ = index.Close() })

	if err := index.EnsureCollection(ctx); err != nil {
		p.Close()
		return nil, err
	}

	embedder, err := embedding.FromConfig(cfg.Embedding, cfg.LLM)
	if err != nil {
		p.Close()
		return nil, err
	}

	runs, err := openRuns()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: index runs will not be recorded: %v\n", err)
	}
	var recorder ingestion.RunRecorder
	if runs != nil {
		recorder = runs
		p.closers = append(p.closers, func() { _ = runs.Close() })
	}

	p.indexer = ingestion.NewIndexer(index, embedder, ingestion.NewChunker(cfg.Retrieval.MaxChunkSize), recorder)
	p.retriever = retrieval.New(index, embedder,
		retrieval.WithTopK(cfg.Retrieval.TopK),
		retrieval.WithTimeout(time.Duration(cfg.Retrieval.TimeoutSec)*time.Second),
	)
	return p, nil
}

func openRuns() (*sqlite.Client, error) {
	client, err := sqlite.NewClient(cfg.SQLite.Path)
	if err != nil {
		return nil, err
	}
	if err := client.InitSchema(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}
