package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	appconfig "github.com/fyerfyer/doc-indexer/config"
	"github.com/fyerfyer/doc-indexer/internal/chunking"
	"github.com/fyerfyer/doc-indexer/internal/indexing"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "indexctl",
		Usage: "Process and index documents without running the server",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to config file",
				Value:   "config.yaml",
			},
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Set logging level (debug, info, warn, error)",
				Value:   "warn",
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "plan",
				Usage:  "Show the processing strategy chosen for an input size",
				Action: planCommand,
				Flags: []cli.Flag{
					&cli.Int64Flag{
						Name:     "size",
						Aliases:  []string{"s"},
						Usage:    "Input size in bytes",
						Required: true,
					},
				},
			},
			{
				Name:      "index",
				Usage:     "Process a local file and submit it to the configured index backend",
				ArgsUsage: "FILE",
				Action:    indexCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "name",
						Usage: "File name recorded in the index (defaults to the base name of FILE)",
					},
				},
			},
			{
				Name:      "get",
				Usage:     "Print an indexed document as JSON",
				ArgsUsage: "ID",
				Action:    getCommand,
			},
			{
				Name:      "search",
				Usage:     "Search indexed documents on a backend with full-text search",
				ArgsUsage: "QUERY",
				Action:    searchCommand,
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "limit",
						Usage: "Maximum number of results",
						Value: 10,
					},
				},
			},
		},
	}
}

func loadConfig(c *cli.Context) (*appconfig.Config, *logrus.Logger, error) {
	cfg, err := appconfig.Load(c.String("config"))
	if err != nil {
		return nil, nil, err
	}

	logger := logrus.New()
	logger.SetOutput(c.App.ErrWriter)
	level, err := logrus.ParseLevel(c.String("log-level"))
	if err != nil {
		return nil, nil, fmt.Errorf("invalid log level %q: %w", c.String("log-level"), err)
	}
	logger.SetLevel(level)
	return cfg, logger, nil
}

func openBackend(cfg *appconfig.Config, logger *logrus.Logger) (indexing.Backend, error) {
	backendCfg := cfg.IndexBackendConfig()
	backendCfg.Logger = logger
	return indexing.NewBackend(backendCfg)
}

func planCommand(c *cli.Context) error {
	cfg, logger, err := loadConfig(c)
	if err != nil {
		return err
	}

	engine, err := chunking.NewEngine(cfg.EngineConfig(), chunking.WithLogger(logger))
	if err != nil {
		return err
	}

	size := c.Int64("size")
	if size < 0 {
		return fmt.Errorf("size must not be negative, got %d", size)
	}
	plan := engine.Plan(size)
	fmt.Fprintf(c.App.Writer, "size=%d strategy=%s chunks=%d threshold=%d chunk_size=%d\n",
		size, plan.Strategy, plan.ChunkCount, cfg.Processing.ChunkedThreshold, cfg.Processing.ChunkSize)
	return nil
}

func indexCommand(c *cli.Context) error {
	if c.NArg() != 1 {
		return fmt.Errorf("expected exactly one FILE argument")
	}
	path := c.Args().First()

	cfg, logger, err := loadConfig(c)
	if err != nil {
		return err
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", path, err)
	}

	transform, err := chunking.LookupTransform(cfg.Processing.Transform)
	if err != nil {
		return err
	}
	engine, err := chunking.NewEngine(cfg.EngineConfig(),
		chunking.WithTransform(transform),
		chunking.WithLogger(logger),
	)
	if err != nil {
		return err
	}

	backend, err := openBackend(cfg, logger)
	if err != nil {
		return err
	}
	defer backend.Close()

	submitter, err := indexing.NewSubmitter(backend, cfg.Processing.IndexingCeiling,
		indexing.WithRuneBoundary(cfg.Processing.TruncateOnRuneBoundary),
		indexing.WithSubmitterLogger(logger),
	)
	if err != nil {
		return err
	}

	ctx := context.Background()
	outcome, err := engine.Process(ctx, f, info.Size())
	if err != nil {
		return err
	}

	name := c.String("name")
	if name == "" {
		name = filepath.Base(path)
	}
	metadata := map[string]interface{}{
		"source":      path,
		"strategy":    outcome.Strategy.String(),
		"chunk_count": outcome.ChunkCount,
	}
	res, err := submitter.Submit(ctx, indexing.NewIndexableDocument(name, outcome.Content, metadata, info.Size()))
	if err != nil {
		return err
	}

	fmt.Fprintf(c.App.Writer, "id=%s backend=%s strategy=%s chunks=%d truncated=%t content_size=%d full_content_size=%d\n",
		res.DocumentID, backend.Name(), outcome.Strategy, outcome.ChunkCount,
		res.Truncated, res.ContentSize, res.FullContentSize)
	return nil
}

func getCommand(c *cli.Context) error {
	if c.NArg() != 1 {
		return fmt.Errorf("expected exactly one ID argument")
	}

	cfg, logger, err := loadConfig(c)
	if err != nil {
		return err
	}

	backend, err := openBackend(cfg, logger)
	if err != nil {
		return err
	}
	defer backend.Close()

	doc, err := backend.Get(context.Background(), c.Args().First())
	if err != nil {
		return err
	}

	enc := json.NewEncoder(c.App.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(doc)
}

func searchCommand(c *cli.Context) error {
	if c.NArg() < 1 {
		return fmt.Errorf("expected a QUERY argument")
	}
	query := strings.Join(c.Args().Slice(), " ")

	cfg, logger, err := loadConfig(c)
	if err != nil {
		return err
	}

	backend, err := openBackend(cfg, logger)
	if err != nil {
		return err
	}
	defer backend.Close()

	searcher, ok := backend.(indexing.Searcher)
	if !ok {
		return fmt.Errorf("index backend %s does not support search", backend.Name())
	}

	ctx := context.Background()
	ids, err := searcher.Search(ctx, query, c.Int("limit"))
	if err != nil {
		return err
	}
	for _, id := range ids {
		doc, err := backend.Get(ctx, id)
		if err != nil {
			return err
		}
		fmt.Fprintf(c.App.Writer, "id=%s file=%s truncated=%t full_content_size=%d\n",
			doc.ID, doc.FileName, doc.ContentTruncated, doc.FullContentSize)
	}
	return nil
}
