// Package cli provides the command-line interface for sitesift.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/siftworks/sitesift/internal/batchapi"
	"github.com/siftworks/sitesift/internal/blob"
	"github.com/siftworks/sitesift/internal/config"
	"github.com/siftworks/sitesift/internal/db"
	"github.com/siftworks/sitesift/internal/metrics"
	"github.com/siftworks/sitesift/internal/service"
)

var (
	// Version is set at build time.
	Version = "0.1.0"

	// Global flags
	configPath string
	verbose    bool

	// Shared wiring, set up once per invocation.
	cfg       config.Config
	log       *slog.Logger
	closeLog  func() error
	dbClient  *db.Client
	collector *metrics.Collector
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "sitesift",
	Short: "Batch business-intelligence extraction from crawled websites",
	Long: `Sitesift turns crawled company websites into structured business
intelligence through the OpenAI Batch API.

It discovers crawl results in the blob store, plans the delta against
what is already processed, submits request batches under the service
limits, polls submitted jobs to completion, and consolidates results
into queryable tables. Every step is resumable; re-running a command
never duplicates work.`,
	Version: Version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "version" || cmd.Name() == "help" || cmd.Name() == "completion" {
			return nil
		}

		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		if verbose {
			cfg.Log.Level = "DEBUG"
		}
		log, closeLog = config.SetupLogger(cfg.Log)
		log = log.With("run_id", uuid.New().String()[:8])
		collector = metrics.NewCollector()

		ctx := cmd.Context()
		dbClient, err = db.NewClient(ctx, db.Config{
			URL:       cfg.SurrealDB.URL,
			Namespace: cfg.SurrealDB.Namespace,
			Database:  cfg.SurrealDB.Database,
			Username:  cfg.SurrealDB.Username,
			Password:  cfg.SurrealDB.Password,
			AuthLevel: cfg.SurrealDB.AuthLevel,
		}, log)
		if err != nil {
			return fmt.Errorf("connect to database: %w", err)
		}
		if err := dbClient.InitSchema(ctx); err != nil {
			return fmt.Errorf("initialize schema: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if collector != nil && log != nil {
			snap := collector.Snapshot()
			for op, stats := range snap.Ops {
				log.Debug("operation stats",
					"op", op,
					"count", stats.Count,
					"total_ms", stats.TotalTimeMs,
					"items", stats.TotalItems)
			}
		}
		if dbClient != nil {
			if err := dbClient.Close(context.Background()); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: failed to close database: %v\n", err)
			}
		}
		if closeLog != nil {
			_ = closeLog()
		}
	},
}

// newBlobStore builds the S3 store for the configured bucket.
func newBlobStore(ctx context.Context) (blob.Store, error) {
	store, err := blob.NewS3Store(ctx, cfg.Blob.Region, cfg.Blob.Bucket)
	if err != nil {
		return nil, fmt.Errorf("init blob store: %w", err)
	}
	return store, nil
}

// newBatchAPI builds the Batch API client.
func newBatchAPI() (*batchapi.OpenAIClient, error) {
	if cfg.OpenAI.APIKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY not set")
	}
	return batchapi.NewOpenAIClient(cfg.OpenAI.BaseURL, cfg.OpenAI.APIKey, cfg.OpenAI.CompletionWindow), nil
}

// newSubmitter wires the submission service.
func newSubmitter(ctx context.Context) (*service.Submitter, error) {
	blobs, err := newBlobStore(ctx)
	if err != nil {
		return nil, err
	}
	api, err := newBatchAPI()
	if err != nil {
		return nil, err
	}
	return service.NewSubmitter(dbClient, blobs, api, cfg, log), nil
}

// newPoller wires the polling service.
func newPoller(ctx context.Context) (*service.Poller, error) {
	blobs, err := newBlobStore(ctx)
	if err != nil {
		return nil, err
	}
	api, err := newBatchAPI()
	if err != nil {
		return nil, err
	}
	return service.NewPoller(dbClient, blobs, api, cfg, log, collector), nil
}

// Execute adds all child commands to the root command and runs it.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default "+config.DefaultConfigFile+")")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.AddCommand(discoverCmd)
	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(submitCmd)
	rootCmd.AddCommand(pollCmd)
	rootCmd.AddCommand(mergeCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(requeueCmd)
	rootCmd.AddCommand(checkCmd)
}
