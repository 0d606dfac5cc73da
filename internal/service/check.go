package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/siftworks/sitesift/internal/blob"
	"github.com/siftworks/sitesift/internal/config"
	"github.com/siftworks/sitesift/internal/extract"
	"github.com/siftworks/sitesift/internal/metrics"
	"github.com/siftworks/sitesift/internal/models"
)

// Generator is the synchronous model surface the spot check needs.
type Generator interface {
	GenerateWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error)
	Model() string
}

// Checker runs the extraction prompt against a single catalog entry
// without going through the batch pipeline. Nothing is persisted.
type Checker struct {
	store     Store
	blobs     blob.Store
	model     Generator
	cfg       config.Config
	log       *slog.Logger
	collector *metrics.Collector
}

// NewChecker wires a checker.
func NewChecker(store Store, blobs blob.Store, model Generator, cfg config.Config, log *slog.Logger, collector *metrics.Collector) *Checker {
	return &Checker{store: store, blobs: blobs, model: model, cfg: cfg, log: log, collector: collector}
}

// CheckResult is one spot-check outcome.
type CheckResult struct {
	Site      models.Site
	ModelName string
	RawOutput string
	Parsed    extract.Result
	Elapsed   time.Duration
}

// Run fetches the site's crawled content and runs one synchronous
// extraction against it.
func (c *Checker) Run(ctx context.Context, customID string) (CheckResult, error) {
	site, err := c.store.GetSite(ctx, customID)
	if err != nil {
		return CheckResult{}, fmt.Errorf("load site %s: %w", customID, err)
	}

	content, err := c.blobs.Get(ctx, site.BlobKey)
	if err != nil {
		return CheckResult{}, fmt.Errorf("load crawled content %s: %w", site.BlobKey, err)
	}
	truncated := extract.Truncate(string(content), c.cfg.OpenAI.MaxInputTokens)

	start := time.Now()
	raw, err := c.model.GenerateWithSystem(ctx, extract.SystemPrompt, truncated)
	elapsed := time.Since(start)
	c.collector.RecordTiming(metrics.OpSpotCheck, elapsed)
	if err != nil {
		return CheckResult{}, fmt.Errorf("generate: %w", err)
	}

	parsed := extract.Parse(raw)
	c.log.Info("spot check complete",
		"custom_id", customID,
		"model", c.model.Model(),
		"parseable", parsed.Parseable(),
		"scrape_status", parsed.ScrapeStatus,
		"elapsed", elapsed)

	return CheckResult{
		Site:      *site,
		ModelName: c.model.Model(),
		RawOutput: raw,
		Parsed:    parsed,
		Elapsed:   elapsed,
	}, nil
}
