package service

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/siftworks/sitesift/internal/blob"
	"github.com/siftworks/sitesift/internal/config"
	"github.com/siftworks/sitesift/internal/db"
	"github.com/siftworks/sitesift/internal/extract"
	"github.com/siftworks/sitesift/internal/metrics"
	"github.com/siftworks/sitesift/internal/models"
)

// Consolidator merges archived batch results into the results tables.
// Every write is a single-key upsert, so re-running a merge after a
// crash or running it twice converges on the same rows.
type Consolidator struct {
	store     Store
	blobs     blob.Store
	cfg       config.Config
	log       *slog.Logger
	collector *metrics.Collector
}

// NewConsolidator wires a consolidator.
func NewConsolidator(store Store, blobs blob.Store, cfg config.Config, log *slog.Logger, collector *metrics.Collector) *Consolidator {
	return &Consolidator{store: store, blobs: blobs, cfg: cfg, log: log, collector: collector}
}

// MergeReport summarizes one consolidation run.
type MergeReport struct {
	Jobs          int
	Skipped       int
	JobErrors     int
	Consolidated  int
	SiteErrors    int
	ParseErrors   int
	ServiceErrors int
	Missing       int
}

// resultLine is one record of the service's output file.
type resultLine struct {
	CustomID string `json:"custom_id"`
	Response *struct {
		StatusCode int `json:"status_code"`
		Body       struct {
			Choices []struct {
				Message struct {
					Content string `json:"content"`
				} `json:"message"`
			} `json:"choices"`
		} `json:"body"`
	} `json:"response"`
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Run consolidates every completed job whose items are not yet fully
// recorded. A job whose result file names an unknown item is left alone
// and reported; its manifest row stays COMPLETED for investigation.
func (c *Consolidator) Run(ctx context.Context) (MergeReport, error) {
	start := time.Now()

	jobs, err := c.store.ListJobsByState(ctx, models.StateCompleted)
	if err != nil {
		return MergeReport{}, err
	}

	processedKeys, err := c.store.ProcessedKeys(ctx)
	if err != nil {
		return MergeReport{}, err
	}
	processed := make(map[string]struct{}, len(processedKeys))
	for _, key := range processedKeys {
		processed[key] = struct{}{}
	}

	var report MergeReport
	report.Jobs = len(jobs)

	for _, job := range jobs {
		if allProcessed(job.ItemKeys, processed) {
			report.Skipped++
			continue
		}
		if err := c.mergeJob(ctx, job, &report); err != nil {
			c.log.Error("job not consolidated", "batch_id", job.BatchID, "error", err)
			report.JobErrors++
		}
	}

	c.collector.RecordItems(metrics.OpMerge, time.Since(start),
		int64(report.Consolidated+report.SiteErrors+report.ParseErrors+report.ServiceErrors+report.Missing))
	c.log.Info("merge complete",
		"jobs", report.Jobs,
		"skipped", report.Skipped,
		"job_errors", report.JobErrors,
		"consolidated", report.Consolidated,
		"site_errors", report.SiteErrors,
		"parse_errors", report.ParseErrors,
		"service_errors", report.ServiceErrors,
		"missing", report.Missing)
	return report, nil
}

func (c *Consolidator) mergeJob(ctx context.Context, job models.BatchJob, report *MergeReport) error {
	if job.OutputKey == nil {
		return fmt.Errorf("batch %d completed without an output key", job.BatchID)
	}

	fetchStart := time.Now()
	raw, err := c.blobs.Get(ctx, *job.OutputKey)
	if err != nil {
		return fmt.Errorf("load archived results %s: %w", *job.OutputKey, err)
	}
	c.collector.RecordTiming(metrics.OpBlobGet, time.Since(fetchStart))

	itemSet := make(map[string]struct{}, len(job.ItemKeys))
	for _, key := range job.ItemKeys {
		itemSet[key] = struct{}{}
	}

	// Validate every line before writing anything. An orphan result means
	// the archive and the manifest disagree about what this job contains;
	// consolidating any of it would corrupt the results tables.
	lines, err := c.decodeResultLines(raw, job.BatchID)
	if err != nil {
		return err
	}
	for _, line := range lines {
		if _, ok := itemSet[line.CustomID]; !ok {
			return fmt.Errorf("result for %q does not belong to batch %d", line.CustomID, job.BatchID)
		}
	}

	seen := make(map[string]struct{}, len(lines))
	for _, line := range lines {
		seen[line.CustomID] = struct{}{}
		if err := c.applyLine(ctx, job, line, report); err != nil {
			return err
		}
	}

	// Items the service silently dropped still need a verdict.
	for _, key := range job.ItemKeys {
		if _, ok := seen[key]; ok {
			continue
		}
		c.log.Warn("item missing from result file", "custom_id", key, "batch_id", job.BatchID)
		batchID := job.BatchID
		if err := recordItemFailure(ctx, c.store, key, &batchID, "missing_result", "no record in the result file"); err != nil {
			return err
		}
		report.Missing++
	}

	return nil
}

// decodeResultLines parses the archived result file. A structurally
// broken line is logged and skipped, never fatal; its items fall through
// to the missing-result pass and get a verdict there.
func (c *Consolidator) decodeResultLines(raw []byte, batchID int) ([]resultLine, error) {
	var lines []resultLine
	scanner := bufio.NewScanner(bytes.NewReader(raw))
	scanner.Buffer(make([]byte, 0, 1<<20), 16<<20)
	for scanner.Scan() {
		text := bytes.TrimSpace(scanner.Bytes())
		if len(text) == 0 {
			continue
		}
		var line resultLine
		if err := json.Unmarshal(text, &line); err != nil {
			c.log.Warn("skipping malformed result line", "batch_id", batchID, "error", err)
			continue
		}
		if line.CustomID == "" {
			c.log.Warn("skipping result line without a custom id", "batch_id", batchID)
			continue
		}
		lines = append(lines, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read result file: %w", err)
	}
	return lines, nil
}

// applyLine records the verdict for one result record. Three shapes
// exist: the service failed the request, the model output matched the
// grammar, or it did not.
func (c *Consolidator) applyLine(ctx context.Context, job models.BatchJob, line resultLine, report *MergeReport) error {
	batchID := job.BatchID

	if line.Error != nil || line.Response == nil || line.Response.StatusCode != 200 || len(line.Response.Body.Choices) == 0 {
		code := "request_failed"
		msg := "service returned no usable response"
		if line.Error != nil {
			if line.Error.Code != "" {
				code = line.Error.Code
			}
			msg = line.Error.Message
		} else if line.Response != nil && line.Response.StatusCode != 200 {
			msg = fmt.Sprintf("service returned status %d", line.Response.StatusCode)
		}
		if err := recordItemFailure(ctx, c.store, line.CustomID, &batchID, code, msg); err != nil {
			return err
		}
		report.ServiceErrors++
		return nil
	}

	content := line.Response.Body.Choices[0].Message.Content
	parsed := extract.Parse(content)

	if !parsed.Parseable() {
		if err := c.recordParseError(ctx, line.CustomID, batchID, content); err != nil {
			return err
		}
		report.ParseErrors++
		return nil
	}

	if err := c.recordExtraction(ctx, line.CustomID, batchID, content, parsed); err != nil {
		return err
	}
	if parsed.ScrapeStatus == "error" {
		report.SiteErrors++
	} else {
		report.Consolidated++
	}
	return nil
}

func (c *Consolidator) recordParseError(ctx context.Context, customID string, batchID int, content string) error {
	errorCode := extract.ErrCodeParse
	quality := models.QualityStatus{
		CustomID:     customID,
		ScrapeStatus: "error",
		ErrorCode:    &errorCode,
		ResultStatus: models.ResultParseError,
	}
	if dealID, domain, _, ok := models.SplitCustomID(customID); ok {
		quality.DealID = dealID
		quality.Domain = domain
		quality.URL = "http://" + domain
	}
	if err := c.store.UpsertQualityStatus(ctx, quality); err != nil {
		return err
	}
	return c.store.UpsertDeadLetter(ctx, models.DeadLetter{
		CustomID:   customID,
		Status:     models.ResultParseError,
		Error:      "model output did not match the extraction format",
		BatchID:    &batchID,
		RawPayload: &content,
	})
}

// recordExtraction writes the results row and the quality row for a
// parseable reply, and clears any earlier dead letter for the key. An
// explicit site error (access denied, parked domain) is a valid verdict
// and consolidates like a success.
func (c *Consolidator) recordExtraction(ctx context.Context, customID string, batchID int, content string, parsed extract.Result) error {
	extraction := models.Extraction{
		CustomID:         customID,
		ScrapeStatus:     parsed.ScrapeStatus,
		SectorialNiches:  parsed.SectorialNiches,
		EndMarkets:       parsed.EndMarkets,
		ProductOfferings: parsed.ProductOfferings,
		ServiceOfferings: parsed.ServiceOfferings,
		CoreActivities:   parsed.CoreActivities,
		RawOutput:        content,
		BatchID:          batchID,
	}
	if parsed.ErrorCode != "" {
		extraction.ErrorCode = &parsed.ErrorCode
	}

	if site, err := c.store.GetSite(ctx, customID); err == nil {
		extraction.DealID = site.DealID
		extraction.Domain = site.Domain
		extraction.URL = site.URL
		extraction.Timestamp = site.Timestamp
	} else if !errors.Is(err, db.ErrNotFound) {
		return fmt.Errorf("load site %s: %w", customID, err)
	} else if dealID, domain, timestamp, ok := models.SplitCustomID(customID); ok {
		extraction.DealID = dealID
		extraction.Domain = domain
		extraction.URL = "http://" + domain
		extraction.Timestamp = timestamp
	}

	if err := c.store.UpsertExtraction(ctx, extraction); err != nil {
		return err
	}

	quality := models.QualityStatus{
		CustomID:     customID,
		DealID:       extraction.DealID,
		Domain:       extraction.Domain,
		URL:          extraction.URL,
		ScrapeStatus: parsed.ScrapeStatus,
		ErrorCode:    extraction.ErrorCode,
		ResultStatus: models.ResultSuccess,
	}
	if err := c.store.UpsertQualityStatus(ctx, quality); err != nil {
		return err
	}

	return c.store.DeleteDeadLetter(ctx, customID)
}

func allProcessed(keys []string, processed map[string]struct{}) bool {
	for _, key := range keys {
		if _, ok := processed[key]; !ok {
			return false
		}
	}
	return true
}
