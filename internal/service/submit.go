package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/siftworks/sitesift/internal/batchapi"
	"github.com/siftworks/sitesift/internal/batcher"
	"github.com/siftworks/sitesift/internal/blob"
	"github.com/siftworks/sitesift/internal/config"
	"github.com/siftworks/sitesift/internal/extract"
	"github.com/siftworks/sitesift/internal/models"
	"github.com/siftworks/sitesift/internal/planner"
)

// Submitter turns the pending delta into submitted batch jobs. Every
// batch is written to the manifest and archived to the blob store before
// any request leaves the process, so a crash at any point resumes
// instead of duplicating work.
type Submitter struct {
	store Store
	blobs blob.Store
	api   batchapi.Service
	cfg   config.Config
	log   *slog.Logger
}

// NewSubmitter wires a submitter.
func NewSubmitter(store Store, blobs blob.Store, api batchapi.Service, cfg config.Config, log *slog.Logger) *Submitter {
	return &Submitter{store: store, blobs: blobs, api: api, cfg: cfg, log: log}
}

// SubmitReport summarizes one submission run.
type SubmitReport struct {
	CatalogSize   int
	Processed     int
	InFlight      int
	Pending       int
	BuildFailures int
	Resumed       int
	Submitted     int
	Deferred      int
	Failed        int
	BatchIDs      []int
}

// Plan computes the current delta without submitting anything.
func (s *Submitter) Plan(ctx context.Context) (planner.Plan, int, error) {
	catalogKeys, err := s.store.SiteKeys(ctx)
	if err != nil {
		return planner.Plan{}, 0, fmt.Errorf("load catalog keys: %w", err)
	}
	processedKeys, err := s.store.ProcessedKeys(ctx)
	if err != nil {
		return planner.Plan{}, 0, fmt.Errorf("load processed keys: %w", err)
	}
	inFlightKeys, err := s.store.ActiveItemKeys(ctx)
	if err != nil {
		return planner.Plan{}, 0, fmt.Errorf("load in-flight keys: %w", err)
	}
	return planner.Compute(catalogKeys, processedKeys, inFlightKeys), len(catalogKeys), nil
}

// Run resumes unsent batches, plans the delta, partitions it, and
// submits the resulting batches. With dryRun only the plan and the
// partition are computed.
func (s *Submitter) Run(ctx context.Context, dryRun bool) (SubmitReport, error) {
	var report SubmitReport

	if !dryRun {
		resumed, err := s.resumePending(ctx, &report)
		if err != nil {
			return report, err
		}
		report.Resumed = resumed
	}

	plan, catalogSize, err := s.Plan(ctx)
	if err != nil {
		return report, err
	}
	report.CatalogSize = catalogSize
	report.Processed = plan.Processed
	report.InFlight = plan.InFlight
	report.Pending = len(plan.Pending)

	if len(plan.Pending) == 0 {
		s.log.Info("nothing to submit", "catalog", catalogSize, "processed", plan.Processed, "in_flight", plan.InFlight)
		return report, nil
	}

	limits := batcher.Limits{
		MaxItems: s.cfg.Batch.MaxItems,
		MaxBytes: int64(s.cfg.Batch.MaxBytes),
	}
	batches, failures := batcher.Partition(plan.Pending, limits, func(key string) ([]byte, error) {
		return s.renderItem(ctx, key)
	})
	report.BuildFailures = len(failures)

	for _, failure := range failures {
		s.log.Warn("item cannot be batched", "custom_id", failure.Key, "error", failure.Err)
		if dryRun {
			continue
		}
		if err := s.recordBuildFailure(ctx, failure); err != nil {
			return report, err
		}
	}

	if dryRun {
		s.log.Info("dry run", "pending", len(plan.Pending), "batches", len(batches), "build_failures", len(failures))
		return report, nil
	}

	for _, batch := range batches {
		batchID, err := s.store.NextBatchID(ctx)
		if err != nil {
			return report, err
		}
		name := BatchName(batchID)
		requestKey := s.cfg.Blob.RequestsPrefix + name + ".jsonl"
		payload := batch.Payload()

		if err := s.blobs.Put(ctx, requestKey, payload); err != nil {
			return report, fmt.Errorf("archive request payload %s: %w", requestKey, err)
		}
		if _, err := s.store.CreateBatchJob(ctx, batchID, batch.Keys, int(batch.SizeBytes), requestKey); err != nil {
			return report, err
		}
		s.log.Info("batch created",
			"batch_id", batchID,
			"items", len(batch.Keys),
			"size_bytes", batch.SizeBytes,
			"request_key", requestKey)

		s.submitJob(ctx, batchID, name, batch.Keys, payload, &report)
		report.BatchIDs = append(report.BatchIDs, batchID)
	}

	return report, nil
}

// BatchName is the upload label and blob file stem for a batch id.
func BatchName(batchID int) string {
	return fmt.Sprintf("batch_%06d", batchID)
}

// resumePending retries submission for manifest rows that were created
// but never handed to the service.
func (s *Submitter) resumePending(ctx context.Context, report *SubmitReport) (int, error) {
	jobs, err := s.store.ListJobsByState(ctx, models.StatePendingSubmit)
	if err != nil {
		return 0, err
	}
	for _, job := range jobs {
		payload, err := s.blobs.Get(ctx, job.RequestKey)
		if err != nil {
			return 0, fmt.Errorf("load archived payload for batch %d: %w", job.BatchID, err)
		}
		s.log.Info("resuming unsent batch", "batch_id", job.BatchID, "items", job.ItemCount)
		s.submitJob(ctx, job.BatchID, BatchName(job.BatchID), job.ItemKeys, payload, report)
	}
	return len(jobs), nil
}

// submitJob hands one batch to the service and records the outcome. A
// transient failure leaves the row in PENDING_SUBMIT for the next run; a
// permanent rejection fails the job and dead-letters its items.
func (s *Submitter) submitJob(ctx context.Context, batchID int, name string, keys []string, payload []byte, report *SubmitReport) {
	result, err := s.api.Submit(ctx, name, payload)
	if err != nil {
		if batchapi.IsTransient(err) {
			s.log.Warn("submission deferred", "batch_id", batchID, "error", err)
			report.Deferred++
			return
		}
		s.log.Error("submission rejected", "batch_id", batchID, "error", err)
		msg := err.Error()
		if stateErr := s.store.AdvanceState(ctx, batchID, models.StateFailed, &msg); stateErr != nil {
			s.log.Error("failed to fail batch", "batch_id", batchID, "error", stateErr)
		}
		for _, key := range keys {
			if dlErr := recordItemFailure(ctx, s.store, key, &batchID, "submit_rejected", msg); dlErr != nil {
				s.log.Error("failed to dead-letter item", "custom_id", key, "error", dlErr)
			}
		}
		report.Failed++
		return
	}

	if err := s.store.MarkSubmitted(ctx, batchID, result.JobID, result.InputFileID); err != nil {
		s.log.Error("failed to record submission", "batch_id", batchID, "external_job_id", result.JobID, "error", err)
		report.Failed++
		return
	}
	s.log.Info("batch submitted", "batch_id", batchID, "external_job_id", result.JobID, "items", len(keys))
	report.Submitted++
}

// renderItem builds one request line from a site's crawled content.
func (s *Submitter) renderItem(ctx context.Context, key string) ([]byte, error) {
	site, err := s.store.GetSite(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("load site: %w", err)
	}
	content, err := s.blobs.Get(ctx, site.BlobKey)
	if err != nil {
		return nil, fmt.Errorf("load crawled content %s: %w", site.BlobKey, err)
	}
	truncated := extract.Truncate(string(content), s.cfg.OpenAI.MaxInputTokens)
	return batcher.RequestLine(key, s.cfg.OpenAI.Model, extract.SystemPrompt, truncated, s.cfg.OpenAI.MaxTokens)
}

func (s *Submitter) recordBuildFailure(ctx context.Context, failure batcher.Failure) error {
	return recordItemFailure(ctx, s.store, failure.Key, nil, "build_error", failure.Err.Error())
}
