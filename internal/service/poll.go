package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/siftworks/sitesift/internal/batchapi"
	"github.com/siftworks/sitesift/internal/blob"
	"github.com/siftworks/sitesift/internal/config"
	"github.com/siftworks/sitesift/internal/metrics"
	"github.com/siftworks/sitesift/internal/models"
)

// Poller drives submitted jobs through the state machine. Each pass
// checks every active job once; transient errors leave the manifest row
// untouched for the next pass.
type Poller struct {
	store     Store
	blobs     blob.Store
	api       batchapi.Service
	cfg       config.Config
	log       *slog.Logger
	collector *metrics.Collector
}

// NewPoller wires a poller.
func NewPoller(store Store, blobs blob.Store, api batchapi.Service, cfg config.Config, log *slog.Logger, collector *metrics.Collector) *Poller {
	return &Poller{store: store, blobs: blobs, api: api, cfg: cfg, log: log, collector: collector}
}

// PollReport summarizes one polling pass.
type PollReport struct {
	Polled    int
	Running   int
	Advanced  int
	Completed int
	Failed    int
	Expired   int
	Errors    int
}

// Active is the number of jobs still in flight after the pass.
func (r PollReport) Active() int {
	return r.Running + r.Advanced + r.Errors
}

type pollOutcome int

const (
	outcomeRunning pollOutcome = iota
	outcomeAdvanced
	outcomeCompleted
	outcomeFailed
	outcomeExpired
	outcomeError
)

// RunOnce polls every active job with bounded concurrency.
func (p *Poller) RunOnce(ctx context.Context) (PollReport, error) {
	start := time.Now()

	jobs, err := p.store.ListJobsByState(ctx, models.StateSubmitted, models.StateInProgress)
	if err != nil {
		return PollReport{}, err
	}

	var report PollReport
	report.Polled = len(jobs)
	if len(jobs) == 0 {
		return report, nil
	}

	concurrency := p.cfg.Poll.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}

	var (
		mu    sync.Mutex
		wg    sync.WaitGroup
		queue = make(chan models.BatchJob)
	)
	for range concurrency {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range queue {
				outcome := p.pollJob(ctx, job)
				mu.Lock()
				switch outcome {
				case outcomeRunning:
					report.Running++
				case outcomeAdvanced:
					report.Advanced++
				case outcomeCompleted:
					report.Completed++
				case outcomeFailed:
					report.Failed++
				case outcomeExpired:
					report.Expired++
				case outcomeError:
					report.Errors++
				}
				mu.Unlock()
			}
		}()
	}
	for _, job := range jobs {
		queue <- job
	}
	close(queue)
	wg.Wait()

	p.collector.RecordItems(metrics.OpPoll, time.Since(start), int64(len(jobs)))
	p.log.Info("poll pass complete",
		"polled", report.Polled,
		"running", report.Running,
		"advanced", report.Advanced,
		"completed", report.Completed,
		"failed", report.Failed,
		"expired", report.Expired,
		"errors", report.Errors)
	return report, nil
}

// Run polls until no active jobs remain or the context ends. onPass, if
// set, receives every pass report.
func (p *Poller) Run(ctx context.Context, onPass func(PollReport)) error {
	ticker := time.NewTicker(p.cfg.Poll.Interval)
	defer ticker.Stop()

	for {
		report, err := p.RunOnce(ctx)
		if err != nil {
			return err
		}
		if onPass != nil {
			onPass(report)
		}
		if report.Active() == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (p *Poller) pollJob(ctx context.Context, job models.BatchJob) pollOutcome {
	if err := p.store.TouchPolled(ctx, job.BatchID); err != nil {
		p.log.Warn("failed to stamp poll time", "batch_id", job.BatchID, "error", err)
	}

	if job.SubmittedAt != nil && time.Since(*job.SubmittedAt) > p.cfg.Poll.MaxWait {
		p.log.Warn("job exceeded max wait", "batch_id", job.BatchID, "submitted_at", *job.SubmittedAt)
		return p.expireJob(ctx, job, fmt.Sprintf("no result after %s", p.cfg.Poll.MaxWait))
	}

	if job.ExternalJobID == nil {
		// Should not happen past PENDING_SUBMIT; surface it rather than guess.
		p.log.Error("active job has no external id", "batch_id", job.BatchID, "state", job.State)
		return outcomeError
	}

	statusStart := time.Now()
	status, err := p.api.Status(ctx, *job.ExternalJobID)
	p.collector.RecordTiming(metrics.OpBatchAPI, time.Since(statusStart))
	if err != nil {
		if batchapi.IsTransient(err) {
			p.log.Warn("poll attempt failed", "batch_id", job.BatchID, "error", err)
			return outcomeError
		}
		p.log.Error("job lookup rejected", "batch_id", job.BatchID, "error", err)
		return p.failJob(ctx, job, "job_lookup_rejected", err.Error())
	}

	switch {
	case status.Running():
		if job.State == models.StateSubmitted {
			if err := p.store.AdvanceState(ctx, job.BatchID, models.StateInProgress, nil); err != nil {
				p.log.Warn("failed to advance job", "batch_id", job.BatchID, "error", err)
				return outcomeError
			}
			return outcomeAdvanced
		}
		return outcomeRunning

	case status.State == batchapi.StatusCompleted:
		if err := p.completeJob(ctx, job, status); err != nil {
			p.log.Error("failed to finish completed job", "batch_id", job.BatchID, "error", err)
			return outcomeError
		}
		return outcomeCompleted

	case status.State == batchapi.StatusExpired:
		return p.expireJob(ctx, job, "expired by the service")

	default:
		// failed, cancelled, or an unknown terminal status.
		return p.failJob(ctx, job, "job_"+status.State, fmt.Sprintf("service reported %s", status.State))
	}
}

// completeJob archives the raw results and marks the manifest row
// COMPLETED. The archive write comes first so a crash between the two
// steps re-runs the fetch instead of losing the output location.
func (p *Poller) completeJob(ctx context.Context, job models.BatchJob, status batchapi.JobStatus) error {
	if status.OutputFileID == "" {
		return p.failJobErr(ctx, job, "no_output_file", "completed without an output file")
	}

	results, err := p.api.FetchResults(ctx, status.OutputFileID)
	if err != nil {
		return fmt.Errorf("fetch results: %w", err)
	}

	outputKey := p.cfg.Blob.ResponsesPrefix + BatchName(job.BatchID) + ".jsonl"
	start := time.Now()
	if err := p.blobs.Put(ctx, outputKey, results); err != nil {
		return fmt.Errorf("archive results %s: %w", outputKey, err)
	}
	p.collector.RecordTiming(metrics.OpBlobPut, time.Since(start))

	if err := p.store.MarkCompleted(ctx, job.BatchID, outputKey); err != nil {
		return err
	}
	p.log.Info("job completed", "batch_id", job.BatchID, "output_key", outputKey, "size_bytes", len(results))
	return nil
}

func (p *Poller) expireJob(ctx context.Context, job models.BatchJob, reason string) pollOutcome {
	msg := reason
	if err := p.store.AdvanceState(ctx, job.BatchID, models.StateExpired, &msg); err != nil {
		p.log.Error("failed to expire job", "batch_id", job.BatchID, "error", err)
		return outcomeError
	}
	p.deadLetterItems(ctx, job, "job_expired", reason)
	p.log.Warn("job expired", "batch_id", job.BatchID, "items", job.ItemCount, "reason", reason)
	return outcomeExpired
}

func (p *Poller) failJob(ctx context.Context, job models.BatchJob, errorCode, msg string) pollOutcome {
	if err := p.failJobErr(ctx, job, errorCode, msg); err != nil {
		p.log.Error("failed to fail job", "batch_id", job.BatchID, "error", err)
		return outcomeError
	}
	return outcomeFailed
}

func (p *Poller) failJobErr(ctx context.Context, job models.BatchJob, errorCode, msg string) error {
	if err := p.store.AdvanceState(ctx, job.BatchID, models.StateFailed, &msg); err != nil {
		return err
	}
	p.deadLetterItems(ctx, job, errorCode, msg)
	p.log.Error("job failed", "batch_id", job.BatchID, "items", job.ItemCount, "error", msg)
	return nil
}

// deadLetterItems records a failure verdict for every item of a job that
// terminated without results. The quality rows keep the keys out of the
// next plan; the dead-letter rows keep them requeueable.
func (p *Poller) deadLetterItems(ctx context.Context, job models.BatchJob, errorCode, msg string) {
	batchID := job.BatchID
	for _, key := range job.ItemKeys {
		if err := recordItemFailure(ctx, p.store, key, &batchID, errorCode, msg); err != nil {
			p.log.Error("failed to dead-letter item", "custom_id", key, "error", err)
		}
	}
}
