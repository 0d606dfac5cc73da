package service

import (
	"context"
	"testing"
	"time"

	"github.com/siftworks/sitesift/internal/batchapi"
	"github.com/siftworks/sitesift/internal/blob"
	"github.com/siftworks/sitesift/internal/metrics"
	"github.com/siftworks/sitesift/internal/models"
)

func submittedJob(t *testing.T, store *memStore, batchID int, keys ...string) {
	t.Helper()
	ctx := context.Background()
	if _, err := store.CreateBatchJob(ctx, batchID, keys, 100, BatchName(batchID)+".jsonl"); err != nil {
		t.Fatal(err)
	}
	if err := store.MarkSubmitted(ctx, batchID, "job-"+BatchName(batchID), "file-in"); err != nil {
		t.Fatal(err)
	}
}

func TestPollerLifecycle(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	blobs := blob.NewMemoryStore()
	api := newFakeAPI()
	cfg := testConfig()

	submittedJob(t, store, 1, "deal_1__acme.com__20240115")

	poller := NewPoller(store, blobs, api, cfg, testLogger(), metrics.NewCollector())

	// First pass: the service is still working, SUBMITTED advances.
	api.statusFn = func(string) (batchapi.JobStatus, error) {
		return batchapi.JobStatus{State: batchapi.StatusInProgress}, nil
	}
	report, err := poller.RunOnce(ctx)
	if err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}
	if report.Advanced != 1 {
		t.Fatalf("report = %+v, want 1 advanced", report)
	}
	job, _ := store.GetBatchJob(ctx, 1)
	if job.State != models.StateInProgress {
		t.Fatalf("state = %s, want IN_PROGRESS", job.State)
	}
	if job.LastPolledAt == nil {
		t.Error("last_polled_at not stamped")
	}

	// Second pass: still running, no state change.
	report, err = poller.RunOnce(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if report.Running != 1 {
		t.Fatalf("report = %+v, want 1 running", report)
	}

	// Third pass: done. Results get archived before the state moves.
	api.resultFiles["file-out"] = []byte(`{"custom_id":"deal_1__acme.com__20240115","response":{"status_code":200,"body":{"choices":[{"message":{"content":"core activities: valve manufacturing"}}]}}}` + "\n")
	api.statusFn = func(string) (batchapi.JobStatus, error) {
		return batchapi.JobStatus{State: batchapi.StatusCompleted, OutputFileID: "file-out"}, nil
	}
	report, err = poller.RunOnce(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if report.Completed != 1 || report.Active() != 0 {
		t.Fatalf("report = %+v, want 1 completed, none active", report)
	}

	job, _ = store.GetBatchJob(ctx, 1)
	if job.State != models.StateCompleted || job.OutputKey == nil {
		t.Fatalf("job = %+v, want COMPLETED with output key", job)
	}
	if _, err := blobs.Get(ctx, *job.OutputKey); err != nil {
		t.Errorf("raw results not archived at %s: %v", *job.OutputKey, err)
	}
}

func TestPollerTransientErrorLeavesState(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	api := newFakeAPI()
	api.statusFn = func(string) (batchapi.JobStatus, error) {
		return batchapi.JobStatus{}, &batchapi.APIError{StatusCode: 503, Message: "unavailable"}
	}

	submittedJob(t, store, 1, "deal_1__acme.com__20240115")

	poller := NewPoller(store, blob.NewMemoryStore(), api, testConfig(), testLogger(), metrics.NewCollector())
	report, err := poller.RunOnce(ctx)
	if err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}
	if report.Errors != 1 {
		t.Fatalf("report = %+v, want 1 error", report)
	}

	job, _ := store.GetBatchJob(ctx, 1)
	if job.State != models.StateSubmitted {
		t.Errorf("state = %s, transient error must not move it", job.State)
	}
	if job.LastPolledAt == nil {
		t.Error("failed poll attempt must still stamp last_polled_at")
	}
}

func TestPollerServiceFailure(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	api := newFakeAPI()
	api.statusFn = func(string) (batchapi.JobStatus, error) {
		return batchapi.JobStatus{State: batchapi.StatusFailed}, nil
	}

	key := "deal_1__acme.com__20240115"
	submittedJob(t, store, 1, key)

	poller := NewPoller(store, blob.NewMemoryStore(), api, testConfig(), testLogger(), metrics.NewCollector())
	report, err := poller.RunOnce(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if report.Failed != 1 {
		t.Fatalf("report = %+v, want 1 failed", report)
	}

	job, _ := store.GetBatchJob(ctx, 1)
	if job.State != models.StateFailed {
		t.Errorf("state = %s, want FAILED", job.State)
	}
	if _, ok := store.deadLetters[key]; !ok {
		t.Error("item of a failed job must be dead-lettered")
	}
	if q, ok := store.quality[key]; !ok || q.ResultStatus != models.ResultServiceError {
		t.Errorf("quality row = %+v, want SERVICE_ERROR verdict", q)
	}
}

func TestPollerExpiry(t *testing.T) {
	t.Run("service reports expired", func(t *testing.T) {
		ctx := context.Background()
		store := newMemStore()
		api := newFakeAPI()
		api.statusFn = func(string) (batchapi.JobStatus, error) {
			return batchapi.JobStatus{State: batchapi.StatusExpired}, nil
		}

		key := "deal_1__acme.com__20240115"
		submittedJob(t, store, 1, key)

		poller := NewPoller(store, blob.NewMemoryStore(), api, testConfig(), testLogger(), metrics.NewCollector())
		report, err := poller.RunOnce(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if report.Expired != 1 {
			t.Fatalf("report = %+v, want 1 expired", report)
		}
		job, _ := store.GetBatchJob(ctx, 1)
		if job.State != models.StateExpired {
			t.Errorf("state = %s, want EXPIRED", job.State)
		}
		if _, ok := store.deadLetters[key]; !ok {
			t.Error("expired item must be dead-lettered")
		}
	})

	t.Run("max wait exceeded locally", func(t *testing.T) {
		ctx := context.Background()
		store := newMemStore()
		api := newFakeAPI()
		api.statusFn = func(string) (batchapi.JobStatus, error) {
			t.Error("status must not be called once max wait is exceeded")
			return batchapi.JobStatus{}, nil
		}

		submittedJob(t, store, 1, "deal_1__acme.com__20240115")
		stale := time.Now().Add(-48 * time.Hour)
		store.jobs[1].SubmittedAt = &stale

		poller := NewPoller(store, blob.NewMemoryStore(), api, testConfig(), testLogger(), metrics.NewCollector())
		report, err := poller.RunOnce(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if report.Expired != 1 {
			t.Fatalf("report = %+v, want 1 expired", report)
		}
	})
}

func TestPollerRunStopsWhenIdle(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	store := newMemStore()
	api := newFakeAPI()
	api.resultFiles["file-out"] = []byte(`{"custom_id":"deal_1__acme.com__20240115","response":{"status_code":200,"body":{"choices":[{"message":{"content":"core activities: forging"}}]}}}` + "\n")
	api.statusFn = func(string) (batchapi.JobStatus, error) {
		return batchapi.JobStatus{State: batchapi.StatusCompleted, OutputFileID: "file-out"}, nil
	}

	submittedJob(t, store, 1, "deal_1__acme.com__20240115")

	poller := NewPoller(store, blob.NewMemoryStore(), api, testConfig(), testLogger(), metrics.NewCollector())

	var passes int
	if err := poller.Run(ctx, func(PollReport) { passes++ }); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if passes != 1 {
		t.Errorf("passes = %d, want 1", passes)
	}
}
