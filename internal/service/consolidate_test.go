package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/siftworks/sitesift/internal/batchapi"
	"github.com/siftworks/sitesift/internal/blob"
	"github.com/siftworks/sitesift/internal/metrics"
	"github.com/siftworks/sitesift/internal/models"
)

func successLine(t *testing.T, customID, content string) string {
	t.Helper()
	body := map[string]any{
		"custom_id": customID,
		"response": map[string]any{
			"status_code": 200,
			"body": map[string]any{
				"choices": []map[string]any{
					{"message": map[string]any{"content": content}},
				},
			},
		},
	}
	encoded, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	return string(encoded)
}

func errorLine(t *testing.T, customID, code, message string) string {
	t.Helper()
	body := map[string]any{
		"custom_id": customID,
		"error":     map[string]any{"code": code, "message": message},
	}
	encoded, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	return string(encoded)
}

// completedJob seeds a manifest row in COMPLETED with archived results.
func completedJob(t *testing.T, store *memStore, blobs *blob.MemoryStore, batchID int, lines []string, keys ...string) {
	t.Helper()
	ctx := context.Background()
	outputKey := fmt.Sprintf("responses/%s.jsonl", BatchName(batchID))
	if _, err := store.CreateBatchJob(ctx, batchID, keys, 100, "requests/x.jsonl"); err != nil {
		t.Fatal(err)
	}
	if err := store.MarkSubmitted(ctx, batchID, "job-x", "file-in"); err != nil {
		t.Fatal(err)
	}
	if err := store.AdvanceState(ctx, batchID, models.StateInProgress, nil); err != nil {
		t.Fatal(err)
	}
	if err := store.MarkCompleted(ctx, batchID, outputKey); err != nil {
		t.Fatal(err)
	}
	if err := blobs.Put(ctx, outputKey, []byte(strings.Join(lines, "\n")+"\n")); err != nil {
		t.Fatal(err)
	}
}

func TestConsolidatorRun(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	blobs := blob.NewMemoryStore()

	good := "deal_1__acme.com__20240115"
	siteErr := "deal_1__parked.com__20240115"
	garbled := "deal_2__globex.com__20240115"
	refused := "deal_2__initech.com__20240115"
	missing := "deal_3__hooli.com__20240115"

	store.addSite(models.Site{
		CustomID: good, DealID: "1", Domain: "acme.com",
		URL: "http://acme.com", Timestamp: "20240115",
	})

	// A stale dead letter from an earlier failed attempt; the fresh
	// success must clear it.
	if err := store.UpsertDeadLetter(ctx, models.DeadLetter{CustomID: good, Status: models.ResultServiceError, Error: "old"}); err != nil {
		t.Fatal(err)
	}

	completedJob(t, store, blobs, 1, []string{
		successLine(t, good, "scrape_status: success\nerror_code: null\ncore activities: valve manufacturing, casting"),
		successLine(t, siteErr, "scrape_status: error\nerror_code: parked_domain"),
		successLine(t, garbled, "I cannot assist with that."),
		errorLine(t, refused, "rate_limit_exceeded", "too many tokens"),
	}, good, siteErr, garbled, refused, missing)

	consolidator := NewConsolidator(store, blobs, testConfig(), testLogger(), metrics.NewCollector())
	report, err := consolidator.Run(ctx)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	want := MergeReport{Jobs: 1, Consolidated: 1, SiteErrors: 1, ParseErrors: 1, ServiceErrors: 1, Missing: 1}
	if report != want {
		t.Fatalf("report = %+v, want %+v", report, want)
	}

	// The success row carries the parsed fields and the site identity.
	extraction, ok := store.extractions[good]
	if !ok {
		t.Fatal("no extraction row for the success")
	}
	if extraction.DealID != "1" || extraction.Domain != "acme.com" {
		t.Errorf("identity = %s/%s, want from catalog", extraction.DealID, extraction.Domain)
	}
	if len(extraction.CoreActivities) != 2 {
		t.Errorf("core activities = %v, want 2 values", extraction.CoreActivities)
	}
	if _, ok := store.deadLetters[good]; ok {
		t.Error("stale dead letter must be cleared by the success")
	}

	// The explicit site error consolidates as a result, not a failure.
	extraction, ok = store.extractions[siteErr]
	if !ok {
		t.Fatal("no extraction row for the site error")
	}
	if extraction.ErrorCode == nil || *extraction.ErrorCode != "parked_domain" {
		t.Errorf("error code = %v, want parked_domain", extraction.ErrorCode)
	}
	if _, ok := store.deadLetters[siteErr]; ok {
		t.Error("a site error is a valid verdict, not a dead letter")
	}

	// Unparseable output and service failures are dead-lettered.
	if d, ok := store.deadLetters[garbled]; !ok || d.Status != models.ResultParseError {
		t.Errorf("dead letter for garbled output = %+v, want PARSE_ERROR", d)
	}
	if d := store.deadLetters[garbled]; d.RawPayload == nil {
		t.Error("parse failures must keep the raw output for inspection")
	}
	if d, ok := store.deadLetters[refused]; !ok || d.Status != models.ResultServiceError {
		t.Errorf("dead letter for refused item = %+v, want SERVICE_ERROR", d)
	}
	if d, ok := store.deadLetters[missing]; !ok || d.Status != models.ResultServiceError {
		t.Errorf("dead letter for missing item = %+v, want SERVICE_ERROR", d)
	}

	// Every item ends with exactly one verdict.
	processed, _ := store.ProcessedKeys(ctx)
	if len(processed) != 5 {
		t.Errorf("processed keys = %v, want all 5 items", processed)
	}
}

func TestConsolidatorIdempotent(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	blobs := blob.NewMemoryStore()

	key := "deal_1__acme.com__20240115"
	completedJob(t, store, blobs, 1, []string{
		successLine(t, key, "scrape_status: success\nerror_code: null\ncore activities: forging"),
	}, key)

	consolidator := NewConsolidator(store, blobs, testConfig(), testLogger(), metrics.NewCollector())
	if _, err := consolidator.Run(ctx); err != nil {
		t.Fatal(err)
	}
	first := store.extractions[key]

	report, err := consolidator.Run(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if report.Skipped != 1 || report.Consolidated != 0 {
		t.Errorf("second run report = %+v, want the job skipped", report)
	}
	if got := store.extractions[key]; got.RawOutput != first.RawOutput {
		t.Error("second merge changed the row")
	}
	if len(store.extractions) != 1 || len(store.quality) != 1 {
		t.Errorf("rows = %d/%d, want 1/1", len(store.extractions), len(store.quality))
	}
}

func TestConsolidatorOrphanResultAborts(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	blobs := blob.NewMemoryStore()

	key := "deal_1__acme.com__20240115"
	completedJob(t, store, blobs, 1, []string{
		successLine(t, key, "scrape_status: success\nerror_code: null\ncore activities: forging"),
		successLine(t, "deal_9__stranger.com__20240115", "scrape_status: success\nerror_code: null\ncore activities: smuggling"),
	}, key)

	consolidator := NewConsolidator(store, blobs, testConfig(), testLogger(), metrics.NewCollector())
	report, err := consolidator.Run(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if report.JobErrors != 1 {
		t.Fatalf("report = %+v, want 1 job error", report)
	}
	if len(store.extractions) != 0 || len(store.quality) != 0 {
		t.Error("an orphan result must prevent any write for the job")
	}
}

func TestConsolidatorMalformedLineSkipped(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	blobs := blob.NewMemoryStore()

	good := "deal_1__acme.com__20240115"
	lost := "deal_2__globex.com__20240115"
	completedJob(t, store, blobs, 1, []string{
		successLine(t, good, "scrape_status: success\nerror_code: null\ncore activities: forging"),
		`{"custom_id": "` + lost + `", "response": {truncated`,
	}, good, lost)

	consolidator := NewConsolidator(store, blobs, testConfig(), testLogger(), metrics.NewCollector())
	report, err := consolidator.Run(ctx)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	// The broken line must not take the healthy one down with it.
	want := MergeReport{Jobs: 1, Consolidated: 1, Missing: 1}
	if report != want {
		t.Fatalf("report = %+v, want %+v", report, want)
	}
	if _, ok := store.extractions[good]; !ok {
		t.Error("no extraction row for the intact line")
	}
	if d, ok := store.deadLetters[lost]; !ok || d.Status != models.ResultServiceError {
		t.Errorf("dead letter for the garbled line's item = %+v, want SERVICE_ERROR", d)
	}
}

// TestPipelineDelta walks the whole pipeline over three sites: one
// succeeds, one yields unusable output, one is fine. Only an explicit
// requeue brings the failed one back into the plan.
func TestPipelineDelta(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	blobs := blob.NewMemoryStore()
	api := newFakeAPI()
	cfg := testConfig()
	cfg.Batch.MaxItems = 10

	keyA := seedSite(t, store, blobs, "1", "acme.com", "Acme makes industrial valves.")
	keyB := seedSite(t, store, blobs, "1", "globex.com", "Globex provides logistics.")
	keyC := seedSite(t, store, blobs, "2", "initech.com", "Initech builds billing software.")

	submitter := NewSubmitter(store, blobs, api, cfg, testLogger())
	if _, err := submitter.Run(ctx, false); err != nil {
		t.Fatal(err)
	}

	api.resultFiles["file-out"] = []byte(strings.Join([]string{
		successLine(t, keyA, "scrape_status: success\nerror_code: null\ncore activities: valve manufacturing"),
		successLine(t, keyB, "as an AI model I cannot browse the web"),
		successLine(t, keyC, "scrape_status: success\nerror_code: null\ncore activities: billing software"),
	}, "\n") + "\n")
	api.statusFn = func(string) (batchapi.JobStatus, error) {
		return batchapi.JobStatus{State: batchapi.StatusCompleted, OutputFileID: "file-out"}, nil
	}

	poller := NewPoller(store, blobs, api, cfg, testLogger(), metrics.NewCollector())
	if _, err := poller.RunOnce(ctx); err != nil {
		t.Fatal(err)
	}

	consolidator := NewConsolidator(store, blobs, cfg, testLogger(), metrics.NewCollector())
	if _, err := consolidator.Run(ctx); err != nil {
		t.Fatal(err)
	}

	// All three hold verdicts; the parse failure does not replan itself.
	plan, _, err := submitter.Plan(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(plan.Pending) != 0 || plan.Processed != 3 {
		t.Fatalf("plan after merge = %+v, want everything processed", plan)
	}

	// Requeue the failed item; only it becomes pending again.
	requeuer := NewRequeuer(store, testLogger())
	requeueReport, err := requeuer.Run(ctx, []string{keyB})
	if err != nil {
		t.Fatal(err)
	}
	if requeueReport.Requeued != 1 {
		t.Fatalf("requeue report = %+v, want 1 requeued", requeueReport)
	}

	plan, _, err = submitter.Plan(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(plan.Pending) != 1 || plan.Pending[0] != keyB {
		t.Fatalf("plan after requeue = %+v, want only %s pending", plan, keyB)
	}
}
