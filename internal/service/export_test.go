package service

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"strings"
	"testing"

	"github.com/siftworks/sitesift/internal/blob"
	"github.com/siftworks/sitesift/internal/metrics"
	"github.com/siftworks/sitesift/internal/models"
)

func TestExporterRun(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	blobs := blob.NewMemoryStore()

	key := "deal_1__acme.com__20240115"
	if err := store.UpsertExtraction(ctx, models.Extraction{
		CustomID:       key,
		DealID:         "1",
		Domain:         "acme.com",
		URL:            "http://acme.com",
		Timestamp:      "20240115",
		ScrapeStatus:   "success",
		CoreActivities: []string{"valve manufacturing", "casting"},
		BatchID:        1,
	}); err != nil {
		t.Fatal(err)
	}
	if err := store.UpsertQualityStatus(ctx, models.QualityStatus{
		CustomID:     key,
		DealID:       "1",
		Domain:       "acme.com",
		ScrapeStatus: "success",
		ResultStatus: models.ResultSuccess,
	}); err != nil {
		t.Fatal(err)
	}

	exporter := NewExporter(store, blobs, testConfig(), testLogger(), metrics.NewCollector())
	report, err := exporter.Run(ctx)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if report.Answers != 1 || report.Tables != 2 {
		t.Fatalf("report = %+v, want 1 answer and 2 tables", report)
	}

	answer, err := blobs.Get(ctx, "answers/deal_1_acme.com/20240115/extraction.json")
	if err != nil {
		t.Fatalf("answer missing: %v", err)
	}
	var doc map[string]any
	if err := json.Unmarshal(answer, &doc); err != nil {
		t.Fatalf("answer is not valid json: %v", err)
	}
	if doc["domain"] != "acme.com" {
		t.Errorf("answer domain = %v", doc["domain"])
	}

	table, err := blobs.Get(ctx, "tables/extractions.csv")
	if err != nil {
		t.Fatalf("extractions table missing: %v", err)
	}
	rows, err := csv.NewReader(strings.NewReader(string(table))).ReadAll()
	if err != nil {
		t.Fatalf("table is not valid csv: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("got %d csv rows, want header plus one", len(rows))
	}
	if rows[1][0] != key {
		t.Errorf("csv custom_id = %q", rows[1][0])
	}
	if !strings.Contains(rows[1][11], "valve manufacturing") {
		t.Errorf("csv core activities = %q", rows[1][11])
	}

	if _, err := blobs.Get(ctx, "tables/quality_status.csv"); err != nil {
		t.Errorf("quality table missing: %v", err)
	}
}
