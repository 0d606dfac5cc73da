package service

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/siftworks/sitesift/internal/blob"
	"github.com/siftworks/sitesift/internal/config"
	"github.com/siftworks/sitesift/internal/metrics"
	"github.com/siftworks/sitesift/internal/models"
)

// Exporter uploads the consolidated tables: one JSON answer per site
// plus CSV snapshots of the results and quality tables. Uploads
// overwrite, so repeated exports refresh the same keys.
type Exporter struct {
	store     Store
	blobs     blob.Store
	cfg       config.Config
	log       *slog.Logger
	collector *metrics.Collector
}

// NewExporter wires an exporter.
func NewExporter(store Store, blobs blob.Store, cfg config.Config, log *slog.Logger, collector *metrics.Collector) *Exporter {
	return &Exporter{store: store, blobs: blobs, cfg: cfg, log: log, collector: collector}
}

// ExportReport summarizes one export run.
type ExportReport struct {
	Answers int
	Tables  int
}

// answerDoc is the per-site JSON export shape.
type answerDoc struct {
	CustomID         string   `json:"custom_id"`
	DealID           string   `json:"deal_id"`
	Domain           string   `json:"domain"`
	URL              string   `json:"url"`
	Timestamp        string   `json:"timestamp"`
	ScrapeStatus     string   `json:"scrape_status"`
	ErrorCode        *string  `json:"error_code"`
	SectorialNiches  []string `json:"sectorial_niches"`
	EndMarkets       []string `json:"end_markets"`
	ProductOfferings []string `json:"product_offerings"`
	ServiceOfferings []string `json:"service_offerings"`
	CoreActivities   []string `json:"core_activities"`
	BatchID          int      `json:"batch_id"`
}

// Run exports everything currently consolidated.
func (e *Exporter) Run(ctx context.Context) (ExportReport, error) {
	start := time.Now()
	var report ExportReport

	extractions, err := e.store.ListExtractions(ctx)
	if err != nil {
		return report, err
	}
	for _, extraction := range extractions {
		doc := answerDoc{
			CustomID:         extraction.CustomID,
			DealID:           extraction.DealID,
			Domain:           extraction.Domain,
			URL:              extraction.URL,
			Timestamp:        extraction.Timestamp,
			ScrapeStatus:     extraction.ScrapeStatus,
			ErrorCode:        extraction.ErrorCode,
			SectorialNiches:  extraction.SectorialNiches,
			EndMarkets:       extraction.EndMarkets,
			ProductOfferings: extraction.ProductOfferings,
			ServiceOfferings: extraction.ServiceOfferings,
			CoreActivities:   extraction.CoreActivities,
			BatchID:          extraction.BatchID,
		}
		encoded, err := json.MarshalIndent(doc, "", "  ")
		if err != nil {
			return report, fmt.Errorf("marshal answer %s: %w", extraction.CustomID, err)
		}
		// Mirrors the crawl layout so each answer sits beside its source.
		key := fmt.Sprintf("%s/deal_%s_%s/%s/extraction.json",
			e.cfg.Blob.AnswersPrefix, extraction.DealID, extraction.Domain, extraction.Timestamp)
		if err := e.blobs.Put(ctx, key, encoded); err != nil {
			return report, fmt.Errorf("upload answer %s: %w", key, err)
		}
		report.Answers++
	}

	if err := e.exportExtractionsCSV(ctx, extractions); err != nil {
		return report, err
	}
	report.Tables++

	statuses, err := e.store.ListQualityStatuses(ctx)
	if err != nil {
		return report, err
	}
	if err := e.exportQualityCSV(ctx, statuses); err != nil {
		return report, err
	}
	report.Tables++

	e.collector.RecordItems(metrics.OpBlobPut, time.Since(start), int64(report.Answers+report.Tables))
	e.log.Info("export complete", "answers", report.Answers, "tables", report.Tables)
	return report, nil
}

func (e *Exporter) exportExtractionsCSV(ctx context.Context, extractions []models.Extraction) error {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	header := []string{
		"custom_id", "deal_id", "domain", "url", "timestamp",
		"scrape_status", "error_code",
		"sectorial_niches", "end_markets", "product_offerings",
		"service_offerings", "core_activities", "batch_id",
	}
	if err := w.Write(header); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, x := range extractions {
		row := []string{
			x.CustomID, x.DealID, x.Domain, x.URL, x.Timestamp,
			x.ScrapeStatus, deref(x.ErrorCode),
			strings.Join(x.SectorialNiches, "; "),
			strings.Join(x.EndMarkets, "; "),
			strings.Join(x.ProductOfferings, "; "),
			strings.Join(x.ServiceOfferings, "; "),
			strings.Join(x.CoreActivities, "; "),
			strconv.Itoa(x.BatchID),
		}
		if err := w.Write(row); err != nil {
			return fmt.Errorf("write csv row %s: %w", x.CustomID, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}

	key := e.cfg.Blob.TablesPrefix + "/extractions.csv"
	if err := e.blobs.Put(ctx, key, buf.Bytes()); err != nil {
		return fmt.Errorf("upload %s: %w", key, err)
	}
	return nil
}

func (e *Exporter) exportQualityCSV(ctx context.Context, statuses []models.QualityStatus) error {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	if err := w.Write([]string{"custom_id", "deal_id", "domain", "url", "scrape_status", "error_code", "result_status"}); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, q := range statuses {
		row := []string{q.CustomID, q.DealID, q.Domain, q.URL, q.ScrapeStatus, deref(q.ErrorCode), q.ResultStatus}
		if err := w.Write(row); err != nil {
			return fmt.Errorf("write csv row %s: %w", q.CustomID, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}

	key := e.cfg.Blob.TablesPrefix + "/quality_status.csv"
	if err := e.blobs.Put(ctx, key, buf.Bytes()); err != nil {
		return fmt.Errorf("upload %s: %w", key, err)
	}
	return nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
