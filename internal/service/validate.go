package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/siftworks/sitesift/internal/models"
)

// Validator cross-checks the catalog, the manifest, and the results
// tables. It never mutates anything; each violation is a human-readable
// finding for the operator.
type Validator struct {
	store Store
	log   *slog.Logger
}

// NewValidator wires a validator.
func NewValidator(store Store, log *slog.Logger) *Validator {
	return &Validator{store: store, log: log}
}

// ValidationReport lists everything inconsistent between the stores,
// plus summary statistics over the consolidated rows.
type ValidationReport struct {
	Sites       int
	Jobs        int
	Extractions int
	Quality     int
	DeadLetters int
	Violations  []string

	// Verdicts counts quality rows per result status.
	Verdicts map[string]int
	// FieldFill is the share of successful extractions populating each
	// list field, in percent.
	FieldFill map[string]float64
}

// OK reports whether the run found no violations.
func (r ValidationReport) OK() bool {
	return len(r.Violations) == 0
}

// Run performs all consistency checks.
func (v *Validator) Run(ctx context.Context) (ValidationReport, error) {
	var report ValidationReport

	siteKeys, err := v.store.SiteKeys(ctx)
	if err != nil {
		return report, err
	}
	report.Sites = len(siteKeys)
	catalog := make(map[string]struct{}, len(siteKeys))
	for _, key := range siteKeys {
		catalog[key] = struct{}{}
	}

	jobs, err := v.store.ListJobs(ctx)
	if err != nil {
		return report, err
	}
	report.Jobs = len(jobs)

	extractions, err := v.store.ListExtractions(ctx)
	if err != nil {
		return report, err
	}
	report.Extractions = len(extractions)

	statuses, err := v.store.ListQualityStatuses(ctx)
	if err != nil {
		return report, err
	}
	report.Quality = len(statuses)
	quality := make(map[string]models.QualityStatus, len(statuses))
	for _, q := range statuses {
		quality[q.CustomID] = q
	}

	deadLetters, err := v.store.ListDeadLetters(ctx)
	if err != nil {
		return report, err
	}
	report.DeadLetters = len(deadLetters)

	add := func(format string, args ...any) {
		report.Violations = append(report.Violations, fmt.Sprintf(format, args...))
	}

	// One item key may sit in at most one active job.
	activeOwner := make(map[string]int)
	for _, job := range jobs {
		v.checkJobShape(job, add)
		if models.IsTerminal(job.State) {
			continue
		}
		for _, key := range job.ItemKeys {
			if other, ok := activeOwner[key]; ok {
				add("item %s is carried by two active batches: %d and %d", key, other, job.BatchID)
				continue
			}
			activeOwner[key] = job.BatchID
		}
	}

	// An active key must not already hold a verdict.
	for key, batchID := range activeOwner {
		if _, ok := quality[key]; ok {
			add("item %s is in active batch %d but already has a quality row", key, batchID)
		}
	}

	// Every results row needs its companion quality row.
	for _, x := range extractions {
		q, ok := quality[x.CustomID]
		if !ok {
			add("extraction %s has no quality row", x.CustomID)
			continue
		}
		if q.ResultStatus != models.ResultSuccess {
			add("extraction %s has quality verdict %s", x.CustomID, q.ResultStatus)
		}
	}

	// Dead letters must be failures, never successes.
	for _, d := range deadLetters {
		q, ok := quality[d.CustomID]
		if !ok {
			add("dead letter %s has no quality row", d.CustomID)
			continue
		}
		if q.ResultStatus == models.ResultSuccess {
			add("dead letter %s coexists with a success verdict", d.CustomID)
		}
	}

	// Verdicts for keys the catalog no longer lists are stale, not fatal,
	// but worth surfacing.
	for key := range quality {
		if _, ok := catalog[key]; !ok {
			add("quality row %s has no catalog entry", key)
		}
	}

	report.Verdicts = make(map[string]int)
	for _, q := range statuses {
		report.Verdicts[q.ResultStatus]++
	}
	report.FieldFill = fieldFill(extractions)

	if report.OK() {
		v.log.Info("validation passed",
			"sites", report.Sites,
			"jobs", report.Jobs,
			"extractions", report.Extractions,
			"quality", report.Quality,
			"dead_letters", report.DeadLetters)
	} else {
		v.log.Warn("validation found inconsistencies", "violations", len(report.Violations))
	}
	return report, nil
}

// FieldNames is the list-field order used in reports.
var FieldNames = []string{
	"sectorial_niches", "end_markets", "product_offerings",
	"service_offerings", "core_activities",
}

// fieldFill computes, per list field, the percentage of successful
// extractions that populate it.
func fieldFill(extractions []models.Extraction) map[string]float64 {
	filled := make(map[string]int, len(FieldNames))
	var total int
	for _, x := range extractions {
		if x.ScrapeStatus != "success" {
			continue
		}
		total++
		fields := map[string][]string{
			"sectorial_niches":  x.SectorialNiches,
			"end_markets":       x.EndMarkets,
			"product_offerings": x.ProductOfferings,
			"service_offerings": x.ServiceOfferings,
			"core_activities":   x.CoreActivities,
		}
		for name, values := range fields {
			if len(values) > 0 {
				filled[name]++
			}
		}
	}

	fill := make(map[string]float64, len(FieldNames))
	for _, name := range FieldNames {
		if total == 0 {
			fill[name] = 0
			continue
		}
		fill[name] = 100 * float64(filled[name]) / float64(total)
	}
	return fill
}

func (v *Validator) checkJobShape(job models.BatchJob, add func(string, ...any)) {
	if job.ItemCount != len(job.ItemKeys) {
		add("batch %d claims %d items but lists %d keys", job.BatchID, job.ItemCount, len(job.ItemKeys))
	}
	switch job.State {
	case models.StateSubmitted, models.StateInProgress:
		if job.ExternalJobID == nil {
			add("batch %d is %s without an external job id", job.BatchID, job.State)
		}
	case models.StateCompleted:
		if job.OutputKey == nil {
			add("batch %d is COMPLETED without an output key", job.BatchID)
		}
	}
}
