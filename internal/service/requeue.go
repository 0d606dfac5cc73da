package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/siftworks/sitesift/internal/models"
)

// Requeuer puts dead-lettered items back into the pending set. Failed
// keys are never replanned automatically; this is the one deliberate
// path back in.
type Requeuer struct {
	store Store
	log   *slog.Logger
}

// NewRequeuer wires a requeuer.
func NewRequeuer(store Store, log *slog.Logger) *Requeuer {
	return &Requeuer{store: store, log: log}
}

// RequeueReport summarizes one requeue run.
type RequeueReport struct {
	Requeued int
	Unknown  []string
}

// Run requeues the given keys, or every dead-lettered key when none are
// given. Requeueing deletes the key's dead-letter and quality rows so
// the next plan includes it again; keys without a dead letter are
// reported, not touched.
func (r *Requeuer) Run(ctx context.Context, keys []string) (RequeueReport, error) {
	deadLetters, err := r.store.ListDeadLetters(ctx)
	if err != nil {
		return RequeueReport{}, err
	}
	deadSet := make(map[string]models.DeadLetter, len(deadLetters))
	for _, d := range deadLetters {
		deadSet[d.CustomID] = d
	}

	if len(keys) == 0 {
		keys = make([]string, 0, len(deadLetters))
		for _, d := range deadLetters {
			keys = append(keys, d.CustomID)
		}
	}

	var report RequeueReport
	for _, key := range keys {
		if _, ok := deadSet[key]; !ok {
			report.Unknown = append(report.Unknown, key)
			continue
		}
		if err := r.store.DeleteDeadLetter(ctx, key); err != nil {
			return report, fmt.Errorf("requeue %s: %w", key, err)
		}
		if err := r.store.DeleteQualityStatus(ctx, key); err != nil {
			return report, fmt.Errorf("requeue %s: %w", key, err)
		}
		report.Requeued++
		r.log.Info("item requeued", "custom_id", key)
	}

	if len(report.Unknown) > 0 {
		r.log.Warn("keys not in the dead-letter table", "keys", report.Unknown)
	}
	return report, nil
}
