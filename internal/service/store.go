// Package service implements the pipeline operations: planning, batch
// submission, polling, consolidation, validation, and requeue.
package service

import (
	"context"

	"github.com/siftworks/sitesift/internal/db"
	"github.com/siftworks/sitesift/internal/models"
)

// Store is the durable state the services run against. *db.Client
// implements it; tests substitute an in-memory fake.
type Store interface {
	// Catalog.
	GetSite(ctx context.Context, customID string) (*models.Site, error)
	SiteKeys(ctx context.Context) ([]string, error)

	// Manifest.
	NextBatchID(ctx context.Context) (int, error)
	CreateBatchJob(ctx context.Context, batchID int, itemKeys []string, sizeBytes int, requestKey string) (*models.BatchJob, error)
	GetBatchJob(ctx context.Context, batchID int) (*models.BatchJob, error)
	MarkSubmitted(ctx context.Context, batchID int, externalJobID, inputFileID string) error
	AdvanceState(ctx context.Context, batchID int, newState string, errMsg *string) error
	MarkCompleted(ctx context.Context, batchID int, outputKey string) error
	TouchPolled(ctx context.Context, batchID int) error
	ListJobsByState(ctx context.Context, states ...string) ([]models.BatchJob, error)
	ListJobs(ctx context.Context) ([]models.BatchJob, error)
	ActiveItemKeys(ctx context.Context) ([]string, error)

	// Results.
	UpsertExtraction(ctx context.Context, e models.Extraction) error
	UpsertQualityStatus(ctx context.Context, q models.QualityStatus) error
	UpsertDeadLetter(ctx context.Context, d models.DeadLetter) error
	DeleteDeadLetter(ctx context.Context, customID string) error
	DeleteQualityStatus(ctx context.Context, customID string) error
	ProcessedKeys(ctx context.Context) ([]string, error)
	ListExtractions(ctx context.Context) ([]models.Extraction, error)
	ListQualityStatuses(ctx context.Context) ([]models.QualityStatus, error)
	ListDeadLetters(ctx context.Context) ([]models.DeadLetter, error)
}

var _ Store = (*db.Client)(nil)
