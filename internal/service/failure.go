package service

import (
	"context"

	"github.com/siftworks/sitesift/internal/models"
)

// recordItemFailure marks one item as failed: a quality row keeps the
// key out of future plans and a dead-letter row keeps it requeueable.
func recordItemFailure(ctx context.Context, store Store, customID string, batchID *int, errorCode, errMsg string) error {
	quality := models.QualityStatus{
		CustomID:     customID,
		ScrapeStatus: "error",
		ErrorCode:    &errorCode,
		ResultStatus: models.ResultServiceError,
	}
	if dealID, domain, _, ok := models.SplitCustomID(customID); ok {
		quality.DealID = dealID
		quality.Domain = domain
		quality.URL = "http://" + domain
	}
	if err := store.UpsertQualityStatus(ctx, quality); err != nil {
		return err
	}
	return store.UpsertDeadLetter(ctx, models.DeadLetter{
		CustomID: customID,
		Status:   models.ResultServiceError,
		Error:    errMsg,
		BatchID:  batchID,
	})
}
