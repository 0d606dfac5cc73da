package db

import (
	"context"
	"fmt"

	"github.com/surrealdb/surrealdb.go"

	"github.com/siftworks/sitesift/internal/models"
)

// Consolidation store queries. All writes are single-key UPSERTs, which is
// what makes re-running a merge after a crash converge on the same state.

// UpsertExtraction replaces the current results row for an item.
func (c *Client) UpsertExtraction(ctx context.Context, e models.Extraction) error {
	sql := `
		UPSERT type::record("extraction", $id) SET
			custom_id = $id,
			deal_id = $deal_id,
			domain = $domain,
			url = $url,
			timestamp = $timestamp,
			scrape_status = $scrape_status,
			error_code = $error_code,
			sectorial_niches = $sectorial_niches,
			end_markets = $end_markets,
			product_offerings = $product_offerings,
			service_offerings = $service_offerings,
			core_activities = $core_activities,
			raw_output = $raw_output,
			batch_id = $batch_id,
			extracted_at = time::now()
	`
	_, err := surrealdb.Query[any](ctx, c.db, sql, map[string]any{
		"id":                e.CustomID,
		"deal_id":           e.DealID,
		"domain":            e.Domain,
		"url":               e.URL,
		"timestamp":         e.Timestamp,
		"scrape_status":     e.ScrapeStatus,
		"error_code":        e.ErrorCode,
		"sectorial_niches":  emptyIfNil(e.SectorialNiches),
		"end_markets":       emptyIfNil(e.EndMarkets),
		"product_offerings": emptyIfNil(e.ProductOfferings),
		"service_offerings": emptyIfNil(e.ServiceOfferings),
		"core_activities":   emptyIfNil(e.CoreActivities),
		"raw_output":        e.RawOutput,
		"batch_id":          e.BatchID,
	})
	if err != nil {
		return fmt.Errorf("upsert extraction %s: %w", e.CustomID, wrapQueryError(err))
	}
	return nil
}

// UpsertQualityStatus replaces the quality row for an item.
func (c *Client) UpsertQualityStatus(ctx context.Context, q models.QualityStatus) error {
	sql := `
		UPSERT type::record("quality_status", $id) SET
			custom_id = $id,
			deal_id = $deal_id,
			domain = $domain,
			url = $url,
			scrape_status = $scrape_status,
			error_code = $error_code,
			result_status = $result_status
	`
	_, err := surrealdb.Query[any](ctx, c.db, sql, map[string]any{
		"id":            q.CustomID,
		"deal_id":       q.DealID,
		"domain":        q.Domain,
		"url":           q.URL,
		"scrape_status": q.ScrapeStatus,
		"error_code":    q.ErrorCode,
		"result_status": q.ResultStatus,
	})
	if err != nil {
		return fmt.Errorf("upsert quality status %s: %w", q.CustomID, wrapQueryError(err))
	}
	return nil
}

// UpsertDeadLetter records a failed item for explicit requeue.
func (c *Client) UpsertDeadLetter(ctx context.Context, d models.DeadLetter) error {
	sql := `
		UPSERT type::record("dead_letter", $id) SET
			custom_id = $id,
			status = $status,
			error = $error,
			batch_id = $batch_id,
			raw_payload = $raw_payload,
			recorded_at = time::now()
	`
	_, err := surrealdb.Query[any](ctx, c.db, sql, map[string]any{
		"id":          d.CustomID,
		"status":      d.Status,
		"error":       d.Error,
		"batch_id":    d.BatchID,
		"raw_payload": d.RawPayload,
	})
	if err != nil {
		return fmt.Errorf("upsert dead letter %s: %w", d.CustomID, wrapQueryError(err))
	}
	return nil
}

// DeleteDeadLetter clears a key's dead-letter row, if any. Called when a
// later success consolidates for the same key.
func (c *Client) DeleteDeadLetter(ctx context.Context, customID string) error {
	_, err := surrealdb.Query[any](ctx, c.db, `
		DELETE type::record("dead_letter", $id)
	`, map[string]any{"id": customID})
	if err != nil {
		return fmt.Errorf("delete dead letter %s: %w", customID, wrapQueryError(err))
	}
	return nil
}

// DeleteQualityStatus removes a key's quality row so the next planning
// pass treats it as unprocessed. Requeue only.
func (c *Client) DeleteQualityStatus(ctx context.Context, customID string) error {
	_, err := surrealdb.Query[any](ctx, c.db, `
		DELETE type::record("quality_status", $id)
	`, map[string]any{"id": customID})
	if err != nil {
		return fmt.Errorf("delete quality status %s: %w", customID, wrapQueryError(err))
	}
	return nil
}

// ProcessedKeys returns the custom ids that own a quality-status row.
// This is the processed-key index the delta planner diffs the catalog
// against; dead-lettered keys keep their row and are deliberately not
// replanned without an explicit requeue.
func (c *Client) ProcessedKeys(ctx context.Context) ([]string, error) {
	results, err := surrealdb.Query[[]struct {
		CustomID string `json:"custom_id"`
	}](ctx, c.db, `SELECT custom_id FROM quality_status ORDER BY custom_id`, nil)
	if err != nil {
		return nil, fmt.Errorf("processed keys: %w", wrapQueryError(err))
	}
	if results == nil || len(*results) == 0 {
		return []string{}, nil
	}
	rows := (*results)[0].Result
	keys := make([]string, len(rows))
	for i, r := range rows {
		keys[i] = r.CustomID
	}
	return keys, nil
}

// ListExtractions returns the full results table ordered by custom id.
func (c *Client) ListExtractions(ctx context.Context) ([]models.Extraction, error) {
	results, err := surrealdb.Query[[]models.Extraction](ctx, c.db, `
		SELECT * FROM extraction ORDER BY custom_id
	`, nil)
	if err != nil {
		return nil, fmt.Errorf("list extractions: %w", wrapQueryError(err))
	}
	if results == nil || len(*results) == 0 {
		return []models.Extraction{}, nil
	}
	return (*results)[0].Result, nil
}

// ListQualityStatuses returns the full quality table ordered by custom id.
func (c *Client) ListQualityStatuses(ctx context.Context) ([]models.QualityStatus, error) {
	results, err := surrealdb.Query[[]models.QualityStatus](ctx, c.db, `
		SELECT * FROM quality_status ORDER BY custom_id
	`, nil)
	if err != nil {
		return nil, fmt.Errorf("list quality statuses: %w", wrapQueryError(err))
	}
	if results == nil || len(*results) == 0 {
		return []models.QualityStatus{}, nil
	}
	return (*results)[0].Result, nil
}

// ListDeadLetters returns all dead-letter rows ordered by custom id.
func (c *Client) ListDeadLetters(ctx context.Context) ([]models.DeadLetter, error) {
	results, err := surrealdb.Query[[]models.DeadLetter](ctx, c.db, `
		SELECT * FROM dead_letter ORDER BY custom_id
	`, nil)
	if err != nil {
		return nil, fmt.Errorf("list dead letters: %w", wrapQueryError(err))
	}
	if results == nil || len(*results) == 0 {
		return []models.DeadLetter{}, nil
	}
	return (*results)[0].Result, nil
}

func emptyIfNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
