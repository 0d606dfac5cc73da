package db

import (
	"context"
	"fmt"

	"github.com/surrealdb/surrealdb.go"

	"github.com/siftworks/sitesift/internal/models"
)

// UpsertSite writes a catalog entry keyed by custom id. Rediscovery of the
// same site is a no-op overwrite; discovered_at keeps the first value.
func (c *Client) UpsertSite(ctx context.Context, site models.Site) error {
	sql := `
		UPSERT type::record("site", $id) SET
			custom_id = $id,
			deal_id = $deal_id,
			domain = $domain,
			url = $url,
			blob_key = $blob_key,
			timestamp = $timestamp,
			size_bytes = $size_bytes,
			discovered_at = discovered_at ?? time::now()
	`
	_, err := surrealdb.Query[any](ctx, c.db, sql, map[string]any{
		"id":         site.CustomID,
		"deal_id":    site.DealID,
		"domain":     site.Domain,
		"url":        site.URL,
		"blob_key":   site.BlobKey,
		"timestamp":  site.Timestamp,
		"size_bytes": site.SizeBytes,
	})
	if err != nil {
		return fmt.Errorf("upsert site %s: %w", site.CustomID, wrapQueryError(err))
	}
	return nil
}

// GetSite fetches one catalog entry by custom id.
func (c *Client) GetSite(ctx context.Context, customID string) (*models.Site, error) {
	results, err := surrealdb.Query[[]models.Site](ctx, c.db, `
		SELECT * FROM type::record("site", $id)
	`, map[string]any{"id": customID})
	if err != nil {
		return nil, fmt.Errorf("get site %s: %w", customID, wrapQueryError(err))
	}
	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return nil, fmt.Errorf("site %s: %w", customID, ErrNotFound)
	}
	return &(*results)[0].Result[0], nil
}

// SiteKeys returns every catalog custom id in stable (sorted) order.
func (c *Client) SiteKeys(ctx context.Context) ([]string, error) {
	results, err := surrealdb.Query[[]struct {
		CustomID string `json:"custom_id"`
	}](ctx, c.db, `SELECT custom_id FROM site ORDER BY custom_id`, nil)
	if err != nil {
		return nil, fmt.Errorf("site keys: %w", wrapQueryError(err))
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

// CountSites returns the catalog size.
func (c *Client) CountSites(ctx context.Context) (int, error) {
	results, err := surrealdb.Query[[]struct {
		Count int `json:"count"`
	}](ctx, c.db, `SELECT count() AS count FROM site GROUP ALL`, nil)
	if err != nil {
		return 0, fmt.Errorf("count sites: %w", wrapQueryError(err))
	}
	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return 0, nil
	}
	return (*results)[0].Result[0].Count, nil
}
