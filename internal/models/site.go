// Package models defines data structures for the sitesift pipeline tables.
package models

import (
	"fmt"
	"strings"
	"time"

	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"
)

// Site is one discovered crawl result, the unit of work for the pipeline.
// Identity is the custom id; rediscovering the same blob key yields the
// same logical site.
type Site struct {
	ID           surrealmodels.RecordID `json:"id"`
	CustomID     string                 `json:"custom_id"`
	DealID       string                 `json:"deal_id"`
	Domain       string                 `json:"domain"`
	URL          string                 `json:"url"`
	BlobKey      string                 `json:"blob_key"`
	Timestamp    string                 `json:"timestamp"`
	SizeBytes    int64                  `json:"size_bytes"`
	DiscoveredAt time.Time              `json:"discovered_at"`
}

// CustomID builds the stable item key for a site.
// Format: deal_<id>__<domain>__<timestamp>. The timestamp keeps repeated
// crawls of one domain distinct.
func CustomID(dealID, domain, timestamp string) string {
	return fmt.Sprintf("deal_%s__%s__%s", dealID, domain, timestamp)
}

// SplitCustomID recovers the identity parts from an item key. The domain
// itself never contains "__", so splitting on it is unambiguous.
func SplitCustomID(customID string) (dealID, domain, timestamp string, ok bool) {
	rest, found := strings.CutPrefix(customID, "deal_")
	if !found {
		return "", "", "", false
	}
	parts := strings.Split(rest, "__")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return "", "", "", false
	}
	return parts[0], parts[1], parts[2], true
}
