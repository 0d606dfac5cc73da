package models

import (
	"time"

	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"
)

// Result statuses for one consolidated line of batch output.
const (
	ResultSuccess      = "SUCCESS"
	ResultParseError   = "PARSE_ERROR"
	ResultServiceError = "SERVICE_ERROR"
)

// Extraction is the main results table row: the structured fields pulled
// out of one site's content. At most one current row exists per custom id;
// a later result replaces the earlier row.
type Extraction struct {
	ID               surrealmodels.RecordID `json:"id"`
	CustomID         string                 `json:"custom_id"`
	DealID           string                 `json:"deal_id"`
	Domain           string                 `json:"domain"`
	URL              string                 `json:"url"`
	Timestamp        string                 `json:"timestamp"`
	ScrapeStatus     string                 `json:"scrape_status"`
	ErrorCode        *string                `json:"error_code,omitempty"`
	SectorialNiches  []string               `json:"sectorial_niches"`
	EndMarkets       []string               `json:"end_markets"`
	ProductOfferings []string               `json:"product_offerings"`
	ServiceOfferings []string               `json:"service_offerings"`
	CoreActivities   []string               `json:"core_activities"`
	RawOutput        string                 `json:"raw_output"`
	BatchID          int                    `json:"batch_id"`
	ExtractedAt      time.Time              `json:"extracted_at"`
}

// QualityStatus is the companion table row: identity plus processing
// outcome only. Every consolidated or failed item owns exactly one row
// here, which is what the delta planner treats as "processed".
type QualityStatus struct {
	ID           surrealmodels.RecordID `json:"id"`
	CustomID     string                 `json:"custom_id"`
	DealID       string                 `json:"deal_id"`
	Domain       string                 `json:"domain"`
	URL          string                 `json:"url"`
	ScrapeStatus string                 `json:"scrape_status"`
	ErrorCode    *string                `json:"error_code,omitempty"`
	ResultStatus string                 `json:"result_status"`
}

// DeadLetter holds an item whose processing failed, kept for explicit
// requeue. Membership clears once a later success consolidates.
type DeadLetter struct {
	ID         surrealmodels.RecordID `json:"id"`
	CustomID   string                 `json:"custom_id"`
	Status     string                 `json:"status"`
	Error      string                 `json:"error"`
	BatchID    *int                   `json:"batch_id,omitempty"`
	RawPayload *string                `json:"raw_payload,omitempty"`
	RecordedAt time.Time              `json:"recorded_at"`
}
