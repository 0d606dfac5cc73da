// Package batchapi talks to the asynchronous bulk inference service. The
// pipeline only needs three operations: submit a payload, check a job's
// status, and fetch a completed job's raw results.
package batchapi

import (
	"context"
	"errors"
	"fmt"
)

// Raw service job statuses, as reported by the Batch API.
const (
	StatusValidating = "validating"
	StatusQueued     = "queued"
	StatusInProgress = "in_progress"
	StatusFinalizing = "finalizing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
	StatusExpired    = "expired"
	StatusCancelling = "cancelling"
	StatusCancelled  = "cancelled"
)

// SubmitResult identifies a submitted job.
type SubmitResult struct {
	JobID       string
	InputFileID string
}

// JobStatus is one poll observation.
type JobStatus struct {
	State        string
	OutputFileID string
	ErrorFileID  string
}

// Running reports whether the service is still working on the job.
func (s JobStatus) Running() bool {
	switch s.State {
	case StatusValidating, StatusQueued, StatusInProgress, StatusFinalizing:
		return true
	}
	return false
}

// Service is the external job API.
type Service interface {
	// Submit uploads a newline-delimited request payload and creates a
	// job for it. name labels the upload for the service's file listing.
	Submit(ctx context.Context, name string, payload []byte) (SubmitResult, error)
	// Status reports the current state of a job.
	Status(ctx context.Context, jobID string) (JobStatus, error)
	// FetchResults downloads a completed job's raw newline-delimited
	// result records.
	FetchResults(ctx context.Context, fileID string) ([]byte, error)
}

// APIError is a service-reported failure carrying enough to classify it.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("batch api: %s (%s, http %d)", e.Message, e.Code, e.StatusCode)
	}
	return fmt.Sprintf("batch api: %s (http %d)", e.Message, e.StatusCode)
}

// Transient reports whether the failure should be retried later with the
// same request: rate limits, server errors, timeouts.
func (e *APIError) Transient() bool {
	return e.StatusCode == 429 || e.StatusCode == 408 || e.StatusCode >= 500
}

// IsTransient classifies any error from a Service call. Network-level
// failures (no APIError attached) count as transient; only a definitive
// 4xx rejection is permanent.
func IsTransient(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Transient()
	}
	return err != nil
}
