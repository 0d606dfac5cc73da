package db

import (
	"context"
	"fmt"

	"github.com/surrealdb/surrealdb.go"

	"github.com/siftworks/sitesift/internal/models"
)

// The manifest is the single source of truth for what has been submitted.
// Every mutation here touches exactly one batch_job record, guarded by a
// WHERE clause so concurrent writers on the same batch id serialize on the
// record instead of a global lock.

// NextBatchID returns the next unused batch id: max existing + 1, derived
// from the manifest on every call so restarts never reuse an id.
func (c *Client) NextBatchID(ctx context.Context) (int, error) {
	results, err := surrealdb.Query[[]struct {
		Max *int `json:"max"`
	}](ctx, c.db, `SELECT math::max(batch_id) AS max FROM batch_job GROUP ALL`, nil)
	if err != nil {
		return 0, fmt.Errorf("next batch id: %w", wrapQueryError(err))
	}
	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 || (*results)[0].Result[0].Max == nil {
		return 1, nil
	}
	return *(*results)[0].Result[0].Max + 1, nil
}

// CreateBatchJob inserts a new manifest row in PENDING_SUBMIT. Fails if a
// row for the batch id already exists.
func (c *Client) CreateBatchJob(ctx context.Context, batchID int, itemKeys []string, sizeBytes int, requestKey string) (*models.BatchJob, error) {
	if itemKeys == nil {
		itemKeys = []string{}
	}
	sql := `
		CREATE type::record("batch_job", $id) SET
			batch_id = $id,
			state = $state,
			item_keys = $keys,
			item_count = $count,
			size_bytes = $size,
			request_key = $request_key,
			created_at = time::now()
		RETURN AFTER
	`
	results, err := surrealdb.Query[[]models.BatchJob](ctx, c.db, sql, map[string]any{
		"id":          batchID,
		"state":       models.StatePendingSubmit,
		"keys":        itemKeys,
		"count":       len(itemKeys),
		"size":        sizeBytes,
		"request_key": requestKey,
	})
	if err != nil {
		return nil, fmt.Errorf("create batch job %d: %w", batchID, wrapQueryError(err))
	}
	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return nil, fmt.Errorf("create batch job %d: no row returned", batchID)
	}
	return &(*results)[0].Result[0], nil
}

// GetBatchJob fetches one manifest row. Returns ErrNotFound if absent.
func (c *Client) GetBatchJob(ctx context.Context, batchID int) (*models.BatchJob, error) {
	results, err := surrealdb.Query[[]models.BatchJob](ctx, c.db, `
		SELECT * FROM type::record("batch_job", $id)
	`, map[string]any{"id": batchID})
	if err != nil {
		return nil, fmt.Errorf("get batch job %d: %w", batchID, wrapQueryError(err))
	}
	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return nil, fmt.Errorf("batch job %d: %w", batchID, ErrNotFound)
	}
	return &(*results)[0].Result[0], nil
}

// MarkSubmitted records the external job id for a batch, moving it to
// SUBMITTED. A batch whose row already carries an external job id must
// never be submitted again; that returns ErrAlreadySubmitted.
func (c *Client) MarkSubmitted(ctx context.Context, batchID int, externalJobID, inputFileID string) error {
	job, err := c.GetBatchJob(ctx, batchID)
	if err != nil {
		return err
	}
	if job.ExternalJobID != nil {
		return fmt.Errorf("batch %d has external job %s: %w", batchID, *job.ExternalJobID, ErrAlreadySubmitted)
	}

	// The WHERE guard makes the check-and-set atomic on the record.
	results, err := surrealdb.Query[[]models.BatchJob](ctx, c.db, `
		UPDATE type::record("batch_job", $id) SET
			external_job_id = $ext,
			input_file_id = $fid,
			state = $state,
			submitted_at = time::now()
		WHERE external_job_id IS NONE
		RETURN AFTER
	`, map[string]any{
		"id":    batchID,
		"ext":   externalJobID,
		"fid":   inputFileID,
		"state": models.StateSubmitted,
	})
	if err != nil {
		return fmt.Errorf("mark submitted %d: %w", batchID, wrapQueryError(err))
	}
	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return fmt.Errorf("batch %d: %w", batchID, ErrAlreadySubmitted)
	}
	return nil
}

// AdvanceState moves a job forward in its lifecycle, optionally recording
// an error message. Backwards moves and writes to terminal rows fail with
// ErrStateRegression; refreshing IN_PROGRESS is allowed.
func (c *Client) AdvanceState(ctx context.Context, batchID int, newState string, errMsg *string) error {
	job, err := c.GetBatchJob(ctx, batchID)
	if err != nil {
		return err
	}
	if !models.CanAdvance(job.State, newState) {
		return fmt.Errorf("batch %d: %s -> %s: %w", batchID, job.State, newState, ErrStateRegression)
	}

	sql := `
		UPDATE type::record("batch_job", $id) SET
			state = $state,
			error = $err
		WHERE state = $from
		RETURN AFTER
	`
	results, err := surrealdb.Query[[]models.BatchJob](ctx, c.db, sql, map[string]any{
		"id":    batchID,
		"state": newState,
		"err":   errMsg,
		"from":  job.State,
	})
	if err != nil {
		return fmt.Errorf("advance batch %d: %w", batchID, wrapQueryError(err))
	}
	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		// Lost a race with another writer on the same record.
		return fmt.Errorf("batch %d: state changed concurrently: %w", batchID, ErrTransactionConflict)
	}
	return nil
}

// MarkCompleted advances a job to COMPLETED, recording where the raw
// result payload was archived.
func (c *Client) MarkCompleted(ctx context.Context, batchID int, outputKey string) error {
	job, err := c.GetBatchJob(ctx, batchID)
	if err != nil {
		return err
	}
	if !models.CanAdvance(job.State, models.StateCompleted) {
		return fmt.Errorf("batch %d: %s -> %s: %w", batchID, job.State, models.StateCompleted, ErrStateRegression)
	}
	_, err = surrealdb.Query[any](ctx, c.db, `
		UPDATE type::record("batch_job", $id) SET
			state = $state,
			output_key = $key,
			completed_at = time::now()
		WHERE state = $from
	`, map[string]any{
		"id":    batchID,
		"state": models.StateCompleted,
		"key":   outputKey,
		"from":  job.State,
	})
	if err != nil {
		return fmt.Errorf("complete batch %d: %w", batchID, wrapQueryError(err))
	}
	return nil
}

// TouchPolled stamps last_polled_at. Called on every poll attempt,
// successful or not, so operators can spot stale jobs.
func (c *Client) TouchPolled(ctx context.Context, batchID int) error {
	_, err := surrealdb.Query[any](ctx, c.db, `
		UPDATE type::record("batch_job", $id) SET last_polled_at = time::now()
	`, map[string]any{"id": batchID})
	if err != nil {
		return fmt.Errorf("touch batch %d: %w", batchID, wrapQueryError(err))
	}
	return nil
}

// ListJobsByState returns manifest rows in any of the given states,
// ordered by batch id.
func (c *Client) ListJobsByState(ctx context.Context, states ...string) ([]models.BatchJob, error) {
	results, err := surrealdb.Query[[]models.BatchJob](ctx, c.db, `
		SELECT * FROM batch_job WHERE state IN $states ORDER BY batch_id
	`, map[string]any{"states": states})
	if err != nil {
		return nil, fmt.Errorf("list jobs by state: %w", wrapQueryError(err))
	}
	if results == nil || len(*results) == 0 {
		return []models.BatchJob{}, nil
	}
	return (*results)[0].Result, nil
}

// ListJobs returns the whole manifest ordered by batch id. The manifest
// stays small (thousands of rows), so loading it fully is fine.
func (c *Client) ListJobs(ctx context.Context) ([]models.BatchJob, error) {
	results, err := surrealdb.Query[[]models.BatchJob](ctx, c.db, `
		SELECT * FROM batch_job ORDER BY batch_id
	`, nil)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", wrapQueryError(err))
	}
	if results == nil || len(*results) == 0 {
		return []models.BatchJob{}, nil
	}
	return (*results)[0].Result, nil
}

// StateCount pairs a job state with its row count.
type StateCount struct {
	State string `json:"state"`
	Count int    `json:"count"`
}

// CountJobsByState summarizes the manifest for the status command.
func (c *Client) CountJobsByState(ctx context.Context) ([]StateCount, error) {
	results, err := surrealdb.Query[[]StateCount](ctx, c.db, `
		SELECT state, count() AS count FROM batch_job GROUP BY state ORDER BY state
	`, nil)
	if err != nil {
		return nil, fmt.Errorf("count jobs: %w", wrapQueryError(err))
	}
	if results == nil || len(*results) == 0 {
		return []StateCount{}, nil
	}
	return (*results)[0].Result, nil
}

// ActiveItemKeys returns every item key held by a non-terminal manifest
// row. The submitter subtracts these so one logical item is never carried
// by two in-flight batches.
func (c *Client) ActiveItemKeys(ctx context.Context) ([]string, error) {
	jobs, err := c.ListJobsByState(ctx, models.StatePendingSubmit, models.StateSubmitted, models.StateInProgress)
	if err != nil {
		return nil, err
	}
	var keys []string
	for _, job := range jobs {
		keys = append(keys, job.ItemKeys...)
	}
	return keys, nil
}
