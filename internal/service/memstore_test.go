package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/siftworks/sitesift/internal/batchapi"
	"github.com/siftworks/sitesift/internal/db"
	"github.com/siftworks/sitesift/internal/models"
)

// memStore is an in-memory Store with the same per-key semantics as the
// real one: forward-only state moves, single-row upserts, quality rows
// as the processed index.
type memStore struct {
	mu          sync.Mutex
	sites       map[string]models.Site
	siteOrder   []string
	jobs        map[int]*models.BatchJob
	extractions map[string]models.Extraction
	quality     map[string]models.QualityStatus
	deadLetters map[string]models.DeadLetter
}

func newMemStore() *memStore {
	return &memStore{
		sites:       make(map[string]models.Site),
		jobs:        make(map[int]*models.BatchJob),
		extractions: make(map[string]models.Extraction),
		quality:     make(map[string]models.QualityStatus),
		deadLetters: make(map[string]models.DeadLetter),
	}
}

func (m *memStore) addSite(site models.Site) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sites[site.CustomID]; !ok {
		m.siteOrder = append(m.siteOrder, site.CustomID)
	}
	m.sites[site.CustomID] = site
}

func (m *memStore) GetSite(_ context.Context, customID string) (*models.Site, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	site, ok := m.sites[customID]
	if !ok {
		return nil, fmt.Errorf("site %s: %w", customID, db.ErrNotFound)
	}
	return &site, nil
}

func (m *memStore) SiteKeys(context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.siteOrder...), nil
}

func (m *memStore) NextBatchID(context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	max := 0
	for id := range m.jobs {
		if id > max {
			max = id
		}
	}
	return max + 1, nil
}

func (m *memStore) CreateBatchJob(_ context.Context, batchID int, itemKeys []string, sizeBytes int, requestKey string) (*models.BatchJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[batchID]; ok {
		return nil, fmt.Errorf("batch %d already exists", batchID)
	}
	job := &models.BatchJob{
		BatchID:    batchID,
		State:      models.StatePendingSubmit,
		ItemKeys:   append([]string(nil), itemKeys...),
		ItemCount:  len(itemKeys),
		SizeBytes:  sizeBytes,
		RequestKey: requestKey,
	}
	m.jobs[batchID] = job
	copied := *job
	return &copied, nil
}

func (m *memStore) GetBatchJob(_ context.Context, batchID int) (*models.BatchJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[batchID]
	if !ok {
		return nil, fmt.Errorf("batch job %d: %w", batchID, db.ErrNotFound)
	}
	copied := *job
	return &copied, nil
}

func (m *memStore) MarkSubmitted(_ context.Context, batchID int, externalJobID, inputFileID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[batchID]
	if !ok {
		return fmt.Errorf("batch job %d: %w", batchID, db.ErrNotFound)
	}
	if job.ExternalJobID != nil {
		return fmt.Errorf("batch %d: %w", batchID, db.ErrAlreadySubmitted)
	}
	job.ExternalJobID = &externalJobID
	job.InputFileID = &inputFileID
	job.State = models.StateSubmitted
	now := nowStamp()
	job.SubmittedAt = &now
	return nil
}

func (m *memStore) AdvanceState(_ context.Context, batchID int, newState string, errMsg *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[batchID]
	if !ok {
		return fmt.Errorf("batch job %d: %w", batchID, db.ErrNotFound)
	}
	if !models.CanAdvance(job.State, newState) {
		return fmt.Errorf("batch %d: %s -> %s: %w", batchID, job.State, newState, db.ErrStateRegression)
	}
	job.State = newState
	job.Error = errMsg
	return nil
}

func (m *memStore) MarkCompleted(_ context.Context, batchID int, outputKey string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[batchID]
	if !ok {
		return fmt.Errorf("batch job %d: %w", batchID, db.ErrNotFound)
	}
	if !models.CanAdvance(job.State, models.StateCompleted) {
		return fmt.Errorf("batch %d: %s -> COMPLETED: %w", batchID, job.State, db.ErrStateRegression)
	}
	job.State = models.StateCompleted
	job.OutputKey = &outputKey
	return nil
}

func (m *memStore) TouchPolled(_ context.Context, batchID int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if job, ok := m.jobs[batchID]; ok {
		now := nowStamp()
		job.LastPolledAt = &now
	}
	return nil
}

func (m *memStore) ListJobsByState(_ context.Context, states ...string) ([]models.BatchJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	wanted := make(map[string]struct{}, len(states))
	for _, s := range states {
		wanted[s] = struct{}{}
	}
	var jobs []models.BatchJob
	for _, job := range m.jobs {
		if _, ok := wanted[job.State]; ok {
			jobs = append(jobs, *job)
		}
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].BatchID < jobs[j].BatchID })
	return jobs, nil
}

func (m *memStore) ListJobs(context.Context) ([]models.BatchJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var jobs []models.BatchJob
	for _, job := range m.jobs {
		jobs = append(jobs, *job)
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].BatchID < jobs[j].BatchID })
	return jobs, nil
}

func (m *memStore) ActiveItemKeys(ctx context.Context) ([]string, error) {
	jobs, err := m.ListJobsByState(ctx, models.StatePendingSubmit, models.StateSubmitted, models.StateInProgress)
	if err != nil {
		return nil, err
	}
	var keys []string
	for _, job := range jobs {
		keys = append(keys, job.ItemKeys...)
	}
	return keys, nil
}

func (m *memStore) UpsertExtraction(_ context.Context, e models.Extraction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.extractions[e.CustomID] = e
	return nil
}

func (m *memStore) UpsertQualityStatus(_ context.Context, q models.QualityStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.quality[q.CustomID] = q
	return nil
}

func (m *memStore) UpsertDeadLetter(_ context.Context, d models.DeadLetter) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deadLetters[d.CustomID] = d
	return nil
}

func (m *memStore) DeleteDeadLetter(_ context.Context, customID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.deadLetters, customID)
	return nil
}

func (m *memStore) DeleteQualityStatus(_ context.Context, customID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.quality, customID)
	return nil
}

func (m *memStore) ProcessedKeys(context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.quality))
	for key := range m.quality {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys, nil
}

func (m *memStore) ListExtractions(context.Context) ([]models.Extraction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var rows []models.Extraction
	for _, e := range m.extractions {
		rows = append(rows, e)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].CustomID < rows[j].CustomID })
	return rows, nil
}

func (m *memStore) ListQualityStatuses(context.Context) ([]models.QualityStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var rows []models.QualityStatus
	for _, q := range m.quality {
		rows = append(rows, q)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].CustomID < rows[j].CustomID })
	return rows, nil
}

func (m *memStore) ListDeadLetters(context.Context) ([]models.DeadLetter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var rows []models.DeadLetter
	for _, d := range m.deadLetters {
		rows = append(rows, d)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].CustomID < rows[j].CustomID })
	return rows, nil
}

func nowStamp() time.Time { return time.Now() }

var _ Store = (*memStore)(nil)

// fakeAPI scripts the external service per call.
type fakeAPI struct {
	mu          sync.Mutex
	submitErr   error
	submits     []string
	statusFn    func(jobID string) (batchapi.JobStatus, error)
	resultFiles map[string][]byte
	nextJob     int
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{resultFiles: make(map[string][]byte)}
}

func (f *fakeAPI) Submit(_ context.Context, name string, payload []byte) (batchapi.SubmitResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.submitErr != nil {
		return batchapi.SubmitResult{}, f.submitErr
	}
	f.nextJob++
	f.submits = append(f.submits, name)
	return batchapi.SubmitResult{
		JobID:       fmt.Sprintf("job-%d", f.nextJob),
		InputFileID: fmt.Sprintf("file-in-%d", f.nextJob),
	}, nil
}

func (f *fakeAPI) Status(_ context.Context, jobID string) (batchapi.JobStatus, error) {
	f.mu.Lock()
	statusFn := f.statusFn
	f.mu.Unlock()
	if statusFn == nil {
		return batchapi.JobStatus{State: batchapi.StatusInProgress}, nil
	}
	return statusFn(jobID)
}

func (f *fakeAPI) FetchResults(_ context.Context, fileID string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	content, ok := f.resultFiles[fileID]
	if !ok {
		return nil, &batchapi.APIError{StatusCode: 404, Message: "no such file"}
	}
	return content, nil
}

var _ batchapi.Service = (*fakeAPI)(nil)
