package pipeline

import (
	"context"
	"crypto/subtle"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dgallion1/mdbulk/internal/bulk"
)

// JobKind names the workflow a job runs.
type JobKind string

const (
	KindExtract JobKind = "extract"
	KindVerify  JobKind = "verify"
	KindUpdate  JobKind = "update"
)

// JobStatus represents the state of a bulk job.
type JobStatus string

const (
	StatusQueued    JobStatus = "queued"
	StatusRunning   JobStatus = "running"
	StatusCompleted JobStatus = "completed"
	StatusFailed    JobStatus = "failed"
	StatusPartial   JobStatus = "partial"
)

// RunFunc performs a job's workflow. progress must be called once per
// finished task with the task's error, or nil.
type RunFunc func(ctx context.Context, progress func(error)) ([]bulk.Row, error)

// Job tracks the state of a single bulk workflow run.
type Job struct {
	mu sync.Mutex

	ID     string    `json:"job_id"`
	Kind   JobKind   `json:"kind"`
	Status JobStatus `json:"status"`
	Phase  string    `json:"phase"`

	Progress Progress `json:"progress"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Owner identifies the submitter; only the same owner may read the job.
	Owner string `json:"-"`

	// Internal: not serialized.
	run    RunFunc
	rows   []bulk.Row
	errors []string
}

// Progress tracks processing progress.
type Progress struct {
	ItemsProcessed int      `json:"items_processed"`
	Failures       int      `json:"failures"`
	RowCount       int      `json:"row_count"`
	Errors         []string `json:"errors"`
}

// NewJob returns a queued job with a fresh ID.
func NewJob(kind JobKind, run RunFunc) *Job {
	now := time.Now()
	return &Job{
		ID:        uuid.NewString(),
		Kind:      kind,
		Status:    StatusQueued,
		Phase:     "queued",
		CreatedAt: now,
		UpdatedAt: now,
		run:       run,
	}
}

// JobStore is a thread-safe in-memory job registry with TTL eviction.
type JobStore struct {
	mu   sync.Mutex
	jobs map[string]*Job
	ttl  time.Duration
}

func NewJobStore(ttl time.Duration) *JobStore {
	return &JobStore{
		jobs: make(map[string]*Job),
		ttl:  ttl,
	}
}

func (s *JobStore) Put(job *Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = job
}

func (s *JobStore) Get(id string) *Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jobs[id]
}

// Len returns the number of stored jobs.
func (s *JobStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}

// Cleanup removes expired jobs. Running jobs are kept whatever their age.
func (s *JobStore) Cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for id, job := range s.jobs {
		job.mu.Lock()
		expired := job.Status != StatusRunning && now.Sub(job.UpdatedAt) > s.ttl
		job.mu.Unlock()
		if expired {
			delete(s.jobs, id)
		}
	}
}

// SetStatus updates job status atomically.
func (j *Job) SetStatus(status JobStatus, phase string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Status = status
	j.Phase = phase
	j.UpdatedAt = time.Now()
}

// AddError records an error.
func (j *Job) AddError(err string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.errors = append(j.errors, err)
	j.Progress.Errors = j.errors
	j.UpdatedAt = time.Now()
}

// RecordTask counts one finished task, and its failure when err is set.
func (j *Job) RecordTask(err error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Progress.ItemsProcessed++
	if err != nil {
		j.Progress.Failures++
		j.errors = append(j.errors, err.Error())
		j.Progress.Errors = j.errors
	}
	j.UpdatedAt = time.Now()
}

// SetRows stores the job's result rows.
func (j *Job) SetRows(rows []bulk.Row) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.rows = rows
	j.Progress.RowCount = len(rows)
	j.UpdatedAt = time.Now()
}

// Rows returns the job's result rows.
func (j *Job) Rows() []bulk.Row {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.rows
}

// OwnedBy reports whether owner submitted the job. A job without an owner
// is readable by anyone.
func (j *Job) OwnedBy(owner string) bool {
	if j.Owner == "" {
		return true
	}
	return subtle.ConstantTimeCompare([]byte(j.Owner), []byte(owner)) == 1
}

// JobSnapshot is a read-only, JSON-safe copy of job state.
type JobSnapshot struct {
	ID        string     `json:"job_id"`
	Kind      JobKind    `json:"kind"`
	Status    JobStatus  `json:"status"`
	Phase     string     `json:"phase"`
	Progress  Progress   `json:"progress"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	Rows      []bulk.Row `json:"rows"`
}

// Snapshot returns a JSON-safe copy of the job state. Rows stay nil until
// the job has finished with results.
func (j *Job) Snapshot() JobSnapshot {
	j.mu.Lock()
	defer j.mu.Unlock()
	errs := append([]string{}, j.Progress.Errors...)
	snap := JobSnapshot{
		ID:     j.ID,
		Kind:   j.Kind,
		Status: j.Status,
		Phase:  j.Phase,
		Progress: Progress{
			ItemsProcessed: j.Progress.ItemsProcessed,
			Failures:       j.Progress.Failures,
			RowCount:       j.Progress.RowCount,
			Errors:         errs,
		},
		CreatedAt: j.CreatedAt,
		UpdatedAt: j.UpdatedAt,
	}
	if j.Status == StatusCompleted || j.Status == StatusPartial {
		snap.Rows = j.rows
		if snap.Rows == nil {
			snap.Rows = []bulk.Row{}
		}
	}
	return snap
}
