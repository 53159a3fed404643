package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/libetion/libera-api/model"
	"github.com/libetion/libera-api/utils/cache"
)

// ErrJobNotFound is returned when a job ID is unknown or expired.
var ErrJobNotFound = errors.New("job not found")

// jobTTL bounds how long finished job state is kept around.
const jobTTL = 24 * time.Hour

// JobStorage persists background job state. Two implementations: Redis when
// REDIS_URL is configured, otherwise process-local memory.
type JobStorage interface {
	SaveJob(ctx context.Context, job *model.ProcessingJob) error
	GetJob(ctx context.Context, jobID string) (*model.ProcessingJob, error)
	ListJobs(ctx context.Context) ([]*model.ProcessingJob, error)
	DeleteJob(ctx context.Context, jobID string) error
}

// InMemoryJobStorage keeps jobs in a map. Job state does not survive a
// restart; upload batches in flight during a restart are lost, but the
// per-document audit trail in Postgres is not.
type InMemoryJobStorage struct {
	mu   sync.RWMutex
	jobs map[string]*model.ProcessingJob
}

func NewInMemoryJobStorage() *InMemoryJobStorage {
	return &InMemoryJobStorage{jobs: make(map[string]*model.ProcessingJob)}
}

func (s *InMemoryJobStorage) SaveJob(_ context.Context, job *model.ProcessingJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *job
	copied.Results = append([]model.FileResult(nil), job.Results...)
	s.jobs[job.JobID] = &copied
	return nil
}

func (s *InMemoryJobStorage) GetJob(_ context.Context, jobID string) (*model.ProcessingJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return nil, ErrJobNotFound
	}
	copied := *job
	copied.Results = append([]model.FileResult(nil), job.Results...)
	return &copied, nil
}

func (s *InMemoryJobStorage) ListJobs(_ context.Context) ([]*model.ProcessingJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	jobs := make([]*model.ProcessingJob, 0, len(s.jobs))
	for _, job := range s.jobs {
		copied := *job
		jobs = append(jobs, &copied)
	}
	return jobs, nil
}

func (s *InMemoryJobStorage) DeleteJob(_ context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.jobs, jobID)
	return nil
}

// RedisJobStorage stores each job as JSON under job:state:<id> with a TTL.
type RedisJobStorage struct {
	cache *cache.RedisCache
}

func NewRedisJobStorage(c *cache.RedisCache) *RedisJobStorage {
	return &RedisJobStorage{cache: c}
}

func (s *RedisJobStorage) SaveJob(ctx context.Context, job *model.ProcessingJob) error {
	key := fmt.Sprintf(model.RedisKeyJobState, job.JobID)
	return s.cache.SetJSON(ctx, key, job, jobTTL)
}

func (s *RedisJobStorage) GetJob(ctx context.Context, jobID string) (*model.ProcessingJob, error) {
	key := fmt.Sprintf(model.RedisKeyJobState, jobID)
	var job model.ProcessingJob
	if err := s.cache.GetJSON(ctx, key, &job); err != nil {
		if errors.Is(err, cache.ErrNotFound) {
			return nil, ErrJobNotFound
		}
		return nil, err
	}
	return &job, nil
}

func (s *RedisJobStorage) ListJobs(ctx context.Context) ([]*model.ProcessingJob, error) {
	keys, err := s.cache.Keys(ctx, fmt.Sprintf(model.RedisKeyJobState, "*"))
	if err != nil {
		return nil, err
	}
	jobs := make([]*model.ProcessingJob, 0, len(keys))
	for _, key := range keys {
		var job model.ProcessingJob
		if err := s.cache.GetJSON(ctx, key, &job); err != nil {
			continue // expired between KEYS and GET
		}
		jobs = append(jobs, &job)
	}
	return jobs, nil
}

func (s *RedisJobStorage) DeleteJob(ctx context.Context, jobID string) error {
	return s.cache.Delete(ctx, fmt.Sprintf(model.RedisKeyJobState, jobID))
}

// JobService creates and mutates background processing jobs on top of a
// JobStorage. The mutex serializes every read-modify-write of job state:
// the pipeline records results from concurrent goroutines, and the storage
// interface has no compare-and-swap.
type JobService struct {
	mu      sync.Mutex
	storage JobStorage
}

func NewJobService(storage JobStorage) *JobService {
	return &JobService{storage: storage}
}

// CreateJob registers a new batch job covering total files.
func (j *JobService) CreateJob(ctx context.Context, total int) (*model.ProcessingJob, error) {
	job := &model.ProcessingJob{
		JobID:     uuid.New().String(),
		Status:    model.JobStatusProcessing,
		Total:     total,
		StartedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	if err := j.storage.SaveJob(ctx, job); err != nil {
		return nil, fmt.Errorf("saving job: %w", err)
	}
	return job, nil
}

// GetJob returns current job state.
func (j *JobService) GetJob(ctx context.Context, jobID string) (*model.ProcessingJob, error) {
	return j.storage.GetJob(ctx, jobID)
}

// RecordResult appends one file's outcome and recomputes progress.
func (j *JobService) RecordResult(ctx context.Context, jobID string, result model.FileResult) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	job, err := j.storage.GetJob(ctx, jobID)
	if err != nil {
		return err
	}

	job.Results = append(job.Results, result)
	if result.Success {
		job.Completed++
	} else {
		job.Failed++
	}
	done := job.Completed + job.Failed
	if job.Total > 0 {
		job.Progress = done * 100 / job.Total
	}
	job.UpdatedAt = time.Now().UTC()

	return j.storage.SaveJob(ctx, job)
}

// FinishJob marks the job terminal. jobErr is set only when the batch itself
// failed (not individual files).
func (j *JobService) FinishJob(ctx context.Context, jobID string, jobErr error) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	job, err := j.storage.GetJob(ctx, jobID)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	job.FinishedAt = &now
	job.UpdatedAt = now
	job.Progress = 100

	switch {
	case jobErr != nil:
		job.Status = model.JobStatusFailed
		job.Error = jobErr.Error()
	case job.Failed == job.Total && job.Total > 0:
		job.Status = model.JobStatusFailed
	default:
		job.Status = model.JobStatusCompleted
	}

	log.Printf("JobService: job %s finished: %s (%d/%d ok)", jobID, job.Status, job.Completed, job.Total)
	return j.storage.SaveJob(ctx, job)
}

// CleanupStaleJobs removes jobs stuck in processing longer than maxAge.
// Covers the in-memory store, which has no TTL.
func (j *JobService) CleanupStaleJobs(ctx context.Context, maxAge time.Duration) (int, error) {
	jobs, err := j.storage.ListJobs(ctx)
	if err != nil {
		return 0, err
	}

	cutoff := time.Now().UTC().Add(-maxAge)
	removed := 0
	for _, job := range jobs {
		terminal := job.Status == model.JobStatusCompleted ||
			job.Status == model.JobStatusFailed ||
			job.Status == model.JobStatusCancelled
		stuck := job.Status == model.JobStatusProcessing && job.UpdatedAt.Before(cutoff)
		expired := terminal && job.UpdatedAt.Before(cutoff)
		if stuck || expired {
			if err := j.storage.DeleteJob(ctx, job.JobID); err != nil {
				log.Printf("JobService: deleting stale job %s failed: %v", job.JobID, err)
				continue
			}
			removed++
		}
	}
	return removed, nil
}
