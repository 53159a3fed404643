package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/libetion/libera-api/model"
)

// laggedJobStorage delays reads the way a Redis round-trip does, which
// widens the window between GetJob and SaveJob.
type laggedJobStorage struct {
	JobStorage
	readDelay time.Duration
}

func (s *laggedJobStorage) GetJob(ctx context.Context, jobID string) (*model.ProcessingJob, error) {
	time.Sleep(s.readDelay)
	return s.JobStorage.GetJob(ctx, jobID)
}

func TestRecordResultConcurrent(t *testing.T) {
	ctx := context.Background()
	storage := &laggedJobStorage{JobStorage: NewInMemoryJobStorage(), readDelay: 2 * time.Millisecond}
	svc := NewJobService(storage)

	const total = 8
	job, err := svc.CreateJob(ctx, total)
	if err != nil {
		t.Fatalf("CreateJob failed: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < total; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			result := model.FileResult{Filename: "doc.pdf", Success: i%2 == 0}
			if err := svc.RecordResult(ctx, job.JobID, result); err != nil {
				t.Errorf("RecordResult failed: %v", err)
			}
		}(i)
	}
	wg.Wait()

	got, err := svc.GetJob(ctx, job.JobID)
	if err != nil {
		t.Fatalf("GetJob failed: %v", err)
	}
	if len(got.Results) != total {
		t.Errorf("results = %d, want %d", len(got.Results), total)
	}
	if got.Completed+got.Failed != total {
		t.Errorf("completed+failed = %d+%d, want %d", got.Completed, got.Failed, total)
	}
	if got.Progress != 100 {
		t.Errorf("progress = %d, want 100", got.Progress)
	}
}

func TestJobLifecycle(t *testing.T) {
	ctx := context.Background()
	svc := NewJobService(NewInMemoryJobStorage())

	job, err := svc.CreateJob(ctx, 3)
	if err != nil {
		t.Fatalf("CreateJob failed: %v", err)
	}
	if job.JobID == "" {
		t.Fatal("job must get an ID")
	}
	if job.Status != model.JobStatusProcessing {
		t.Errorf("new job status = %s, want processing", job.Status)
	}

	results := []model.FileResult{
		{Filename: "a.pdf", Success: true, StudentID: 1, ScoresCount: 12},
		{Filename: "b.pdf", Success: false, Error: "unsupported document"},
		{Filename: "c.pdf", Success: true, StudentID: 2},
	}
	for _, r := range results {
		if err := svc.RecordResult(ctx, job.JobID, r); err != nil {
			t.Fatalf("RecordResult failed: %v", err)
		}
	}

	got, err := svc.GetJob(ctx, job.JobID)
	if err != nil {
		t.Fatalf("GetJob failed: %v", err)
	}
	if got.Completed != 2 || got.Failed != 1 {
		t.Errorf("counts = %d/%d, want 2/1", got.Completed, got.Failed)
	}
	if got.Progress != 100 {
		t.Errorf("progress = %d, want 100", got.Progress)
	}
	if len(got.Results) != 3 {
		t.Errorf("results = %d, want 3", len(got.Results))
	}

	if err := svc.FinishJob(ctx, job.JobID, nil); err != nil {
		t.Fatalf("FinishJob failed: %v", err)
	}
	got, _ = svc.GetJob(ctx, job.JobID)
	if got.Status != model.JobStatusCompleted {
		t.Errorf("status = %s, want completed", got.Status)
	}
	if got.FinishedAt == nil {
		t.Error("FinishedAt must be set")
	}
}

func TestJobAllFilesFailed(t *testing.T) {
	ctx := context.Background()
	svc := NewJobService(NewInMemoryJobStorage())

	job, _ := svc.CreateJob(ctx, 1)
	svc.RecordResult(ctx, job.JobID, model.FileResult{Filename: "a.pdf", Success: false, Error: "boom"})
	svc.FinishJob(ctx, job.JobID, nil)

	got, _ := svc.GetJob(ctx, job.JobID)
	if got.Status != model.JobStatusFailed {
		t.Errorf("a batch where every file failed is failed, got %s", got.Status)
	}
}

func TestJobNotFound(t *testing.T) {
	svc := NewJobService(NewInMemoryJobStorage())

	_, err := svc.GetJob(context.Background(), "no-such-job")
	if !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
}

func TestInMemoryStorageReturnsCopies(t *testing.T) {
	ctx := context.Background()
	storage := NewInMemoryJobStorage()

	job := &model.ProcessingJob{JobID: "j1", Status: model.JobStatusProcessing}
	if err := storage.SaveJob(ctx, job); err != nil {
		t.Fatal(err)
	}

	got, _ := storage.GetJob(ctx, "j1")
	got.Status = model.JobStatusFailed
	got.Results = append(got.Results, model.FileResult{Filename: "x.pdf"})

	again, _ := storage.GetJob(ctx, "j1")
	if again.Status != model.JobStatusProcessing || len(again.Results) != 0 {
		t.Error("mutating a returned job must not affect stored state")
	}
}

func TestCleanupStaleJobs(t *testing.T) {
	ctx := context.Background()
	storage := NewInMemoryJobStorage()
	svc := NewJobService(storage)

	stale := &model.ProcessingJob{
		JobID:     "stale",
		Status:    model.JobStatusProcessing,
		UpdatedAt: time.Now().UTC().Add(-2 * time.Hour),
	}
	fresh := &model.ProcessingJob{
		JobID:     "fresh",
		Status:    model.JobStatusProcessing,
		UpdatedAt: time.Now().UTC(),
	}
	storage.SaveJob(ctx, stale)
	storage.SaveJob(ctx, fresh)

	removed, err := svc.CleanupStaleJobs(ctx, time.Hour)
	if err != nil {
		t.Fatalf("CleanupStaleJobs failed: %v", err)
	}
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}
	if _, err := storage.GetJob(ctx, "stale"); !errors.Is(err, ErrJobNotFound) {
		t.Error("stale job must be gone")
	}
	if _, err := storage.GetJob(ctx, "fresh"); err != nil {
		t.Error("fresh job must survive")
	}
}
