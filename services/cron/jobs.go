package cron

import (
	"context"
	"fmt"
	"time"
)

// retryBatchSize caps how many failed documents one cron run reprocesses so
// a backlog never monopolizes the LLM quota.
const retryBatchSize = 5

// staleJobMaxAge is how long a job may sit unchanged before the sweeper
// removes it.
const staleJobMaxAge = 6 * time.Hour

// RetryFailedDocuments reprocesses failed documents from their archived
// bytes. Runs every 30 minutes.
func (m *CronManager) RetryFailedDocuments() {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Minute)
	defer cancel()

	jobName := "retry_failed_documents"

	retried, succeeded, err := m.pipeline.RetryFailed(ctx, retryBatchSize)
	if err != nil {
		m.logJobError(jobName, fmt.Errorf("failed to query failed documents: %w", err))
		return
	}

	if retried == 0 {
		m.logJobComplete(jobName, "No failed documents to retry")
		return
	}

	m.logJobComplete(jobName, fmt.Sprintf("Retried %d documents, %d succeeded", retried, succeeded))
}

// CleanupStaleJobs removes processing jobs that stopped updating. Runs
// hourly; mainly matters for the in-memory job store, which has no TTL.
func (m *CronManager) CleanupStaleJobs() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	jobName := "cleanup_stale_jobs"

	removed, err := m.jobs.CleanupStaleJobs(ctx, staleJobMaxAge)
	if err != nil {
		m.logJobError(jobName, fmt.Errorf("failed to list jobs: %w", err))
		return
	}

	m.logJobComplete(jobName, fmt.Sprintf("Removed %d stale jobs", removed))
}
