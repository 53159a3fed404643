package cron

import (
	"log"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/libetion/libera-api/services"
)

// CronManager manages all scheduled background jobs.
type CronManager struct {
	cron     *cron.Cron
	pipeline *services.Pipeline
	jobs     *services.JobService
}

// NewCronManager creates a new cron manager
func NewCronManager(pipeline *services.Pipeline, jobs *services.JobService) *CronManager {
	// Create cron with seconds precision
	c := cron.New(cron.WithSeconds())

	return &CronManager{
		cron:     c,
		pipeline: pipeline,
		jobs:     jobs,
	}
}

// Start registers and starts all cron jobs
func (m *CronManager) Start() error {
	log.Println("Starting cron jobs...")

	if err := m.registerJobs(); err != nil {
		return err
	}

	m.cron.Start()

	log.Println("Cron jobs started successfully")
	return nil
}

// Stop stops all cron jobs
func (m *CronManager) Stop() {
	log.Println("Stopping cron jobs...")
	ctx := m.cron.Stop()
	<-ctx.Done()
	log.Println("Cron jobs stopped")
}

func (m *CronManager) registerJobs() error {
	// 1. Every 30 minutes: retry failed documents from the archive
	_, err := m.cron.AddFunc("0 */30 * * * *", func() {
		m.logJobStart("retry_failed_documents")
		m.RetryFailedDocuments()
	})
	if err != nil {
		return err
	}

	// 2. Every hour: sweep stale processing jobs
	_, err = m.cron.AddFunc("0 0 * * * *", func() {
		m.logJobStart("cleanup_stale_jobs")
		m.CleanupStaleJobs()
	})
	if err != nil {
		return err
	}

	log.Println("All cron jobs registered successfully")
	return nil
}

func (m *CronManager) logJobStart(jobName string) {
	log.Printf("[CRON] Starting job: %s at %s", jobName, time.Now().Format(time.RFC3339))
}

func (m *CronManager) logJobComplete(jobName string, message string) {
	log.Printf("[CRON] Completed job: %s - %s", jobName, message)
}

func (m *CronManager) logJobError(jobName string, err error) {
	log.Printf("[CRON] Error in job: %s - %v", jobName, err)
}
