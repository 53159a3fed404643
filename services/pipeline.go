package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"gorm.io/datatypes"

	"github.com/libetion/libera-api/model"
	"github.com/libetion/libera-api/services/archive"
)

// DocumentInput is one uploaded file handed to the pipeline.
type DocumentInput struct {
	Filename string
	Content  []byte
}

// DocumentResult is the pipeline outcome for one document.
type DocumentResult struct {
	Filename    string `json:"filename"`
	FileHash    string `json:"file_hash"`
	Duplicate   bool   `json:"duplicate,omitempty"`
	StudentID   uint   `json:"student_id,omitempty"`
	ScoresSaved int    `json:"scores_saved,omitempty"`
	NeedsReview bool   `json:"needs_review,omitempty"`
	Err         error  `json:"-"`
}

// PipelineConfig bounds the pipeline's parallelism.
type PipelineConfig struct {
	MaxConcurrentDocuments int
}

func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{MaxConcurrentDocuments: 4}
}

// Pipeline runs a document through load, extract, normalize and persist.
// Documents in a batch run concurrently up to MaxConcurrentDocuments; pages
// inside one document always run sequentially because grade and semester
// context carries across page boundaries.
type Pipeline struct {
	loader      *DocumentLoader
	extractor   *FieldExtractor
	normalizer  *Normalizer
	persistence *PersistenceAdapter
	archive     archive.Store
	jobs        *JobService

	semaphore chan struct{}
}

func NewPipeline(
	loader *DocumentLoader,
	extractor *FieldExtractor,
	normalizer *Normalizer,
	persistence *PersistenceAdapter,
	store archive.Store,
	jobs *JobService,
	config PipelineConfig,
) *Pipeline {
	if config.MaxConcurrentDocuments <= 0 {
		config.MaxConcurrentDocuments = DefaultPipelineConfig().MaxConcurrentDocuments
	}
	return &Pipeline{
		loader:      loader,
		extractor:   extractor,
		normalizer:  normalizer,
		persistence: persistence,
		archive:     store,
		jobs:        jobs,
		semaphore:   make(chan struct{}, config.MaxConcurrentDocuments),
	}
}

// FileHash returns the hex SHA-256 of the document bytes. It is the
// idempotency key for the whole pipeline.
func FileHash(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// ProcessBatch runs all documents, recording per-file results on the job.
// It blocks until the batch finishes; callers run it in a goroutine with a
// context they control.
func (p *Pipeline) ProcessBatch(ctx context.Context, jobID string, docs []DocumentInput) {
	docs, skipped := collapseDuplicates(docs)
	for _, result := range skipped {
		p.recordResult(jobID, result)
	}

	var wg sync.WaitGroup

	for _, doc := range docs {
		select {
		case p.semaphore <- struct{}{}:
		case <-ctx.Done():
			p.recordResult(jobID, model.FileResult{Filename: doc.Filename, Error: ctx.Err().Error()})
			continue
		}

		wg.Add(1)
		go func(doc DocumentInput) {
			defer wg.Done()
			defer func() { <-p.semaphore }()

			result := p.ProcessDocument(ctx, doc)
			p.recordResult(jobID, fileResult(result))
		}(doc)
	}

	wg.Wait()

	if err := p.jobs.FinishJob(context.Background(), jobID, nil); err != nil {
		log.Printf("Pipeline: finishing job %s failed: %v", jobID, err)
	}
}

// collapseDuplicates keeps the first document per content hash. Dispatching
// both copies would race on the metadata row and run the extractor twice for
// the same bytes, so the later copy resolves immediately as a duplicate.
func collapseDuplicates(docs []DocumentInput) ([]DocumentInput, []model.FileResult) {
	unique := docs[:0]
	var skipped []model.FileResult
	seen := make(map[string]string, len(docs))
	for _, doc := range docs {
		hash := FileHash(doc.Content)
		if prev, dup := seen[hash]; dup {
			log.Printf("Pipeline: %s duplicates %s in the same batch", doc.Filename, prev)
			skipped = append(skipped, model.FileResult{
				Filename:  doc.Filename,
				FileHash:  hash,
				Success:   true,
				Duplicate: true,
			})
			continue
		}
		seen[hash] = doc.Filename
		unique = append(unique, doc)
	}
	return unique, skipped
}

func (p *Pipeline) recordResult(jobID string, result model.FileResult) {
	// Job bookkeeping survives batch cancellation.
	if err := p.jobs.RecordResult(context.Background(), jobID, result); err != nil {
		log.Printf("Pipeline: recording result for job %s failed: %v", jobID, err)
	}
}

func fileResult(r *DocumentResult) model.FileResult {
	fr := model.FileResult{
		Filename:    r.Filename,
		FileHash:    r.FileHash,
		Duplicate:   r.Duplicate,
		StudentID:   r.StudentID,
		ScoresCount: r.ScoresSaved,
		NeedsReview: r.NeedsReview,
		Success:     r.Err == nil,
	}
	if r.Err != nil {
		fr.Error = r.Err.Error()
	}
	return fr
}

// ProcessDocument runs one document through the full pipeline. The content
// hash makes it idempotent: bytes already processed successfully short
// circuit to the stored outcome, while failed or pending hashes are retried
// in place.
func (p *Pipeline) ProcessDocument(ctx context.Context, doc DocumentInput) *DocumentResult {
	result := &DocumentResult{Filename: doc.Filename, FileHash: FileHash(doc.Content)}

	meta, existed, err := p.persistence.UpsertMetadata(ctx, &model.PDFMetadata{
		OriginalFilename: doc.Filename,
		FileHash:         result.FileHash,
		FileSize:         int64(len(doc.Content)),
		Status:           model.StatusPending,
	})
	if err != nil {
		result.Err = err
		return result
	}

	if existed && meta.Status == model.StatusCompleted {
		result.Duplicate = true
		if meta.StudentID != nil {
			result.StudentID = *meta.StudentID
		}
		log.Printf("Pipeline: %s already processed (hash %s)", doc.Filename, shortHash(result.FileHash))
		return result
	}
	if existed && meta.Status == model.StatusProcessing {
		result.Duplicate = true
		result.Err = fmt.Errorf("document %s is already being processed", shortHash(result.FileHash))
		return result
	}

	// Archive before processing so a failure is retryable without re-upload.
	archiveKey := archive.Key(result.FileHash)
	if err := p.archive.Put(ctx, archiveKey, doc.Content); err != nil {
		log.Printf("Pipeline: archiving %s failed: %v", doc.Filename, err)
		archiveKey = ""
	}

	p.updateMetadata(result.FileHash, map[string]any{
		"status":           model.StatusProcessing,
		"archive_key":      archiveKey,
		"processing_error": "",
	})

	saveResult, pErr := p.runStages(ctx, doc, result)
	if pErr != nil {
		result.Err = pErr
		p.failDocument(result.FileHash, pErr)
		return result
	}

	result.StudentID = saveResult.StudentID
	result.ScoresSaved = saveResult.ScoresSaved

	now := time.Now().UTC()
	p.updateMetadata(result.FileHash, map[string]any{
		"status":       model.StatusCompleted,
		"student_id":   saveResult.StudentID,
		"processed_at": now,
	})

	log.Printf("Pipeline: %s completed: student=%d scores=%d", doc.Filename, saveResult.StudentID, saveResult.ScoresSaved)
	return result
}

// runStages is the load -> extract -> normalize -> persist sequence, with
// one strict re-extraction pass when normalization yields nothing usable.
func (p *Pipeline) runStages(ctx context.Context, doc DocumentInput, result *DocumentResult) (*SaveResult, error) {
	loaded, err := p.loader.Load(doc.Content, doc.Filename)
	if err != nil {
		return nil, err
	}
	p.updateMetadata(result.FileHash, map[string]any{"page_count": loaded.PageCount})

	raw, err := p.extractor.ExtractDocument(ctx, loaded, false)
	if errors.Is(err, ErrExtractionMalformed) {
		p.storeRawPayload(result.FileHash, err)
		log.Printf("Pipeline: %s returned unparseable output, re-extracting strictly", doc.Filename)
		raw, err = p.extractor.ExtractDocument(ctx, loaded, true)
	}
	if err != nil {
		p.storeRawPayload(result.FileHash, err)
		return nil, err
	}
	p.updateMetadata(result.FileHash, map[string]any{"raw_payload": datatypes.JSON(raw.JSON())})

	normalized, _, err := p.normalizer.Normalize(raw)
	if errors.Is(err, ErrNormalizationRejected) {
		// One stricter pass; the model sometimes returns prose on the
		// first attempt but complies when told to output only JSON.
		log.Printf("Pipeline: %s produced no usable records, re-extracting strictly", doc.Filename)
		raw, err = p.extractor.ExtractDocument(ctx, loaded, true)
		if err != nil {
			p.storeRawPayload(result.FileHash, err)
			return nil, err
		}
		p.updateMetadata(result.FileHash, map[string]any{"raw_payload": datatypes.JSON(raw.JSON())})
		normalized, _, err = p.normalizer.Normalize(raw)
	}
	if err != nil {
		return nil, err
	}

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	saveResult, err := p.persistence.Save(ctx, normalized)
	if err != nil {
		var conflict *IdentityConflictError
		if errors.As(err, &conflict) {
			result.NeedsReview = true
			p.updateMetadata(result.FileHash, map[string]any{
				"status":           model.StatusNeedsReview,
				"processing_error": conflict.Error(),
			})
		}
		return nil, err
	}
	return saveResult, nil
}

// Reprocess re-runs a document from its archived bytes.
func (p *Pipeline) Reprocess(ctx context.Context, fileHash string) (*DocumentResult, error) {
	meta, err := p.persistence.MetadataByHash(ctx, fileHash)
	if err != nil {
		return nil, err
	}
	if meta.ArchiveKey == "" {
		return nil, fmt.Errorf("document %s has no archived copy", shortHash(fileHash))
	}

	content, err := p.archive.Get(ctx, meta.ArchiveKey)
	if err != nil {
		return nil, err
	}

	// Reset so ProcessDocument takes the retry path, not the duplicate one.
	p.updateMetadata(fileHash, map[string]any{
		"status":           model.StatusPending,
		"processing_error": "",
	})

	result := p.ProcessDocument(ctx, DocumentInput{Filename: meta.OriginalFilename, Content: content})
	if result.Err != nil {
		return result, result.Err
	}
	return result, nil
}

// RetryFailed reprocesses up to limit failed documents from the archive.
// Called by the cron manager.
func (p *Pipeline) RetryFailed(ctx context.Context, limit int) (retried, succeeded int, err error) {
	rows, err := p.persistence.FailedMetadata(ctx, limit)
	if err != nil {
		return 0, 0, err
	}

	for _, row := range rows {
		retried++
		result, err := p.Reprocess(ctx, row.FileHash)
		if err != nil {
			log.Printf("Pipeline: retry of %s failed: %v", shortHash(row.FileHash), err)
			continue
		}
		if result.Err == nil {
			succeeded++
		}
	}
	return retried, succeeded, nil
}

func (p *Pipeline) failDocument(fileHash string, pErr error) {
	status := model.StatusFailed
	if errors.Is(pErr, ErrPersistenceConflict) {
		status = model.StatusNeedsReview
	}
	p.updateMetadata(fileHash, map[string]any{
		"status":           status,
		"processing_error": pErr.Error(),
	})
}

// storeRawPayload keeps a malformed LLM response on the audit row for
// manual review.
func (p *Pipeline) storeRawPayload(fileHash string, err error) {
	var malformed *MalformedResponseError
	if !errors.As(err, &malformed) || malformed.RawPayload == "" {
		return
	}
	quoted, mErr := json.Marshal(malformed.RawPayload)
	if mErr != nil {
		return
	}
	p.updateMetadata(fileHash, map[string]any{"raw_payload": datatypes.JSON(quoted)})
}

func (p *Pipeline) updateMetadata(fileHash string, updates map[string]any) {
	// Metadata writes use a background context so status transitions land
	// even when the batch context is cancelled.
	if err := p.persistence.UpdateMetadata(context.Background(), fileHash, updates); err != nil {
		log.Printf("Pipeline: updating metadata for %s failed: %v", shortHash(fileHash), err)
	}
}

func shortHash(hash string) string {
	if len(hash) > 12 {
		return hash[:12]
	}
	return hash
}

// ValidateBatch enforces upload limits before a job is created.
func ValidateBatch(docs []DocumentInput, maxFiles int) error {
	if len(docs) == 0 {
		return &UnsupportedDocumentError{Filename: "", Reason: "no files provided"}
	}
	if maxFiles > 0 && len(docs) > maxFiles {
		return &UnsupportedDocumentError{
			Filename: "",
			Reason:   fmt.Sprintf("too many files: %d (max %d)", len(docs), maxFiles),
		}
	}
	for _, doc := range docs {
		if !strings.HasSuffix(strings.ToLower(doc.Filename), ".pdf") {
			return &UnsupportedDocumentError{Filename: doc.Filename, Reason: "only .pdf files are accepted"}
		}
	}
	return nil
}
