package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/libetion/libera-api/services/inference"
	"github.com/libetion/libera-api/utils"
)

// RawExtraction is the untrusted extractor output for one document. Field
// names inside the maps vary run-to-run (the model is not deterministic);
// the Normalizer owns mapping them onto the canonical schema.
type RawExtraction struct {
	Student       map[string]any   `json:"student"`
	Scores        []map[string]any `json:"scores"`
	Attendance    []map[string]any `json:"attendance"`
	Details       []map[string]any `json:"details"`
	SchoolHistory []map[string]any `json:"school_history"`
}

// IsEmpty reports whether the extraction carries nothing usable.
func (r *RawExtraction) IsEmpty() bool {
	return len(r.Student) == 0 && len(r.Scores) == 0 && len(r.Attendance) == 0 &&
		len(r.Details) == 0 && len(r.SchoolHistory) == 0
}

// JSON renders the raw extraction for the PDFMetadata audit trail.
func (r *RawExtraction) JSON() []byte {
	b, err := json.Marshal(r)
	if err != nil {
		return nil
	}
	return b
}

// FieldExtractorConfig tunes retries and timeouts per chunk.
type FieldExtractorConfig struct {
	MaxRetries   int           // Attempts per chunk on transient failures (default: 3)
	ChunkTimeout time.Duration // Timeout per LLM call (default: 90s)
}

// DefaultFieldExtractorConfig returns the default configuration.
func DefaultFieldExtractorConfig() FieldExtractorConfig {
	return FieldExtractorConfig{
		MaxRetries:   3,
		ChunkTimeout: 90 * time.Second,
	}
}

// FieldExtractor turns loader chunks into candidate structured fields by
// prompting the LLM service. Chunks of one document are processed strictly
// in page order: grade/semester context on record PDFs carries across page
// boundaries, so order matters.
type FieldExtractor struct {
	client       *inference.Client
	maxRetries   int
	chunkTimeout time.Duration
}

func NewFieldExtractor(client *inference.Client, config FieldExtractorConfig) *FieldExtractor {
	if config.MaxRetries <= 0 {
		config.MaxRetries = 3
	}
	if config.ChunkTimeout <= 0 {
		config.ChunkTimeout = 90 * time.Second
	}
	return &FieldExtractor{
		client:       client,
		maxRetries:   config.MaxRetries,
		chunkTimeout: config.ChunkTimeout,
	}
}

const extractionSystemPrompt = `Extract Korean school record (생활기록부) data to JSON. Output ONLY valid JSON:
{"student":{"name":"","birth_date":"YYYY-MM-DD","gender":"","address":"","school_name":"","class_name":""},
"scores":[{"grade":1,"semester":1,"curriculum":"국어","subject":"문학","subject_type":"일반선택","raw_score":"88","subject_average":"72.1","standard_deviation":"10.2","achievement_level":"A","student_count":"220","grade_rank":"2","credit_hours":4}],
"attendance":[{"grade":1,"semester":1,"total_days":190,"absence_disease":0,"absence_unexcused":0,"tardiness_disease":0,"tardiness_unexcused":0,"early_leave_disease":0,"early_leave_unexcused":0,"remarks":""}],
"details":[{"grade":1,"semester":1,"subject":"국어","content":"..."}],
"school_history":[{"date":"YYYY-MM-DD","school_name":"","grade":1,"event":"입학"}]}

Rules:
1. Copy score values EXACTLY as printed, including non-numeric entries like "미응시" or ranges.
2. grade is the school year printed next to the table (N학년), semester is N학기.
3. Omit sections that do not appear on these pages. Never invent values.
4. achievement_level is the single letter A-E if printed.
5. Keep subject names verbatim, do not translate or abbreviate.`

const extractionStrictSuffix = `
6. STRICT MODE: previous output failed validation. Output nothing except the JSON object. Every grade must be 1-6, every semester 1-2, every grade_rank 1-9. If a value is unreadable, omit the field entirely.`

// ExtractDocument runs extraction over all chunks in order and merges the
// results. strict switches to the adjusted prompt used when the Normalizer
// requests re-extraction.
//
// Transient service failures surface as ErrExtractionUnavailable after the
// bounded retries; a response that cannot be parsed surfaces as
// ErrExtractionMalformed with the raw payload attached.
func (f *FieldExtractor) ExtractDocument(ctx context.Context, doc *LoadedDocument, strict bool) (*RawExtraction, error) {
	merged := &RawExtraction{Student: map[string]any{}}

	for i, chunk := range doc.Chunks {
		part, err := f.extractChunkWithRetry(ctx, chunk, doc.PageCount, strict)
		if err != nil {
			return nil, fmt.Errorf("chunk %d/%d (page %d): %w", i+1, len(doc.Chunks), chunk.Page, err)
		}
		mergeExtraction(merged, part)
	}

	if merged.IsEmpty() {
		return nil, &MalformedResponseError{
			Err: fmt.Errorf("no fields extracted from %d chunks", len(doc.Chunks)),
		}
	}

	return merged, nil
}

// extractChunkWithRetry retries transient failures with exponential backoff.
// Malformed responses are returned immediately: repeating the same prompt
// will not fix a schema mismatch.
func (f *FieldExtractor) extractChunkWithRetry(ctx context.Context, chunk PageChunk, totalPages int, strict bool) (*RawExtraction, error) {
	var lastErr error

	for attempt := 1; attempt <= f.maxRetries; attempt++ {
		chunkCtx, cancel := context.WithTimeout(ctx, f.chunkTimeout)
		part, err := f.extractChunk(chunkCtx, chunk, totalPages, strict)
		cancel()

		if err == nil {
			return part, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		if !inference.IsRetryable(err) {
			// Service responded; output just does not parse.
			return nil, err
		}

		// Exponential backoff: 1s, 2s, 4s, ...
		if attempt < f.maxRetries {
			backoff := time.Duration(1<<(attempt-1)) * time.Second
			log.Printf("FieldExtractor: page %d attempt %d failed, retrying in %v: %v",
				chunk.Page, attempt, backoff, err)

			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}
	}

	return nil, fmt.Errorf("%w: %v", ErrExtractionUnavailable, lastErr)
}

func (f *FieldExtractor) extractChunk(ctx context.Context, chunk PageChunk, totalPages int, strict bool) (*RawExtraction, error) {
	systemPrompt := extractionSystemPrompt
	if strict {
		systemPrompt += extractionStrictSuffix
	}

	userPrompt := fmt.Sprintf("Page %d of %d. Extract this record page:\n\n%s",
		chunk.Page, totalPages, chunk.Text)

	response, err := f.client.SimpleCompletion(
		ctx,
		systemPrompt,
		userPrompt,
		inference.WithMaxTokens(8192),
		inference.WithTemperature(0),
		inference.WithJSONOutput(),
	)
	if err != nil {
		return nil, err
	}

	var part RawExtraction
	if err := utils.ExtractJSONTo(response, &part); err != nil {
		log.Printf("FieldExtractor: failed to parse response for page %d (length=%d): %v",
			chunk.Page, len(response), err)
		return nil, &MalformedResponseError{RawPayload: response, Err: err}
	}

	return &part, nil
}

// mergeExtraction folds one chunk's output into the document result. Lists
// append in page order; student identity fields keep the first non-empty
// value, since identity appears on the opening pages.
func mergeExtraction(dst, src *RawExtraction) {
	for k, v := range src.Student {
		if _, exists := dst.Student[k]; !exists {
			if s, ok := v.(string); ok && s == "" {
				continue
			}
			dst.Student[k] = v
		}
	}
	dst.Scores = append(dst.Scores, src.Scores...)
	dst.Attendance = append(dst.Attendance, src.Attendance...)
	dst.Details = append(dst.Details, src.Details...)
	dst.SchoolHistory = append(dst.SchoolHistory, src.SchoolHistory...)
}
