package services

import (
	"errors"
	"fmt"
)

// Error classes for the extraction pipeline. Callers branch on these with
// errors.Is; the wrapper types below carry extra context for manual review.
var (
	// ErrUnsupportedDocument: bad input (not a PDF, over the size/page
	// ceiling). Never retried.
	ErrUnsupportedDocument = errors.New("unsupported document")

	// ErrExtractionUnavailable: the LLM service is unreachable, rate
	// limited or erroring. Transient; retried with backoff.
	ErrExtractionUnavailable = errors.New("extraction service unavailable")

	// ErrExtractionMalformed: the LLM responded but the output does not
	// parse as the expected schema. Not retryable without a prompt change.
	ErrExtractionMalformed = errors.New("extraction response malformed")

	// ErrNormalizationRejected: a value is outside the domain range. The
	// record is skipped, the document continues.
	ErrNormalizationRejected = errors.New("normalization rejected")

	// ErrPersistenceConflict: student identity matching was ambiguous and
	// needs manual resolution.
	ErrPersistenceConflict = errors.New("ambiguous student identity")
)

// UnsupportedDocumentError reports why an upload was rejected.
type UnsupportedDocumentError struct {
	Filename string
	Reason   string
}

func (e *UnsupportedDocumentError) Error() string {
	return fmt.Sprintf("unsupported document %q: %s", e.Filename, e.Reason)
}

func (e *UnsupportedDocumentError) Unwrap() error { return ErrUnsupportedDocument }

// MalformedResponseError keeps the raw LLM payload attached so it can be
// stored for manual review.
type MalformedResponseError struct {
	RawPayload string
	Err        error
}

func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("extraction response malformed: %v", e.Err)
}

func (e *MalformedResponseError) Unwrap() error { return ErrExtractionMalformed }

// IdentityConflictError lists the candidate student IDs that matched.
type IdentityConflictError struct {
	Name       string
	Candidates []uint
}

func (e *IdentityConflictError) Error() string {
	return fmt.Sprintf("ambiguous student identity for %q: %d candidates", e.Name, len(e.Candidates))
}

func (e *IdentityConflictError) Unwrap() error { return ErrPersistenceConflict }
