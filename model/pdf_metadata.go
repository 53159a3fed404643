package model

import (
	"time"

	"gorm.io/datatypes"
)

// ProcessingStatus is the lifecycle state of an uploaded document.
type ProcessingStatus string

const (
	StatusPending     ProcessingStatus = "pending"
	StatusProcessing  ProcessingStatus = "processing"
	StatusCompleted   ProcessingStatus = "completed"
	StatusFailed      ProcessingStatus = "failed"
	StatusNeedsReview ProcessingStatus = "needs_review"
)

// ParserVersion is stamped on every PDFMetadata row so old extractions can
// be found and reprocessed after parser changes.
const ParserVersion = "2.0.0"

// PDFMetadata is one row per uploaded document, keyed by the SHA-256 of the
// file content. It is created at upload, mutated when processing finishes,
// and kept as an audit trail. RawPayload stores the extractor output before
// normalization so malformed responses can be reviewed manually.
type PDFMetadata struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	StudentID *uint `gorm:"index" json:"student_id,omitempty"` // Set once identity resolution succeeds

	OriginalFilename string `gorm:"type:varchar(255);not null" json:"original_filename"`
	FileHash         string `gorm:"type:varchar(64);not null;uniqueIndex" json:"file_hash"` // SHA-256
	FileSize         int64  `gorm:"not null" json:"file_size"`
	PageCount        int    `gorm:"default:0" json:"page_count"`

	Status            ProcessingStatus `gorm:"type:varchar(20);default:'pending';index" json:"status"`
	ProcessingError   string           `gorm:"type:text" json:"processing_error,omitempty"`
	ProcessingVersion string           `gorm:"type:varchar(20)" json:"processing_version"`
	ProcessedAt       *time.Time       `json:"processed_at,omitempty"`

	// ArchiveKey locates the original bytes (Spaces key or local path) so a
	// failed document can be reprocessed without re-upload.
	ArchiveKey string `gorm:"type:varchar(500)" json:"archive_key,omitempty"`

	// RawPayload is the unnormalized extractor output.
	RawPayload datatypes.JSON `json:"raw_payload,omitempty"`

	Student *Student `gorm:"foreignKey:StudentID;constraint:OnDelete:CASCADE" json:"student,omitempty"`
}
