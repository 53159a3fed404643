package model

import (
	"time"

	"gorm.io/gorm"
)

// Student holds the identity fields extracted from the first pages of a
// school record PDF. A student owns every record type below; deleting a
// student cascades to all of them.
type Student struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`

	Name       string     `gorm:"type:varchar(50);not null;index" json:"name"`
	BirthDate  *time.Time `gorm:"type:date" json:"birth_date,omitempty"`
	Gender     string     `gorm:"type:varchar(10)" json:"gender,omitempty"`
	Address    string     `gorm:"type:varchar(200)" json:"address,omitempty"`
	SchoolName string     `gorm:"type:varchar(100);index" json:"school_name,omitempty"`
	ClassName  string     `gorm:"type:varchar(20)" json:"class_name,omitempty"`

	// Relationships
	Scores          []Score          `gorm:"foreignKey:StudentID;constraint:OnDelete:CASCADE" json:"scores,omitempty"`
	Attendances     []Attendance     `gorm:"foreignKey:StudentID;constraint:OnDelete:CASCADE" json:"attendances,omitempty"`
	AcademicDetails []AcademicDetail `gorm:"foreignKey:StudentID;constraint:OnDelete:CASCADE" json:"academic_details,omitempty"`
	SchoolHistories []SchoolHistory  `gorm:"foreignKey:StudentID;constraint:OnDelete:CASCADE" json:"school_histories,omitempty"`
	PDFMetadata     []PDFMetadata    `gorm:"foreignKey:StudentID;constraint:OnDelete:CASCADE" json:"pdf_metadata,omitempty"`
}
