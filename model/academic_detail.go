package model

import "time"

// AcademicDetail is a per-subject narrative record (세부능력 및 특기사항)
// extracted from the detail sections of the PDF.
type AcademicDetail struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	StudentID uint   `gorm:"not null;index" json:"student_id"`
	Grade     int    `gorm:"not null;check:grade >= 1 AND grade <= 6" json:"grade"`
	Semester  int    `gorm:"not null;check:semester >= 1 AND semester <= 2" json:"semester"`
	Subject   string `gorm:"type:varchar(50);not null" json:"subject"`
	Content   string `gorm:"type:text;not null" json:"content"`

	Student *Student `gorm:"foreignKey:StudentID;constraint:OnDelete:CASCADE" json:"student,omitempty"`
}
