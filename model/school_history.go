package model

import "time"

// SchoolHistoryEvent is the kind of dated school event found in the
// history section (입학/전입/졸업).
type SchoolHistoryEvent string

const (
	SchoolEventEnrolled    SchoolHistoryEvent = "enrolled"
	SchoolEventTransferred SchoolHistoryEvent = "transferred"
	SchoolEventGraduated   SchoolHistoryEvent = "graduated"
)

// SchoolHistory is a dated enrollment/graduation event for a student.
type SchoolHistory struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	StudentID  uint               `gorm:"not null;index" json:"student_id"`
	EventDate  *time.Time         `gorm:"type:date" json:"event_date,omitempty"`
	SchoolName string             `gorm:"type:varchar(100);not null" json:"school_name"`
	Grade      int                `gorm:"check:grade >= 0 AND grade <= 6" json:"grade"`
	EventType  SchoolHistoryEvent `gorm:"type:varchar(20);not null" json:"event_type"`

	Student *Student `gorm:"foreignKey:StudentID;constraint:OnDelete:CASCADE" json:"student,omitempty"`
}
