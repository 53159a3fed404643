package model

import "time"

// Attendance holds per (grade, semester) attendance counts, split by cause
// the way record PDFs print them (질병 vs 미인정). Upsert key is
// (student_id, grade, semester).
type Attendance struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	StudentID uint `gorm:"not null;index;uniqueIndex:uq_attendance_key,priority:1" json:"student_id"`
	Grade     int  `gorm:"not null;uniqueIndex:uq_attendance_key,priority:2;check:grade >= 1 AND grade <= 6" json:"grade"`
	Semester  int  `gorm:"not null;uniqueIndex:uq_attendance_key,priority:3;check:semester >= 1 AND semester <= 2" json:"semester"`

	TotalDays int `gorm:"default:0" json:"total_days"`

	AbsenceDisease      int `gorm:"default:0" json:"absence_disease"`
	AbsenceUnexcused    int `gorm:"default:0" json:"absence_unexcused"`
	AbsenceOther        int `gorm:"default:0" json:"absence_other"`
	TardinessDisease    int `gorm:"default:0" json:"tardiness_disease"`
	TardinessUnexcused  int `gorm:"default:0" json:"tardiness_unexcused"`
	TardinessOther      int `gorm:"default:0" json:"tardiness_other"`
	EarlyLeaveDisease   int `gorm:"default:0" json:"early_leave_disease"`
	EarlyLeaveUnexcused int `gorm:"default:0" json:"early_leave_unexcused"`
	EarlyLeaveOther     int `gorm:"default:0" json:"early_leave_other"`

	Remarks string `gorm:"type:varchar(200)" json:"remarks,omitempty"`

	Student *Student `gorm:"foreignKey:StudentID;constraint:OnDelete:CASCADE" json:"student,omitempty"`
}
