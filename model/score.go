package model

import (
	"time"
)

// Grade/semester bounds for school records. Grade covers 1-6 so the same
// schema fits elementary through high school documents.
const (
	MinGrade    = 1
	MaxGrade    = 6
	MinSemester = 1
	MaxSemester = 2
	MinRank     = 1
	MaxRank     = 9
)

// AchievementLevels are the letter grades assigned per subject/semester.
var AchievementLevels = []string{"A", "B", "C", "D", "E"}

// CanonicalCurriculums is the fixed set of top-level subject categories.
// Extracted subject names are fuzzy-matched onto one of these; the original
// string is preserved in OriginalSubjectName.
var CanonicalCurriculums = []string{
	"국어", "수학", "영어", "사회", "과학",
	"한국사", "체육", "음악", "미술", "기술가정", "정보", "제2외국어", "한문", "교양",
}

// MainCurriculums are the categories used for trend/summary queries.
var MainCurriculums = []string{"국어", "영어", "수학", "사회", "과학"}

// SubjectTypes as printed on record PDFs.
var SubjectTypes = []string{"일반선택", "진로선택"}

// Score is one subject result for a (grade, semester). The upsert key is
// (student_id, grade, semester, subject). Raw score and the statistical
// fields stay text on purpose: source PDFs encode them inconsistently
// ("미응시", ranges), and coercing them loses information.
type Score struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	StudentID uint `gorm:"not null;index;uniqueIndex:uq_score_key,priority:1" json:"student_id"`

	Grade    int `gorm:"not null;uniqueIndex:uq_score_key,priority:2;check:grade >= 1 AND grade <= 6" json:"grade"`
	Semester int `gorm:"not null;uniqueIndex:uq_score_key,priority:3;check:semester >= 1 AND semester <= 2" json:"semester"`

	Curriculum          string `gorm:"type:varchar(20);not null;index" json:"curriculum"`
	Subject             string `gorm:"type:varchar(50);not null;uniqueIndex:uq_score_key,priority:4" json:"subject"`
	SubjectType         string `gorm:"type:varchar(20)" json:"subject_type,omitempty"`
	OriginalSubjectName string `gorm:"type:varchar(100)" json:"original_subject_name,omitempty"`

	RawScore          string `gorm:"type:varchar(20)" json:"raw_score,omitempty"`
	SubjectAverage    string `gorm:"type:varchar(20)" json:"subject_average,omitempty"`
	StandardDeviation string `gorm:"type:varchar(20)" json:"standard_deviation,omitempty"`
	AchievementLevel  string `gorm:"type:varchar(5)" json:"achievement_level,omitempty"`
	StudentCount      string `gorm:"type:varchar(10)" json:"student_count,omitempty"`
	GradeRank         string `gorm:"type:varchar(10)" json:"grade_rank,omitempty"`

	CreditHours *int `json:"credit_hours,omitempty"`

	Student *Student `gorm:"foreignKey:StudentID;constraint:OnDelete:CASCADE" json:"student,omitempty"`
}
