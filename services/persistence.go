package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/agext/levenshtein"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/libetion/libera-api/model"
)

// fuzzyNameThreshold is the minimum levenshtein similarity for two student
// names to be considered the same person when birth dates are absent.
const fuzzyNameThreshold = 0.85

// SaveResult summarizes what one document's save wrote.
type SaveResult struct {
	StudentID       uint `json:"student_id"`
	StudentCreated  bool `json:"student_created"`
	ScoresSaved     int  `json:"scores_saved"`
	AttendanceSaved int  `json:"attendance_saved"`
	DetailsSaved    int  `json:"details_saved"`
	HistorySaved    int  `json:"history_saved"`
}

// PersistenceAdapter writes normalized records through GORM. Every save runs
// in a single transaction so a cancelled or failed document leaves no
// partial rows behind.
type PersistenceAdapter struct {
	db *gorm.DB
}

func NewPersistenceAdapter(db *gorm.DB) *PersistenceAdapter {
	return &PersistenceAdapter{db: db}
}

// Save resolves the student identity and upserts all records atomically.
// Re-saving the same document is a no-op beyond refreshed values: every
// record type upserts on its natural key. An ambiguous identity returns
// IdentityConflictError and writes nothing.
func (p *PersistenceAdapter) Save(ctx context.Context, rec *NormalizedRecords) (*SaveResult, error) {
	result := &SaveResult{}

	err := p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		student, created, err := p.resolveStudent(tx, rec.Student)
		if err != nil {
			return err
		}
		result.StudentID = student.ID
		result.StudentCreated = created

		if err := p.saveScores(tx, student.ID, rec.Scores); err != nil {
			return fmt.Errorf("saving scores: %w", err)
		}
		result.ScoresSaved = len(rec.Scores)

		if err := p.saveAttendances(tx, student.ID, rec.Attendances); err != nil {
			return fmt.Errorf("saving attendance: %w", err)
		}
		result.AttendanceSaved = len(rec.Attendances)

		if err := p.saveDetails(tx, student.ID, rec.Details); err != nil {
			return fmt.Errorf("saving academic details: %w", err)
		}
		result.DetailsSaved = len(rec.Details)

		if err := p.saveHistory(tx, student.ID, rec.SchoolHistory); err != nil {
			return fmt.Errorf("saving school history: %w", err)
		}
		result.HistorySaved = len(rec.SchoolHistory)

		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Printf("Persistence: saved student %d (created=%v, scores=%d, attendance=%d)",
		result.StudentID, result.StudentCreated, result.ScoresSaved, result.AttendanceSaved)
	return result, nil
}

// resolveStudent finds or creates the student row, holding a row lock for
// the rest of the transaction so two documents for the same student
// serialize their writes.
//
// Resolution order: exact (name, birth date) match, then fuzzy name match
// among students sharing the birth date (or all students when the document
// has none). More than one fuzzy candidate is a conflict for manual review;
// zero candidates creates a new student.
func (p *PersistenceAdapter) resolveStudent(tx *gorm.DB, ns NormalizedStudent) (*model.Student, bool, error) {
	if ns.Name == "" {
		return nil, false, &IdentityConflictError{Name: "(unknown)"}
	}

	birthDate, err := parseBirthDate(ns.BirthDate)
	if err != nil {
		return nil, false, err
	}

	locked := tx.Clauses(clause.Locking{Strength: "UPDATE"})

	if birthDate != nil {
		var student model.Student
		err := locked.Where("name = ? AND birth_date = ?", ns.Name, *birthDate).First(&student).Error
		if err == nil {
			p.backfillStudent(tx, &student, ns, birthDate)
			return &student, false, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, false, fmt.Errorf("looking up student: %w", err)
		}
	}

	candidates, err := p.fuzzyCandidates(locked, ns.Name, birthDate)
	if err != nil {
		return nil, false, err
	}

	// Several fuzzy matches narrow by school before declaring a conflict:
	// the same misspelled name at two schools is two students.
	if len(candidates) > 1 && ns.SchoolName != "" {
		var sameSchool []model.Student
		for _, c := range candidates {
			if c.SchoolName == ns.SchoolName {
				sameSchool = append(sameSchool, c)
			}
		}
		if len(sameSchool) == 1 {
			candidates = sameSchool
		}
	}

	switch len(candidates) {
	case 0:
		student := model.Student{
			Name:       ns.Name,
			BirthDate:  birthDate,
			Gender:     ns.Gender,
			Address:    ns.Address,
			SchoolName: ns.SchoolName,
			ClassName:  ns.ClassName,
		}
		if err := tx.Create(&student).Error; err != nil {
			return nil, false, fmt.Errorf("creating student: %w", err)
		}
		return &student, true, nil
	case 1:
		student := candidates[0]
		p.backfillStudent(tx, &student, ns, birthDate)
		return &student, false, nil
	default:
		ids := make([]uint, len(candidates))
		for i, c := range candidates {
			ids[i] = c.ID
		}
		return nil, false, &IdentityConflictError{Name: ns.Name, Candidates: ids}
	}
}

func (p *PersistenceAdapter) fuzzyCandidates(tx *gorm.DB, name string, birthDate *time.Time) ([]model.Student, error) {
	q := tx.Model(&model.Student{})
	if birthDate != nil {
		q = q.Where("birth_date = ? OR birth_date IS NULL", *birthDate)
	}

	var students []model.Student
	if err := q.Find(&students).Error; err != nil {
		return nil, fmt.Errorf("listing identity candidates: %w", err)
	}

	var matched []model.Student
	for _, s := range students {
		if levenshtein.Similarity(name, s.Name, nil) >= fuzzyNameThreshold {
			matched = append(matched, s)
		}
	}
	return matched, nil
}

// backfillStudent fills identity fields the existing row is missing. Known
// values are never overwritten by a later document.
func (p *PersistenceAdapter) backfillStudent(tx *gorm.DB, student *model.Student, ns NormalizedStudent, birthDate *time.Time) {
	updates := map[string]any{}
	if student.BirthDate == nil && birthDate != nil {
		updates["birth_date"] = *birthDate
		student.BirthDate = birthDate
	}
	if student.Gender == "" && ns.Gender != "" {
		updates["gender"] = ns.Gender
		student.Gender = ns.Gender
	}
	if student.Address == "" && ns.Address != "" {
		updates["address"] = ns.Address
		student.Address = ns.Address
	}
	if student.SchoolName == "" && ns.SchoolName != "" {
		updates["school_name"] = ns.SchoolName
		student.SchoolName = ns.SchoolName
	}
	if student.ClassName == "" && ns.ClassName != "" {
		updates["class_name"] = ns.ClassName
		student.ClassName = ns.ClassName
	}
	if len(updates) == 0 {
		return
	}
	if err := tx.Model(student).Updates(updates).Error; err != nil {
		log.Printf("Persistence: backfilling student %d failed: %v", student.ID, err)
	}
}

func parseBirthDate(s *string) (*time.Time, error) {
	if s == nil || *s == "" {
		return nil, nil
	}
	t, err := time.Parse("2006-01-02", *s)
	if err != nil {
		return nil, fmt.Errorf("parsing birth date %q: %w", *s, err)
	}
	return &t, nil
}

func (p *PersistenceAdapter) saveScores(tx *gorm.DB, studentID uint, scores []model.Score) error {
	for i := range scores {
		scores[i].ID = 0
		scores[i].StudentID = studentID
	}
	if len(scores) == 0 {
		return nil
	}
	return tx.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "student_id"}, {Name: "grade"}, {Name: "semester"}, {Name: "subject"},
		},
		DoUpdates: clause.AssignmentColumns([]string{
			"curriculum", "subject_type", "original_subject_name",
			"raw_score", "subject_average", "standard_deviation",
			"achievement_level", "student_count", "grade_rank",
			"credit_hours", "updated_at",
		}),
	}).Create(&scores).Error
}

func (p *PersistenceAdapter) saveAttendances(tx *gorm.DB, studentID uint, records []model.Attendance) error {
	for i := range records {
		records[i].ID = 0
		records[i].StudentID = studentID
	}
	if len(records) == 0 {
		return nil
	}
	return tx.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "student_id"}, {Name: "grade"}, {Name: "semester"},
		},
		DoUpdates: clause.AssignmentColumns([]string{
			"total_days",
			"absence_disease", "absence_unexcused", "absence_other",
			"tardiness_disease", "tardiness_unexcused", "tardiness_other",
			"early_leave_disease", "early_leave_unexcused", "early_leave_other",
			"remarks", "updated_at",
		}),
	}).Create(&records).Error
}

// saveDetails has no unique index to upsert against (content is free text),
// so it matches on (student, grade, semester, subject) and replaces the
// content.
func (p *PersistenceAdapter) saveDetails(tx *gorm.DB, studentID uint, details []model.AcademicDetail) error {
	for _, d := range details {
		row := model.AcademicDetail{
			StudentID: studentID,
			Grade:     d.Grade,
			Semester:  d.Semester,
			Subject:   d.Subject,
		}
		err := tx.Where(row).
			Assign(model.AcademicDetail{Content: d.Content}).
			FirstOrCreate(&model.AcademicDetail{}).Error
		if err != nil {
			return err
		}
	}
	return nil
}

func (p *PersistenceAdapter) saveHistory(tx *gorm.DB, studentID uint, events []model.SchoolHistory) error {
	for _, e := range events {
		row := model.SchoolHistory{
			StudentID:  studentID,
			SchoolName: e.SchoolName,
			EventType:  e.EventType,
		}
		err := tx.Where(row).
			Assign(model.SchoolHistory{EventDate: e.EventDate, Grade: e.Grade}).
			FirstOrCreate(&model.SchoolHistory{}).Error
		if err != nil {
			return err
		}
	}
	return nil
}

// Metadata audit trail. Rows are keyed by file hash; the same bytes uploaded
// twice return the existing row.

// UpsertMetadata records an upload, or returns the existing row when the
// hash is already known. The bool reports whether the row already existed.
func (p *PersistenceAdapter) UpsertMetadata(ctx context.Context, meta *model.PDFMetadata) (*model.PDFMetadata, bool, error) {
	var existing model.PDFMetadata
	err := p.db.WithContext(ctx).Where("file_hash = ?", meta.FileHash).First(&existing).Error
	if err == nil {
		return &existing, true, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, fmt.Errorf("looking up metadata: %w", err)
	}

	meta.ProcessingVersion = model.ParserVersion
	if err := p.db.WithContext(ctx).Create(meta).Error; err != nil {
		// A concurrent upload of the same bytes can insert between the
		// lookup and the create; the unique index on file_hash rejects
		// the second insert, which is the duplicate case, not a failure.
		var winner model.PDFMetadata
		lookupErr := p.db.WithContext(ctx).Where("file_hash = ?", meta.FileHash).First(&winner).Error
		if lookupErr == nil {
			return &winner, true, nil
		}
		return nil, false, fmt.Errorf("creating metadata: %w", err)
	}
	return meta, false, nil
}

// UpdateMetadata applies the given column updates to the row for hash.
func (p *PersistenceAdapter) UpdateMetadata(ctx context.Context, hash string, updates map[string]any) error {
	updates["processing_version"] = model.ParserVersion
	return p.db.WithContext(ctx).
		Model(&model.PDFMetadata{}).
		Where("file_hash = ?", hash).
		Updates(updates).Error
}

// MetadataByHash returns the audit row for a document, with the resolved
// student preloaded when one exists.
func (p *PersistenceAdapter) MetadataByHash(ctx context.Context, hash string) (*model.PDFMetadata, error) {
	var meta model.PDFMetadata
	err := p.db.WithContext(ctx).
		Preload("Student").
		Where("file_hash = ?", hash).
		First(&meta).Error
	if err != nil {
		return nil, err
	}
	return &meta, nil
}

// FailedMetadata lists documents eligible for automatic retry: failed rows
// with archived bytes, oldest first.
func (p *PersistenceAdapter) FailedMetadata(ctx context.Context, limit int) ([]model.PDFMetadata, error) {
	var rows []model.PDFMetadata
	err := p.db.WithContext(ctx).
		Where("status = ? AND archive_key <> ''", model.StatusFailed).
		Order("updated_at asc").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

// StudentProfile loads a student with all record types, ordered the way the
// source documents print them.
func (p *PersistenceAdapter) StudentProfile(ctx context.Context, studentID uint) (*model.Student, error) {
	var student model.Student
	err := p.db.WithContext(ctx).
		Preload("Scores", func(db *gorm.DB) *gorm.DB {
			return db.Order("grade asc, semester asc, curriculum asc, subject asc")
		}).
		Preload("Attendances", func(db *gorm.DB) *gorm.DB {
			return db.Order("grade asc, semester asc")
		}).
		Preload("AcademicDetails", func(db *gorm.DB) *gorm.DB {
			return db.Order("grade asc, semester asc, subject asc")
		}).
		Preload("SchoolHistories", func(db *gorm.DB) *gorm.DB {
			return db.Order("event_date asc")
		}).
		First(&student, studentID).Error
	if err != nil {
		return nil, err
	}
	return &student, nil
}
