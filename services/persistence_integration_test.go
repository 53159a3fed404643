package services

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/libetion/libera-api/model"
)

// openTestDB connects to the database named by TEST_DATABASE_DSN and
// migrates the schema. Each test gets isolation from a unique student name.
func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	if os.Getenv("RUN_INTEGRATION_TESTS") != "true" {
		t.Skip("Skipping integration test. Set RUN_INTEGRATION_TESTS=true to run")
	}
	dsn := os.Getenv("TEST_DATABASE_DSN")
	if dsn == "" {
		t.Skip("TEST_DATABASE_DSN not set")
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("Failed to connect to test database: %v", err)
	}

	err = db.AutoMigrate(
		&model.Student{}, &model.Score{}, &model.Attendance{},
		&model.AcademicDetail{}, &model.SchoolHistory{}, &model.PDFMetadata{},
	)
	if err != nil {
		t.Fatalf("Failed to migrate test database: %v", err)
	}

	return db
}

func uniqueName(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano())
}

func testRecords(name string) *NormalizedRecords {
	birth := "2008-03-15"
	return &NormalizedRecords{
		Student: NormalizedStudent{Name: name, BirthDate: &birth, SchoolName: "한빛고등학교"},
		Scores: []model.Score{
			{Grade: 1, Semester: 1, Curriculum: "국어", Subject: "문학", RawScore: "88", AchievementLevel: "A"},
			{Grade: 1, Semester: 1, Curriculum: "수학", Subject: "수학I", RawScore: "92", AchievementLevel: "A"},
		},
		Attendances: []model.Attendance{
			{Grade: 1, Semester: 1, TotalDays: 190, AbsenceDisease: 1},
		},
	}
}

func TestSaveIdempotent(t *testing.T) {
	db := openTestDB(t)
	adapter := NewPersistenceAdapter(db)
	ctx := context.Background()

	name := uniqueName("idempotent")

	first, err := adapter.Save(ctx, testRecords(name))
	if err != nil {
		t.Fatalf("first save failed: %v", err)
	}
	if !first.StudentCreated {
		t.Error("first save must create the student")
	}

	// Same records again: same student, no duplicate rows.
	rec := testRecords(name)
	rec.Scores[0].RawScore = "90" // refreshed value
	second, err := adapter.Save(ctx, rec)
	if err != nil {
		t.Fatalf("second save failed: %v", err)
	}
	if second.StudentCreated {
		t.Error("second save must resolve to the existing student")
	}
	if second.StudentID != first.StudentID {
		t.Errorf("student IDs differ: %d vs %d", first.StudentID, second.StudentID)
	}

	var scoreCount int64
	db.Model(&model.Score{}).Where("student_id = ?", first.StudentID).Count(&scoreCount)
	if scoreCount != 2 {
		t.Errorf("expected 2 score rows after re-save, got %d", scoreCount)
	}

	var score model.Score
	db.Where("student_id = ? AND grade = 1 AND semester = 1 AND subject = ?", first.StudentID, "문학").First(&score)
	if score.RawScore != "90" {
		t.Errorf("upsert must refresh values, got raw_score %q", score.RawScore)
	}

	var attCount int64
	db.Model(&model.Attendance{}).Where("student_id = ?", first.StudentID).Count(&attCount)
	if attCount != 1 {
		t.Errorf("expected 1 attendance row, got %d", attCount)
	}
}

func TestResolveStudentFuzzyMatch(t *testing.T) {
	db := openTestDB(t)
	adapter := NewPersistenceAdapter(db)
	ctx := context.Background()

	name := uniqueName("김민준")
	if _, err := adapter.Save(ctx, testRecords(name)); err != nil {
		t.Fatalf("seed save failed: %v", err)
	}

	// Same birth date, one-character OCR slip in the name.
	slipped := testRecords(name[:len(name)-1] + "9")
	result, err := adapter.Save(ctx, slipped)
	if err != nil {
		t.Fatalf("fuzzy save failed: %v", err)
	}
	if result.StudentCreated {
		t.Error("a near-identical name with the same birth date must match, not create")
	}
}

func TestResolveStudentAmbiguity(t *testing.T) {
	db := openTestDB(t)
	adapter := NewPersistenceAdapter(db)
	ctx := context.Background()

	base := uniqueName("동명이인")

	// Two existing students with near-identical names, no birth dates.
	for _, school := range []string{"가람중학교", "나래중학교"} {
		student := model.Student{Name: base, SchoolName: school}
		if err := db.Create(&student).Error; err != nil {
			t.Fatalf("seed failed: %v", err)
		}
	}

	rec := &NormalizedRecords{
		Student: NormalizedStudent{Name: base},
		Scores:  []model.Score{{Grade: 1, Semester: 1, Curriculum: "국어", Subject: "국어"}},
	}

	_, err := adapter.Save(ctx, rec)
	if !errors.Is(err, ErrPersistenceConflict) {
		t.Fatalf("expected ErrPersistenceConflict, got %v", err)
	}

	var conflict *IdentityConflictError
	if !errors.As(err, &conflict) {
		t.Fatal("expected IdentityConflictError wrapper")
	}
	if len(conflict.Candidates) != 2 {
		t.Errorf("expected 2 candidates, got %d", len(conflict.Candidates))
	}

	// Conflict writes nothing.
	var scoreCount int64
	db.Model(&model.Score{}).
		Joins("JOIN students ON students.id = scores.student_id").
		Where("students.name = ?", base).
		Count(&scoreCount)
	if scoreCount != 0 {
		t.Errorf("ambiguous save must persist nothing, found %d scores", scoreCount)
	}
}

func TestResolveStudentSchoolDisambiguates(t *testing.T) {
	db := openTestDB(t)
	adapter := NewPersistenceAdapter(db)
	ctx := context.Background()

	base := uniqueName("학교구분")
	for _, school := range []string{"가람중학교", "나래중학교"} {
		student := model.Student{Name: base, SchoolName: school}
		if err := db.Create(&student).Error; err != nil {
			t.Fatalf("seed failed: %v", err)
		}
	}

	rec := &NormalizedRecords{
		Student: NormalizedStudent{Name: base, SchoolName: "나래중학교"},
		Scores:  []model.Score{{Grade: 2, Semester: 1, Curriculum: "수학", Subject: "수학"}},
	}

	result, err := adapter.Save(ctx, rec)
	if err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if result.StudentCreated {
		t.Error("matching school must disambiguate, not create")
	}

	var student model.Student
	db.First(&student, result.StudentID)
	if student.SchoolName != "나래중학교" {
		t.Errorf("resolved wrong student: school %q", student.SchoolName)
	}
}

func TestUpsertMetadataConcurrent(t *testing.T) {
	db := openTestDB(t)
	adapter := NewPersistenceAdapter(db)
	ctx := context.Background()

	hash := FileHash([]byte(uniqueName("race")))

	const uploads = 8
	var wg sync.WaitGroup
	var created atomic.Int64
	errs := make([]error, uploads)

	for i := 0; i < uploads; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, existed, err := adapter.UpsertMetadata(ctx, &model.PDFMetadata{
				OriginalFilename: "same.pdf",
				FileHash:         hash,
				Status:           model.StatusPending,
			})
			errs[i] = err
			if err == nil && !existed {
				created.Add(1)
			}
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Errorf("upload %d failed: %v", i, err)
		}
	}
	if created.Load() != 1 {
		t.Errorf("exactly one upload must create the row, got %d", created.Load())
	}

	var rows int64
	db.Model(&model.PDFMetadata{}).Where("file_hash = ?", hash).Count(&rows)
	if rows != 1 {
		t.Errorf("expected 1 metadata row, got %d", rows)
	}
}
