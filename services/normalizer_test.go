package services

import (
	"errors"
	"testing"
)

func TestCanonicalCurriculum(t *testing.T) {
	cases := []struct {
		input string
		want  string
		exact bool
	}{
		{"국어", "국어", true},
		{"수학", "수학", true},
		{"수학I", "수학", true},
		{"영어 독해와 작문", "영어", true},
		{"한국사", "한국사", true},
		// Fuzzy: close but not canonical
		{"기술·가정", "기술가정", false},
		{"", "교양", false},
	}

	for _, tc := range cases {
		got, exact := CanonicalCurriculum(tc.input)
		if got != tc.want || exact != tc.exact {
			t.Errorf("CanonicalCurriculum(%q) = (%q, %v), want (%q, %v)",
				tc.input, got, exact, tc.want, tc.exact)
		}
	}
}

func TestNormalizeScoresLastWriteWins(t *testing.T) {
	n := NewNormalizer()

	raw := &RawExtraction{
		Student: map[string]any{"name": "김민준"},
		Scores: []map[string]any{
			{"grade": float64(1), "semester": float64(1), "subject": "국어", "raw_score": "70"},
			{"grade": float64(1), "semester": float64(1), "subject": "수학", "raw_score": "85"},
			{"grade": float64(1), "semester": float64(1), "subject": "국어", "raw_score": "88"},
		},
	}

	out, rejections, err := n.Normalize(raw)
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	if len(rejections) != 0 {
		t.Errorf("expected no rejections, got %v", rejections)
	}
	if len(out.Scores) != 2 {
		t.Fatalf("expected 2 scores after dedup, got %d", len(out.Scores))
	}

	// Later occurrence wins, first-seen position kept.
	if out.Scores[0].Subject != "국어" || out.Scores[0].RawScore != "88" {
		t.Errorf("expected 국어 raw_score 88 at position 0, got %s=%s",
			out.Scores[0].Subject, out.Scores[0].RawScore)
	}
	if out.Scores[1].Subject != "수학" || out.Scores[1].RawScore != "85" {
		t.Errorf("expected 수학 raw_score 85 at position 1, got %s=%s",
			out.Scores[1].Subject, out.Scores[1].RawScore)
	}
}

func TestNormalizeScoresRangeRejection(t *testing.T) {
	n := NewNormalizer()

	cases := []struct {
		name  string
		score map[string]any
	}{
		{"grade too high", map[string]any{"grade": float64(7), "semester": float64(1), "subject": "국어"}},
		{"grade zero", map[string]any{"grade": float64(0), "semester": float64(1), "subject": "국어"}},
		{"semester too high", map[string]any{"grade": float64(1), "semester": float64(3), "subject": "국어"}},
		{"rank out of range", map[string]any{"grade": float64(1), "semester": float64(1), "subject": "국어", "grade_rank": "10"}},
		{"missing subject", map[string]any{"grade": float64(1), "semester": float64(1)}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			raw := &RawExtraction{
				Student: map[string]any{"name": "김민준"},
				Scores: []map[string]any{
					tc.score,
					{"grade": float64(2), "semester": float64(2), "subject": "수학", "raw_score": "90"},
				},
			}

			out, rejections, err := n.Normalize(raw)
			if err != nil {
				t.Fatalf("Normalize failed: %v", err)
			}
			if len(rejections) != 1 {
				t.Fatalf("expected 1 rejection, got %d (%v)", len(rejections), rejections)
			}
			// The bad record never fails the document.
			if len(out.Scores) != 1 || out.Scores[0].Subject != "수학" {
				t.Errorf("expected the valid 수학 record to survive, got %+v", out.Scores)
			}
		})
	}
}

func TestNormalizePreservesNonNumericScores(t *testing.T) {
	n := NewNormalizer()

	raw := &RawExtraction{
		Student: map[string]any{"name": "이서연"},
		Scores: []map[string]any{
			{"grade": float64(2), "semester": float64(1), "subject": "음악", "raw_score": "미응시"},
		},
	}

	out, _, err := n.Normalize(raw)
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	if out.Scores[0].RawScore != "미응시" {
		t.Errorf("raw score must be copied verbatim, got %q", out.Scores[0].RawScore)
	}
}

func TestNormalizeUnknownAchievementDropped(t *testing.T) {
	n := NewNormalizer()

	raw := &RawExtraction{
		Student: map[string]any{"name": "이서연"},
		Scores: []map[string]any{
			{"grade": float64(1), "semester": float64(1), "subject": "과학", "achievement_level": "S"},
			{"grade": float64(1), "semester": float64(1), "subject": "영어", "achievement_level": "b"},
		},
	}

	out, _, err := n.Normalize(raw)
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	// Unknown level is dropped, the record survives. Case folds to upper.
	if out.Scores[0].AchievementLevel != "" {
		t.Errorf("expected unknown achievement dropped, got %q", out.Scores[0].AchievementLevel)
	}
	if out.Scores[1].AchievementLevel != "B" {
		t.Errorf("expected b -> B, got %q", out.Scores[1].AchievementLevel)
	}
}

func TestNormalizeOriginalSubjectPreserved(t *testing.T) {
	n := NewNormalizer()

	raw := &RawExtraction{
		Student: map[string]any{"name": "박지후"},
		Scores: []map[string]any{
			{"grade": float64(1), "semester": float64(1), "subject": "문학", "curriculum": "기술·가정"},
		},
	}

	out, _, err := n.Normalize(raw)
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	s := out.Scores[0]
	if s.Curriculum != "기술가정" {
		t.Errorf("expected fuzzy match onto 기술가정, got %q", s.Curriculum)
	}
	if s.OriginalSubjectName != "기술·가정" {
		t.Errorf("expected original string preserved, got %q", s.OriginalSubjectName)
	}
}

func TestNormalizeKoreanAliases(t *testing.T) {
	n := NewNormalizer()

	raw := &RawExtraction{
		Student: map[string]any{"이름": "최하은", "생년월일": "2008년 3월 15일", "성별": "여"},
		Scores: []map[string]any{
			{"학년": float64(3), "학기": float64(2), "과목": "영어", "석차등급": float64(2)},
		},
	}

	out, _, err := n.Normalize(raw)
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	if out.Student.Name != "최하은" {
		t.Errorf("name alias not mapped: %q", out.Student.Name)
	}
	if out.Student.BirthDate == nil || *out.Student.BirthDate != "2008-03-15" {
		t.Errorf("birth date alias not mapped: %v", out.Student.BirthDate)
	}
	if out.Student.Gender != "F" {
		t.Errorf("expected gender 여 -> F, got %q", out.Student.Gender)
	}
	if len(out.Scores) != 1 || out.Scores[0].Grade != 3 || out.Scores[0].GradeRank != "2" {
		t.Errorf("score aliases not mapped: %+v", out.Scores)
	}
}

func TestNormalizeAttendance(t *testing.T) {
	n := NewNormalizer()

	raw := &RawExtraction{
		Student: map[string]any{"name": "김민준"},
		Attendance: []map[string]any{
			{"grade": float64(1), "semester": float64(1), "total_days": float64(190),
				"absence_disease": float64(2), "tardiness_unexcused": float64(1)},
			{"grade": float64(9), "semester": float64(1), "total_days": float64(190)},
		},
	}

	out, rejections, err := n.Normalize(raw)
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	if len(out.Attendances) != 1 {
		t.Fatalf("expected 1 attendance record, got %d", len(out.Attendances))
	}
	a := out.Attendances[0]
	if a.TotalDays != 190 || a.AbsenceDisease != 2 || a.TardinessUnexcused != 1 {
		t.Errorf("attendance counts wrong: %+v", a)
	}
	if len(rejections) != 1 {
		t.Errorf("expected grade 9 record rejected, got %v", rejections)
	}
}

func TestNormalizeOutputAlwaysInRange(t *testing.T) {
	n := NewNormalizer()

	// Whatever grade/semester combination the extractor emits, nothing
	// outside the domain ranges survives normalization.
	var scores []map[string]any
	for grade := -1; grade <= 8; grade++ {
		for semester := 0; semester <= 4; semester++ {
			scores = append(scores, map[string]any{
				"grade":    float64(grade),
				"semester": float64(semester),
				"subject":  "국어",
			})
		}
	}

	raw := &RawExtraction{Student: map[string]any{"name": "김민준"}, Scores: scores}
	out, _, err := n.Normalize(raw)
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}

	for _, s := range out.Scores {
		if s.Grade < 1 || s.Grade > 6 || s.Semester < 1 || s.Semester > 2 {
			t.Errorf("out-of-range score survived: grade=%d semester=%d", s.Grade, s.Semester)
		}
	}
	// 6 valid grades x 2 valid semesters, deduped per (grade, semester, subject).
	if len(out.Scores) != 12 {
		t.Errorf("expected 12 surviving scores, got %d", len(out.Scores))
	}
}

func TestNormalizeNothingUsable(t *testing.T) {
	n := NewNormalizer()

	raw := &RawExtraction{
		Scores: []map[string]any{
			{"grade": float64(0), "semester": float64(5), "subject": "??"},
		},
	}

	_, _, err := n.Normalize(raw)
	if !errors.Is(err, ErrNormalizationRejected) {
		t.Fatalf("expected ErrNormalizationRejected, got %v", err)
	}
}
