package services

import (
	"fmt"
	"log"
	"sort"
	"strings"

	"github.com/agext/levenshtein"
	"github.com/go-playground/validator/v10"

	"github.com/libetion/libera-api/model"
)

// NormalizedStudent is the identity slice of a document after normalization.
type NormalizedStudent struct {
	Name       string
	BirthDate  *string // YYYY-MM-DD, kept as string until persistence
	Gender     string
	Address    string
	SchoolName string
	ClassName  string
}

// NormalizedRecords is the Normalizer output: canonical rows ready for the
// persistence adapter, with no IDs assigned yet.
type NormalizedRecords struct {
	Student       NormalizedStudent
	Scores        []model.Score
	Attendances   []model.Attendance
	Details       []model.AcademicDetail
	SchoolHistory []model.SchoolHistory
}

// Rejection records one value or record dropped during normalization.
// Rejections never fail the document; they are logged and reported.
type Rejection struct {
	Section string
	Reason  string
}

func (r Rejection) String() string {
	return fmt.Sprintf("%s: %s", r.Section, r.Reason)
}

// scoreRanges is validated with go-playground/validator; it exists so the
// domain invariants live in tags rather than scattered comparisons. The
// tags are aliases registered in NewNormalizer from the model bounds.
type scoreRanges struct {
	Grade    int `validate:"graderange"`
	Semester int `validate:"semesterrange"`
	Rank     int `validate:"omitempty,rankrange"`
}

// Normalizer maps untrusted extractor output onto the canonical schema.
// Policy:
//   - unknown subject strings keep their verbatim form in
//     original_subject_name and get a best-effort canonical curriculum via
//     fuzzy matching; ties break by longest common prefix, then lexically
//   - out-of-range numeric values reject the record with a logged reason,
//     never silently coerced
//   - duplicate (grade, semester, subject) inside one document: the later
//     occurrence wins
type Normalizer struct {
	validate *validator.Validate
}

func NewNormalizer() *Normalizer {
	v := validator.New()
	v.RegisterAlias("graderange", fmt.Sprintf("gte=%d,lte=%d", model.MinGrade, model.MaxGrade))
	v.RegisterAlias("semesterrange", fmt.Sprintf("gte=%d,lte=%d", model.MinSemester, model.MaxSemester))
	v.RegisterAlias("rankrange", fmt.Sprintf("gte=%d,lte=%d", model.MinRank, model.MaxRank))
	return &Normalizer{validate: v}
}

// fieldAliases: the model names fields inconsistently across runs, so every
// canonical field declares its accepted spellings. Mapping is an explicit
// decode step; nothing is matched by position or coerced implicitly.
var (
	aliasName       = []string{"name", "student_name", "이름", "성명"}
	aliasBirthDate  = []string{"birth_date", "birthdate", "date_of_birth", "생년월일"}
	aliasGender     = []string{"gender", "sex", "성별"}
	aliasAddress    = []string{"address", "주소"}
	aliasSchool     = []string{"school_name", "school", "current_school", "학교", "학교명"}
	aliasClass      = []string{"class_name", "class", "반"}
	aliasGrade      = []string{"grade", "school_year", "학년"}
	aliasSemester   = []string{"semester", "term", "학기"}
	aliasCurriculum = []string{"curriculum", "subject_area", "교과"}
	aliasSubject    = []string{"subject", "subject_name", "과목", "과목명"}
	aliasSubjType   = []string{"subject_type", "course_type", "구분"}
	aliasRawScore   = []string{"raw_score", "score", "원점수"}
	aliasAverage    = []string{"subject_average", "average", "과목평균"}
	aliasStdDev     = []string{"standard_deviation", "std_dev", "표준편차"}
	aliasAchieve    = []string{"achievement_level", "achievement", "성취도"}
	aliasStudCount  = []string{"student_count", "수강자수"}
	aliasRank       = []string{"grade_rank", "rank", "석차등급"}
	aliasCredits    = []string{"credit_hours", "credits", "units", "단위수"}
	aliasContent    = []string{"content", "text", "내용"}
	aliasDate       = []string{"date", "event_date", "일자"}
	aliasEvent      = []string{"event", "event_type", "구분"}
	aliasTotalDays  = []string{"total_days", "수업일수"}
)

// Normalize maps a raw extraction onto canonical records. The returned
// rejections are informational; an error is returned only when nothing
// usable survives, in which case the caller may re-extract once with a
// stricter prompt.
func (n *Normalizer) Normalize(raw *RawExtraction) (*NormalizedRecords, []Rejection, error) {
	out := &NormalizedRecords{}
	var rejections []Rejection

	out.Student = n.normalizeStudent(raw.Student)

	out.Scores, rejections = n.normalizeScores(raw.Scores, rejections)
	out.Attendances, rejections = n.normalizeAttendance(raw.Attendance, rejections)
	out.Details, rejections = n.normalizeDetails(raw.Details, rejections)
	out.SchoolHistory, rejections = n.normalizeHistory(raw.SchoolHistory, rejections)

	for _, r := range rejections {
		log.Printf("Normalizer: rejected %s", r)
	}

	if out.Student.Name == "" && len(out.Scores) == 0 && len(out.Attendances) == 0 {
		return nil, rejections, fmt.Errorf("%w: no usable records after normalization", ErrNormalizationRejected)
	}

	return out, rejections, nil
}

func (n *Normalizer) normalizeStudent(m map[string]any) NormalizedStudent {
	s := NormalizedStudent{}
	if v, ok := pick(m, aliasName...); ok {
		s.Name = toSafeString(v, 50)
	}
	if v, ok := pick(m, aliasBirthDate...); ok {
		if t := toSafeDate(v); t != nil {
			d := t.Format("2006-01-02")
			s.BirthDate = &d
		}
	}
	if v, ok := pick(m, aliasGender...); ok {
		s.Gender = normalizeGender(toSafeString(v, 10))
	}
	if v, ok := pick(m, aliasAddress...); ok {
		s.Address = toSafeString(v, 200)
	}
	if v, ok := pick(m, aliasSchool...); ok {
		s.SchoolName = toSafeString(v, 100)
	}
	if v, ok := pick(m, aliasClass...); ok {
		s.ClassName = toSafeString(v, 20)
	}
	return s
}

func normalizeGender(s string) string {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "M", "MALE", "남", "남자":
		return "M"
	case "F", "FEMALE", "여", "여자":
		return "F"
	case "":
		return ""
	default:
		return "기타"
	}
}

func (n *Normalizer) normalizeScores(items []map[string]any, rejections []Rejection) ([]model.Score, []Rejection) {
	// Last-write-wins inside a single document: later occurrences of the
	// same (grade, semester, subject) overwrite earlier ones, preserving
	// first-seen position.
	index := make(map[string]int)
	var scores []model.Score

	for i, item := range items {
		score, reject := n.normalizeScore(item, i)
		if reject != nil {
			rejections = append(rejections, *reject)
			continue
		}

		key := fmt.Sprintf("%d|%d|%s", score.Grade, score.Semester, score.Subject)
		if at, seen := index[key]; seen {
			log.Printf("Normalizer: duplicate score for %s, later occurrence wins", key)
			scores[at] = score
			continue
		}
		index[key] = len(scores)
		scores = append(scores, score)
	}

	return scores, rejections
}

func (n *Normalizer) normalizeScore(m map[string]any, idx int) (model.Score, *Rejection) {
	var s model.Score

	gv, gok := pick(m, aliasGrade...)
	sv, sok := pick(m, aliasSemester...)
	grade, gnum := toSafeInt(gv)
	semester, snum := toSafeInt(sv)
	if !gok || !sok || !gnum || !snum {
		return s, &Rejection{Section: "scores", Reason: fmt.Sprintf("record %d: missing grade/semester", idx)}
	}

	subjectRaw := ""
	if v, ok := pick(m, aliasSubject...); ok {
		subjectRaw = cleanText(v)
	}
	if subjectRaw == "" {
		return s, &Rejection{Section: "scores", Reason: fmt.Sprintf("record %d: missing subject", idx)}
	}

	rank := 0
	rankStr := ""
	if v, ok := pick(m, aliasRank...); ok {
		rankStr = toSafeString(v, 10)
		if rankStr != "" {
			if parsed, numeric := toSafeInt(v); numeric {
				rank = parsed
			}
		}
	}

	ranges := scoreRanges{Grade: grade, Semester: semester, Rank: rank}
	if err := n.validate.Struct(ranges); err != nil {
		return s, &Rejection{
			Section: "scores",
			Reason: fmt.Sprintf("record %d (%s): out of range: grade=%d semester=%d rank=%q",
				idx, subjectRaw, grade, semester, rankStr),
		}
	}

	curriculumRaw := ""
	if v, ok := pick(m, aliasCurriculum...); ok {
		curriculumRaw = cleanText(v)
	}
	if curriculumRaw == "" {
		curriculumRaw = subjectRaw
	}
	curriculum, exact := CanonicalCurriculum(curriculumRaw)

	s.Grade = grade
	s.Semester = semester
	s.Curriculum = curriculum
	s.Subject = toSafeString(subjectRaw, 50)
	if !exact {
		s.OriginalSubjectName = toSafeString(curriculumRaw, 100)
	}

	if v, ok := pick(m, aliasSubjType...); ok {
		st := toSafeString(v, 20)
		for _, valid := range model.SubjectTypes {
			if st == valid {
				s.SubjectType = st
				break
			}
		}
	}

	if v, ok := pick(m, aliasRawScore...); ok {
		s.RawScore = toSafeString(v, 20)
	}
	if v, ok := pick(m, aliasAverage...); ok {
		s.SubjectAverage = toSafeString(v, 20)
	}
	if v, ok := pick(m, aliasStdDev...); ok {
		s.StandardDeviation = toSafeString(v, 20)
	}
	if v, ok := pick(m, aliasAchieve...); ok {
		s.AchievementLevel = normalizeAchievement(toSafeString(v, 5))
	}
	if v, ok := pick(m, aliasStudCount...); ok {
		s.StudentCount = toSafeString(v, 10)
	}
	if rank > 0 {
		s.GradeRank = fmt.Sprintf("%d", rank)
	}
	if v, ok := pick(m, aliasCredits...); ok {
		if credits, numeric := toSafeInt(v); numeric && credits >= 1 {
			s.CreditHours = &credits
		}
	}

	return s, nil
}

// normalizeAchievement keeps only the letter grades the record format
// defines; anything else is dropped, not guessed.
func normalizeAchievement(s string) string {
	up := strings.ToUpper(strings.TrimSpace(s))
	for _, lvl := range model.AchievementLevels {
		if up == lvl {
			return lvl
		}
	}
	if s != "" {
		log.Printf("Normalizer: dropping unknown achievement level %q", s)
	}
	return ""
}

// CanonicalCurriculum fuzzy-matches a free-form curriculum/subject string
// onto the canonical set. Exact matches (or canonical-prefixed names like
// "수학I") report exact=true. Ties on similarity break by longest common
// prefix with the input, then lexical order.
func CanonicalCurriculum(raw string) (curriculum string, exact bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "교양", false
	}

	for _, c := range model.CanonicalCurriculums {
		if raw == c {
			return c, true
		}
	}
	// Names like "수학I" or "영어 독해와 작문" start with their category.
	for _, c := range model.CanonicalCurriculums {
		if strings.HasPrefix(raw, c) {
			return c, true
		}
	}

	best := ""
	bestScore := -1.0
	bestPrefix := -1
	for _, c := range model.CanonicalCurriculums {
		score := levenshtein.Similarity(raw, c, nil)
		prefix := commonPrefixLen(raw, c)

		better := score > bestScore ||
			(score == bestScore && prefix > bestPrefix) ||
			(score == bestScore && prefix == bestPrefix && c < best)
		if better {
			best, bestScore, bestPrefix = c, score, prefix
		}
	}

	return best, false
}

func commonPrefixLen(a, b string) int {
	ar, br := []rune(a), []rune(b)
	n := 0
	for n < len(ar) && n < len(br) && ar[n] == br[n] {
		n++
	}
	return n
}

func (n *Normalizer) normalizeAttendance(items []map[string]any, rejections []Rejection) ([]model.Attendance, []Rejection) {
	index := make(map[string]int)
	var records []model.Attendance

	for i, item := range items {
		gv, gok := pick(item, aliasGrade...)
		sv, sok := pick(item, aliasSemester...)
		grade, gnum := toSafeInt(gv)
		semester, snum := toSafeInt(sv)
		if !gok || !sok || !gnum || !snum {
			rejections = append(rejections, Rejection{Section: "attendance", Reason: fmt.Sprintf("record %d: missing grade/semester", i)})
			continue
		}
		if grade < model.MinGrade || grade > model.MaxGrade || semester < model.MinSemester || semester > model.MaxSemester {
			rejections = append(rejections, Rejection{
				Section: "attendance",
				Reason:  fmt.Sprintf("record %d: out of range: grade=%d semester=%d", i, grade, semester),
			})
			continue
		}

		a := model.Attendance{Grade: grade, Semester: semester}
		if v, ok := pick(item, aliasTotalDays...); ok {
			a.TotalDays, _ = toSafeInt(v)
		}
		a.AbsenceDisease = pickCount(item, "absence_disease", "질병결석")
		a.AbsenceUnexcused = pickCount(item, "absence_unexcused", "미인정결석")
		a.AbsenceOther = pickCount(item, "absence_other", "기타결석")
		a.TardinessDisease = pickCount(item, "tardiness_disease", "질병지각")
		a.TardinessUnexcused = pickCount(item, "tardiness_unexcused", "미인정지각")
		a.TardinessOther = pickCount(item, "tardiness_other", "기타지각")
		a.EarlyLeaveDisease = pickCount(item, "early_leave_disease", "질병조퇴")
		a.EarlyLeaveUnexcused = pickCount(item, "early_leave_unexcused", "미인정조퇴")
		a.EarlyLeaveOther = pickCount(item, "early_leave_other", "기타조퇴")
		if v, ok := pick(item, "remarks", "특기사항"); ok {
			a.Remarks = toSafeString(v, 200)
		}

		key := fmt.Sprintf("%d|%d", grade, semester)
		if at, seen := index[key]; seen {
			records[at] = a
			continue
		}
		index[key] = len(records)
		records = append(records, a)
	}

	return records, rejections
}

func pickCount(m map[string]any, aliases ...string) int {
	if v, ok := pick(m, aliases...); ok {
		if n, numeric := toSafeInt(v); numeric && n >= 0 {
			return n
		}
	}
	return 0
}

func (n *Normalizer) normalizeDetails(items []map[string]any, rejections []Rejection) ([]model.AcademicDetail, []Rejection) {
	var details []model.AcademicDetail

	for i, item := range items {
		grade := 1
		semester := 1
		if v, ok := pick(item, aliasGrade...); ok {
			if g, numeric := toSafeInt(v); numeric {
				grade = g
			}
		}
		if v, ok := pick(item, aliasSemester...); ok {
			if s, numeric := toSafeInt(v); numeric {
				semester = s
			}
		}
		if grade < model.MinGrade || grade > model.MaxGrade || semester < model.MinSemester || semester > model.MaxSemester {
			rejections = append(rejections, Rejection{
				Section: "details",
				Reason:  fmt.Sprintf("record %d: out of range: grade=%d semester=%d", i, grade, semester),
			})
			continue
		}

		subject := ""
		if v, ok := pick(item, aliasSubject...); ok {
			subject = cleanText(v)
		}
		content := ""
		if v, ok := pick(item, aliasContent...); ok {
			content = cleanText(v)
		}
		if subject == "" || len(content) < 10 {
			rejections = append(rejections, Rejection{Section: "details", Reason: fmt.Sprintf("record %d: missing subject or content too short", i)})
			continue
		}

		details = append(details, model.AcademicDetail{
			Grade:    grade,
			Semester: semester,
			Subject:  toSafeString(subject, 50),
			Content:  content,
		})
	}

	return details, rejections
}

func (n *Normalizer) normalizeHistory(items []map[string]any, rejections []Rejection) ([]model.SchoolHistory, []Rejection) {
	var history []model.SchoolHistory

	for i, item := range items {
		school := ""
		if v, ok := pick(item, aliasSchool...); ok {
			school = toSafeString(v, 100)
		}
		if school == "" {
			rejections = append(rejections, Rejection{Section: "school_history", Reason: fmt.Sprintf("record %d: missing school name", i)})
			continue
		}

		h := model.SchoolHistory{SchoolName: school}
		if v, ok := pick(item, aliasDate...); ok {
			h.EventDate = toSafeDate(v)
		}
		if v, ok := pick(item, aliasGrade...); ok {
			if g, numeric := toSafeInt(v); numeric && g >= model.MinGrade && g <= model.MaxGrade {
				h.Grade = g
			}
		}
		if v, ok := pick(item, aliasEvent...); ok {
			h.EventType = normalizeSchoolEvent(toSafeString(v, 20))
		}
		if h.EventType == "" {
			h.EventType = model.SchoolEventEnrolled
		}

		history = append(history, h)
	}

	// Keep events in date order for readable profiles.
	sort.SliceStable(history, func(a, b int) bool {
		if history[a].EventDate == nil || history[b].EventDate == nil {
			return history[b].EventDate != nil
		}
		return history[a].EventDate.Before(*history[b].EventDate)
	})

	return history, rejections
}

func normalizeSchoolEvent(s string) model.SchoolHistoryEvent {
	switch strings.TrimSpace(s) {
	case "입학", "enrolled", "enrollment":
		return model.SchoolEventEnrolled
	case "전입", "전학", "transferred", "transfer":
		return model.SchoolEventTransferred
	case "졸업", "graduated", "graduation":
		return model.SchoolEventGraduated
	default:
		return ""
	}
}
