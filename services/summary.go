package services

import (
	"github.com/libetion/libera-api/model"
)

// CurriculumSummary aggregates one main curriculum across every grade and
// semester a student has records for.
type CurriculumSummary struct {
	Curriculum string  `json:"curriculum"`
	Subjects   int     `json:"subjects"`
	Average    float64 `json:"average,omitempty"`
}

// SummarizeMainCurriculums rolls scores up per main curriculum for the
// student profile. Non-numeric raw scores ("미응시", ranges) count toward
// the subject total but not the average; curriculums with no records are
// omitted.
func SummarizeMainCurriculums(scores []model.Score) []CurriculumSummary {
	subjects := make(map[string]int)
	sums := make(map[string]int)
	counts := make(map[string]int)

	main := make(map[string]bool, len(model.MainCurriculums))
	for _, cur := range model.MainCurriculums {
		main[cur] = true
	}

	for _, s := range scores {
		if !main[s.Curriculum] {
			continue
		}
		subjects[s.Curriculum]++
		if v, numeric := toSafeInt(s.RawScore); numeric {
			sums[s.Curriculum] += v
			counts[s.Curriculum]++
		}
	}

	out := make([]CurriculumSummary, 0, len(model.MainCurriculums))
	for _, cur := range model.MainCurriculums {
		if subjects[cur] == 0 {
			continue
		}
		summary := CurriculumSummary{Curriculum: cur, Subjects: subjects[cur]}
		if counts[cur] > 0 {
			summary.Average = float64(sums[cur]) / float64(counts[cur])
		}
		out = append(out, summary)
	}
	return out
}
