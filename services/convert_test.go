package services

import "testing"

func TestToSafeInt(t *testing.T) {
	cases := []struct {
		in   any
		want int
		ok   bool
	}{
		{float64(3), 3, true},
		{"2", 2, true},
		{"1학년", 1, true},
		{"B(190)", 190, true},
		{"미응시", 0, false},
		{"", 0, false},
		{nil, 0, false},
	}

	for _, tc := range cases {
		got, ok := toSafeInt(tc.in)
		if got != tc.want || ok != tc.ok {
			t.Errorf("toSafeInt(%v) = (%d, %v), want (%d, %v)", tc.in, got, ok, tc.want, tc.ok)
		}
	}
}

func TestToSafeDate(t *testing.T) {
	cases := []struct {
		in   string
		want string // empty means nil expected
	}{
		{"2008-03-15", "2008-03-15"},
		{"2008.03.15", "2008-03-15"},
		{"2008년 3월 15일", "2008-03-15"},
		{"2008년 03월 15일", "2008-03-15"},
		{"not a date", ""},
		{"", ""},
	}

	for _, tc := range cases {
		got := toSafeDate(tc.in)
		if tc.want == "" {
			if got != nil {
				t.Errorf("toSafeDate(%q) = %v, want nil", tc.in, got)
			}
			continue
		}
		if got == nil || got.Format("2006-01-02") != tc.want {
			t.Errorf("toSafeDate(%q) = %v, want %s", tc.in, got, tc.want)
		}
	}
}

func TestToSafeStringRuneBoundary(t *testing.T) {
	// Truncation must never split a Korean rune.
	got := toSafeString("가나다라", 7)
	if got != "가나" {
		t.Errorf("toSafeString truncated mid-rune: %q", got)
	}
}

func TestCleanText(t *testing.T) {
	got := cleanText("  세부능력\n및   특기사항\r\n내용  ")
	want := "세부능력 및 특기사항 내용"
	if got != want {
		t.Errorf("cleanText = %q, want %q", got, want)
	}
}

func TestPickAliases(t *testing.T) {
	m := map[string]any{"학년": float64(2), "ignored": "x"}

	v, ok := pick(m, "grade", "school_year", "학년")
	if !ok || v != float64(2) {
		t.Errorf("pick = (%v, %v), want (2, true)", v, ok)
	}

	if _, ok := pick(m, "semester", "학기"); ok {
		t.Error("pick must miss when no alias is present")
	}

	m["null_field"] = nil
	if _, ok := pick(m, "null_field"); ok {
		t.Error("nil values count as absent")
	}
}
