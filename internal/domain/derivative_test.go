package domain

import "testing"

func TestFilterWidths(t *testing.T) {
	cases := []struct {
		name     string
		widths   []int
		maxWidth int
		want     []int
	}{
		{"default ladder default cap", DefaultTargetWidths, DefaultMaxWidth, []int{480, 960, 1440}},
		{"cap above ladder", DefaultTargetWidths, 4000, []int{480, 960, 1440, 1920}},
		{"cap below ladder", DefaultTargetWidths, 100, []int{}},
		{"order preserved", []int{960, 480, 960}, 1000, []int{960, 480, 960}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := FilterWidths(tc.widths, tc.maxWidth)
			if len(got) != len(tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, got)
			}
			for i := range got {
				if got[i] != tc.want[i] {
					t.Fatalf("expected %v, got %v", tc.want, got)
				}
			}
		})
	}
}

func TestReportCountByStatus(t *testing.T) {
	report := Report{
		Targets: []TargetResult{
			{Key: "a.webp", Status: StatusWritten},
			{Key: "a-480.webp", Status: StatusSkippedExists},
			{Key: "a-960.webp", Status: StatusWritten},
			{Key: "a-1440.webp", Status: StatusFailed, Error: "encode failed"},
		},
	}

	if got := report.CountByStatus(StatusWritten); got != 2 {
		t.Fatalf("expected 2 written, got %d", got)
	}
	if got := report.CountByStatus(StatusSkippedExists); got != 1 {
		t.Fatalf("expected 1 skipped, got %d", got)
	}
	if got := report.CountByStatus(StatusFailed); got != 1 {
		t.Fatalf("expected 1 failed, got %d", got)
	}
	if report.Skipped() {
		t.Fatal("report with targets should not be a benign skip")
	}
}
