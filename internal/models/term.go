package models

import (
	"fmt"
	"time"
)

// SemesterLabel identifies which part of the school year a term covers.
type SemesterLabel string

const (
	SemesterFirst            SemesterLabel = "FIRST_SEMESTER"
	SemesterSecond           SemesterLabel = "SECOND_SEMESTER"
	SemesterFullAcademicYear SemesterLabel = "FULL_ACADEMIC_YEAR"
	SemesterSummer           SemesterLabel = "SUMMER"
)

// Valid reports whether the label is one of the known semesters.
func (s SemesterLabel) Valid() bool {
	switch s {
	case SemesterFirst, SemesterSecond, SemesterFullAcademicYear, SemesterSummer:
		return true
	}
	return false
}

// Quarters returns the grading quarters used by the semester.
func (s SemesterLabel) Quarters() []Quarter {
	switch s {
	case SemesterSecond:
		return []Quarter{Quarter3, Quarter4}
	case SemesterFullAcademicYear:
		return []Quarter{Quarter1, Quarter2, Quarter3, Quarter4}
	default:
		return []Quarter{Quarter1, Quarter2}
	}
}

// Quarter is one of the four grading periods of a school year.
type Quarter string

const (
	Quarter1 Quarter = "Q1"
	Quarter2 Quarter = "Q2"
	Quarter3 Quarter = "Q3"
	Quarter4 Quarter = "Q4"
)

// Index returns the 1-based quarter number, or 0 when unknown.
func (q Quarter) Index() int {
	switch q {
	case Quarter1:
		return 1
	case Quarter2:
		return 2
	case Quarter3:
		return 3
	case Quarter4:
		return 4
	}
	return 0
}

// DateWindow is a start/end date pair.
type DateWindow struct {
	Start *time.Time `json:"start,omitempty"`
	End   *time.Time `json:"end,omitempty"`
}

// Populated reports whether either bound is set.
func (w DateWindow) Populated() bool {
	return w.Start != nil || w.End != nil
}

// Term is one school-year/semester period.
type Term struct {
	ID               string        `db:"id" json:"id"`
	YearStart        int           `db:"year_start" json:"year_start"`
	YearEnd          int           `db:"year_end" json:"year_end"`
	Semester         SemesterLabel `db:"semester" json:"semester"`
	EnrollmentStart  *time.Time    `db:"enrollment_start" json:"enrollment_start,omitempty"`
	EnrollmentEnd    *time.Time    `db:"enrollment_end" json:"enrollment_end,omitempty"`
	Q1Start          *time.Time    `db:"q1_start" json:"q1_start,omitempty"`
	Q1End            *time.Time    `db:"q1_end" json:"q1_end,omitempty"`
	Q2Start          *time.Time    `db:"q2_start" json:"q2_start,omitempty"`
	Q2End            *time.Time    `db:"q2_end" json:"q2_end,omitempty"`
	Q3Start          *time.Time    `db:"q3_start" json:"q3_start,omitempty"`
	Q3End            *time.Time    `db:"q3_end" json:"q3_end,omitempty"`
	Q4Start          *time.Time    `db:"q4_start" json:"q4_start,omitempty"`
	Q4End            *time.Time    `db:"q4_end" json:"q4_end,omitempty"`
	GradingDeadline  *time.Time    `db:"grading_deadline" json:"grading_deadline,omitempty"`
	IsActive         bool          `db:"is_active" json:"is_active"`
	IsEnrollmentOpen bool          `db:"is_enrollment_open" json:"is_enrollment_open"`
	CreatedAt        time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time     `db:"updated_at" json:"updated_at"`
}

// QuarterWindows returns the four quarter windows in order.
func (t *Term) QuarterWindows() [4]DateWindow {
	return [4]DateWindow{
		{Start: t.Q1Start, End: t.Q1End},
		{Start: t.Q2Start, End: t.Q2End},
		{Start: t.Q3Start, End: t.Q3End},
		{Start: t.Q4Start, End: t.Q4End},
	}
}

// SetQuarterWindow replaces the window of quarter n (1-4).
func (t *Term) SetQuarterWindow(n int, w DateWindow) {
	switch n {
	case 1:
		t.Q1Start, t.Q1End = w.Start, w.End
	case 2:
		t.Q2Start, t.Q2End = w.Start, w.End
	case 3:
		t.Q3Start, t.Q3End = w.Start, w.End
	case 4:
		t.Q4Start, t.Q4End = w.Start, w.End
	}
}

// Label renders the term as "2025-2026 FIRST_SEMESTER".
func (t *Term) Label() string {
	return fmt.Sprintf("%d-%d %s", t.YearStart, t.YearEnd, t.Semester)
}

// EndBoundary returns the instant after which an active term is expired.
// Enrollment-bearing terms (enrollment open with an end date) end with their
// enrollment window; otherwise the latest quarter end, otherwise the grading
// deadline. A nil result means the term never expires on its own.
func (t *Term) EndBoundary() *time.Time {
	if t.IsEnrollmentOpen && t.EnrollmentEnd != nil {
		return t.EnrollmentEnd
	}
	var latest *time.Time
	for _, w := range t.QuarterWindows() {
		if w.End != nil && (latest == nil || w.End.After(*latest)) {
			latest = w.End
		}
	}
	if latest != nil {
		return latest
	}
	return t.GradingDeadline
}

// TermFilter defines filters supported by list endpoints.
type TermFilter struct {
	YearStart *int
	Semester  SemesterLabel
	IsActive  *bool
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}

// TermDependents counts the records referencing a term.
type TermDependents struct {
	Loads         int `db:"loads"`
	Advisers      int `db:"advisers"`
	GradeRequests int `db:"grade_requests"`
	GradeRecords  int `db:"grade_records"`
}

// Total sums all dependents.
func (d TermDependents) Total() int {
	return d.Loads + d.Advisers + d.GradeRequests + d.GradeRecords
}
