package models

import "time"

// GradeRequestStatus is the state of a grade input request.
type GradeRequestStatus string

const (
	GradeRequestPending  GradeRequestStatus = "PENDING"
	GradeRequestApproved GradeRequestStatus = "APPROVED"
	GradeRequestRejected GradeRequestStatus = "REJECTED"
)

// GradeInputRequest is a faculty's request for time-boxed permission to
// enter grades for one class (section + subject) and quarter.
type GradeInputRequest struct {
	ID            string             `db:"id" json:"id"`
	FacultyID     string             `db:"faculty_id" json:"faculty_id"`
	TermID        string             `db:"term_id" json:"term_id"`
	SectionID     string             `db:"section_id" json:"section_id"`
	SubjectID     string             `db:"subject_id" json:"subject_id"`
	Quarter       Quarter            `db:"quarter" json:"quarter"`
	Reason        string             `db:"reason" json:"reason"`
	StudentsCount int                `db:"students_count" json:"students_count"`
	Status        GradeRequestStatus `db:"status" json:"status"`
	ApprovalNotes *string            `db:"approval_notes" json:"approval_notes,omitempty"`
	ExpiresAt     *time.Time         `db:"expires_at" json:"expires_at,omitempty"`
	ReviewedBy    *string            `db:"reviewed_by" json:"reviewed_by,omitempty"`
	ReviewedAt    *time.Time         `db:"reviewed_at" json:"reviewed_at,omitempty"`
	CreatedAt     time.Time          `db:"created_at" json:"created_at"`
}

// Grants reports whether the request currently permits grade entry. An
// approved request past its expiry no longer grants.
func (r *GradeInputRequest) Grants(now time.Time) bool {
	if r.Status != GradeRequestApproved {
		return false
	}
	return r.ExpiresAt == nil || now.Before(*r.ExpiresAt)
}

// GradeRequestFilter scopes request listings.
type GradeRequestFilter struct {
	FacultyID string
	TermID    string
	SectionID string
	SubjectID string
	Quarter   Quarter
	Status    GradeRequestStatus
	Limit     int
	Offset    int
}

// GradeStatus is the approval state of a grade record.
type GradeStatus string

const (
	GradeStatusDraft     GradeStatus = "DRAFT"
	GradeStatusSubmitted GradeStatus = "SUBMITTED_FOR_APPROVAL"
	GradeStatusApproved  GradeStatus = "APPROVED"
	// GradeStatusRejected records stay editable and can be resubmitted.
	GradeStatusRejected GradeStatus = "REJECTED"
)

// Editable reports whether faculty may change the record without a new
// submission cycle.
func (s GradeStatus) Editable() bool {
	return s == GradeStatusDraft || s == GradeStatusRejected
}

// GradeRecord holds one student's quarter grades for a subject in a term.
type GradeRecord struct {
	ID                      string        `db:"id" json:"id"`
	StudentID               string        `db:"student_id" json:"student_id"`
	SubjectID               string        `db:"subject_id" json:"subject_id"`
	SectionID               string        `db:"section_id" json:"section_id"`
	FacultyID               string        `db:"faculty_id" json:"faculty_id"`
	TermID                  string        `db:"term_id" json:"term_id"`
	Semester                SemesterLabel `db:"semester" json:"semester"`
	FirstQuarter            *float64      `db:"first_quarter" json:"first_quarter,omitempty"`
	SecondQuarter           *float64      `db:"second_quarter" json:"second_quarter,omitempty"`
	ThirdQuarter            *float64      `db:"third_quarter" json:"third_quarter,omitempty"`
	FourthQuarter           *float64      `db:"fourth_quarter" json:"fourth_quarter,omitempty"`
	SemesterGrade           *float64      `db:"semester_grade" json:"semester_grade,omitempty"`
	SemesterGradeOverridden bool          `db:"semester_grade_overridden" json:"semester_grade_overridden"`
	Status                  GradeStatus   `db:"status" json:"status"`
	SubmittedForApprovalAt  *time.Time    `db:"submitted_for_approval_at" json:"submitted_for_approval_at,omitempty"`
	ApprovedAt              *time.Time    `db:"approved_at" json:"approved_at,omitempty"`
	ApprovalNotes           *string       `db:"approval_notes" json:"approval_notes,omitempty"`
	CreatedAt               time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt               time.Time     `db:"updated_at" json:"updated_at"`
}

// QuarterValue returns the stored grade for q.
func (g *GradeRecord) QuarterValue(q Quarter) *float64 {
	switch q {
	case Quarter1:
		return g.FirstQuarter
	case Quarter2:
		return g.SecondQuarter
	case Quarter3:
		return g.ThirdQuarter
	case Quarter4:
		return g.FourthQuarter
	}
	return nil
}

// SetQuarterValue stores v as the grade for q.
func (g *GradeRecord) SetQuarterValue(q Quarter, v *float64) {
	switch q {
	case Quarter1:
		g.FirstQuarter = v
	case Quarter2:
		g.SecondQuarter = v
	case Quarter3:
		g.ThirdQuarter = v
	case Quarter4:
		g.FourthQuarter = v
	}
}

// RelevantQuarters returns the grade values used by the record's semester.
func (g *GradeRecord) RelevantQuarters() []*float64 {
	quarters := g.Semester.Quarters()
	values := make([]*float64, len(quarters))
	for i, q := range quarters {
		values[i] = g.QuarterValue(q)
	}
	return values
}

// GradeRecordFilter scopes grade listings.
type GradeRecordFilter struct {
	TermID    string
	SectionID string
	SubjectID string
	FacultyID string
	StudentID string
	Status    GradeStatus
}

// GradeDisplay is the derived, never stored, presentation of a record's average.
type GradeDisplay struct {
	// Value is nil when the grade is Ongoing or N/A.
	Value   *float64 `json:"value,omitempty"`
	Display string   `json:"display"`
	Remarks string   `json:"remarks,omitempty"`
}

// StudentGrade pairs an approved record with its computed display.
type StudentGrade struct {
	GradeRecord
	Average GradeDisplay `json:"average"`
}
