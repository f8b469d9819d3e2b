package models

import (
	"database/sql/driver"
	"fmt"
	"strings"
	"time"
)

// Weekday is a teaching day. Sunday is not a teaching day.
type Weekday string

const (
	Monday    Weekday = "MONDAY"
	Tuesday   Weekday = "TUESDAY"
	Wednesday Weekday = "WEDNESDAY"
	Thursday  Weekday = "THURSDAY"
	Friday    Weekday = "FRIDAY"
	Saturday  Weekday = "SATURDAY"
)

// ParseWeekday normalises a day name such as "mon" or "Monday".
func ParseWeekday(raw string) (Weekday, bool) {
	v := strings.ToUpper(strings.TrimSpace(raw))
	for _, d := range []Weekday{Monday, Tuesday, Wednesday, Thursday, Friday, Saturday} {
		if v == string(d) || (len(v) >= 3 && strings.HasPrefix(string(d), v)) {
			return d, true
		}
	}
	return "", false
}

// ClockTime is a time of day with minute precision, stored as minutes after
// midnight and serialised as "HH:MM".
type ClockTime int

// ParseClockTime parses "HH:MM" or "HH:MM:SS".
func ParseClockTime(raw string) (ClockTime, error) {
	raw = strings.TrimSpace(raw)
	layouts := []string{"15:04", "15:04:05"}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return ClockTime(t.Hour()*60 + t.Minute()), nil
		}
	}
	return 0, fmt.Errorf("invalid time of day %q", raw)
}

// String renders the time as HH:MM.
func (c ClockTime) String() string {
	return fmt.Sprintf("%02d:%02d", int(c)/60, int(c)%60)
}

// MarshalText implements encoding.TextMarshaler.
func (c ClockTime) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *ClockTime) UnmarshalText(b []byte) error {
	parsed, err := ParseClockTime(string(b))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// Value implements driver.Valuer for TIME columns.
func (c ClockTime) Value() (driver.Value, error) {
	return c.String() + ":00", nil
}

// Scan implements sql.Scanner for TIME columns.
func (c *ClockTime) Scan(src interface{}) error {
	switch v := src.(type) {
	case time.Time:
		*c = ClockTime(v.Hour()*60 + v.Minute())
		return nil
	case []byte:
		return c.UnmarshalText(v)
	case string:
		return c.UnmarshalText([]byte(v))
	case nil:
		*c = 0
		return nil
	}
	return fmt.Errorf("cannot scan %T into ClockTime", src)
}

// Overlaps reports whether the half-open intervals [s1,e1) and [s2,e2)
// intersect. Touching intervals do not overlap.
func Overlaps(s1, e1, s2, e2 ClockTime) bool {
	return s1 < e2 && s2 < e1
}

// FacultyLoadAssignment is one scheduled teaching commitment.
type FacultyLoadAssignment struct {
	ID        string        `db:"id" json:"id"`
	FacultyID string        `db:"faculty_id" json:"faculty_id"`
	SubjectID string        `db:"subject_id" json:"subject_id"`
	SectionID string        `db:"section_id" json:"section_id"`
	DayOfWeek Weekday       `db:"day_of_week" json:"day_of_week"`
	StartTime ClockTime     `db:"start_time" json:"start_time"`
	EndTime   ClockTime     `db:"end_time" json:"end_time"`
	Semester  SemesterLabel `db:"semester" json:"semester"`
	TermID    string        `db:"term_id" json:"term_id"`
	LoadType  string        `db:"load_type" json:"load_type,omitempty"`
	CreatedAt time.Time     `db:"created_at" json:"created_at"`
}

// ConflictsWith reports whether both assignments occupy the same day and
// overlapping time.
func (a *FacultyLoadAssignment) ConflictsWith(day Weekday, start, end ClockTime) bool {
	return a.DayOfWeek == day && Overlaps(a.StartTime, a.EndTime, start, end)
}

// SectionAdviser links a faculty adviser to a section for one term.
type SectionAdviser struct {
	ID        string    `db:"id" json:"id"`
	SectionID string    `db:"section_id" json:"section_id"`
	TermID    string    `db:"term_id" json:"term_id"`
	FacultyID string    `db:"faculty_id" json:"faculty_id"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// FacultyLoadOverride raises or lowers the load ceiling for one faculty.
type FacultyLoadOverride struct {
	FacultyID string    `db:"faculty_id" json:"faculty_id"`
	MaxLoads  int       `db:"max_loads" json:"max_loads"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// LoadPolicy is the registrar-wide load configuration. AllowedLoadTypes is
// informational and not enforced.
type LoadPolicy struct {
	MaxLoadsPerFaculty int      `json:"max_loads_per_faculty"`
	AllowedLoadTypes   []string `json:"allowed_load_types"`
}

// Utilization summarises a faculty member's load within a term.
type Utilization struct {
	FacultyID      string  `json:"faculty_id"`
	TermID         string  `json:"term_id"`
	Current        int     `json:"current"`
	Max            int     `json:"max"`
	RemainingLoads int     `json:"remaining_loads"`
	Percentage     float64 `json:"percentage"`
	IsOverloaded   bool    `json:"is_overloaded"`
}
