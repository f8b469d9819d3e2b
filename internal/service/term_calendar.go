package service

import (
	"fmt"
	"time"

	"github.com/noah-isme/sma-registrar-core/internal/models"
	appErrors "github.com/noah-isme/sma-registrar-core/pkg/errors"
)

const (
	minEnrollmentDays = 7
	maxEnrollmentDays = 14
)

// validateTermCalendar checks the calendar invariants of a term. The
// enrollment weekday and span rules only run when checkWindow is set so that
// unrelated edits do not fail on windows that were valid when recorded.
func validateTermCalendar(term *models.Term, checkWindow bool) error {
	if term.YearEnd != term.YearStart+1 {
		return appErrors.Clone(appErrors.ErrInvalidRange, fmt.Sprintf("school year must span one year, got %d-%d", term.YearStart, term.YearEnd))
	}

	if term.EnrollmentStart != nil && term.EnrollmentEnd != nil {
		if err := validateEnrollmentWindow(*term.EnrollmentStart, *term.EnrollmentEnd, checkWindow); err != nil {
			return err
		}
	}

	return validateQuarterWindows(term.QuarterWindows())
}

func validateEnrollmentWindow(start, end time.Time, checkWindow bool) error {
	if !end.After(start) {
		return appErrors.Clone(appErrors.ErrInvalidRange, "enrollment end must be after enrollment start")
	}
	if !checkWindow {
		return nil
	}
	if isWeekend(start) {
		return appErrors.Clone(appErrors.ErrInvalidWindow, fmt.Sprintf("enrollment cannot start on a %s", calendarDate(start).Weekday()))
	}
	if isWeekend(end) {
		return appErrors.Clone(appErrors.ErrInvalidWindow, fmt.Sprintf("enrollment cannot end on a %s", calendarDate(end).Weekday()))
	}
	span := calendarDays(start, end)
	if span < minEnrollmentDays || span > maxEnrollmentDays {
		return appErrors.Clone(appErrors.ErrInvalidWindow, fmt.Sprintf("enrollment window must last %d to %d days, got %d", minEnrollmentDays, maxEnrollmentDays, span))
	}
	return nil
}

// validateQuarterWindows orders only the populated quarters against each other.
func validateQuarterWindows(windows [4]models.DateWindow) error {
	var prevEnd *time.Time
	prevQuarter := 0
	for i, w := range windows {
		n := i + 1
		if !w.Populated() {
			continue
		}
		if w.Start == nil || w.End == nil {
			return appErrors.Clone(appErrors.ErrInvalidRange, fmt.Sprintf("Q%d needs both start and end dates", n))
		}
		if !w.End.After(*w.Start) {
			return appErrors.Clone(appErrors.ErrInvalidRange, fmt.Sprintf("Q%d end must be after its start", n))
		}
		if prevEnd != nil && !w.Start.After(*prevEnd) {
			return appErrors.Clone(appErrors.ErrInvalidSequence, fmt.Sprintf("Q%d must start after Q%d ends", n, prevQuarter))
		}
		prevEnd = w.End
		prevQuarter = n
	}
	return nil
}

// calendarDate keeps the year, month and day as written, whatever the offset.
func calendarDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func isWeekend(t time.Time) bool {
	day := calendarDate(t).Weekday()
	return day == time.Saturday || day == time.Sunday
}

// calendarDays counts whole days between the calendar dates of start and end.
func calendarDays(start, end time.Time) int {
	return int(calendarDate(end).Sub(calendarDate(start)).Hours() / 24)
}

// EvaluateExpiry returns the ids of active terms whose end boundary is
// strictly before now. It never mutates the terms it is given.
func EvaluateExpiry(terms []models.Term, now time.Time) []string {
	expired := make([]string, 0)
	for i := range terms {
		term := &terms[i]
		if !term.IsActive {
			continue
		}
		boundary := term.EndBoundary()
		if boundary == nil {
			continue
		}
		if boundary.Before(now) {
			expired = append(expired, term.ID)
		}
	}
	return expired
}
