package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-registrar-core/internal/models"
)

func TestFacultyLoadRepositoryListByFaculty(t *testing.T) {
	db, mock, cleanup := newSQLMock(t)
	defer cleanup()
	repo := NewFacultyLoadRepository(db)

	rows := sqlmock.NewRows([]string{"id", "faculty_id", "subject_id", "section_id", "day_of_week", "start_time", "end_time", "semester", "term_id", "load_type", "created_at"}).
		AddRow("load-1", "fac-1", "subj-1", "sec-1", "MONDAY", "08:00:00", "09:30:00", "FIRST_SEMESTER", "term-1", "TEACHING", time.Now())
	mock.ExpectQuery(regexp.QuoteMeta("FROM faculty_loads WHERE faculty_id = $1 AND term_id = $2")).
		WithArgs("fac-1", "term-1").
		WillReturnRows(rows)

	loads, err := repo.ListByFaculty(context.Background(), "fac-1", "term-1")
	require.NoError(t, err)
	require.Len(t, loads, 1)
	assert.Equal(t, models.Monday, loads[0].DayOfWeek)
	assert.Equal(t, models.ClockTime(8*60), loads[0].StartTime)
	assert.Equal(t, models.ClockTime(9*60+30), loads[0].EndTime)
}

func TestFacultyLoadRepositoryCreateAndCount(t *testing.T) {
	db, mock, cleanup := newSQLMock(t)
	defer cleanup()
	repo := NewFacultyLoadRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO faculty_loads")).
		WithArgs(sqlmock.AnyArg(), "fac-1", "subj-1", "sec-1", models.Tuesday, "10:00:00", "11:00:00", models.SemesterFirst, "term-1", "", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM faculty_loads")).
		WithArgs("fac-1", "term-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	load := &models.FacultyLoadAssignment{
		FacultyID: "fac-1",
		SubjectID: "subj-1",
		SectionID: "sec-1",
		DayOfWeek: models.Tuesday,
		StartTime: models.ClockTime(10 * 60),
		EndTime:   models.ClockTime(11 * 60),
		Semester:  models.SemesterFirst,
		TermID:    "term-1",
	}
	require.NoError(t, repo.Create(context.Background(), load))
	assert.NotEmpty(t, load.ID)

	count, err := repo.CountByFaculty(context.Background(), "fac-1", "term-1")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFacultyLoadRepositoryDeleteReportsMissing(t *testing.T) {
	db, mock, cleanup := newSQLMock(t)
	defer cleanup()
	repo := NewFacultyLoadRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM faculty_loads WHERE id = $1")).
		WithArgs("load-x").
		WillReturnResult(sqlmock.NewResult(0, 0))

	removed, err := repo.Delete(context.Background(), "load-x")
	require.NoError(t, err)
	assert.False(t, removed)
}
