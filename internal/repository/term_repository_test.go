package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-registrar-core/internal/models"
)

func newSQLMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	sqlxDB := sqlx.NewDb(db, "postgres")
	cleanup := func() {
		_ = sqlxDB.Close()
	}
	return sqlxDB, mock, cleanup
}

var termRowColumns = []string{
	"id", "year_start", "year_end", "semester", "enrollment_start", "enrollment_end",
	"q1_start", "q1_end", "q2_start", "q2_end", "q3_start", "q3_end", "q4_start", "q4_end",
	"grading_deadline", "is_active", "is_enrollment_open", "created_at", "updated_at",
}

func TestTermRepositoryFindByID(t *testing.T) {
	db, mock, cleanup := newSQLMock(t)
	defer cleanup()
	repo := NewTermRepository(db)

	now := time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)
	q1End := now.AddDate(0, 2, 0)
	rows := sqlmock.NewRows(termRowColumns).
		AddRow("term-1", 2025, 2026, "FIRST_SEMESTER", now, now.AddDate(0, 0, 10),
			now, q1End, nil, nil, nil, nil, nil, nil,
			nil, true, true, now, now)
	mock.ExpectQuery(regexp.QuoteMeta("FROM terms WHERE id = $1")).
		WithArgs("term-1").
		WillReturnRows(rows)

	term, err := repo.FindByID(context.Background(), "term-1")
	require.NoError(t, err)
	assert.Equal(t, models.SemesterFirst, term.Semester)
	assert.True(t, term.IsActive)
	require.NotNil(t, term.Q1End)
	assert.True(t, term.Q1End.Equal(q1End))
	assert.Nil(t, term.Q2Start)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTermRepositoryFindByIDMissing(t *testing.T) {
	db, mock, cleanup := newSQLMock(t)
	defer cleanup()
	repo := NewTermRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("FROM terms WHERE id = $1")).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.FindByID(context.Background(), "missing")
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestTermRepositorySetActive(t *testing.T) {
	db, mock, cleanup := newSQLMock(t)
	defer cleanup()
	repo := NewTermRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("SELECT pg_advisory_xact_lock($1)")).
		WithArgs(termActivationLockID).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE terms SET is_active = FALSE")).
		WithArgs(sqlmock.AnyArg(), "term-2").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE terms SET is_active = TRUE")).
		WithArgs("term-2", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.SetActive(context.Background(), "term-2"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTermRepositorySetActiveMissingRollsBack(t *testing.T) {
	db, mock, cleanup := newSQLMock(t)
	defer cleanup()
	repo := NewTermRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("SELECT pg_advisory_xact_lock($1)")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE terms SET is_active = FALSE")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE terms SET is_active = TRUE")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := repo.SetActive(context.Background(), "missing")
	assert.ErrorIs(t, err, sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTermRepositoryDeactivate(t *testing.T) {
	db, mock, cleanup := newSQLMock(t)
	defer cleanup()
	repo := NewTermRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE terms SET is_active = FALSE, updated_at = $2 WHERE id = $1 AND is_active = TRUE")).
		WithArgs("term-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE terms SET is_active = FALSE, updated_at = $2 WHERE id = $1 AND is_active = TRUE")).
		WithArgs("term-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	changed, err := repo.Deactivate(context.Background(), "term-1")
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = repo.Deactivate(context.Background(), "term-1")
	require.NoError(t, err)
	assert.False(t, changed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTermRepositoryCountDependents(t *testing.T) {
	db, mock, cleanup := newSQLMock(t)
	defer cleanup()
	repo := NewTermRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("(SELECT COUNT(*) FROM faculty_loads WHERE term_id = $1) AS loads")).
		WithArgs("term-1").
		WillReturnRows(sqlmock.NewRows([]string{"loads", "advisers", "grade_requests", "grade_records"}).AddRow(2, 1, 0, 0))

	deps, err := repo.CountDependents(context.Background(), "term-1")
	require.NoError(t, err)
	assert.Equal(t, 3, deps.Total())
}

func TestTermRepositoryListAppliesFilters(t *testing.T) {
	db, mock, cleanup := newSQLMock(t)
	defer cleanup()
	repo := NewTermRepository(db)

	year := 2025
	active := true
	mock.ExpectQuery(regexp.QuoteMeta("FROM terms WHERE 1=1 AND year_start = $1 AND is_active = $2 ORDER BY year_start DESC, semester ASC LIMIT 20 OFFSET 0")).
		WithArgs(2025, true).
		WillReturnRows(sqlmock.NewRows(termRowColumns))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM terms WHERE 1=1 AND year_start = $1 AND is_active = $2")).
		WithArgs(2025, true).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))

	terms, total, err := repo.List(context.Background(), models.TermFilter{YearStart: &year, IsActive: &active, SortBy: "bogus"})
	require.NoError(t, err)
	assert.Empty(t, terms)
	assert.Equal(t, 0, total)
	assert.NoError(t, mock.ExpectationsWereMet())
}
