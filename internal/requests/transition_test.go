package requests

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/foilportal/internal/calendar"
	"github.com/foilportal/internal/events"
	"github.com/foilportal/pkg/models"
)

func newMockService(t *testing.T) (*Service, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	cal := calendar.New(time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC), 2)
	return NewService(db, events.NewRepo(db), cal, Config{}, zerolog.Nop()), mock
}

const transitionTestID = "FOIL-2026-860-00001"

func TestTransitionWritesEventThenRowInOneTransaction(t *testing.T) {
	svc, mock := newMockService(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT status FROM requests WHERE id = $1 FOR UPDATE`)).
		WithArgs(transitionTestID).
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow(string(models.StatusOpen)))
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO events`)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(1)))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE requests SET status = $1 WHERE id = $2`)).
		WithArgs(string(models.StatusDueSoon), transitionTestID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	changed, err := svc.Transition(context.Background(), transitionTestID, models.StatusDueSoon, nil)
	require.NoError(t, err)
	assert.True(t, changed)

	// Ordered expectations: the audit event lands before the row update,
	// and both commit together.
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransitionAlreadyAtTargetWritesNothing(t *testing.T) {
	svc, mock := newMockService(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT status FROM requests WHERE id = $1 FOR UPDATE`)).
		WithArgs(transitionTestID).
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow(string(models.StatusDueSoon)))
	mock.ExpectRollback()

	changed, err := svc.Transition(context.Background(), transitionTestID, models.StatusDueSoon, nil)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransitionEventFailureLeavesRowUntouched(t *testing.T) {
	svc, mock := newMockService(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT status FROM requests WHERE id = $1 FOR UPDATE`)).
		WithArgs(transitionTestID).
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow(string(models.StatusOpen)))
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO events`)).
		WillReturnError(errors.New("event insert failed"))
	mock.ExpectRollback()

	changed, err := svc.Transition(context.Background(), transitionTestID, models.StatusOverdue, nil)
	require.Error(t, err)
	assert.False(t, changed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransitionClosedIsSticky(t *testing.T) {
	svc, mock := newMockService(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT status FROM requests WHERE id = $1 FOR UPDATE`)).
		WithArgs(transitionTestID).
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow(string(models.StatusClosed)))
	mock.ExpectRollback()

	changed, err := svc.Transition(context.Background(), transitionTestID, models.StatusOverdue, nil)
	require.Error(t, err)
	assert.False(t, changed)
	assert.NoError(t, mock.ExpectationsWereMet())
}
