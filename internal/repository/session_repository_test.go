package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-audit-api/internal/models"
)

func newMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	sqlxdb := sqlx.NewDb(db, "sqlmock")
	return sqlxdb, mock, func() {
		db.Close()
	}
}

func sessionRows(now time.Time) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "user_id", "session_token", "ip_address", "user_agent", "device_type", "browser", "platform", "login_method", "login_at", "logout_at", "logout_reason", "is_active"}).
		AddRow("s1", "u1", "tok", "10.0.0.1", "Mozilla/5.0", "desktop", "Chrome", "Windows", models.LoginMethodWeb, now, nil, nil, true)
}

func TestStartExclusiveSupersedesPriorSessions(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewSessionRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("SELECT pg_advisory_xact_lock(hashtext($1))")).
		WithArgs("u1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("UPDATE sessions SET logout_at").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO sessions").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	session := &models.Session{
		UserID:       "u1",
		SessionToken: "tok",
		IPAddress:    "10.0.0.1",
		DeviceType:   models.DeviceDesktop,
		LoginMethod:  models.LoginMethodWeb,
	}
	ended, err := repo.StartExclusive(context.Background(), session, models.LogoutNewLogin)
	require.NoError(t, err)
	assert.Equal(t, int64(1), ended)
	assert.True(t, session.IsActive)
	assert.NotEmpty(t, session.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStartExclusiveRollsBackOnInsertFailure(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewSessionRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("SELECT pg_advisory_xact_lock(hashtext($1))")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("UPDATE sessions SET logout_at").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO sessions").
		WillReturnError(sql.ErrConnDone)
	mock.ExpectRollback()

	_, err := repo.StartExclusive(context.Background(), &models.Session{UserID: "u1"}, models.LogoutNewLogin)
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEndUserSessionsReturnsZeroWhenNoneActive(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewSessionRepository(db)

	mock.ExpectExec("UPDATE sessions SET logout_at").
		WillReturnResult(sqlmock.NewResult(0, 0))

	count, err := repo.EndUserSessions(context.Background(), "u1", models.LogoutTimeout)
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEndSessionAlreadyEnded(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewSessionRepository(db)

	mock.ExpectQuery("UPDATE sessions SET logout_at").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.EndSession(context.Background(), "missing", models.LogoutAdminTerminate)
	assert.ErrorIs(t, err, sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEndSessionReturnsEndedRow(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewSessionRepository(db)

	now := time.Now()
	logout := now.Add(time.Minute)
	rows := sqlmock.NewRows([]string{"id", "user_id", "session_token", "ip_address", "user_agent", "device_type", "browser", "platform", "login_method", "login_at", "logout_at", "logout_reason", "is_active"}).
		AddRow("s1", "u1", "tok", "10.0.0.1", "Mozilla/5.0", "desktop", "Chrome", "Windows", models.LoginMethodWeb, now, logout, string(models.LogoutUser), false)
	mock.ExpectQuery("UPDATE sessions SET logout_at").
		WillReturnRows(rows)

	session, err := repo.EndSession(context.Background(), "s1", models.LogoutUser)
	require.NoError(t, err)
	assert.False(t, session.IsActive)
	require.NotNil(t, session.LogoutReason)
	assert.Equal(t, models.LogoutUser, *session.LogoutReason)
	assert.True(t, session.LogoutAt.After(session.LoginAt) || session.LogoutAt.Equal(session.LoginAt))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListSessionsActiveFilter(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewSessionRepository(db)

	now := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, user_id, session_token, ip_address, user_agent, device_type, browser, platform, login_method, login_at, logout_at, logout_reason, is_active FROM sessions WHERE 1=1 AND is_active = $1 ORDER BY login_at DESC LIMIT 20 OFFSET 0")).
		WithArgs(true).
		WillReturnRows(sessionRows(now))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM sessions WHERE 1=1 AND is_active = $1")).
		WithArgs(true).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	active := true
	sessions, total, err := repo.List(context.Background(), models.SessionFilter{Active: &active})
	require.NoError(t, err)
	assert.Len(t, sessions, 1)
	assert.Equal(t, 1, total)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCountActive(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewSessionRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM sessions WHERE is_active = TRUE")).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))

	count, err := repo.CountActive(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, count)
	assert.NoError(t, mock.ExpectationsWereMet())
}
