package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-audit-api/internal/models"
)

func TestInsertAuditEntryFillsDefaults(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewAuditRepository(db)

	mock.ExpectExec("INSERT INTO audit_entries").WillReturnResult(sqlmock.NewResult(1, 1))

	kind := models.ActorUser
	actorID := "u1"
	entry := &models.AuditEntry{
		ActorKind: &kind,
		ActorID:   &actorID,
		Event:     models.EventLoginSuccess,
		NewValues: models.JSONMap{"session_id": "s1"},
		Tags:      []string{"authentication", "login", "web"},
	}
	err := repo.Insert(context.Background(), entry)
	require.NoError(t, err)
	assert.NotEmpty(t, entry.ID)
	assert.False(t, entry.CreatedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListAuditEntriesByEvent(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewAuditRepository(db)

	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "actor_kind", "actor_id", "event", "subject_type", "subject_id", "old_values", "new_values", "changed_fields", "url", "ip_address", "user_agent", "tags", "created_at"}).
		AddRow("a1", "user", "u1", "login_success", "user", "u1", nil, []byte(`{"session_id":"s1"}`), nil, "/api/v1/auth/login", "10.0.0.1", "Mozilla/5.0", []byte(`{authentication,login,web}`), now)
	mock.ExpectQuery("SELECT id, actor_kind, actor_id, event, .+ FROM audit_entries WHERE 1=1 AND event = ").
		WithArgs(models.EventLoginSuccess).
		WillReturnRows(rows)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM audit_entries WHERE 1=1 AND event = $1")).
		WithArgs(models.EventLoginSuccess).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	entries, total, err := repo.List(context.Background(), models.AuditFilter{Event: models.EventLoginSuccess})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, 1, total)
	assert.Equal(t, "s1", entries[0].NewValues["session_id"])
	assert.Contains(t, []string(entries[0].Tags), "authentication")

	actor := entries[0].Actor()
	require.NotNil(t, actor)
	assert.Equal(t, models.ActorUser, actor.Kind)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListAuditEntriesAnonymousActor(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewAuditRepository(db)

	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "actor_kind", "actor_id", "event", "subject_type", "subject_id", "old_values", "new_values", "changed_fields", "url", "ip_address", "user_agent", "tags", "created_at"}).
		AddRow("a2", nil, nil, "login_failed", nil, nil, nil, []byte(`{"email":"ghost@example.com"}`), nil, "/api/v1/auth/login", "10.0.0.2", "curl/8.0", []byte(`{authentication,security,failed_login}`), now)
	mock.ExpectQuery("SELECT id, actor_kind, actor_id, event, .+ FROM audit_entries WHERE 1=1").
		WillReturnRows(rows)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM audit_entries WHERE 1=1")).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	entries, _, err := repo.List(context.Background(), models.AuditFilter{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Nil(t, entries[0].Actor())
	assert.Equal(t, "ghost@example.com", entries[0].NewValues["email"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCountByEvent(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewAuditRepository(db)

	rows := sqlmock.NewRows([]string{"event", "count"}).
		AddRow("login_success", 10).
		AddRow("login_failed", 4)
	mock.ExpectQuery("SELECT event, COUNT\\(\\*\\) AS count FROM audit_entries").
		WillReturnRows(rows)

	counts, err := repo.CountByEvent(context.Background(), nil, nil)
	require.NoError(t, err)
	require.Len(t, counts, 2)
	assert.Equal(t, models.EventLoginSuccess, counts[0].Event)
	assert.Equal(t, 10, counts[0].Count)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDistinctActorsPerDay(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewAuditRepository(db)

	day := time.Date(2026, 8, 27, 0, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{"day", "actors"}).AddRow(day, 7)
	mock.ExpectQuery("SELECT DATE_TRUNC\\('day', created_at\\) AS day, COUNT\\(DISTINCT actor_id\\) AS actors FROM audit_entries").
		WillReturnRows(rows)

	activity, err := repo.DistinctActorsPerDay(context.Background(), nil, nil)
	require.NoError(t, err)
	require.Len(t, activity, 1)
	assert.Equal(t, 7, activity[0].Actors)
	assert.NoError(t, mock.ExpectationsWereMet())
}
