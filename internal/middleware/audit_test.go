package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-audit-api/internal/models"
	"github.com/noah-isme/sma-audit-api/internal/service"
)

type capturingAuditStore struct {
	entries   []*models.AuditEntry
	insertErr error
}

func (s *capturingAuditStore) Insert(ctx context.Context, entry *models.AuditEntry) error {
	if s.insertErr != nil {
		return s.insertErr
	}
	s.entries = append(s.entries, entry)
	return nil
}

type capturingEscalator struct {
	escalated []service.RecordInput
}

func (e *capturingEscalator) Escalate(in service.RecordInput) {
	e.escalated = append(e.escalated, in)
}

func runAudited(t *testing.T, store *capturingAuditStore, escalator *capturingEscalator, metrics *service.MetricsService, status int) *httptest.ResponseRecorder {
	t.Helper()
	gin.SetMode(gin.TestMode)
	recorder := service.NewRecorderService(store, zap.NewNop(), metrics)

	r := gin.New()
	r.GET("/things/export",
		Audit(recorder, escalator, models.EventExported, "", "things", "export"),
		func(c *gin.Context) {
			c.JSON(status, gin.H{"ok": status < 400})
		},
	)

	req := httptest.NewRequest(http.MethodGet, "/things/export", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestAuditRecordsSuccessfulRequest(t *testing.T) {
	store := &capturingAuditStore{}
	rec := runAudited(t, store, &capturingEscalator{}, nil, http.StatusOK)

	assert.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, store.entries, 1)
	assert.Equal(t, models.EventExported, store.entries[0].Event)
	assert.Contains(t, []string(store.entries[0].Tags), "export")
}

func TestAuditSkipsFailedRequest(t *testing.T) {
	store := &capturingAuditStore{}
	rec := runAudited(t, store, &capturingEscalator{}, nil, http.StatusForbidden)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Empty(t, store.entries)
}

func TestAuditWriteFailureIsEscalated(t *testing.T) {
	store := &capturingAuditStore{insertErr: errors.New("ledger unavailable")}
	escalator := &capturingEscalator{}
	metrics := service.NewMetricsService()

	rec := runAudited(t, store, escalator, metrics, http.StatusOK)

	// The response is untouched, but the failed write is counted and handed
	// to the escalator rather than discarded.
	assert.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, escalator.escalated, 1)
	assert.Equal(t, models.EventExported, escalator.escalated[0].Event)
	assert.Equal(t, uint64(1), metrics.Snapshot().AuditWriteFailures)
}
