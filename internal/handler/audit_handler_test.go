package handler

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-audit-api/internal/models"
	"github.com/noah-isme/sma-audit-api/internal/service"
)

type fakeAuditReader struct {
	entries    []models.AuditEntry
	lastFilter models.AuditFilter
}

func (f *fakeAuditReader) List(ctx context.Context, filter models.AuditFilter) ([]models.AuditEntry, int, error) {
	f.lastFilter = filter
	return f.entries, len(f.entries), nil
}

func (f *fakeAuditReader) FindByID(ctx context.Context, id string) (*models.AuditEntry, error) {
	for i := range f.entries {
		if f.entries[i].ID == id {
			return &f.entries[i], nil
		}
	}
	return nil, sql.ErrNoRows
}

func (f *fakeAuditReader) CountByEvent(ctx context.Context, from, to *time.Time) ([]models.EventCount, error) {
	return []models.EventCount{{Event: models.EventLoginSuccess, Count: len(f.entries)}}, nil
}

func (f *fakeAuditReader) DistinctActorsPerDay(ctx context.Context, from, to *time.Time) ([]models.ActorActivity, error) {
	return nil, nil
}

type fakeSessionReader struct {
	sessions []models.Session
}

func (f *fakeSessionReader) List(ctx context.Context, filter models.SessionFilter) ([]models.Session, int, error) {
	return f.sessions, len(f.sessions), nil
}

func (f *fakeSessionReader) CountActive(ctx context.Context) (int, error) {
	count := 0
	for _, s := range f.sessions {
		if s.IsActive {
			count++
		}
	}
	return count, nil
}

func (f *fakeSessionReader) CountByDevice(ctx context.Context) ([]models.DeviceCount, error) {
	return nil, nil
}

func (f *fakeSessionReader) CountByLoginMethod(ctx context.Context) ([]models.LoginMethodCount, error) {
	return nil, nil
}

func newQueryFixture(audits *fakeAuditReader, sessions *fakeSessionReader) *service.QueryService {
	if audits == nil {
		audits = &fakeAuditReader{}
	}
	if sessions == nil {
		sessions = &fakeSessionReader{}
	}
	return service.NewQueryService(audits, sessions, nil, zap.NewNop(), service.QueryConfig{})
}

func TestAuditHandlerListParsesFilters(t *testing.T) {
	gin.SetMode(gin.TestMode)
	audits := &fakeAuditReader{entries: []models.AuditEntry{{ID: "e1", Event: models.EventLoginSuccess}}}
	handler := NewAuditHandler(newQueryFixture(audits, nil))

	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodGet, "/audit?event=login_success&actorId=u1&tag=authentication&page=2&limit=10", nil)

	handler.List(c)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, models.EventLoginSuccess, audits.lastFilter.Event)
	assert.Equal(t, "u1", audits.lastFilter.ActorID)
	assert.Equal(t, "authentication", audits.lastFilter.Tag)
	assert.Equal(t, 2, audits.lastFilter.Page)
	assert.Equal(t, 10, audits.lastFilter.PageSize)
}

func TestAuditHandlerListRejectsInvertedRange(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := NewAuditHandler(newQueryFixture(nil, nil))

	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodGet, "/audit?dateFrom=2026-03-02&dateTo=2026-03-01", nil)

	handler.List(c)

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestAuditHandlerGetNotFound(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := NewAuditHandler(newQueryFixture(nil, nil))

	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodGet, "/audit/missing", nil)
	c.Params = gin.Params{{Key: "id", Value: "missing"}}

	handler.Get(c)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAuditHandlerSummary(t *testing.T) {
	gin.SetMode(gin.TestMode)
	audits := &fakeAuditReader{entries: []models.AuditEntry{{ID: "e1"}, {ID: "e2"}}}
	handler := NewAuditHandler(newQueryFixture(audits, nil))

	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodGet, "/audit/summary", nil)

	handler.Summary(c)

	require.Equal(t, http.StatusOK, rec.Code)
	var envelope struct {
		Data models.AuditSummary `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	assert.Equal(t, 2, envelope.Data.Total)
}

func TestAuditHandlerExportCSV(t *testing.T) {
	gin.SetMode(gin.TestMode)
	audits := &fakeAuditReader{entries: []models.AuditEntry{{ID: "e1", Event: models.EventLogout, CreatedAt: time.Now().UTC()}}}
	handler := NewAuditHandler(newQueryFixture(audits, nil))

	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodGet, "/audit/export?format=csv", nil)

	handler.Export(c)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "attachment")
	assert.Contains(t, rec.Body.String(), "logout")
}

func TestAuditHandlerExportUnsupportedFormat(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := NewAuditHandler(newQueryFixture(nil, nil))

	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodGet, "/audit/export?format=xlsx", nil)

	handler.Export(c)

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}
