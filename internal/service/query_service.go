package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/sma-audit-api/internal/models"
	appErrors "github.com/noah-isme/sma-audit-api/pkg/errors"
	"github.com/noah-isme/sma-audit-api/pkg/export"
)

type auditReader interface {
	List(ctx context.Context, filter models.AuditFilter) ([]models.AuditEntry, int, error)
	FindByID(ctx context.Context, id string) (*models.AuditEntry, error)
	CountByEvent(ctx context.Context, from, to *time.Time) ([]models.EventCount, error)
	DistinctActorsPerDay(ctx context.Context, from, to *time.Time) ([]models.ActorActivity, error)
}

type sessionReader interface {
	List(ctx context.Context, filter models.SessionFilter) ([]models.Session, int, error)
	CountActive(ctx context.Context) (int, error)
	CountByDevice(ctx context.Context) ([]models.DeviceCount, error)
	CountByLoginMethod(ctx context.Context) ([]models.LoginMethodCount, error)
}

type summaryCache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
}

// QueryConfig tunes the read side.
type QueryConfig struct {
	CacheTTL    time.Duration
	ExportLimit int
}

// QueryService is the read-only surface over both ledgers. It exposes no
// write path at all; dashboards and exports consume it.
type QueryService struct {
	audits   auditReader
	sessions sessionReader
	cache    summaryCache
	csv      *export.CSVExporter
	pdf      *export.PDFExporter
	logger   *zap.Logger
	config   QueryConfig
}

// NewQueryService constructs a QueryService instance.
func NewQueryService(audits auditReader, sessions sessionReader, cache summaryCache, logger *zap.Logger, cfg QueryConfig) *QueryService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ExportLimit <= 0 {
		cfg.ExportLimit = 5000
	}
	return &QueryService{
		audits:   audits,
		sessions: sessions,
		cache:    cache,
		csv:      export.NewCSVExporter(),
		pdf:      export.NewPDFExporter(),
		logger:   logger,
		config:   cfg,
	}
}

// ListAuditEntries returns filtered, paginated ledger entries.
func (s *QueryService) ListAuditEntries(ctx context.Context, filter models.AuditFilter) ([]models.AuditEntry, *models.Pagination, error) {
	if err := validateDateRange(filter.DateFrom, filter.DateTo); err != nil {
		return nil, nil, err
	}

	entries, total, err := s.audits.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list audit entries")
	}

	return entries, paginationFor(filter.Page, filter.PageSize, total), nil
}

// GetAuditEntry returns one ledger entry by id.
func (s *QueryService) GetAuditEntry(ctx context.Context, id string) (*models.AuditEntry, error) {
	entry, err := s.audits.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "audit entry not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load audit entry")
	}
	return entry, nil
}

// AuditSummary aggregates ledger activity, cached for dashboard use.
func (s *QueryService) AuditSummary(ctx context.Context, from, to *time.Time) (*models.AuditSummary, error) {
	if err := validateDateRange(from, to); err != nil {
		return nil, err
	}

	cacheKey := summaryCacheKey("audit", from, to)
	var cached models.AuditSummary
	if s.cache != nil {
		if err := s.cache.Get(ctx, cacheKey, &cached); err == nil {
			return &cached, nil
		}
	}

	byEvent, err := s.audits.CountByEvent(ctx, from, to)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to aggregate audit events")
	}
	actorsPerDay, err := s.audits.DistinctActorsPerDay(ctx, from, to)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to aggregate actor activity")
	}

	summary := &models.AuditSummary{ByEvent: byEvent, ActorsPerDay: actorsPerDay}
	for _, bucket := range byEvent {
		summary.Total += bucket.Count
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, cacheKey, summary, s.config.CacheTTL); err != nil {
			s.logger.Warn("failed to cache audit summary", zap.Error(err))
		}
	}

	return summary, nil
}

// ListSessions returns filtered, paginated session records.
func (s *QueryService) ListSessions(ctx context.Context, filter models.SessionFilter) ([]models.Session, *models.Pagination, error) {
	if err := validateDateRange(filter.DateFrom, filter.DateTo); err != nil {
		return nil, nil, err
	}

	sessions, total, err := s.sessions.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list sessions")
	}

	return sessions, paginationFor(filter.Page, filter.PageSize, total), nil
}

// SessionSummary aggregates session activity, cached for dashboard use.
func (s *QueryService) SessionSummary(ctx context.Context) (*models.SessionSummary, error) {
	const cacheKey = "summary:sessions"
	var cached models.SessionSummary
	if s.cache != nil {
		if err := s.cache.Get(ctx, cacheKey, &cached); err == nil {
			return &cached, nil
		}
	}

	active, err := s.sessions.CountActive(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count active sessions")
	}
	byDevice, err := s.sessions.CountByDevice(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to aggregate sessions by device")
	}
	byMethod, err := s.sessions.CountByLoginMethod(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to aggregate sessions by login method")
	}

	summary := &models.SessionSummary{ActiveCount: active, ByDevice: byDevice, ByLoginMethod: byMethod}

	if s.cache != nil {
		if err := s.cache.Set(ctx, cacheKey, summary, s.config.CacheTTL); err != nil {
			s.logger.Warn("failed to cache session summary", zap.Error(err))
		}
	}

	return summary, nil
}

// ExportAuditEntries renders filtered ledger entries as CSV or PDF bytes.
func (s *QueryService) ExportAuditEntries(ctx context.Context, filter models.AuditFilter, format string) ([]byte, string, error) {
	if err := validateDateRange(filter.DateFrom, filter.DateTo); err != nil {
		return nil, "", err
	}

	dataset := export.Dataset{
		Headers: []string{"id", "event", "actor", "subject", "ip", "url", "tags", "created_at"},
	}

	filter.Page = 1
	filter.PageSize = 100
	for len(dataset.Rows) < s.config.ExportLimit {
		entries, total, err := s.audits.List(ctx, filter)
		if err != nil {
			return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to collect audit export")
		}
		for _, entry := range entries {
			dataset.Rows = append(dataset.Rows, auditExportRow(entry))
		}
		if len(dataset.Rows) >= total || len(entries) == 0 {
			break
		}
		filter.Page++
	}

	return s.render(dataset, format, "audit trail")
}

// ExportSessions renders filtered session records as CSV or PDF bytes.
func (s *QueryService) ExportSessions(ctx context.Context, filter models.SessionFilter, format string) ([]byte, string, error) {
	if err := validateDateRange(filter.DateFrom, filter.DateTo); err != nil {
		return nil, "", err
	}

	dataset := export.Dataset{
		Headers: []string{"id", "user_id", "ip", "device_type", "browser", "platform", "login_method", "login_at", "logout_at", "logout_reason", "duration", "is_active"},
	}

	now := time.Now().UTC()
	filter.Page = 1
	filter.PageSize = 100
	for len(dataset.Rows) < s.config.ExportLimit {
		sessions, total, err := s.sessions.List(ctx, filter)
		if err != nil {
			return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to collect session export")
		}
		for _, session := range sessions {
			dataset.Rows = append(dataset.Rows, sessionExportRow(session, now))
		}
		if len(dataset.Rows) >= total || len(sessions) == 0 {
			break
		}
		filter.Page++
	}

	return s.render(dataset, format, "sessions")
}

func (s *QueryService) render(dataset export.Dataset, format, title string) ([]byte, string, error) {
	switch strings.ToLower(format) {
	case "csv", "":
		payload, err := s.csv.Render(dataset)
		if err != nil {
			return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render csv export")
		}
		return payload, "text/csv", nil
	case "pdf":
		payload, err := s.pdf.Render(dataset, title)
		if err != nil {
			return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render pdf export")
		}
		return payload, "application/pdf", nil
	default:
		return nil, "", appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unsupported export format %q", format))
	}
}

func auditExportRow(entry models.AuditEntry) map[string]string {
	actor := ""
	if ref := entry.Actor(); ref != nil {
		actor = fmt.Sprintf("%s:%s", ref.Kind, ref.ID)
	}
	subject := ""
	if entry.SubjectType != nil && entry.SubjectID != nil {
		subject = fmt.Sprintf("%s:%s", *entry.SubjectType, *entry.SubjectID)
	}
	return map[string]string{
		"id":         entry.ID,
		"event":      string(entry.Event),
		"actor":      actor,
		"subject":    subject,
		"ip":         entry.IPAddress,
		"url":        entry.URL,
		"tags":       strings.Join(entry.Tags, " "),
		"created_at": entry.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func sessionExportRow(session models.Session, now time.Time) map[string]string {
	logoutAt := ""
	if session.LogoutAt != nil {
		logoutAt = session.LogoutAt.UTC().Format(time.RFC3339)
	}
	reason := ""
	if session.LogoutReason != nil {
		reason = string(*session.LogoutReason)
	}
	return map[string]string{
		"id":            session.ID,
		"user_id":       session.UserID,
		"ip":            session.IPAddress,
		"device_type":   string(session.DeviceType),
		"browser":       session.Browser,
		"platform":      session.Platform,
		"login_method":  session.LoginMethod,
		"login_at":      session.LoginAt.UTC().Format(time.RFC3339),
		"logout_at":     logoutAt,
		"logout_reason": reason,
		"duration":      session.Duration(now).Round(time.Second).String(),
		"is_active":     fmt.Sprintf("%t", session.IsActive),
	}
}

func validateDateRange(from, to *time.Time) error {
	if from != nil && to != nil && from.After(*to) {
		return appErrors.Clone(appErrors.ErrValidation, "date_from must not be after date_to")
	}
	return nil
}

func paginationFor(page, pageSize, total int) *models.Pagination {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}
	return &models.Pagination{Page: page, PageSize: pageSize, TotalCount: total}
}

func summaryCacheKey(scope string, from, to *time.Time) string {
	fromPart, toPart := "-", "-"
	if from != nil {
		fromPart = from.UTC().Format("20060102")
	}
	if to != nil {
		toPart = to.UTC().Format("20060102")
	}
	return fmt.Sprintf("summary:%s:%s:%s", scope, fromPart, toPart)
}
