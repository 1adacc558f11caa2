package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/noah-isme/sma-audit-api/internal/models"
	appErrors "github.com/noah-isme/sma-audit-api/pkg/errors"
)

type auditWriter interface {
	Insert(ctx context.Context, entry *models.AuditEntry) error
}

// Escalator receives audit writes that failed on a best-effort path so they
// can be replayed outside the request.
type Escalator interface {
	Escalate(in RecordInput)
}

// RecordInput describes one event to append to the ledger.
type RecordInput struct {
	Actor     *models.ActorRef
	Event     models.AuditEvent
	Subject   *models.SubjectRef
	OldValues map[string]interface{}
	NewValues map[string]interface{}
	Context   models.RequestContext
	Tags      []string
}

// RecorderService is the append-only write path for the activity ledger.
// It persists synchronously, exactly once, before returning; persistence
// failures are propagated to the caller, never swallowed. The service
// exposes no update or delete operation by construction.
type RecorderService struct {
	repo    auditWriter
	logger  *zap.Logger
	metrics *MetricsService
}

// NewRecorderService constructs a RecorderService instance.
func NewRecorderService(repo auditWriter, logger *zap.Logger, metrics *MetricsService) *RecorderService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RecorderService{repo: repo, logger: logger, metrics: metrics}
}

// Record appends one entry to the ledger. The actor may be nil for
// system-initiated or anonymous events; changed fields are derived here
// from the snapshots, independent of any persistence-layer change tracking.
func (s *RecorderService) Record(ctx context.Context, in RecordInput) (*models.AuditEntry, error) {
	if in.Event == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "audit event is required")
	}

	entry := &models.AuditEntry{
		Event:         in.Event,
		OldValues:     in.OldValues,
		NewValues:     in.NewValues,
		ChangedFields: models.DiffSnapshots(in.OldValues, in.NewValues),
		URL:           in.Context.URL,
		IPAddress:     in.Context.IPAddress,
		UserAgent:     in.Context.UserAgent,
		Tags:          in.Tags,
	}
	if in.Actor != nil {
		entry.ActorKind = &in.Actor.Kind
		entry.ActorID = &in.Actor.ID
	}
	if in.Subject != nil {
		entry.SubjectType = &in.Subject.Type
		entry.SubjectID = &in.Subject.ID
	}

	if err := s.repo.Insert(ctx, entry); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrPersistence.Code, appErrors.ErrPersistence.Status, "failed to persist audit entry")
	}

	s.metrics.ObserveAuditEntry(in.Event)
	s.logger.Debug("audit entry recorded",
		zap.String("entry_id", entry.ID),
		zap.String("event", string(in.Event)),
	)

	return entry, nil
}

// RecordBestEffort appends an entry without surfacing persistence failures
// to the caller. A failed write is counted, logged at error level and handed
// to the escalator for replay; it is never dropped silently.
func (s *RecorderService) RecordBestEffort(ctx context.Context, in RecordInput, escalator Escalator) {
	if _, err := s.Record(ctx, in); err != nil {
		s.metrics.ObserveAuditWriteFailure()
		fields := []zap.Field{
			zap.Error(err),
			zap.String("event", string(in.Event)),
		}
		if in.Actor != nil {
			fields = append(fields, zap.String("actor_id", in.Actor.ID))
		}
		s.logger.Error("audit write failed, escalating for reconciliation", fields...)
		if escalator != nil {
			escalator.Escalate(in)
		}
	}
}
