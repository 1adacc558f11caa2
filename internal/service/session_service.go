package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/sma-audit-api/internal/models"
	appErrors "github.com/noah-isme/sma-audit-api/pkg/errors"
	"github.com/noah-isme/sma-audit-api/pkg/useragent"
)

type sessionRepository interface {
	StartExclusive(ctx context.Context, session *models.Session, reason models.LogoutReason) (int64, error)
	EndUserSessions(ctx context.Context, userID string, reason models.LogoutReason) (int64, error)
	EndSession(ctx context.Context, id string, reason models.LogoutReason) (*models.Session, error)
	FindByID(ctx context.Context, id string) (*models.Session, error)
	CountActive(ctx context.Context) (int, error)
}

// StartSessionInput carries everything needed to open a session.
type StartSessionInput struct {
	UserID       string
	SessionToken string
	IP           string
	UserAgent    string
	LoginMethod  string
}

// SessionService manages session lifecycle and guarantees that a user has
// at most one active session at any instant. The invariant is enforced at
// the storage layer: starting a session ends any prior active ones inside
// the same per-user-serialised transaction.
type SessionService struct {
	repo    sessionRepository
	logger  *zap.Logger
	metrics *MetricsService
}

// NewSessionService constructs a SessionService instance.
func NewSessionService(repo sessionRepository, logger *zap.Logger, metrics *MetricsService) *SessionService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionService{repo: repo, logger: logger, metrics: metrics}
}

// StartSession opens a new active session for the user, atomically ending
// any session that was still active (reason new_login). It returns the new
// session and how many prior sessions were superseded. The user agent is
// classified deterministically; unparseable input degrades to "unknown"
// and never blocks session creation.
func (s *SessionService) StartSession(ctx context.Context, in StartSessionInput) (*models.Session, int64, error) {
	if in.UserID == "" || in.SessionToken == "" {
		return nil, 0, appErrors.Clone(appErrors.ErrValidation, "user id and session token are required")
	}
	if in.LoginMethod == "" {
		in.LoginMethod = models.LoginMethodWeb
	}

	device := useragent.Classify(in.UserAgent)

	session := &models.Session{
		UserID:       in.UserID,
		SessionToken: in.SessionToken,
		IPAddress:    in.IP,
		UserAgent:    in.UserAgent,
		DeviceType:   device.DeviceType,
		Browser:      device.Browser,
		Platform:     device.Platform,
		LoginMethod:  in.LoginMethod,
		LoginAt:      time.Now().UTC(),
	}

	superseded, err := s.repo.StartExclusive(ctx, session, models.LogoutNewLogin)
	if err != nil {
		return nil, 0, appErrors.Wrap(err, appErrors.ErrPersistence.Code, appErrors.ErrPersistence.Status, "failed to start session")
	}

	s.metrics.ObserveSessionStarted(superseded)
	s.logger.Info("session started",
		zap.String("session_id", session.ID),
		zap.String("user_id", in.UserID),
		zap.String("device_type", string(device.DeviceType)),
		zap.Int64("superseded", superseded),
	)

	return session, superseded, nil
}

// EndUserSessions marks every currently-active session of a user as ended.
// No active session is not an error; the count of ended sessions is returned.
func (s *SessionService) EndUserSessions(ctx context.Context, userID string, reason models.LogoutReason) (int64, error) {
	count, err := s.repo.EndUserSessions(ctx, userID, reason)
	if err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrPersistence.Code, appErrors.ErrPersistence.Status, "failed to end user sessions")
	}
	s.metrics.ObserveSessionEnded(reason, count)
	return count, nil
}

// EndSession ends one specific session. Ending a session that does not
// exist or is already ended fails with NotFound; idempotency is explicit,
// never silent.
func (s *SessionService) EndSession(ctx context.Context, sessionID string, reason models.LogoutReason) (*models.Session, error) {
	session, err := s.repo.EndSession(ctx, sessionID, reason)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "session not found or already ended")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrPersistence.Code, appErrors.ErrPersistence.Status, "failed to end session")
	}
	s.metrics.ObserveSessionEnded(reason, 1)
	s.logger.Info("session ended",
		zap.String("session_id", sessionID),
		zap.String("reason", string(reason)),
	)
	return session, nil
}

// GetSession returns one session by identifier.
func (s *SessionService) GetSession(ctx context.Context, sessionID string) (*models.Session, error) {
	session, err := s.repo.FindByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "session not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load session")
	}
	return session, nil
}

// ActiveSessionCount returns the number of currently-active sessions.
func (s *SessionService) ActiveSessionCount(ctx context.Context) (int, error) {
	count, err := s.repo.CountActive(ctx)
	if err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count active sessions")
	}
	return count, nil
}

// Duration returns the elapsed lifetime of a session.
func (s *SessionService) Duration(session *models.Session) time.Duration {
	return session.Duration(time.Now().UTC())
}
