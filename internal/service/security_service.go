package service

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/sma-audit-api/internal/models"
	appErrors "github.com/noah-isme/sma-audit-api/pkg/errors"
)

type securityUserRepository interface {
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	FindByID(ctx context.Context, id string) (*models.User, error)
	UpdateLastLogin(ctx context.Context, id string, ts time.Time) error
}

type sessionRegistry interface {
	StartSession(ctx context.Context, in StartSessionInput) (*models.Session, int64, error)
	EndSession(ctx context.Context, sessionID string, reason models.LogoutReason) (*models.Session, error)
}

type activityRecorder interface {
	Record(ctx context.Context, in RecordInput) (*models.AuditEntry, error)
}

// SecurityConfig defines configuration for the login protocol.
type SecurityConfig struct {
	AccessTokenSecret string
	AccessTokenExpiry time.Duration
	Issuer            string
	Audience          []string
}

// SecurityService orchestrates login success and failure by composing the
// session registry and the activity recorder. Session supersession and
// creation happen in one storage transaction; the audit write runs after
// that transaction commits and its failure is escalated, never propagated
// to the already-logged-in caller.
type SecurityService struct {
	users     securityUserRepository
	sessions  sessionRegistry
	recorder  activityRecorder
	escalator Escalator
	validator *validator.Validate
	logger    *zap.Logger
	metrics   *MetricsService
	config    SecurityConfig
	signToken func(user *models.User, sessionID string) (string, time.Time, error)
}

// NewSecurityService constructs a SecurityService instance.
func NewSecurityService(users securityUserRepository, sessions sessionRegistry, recorder activityRecorder, escalator Escalator, validate *validator.Validate, logger *zap.Logger, metrics *MetricsService, config SecurityConfig) *SecurityService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	s := &SecurityService{
		users:     users,
		sessions:  sessions,
		recorder:  recorder,
		escalator: escalator,
		validator: validate,
		logger:    logger,
		metrics:   metrics,
		config:    config,
	}
	s.signToken = s.generateAccessToken
	return s
}

// Login authenticates a user. On success any prior active session is
// superseded and exactly one new active session exists afterwards,
// regardless of concurrent logins for the same user. Credential failures
// are answered generically and never reveal whether the email exists.
func (s *SecurityService) Login(ctx context.Context, req models.LoginRequest) (*models.LoginResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid login payload")
	}

	reqCtx := models.RequestContext{URL: req.URL, IPAddress: req.IP, UserAgent: req.UserAgent}

	user, err := s.users.FindByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.recordLoginFailure(ctx, req.Email, reqCtx)
			return nil, appErrors.Clone(appErrors.ErrInvalidCredentials, "invalid email or password")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to fetch user")
	}

	if !user.Active || bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)) != nil {
		s.recordLoginFailure(ctx, req.Email, reqCtx)
		return nil, appErrors.Clone(appErrors.ErrInvalidCredentials, "invalid email or password")
	}

	sessionToken, err := generateSessionToken()
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create session token")
	}

	session, superseded, err := s.sessions.StartSession(ctx, StartSessionInput{
		UserID:       user.ID,
		SessionToken: sessionToken,
		IP:           req.IP,
		UserAgent:    req.UserAgent,
		LoginMethod:  models.LoginMethodWeb,
	})
	if err != nil {
		return nil, err
	}

	accessToken, issuedAt, err := s.signToken(user, session.ID)
	if err != nil {
		// The caller never receives a token for this session; end it so a
		// failed login does not leave an active session behind.
		if _, endErr := s.sessions.EndSession(ctx, session.ID, models.LogoutTokenFailure); endErr != nil {
			s.logger.Error("failed to end session after token signing failure",
				zap.Error(endErr),
				zap.String("session_id", session.ID),
			)
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create access token")
	}

	if err := s.users.UpdateLastLogin(ctx, user.ID, time.Now().UTC()); err != nil {
		s.logger.Warn("failed to update last login", zap.Error(err), zap.String("user_id", user.ID))
	}

	// The session transaction is committed; from here the audit write is
	// best-effort and must not undo the login.
	s.recordBestEffort(ctx, RecordInput{
		Actor:   models.UserActor(user.ID),
		Event:   models.EventLoginSuccess,
		Subject: &models.SubjectRef{Type: "user", ID: user.ID},
		NewValues: map[string]interface{}{
			"login_method": session.LoginMethod,
			"session_id":   session.ID,
			"ip":           req.IP,
			"user_agent":   req.UserAgent,
			"superseded":   superseded,
		},
		Context: reqCtx,
		Tags:    []string{"authentication", "login", "web"},
	})

	return &models.LoginResponse{
		AccessToken: accessToken,
		ExpiresIn:   int64(s.config.AccessTokenExpiry.Seconds()),
		SessionID:   session.ID,
		IssuedAt:    issuedAt,
		User: models.UserInfo{
			ID:       user.ID,
			Email:    user.Email,
			FullName: user.FullName,
			Role:     user.Role,
		},
	}, nil
}

// Logout ends the caller's session and records the event. Ending a session
// that is already ended yields NotFound.
func (s *SecurityService) Logout(ctx context.Context, claims *models.JWTClaims, reqCtx models.RequestContext) error {
	if claims == nil || claims.SessionID == "" {
		return appErrors.Clone(appErrors.ErrUnauthorized, "no session bound to token")
	}

	session, err := s.sessions.EndSession(ctx, claims.SessionID, models.LogoutUser)
	if err != nil {
		return err
	}

	s.recordBestEffort(ctx, RecordInput{
		Actor:   models.UserActor(claims.UserID),
		Event:   models.EventLogout,
		Subject: &models.SubjectRef{Type: "session", ID: session.ID},
		NewValues: map[string]interface{}{
			"logout_reason": string(models.LogoutUser),
		},
		Context: reqCtx,
		Tags:    []string{"authentication", "logout"},
	})

	return nil
}

// TerminateSession ends a specific session on behalf of an administrator.
func (s *SecurityService) TerminateSession(ctx context.Context, actor *models.JWTClaims, sessionID string, reqCtx models.RequestContext) (*models.Session, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}

	session, err := s.sessions.EndSession(ctx, sessionID, models.LogoutAdminTerminate)
	if err != nil {
		return nil, err
	}

	s.recordBestEffort(ctx, RecordInput{
		Actor:   models.UserActor(actor.UserID),
		Event:   models.EventSessionTerminated,
		Subject: &models.SubjectRef{Type: "session", ID: session.ID},
		NewValues: map[string]interface{}{
			"user_id":       session.UserID,
			"logout_reason": string(models.LogoutAdminTerminate),
		},
		Context: reqCtx,
		Tags:    []string{"security", "session"},
	})

	return session, nil
}

// ValidateToken parses and validates an access token returning the claims.
func (s *SecurityService) ValidateToken(tokenString string) (*models.JWTClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &models.JWTClaims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(s.config.AccessTokenSecret), nil
	})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrUnauthorized.Code, appErrors.ErrUnauthorized.Status, "invalid token")
	}

	claims, ok := token.Claims.(*models.JWTClaims)
	if !ok || !token.Valid {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid token claims")
	}

	return claims, nil
}

func (s *SecurityService) recordLoginFailure(ctx context.Context, attemptedEmail string, reqCtx models.RequestContext) {
	s.recordBestEffort(ctx, RecordInput{
		Actor: nil,
		Event: models.EventLoginFailed,
		NewValues: map[string]interface{}{
			"email": attemptedEmail,
		},
		Context: reqCtx,
		Tags:    []string{"authentication", "security", "failed_login"},
	})
}

// recordBestEffort appends an entry and, when the write fails, escalates it
// to the operational channel (error log, failure counter, retry queue)
// instead of surfacing the failure to the caller.
func (s *SecurityService) recordBestEffort(ctx context.Context, in RecordInput) {
	if _, err := s.recorder.Record(ctx, in); err != nil {
		s.metrics.ObserveAuditWriteFailure()
		fields := []zap.Field{
			zap.Error(err),
			zap.String("event", string(in.Event)),
			zap.Time("occurred_at", time.Now().UTC()),
		}
		if in.Actor != nil {
			fields = append(fields, zap.String("actor_id", in.Actor.ID))
		}
		s.logger.Error("audit write failed, escalating for reconciliation", fields...)
		if s.escalator != nil {
			s.escalator.Escalate(in)
		}
	}
}

func (s *SecurityService) generateAccessToken(user *models.User, sessionID string) (string, time.Time, error) {
	issuedAt := time.Now().UTC()
	expiresAt := issuedAt.Add(s.config.AccessTokenExpiry)
	claims := &models.JWTClaims{
		UserID:    user.ID,
		Role:      user.Role,
		Email:     user.Email,
		FullName:  user.FullName,
		SessionID: sessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.config.Issuer,
			Subject:   user.ID,
			Audience:  s.config.Audience,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			NotBefore: jwt.NewNumericDate(issuedAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.config.AccessTokenSecret))
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, issuedAt, nil
}

func generateSessionToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
