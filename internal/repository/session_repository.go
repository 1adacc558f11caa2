package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-audit-api/internal/models"
)

// SessionRepository provides database access for session lifecycle rows.
// Sessions are never hard-deleted; ending one only sets the logout fields.
type SessionRepository struct {
	db *sqlx.DB
}

// NewSessionRepository creates a new instance of SessionRepository.
func NewSessionRepository(db *sqlx.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

const sessionColumns = `id, user_id, session_token, ip_address, user_agent, device_type, browser, platform, login_method, login_at, logout_at, logout_reason, is_active`

const endUserSessionsQuery = `UPDATE sessions SET logout_at = $2, logout_reason = $3, is_active = FALSE WHERE user_id = $1 AND is_active = TRUE`

const insertSessionQuery = `INSERT INTO sessions (id, user_id, session_token, ip_address, user_agent, device_type, browser, platform, login_method, login_at, logout_at, logout_reason, is_active) VALUES (:id, :user_id, :session_token, :ip_address, :user_agent, :device_type, :browser, :platform, :login_method, :login_at, :logout_at, :logout_reason, :is_active)`

// StartExclusive atomically ends every active session of the new session's
// user and inserts the new one. Racing logins for the same user are
// serialised with a per-user advisory lock (pg_advisory_xact_lock over a
// hash of the user id) held for the transaction, so whichever transaction
// commits last leaves exactly one active session. Returns the number of
// sessions superseded.
func (r *SessionRepository) StartExclusive(ctx context.Context, session *models.Session, reason models.LogoutReason) (int64, error) {
	if session.ID == "" {
		session.ID = uuid.NewString()
	}
	if session.LoginAt.IsZero() {
		session.LoginAt = time.Now().UTC()
	}
	session.IsActive = true

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin session transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, session.UserID); err != nil {
		return 0, fmt.Errorf("acquire per-user session lock: %w", err)
	}

	res, err := tx.ExecContext(ctx, endUserSessionsQuery, session.UserID, session.LoginAt, reason)
	if err != nil {
		return 0, fmt.Errorf("supersede active sessions: %w", err)
	}
	ended, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("count superseded sessions: %w", err)
	}

	if _, err := tx.NamedExecContext(ctx, insertSessionQuery, session); err != nil {
		return 0, fmt.Errorf("insert session: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit session transaction: %w", err)
	}
	return ended, nil
}

// EndUserSessions marks every currently-active session of a user as ended
// via one conditional update. Zero active sessions is not an error.
func (r *SessionRepository) EndUserSessions(ctx context.Context, userID string, reason models.LogoutReason) (int64, error) {
	res, err := r.db.ExecContext(ctx, endUserSessionsQuery, userID, time.Now().UTC(), reason)
	if err != nil {
		return 0, fmt.Errorf("end user sessions: %w", err)
	}
	count, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("count ended sessions: %w", err)
	}
	return count, nil
}

// EndSession ends one specific session. The update is conditional on the
// session still being active, so a missing or already-ended session yields
// sql.ErrNoRows rather than a silent no-op.
func (r *SessionRepository) EndSession(ctx context.Context, id string, reason models.LogoutReason) (*models.Session, error) {
	query := fmt.Sprintf(`UPDATE sessions SET logout_at = $2, logout_reason = $3, is_active = FALSE WHERE id = $1 AND is_active = TRUE RETURNING %s`, sessionColumns)
	var session models.Session
	if err := r.db.GetContext(ctx, &session, query, id, time.Now().UTC(), reason); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("end session: %w", err)
	}
	return &session, nil
}

// FindByID returns a session by identifier.
func (r *SessionRepository) FindByID(ctx context.Context, id string) (*models.Session, error) {
	query := fmt.Sprintf(`SELECT %s FROM sessions WHERE id = $1 LIMIT 1`, sessionColumns)
	var session models.Session
	if err := r.db.GetContext(ctx, &session, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find session by id: %w", err)
	}
	return &session, nil
}

// List returns sessions based on filters with total count.
func (r *SessionRepository) List(ctx context.Context, filter models.SessionFilter) ([]models.Session, int, error) {
	baseQuery := `FROM sessions WHERE 1=1`
	var conditions []string
	var args []interface{}

	if filter.UserID != "" {
		conditions = append(conditions, fmt.Sprintf("user_id = $%d", len(args)+1))
		args = append(args, filter.UserID)
	}
	if filter.Active != nil {
		conditions = append(conditions, fmt.Sprintf("is_active = $%d", len(args)+1))
		args = append(args, *filter.Active)
	}
	if filter.DeviceType != "" {
		conditions = append(conditions, fmt.Sprintf("device_type = $%d", len(args)+1))
		args = append(args, filter.DeviceType)
	}
	if filter.LoginMethod != "" {
		conditions = append(conditions, fmt.Sprintf("login_method = $%d", len(args)+1))
		args = append(args, filter.LoginMethod)
	}
	if filter.Search != "" {
		conditions = append(conditions, fmt.Sprintf("(ip_address LIKE $%d OR LOWER(user_agent) LIKE $%d)", len(args)+1, len(args)+1))
		args = append(args, "%"+strings.ToLower(filter.Search)+"%")
	}
	if filter.DateFrom != nil {
		conditions = append(conditions, fmt.Sprintf("login_at >= $%d", len(args)+1))
		args = append(args, *filter.DateFrom)
	}
	if filter.DateTo != nil {
		conditions = append(conditions, fmt.Sprintf("login_at <= $%d", len(args)+1))
		args = append(args, *filter.DateTo)
	}

	if len(conditions) > 0 {
		baseQuery += " AND " + strings.Join(conditions, " AND ")
	}

	sortOrder := strings.ToUpper(filter.SortOrder)
	if sortOrder != "ASC" && sortOrder != "DESC" {
		sortOrder = "DESC"
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	listQuery := fmt.Sprintf("SELECT %s %s ORDER BY login_at %s LIMIT %d OFFSET %d", sessionColumns, baseQuery, sortOrder, pageSize, offset)

	var sessions []models.Session
	if err := r.db.SelectContext(ctx, &sessions, listQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("list sessions: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", baseQuery)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count sessions: %w", err)
	}

	return sessions, total, nil
}

// CountActive returns the number of currently-active sessions.
func (r *SessionRepository) CountActive(ctx context.Context) (int, error) {
	const query = `SELECT COUNT(*) FROM sessions WHERE is_active = TRUE`
	var count int
	if err := r.db.GetContext(ctx, &count, query); err != nil {
		return 0, fmt.Errorf("count active sessions: %w", err)
	}
	return count, nil
}

// CountByDevice aggregates session counts per device type.
func (r *SessionRepository) CountByDevice(ctx context.Context) ([]models.DeviceCount, error) {
	const query = `SELECT device_type, COUNT(*) AS count FROM sessions GROUP BY device_type ORDER BY count DESC`
	var counts []models.DeviceCount
	if err := r.db.SelectContext(ctx, &counts, query); err != nil {
		return nil, fmt.Errorf("count sessions by device: %w", err)
	}
	return counts, nil
}

// CountByLoginMethod aggregates session counts per login method.
func (r *SessionRepository) CountByLoginMethod(ctx context.Context) ([]models.LoginMethodCount, error) {
	const query = `SELECT login_method, COUNT(*) AS count FROM sessions GROUP BY login_method ORDER BY count DESC`
	var counts []models.LoginMethodCount
	if err := r.db.SelectContext(ctx, &counts, query); err != nil {
		return nil, fmt.Errorf("count sessions by login method: %w", err)
	}
	return counts, nil
}
