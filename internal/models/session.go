package models

import "time"

// DeviceType classifies the client device derived from the user agent.
type DeviceType string

const (
	DeviceDesktop DeviceType = "desktop"
	DeviceMobile  DeviceType = "mobile"
	DeviceTablet  DeviceType = "tablet"
	DeviceBot     DeviceType = "bot"
	DeviceUnknown DeviceType = "unknown"
)

// LogoutReason enumerates why a session stopped being active.
type LogoutReason string

const (
	LogoutNewLogin       LogoutReason = "new_login"
	LogoutUser           LogoutReason = "user_logout"
	LogoutAdminTerminate LogoutReason = "admin_terminate"
	LogoutTimeout        LogoutReason = "timeout"
	LogoutTokenFailure   LogoutReason = "token_failure"
)

// LoginMethodWeb is the login method recorded for browser sessions.
const LoginMethodWeb = "web_session"

// Session is one authenticated client lifetime for a user. Rows are never
// hard-deleted; ending a session only sets the logout fields.
type Session struct {
	ID           string        `db:"id" json:"id"`
	UserID       string        `db:"user_id" json:"user_id"`
	SessionToken string        `db:"session_token" json:"-"`
	IPAddress    string        `db:"ip_address" json:"ip_address"`
	UserAgent    string        `db:"user_agent" json:"user_agent"`
	DeviceType   DeviceType    `db:"device_type" json:"device_type"`
	Browser      string        `db:"browser" json:"browser"`
	Platform     string        `db:"platform" json:"platform"`
	LoginMethod  string        `db:"login_method" json:"login_method"`
	LoginAt      time.Time     `db:"login_at" json:"login_at"`
	LogoutAt     *time.Time    `db:"logout_at" json:"logout_at,omitempty"`
	LogoutReason *LogoutReason `db:"logout_reason" json:"logout_reason,omitempty"`
	IsActive     bool          `db:"is_active" json:"is_active"`
}

// Duration returns the elapsed session lifetime, using now for sessions
// that are still active.
func (s *Session) Duration(now time.Time) time.Duration {
	if s.LogoutAt != nil {
		return s.LogoutAt.Sub(s.LoginAt)
	}
	return now.Sub(s.LoginAt)
}

// SessionFilter captures filtering criteria for listing sessions.
type SessionFilter struct {
	UserID      string
	Active      *bool
	DeviceType  DeviceType
	LoginMethod string
	Search      string
	DateFrom    *time.Time
	DateTo      *time.Time
	Page        int
	PageSize    int
	SortOrder   string
}

// DeviceCount is one bucket of the per-device aggregation.
type DeviceCount struct {
	DeviceType DeviceType `db:"device_type" json:"device_type"`
	Count      int        `db:"count" json:"count"`
}

// LoginMethodCount is one bucket of the per-login-method aggregation.
type LoginMethodCount struct {
	LoginMethod string `db:"login_method" json:"login_method"`
	Count       int    `db:"count" json:"count"`
}

// SessionSummary aggregates session activity for dashboards.
type SessionSummary struct {
	ActiveCount   int                `json:"active_count"`
	ByDevice      []DeviceCount      `json:"by_device"`
	ByLoginMethod []LoginMethodCount `json:"by_login_method"`
}
