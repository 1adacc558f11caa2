package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// AuditEvent enumerates the recordable event tags.
type AuditEvent string

const (
	EventLoginSuccess      AuditEvent = "login_success"
	EventLoginFailed       AuditEvent = "login_failed"
	EventLogout            AuditEvent = "logout"
	EventSessionTerminated AuditEvent = "session_terminated"
	EventCreated           AuditEvent = "created"
	EventUpdated           AuditEvent = "updated"
	EventDeleted           AuditEvent = "deleted"
	EventExported          AuditEvent = "exported"
)

// ActorKind distinguishes the principal classes that can cause an event.
type ActorKind string

const (
	ActorUser   ActorKind = "user"
	ActorSystem ActorKind = "system"
)

// ActorRef is a tagged reference to the principal responsible for an event.
// A nil *ActorRef means the event was anonymous (e.g. a failed login).
type ActorRef struct {
	Kind ActorKind `json:"kind"`
	ID   string    `json:"id"`
}

// UserActor builds an ActorRef for a user principal.
func UserActor(id string) *ActorRef {
	return &ActorRef{Kind: ActorUser, ID: id}
}

// SubjectRef identifies the entity an event acted upon.
type SubjectRef struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// RequestContext carries the HTTP request metadata attached to an entry.
type RequestContext struct {
	URL       string `json:"url"`
	IPAddress string `json:"ip"`
	UserAgent string `json:"user_agent"`
}

// FieldChange captures one field-level difference between snapshots.
type FieldChange struct {
	Old interface{} `json:"old"`
	New interface{} `json:"new"`
}

// JSONMap is a key→value snapshot persisted as JSONB.
type JSONMap map[string]interface{}

// Value implements driver.Valuer.
func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

// Scan implements sql.Scanner.
func (m *JSONMap) Scan(src interface{}) error {
	return scanJSON(src, m)
}

// ChangeSet maps field names to their recorded change, persisted as JSONB.
type ChangeSet map[string]FieldChange

// Value implements driver.Valuer.
func (c ChangeSet) Value() (driver.Value, error) {
	if c == nil {
		return nil, nil
	}
	return json.Marshal(c)
}

// Scan implements sql.Scanner.
func (c *ChangeSet) Scan(src interface{}) error {
	return scanJSON(src, c)
}

func scanJSON(src, dest interface{}) error {
	switch v := src.(type) {
	case nil:
		return nil
	case []byte:
		return json.Unmarshal(v, dest)
	case string:
		return json.Unmarshal([]byte(v), dest)
	default:
		return fmt.Errorf("unsupported jsonb source type %T", src)
	}
}

// AuditEntry is one immutable row of the activity ledger. Entries are only
// ever inserted; no component exposes an update or delete path for them.
type AuditEntry struct {
	ID            string         `db:"id" json:"id"`
	ActorKind     *ActorKind     `db:"actor_kind" json:"actor_kind,omitempty"`
	ActorID       *string        `db:"actor_id" json:"actor_id,omitempty"`
	Event         AuditEvent     `db:"event" json:"event"`
	SubjectType   *string        `db:"subject_type" json:"subject_type,omitempty"`
	SubjectID     *string        `db:"subject_id" json:"subject_id,omitempty"`
	OldValues     JSONMap        `db:"old_values" json:"old_values,omitempty"`
	NewValues     JSONMap        `db:"new_values" json:"new_values,omitempty"`
	ChangedFields ChangeSet      `db:"changed_fields" json:"changed_fields,omitempty"`
	URL           string         `db:"url" json:"url"`
	IPAddress     string         `db:"ip_address" json:"ip_address"`
	UserAgent     string         `db:"user_agent" json:"user_agent"`
	Tags          pq.StringArray `db:"tags" json:"tags"`
	CreatedAt     time.Time      `db:"created_at" json:"created_at"`
}

// Actor reconstructs the tagged actor reference, nil when anonymous.
func (e *AuditEntry) Actor() *ActorRef {
	if e.ActorKind == nil || e.ActorID == nil {
		return nil
	}
	return &ActorRef{Kind: *e.ActorKind, ID: *e.ActorID}
}

// AuditFilter captures filtering criteria for listing audit entries.
type AuditFilter struct {
	ActorID     string
	Event       AuditEvent
	SubjectType string
	Tag         string
	Search      string
	DateFrom    *time.Time
	DateTo      *time.Time
	Page        int
	PageSize    int
	SortOrder   string
}

// EventCount is one bucket of the per-event aggregation.
type EventCount struct {
	Event AuditEvent `db:"event" json:"event"`
	Count int        `db:"count" json:"count"`
}

// ActorActivity counts distinct actors for one day.
type ActorActivity struct {
	Day    time.Time `db:"day" json:"day"`
	Actors int       `db:"actors" json:"actors"`
}

// AuditSummary aggregates ledger activity for dashboards.
type AuditSummary struct {
	Total        int             `json:"total"`
	ByEvent      []EventCount    `json:"by_event"`
	ActorsPerDay []ActorActivity `json:"actors_per_day"`
}
