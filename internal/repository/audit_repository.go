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

// AuditRepository provides database access for the activity ledger. The
// ledger is append-only: this type exposes a single insert and read queries,
// and no update or delete statement for audit_entries exists anywhere in the
// codebase.
type AuditRepository struct {
	db *sqlx.DB
}

// NewAuditRepository creates a new instance of AuditRepository.
func NewAuditRepository(db *sqlx.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

const auditColumns = `id, actor_kind, actor_id, event, subject_type, subject_id, old_values, new_values, changed_fields, url, ip_address, user_agent, tags, created_at`

// Insert appends one entry to the ledger.
func (r *AuditRepository) Insert(ctx context.Context, entry *models.AuditEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO audit_entries (id, actor_kind, actor_id, event, subject_type, subject_id, old_values, new_values, changed_fields, url, ip_address, user_agent, tags, created_at) VALUES (:id, :actor_kind, :actor_id, :event, :subject_type, :subject_id, :old_values, :new_values, :changed_fields, :url, :ip_address, :user_agent, :tags, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, entry); err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

// FindByID returns one entry by identifier.
func (r *AuditRepository) FindByID(ctx context.Context, id string) (*models.AuditEntry, error) {
	query := fmt.Sprintf(`SELECT %s FROM audit_entries WHERE id = $1 LIMIT 1`, auditColumns)
	var entry models.AuditEntry
	if err := r.db.GetContext(ctx, &entry, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find audit entry by id: %w", err)
	}
	return &entry, nil
}

// List returns entries based on filters with total count.
func (r *AuditRepository) List(ctx context.Context, filter models.AuditFilter) ([]models.AuditEntry, int, error) {
	baseQuery := `FROM audit_entries WHERE 1=1`
	var conditions []string
	var args []interface{}

	if filter.ActorID != "" {
		conditions = append(conditions, fmt.Sprintf("actor_id = $%d", len(args)+1))
		args = append(args, filter.ActorID)
	}
	if filter.Event != "" {
		conditions = append(conditions, fmt.Sprintf("event = $%d", len(args)+1))
		args = append(args, filter.Event)
	}
	if filter.SubjectType != "" {
		conditions = append(conditions, fmt.Sprintf("subject_type = $%d", len(args)+1))
		args = append(args, filter.SubjectType)
	}
	if filter.Tag != "" {
		conditions = append(conditions, fmt.Sprintf("$%d = ANY(tags)", len(args)+1))
		args = append(args, filter.Tag)
	}
	if filter.Search != "" {
		conditions = append(conditions, fmt.Sprintf("(ip_address LIKE $%d OR LOWER(url) LIKE $%d)", len(args)+1, len(args)+1))
		args = append(args, "%"+strings.ToLower(filter.Search)+"%")
	}
	if filter.DateFrom != nil {
		conditions = append(conditions, fmt.Sprintf("created_at >= $%d", len(args)+1))
		args = append(args, *filter.DateFrom)
	}
	if filter.DateTo != nil {
		conditions = append(conditions, fmt.Sprintf("created_at <= $%d", len(args)+1))
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

	listQuery := fmt.Sprintf("SELECT %s %s ORDER BY created_at %s LIMIT %d OFFSET %d", auditColumns, baseQuery, sortOrder, pageSize, offset)

	var entries []models.AuditEntry
	if err := r.db.SelectContext(ctx, &entries, listQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("list audit entries: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", baseQuery)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count audit entries: %w", err)
	}

	return entries, total, nil
}

// CountByEvent aggregates entry counts per event within a date range.
func (r *AuditRepository) CountByEvent(ctx context.Context, from, to *time.Time) ([]models.EventCount, error) {
	var builder strings.Builder
	builder.WriteString("SELECT event, COUNT(*) AS count FROM audit_entries WHERE 1=1")
	var args []interface{}
	if from != nil {
		args = append(args, *from)
		builder.WriteString(fmt.Sprintf(" AND created_at >= $%d", len(args)))
	}
	if to != nil {
		args = append(args, *to)
		builder.WriteString(fmt.Sprintf(" AND created_at <= $%d", len(args)))
	}
	builder.WriteString(" GROUP BY event ORDER BY count DESC")

	var counts []models.EventCount
	if err := r.db.SelectContext(ctx, &counts, builder.String(), args...); err != nil {
		return nil, fmt.Errorf("count audit entries by event: %w", err)
	}
	return counts, nil
}

// DistinctActorsPerDay counts distinct acting principals per calendar day.
func (r *AuditRepository) DistinctActorsPerDay(ctx context.Context, from, to *time.Time) ([]models.ActorActivity, error) {
	var builder strings.Builder
	builder.WriteString("SELECT DATE_TRUNC('day', created_at) AS day, COUNT(DISTINCT actor_id) AS actors FROM audit_entries WHERE actor_id IS NOT NULL")
	var args []interface{}
	if from != nil {
		args = append(args, *from)
		builder.WriteString(fmt.Sprintf(" AND created_at >= $%d", len(args)))
	}
	if to != nil {
		args = append(args, *to)
		builder.WriteString(fmt.Sprintf(" AND created_at <= $%d", len(args)))
	}
	builder.WriteString(" GROUP BY day ORDER BY day")

	var activity []models.ActorActivity
	if err := r.db.SelectContext(ctx, &activity, builder.String(), args...); err != nil {
		return nil, fmt.Errorf("count distinct actors per day: %w", err)
	}
	return activity, nil
}
