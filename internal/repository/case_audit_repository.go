package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-customs-aforo/pkg/database"
	"github.com/pesio-ai/be-customs-aforo/pkg/errors"
)

// CaseAuditRepository appends and reads immutable case audit entries.
type CaseAuditRepository struct {
	db *database.DB
}

// NewCaseAuditRepository creates a new CaseAuditRepository.
func NewCaseAuditRepository(db *database.DB) *CaseAuditRepository {
	return &CaseAuditRepository{db: db}
}

// append inserts one audit entry. The table has an update/delete-prevention
// trigger so this is the only mutation exposed, and it only runs inside a
// transaction opened by PostgresStore.
func (r *CaseAuditRepository) append(ctx context.Context, q database.Querier, entry *AuditEntry) error {
	query := `
		INSERT INTO case_audit_log
		    (id, ne, updated_at, updated_by, field, old_value, new_value, comment)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING seq
	`

	err := q.QueryRow(ctx, query,
		entry.ID,
		NormalizeNE(entry.NE),
		entry.UpdatedAt,
		entry.UpdatedBy,
		entry.Field,
		nullableJSON(entry.OldValue),
		nullableJSON(entry.NewValue),
		entry.Comment,
	).Scan(&entry.Seq)
	if err != nil {
		return classifyStoreError(err, "failed to append audit entry")
	}
	return nil
}

// ListByNE returns the full audit trail for a case ordered oldest-first.
func (r *CaseAuditRepository) ListByNE(ctx context.Context, ne string) ([]*AuditEntry, error) {
	query := `
		SELECT id, ne, seq, updated_at, updated_by, field, old_value, new_value, comment
		FROM case_audit_log
		WHERE ne = $1
		ORDER BY updated_at ASC, seq ASC
	`

	rows, err := r.db.Query(ctx, query, NormalizeNE(ne))
	if err != nil {
		return nil, classifyStoreError(err, "failed to get audit trail")
	}
	defer rows.Close()

	return r.scanRows(rows)
}

// ── scan helpers ──────────────────────────────────────────────────────────────

func (r *CaseAuditRepository) scanRows(rows pgx.Rows) ([]*AuditEntry, error) {
	entries := make([]*AuditEntry, 0)
	for rows.Next() {
		entry := &AuditEntry{}
		var oldValue, newValue []byte
		err := rows.Scan(
			&entry.ID,
			&entry.NE,
			&entry.Seq,
			&entry.UpdatedAt,
			&entry.UpdatedBy,
			&entry.Field,
			&oldValue,
			&newValue,
			&entry.Comment,
		)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan audit entry")
		}
		entry.OldValue = oldValue
		entry.NewValue = newValue
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, classifyStoreError(err, "failed to read audit trail")
	}
	return entries, nil
}

func nullableJSON(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}
