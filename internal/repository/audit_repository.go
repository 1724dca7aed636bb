package repository

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"

	"github.com/brokerops/be-commissions/internal/platform/database"
	"github.com/brokerops/be-commissions/internal/platform/errors"
)

// AuditRepository appends and reads immutable commission audit entries.
type AuditRepository struct {
	db *database.DB
}

// NewAuditRepository creates a new AuditRepository.
func NewAuditRepository(db *database.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// Append inserts one audit entry. The table has an update/delete-prevention
// trigger so this is the only mutation exposed.
func (r *AuditRepository) Append(ctx context.Context, entry *AuditEntry) error {
	return appendAudit(ctx, r.db, entry)
}

// appendAudit is shared with the repositories that write audit rows inside
// their own transactions.
func appendAudit(ctx context.Context, q querier, entry *AuditEntry) error {
	var metadataJSON []byte
	if entry.Metadata != nil {
		var err error
		metadataJSON, err = json.Marshal(entry.Metadata)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to marshal audit metadata")
		}
	}

	query := `
		INSERT INTO commission_audit_log
		    (commission_id, action, performed_by, status_before, status_after, metadata)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, performed_at
	`

	err := q.QueryRow(ctx, query,
		entry.CommissionID,
		entry.Action,
		entry.PerformedBy,
		entry.StatusBefore,
		entry.StatusAfter,
		metadataJSON,
	).Scan(&entry.ID, &entry.PerformedAt)
	if err != nil {
		return wrapDB(err, "failed to append audit entry")
	}
	return nil
}

// ListByCommission returns the audit trail for a commission, oldest first.
func (r *AuditRepository) ListByCommission(ctx context.Context, commissionID string) ([]*AuditEntry, error) {
	query := `
		SELECT id, commission_id, action, performed_by, performed_at,
		       status_before, status_after, metadata
		FROM commission_audit_log
		WHERE commission_id = $1
		ORDER BY performed_at ASC, id ASC
	`

	rows, err := r.db.Query(ctx, query, commissionID)
	if err != nil {
		return nil, wrapDB(err, "failed to get audit log")
	}
	defer rows.Close()

	return scanAuditRows(rows)
}

func scanAuditRows(rows pgx.Rows) ([]*AuditEntry, error) {
	entries := make([]*AuditEntry, 0)
	for rows.Next() {
		entry, err := scanAuditEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapDB(err, "failed to read audit log")
	}
	return entries, nil
}

func scanAuditEntry(sc rowScanner) (*AuditEntry, error) {
	entry := &AuditEntry{}
	var metadataJSON []byte

	err := sc.Scan(
		&entry.ID,
		&entry.CommissionID,
		&entry.Action,
		&entry.PerformedBy,
		&entry.PerformedAt,
		&entry.StatusBefore,
		&entry.StatusAfter,
		&metadataJSON,
	)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan audit entry")
	}

	if metadataJSON != nil {
		if err := json.Unmarshal(metadataJSON, &entry.Metadata); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to unmarshal audit metadata")
		}
	}

	return entry, nil
}

// wrapDB classifies a database error as unavailable (retryable by the
// caller) or internal.
func wrapDB(err error, message string) error {
	if database.IsTransient(err) {
		return errors.Wrap(err, errors.ErrCodeUnavailable, message)
	}
	return errors.Wrap(err, errors.ErrCodeInternal, message)
}
