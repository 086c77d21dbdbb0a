package store

import (
	"context"
	"fmt"
	"time"
)

// AppendAudit appends an entry to the append-only audit log. Used both for
// conflict inspection (a prior-state snapshot on every Task mutation) and
// for recording outbox/dispatcher/reconciler outcomes.
func (s *Store) AppendAudit(ctx context.Context, q Querier, e *AuditEntry) error {
	if e.EntryID == "" {
		e.EntryID = newID()
	}

	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	const insert = `
		INSERT INTO audit_log (entry_id, direction, subject, subject_id, status, message, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := q.ExecContext(ctx, insert, e.EntryID, e.Direction, e.Subject, e.SubjectID, e.Status, e.Message, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("store: append audit: %w", err)
	}

	return nil
}

// ListAuditBySubject returns the audit trail for one subject, oldest first.
func (s *Store) ListAuditBySubject(ctx context.Context, q Querier, subject, subjectID string) ([]*AuditEntry, error) {
	const query = `
		SELECT entry_id, direction, subject, subject_id, status, message, created_at
		FROM audit_log WHERE subject = $1 AND subject_id = $2
		ORDER BY created_at ASC`

	rows, err := q.QueryContext(ctx, query, subject, subjectID)
	if err != nil {
		return nil, fmt.Errorf("store: list audit by subject: %w", err)
	}
	defer rows.Close()

	var out []*AuditEntry

	for rows.Next() {
		var e AuditEntry
		if err := rows.Scan(&e.EntryID, &e.Direction, &e.Subject, &e.SubjectID, &e.Status, &e.Message, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("store: scan audit entry: %w", err)
		}

		out = append(out, &e)
	}

	return out, rows.Err()
}
