package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// EnqueueOutbox inserts a durable OutboxEvent. Callers enqueue events inside
// the same transaction as the local mutation that requires them, so a crash
// between "commit the business state" and "commit the event" can never
// happen — both commit together or neither does.
func (s *Store) EnqueueOutbox(ctx context.Context, q Querier, kind OutboxEventKind, taskID string, payload []byte) (string, error) {
	eventID := newID()
	now := time.Now().UTC()

	const insert = `
		INSERT INTO outbox (event_id, kind, payload, status, attempts, max_attempts, last_error, not_before, task_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 0, $5, '', $6, $7, $8, $8)`

	_, err := q.ExecContext(ctx, insert, eventID, kind, payload, OutboxPending, DefaultMaxAttempts, now, taskID, now)
	if err != nil {
		return "", fmt.Errorf("store: enqueue outbox event: %w", err)
	}

	return eventID, nil
}

// ClaimOutbox reclaims any event stuck in `processing` longer than
// reclaimThreshold (crash recovery, P5), then claims up to limit pending,
// due events as `processing`, honoring the per-task serialization predicate:
// no two in-flight events may share a TaskID (P1 — per-task in-order effect).
//
// Callers MUST invoke ClaimOutbox with a Querier obtained from a Store
// Transaction — it performs more than one statement and relies on the
// transaction's isolation to make the claim atomic across workers.
func (s *Store) ClaimOutbox(ctx context.Context, q Querier, limit int, now time.Time, reclaimThreshold time.Duration) ([]*OutboxEvent, error) {
	reclaimBefore := now.Add(-reclaimThreshold)

	_, err := q.ExecContext(ctx,
		`UPDATE outbox SET status = $1, updated_at = $2 WHERE status = $3 AND updated_at < $4`,
		OutboxPending, now, OutboxProcessing, reclaimBefore)
	if err != nil {
		return nil, fmt.Errorf("store: reclaim stuck outbox events: %w", err)
	}

	const selectEligible = `
		SELECT event_id, task_id FROM outbox
		WHERE status = $1 AND not_before <= $2
		  AND task_id NOT IN (SELECT task_id FROM outbox WHERE status = $3)
		ORDER BY not_before ASC, created_at ASC
		LIMIT $4
		FOR UPDATE SKIP LOCKED`

	rows, err := q.QueryContext(ctx, selectEligible, OutboxPending, now, OutboxProcessing, limit)
	if err != nil {
		return nil, fmt.Errorf("store: select eligible outbox events: %w", err)
	}

	var ids []string

	// The query only excludes tasks with an event already processing; within
	// this batch, only the first eligible event of each task is claimed.
	batchTasks := make(map[string]bool)

	for rows.Next() {
		var id, taskID string
		if err := rows.Scan(&id, &taskID); err != nil {
			rows.Close()

			return nil, fmt.Errorf("store: scan eligible outbox event: %w", err)
		}

		if batchTasks[taskID] {
			continue
		}

		batchTasks[taskID] = true
		ids = append(ids, id)
	}

	if err := rows.Err(); err != nil {
		rows.Close()

		return nil, fmt.Errorf("store: iterate eligible outbox events: %w", err)
	}

	rows.Close()

	if len(ids) == 0 {
		return nil, nil
	}

	claimed := make([]*OutboxEvent, 0, len(ids))

	for _, id := range ids {
		const claim = `
			UPDATE outbox SET status = $1, updated_at = $2 WHERE event_id = $3
			RETURNING event_id, kind, payload, status, attempts, max_attempts, last_error, not_before, task_id, created_at, updated_at`

		ev, err := scanOutboxEvent(q.QueryRowContext(ctx, claim, OutboxProcessing, now, id))
		if err != nil {
			return nil, fmt.Errorf("store: claim outbox event %s: %w", id, err)
		}

		claimed = append(claimed, ev)
	}

	return claimed, nil
}

// OutboxOutcome is the result of dispatching one claimed OutboxEvent.
type OutboxOutcome struct {
	Sent      bool // true: status -> sent
	Dead      bool // true: status -> dead (permanent failure or attempts exhausted)
	LastError string
	NotBefore time.Time // only meaningful for a transient-failure retry (neither Sent nor Dead)
}

// CompleteOutbox applies the outcome of one dispatch attempt to an event
// that was previously claimed (status=processing).
func (s *Store) CompleteOutbox(ctx context.Context, q Querier, eventID string, outcome OutboxOutcome) error {
	now := time.Now().UTC()

	var (
		newStatus OutboxEventStatus
		notBefore time.Time
		bumpAttempt = 0
	)

	switch {
	case outcome.Sent:
		newStatus = OutboxSent
		notBefore = now
	case outcome.Dead:
		newStatus = OutboxDead
		notBefore = now
	default:
		newStatus = OutboxPending
		notBefore = outcome.NotBefore
		bumpAttempt = 1
	}

	const update = `
		UPDATE outbox SET status = $1, attempts = attempts + $2, last_error = $3, not_before = $4, updated_at = $5
		WHERE event_id = $6 AND status = $7`

	res, err := q.ExecContext(ctx, update, newStatus, bumpAttempt, outcome.LastError, notBefore, now, eventID, OutboxProcessing)
	if err != nil {
		return fmt.Errorf("store: complete outbox event: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: complete outbox event: %w", err)
	}

	if n == 0 {
		return ErrOutboxAlreadyClaimed
	}

	return nil
}

func scanOutboxEvent(row *sql.Row) (*OutboxEvent, error) {
	var ev OutboxEvent

	if err := row.Scan(
		&ev.EventID, &ev.Kind, &ev.Payload, &ev.Status, &ev.Attempts, &ev.MaxAttempts,
		&ev.LastError, &ev.NotBefore, &ev.TaskID, &ev.CreatedAt, &ev.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}

		return nil, err
	}

	return &ev, nil
}
