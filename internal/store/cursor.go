package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// GetCursor returns the current watermark for a source ("forge" or "sheet").
// A source with no cursor yet returns an empty SyncCursor, not an error —
// the Reconciler's first tick for a fresh source has nothing to compare
// against.
func (s *Store) GetCursor(ctx context.Context, q Querier, source string) (SyncCursor, error) {
	const query = `SELECT source, value FROM sync_cursor WHERE source = $1`

	var c SyncCursor

	err := q.QueryRowContext(ctx, query, source).Scan(&c.Source, &c.Value)
	if errors.Is(err, sql.ErrNoRows) {
		return SyncCursor{Source: source, Value: ""}, nil
	}

	if err != nil {
		return SyncCursor{}, fmt.Errorf("store: get cursor: %w", err)
	}

	return c, nil
}

// SetCursor advances the watermark for a source. Per P7, callers must only
// ever advance to a value that is monotonically >= the current one; the
// Reconciler enforces this by construction (it always takes the max
// observed updatedAt).
func (s *Store) SetCursor(ctx context.Context, q Querier, source, value string) error {
	const upsert = `
		INSERT INTO sync_cursor (source, value) VALUES ($1, $2)
		ON CONFLICT (source) DO UPDATE SET value = EXCLUDED.value`

	if _, err := q.ExecContext(ctx, upsert, source, value); err != nil {
		return fmt.Errorf("store: set cursor: %w", err)
	}

	return nil
}
