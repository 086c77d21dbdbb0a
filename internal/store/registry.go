package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// RegisterTable upserts a SheetTableRegistryEntry. If entry.IsDefault is set,
// any previously-default table for the same app is cleared first so the
// "at most one default" invariant holds.
func (s *Store) RegisterTable(ctx context.Context, q Querier, entry *SheetTableRegistryEntry) error {
	fieldMap, err := json.Marshal(entry.FieldNameMap)
	if err != nil {
		return fmt.Errorf("store: marshal field name map: %w", err)
	}

	labelCols, err := json.Marshal(entry.LabelColumns)
	if err != nil {
		return fmt.Errorf("store: marshal label columns: %w", err)
	}

	if entry.IsDefault {
		const clear = `UPDATE sheet_tables_registry SET is_default = FALSE WHERE app_token = $1`
		if _, err := q.ExecContext(ctx, clear, entry.AppToken); err != nil {
			return fmt.Errorf("store: clear previous default table: %w", err)
		}
	}

	const upsert = `
		INSERT INTO sheet_tables_registry (app_token, table_id, display_name, field_name_map, label_columns, is_default)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (app_token, table_id) DO UPDATE SET
			display_name = EXCLUDED.display_name,
			field_name_map = EXCLUDED.field_name_map,
			label_columns = EXCLUDED.label_columns,
			is_default = EXCLUDED.is_default`

	_, err = q.ExecContext(ctx, upsert, entry.AppToken, entry.TableID, entry.DisplayName, fieldMap, labelCols, entry.IsDefault)
	if err != nil {
		return fmt.Errorf("store: register table: %w", err)
	}

	return nil
}

// FindTable looks up a registered table by its reference.
func (s *Store) FindTable(ctx context.Context, q Querier, ref SheetTableRef) (*SheetTableRegistryEntry, error) {
	const query = `
		SELECT app_token, table_id, display_name, field_name_map, label_columns, is_default
		FROM sheet_tables_registry WHERE app_token = $1 AND table_id = $2`

	return scanRegistryEntry(q.QueryRowContext(ctx, query, ref.AppToken, ref.TableID))
}

// FindDefaultTable returns the default table for an app, if one is registered.
func (s *Store) FindDefaultTable(ctx context.Context, q Querier, appToken string) (*SheetTableRegistryEntry, error) {
	const query = `
		SELECT app_token, table_id, display_name, field_name_map, label_columns, is_default
		FROM sheet_tables_registry WHERE app_token = $1 AND is_default = TRUE`

	return scanRegistryEntry(q.QueryRowContext(ctx, query, appToken))
}

func scanRegistryEntry(row *sql.Row) (*SheetTableRegistryEntry, error) {
	var (
		e                   SheetTableRegistryEntry
		fieldMap, labelCols []byte
	)

	if err := row.Scan(&e.AppToken, &e.TableID, &e.DisplayName, &fieldMap, &labelCols, &e.IsDefault); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}

		return nil, fmt.Errorf("store: scan registry entry: %w", err)
	}

	if len(fieldMap) > 0 {
		if err := json.Unmarshal(fieldMap, &e.FieldNameMap); err != nil {
			return nil, fmt.Errorf("store: unmarshal field name map: %w", err)
		}
	}

	if len(labelCols) > 0 {
		if err := json.Unmarshal(labelCols, &e.LabelColumns); err != nil {
			return nil, fmt.Errorf("store: unmarshal label columns: %w", err)
		}
	}

	return &e, nil
}
