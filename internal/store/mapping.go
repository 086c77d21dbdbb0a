package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// GetMappingByTask returns the Mapping for a Task, or ErrNotFound if the Task
// has no Mapping row yet; it does not create one (EnsureMapping does).
func (s *Store) GetMappingByTask(ctx context.Context, q Querier, taskID string) (*Mapping, error) {
	const query = `
		SELECT mapping_id, task_id, forge_repo, forge_number, sheet_app_token, sheet_table_id, sheet_record_id, sync_status, last_conflict_at, created_at, updated_at
		FROM mappings WHERE task_id = $1`

	row := q.QueryRowContext(ctx, query, taskID)

	m, err := scanMapping(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("store: get mapping by task: %w", err)
	}

	return m, nil
}

// EnsureMapping returns the existing Mapping for a Task or creates an empty
// one (no bindings, SyncStatus=pending).
func (s *Store) EnsureMapping(ctx context.Context, q Querier, taskID string) (*Mapping, error) {
	m, err := s.GetMappingByTask(ctx, q, taskID)
	if err == nil {
		return m, nil
	}

	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	now := time.Now().UTC()
	m = &Mapping{
		MappingID:  newID(),
		TaskID:     taskID,
		SyncStatus: SyncPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	const insert = `
		INSERT INTO mappings (mapping_id, task_id, sync_status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)`

	if _, err := q.ExecContext(ctx, insert, m.MappingID, m.TaskID, m.SyncStatus, m.CreatedAt, m.UpdatedAt); err != nil {
		return nil, fmt.Errorf("store: create mapping: %w", err)
	}

	return m, nil
}

// GetMappingByForgeRef finds the Mapping bound to a given forge issue.
func (s *Store) GetMappingByForgeRef(ctx context.Context, q Querier, ref ForgeIssueRef) (*Mapping, error) {
	const query = `
		SELECT mapping_id, task_id, forge_repo, forge_number, sheet_app_token, sheet_table_id, sheet_record_id, sync_status, last_conflict_at, created_at, updated_at
		FROM mappings WHERE forge_repo = $1 AND forge_number = $2`

	row := q.QueryRowContext(ctx, query, ref.Repo, ref.Number)

	m, err := scanMapping(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("store: get mapping by forge ref: %w", err)
	}

	return m, nil
}

// GetMappingBySheetRef finds the Mapping bound to a given sheet record.
func (s *Store) GetMappingBySheetRef(ctx context.Context, q Querier, ref SheetRecordRef) (*Mapping, error) {
	const query = `
		SELECT mapping_id, task_id, forge_repo, forge_number, sheet_app_token, sheet_table_id, sheet_record_id, sync_status, last_conflict_at, created_at, updated_at
		FROM mappings WHERE sheet_app_token = $1 AND sheet_table_id = $2 AND sheet_record_id = $3`

	row := q.QueryRowContext(ctx, query, ref.AppToken, ref.TableID, ref.RecordID)

	m, err := scanMapping(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("store: get mapping by sheet ref: %w", err)
	}

	return m, nil
}

// SetMappingForgeRef binds a forge reference to a Task's Mapping. The
// reference is immutable once set: calling this again with a different ref
// returns ErrMappingRefImmutable, which makes the Dispatcher's forgeCreateIssue
// handler safe to retry (P2 — at-most-one external creation per binding).
func (s *Store) SetMappingForgeRef(ctx context.Context, q Querier, taskID string, ref ForgeIssueRef) error {
	existing, err := s.GetMappingByForgeRef(ctx, q, ref)
	if err == nil && existing.TaskID != taskID {
		return ErrMappingRefConflict
	}

	m, err := s.EnsureMapping(ctx, q, taskID)
	if err != nil {
		return err
	}

	if m.ForgeRef != nil {
		if *m.ForgeRef == ref {
			return nil // idempotent re-set
		}

		return ErrMappingRefImmutable
	}

	const update = `
		UPDATE mappings SET forge_repo = $1, forge_number = $2, updated_at = $3 WHERE task_id = $4`

	_, err = q.ExecContext(ctx, update, ref.Repo, ref.Number, time.Now().UTC(), taskID)
	if err != nil {
		return fmt.Errorf("store: set mapping forge ref: %w", err)
	}

	return nil
}

// SetMappingSheetRef binds a sheet reference to a Task's Mapping. See
// SetMappingForgeRef for the immutability contract.
func (s *Store) SetMappingSheetRef(ctx context.Context, q Querier, taskID string, ref SheetRecordRef) error {
	existing, err := s.GetMappingBySheetRef(ctx, q, ref)
	if err == nil && existing.TaskID != taskID {
		return ErrMappingRefConflict
	}

	m, err := s.EnsureMapping(ctx, q, taskID)
	if err != nil {
		return err
	}

	if m.SheetRef != nil {
		if *m.SheetRef == ref {
			return nil
		}

		return ErrMappingRefImmutable
	}

	const update = `
		UPDATE mappings SET sheet_app_token = $1, sheet_table_id = $2, sheet_record_id = $3, updated_at = $4 WHERE task_id = $5`

	_, err = q.ExecContext(ctx, update, ref.AppToken, ref.TableID, ref.RecordID, time.Now().UTC(), taskID)
	if err != nil {
		return fmt.Errorf("store: set mapping sheet ref: %w", err)
	}

	return nil
}

// MarkMappingSyncStatus updates a Mapping's sync status (e.g. conflict,
// error, synced).
func (s *Store) MarkMappingSyncStatus(ctx context.Context, q Querier, taskID string, status SyncStatus) error {
	now := time.Now().UTC()

	var lastConflict any
	if status == SyncConflict {
		lastConflict = now
	}

	const update = `
		UPDATE mappings SET sync_status = $1, last_conflict_at = COALESCE($2, last_conflict_at), updated_at = $3 WHERE task_id = $4`

	res, err := q.ExecContext(ctx, update, status, lastConflict, now, taskID)
	if err != nil {
		return fmt.Errorf("store: mark mapping sync status: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: mark mapping sync status: %w", err)
	}

	if n == 0 {
		return ErrNotFound
	}

	return nil
}

func scanMapping(row *sql.Row) (*Mapping, error) {
	var (
		m                             Mapping
		forgeRepo                     sql.NullString
		forgeNumber                   sql.NullInt64
		sheetAppToken, sheetTableID   sql.NullString
		sheetRecordID                 sql.NullString
		lastConflictAt                sql.NullTime
	)

	if err := row.Scan(
		&m.MappingID, &m.TaskID, &forgeRepo, &forgeNumber, &sheetAppToken, &sheetTableID, &sheetRecordID,
		&m.SyncStatus, &lastConflictAt, &m.CreatedAt, &m.UpdatedAt,
	); err != nil {
		return nil, err
	}

	if forgeRepo.Valid {
		m.ForgeRef = &ForgeIssueRef{Repo: forgeRepo.String, Number: int(forgeNumber.Int64)}
	}

	if sheetAppToken.Valid {
		m.SheetRef = &SheetRecordRef{AppToken: sheetAppToken.String, TableID: sheetTableID.String, RecordID: sheetRecordID.String}
	}

	if lastConflictAt.Valid {
		m.LastConflictAt = &lastConflictAt.Time
	}

	return &m, nil
}
