package reconciler

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/taskforge/sync/internal/mapper"
	"github.com/taskforge/sync/internal/outbox"
	"github.com/taskforge/sync/internal/sheet"
	"github.com/taskforge/sync/internal/store"
)

// sheetStatusFieldName is the internal field name the registry entry's
// FieldNameMap uses for the status column, mirroring internal/mapper's own
// (unexported) fieldStatus convention.
const sheetStatusFieldName = "status"

// TickSheet runs one reconciliation pass over the sheet source (spec.md
// §4.5). Exported so cmd/synctl's demo runner can drive exactly one pull.
func (r *Reconciler) TickSheet(ctx context.Context) error {
	cursor, err := r.store.GetCursor(ctx, r.conn(), cursorSourceSheet)
	if err != nil {
		return fmt.Errorf("reconciler: sheet: %w", err)
	}

	since := parseCursor(cursor.Value)

	entry, err := r.store.FindTable(ctx, r.conn(), r.cfg.SheetTable)
	if err != nil {
		return fmt.Errorf("reconciler: sheet: find table: %w", err)
	}

	records, err := r.sheet.SearchRecords(ctx, sheet.SearchParams{TableID: r.cfg.SheetTable.TableID, Since: since})
	if err != nil {
		return fmt.Errorf("reconciler: sheet: search records: %w", err)
	}

	maxSeen := since

	for _, record := range records {
		view := mapper.SheetRecordView{RecordID: record.RecordID, Fields: record.Fields, UpdatedAt: record.UpdatedAt}

		if err := r.applySheetRecord(ctx, entry, view, since); err != nil {
			r.logger.Error("reconciler: sheet: apply record failed",
				"table", r.cfg.SheetTable.TableID, "record", record.RecordID, "error", err.Error())

			continue
		}

		if record.UpdatedAt.After(maxSeen) {
			maxSeen = record.UpdatedAt
		}
	}

	if maxSeen.After(since) {
		if err := r.store.SetCursor(ctx, r.conn(), cursorSourceSheet, formatCursor(maxSeen)); err != nil {
			return fmt.Errorf("reconciler: sheet: advance cursor: %w", err)
		}
	}

	return nil
}

func (r *Reconciler) applySheetRecord(ctx context.Context, entry *store.SheetTableRegistryEntry, view mapper.SheetRecordView, since time.Time) error {
	ref := store.SheetRecordRef{AppToken: r.cfg.SheetTable.AppToken, TableID: r.cfg.SheetTable.TableID, RecordID: view.RecordID}

	mapping, err := r.store.GetMappingBySheetRef(ctx, r.conn(), ref)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}

	if mapping == nil {
		task, err := mapper.SheetRecordToTask(view, entry, nil)
		if err != nil {
			if errors.Is(err, mapper.ErrUnknownSheetStatus) {
				return r.recordMalformedRemote(ctx, "", sheetStatusDetail(entry, view))
			}

			return err
		}

		task.Source = store.SourceSheetPull
		table := r.cfg.SheetTable
		task.TargetTable = &table

		return r.store.Transaction(ctx, func(tx *sql.Tx) error {
			if err := r.store.UpsertTask(ctx, tx, task); err != nil {
				return err
			}

			return r.store.SetMappingSheetRef(ctx, tx, task.TaskID, ref)
		})
	}

	existing, err := r.store.FindTaskByID(ctx, r.conn(), mapping.TaskID)
	if err != nil {
		return err
	}

	if existing.UpdatedAt.After(view.UpdatedAt) {
		return nil // local wins silently; the local change is already enqueued
	}

	pulled, err := mapper.SheetRecordToTask(view, entry, existing)
	if err != nil {
		if errors.Is(err, mapper.ErrUnknownSheetStatus) {
			return r.recordMalformedRemote(ctx, mapping.TaskID, sheetStatusDetail(entry, view))
		}

		return err
	}

	return r.applyRemoteTask(ctx, mapping, existing, pulled, since, r.enqueueForgeUpdateIfMapped)
}

// sheetStatusDetail formats the verbatim status-column value for the audit
// log when it falls outside the lattice.
func sheetStatusDetail(entry *store.SheetTableRegistryEntry, view mapper.SheetRecordView) string {
	col, ok := entry.FieldNameMap[sheetStatusFieldName]
	if !ok {
		return fmt.Sprintf("sheet: record=%s status column not mapped", view.RecordID)
	}

	raw, _ := view.Fields[col].(string)

	return fmt.Sprintf("sheet: record=%s column=%s value=%q", view.RecordID, col, raw)
}

// enqueueForgeUpdateIfMapped enqueues a forgeUpdateIssue event so the forge
// side catches up, if and only if this task already has a bound forge issue.
func (r *Reconciler) enqueueForgeUpdateIfMapped(ctx context.Context, tx *sql.Tx, mapping *store.Mapping) error {
	if mapping.ForgeRef == nil {
		return nil
	}

	payload, err := json.Marshal(outbox.ForgeUpdateIssuePayload{TaskID: mapping.TaskID})
	if err != nil {
		return fmt.Errorf("reconciler: marshal forgeUpdateIssue payload: %w", err)
	}

	_, err = r.store.EnqueueOutbox(ctx, tx, store.KindForgeUpdateIssue, mapping.TaskID, payload)

	return err
}
