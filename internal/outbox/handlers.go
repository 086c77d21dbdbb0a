package outbox

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/taskforge/sync/internal/forge"
	"github.com/taskforge/sync/internal/mapper"
	"github.com/taskforge/sync/internal/refkey"
	"github.com/taskforge/sync/internal/sheet"
	"github.com/taskforge/sync/internal/store"
)

// errInvalidTask marks a handler failure caused by a malformed local
// precondition (e.g. a sheet create with no target table) as permanent: no
// amount of retrying will make a Task acquire a TargetTable on its own.
var errInvalidTask = errors.New("outbox: task is missing a required field for this operation")

// handleForgeCreateIssue implements the forgeCreateIssue handler (spec.md
// §4.4). Idempotency: if the mapping already carries a forge ref, or an
// issue with this task's "[AUTO][task:<id>]" marker is already found on the
// forge, creation is skipped and the mapping is (re-)bound to it — safe
// under at-least-once retry (P2, scenario 5 in spec.md §8).
func (d *Dispatcher) handleForgeCreateIssue(ctx context.Context, ev *store.OutboxEvent) error {
	var payload ForgeCreateIssuePayload
	if err := decodePayload(ev.Payload, &payload); err != nil {
		return err
	}

	task, err := d.store.FindTaskByID(ctx, d.conn(), payload.TaskID)
	if err != nil {
		return fmt.Errorf("outbox: forgeCreateIssue: %w", err)
	}

	mapping, err := d.store.GetMappingByTask(ctx, d.conn(), payload.TaskID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}

	if mapping != nil && mapping.ForgeRef != nil {
		return nil // already bound, nothing to do
	}

	searchTerm := refkey.AutoTitleSearchTerm(payload.TaskID)

	issue, found, err := d.forge.FindIssueByTitleSubstring(ctx, payload.Repo, searchTerm)
	if err != nil {
		return err
	}

	if !found {
		ids, err := d.resolveAssignee(ctx, d.conn(), task)
		if err != nil {
			return err
		}

		req := mapper.TaskToForgeIssue(task, ids)

		issue, err = d.forge.CreateIssue(ctx, payload.Repo, toCreateIssueRequest(req))
		if err != nil {
			d.invalidateAssigneeOnReject(ctx, task, err)

			return err
		}
	}

	return d.store.Transaction(ctx, func(tx *sql.Tx) error {
		return d.store.SetMappingForgeRef(ctx, tx, payload.TaskID, store.ForgeIssueRef{Repo: payload.Repo, Number: issue.Number})
	})
}

// handleForgeUpdateIssue implements the forgeUpdateIssue handler.
func (d *Dispatcher) handleForgeUpdateIssue(ctx context.Context, ev *store.OutboxEvent) error {
	var payload ForgeUpdateIssuePayload
	if err := decodePayload(ev.Payload, &payload); err != nil {
		return err
	}

	task, err := d.store.FindTaskByID(ctx, d.conn(), payload.TaskID)
	if err != nil {
		return fmt.Errorf("outbox: forgeUpdateIssue: %w", err)
	}

	mapping, err := d.store.GetMappingByTask(ctx, d.conn(), payload.TaskID)
	if err != nil {
		return fmt.Errorf("outbox: forgeUpdateIssue: %w", err)
	}

	if mapping.ForgeRef == nil {
		// The create event for this task hasn't been dispatched yet; the
		// per-task serialization predicate (P1) guarantees it runs first, so
		// this is a transient condition that resolves on retry.
		return fmt.Errorf("outbox: forgeUpdateIssue: task %s has no forge binding yet", payload.TaskID)
	}

	ids, err := d.resolveAssignee(ctx, d.conn(), task)
	if err != nil {
		return err
	}

	req := mapper.TaskToForgeIssue(task, ids)

	_, err = d.forge.UpdateIssue(ctx, mapping.ForgeRef.Repo, mapping.ForgeRef.Number, toUpdateIssueRequest(req))
	if err != nil {
		d.invalidateAssigneeOnReject(ctx, task, err)
	}

	return err
}

// handleForgeCloseIssue implements the forgeCloseIssue handler.
func (d *Dispatcher) handleForgeCloseIssue(ctx context.Context, ev *store.OutboxEvent) error {
	var payload ForgeCloseIssuePayload
	if err := decodePayload(ev.Payload, &payload); err != nil {
		return err
	}

	task, err := d.store.FindTaskByID(ctx, d.conn(), payload.TaskID)
	if err != nil {
		return fmt.Errorf("outbox: forgeCloseIssue: %w", err)
	}

	mapping, err := d.store.GetMappingByTask(ctx, d.conn(), payload.TaskID)
	if err != nil {
		return fmt.Errorf("outbox: forgeCloseIssue: %w", err)
	}

	if mapping.ForgeRef == nil {
		return fmt.Errorf("outbox: forgeCloseIssue: task %s has no forge binding yet", payload.TaskID)
	}

	fs := mapper.StatusToForgeState(task.Status)
	state, reason := fs.State, fs.StateReason

	_, err = d.forge.UpdateIssue(ctx, mapping.ForgeRef.Repo, mapping.ForgeRef.Number, forge.UpdateIssueRequest{
		State:       &state,
		StateReason: strPtr(reason),
	})

	return err
}

// handleSheetCreateRecord implements the sheetCreateRecord handler.
// Idempotency mirrors handleForgeCreateIssue: a pre-insert lookup by the
// table's taskId column (when the registry entry carries one) finds an
// already-created row before attempting another insert.
func (d *Dispatcher) handleSheetCreateRecord(ctx context.Context, ev *store.OutboxEvent) error {
	var payload SheetCreateRecordPayload
	if err := decodePayload(ev.Payload, &payload); err != nil {
		return err
	}

	task, err := d.store.FindTaskByID(ctx, d.conn(), payload.TaskID)
	if err != nil {
		return fmt.Errorf("outbox: sheetCreateRecord: %w", err)
	}

	if task.TargetTable == nil {
		return fmt.Errorf("outbox: %w: sheetCreateRecord: task %s has no target table", errInvalidTask, payload.TaskID)
	}

	mapping, err := d.store.GetMappingByTask(ctx, d.conn(), payload.TaskID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}

	if mapping != nil && mapping.SheetRef != nil {
		return nil
	}

	entry, err := d.store.FindTable(ctx, d.conn(), *task.TargetTable)
	if err != nil {
		return fmt.Errorf("outbox: sheetCreateRecord: %w", err)
	}

	var (
		recordID string
		found    bool
	)

	if col, ok := mapper.TaskIDColumn(entry); ok {
		rec, ok2, err := d.sheet.FindRecordByField(ctx, entry.TableID, col, task.TaskID)
		if err != nil {
			return err
		}

		if ok2 {
			recordID = rec.RecordID
			found = true
		}
	}

	if !found {
		ids, err := d.resolveAssignee(ctx, d.conn(), task)
		if err != nil {
			return err
		}

		fields := mapper.TaskToSheetRecord(task, entry, ids)

		rec, err := d.sheet.CreateRecord(ctx, entry.TableID, fields.Fields)
		if err != nil {
			d.invalidateAssigneeOnReject(ctx, task, err)

			return err
		}

		recordID = rec.RecordID
	}

	ref := store.SheetRecordRef{AppToken: entry.AppToken, TableID: entry.TableID, RecordID: recordID}

	return d.store.Transaction(ctx, func(tx *sql.Tx) error {
		return d.store.SetMappingSheetRef(ctx, tx, payload.TaskID, ref)
	})
}

// handleSheetUpdateRecord implements the sheetUpdateRecord handler.
func (d *Dispatcher) handleSheetUpdateRecord(ctx context.Context, ev *store.OutboxEvent) error {
	var payload SheetUpdateRecordPayload
	if err := decodePayload(ev.Payload, &payload); err != nil {
		return err
	}

	task, err := d.store.FindTaskByID(ctx, d.conn(), payload.TaskID)
	if err != nil {
		return fmt.Errorf("outbox: sheetUpdateRecord: %w", err)
	}

	mapping, err := d.store.GetMappingByTask(ctx, d.conn(), payload.TaskID)
	if err != nil {
		return fmt.Errorf("outbox: sheetUpdateRecord: %w", err)
	}

	if mapping.SheetRef == nil {
		return fmt.Errorf("outbox: sheetUpdateRecord: task %s has no sheet binding yet", payload.TaskID)
	}

	entry, err := d.store.FindTable(ctx, d.conn(), store.SheetTableRef{AppToken: mapping.SheetRef.AppToken, TableID: mapping.SheetRef.TableID})
	if err != nil {
		return fmt.Errorf("outbox: sheetUpdateRecord: %w", err)
	}

	ids, err := d.resolveAssignee(ctx, d.conn(), task)
	if err != nil {
		return err
	}

	fields := mapper.TaskToSheetRecord(task, entry, ids)

	_, err = d.sheet.UpdateRecord(ctx, mapping.SheetRef.TableID, mapping.SheetRef.RecordID, fields.Fields)
	if err != nil {
		d.invalidateAssigneeOnReject(ctx, task, err)
	}

	return err
}

// invalidateAssigneeOnReject clears a task's assignee's cached sheetOpenId
// when a Gateway rejects a write as invalid: the cached identifier is
// presumably stale (the member left the workspace, the openId rotated), so
// the next resolveAssignee call re-queries the Sheet Gateway's contact
// lookup instead of repeating the same rejected value forever.
func (d *Dispatcher) invalidateAssigneeOnReject(ctx context.Context, task *store.Task, handlerErr error) {
	if task.AssigneeMemberID == "" {
		return
	}

	if !errors.Is(handlerErr, sheet.ErrInvalidRequest) && !errors.Is(handlerErr, forge.ErrInvalidRequest) {
		return
	}

	member, err := d.store.FindMemberByID(ctx, d.conn(), task.AssigneeMemberID)
	if err != nil {
		return
	}

	if err := d.resolver.Invalidate(ctx, d.conn(), member.Email); err != nil {
		d.logger.Warn("outbox: invalidate assignee identifiers failed",
			"member_id", task.AssigneeMemberID, "error", err.Error())
	}
}

// handleConvertForgeToSheet implements convertForgeToSheet: read the forge
// issue, upsert a local Task for it (source=forgePull) if none is mapped
// yet, bind the forge ref, and enqueue sheetCreateRecord (spec.md §4.4,
// scenario 6 in §8).
func (d *Dispatcher) handleConvertForgeToSheet(ctx context.Context, ev *store.OutboxEvent) error {
	var payload ConvertForgeToSheetPayload
	if err := decodePayload(ev.Payload, &payload); err != nil {
		return err
	}

	existing, err := d.store.GetMappingByForgeRef(ctx, d.conn(), payload.ForgeIssueRef)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}

	if existing != nil {
		// Already converted; ensure the sheet side is (re-)enqueued in case
		// the original enqueue never landed, but never create a second Task.
		return d.enqueueIfMissingSheetBinding(ctx, existing.TaskID, payload.TargetTable)
	}

	issue, err := d.forge.GetIssue(ctx, payload.ForgeIssueRef.Repo, payload.ForgeIssueRef.Number)
	if err != nil {
		return err
	}

	view := toForgeIssueView(payload.ForgeIssueRef.Repo, issue)

	task, err := mapper.ForgeIssueToTask(view, nil)
	if err != nil {
		return err
	}

	task.Source = store.SourceForgePull
	task.TargetTable = &payload.TargetTable

	return d.store.Transaction(ctx, func(tx *sql.Tx) error {
		if err := d.store.UpsertTask(ctx, tx, task); err != nil {
			return err
		}

		if err := d.store.SetMappingForgeRef(ctx, tx, task.TaskID, payload.ForgeIssueRef); err != nil {
			return err
		}

		createPayload, err := encodePayload(SheetCreateRecordPayload{TaskID: task.TaskID})
		if err != nil {
			return err
		}

		_, err = d.store.EnqueueOutbox(ctx, tx, store.KindSheetCreateRecord, task.TaskID, createPayload)

		return err
	})
}

// handleConvertSheetToForge implements convertSheetToForge, the mirror of
// handleConvertForgeToSheet.
func (d *Dispatcher) handleConvertSheetToForge(ctx context.Context, ev *store.OutboxEvent) error {
	var payload ConvertSheetToForgePayload
	if err := decodePayload(ev.Payload, &payload); err != nil {
		return err
	}

	existing, err := d.store.GetMappingBySheetRef(ctx, d.conn(), payload.SheetRecordRef)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}

	repo := payload.Repo
	if repo == "" {
		repo = d.cfg.DefaultForgeRepo
	}

	if existing != nil {
		return d.enqueueIfMissingForgeBinding(ctx, existing.TaskID, repo)
	}

	entry, err := d.store.FindTable(ctx, d.conn(), store.SheetTableRef{AppToken: payload.SheetRecordRef.AppToken, TableID: payload.SheetRecordRef.TableID})
	if err != nil {
		return fmt.Errorf("outbox: convertSheetToForge: %w", err)
	}

	record, err := d.sheet.GetRecord(ctx, payload.SheetRecordRef.TableID, payload.SheetRecordRef.RecordID)
	if err != nil {
		return err
	}

	view := mapper.SheetRecordView{RecordID: record.RecordID, Fields: record.Fields, UpdatedAt: record.UpdatedAt}

	task, err := mapper.SheetRecordToTask(view, entry, nil)
	if err != nil {
		return err
	}

	task.Source = store.SourceSheetPull
	task.TargetTable = &store.SheetTableRef{AppToken: payload.SheetRecordRef.AppToken, TableID: payload.SheetRecordRef.TableID}

	return d.store.Transaction(ctx, func(tx *sql.Tx) error {
		if err := d.store.UpsertTask(ctx, tx, task); err != nil {
			return err
		}

		if err := d.store.SetMappingSheetRef(ctx, tx, task.TaskID, payload.SheetRecordRef); err != nil {
			return err
		}

		createPayload, err := encodePayload(ForgeCreateIssuePayload{TaskID: task.TaskID, Repo: repo})
		if err != nil {
			return err
		}

		_, err = d.store.EnqueueOutbox(ctx, tx, store.KindForgeCreateIssue, task.TaskID, createPayload)

		return err
	})
}

// handleNotifyMember implements notifyMember: send an operator-visible
// message via the Sheet Gateway's messaging surface. A member with no
// resolved sheetOpenId cannot be reached; this is logged and treated as
// delivered, matching the Identity Resolver's "missing sheetOpenId is
// non-fatal" posture rather than retrying forever.
func (d *Dispatcher) handleNotifyMember(ctx context.Context, ev *store.OutboxEvent) error {
	var payload NotifyMemberPayload
	if err := decodePayload(ev.Payload, &payload); err != nil {
		return err
	}

	member, err := d.store.FindMemberByID(ctx, d.conn(), payload.MemberID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			d.logger.Warn("outbox: notifyMember: member not found, dropping", "member_id", payload.MemberID)

			return nil
		}

		return err
	}

	if member.SheetOpenID == "" {
		d.logger.Warn("outbox: notifyMember: member has no sheet open id, dropping", "member_id", payload.MemberID)

		return nil
	}

	return d.sheet.SendMessage(ctx, member.SheetOpenID, payload.Message)
}

func (d *Dispatcher) enqueueIfMissingSheetBinding(ctx context.Context, taskID string, table store.SheetTableRef) error {
	mapping, err := d.store.GetMappingByTask(ctx, d.conn(), taskID)
	if err != nil {
		return err
	}

	if mapping.SheetRef != nil {
		return nil
	}

	return d.store.Transaction(ctx, func(tx *sql.Tx) error {
		if _, _, err := d.store.UpdateTask(ctx, tx, taskID, func(t *store.Task) { t.TargetTable = &table }); err != nil {
			return err
		}

		createPayload, err := encodePayload(SheetCreateRecordPayload{TaskID: taskID})
		if err != nil {
			return err
		}

		_, err = d.store.EnqueueOutbox(ctx, tx, store.KindSheetCreateRecord, taskID, createPayload)

		return err
	})
}

func (d *Dispatcher) enqueueIfMissingForgeBinding(ctx context.Context, taskID, repo string) error {
	mapping, err := d.store.GetMappingByTask(ctx, d.conn(), taskID)
	if err != nil {
		return err
	}

	if mapping.ForgeRef != nil {
		return nil
	}

	return d.store.Transaction(ctx, func(tx *sql.Tx) error {
		createPayload, err := encodePayload(ForgeCreateIssuePayload{TaskID: taskID, Repo: repo})
		if err != nil {
			return err
		}

		_, err = d.store.EnqueueOutbox(ctx, tx, store.KindForgeCreateIssue, taskID, createPayload)

		return err
	})
}

// toCreateIssueRequest adapts a Field Mapper payload to the Forge Gateway's
// create-issue wire shape. The title already carries the "[AUTO][task:...]"
// marker (mapper.TaskToForgeIssue applies it).
func toCreateIssueRequest(p mapper.ForgeIssuePayload) forge.CreateIssueRequest {
	return forge.CreateIssueRequest{
		Title:     p.Title,
		Body:      p.Body,
		Labels:    p.Labels,
		Assignees: p.Assignees,
	}
}

// toUpdateIssueRequest adapts a Field Mapper payload to the Forge Gateway's
// partial-update wire shape. Every field the mapper produces is sent; the
// Field Mapper, not this adapter, decides what changed.
func toUpdateIssueRequest(p mapper.ForgeIssuePayload) forge.UpdateIssueRequest {
	return forge.UpdateIssueRequest{
		Title:       strPtr(p.Title),
		Body:        strPtr(p.Body),
		State:       strPtr(p.State),
		StateReason: strPtr(p.StateReason),
		Labels:      &p.Labels,
		Assignees:   &p.Assignees,
	}
}

// toForgeIssueView adapts a Forge Gateway read into the Field Mapper's pull
// input shape.
func toForgeIssueView(repo string, issue forge.Issue) mapper.ForgeIssueView {
	view := mapper.ForgeIssueView{
		Repo:        repo,
		Number:      issue.Number,
		Title:       issue.Title,
		Body:        issue.Body,
		State:       issue.State,
		StateReason: issue.StateReason,
		Labels:      issue.LabelNames(),
		Assignees:   issue.AssigneeLogins(),
	}

	if issue.UpdatedAt != nil {
		view.UpdatedAt = *issue.UpdatedAt
	}

	return view
}

func strPtr(s string) *string { return &s }
