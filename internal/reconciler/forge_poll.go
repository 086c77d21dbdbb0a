package reconciler

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/taskforge/sync/internal/forge"
	"github.com/taskforge/sync/internal/mapper"
	"github.com/taskforge/sync/internal/outbox"
	"github.com/taskforge/sync/internal/store"
)

// TickForge runs one reconciliation pass over the forge source (spec.md
// §4.5). Exported so cmd/synctl's demo runner can drive exactly one pull.
func (r *Reconciler) TickForge(ctx context.Context) error {
	cursor, err := r.store.GetCursor(ctx, r.conn(), cursorSourceForge)
	if err != nil {
		return fmt.Errorf("reconciler: forge: %w", err)
	}

	since := parseCursor(cursor.Value)

	issues, err := r.forge.ListIssues(ctx, r.cfg.ForgeRepo, forge.ListIssuesParams{State: "all", Since: since})
	if err != nil {
		return fmt.Errorf("reconciler: forge: list issues: %w", err)
	}

	maxSeen := since

	for _, issue := range issues {
		if err := r.applyForgeIssue(ctx, issue, since); err != nil {
			r.logger.Error("reconciler: forge: apply issue failed",
				"repo", r.cfg.ForgeRepo, "issue", issue.Number, "error", err.Error())

			continue
		}

		if issue.UpdatedAt != nil && issue.UpdatedAt.After(maxSeen) {
			maxSeen = *issue.UpdatedAt
		}
	}

	if maxSeen.After(since) {
		if err := r.store.SetCursor(ctx, r.conn(), cursorSourceForge, formatCursor(maxSeen)); err != nil {
			return fmt.Errorf("reconciler: forge: advance cursor: %w", err)
		}
	}

	return nil
}

func (r *Reconciler) applyForgeIssue(ctx context.Context, issue forge.Issue, since time.Time) error {
	ref := store.ForgeIssueRef{Repo: r.cfg.ForgeRepo, Number: issue.Number}

	mapping, err := r.store.GetMappingByForgeRef(ctx, r.conn(), ref)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}

	view := toForgeIssueView(r.cfg.ForgeRepo, issue)

	if mapping == nil {
		task, err := mapper.ForgeIssueToTask(view, nil)
		if err != nil {
			if errors.Is(err, mapper.ErrUnknownForgeState) {
				return r.recordMalformedRemote(ctx, "", forgeStateDetail(r.cfg.ForgeRepo, issue))
			}

			return err
		}

		task.Source = store.SourceForgePull

		return r.store.Transaction(ctx, func(tx *sql.Tx) error {
			if err := r.store.UpsertTask(ctx, tx, task); err != nil {
				return err
			}

			return r.store.SetMappingForgeRef(ctx, tx, task.TaskID, ref)
		})
	}

	existing, err := r.store.FindTaskByID(ctx, r.conn(), mapping.TaskID)
	if err != nil {
		return err
	}

	remoteUpdatedAt := view.UpdatedAt
	if existing.UpdatedAt.After(remoteUpdatedAt) {
		return nil // local wins silently; the local change is already enqueued
	}

	pulled, err := mapper.ForgeIssueToTask(view, existing)
	if err != nil {
		if errors.Is(err, mapper.ErrUnknownForgeState) {
			return r.recordMalformedRemote(ctx, mapping.TaskID, forgeStateDetail(r.cfg.ForgeRepo, issue))
		}

		return err
	}

	return r.applyRemoteTask(ctx, mapping, existing, pulled, since, r.enqueueSheetUpdateIfMapped)
}

// forgeStateDetail formats the verbatim (state, stateReason) pair for the
// audit log when it falls outside the lattice.
func forgeStateDetail(repo string, issue forge.Issue) string {
	return fmt.Sprintf("forge: repo=%s issue=%d state=%q stateReason=%q", repo, issue.Number, issue.State, issue.StateReason)
}

// enqueueSheetUpdateIfMapped enqueues a sheetUpdateRecord event so the sheet
// side catches up, if and only if this task already has a bound sheet
// record. A task pulled from forge with no sheet counterpart simply isn't
// mirrored there; convertForgeToSheet is an explicit Intent API operation,
// not something the Reconciler does on its own.
func (r *Reconciler) enqueueSheetUpdateIfMapped(ctx context.Context, tx *sql.Tx, mapping *store.Mapping) error {
	if mapping.SheetRef == nil {
		return nil
	}

	payload, err := json.Marshal(outbox.SheetUpdateRecordPayload{TaskID: mapping.TaskID})
	if err != nil {
		return fmt.Errorf("reconciler: marshal sheetUpdateRecord payload: %w", err)
	}

	_, err = r.store.EnqueueOutbox(ctx, tx, store.KindSheetUpdateRecord, mapping.TaskID, payload)

	return err
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
