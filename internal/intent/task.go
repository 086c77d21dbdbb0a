package intent

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/taskforge/sync/internal/outbox"
	"github.com/taskforge/sync/internal/store"
)

// CreateTaskRequest is createTask's argument bundle (spec.md §4.7).
type CreateTaskRequest struct {
	Title         string
	Body          string
	Priority      store.TaskPriority // defaults to PriorityMedium if empty
	AssigneeEmail string              // empty means unassigned
	Labels        []string
	TargetTable   *store.SheetTableRef // explicit sheet binding target
	AlsoConvert   bool                 // bind the default sheet table if TargetTable is nil
}

// CreateTask creates a Task from intent, always enqueuing a forgeCreateIssue
// event and, when a sheet binding is requested (TargetTable or AlsoConvert),
// a sheetCreateRecord event too.
func (svc *Service) CreateTask(ctx context.Context, req CreateTaskRequest) (string, error) {
	if req.Title == "" {
		return "", fmt.Errorf("%w: title is required", errInvalidRequest)
	}

	if svc.cfg.DefaultForgeRepo == "/" || svc.cfg.DefaultForgeRepo == "" {
		return "", fmt.Errorf("%w: no default forge repo configured", errInvalidRequest)
	}

	priority := req.Priority
	if priority == "" {
		priority = store.PriorityMedium
	}

	targetTable := req.TargetTable
	if targetTable == nil && req.AlsoConvert {
		t := svc.cfg.DefaultSheetTable
		targetTable = &t
	}

	var taskID string

	err := svc.store.Transaction(ctx, func(tx *sql.Tx) error {
		assigneeID, err := svc.resolveAssigneeMemberID(ctx, tx, req.AssigneeEmail)
		if err != nil {
			return err
		}

		task := &store.Task{
			Title:            req.Title,
			Body:             req.Body,
			Status:           store.StatusToDo,
			Priority:         priority,
			Source:           store.SourceIntent,
			AssigneeMemberID: assigneeID,
			Labels:           req.Labels,
			TargetTable:      targetTable,
		}

		if err := svc.store.UpsertTask(ctx, tx, task); err != nil {
			return err
		}

		taskID = task.TaskID

		if _, err := svc.store.EnsureMapping(ctx, tx, taskID); err != nil {
			return err
		}

		if err := svc.enqueueForgeCreate(ctx, tx, taskID); err != nil {
			return err
		}

		if targetTable != nil {
			if err := svc.enqueueSheetCreate(ctx, tx, taskID); err != nil {
				return err
			}
		}

		return svc.appendAudit(ctx, tx, taskID, "created", fmt.Sprintf("task created: %q", req.Title))
	})
	if err != nil {
		return "", err
	}

	return taskID, nil
}

// UpdateTaskPatch is updateTask's argument bundle. A nil field means "leave
// unchanged"; ClearAssignee explicitly unassigns (AssigneeEmail alone cannot
// express "set to no one").
type UpdateTaskPatch struct {
	Title         *string
	Body          *string
	Status        *store.TaskStatus
	Priority      *store.TaskPriority
	AssigneeEmail *string
	ClearAssignee bool
	Labels        *[]string
}

// UpdateTask applies patch to taskId and enqueues whichever outbox events
// the changed fields require (spec.md §4.7: "the set of changed fields
// determines which outbox events are enqueued").
func (svc *Service) UpdateTask(ctx context.Context, taskID string, patch UpdateTaskPatch) error {
	return svc.store.Transaction(ctx, func(tx *sql.Tx) error {
		var assigneeID string

		if patch.AssigneeEmail != nil {
			id, err := svc.resolveAssigneeMemberID(ctx, tx, *patch.AssigneeEmail)
			if err != nil {
				return err
			}

			assigneeID = id
		}

		before, after, err := svc.store.UpdateTask(ctx, tx, taskID, func(t *store.Task) {
			if patch.Title != nil {
				t.Title = *patch.Title
			}

			if patch.Body != nil {
				t.Body = *patch.Body
			}

			if patch.Status != nil {
				t.Status = *patch.Status
			}

			if patch.Priority != nil {
				t.Priority = *patch.Priority
			}

			if patch.ClearAssignee {
				t.AssigneeMemberID = ""
			} else if patch.AssigneeEmail != nil {
				t.AssigneeMemberID = assigneeID
			}

			if patch.Labels != nil {
				t.Labels = *patch.Labels
			}
		})
		if err != nil {
			return err
		}

		mapping, err := svc.store.GetMappingByTask(ctx, tx, taskID)
		if err != nil {
			return err
		}

		if mapping.ForgeRef != nil {
			if err := svc.enqueueForgeUpdate(ctx, tx, taskID); err != nil {
				return err
			}
		}

		if mapping.SheetRef != nil {
			if err := svc.enqueueSheetUpdate(ctx, tx, taskID); err != nil {
				return err
			}
		}

		return svc.appendAudit(ctx, tx, taskID,
			"updated", fmt.Sprintf("before={status=%s title=%q} after={status=%s title=%q}",
				before.Status, before.Title, after.Status, after.Title))
	})
}

// CloseTask sets a Task's status per reason ("completed" closes as Done,
// anything else closes as Cancelled) and enqueues forgeClose/sheetUpdate.
func (svc *Service) CloseTask(ctx context.Context, taskID string, reason string) error {
	status := store.StatusCancelled
	if reason == "completed" {
		status = store.StatusDone
	}

	return svc.store.Transaction(ctx, func(tx *sql.Tx) error {
		before, after, err := svc.store.UpdateTask(ctx, tx, taskID, func(t *store.Task) {
			t.Status = status
		})
		if err != nil {
			return err
		}

		mapping, err := svc.store.GetMappingByTask(ctx, tx, taskID)
		if err != nil {
			return err
		}

		if mapping.ForgeRef != nil {
			if err := svc.enqueueForgeClose(ctx, tx, taskID); err != nil {
				return err
			}
		}

		if mapping.SheetRef != nil {
			if err := svc.enqueueSheetUpdate(ctx, tx, taskID); err != nil {
				return err
			}
		}

		return svc.appendAudit(ctx, tx, taskID, "closed",
			fmt.Sprintf("status %s -> %s (reason=%s)", before.Status, after.Status, reason))
	})
}

// ConvertForgeToSheet enqueues a convertForgeToSheet event: the Dispatcher
// reads the forge issue, upserts a Task for it if none is mapped yet, and
// binds tableRef. No local Task need exist yet, so the enqueued event
// carries no taskId of its own (spec.md §4.4).
func (svc *Service) ConvertForgeToSheet(ctx context.Context, ref store.ForgeIssueRef, table store.SheetTableRef) error {
	payload, err := json.Marshal(outbox.ConvertForgeToSheetPayload{ForgeIssueRef: ref, TargetTable: table})
	if err != nil {
		return fmt.Errorf("intent: marshal convertForgeToSheet payload: %w", err)
	}

	return svc.store.Transaction(ctx, func(tx *sql.Tx) error {
		if _, err := svc.store.EnqueueOutbox(ctx, tx, store.KindConvertForgeToSheet, "", payload); err != nil {
			return err
		}

		return svc.appendAudit(ctx, tx, "", "conversion-requested",
			fmt.Sprintf("convertForgeToSheet %s#%d -> %s/%s", ref.Repo, ref.Number, table.AppToken, table.TableID))
	})
}

// ConvertSheetToForge enqueues a convertSheetToForge event, defaulting repo
// to the Intent API's configured default forge repo when the caller leaves
// it blank.
func (svc *Service) ConvertSheetToForge(ctx context.Context, ref store.SheetRecordRef, repo string) error {
	if repo == "" {
		repo = svc.cfg.DefaultForgeRepo
	}

	payload, err := json.Marshal(outbox.ConvertSheetToForgePayload{SheetRecordRef: ref, Repo: repo})
	if err != nil {
		return fmt.Errorf("intent: marshal convertSheetToForge payload: %w", err)
	}

	return svc.store.Transaction(ctx, func(tx *sql.Tx) error {
		if _, err := svc.store.EnqueueOutbox(ctx, tx, store.KindConvertSheetToForge, "", payload); err != nil {
			return err
		}

		return svc.appendAudit(ctx, tx, "", "conversion-requested",
			fmt.Sprintf("convertSheetToForge %s:%s:%s -> %s", ref.AppToken, ref.TableID, ref.RecordID, repo))
	})
}

// ListTasks is a read-only aggregate over Store.
func (svc *Service) ListTasks(ctx context.Context, filter store.TaskFilter) ([]*store.Task, error) {
	return svc.store.ListTasks(ctx, svc.conn(), filter)
}

// GetTask is a read-only pass-through to Store, fetching a single Task by ID.
func (svc *Service) GetTask(ctx context.Context, taskID string) (*store.Task, error) {
	return svc.store.FindTaskByID(ctx, svc.conn(), taskID)
}

// GetTaskMapping is a read-only pass-through to Store, fetching taskID's Mapping.
func (svc *Service) GetTaskMapping(ctx context.Context, taskID string) (*store.Mapping, error) {
	return svc.store.GetMappingByTask(ctx, svc.conn(), taskID)
}

func (svc *Service) enqueueForgeCreate(ctx context.Context, tx *sql.Tx, taskID string) error {
	payload, err := json.Marshal(outbox.ForgeCreateIssuePayload{TaskID: taskID, Repo: svc.cfg.DefaultForgeRepo})
	if err != nil {
		return fmt.Errorf("intent: marshal forgeCreateIssue payload: %w", err)
	}

	_, err = svc.store.EnqueueOutbox(ctx, tx, store.KindForgeCreateIssue, taskID, payload)

	return err
}

func (svc *Service) enqueueForgeUpdate(ctx context.Context, tx *sql.Tx, taskID string) error {
	payload, err := json.Marshal(outbox.ForgeUpdateIssuePayload{TaskID: taskID})
	if err != nil {
		return fmt.Errorf("intent: marshal forgeUpdateIssue payload: %w", err)
	}

	_, err = svc.store.EnqueueOutbox(ctx, tx, store.KindForgeUpdateIssue, taskID, payload)

	return err
}

func (svc *Service) enqueueForgeClose(ctx context.Context, tx *sql.Tx, taskID string) error {
	payload, err := json.Marshal(outbox.ForgeCloseIssuePayload{TaskID: taskID})
	if err != nil {
		return fmt.Errorf("intent: marshal forgeCloseIssue payload: %w", err)
	}

	_, err = svc.store.EnqueueOutbox(ctx, tx, store.KindForgeCloseIssue, taskID, payload)

	return err
}

func (svc *Service) enqueueSheetCreate(ctx context.Context, tx *sql.Tx, taskID string) error {
	payload, err := json.Marshal(outbox.SheetCreateRecordPayload{TaskID: taskID})
	if err != nil {
		return fmt.Errorf("intent: marshal sheetCreateRecord payload: %w", err)
	}

	_, err = svc.store.EnqueueOutbox(ctx, tx, store.KindSheetCreateRecord, taskID, payload)

	return err
}

func (svc *Service) enqueueSheetUpdate(ctx context.Context, tx *sql.Tx, taskID string) error {
	payload, err := json.Marshal(outbox.SheetUpdateRecordPayload{TaskID: taskID})
	if err != nil {
		return fmt.Errorf("intent: marshal sheetUpdateRecord payload: %w", err)
	}

	_, err = svc.store.EnqueueOutbox(ctx, tx, store.KindSheetUpdateRecord, taskID, payload)

	return err
}
