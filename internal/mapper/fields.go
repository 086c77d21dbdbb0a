package mapper

import (
	"strings"
	"time"

	"github.com/taskforge/sync/internal/identity"
	"github.com/taskforge/sync/internal/refkey"
	"github.com/taskforge/sync/internal/store"
)

const untitledTask = "(untitled)"

const priorityLabelPrefix = "priority:"

// well-known internal field names a SheetTableRegistryEntry.FieldNameMap may
// carry; any of these missing from the map means that field is not
// propagated for that table.
const (
	fieldTitle    = "title"
	fieldStatus   = "status"
	fieldAssignee = "assignee"
	fieldPriority = "priority"
	fieldTaskID   = "taskId"
)

// TaskIDColumn returns the external column name a registry entry uses to
// correlate a sheet row back to its Task, if the table carries one. The
// Outbox Dispatcher's sheetCreateRecord handler uses this for idempotent
// crash-recovery lookup, mirroring the Forge Gateway's title-marker search.
func TaskIDColumn(entry *store.SheetTableRegistryEntry) (string, bool) {
	col, ok := entry.FieldNameMap[fieldTaskID]

	return col, ok
}

// ForgeIssuePayload is the shape the Forge Gateway writes on create/update.
type ForgeIssuePayload struct {
	Title       string
	Body        string
	State       string
	StateReason string
	Labels      []string
	Assignees   []string
}

// ForgeIssueView is the shape the Forge Gateway returns on read/pull.
type ForgeIssueView struct {
	Repo        string
	Number      int
	Title       string
	Body        string
	State       string
	StateReason string
	Labels      []string
	Assignees   []string
	UpdatedAt   time.Time
}

// SheetRecordPayload is the shape the Sheet Gateway writes on create/update,
// keyed by the registry entry's external column names.
type SheetRecordPayload struct {
	Fields map[string]any
}

// SheetRecordView is the shape the Sheet Gateway returns on read/pull.
type SheetRecordView struct {
	RecordID  string
	Fields    map[string]any
	UpdatedAt time.Time
}

// TaskToForgeIssue builds the payload for a forgeCreateIssue/forgeUpdateIssue
// handler. ids carries the resolved identity of task.AssigneeMemberID, if
// any; callers with no assignee pass a zero-value Identifiers.
func TaskToForgeIssue(task *store.Task, ids identity.Identifiers) ForgeIssuePayload {
	fs := StatusToForgeState(task.Status)

	labels := append([]string(nil), task.Labels...)
	if task.Priority != "" {
		labels = append(labels, priorityLabelPrefix+string(task.Priority))
	}

	var assignees []string
	if ids.ForgeUsername != "" {
		assignees = []string{ids.ForgeUsername}
	}

	return ForgeIssuePayload{
		Title:       refkey.FormatTitle(task.TaskID, task.Title),
		Body:        task.Body,
		State:       fs.State,
		StateReason: fs.StateReason,
		Labels:      labels,
		Assignees:   assignees,
	}
}

// ForgeIssueToTask translates a pulled forge issue into Task field values.
// existing is the current local Task when one is already mapped (used for
// the open -> ToDo/InProgress tie-break); it may be nil for a first-seen
// issue.
//
// The title prefix is stripped before assignment. An empty resulting title
// is substituted locally with "(untitled)" but that substitution is never
// written back to the forge.
func ForgeIssueToTask(issue ForgeIssueView, existing *store.Task) (*store.Task, error) {
	wasInProgress := existing != nil && existing.Status == store.StatusInProgress

	status, err := ForgeStateToStatus(ForgeState{State: issue.State, StateReason: issue.StateReason}, wasInProgress)
	if err != nil {
		return nil, err
	}

	_, title, ok := refkey.ParseTitle(issue.Title)
	if !ok {
		title = issue.Title
	}

	if strings.TrimSpace(title) == "" {
		title = untitledTask
	}

	priority, labels := extractPriorityLabel(issue.Labels)

	task := &store.Task{
		Title:    title,
		Body:     issue.Body,
		Status:   status,
		Priority: priority,
		Source:   store.SourceForgePull,
		Labels:   labels,
	}

	if existing != nil {
		task.TaskID = existing.TaskID
		task.AssigneeMemberID = existing.AssigneeMemberID
		task.TargetTable = existing.TargetTable
		task.CreatedAt = existing.CreatedAt
	}

	return task, nil
}

// TaskToSheetRecord builds the payload for a sheetCreateRecord/
// sheetUpdateRecord handler, keyed by entry's external column names. Fields
// absent from entry.FieldNameMap are not propagated.
func TaskToSheetRecord(task *store.Task, entry *store.SheetTableRegistryEntry, ids identity.Identifiers) SheetRecordPayload {
	fields := make(map[string]any)

	if col, ok := entry.FieldNameMap[fieldTaskID]; ok {
		fields[col] = task.TaskID
	}

	if col, ok := entry.FieldNameMap[fieldTitle]; ok {
		fields[col] = task.Title
	}

	if col, ok := entry.FieldNameMap[fieldStatus]; ok {
		fields[col] = StatusToSheetString(task.Status)
	}

	if col, ok := entry.FieldNameMap[fieldAssignee]; ok {
		if ids.SheetOpenID != "" {
			fields[col] = []map[string]string{{"id": ids.SheetOpenID}}
		} else {
			fields[col] = nil
		}
	}

	if col, ok := entry.FieldNameMap[fieldPriority]; ok && task.Priority != "" {
		fields[col] = string(task.Priority)
	}

	for _, label := range task.Labels {
		if col, ok := entry.LabelColumns[label]; ok {
			fields[col] = true
		}
	}

	return SheetRecordPayload{Fields: fields}
}

// SheetRecordToTask translates a pulled sheet record into Task field values,
// using entry to reverse the internal-name -> external-column-name mapping.
// existing is the current local Task when one is already mapped; it may be
// nil for a first-seen record.
func SheetRecordToTask(record SheetRecordView, entry *store.SheetTableRegistryEntry, existing *store.Task) (*store.Task, error) {
	task := &store.Task{Source: store.SourceSheetPull}

	if col, ok := entry.FieldNameMap[fieldTitle]; ok {
		if title, _ := record.Fields[col].(string); strings.TrimSpace(title) != "" {
			task.Title = title
		} else {
			task.Title = untitledTask
		}
	} else {
		task.Title = untitledTask
	}

	if col, ok := entry.FieldNameMap[fieldStatus]; ok {
		if raw, _ := record.Fields[col].(string); raw != "" {
			status, err := SheetStringToStatus(raw)
			if err != nil {
				return nil, err
			}

			task.Status = status
		}
	}

	if col, ok := entry.FieldNameMap[fieldPriority]; ok {
		if raw, _ := record.Fields[col].(string); raw != "" {
			task.Priority = store.TaskPriority(raw)
		}
	}

	var labels []string

	for label, col := range entry.LabelColumns {
		if flag, _ := record.Fields[col].(bool); flag {
			labels = append(labels, label)
		}
	}

	task.Labels = labels

	if existing != nil {
		task.TaskID = existing.TaskID
		task.AssigneeMemberID = existing.AssigneeMemberID
		task.TargetTable = existing.TargetTable
		task.CreatedAt = existing.CreatedAt

		if task.Status == "" {
			task.Status = existing.Status
		}

		if task.Priority == "" {
			task.Priority = existing.Priority
		}
	}

	if task.Status == "" {
		task.Status = store.StatusToDo
	}

	return task, nil
}

// extractPriorityLabel pulls the "priority:<level>" encoded label out of a
// forge label set, returning the remaining labels unchanged.
func extractPriorityLabel(forgeLabels []string) (store.TaskPriority, []string) {
	var (
		priority store.TaskPriority
		labels   []string
	)

	for _, l := range forgeLabels {
		if strings.HasPrefix(l, priorityLabelPrefix) {
			priority = store.TaskPriority(strings.TrimPrefix(l, priorityLabelPrefix))

			continue
		}

		labels = append(labels, l)
	}

	return priority, labels
}
