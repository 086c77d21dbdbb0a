package mapper

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskforge/sync/internal/identity"
	"github.com/taskforge/sync/internal/store"
)

func TestTaskToForgeIssueTitlePrefixAndPriority(t *testing.T) {
	task := &store.Task{
		TaskID:   "task-1",
		Title:    "Fix the widget",
		Body:     "details",
		Status:   store.StatusToDo,
		Priority: store.PriorityHigh,
		Labels:   []string{"bug"},
	}

	payload := TaskToForgeIssue(task, identity.Identifiers{ForgeUsername: "ada-gh"})

	assert.Equal(t, "[AUTO][task:task-1] Fix the widget", payload.Title)
	assert.Equal(t, "open", payload.State)
	assert.Contains(t, payload.Labels, "bug")
	assert.Contains(t, payload.Labels, "priority:high")
	assert.Equal(t, []string{"ada-gh"}, payload.Assignees)
}

func TestForgeIssueToTaskStripsPrefixAndPriority(t *testing.T) {
	issue := ForgeIssueView{
		Repo:   "acme/widgets",
		Number: 7,
		Title:  "[AUTO][task:task-1] Fix the widget",
		Body:   "details",
		State:  "open",
		Labels: []string{"bug", "priority:high"},
	}

	task, err := ForgeIssueToTask(issue, nil)
	require.NoError(t, err)

	assert.Equal(t, "Fix the widget", task.Title)
	assert.Equal(t, store.StatusToDo, task.Status)
	assert.Equal(t, store.PriorityHigh, task.Priority)
	assert.Equal(t, []string{"bug"}, task.Labels)
}

func TestForgeIssueToTaskEmptyTitleSubstitutesLocally(t *testing.T) {
	issue := ForgeIssueView{Repo: "acme/widgets", Number: 1, Title: "", State: "open"}

	task, err := ForgeIssueToTask(issue, nil)
	require.NoError(t, err)
	assert.Equal(t, "(untitled)", task.Title)
}

func TestTaskToSheetRecordUsesRegistryFieldMap(t *testing.T) {
	entry := &store.SheetTableRegistryEntry{
		AppToken: "app",
		TableID:  "tbl",
		FieldNameMap: map[string]string{
			"title":    "Task Name",
			"status":   "Status",
			"assignee": "Assignee",
		},
	}

	task := &store.Task{Title: "Fix the widget", Status: store.StatusDone}

	payload := TaskToSheetRecord(task, entry, identity.Identifiers{SheetOpenID: "ou_ada"})

	assert.Equal(t, "Fix the widget", payload.Fields["Task Name"])
	assert.Equal(t, "Done", payload.Fields["Status"])
	assert.Equal(t, []map[string]string{{"id": "ou_ada"}}, payload.Fields["Assignee"])
}

func TestSheetRecordToTaskRoundTrip(t *testing.T) {
	entry := &store.SheetTableRegistryEntry{
		AppToken: "app",
		TableID:  "tbl",
		FieldNameMap: map[string]string{
			"title":  "Task Name",
			"status": "Status",
		},
	}

	record := SheetRecordView{
		RecordID: "rec1",
		Fields: map[string]any{
			"Task Name": "Fix the widget",
			"Status":    "In Progress",
		},
	}

	task, err := SheetRecordToTask(record, entry, nil)
	require.NoError(t, err)

	assert.Equal(t, "Fix the widget", task.Title)
	assert.Equal(t, store.StatusInProgress, task.Status)
}

func TestSheetRecordToTaskPreservesExistingFieldsNotInMap(t *testing.T) {
	entry := &store.SheetTableRegistryEntry{
		AppToken:     "app",
		TableID:      "tbl",
		FieldNameMap: map[string]string{"title": "Task Name"},
	}

	existing := &store.Task{
		TaskID:           "task-9",
		AssigneeMemberID: "member-1",
		Status:           store.StatusInProgress,
		Priority:         store.PriorityCritical,
	}

	record := SheetRecordView{Fields: map[string]any{"Task Name": "Renamed"}}

	task, err := SheetRecordToTask(record, entry, existing)
	require.NoError(t, err)

	assert.Equal(t, "task-9", task.TaskID)
	assert.Equal(t, "member-1", task.AssigneeMemberID)
	assert.Equal(t, store.StatusInProgress, task.Status)
	assert.Equal(t, store.PriorityCritical, task.Priority)
}
