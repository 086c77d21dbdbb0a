package intent

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"

	"github.com/taskforge/sync/internal/config"
	"github.com/taskforge/sync/internal/identity"
	"github.com/taskforge/sync/internal/outbox"
	"github.com/taskforge/sync/internal/store"
)

const claimAllLimit = 100

// setupTestService wires a real Postgres-backed Service: no Gateway, no
// Sheet contact lookup — Intent API operations never call a Gateway
// directly, they only commit local state and enqueue outbox events.
func setupTestService(t *testing.T) *Service {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	testDB := config.SetupTestDatabase(ctx, t)

	t.Cleanup(func() {
		_ = testDB.Connection.Close()
		_ = testcontainers.TerminateContainer(testDB.Container)
	})

	conn := &store.Connection{DB: testDB.Connection}

	st, err := store.New(conn)
	require.NoError(t, err)

	resolver := identity.New(st, nil, nil)

	return New(st, resolver, Config{DefaultForgeRepo: "acme/widgets"})
}

func TestCreateTaskRequiresTitle(t *testing.T) {
	svc := setupTestService(t)

	_, err := svc.CreateTask(context.Background(), CreateTaskRequest{})
	require.ErrorIs(t, err, errInvalidRequest)
}

func TestCreateTaskEnqueuesForgeCreateOnly(t *testing.T) {
	svc := setupTestService(t)
	ctx := context.Background()

	taskID, err := svc.CreateTask(ctx, CreateTaskRequest{Title: "Write onboarding doc"})
	require.NoError(t, err)
	require.NotEmpty(t, taskID)

	task, err := svc.GetTask(ctx, taskID)
	require.NoError(t, err)
	require.Equal(t, store.StatusToDo, task.Status)
	require.Equal(t, store.PriorityMedium, task.Priority)

	mapping, err := svc.GetTaskMapping(ctx, taskID)
	require.NoError(t, err)
	require.Nil(t, mapping.ForgeRef)
	require.Nil(t, mapping.SheetRef)

	events := claimAll(t, svc)
	require.Len(t, events, 1)
	require.Equal(t, store.KindForgeCreateIssue, events[0].Kind)
	require.Equal(t, taskID, events[0].TaskID)
}

func TestCreateTaskWithAlsoConvertEnqueuesBoth(t *testing.T) {
	svc := setupTestService(t)
	ctx := context.Background()

	taskID, err := svc.CreateTask(ctx, CreateTaskRequest{
		Title:       "Spreadsheet-bound task",
		AlsoConvert: true,
	})
	require.NoError(t, err)

	// Both events belong to one task, so one claim takes only one of them;
	// the other is claimable once the first is completed.
	events := claimAll(t, svc)
	require.Len(t, events, 1)

	require.NoError(t, svc.store.Transaction(ctx, func(tx *sql.Tx) error {
		return svc.store.CompleteOutbox(ctx, tx, events[0].EventID, store.OutboxOutcome{Sent: true})
	}))

	events = append(events, claimAll(t, svc)...)
	require.Len(t, events, 2)

	kinds := map[store.OutboxEventKind]bool{}
	for _, e := range events {
		kinds[e.Kind] = true
		require.Equal(t, taskID, e.TaskID)
	}

	require.True(t, kinds[store.KindForgeCreateIssue])
	require.True(t, kinds[store.KindSheetCreateRecord])
}

func TestCreateTaskFailsWithoutDefaultForgeRepo(t *testing.T) {
	svc := setupTestService(t)
	svc.cfg.DefaultForgeRepo = ""

	_, err := svc.CreateTask(context.Background(), CreateTaskRequest{Title: "Unassignable"})
	require.ErrorIs(t, err, errInvalidRequest)
}

func TestCreateTaskAssignsByEmail(t *testing.T) {
	svc := setupTestService(t)
	ctx := context.Background()

	memberID, err := svc.CreateMember(ctx, CreateMemberRequest{Email: "dev@co.example"})
	require.NoError(t, err)

	taskID, err := svc.CreateTask(ctx, CreateTaskRequest{
		Title:         "Assigned work",
		AssigneeEmail: "dev@co.example",
	})
	require.NoError(t, err)

	task, err := svc.GetTask(ctx, taskID)
	require.NoError(t, err)
	require.Equal(t, memberID, task.AssigneeMemberID)
}

func TestUpdateTaskOnlyEnqueuesEventsForBoundMappings(t *testing.T) {
	svc := setupTestService(t)
	ctx := context.Background()

	taskID, err := svc.CreateTask(ctx, CreateTaskRequest{Title: "No binding yet"})
	require.NoError(t, err)
	drainAll(t, svc)

	newTitle := "No binding yet (edited)"
	require.NoError(t, svc.UpdateTask(ctx, taskID, UpdateTaskPatch{Title: &newTitle}))

	// No mapping bound yet (Dispatcher never ran), so UpdateTask must not
	// enqueue forgeUpdateIssue/sheetUpdateRecord for an unbound Task.
	events := claimAll(t, svc)
	require.Empty(t, events)

	task, err := svc.GetTask(ctx, taskID)
	require.NoError(t, err)
	require.Equal(t, newTitle, task.Title)
}

func TestCloseTaskCompletedSetsDone(t *testing.T) {
	svc := setupTestService(t)
	ctx := context.Background()

	taskID, err := svc.CreateTask(ctx, CreateTaskRequest{Title: "Finish this"})
	require.NoError(t, err)

	require.NoError(t, svc.CloseTask(ctx, taskID, "completed"))

	task, err := svc.GetTask(ctx, taskID)
	require.NoError(t, err)
	require.Equal(t, store.StatusDone, task.Status)
}

func TestCloseTaskOtherReasonSetsCancelled(t *testing.T) {
	svc := setupTestService(t)
	ctx := context.Background()

	taskID, err := svc.CreateTask(ctx, CreateTaskRequest{Title: "Abandon this"})
	require.NoError(t, err)

	require.NoError(t, svc.CloseTask(ctx, taskID, "wontfix"))

	task, err := svc.GetTask(ctx, taskID)
	require.NoError(t, err)
	require.Equal(t, store.StatusCancelled, task.Status)
}

func TestConvertForgeToSheetEnqueuesWithoutLocalTask(t *testing.T) {
	svc := setupTestService(t)
	ctx := context.Background()

	err := svc.ConvertForgeToSheet(ctx,
		store.ForgeIssueRef{Repo: "acme/widgets", Number: 7},
		store.SheetTableRef{AppToken: "app_1", TableID: "tbl_1"},
	)
	require.NoError(t, err)

	events := claimAll(t, svc)
	require.Len(t, events, 1)
	require.Equal(t, store.KindConvertForgeToSheet, events[0].Kind)
	require.Empty(t, events[0].TaskID)
}

func TestConvertSheetToForgeDefaultsRepo(t *testing.T) {
	svc := setupTestService(t)
	ctx := context.Background()

	err := svc.ConvertSheetToForge(ctx, store.SheetRecordRef{AppToken: "app_1", TableID: "tbl_1", RecordID: "rec_1"}, "")
	require.NoError(t, err)

	events := claimAll(t, svc)
	require.Len(t, events, 1)
	require.Equal(t, store.KindConvertSheetToForge, events[0].Kind)

	var payload outbox.ConvertSheetToForgePayload
	require.NoError(t, json.Unmarshal(events[0].Payload, &payload))
	require.Equal(t, "acme/widgets", payload.Repo)
}

func TestDeactivateMemberPreservesRow(t *testing.T) {
	svc := setupTestService(t)
	ctx := context.Background()

	memberID, err := svc.CreateMember(ctx, CreateMemberRequest{Email: "leaving@co.example"})
	require.NoError(t, err)

	require.NoError(t, svc.DeactivateMember(ctx, memberID))

	member, err := svc.GetMember(ctx, memberID)
	require.NoError(t, err)
	require.Equal(t, store.MemberInactive, member.Status)
}

func TestGetMemberWorkAggregatesSyncStatus(t *testing.T) {
	svc := setupTestService(t)
	ctx := context.Background()

	memberID, err := svc.CreateMember(ctx, CreateMemberRequest{Email: "busy@co.example"})
	require.NoError(t, err)

	taskID, err := svc.CreateTask(ctx, CreateTaskRequest{
		Title:         "Assigned and pending",
		AssigneeEmail: "busy@co.example",
	})
	require.NoError(t, err)

	work, err := svc.GetMemberWork(ctx, memberID)
	require.NoError(t, err)
	require.Equal(t, memberID, work.Member.MemberID)
	require.Len(t, work.Tasks, 1)
	require.Equal(t, taskID, work.Tasks[0].Task.TaskID)
	require.Equal(t, store.SyncPending, work.Tasks[0].SyncStatus)
}

// claimAll drains every pending outbox event via the Store's own claim
// query, standing in for the Dispatcher without requiring a Gateway.
func claimAll(t *testing.T, svc *Service) []*store.OutboxEvent {
	t.Helper()

	var events []*store.OutboxEvent

	err := svc.store.Transaction(context.Background(), func(tx *sql.Tx) error {
		claimed, err := svc.store.ClaimOutbox(context.Background(), tx, claimAllLimit, time.Now().UTC(), time.Minute)
		if err != nil {
			return err
		}

		events = claimed

		return nil
	})
	require.NoError(t, err)

	return events
}

func drainAll(t *testing.T, svc *Service) {
	t.Helper()
	claimAll(t, svc)
}
