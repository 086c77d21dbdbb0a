package reconciler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/taskforge/sync/internal/store"
)

func TestTasksDifferDetectsFieldChanges(t *testing.T) {
	base := &store.Task{Title: "A", Status: store.StatusToDo, Priority: store.PriorityMedium, Body: "x", Labels: []string{"bug"}}

	same := *base
	require.False(t, tasksDiffer(base, &same))

	titleChanged := *base
	titleChanged.Title = "B"
	require.True(t, tasksDiffer(base, &titleChanged))

	statusChanged := *base
	statusChanged.Status = store.StatusDone
	require.True(t, tasksDiffer(base, &statusChanged))

	labelsReordered := *base
	labelsReordered.Labels = []string{"bug"}
	require.False(t, tasksDiffer(base, &labelsReordered), "label set equality should be order-independent")

	labelsChanged := *base
	labelsChanged.Labels = []string{"bug", "urgent"}
	require.True(t, tasksDiffer(base, &labelsChanged))
}

func TestStringSetEqual(t *testing.T) {
	require.True(t, stringSetEqual(nil, nil))
	require.True(t, stringSetEqual([]string{}, nil))
	require.True(t, stringSetEqual([]string{"a", "b"}, []string{"b", "a"}))
	require.False(t, stringSetEqual([]string{"a", "b"}, []string{"a"}))
	require.False(t, stringSetEqual([]string{"a", "a"}, []string{"a", "b"}))
}

func TestParseAndFormatCursorRoundTrip(t *testing.T) {
	require.True(t, parseCursor("").IsZero())
	require.True(t, parseCursor("not-a-time").IsZero())

	now := time.Date(2026, 3, 5, 12, 30, 0, 0, time.UTC)
	formatted := formatCursor(now)
	parsed := parseCursor(formatted)

	require.True(t, parsed.Equal(now))
}

func TestResolveConflictDefaultsToLastWriteWinsByUpdatedAt(t *testing.T) {
	r := &Reconciler{}

	older := &store.Task{TaskID: "t1", Title: "local", UpdatedAt: time.Now().Add(-time.Hour)}
	newer := &store.Task{TaskID: "t1", Title: "remote", UpdatedAt: time.Now()}

	require.Same(t, newer, r.resolveConflict(context.Background(), "t1", older, newer))
	require.Same(t, older, r.resolveConflict(context.Background(), "t1", newer, older))
}

type fakeConflictHook struct {
	resolved *store.Task
	ok       bool
	called   bool
}

func (h *fakeConflictHook) Resolve(_ context.Context, _ string, _, _ *store.Task) (*store.Task, bool) {
	h.called = true
	return h.resolved, h.ok
}

func TestResolveConflictUsesHookWhenItHandles(t *testing.T) {
	merged := &store.Task{TaskID: "t1", Title: "merged"}
	hook := &fakeConflictHook{resolved: merged, ok: true}
	r := &Reconciler{hook: hook}

	local := &store.Task{TaskID: "t1", Title: "local", UpdatedAt: time.Now()}
	remote := &store.Task{TaskID: "t1", Title: "remote", UpdatedAt: time.Now().Add(time.Hour)}

	got := r.resolveConflict(context.Background(), "t1", local, remote)

	require.True(t, hook.called)
	require.Same(t, merged, got)
}

func TestResolveConflictFallsBackWhenHookDeclines(t *testing.T) {
	hook := &fakeConflictHook{ok: false}
	r := &Reconciler{hook: hook}

	local := &store.Task{TaskID: "t1", Title: "local", UpdatedAt: time.Now()}
	remote := &store.Task{TaskID: "t1", Title: "remote", UpdatedAt: time.Now().Add(time.Hour)}

	got := r.resolveConflict(context.Background(), "t1", local, remote)

	require.True(t, hook.called)
	require.Same(t, remote, got)
}
