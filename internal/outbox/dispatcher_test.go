package outbox

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/taskforge/sync/internal/forge"
	"github.com/taskforge/sync/internal/store"
)

func TestResolveOutcomeSuccess(t *testing.T) {
	d := &Dispatcher{cfg: Config{BackoffCap: time.Minute}}
	ev := &store.OutboxEvent{EventID: "evt_1", Kind: store.KindForgeCreateIssue, Attempts: 0, MaxAttempts: 5}

	out, status, msg := d.resolveOutcome(ev, nil, time.Now())

	require.True(t, out.Sent)
	require.False(t, out.Dead)
	require.Equal(t, "sent", status)
	require.Contains(t, msg, "dispatched")
}

func TestResolveOutcomePermanentErrorDeadLetters(t *testing.T) {
	d := &Dispatcher{cfg: Config{BackoffCap: time.Minute}}
	ev := &store.OutboxEvent{EventID: "evt_2", Kind: store.KindForgeUpdateIssue, Attempts: 0, MaxAttempts: 5}

	out, status, msg := d.resolveOutcome(ev, forge.ErrConflict, time.Now())

	require.True(t, out.Dead)
	require.Equal(t, "dead", status)
	require.Contains(t, msg, "dead-lettered")
}

func TestResolveOutcomeTransientErrorRetriesUntilMaxAttempts(t *testing.T) {
	d := &Dispatcher{cfg: Config{BackoffCap: time.Minute}}
	now := time.Now()

	ev := &store.OutboxEvent{EventID: "evt_3", Kind: store.KindSheetUpdateRecord, Attempts: 0, MaxAttempts: 3}
	out, status, _ := d.resolveOutcome(ev, forge.ErrTransient, now)
	require.False(t, out.Dead)
	require.False(t, out.Sent)
	require.True(t, out.NotBefore.After(now))
	require.Equal(t, "retry", status)

	ev.Attempts = 2 // next attempt (3) reaches MaxAttempts
	out, status, _ = d.resolveOutcome(ev, forge.ErrTransient, now)
	require.True(t, out.Dead)
	require.Equal(t, "dead", status)
}

func TestResolveOutcomeRespectsBackoffCap(t *testing.T) {
	d := &Dispatcher{cfg: Config{BackoffCap: 5 * time.Second}}
	now := time.Now()

	ev := &store.OutboxEvent{EventID: "evt_4", Kind: store.KindForgeCreateIssue, Attempts: 50, MaxAttempts: 1000}
	out, _, _ := d.resolveOutcome(ev, forge.ErrRateLimited, now)

	require.LessOrEqual(t, out.NotBefore.Sub(now), 5*time.Second+time.Millisecond)
}
