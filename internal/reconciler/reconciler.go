// Package reconciler implements the Poller (spec.md §4.5): per external
// source, it pulls entities changed since a stored cursor, applies them to
// local state, and enqueues opposite-direction outbox events so the other
// store catches up.
package reconciler

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/taskforge/sync/internal/config"
	"github.com/taskforge/sync/internal/forge"
	"github.com/taskforge/sync/internal/outbox"
	"github.com/taskforge/sync/internal/sheet"
	"github.com/taskforge/sync/internal/store"
)

const (
	cursorSourceForge = "forge"
	cursorSourceSheet = "sheet"

	timeRFC3339 = "2006-01-02T15:04:05Z07:00"

	defaultPollInterval = 300 * time.Second
)

// Config tunes the Reconciler's poll targets and cadence. ForgeRepo and
// SheetTable name the single repo/table this process instance reconciles —
// per SPEC_FULL.md §1.3's FORGE_OWNER/FORGE_REPO and
// SHEET_DEFAULT_APP_TOKEN/SHEET_DEFAULT_TABLE_ID configuration keys.
type Config struct {
	PollInterval time.Duration
	ForgeRepo    string
	SheetTable   store.SheetTableRef
}

// LoadConfig reads Reconciler tuning from the environment.
func LoadConfig() Config {
	return Config{
		PollInterval: time.Duration(config.GetEnvInt("SYNC_INTERVAL_SECONDS", int(defaultPollInterval/time.Second))) * time.Second,
		ForgeRepo:    config.GetEnvStr("FORGE_OWNER", "") + "/" + config.GetEnvStr("FORGE_REPO", ""),
		SheetTable: store.SheetTableRef{
			AppToken: config.GetEnvStr("SHEET_DEFAULT_APP_TOKEN", ""),
			TableID:  config.GetEnvStr("SHEET_DEFAULT_TABLE_ID", ""),
		},
	}
}

// ConflictHook is the reconciliation-policy extension point noted in
// spec.md §9b: implementations may override plain last-write-wins.
// Resolve is consulted whenever both sides changed since the last sync; ok
// is false to fall back to the default last-write-wins-by-updatedAt
// resolution.
type ConflictHook interface {
	Resolve(ctx context.Context, taskID string, local, remote *store.Task) (resolved *store.Task, ok bool)
}

// Reconciler runs the per-source poll loop.
type Reconciler struct {
	store *store.Store
	forge forge.Gateway
	sheet sheet.Gateway
	cfg   Config
	hook  ConflictHook

	logger *slog.Logger
}

// New builds a Reconciler. hook may be nil to use plain last-write-wins.
func New(s *store.Store, forgeGW forge.Gateway, sheetGW sheet.Gateway, cfg Config, hook ConflictHook) *Reconciler {
	return &Reconciler{
		store: s,
		forge: forgeGW,
		sheet: sheetGW,
		cfg:   cfg,
		hook:  hook,
		logger: slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: config.GetEnvLogLevel("LOG_LEVEL", slog.LevelInfo),
		})),
	}
}

// Run drives both source pollers on their own tickers until ctx is
// cancelled. Each source reconciles independently; a failure on one source's
// tick is logged and does not affect the other.
func (r *Reconciler) Run(ctx context.Context) {
	go r.loop(ctx, "forge", r.TickForge)
	go r.loop(ctx, "sheet", r.TickSheet)

	<-ctx.Done()
	r.logger.Info("reconciler: shutting down")
}

func (r *Reconciler) loop(ctx context.Context, source string, tick func(context.Context) error) {
	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := tick(ctx); err != nil {
				r.logger.Error("reconciler: tick failed", slog.String("source", source), slog.String("error", err.Error()))
			}
		}
	}
}

func parseCursor(value string) time.Time {
	if value == "" {
		return time.Time{}
	}

	t, err := time.Parse(timeRFC3339, value)
	if err != nil {
		return time.Time{}
	}

	return t
}

func formatCursor(t time.Time) string {
	return t.UTC().Format(timeRFC3339)
}

// conn returns a Querier for read-only lookups outside a transaction.
func (r *Reconciler) conn() store.Querier {
	return r.store.Conn()
}

// tasksDiffer reports whether two Task snapshots disagree on the fields the
// Field Mapper round-trips, used to distinguish a semantically meaningful
// conflict from a remote touch that changed nothing visible locally.
func tasksDiffer(a, b *store.Task) bool {
	if a.Title != b.Title || a.Status != b.Status || a.Priority != b.Priority || a.Body != b.Body {
		return true
	}

	return !stringSetEqual(a.Labels, b.Labels)
}

func stringSetEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}

	seen := make(map[string]int, len(a))
	for _, s := range a {
		seen[s]++
	}

	for _, s := range b {
		seen[s]--
	}

	for _, n := range seen {
		if n != 0 {
			return false
		}
	}

	return true
}

// resolveConflict applies the ConflictHook if set, falling back to plain
// last-write-wins by updatedAt (spec.md §9b).
func (r *Reconciler) resolveConflict(ctx context.Context, taskID string, local, remote *store.Task) *store.Task {
	if r.hook != nil {
		if resolved, ok := r.hook.Resolve(ctx, taskID, local, remote); ok {
			return resolved
		}
	}

	if remote.UpdatedAt.After(local.UpdatedAt) {
		return remote
	}

	return local
}

// applyRemoteTask implements the three compare-and-apply branches of
// spec.md §4.5 step 3 for an entity whose Mapping already exists: local
// wins silently, remote wins, or conflict (last-write-wins plus
// notifyMember). since is the source's cursor value at the start of this
// tick, used to decide whether the local side also changed since the last
// sync. enqueueOpposite is called inside the same commit transaction to
// enqueue whatever event lets the other store catch up.
func (r *Reconciler) applyRemoteTask(
	ctx context.Context,
	mapping *store.Mapping,
	existing, pulled *store.Task,
	since time.Time,
	enqueueOpposite func(ctx context.Context, tx *sql.Tx, mapping *store.Mapping) error,
) error {
	localChangedSinceSync := existing.UpdatedAt.After(since)
	conflict := localChangedSinceSync && tasksDiffer(existing, pulled)

	final := pulled
	if conflict {
		final = r.resolveConflict(ctx, existing.TaskID, existing, pulled)
	}

	return r.store.Transaction(ctx, func(tx *sql.Tx) error {
		if err := r.store.UpsertTask(ctx, tx, final); err != nil {
			return err
		}

		if conflict {
			if err := r.store.MarkMappingSyncStatus(ctx, tx, final.TaskID, store.SyncConflict); err != nil {
				return err
			}

			if err := r.store.AppendAudit(ctx, tx, &store.AuditEntry{
				Direction: store.DirectionInbound,
				Subject:   "task",
				SubjectID: final.TaskID,
				Status:    "conflict",
				Message: fmt.Sprintf("local={title=%q status=%s updatedAt=%s} remote={title=%q status=%s updatedAt=%s}",
					existing.Title, existing.Status, existing.UpdatedAt.Format(timeRFC3339),
					pulled.Title, pulled.Status, pulled.UpdatedAt.Format(timeRFC3339)),
			}); err != nil {
				return err
			}

			if err := r.enqueueOperatorConflictNotice(ctx, tx, final); err != nil {
				return err
			}
		}

		return enqueueOpposite(ctx, tx, mapping)
	})
}

// enqueueOperatorConflictNotice enqueues a notifyMember event addressed to
// the operator member named by OPERATOR_MEMBER_ID, mirroring the Outbox
// Dispatcher's own dead-letter notification convention. If the env var is
// unset there is no one to notify, which is not an error.
func (r *Reconciler) enqueueOperatorConflictNotice(ctx context.Context, tx *sql.Tx, task *store.Task) error {
	operatorID := config.GetEnvStr("OPERATOR_MEMBER_ID", "")
	if operatorID == "" {
		return nil
	}

	payload, err := json.Marshal(outbox.NotifyMemberPayload{
		MemberID: operatorID,
		Message:  fmt.Sprintf("task %s (%s) has a sync conflict: both sides changed since the last sync", task.TaskID, task.Title),
	})
	if err != nil {
		return fmt.Errorf("reconciler: marshal notify payload: %w", err)
	}

	_, err = r.store.EnqueueOutbox(ctx, tx, store.KindNotifyMember, task.TaskID, payload)

	return err
}

// recordMalformedRemote handles a pulled remote status outside the lattice
// (spec.md §4.3 edge cases, §7's "malformed remote data" error kind): the
// verbatim value is written to the audit log and, if a local Task is
// already mapped, its Mapping is marked syncStatus=conflict without
// touching the Task itself — local data is preserved, never overwritten by
// an entity this process cannot translate. taskID is empty when the record
// was never seen before (no Mapping exists yet to mark), in which case no
// Task is created either; the remote entity is simply not mirrored until it
// reports a recognized status. Returning nil here (rather than the
// translation error) lets the caller treat the entity as handled, so its
// cursor still advances past it instead of re-fetching it forever.
func (r *Reconciler) recordMalformedRemote(ctx context.Context, taskID, detail string) error {
	return r.store.Transaction(ctx, func(tx *sql.Tx) error {
		if taskID != "" {
			if err := r.store.MarkMappingSyncStatus(ctx, tx, taskID, store.SyncConflict); err != nil {
				return err
			}
		}

		return r.store.AppendAudit(ctx, tx, &store.AuditEntry{
			Direction: store.DirectionInbound,
			Subject:   "task",
			SubjectID: taskID,
			Status:    "conflict",
			Message:   "status outside lattice, recorded verbatim: " + detail,
		})
	})
}
