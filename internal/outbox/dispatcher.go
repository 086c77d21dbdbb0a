// Package outbox implements the Outbox Dispatcher (spec.md §4.4): it
// consumes durable OutboxEvents and performs idempotent external mutations
// against the Forge and Sheet gateways, retrying transient failures with
// backoff and dead-lettering permanent ones.
package outbox

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/taskforge/sync/internal/config"
	"github.com/taskforge/sync/internal/forge"
	"github.com/taskforge/sync/internal/identity"
	"github.com/taskforge/sync/internal/sheet"
	"github.com/taskforge/sync/internal/store"
)

// Config tunes the Dispatcher's claim batch size, poll cadence, and backoff
// shape. All fields have spec.md-derived defaults (see LoadConfig).
type Config struct {
	PollInterval     time.Duration
	ClaimBatchSize   int
	ReclaimThreshold time.Duration
	BackoffBase      time.Duration
	BackoffCap       time.Duration
	Workers          int
	// DefaultForgeRepo is used by convertSheetToForge when the payload
	// carries no explicit target repo.
	DefaultForgeRepo string
}

const (
	defaultPollInterval     = 5 * time.Second
	defaultClaimBatchSize   = 10
	defaultReclaimThreshold = 2 * time.Minute
	defaultBackoffBase      = 1 * time.Second
	defaultBackoffCap       = 5 * time.Minute
	defaultWorkers          = 1
)

// LoadConfig reads Dispatcher tuning from the environment, per
// SPEC_FULL.md §1.3.
func LoadConfig() Config {
	return Config{
		PollInterval:     config.GetEnvDuration("OUTBOX_POLL_INTERVAL", defaultPollInterval),
		ClaimBatchSize:   config.GetEnvInt("OUTBOX_CLAIM_BATCH_SIZE", defaultClaimBatchSize),
		ReclaimThreshold: time.Duration(config.GetEnvInt("OUTBOX_RECLAIM_THRESHOLD_SECONDS", int(defaultReclaimThreshold/time.Second))) * time.Second,
		BackoffBase:      config.GetEnvDuration("OUTBOX_BACKOFF_FACTOR", defaultBackoffBase),
		BackoffCap:       config.GetEnvDuration("OUTBOX_BACKOFF_CAP", defaultBackoffCap),
		Workers:          config.GetEnvInt("OUTBOX_WORKERS", defaultWorkers),
		DefaultForgeRepo: config.GetEnvStr("FORGE_OWNER", "") + "/" + config.GetEnvStr("FORGE_REPO", ""),
	}
}

// AuditPublisher mirrors a completed outbox outcome to an external observer
// (the optional Kafka audit-stream publisher). It never participates in
// delivery semantics: Publish failures are logged by the caller, never
// retried, and never change the outcome already committed to Store.
type AuditPublisher interface {
	Publish(ctx context.Context, outcome SyncOutcome)
}

// SyncOutcome is the compact record mirrored to the audit-stream publisher
// after each committed outbox completion.
type SyncOutcome struct {
	EventID string
	TaskID  string
	Kind    store.OutboxEventKind
	Status  store.OutboxEventStatus
	At      time.Time
}

// Dispatcher consumes pending outbox events and performs their external
// effects. It never blocks the Intent API: Run is driven by its own poll
// loop, independent of any caller.
type Dispatcher struct {
	store    *store.Store
	forge    forge.Gateway
	sheet    sheet.Gateway
	resolver *identity.Resolver
	cfg      Config
	audit    AuditPublisher
	logger   *slog.Logger
}

// New builds a Dispatcher. audit may be nil to disable the optional
// audit-stream mirror.
func New(s *store.Store, forgeGW forge.Gateway, sheetGW sheet.Gateway, resolver *identity.Resolver, cfg Config, audit AuditPublisher) *Dispatcher {
	return &Dispatcher{
		store:    s,
		forge:    forgeGW,
		sheet:    sheetGW,
		resolver: resolver,
		cfg:      cfg,
		audit:    audit,
		logger: slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: config.GetEnvLogLevel("LOG_LEVEL", slog.LevelInfo),
		})),
	}
}

// Run drives the claim/dispatch loop until ctx is cancelled, honoring
// spec.md §5's shutdown contract: in-flight work finishes (the current
// transaction commits) before Run returns.
func (d *Dispatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("outbox dispatcher: shutting down")

			return
		case <-ticker.C:
			d.Tick(ctx)
		}
	}
}

// Tick claims one batch of due events and dispatches each to completion.
// Exported so cmd/synctl's demo runner can drive exactly one drain cycle.
func (d *Dispatcher) Tick(ctx context.Context) {
	events, err := d.claim(ctx)
	if err != nil {
		d.logger.Error("outbox dispatcher: claim failed", slog.String("error", err.Error()))

		return
	}

	for _, ev := range events {
		d.dispatchOne(ctx, ev)
	}
}

func (d *Dispatcher) claim(ctx context.Context) ([]*store.OutboxEvent, error) {
	var events []*store.OutboxEvent

	err := d.store.Transaction(ctx, func(tx *sql.Tx) error {
		claimed, err := d.store.ClaimOutbox(ctx, tx, d.cfg.ClaimBatchSize, time.Now().UTC(), d.cfg.ReclaimThreshold)
		if err != nil {
			return err
		}

		events = claimed

		return nil
	})

	return events, err
}

// dispatchOne runs one claimed event's handler, then commits its outcome in
// a fresh transaction (spec.md §4.4 step 3-5). The handler itself performs
// Gateway I/O outside any Store transaction, since network calls must never
// hold a database transaction open.
func (d *Dispatcher) dispatchOne(ctx context.Context, ev *store.OutboxEvent) {
	handlerErr := d.handle(ctx, ev)

	now := time.Now().UTC()

	var sendOutcome SyncOutcome

	err := d.store.Transaction(ctx, func(tx *sql.Tx) error {
		outcome, auditStatus, auditMsg := d.resolveOutcome(ev, handlerErr, now)

		if err := d.store.CompleteOutbox(ctx, tx, ev.EventID, outcome); err != nil {
			return err
		}

		if outcome.Dead && isRemoteNotFound(handlerErr) {
			if err := d.store.MarkMappingSyncStatus(ctx, tx, ev.TaskID, store.SyncError); err != nil && !errors.Is(err, store.ErrNotFound) {
				return err
			}
		}

		if outcome.Dead {
			if err := d.enqueueOperatorNotification(ctx, tx, ev, auditMsg); err != nil {
				return err
			}
		}

		if err := d.store.AppendAudit(ctx, tx, &store.AuditEntry{
			Direction: store.DirectionOutbound,
			Subject:   "outbox",
			SubjectID: ev.EventID,
			Status:    auditStatus,
			Message:   auditMsg,
		}); err != nil {
			return err
		}

		status := store.OutboxPending
		if outcome.Sent {
			status = store.OutboxSent
		} else if outcome.Dead {
			status = store.OutboxDead
		}

		sendOutcome = SyncOutcome{EventID: ev.EventID, TaskID: ev.TaskID, Kind: ev.Kind, Status: status, At: now}

		return nil
	})
	if err != nil {
		d.logger.Error("outbox dispatcher: commit outcome failed",
			slog.String("event_id", ev.EventID), slog.String("error", err.Error()))

		return
	}

	if d.audit != nil {
		d.audit.Publish(ctx, sendOutcome)
	}
}

// resolveOutcome turns a handler error (or nil, on success) into the
// store.OutboxOutcome to commit, plus an audit status/message pair.
func (d *Dispatcher) resolveOutcome(ev *store.OutboxEvent, handlerErr error, now time.Time) (store.OutboxOutcome, string, string) {
	if handlerErr == nil {
		return store.OutboxOutcome{Sent: true}, "sent", fmt.Sprintf("%s dispatched", ev.Kind)
	}

	attempt := ev.Attempts + 1

	if classify(handlerErr) == outcomePermanent || attempt >= ev.MaxAttempts {
		return store.OutboxOutcome{Dead: true, LastError: handlerErr.Error()}, "dead",
			fmt.Sprintf("%s dead-lettered after %d attempts: %s", ev.Kind, attempt, handlerErr.Error())
	}

	delay := retryDelay(attempt, d.cfg.BackoffBase, d.cfg.BackoffCap)
	if d.cfg.BackoffCap > 0 && delay > d.cfg.BackoffCap {
		delay = d.cfg.BackoffCap
	}

	return store.OutboxOutcome{NotBefore: now.Add(delay), LastError: handlerErr.Error()}, "retry",
		fmt.Sprintf("%s transient failure (attempt %d): %s", ev.Kind, attempt, handlerErr.Error())
}

// enqueueOperatorNotification enqueues a notifyMember event addressed to the
// operator when an event is dead-lettered, per spec.md §4.4 step 5. The
// operator member is identified by the OPERATOR_MEMBER_ID environment
// variable; if unset, no notification is enqueued (there is no one to
// notify), and this is not an error.
func (d *Dispatcher) enqueueOperatorNotification(ctx context.Context, tx *sql.Tx, ev *store.OutboxEvent, reason string) error {
	operatorID := config.GetEnvStr("OPERATOR_MEMBER_ID", "")
	if operatorID == "" {
		return nil
	}

	payload, err := encodePayload(NotifyMemberPayload{
		MemberID: operatorID,
		Message:  fmt.Sprintf("outbox event %s (%s) for task %s was dead-lettered: %s", ev.EventID, ev.Kind, ev.TaskID, reason),
	})
	if err != nil {
		return err
	}

	_, err = d.store.EnqueueOutbox(ctx, tx, store.KindNotifyMember, ev.TaskID, payload)

	return err
}

// handle dispatches ev to its kind's handler. This is the Dispatcher's
// total function over the OutboxEventKind variant (spec.md §9): adding a
// kind means adding a case here, a payload type, and a handler method.
func (d *Dispatcher) handle(ctx context.Context, ev *store.OutboxEvent) error {
	switch ev.Kind {
	case store.KindForgeCreateIssue:
		return d.handleForgeCreateIssue(ctx, ev)
	case store.KindForgeUpdateIssue:
		return d.handleForgeUpdateIssue(ctx, ev)
	case store.KindForgeCloseIssue:
		return d.handleForgeCloseIssue(ctx, ev)
	case store.KindSheetCreateRecord:
		return d.handleSheetCreateRecord(ctx, ev)
	case store.KindSheetUpdateRecord:
		return d.handleSheetUpdateRecord(ctx, ev)
	case store.KindConvertForgeToSheet:
		return d.handleConvertForgeToSheet(ctx, ev)
	case store.KindConvertSheetToForge:
		return d.handleConvertSheetToForge(ctx, ev)
	case store.KindNotifyMember:
		return d.handleNotifyMember(ctx, ev)
	default:
		return fmt.Errorf("outbox: %w: unrecognized event kind %q", forge.ErrInvalidRequest, ev.Kind)
	}
}

// resolveAssignee resolves the Identifiers for a Task's assignee, if any. A
// task with no assignee returns a zero-value Identifiers, matching the
// Field Mapper's "a Task with no assignee clears both" rule.
func (d *Dispatcher) resolveAssignee(ctx context.Context, q store.Querier, task *store.Task) (identity.Identifiers, error) {
	if task.AssigneeMemberID == "" {
		return identity.Identifiers{}, nil
	}

	member, err := d.store.FindMemberByID(ctx, q, task.AssigneeMemberID)
	if err != nil {
		return identity.Identifiers{}, fmt.Errorf("outbox: resolve assignee: %w", err)
	}

	return d.resolver.Resolve(ctx, q, member.Email)
}

// conn returns a Querier usable for read-only lookups outside a
// transaction, matching internal/store's Store.Conn() convention.
func (d *Dispatcher) conn() store.Querier {
	return d.store.Conn()
}
