// Package intent implements the Intent API (spec.md §4.7): the in-process
// surface the frontend calls. Every mutating operation runs inside one
// Store transaction and terminates by enqueuing outbox events; it never
// calls a Gateway directly. User-visible success is the local commit; the
// external effect is eventual, carried out later by the Outbox Dispatcher.
package intent

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/taskforge/sync/internal/config"
	"github.com/taskforge/sync/internal/identity"
	"github.com/taskforge/sync/internal/store"
)

// errInvalidRequest marks a caller error (missing/contradictory fields),
// distinguished from infrastructure failures so HTTP adapters can map it to
// 4xx instead of 5xx.
var errInvalidRequest = errors.New("intent: invalid request")

// Config names the defaults the Intent API falls back to when a caller
// doesn't specify a forge repo or sheet table explicitly.
type Config struct {
	DefaultForgeRepo  string
	DefaultSheetTable store.SheetTableRef
}

// LoadConfig reads Intent API defaults from the environment, matching the
// Dispatcher's and Reconciler's own FORGE_OWNER/FORGE_REPO and
// SHEET_DEFAULT_APP_TOKEN/SHEET_DEFAULT_TABLE_ID convention.
func LoadConfig() Config {
	return Config{
		DefaultForgeRepo: config.GetEnvStr("FORGE_OWNER", "") + "/" + config.GetEnvStr("FORGE_REPO", ""),
		DefaultSheetTable: store.SheetTableRef{
			AppToken: config.GetEnvStr("SHEET_DEFAULT_APP_TOKEN", ""),
			TableID:  config.GetEnvStr("SHEET_DEFAULT_TABLE_ID", ""),
		},
	}
}

// Service is the Intent API. It depends only on the Store and the Identity
// Resolver — never on a Gateway.
type Service struct {
	store    *store.Store
	resolver *identity.Resolver
	cfg      Config
	logger   *slog.Logger
}

// New builds a Service.
func New(s *store.Store, resolver *identity.Resolver, cfg Config) *Service {
	return &Service{
		store:    s,
		resolver: resolver,
		cfg:      cfg,
		logger: slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: config.GetEnvLogLevel("LOG_LEVEL", slog.LevelInfo),
		})),
	}
}

// conn returns a Querier for read-only lookups outside a transaction.
func (svc *Service) conn() store.Querier {
	return svc.store.Conn()
}

// resolveAssigneeMemberID looks up a Member by email for binding to a Task.
// An empty email means "no assignee" and is not an error.
func (svc *Service) resolveAssigneeMemberID(ctx context.Context, q store.Querier, email string) (string, error) {
	if email == "" {
		return "", nil
	}

	member, err := svc.store.FindMemberByEmail(ctx, q, email)
	if err != nil {
		return "", fmt.Errorf("intent: resolve assignee %q: %w", email, err)
	}

	return member.MemberID, nil
}

func (svc *Service) appendAudit(ctx context.Context, tx *sql.Tx, subjectID, status, message string) error {
	return svc.store.AppendAudit(ctx, tx, &store.AuditEntry{
		Direction: store.DirectionInternal,
		Subject:   "task",
		SubjectID: subjectID,
		Status:    status,
		Message:   message,
	})
}
