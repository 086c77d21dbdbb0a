package store

import (
	"context"
	"database/sql"
	"log/slog"
	"os"

	"github.com/google/uuid"

	"github.com/taskforge/sync/internal/config"
)

// Querier is satisfied by both *sql.DB (via Connection) and *sql.Tx, so every
// repository method can run either as a standalone read or as part of a
// caller-supplied transaction.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store is the sole durable-state facade: repositories for each entity plus
// the Transaction primitive. Components never talk to *sql.DB directly.
type Store struct {
	conn   *Connection
	logger *slog.Logger
}

// New wraps an open Connection in a Store.
func New(conn *Connection) (*Store, error) {
	if conn == nil {
		return nil, ErrNoDatabaseConnection
	}

	return &Store{
		conn: conn,
		logger: slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: config.GetEnvLogLevel("LOG_LEVEL", slog.LevelInfo),
		})),
	}, nil
}

// HealthCheck delegates to the underlying Connection.
func (s *Store) HealthCheck(ctx context.Context) error {
	return s.conn.HealthCheck(ctx)
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	return s.conn.Close()
}

// Transaction gives the caller exclusive, serialized write access within one
// transaction, rolling back on any returned error. Every mutating Store
// method takes a Querier so it can run either against the Store's own
// connection (implicit single-statement transaction) or against a *sql.Tx
// passed down from Transaction, letting callers group several mutations
// (e.g. "upsert task" + "enqueue outbox event") atomically.
func (s *Store) Transaction(ctx context.Context, fn func(tx *sql.Tx) error) error {
	return s.conn.Transaction(ctx, fn)
}

// Conn exposes the underlying Querier for read-only callers (e.g. the
// Reconciler's pre-flight lookups) that don't need an explicit transaction.
func (s *Store) Conn() Querier {
	return s.conn
}

func newID() string {
	return uuid.NewString()
}
