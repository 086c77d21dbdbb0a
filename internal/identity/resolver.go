// Package identity resolves a Member's canonical email into the identifiers
// each external store needs to address that person: a forge username and a
// spreadsheet open-identifier.
package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/taskforge/sync/internal/store"
)

// ErrMemberNotFound is returned when Resolve is called for an email with no
// corresponding Member row.
var ErrMemberNotFound = errors.New("identity: member not found")

// ContactLookup is the subset of the Sheet Gateway the resolver depends on.
// Kept as a narrow interface so the resolver can be unit-tested without a
// live sheet connection.
type ContactLookup interface {
	// FindOpenIDByEmail resolves a spreadsheet open-identifier for an email
	// address. ok is false if the sheet has no contact on file.
	FindOpenIDByEmail(ctx context.Context, email string) (openID string, ok bool, err error)
}

// Resolver implements the Identity Resolver described in the component
// design: given an email, it produces (forgeUsername?, sheetOpenId?),
// consulting the Store cache first and falling back to the Sheet Gateway's
// contact lookup for sheetOpenId.
//
// forgeUsername is never auto-discovered: it is supplied at Member creation
// time, or inferred by the caller from an existing mapping assignee. A
// missing sheetOpenId is non-fatal — the Member stays usable, and
// sheet-side assignee fields are simply left unset until resolution
// succeeds on a later attempt.
type Resolver struct {
	store   *store.Store
	contact ContactLookup
	logger  *slog.Logger
}

// New builds a Resolver. contact may be nil, in which case sheetOpenId
// resolution is always a no-op miss.
func New(s *store.Store, contact ContactLookup, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}

	return &Resolver{store: s, contact: contact, logger: logger}
}

// Identifiers is the resolved pair of external identifiers for a Member.
type Identifiers struct {
	ForgeUsername string
	SheetOpenID   string
}

// Resolve returns the forge username and sheet open-identifier for a
// member's email, consulting the Member row cached in Store. If the cached
// row lacks a sheetOpenId, Resolve queries the Sheet Gateway's contact
// lookup and persists the result on the Member row for next time.
func (r *Resolver) Resolve(ctx context.Context, q store.Querier, email string) (Identifiers, error) {
	member, err := r.store.FindMemberByEmail(ctx, q, email)
	if errors.Is(err, store.ErrNotFound) {
		return Identifiers{}, fmt.Errorf("%w: %q: %w", ErrMemberNotFound, email, err)
	}

	if err != nil {
		return Identifiers{}, fmt.Errorf("identity: resolve %q: %w", email, err)
	}

	ids := Identifiers{ForgeUsername: member.ForgeUsername}

	if member.SheetOpenID != "" {
		ids.SheetOpenID = member.SheetOpenID

		return ids, nil
	}

	if r.contact == nil {
		return ids, nil
	}

	openID, found, err := r.contact.FindOpenIDByEmail(ctx, email)
	if err != nil {
		r.logger.Warn("sheet contact lookup failed",
			slog.String("email", email), slog.String("error", err.Error()))

		return ids, nil
	}

	if !found {
		return ids, nil
	}

	member.SheetOpenID = openID
	if err := r.store.UpsertMember(ctx, q, member); err != nil {
		return ids, fmt.Errorf("identity: cache sheetOpenId for %q: %w", email, err)
	}

	ids.SheetOpenID = openID

	return ids, nil
}

// Invalidate clears a cached identifier so the next Resolve re-queries the
// Sheet Gateway. Callers invoke this when a Gateway reports a referenced id
// as invalid (member left the workspace, openId rotated, etc).
func (r *Resolver) Invalidate(ctx context.Context, q store.Querier, email string) error {
	member, err := r.store.FindMemberByEmail(ctx, q, email)
	if err != nil {
		return fmt.Errorf("identity: invalidate %q: %w", email, err)
	}

	member.SheetOpenID = ""

	if err := r.store.UpsertMember(ctx, q, member); err != nil {
		return fmt.Errorf("identity: invalidate %q: %w", email, err)
	}

	return nil
}
