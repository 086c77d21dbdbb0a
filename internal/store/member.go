package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// MemberFilter narrows ListMembers. Zero-value fields are not filtered on.
type MemberFilter struct {
	Role   MemberRole
	Status MemberStatus
}

// UpsertMember inserts a Member or updates it by MemberID if it already
// exists. The email uniqueness invariant is enforced by a unique index;
// violating it surfaces as ErrEmailExists.
func (s *Store) UpsertMember(ctx context.Context, q Querier, m *Member) error {
	if m.MemberID == "" {
		m.MemberID = newID()
	}

	now := time.Now().UTC()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}

	m.UpdatedAt = now

	assignments, err := json.Marshal(m.TableAssignments)
	if err != nil {
		return fmt.Errorf("store: marshal table assignments: %w", err)
	}

	const q1 = `
		INSERT INTO members (member_id, email, forge_username, sheet_open_id, role, status, table_assignments, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (member_id) DO UPDATE SET
			email = EXCLUDED.email,
			forge_username = EXCLUDED.forge_username,
			sheet_open_id = EXCLUDED.sheet_open_id,
			role = EXCLUDED.role,
			status = EXCLUDED.status,
			table_assignments = EXCLUDED.table_assignments,
			updated_at = EXCLUDED.updated_at`

	_, err = q.ExecContext(ctx, q1,
		m.MemberID, m.Email, m.ForgeUsername, m.SheetOpenID, m.Role, m.Status, assignments, m.CreatedAt, m.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err, "members_email_key") {
			return ErrEmailExists
		}

		return fmt.Errorf("store: upsert member: %w", err)
	}

	return nil
}

// FindMemberByEmail looks up a Member by its canonical email.
func (s *Store) FindMemberByEmail(ctx context.Context, q Querier, email string) (*Member, error) {
	return s.findMember(ctx, q, "email = $1", email)
}

// FindMemberByID looks up a Member by its opaque id.
func (s *Store) FindMemberByID(ctx context.Context, q Querier, memberID string) (*Member, error) {
	return s.findMember(ctx, q, "member_id = $1", memberID)
}

// FindMemberByForgeUsername looks up a Member by forge username (the one set
// at Member creation time).
func (s *Store) FindMemberByForgeUsername(ctx context.Context, q Querier, username string) (*Member, error) {
	return s.findMember(ctx, q, "forge_username = $1", username)
}

func (s *Store) findMember(ctx context.Context, q Querier, where string, arg string) (*Member, error) {
	query := `
		SELECT member_id, email, forge_username, sheet_open_id, role, status, table_assignments, created_at, updated_at
		FROM members WHERE ` + where

	row := q.QueryRowContext(ctx, query, arg)

	m, err := scanMember(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("store: find member: %w", err)
	}

	return m, nil
}

func scanMember(row *sql.Row) (*Member, error) {
	var (
		m           Member
		assignments []byte
	)

	if err := row.Scan(
		&m.MemberID, &m.Email, &m.ForgeUsername, &m.SheetOpenID, &m.Role, &m.Status,
		&assignments, &m.CreatedAt, &m.UpdatedAt,
	); err != nil {
		return nil, err
	}

	if len(assignments) > 0 {
		if err := json.Unmarshal(assignments, &m.TableAssignments); err != nil {
			return nil, fmt.Errorf("store: unmarshal table assignments: %w", err)
		}
	}

	return &m, nil
}

// ListMembers returns members matching the filter, ordered by email.
func (s *Store) ListMembers(ctx context.Context, q Querier, filter MemberFilter) ([]*Member, error) {
	query := `
		SELECT member_id, email, forge_username, sheet_open_id, role, status, table_assignments, created_at, updated_at
		FROM members WHERE 1=1`

	args := []any{}

	if filter.Role != "" {
		args = append(args, filter.Role)
		query += fmt.Sprintf(" AND role = $%d", len(args))
	}

	if filter.Status != "" {
		args = append(args, filter.Status)
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}

	query += " ORDER BY email"

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: list members: %w", err)
	}
	defer rows.Close()

	var out []*Member

	for rows.Next() {
		var (
			m           Member
			assignments []byte
		)

		if err := rows.Scan(
			&m.MemberID, &m.Email, &m.ForgeUsername, &m.SheetOpenID, &m.Role, &m.Status,
			&assignments, &m.CreatedAt, &m.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("store: scan member: %w", err)
		}

		if len(assignments) > 0 {
			if err := json.Unmarshal(assignments, &m.TableAssignments); err != nil {
				return nil, fmt.Errorf("store: unmarshal table assignments: %w", err)
			}
		}

		out = append(out, &m)
	}

	return out, rows.Err()
}

// DeactivateMember soft-deletes a Member by setting status=inactive. The row
// is preserved so historical task assignments still resolve.
func (s *Store) DeactivateMember(ctx context.Context, q Querier, memberID string) error {
	res, err := q.ExecContext(ctx,
		`UPDATE members SET status = $1, updated_at = $2 WHERE member_id = $3`,
		MemberInactive, time.Now().UTC(), memberID)
	if err != nil {
		return fmt.Errorf("store: deactivate member: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: deactivate member: %w", err)
	}

	if n == 0 {
		return ErrNotFound
	}

	return nil
}

func isUniqueViolation(err error, constraint string) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505" && (constraint == "" || pqErr.Constraint == constraint)
	}

	return false
}
