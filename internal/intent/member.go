package intent

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/taskforge/sync/internal/store"
)

// CreateMemberRequest is the Member-CRUD create argument bundle.
type CreateMemberRequest struct {
	Email            string
	ForgeUsername    string
	Role             store.MemberRole
	TableAssignments []store.SheetTableRef
}

// CreateMember creates a Member and resolves its sheetOpenId via the
// Identity Resolver (non-fatal if resolution fails — spec.md §4.2 failure
// policy: the Member is still usable).
func (svc *Service) CreateMember(ctx context.Context, req CreateMemberRequest) (string, error) {
	if req.Email == "" {
		return "", fmt.Errorf("%w: email is required", errInvalidRequest)
	}

	role := req.Role
	if role == "" {
		role = store.RoleMember
	}

	var memberID string

	err := svc.store.Transaction(ctx, func(tx *sql.Tx) error {
		member := &store.Member{
			Email:            req.Email,
			ForgeUsername:    req.ForgeUsername,
			Role:             role,
			Status:           store.MemberActive,
			TableAssignments: req.TableAssignments,
		}

		if err := svc.store.UpsertMember(ctx, tx, member); err != nil {
			return err
		}

		if svc.resolver != nil {
			ids, err := svc.resolver.Resolve(ctx, tx, req.Email)
			if err == nil {
				member.SheetOpenID = ids.SheetOpenID

				if member.ForgeUsername == "" {
					member.ForgeUsername = ids.ForgeUsername
				}
			} else {
				svc.logger.Warn("intent: identity resolution failed at member creation",
					"email", req.Email, "error", err.Error())
			}
		}

		memberID = member.MemberID

		return svc.store.AppendAudit(ctx, tx, &store.AuditEntry{
			Direction: store.DirectionInternal,
			Subject:   "member",
			SubjectID: memberID,
			Status:    "created",
			Message:   fmt.Sprintf("member created: %s", req.Email),
		})
	})
	if err != nil {
		return "", err
	}

	return memberID, nil
}

// UpdateMemberPatch mirrors UpdateTaskPatch's nil-means-unchanged contract.
type UpdateMemberPatch struct {
	ForgeUsername    *string
	Role             *store.MemberRole
	TableAssignments *[]store.SheetTableRef
}

// UpdateMember applies patch to an existing Member.
func (svc *Service) UpdateMember(ctx context.Context, memberID string, patch UpdateMemberPatch) error {
	return svc.store.Transaction(ctx, func(tx *sql.Tx) error {
		member, err := svc.store.FindMemberByID(ctx, tx, memberID)
		if err != nil {
			return err
		}

		if patch.ForgeUsername != nil {
			member.ForgeUsername = *patch.ForgeUsername
		}

		if patch.Role != nil {
			member.Role = *patch.Role
		}

		if patch.TableAssignments != nil {
			member.TableAssignments = *patch.TableAssignments
		}

		return svc.store.UpsertMember(ctx, tx, member)
	})
}

// DeactivateMember soft-deletes a Member (spec.md §3: status=inactive, row
// preserved).
func (svc *Service) DeactivateMember(ctx context.Context, memberID string) error {
	return svc.store.Transaction(ctx, func(tx *sql.Tx) error {
		if err := svc.store.DeactivateMember(ctx, tx, memberID); err != nil {
			return err
		}

		return svc.store.AppendAudit(ctx, tx, &store.AuditEntry{
			Direction: store.DirectionInternal,
			Subject:   "member",
			SubjectID: memberID,
			Status:    "deactivated",
			Message:   "member deactivated",
		})
	})
}

// ListMembers is a read-only pass-through to Store.
func (svc *Service) ListMembers(ctx context.Context, filter store.MemberFilter) ([]*store.Member, error) {
	return svc.store.ListMembers(ctx, svc.conn(), filter)
}

// GetMember resolves memberIdentifier as either an opaque memberId or an
// email, trying memberId first.
func (svc *Service) GetMember(ctx context.Context, memberIdentifier string) (*store.Member, error) {
	member, err := svc.store.FindMemberByID(ctx, svc.conn(), memberIdentifier)
	if err == nil {
		return member, nil
	}

	return svc.store.FindMemberByEmail(ctx, svc.conn(), memberIdentifier)
}

// MemberWorkView aggregates a Member's assigned Tasks with each Task's
// Mapping sync status, for getMemberWork (spec.md §4.7).
type MemberWorkView struct {
	Member *store.Member
	Tasks  []TaskWorkItem
}

// TaskWorkItem pairs a Task with its Mapping's sync status.
type TaskWorkItem struct {
	Task       *store.Task
	SyncStatus store.SyncStatus
}

// GetMemberWork resolves memberIdentifier and lists its assigned Tasks,
// annotated with each Task's Mapping sync status — a read-only aggregate
// across both external bindings via Mapping.
func (svc *Service) GetMemberWork(ctx context.Context, memberIdentifier string) (*MemberWorkView, error) {
	member, err := svc.GetMember(ctx, memberIdentifier)
	if err != nil {
		return nil, err
	}

	tasks, err := svc.store.ListTasks(ctx, svc.conn(), store.TaskFilter{AssigneeMemberID: member.MemberID})
	if err != nil {
		return nil, err
	}

	items := make([]TaskWorkItem, 0, len(tasks))

	for _, task := range tasks {
		syncStatus := store.SyncPending

		mapping, err := svc.store.GetMappingByTask(ctx, svc.conn(), task.TaskID)
		if err == nil {
			syncStatus = mapping.SyncStatus
		}

		items = append(items, TaskWorkItem{Task: task, SyncStatus: syncStatus})
	}

	return &MemberWorkView{Member: member, Tasks: items}, nil
}
