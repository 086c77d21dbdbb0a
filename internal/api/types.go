// Package api provides the control-plane HTTP API server for the task
// synchronization service.
package api

import (
	"time"

	"github.com/taskforge/sync/internal/store"
)

type (
	// CreateTaskRequest is the wire shape for POST /api/v1/tasks.
	CreateTaskRequest struct {
		Title         string            `json:"title"`
		Body          string            `json:"body,omitempty"`
		Priority      string            `json:"priority,omitempty"`
		AssigneeEmail string            `json:"assigneeEmail,omitempty"` //nolint:tagliatelle
		Labels        []string          `json:"labels,omitempty"`
		TargetTable   *SheetTableRefDTO `json:"targetTable,omitempty"` //nolint:tagliatelle
		AlsoConvert   bool              `json:"alsoConvert,omitempty"` //nolint:tagliatelle
	}

	// UpdateTaskRequest is the wire shape for PATCH /api/v1/tasks/{taskId}.
	// A field omitted from the JSON body leaves the corresponding Task field
	// unchanged; ClearAssignee explicitly unassigns.
	UpdateTaskRequest struct {
		Title         *string   `json:"title,omitempty"`
		Body          *string   `json:"body,omitempty"`
		Status        *string   `json:"status,omitempty"`
		Priority      *string   `json:"priority,omitempty"`
		AssigneeEmail *string   `json:"assigneeEmail,omitempty"` //nolint:tagliatelle
		ClearAssignee bool      `json:"clearAssignee,omitempty"` //nolint:tagliatelle
		Labels        *[]string `json:"labels,omitempty"`
	}

	// CloseTaskRequest is the wire shape for POST /api/v1/tasks/{taskId}/close.
	CloseTaskRequest struct {
		Reason string `json:"reason"` // "completed" closes as Done, anything else as Cancelled
	}

	// TaskResponse is the wire shape for a Task in API responses.
	TaskResponse struct {
		TaskID           string            `json:"taskId"` //nolint:tagliatelle
		Title            string            `json:"title"`
		Body             string            `json:"body,omitempty"`
		Status           string            `json:"status"`
		Priority         string            `json:"priority"`
		Source           string            `json:"source"`
		AssigneeMemberID string            `json:"assigneeMemberId,omitempty"` //nolint:tagliatelle
		Labels           []string          `json:"labels,omitempty"`
		TargetTable      *SheetTableRefDTO `json:"targetTable,omitempty"` //nolint:tagliatelle
		CreatedAt        time.Time         `json:"createdAt"`             //nolint:tagliatelle
		UpdatedAt        time.Time         `json:"updatedAt"`             //nolint:tagliatelle
	}

	// SheetTableRefDTO is the wire shape of store.SheetTableRef.
	SheetTableRefDTO struct {
		AppToken string `json:"appToken"` //nolint:tagliatelle
		TableID  string `json:"tableId"`  //nolint:tagliatelle
	}

	// ConvertForgeToSheetRequest is the wire shape for
	// POST /api/v1/conversions/forge-to-sheet.
	ConvertForgeToSheetRequest struct {
		Repo        string           `json:"repo"`
		Number      int              `json:"number"`
		TargetTable SheetTableRefDTO `json:"targetTable"` //nolint:tagliatelle
	}

	// ConvertSheetToForgeRequest is the wire shape for
	// POST /api/v1/conversions/sheet-to-forge.
	ConvertSheetToForgeRequest struct {
		AppToken string `json:"appToken"` //nolint:tagliatelle
		TableID  string `json:"tableId"`  //nolint:tagliatelle
		RecordID string `json:"recordId"` //nolint:tagliatelle
		Repo     string `json:"repo,omitempty"`
	}

	// MappingResponse is the wire shape for a Mapping in API responses.
	MappingResponse struct {
		MappingID  string             `json:"mappingId"` //nolint:tagliatelle
		TaskID     string             `json:"taskId"`     //nolint:tagliatelle
		ForgeRef   *ForgeIssueRefDTO  `json:"forgeRef,omitempty"`
		SheetRef   *SheetRecordRefDTO `json:"sheetRef,omitempty"`
		SyncStatus string             `json:"syncStatus"` //nolint:tagliatelle
	}

	// ForgeIssueRefDTO is the wire shape of store.ForgeIssueRef.
	ForgeIssueRefDTO struct {
		Repo   string `json:"repo"`
		Number int    `json:"number"`
	}

	// SheetRecordRefDTO is the wire shape of store.SheetRecordRef.
	SheetRecordRefDTO struct {
		AppToken string `json:"appToken"` //nolint:tagliatelle
		TableID  string `json:"tableId"`  //nolint:tagliatelle
		RecordID string `json:"recordId"` //nolint:tagliatelle
	}

	// CreateMemberRequest is the wire shape for POST /api/v1/members.
	CreateMemberRequest struct {
		Email            string             `json:"email"`
		ForgeUsername    string             `json:"forgeUsername,omitempty"` //nolint:tagliatelle
		Role             string             `json:"role,omitempty"`
		TableAssignments []SheetTableRefDTO `json:"tableAssignments,omitempty"` //nolint:tagliatelle
	}

	// UpdateMemberRequest is the wire shape for PATCH /api/v1/members/{memberId}.
	UpdateMemberRequest struct {
		ForgeUsername    *string             `json:"forgeUsername,omitempty"` //nolint:tagliatelle
		Role             *string             `json:"role,omitempty"`
		TableAssignments *[]SheetTableRefDTO `json:"tableAssignments,omitempty"` //nolint:tagliatelle
	}

	// MemberResponse is the wire shape for a Member in API responses.
	MemberResponse struct {
		MemberID         string             `json:"memberId"` //nolint:tagliatelle
		Email            string             `json:"email"`
		ForgeUsername    string             `json:"forgeUsername,omitempty"` //nolint:tagliatelle
		SheetOpenID      string             `json:"sheetOpenId,omitempty"`   //nolint:tagliatelle
		Role             string             `json:"role"`
		Status           string             `json:"status"`
		TableAssignments []SheetTableRefDTO `json:"tableAssignments,omitempty"` //nolint:tagliatelle
		CreatedAt        time.Time          `json:"createdAt"`                  //nolint:tagliatelle
		UpdatedAt        time.Time          `json:"updatedAt"`                  //nolint:tagliatelle
	}

	// MemberWorkResponse is the wire shape for GET /api/v1/members/{memberId}/work.
	MemberWorkResponse struct {
		Member MemberResponse    `json:"member"`
		Tasks  []TaskWorkItemDTO `json:"tasks"`
	}

	// TaskWorkItemDTO pairs a TaskResponse with its Mapping sync status.
	TaskWorkItemDTO struct {
		Task       TaskResponse `json:"task"`
		SyncStatus string       `json:"syncStatus"` //nolint:tagliatelle
	}
)

func sheetTableRefFromDTO(dto *SheetTableRefDTO) *store.SheetTableRef {
	if dto == nil {
		return nil
	}

	return &store.SheetTableRef{AppToken: dto.AppToken, TableID: dto.TableID}
}

func sheetTableRefToDTO(ref *store.SheetTableRef) *SheetTableRefDTO {
	if ref == nil {
		return nil
	}

	return &SheetTableRefDTO{AppToken: ref.AppToken, TableID: ref.TableID}
}

func sheetTableRefsToDTO(refs []store.SheetTableRef) []SheetTableRefDTO {
	if refs == nil {
		return nil
	}

	dtos := make([]SheetTableRefDTO, len(refs))
	for i, r := range refs {
		dtos[i] = SheetTableRefDTO{AppToken: r.AppToken, TableID: r.TableID}
	}

	return dtos
}

func sheetTableRefsFromDTO(dtos []SheetTableRefDTO) []store.SheetTableRef {
	if dtos == nil {
		return nil
	}

	refs := make([]store.SheetTableRef, len(dtos))
	for i, d := range dtos {
		refs[i] = store.SheetTableRef{AppToken: d.AppToken, TableID: d.TableID}
	}

	return refs
}

func taskToResponse(t *store.Task) TaskResponse {
	return TaskResponse{
		TaskID:           t.TaskID,
		Title:            t.Title,
		Body:             t.Body,
		Status:           string(t.Status),
		Priority:         string(t.Priority),
		Source:           string(t.Source),
		AssigneeMemberID: t.AssigneeMemberID,
		Labels:           t.Labels,
		TargetTable:      sheetTableRefToDTO(t.TargetTable),
		CreatedAt:        t.CreatedAt,
		UpdatedAt:        t.UpdatedAt,
	}
}

func memberToResponse(m *store.Member) MemberResponse {
	return MemberResponse{
		MemberID:         m.MemberID,
		Email:            m.Email,
		ForgeUsername:    m.ForgeUsername,
		SheetOpenID:      m.SheetOpenID,
		Role:             string(m.Role),
		Status:           string(m.Status),
		TableAssignments: sheetTableRefsToDTO(m.TableAssignments),
		CreatedAt:        m.CreatedAt,
		UpdatedAt:        m.UpdatedAt,
	}
}

func mappingToResponse(taskID string, m *store.Mapping) MappingResponse {
	resp := MappingResponse{
		MappingID:  m.MappingID,
		TaskID:     taskID,
		SyncStatus: string(m.SyncStatus),
	}

	if m.ForgeRef != nil {
		resp.ForgeRef = &ForgeIssueRefDTO{Repo: m.ForgeRef.Repo, Number: m.ForgeRef.Number}
	}

	if m.SheetRef != nil {
		resp.SheetRef = &SheetRecordRefDTO{
			AppToken: m.SheetRef.AppToken,
			TableID:  m.SheetRef.TableID,
			RecordID: m.SheetRef.RecordID,
		}
	}

	return resp
}
