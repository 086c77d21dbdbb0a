// Package api provides the control-plane HTTP API server for the task
// synchronization service.
package api

import (
	"net/http"

	"github.com/taskforge/sync/internal/intent"
	"github.com/taskforge/sync/internal/store"
)

// handleCreateMember handles POST /api/v1/members.
func (s *Server) handleCreateMember(w http.ResponseWriter, r *http.Request) {
	var req CreateMemberRequest
	if !s.decodeJSONBody(w, r, &req) {
		return
	}

	if req.Email == "" {
		WriteErrorResponse(w, r, s.logger, BadRequest("email is required"))

		return
	}

	memberID, err := s.intent.CreateMember(r.Context(), intent.CreateMemberRequest{
		Email:            req.Email,
		ForgeUsername:    req.ForgeUsername,
		Role:             store.MemberRole(req.Role),
		TableAssignments: sheetTableRefsFromDTO(req.TableAssignments),
	})
	if err != nil {
		s.writeIntentError(w, r, "create member", err)

		return
	}

	member, err := s.intent.GetMember(r.Context(), memberID)
	if err != nil {
		s.writeIntentError(w, r, "create member", err)

		return
	}

	writeJSON(w, r, s.logger, http.StatusCreated, memberToResponse(member))
}

// handleListMembers handles GET /api/v1/members.
func (s *Server) handleListMembers(w http.ResponseWriter, r *http.Request) {
	filter := store.MemberFilter{
		Role:   store.MemberRole(r.URL.Query().Get("role")),
		Status: store.MemberStatus(r.URL.Query().Get("status")),
	}

	members, err := s.intent.ListMembers(r.Context(), filter)
	if err != nil {
		s.writeIntentError(w, r, "list members", err)

		return
	}

	resp := make([]MemberResponse, 0, len(members))
	for _, m := range members {
		resp = append(resp, memberToResponse(m))
	}

	writeJSON(w, r, s.logger, http.StatusOK, resp)
}

// handleGetMember handles GET /api/v1/members/{memberId}.
func (s *Server) handleGetMember(w http.ResponseWriter, r *http.Request) {
	member, err := s.intent.GetMember(r.Context(), r.PathValue("memberId"))
	if err != nil {
		s.writeIntentError(w, r, "get member", err)

		return
	}

	writeJSON(w, r, s.logger, http.StatusOK, memberToResponse(member))
}

// handleUpdateMember handles PATCH /api/v1/members/{memberId}.
func (s *Server) handleUpdateMember(w http.ResponseWriter, r *http.Request) {
	memberID := r.PathValue("memberId")

	var req UpdateMemberRequest
	if !s.decodeJSONBody(w, r, &req) {
		return
	}

	patch := intent.UpdateMemberPatch{
		ForgeUsername: req.ForgeUsername,
	}

	if req.Role != nil {
		role := store.MemberRole(*req.Role)
		patch.Role = &role
	}

	if req.TableAssignments != nil {
		refs := sheetTableRefsFromDTO(*req.TableAssignments)
		patch.TableAssignments = &refs
	}

	if err := s.intent.UpdateMember(r.Context(), memberID, patch); err != nil {
		s.writeIntentError(w, r, "update member", err)

		return
	}

	member, err := s.intent.GetMember(r.Context(), memberID)
	if err != nil {
		s.writeIntentError(w, r, "update member", err)

		return
	}

	writeJSON(w, r, s.logger, http.StatusOK, memberToResponse(member))
}

// handleDeactivateMember handles DELETE /api/v1/members/{memberId}.
func (s *Server) handleDeactivateMember(w http.ResponseWriter, r *http.Request) {
	memberID := r.PathValue("memberId")

	if err := s.intent.DeactivateMember(r.Context(), memberID); err != nil {
		s.writeIntentError(w, r, "deactivate member", err)

		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleGetMemberWork handles GET /api/v1/members/{memberId}/work.
func (s *Server) handleGetMemberWork(w http.ResponseWriter, r *http.Request) {
	view, err := s.intent.GetMemberWork(r.Context(), r.PathValue("memberId"))
	if err != nil {
		s.writeIntentError(w, r, "get member work", err)

		return
	}

	resp := MemberWorkResponse{
		Member: memberToResponse(view.Member),
		Tasks:  make([]TaskWorkItemDTO, 0, len(view.Tasks)),
	}

	for _, item := range view.Tasks {
		resp.Tasks = append(resp.Tasks, TaskWorkItemDTO{
			Task:       taskToResponse(item.Task),
			SyncStatus: string(item.SyncStatus),
		})
	}

	writeJSON(w, r, s.logger, http.StatusOK, resp)
}
