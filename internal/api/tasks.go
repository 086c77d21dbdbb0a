// Package api provides the control-plane HTTP API server for the task
// synchronization service.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/taskforge/sync/internal/api/middleware"
	"github.com/taskforge/sync/internal/intent"
	"github.com/taskforge/sync/internal/store"
)

// handleCreateTask handles POST /api/v1/tasks.
func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	correlationID := middleware.GetCorrelationID(r.Context())

	var req CreateTaskRequest
	if !s.decodeJSONBody(w, r, &req) {
		return
	}

	if req.Title == "" {
		WriteErrorResponse(w, r, s.logger, BadRequest("title is required"))

		return
	}

	taskID, err := s.intent.CreateTask(r.Context(), intent.CreateTaskRequest{
		Title:         req.Title,
		Body:          req.Body,
		Priority:      store.TaskPriority(req.Priority),
		AssigneeEmail: req.AssigneeEmail,
		Labels:        req.Labels,
		TargetTable:   sheetTableRefFromDTO(req.TargetTable),
		AlsoConvert:   req.AlsoConvert,
	})
	if err != nil {
		s.writeIntentError(w, r, "create task", err)

		return
	}

	task, err := s.intent.GetTask(r.Context(), taskID)
	if err != nil {
		s.logger.Error("failed to load task after creation",
			slog.String("correlation_id", correlationID),
			slog.String("task_id", taskID),
			slog.String("error", err.Error()),
		)
		writeJSON(w, r, s.logger, http.StatusCreated, TaskResponse{TaskID: taskID})

		return
	}

	writeJSON(w, r, s.logger, http.StatusCreated, taskToResponse(task))
}

// handleListTasks handles GET /api/v1/tasks.
func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	filter := store.TaskFilter{
		Status:           store.TaskStatus(r.URL.Query().Get("status")),
		AssigneeMemberID: r.URL.Query().Get("assigneeMemberId"),
		Source:           store.TaskSource(r.URL.Query().Get("source")),
	}

	tasks, err := s.intent.ListTasks(r.Context(), filter)
	if err != nil {
		s.writeIntentError(w, r, "list tasks", err)

		return
	}

	resp := make([]TaskResponse, 0, len(tasks))
	for _, t := range tasks {
		resp = append(resp, taskToResponse(t))
	}

	writeJSON(w, r, s.logger, http.StatusOK, resp)
}

// handleGetTask handles GET /api/v1/tasks/{taskId}.
func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	taskID := r.PathValue("taskId")

	task, err := s.intent.GetTask(r.Context(), taskID)
	if err != nil {
		s.writeIntentError(w, r, "get task", err)

		return
	}

	writeJSON(w, r, s.logger, http.StatusOK, taskToResponse(task))
}

// handleGetTaskMapping handles GET /api/v1/tasks/{taskId}/mapping.
func (s *Server) handleGetTaskMapping(w http.ResponseWriter, r *http.Request) {
	taskID := r.PathValue("taskId")

	mapping, err := s.intent.GetTaskMapping(r.Context(), taskID)
	if err != nil {
		s.writeIntentError(w, r, "get task mapping", err)

		return
	}

	writeJSON(w, r, s.logger, http.StatusOK, mappingToResponse(taskID, mapping))
}

// handleUpdateTask handles PATCH /api/v1/tasks/{taskId}.
func (s *Server) handleUpdateTask(w http.ResponseWriter, r *http.Request) {
	taskID := r.PathValue("taskId")

	var req UpdateTaskRequest
	if !s.decodeJSONBody(w, r, &req) {
		return
	}

	patch := intent.UpdateTaskPatch{
		Title:         req.Title,
		Body:          req.Body,
		AssigneeEmail: req.AssigneeEmail,
		ClearAssignee: req.ClearAssignee,
		Labels:        req.Labels,
	}

	if req.Status != nil {
		status := store.TaskStatus(*req.Status)
		patch.Status = &status
	}

	if req.Priority != nil {
		priority := store.TaskPriority(*req.Priority)
		patch.Priority = &priority
	}

	if err := s.intent.UpdateTask(r.Context(), taskID, patch); err != nil {
		s.writeIntentError(w, r, "update task", err)

		return
	}

	task, err := s.intent.GetTask(r.Context(), taskID)
	if err != nil {
		s.writeIntentError(w, r, "update task", err)

		return
	}

	writeJSON(w, r, s.logger, http.StatusOK, taskToResponse(task))
}

// handleCloseTask handles POST /api/v1/tasks/{taskId}/close.
func (s *Server) handleCloseTask(w http.ResponseWriter, r *http.Request) {
	taskID := r.PathValue("taskId")

	var req CloseTaskRequest
	if !s.decodeJSONBody(w, r, &req) {
		return
	}

	if err := s.intent.CloseTask(r.Context(), taskID, req.Reason); err != nil {
		s.writeIntentError(w, r, "close task", err)

		return
	}

	task, err := s.intent.GetTask(r.Context(), taskID)
	if err != nil {
		s.writeIntentError(w, r, "close task", err)

		return
	}

	writeJSON(w, r, s.logger, http.StatusOK, taskToResponse(task))
}

// writeIntentError translates intent/store sentinel errors into RFC 7807 problem
// responses and logs the underlying error.
func (s *Server) writeIntentError(w http.ResponseWriter, r *http.Request, op string, err error) {
	correlationID := middleware.GetCorrelationID(r.Context())

	switch {
	case errors.Is(err, store.ErrNotFound):
		WriteErrorResponse(w, r, s.logger, NotFound(op+": not found"))
	case errors.Is(err, store.ErrEmailExists),
		errors.Is(err, store.ErrMappingRefImmutable),
		errors.Is(err, store.ErrMappingRefConflict),
		errors.Is(err, store.ErrUnknownTable):
		WriteErrorResponse(w, r, s.logger, BadRequest(op+": "+err.Error()))
	default:
		s.logger.Error("intent operation failed",
			slog.String("correlation_id", correlationID),
			slog.String("operation", op),
			slog.String("error", err.Error()),
		)
		WriteErrorResponse(w, r, s.logger, InternalServerError(op+" failed"))
	}
}

// decodeJSONBody decodes r's JSON body into dst, enforcing the server's
// configured MaxRequestSize and writing an RFC 7807 error response on
// failure. Returns false if the response has already been written.
func (s *Server) decodeJSONBody(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	maxSize := s.config.MaxRequestSize
	if maxSize <= 0 {
		maxSize = DefaultMaxRequestSize
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxSize)

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()

	if err := decoder.Decode(dst); err != nil {
		WriteErrorResponse(w, r, s.logger, BadRequest("invalid request body: "+err.Error()))

		return false
	}

	return true
}

// writeJSON writes v as a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, r *http.Request, logger *slog.Logger, status int, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		logger.Error("failed to encode response",
			slog.String("correlation_id", middleware.GetCorrelationID(r.Context())),
			slog.String("error", err.Error()),
		)
		WriteErrorResponse(w, r, logger, InternalServerError("failed to encode response"))

		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if _, err := w.Write(data); err != nil {
		logger.Error("failed to write response",
			slog.String("correlation_id", middleware.GetCorrelationID(r.Context())),
			slog.String("error", err.Error()),
		)
	}
}
