// Package api provides the control-plane HTTP API server for the task
// synchronization service.
package api

import (
	"net/http"

	"github.com/taskforge/sync/internal/store"
)

// conversionAcceptedResponse acknowledges that a conversion request was
// enqueued. Conversions run asynchronously via the Outbox Dispatcher
// (spec.md §4.4), so the HTTP response carries no Task/Mapping — callers
// poll GET /api/v1/tasks or GET /api/v1/tasks/{taskId} to observe the result.
type conversionAcceptedResponse struct {
	Status string `json:"status"`
}

// handleConvertForgeToSheet handles POST /api/v1/conversions/forge-to-sheet.
func (s *Server) handleConvertForgeToSheet(w http.ResponseWriter, r *http.Request) {
	var req ConvertForgeToSheetRequest
	if !s.decodeJSONBody(w, r, &req) {
		return
	}

	if req.Repo == "" || req.Number == 0 || req.TargetTable.AppToken == "" || req.TargetTable.TableID == "" {
		WriteErrorResponse(w, r, s.logger, BadRequest("repo, number, and targetTable are required"))

		return
	}

	ref := store.ForgeIssueRef{Repo: req.Repo, Number: req.Number}
	table := store.SheetTableRef{AppToken: req.TargetTable.AppToken, TableID: req.TargetTable.TableID}

	if err := s.intent.ConvertForgeToSheet(r.Context(), ref, table); err != nil {
		s.writeIntentError(w, r, "convert forge to sheet", err)

		return
	}

	writeJSON(w, r, s.logger, http.StatusAccepted, conversionAcceptedResponse{Status: "accepted"})
}

// handleConvertSheetToForge handles POST /api/v1/conversions/sheet-to-forge.
func (s *Server) handleConvertSheetToForge(w http.ResponseWriter, r *http.Request) {
	var req ConvertSheetToForgeRequest
	if !s.decodeJSONBody(w, r, &req) {
		return
	}

	if req.AppToken == "" || req.TableID == "" || req.RecordID == "" {
		WriteErrorResponse(w, r, s.logger, BadRequest("appToken, tableId, and recordId are required"))

		return
	}

	ref := store.SheetRecordRef{AppToken: req.AppToken, TableID: req.TableID, RecordID: req.RecordID}

	if err := s.intent.ConvertSheetToForge(r.Context(), ref, req.Repo); err != nil {
		s.writeIntentError(w, r, "convert sheet to forge", err)

		return
	}

	writeJSON(w, r, s.logger, http.StatusAccepted, conversionAcceptedResponse{Status: "accepted"})
}
