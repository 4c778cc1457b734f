package handlers

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/username/fundlio/backend/src/logger"
	"github.com/username/fundlio/backend/src/models"
	"github.com/username/fundlio/backend/src/services"
)

type ImportHandler struct {
	importService services.ImportService
	db            *sql.DB
}

func NewImportHandler(importService services.ImportService, db *sql.DB) *ImportHandler {
	return &ImportHandler{
		importService: importService,
		db:            db,
	}
}

// HandleImport ingests one normalized bulk-import request. Retries of
// a byte-identical payload are detected by content hash and replayed
// idempotently.
func (h *ImportHandler) HandleImport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ctxLogger := logger.FromContext(ctx)

	userID, ok := GetUserIDFromContext(ctx)
	if !ok {
		sendJSONError(w, "unauthorized", "authentication required", http.StatusUnauthorized)
		return
	}

	var req models.ImportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendJSONError(w, "invalid_body", "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.OrganizationID == "" {
		sendJSONError(w, "missing_required_field", "organization_id is required", http.StatusBadRequest)
		return
	}
	if err := authorizeOrgMember(ctx, h.db, userID, req.OrganizationID); err != nil {
		if errors.Is(err, errNotAMember) {
			sendJSONError(w, "forbidden", "not a member of this organization", http.StatusForbidden)
			return
		}
		ctxLogger.Error("Membership check failed", "error", err)
		sendJSONError(w, "internal_error", "authorization check failed", http.StatusInternalServerError)
		return
	}

	result, err := h.importService.ProcessImport(ctx, req, userID)
	if err != nil {
		ctxLogger.Warn("Import request failed", "orgID", req.OrganizationID, "error", err)
		sendServiceError(w, err)
		return
	}

	status := http.StatusCreated
	if result.Idempotent {
		status = http.StatusOK
	}
	sendJSON(w, status, result)
}

// HandleGetImportJob exposes the idempotency ledger entry for one
// content hash, for observability and the review surface.
func (h *ImportHandler) HandleGetImportJob(w http.ResponseWriter, r *http.Request) {
	h.handleLedgerLookup(w, r, func(orgID, hash string) (any, error) {
		job, err := h.importService.GetImportJob(r.Context(), orgID, hash)
		if err != nil || job == nil {
			return nil, err
		}
		return job, nil
	})
}

// HandleGetImportRun exposes the write-once run summary of a completed
// import.
func (h *ImportHandler) HandleGetImportRun(w http.ResponseWriter, r *http.Request) {
	h.handleLedgerLookup(w, r, func(orgID, hash string) (any, error) {
		run, err := h.importService.GetImportRun(r.Context(), orgID, hash)
		if err != nil || run == nil {
			return nil, err
		}
		return run, nil
	})
}

func (h *ImportHandler) handleLedgerLookup(w http.ResponseWriter, r *http.Request, fetch func(orgID, hash string) (any, error)) {
	ctx := r.Context()
	userID, ok := GetUserIDFromContext(ctx)
	if !ok {
		sendJSONError(w, "unauthorized", "authentication required", http.StatusUnauthorized)
		return
	}
	orgID := r.URL.Query().Get("organization_id")
	if orgID == "" {
		sendJSONError(w, "missing_required_field", "organization_id is required", http.StatusBadRequest)
		return
	}
	if err := authorizeOrgMember(ctx, h.db, userID, orgID); err != nil {
		if errors.Is(err, errNotAMember) {
			sendJSONError(w, "forbidden", "not a member of this organization", http.StatusForbidden)
			return
		}
		logger.FromContext(ctx).Error("Membership check failed", "error", err)
		sendJSONError(w, "internal_error", "authorization check failed", http.StatusInternalServerError)
		return
	}

	payload, err := fetch(orgID, chi.URLParam(r, "hash"))
	if err != nil {
		logger.FromContext(ctx).Error("Ledger lookup failed", "error", err)
		sendJSONError(w, "internal_error", "lookup failed", http.StatusInternalServerError)
		return
	}
	if payload == nil {
		sendJSONError(w, "not_found", "no import with this content hash", http.StatusNotFound)
		return
	}
	sendJSON(w, http.StatusOK, payload)
}
