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

type SplitHandler struct {
	splitService services.SplitService
	db           *sql.DB
}

func NewSplitHandler(splitService services.SplitService, db *sql.DB) *SplitHandler {
	return &SplitHandler{
		splitService: splitService,
		db:           db,
	}
}

// HandleSplit decomposes one transaction into attributed lines. The
// parent id comes from the URL, the lines from the body.
func (h *SplitHandler) HandleSplit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ctxLogger := logger.FromContext(ctx)

	userID, ok := GetUserIDFromContext(ctx)
	if !ok {
		sendJSONError(w, "unauthorized", "authentication required", http.StatusUnauthorized)
		return
	}

	var req models.SplitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendJSONError(w, "invalid_body", "Invalid request body", http.StatusBadRequest)
		return
	}
	req.ParentTransactionID = chi.URLParam(r, "id")
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

	result, err := h.splitService.SplitTransaction(ctx, req, userID)
	if err != nil {
		ctxLogger.Warn("Split request failed", "parentID", req.ParentTransactionID, "error", err)
		sendServiceError(w, err)
		return
	}
	sendJSON(w, http.StatusOK, result)
}
