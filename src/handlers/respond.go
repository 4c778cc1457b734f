package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/username/fundlio/backend/src/importer"
	"github.com/username/fundlio/backend/src/lockstore"
	"github.com/username/fundlio/backend/src/logger"
	"github.com/username/fundlio/backend/src/security/validation"
	"github.com/username/fundlio/backend/src/services"
)

// APIError is the wire shape of every user-visible failure: a stable
// code plus a human-readable message. Raw internals never leak.
type APIError struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	RowIndex *int   `json:"row_index,omitempty"`
}

func sendJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.L.Error("Error encoding JSON response", "error", err)
	}
}

func sendJSONError(w http.ResponseWriter, code, message string, status int) {
	sendJSON(w, status, map[string]APIError{"error": {Code: code, Message: message}})
}

// sendServiceError maps service-layer errors onto stable API codes and
// HTTP statuses.
func sendServiceError(w http.ResponseWriter, err error) {
	var violation *importer.RowViolation
	if errors.As(err, &violation) {
		idx := violation.Index
		sendJSON(w, http.StatusBadRequest, map[string]APIError{"error": {
			Code:     violation.Code,
			Message:  safeMessage(err),
			RowIndex: &idx,
		}})
		return
	}

	code, status := "internal_error", http.StatusInternalServerError
	switch {
	case errors.Is(err, services.ErrMissingField):
		code, status = "missing_required_field", http.StatusBadRequest
	case errors.Is(err, services.ErrRowCountMismatch):
		code, status = "row_count_mismatch", http.StatusBadRequest
	case errors.Is(err, services.ErrTooManyTransactions):
		code, status = "too_many_transactions", http.StatusBadRequest
	case errors.Is(err, services.ErrNoValidTransactions):
		code, status = "no_valid_transactions", http.StatusBadRequest
	case errors.Is(err, lockstore.ErrLocked):
		code, status = "locked", http.StatusConflict
	case errors.Is(err, services.ErrParentNotFound):
		code, status = "parent_not_found", http.StatusNotFound
	case errors.Is(err, services.ErrParentNotEligible):
		code, status = "parent_not_eligible", http.StatusBadRequest
	case errors.Is(err, services.ErrTooFewSplitLines), errors.Is(err, services.ErrInvalidSplitLine):
		code, status = "invalid_split_lines", http.StatusBadRequest
	case errors.Is(err, services.ErrSumMismatch):
		code, status = "sum_mismatch", http.StatusBadRequest
	case errors.Is(err, services.ErrCategoryNotFound):
		code, status = "category_not_found", http.StatusBadRequest
	case errors.Is(err, services.ErrContactNotFound):
		code, status = "contact_not_found", http.StatusBadRequest
	case errors.Is(err, services.ErrDonationContactNotDonor):
		code, status = "donation_contact_not_donor", http.StatusBadRequest
	case errors.Is(err, services.ErrRollbackFailed):
		code, status = "rollback_failed", http.StatusInternalServerError
	case errors.Is(err, validation.ErrValidationFailed):
		code, status = "validation_failed", http.StatusBadRequest
	case errors.Is(err, services.ErrImportFailed):
		code, status = "import_failed", http.StatusInternalServerError
	}
	sendJSONError(w, code, safeMessage(err), status)
}

// safeMessage strips anything after a newline and caps the length, so
// no stack traces or storage paths reach the caller.
func safeMessage(err error) string {
	msg := err.Error()
	if idx := strings.IndexAny(msg, "\n\r"); idx >= 0 {
		msg = msg[:idx]
	}
	const maxLen = 300
	if len(msg) > maxLen {
		msg = msg[:maxLen]
	}
	return msg
}
