package handlers

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/username/fundlio/backend/src/logger"
	"github.com/username/fundlio/backend/src/security"
)

type contextKey string

const (
	userIDContextKey    contextKey = "userID"
	requestIDContextKey contextKey = "requestID"
)

// ContextualLoggerMiddleware creates a logger with a requestID for each request.
func ContextualLoggerMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := uuid.New().String()
		ctxLogger := logger.L.With(slog.String("requestID", requestID))

		ctx := logger.ToContext(r.Context(), ctxLogger)
		ctx = context.WithValue(ctx, requestIDContextKey, requestID)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// AuthMiddleware verifies the bearer token and stores the caller's
// user id in the request context. Token issuance is external; this is
// the verification half of that contract.
func AuthMiddleware(authService *security.AuthService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctxLogger := logger.FromContext(r.Context())

			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				ctxLogger.Debug("AuthMiddleware: Authorization header missing", "path", r.URL.Path)
				sendJSONError(w, "unauthorized", "Authorization header required", http.StatusUnauthorized)
				return
			}

			tokenString := strings.TrimPrefix(authHeader, "Bearer ")
			if tokenString == "" {
				ctxLogger.Debug("AuthMiddleware: Token string empty", "path", r.URL.Path)
				sendJSONError(w, "unauthorized", "Malformed token", http.StatusUnauthorized)
				return
			}

			userID, err := authService.ValidateToken(tokenString)
			if err != nil {
				ctxLogger.Warn("AuthMiddleware: Token validation failed", "path", r.URL.Path, "error", err)
				sendJSONError(w, "unauthorized", "Invalid or expired token", http.StatusUnauthorized)
				return
			}

			ctxLogger = ctxLogger.With(slog.String("userID", userID))
			ctx := logger.ToContext(r.Context(), ctxLogger)
			ctx = context.WithValue(ctx, userIDContextKey, userID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetUserIDFromContext retrieves the authenticated caller's id.
func GetUserIDFromContext(ctx context.Context) (string, bool) {
	userID, ok := ctx.Value(userIDContextKey).(string)
	return userID, ok && userID != ""
}

var errNotAMember = errors.New("caller is not a member of the organization")

// authorizeOrgMember checks the caller's membership in the target
// organization. It runs before any core logic touches the store.
func authorizeOrgMember(ctx context.Context, db *sql.DB, userID, orgID string) error {
	var one int
	err := db.QueryRowContext(ctx,
		`SELECT 1 FROM organization_members WHERE user_id = ? AND organization_id = ?`,
		userID, orgID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return errNotAMember
	}
	if err != nil {
		return fmt.Errorf("checking organization membership: %w", err)
	}
	return nil
}
