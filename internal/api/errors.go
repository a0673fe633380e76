package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/vnmchuo/usage-tracker/internal/apperr"
	"github.com/vnmchuo/usage-tracker/internal/pricing"
)

// writeError maps a service error to its status code. Authentication and
// internal failures get a fixed body; the detail only goes to the log.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		validation  *apperr.ValidationError
		unsupported *pricing.UnsupportedModelError
		authn       *apperr.AuthenticationError
	)

	switch {
	case errors.As(err, &validation):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": validation.Message})
	case errors.As(err, &unsupported):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": unsupported.Error()})
	case errors.As(err, &authn):
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Authentication failed"})
	case errors.Is(err, apperr.ErrUnauthorized):
		writeJSON(w, http.StatusForbidden, map[string]string{
			"error": "Unauthorized access. Organizations can only access their own data.",
		})
	case errors.Is(err, apperr.ErrRateLimited):
		writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "Rate limit exceeded for organization"})
	default:
		h.logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Error(err),
		)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Internal server error"})
	}
}
