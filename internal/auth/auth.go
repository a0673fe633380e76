package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/vnmchuo/usage-tracker/internal/metrics"
	"github.com/vnmchuo/usage-tracker/internal/org"
)

// Authorizer decides whether a bearer credential may act for an
// organization.
type Authorizer struct {
	dir    org.Directory
	logger *zap.Logger
}

func NewAuthorizer(dir org.Directory, logger *zap.Logger) *Authorizer {
	return &Authorizer{dir: dir, logger: logger}
}

// Authorize reports whether credential belongs to the active organization
// organizationID. Every failure, including lookup errors, is a deny.
func (a *Authorizer) Authorize(ctx context.Context, credential, organizationID string) bool {
	token := ParseBearer(credential)
	if token == "" {
		return a.deny(organizationID, "missing_credential", nil)
	}

	o, err := a.dir.LookupByToken(ctx, token)
	switch {
	case errors.Is(err, org.ErrNotFound):
		return a.deny(organizationID, "unknown_token", nil)
	case errors.Is(err, org.ErrAmbiguousToken):
		return a.deny(organizationID, "ambiguous_token", nil)
	case err != nil:
		return a.deny(organizationID, "lookup_error", err)
	}

	if o.ID != organizationID {
		return a.deny(organizationID, "organization_mismatch", nil)
	}
	if !o.Active() {
		return a.deny(organizationID, "inactive", nil)
	}
	return true
}

func (a *Authorizer) deny(organizationID, reason string, err error) bool {
	metrics.AuthDenialsTotal.WithLabelValues(reason).Inc()
	fields := []zap.Field{
		zap.String("organization_id", organizationID),
		zap.String("reason", reason),
	}
	if err != nil {
		a.logger.Error("authorization failed", append(fields, zap.Error(err))...)
	} else {
		a.logger.Info("authorization denied", fields...)
	}
	return false
}

// ParseBearer strips quotes, whitespace and an optional case-insensitive
// "Bearer " prefix.
func ParseBearer(raw string) string {
	token := strings.TrimSpace(strings.ReplaceAll(raw, `"`, ""))
	if len(token) >= 7 && strings.EqualFold(token[:7], "bearer ") {
		token = strings.TrimSpace(token[7:])
	}
	return token
}

// CredentialFromHeader returns the raw Authorization value. Header names are
// matched case-insensitively and may be wrapped in quotes.
func CredentialFromHeader(h http.Header) string {
	if v := h.Get("Authorization"); v != "" {
		return v
	}
	for name, values := range h {
		if strings.EqualFold(strings.Trim(name, `"`), "authorization") && len(values) > 0 {
			return values[0]
		}
	}
	return ""
}

type Middleware func(next http.Handler) http.Handler

type contextKey string

const credentialKey contextKey = "credential"

// NewMiddleware copies the request's credential into its context. It never
// rejects; handlers decide through the Authorizer.
func NewMiddleware() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := WithCredential(r.Context(), CredentialFromHeader(r.Header))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func GetCredential(ctx context.Context) string {
	if c, ok := ctx.Value(credentialKey).(string); ok {
		return c
	}
	return ""
}

// Helpers for testing
func WithCredential(ctx context.Context, credential string) context.Context {
	return context.WithValue(ctx, credentialKey, credential)
}
