package api

import (
	"context"
	"errors"
	"log"
	"net/http"

	"github.com/coldtrack/coldtrack-server/internal/tenant"
)

type contextKey int

const tenantIDKey contextKey = iota

// TenantResolver maps an API key to a tenant id
type TenantResolver interface {
	Resolve(ctx context.Context, apiKey string) (string, error)
}

// requireTenant resolves the X-API-Key header into a tenant id and stashes
// it in the request context. An unresolvable key is distinct from a broken
// lookup: the former is the caller's problem, the latter is ours.
func (h *Handlers) requireTenant(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		apiKey := r.Header.Get("X-API-Key")
		if apiKey == "" {
			writeError(w, http.StatusUnauthorized, "missing_api_key", "X-API-Key header is required")
			return
		}

		tenantID, err := h.tenants.Resolve(r.Context(), apiKey)
		if errors.Is(err, tenant.ErrNotFound) {
			writeError(w, http.StatusUnauthorized, "invalid_api_key", "Invalid API Key")
			return
		}
		if err != nil {
			log.Printf("Tenant resolution failed: %v", err)
			writeError(w, http.StatusInternalServerError, "internal_error", "Error resolving tenant")
			return
		}

		ctx := context.WithValue(r.Context(), tenantIDKey, tenantID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func tenantFromContext(ctx context.Context) string {
	id, _ := ctx.Value(tenantIDKey).(string)
	return id
}
