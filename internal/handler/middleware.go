package handler

import (
	"context"
	"net/http"

	"github.com/boddenberg/pj-clientes-go/internal/domain"

	"go.uber.org/zap"
)

type contextKey string

const tenantIDKey contextKey = "tenantID"

// sessionSource exposes the current session.
type sessionSource interface {
	Session() domain.Session
}

// RequireTenant rejects requests while no tenant is active and injects the
// active tenant id into the context.
func RequireTenant(src sessionSource, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			s := src.Session()
			if s.IsInitializing {
				writeError(w, http.StatusServiceUnavailable, "sessão ainda inicializando")
				return
			}
			tenantID := s.TenantID()
			if tenantID == "" {
				logger.Warn("auth: no active tenant",
					zap.String("path", r.URL.Path),
					zap.Bool("logged_in", s.IsLoggedIn),
				)
				writeError(w, http.StatusUnauthorized, "Faça login para continuar")
				return
			}

			ctx := context.WithValue(r.Context(), tenantIDKey, tenantID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// TenantIDFromContext extracts the active tenant id from context.
func TenantIDFromContext(ctx context.Context) string {
	v, _ := ctx.Value(tenantIDKey).(string)
	return v
}
