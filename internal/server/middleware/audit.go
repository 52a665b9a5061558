package middleware

import (
	"net/http"
	"strconv"

	"manifold/backend/internal/audit"
)

// AuditRejected records an audit entry for every mutating request that ends with a 4xx or 5xx
// status, such as a guessed verification token. Successful registrations, verifications and
// deletions are audited by the services that perform them.
// Patterns in skip are never audited. A nil logger disables the middleware.
func AuditRejected(logger audit.AuditLogger, skip map[string]bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if logger == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rec := record(w)
			next.ServeHTTP(rec, r)
			if r.Method == http.MethodGet || r.Method == http.MethodHead || r.Pattern == "" || skip[r.Pattern] {
				return
			}
			status := rec.code()
			if status < http.StatusBadRequest {
				return
			}
			ar := audit.ParseRoute(r.Method, r.URL.Path)
			logger.LogEvent(r.Context(), r.PathValue("id"), ar.Resource+"."+ar.Action+".rejected", ar.Resource,
				map[string]string{"status": strconv.Itoa(status), "route": r.Pattern})
		})
	}
}
