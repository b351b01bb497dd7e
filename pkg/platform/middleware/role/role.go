// Package role restricts routes to actors holding one of a set of roles.
package role

import (
	"log/slog"
	"net/http"
	"slices"

	id "casework/pkg/domain"
	dErrors "casework/pkg/domain-errors"
	"casework/pkg/platform/httputil"
	request "casework/pkg/platform/middleware/request"
	"casework/pkg/requestcontext"
)

// Require rejects requests whose actor role is not in allowed. It must run
// after the auth middleware.
func Require(logger *slog.Logger, allowed ...id.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			actorRole := requestcontext.Role(ctx)
			if actorRole == "" {
				httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "authentication required"))
				return
			}
			if !slices.Contains(allowed, actorRole) {
				logger.WarnContext(ctx, "forbidden - role not allowed",
					"role", string(actorRole),
					"path", r.URL.Path,
					"request_id", request.GetRequestID(ctx),
				)
				httputil.WriteError(w, dErrors.New(dErrors.CodeForbidden, "insufficient role"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
