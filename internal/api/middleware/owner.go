package middleware

import (
	"net/http"

	"github.com/jobrunr-app/taskforge/internal/api/shared"
)

// OwnerHeader is the request header carrying the caller's owner ID.
const OwnerHeader = "X-Owner-ID"

// OwnerMiddleware extracts the owner ID from the request header and places
// it in the context. Requests without an owner ID are rejected: every task
// route is scoped to an owner.
func OwnerMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ownerID := r.Header.Get(OwnerHeader)
		if ownerID == "" {
			shared.RespondWithError(w, r, http.StatusUnauthorized, "Missing owner identification")
			return
		}

		ctx := shared.SetOwnerID(r.Context(), ownerID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
