package gateway

import (
	"context"
	"net/http"

	"github.com/flemzord/cronhub/internal/schedule"
)

// Identity headers set by the upstream auth layer. The gateway performs no
// authentication of its own; it trusts the resolved pair per the service
// boundary contract.
const (
	headerUserID     = "X-User-ID"
	headerPrivileged = "X-User-Privileged"
)

type identityKey struct{}

// identityMiddleware extracts the resolved caller identity from the
// request headers. Requests without a user id are rejected: they never
// passed the auth layer.
func identityMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := r.Header.Get(headerUserID)
		if userID == "" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		id := schedule.Identity{
			UserID:     userID,
			Privileged: r.Header.Get(headerPrivileged) == "true",
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), identityKey{}, id)))
	})
}

// callerIdentity returns the identity stored by identityMiddleware.
func callerIdentity(r *http.Request) schedule.Identity {
	id, _ := r.Context().Value(identityKey{}).(schedule.Identity)
	return id
}
