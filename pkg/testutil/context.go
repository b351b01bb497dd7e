package testutil

import (
	"context"
	"net/http"
	"time"

	id "casework/pkg/domain"
	"casework/pkg/requestcontext"
)

// WithActor adds the acting user and role to the request context.
// This simulates what the auth middleware would do for authenticated requests.
// If the userID is not a valid UUID, the request is returned unchanged.
func WithActor(req *http.Request, userID string, role id.Role) *http.Request {
	parsedUserID, err := id.ParseUserID(userID)
	if err != nil {
		return req
	}
	return req.WithContext(requestcontext.WithActor(req.Context(), parsedUserID, role))
}

// WithTime pins the request-scoped clock.
func WithTime(req *http.Request, now time.Time) *http.Request {
	return req.WithContext(requestcontext.WithTime(req.Context(), now))
}

// WithContextValue adds an arbitrary key-value pair to the request context.
func WithContextValue(req *http.Request, key, value any) *http.Request {
	ctx := context.WithValue(req.Context(), key, value)
	return req.WithContext(ctx)
}
