package requestid

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
)

type contextKey string

const RequestIDKey contextKey = "request_id"

// Generate creates a new unique request ID
func Generate() string {
	return uuid.New().String()
}

// ToContext adds a request ID to the context
func ToContext(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// FromContext extracts the request ID from the context.
// Returns empty string if request ID is not found.
func FromContext(ctx context.Context) string {
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok {
		return requestID
	}
	return ""
}

// Inject sets the request ID header on an outgoing request. The ID carried by
// the request context wins; otherwise a fresh one is generated so every call
// can be correlated with backend logs.
func Inject(req *http.Request) string {
	id := FromContext(req.Context())
	if id == "" {
		id = Generate()
	}
	req.Header.Set(middleware.RequestIDHeader, id)
	return id
}
