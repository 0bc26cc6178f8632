package testutil

import (
	"context"
	"net/http"
	"time"

	"anchorage/pkg/requestcontext"
)

// WithActor sets the acting operator on the request, as RequireOperator would.
func WithActor(req *http.Request, actor string) *http.Request {
	return req.WithContext(requestcontext.WithActor(req.Context(), actor))
}

// WithRequestID sets the correlation ID on the request.
func WithRequestID(req *http.Request, requestID string) *http.Request {
	return req.WithContext(requestcontext.WithRequestID(req.Context(), requestID))
}

// At returns a context pinned to t with actor set. Service tests use it to
// move through the maturation window without sleeping.
func At(t time.Time, actor string) context.Context {
	ctx := requestcontext.WithTime(context.Background(), t)
	return requestcontext.WithActor(ctx, actor)
}
