package testutil

import (
	"net/http"

	"receiv3/pkg/domain"
	"receiv3/pkg/requestcontext"
)

// WithCaller simulates what the auth middleware does for an authenticated
// request.
func WithCaller(req *http.Request, caller domain.Address) *http.Request {
	return req.WithContext(requestcontext.WithCaller(req.Context(), caller))
}
