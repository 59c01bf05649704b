package http

import (
	"errors"
	"net/http"

	"github.com/vadim/neo-inbox/internal/httpx/response"
	"github.com/vadim/neo-inbox/internal/httpx/upstream/inbox"
)

// handleUpstreamError maps REST client failures. An expired session is a
// 401 so the front end goes back to the login screen.
func handleUpstreamError(w http.ResponseWriter, err error) {
	var apiErr *inbox.APIError
	switch {
	case errors.Is(err, inbox.ErrUnauthorized):
		response.Unauthorized(w, "session expired")
	case errors.Is(err, inbox.ErrNotFound):
		response.NotFound(w, "not found")
	case errors.As(err, &apiErr):
		response.BadGateway(w, apiErr.Message)
	default:
		response.InternalError(w, "internal server error")
	}
}
