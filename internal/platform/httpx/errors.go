// Package httpx provides HTTP response utilities.
package httpx

import (
	"context"
	"errors"
	"net/http"

	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// ErrValidation marks request input rejected before it reaches a service.
var ErrValidation = errors.New("validation failed")

// RespondError renders errors that no handler-specific mapping claimed.
// Anything unrecognised becomes an opaque 500.
func RespondError(w http.ResponseWriter, err error) {
	var verr *ValidationError
	switch {
	case errors.As(err, &verr):
		ProblemWith(w, http.StatusBadRequest, "Validation Failed", err.Error(), map[string]any{"errors": verr.Fields})
	case errors.Is(err, ErrValidation):
		Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, shared.ErrNotFound):
		Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		Problem(w, http.StatusGatewayTimeout, "Timeout", "request deadline exceeded")
	default:
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
