package httpx

import (
	"errors"
	"net/http"

	"github.com/odyssey-erp/authzcore/internal/shared"
)

// StatusFor maps domain errors to HTTP status codes.
func StatusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, shared.ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, shared.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, shared.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, shared.ErrValidation), errors.Is(err, shared.ErrInvalidAmount):
		return http.StatusUnprocessableEntity
	case shared.IsBusinessError(err):
		return http.StatusConflict
	case errors.Is(err, shared.ErrConcurrencyConflict):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// TypeFor returns the problem type URI of err.
func TypeFor(err error) string {
	switch {
	case errors.Is(err, shared.ErrUnauthenticated):
		return "urn:odyssey:problem:unauthenticated"
	case errors.Is(err, shared.ErrForbidden):
		return "urn:odyssey:problem:forbidden"
	case errors.Is(err, shared.ErrNotFound):
		return "urn:odyssey:problem:not-found"
	case errors.Is(err, shared.ErrInvalidAmount):
		return "urn:odyssey:problem:invalid-amount"
	case errors.Is(err, shared.ErrValidation):
		return "urn:odyssey:problem:validation"
	case errors.Is(err, shared.ErrAlreadyReceived):
		return "urn:odyssey:problem:already-received"
	case errors.Is(err, shared.ErrAlreadyTerminal):
		return "urn:odyssey:problem:already-terminal"
	case errors.Is(err, shared.ErrInvalidState):
		return "urn:odyssey:problem:invalid-state"
	case errors.Is(err, shared.ErrConcurrencyConflict):
		return "urn:odyssey:problem:concurrency-conflict"
	default:
		return ""
	}
}

// RespondError maps domain errors to HTTP responses using RFC7807. Internal
// errors never leak their message.
func RespondError(w http.ResponseWriter, err error) {
	status := StatusFor(err)
	problem := ProblemDetail{Type: TypeFor(err), Status: status}
	if status != http.StatusInternalServerError {
		problem.Detail = err.Error()
	}
	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "1")
	}
	Problem(w, problem)
}
