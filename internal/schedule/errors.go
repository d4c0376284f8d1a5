package schedule

import (
	"errors"
	"net/http"

	"github.com/teemow/calagent/internal/gemini"
)

var (
	// ErrNoEvents is returned when the model found nothing to schedule,
	// including when its output was empty or malformed.
	ErrNoEvents = errors.New("no valid event could be extracted")

	// ErrInvalidRequest is returned for requests that are rejected before any
	// provider is called, such as an unknown time zone.
	ErrInvalidRequest = errors.New("invalid request")
)

// StatusCode maps a Schedule error to the HTTP status reported to callers.
func StatusCode(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrNoEvents),
		errors.Is(err, ErrInvalidRequest),
		errors.Is(err, gemini.ErrEmptyInput):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
