package controlplane

import (
	"errors"
	"net/http"

	"github.com/MaiM-with-u/MaiLuncher/internal/config"
	"github.com/MaiM-with-u/MaiLuncher/internal/supervisor"
)

// Sentinel errors for control plane operations.
var (
	ErrBadRequest = errors.New("bad request")
)

// statusFor maps an operation error to an HTTP status code.
func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, supervisor.ErrNotFound), errors.Is(err, config.ErrUnknownTarget):
		return http.StatusNotFound
	case errors.Is(err, supervisor.ErrAlreadyRunning), errors.Is(err, supervisor.ErrStillRunning):
		return http.StatusConflict
	case errors.Is(err, supervisor.ErrInvalidCommand):
		return http.StatusUnprocessableEntity
	case errors.Is(err, supervisor.ErrClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
