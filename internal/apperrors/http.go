package apperrors

import (
	"fmt"
	"net/http"
)

// FromStatus classifies a non-2xx cluster response.
func FromStatus(op, resource, id string, status int, reason string) error {
	switch {
	case status == http.StatusNotFound:
		err := NotFound(resource, id).(*Error)
		err.Op = op
		return err
	case status == http.StatusRequestTimeout,
		status == http.StatusTooManyRequests,
		status >= http.StatusInternalServerError:
		err := Transport(op, fmt.Errorf("HTTP %d: %s", status, reason)).(*Error)
		err.Status = status
		return err
	default:
		err := Internal(op, fmt.Errorf("HTTP %d: %s", status, reason)).(*Error)
		err.Status = status
		return err
	}
}
