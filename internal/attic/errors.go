package attic

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrUnauthorized reports a rejected or missing token.
var ErrUnauthorized = errors.New("attic: unauthorized")

// APIError describes a non-success response from the server.
type APIError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("attic %s: HTTP %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("attic %s: HTTP %d: %s", e.Op, e.StatusCode, e.Body)
}

// Is matches ErrUnauthorized for 401 and 403 responses.
func (e *APIError) Is(target error) bool {
	return target == ErrUnauthorized &&
		(e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden)
}
