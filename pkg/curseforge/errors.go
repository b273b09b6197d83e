package curseforge

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrNotFound matches any APIError with a 404 status via errors.Is.
var ErrNotFound = errors.New("not found")

// APIError is a non-2xx response from the remote API.
type APIError struct {
	StatusCode int
	Message    string
	Endpoint   string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("curseforge %s: status %d", e.Endpoint, e.StatusCode)
	}
	return fmt.Sprintf("curseforge %s: status %d: %s", e.Endpoint, e.StatusCode, e.Message)
}

// Is lets errors.Is(err, ErrNotFound) match 404 responses.
func (e *APIError) Is(target error) bool {
	return target == ErrNotFound && e.StatusCode == http.StatusNotFound
}

// IsNotFound reports whether err is a 404 from the remote API.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// StatusCode extracts the HTTP status from an APIError chain, or 0.
func StatusCode(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}
