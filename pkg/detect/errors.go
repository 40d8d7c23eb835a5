package detect

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Sentinel errors for common conditions.
var (
	// ErrNoAPIKey is returned when the cloud backend has no credential.
	ErrNoAPIKey = errors.New("detect: API key or access token required")

	// ErrPlaceholderKey is returned when the credential was never replaced.
	ErrPlaceholderKey = errors.New("detect: API key is still the placeholder value")

	// ErrModelUnavailable is returned when the local model cannot run.
	ErrModelUnavailable = errors.New("detect: local model unavailable")

	// ErrNoDetector is returned when the selector has no backend to route to.
	ErrNoDetector = errors.New("detect: no detector configured")

	// ErrEmptyImage is returned for zero-length image data.
	ErrEmptyImage = errors.New("detect: empty image")
)

// PlaceholderAPIKey is the value shipped in example configuration.
const PlaceholderAPIKey = "your-google-vision-api-key"

// CheckAPIKey validates a cloud credential before any request is made.
func CheckAPIKey(key string) error {
	switch strings.TrimSpace(key) {
	case "":
		return ErrNoAPIKey
	case PlaceholderAPIKey:
		return ErrPlaceholderKey
	}
	return nil
}

// APIError represents an error response from a detection API.
type APIError struct {
	// StatusCode is the HTTP status code.
	StatusCode int

	// Message is the error message from the API.
	Message string

	// Reason is the machine-readable reason (if provided).
	Reason string

	// Body is the raw response body, when present.
	Body string

	// Provider identifies which backend returned the error.
	Provider string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("detect [%s]: API error %d (%s): %s",
			e.Provider, e.StatusCode, e.Reason, e.Message)
	}
	return fmt.Sprintf("detect [%s]: API error %d: %s",
		e.Provider, e.StatusCode, e.Message)
}

// IsUnauthorized returns true if this is an authentication error (HTTP 401).
func (e *APIError) IsUnauthorized() bool {
	return e.StatusCode == http.StatusUnauthorized
}

// IsForbidden returns true if this is a permission error (HTTP 403),
// e.g. the API is not enabled for the project.
func (e *APIError) IsForbidden() bool {
	return e.StatusCode == http.StatusForbidden
}

// IsAuthError returns true for any credential problem. Google APIs answer an
// invalid key with 400 and reason API_KEY_INVALID.
func (e *APIError) IsAuthError() bool {
	if e.IsUnauthorized() || e.IsForbidden() {
		return true
	}
	return e.StatusCode == http.StatusBadRequest && strings.Contains(e.Reason+e.Message+e.Body, "API_KEY_INVALID")
}

// DetectorError wraps an error with backend context.
type DetectorError struct {
	Provider string
	Err      error
}

// Error implements the error interface.
func (e *DetectorError) Error() string {
	return fmt.Sprintf("detect [%s]: %v", e.Provider, e.Err)
}

// Unwrap returns the underlying error.
func (e *DetectorError) Unwrap() error {
	return e.Err
}

// WrapError wraps an error with backend context.
func WrapError(provider string, err error) error {
	if err == nil {
		return nil
	}
	return &DetectorError{Provider: provider, Err: err}
}

// AsAPIError extracts an *APIError from err's chain.
func AsAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}
