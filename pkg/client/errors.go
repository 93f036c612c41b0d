package client

import (
	"encoding/json"
	"fmt"
	"strings"
)

// AuthError reports a 401/403-shaped response. The session token is rejected;
// the error is fatal for the current operation and is not retried.
type AuthError struct {
	StatusCode int
	Message    string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authentication failed (%d): %s", e.StatusCode, e.Message)
}

// APIError reports any other non-2xx response, carrying the status code and a
// best-effort error message extracted from the response body.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (%d): %s", e.StatusCode, e.Message)
}

// TransportError reports a network-level failure before any response arrived.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("request failed (%s): %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// extractDetail pulls the "detail" field out of an error response body.
// NOMAD returns either a plain string or a list of validation errors there;
// anything unparseable falls back to the raw body text.
func extractDetail(body []byte) string {
	text := strings.TrimSpace(string(body))
	if text == "" {
		return "no error detail"
	}

	var wrapper struct {
		Detail json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal(body, &wrapper); err != nil || len(wrapper.Detail) == 0 {
		return text
	}

	var detail string
	if err := json.Unmarshal(wrapper.Detail, &detail); err == nil {
		return detail
	}
	// Validation errors arrive as a list; keep them as compact JSON.
	return string(wrapper.Detail)
}
