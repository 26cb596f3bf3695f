package openai

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// StatusError is returned when the upstream responds with a non-2xx status.
// It carries the exact status code, headers, and body so callers can relay
// the upstream error unchanged.
type StatusError struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

func (e *StatusError) Error() string {
	if apiErr, err := ParseErrorResponse(e.Body); err == nil && apiErr != nil {
		return fmt.Sprintf("upstream error (status %d): %s", e.StatusCode, apiErr.Error())
	}
	return fmt.Sprintf("upstream error (status %d): %s", e.StatusCode, e.Body)
}

// ErrorResponse represents an OpenAI API error response body.
type ErrorResponse struct {
	Error *APIError `json:"error"`
}

// APIError contains the error details from an OpenAI API error body.
type APIError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Param   string `json:"param,omitempty"`
	Code    string `json:"code,omitempty"`
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return e.Code + ": " + e.Message
	}
	return e.Message
}

// ParseErrorResponse attempts to parse an error response from JSON.
// Returns nil without error if the body is JSON but not an error envelope.
func ParseErrorResponse(data []byte) (*APIError, error) {
	var errResp ErrorResponse
	if err := json.Unmarshal(data, &errResp); err != nil {
		return nil, err
	}
	if errResp.Error == nil {
		return nil, nil
	}
	return errResp.Error, nil
}
