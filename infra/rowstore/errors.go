package rowstore

import (
	"encoding/json"
	"fmt"
	"time"
)

// StoreError is a terminal, non-retryable failure reported by the remote
// store. It is surfaced to the caller as-is; no partial state is assumed to
// have changed.
type StoreError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *StoreError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("remote store error %d (%s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("remote store error %d: %s", e.StatusCode, e.Message)
}

// RateLimitError is returned once the rate-limit retry budget is exhausted.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("remote store rate limited; retry after %s", e.RetryAfter)
}

// parseError decodes an error response body into a StoreError.
func parseError(body []byte, statusCode int) error {
	var errResp struct {
		Code    string `json:"code"`
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(body, &errResp); err != nil {
		return &StoreError{StatusCode: statusCode, Message: string(body)}
	}

	msg := errResp.Message
	if msg == "" {
		msg = errResp.Error
	}
	if msg == "" {
		msg = string(body)
	}
	return &StoreError{StatusCode: statusCode, Code: errResp.Code, Message: msg}
}
