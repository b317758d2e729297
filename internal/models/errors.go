package models

import (
	"context"
	"errors"

	"github.com/openai/openai-go/v3"

	"github.com/easeaico/second-self/internal/utils"
)

// StatusCode returns the HTTP status of a provider API error.
func StatusCode(err error) (int, bool) {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode, true
	}
	return 0, false
}

// IsRetryable reports whether a failed model call may succeed when repeated.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if code, ok := StatusCode(err); ok {
		return utils.IsRetryableStatus(code)
	}
	return true
}
