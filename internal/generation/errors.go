package generation

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/easeaico/second-self/internal/models"
	"github.com/easeaico/second-self/internal/utils"
)

// GenerationError is a terminal generation failure.
type GenerationError struct {
	Model    string
	Attempts int
	// Partial is the text streamed before the failure.
	Partial string
	Err     error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generation with %s failed after %d attempt(s): %v", e.Model, e.Attempts, e.Err)
}

func (e *GenerationError) Unwrap() error {
	return e.Err
}

// Reason is a short description of the failure that is safe to show users.
func Reason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.DeadlineExceeded):
		return "the reply timed out"
	case errors.Is(err, context.Canceled):
		return "the request was cancelled"
	}
	if code, ok := models.StatusCode(err); ok {
		switch {
		case code == http.StatusTooManyRequests:
			return "the model service is rate limited"
		case code == http.StatusUnauthorized || code == http.StatusForbidden:
			return "the model service rejected our credentials"
		case code >= http.StatusInternalServerError:
			return "the model service is unavailable"
		default:
			return fmt.Sprintf("the model service returned status %d", code)
		}
	}
	var genErr *GenerationError
	if errors.As(err, &genErr) && genErr.Err != nil {
		return utils.Preview(strings.TrimSpace(genErr.Err.Error()), 120)
	}
	return utils.Preview(strings.TrimSpace(err.Error()), 120)
}

// ApologyFor maps a terminal failure to the reply shown in place of the model output.
func ApologyFor(err error) string {
	if err == nil {
		return ""
	}
	return fmt.Sprintf("Sorry, I can't reply right now (%s). Please try again in a moment.", Reason(err))
}
