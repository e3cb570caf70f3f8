package engine

import (
	"errors"
	"net/http"
	"strings"

	"github.com/plugflow/plugflow/internal/platform"
)

// ValidationError marks content or configuration the pipeline can never
// publish; it is permanent and consumes no retry budget.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

var transientFragments = []string{
	"rate limit",
	"too many requests",
	"timeout",
	"timed out",
	"deadline exceeded",
	"temporar",
	"unavailable",
	"connection reset",
	"connection refused",
	"internal server error",
	"bad gateway",
}

// isTransient decides whether a publish failure deserves a bounded
// retry. Platform rejections are classified by status code first, then
// by message wording; auth and validation failures are always
// permanent.
func isTransient(err error) bool {
	var validationErr *ValidationError
	if errors.As(err, &validationErr) {
		return false
	}

	var authErr *platform.AuthError
	if errors.As(err, &authErr) {
		return false
	}

	var platformErr *platform.PlatformError
	if errors.As(err, &platformErr) {
		if platformErr.StatusCode == http.StatusTooManyRequests || platformErr.StatusCode >= 500 {
			return true
		}
		return containsTransientWording(platformErr.Message)
	}

	return containsTransientWording(err.Error())
}

func containsTransientWording(message string) bool {
	lower := strings.ToLower(message)
	for _, fragment := range transientFragments {
		if strings.Contains(lower, fragment) {
			return true
		}
	}
	return false
}
