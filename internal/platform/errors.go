package platform

import "fmt"

// PlatformError is an upstream rejection. It carries the raw response
// message so failure classification can inspect it.
type PlatformError struct {
	Platform   string
	StatusCode int
	Message    string
}

func (e *PlatformError) Error() string {
	return fmt.Sprintf("%s: upstream returned %d: %s", e.Platform, e.StatusCode, e.Message)
}

// AuthError means the platform rejected the credential itself, most
// commonly a refresh token. Requires user re-authentication; never
// retried.
type AuthError struct {
	Platform string
	Message  string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("%s: authentication failed: %s", e.Platform, e.Message)
}
