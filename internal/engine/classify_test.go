package engine

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/plugflow/plugflow/internal/platform"
)

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		transient bool
	}{
		{
			name:      "rate limited response",
			err:       &platform.PlatformError{Platform: platform.Twitter, StatusCode: 429, Message: "too many requests"},
			transient: true,
		},
		{
			name:      "server error response",
			err:       &platform.PlatformError{Platform: platform.Linkedin, StatusCode: 502, Message: "bad gateway"},
			transient: true,
		},
		{
			name:      "client rejection",
			err:       &platform.PlatformError{Platform: platform.Twitter, StatusCode: 403, Message: "forbidden"},
			transient: false,
		},
		{
			name:      "client rejection with transient wording",
			err:       &platform.PlatformError{Platform: platform.Bluesky, StatusCode: 400, Message: "upstream temporarily degraded"},
			transient: true,
		},
		{
			name:      "auth failure",
			err:       &platform.AuthError{Platform: platform.Twitter, Message: "token revoked"},
			transient: false,
		},
		{
			name:      "validation failure",
			err:       &ValidationError{Message: "content exceeds the 280 character limit"},
			transient: false,
		},
		{
			name:      "network timeout",
			err:       errors.New("dial tcp: i/o timeout"),
			transient: true,
		},
		{
			name:      "connection reset",
			err:       errors.New("read: connection reset by peer"),
			transient: true,
		},
		{
			name:      "unrecognized failure",
			err:       errors.New("malformed payload"),
			transient: false,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.transient, isTransient(tc.err))
		})
	}
}
