package engine

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAppendTracking(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "plain text untouched",
			in:   "no links here, just words",
			want: "no links here, just words",
		},
		{
			name: "bare url gets tagged",
			in:   "read more at https://example.com/post",
			want: "read more at https://example.com/post?utm_medium=autoplug&utm_source=plugflow",
		},
		{
			name: "existing query preserved",
			in:   "https://example.com/post?ref=newsletter",
			want: "https://example.com/post?ref=newsletter&utm_medium=autoplug&utm_source=plugflow",
		},
		{
			name: "url with utm params untouched",
			in:   "https://example.com/post?utm_source=existing",
			want: "https://example.com/post?utm_source=existing",
		},
		{
			name: "trailing punctuation stays outside the url",
			in:   "check this out: https://example.com/post.",
			want: "check this out: https://example.com/post?utm_medium=autoplug&utm_source=plugflow.",
		},
		{
			name: "multiple urls all tagged",
			in:   "https://a.example.com and https://b.example.com",
			want: "https://a.example.com?utm_medium=autoplug&utm_source=plugflow and https://b.example.com?utm_medium=autoplug&utm_source=plugflow",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, appendTracking(tc.in))
		})
	}
}

func TestAppendTrackingIsIdempotent(t *testing.T) {
	in := "read the guide at https://example.com/guide?page=2"
	once := appendTracking(in)
	require.Equal(t, once, appendTracking(once))
}
