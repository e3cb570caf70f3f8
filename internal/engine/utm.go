package engine

import (
	"net/url"
	"regexp"
	"strings"
)

var urlPattern = regexp.MustCompile(`https?://[^\s]+`)

const (
	utmSource = "plugflow"
	utmMedium = "autoplug"
)

// appendTracking tags every URL in the plug content with UTM
// parameters. Idempotent: URLs already carrying any utm_ parameter are
// left alone, so re-running it on the same content is safe.
func appendTracking(content string) string {
	return urlPattern.ReplaceAllStringFunc(content, func(raw string) string {
		// Trailing punctuation belongs to the sentence, not the URL.
		trimmed := strings.TrimRight(raw, ".,!?;:)")
		suffix := raw[len(trimmed):]

		parsed, err := url.Parse(trimmed)
		if err != nil {
			return raw
		}

		query := parsed.Query()
		for key := range query {
			if strings.HasPrefix(strings.ToLower(key), "utm_") {
				return raw
			}
		}

		query.Set("utm_source", utmSource)
		query.Set("utm_medium", utmMedium)
		parsed.RawQuery = query.Encode()

		return parsed.String() + suffix
	})
}
