package platform

import (
	"context"
	"fmt"
	"net/http"
	"time"

	config "github.com/plugflow/plugflow/configs"
)

const (
	Twitter  = "twitter"
	Linkedin = "linkedin"
	Bluesky  = "bluesky"
)

// Content is what gets published: text plus previously uploaded media
// URLs. Platforms without URL attachment support ignore MediaURLs.
type Content struct {
	Text      string
	MediaURLs []string
}

type PublishResult struct {
	PlatformPostID  string
	PlatformPostURL string
}

// Engagement counters for one published post. Missing upstream metrics
// are zero, never negative.
type Engagement struct {
	Likes    int
	Comments int
	Reposts  int
}

type TokenResult struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    int
}

// Adapter is the uniform capability set every platform integration
// exposes. Implementations are constructed from a decrypted access
// token; vault decryption happens at the caller, never inside an
// adapter.
type Adapter interface {
	Publish(ctx context.Context, content Content) (*PublishResult, error)
	FetchEngagement(ctx context.Context, platformPostID string) (*Engagement, error)
	Reply(ctx context.Context, platformPostID, content string) (string, error)
	RefreshToken(ctx context.Context, refreshToken string) (*TokenResult, error)
}

var characterLimits = map[string]int{
	Twitter:  280,
	Linkedin: 3000,
	Bluesky:  300,
}

// CharacterLimit returns the platform's post length cap, or 0 for an
// unknown platform.
func CharacterLimit(platform string) int {
	return characterLimits[platform]
}

func IsSupported(platform string) bool {
	_, ok := characterLimits[platform]
	return ok
}

var httpClient = &http.Client{Timeout: 30 * time.Second}

// New selects the adapter implementation for the given platform. The
// access token must already be decrypted.
func New(platform, accessToken string, cfg config.Config) (Adapter, error) {
	switch platform {
	case Twitter:
		return NewTwitterAdapter(accessToken, cfg.Twitter), nil
	case Linkedin:
		return NewLinkedinAdapter(accessToken, cfg.Linkedin), nil
	case Bluesky:
		return NewBlueskyAdapter(accessToken, cfg.Bluesky), nil
	default:
		return nil, fmt.Errorf("unsupported platform: %s", platform)
	}
}
