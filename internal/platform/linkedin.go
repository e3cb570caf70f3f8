package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	config "github.com/plugflow/plugflow/configs"
)

const (
	linkedinAPIBase   = "https://api.linkedin.com"
	linkedinTokenBase = "https://www.linkedin.com"
)

type LinkedinAdapter struct {
	accessToken string
	creds       config.PlatformCredentials
	baseURL     string
	tokenURL    string
	client      *http.Client
}

func NewLinkedinAdapter(accessToken string, creds config.PlatformCredentials) *LinkedinAdapter {
	return &LinkedinAdapter{
		accessToken: accessToken,
		creds:       creds,
		baseURL:     linkedinAPIBase,
		tokenURL:    linkedinTokenBase,
		client:      httpClient,
	}
}

type linkedinPostRequest struct {
	Commentary   string `json:"commentary"`
	Visibility   string `json:"visibility"`
	Distribution struct {
		FeedDistribution string `json:"feedDistribution"`
	} `json:"distribution"`
	LifecycleState string `json:"lifecycleState"`
}

func (a *LinkedinAdapter) Publish(ctx context.Context, content Content) (*PublishResult, error) {
	text := content.Text
	if len(content.MediaURLs) > 0 {
		text = text + "\n" + strings.Join(content.MediaURLs, "\n")
	}

	payload := linkedinPostRequest{
		Commentary:     text,
		Visibility:     "PUBLIC",
		LifecycleState: "PUBLISHED",
	}
	payload.Distribution.FeedDistribution = "MAIN_FEED"

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/rest/posts", bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+a.accessToken)
	req.Header.Set("Content-Type", "application/json; charset=UTF-8")
	req.Header.Set("X-Restli-Protocol-Version", "2.0.0")

	resp, err := a.client.Do(req)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, upstreamError(Linkedin, resp)
	}

	postURN := resp.Header.Get("x-restli-id")
	if postURN == "" {
		return nil, &PlatformError{Platform: Linkedin, StatusCode: resp.StatusCode, Message: "response missing post id header"}
	}

	return &PublishResult{
		PlatformPostID:  postURN,
		PlatformPostURL: fmt.Sprintf("https://www.linkedin.com/feed/update/%s", postURN),
	}, nil
}

type linkedinSocialActions struct {
	LikesSummary struct {
		TotalLikes int `json:"totalLikes"`
	} `json:"likesSummary"`
	CommentsSummary struct {
		TotalComments int `json:"aggregatedTotalComments"`
	} `json:"commentsSummary"`
	SharesSummary struct {
		TotalShares int `json:"totalShares"`
	} `json:"sharesSummary"`
}

func (a *LinkedinAdapter) FetchEngagement(ctx context.Context, platformPostID string) (*Engagement, error) {
	requestURL := fmt.Sprintf("%s/rest/socialActions/%s", a.baseURL, url.PathEscape(platformPostID))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+a.accessToken)

	resp, err := a.client.Do(req)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, upstreamError(Linkedin, resp)
	}

	var result linkedinSocialActions
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		slog.Info(err.Error())
		return nil, err
	}

	return &Engagement{
		Likes:    result.LikesSummary.TotalLikes,
		Comments: result.CommentsSummary.TotalComments,
		Reposts:  result.SharesSummary.TotalShares,
	}, nil
}

type linkedinCommentResponse struct {
	ID string `json:"id"`
}

func (a *LinkedinAdapter) Reply(ctx context.Context, platformPostID, content string) (string, error) {
	payload := map[string]interface{}{
		"message": map[string]string{"text": content},
	}
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	requestURL := fmt.Sprintf("%s/rest/socialActions/%s/comments", a.baseURL, url.PathEscape(platformPostID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, requestURL, bytes.NewBuffer(jsonData))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+a.accessToken)
	req.Header.Set("Content-Type", "application/json; charset=UTF-8")

	resp, err := a.client.Do(req)
	if err != nil {
		slog.Info(err.Error())
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", upstreamError(Linkedin, resp)
	}

	var result linkedinCommentResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		slog.Info(err.Error())
		return "", err
	}
	return result.ID, nil
}

type linkedinTokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
}

func (a *LinkedinAdapter) RefreshToken(ctx context.Context, refreshToken string) (*TokenResult, error) {
	data := url.Values{}
	data.Set("grant_type", "refresh_token")
	data.Set("refresh_token", refreshToken)
	data.Set("client_id", a.creds.ClientID)
	data.Set("client_secret", a.creds.ClientSecret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.tokenURL+"/oauth/v2/accessToken", strings.NewReader(data.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := a.client.Do(req)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, &AuthError{Platform: Linkedin, Message: strings.TrimSpace(string(body))}
	}

	var tokenResponse linkedinTokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tokenResponse); err != nil {
		slog.Info(err.Error())
		return nil, err
	}

	return &TokenResult{
		AccessToken:  tokenResponse.AccessToken,
		RefreshToken: tokenResponse.RefreshToken,
		ExpiresIn:    tokenResponse.ExpiresIn,
	}, nil
}
