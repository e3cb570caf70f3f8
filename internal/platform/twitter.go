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

const twitterAPIBase = "https://api.twitter.com"

type TwitterAdapter struct {
	accessToken string
	creds       config.PlatformCredentials
	baseURL     string
	client      *http.Client
}

func NewTwitterAdapter(accessToken string, creds config.PlatformCredentials) *TwitterAdapter {
	return &TwitterAdapter{
		accessToken: accessToken,
		creds:       creds,
		baseURL:     twitterAPIBase,
		client:      httpClient,
	}
}

type tweetRequest struct {
	Text  string      `json:"text"`
	Reply *tweetReply `json:"reply,omitempty"`
}

type tweetReply struct {
	InReplyToTweetID string `json:"in_reply_to_tweet_id"`
}

type tweetResponse struct {
	Data struct {
		ID   string `json:"id"`
		Text string `json:"text"`
	} `json:"data"`
}

func (a *TwitterAdapter) Publish(ctx context.Context, content Content) (*PublishResult, error) {
	text := content.Text
	if len(content.MediaURLs) > 0 {
		text = text + "\n" + strings.Join(content.MediaURLs, "\n")
	}

	result, err := a.createTweet(ctx, tweetRequest{Text: text})
	if err != nil {
		return nil, err
	}

	return &PublishResult{
		PlatformPostID:  result.Data.ID,
		PlatformPostURL: fmt.Sprintf("https://twitter.com/i/web/status/%s", result.Data.ID),
	}, nil
}

func (a *TwitterAdapter) Reply(ctx context.Context, platformPostID, content string) (string, error) {
	result, err := a.createTweet(ctx, tweetRequest{
		Text:  content,
		Reply: &tweetReply{InReplyToTweetID: platformPostID},
	})
	if err != nil {
		return "", err
	}
	return result.Data.ID, nil
}

func (a *TwitterAdapter) createTweet(ctx context.Context, payload tweetRequest) (*tweetResponse, error) {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/2/tweets", bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+a.accessToken)
	req.Header.Set("Content-Type", "application/json; charset=UTF-8")

	resp, err := a.client.Do(req)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, upstreamError(Twitter, resp)
	}

	var result tweetResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	return &result, nil
}

type tweetMetricsResponse struct {
	Data struct {
		PublicMetrics struct {
			LikeCount    int `json:"like_count"`
			ReplyCount   int `json:"reply_count"`
			RetweetCount int `json:"retweet_count"`
			QuoteCount   int `json:"quote_count"`
		} `json:"public_metrics"`
	} `json:"data"`
}

func (a *TwitterAdapter) FetchEngagement(ctx context.Context, platformPostID string) (*Engagement, error) {
	requestURL := fmt.Sprintf("%s/2/tweets/%s?tweet.fields=public_metrics", a.baseURL, platformPostID)

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
		return nil, upstreamError(Twitter, resp)
	}

	var result tweetMetricsResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		slog.Info(err.Error())
		return nil, err
	}

	m := result.Data.PublicMetrics
	return &Engagement{
		Likes:    m.LikeCount,
		Comments: m.ReplyCount,
		Reposts:  m.RetweetCount + m.QuoteCount,
	}, nil
}

type twitterTokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
}

func (a *TwitterAdapter) RefreshToken(ctx context.Context, refreshToken string) (*TokenResult, error) {
	data := url.Values{}
	data.Set("grant_type", "refresh_token")
	data.Set("refresh_token", refreshToken)
	data.Set("client_id", a.creds.ClientID)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/2/oauth2/token", strings.NewReader(data.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(a.creds.ClientID, a.creds.ClientSecret)

	resp, err := a.client.Do(req)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, &AuthError{Platform: Twitter, Message: strings.TrimSpace(string(body))}
	}

	var tokenResponse twitterTokenResponse
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

func upstreamError(platform string, resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)
	return &PlatformError{
		Platform:   platform,
		StatusCode: resp.StatusCode,
		Message:    strings.TrimSpace(string(body)),
	}
}
