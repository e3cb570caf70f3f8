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
	"time"

	config "github.com/plugflow/plugflow/configs"
)

const blueskyAPIBase = "https://bsky.social"

type BlueskyAdapter struct {
	accessToken string
	creds       config.PlatformCredentials
	baseURL     string
	client      *http.Client
}

func NewBlueskyAdapter(accessToken string, creds config.PlatformCredentials) *BlueskyAdapter {
	return &BlueskyAdapter{
		accessToken: accessToken,
		creds:       creds,
		baseURL:     blueskyAPIBase,
		client:      httpClient,
	}
}

type blueskySession struct {
	DID    string `json:"did"`
	Handle string `json:"handle"`
}

// session resolves the authenticated account's DID, which createRecord
// needs as the repo name.
func (a *BlueskyAdapter) session(ctx context.Context) (*blueskySession, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/xrpc/com.atproto.server.getSession", nil)
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
		return nil, upstreamError(Bluesky, resp)
	}

	var session blueskySession
	if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	return &session, nil
}

type blueskyCreateRecordRequest struct {
	Repo       string      `json:"repo"`
	Collection string      `json:"collection"`
	Record     interface{} `json:"record"`
}

type blueskyCreateRecordResponse struct {
	URI string `json:"uri"`
	CID string `json:"cid"`
}

func (a *BlueskyAdapter) createRecord(ctx context.Context, repo string, record interface{}) (*blueskyCreateRecordResponse, error) {
	payload := blueskyCreateRecordRequest{
		Repo:       repo,
		Collection: "app.bsky.feed.post",
		Record:     record,
	}
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/xrpc/com.atproto.repo.createRecord", bytes.NewBuffer(jsonData))
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

	if resp.StatusCode != http.StatusOK {
		return nil, upstreamError(Bluesky, resp)
	}

	var result blueskyCreateRecordResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	return &result, nil
}

func (a *BlueskyAdapter) Publish(ctx context.Context, content Content) (*PublishResult, error) {
	session, err := a.session(ctx)
	if err != nil {
		return nil, err
	}

	text := content.Text
	if len(content.MediaURLs) > 0 {
		text = text + "\n" + strings.Join(content.MediaURLs, "\n")
	}

	record := map[string]interface{}{
		"$type":     "app.bsky.feed.post",
		"text":      text,
		"createdAt": time.Now().UTC().Format(time.RFC3339),
	}

	result, err := a.createRecord(ctx, session.DID, record)
	if err != nil {
		return nil, err
	}

	return &PublishResult{
		PlatformPostID:  result.URI,
		PlatformPostURL: postURLFromURI(session.Handle, result.URI),
	}, nil
}

// postURLFromURI converts an at:// record URI into the public web URL.
func postURLFromURI(handle, uri string) string {
	parts := strings.Split(uri, "/")
	if len(parts) == 0 {
		return ""
	}
	return fmt.Sprintf("https://bsky.app/profile/%s/post/%s", handle, parts[len(parts)-1])
}

type blueskyThreadResponse struct {
	Thread struct {
		Post struct {
			URI        string `json:"uri"`
			CID        string `json:"cid"`
			LikeCount  int    `json:"likeCount"`
			ReplyCount int    `json:"replyCount"`
			RepostCount int   `json:"repostCount"`
		} `json:"post"`
	} `json:"thread"`
}

func (a *BlueskyAdapter) fetchThread(ctx context.Context, platformPostID string) (*blueskyThreadResponse, error) {
	requestURL := fmt.Sprintf("%s/xrpc/app.bsky.feed.getPostThread?uri=%s&depth=0", a.baseURL, url.QueryEscape(platformPostID))

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
		return nil, upstreamError(Bluesky, resp)
	}

	var result blueskyThreadResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	return &result, nil
}

func (a *BlueskyAdapter) FetchEngagement(ctx context.Context, platformPostID string) (*Engagement, error) {
	thread, err := a.fetchThread(ctx, platformPostID)
	if err != nil {
		return nil, err
	}

	return &Engagement{
		Likes:    thread.Thread.Post.LikeCount,
		Comments: thread.Thread.Post.ReplyCount,
		Reposts:  thread.Thread.Post.RepostCount,
	}, nil
}

func (a *BlueskyAdapter) Reply(ctx context.Context, platformPostID, content string) (string, error) {
	session, err := a.session(ctx)
	if err != nil {
		return "", err
	}

	// Reply refs need the parent record's CID as well as its URI.
	thread, err := a.fetchThread(ctx, platformPostID)
	if err != nil {
		return "", err
	}

	parent := map[string]string{
		"uri": thread.Thread.Post.URI,
		"cid": thread.Thread.Post.CID,
	}
	record := map[string]interface{}{
		"$type":     "app.bsky.feed.post",
		"text":      content,
		"createdAt": time.Now().UTC().Format(time.RFC3339),
		"reply": map[string]interface{}{
			"root":   parent,
			"parent": parent,
		},
	}

	result, err := a.createRecord(ctx, session.DID, record)
	if err != nil {
		return "", err
	}
	return result.URI, nil
}

type blueskyRefreshResponse struct {
	AccessJwt  string `json:"accessJwt"`
	RefreshJwt string `json:"refreshJwt"`
}

func (a *BlueskyAdapter) RefreshToken(ctx context.Context, refreshToken string) (*TokenResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/xrpc/com.atproto.server.refreshSession", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+refreshToken)

	resp, err := a.client.Do(req)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, &AuthError{Platform: Bluesky, Message: strings.TrimSpace(string(body))}
	}

	var result blueskyRefreshResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		slog.Info(err.Error())
		return nil, err
	}

	// Session JWTs do not report a lifetime; the sweeper applies its
	// own default expiry.
	return &TokenResult{
		AccessToken:  result.AccessJwt,
		RefreshToken: result.RefreshJwt,
	}, nil
}
