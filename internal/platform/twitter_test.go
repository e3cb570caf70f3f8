package platform

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	config "github.com/plugflow/plugflow/configs"
)

func newTestTwitterAdapter(server *httptest.Server) *TwitterAdapter {
	a := NewTwitterAdapter("test-token", config.PlatformCredentials{ClientID: "cid", ClientSecret: "secret"})
	a.baseURL = server.URL
	a.client = server.Client()
	return a
}

func TestTwitterPublish(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/2/tweets", r.URL.Path)
		require.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))

		var payload tweetRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		require.Equal(t, "Hello", payload.Text)
		require.Nil(t, payload.Reply)

		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"data": map[string]string{"id": "1234567890", "text": "Hello"},
		})
	}))
	defer server.Close()

	result, err := newTestTwitterAdapter(server).Publish(context.Background(), Content{Text: "Hello"})
	require.NoError(t, err)
	require.Equal(t, "1234567890", result.PlatformPostID)
	require.Equal(t, "https://twitter.com/i/web/status/1234567890", result.PlatformPostURL)
}

func TestTwitterPublishUpstreamRejection(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"detail":"You are not permitted to perform this action."}`))
	}))
	defer server.Close()

	_, err := newTestTwitterAdapter(server).Publish(context.Background(), Content{Text: "Hello"})
	require.Error(t, err)

	var platformErr *PlatformError
	require.True(t, errors.As(err, &platformErr))
	require.Equal(t, http.StatusForbidden, platformErr.StatusCode)
	require.Contains(t, platformErr.Message, "not permitted")
}

func TestTwitterFetchEngagement(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/2/tweets/42", r.URL.Path)
		require.Equal(t, "public_metrics", r.URL.Query().Get("tweet.fields"))

		json.NewEncoder(w).Encode(map[string]interface{}{
			"data": map[string]interface{}{
				"public_metrics": map[string]int{
					"like_count":    12,
					"reply_count":   3,
					"retweet_count": 4,
					"quote_count":   1,
				},
			},
		})
	}))
	defer server.Close()

	engagement, err := newTestTwitterAdapter(server).FetchEngagement(context.Background(), "42")
	require.NoError(t, err)
	require.Equal(t, 12, engagement.Likes)
	require.Equal(t, 3, engagement.Comments)
	require.Equal(t, 5, engagement.Reposts)
}

func TestTwitterFetchEngagementMissingMetricsDefaultZero(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{"data": map[string]interface{}{}})
	}))
	defer server.Close()

	engagement, err := newTestTwitterAdapter(server).FetchEngagement(context.Background(), "42")
	require.NoError(t, err)
	require.Equal(t, 0, engagement.Likes)
	require.Equal(t, 0, engagement.Comments)
	require.Equal(t, 0, engagement.Reposts)
}

func TestTwitterReply(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload tweetRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		require.NotNil(t, payload.Reply)
		require.Equal(t, "42", payload.Reply.InReplyToTweetID)

		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"data": map[string]string{"id": "99", "text": payload.Text},
		})
	}))
	defer server.Close()

	replyID, err := newTestTwitterAdapter(server).Reply(context.Background(), "42", "thanks for reading")
	require.NoError(t, err)
	require.Equal(t, "99", replyID)
}

func TestTwitterRefreshTokenRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"invalid_request"}`))
	}))
	defer server.Close()

	_, err := newTestTwitterAdapter(server).RefreshToken(context.Background(), "stale-refresh-token")
	require.Error(t, err)

	var authErr *AuthError
	require.True(t, errors.As(err, &authErr))
}

func TestTwitterRefreshToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		require.Equal(t, "refresh_token", r.FormValue("grant_type"))
		require.Equal(t, "old-refresh", r.FormValue("refresh_token"))

		json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token":  "new-access",
			"refresh_token": "new-refresh",
			"expires_in":    7200,
		})
	}))
	defer server.Close()

	result, err := newTestTwitterAdapter(server).RefreshToken(context.Background(), "old-refresh")
	require.NoError(t, err)
	require.Equal(t, "new-access", result.AccessToken)
	require.Equal(t, "new-refresh", result.RefreshToken)
	require.Equal(t, 7200, result.ExpiresIn)
}

func TestCharacterLimits(t *testing.T) {
	require.Equal(t, 280, CharacterLimit(Twitter))
	require.Equal(t, 3000, CharacterLimit(Linkedin))
	require.Equal(t, 300, CharacterLimit(Bluesky))
	require.Equal(t, 0, CharacterLimit("myspace"))

	require.True(t, IsSupported(Bluesky))
	require.False(t, IsSupported("myspace"))
}
