package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/plugflow/plugflow/internal/transfer"
)

// Notifier delivers owner-facing failure notifications. Delivery is
// fire-and-forget: callers log a send error and move on.
type Notifier interface {
	Send(ctx context.Context, msg *transfer.EmailMessage) error
}

const resendAPIURL = "https://api.resend.com/emails"

type EmailNotifier struct {
	apiKey  string
	from    string
	baseURL string
	client  *http.Client
}

func NewEmailNotifier(apiKey, from string) *EmailNotifier {
	return &EmailNotifier{
		apiKey:  apiKey,
		from:    from,
		baseURL: resendAPIURL,
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

type sendRequest struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Subject string `json:"subject"`
	HTML    string `json:"html,omitempty"`
	Text    string `json:"text,omitempty"`
}

func (n *EmailNotifier) Send(ctx context.Context, msg *transfer.EmailMessage) error {
	payload := sendRequest{
		From:    n.from,
		To:      msg.To,
		Subject: msg.Subject,
		HTML:    msg.HTML,
		Text:    msg.Text,
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.baseURL, bytes.NewBuffer(jsonData))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+n.apiKey)
	req.Header.Set("Content-Type", "application/json; charset=UTF-8")

	resp, err := n.client.Do(req)
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("email delivery failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

// Noop satisfies Notifier when no delivery backend is configured.
type Noop struct{}

func (Noop) Send(ctx context.Context, msg *transfer.EmailMessage) error { return nil }
