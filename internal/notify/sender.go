package notify

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// HTTPSender dispatches email through a form-POST transactional email API.
type HTTPSender struct {
	apiKey  string
	from    string
	client  *http.Client
	baseURL string
}

// NewHTTPSender returns a sender for the given API endpoint. from is the
// From address stamped on every email.
func NewHTTPSender(baseURL, apiKey, from string) *HTTPSender {
	return &HTTPSender{
		apiKey:  strings.TrimSpace(apiKey),
		from:    strings.TrimSpace(from),
		client:  &http.Client{Timeout: 10 * time.Second},
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

// Send posts the email to the provider and checks the response status.
func (s *HTTPSender) Send(ctx context.Context, to, subject, body string) error {
	if s.apiKey == "" {
		return fmt.Errorf("email sender not configured")
	}

	form := url.Values{}
	form.Set("from", s.from)
	form.Set("to", to)
	form.Set("subject", subject)
	form.Set("text", body)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/messages", strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", "Bearer "+s.apiKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return fmt.Errorf("email provider returned %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	return nil
}
