package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// ntfySender publishes check-ins to a ntfy topic URL. Title, tags and
// priority travel as ntfy headers; the body is the plain-text message.
type ntfySender struct {
	endpoint string
	client   *http.Client
}

func (n *ntfySender) name() string { return "ntfy" }

func (n *ntfySender) send(ctx context.Context, data payload) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.message))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	headers := map[string]string{
		"User-Agent":   userAgent,
		"Content-Type": "text/plain; charset=utf-8",
		"Title":        data.title,
		"Tags":         strings.Join(data.tags, ","),
	}
	if data.priority != "default" {
		headers["Priority"] = data.priority
	}
	for key, value := range headers {
		if value != "" {
			req.Header.Set(key, value)
		}
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("post to ntfy: %w", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("ntfy responded %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
	return nil
}
