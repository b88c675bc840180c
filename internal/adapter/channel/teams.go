package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// TeamsChannel posts MessageCards to a Microsoft Teams incoming webhook.
type TeamsChannel struct {
	webhookURL string
	client     *http.Client
	logger     *slog.Logger
}

// NewTeamsChannel creates a Teams webhook sender.
func NewTeamsChannel(webhookURL string, logger *slog.Logger) *TeamsChannel {
	return &TeamsChannel{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 30 * time.Second},
		logger:     logger,
	}
}

type teamsMessageCard struct {
	Type       string `json:"@type"`
	Context    string `json:"@context"`
	Summary    string `json:"summary"`
	ThemeColor string `json:"themeColor,omitempty"`
	Text       string `json:"text"`
}

func (t *TeamsChannel) Name() string { return "teams" }

func (t *TeamsChannel) Send(ctx context.Context, content string) error {
	body, err := json.Marshal(teamsMessageCard{
		Type:       "MessageCard",
		Context:    "https://schema.org/extensions",
		Summary:    summarize(content),
		ThemeColor: themeFor(content),
		Text:       content,
	})
	if err != nil {
		return fmt.Errorf("marshal card: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("teams webhook error %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

// summarize returns the first line of content, capped for the card summary.
func summarize(content string) string {
	line, _, _ := bytes.Cut([]byte(content), []byte("\n"))
	if len(line) > 80 {
		line = append(line[:77:77], "..."...)
	}
	return string(line)
}

// themeFor colours alert cards by the severity tag messenger puts in front.
func themeFor(content string) string {
	switch {
	case bytes.HasPrefix([]byte(content), []byte("[ERROR]")):
		return "D13438"
	case bytes.HasPrefix([]byte(content), []byte("[WARNING]")):
		return "FFB900"
	default:
		return ""
	}
}
