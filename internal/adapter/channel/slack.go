package channel

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/slack-go/slack"
)

// SlackOption configures the Slack sender.
type SlackOption func(*SlackChannel)

// WithSlackAPIURL points the client at a different Slack API root.
func WithSlackAPIURL(url string) SlackOption {
	return func(s *SlackChannel) { s.apiURL = url }
}

// SlackChannel posts notifications to one Slack channel with a bot token.
type SlackChannel struct {
	api       *slack.Client
	channelID string
	apiURL    string
	logger    *slog.Logger
}

// NewSlackChannel creates a Slack sender for channelID.
func NewSlackChannel(botToken, channelID string, logger *slog.Logger, opts ...SlackOption) *SlackChannel {
	s := &SlackChannel{channelID: channelID, logger: logger}
	for _, o := range opts {
		o(s)
	}
	var clientOpts []slack.Option
	if s.apiURL != "" {
		clientOpts = append(clientOpts, slack.OptionAPIURL(s.apiURL))
	}
	s.api = slack.New(botToken, clientOpts...)
	return s
}

func (s *SlackChannel) Name() string { return "slack" }

func (s *SlackChannel) Send(ctx context.Context, content string) error {
	_, ts, err := s.api.PostMessageContext(ctx, s.channelID, slack.MsgOptionText(content, false))
	if err != nil {
		return fmt.Errorf("slack post: %w", err)
	}
	s.logger.Debug("slack message posted", "channel_id", s.channelID, "ts", ts)
	return nil
}
