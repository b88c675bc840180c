package channel

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/bwmarrin/discordgo"
)

// DiscordOption configures the Discord sender.
type DiscordOption func(*DiscordChannel)

// WithDiscordHTTPClient replaces the HTTP client the REST session uses.
func WithDiscordHTTPClient(c *http.Client) DiscordOption {
	return func(d *DiscordChannel) { d.client = c }
}

// DiscordChannel posts notifications to one Discord channel through the REST
// API. No gateway connection is opened.
type DiscordChannel struct {
	session   *discordgo.Session
	channelID string
	client    *http.Client
	logger    *slog.Logger
}

// NewDiscordChannel creates a Discord bot sender for channelID.
func NewDiscordChannel(token, channelID string, logger *slog.Logger, opts ...DiscordOption) (*DiscordChannel, error) {
	d := &DiscordChannel{channelID: channelID, logger: logger}
	for _, o := range opts {
		o(d)
	}
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("discord session: %w", err)
	}
	if d.client != nil {
		session.Client = d.client
	}
	d.session = session
	return d, nil
}

func (d *DiscordChannel) Name() string { return "discord" }

func (d *DiscordChannel) Send(ctx context.Context, content string) error {
	msg, err := d.session.ChannelMessageSend(d.channelID, content, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("discord send: %w", err)
	}
	d.logger.Debug("discord message posted", "channel_id", d.channelID, "message_id", msg.ID)
	return nil
}
