// Package integration holds end-to-end tests that run the agents over a real
// SQLite store, and live channel checks that need credentials.
package integration

import (
	"context"
	"os"
	"testing"
	"time"
)

// Config holds integration test configuration from environment
type Config struct {
	SlackToken     string
	SlackChannel   string
	DiscordToken   string
	DiscordChannel string
	TestTimeout    time.Duration
	SkipSlow       bool
}

// LoadConfig loads integration test configuration from environment
func LoadConfig() *Config {
	return &Config{
		SlackToken:     os.Getenv("PPI_IT_SLACK_TOKEN"),
		SlackChannel:   os.Getenv("PPI_IT_SLACK_CHANNEL"),
		DiscordToken:   os.Getenv("PPI_IT_DISCORD_TOKEN"),
		DiscordChannel: os.Getenv("PPI_IT_DISCORD_CHANNEL"),
		TestTimeout:    30 * time.Second,
		SkipSlow:       os.Getenv("SKIP_SLOW_TESTS") == "1",
	}
}

// SkipIfNoCredential skips the test if a channel credential is not set
func SkipIfNoCredential(t *testing.T, value, name string) {
	t.Helper()
	if value == "" {
		t.Skipf("Skipping %s integration test: PPI_IT_%s_TOKEN not set", name, name)
	}
}

// SkipIfShort skips integration tests in short mode
func SkipIfShort(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
}

// NewTestContext creates a context with timeout for integration tests
func NewTestContext(t *testing.T, timeout time.Duration) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	t.Cleanup(cancel)
	return ctx
}
