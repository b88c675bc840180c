package config

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// ValidationError accumulates config validation errors.
type ValidationError struct {
	Errors []string
}

func (v *ValidationError) Error() string {
	return "config validation failed:\n  - " + strings.Join(v.Errors, "\n  - ")
}

// HasErrors reports whether any validation errors have been recorded.
func (v *ValidationError) HasErrors() bool {
	return len(v.Errors) > 0
}

// Add records a formatted validation error.
func (v *ValidationError) Add(format string, args ...any) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}

// Validate checks cfg for structural correctness. It returns a *ValidationError
// when one or more problems are found, allowing callers to inspect all issues.
func Validate(cfg *Config) error {
	ve := &ValidationError{}
	validateLogger(cfg, ve)
	validateTracer(cfg, ve)
	validateStore(cfg, ve)
	validateScheduler(cfg, ve)
	validateGateway(cfg, ve)
	validateChannels(cfg, ve)
	validateAudit(cfg, ve)
	if ve.HasErrors() {
		return ve
	}
	return nil
}

var validLevels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}

func validateLogger(cfg *Config, ve *ValidationError) {
	if !validLevels[strings.ToLower(cfg.Logger.Level)] {
		ve.Add("logger.level %q is invalid (want: debug, info, warn, error)", cfg.Logger.Level)
	}
	switch cfg.Logger.Format {
	case "text", "json":
	default:
		ve.Add("logger.format %q is invalid (want: text, json)", cfg.Logger.Format)
	}
}

func validateTracer(cfg *Config, ve *ValidationError) {
	switch cfg.Tracer.Exporter {
	case "", "noop", "stdout":
	default:
		ve.Add("tracer.exporter %q is invalid (want: noop, stdout)", cfg.Tracer.Exporter)
	}
}

func validateStore(cfg *Config, ve *ValidationError) {
	switch cfg.Store.Driver {
	case "memory":
	case "sqlite":
		if cfg.Store.Path == "" {
			ve.Add("store.path is required for the sqlite driver")
		}
	default:
		ve.Add("store.driver %q is invalid (want: memory, sqlite)", cfg.Store.Driver)
	}
	if cfg.Store.Breaker.Timeout < 0 || cfg.Store.Breaker.Interval < 0 {
		ve.Add("store.breaker durations must not be negative")
	}
}

// KnownTriggers lists the trigger names accepted under scheduler.triggers.
var KnownTriggers = []string{"daily_report", "deadline_check", "weekly_report", "feed_flush", "risk_sweep"}

func validateScheduler(cfg *Config, ve *ValidationError) {
	if !cfg.Scheduler.Enabled {
		return
	}
	if _, err := time.LoadLocation(cfg.Scheduler.Timezone); err != nil {
		ve.Add("scheduler.timezone %q is invalid: %v", cfg.Scheduler.Timezone, err)
	}
	for name, spec := range cfg.Scheduler.Triggers {
		known := false
		for _, k := range KnownTriggers {
			if k == name {
				known = true
				break
			}
		}
		if !known {
			ve.Add("scheduler.triggers.%s is not a known trigger (want: %s)", name, strings.Join(KnownTriggers, ", "))
			continue
		}
		if spec == "off" {
			continue
		}
		if !validSchedule(spec) {
			ve.Add("scheduler.triggers.%s: %q is not a cron expression, duration or \"off\"", name, spec)
		}
	}
}

func validSchedule(spec string) bool {
	if _, err := cron.ParseStandard(spec); err == nil {
		return true
	}
	d, err := time.ParseDuration(spec)
	return err == nil && d > 0
}

func validateGateway(cfg *Config, ve *ValidationError) {
	if !cfg.Gateway.Enabled {
		return
	}
	if cfg.Gateway.Addr == "" {
		ve.Add("gateway.addr is required when gateway is enabled")
	} else if _, _, err := net.SplitHostPort(cfg.Gateway.Addr); err != nil {
		ve.Add("gateway.addr %q is not a valid host:port", cfg.Gateway.Addr)
	}
	for i, tok := range cfg.Gateway.Tokens {
		if tok.Token == "" {
			ve.Add("gateway.tokens[%d].token is required", i)
		}
	}
	validateRate("gateway.rate_limit", cfg.Gateway.RateLimit, ve)
}

var validAlertChannels = map[string]bool{"slack": true, "discord": true, "teams": true}

func validateChannels(cfg *Config, ve *ValidationError) {
	ch := cfg.Channels
	for _, name := range ch.Alert {
		if !validAlertChannels[name] {
			ve.Add("channels.alert: %q is invalid (want: slack, discord, teams)", name)
		}
	}
	if ch.Slack.BotToken != "" && ch.Slack.ChannelID == "" {
		ve.Add("channels.slack.channel_id is required when a bot token is set")
	}
	if ch.Discord.Token != "" && ch.Discord.ChannelID == "" {
		ve.Add("channels.discord.channel_id is required when a token is set")
	}
	if ch.Teams.WebhookURL != "" && !strings.HasPrefix(ch.Teams.WebhookURL, encPrefix) {
		if u, err := url.Parse(ch.Teams.WebhookURL); err != nil || u.Scheme == "" || u.Host == "" {
			ve.Add("channels.teams.webhook_url %q is not an absolute URL", ch.Teams.WebhookURL)
		}
	}
	validateRate("channels.rate_limit", ch.RateLimit, ve)
}

func validateRate(field string, r RateLimitConfig, ve *ValidationError) {
	if r.RPS < 0 {
		ve.Add("%s.rps must not be negative", field)
	}
	if r.RPS > 0 && r.Burst <= 0 {
		ve.Add("%s.burst must be > 0 when rps is set", field)
	}
}

func validateAudit(cfg *Config, ve *ValidationError) {
	if cfg.Audit.MaxAge < 0 {
		ve.Add("audit.max_age must not be negative")
	}
	if _, err := ParseSize(cfg.Audit.MaxSize); err != nil {
		ve.Add("audit.max_size: %v", err)
	}
}

// ParseSize parses a human-readable size such as "100MB" or "1GB" into bytes.
// An empty string is zero.
func ParseSize(s string) (int64, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return 0, nil
	}

	multiplier := int64(1)
	for _, u := range []struct {
		suffix string
		mult   int64
	}{{"GB", 1 << 30}, {"MB", 1 << 20}, {"KB", 1 << 10}, {"B", 1}} {
		if strings.HasSuffix(s, u.suffix) {
			multiplier = u.mult
			s = strings.TrimSuffix(s, u.suffix)
			break
		}
	}

	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid size %q", s)
	}
	return n * multiplier, nil
}
