package config

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"golang.org/x/crypto/argon2"
	"gopkg.in/yaml.v3"

	"ppi-control/internal/domain"
)

// KeyEnv names the environment variable holding the secret passphrase.
const KeyEnv = "PPI_CONFIG_KEY"

// encPrefix marks a value encrypted with EncryptValue.
const encPrefix = "enc:"

// Config is the root of the ppid configuration file.
type Config struct {
	Includes  []string        `yaml:"includes,omitempty"`
	Logger    LoggerConfig    `yaml:"logger"`
	Tracer    TracerConfig    `yaml:"tracer"`
	Store     StoreConfig     `yaml:"store"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Gateway   GatewayConfig   `yaml:"gateway"`
	Channels  ChannelsConfig  `yaml:"channels"`
	Audit     AuditConfig     `yaml:"audit"`
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level  string `yaml:"level" env:"PPI_LOGGER_LEVEL"`
	Format string `yaml:"format" env:"PPI_LOGGER_FORMAT"`
	Output string `yaml:"output" env:"PPI_LOGGER_OUTPUT"`
}

// TracerConfig holds tracing settings.
type TracerConfig struct {
	Enabled  bool   `yaml:"enabled" env:"PPI_TRACER_ENABLED"`
	Exporter string `yaml:"exporter" env:"PPI_TRACER_EXPORTER"`
}

// StoreConfig selects the record store backend.
type StoreConfig struct {
	Driver  string        `yaml:"driver" env:"PPI_STORE_DRIVER"` // "memory" or "sqlite"
	Path    string        `yaml:"path" env:"PPI_STORE_PATH"`
	Breaker BreakerConfig `yaml:"breaker"`
}

// BreakerConfig tunes the circuit breaker in front of the store.
type BreakerConfig struct {
	MaxFailures uint32        `yaml:"max_failures"`
	Timeout     time.Duration `yaml:"timeout"`
	Interval    time.Duration `yaml:"interval"`
}

// SchedulerConfig holds the cron triggers. A trigger set to "off" is not
// armed but can still be run with `ppid trigger`.
type SchedulerConfig struct {
	Enabled  bool              `yaml:"enabled" env:"PPI_SCHEDULER_ENABLED"`
	Timezone string            `yaml:"timezone" env:"PPI_SCHEDULER_TIMEZONE"`
	Triggers map[string]string `yaml:"triggers,omitempty"`
}

// GatewayConfig holds WebSocket gateway settings.
type GatewayConfig struct {
	Enabled   bool            `yaml:"enabled" env:"PPI_GATEWAY_ENABLED"`
	Addr      string          `yaml:"addr" env:"PPI_GATEWAY_ADDR"`
	Tokens    []TokenConfig   `yaml:"tokens,omitempty"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// TokenConfig holds a single gateway auth token.
type TokenConfig struct {
	Token string `yaml:"token"`
	Name  string `yaml:"name"`
}

// RateLimitConfig is a token bucket: RPS refill rate and Burst capacity.
type RateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

// ChannelsConfig configures the external channels alerts and channel:send
// deliver to. A channel is active when its credentials are present.
type ChannelsConfig struct {
	Alert     []string             `yaml:"alert" env:"PPI_CHANNELS_ALERT" envSeparator:","`
	RateLimit RateLimitConfig      `yaml:"rate_limit"`
	Slack     SlackChannelConfig   `yaml:"slack"`
	Discord   DiscordChannelConfig `yaml:"discord"`
	Teams     TeamsChannelConfig   `yaml:"teams"`
}

// SlackChannelConfig holds Slack channel settings.
type SlackChannelConfig struct {
	BotToken  string `yaml:"bot_token" env:"PPI_SLACK_BOT_TOKEN"`
	ChannelID string `yaml:"channel_id" env:"PPI_SLACK_CHANNEL_ID"`
	APIURL    string `yaml:"api_url,omitempty"`
}

// DiscordChannelConfig holds Discord channel settings.
type DiscordChannelConfig struct {
	Token     string `yaml:"token" env:"PPI_DISCORD_TOKEN"`
	ChannelID string `yaml:"channel_id" env:"PPI_DISCORD_CHANNEL_ID"`
}

// TeamsChannelConfig holds the Microsoft Teams incoming webhook.
type TeamsChannelConfig struct {
	WebhookURL string `yaml:"webhook_url" env:"PPI_TEAMS_WEBHOOK_URL"`
}

// AuditConfig controls the JSONL mirror of the audit feed. Empty Path disables it.
type AuditConfig struct {
	Path    string        `yaml:"path" env:"PPI_AUDIT_PATH"`
	MaxAge  time.Duration `yaml:"max_age,omitempty" env:"PPI_AUDIT_MAX_AGE"`
	MaxSize string        `yaml:"max_size,omitempty" env:"PPI_AUDIT_MAX_SIZE"` // e.g. "50MB"
}

// defaultDataDir returns the persistent data directory under $HOME/.ppi-control/data.
// Falls back to "./data" if $HOME cannot be determined.
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./data"
	}
	return filepath.Join(home, ".ppi-control", "data")
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	dataDir := defaultDataDir()
	return &Config{
		Logger: LoggerConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Tracer: TracerConfig{
			Exporter: "noop",
		},
		Store: StoreConfig{
			Driver: "sqlite",
			Path:   filepath.Join(dataDir, "ppi.db"),
			Breaker: BreakerConfig{
				MaxFailures: 5,
				Timeout:     30 * time.Second,
				Interval:    60 * time.Second,
			},
		},
		Scheduler: SchedulerConfig{
			Enabled:  true,
			Timezone: "Local",
		},
		Gateway: GatewayConfig{
			Enabled:   true,
			Addr:      "127.0.0.1:8090",
			RateLimit: RateLimitConfig{RPS: 20, Burst: 40},
		},
		Channels: ChannelsConfig{
			RateLimit: RateLimitConfig{RPS: 1, Burst: 5},
		},
	}
}

// Load reads a YAML config file, applies env var overrides, and decrypts secrets.
// A missing file yields the defaults plus env overrides.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, loadError("read config", err)
	}

	if err == nil {
		absPath, err := filepath.Abs(path)
		if err != nil {
			return nil, loadError("resolve config path", err)
		}
		if err := validatePermissions(absPath); err != nil {
			return nil, loadError("check permissions", err)
		}

		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, loadError("parse config", err)
		}

		if len(cfg.Includes) > 0 {
			visited := map[string]bool{absPath: true}
			if err := processIncludes(cfg, filepath.Dir(absPath), visited, 0); err != nil {
				return nil, loadError("includes", err)
			}
			// Re-apply the main file so it takes precedence over includes.
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, loadError("parse config (second pass)", err)
			}
			cfg.Includes = nil
		}
	}

	if err := ApplyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if passphrase := os.Getenv(KeyEnv); passphrase != "" {
		if err := decryptSecrets(cfg, passphrase); err != nil {
			return nil, domain.NewSubSystemError("config", "Load", domain.ErrDecryption, err.Error())
		}
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadError(step string, err error) error {
	return domain.NewSubSystemError("config", "Load", domain.ErrConfigLoad, fmt.Sprintf("%s: %v", step, err))
}

// ApplyEnvOverrides maps PPI_* env vars onto cfg. Unset variables leave the
// current values in place.
func ApplyEnvOverrides(cfg *Config) error {
	if err := env.Parse(cfg); err != nil {
		return loadError("parse env", err)
	}
	return nil
}

// secretFields lists every value that may carry an "enc:" prefix.
func secretFields(cfg *Config) map[string]*string {
	fields := map[string]*string{
		"channels.slack.bot_token":   &cfg.Channels.Slack.BotToken,
		"channels.discord.token":     &cfg.Channels.Discord.Token,
		"channels.teams.webhook_url": &cfg.Channels.Teams.WebhookURL,
	}
	for i := range cfg.Gateway.Tokens {
		fields[fmt.Sprintf("gateway.tokens[%d]", i)] = &cfg.Gateway.Tokens[i].Token
	}
	return fields
}

// decryptSecrets replaces every "enc:..." secret with its plaintext.
func decryptSecrets(cfg *Config, passphrase string) error {
	for name, fp := range secretFields(cfg) {
		if !strings.HasPrefix(*fp, encPrefix) {
			continue
		}
		plain, err := DecryptValue(strings.TrimPrefix(*fp, encPrefix), passphrase)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		*fp = plain
	}
	return nil
}

// EncryptValue encrypts a plaintext value with AES-256-GCM using a passphrase.
// The result is hex(salt) + ":" + hex(nonce+ciphertext), without the "enc:" prefix.
func EncryptValue(plaintext, passphrase string) (string, error) {
	salt := make([]byte, 16)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}

	gcm, err := newGCM(passphrase, salt)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return hex.EncodeToString(salt) + ":" + hex.EncodeToString(ciphertext), nil
}

// DecryptValue decrypts a value produced by EncryptValue.
func DecryptValue(encrypted, passphrase string) (string, error) {
	saltHex, dataHex, ok := strings.Cut(encrypted, ":")
	if !ok {
		return "", fmt.Errorf("invalid encrypted format")
	}
	salt, err := hex.DecodeString(saltHex)
	if err != nil {
		return "", fmt.Errorf("decode salt: %w", err)
	}
	data, err := hex.DecodeString(dataHex)
	if err != nil {
		return "", fmt.Errorf("decode ciphertext: %w", err)
	}

	gcm, err := newGCM(passphrase, salt)
	if err != nil {
		return "", err
	}
	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return "", fmt.Errorf("ciphertext too short")
	}

	nonce, ciphertext := data[:nonceSize], data[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("decrypt: %w", err)
	}
	return string(plaintext), nil
}

func newGCM(passphrase string, salt []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(deriveKey(passphrase, salt))
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create gcm: %w", err)
	}
	return gcm, nil
}

// deriveKey uses Argon2id to derive a 32-byte key from passphrase + salt.
func deriveKey(passphrase string, salt []byte) []byte {
	return argon2.IDKey([]byte(passphrase), salt, 1, 64*1024, 4, 32)
}

// validatePermissions rejects config files writable by group or others.
func validatePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat config: %w", err)
	}
	mode := info.Mode().Perm()
	if mode&0o022 != 0 {
		return fmt.Errorf("config file %s has insecure permissions %o (want 0600 or 0644)", path, mode)
	}
	return nil
}
