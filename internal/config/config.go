// Package config handles application configuration from environment variables.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"clip_bot/internal/links"
)

// Supported chat platforms.
const (
	PlatformDiscord  = "discord"
	PlatformMatrix   = "matrix"
	PlatformTelegram = "telegram"
)

const (
	defaultVaultURL      = "http://127.0.0.1:27123/"
	defaultFolder        = "Clippings/"
	defaultDatabasePath  = "./data/clipper.db"
	defaultRecoveryLimit = 100
	maxRecoveryLimit     = 100
)

// Config holds the application configuration.
type Config struct {
	Platform string

	DiscordToken     string
	DiscordChannelID string

	MatrixHomeserverURL string
	MatrixAccessToken   string
	MatrixRoomID        string
	MatrixUserID        string

	TelegramBotToken string
	TelegramChatID   int64

	VaultURL          string
	VaultAPIKey       string
	DestinationFolder string

	DatabasePath       string
	LogLevel           string
	AllowedUsers       []string
	RecoveryLimit      int
	RescanInterval     time.Duration
	RenderTimeout      time.Duration
	RenderSettle       time.Duration
	ChromePath         string
	ExcludeURLPatterns []string
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	return load(true)
}

// LoadOffline reads configuration for commands that never connect to a chat
// platform, so platform credentials are not required.
func LoadOffline() (*Config, error) {
	return load(false)
}

func load(withPlatform bool) (*Config, error) {
	cfg := &Config{
		Platform:          strings.ToLower(envOrDefault("BOT_TYPE", PlatformDiscord)),
		DestinationFolder: envOrDefault("DESTINATION_FOLDER", defaultFolder),
		DatabasePath:      envOrDefault("DATABASE_PATH", defaultDatabasePath),
		LogLevel:          envOrDefault("LOG_LEVEL", "info"),
		ChromePath:        os.Getenv("CHROME_PATH"),
	}

	var err error
	if withPlatform {
		if err := cfg.loadPlatform(); err != nil {
			return nil, err
		}
	}

	if cfg.VaultAPIKey, err = require("OBSIDIAN_API_KEY"); err != nil {
		return nil, err
	}
	if cfg.VaultURL, err = parseBaseURL(envOrDefault("OBSIDIAN_API_URL", defaultVaultURL)); err != nil {
		return nil, err
	}
	if !strings.HasSuffix(cfg.DestinationFolder, "/") {
		cfg.DestinationFolder += "/"
	}

	for _, s := range strings.Split(os.Getenv("ALLOWED_USERS"), ",") {
		if s = strings.TrimSpace(s); s != "" {
			cfg.AllowedUsers = append(cfg.AllowedUsers, s)
		}
	}

	cfg.RecoveryLimit = defaultRecoveryLimit
	if raw := os.Getenv("RECOVERY_LIMIT"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxRecoveryLimit {
			return nil, fmt.Errorf("RECOVERY_LIMIT must be between 1 and %d, got %q", maxRecoveryLimit, raw)
		}
		cfg.RecoveryLimit = n
	}

	if cfg.RescanInterval, err = duration("RESCAN_INTERVAL", 0); err != nil {
		return nil, err
	}
	if cfg.RenderTimeout, err = duration("RENDER_TIMEOUT", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.RenderSettle, err = duration("RENDER_SETTLE", 2*time.Second); err != nil {
		return nil, err
	}

	for _, p := range strings.Split(os.Getenv("EXCLUDE_URL_PATTERNS"), ",") {
		if p = strings.TrimSpace(p); p == "" {
			continue
		}
		if err := links.ValidateRegex(p); err != nil {
			return nil, fmt.Errorf("EXCLUDE_URL_PATTERNS: %w", err)
		}
		cfg.ExcludeURLPatterns = append(cfg.ExcludeURLPatterns, p)
	}

	return cfg, nil
}

func (c *Config) loadPlatform() error {
	var err error
	switch c.Platform {
	case PlatformDiscord:
		if c.DiscordToken, err = require("DISCORD_TOKEN"); err != nil {
			return err
		}
		if c.DiscordChannelID, err = require("DISCORD_CHANNEL_ID"); err != nil {
			return err
		}
	case PlatformMatrix:
		if c.MatrixHomeserverURL, err = require("MATRIX_HOMESERVER_URL"); err != nil {
			return err
		}
		if c.MatrixAccessToken, err = require("MATRIX_ACCESS_TOKEN"); err != nil {
			return err
		}
		if c.MatrixRoomID, err = require("MATRIX_ROOM_ID"); err != nil {
			return err
		}
		c.MatrixUserID = os.Getenv("MATRIX_USER_ID")
	case PlatformTelegram:
		if c.TelegramBotToken, err = require("TELEGRAM_BOT_TOKEN"); err != nil {
			return err
		}
		raw, err := require("TELEGRAM_CHAT_ID")
		if err != nil {
			return err
		}
		if c.TelegramChatID, err = strconv.ParseInt(raw, 10, 64); err != nil {
			return fmt.Errorf("invalid TELEGRAM_CHAT_ID %q: %w", raw, err)
		}
	default:
		return fmt.Errorf("unknown BOT_TYPE %q, use %s, %s or %s", c.Platform, PlatformDiscord, PlatformMatrix, PlatformTelegram)
	}
	return nil
}

// IsUserAllowed checks whether an author ID is in the allow list.
// Returns true if the allow list is empty (all users permitted).
func (c *Config) IsUserAllowed(userID string) bool {
	if len(c.AllowedUsers) == 0 {
		return true
	}
	for _, id := range c.AllowedUsers {
		if id == userID {
			return true
		}
	}
	return false
}

func require(key string) (string, error) {
	v := os.Getenv(key)
	if v == "" {
		return "", fmt.Errorf("%s is required", key)
	}
	return v, nil
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func duration(key string, def time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d < 0 {
		return 0, fmt.Errorf("invalid %s %q: want a non-negative duration like 30s", key, raw)
	}
	return d, nil
}

func parseBaseURL(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("invalid OBSIDIAN_API_URL %q", raw)
	}
	if !strings.HasSuffix(raw, "/") {
		raw += "/"
	}
	return raw, nil
}
