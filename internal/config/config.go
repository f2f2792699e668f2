package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/MimeLyc/binky/pkg/icron"
	"github.com/MimeLyc/binky/pkg/log"
)

// Config holds all application configuration.
// Values come from environment variables (a .env file in the working
// directory is honored) with defaults, then Options are applied.
//
// Environment Variables:
// System:
// - DATA_DIR: directory for the database, lock, settings and audio (default: $HOME/.binky)
// - LOG_LEVEL: debug|info|warn|error (default: info)
// - HTTP_ADDR: API listen address (default: 127.0.0.1:7788)
// - UI_ENABLED / UI_STATIC_DIR: serve the built web UI from this directory (default: false, ./web/dist)
//
// Feed:
// - FEED_URL: RSS feed to sync episodes from
// - FEED_SINCE: skip feed items published before this date (default: 2024-01-01)
// - PODCAST_NAME: podcast_name written on inserted episodes (default: Nettgefluster)
// - SYNC_CRON: schedule for background syncs, empty disables (default: 0 */6 * * *)
//
// Jobs:
// - POLL_INTERVAL: queue status poll interval in seconds (default: 2)
// - STALL_TIMEOUT: seconds without events before a running job is checked (default: 1800)
// - WHISPER_BIN / WHISPER_MODEL: transcription CLI and model path
// - DIARIZE_BIN / DIARIZE_MODEL_DIR: diarization CLI and model directory
type Config struct {
	System SystemConfig `json:"system"`
	Feed   FeedConfig   `json:"feed"`
	Jobs   JobsConfig   `json:"jobs"`
	Engine EngineConfig `json:"engine"`
}

type SystemConfig struct {
	DataDir  string `json:"data_dir"`
	LogLevel string `json:"log_level"`
	HTTPAddr string `json:"http_addr"`

	UIEnabled   bool   `json:"ui_enabled"`
	UIStaticDir string `json:"ui_static_dir"`
}

type FeedConfig struct {
	URL         string `json:"url"`
	Since       string `json:"since"`
	PodcastName string `json:"podcast_name"`
	CronExpr    string `json:"cron_expr"`
}

type JobsConfig struct {
	PollInterval time.Duration `json:"poll_interval"`
	StallTimeout time.Duration `json:"stall_timeout"`
}

type EngineConfig struct {
	WhisperBin      string `json:"whisper_bin"`
	WhisperModel    string `json:"whisper_model"`
	DiarizeBin      string `json:"diarize_bin"`
	DiarizeModelDir string `json:"diarize_model_dir"`
	FfmpegBin       string `json:"ffmpeg_bin"`
	FfprobeBin      string `json:"ffprobe_bin"`
}

const (
	DefaultFeedURL   = "https://cdn.julephosting.de/podcasts/1188-nettgefluster-der-podcast-eines-ehepaars/feed.rss"
	DefaultFeedSince = "2024-01-01"
)

// Option is a function type for configuring Config
type Option func(*Config)

// WithDataDir overrides DATA_DIR.
func WithDataDir(dir string) Option {
	return func(c *Config) {
		if strings.TrimSpace(dir) != "" {
			c.System.DataDir = dir
		}
	}
}

// WithHTTPAddr overrides HTTP_ADDR.
func WithHTTPAddr(addr string) Option {
	return func(c *Config) {
		if strings.TrimSpace(addr) != "" {
			c.System.HTTPAddr = addr
		}
	}
}

// NewFromEnv creates a new Config instance with values from environment variables and options
func NewFromEnv(opts ...Option) (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Warn("Failed to load .env file: %v", err)
	}

	config := &Config{
		System: SystemConfig{
			DataDir:  getEnvString("DATA_DIR", defaultDataDir()),
			LogLevel: getEnvString("LOG_LEVEL", "info"),
			HTTPAddr: getEnvString("HTTP_ADDR", "127.0.0.1:7788"),

			UIEnabled:   getEnvBool("UI_ENABLED", false),
			UIStaticDir: getEnvString("UI_STATIC_DIR", filepath.Join("web", "dist")),
		},
		Feed: FeedConfig{
			URL:         getEnvString("FEED_URL", DefaultFeedURL),
			Since:       getEnvString("FEED_SINCE", DefaultFeedSince),
			PodcastName: getEnvString("PODCAST_NAME", "Nettgefluster"),
			CronExpr:    getEnvRaw("SYNC_CRON", "0 */6 * * *"),
		},
		Jobs: JobsConfig{
			PollInterval: time.Duration(getEnvInt("POLL_INTERVAL", 2)) * time.Second,
			StallTimeout: time.Duration(getEnvInt("STALL_TIMEOUT", 1800)) * time.Second,
		},
		Engine: EngineConfig{
			WhisperBin:      getEnvString("WHISPER_BIN", "whisper-cli"),
			WhisperModel:    getEnvString("WHISPER_MODEL", ""),
			DiarizeBin:      getEnvString("DIARIZE_BIN", "binky-diarize"),
			DiarizeModelDir: getEnvString("DIARIZE_MODEL_DIR", ""),
			FfmpegBin:       getEnvString("FFMPEG_BIN", "ffmpeg"),
			FfprobeBin:      getEnvString("FFPROBE_BIN", "ffprobe"),
		},
	}

	for _, opt := range opts {
		opt(config)
	}

	if err := config.validate(); err != nil {
		return nil, err
	}

	log.Debug("Config: %+v", config)
	return config, nil
}

// validate checks if all required configuration is properly set
func (c *Config) validate() error {
	if strings.TrimSpace(c.System.DataDir) == "" {
		return fmt.Errorf("DATA_DIR is required")
	}
	if strings.TrimSpace(c.Feed.URL) == "" {
		return fmt.Errorf("FEED_URL is required")
	}
	if _, err := time.Parse(time.DateOnly, c.Feed.Since); err != nil {
		return fmt.Errorf("invalid FEED_SINCE %q: %w", c.Feed.Since, err)
	}
	if c.Feed.CronExpr != "" {
		if _, err := icron.Parse(c.Feed.CronExpr); err != nil {
			return fmt.Errorf("invalid SYNC_CRON: %w", err)
		}
	}
	if c.Jobs.PollInterval <= 0 {
		return fmt.Errorf("POLL_INTERVAL must be positive")
	}
	if c.Jobs.StallTimeout <= 0 {
		return fmt.Errorf("STALL_TIMEOUT must be positive")
	}
	return nil
}

func (c *Config) DBPath() string {
	return filepath.Join(c.System.DataDir, "binky.db")
}

func (c *Config) LockPath() string {
	return filepath.Join(c.System.DataDir, "binky.lock")
}

func (c *Config) SettingsPath() string {
	return getEnvString("SETTINGS_FILE", filepath.Join(c.System.DataDir, "settings.json"))
}

func (c *Config) AudioDir() string {
	return filepath.Join(c.System.DataDir, "audio")
}

// FeedSince returns the parsed cut-off date; validate guarantees it parses.
func (c *Config) FeedSince() time.Time {
	t, _ := time.Parse(time.DateOnly, c.Feed.Since)
	return t
}

// EnsureDirectories creates the data directories.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.System.DataDir, c.AudioDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return nil
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return ".binky"
	}
	return filepath.Join(home, ".binky")
}

// getEnvString gets a string value from environment variables with default
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvRaw is like getEnvString but a set-but-empty variable wins over the default.
func getEnvRaw(key, defaultValue string) string {
	if value, ok := os.LookupEnv(key); ok {
		return strings.TrimSpace(value)
	}
	return defaultValue
}

// getEnvInt gets an integer value from environment variables with default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvBool gets a boolean value from environment variables with default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
