package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/MimeLyc/binky/pkg/icron"
)

// RuntimeSettings are the values a running instance lets the user change
// without a restart. They are persisted as JSON next to the database.
type RuntimeSettings struct {
	FeedURL             string `json:"feed_url"`
	SyncCron            string `json:"sync_cron"`
	PollIntervalSeconds int    `json:"poll_interval_seconds"`
	StallTimeoutSeconds int    `json:"stall_timeout_seconds"`
}

func (s RuntimeSettings) Validate() error {
	if strings.TrimSpace(s.FeedURL) == "" {
		return fmt.Errorf("feed_url is required")
	}
	if u, err := url.Parse(s.FeedURL); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid feed_url %q", s.FeedURL)
	}
	if strings.TrimSpace(s.SyncCron) != "" {
		if _, err := icron.Parse(s.SyncCron); err != nil {
			return fmt.Errorf("invalid sync_cron: %w", err)
		}
	}
	if s.PollIntervalSeconds <= 0 {
		return fmt.Errorf("poll_interval_seconds must be positive")
	}
	if s.StallTimeoutSeconds <= 0 {
		return fmt.Errorf("stall_timeout_seconds must be positive")
	}
	return nil
}

func (c *Config) RuntimeSettings() RuntimeSettings {
	return RuntimeSettings{
		FeedURL:             c.Feed.URL,
		SyncCron:            c.Feed.CronExpr,
		PollIntervalSeconds: int(c.Jobs.PollInterval / time.Second),
		StallTimeoutSeconds: int(c.Jobs.StallTimeout / time.Second),
	}
}

func WithRuntimeSettings(settings RuntimeSettings) Option {
	return func(c *Config) {
		if strings.TrimSpace(settings.FeedURL) != "" {
			c.Feed.URL = settings.FeedURL
		}
		c.Feed.CronExpr = strings.TrimSpace(settings.SyncCron)
		if settings.PollIntervalSeconds > 0 {
			c.Jobs.PollInterval = time.Duration(settings.PollIntervalSeconds) * time.Second
		}
		if settings.StallTimeoutSeconds > 0 {
			c.Jobs.StallTimeout = time.Duration(settings.StallTimeoutSeconds) * time.Second
		}
	}
}

func LoadRuntimeSettingsFile(path string) (RuntimeSettings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return RuntimeSettings{}, err
	}
	var settings RuntimeSettings
	if err := json.Unmarshal(data, &settings); err != nil {
		return RuntimeSettings{}, fmt.Errorf("invalid settings file: %w", err)
	}
	return settings, nil
}

func WriteRuntimeSettingsFile(path string, settings RuntimeSettings) error {
	if err := settings.Validate(); err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}

	content, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return err
	}
	content = append(content, '\n')

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, content, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}

type RuntimeSettingsStore struct {
	path string

	mu      sync.RWMutex
	current RuntimeSettings
}

func NewRuntimeSettingsStore(path string, initial RuntimeSettings) (*RuntimeSettingsStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("settings file path is required")
	}
	if err := initial.Validate(); err != nil {
		return nil, err
	}
	return &RuntimeSettingsStore{
		path:    path,
		current: initial,
	}, nil
}

func (s *RuntimeSettingsStore) Path() string {
	return s.path
}

func (s *RuntimeSettingsStore) GetRuntimeSettings() (RuntimeSettings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current, nil
}

func (s *RuntimeSettingsStore) UpdateRuntimeSettings(next RuntimeSettings) (RuntimeSettings, error) {
	if err := next.Validate(); err != nil {
		return RuntimeSettings{}, err
	}
	if err := WriteRuntimeSettingsFile(s.path, next); err != nil {
		return RuntimeSettings{}, err
	}

	s.mu.Lock()
	s.current = next
	s.mu.Unlock()
	return next, nil
}

// Reload re-reads the file. It reports whether the settings changed.
func (s *RuntimeSettingsStore) Reload() (RuntimeSettings, bool, error) {
	loaded, err := LoadRuntimeSettingsFile(s.path)
	if err != nil {
		return RuntimeSettings{}, false, err
	}
	if err := loaded.Validate(); err != nil {
		return RuntimeSettings{}, false, err
	}

	s.mu.Lock()
	changed := loaded != s.current
	s.current = loaded
	s.mu.Unlock()
	return loaded, changed, nil
}
