// Package config loads the jobfill YAML configuration.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Feedback  FeedbackConfig `yaml:"feedback"`
	Mapper    MapperConfig   `yaml:"mapper"`
	Timeouts  TimeoutConfig  `yaml:"timeouts"`
	Browser   BrowserConfig  `yaml:"browser"`
	Profile   ProfileConfig  `yaml:"profile"`
	Artifacts ArtifactConfig `yaml:"artifacts"`
	LLM       LLMConfig      `yaml:"llm"`
	Log       LogConfig      `yaml:"log"`
}

type FeedbackConfig struct {
	MaxRounds  int           `yaml:"max_rounds"`
	Timeout    time.Duration `yaml:"timeout"`
	PathPrefix string        `yaml:"path_prefix"`
	Channel    string        `yaml:"channel"` // terminal | http
	Listen     string        `yaml:"listen"`  // for http
	// ModelPrompts phrases questions with the chat model.
	ModelPrompts bool   `yaml:"model_prompts"`
	Lang         string `yaml:"lang"`
}

type MapperConfig struct {
	MinConfidence float64 `yaml:"min_confidence"`
	PartialCap    float64 `yaml:"partial_cap"`
	ModelFallback bool    `yaml:"model_fallback"`
	CacheSize     int     `yaml:"cache_size"`
}

type TimeoutConfig struct {
	Extract time.Duration `yaml:"extract"`
	Profile time.Duration `yaml:"profile"`
	Fill    time.Duration `yaml:"fill"`
}

type BrowserConfig struct {
	Remote            string        `yaml:"remote"`
	Headless          *bool         `yaml:"headless"`
	Stealth           *bool         `yaml:"stealth"`
	NavigationTimeout time.Duration `yaml:"navigation_timeout"`
	ElementTimeout    time.Duration `yaml:"element_timeout"`
	ScreenshotDir     string        `yaml:"screenshot_dir"`
	Submit            bool          `yaml:"submit"`
}

type ProfileConfig struct {
	Driver string `yaml:"driver"` // file | sqlite | memory
	Path   string `yaml:"path"`
	UserID string `yaml:"user_id"`
}

type ArtifactConfig struct {
	Dir    string `yaml:"dir"`
	SQLite string `yaml:"sqlite"`
}

type LLMConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

// LoadFile reads a YAML configuration file. An empty path yields the
// defaults. Environment variables override the LLM section.
func LoadFile(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		c.LLM.APIKey = v
	}
	if v := os.Getenv("OPENAI_BASE_URL"); v != "" {
		c.LLM.BaseURL = v
	}
	if v := os.Getenv("OPENAI_MODEL"); v != "" {
		c.LLM.Model = v
	}
}

func (c *Config) applyDefaults() {
	if c.Feedback.MaxRounds <= 0 {
		c.Feedback.MaxRounds = 3
	}
	if c.Feedback.Timeout <= 0 {
		c.Feedback.Timeout = 2 * time.Minute
	}
	if c.Feedback.PathPrefix == "" {
		c.Feedback.PathPrefix = "application"
	}
	if c.Feedback.Channel == "" {
		c.Feedback.Channel = "terminal"
	}
	if c.Feedback.Listen == "" {
		c.Feedback.Listen = "127.0.0.1:8765"
	}
	if c.Mapper.MinConfidence <= 0 {
		c.Mapper.MinConfidence = 0.4
	}
	if c.Mapper.PartialCap <= 0 {
		c.Mapper.PartialCap = 0.7
	}
	if c.Mapper.CacheSize <= 0 {
		c.Mapper.CacheSize = 256
	}
	if c.Timeouts.Extract <= 0 {
		c.Timeouts.Extract = 60 * time.Second
	}
	if c.Timeouts.Profile <= 0 {
		c.Timeouts.Profile = 10 * time.Second
	}
	if c.Timeouts.Fill <= 0 {
		c.Timeouts.Fill = 2 * time.Minute
	}
	if c.Browser.Headless == nil {
		c.Browser.Headless = boolPtr(true)
	}
	if c.Browser.Stealth == nil {
		c.Browser.Stealth = boolPtr(true)
	}
	if c.Browser.NavigationTimeout <= 0 {
		c.Browser.NavigationTimeout = 30 * time.Second
	}
	if c.Browser.ElementTimeout <= 0 {
		c.Browser.ElementTimeout = 5 * time.Second
	}
	if c.Profile.Driver == "" {
		c.Profile.Driver = "file"
	}
	if c.Profile.Path == "" {
		switch c.Profile.Driver {
		case "file":
			c.Profile.Path = "profile.json"
		case "sqlite":
			c.Profile.Path = "jobfill.db"
		}
	}
	if c.Profile.UserID == "" {
		c.Profile.UserID = "default"
	}
	if c.LLM.Model == "" {
		c.LLM.Model = "gpt-4o-mini"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	switch c.Profile.Driver {
	case "file", "sqlite", "memory":
	default:
		errs = append(errs, fmt.Errorf("profile.driver must be file, sqlite or memory, got %q", c.Profile.Driver))
	}
	switch c.Feedback.Channel {
	case "terminal", "http":
	default:
		errs = append(errs, fmt.Errorf("feedback.channel must be terminal or http, got %q", c.Feedback.Channel))
	}
	if c.Mapper.MinConfidence > 1 {
		errs = append(errs, fmt.Errorf("mapper.min_confidence must be at most 1, got %v", c.Mapper.MinConfidence))
	}
	if c.Mapper.PartialCap > 1 {
		errs = append(errs, fmt.Errorf("mapper.partial_cap must be at most 1, got %v", c.Mapper.PartialCap))
	}
	if (c.Mapper.ModelFallback || c.Feedback.ModelPrompts) && c.LLM.APIKey == "" {
		errs = append(errs, errors.New("llm.api_key (or OPENAI_API_KEY) is required when model features are enabled"))
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

// NeedsModel reports whether any component talks to the chat model.
func (c *Config) NeedsModel() bool {
	return c.Mapper.ModelFallback || c.Feedback.ModelPrompts
}

func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("log.level must be debug, info, warn or error, got %q", s)
}

func boolPtr(v bool) *bool {
	return &v
}
