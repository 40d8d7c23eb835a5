// Package traffic runs the capture, count and decide control loop.
package traffic

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/teslashibe/go-traffic/internal/config"
	"github.com/teslashibe/go-traffic/pkg/capture"
	"github.com/teslashibe/go-traffic/pkg/detect"
	"github.com/teslashibe/go-traffic/pkg/detect/cloud"
	"github.com/teslashibe/go-traffic/pkg/detect/yolo"
	"github.com/teslashibe/go-traffic/pkg/frame"
	"github.com/teslashibe/go-traffic/pkg/policy"
)

// Default configuration values.
const (
	DefaultVideoSource = "0"
	DefaultInterval    = time.Second
)

// Config holds all configuration for a run. It is not modified once the loop
// starts. Flag parsing is done in cmd/traffic; this struct is data only.
type Config struct {
	// VideoSource is a device index ("0") or a stream URL / file path.
	VideoSource string `yaml:"video_source"`

	// Headless disables the preview window.
	Headless bool `yaml:"headless"`

	// UseLocal skips the cloud detector.
	UseLocal bool `yaml:"use_local"`

	// StatusAddr enables the status dashboard when non-empty (e.g. ":8181").
	StatusAddr string `yaml:"status_addr"`

	// Credentials come from the environment only.
	APIKey      string `yaml:"-"`
	AccessToken string `yaml:"-"`

	Policy  policy.Policy `yaml:"policy"`
	Capture CaptureConfig `yaml:"capture"`
	Cloud   cloud.Config  `yaml:"cloud"`
	Local   yolo.Config   `yaml:"local"`
	Loop    LoopConfig    `yaml:"loop"`
}

// CaptureConfig combines open-retry and encoding settings.
type CaptureConfig struct {
	frame.RetryConfig `yaml:",inline"`
	capture.Config    `yaml:",inline"`
}

// LoopConfig holds control loop settings.
type LoopConfig struct {
	// Interval is the pause between cycles.
	Interval time.Duration `yaml:"interval"`
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		VideoSource: DefaultVideoSource,
		Policy:      policy.Default(),
		Capture: CaptureConfig{
			RetryConfig: frame.DefaultRetryConfig(),
			Config:      capture.DefaultConfig(),
		},
		Cloud: cloud.DefaultConfig(),
		Local: yolo.DefaultConfig(),
		Loop:  LoopConfig{Interval: DefaultInterval},
	}
}

// LoadFile overlays a YAML file onto c. Keys missing from the file keep
// their current values.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// LoadEnvConfig loads credentials and environment overrides.
// Call this after LoadFile and before applying flags.
func (c *Config) LoadEnvConfig() {
	c.APIKey = config.APIKey()
	c.AccessToken = config.Get(config.EnvAccessToken, "")
	c.Cloud.Endpoint = config.Get(config.EnvEndpoint, c.Cloud.Endpoint)
	c.VideoSource = config.Get(config.EnvVideoSource, c.VideoSource)
	c.Local.ModelPath = config.Get(config.EnvModelPath, c.Local.ModelPath)
	c.Loop.Interval = config.Duration(config.EnvInterval, c.Loop.Interval)
	c.Capture.Retries = config.Int(config.EnvRetries, c.Capture.Retries)
	c.Capture.Delay = config.Duration(config.EnvRetryDelay, c.Capture.Delay)
}

// Validate checks that required configuration is present and sane.
func (c *Config) Validate() error {
	if c.VideoSource == "" {
		return &ConfigError{Field: "VideoSource", Message: "video source is required"}
	}
	if err := c.Policy.Validate(); err != nil {
		return &ConfigError{Field: "Policy", Message: err.Error()}
	}
	if c.Capture.Retries < 1 {
		return &ConfigError{Field: "Capture.Retries", Message: fmt.Sprintf("capture retries must be >= 1, got %d", c.Capture.Retries)}
	}
	if c.Capture.Delay < 0 {
		return &ConfigError{Field: "Capture.Delay", Message: "capture retry delay must not be negative"}
	}
	if q := c.Capture.JPEGQuality; q < 1 || q > 100 {
		return &ConfigError{Field: "Capture.JPEGQuality", Message: fmt.Sprintf("jpeg quality must be 1-100, got %d", q)}
	}
	if c.Loop.Interval < 0 {
		return &ConfigError{Field: "Loop.Interval", Message: "loop interval must not be negative"}
	}
	if !c.UseLocal && c.AccessToken == "" {
		switch err := detect.CheckAPIKey(c.APIKey); {
		case errors.Is(err, detect.ErrNoAPIKey):
			return &ConfigError{Field: "APIKey", Message: config.EnvAPIKey + " environment variable is required (or run with --use-local)", Err: err}
		case errors.Is(err, detect.ErrPlaceholderKey):
			return &ConfigError{Field: "APIKey", Message: config.EnvAPIKey + " is still set to the placeholder value; set a real key", Err: err}
		}
	}
	return nil
}

// CloudConfig returns the cloud detector settings with credentials applied.
func (c *Config) CloudConfig() cloud.Config {
	cc := c.Cloud
	cc.APIKey = c.APIKey
	cc.AccessToken = c.AccessToken
	return cc
}

// ConfigError represents a configuration validation error.
type ConfigError struct {
	Field   string
	Message string
	Err     error
}

func (e *ConfigError) Error() string {
	return e.Message
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}
