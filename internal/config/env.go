// Package config provides environment helpers for go-traffic commands.
package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Environment variable names.
const (
	EnvAPIKey       = "VISION_API_KEY"
	EnvLegacyAPIKey = "GOOGLE_VISION_API_KEY"
	EnvAccessToken  = "VISION_ACCESS_TOKEN"
	EnvEndpoint     = "VISION_ENDPOINT"
	EnvVideoSource  = "VIDEO_SOURCE"
	EnvModelPath    = "YOLO_MODEL_PATH"
	EnvLogLevel     = "LOG_LEVEL"
	EnvInterval     = "LOOP_INTERVAL"
	EnvRetries      = "CAPTURE_RETRIES"
	EnvRetryDelay   = "CAPTURE_RETRY_DELAY"
)

// LoadDotEnv loads KEY=VALUE pairs from the given files (default ".env")
// without overriding variables already set in the process environment.
// Missing files are ignored.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return err
		}
	}
	return nil
}

// Get returns the value of key, or def when unset or empty.
func Get(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// First returns the first non-empty value among keys.
func First(keys ...string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return ""
}

// Int returns key parsed as an int, or def when unset or malformed.
func Int(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

// Duration returns key parsed with time.ParseDuration, or def.
func Duration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

// APIKey returns the Cloud Vision API key from VISION_API_KEY,
// falling back to GOOGLE_VISION_API_KEY.
func APIKey() string {
	return First(EnvAPIKey, EnvLegacyAPIKey)
}
