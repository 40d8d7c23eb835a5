package main

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/teslashibe/go-traffic/internal/config"
	"github.com/teslashibe/go-traffic/pkg/capture"
	"github.com/teslashibe/go-traffic/pkg/frame"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		config.EnvAPIKey, config.EnvLegacyAPIKey, config.EnvAccessToken,
		config.EnvEndpoint, config.EnvVideoSource, config.EnvModelPath,
		config.EnvInterval, config.EnvRetries, config.EnvRetryDelay,
	} {
		t.Setenv(k, "")
	}
}

func TestFlagsOverrideFileAndEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv(config.EnvVideoSource, "env.mp4")

	path := filepath.Join(t.TempDir(), "traffic.yaml")
	os.WriteFile(path, []byte("video_source: file.mp4\nloop:\n  interval: 3s\n"), 0o644)

	opts, err := parseFlags([]string{
		"--config", path,
		"--video_source", "rtsp://cam/1",
		"--use-local",
		"--headless",
		"--status-addr", ":8181",
		"--model", "/tmp/m.onnx",
	})
	if err != nil {
		t.Fatalf("parseFlags: %v", err)
	}

	cfg, err := opts.loadConfig()
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.VideoSource != "rtsp://cam/1" {
		t.Errorf("VideoSource = %q", cfg.VideoSource)
	}
	if !cfg.UseLocal || !cfg.Headless || cfg.StatusAddr != ":8181" {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.Local.ModelPath != "/tmp/m.onnx" {
		t.Errorf("ModelPath = %q", cfg.Local.ModelPath)
	}
	if cfg.Loop.Interval != 3*time.Second {
		t.Errorf("Interval = %v, want file value kept", cfg.Loop.Interval)
	}
}

func TestUnsetFlagsKeepEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv(config.EnvVideoSource, "env.mp4")

	opts, err := parseFlags([]string{"--use-local"})
	if err != nil {
		t.Fatalf("parseFlags: %v", err)
	}
	cfg, err := opts.loadConfig()
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.VideoSource != "env.mp4" {
		t.Errorf("VideoSource = %q, want env.mp4", cfg.VideoSource)
	}
	if cfg.Loop.Interval != time.Second {
		t.Errorf("Interval = %v", cfg.Loop.Interval)
	}
}

func TestCloudPathNeedsCredential(t *testing.T) {
	clearEnv(t)

	opts, err := parseFlags(nil)
	if err != nil {
		t.Fatalf("parseFlags: %v", err)
	}
	if _, err := opts.loadConfig(); err == nil {
		t.Error("expected an error without an API key")
	}

	t.Setenv(config.EnvAPIKey, "your-google-vision-api-key")
	if _, err := opts.loadConfig(); err == nil {
		t.Error("expected an error for the placeholder key")
	}

	t.Setenv(config.EnvAPIKey, "real-key")
	if _, err := opts.loadConfig(); err != nil {
		t.Errorf("loadConfig: %v", err)
	}
}

func TestRunExitCodes(t *testing.T) {
	clearEnv(t)
	chdir(t, t.TempDir())

	ctx := context.Background()
	if code := run(ctx, []string{"--help"}); code != 0 {
		t.Errorf("--help exit = %d, want 0", code)
	}
	if code := run(ctx, []string{"--no-such-flag"}); code != 1 {
		t.Errorf("bad flag exit = %d, want 1", code)
	}
	if code := run(ctx, nil); code != 1 {
		t.Errorf("missing credential exit = %d, want 1", code)
	}
}

// stubOpener replaces the video source opener for one test.
func stubOpener(t *testing.T, open frame.Opener) {
	t.Helper()
	orig := newOpener
	newOpener = func(capture.Config) frame.Opener { return open }
	t.Cleanup(func() { newOpener = orig })
}

func TestRunSourceUnavailableExitsOne(t *testing.T) {
	clearEnv(t)
	chdir(t, t.TempDir())
	t.Setenv(config.EnvRetries, "2")
	t.Setenv(config.EnvRetryDelay, "1ms")

	attempts := 0
	stubOpener(t, func(string) (frame.Source, error) {
		attempts++
		return nil, errors.New("no such device")
	})

	code := run(context.Background(), []string{"--use-local", "--headless", "--video_source", "cam.mp4"})
	if code != 1 {
		t.Errorf("exit = %d, want 1", code)
	}
	if attempts != 2 {
		t.Errorf("attempts = %d, want 2", attempts)
	}
}

func TestRunInterruptedDuringRetryExitsZero(t *testing.T) {
	clearEnv(t)
	chdir(t, t.TempDir())
	t.Setenv(config.EnvRetries, "3")
	t.Setenv(config.EnvRetryDelay, "10s")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	attempts := 0
	stubOpener(t, func(string) (frame.Source, error) {
		attempts++
		cancel()
		return nil, errors.New("no such device")
	})

	start := time.Now()
	code := run(ctx, []string{"--use-local", "--headless"})
	if code != 0 {
		t.Errorf("exit = %d, want 0", code)
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1", attempts)
	}
	if time.Since(start) > 5*time.Second {
		t.Error("run did not abort the retry wait")
	}
}

// chdir changes the working directory for the duration of the test and
// restores it on cleanup.
func chdir(t *testing.T, dir string) {
	t.Helper()
	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if err := os.Chdir(wd); err != nil {
			t.Fatal(err)
		}
	})
}
