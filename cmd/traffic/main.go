// Traffic counts vehicles in a video stream and recommends a signal wait time.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/teslashibe/go-traffic/internal/config"
	tlog "github.com/teslashibe/go-traffic/internal/log"
	"github.com/teslashibe/go-traffic/pkg/capture"
	"github.com/teslashibe/go-traffic/pkg/detect"
	"github.com/teslashibe/go-traffic/pkg/detect/cloud"
	"github.com/teslashibe/go-traffic/pkg/detect/yolo"
	"github.com/teslashibe/go-traffic/pkg/display"
	"github.com/teslashibe/go-traffic/pkg/frame"
	"github.com/teslashibe/go-traffic/pkg/traffic"
	"github.com/teslashibe/go-traffic/pkg/web"
)

// newOpener builds the video source opener. Tests swap it out.
var newOpener = capture.Opener

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args[1:])
	cancel()
	os.Exit(code)
}

// run returns the process exit code. Cancelling ctx stops the program.
func run(ctx context.Context, args []string) int {
	if err := config.LoadDotEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "⚠️  .env: %v\n", err)
	}

	opts, err := parseFlags(args)
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		fmt.Fprintf(os.Stderr, "❌ %v\n", err)
		return 1
	}

	logger := tlog.Init(opts.logLevel)

	cfg, err := opts.loadConfig()
	if err != nil {
		fmt.Printf("❌ Configuration error: %v\n", err)
		return 1
	}

	fmt.Println("🚦 Traffic vehicle counter")
	fmt.Println("==========================")

	src, err := frame.Open(ctx, newOpener(cfg.Capture.Config), cfg.VideoSource, cfg.Capture.RetryConfig,
		frame.OpenOptions{Logger: logger})
	if err != nil {
		if errors.Is(err, frame.ErrSourceUnavailable) {
			fmt.Printf("❌ Error: Could not open video source %s after %d attempts.\n", cfg.VideoSource, cfg.Capture.Retries)
			return 1
		}
		// Interrupted while waiting to retry.
		fmt.Println("🛑 Interrupted before the video source opened.")
		return 0
	}
	fmt.Printf("📹 Video source %s opened.\n", cfg.VideoSource)

	selector, err := newSelector(ctx, cfg, logger)
	if err != nil {
		src.Close()
		fmt.Printf("❌ Detector error: %v\n", err)
		return 1
	}
	defer selector.Close()
	selector.Init(ctx)

	var disp traffic.Display
	if !cfg.Headless {
		disp = display.NewWindow()
		fmt.Println("🖥️  Press 'q' in the preview window to quit.")
	}

	deps := traffic.Deps{Source: src, Counter: selector, Display: disp, Logger: logger}
	loop, err := startLoop(ctx, cfg, deps, selector, logger)
	if err != nil {
		src.Close()
		if disp != nil {
			disp.Close()
		}
		fmt.Printf("❌ %v\n", err)
		return 1
	}

	if err := loop.Run(ctx); err != nil {
		fmt.Printf("❌ Runtime error: %v\n", err)
		return 1
	}
	return 0
}

// newSelector builds the cloud and local backends. The cloud backend is only
// created when it will be used; a local model that fails to load is replaced
// by a stand-in that counts zero.
func newSelector(ctx context.Context, cfg traffic.Config, logger *slog.Logger) (*detect.Selector, error) {
	var cloudDet detect.Detector
	if !cfg.UseLocal {
		cc := cfg.CloudConfig()
		cc.Logger = logger
		d, err := cloud.New(ctx, cc)
		if err != nil {
			return nil, err
		}
		cloudDet = d
	}

	var localDet detect.Detector
	if d, err := yolo.New(cfg.Local, logger); err != nil {
		fmt.Printf("⚠️  Local model unavailable: %v\n", err)
		localDet = detect.Unavailable("local", err)
	} else {
		localDet = d
	}

	return detect.NewSelector(detect.SelectorConfig{
		Cloud:    cloudDet,
		Local:    localDet,
		UseLocal: cfg.UseLocal,
		Logger:   logger,
	}), nil
}

// startLoop creates the control loop and, when configured, the dashboard
// observing it.
func startLoop(ctx context.Context, cfg traffic.Config, deps traffic.Deps, sel *detect.Selector, logger *slog.Logger) (*traffic.Loop, error) {
	if cfg.StatusAddr == "" {
		return traffic.New(cfg, deps)
	}

	var loop *traffic.Loop
	srv, err := web.NewServer(web.Config{
		Status: func() web.Status {
			return web.Status{Stats: loop.Stats(), Detector: sel.Active(), FellBack: sel.FellBack()}
		},
		Annotate: display.Annotate,
		Logger:   logger,
	})
	if err != nil {
		return nil, err
	}
	deps.Observer = srv

	loop, err = traffic.New(cfg, deps)
	if err != nil {
		return nil, err
	}

	go func() {
		if err := srv.ListenAndServe(ctx, cfg.StatusAddr); err != nil {
			logger.Error("status dashboard stopped", "error", err)
		}
	}()
	return loop, nil
}
