package main

import (
	"time"

	"github.com/spf13/pflag"

	"github.com/teslashibe/go-traffic/internal/config"
	"github.com/teslashibe/go-traffic/pkg/traffic"
)

// options are the command line flags. Flags that were not given leave the
// file and environment values untouched.
type options struct {
	fs *pflag.FlagSet

	videoSource string
	headless    bool
	useLocal    bool
	configPath  string
	statusAddr  string
	logLevel    string
	modelPath   string
	interval    time.Duration
}

func parseFlags(args []string) (*options, error) {
	def := traffic.DefaultConfig()
	o := &options{fs: pflag.NewFlagSet("traffic", pflag.ContinueOnError)}

	o.fs.StringVar(&o.videoSource, "video_source", def.VideoSource, "Camera index (0) or stream URL / video file")
	o.fs.BoolVar(&o.headless, "headless", false, "Run without the preview window")
	o.fs.BoolVar(&o.useLocal, "use-local", false, "Count with the local YOLO model instead of Cloud Vision")
	o.fs.StringVar(&o.configPath, "config", "", "YAML config file")
	o.fs.StringVar(&o.statusAddr, "status-addr", "", "Serve the status dashboard on this address (e.g. :8181)")
	o.fs.StringVar(&o.logLevel, "log-level", config.Get(config.EnvLogLevel, "info"), "Log level: debug, info, warn, error")
	o.fs.StringVar(&o.modelPath, "model", def.Local.ModelPath, "YOLOv8 ONNX model path")
	o.fs.DurationVar(&o.interval, "interval", def.Loop.Interval, "Pause between frames")

	if err := o.fs.Parse(args); err != nil {
		return nil, err
	}
	return o, nil
}

// apply copies explicitly set flags onto cfg.
func (o *options) apply(cfg *traffic.Config) {
	if o.fs.Changed("video_source") {
		cfg.VideoSource = o.videoSource
	}
	if o.fs.Changed("headless") {
		cfg.Headless = o.headless
	}
	if o.fs.Changed("use-local") {
		cfg.UseLocal = o.useLocal
	}
	if o.fs.Changed("status-addr") {
		cfg.StatusAddr = o.statusAddr
	}
	if o.fs.Changed("model") {
		cfg.Local.ModelPath = o.modelPath
	}
	if o.fs.Changed("interval") {
		cfg.Loop.Interval = o.interval
	}
}

// loadConfig layers defaults, the YAML file, the environment and flags.
func (o *options) loadConfig() (traffic.Config, error) {
	cfg := traffic.DefaultConfig()
	if o.configPath != "" {
		if err := cfg.LoadFile(o.configPath); err != nil {
			return cfg, err
		}
	}
	cfg.LoadEnvConfig()
	o.apply(&cfg)
	return cfg, cfg.Validate()
}
