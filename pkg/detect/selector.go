package detect

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sync"

	tlog "github.com/teslashibe/go-traffic/internal/log"
)

// Console URLs printed when the credential check fails.
const (
	CredentialsURL = "https://console.cloud.google.com/apis/credentials"
	EnableAPIURL   = "https://console.cloud.google.com/apis/library/vision.googleapis.com"
)

// SelectorConfig configures a Selector.
type SelectorConfig struct {
	// Cloud is the default backend. It may be nil.
	Cloud Detector

	// Local is the fallback backend. Use Unavailable when it failed to load.
	Local Detector

	// UseLocal skips the cloud backend entirely.
	UseLocal bool

	// CloudLabels and LocalLabels select which labels count as vehicles.
	// Defaults: CloudVehicleLabels and LocalVehicleLabels.
	CloudLabels LabelSet
	LocalLabels LabelSet

	// Logger receives diagnostics. Default: the global logger.
	Logger *slog.Logger

	// Console receives human-readable hints. Default: os.Stdout.
	Console io.Writer
}

// Selector routes frames to exactly one backend for the whole run.
// The choice is made once by Init; a failed credential check switches to the
// local backend permanently.
type Selector struct {
	cfg    SelectorConfig
	logger *slog.Logger

	once     sync.Once
	active   Detector
	labels   LabelSet
	fellBack bool
	probeErr error
}

// NewSelector creates a selector. Call Init before the first Count, or let
// Count initialize lazily.
func NewSelector(cfg SelectorConfig) *Selector {
	if cfg.CloudLabels == nil {
		cfg.CloudLabels = CloudVehicleLabels
	}
	if cfg.LocalLabels == nil {
		cfg.LocalLabels = LocalVehicleLabels
	}
	if cfg.Console == nil {
		cfg.Console = os.Stdout
	}
	return &Selector{
		cfg:    cfg,
		logger: tlog.For(cfg.Logger, "detect.selector"),
	}
}

// Init picks the backend. It runs at most once; later calls return the
// result of the first. The returned error is the credential check failure
// that caused a fallback, if any. It is informational: the selector stays
// usable.
func (s *Selector) Init(ctx context.Context) error {
	s.once.Do(func() { s.choose(ctx) })
	return s.probeErr
}

func (s *Selector) choose(ctx context.Context) {
	if s.cfg.UseLocal || s.cfg.Cloud == nil {
		s.useLocal()
		s.logger.Info("using local model for vehicle counting", "requested", s.cfg.UseLocal)
		return
	}

	if p, ok := s.cfg.Cloud.(Prober); ok {
		fmt.Fprintln(s.cfg.Console, "🔑 Verifying Cloud Vision credentials...")
		if err := p.Probe(ctx); err != nil {
			s.probeErr = err
			s.reportProbeFailure(err)
			s.useLocal()
			s.fellBack = true
			fmt.Fprintln(s.cfg.Console, "🔁 Using local model for vehicle counting.")
			return
		}
		fmt.Fprintln(s.cfg.Console, "✅ Cloud Vision credentials verified.")
	}

	s.active = s.cfg.Cloud
	s.labels = s.cfg.CloudLabels
	s.logger.Info("using cloud detector for vehicle counting", "backend", s.active.Name())
}

func (s *Selector) useLocal() {
	s.active = s.cfg.Local
	s.labels = s.cfg.LocalLabels
}

func (s *Selector) reportProbeFailure(err error) {
	attrs := []any{"backend", s.cfg.Cloud.Name(), "error", err}
	if apiErr, ok := AsAPIError(err); ok {
		attrs = append(attrs, "status_code", apiErr.StatusCode)
		if apiErr.Body != "" {
			attrs = append(attrs, "response", apiErr.Body)
		}
		if apiErr.IsAuthError() {
			fmt.Fprintf(s.cfg.Console, "❌ Error %d: %s. %s\n", apiErr.StatusCode, http.StatusText(apiErr.StatusCode), authHint(apiErr))
			fmt.Fprintln(s.cfg.Console, "   Possible causes:")
			fmt.Fprintf(s.cfg.Console, "   - Invalid or revoked API key. Generate a new key at %s\n", CredentialsURL)
			fmt.Fprintf(s.cfg.Console, "   - Cloud Vision API not enabled. Enable it at %s\n", EnableAPIURL)
		}
	}
	s.logger.Error("credential check failed, switching to local model", attrs...)
}

func authHint(e *APIError) string {
	switch {
	case e.IsForbidden():
		return "The API key is not allowed to call the Cloud Vision API."
	case e.IsUnauthorized():
		return "Please check your API key."
	default:
		return "The API key was rejected as invalid."
	}
}

// Count returns the number of vehicles in the frame. Any backend failure is
// logged and counted as zero vehicles; it never propagates.
func (s *Selector) Count(ctx context.Context, jpeg []byte) int {
	s.Init(ctx)

	if s.active == nil {
		s.logger.Error("vehicle count failed", "error", ErrNoDetector)
		return 0
	}
	if len(jpeg) == 0 {
		s.logger.Warn("vehicle count failed", "backend", s.active.Name(), "error", ErrEmptyImage)
		return 0
	}

	objects, err := s.active.Detect(ctx, jpeg)
	if err != nil {
		attrs := []any{"backend", s.active.Name(), "error", err}
		if apiErr, ok := AsAPIError(err); ok {
			attrs = append(attrs, "status_code", apiErr.StatusCode)
			if apiErr.Body != "" {
				attrs = append(attrs, "response", apiErr.Body)
			}
		}
		s.logger.Warn("vehicle count failed, counting zero", attrs...)
		return 0
	}

	n := CountVehicles(objects, s.labels)
	s.logger.Debug("frame counted", "backend", s.active.Name(), "objects", len(objects), "vehicles", n)
	return n
}

// Active returns the chosen backend name, or "" before Init.
func (s *Selector) Active() string {
	if s.active == nil {
		return ""
	}
	return s.active.Name()
}

// FellBack reports whether a failed credential check forced the local backend.
func (s *Selector) FellBack() bool {
	return s.fellBack
}

// Close closes both backends.
func (s *Selector) Close() error {
	var lastErr error
	for _, d := range []Detector{s.cfg.Cloud, s.cfg.Local} {
		if d == nil {
			continue
		}
		if err := d.Close(); err != nil {
			lastErr = err
		}
	}
	return lastErr
}
