// Package cloud counts vehicles with the Google Cloud Vision object localizer.
package cloud

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/googleapi/transport"
	"google.golang.org/api/option"
	vision "google.golang.org/api/vision/v1"

	"github.com/teslashibe/go-traffic/internal/httpc"
	tlog "github.com/teslashibe/go-traffic/internal/log"
	"github.com/teslashibe/go-traffic/pkg/detect"
)

const providerName = "cloud"

// FeatureObjectLocalization is the Vision feature used for counting.
const FeatureObjectLocalization = "OBJECT_LOCALIZATION"

// Defaults for the Vision API.
const (
	DefaultEndpoint        = "https://vision.googleapis.com/"
	DefaultMaxResults      = 50
	DefaultProbeMaxResults = 10
	DefaultProbeSize       = 100
)

// Config holds Cloud Vision configuration.
type Config struct {
	// APIKey is sent as the key query parameter.
	APIKey string `yaml:"-"`

	// AccessToken is an OAuth2 bearer token used instead of APIKey.
	AccessToken string `yaml:"-"`

	// Endpoint is the API base URL (default https://vision.googleapis.com/).
	Endpoint string `yaml:"endpoint"`

	// MaxResults caps the number of localized objects per frame (default 50).
	MaxResults int `yaml:"max_results"`

	// Timeout bounds each request. Zero uses the httpc default.
	Timeout time.Duration `yaml:"timeout"`

	// HTTPClient overrides the base client (credentials are layered on top).
	HTTPClient *http.Client `yaml:"-"`

	// Logger receives diagnostics. Default: the global logger.
	Logger *slog.Logger `yaml:"-"`
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		Endpoint:   DefaultEndpoint,
		MaxResults: DefaultMaxResults,
		Timeout:    httpc.DefaultTimeout,
	}
}

// Detector implements detect.Detector and detect.Prober.
type Detector struct {
	svc    *vision.Service
	client *http.Client
	config Config
	logger *slog.Logger
}

// New creates a Cloud Vision detector. It fails when neither an API key nor
// an access token is configured, or when the API key is the placeholder.
func New(ctx context.Context, cfg Config) (*Detector, error) {
	def := DefaultConfig()
	if cfg.Endpoint == "" {
		cfg.Endpoint = def.Endpoint
	}
	if !strings.HasSuffix(cfg.Endpoint, "/") {
		cfg.Endpoint += "/"
	}
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = def.MaxResults
	}
	var auth httpc.Middleware
	if cfg.AccessToken != "" {
		src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.AccessToken, TokenType: "Bearer"})
		auth = func(rt http.RoundTripper) http.RoundTripper {
			return &oauth2.Transport{Source: src, Base: rt}
		}
	} else {
		if err := detect.CheckAPIKey(cfg.APIKey); err != nil {
			return nil, detect.WrapError(providerName, err)
		}
		key := strings.TrimSpace(cfg.APIKey)
		auth = func(rt http.RoundTripper) http.RoundTripper {
			return &transport.APIKey{Key: key, Transport: rt}
		}
	}

	var client *http.Client
	if cfg.HTTPClient != nil {
		client = httpc.Wrap(cfg.HTTPClient, cfg.Timeout, auth)
	} else {
		client = httpc.NewClient(cfg.Timeout, auth)
	}

	svc, err := vision.NewService(ctx,
		option.WithHTTPClient(client),
		option.WithEndpoint(cfg.Endpoint),
	)
	if err != nil {
		return nil, detect.WrapError(providerName, fmt.Errorf("create vision service: %w", err))
	}

	return &Detector{
		svc:    svc,
		client: client,
		config: cfg,
		logger: tlog.For(cfg.Logger, "detect.cloud"),
	}, nil
}

// Name returns "cloud".
func (d *Detector) Name() string {
	return providerName
}

// Detect localizes objects in the JPEG image with one synchronous request.
func (d *Detector) Detect(ctx context.Context, jpegData []byte) ([]detect.Object, error) {
	if len(jpegData) == 0 {
		return nil, detect.WrapError(providerName, detect.ErrEmptyImage)
	}
	return d.annotate(ctx, jpegData, d.config.MaxResults)
}

// Probe sends a blank placeholder image to verify the credential and that the
// API is enabled.
func (d *Detector) Probe(ctx context.Context) error {
	blank, err := BlankJPEG(DefaultProbeSize, DefaultProbeSize)
	if err != nil {
		return detect.WrapError(providerName, fmt.Errorf("encode probe image: %w", err))
	}
	_, err = d.annotate(ctx, blank, DefaultProbeMaxResults)
	return err
}

// Close releases idle connections.
func (d *Detector) Close() error {
	d.client.CloseIdleConnections()
	return nil
}

func (d *Detector) annotate(ctx context.Context, jpegData []byte, maxResults int) ([]detect.Object, error) {
	content := base64.StdEncoding.EncodeToString(jpegData)
	req := &vision.BatchAnnotateImagesRequest{
		Requests: []*vision.AnnotateImageRequest{{
			Image: &vision.Image{Content: content},
			Features: []*vision.Feature{{
				Type:       FeatureObjectLocalization,
				MaxResults: int64(maxResults),
			}},
		}},
	}
	payload := slog.Group("payload",
		"feature", FeatureObjectLocalization,
		"max_results", maxResults,
		"image_base64_bytes", len(content),
	)

	start := time.Now()
	resp, err := d.svc.Images.Annotate(req).Context(ctx).Do()
	if err != nil {
		err = d.convertError(err)
		attrs := []any{"error", err, payload}
		if apiErr, ok := detect.AsAPIError(err); ok {
			attrs = append(attrs, "status_code", apiErr.StatusCode)
			if apiErr.Body != "" {
				attrs = append(attrs, "response", apiErr.Body)
			}
		}
		d.logger.Error("vision API call failed", attrs...)
		return nil, err
	}

	if len(resp.Responses) == 0 {
		return nil, nil
	}
	r := resp.Responses[0]
	if r.Error != nil && (r.Error.Code != 0 || r.Error.Message != "") {
		err := &detect.APIError{
			StatusCode: resp.HTTPStatusCode,
			Message:    r.Error.Message,
			Reason:     fmt.Sprintf("rpc code %d", r.Error.Code),
			Provider:   providerName,
		}
		d.logger.Error("vision API returned an image error", "error", err, payload)
		return nil, err
	}

	objects := make([]detect.Object, 0, len(r.LocalizedObjectAnnotations))
	for _, a := range r.LocalizedObjectAnnotations {
		if a == nil {
			continue
		}
		objects = append(objects, detect.Object{
			Label:      a.Name,
			Confidence: a.Score,
			Box:        boundingBox(a.BoundingPoly),
		})
	}

	d.logger.Debug("vision API call complete",
		"objects", len(objects),
		"latency_ms", time.Since(start).Milliseconds(),
	)
	return objects, nil
}

// convertError maps googleapi errors to *detect.APIError.
func (d *Detector) convertError(err error) error {
	var gerr *googleapi.Error
	if !errors.As(err, &gerr) {
		return detect.WrapError(providerName, err)
	}

	apiErr := &detect.APIError{
		StatusCode: gerr.Code,
		Message:    gerr.Message,
		Body:       gerr.Body,
		Provider:   providerName,
	}
	if len(gerr.Errors) > 0 {
		apiErr.Reason = gerr.Errors[0].Reason
	}
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(gerr.Code)
	}
	return apiErr
}

// boundingBox converts normalized polygon vertices to a box.
func boundingBox(poly *vision.BoundingPoly) detect.Box {
	if poly == nil || len(poly.NormalizedVertices) == 0 {
		return detect.Box{}
	}
	minX, minY := 1.0, 1.0
	maxX, maxY := 0.0, 0.0
	for _, v := range poly.NormalizedVertices {
		if v == nil {
			continue
		}
		minX, maxX = min(minX, v.X), max(maxX, v.X)
		minY, maxY = min(minY, v.Y), max(maxY, v.Y)
	}
	if maxX < minX || maxY < minY {
		return detect.Box{}
	}
	return detect.Box{X: minX, Y: minY, W: maxX - minX, H: maxY - minY}
}

// BlankJPEG returns a black w×h JPEG.
func BlankJPEG(w, h int) ([]byte, error) {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 85}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Verify Detector implements the detect interfaces at compile time.
var (
	_ detect.Detector = (*Detector)(nil)
	_ detect.Prober   = (*Detector)(nil)
)
