// Package httpc provides HTTP clients with sensible defaults.
// Use this instead of http.DefaultClient to ensure timeouts are set.
package httpc

import (
	"net"
	"net/http"
	"time"
)

// Default timeouts for HTTP operations.
const (
	DefaultTimeout         = 30 * time.Second
	DefaultConnectTimeout  = 10 * time.Second
	DefaultKeepAlive       = 30 * time.Second
	DefaultIdleConnTimeout = 90 * time.Second
	DefaultTLSTimeout      = 10 * time.Second
)

// Middleware wraps a round tripper, e.g. to attach credentials.
type Middleware func(http.RoundTripper) http.RoundTripper

// NewTransport returns a transport with production dial and TLS timeouts.
func NewTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   DefaultConnectTimeout,
			KeepAlive: DefaultKeepAlive,
		}).DialContext,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       DefaultIdleConnTimeout,
		TLSHandshakeTimeout:   DefaultTLSTimeout,
		ExpectContinueTimeout: 1 * time.Second,
	}
}

// NewClient creates a client with the given overall timeout.
// A zero timeout uses DefaultTimeout. Middlewares are applied in order,
// so the first one sees the request first.
func NewClient(timeout time.Duration, mws ...Middleware) *http.Client {
	return Wrap(&http.Client{Transport: NewTransport()}, timeout, mws...)
}

// Wrap returns a copy of base whose transport is wrapped by mws.
// It is used in tests to layer credentials over an httptest client.
func Wrap(base *http.Client, timeout time.Duration, mws ...Middleware) *http.Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	var rt http.RoundTripper = http.DefaultTransport
	if base != nil && base.Transport != nil {
		rt = base.Transport
	}
	for i := len(mws) - 1; i >= 0; i-- {
		rt = mws[i](rt)
	}

	return &http.Client{Timeout: timeout, Transport: rt}
}
