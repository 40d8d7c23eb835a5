package detect

import (
	"context"
	"sync"
	"time"
)

// Mock implements Detector and Prober for testing.
type Mock struct {
	// NameValue is returned by Name. Default "mock".
	NameValue string

	// DetectFunc is called when Detect is invoked.
	DetectFunc func(ctx context.Context, jpeg []byte) ([]Object, error)

	// ProbeFunc is called when Probe is invoked.
	ProbeFunc func(ctx context.Context) error

	// CloseFunc is called when Close is invoked.
	CloseFunc func() error

	mu    sync.Mutex
	calls []MockCall
}

// MockCall records a method invocation.
type MockCall struct {
	Method string
	Time   time.Time
}

// NewMock creates a mock that reports the given labels for every frame.
func NewMock(name string, labels ...string) *Mock {
	return &Mock{
		NameValue: name,
		DetectFunc: func(ctx context.Context, jpeg []byte) ([]Object, error) {
			objs := make([]Object, len(labels))
			for i, l := range labels {
				objs[i] = Object{Label: l, Confidence: 0.9}
			}
			return objs, nil
		},
	}
}

// WithError returns a mock whose Detect and Probe always fail with err.
func WithError(name string, err error) *Mock {
	return &Mock{
		NameValue: name,
		DetectFunc: func(ctx context.Context, jpeg []byte) ([]Object, error) {
			return nil, err
		},
		ProbeFunc: func(ctx context.Context) error {
			return err
		},
	}
}

// Name returns NameValue.
func (m *Mock) Name() string {
	if m.NameValue == "" {
		return "mock"
	}
	return m.NameValue
}

// Detect calls DetectFunc and records the call.
func (m *Mock) Detect(ctx context.Context, jpeg []byte) ([]Object, error) {
	m.record("Detect")
	if m.DetectFunc != nil {
		return m.DetectFunc(ctx, jpeg)
	}
	return nil, nil
}

// Probe calls ProbeFunc and records the call.
func (m *Mock) Probe(ctx context.Context) error {
	m.record("Probe")
	if m.ProbeFunc != nil {
		return m.ProbeFunc(ctx)
	}
	return nil
}

// Close calls CloseFunc and records the call.
func (m *Mock) Close() error {
	m.record("Close")
	if m.CloseFunc != nil {
		return m.CloseFunc()
	}
	return nil
}

func (m *Mock) record(method string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, MockCall{Method: method, Time: time.Now()})
}

// CallCount returns the number of times a method was called.
func (m *Mock) CallCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, c := range m.calls {
		if c.Method == method {
			count++
		}
	}
	return count
}

// Verify Mock implements Detector and Prober at compile time.
var (
	_ Detector = (*Mock)(nil)
	_ Prober   = (*Mock)(nil)
)
