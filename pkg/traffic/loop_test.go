package traffic

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/teslashibe/go-traffic/pkg/frame"
	"github.com/teslashibe/go-traffic/pkg/policy"
)

// scriptedSource yields n frames, then err (ErrEndOfStream when nil).
type scriptedSource struct {
	mu     sync.Mutex
	frames int
	reads  int
	err    error
	closed int
}

func (s *scriptedSource) Read() (frame.Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reads >= s.frames {
		if s.err != nil {
			return frame.Frame{}, s.err
		}
		return frame.Frame{}, frame.ErrEndOfStream
	}
	s.reads++
	return frame.Frame{JPEG: []byte{0xFF, 0xD8, byte(s.reads)}, Seq: uint64(s.reads)}, nil
}

func (s *scriptedSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed++
	return nil
}

type countFunc func(ctx context.Context, jpeg []byte) int

func (f countFunc) Count(ctx context.Context, jpeg []byte) int { return f(ctx, jpeg) }

func fixed(n int) countFunc {
	return func(context.Context, []byte) int { return n }
}

type fakeDisplay struct {
	shown  []policy.Decision
	quitAt int
	closed int
}

func (d *fakeDisplay) Show(_ []byte, dec policy.Decision) error {
	d.shown = append(d.shown, dec)
	return nil
}

func (d *fakeDisplay) QuitRequested() bool { return d.quitAt > 0 && len(d.shown) >= d.quitAt }
func (d *fakeDisplay) Close() error        { d.closed++; return nil }

type recordingObserver struct{ events []Event }

func (o *recordingObserver) Observe(e Event) { o.events = append(o.events, e) }

func noWait(ctx context.Context, _ time.Duration) error { return ctx.Err() }

func newTestLoop(t *testing.T, deps Deps) (*Loop, *bytes.Buffer) {
	t.Helper()
	var out bytes.Buffer
	deps.Out = &out
	deps.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	if deps.Wait == nil {
		deps.Wait = noWait
	}
	l, err := New(DefaultConfig(), deps)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return l, &out
}

func TestRunScenarios(t *testing.T) {
	tests := []struct {
		name     string
		count    int
		wantLine string
		wantWait time.Duration
	}{
		{"busy", 16, "Vehicle count (16) exceeds threshold. Wait time: 20s", 20 * time.Second},
		{"at threshold", 15, "Vehicle count (15) within threshold. Wait time: 30s", 30 * time.Second},
		{"empty road", 0, "Vehicle count (0) within threshold. Wait time: 30s", 30 * time.Second},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			src := &scriptedSource{frames: 1}
			obs := &recordingObserver{}
			l, out := newTestLoop(t, Deps{Source: src, Counter: fixed(tc.count), Observer: obs})

			if err := l.Run(context.Background()); err != nil {
				t.Fatalf("Run: %v", err)
			}

			text := out.String()
			if !strings.Contains(text, tc.wantLine) {
				t.Errorf("output missing %q:\n%s", tc.wantLine, text)
			}
			if len(obs.events) != 1 || obs.events[0].Decision.Wait != tc.wantWait {
				t.Errorf("events = %+v, want one with wait %v", obs.events, tc.wantWait)
			}
			if src.closed != 1 {
				t.Errorf("source closed %d times, want 1", src.closed)
			}
		})
	}
}

func TestRunEndOfStream(t *testing.T) {
	src := &scriptedSource{frames: 3}
	l, out := newTestLoop(t, Deps{Source: src, Counter: fixed(2)})

	if err := l.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := strings.Count(out.String(), "Detected 2 vehicles."); got != 3 {
		t.Errorf("got %d detection lines, want 3", got)
	}
	if l.State() != StateTerminated {
		t.Errorf("State = %v, want terminated", l.State())
	}
	st := l.Stats()
	if st.Cycles != 3 || st.LastDecision == nil || st.LastDecision.Count != 2 {
		t.Errorf("Stats = %+v", st)
	}
	if st.State != "terminated" || st.RunID != l.RunID() {
		t.Errorf("Stats = %+v", st)
	}
}

func TestRunReadError(t *testing.T) {
	src := &scriptedSource{frames: 1, err: errors.New("device unplugged")}
	l, out := newTestLoop(t, Deps{Source: src, Counter: fixed(1)})

	if err := l.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !strings.Contains(out.String(), "device unplugged") {
		t.Errorf("output should report the read error:\n%s", out.String())
	}
	if src.closed != 1 {
		t.Errorf("source closed %d times, want 1", src.closed)
	}
}

func TestRunInterruptMidCycle(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	src := &scriptedSource{frames: 100}
	disp := &fakeDisplay{}
	calls := 0
	counter := countFunc(func(ctx context.Context, _ []byte) int {
		calls++
		if calls == 2 {
			cancel()
		}
		return 7
	})

	l, out := newTestLoop(t, Deps{Source: src, Counter: counter, Display: disp})
	if err := l.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if src.closed != 1 {
		t.Errorf("source closed %d times, want 1", src.closed)
	}
	if disp.closed != 1 {
		t.Errorf("display closed %d times, want 1", disp.closed)
	}
	if got := strings.Count(out.String(), "Detected 7 vehicles."); got != 1 {
		t.Errorf("got %d detection lines, want 1 (interrupted cycle is skipped)", got)
	}
	if len(disp.shown) != 1 {
		t.Errorf("display shown %d frames, want 1", len(disp.shown))
	}
	if l.State() != StateTerminated {
		t.Errorf("State = %v, want terminated", l.State())
	}
}

func TestRunInterruptDuringWait(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	src := &scriptedSource{frames: 100}
	wait := func(ctx context.Context, d time.Duration) error {
		if d != DefaultInterval {
			t.Errorf("wait = %v, want %v", d, DefaultInterval)
		}
		cancel()
		return ctx.Err()
	}

	l, _ := newTestLoop(t, Deps{Source: src, Counter: fixed(0), Wait: wait})
	if err := l.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if src.reads != 1 {
		t.Errorf("reads = %d, want 1", src.reads)
	}
	if src.closed != 1 {
		t.Errorf("source closed %d times, want 1", src.closed)
	}
}

func TestRunCancelledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	src := &scriptedSource{frames: 5}
	l, _ := newTestLoop(t, Deps{Source: src, Counter: fixed(1)})
	if err := l.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if src.reads != 0 || src.closed != 1 {
		t.Errorf("reads=%d closed=%d, want 0 and 1", src.reads, src.closed)
	}
}

func TestRunQuitKey(t *testing.T) {
	src := &scriptedSource{frames: 100}
	disp := &fakeDisplay{quitAt: 2}
	l, out := newTestLoop(t, Deps{Source: src, Counter: fixed(20), Display: disp})

	if err := l.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(disp.shown) != 2 {
		t.Errorf("shown = %d, want 2", len(disp.shown))
	}
	if !disp.shown[0].Reduced {
		t.Error("20 vehicles should reduce the wait")
	}
	if disp.closed != 1 || src.closed != 1 {
		t.Errorf("display closed %d, source closed %d; want 1 and 1", disp.closed, src.closed)
	}
	if !strings.Contains(out.String(), "Quit key") {
		t.Errorf("output missing quit message:\n%s", out.String())
	}
}

// orderedDisplay records quit polls into a shared call log.
type orderedDisplay struct {
	fakeDisplay
	log *[]string
}

func (d *orderedDisplay) QuitRequested() bool {
	*d.log = append(*d.log, "quit")
	return d.fakeDisplay.QuitRequested()
}

func TestRunPacesBeforeQuitCheck(t *testing.T) {
	var calls []string
	src := &scriptedSource{frames: 100}
	disp := &orderedDisplay{fakeDisplay: fakeDisplay{quitAt: 2}, log: &calls}
	wait := func(ctx context.Context, _ time.Duration) error {
		calls = append(calls, "wait")
		return ctx.Err()
	}

	l, _ := newTestLoop(t, Deps{Source: src, Counter: fixed(3), Display: disp, Wait: wait})
	if err := l.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	want := []string{"wait", "quit", "wait", "quit"}
	if strings.Join(calls, ",") != strings.Join(want, ",") {
		t.Errorf("calls = %v, want %v", calls, want)
	}
}

func TestRunOnlyOnce(t *testing.T) {
	src := &scriptedSource{}
	l, _ := newTestLoop(t, Deps{Source: src, Counter: fixed(0)})

	if err := l.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if err := l.Run(context.Background()); !errors.Is(err, ErrAlreadyRun) {
		t.Errorf("second Run = %v, want ErrAlreadyRun", err)
	}
	if src.closed != 1 {
		t.Errorf("source closed %d times, want 1", src.closed)
	}
}

func TestNewRequiresDeps(t *testing.T) {
	if _, err := New(DefaultConfig(), Deps{Counter: fixed(0)}); err == nil {
		t.Error("expected error without a source")
	}
	if _, err := New(DefaultConfig(), Deps{Source: &scriptedSource{}}); err == nil {
		t.Error("expected error without a counter")
	}
}

func TestStateString(t *testing.T) {
	tests := map[State]string{
		StateRunning:      "running",
		StateShuttingDown: "shutting_down",
		StateTerminated:   "terminated",
		State(9):          "state(9)",
	}
	for s, want := range tests {
		if got := s.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", s, got, want)
		}
	}
}
