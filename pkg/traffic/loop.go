package traffic

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	tlog "github.com/teslashibe/go-traffic/internal/log"
	"github.com/teslashibe/go-traffic/pkg/frame"
	"github.com/teslashibe/go-traffic/pkg/policy"
)

// ErrAlreadyRun is returned when Run is called on a loop that has already run.
var ErrAlreadyRun = errors.New("traffic: loop already run")

// State is the control loop lifecycle state.
type State int32

const (
	StateRunning State = iota
	StateShuttingDown
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateShuttingDown:
		return "shutting_down"
	case StateTerminated:
		return "terminated"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Counter counts vehicles in a JPEG frame. Failures count as zero.
type Counter interface {
	Count(ctx context.Context, jpeg []byte) int
}

// Display shows annotated frames and reports the quit key.
type Display interface {
	Show(jpeg []byte, d policy.Decision) error
	QuitRequested() bool
	Close() error
}

// Event is published to the observer after each completed cycle.
type Event struct {
	RunID    string          `json:"run_id"`
	Cycle    uint64          `json:"cycle"`
	Time     time.Time       `json:"time"`
	Decision policy.Decision `json:"decision"`
	Frame    []byte          `json:"-"`
}

// Observer receives cycle events. Observe must not block.
type Observer interface {
	Observe(Event)
}

// Deps are the loop's collaborators. Source and Counter are required.
type Deps struct {
	Source   frame.Source
	Counter  Counter
	Display  Display  // nil when headless
	Observer Observer // nil when the dashboard is disabled

	// Logger receives diagnostics. Default: the global logger.
	Logger *slog.Logger

	// Out receives progress lines. Default: os.Stdout.
	Out io.Writer

	// Wait paces cycles. Default: frame.Sleep.
	Wait frame.Waiter
}

// Stats is a snapshot of loop progress.
type Stats struct {
	RunID        string           `json:"run_id"`
	State        string           `json:"state"`
	StartedAt    time.Time        `json:"started_at"`
	Cycles       uint64           `json:"cycles"`
	LastCycleAt  time.Time        `json:"last_cycle_at,omitempty"`
	LastDecision *policy.Decision `json:"last_decision,omitempty"`
}

// Loop is the single-threaded capture, count and decide loop.
type Loop struct {
	cfg    Config
	deps   Deps
	runID  string
	logger *slog.Logger
	out    io.Writer
	wait   frame.Waiter

	state   atomic.Int32
	started atomic.Bool

	mu    sync.Mutex
	stats Stats

	teardownOnce sync.Once
}

// New creates a loop. The source is owned by the loop from here on and is
// closed when Run returns.
func New(cfg Config, deps Deps) (*Loop, error) {
	if deps.Source == nil {
		return nil, errors.New("traffic: frame source is required")
	}
	if deps.Counter == nil {
		return nil, errors.New("traffic: counter is required")
	}
	if deps.Out == nil {
		deps.Out = os.Stdout
	}
	if deps.Wait == nil {
		deps.Wait = frame.Sleep
	}

	runID := uuid.NewString()
	l := &Loop{
		cfg:    cfg,
		deps:   deps,
		runID:  runID,
		logger: tlog.For(deps.Logger, "traffic").With("run_id", runID),
		out:    deps.Out,
		wait:   deps.Wait,
	}
	l.stats = Stats{RunID: runID, StartedAt: time.Now()}
	l.state.Store(int32(StateRunning))
	return l, nil
}

// RunID identifies this run in logs and the dashboard.
func (l *Loop) RunID() string {
	return l.runID
}

// State returns the current lifecycle state.
func (l *Loop) State() State {
	return State(l.state.Load())
}

// Stats returns a snapshot of progress.
func (l *Loop) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	s := l.stats
	s.State = l.State().String()
	if s.LastDecision != nil {
		d := *s.LastDecision
		s.LastDecision = &d
	}
	return s
}

// Run processes frames until the context is cancelled, the stream ends, or
// the quit key is pressed. Resources are released exactly once on every path.
// Run returns nil on all of these; it never returns a per-frame error.
func (l *Loop) Run(ctx context.Context) error {
	if !l.started.CompareAndSwap(false, true) {
		return ErrAlreadyRun
	}
	defer l.teardown()

	l.logger.Info("control loop started", "interval", l.cfg.Loop.Interval, "headless", l.deps.Display == nil)

	for l.State() == StateRunning {
		if reason, stop := l.cycle(ctx); stop {
			l.logger.Info("control loop stopping", "reason", reason)
			l.state.Store(int32(StateShuttingDown))
		}
	}
	return nil
}

// cycle runs one iteration. It reports whether the loop should stop.
func (l *Loop) cycle(ctx context.Context) (string, bool) {
	if ctx.Err() != nil {
		fmt.Fprintln(l.out, "🛑 Interrupted, shutting down...")
		return "interrupted", true
	}

	f, err := l.deps.Source.Read()
	if err != nil {
		if errors.Is(err, frame.ErrEndOfStream) {
			fmt.Fprintln(l.out, "📭 End of video stream.")
			return "end of stream", true
		}
		l.logger.Error("frame read failed", "error", err)
		fmt.Fprintf(l.out, "❌ Failed to read frame: %v\n", err)
		return "read error", true
	}

	n := l.deps.Counter.Count(ctx, f.JPEG)
	if ctx.Err() != nil {
		fmt.Fprintln(l.out, "🛑 Interrupted, shutting down...")
		return "interrupted", true
	}
	fmt.Fprintf(l.out, "Detected %d vehicles.\n", n)

	d := l.cfg.Policy.Decide(n)
	fmt.Fprintln(l.out, d.String())

	cycle := l.record(d)
	l.logger.Debug("cycle complete", "cycle", cycle, "frame_seq", f.Seq, "vehicles", n, "wait", d.Wait)

	if l.deps.Display != nil {
		if err := l.deps.Display.Show(f.JPEG, d); err != nil {
			l.logger.Warn("display failed", "error", err)
		}
	}
	if l.deps.Observer != nil {
		l.deps.Observer.Observe(Event{
			RunID:    l.runID,
			Cycle:    cycle,
			Time:     time.Now(),
			Decision: d,
			Frame:    f.JPEG,
		})
	}

	if err := l.wait(ctx, l.cfg.Loop.Interval); err != nil {
		fmt.Fprintln(l.out, "🛑 Interrupted, shutting down...")
		return "interrupted", true
	}

	if l.deps.Display != nil && l.deps.Display.QuitRequested() {
		fmt.Fprintln(l.out, "👋 Quit key pressed.")
		return "quit key", true
	}
	return "", false
}

func (l *Loop) record(d policy.Decision) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stats.Cycles++
	l.stats.LastCycleAt = time.Now()
	l.stats.LastDecision = &d
	return l.stats.Cycles
}

// teardown releases the source and display once.
func (l *Loop) teardown() {
	l.teardownOnce.Do(func() {
		l.state.Store(int32(StateShuttingDown))

		if err := l.deps.Source.Close(); err != nil {
			l.logger.Warn("close source failed", "error", err)
		}
		if l.deps.Display != nil {
			if err := l.deps.Display.Close(); err != nil {
				l.logger.Warn("close display failed", "error", err)
			}
		}

		l.state.Store(int32(StateTerminated))
		l.logger.Info("control loop terminated", "cycles", l.Stats().Cycles)
		fmt.Fprintln(l.out, "✅ Resources released.")
	})
}
