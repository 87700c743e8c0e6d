// Package supervisor drives the resolve → build → start → monitor lifecycle
// of the streaming pipeline and turns its outcome into a process exit code.
package supervisor

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/smazurov/hdmistream/internal/config"
	"github.com/smazurov/hdmistream/internal/events"
	"github.com/smazurov/hdmistream/internal/pipeline"
	"github.com/smazurov/hdmistream/internal/process"
	"github.com/smazurov/hdmistream/internal/resolver"
)

// State of the supervisor lifecycle. Idle is the only start state; the only
// path to Stopped runs through ShuttingDown.
type State int

// Lifecycle states.
const (
	StateIdle State = iota
	StateResolving
	StateBuilding
	StateStarting
	StateRunning
	StateFaulted
	StateShuttingDown
	StateStopped
)

var stateNames = map[State]string{
	StateIdle:         "idle",
	StateResolving:    "resolving",
	StateBuilding:     "building",
	StateStarting:     "starting",
	StateRunning:      "running",
	StateFaulted:      "faulted",
	StateShuttingDown: "shutting-down",
	StateStopped:      "stopped",
}

// String returns the lowercase state name.
func (s State) String() string { return stateNames[s] }

// Exit codes. Wrapping process managers restart on fault-driven exits but not
// on resolution failures, which need operator attention.
const (
	ExitClean      = 0
	ExitStartupErr = 1
	ExitFault      = 2
)

// Child is the supervised external pipeline process.
type Child interface {
	Start() error
	Done() <-chan error
	Stop() int
	Command() string
}

// Launcher starts pipeline children. Swapped in tests.
type Launcher func(command string, handler process.OutputHandler) Child

// DeviceResolver is the slice of the resolver the supervisor needs.
type DeviceResolver interface {
	Resolve(ctx context.Context, opts resolver.Options) (resolver.Resolved, error)
}

// Observer receives lifecycle notifications. All methods may be called from
// the supervisor goroutine only.
type Observer interface {
	StateChanged(from, to State)
	FaultDetected(message string)
}

// Options configure a supervision run.
type Options struct {
	Resolver resolver.Options
	// AudioOnly requests a pipeline without a video branch.
	AudioOnly bool
	// Settings returns the current encoder tuning. Called once per build so
	// a config reload applies on the next resolution, never mid-flight.
	Settings func() config.Settings
	// Notify reports lifecycle milestones to the service manager.
	// Nil disables notification.
	Notify func(state string)
}

// Supervisor owns the pipeline lifecycle.
type Supervisor struct {
	resolver DeviceResolver
	launch   Launcher
	bus      *events.Bus
	observer Observer
	logger   *slog.Logger

	mu       sync.Mutex
	state    State
	resolved resolver.Resolved
	spec     pipeline.Spec
	fatalCh  chan string
	cleanups []cleanup
}

type cleanup struct {
	name string
	fn   func()
}

// New creates a supervisor. bus and observer may be nil.
func New(res DeviceResolver, launch Launcher, bus *events.Bus, observer Observer, logger *slog.Logger) *Supervisor {
	if launch == nil {
		launch = func(command string, handler process.OutputHandler) Child {
			return process.New("pipeline", command, handler, logger)
		}
	}
	return &Supervisor{
		resolver: res,
		launch:   launch,
		bus:      bus,
		observer: observer,
		logger:   logger,
		state:    StateIdle,
		fatalCh:  make(chan string, 1),
	}
}

// State returns the current lifecycle state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Resolved returns the device selection of the current run. Zero value
// before Resolving completed.
func (s *Supervisor) Resolved() resolver.Resolved {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resolved
}

// Spec returns the pipeline spec of the current run.
func (s *Supervisor) Spec() pipeline.Spec {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.spec
}

// AddCleanup registers a teardown step run during ShuttingDown, in
// registration order.
func (s *Supervisor) AddCleanup(name string, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cleanups = append(s.cleanups, cleanup{name: name, fn: fn})
}

// Fault injects a fatal condition from outside the pipeline's own message
// stream, such as a hotplug removal of the held device.
func (s *Supervisor) Fault(message string) {
	select {
	case s.fatalCh <- message:
	default:
	}
}

// Run drives the full lifecycle and blocks until Stopped. Returns the process
// exit code. Cancelling ctx before Starting aborts without touching hardware;
// after Starting it triggers an orderly pipeline teardown.
func (s *Supervisor) Run(ctx context.Context, opts Options) int {
	settings := config.DefaultSettings()
	if opts.Settings != nil {
		settings = opts.Settings()
	}

	s.setState(StateResolving)
	if ctx.Err() != nil {
		return s.shutdown(opts, nil, ExitClean)
	}
	resolved, err := s.resolver.Resolve(ctx, opts.Resolver)
	if err != nil {
		s.logger.Error("Device resolution failed", "error", err)
		if errors.Is(err, resolver.ErrNoDevice) {
			s.logger.Error("No usable capture device; check that the adapter is plugged in, " +
				"v4l2-ctl is installed, this user can open /dev/video*, " +
				"and no other process is holding the device")
		}
		return s.shutdown(opts, nil, ExitStartupErr)
	}
	s.mu.Lock()
	s.resolved = resolved
	s.mu.Unlock()

	s.setState(StateBuilding)
	spec, err := pipeline.Build(resolved, settings, opts.AudioOnly)
	if err != nil {
		s.logger.Error("Pipeline build failed", "error", err)
		return s.shutdown(opts, nil, ExitStartupErr)
	}
	s.mu.Lock()
	s.spec = spec
	s.mu.Unlock()

	s.setState(StateStarting)
	if ctx.Err() != nil {
		return s.shutdown(opts, nil, ExitClean)
	}
	monitor := NewHealthMonitor(s.logger, s.bus, func(message string) {
		if s.observer != nil {
			s.observer.FaultDetected(message)
		}
		s.Fault(message)
	})
	child := s.launch("gst-launch-1.0 "+spec.Render(), monitor)
	if err := child.Start(); err != nil {
		s.logger.Error("Pipeline start failed", "error", err, "command", child.Command())
		return s.shutdown(opts, nil, ExitStartupErr)
	}

	s.setState(StateRunning)
	s.notify(opts, "ready")
	s.logger.Info("Pipeline running", "mode", spec.Mode, "codec_path", spec.VideoCodecPath)

	select {
	case <-ctx.Done():
		s.logger.Info("Stop requested")
		return s.shutdown(opts, child, ExitClean)
	case message := <-s.fatalCh:
		s.setState(StateFaulted)
		s.logger.Error("Fatal pipeline fault, shutting down", "message", message)
		return s.shutdown(opts, child, ExitFault)
	case err := <-child.Done():
		// The pipeline never exits on its own in steady state, so any exit
		// is fault-driven even when the code is zero.
		s.setState(StateFaulted)
		s.logger.Error("Pipeline exited unexpectedly", "error", err)
		return s.shutdown(opts, child, ExitFault)
	}
}

// shutdown tears the run down in order: pipeline first, then registered
// cleanups, then the terminal state.
func (s *Supervisor) shutdown(opts Options, child Child, code int) int {
	s.setState(StateShuttingDown)
	s.notify(opts, "stopping")

	if child != nil {
		exitCode := child.Stop()
		s.logger.Info("Pipeline stopped", "exit_code", exitCode)
	}

	s.mu.Lock()
	cleanups := s.cleanups
	s.mu.Unlock()
	for _, c := range cleanups {
		s.logger.Debug("Running cleanup", "name", c.name)
		c.fn()
	}

	s.setState(StateStopped)
	return code
}

func (s *Supervisor) setState(to State) {
	s.mu.Lock()
	from := s.state
	s.state = to
	s.mu.Unlock()
	if from == to {
		return
	}

	s.logger.Info("State transition", "from", from.String(), "to", to.String())
	if s.observer != nil {
		s.observer.StateChanged(from, to)
	}
	if s.bus != nil {
		s.bus.Publish(events.PipelineStateEvent{
			From:      from.String(),
			To:        to.String(),
			Timestamp: time.Now().Format(time.RFC3339Nano),
		})
	}
}

func (s *Supervisor) notify(opts Options, state string) {
	if opts.Notify != nil {
		opts.Notify(state)
	}
}
