// Package window manages the optional local preview: a media-player child
// consuming this process's own RTSP output, plus best-effort persistence of
// the preview window's geometry across runs. Everything here is advisory; a
// failure never affects capture or streaming.
package window

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/smazurov/hdmistream/internal/process"
)

// StateFileName is the geometry file kept in the user's home directory.
const StateFileName = ".hdmistream-window-state"

// Geometry is a window size and position.
type Geometry struct {
	Width, Height, X, Y int
}

// String renders the X11 geometry form "WxH+X+Y".
func (g Geometry) String() string {
	return fmt.Sprintf("%dx%d+%d+%d", g.Width, g.Height, g.X, g.Y)
}

var geometryRe = regexp.MustCompile(`^(\d+)x(\d+)\+(-?\d+)\+(-?\d+)$`)

// ParseGeometry parses "WxH+X+Y".
func ParseGeometry(s string) (Geometry, error) {
	m := geometryRe.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return Geometry{}, fmt.Errorf("invalid geometry %q", s)
	}
	w, _ := strconv.Atoi(m[1])
	h, _ := strconv.Atoi(m[2])
	x, _ := strconv.Atoi(m[3])
	y, _ := strconv.Atoi(m[4])
	if w <= 0 || h <= 0 {
		return Geometry{}, fmt.Errorf("invalid geometry %q", s)
	}
	return Geometry{Width: w, Height: h, X: x, Y: y}, nil
}

// Runner executes a window-manager CLI tool and returns stdout.
type Runner func(ctx context.Context, name string, args ...string) (string, error)

func execRunner(ctx context.Context, name string, args ...string) (string, error) {
	out, err := exec.CommandContext(ctx, name, args...).Output()
	return string(out), err
}

// Manager owns the preview child process and the geometry poller.
type Manager struct {
	statePath string
	streamURL string
	run       Runner
	logger    *slog.Logger
	interval  time.Duration

	proc   *process.Process
	pid    int
	cancel context.CancelFunc
	done   chan struct{}
}

// NewManager creates a preview manager for the given RTSP URL. The state file
// lives in the user's home directory; when home cannot be determined the
// state is kept in the working directory.
func NewManager(streamURL string, logger *slog.Logger) *Manager {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return &Manager{
		statePath: filepath.Join(home, StateFileName),
		streamURL: streamURL,
		run:       execRunner,
		logger:    logger,
		interval:  5 * time.Second,
	}
}

// Start launches the preview player, restores the saved geometry, and begins
// geometry polling. The player is a plain RTSP client of this process's own
// server, so it never competes for the capture device.
func (m *Manager) Start() error {
	command := fmt.Sprintf("gst-launch-1.0 playbin uri=%s", m.streamURL)
	m.proc = process.New("preview", command, nil, m.logger)
	if err := m.proc.Start(); err != nil {
		return fmt.Errorf("start preview player: %w", err)
	}
	// The player never sets a window title, so all window-manager lookups
	// go by the owning pid.
	m.pid = m.proc.Pid()

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.done = make(chan struct{})
	go m.monitor(ctx)
	return nil
}

// Stop ends geometry polling, saves the final geometry, and stops the player.
func (m *Manager) Stop() {
	if m.cancel != nil {
		m.cancel()
		<-m.done
	}
	if m.proc != nil {
		m.proc.Stop()
	}
}

// ResetState deletes the persisted geometry.
func (m *Manager) ResetState() error {
	err := os.Remove(m.statePath)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// monitor restores geometry once the window exists, then polls and persists
// it until cancelled.
func (m *Manager) monitor(ctx context.Context) {
	defer close(m.done)

	if saved, err := m.loadState(); err == nil {
		m.awaitWindowAndRestore(ctx, saved)
	}

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			m.persistCurrent(ctx)
			return
		case <-ticker.C:
			m.persistCurrent(ctx)
		}
	}
}

// awaitWindowAndRestore retries until the player has mapped its window.
func (m *Manager) awaitWindowAndRestore(ctx context.Context, g Geometry) {
	for attempt := 0; attempt < 10; attempt++ {
		select {
		case <-ctx.Done():
			return
		case <-time.After(500 * time.Millisecond):
		}
		id, err := m.findWindowID(ctx)
		if err != nil {
			continue
		}
		m.applyGeometry(ctx, id, g)
		return
	}
	m.logger.Debug("preview window never appeared, geometry not restored")
}

func (m *Manager) persistCurrent(ctx context.Context) {
	g, err := m.queryGeometry(ctx)
	if err != nil {
		return
	}
	if err := m.saveState(g); err != nil {
		m.logger.Debug("failed to persist window geometry", "error", err)
	}
}

func (m *Manager) loadState() (Geometry, error) {
	data, err := os.ReadFile(m.statePath)
	if err != nil {
		return Geometry{}, err
	}
	return ParseGeometry(string(data))
}

func (m *Manager) saveState(g Geometry) error {
	return os.WriteFile(m.statePath, []byte(g.String()+"\n"), 0o644)
}

// findWindowID locates the player's window via `wmctrl -lp` by owner pid.
func (m *Manager) findWindowID(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	out, err := m.run(ctx, "wmctrl", "-lp")
	if err != nil {
		return "", err
	}
	id, ok := windowIDForPid(out, m.pid)
	if !ok {
		return "", fmt.Errorf("no window owned by pid %d", m.pid)
	}
	return id, nil
}

// windowIDForPid scans `wmctrl -lp` output (ID DESKTOP PID HOST TITLE...) for
// a window owned by pid.
func windowIDForPid(out string, pid int) (string, bool) {
	if pid == 0 {
		return "", false
	}
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 3 {
			continue
		}
		owner, err := strconv.Atoi(fields[2])
		if err != nil || owner != pid {
			continue
		}
		return fields[0], true
	}
	return "", false
}

// queryGeometry reads the window's current geometry via xwininfo.
func (m *Manager) queryGeometry(ctx context.Context) (Geometry, error) {
	id, err := m.findWindowID(ctx)
	if err != nil {
		return Geometry{}, err
	}
	qctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	out, err := m.run(qctx, "xwininfo", "-id", id)
	if err != nil {
		return Geometry{}, err
	}
	return parseXWinInfo(out)
}

// applyGeometry moves and resizes the window via wmctrl. Gravity 0 keeps the
// window manager's own placement semantics.
func (m *Manager) applyGeometry(ctx context.Context, id string, g Geometry) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	arg := fmt.Sprintf("0,%d,%d,%d,%d", g.X, g.Y, g.Width, g.Height)
	if _, err := m.run(ctx, "wmctrl", "-i", "-r", id, "-e", arg); err != nil {
		m.logger.Debug("failed to restore window geometry", "error", err)
	}
}

var xwininfoFields = map[string]*regexp.Regexp{
	"x":      regexp.MustCompile(`Absolute upper-left X:\s+(-?\d+)`),
	"y":      regexp.MustCompile(`Absolute upper-left Y:\s+(-?\d+)`),
	"width":  regexp.MustCompile(`Width:\s+(\d+)`),
	"height": regexp.MustCompile(`Height:\s+(\d+)`),
}

// parseXWinInfo extracts geometry from xwininfo output.
func parseXWinInfo(out string) (Geometry, error) {
	values := make(map[string]int, len(xwininfoFields))
	for field, re := range xwininfoFields {
		m := re.FindStringSubmatch(out)
		if m == nil {
			return Geometry{}, fmt.Errorf("xwininfo output missing %s", field)
		}
		v, err := strconv.Atoi(m[1])
		if err != nil {
			return Geometry{}, err
		}
		values[field] = v
	}
	return Geometry{
		Width:  values["width"],
		Height: values["height"],
		X:      values["x"],
		Y:      values["y"],
	}, nil
}
