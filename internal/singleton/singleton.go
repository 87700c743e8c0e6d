// Package singleton enforces one capture process per machine. A video device
// node stays exclusively locked by whichever process opened it, including
// orphans from a crashed prior run, so duplicates and orphans are terminated
// before resolution ever touches hardware.
package singleton

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// orphanPattern matches external pipeline processes bound to the capture API,
// left behind by a crashed prior run.
const orphanPattern = `gst-launch-1\.0.*v4l2src`

// Runner executes pgrep and returns its stdout. Replaced in tests.
type Runner func(ctx context.Context, pattern string) (string, error)

func pgrepRunner(ctx context.Context, pattern string) (string, error) {
	out, err := exec.CommandContext(ctx, "pgrep", "-f", pattern).Output()
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
		// pgrep exit 1 means no processes matched.
		return "", nil
	}
	return string(out), err
}

// Guard terminates competing instances and orphaned pipelines.
type Guard struct {
	run     Runner
	kill    func(pid int, sig syscall.Signal) error
	alive   func(pid int) bool
	selfPID int
	grace   time.Duration
	logger  *slog.Logger
}

// New creates a guard using the live process table.
func New(logger *slog.Logger) *Guard {
	return &Guard{
		run:     pgrepRunner,
		kill:    syscall.Kill,
		alive:   processAlive,
		selfPID: os.Getpid(),
		grace:   2 * time.Second,
		logger:  logger,
	}
}

func processAlive(pid int) bool {
	return syscall.Kill(pid, 0) == nil
}

// IdentityPattern builds the match for other instances of this program. The
// pattern is anchored at the start of the command line: a supervisory wrapper
// whose arguments merely mention the program name must never match, because
// killing the wrapper would take this process down with it.
func IdentityPattern(name string) string {
	return `^([^ ]*/)?` + regexp.QuoteMeta(name) + `( |$)`
}

// EnsureExclusive terminates every other instance matching identity, then
// sweeps orphaned pipeline processes. Runs strictly before device resolution.
func (g *Guard) EnsureExclusive(ctx context.Context, identity string) error {
	pids, err := g.findOthers(ctx, IdentityPattern(identity))
	if err != nil {
		return fmt.Errorf("enumerate instances: %w", err)
	}
	if len(pids) > 0 {
		g.logger.Warn("Terminating competing instances", "pids", pids)
		g.terminate(pids)
	}

	orphans, err := g.findOthers(ctx, orphanPattern)
	if err != nil {
		return fmt.Errorf("enumerate orphans: %w", err)
	}
	if len(orphans) > 0 {
		g.logger.Warn("Terminating orphaned pipeline processes", "pids", orphans)
		g.terminate(orphans)
	}
	return nil
}

// findOthers returns matching pids excluding this process.
func (g *Guard) findOthers(ctx context.Context, pattern string) ([]int, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	out, err := g.run(ctx, pattern)
	if err != nil {
		return nil, err
	}

	var pids []int
	for _, field := range strings.Fields(out) {
		pid, err := strconv.Atoi(field)
		if err != nil || pid == g.selfPID {
			continue
		}
		pids = append(pids, pid)
	}
	return pids, nil
}

// terminate delivers SIGTERM, waits out the grace period, and SIGKILLs
// whatever is still alive.
func (g *Guard) terminate(pids []int) {
	for _, pid := range pids {
		if err := g.kill(pid, syscall.SIGTERM); err != nil {
			g.logger.Debug("SIGTERM failed", "pid", pid, "error", err)
		}
	}

	deadline := time.Now().Add(g.grace)
	for time.Now().Before(deadline) {
		if !g.anyAlive(pids) {
			return
		}
		time.Sleep(100 * time.Millisecond)
	}

	for _, pid := range pids {
		if g.alive(pid) {
			g.logger.Warn("Process survived grace period, sending SIGKILL", "pid", pid)
			if err := g.kill(pid, syscall.SIGKILL); err != nil {
				g.logger.Debug("SIGKILL failed", "pid", pid, "error", err)
			}
		}
	}
}

func (g *Guard) anyAlive(pids []int) bool {
	for _, pid := range pids {
		if g.alive(pid) {
			return true
		}
	}
	return false
}
