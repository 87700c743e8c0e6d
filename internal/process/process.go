// Package process runs and supervises a single external child, streaming its
// output line by line to a handler. The health monitor classifies those lines;
// this package only owns lifecycle and signal delivery.
package process

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"
)

// KilledExitCode is reported when the child had to be force-killed.
const KilledExitCode = 137

// OutputHandler receives output lines from the child process.
type OutputHandler interface {
	HandleLine(source, line string)
}

// Process manages the lifecycle of one child process. The child runs in its
// own process group so signals reach the whole pipeline tree, not just the
// launcher.
type Process struct {
	name    string
	command string
	handler OutputHandler
	logger  *slog.Logger

	gracefulTimeout time.Duration
	killTimeout     time.Duration

	mu       sync.Mutex
	cmd      *exec.Cmd
	done     chan error
	exited   chan struct{}
	exitCode int
}

// New creates a process wrapper. handler may be nil when no one inspects
// output.
func New(name, command string, handler OutputHandler, logger *slog.Logger) *Process {
	return &Process{
		name:            name,
		command:         command,
		handler:         handler,
		logger:          logger,
		gracefulTimeout: 5 * time.Second,
		killTimeout:     5 * time.Second,
	}
}

// Command returns the command line the process was created with.
func (p *Process) Command() string { return p.command }

// Start launches the child and begins streaming its output.
func (p *Process) Start() error {
	args, err := parseCommand(p.command)
	if err != nil {
		return fmt.Errorf("parse command: %w", err)
	}
	if len(args) == 0 {
		return errors.New("empty command")
	}

	cmd := exec.Command(args[0], args[1:]...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", p.name, err)
	}

	p.logger.Info("Process started", "name", p.name, "pid", cmd.Process.Pid)

	var readers sync.WaitGroup
	readers.Add(2)
	go func() {
		defer readers.Done()
		p.streamOutput(stdout, "stdout")
	}()
	go func() {
		defer readers.Done()
		p.streamOutput(stderr, "stderr")
	}()

	done := make(chan error, 1)
	exited := make(chan struct{})
	go func() {
		// Wait closes the pipes, so both readers must hit EOF first or the
		// child's final lines (often the fatal error) are lost.
		readers.Wait()
		err := cmd.Wait()
		p.mu.Lock()
		p.exitCode = exitCodeFromError(err)
		p.mu.Unlock()
		close(exited)
		done <- err
	}()

	p.mu.Lock()
	p.cmd = cmd
	p.done = done
	p.exited = exited
	p.mu.Unlock()
	return nil
}

// Done returns a channel that delivers the child's exit error once.
func (p *Process) Done() <-chan error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.done
}

// Pid returns the child's pid, or 0 before Start.
func (p *Process) Pid() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cmd == nil || p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

// Stop asks the child to exit with SIGINT, escalating to SIGKILL after the
// grace period. Returns the child's exit code, or KilledExitCode when it had
// to be killed. Safe to call after the child already exited.
func (p *Process) Stop() int {
	p.mu.Lock()
	cmd, exited := p.cmd, p.exited
	p.mu.Unlock()
	if cmd == nil || cmd.Process == nil {
		return 0
	}

	p.logger.Info("Sending SIGINT to process", "name", p.name, "pid", cmd.Process.Pid)
	if err := cmd.Process.Signal(syscall.SIGINT); err != nil && !errors.Is(err, os.ErrProcessDone) {
		p.logger.Warn("Failed to send SIGINT", "error", err)
	}

	// The exit latch closes only after both output readers drained, so
	// returning here means no log line will interleave with whatever the
	// caller does next.
	return p.waitForExit(cmd, exited)
}

func (p *Process) waitForExit(cmd *exec.Cmd, exited <-chan struct{}) int {
	select {
	case <-exited:
		p.mu.Lock()
		defer p.mu.Unlock()
		return p.exitCode
	case <-time.After(p.gracefulTimeout):
		p.logger.Warn("Graceful shutdown timeout, forcing kill", "name", p.name, "timeout", p.gracefulTimeout)
		if err := cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			p.logger.Error("Failed to kill process", "error", err)
		}
		select {
		case <-exited:
		case <-time.After(p.killTimeout):
			p.logger.Error("Process did not exit after kill signal", "name", p.name)
		}
		return KilledExitCode
	}
}

// exitCodeFromError extracts the exit code from a Wait error.
func exitCodeFromError(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return 1
}

func (p *Process) streamOutput(reader io.Reader, source string) {
	scanner := bufio.NewScanner(reader)
	for scanner.Scan() {
		line := scanner.Text()
		if p.handler != nil {
			p.handler.HandleLine(source, line)
		}
		p.logger.Debug(line, "source", source)
	}
	if err := scanner.Err(); err != nil {
		p.logger.Warn("Error reading output", "source", source, "error", err)
	}
}

// parseCommand splits a command string into arguments, honoring quotes and
// backslash escapes.
func parseCommand(command string) ([]string, error) {
	var args []string
	var current strings.Builder
	inQuote := false
	quoteChar := rune(0)

	command = strings.TrimSpace(command)
	runes := []rune(command)

	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch {
		case r == '"' || r == '\'':
			switch {
			case !inQuote:
				inQuote = true
				quoteChar = r
			case r == quoteChar:
				inQuote = false
				quoteChar = 0
			default:
				current.WriteRune(r)
			}
		case r == ' ' && !inQuote:
			if current.Len() > 0 {
				args = append(args, current.String())
				current.Reset()
			}
		case r == '\\' && i+1 < len(runes):
			i++
			current.WriteRune(runes[i])
		default:
			current.WriteRune(r)
		}
	}

	if current.Len() > 0 {
		args = append(args, current.String())
	}

	if inQuote {
		return nil, fmt.Errorf("unclosed quote in command")
	}

	return args, nil
}
