// Package alsa verifies sound card capture capability. Topology pairing only
// proves a card sits on the same USB device; these checks prove it can
// actually record.
package alsa

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// captureTestTimeout bounds the arecord probe. The probe records one second,
// so the deadline leaves headroom for device open and format negotiation.
const captureTestTimeout = 3 * time.Second

// Runner executes an external command. Replaced in tests.
type Runner func(ctx context.Context, name string, args ...string) error

func execRunner(ctx context.Context, name string, args ...string) error {
	return exec.CommandContext(ctx, name, args...).Run()
}

// Client inspects ALSA state through /proc/asound and the arecord tool.
type Client struct {
	procRoot string
	run      Runner
	logger   *slog.Logger
}

// NewClient creates a client over the live /proc/asound tree.
func NewClient(logger *slog.Logger) *Client {
	return &Client{procRoot: "/proc/asound", run: execRunner, logger: logger}
}

// NewClientWithRoots creates a client with a custom proc root and runner.
func NewClientWithRoots(procRoot string, run Runner, logger *slog.Logger) *Client {
	return &Client{procRoot: procRoot, run: run, logger: logger}
}

// HasCaptureDevice reports whether the card exposes at least one capture PCM.
// Capture streams show up as pcm<N>c entries under the card's proc directory;
// playback-only cards have only pcm<N>p.
func (c *Client) HasCaptureDevice(card int) bool {
	pattern := filepath.Join(c.procRoot, fmt.Sprintf("card%d", card), "pcm*c")
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return false
	}
	return len(matches) > 0
}

// CardID returns the short ALSA identifier of a card, or "" if unreadable.
// Used for logging only; pairing decisions never depend on the name.
func (c *Client) CardID(card int) string {
	data, err := os.ReadFile(filepath.Join(c.procRoot, fmt.Sprintf("card%d", card), "id"))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// TestCapture records one second from the card and discards it. This is the
// authoritative availability check before audio is committed to a pipeline:
// a card can enumerate fine and still fail to open when another process or a
// half-dead driver holds it.
func (c *Client) TestCapture(ctx context.Context, card int) bool {
	ctx, cancel := context.WithTimeout(ctx, captureTestTimeout)
	defer cancel()

	device := fmt.Sprintf("plughw:%d,0", card)
	err := c.run(ctx, "arecord", "-D", device, "-f", "cd", "-d", "1", "/dev/null")
	if err != nil {
		c.logger.Warn("audio capture test failed", "card", card, "device", device, "error", err)
		return false
	}
	return true
}
