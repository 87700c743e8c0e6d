// Package v4l2 wraps the v4l2-ctl command line tool. All hardware facts in
// this program are inferred from tool output and sysfs structure; nothing
// opens the device ioctl interface directly.
package v4l2

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"
)

// DefaultTimeout bounds every v4l2-ctl invocation.
const DefaultTimeout = 5 * time.Second

// Presence is the outcome of a text-capability predicate. Unknown is kept
// distinct from Absent so callers can degrade instead of reject when tool
// output could not be interpreted.
type Presence int

// Presence values.
const (
	PresenceUnknown Presence = iota
	PresenceAbsent
	PresenceFound
)

// String returns the lowercase name of the presence value.
func (p Presence) String() string {
	switch p {
	case PresenceFound:
		return "found"
	case PresenceAbsent:
		return "absent"
	default:
		return "unknown"
	}
}

// Capability holds the facts derived from probing one device node.
// Recomputed on every resolution attempt; device state changes between runs.
type Capability struct {
	HasCapture         bool
	ExpectedResolution Presence
	SupportsMJPEG      bool
}

// Probe failure reasons, normalized from raw tool/filesystem errors.
type ProbeReason int

// ProbeReason values.
const (
	ReasonMissing ProbeReason = iota
	ReasonPermission
	ReasonBusy
	ReasonTimeout
	ReasonToolFailed
	ReasonNoCapture
)

var probeReasonNames = map[ProbeReason]string{
	ReasonMissing:    "device missing",
	ReasonPermission: "permission denied",
	ReasonBusy:       "device busy or inaccessible",
	ReasonTimeout:    "capability query timed out",
	ReasonToolFailed: "capability query failed",
	ReasonNoCapture:  "no video capture capability",
}

// ProbeError reports why a candidate device was rejected. It is always
// recovered locally: resolution moves on to the next candidate.
type ProbeError struct {
	Path   string
	Reason ProbeReason
	Err    error
}

// Error implements the error interface.
func (e *ProbeError) Error() string {
	msg := fmt.Sprintf("probe %s: %s", e.Path, probeReasonNames[e.Reason])
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *ProbeError) Unwrap() error { return e.Err }

// Runner executes an external command and returns its stdout and stderr.
// Replaced in tests with canned output.
type Runner func(ctx context.Context, name string, args ...string) (stdout, stderr string, err error)

func execRunner(ctx context.Context, name string, args ...string) (string, string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var outBuf, errBuf strings.Builder
	cmd.Stdout = &outBuf
	cmd.Stderr = &errBuf
	err := cmd.Run()
	return outBuf.String(), errBuf.String(), err
}

// Client probes V4L2 devices via v4l2-ctl.
type Client struct {
	run     Runner
	timeout time.Duration
	logger  *slog.Logger
}

// NewClient creates a prober that invokes the real v4l2-ctl binary.
func NewClient(logger *slog.Logger) *Client {
	return &Client{run: execRunner, timeout: DefaultTimeout, logger: logger}
}

// NewClientWithRunner creates a prober with a custom command runner.
func NewClientWithRunner(run Runner, logger *slog.Logger) *Client {
	return &Client{run: run, timeout: DefaultTimeout, logger: logger}
}

// Probe checks that path is an HDMI-class capture node. Capture capability
// is mandatory; missing resolution tokens only degrade (logged warning),
// since actual resolution negotiation happens inside the media pipeline.
func (c *Client) Probe(ctx context.Context, path string) (Capability, error) {
	if err := c.accessCheck(path); err != nil {
		return Capability{}, err
	}

	out, errOut, err := c.runTool(ctx, "-d", path, "--all")
	if errOut != "" {
		c.logger.Debug("v4l2-ctl stderr", "device", path, "stderr", strings.TrimSpace(errOut))
	}
	if err != nil {
		return Capability{}, c.toolError(path, err)
	}
	if strings.TrimSpace(out) == "" {
		return Capability{}, &ProbeError{Path: path, Reason: ReasonToolFailed, Err: errors.New("empty output")}
	}

	cap := parseCapability(out)
	if !cap.HasCapture {
		return Capability{}, &ProbeError{Path: path, Reason: ReasonNoCapture}
	}
	if cap.ExpectedResolution != PresenceFound {
		c.logger.Warn("device reports no expected HDMI resolutions, accepting anyway",
			"device", path, "resolution", cap.ExpectedResolution.String())
	}

	cap.SupportsMJPEG = c.supportsMJPEG(ctx, path)
	return cap, nil
}

// QueryOK re-runs the capability query without parsing, to confirm a device
// enumerated earlier is still answering.
func (c *Client) QueryOK(ctx context.Context, path string) bool {
	_, _, err := c.runTool(ctx, "-d", path, "--all")
	return err == nil
}

// StreamTest attempts a minimal one-frame capture. It returns false only on
// the stuck-driver signature: STREAMON plus an error marker on stderr. Any
// other failure (no signal, slow negotiation) is not a stuck state and must
// not trigger remediation advice.
func (c *Client) StreamTest(ctx context.Context, path string) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	_, errOut, err := c.run(ctx, "v4l2-ctl",
		"-d", path, "--stream-mmap", "--stream-count=1", "--stream-to=/dev/null")
	if strings.Contains(errOut, "STREAMON") && strings.Contains(strings.ToLower(errOut), "error") {
		return false
	}
	if err != nil {
		c.logger.Debug("stream test did not complete cleanly", "device", path, "error", err)
	}
	return true
}

// SetFormat issues an explicit format negotiation to shake the driver out of
// a latent bad state left by a crashed consumer. Best effort.
func (c *Client) SetFormat(ctx context.Context, path, pixelFormat string, width, height int) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	fmtArg := fmt.Sprintf("--set-fmt-video=pixelformat=%s,width=%d,height=%d", pixelFormat, width, height)
	if _, _, err := c.run(ctx, "v4l2-ctl", "-d", path, fmtArg); err != nil {
		c.logger.Debug("format reset failed", "device", path, "error", err)
	}
}

// ListCandidates enumerates device nodes listed under the USB Video class
// block of `v4l2-ctl --list-devices`. A blind /dev/video* sweep would probe
// unrelated nodes such as webcams.
func (c *Client) ListCandidates(ctx context.Context) ([]string, error) {
	out, _, err := c.runTool(ctx, "--list-devices")
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	return parseDeviceList(out), nil
}

// supportsMJPEG checks the extended format list for an MJPG/MJPEG token.
// On tool failure it assumes support; the pipeline falls back to generic
// decode at runtime if the assumption was wrong.
func (c *Client) supportsMJPEG(ctx context.Context, path string) bool {
	out, _, err := c.runTool(ctx, "-d", path, "--list-formats-ext")
	if err != nil {
		return true
	}
	return strings.Contains(out, "MJPG") || strings.Contains(out, "MJPEG")
}

func (c *Client) runTool(ctx context.Context, args ...string) (string, string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return c.run(ctx, "v4l2-ctl", args...)
}

func (c *Client) accessCheck(path string) error {
	if _, err := os.Stat(path); err != nil {
		return &ProbeError{Path: path, Reason: ReasonMissing, Err: err}
	}
	f, err := os.Open(path)
	if err != nil {
		reason := ReasonBusy
		if errors.Is(err, fs.ErrPermission) {
			reason = ReasonPermission
		}
		return &ProbeError{Path: path, Reason: reason, Err: err}
	}
	f.Close()
	return nil
}

func (c *Client) toolError(path string, err error) error {
	reason := ReasonToolFailed
	if errors.Is(err, context.DeadlineExceeded) {
		reason = ReasonTimeout
	}
	return &ProbeError{Path: path, Reason: reason, Err: err}
}
