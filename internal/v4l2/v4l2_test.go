package v4l2

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const sampleAll = `Driver Info:
	Driver name      : uvcvideo
	Card type        : USB Video: USB Video
	Bus info         : usb-0000:00:14.0-1.2
Format Video Capture:
	Width/Height      : 1920/1080
	Pixel Format      : 'MJPG' (Motion-JPEG)
`

const sampleAllNoRes = `Driver Info:
	Driver name      : uvcvideo
Format Video Capture:
	Width/Height      : 640/480
	Pixel Format      : 'YUYV'
`

const sampleAllOutput = `Driver Info:
	Driver name      : uvcvideo
Format Video Output:
	Width/Height      : 1920/1080
`

func TestParseCapability(t *testing.T) {
	tests := []struct {
		name       string
		output     string
		hasCapture bool
		resolution Presence
	}{
		{"hdmi capture", sampleAll, true, PresenceFound},
		{"capture without hdmi resolution", sampleAllNoRes, true, PresenceAbsent},
		{"output only device", sampleAllOutput, false, PresenceFound},
		{"empty output", "", false, PresenceAbsent},
		{"720p capable", "Video Capture\n\tSize: Discrete 1280x720", true, PresenceFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cap := parseCapability(tt.output)
			if cap.HasCapture != tt.hasCapture {
				t.Errorf("HasCapture = %v, want %v", cap.HasCapture, tt.hasCapture)
			}
			if cap.ExpectedResolution != tt.resolution {
				t.Errorf("ExpectedResolution = %v, want %v", cap.ExpectedResolution, tt.resolution)
			}
		})
	}
}

func TestParseDeviceList(t *testing.T) {
	tests := []struct {
		name   string
		output string
		want   []string
	}{
		{
			name: "single capture card",
			output: "USB Video: USB Video (usb-0000:00:14.0-1.2):\n" +
				"\t/dev/video0\n\t/dev/video1\n\t/dev/media0\n\n" +
				"Integrated Camera (usb-0000:00:14.0-8):\n\t/dev/video2\n",
			want: []string{"/dev/video0", "/dev/video1"},
		},
		{
			name:   "no capture card",
			output: "Integrated Camera (usb-0000:00:14.0-8):\n\t/dev/video0\n",
			want:   nil,
		},
		{
			name: "two capture cards",
			output: "USB Video: USB Video (usb-1):\n\t/dev/video0\n\n" +
				"USB Video: USB Video (usb-2):\n\t/dev/video2\n",
			want: []string{"/dev/video0", "/dev/video2"},
		},
		{
			name:   "block ends at unindented line",
			output: "USB Video: USB Video (usb-1):\n\t/dev/video0\nSomething Else:\n\t/dev/video5\n",
			want:   []string{"/dev/video0"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseDeviceList(tt.output)
			if len(got) != len(tt.want) {
				t.Fatalf("parseDeviceList() = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("node[%d] = %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fakeNode(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "video0")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestProbe(t *testing.T) {
	node := fakeNode(t)

	t.Run("accepts capture device", func(t *testing.T) {
		run := func(ctx context.Context, name string, args ...string) (string, string, error) {
			if strings.Contains(strings.Join(args, " "), "--list-formats-ext") {
				return "[0]: 'MJPG' (Motion-JPEG, compressed)", "", nil
			}
			return sampleAll, "", nil
		}
		cap, err := NewClientWithRunner(run, discardLogger()).Probe(context.Background(), node)
		if err != nil {
			t.Fatalf("Probe() error = %v", err)
		}
		if !cap.HasCapture || !cap.SupportsMJPEG {
			t.Errorf("cap = %+v, want capture and mjpeg", cap)
		}
	})

	t.Run("accepts device without expected resolution", func(t *testing.T) {
		run := func(ctx context.Context, name string, args ...string) (string, string, error) {
			return sampleAllNoRes, "", nil
		}
		cap, err := NewClientWithRunner(run, discardLogger()).Probe(context.Background(), node)
		if err != nil {
			t.Fatalf("Probe() error = %v", err)
		}
		if cap.ExpectedResolution != PresenceAbsent {
			t.Errorf("ExpectedResolution = %v, want absent", cap.ExpectedResolution)
		}
	})

	t.Run("rejects device without capture", func(t *testing.T) {
		run := func(ctx context.Context, name string, args ...string) (string, string, error) {
			return sampleAllOutput, "", nil
		}
		_, err := NewClientWithRunner(run, discardLogger()).Probe(context.Background(), node)
		var pe *ProbeError
		if !errors.As(err, &pe) || pe.Reason != ReasonNoCapture {
			t.Fatalf("Probe() error = %v, want ReasonNoCapture", err)
		}
	})

	t.Run("rejects missing node", func(t *testing.T) {
		run := func(ctx context.Context, name string, args ...string) (string, string, error) {
			t.Fatal("runner should not be called for missing node")
			return "", "", nil
		}
		_, err := NewClientWithRunner(run, discardLogger()).Probe(context.Background(), "/nonexistent/video9")
		var pe *ProbeError
		if !errors.As(err, &pe) || pe.Reason != ReasonMissing {
			t.Fatalf("Probe() error = %v, want ReasonMissing", err)
		}
	})

	t.Run("rejects tool failure", func(t *testing.T) {
		run := func(ctx context.Context, name string, args ...string) (string, string, error) {
			return "", "Cannot open device", errors.New("exit status 1")
		}
		_, err := NewClientWithRunner(run, discardLogger()).Probe(context.Background(), node)
		var pe *ProbeError
		if !errors.As(err, &pe) || pe.Reason != ReasonToolFailed {
			t.Fatalf("Probe() error = %v, want ReasonToolFailed", err)
		}
	})
}

func TestStreamTest(t *testing.T) {
	tests := []struct {
		name   string
		stderr string
		err    error
		want   bool
	}{
		{"clean capture", "", nil, true},
		{"stuck driver", "VIDIOC_STREAMON returned -1 (error)", errors.New("exit status 1"), false},
		{"unrelated failure", "", errors.New("exit status 1"), true},
		{"warning only", "warning: compressed format", nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			run := func(ctx context.Context, name string, args ...string) (string, string, error) {
				return "", tt.stderr, tt.err
			}
			c := NewClientWithRunner(run, discardLogger())
			if got := c.StreamTest(context.Background(), "/dev/video0"); got != tt.want {
				t.Errorf("StreamTest() = %v, want %v", got, tt.want)
			}
		})
	}
}
