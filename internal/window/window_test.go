package window

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestGeometryRoundTrip(t *testing.T) {
	tests := []struct {
		s       string
		want    Geometry
		wantErr bool
	}{
		{"1280x720+100+50", Geometry{1280, 720, 100, 50}, false},
		{"1920x1080+0+0", Geometry{1920, 1080, 0, 0}, false},
		{"640x480+-10+-20", Geometry{640, 480, -10, -20}, false},
		{"  800x600+5+5\n", Geometry{800, 600, 5, 5}, false},
		{"0x0+1+1", Geometry{}, true},
		{"not a geometry", Geometry{}, true},
		{"1280x720", Geometry{}, true},
		{"", Geometry{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.s, func(t *testing.T) {
			got, err := ParseGeometry(tt.s)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseGeometry(%q) error = %v, wantErr %v", tt.s, err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("ParseGeometry(%q) = %v, want %v", tt.s, got, tt.want)
			}
		})
	}

	g := Geometry{Width: 1280, Height: 720, X: 32, Y: 64}
	parsed, err := ParseGeometry(g.String())
	if err != nil {
		t.Fatalf("round trip error = %v", err)
	}
	if parsed != g {
		t.Errorf("round trip = %v, want %v", parsed, g)
	}
}

const sampleXWinInfo = `
xwininfo: Window id: 0x3c00007 "gst-launch-1.0"

  Absolute upper-left X:  128
  Absolute upper-left Y:  96
  Relative upper-left X:  0
  Relative upper-left Y:  0
  Width: 1280
  Height: 720
  Depth: 24
`

const sampleWmctrlList = `0x01e00004  0 901    box xterm
0x03c00007  0 4242   box gst-launch-1.0
0x04a00001 -1 1100   box Desktop
`

func TestWindowIDForPid(t *testing.T) {
	tests := []struct {
		name   string
		pid    int
		wantID string
		wantOK bool
	}{
		{"owned window found", 4242, "0x03c00007", true},
		{"other pid", 901, "0x01e00004", true},
		{"no window for pid", 7777, "", false},
		{"zero pid never matches", 0, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, ok := windowIDForPid(sampleWmctrlList, tt.pid)
			if ok != tt.wantOK || id != tt.wantID {
				t.Errorf("windowIDForPid(pid=%d) = %q, %v; want %q, %v",
					tt.pid, id, ok, tt.wantID, tt.wantOK)
			}
		})
	}

	if _, ok := windowIDForPid("garbage\nshort line\n", 4242); ok {
		t.Error("windowIDForPid() matched malformed output")
	}
}

func TestParseXWinInfo(t *testing.T) {
	g, err := parseXWinInfo(sampleXWinInfo)
	if err != nil {
		t.Fatalf("parseXWinInfo() error = %v", err)
	}
	want := Geometry{Width: 1280, Height: 720, X: 128, Y: 96}
	if g != want {
		t.Errorf("parseXWinInfo() = %v, want %v", g, want)
	}

	if _, err := parseXWinInfo("no such window"); err == nil {
		t.Error("parseXWinInfo() error = nil for garbage input")
	}
}

func TestStatePersistence(t *testing.T) {
	m := &Manager{
		statePath: filepath.Join(t.TempDir(), StateFileName),
		logger:    testLogger(),
	}

	g := Geometry{Width: 800, Height: 450, X: 10, Y: 20}
	if err := m.saveState(g); err != nil {
		t.Fatalf("saveState() error = %v", err)
	}
	loaded, err := m.loadState()
	if err != nil {
		t.Fatalf("loadState() error = %v", err)
	}
	if loaded != g {
		t.Errorf("loadState() = %v, want %v", loaded, g)
	}

	if err := m.ResetState(); err != nil {
		t.Fatalf("ResetState() error = %v", err)
	}
	if _, err := m.loadState(); !os.IsNotExist(err) {
		t.Errorf("loadState() after reset error = %v, want not-exist", err)
	}
	// Resetting again is not an error.
	if err := m.ResetState(); err != nil {
		t.Errorf("ResetState() on missing file error = %v", err)
	}
}

func TestPersistCurrentUsesQueriedGeometry(t *testing.T) {
	m := &Manager{
		statePath: filepath.Join(t.TempDir(), StateFileName),
		logger:    testLogger(),
		pid:       4242,
		run: func(_ context.Context, name string, args ...string) (string, error) {
			switch name {
			case "wmctrl":
				if len(args) != 1 || args[0] != "-lp" {
					t.Errorf("wmctrl args = %v, want [-lp]", args)
				}
				return sampleWmctrlList, nil
			case "xwininfo":
				if len(args) != 2 || args[0] != "-id" || args[1] != "0x03c00007" {
					t.Errorf("xwininfo args = %v, want [-id 0x03c00007]", args)
				}
				return sampleXWinInfo, nil
			default:
				t.Errorf("unexpected tool %q", name)
				return "", nil
			}
		},
	}

	m.persistCurrent(context.Background())

	loaded, err := m.loadState()
	if err != nil {
		t.Fatalf("loadState() error = %v", err)
	}
	want := Geometry{Width: 1280, Height: 720, X: 128, Y: 96}
	if loaded != want {
		t.Errorf("persisted geometry = %v, want %v", loaded, want)
	}
}
