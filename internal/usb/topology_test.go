package usb

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeSysfs builds a synthetic /sys/class tree where class entries are
// symlinks into a devices subtree, matching how the kernel lays it out.
type fakeSysfs struct {
	t         *testing.T
	root      string
	videoRoot string
	soundRoot string
}

func newFakeSysfs(t *testing.T) *fakeSysfs {
	t.Helper()
	root := t.TempDir()
	fs := &fakeSysfs{
		t:         t,
		root:      root,
		videoRoot: filepath.Join(root, "class", "video4linux"),
		soundRoot: filepath.Join(root, "class", "sound"),
	}
	for _, dir := range []string{fs.videoRoot, fs.soundRoot} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatal(err)
		}
	}
	return fs
}

// addVideo registers a video node whose device resolves to the given USB
// interface path under devices/.
func (fs *fakeSysfs) addVideo(node, devicePath string) {
	fs.t.Helper()
	target := filepath.Join(fs.root, "devices", devicePath)
	if err := os.MkdirAll(target, 0o755); err != nil {
		fs.t.Fatal(err)
	}
	classDir := filepath.Join(fs.videoRoot, node)
	if err := os.MkdirAll(classDir, 0o755); err != nil {
		fs.t.Fatal(err)
	}
	if err := os.Symlink(target, filepath.Join(classDir, "device")); err != nil {
		fs.t.Fatal(err)
	}
}

func (fs *fakeSysfs) addSound(card, devicePath string) {
	fs.t.Helper()
	target := filepath.Join(fs.root, "devices", devicePath)
	if err := os.MkdirAll(target, 0o755); err != nil {
		fs.t.Fatal(err)
	}
	classDir := filepath.Join(fs.soundRoot, card)
	if err := os.MkdirAll(classDir, 0o755); err != nil {
		fs.t.Fatal(err)
	}
	if err := os.Symlink(target, filepath.Join(classDir, "device")); err != nil {
		fs.t.Fatal(err)
	}
}

func TestAddressOf(t *testing.T) {
	fs := newFakeSysfs(t)
	fs.addVideo("video0", "pci0000:00/0000:00:14.0/usb1/1-2/1-2.1/1-2.1:1.0")
	fs.addVideo("video2", "pci0000:00/0000:00:14.0/usb3/3-4/3-4:1.0")

	topo := NewTopologyWithRoots(fs.videoRoot, fs.soundRoot, testLogger())

	tests := []struct {
		node string
		want string
	}{
		// Deepest port wins: the hub at 1-2 must not shadow the device at 1-2.1.
		{"/dev/video0", "1-2.1"},
		{"/dev/video2", "3-4"},
	}
	for _, tt := range tests {
		t.Run(tt.node, func(t *testing.T) {
			got, err := topo.AddressOf(tt.node)
			if err != nil {
				t.Fatalf("AddressOf(%q) error = %v", tt.node, err)
			}
			if got != tt.want {
				t.Errorf("AddressOf(%q) = %q, want %q", tt.node, got, tt.want)
			}
		})
	}

	t.Run("unknown node", func(t *testing.T) {
		if _, err := topo.AddressOf("/dev/video9"); err == nil {
			t.Fatal("AddressOf() error = nil, want error for unknown node")
		}
	})
}

func TestMatchAudioCards(t *testing.T) {
	fs := newFakeSysfs(t)
	// Onboard audio, no USB address at all.
	fs.addSound("card0", "pci0000:00/0000:00:1f.3/sound/card0")
	// Capture dongle audio at 1-2.1.
	fs.addSound("card1", "pci0000:00/0000:00:14.0/usb1/1-2/1-2.1/1-2.1:1.2/sound/card1")
	// Sibling device at 1-2.11 that a substring match would wrongly pair.
	fs.addSound("card2", "pci0000:00/0000:00:14.0/usb1/1-2/1-2.11/1-2.11:1.2/sound/card2")
	// Non-card entries must be ignored.
	if err := os.MkdirAll(filepath.Join(fs.soundRoot, "timer"), 0o755); err != nil {
		t.Fatal(err)
	}

	topo := NewTopologyWithRoots(fs.videoRoot, fs.soundRoot, testLogger())

	tests := []struct {
		name string
		addr string
		want []int
	}{
		{"exact port match", "1-2.1", []int{1}},
		{"no prefix collision", "1-2.11", []int{2}},
		{"hub address matches both children", "1-2", []int{1, 2}},
		{"no match", "5-1", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := topo.MatchAudioCards(tt.addr)
			if err != nil {
				t.Fatalf("MatchAudioCards(%q) error = %v", tt.addr, err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("MatchAudioCards(%q) = %v, want %v", tt.addr, got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("card[%d] = %d, want %d", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestPathHasAddress(t *testing.T) {
	tests := []struct {
		path string
		addr string
		want bool
	}{
		{"/sys/devices/usb1/1-2/1-2.1/1-2.1:1.2/sound/card1", "1-2.1", true},
		{"/sys/devices/usb1/1-2/1-2.11/1-2.11:1.2/sound/card2", "1-2.1", false},
		{"/sys/devices/usb1/1-2/1-2:1.0", "1-2", true},
		{"/sys/devices/pci0000:00/sound/card0", "1-2", false},
	}
	for _, tt := range tests {
		if got := pathHasAddress(tt.path, tt.addr); got != tt.want {
			t.Errorf("pathHasAddress(%q, %q) = %v, want %v", tt.path, tt.addr, got, tt.want)
		}
	}
}
