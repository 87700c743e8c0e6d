// Package usb pairs video device nodes with ALSA sound cards through sysfs
// USB topology, so the audio grabbed alongside a capture card is the one on
// the same physical dongle rather than whichever card enumerated first.
package usb

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// usbAddressRe matches USB port addresses like "1-2" or "3-4.1.2" inside a
// sysfs device path. The last match in a realpath is the deepest port on the
// chain, which identifies the device itself rather than an upstream hub.
var usbAddressRe = regexp.MustCompile(`\d+-[\d.]+`)

// Topology resolves USB addresses from sysfs. The roots are parameters so
// tests can point it at a synthetic tree.
type Topology struct {
	videoRoot string
	soundRoot string
	logger    *slog.Logger
}

// NewTopology creates a matcher over the live sysfs tree.
func NewTopology(logger *slog.Logger) *Topology {
	return &Topology{
		videoRoot: "/sys/class/video4linux",
		soundRoot: "/sys/class/sound",
		logger:    logger,
	}
}

// NewTopologyWithRoots creates a matcher over custom class directories.
func NewTopologyWithRoots(videoRoot, soundRoot string, logger *slog.Logger) *Topology {
	return &Topology{videoRoot: videoRoot, soundRoot: soundRoot, logger: logger}
}

// AddressOf derives the USB port address of a video device node by resolving
// its sysfs device symlink. Pairing is optional upstream, so failure here is
// an error the caller downgrades, never a fatal.
func (t *Topology) AddressOf(videoPath string) (string, error) {
	node := filepath.Base(videoPath)
	link := filepath.Join(t.videoRoot, node, "device")
	real, err := filepath.EvalSymlinks(link)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", link, err)
	}
	addr := lastAddress(real)
	if addr == "" {
		return "", fmt.Errorf("no usb address in device path %q", real)
	}
	return addr, nil
}

// MatchAudioCards returns the indices of sound cards rooted at the given USB
// address, in ascending card order. Callers still verify capture capability;
// topology only proves co-location.
func (t *Topology) MatchAudioCards(usbAddr string) ([]int, error) {
	entries, err := os.ReadDir(t.soundRoot)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", t.soundRoot, err)
	}

	var cards []int
	for _, entry := range entries {
		index, ok := cardIndex(entry.Name())
		if !ok {
			continue
		}
		link := filepath.Join(t.soundRoot, entry.Name(), "device")
		real, err := filepath.EvalSymlinks(link)
		if err != nil {
			t.logger.Debug("skipping sound card without device link", "card", entry.Name(), "error", err)
			continue
		}
		if pathHasAddress(real, usbAddr) {
			cards = append(cards, index)
		}
	}
	sort.Ints(cards)
	return cards, nil
}

// lastAddress returns the deepest USB port address in a sysfs path.
func lastAddress(path string) string {
	matches := usbAddressRe.FindAllString(path, -1)
	if len(matches) == 0 {
		return ""
	}
	return matches[len(matches)-1]
}

// pathHasAddress reports whether a sysfs path contains the address as an
// exact path component. Substring matching would confuse port 1-2 with its
// children 1-2.1, 1-2.2 and pair audio from a sibling device. Interface
// directories like "1-2.1:1.2" count as belonging to port 1-2.1.
func pathHasAddress(path, addr string) bool {
	for _, component := range strings.Split(path, string(filepath.Separator)) {
		if component == addr || strings.HasPrefix(component, addr+":") {
			return true
		}
	}
	return false
}

// cardIndex extracts N from a "cardN" directory name.
func cardIndex(name string) (int, bool) {
	rest, ok := strings.CutPrefix(name, "card")
	if !ok {
		return 0, false
	}
	index, err := strconv.Atoi(rest)
	if err != nil {
		return 0, false
	}
	return index, true
}
