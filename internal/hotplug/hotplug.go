//go:build linux

// Package hotplug watches kernel device events over netlink, without cgo or
// a udev dependency, and republishes capture-relevant ones on the event bus.
// Its one serious consumer is the supervisor, which treats removal of the
// device it holds as a fatal fault.
package hotplug

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/smazurov/hdmistream/internal/events"
)

// Uevent actions this system cares about.
const (
	ActionAdd    = "add"
	ActionRemove = "remove"
)

// Subsystems of the devices a capture dongle exposes.
const (
	SubsystemVideo4Linux = "video4linux"
	SubsystemSound       = "sound"
	SubsystemUSB         = "usb"
)

// Event is one kernel device event.
type Event struct {
	Action    string
	KObj      string
	Subsystem string
	DevName   string
	DevPath   string
	Env       map[string]string
}

// netlinkKobjectUEvent is the netlink protocol for kernel object events.
const netlinkKobjectUEvent = 15

// Monitor listens for kernel device events via a netlink socket.
type Monitor struct {
	fd        int
	filters   map[string]struct{}
	filtersMu sync.RWMutex
}

// NewMonitor opens the netlink socket bound to the kernel broadcast group.
func NewMonitor() (*Monitor, error) {
	fd, err := syscall.Socket(syscall.AF_NETLINK, syscall.SOCK_DGRAM|syscall.SOCK_CLOEXEC, netlinkKobjectUEvent)
	if err != nil {
		return nil, err
	}

	addr := &syscall.SockaddrNetlink{
		Family: syscall.AF_NETLINK,
		Groups: 1,
	}
	if err := syscall.Bind(fd, addr); err != nil {
		syscall.Close(fd)
		return nil, err
	}

	return &Monitor{fd: fd, filters: make(map[string]struct{})}, nil
}

// AddSubsystemFilter restricts delivered events to matching subsystems.
// With no filters, everything passes. Safe for concurrent use.
func (m *Monitor) AddSubsystemFilter(subsystem string) {
	m.filtersMu.Lock()
	m.filters[subsystem] = struct{}{}
	m.filtersMu.Unlock()
}

// Close releases the netlink socket.
func (m *Monitor) Close() error {
	return syscall.Close(m.fd)
}

// Run delivers events to the channel until ctx is cancelled. The channel is
// closed when Run returns.
func (m *Monitor) Run(ctx context.Context, out chan<- Event) error {
	defer close(out)

	buf := make([]byte, 8192)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		// Bounded reads keep the loop responsive to cancellation.
		tv := syscall.Timeval{Sec: 1}
		if err := syscall.SetsockoptTimeval(m.fd, syscall.SOL_SOCKET, syscall.SO_RCVTIMEO, &tv); err != nil {
			return err
		}

		n, _, err := syscall.Recvfrom(m.fd, buf, 0)
		if err != nil {
			if errors.Is(err, syscall.EAGAIN) || errors.Is(err, syscall.EWOULDBLOCK) || errors.Is(err, syscall.EINTR) {
				continue
			}
			return err
		}
		if n == 0 {
			continue
		}

		event := ParseUEvent(buf[:n])
		if event == nil {
			continue
		}

		m.filtersMu.RLock()
		filterCount := len(m.filters)
		_, matches := m.filters[event.Subsystem]
		m.filtersMu.RUnlock()
		if filterCount > 0 && !matches {
			continue
		}

		select {
		case out <- *event:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// ParseUEvent parses a kernel uevent message of the form
// "ACTION@KOBJ\0KEY=VALUE\0KEY=VALUE\0...". A libudev binary header, present
// when a udev daemon rebroadcasts events, is skipped.
func ParseUEvent(data []byte) *Event {
	if len(data) == 0 {
		return nil
	}

	if bytes.HasPrefix(data, []byte("libudev")) {
		// The binary header has variable length; resync on the NUL that
		// immediately precedes the ACTION@KOBJ token.
		start := -1
		for i := 0; i < len(data)-1; i++ {
			if data[i] != 0 {
				continue
			}
			rest := data[i+1:]
			end := bytes.IndexByte(rest, 0)
			if end < 0 {
				end = len(rest)
			}
			if at := bytes.IndexByte(rest[:end], '@'); at > 0 && isUEventAction(rest[:at]) {
				start = i + 1
				break
			}
		}
		if start < 0 {
			return nil
		}
		data = data[start:]
	}

	parts := bytes.Split(data, []byte{0})
	if len(parts) < 1 || len(parts[0]) == 0 {
		return nil
	}

	header := string(parts[0])
	atIdx := strings.Index(header, "@")
	if atIdx < 1 {
		return nil
	}

	event := &Event{
		Action: header[:atIdx],
		KObj:   header[atIdx+1:],
		Env:    make(map[string]string),
	}

	for _, part := range parts[1:] {
		if len(part) == 0 {
			continue
		}
		kv := string(part)
		eqIdx := strings.Index(kv, "=")
		if eqIdx < 1 {
			continue
		}
		key, value := kv[:eqIdx], kv[eqIdx+1:]
		event.Env[key] = value

		switch key {
		case "SUBSYSTEM":
			event.Subsystem = value
		case "DEVNAME":
			event.DevName = value
		case "DEVPATH":
			event.DevPath = value
		}
	}

	return event
}

// isUEventAction reports whether b looks like a kernel uevent action token
// (add, remove, change, bind, ...): lowercase letters only.
func isUEventAction(b []byte) bool {
	if len(b) == 0 {
		return false
	}
	for _, c := range b {
		if c < 'a' || c > 'z' {
			return false
		}
	}
	return true
}

// Watcher forwards capture-relevant kernel events onto the event bus.
type Watcher struct {
	monitor *Monitor
	bus     *events.Bus
	logger  *slog.Logger
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewWatcher creates a watcher filtered to the subsystems a capture dongle
// lives in.
func NewWatcher(bus *events.Bus, logger *slog.Logger) (*Watcher, error) {
	monitor, err := NewMonitor()
	if err != nil {
		return nil, err
	}
	monitor.AddSubsystemFilter(SubsystemVideo4Linux)
	monitor.AddSubsystemFilter(SubsystemSound)
	monitor.AddSubsystemFilter(SubsystemUSB)
	return &Watcher{monitor: monitor, bus: bus, logger: logger}, nil
}

// Start begins republishing events in a background goroutine.
func (w *Watcher) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel
	w.done = make(chan struct{})

	ch := make(chan Event, 16)
	go func() {
		if err := w.monitor.Run(ctx, ch); err != nil && !errors.Is(err, context.Canceled) {
			w.logger.Warn("Hotplug monitor stopped", "error", err)
		}
	}()
	go func() {
		defer close(w.done)
		for event := range ch {
			w.logger.Debug("Device event",
				"action", event.Action, "subsystem", event.Subsystem, "devname", event.DevName)
			w.bus.Publish(events.DeviceHotplugEvent{
				Action:    event.Action,
				Subsystem: event.Subsystem,
				DevPath:   devNodePath(event.DevName),
				KObj:      event.KObj,
				Timestamp: time.Now().Format(time.RFC3339Nano),
			})
		}
	}()
}

// Stop cancels the monitor and waits for the pump to drain.
func (w *Watcher) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.monitor.Close()
	if w.done != nil {
		<-w.done
	}
}

// devNodePath converts a uevent DEVNAME like "video0" to "/dev/video0".
// Some events carry an absolute name already.
func devNodePath(devName string) string {
	if devName == "" || strings.HasPrefix(devName, "/") {
		return devName
	}
	return "/dev/" + devName
}
