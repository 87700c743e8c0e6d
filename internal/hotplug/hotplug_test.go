//go:build linux

package hotplug

import (
	"bytes"
	"testing"
)

func uevent(header string, env ...string) []byte {
	parts := append([]string{header}, env...)
	return []byte(join(parts))
}

func join(parts []string) string {
	var buf bytes.Buffer
	for _, p := range parts {
		buf.WriteString(p)
		buf.WriteByte(0)
	}
	return buf.String()
}

func TestParseUEvent(t *testing.T) {
	t.Run("video device removal", func(t *testing.T) {
		data := uevent("remove@/devices/pci0000:00/usb1/1-2/1-2.1/video4linux/video0",
			"ACTION=remove",
			"DEVPATH=/devices/pci0000:00/usb1/1-2/1-2.1/video4linux/video0",
			"SUBSYSTEM=video4linux",
			"DEVNAME=video0",
			"SEQNUM=4711",
		)
		event := ParseUEvent(data)
		if event == nil {
			t.Fatal("ParseUEvent() = nil")
		}
		if event.Action != ActionRemove {
			t.Errorf("Action = %q, want remove", event.Action)
		}
		if event.Subsystem != SubsystemVideo4Linux {
			t.Errorf("Subsystem = %q, want video4linux", event.Subsystem)
		}
		if event.DevName != "video0" {
			t.Errorf("DevName = %q, want video0", event.DevName)
		}
		if event.Env["SEQNUM"] != "4711" {
			t.Errorf("Env[SEQNUM] = %q, want 4711", event.Env["SEQNUM"])
		}
	})

	t.Run("sound card add", func(t *testing.T) {
		data := uevent("add@/devices/usb1/1-2/sound/card1",
			"ACTION=add", "SUBSYSTEM=sound")
		event := ParseUEvent(data)
		if event == nil {
			t.Fatal("ParseUEvent() = nil")
		}
		if event.Action != ActionAdd || event.Subsystem != SubsystemSound {
			t.Errorf("event = %+v, want add/sound", event)
		}
	})

	t.Run("libudev header skipped", func(t *testing.T) {
		var data []byte
		data = append(data, []byte("libudev")...)
		data = append(data, 0, 0xfe, 0xed, 0xca, 0xfe, 0)
		data = append(data, uevent("add@/devices/usb1/1-2", "SUBSYSTEM=usb")...)
		event := ParseUEvent(data)
		if event == nil {
			t.Fatal("ParseUEvent() = nil for libudev-wrapped message")
		}
		if event.Action != "add" || event.Subsystem != "usb" {
			t.Errorf("event = %+v, want add/usb", event)
		}
	})

	t.Run("garbage rejected", func(t *testing.T) {
		for _, data := range [][]byte{nil, {}, []byte("no header here\x00KEY=VALUE")} {
			if event := ParseUEvent(data); event != nil {
				t.Errorf("ParseUEvent(%q) = %+v, want nil", data, event)
			}
		}
	})
}

func TestDevNodePath(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"video0", "/dev/video0"},
		{"/dev/video0", "/dev/video0"},
		{"snd/pcmC1D0c", "/dev/snd/pcmC1D0c"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := devNodePath(tt.in); got != tt.want {
			t.Errorf("devNodePath(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
