package config

import (
	"os"
	"path/filepath"
	"testing"
)

type testOptions struct {
	Config         string
	Device         string `toml:"device.path" env:"DEVICE"`
	AudioForceCard int    `toml:"audio.force_card" env:"AUDIO_FORCE_CARD"`
	Headless       bool   `toml:"window.headless" env:"HEADLESS"`
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadConfigPrecedence(t *testing.T) {
	path := writeConfig(t, `
[device]
path = "/dev/video2"

[audio]
force_card = 3

[window]
headless = true
`)

	t.Run("toml values applied", func(t *testing.T) {
		opts := testOptions{Config: path}
		if err := LoadConfig(&opts, nil); err != nil {
			t.Fatalf("LoadConfig() error = %v", err)
		}
		if opts.Device != "/dev/video2" {
			t.Errorf("Device = %q, want /dev/video2", opts.Device)
		}
		if opts.AudioForceCard != 3 {
			t.Errorf("AudioForceCard = %d, want 3", opts.AudioForceCard)
		}
		if !opts.Headless {
			t.Error("Headless = false, want true")
		}
	})

	t.Run("env overrides toml", func(t *testing.T) {
		t.Setenv("HDMISTREAM_DEVICE", "/dev/video5")
		t.Setenv("HDMISTREAM_AUDIO_FORCE_CARD", "1")
		opts := testOptions{Config: path}
		if err := LoadConfig(&opts, nil); err != nil {
			t.Fatalf("LoadConfig() error = %v", err)
		}
		if opts.Device != "/dev/video5" {
			t.Errorf("Device = %q, want /dev/video5", opts.Device)
		}
		if opts.AudioForceCard != 1 {
			t.Errorf("AudioForceCard = %d, want 1", opts.AudioForceCard)
		}
	})

	t.Run("missing file is not an error", func(t *testing.T) {
		opts := testOptions{Config: "/nonexistent/config.toml"}
		if err := LoadConfig(&opts, nil); err != nil {
			t.Fatalf("LoadConfig() error = %v", err)
		}
	})
}

func TestFieldNameToFlag(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Port", "port"},
		{"AudioForceCard", "audio-force-card"},
		{"Headless", "headless"},
	}
	for _, tt := range tests {
		if got := fieldNameToFlag(tt.in); got != tt.want {
			t.Errorf("fieldNameToFlag(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestLoadSettings(t *testing.T) {
	t.Run("defaults when file missing", func(t *testing.T) {
		settings, err := LoadSettings(filepath.Join(t.TempDir(), "absent.toml"))
		if err != nil {
			t.Fatalf("LoadSettings() error = %v", err)
		}
		if settings.Video.BitrateKbps != 3000 {
			t.Errorf("BitrateKbps = %d, want 3000", settings.Video.BitrateKbps)
		}
		if settings.Audio.ForceCard != -1 {
			t.Errorf("ForceCard = %d, want -1", settings.Audio.ForceCard)
		}
		if settings.Repair.SettleMillis != 200 {
			t.Errorf("SettleMillis = %d, want 200", settings.Repair.SettleMillis)
		}
	})

	t.Run("partial file keeps defaults elsewhere", func(t *testing.T) {
		path := writeConfig(t, "[video]\nbitrate_kbps = 4500\n")
		settings, err := LoadSettings(path)
		if err != nil {
			t.Fatalf("LoadSettings() error = %v", err)
		}
		if settings.Video.BitrateKbps != 4500 {
			t.Errorf("BitrateKbps = %d, want 4500", settings.Video.BitrateKbps)
		}
		if settings.Video.SpeedPreset != "veryfast" {
			t.Errorf("SpeedPreset = %q, want veryfast", settings.Video.SpeedPreset)
		}
		if settings.Audio.BitrateBps != 128000 {
			t.Errorf("BitrateBps = %d, want 128000", settings.Audio.BitrateBps)
		}
	})

	t.Run("invalid toml returns error with defaults", func(t *testing.T) {
		path := writeConfig(t, "not valid [toml")
		settings, err := LoadSettings(path)
		if err == nil {
			t.Fatal("LoadSettings() error = nil, want parse error")
		}
		if settings.Video.BitrateKbps != 3000 {
			t.Errorf("BitrateKbps = %d, want default 3000", settings.Video.BitrateKbps)
		}
	})
}
