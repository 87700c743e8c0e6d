package config

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

// Settings holds the encoder and device tuning loaded from the TOML config.
// These are the values a Watcher reloads at runtime; flags that change process
// identity (ports, device overrides) live on the CLI options instead.
type Settings struct {
	Video  VideoSettings  `toml:"video"`
	Audio  AudioSettings  `toml:"audio"`
	Repair RepairSettings `toml:"repair"`
}

// VideoSettings tunes the H.264 encoding stage.
type VideoSettings struct {
	// BitrateKbps is the x264 target bitrate in kilobits per second.
	BitrateKbps int `toml:"bitrate_kbps"`
	// KeyframeInterval is the maximum frame distance between keyframes.
	KeyframeInterval int `toml:"keyframe_interval"`
	// SpeedPreset is the x264 speed/quality preset name.
	SpeedPreset string `toml:"speed_preset"`
	// Threads caps encoder threads; capture boxes are usually small.
	Threads int `toml:"threads"`
}

// AudioSettings tunes audio capture and encoding.
type AudioSettings struct {
	// ForceCard pins the ALSA card index, bypassing topology pairing.
	// -1 means pair by USB topology.
	ForceCard int `toml:"force_card"`
	// Disabled drops audio from the pipeline entirely.
	Disabled bool `toml:"disabled"`
	// BitrateBps is the AAC bitrate in bits per second.
	BitrateBps int `toml:"bitrate_bps"`
}

// RepairSettings tunes stuck-device recovery.
type RepairSettings struct {
	// SettleMillis is the pause after a format reset before re-validation.
	SettleMillis int `toml:"settle_millis"`
}

// DefaultSettings returns the tuning used when no config file is present.
func DefaultSettings() Settings {
	return Settings{
		Video: VideoSettings{
			BitrateKbps:      3000,
			KeyframeInterval: 30,
			SpeedPreset:      "veryfast",
			Threads:          1,
		},
		Audio: AudioSettings{
			ForceCard:  -1,
			BitrateBps: 128000,
		},
		Repair: RepairSettings{
			SettleMillis: 200,
		},
	}
}

// LoadSettings reads tuning from a TOML file, filling in defaults for any
// table that is absent. A missing file is not an error.
func LoadSettings(path string) (Settings, error) {
	settings := DefaultSettings()
	if path == "" {
		return settings, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return settings, nil
		}
		return settings, fmt.Errorf("read settings: %w", err)
	}

	if err := toml.Unmarshal(data, &settings); err != nil {
		return DefaultSettings(), fmt.Errorf("parse settings: %w", err)
	}

	if settings.Video.BitrateKbps <= 0 {
		settings.Video.BitrateKbps = 3000
	}
	if settings.Video.KeyframeInterval <= 0 {
		settings.Video.KeyframeInterval = 30
	}
	if settings.Video.SpeedPreset == "" {
		settings.Video.SpeedPreset = "veryfast"
	}
	if settings.Video.Threads <= 0 {
		settings.Video.Threads = 1
	}
	if settings.Audio.BitrateBps <= 0 {
		settings.Audio.BitrateBps = 128000
	}
	if settings.Repair.SettleMillis <= 0 {
		settings.Repair.SettleMillis = 200
	}

	return settings, nil
}
