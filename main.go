package main

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/danielgtaylor/huma/v2/humacli"
	"github.com/smazurov/hdmistream/cmd"
	"github.com/smazurov/hdmistream/internal/alsa"
	"github.com/smazurov/hdmistream/internal/config"
	"github.com/smazurov/hdmistream/internal/events"
	"github.com/smazurov/hdmistream/internal/hotplug"
	"github.com/smazurov/hdmistream/internal/logging"
	"github.com/smazurov/hdmistream/internal/metrics"
	"github.com/smazurov/hdmistream/internal/resolver"
	"github.com/smazurov/hdmistream/internal/server"
	"github.com/smazurov/hdmistream/internal/singleton"
	"github.com/smazurov/hdmistream/internal/supervisor"
	"github.com/smazurov/hdmistream/internal/usb"
	"github.com/smazurov/hdmistream/internal/v4l2"
	"github.com/smazurov/hdmistream/internal/window"
)

// Options for the CLI - flat structure with toml mapping.
type Options struct {
	Config string `help:"Path to configuration file" short:"c" default:"config.toml"`

	// Server settings
	Port string `help:"Status API listen address" short:"p" default:":8090" toml:"server.port" env:"SERVER_PORT"`

	// Device selection
	Device        string `help:"Pin a specific /dev/video node instead of scanning" default:"" toml:"video.device" env:"VIDEO_DEVICE"`
	AudioCard     int    `help:"Force an ALSA card index (-1 pairs by USB topology)" default:"-1" toml:"audio.card" env:"AUDIO_CARD"`
	AudioDisabled bool   `help:"Stream without audio" default:"false" toml:"audio.disabled" env:"AUDIO_DISABLED"`
	AudioOnly     bool   `help:"Stream audio only, no video branch" default:"false" toml:"audio.only" env:"AUDIO_ONLY"`

	// Preview window settings
	Headless   bool   `help:"Disable the local preview window" default:"false" toml:"window.headless" env:"WINDOW_HEADLESS"`
	PreviewURL string `help:"Stream URL the preview window plays" default:"rtsp://127.0.0.1:8554/hdmi" toml:"window.preview_url" env:"WINDOW_PREVIEW_URL"`

	// Logging settings
	LoggingLevel      string `help:"Global logging level (debug, info, warn, error)" default:"info" toml:"logging.level" env:"LOGGING_LEVEL"`
	LoggingFormat     string `help:"Logging format (text, json)" default:"text" toml:"logging.format" env:"LOGGING_FORMAT"`
	LoggingDevices    string `help:"Device probing logging level" default:"info" toml:"logging.devices" env:"LOGGING_DEVICES"`
	LoggingResolver   string `help:"Resolver logging level" default:"info" toml:"logging.resolver" env:"LOGGING_RESOLVER"`
	LoggingSupervisor string `help:"Supervisor logging level" default:"info" toml:"logging.supervisor" env:"LOGGING_SUPERVISOR"`
	LoggingPipeline   string `help:"Pipeline output logging level" default:"info" toml:"logging.pipeline" env:"LOGGING_PIPELINE"`
	LoggingAPI        string `help:"API logging level" default:"info" toml:"logging.api" env:"LOGGING_API"`
	LoggingHotplug    string `help:"Hotplug monitor logging level" default:"info" toml:"logging.hotplug" env:"LOGGING_HOTPLUG"`
	LoggingWindow     string `help:"Preview window logging level" default:"info" toml:"logging.window" env:"LOGGING_WINDOW"`
}

func main() {
	var cli humacli.CLI
	cli = humacli.New(func(hooks humacli.Hooks, opts *Options) {
		// Load configuration automatically
		if loadErr := config.LoadConfig(opts, cli.Root()); loadErr != nil {
			slog.Warn("Failed to load config", "error", loadErr)
		}

		// Initialize logging system
		logging.Initialize(logging.Config{
			Level:  opts.LoggingLevel,
			Format: opts.LoggingFormat,
			Modules: map[string]string{
				"devices":    opts.LoggingDevices,
				"resolver":   opts.LoggingResolver,
				"supervisor": opts.LoggingSupervisor,
				"pipeline":   opts.LoggingPipeline,
				"api":        opts.LoggingAPI,
				"hotplug":    opts.LoggingHotplug,
				"window":     opts.LoggingWindow,
			},
		})

		logger := logging.GetLogger("main")

		// Encoder tuning is reloadable; the current snapshot applies on the
		// next pipeline build, never mid-flight.
		var settingsMu sync.RWMutex
		settings, settingsErr := config.LoadSettings(opts.Config)
		if settingsErr != nil {
			logger.Warn("Failed to load settings, using defaults", "error", settingsErr)
		}
		currentSettings := func() config.Settings {
			settingsMu.RLock()
			defer settingsMu.RUnlock()
			return settings
		}

		settingsWatcher := config.NewWatcher(opts.Config, config.LoadSettings, logging.GetLogger("config"))
		settingsWatcher.OnReload(func(next config.Settings) {
			settingsMu.Lock()
			settings = next
			settingsMu.Unlock()
			logger.Info("Settings reloaded, applied on next pipeline build")
		})
		if watchErr := settingsWatcher.Start(); watchErr != nil {
			logger.Warn("Config watcher unavailable", "error", watchErr)
		}

		// Create event bus for in-process event handling
		eventBus := events.New()

		// Prometheus metrics double as the supervisor's lifecycle observer.
		met := metrics.New()
		eventBus.Subscribe(func(ev events.DeviceResolvedEvent) {
			met.SetDevice(ev.VideoPath, ev.UsbAddress, ev.AudioCard)
			met.RecordResolution("success")
		})

		res := resolver.New(
			v4l2.NewClient(logging.GetLogger("devices")),
			usb.NewTopology(logging.GetLogger("devices")),
			alsa.NewClient(logging.GetLogger("devices")),
			eventBus,
			logging.GetLogger("resolver"),
		)

		sup := supervisor.New(res, nil, eventBus, met, logging.GetLogger("supervisor"))

		// Tear down the pipeline when the resolved capture device is yanked
		// instead of waiting for the stream to starve.
		eventBus.Subscribe(func(ev events.DeviceHotplugEvent) {
			if ev.Action != "remove" || ev.DevPath == "" {
				return
			}
			if ev.DevPath == sup.Resolved().VideoPath {
				sup.Fault("capture device " + ev.DevPath + " removed")
			}
		})

		hotplugWatcher, hotplugErr := hotplug.NewWatcher(eventBus, logging.GetLogger("hotplug"))
		if hotplugErr != nil {
			logger.Warn("Hotplug monitoring unavailable", "error", hotplugErr)
		}

		var preview *window.Manager
		if !opts.Headless {
			preview = window.NewManager(opts.PreviewURL, logging.GetLogger("window"))
		}

		notify := func(state string) {
			switch state {
			case "ready":
				_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)
				if preview != nil {
					if startErr := preview.Start(); startErr != nil {
						logger.Warn("Preview window failed to start", "error", startErr)
						preview = nil
					}
				}
			case "stopping":
				_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
				if preview != nil {
					preview.Stop()
					preview = nil
				}
			}
		}

		statusServer := server.New(server.Options{
			Supervisor:     sup,
			Bus:            eventBus,
			MetricsHandler: met.Handler(),
		})

		guard := singleton.New(logger)

		ctx, cancel := context.WithCancel(context.Background())

		hooks.OnStart(func() {
			// Competing instances and orphaned pipelines go first; they hold
			// the very device about to be resolved.
			if excErr := guard.EnsureExclusive(ctx, filepath.Base(os.Args[0])); excErr != nil {
				logger.Error("Singleton enforcement failed", "error", excErr)
				os.Exit(supervisor.ExitStartupErr)
			}

			if hotplugWatcher != nil {
				hotplugWatcher.Start()
			}

			go func() {
				logger.Info("Starting status server", "port", opts.Port)
				if serveErr := statusServer.Start(opts.Port); serveErr != nil {
					logger.Error("Status server failed", "error", serveErr)
				}
			}()

			code := sup.Run(ctx, supervisor.Options{
				Resolver: resolver.Options{
					PreferredDevice: opts.Device,
					ForceAudioCard:  forcedCard(opts, currentSettings()),
					DisableAudio:    opts.AudioDisabled || currentSettings().Audio.Disabled,
					RepairSettle:    time.Duration(currentSettings().Repair.SettleMillis) * time.Millisecond,
				},
				AudioOnly: opts.AudioOnly,
				Settings:  currentSettings,
				Notify:    notify,
			})

			if stopErr := statusServer.Stop(); stopErr != nil {
				logger.Error("Error stopping status server", "error", stopErr)
			}
			if hotplugWatcher != nil {
				hotplugWatcher.Stop()
			}
			if watchStopErr := settingsWatcher.Stop(); watchStopErr != nil {
				logger.Warn("Error stopping config watcher", "error", watchStopErr)
			}

			if code != supervisor.ExitClean {
				os.Exit(code)
			}
		})

		hooks.OnStop(func() {
			logger.Info("Shutdown requested")
			cancel()
		})
	})

	cli.Root().AddCommand(cmd.CreateDevicesCmd())
	cli.Root().AddCommand(cmd.CreateResolveCmd())
	cli.Root().AddCommand(cmd.CreateResetWindowCmd())
	cli.Root().AddCommand(cmd.CreateUpdateCmd())

	// Run the CLI
	cli.Run()
}

// forcedCard merges the CLI pin with the config file pin; the CLI wins.
func forcedCard(opts *Options, settings config.Settings) int {
	if opts.AudioCard != resolver.NoAudioCard {
		return opts.AudioCard
	}
	return settings.Audio.ForceCard
}
