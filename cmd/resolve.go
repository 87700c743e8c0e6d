package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/smazurov/hdmistream/internal/alsa"
	"github.com/smazurov/hdmistream/internal/config"
	"github.com/smazurov/hdmistream/internal/logging"
	"github.com/smazurov/hdmistream/internal/pipeline"
	"github.com/smazurov/hdmistream/internal/resolver"
	"github.com/smazurov/hdmistream/internal/usb"
	"github.com/smazurov/hdmistream/internal/v4l2"
	"github.com/spf13/cobra"
)

// CreateResolveCmd creates the resolve command.
func CreateResolveCmd() *cobra.Command {
	var (
		configFile string
		device     string
		audioCard  int
		noAudio    bool
		audioOnly  bool
	)

	cmd := &cobra.Command{
		Use:   "resolve",
		Short: "Resolve the capture device without streaming",
		Long: `Runs one full resolution pass (probe, stream test, audio pairing) and prints ` +
			`the selected devices and the pipeline that would be launched. The device is ` +
			`validated but no stream is started.`,
		Run: func(_ *cobra.Command, _ []string) {
			logging.Initialize(config.LoadLoggingConfig(configFile))
			logger := logging.GetLogger("resolver")

			settings, err := config.LoadSettings(configFile)
			if err != nil {
				logger.Warn("Failed to load settings, using defaults", "error", err)
			}

			res := resolver.New(
				v4l2.NewClient(logging.GetLogger("devices")),
				usb.NewTopology(logging.GetLogger("devices")),
				alsa.NewClient(logging.GetLogger("devices")),
				nil,
				logger,
			)

			opts := resolver.Options{
				PreferredDevice: device,
				ForceAudioCard:  audioCard,
				DisableAudio:    noAudio || settings.Audio.Disabled,
				RepairSettle:    time.Duration(settings.Repair.SettleMillis) * time.Millisecond,
			}
			if opts.ForceAudioCard == resolver.NoAudioCard {
				opts.ForceAudioCard = settings.Audio.ForceCard
			}

			resolved, err := res.Resolve(context.Background(), opts)
			if err != nil {
				fmt.Fprintf(os.Stderr, "resolution failed: %v\n", err)
				os.Exit(1)
			}

			fmt.Printf("video:       %s\n", resolved.VideoPath)
			fmt.Printf("usb address: %s\n", resolved.UsbAddress)
			if resolved.HasAudio() {
				fmt.Printf("audio card:  %d\n", resolved.AudioCard)
			} else {
				fmt.Println("audio card:  none")
			}
			fmt.Printf("mjpeg:       %v\n", resolved.SupportsMJPEG)

			spec, buildErr := pipeline.Build(resolved, settings, audioOnly)
			if buildErr != nil {
				fmt.Fprintf(os.Stderr, "pipeline build failed: %v\n", buildErr)
				os.Exit(1)
			}
			fmt.Printf("mode:        %s\n", spec.Mode)
			fmt.Printf("pipeline:    %s\n", spec.Render())
		},
	}

	cmd.Flags().StringVarP(&configFile, "config", "c", "config.toml", "Path to configuration file")
	cmd.Flags().StringVar(&device, "device", "", "Pin a specific /dev/video node instead of scanning")
	cmd.Flags().IntVar(&audioCard, "audio-card", resolver.NoAudioCard, "Force an ALSA card index")
	cmd.Flags().BoolVar(&noAudio, "no-audio", false, "Skip audio pairing")
	cmd.Flags().BoolVar(&audioOnly, "audio-only", false, "Build an audio-only pipeline")
	return cmd
}
