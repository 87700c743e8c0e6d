package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/smazurov/hdmistream/internal/alsa"
	"github.com/smazurov/hdmistream/internal/logging"
	"github.com/smazurov/hdmistream/internal/usb"
	"github.com/smazurov/hdmistream/internal/v4l2"
	"github.com/spf13/cobra"
)

// CreateDevicesCmd creates the devices command.
func CreateDevicesCmd() *cobra.Command {
	var logLevel string

	cmd := &cobra.Command{
		Use:   "devices",
		Short: "Probe capture device candidates",
		Long: `Enumerates /dev/video* nodes belonging to USB capture adapters and probes ` +
			`each one: capture capability, advertised resolution, MJPEG support, USB ` +
			`address, and sound cards sharing that address.`,
		Run: func(_ *cobra.Command, _ []string) {
			logging.Initialize(logging.Config{Level: logLevel, Format: "text"})
			logger := logging.GetLogger("devices")

			ctx := context.Background()
			video := v4l2.NewClient(logger)
			topo := usb.NewTopology(logger)
			audio := alsa.NewClient(logger)

			candidates, err := video.ListCandidates(ctx)
			if err != nil {
				fmt.Fprintf(os.Stderr, "list devices: %v\n", err)
				os.Exit(1)
			}
			if len(candidates) == 0 {
				fmt.Println("no capture adapter found")
				return
			}

			for _, path := range candidates {
				capability, probeErr := video.Probe(ctx, path)
				if probeErr != nil {
					fmt.Printf("%s\n  unusable: %v\n", path, probeErr)
					continue
				}
				fmt.Printf("%s\n", path)
				fmt.Printf("  capture: %v\n", capability.HasCapture)
				fmt.Printf("  expected resolution: %s\n", capability.ExpectedResolution)
				fmt.Printf("  mjpeg: %v\n", capability.SupportsMJPEG)

				addr, addrErr := topo.AddressOf(path)
				if addrErr != nil {
					fmt.Printf("  usb address: unknown (%v)\n", addrErr)
					continue
				}
				fmt.Printf("  usb address: %s\n", addr)

				cards, cardErr := topo.MatchAudioCards(addr)
				if cardErr != nil || len(cards) == 0 {
					fmt.Println("  audio cards: none")
					continue
				}
				for _, card := range cards {
					fmt.Printf("  audio card %d (%s): capture=%v\n",
						card, audio.CardID(card), audio.HasCaptureDevice(card))
				}
			}
		},
	}

	cmd.Flags().StringVar(&logLevel, "log-level", "warn", "Logging level during probing")
	return cmd
}
