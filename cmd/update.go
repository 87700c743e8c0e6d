package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/smazurov/hdmistream/internal/logging"
	"github.com/smazurov/hdmistream/internal/updater"
	"github.com/smazurov/hdmistream/internal/version"
	"github.com/spf13/cobra"
)

// CreateUpdateCmd creates the update command.
func CreateUpdateCmd() *cobra.Command {
	var checkOnly bool

	cmd := &cobra.Command{
		Use:   "update",
		Short: "Update to the latest released binary",
		Long:  `Checks GitHub releases for a newer version and replaces the running binary in place.`,
		Run: func(_ *cobra.Command, _ []string) {
			logging.Initialize(logging.Config{Level: "info", Format: "text"})

			u, err := updater.New()
			if err != nil {
				fmt.Fprintf(os.Stderr, "updater unavailable: %v\n", err)
				os.Exit(1)
			}

			ctx := context.Background()
			release, err := u.Check(ctx)
			if err != nil {
				fmt.Fprintf(os.Stderr, "update check failed: %v\n", err)
				os.Exit(1)
			}
			if release == nil {
				fmt.Printf("already up to date (%s)\n", version.String())
				return
			}
			if checkOnly {
				fmt.Printf("update available: %s -> %s\n", version.String(), release.Version())
				return
			}

			if err := u.Apply(ctx, release); err != nil {
				fmt.Fprintf(os.Stderr, "update failed: %v\n", err)
				os.Exit(1)
			}
			fmt.Printf("updated to %s\n", release.Version())
		},
	}

	cmd.Flags().BoolVar(&checkOnly, "check", false, "Only check for a newer release")
	return cmd
}
