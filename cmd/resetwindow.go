package cmd

import (
	"fmt"
	"os"

	"github.com/smazurov/hdmistream/internal/logging"
	"github.com/smazurov/hdmistream/internal/window"
	"github.com/spf13/cobra"
)

// CreateResetWindowCmd creates the reset-window command.
func CreateResetWindowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset-window",
		Short: "Forget the saved preview window geometry",
		Long: `Deletes the persisted preview window position and size so the next run ` +
			`opens the preview with window-manager defaults.`,
		Run: func(_ *cobra.Command, _ []string) {
			logging.Initialize(logging.Config{Level: "warn", Format: "text"})
			manager := window.NewManager("", logging.GetLogger("window"))
			if err := manager.ResetState(); err != nil {
				fmt.Fprintf(os.Stderr, "reset window state: %v\n", err)
				os.Exit(1)
			}
			fmt.Println("window state cleared")
		},
	}
}
