package main

import (
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/hrmtools/hrmflash/pkg/flasher"
)

var eraseCmd = &cobra.Command{
	Use:   "erase",
	Short: "Erase the whole user flash area",
	Long: `Erases every block of the user flash area of a bootloader-mode device
without programming anything. The device will no longer boot its
application firmware until reflashed.`,
	Args: cobra.ExactArgs(0),
	RunE: func(cmd *cobra.Command, args []string) error {
		opener, err := newOpener()
		if err != nil {
			return err
		}
		defer opener.Close()

		var progress io.Writer
		if !flagQuiet {
			progress = os.Stdout
		}
		cfg := flasher.Config{
			Attempts:   int(flagWait),
			RetryDelay: time.Second,
			Progress:   progress,
		}
		if err := flasher.Erase(cmd.Context(), opener, cfg); err != nil {
			return err
		}
		slog.Info("Erase complete")
		return nil
	},
}
