package main

import (
	"log/slog"

	"github.com/spf13/cobra"
)

var detectCmd = &cobra.Command{
	Use:   "detect",
	Short: "Report which mode the device is currently in",
	Args:  cobra.ExactArgs(0),
	RunE: func(cmd *cobra.Command, args []string) error {
		opener, err := newOpener()
		if err != nil {
			return err
		}
		defer opener.Close()

		usb, mode, err := opener.openAny()
		if err != nil {
			return err
		}
		defer usb.Close()

		slog.Info("Found device", "mode", mode.String())
		return nil
	},
}
