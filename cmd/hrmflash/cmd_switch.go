package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/hrmtools/hrmflash/pkg/flasher"
)

var switchCmd = &cobra.Command{
	Use:   "switch KEY1 KEY2",
	Short: "Switch an application-mode device into the bootloader",
	Long: `Sends the keyed SetFeature command that makes the application firmware
clear its ICP flag and reboot into the bootloader. The device re-enumerates
under the bootloader identity a moment later.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		k1, err := parseKey(args[0])
		if err != nil {
			return err
		}
		k2, err := parseKey(args[1])
		if err != nil {
			return err
		}

		opener, err := newOpener()
		if err != nil {
			return err
		}
		defer opener.Close()

		if err := flasher.ModeSwitch(opener, flasher.Keys{Key1: k1, Key2: k2}); err != nil {
			return err
		}
		slog.Info("ICP flag cleared, device switching to bootloader")
		return nil
	},
}
