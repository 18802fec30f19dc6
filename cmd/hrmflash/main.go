package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/hrmtools/hrmflash/pkg/flasher"
)

var rootCmd = &cobra.Command{
	Use:   "hrmflash",
	Short: "hrmflash is a USB ICP flashing tool for the HC908JB8",
	Long: `Programs S19 firmware images into the user flash area of a Freescale
(Motorola) HC908JB8 microcontroller over USB, using the ICP resident
bootloader from Freescale application note AN2398.

The application firmware must support the keyed HID SetFeature command to
clear its ICP flag; alternatively the device can be power-cycled into the
bootloader manually.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if flagVerbose {
			slog.SetLogLoggerLevel(slog.LevelDebug)
		}
	},
}

var (
	flagVerbose bool
	flagQuiet   bool
	flagTimeout uint
	flagWait    uint
)

func main() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "Enable verbose debug logging")
	rootCmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "Suppress per-block progress output")
	rootCmd.PersistentFlags().UintVarP(&flagTimeout, "timeout", "t", 10, "Control transfer timeout in seconds")
	rootCmd.PersistentFlags().UintVarP(&flagWait, "wait", "w", 30, "Seconds to wait for the bootloader to enumerate")
	flashCmd.Flags().BoolVar(&flashSaveKeys, "save-keys", false, "Remember the given mode-switch keys for later runs")
	flashCmd.Flags().BoolVar(&flashUseSavedKeys, "use-saved-keys", false, "Use previously saved mode-switch keys when none are given")
	infoCmd.Flags().BoolVar(&infoStrict, "strict", false, "Verify per-record checksums while parsing")
	rootCmd.AddCommand(flashCmd)
	rootCmd.AddCommand(eraseCmd)
	rootCmd.AddCommand(switchCmd)
	rootCmd.AddCommand(infoCmd)
	rootCmd.AddCommand(detectCmd)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(flasher.ExitCode(err))
	}
}

func init() {
	pflag.CommandLine.AddGoFlagSet(flag.CommandLine)
}

// parseKey parses a 16-bit mode-switch key. Keys are conventionally quoted
// in hex, so bare digits are read as hex too; a 0x prefix is accepted.
func parseKey(s string) (uint16, error) {
	v, err := strconv.ParseUint(strings.TrimPrefix(strings.ToLower(s), "0x"), 16, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid key %q", s)
	}
	return uint16(v), nil
}
