package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/hrmtools/hrmflash/pkg/flasher"
	"github.com/hrmtools/hrmflash/pkg/keyring"
)

var (
	flashSaveKeys     bool
	flashUseSavedKeys bool
)

var flashCmd = &cobra.Command{
	Use:   "flash FILE.s19 [KEY1 KEY2]",
	Short: "Erase and program firmware from an S19 file",
	Long: `Erases the user flash area and programs the given S19 firmware image.

When KEY1 and KEY2 are given (hex), an application-mode device is first
asked to clear its ICP flag and reboot into the bootloader. Without keys,
the device must already be in ICP mode or be power-cycled into it while the
tool waits.`,
	Args: func(cmd *cobra.Command, args []string) error {
		if len(args) != 1 && len(args) != 3 {
			return fmt.Errorf("expected FILE.s19 or FILE.s19 KEY1 KEY2")
		}
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		keys, err := flashKeys(args)
		if err != nil {
			return err
		}

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
			Keys:       keys,
			Attempts:   int(flagWait),
			RetryDelay: time.Second,
			Progress:   progress,
		}

		if keys != nil {
			slog.Info("Clearing ICP flag", "key1", fmt.Sprintf("0x%04X", keys.Key1), "key2", fmt.Sprintf("0x%04X", keys.Key2))
		}
		if err := flasher.Run(cmd.Context(), opener, args[0], cfg); err != nil {
			return err
		}
		slog.Info("Flashing complete")
		return nil
	},
}

// flashKeys resolves the mode-switch keys for this run: from the command
// line, or from the keyring when --use-saved-keys is set and no keys were
// given. Keys given on the command line are persisted under --save-keys.
func flashKeys(args []string) (*flasher.Keys, error) {
	if len(args) == 3 {
		k1, err := parseKey(args[1])
		if err != nil {
			return nil, err
		}
		k2, err := parseKey(args[2])
		if err != nil {
			return nil, err
		}
		if flashSaveKeys {
			if err := keyring.Save(k1, k2); err != nil {
				slog.Warn("Could not save keys", "err", err)
			}
		}
		return &flasher.Keys{Key1: k1, Key2: k2}, nil
	}

	if !flashUseSavedKeys {
		return nil, nil
	}
	k1, k2, ok, err := keyring.Load()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("no saved keys; run once with KEY1 KEY2 and --save-keys")
	}
	return &flasher.Keys{Key1: k1, Key2: k2}, nil
}
