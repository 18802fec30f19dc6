// Package flasher sequences one full flashing run: an optional HID-mode
// switch, the wait for the bootloader to enumerate, S19 parsing, ICP flag
// reconciliation, erase and program. All failures are terminal; the only
// retry anywhere is the bounded device-presence wait, because a failed
// transfer can leave the flash half-written and retrying would only paper
// over that.
package flasher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/golang/glog"

	"github.com/hrmtools/hrmflash/pkg/devices"
	"github.com/hrmtools/hrmflash/pkg/hid"
	"github.com/hrmtools/hrmflash/pkg/icp"
	"github.com/hrmtools/hrmflash/pkg/image"
	"github.com/hrmtools/hrmflash/pkg/srec"
)

// Opener opens and configures a session for one device mode. The returned
// session is ready for control transfers. Open reports devices.ErrNotFound
// when nothing matching the identity is attached, and a
// *devices.ConfigurationError when the device was found but could not be
// configured.
type Opener interface {
	Open(mode devices.Mode) (devices.Usb, error)
}

// Keys is the pair of firmware-specific values that authorize a mode
// switch out of the application firmware.
type Keys struct {
	Key1, Key2 uint16
}

type Config struct {
	// Keys, when non-nil, triggers the HID mode-switch step before the
	// bootloader wait.
	Keys *Keys

	// Attempts and RetryDelay bound the wait for the bootloader identity to
	// enumerate. The reference budget is 30 attempts, one second apart,
	// which covers a manual unplug/replug cycle.
	Attempts   int
	RetryDelay time.Duration

	// Timing overrides the flash settle delays; zero means icp.DefaultTiming.
	Timing icp.Timing

	// Progress, when non-nil, receives per-block progress output and the
	// replug countdown banner.
	Progress io.Writer
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.Attempts == 0 {
		out.Attempts = 30
	}
	if out.RetryDelay == 0 {
		out.RetryDelay = time.Second
	}
	if out.Timing == (icp.Timing{}) {
		out.Timing = icp.DefaultTiming
	}
	return out
}

func (c *Config) printf(format string, args ...any) {
	if c.Progress != nil {
		fmt.Fprintf(c.Progress, format, args...)
	}
}

// Run performs one complete flashing run of the S19 file at path. On error
// the flash may be partially erased or programmed; the only remediation is
// a full re-run.
func Run(ctx context.Context, opener Opener, path string, cfg Config) error {
	cfg = cfg.withDefaults()

	if cfg.Keys != nil {
		if err := ModeSwitch(opener, *cfg.Keys); err != nil {
			return err
		}
	}

	usb, err := awaitDevice(ctx, opener, &cfg)
	if err != nil {
		return err
	}
	defer usb.Close()

	img, err := parseImage(path)
	if err != nil {
		return err
	}

	if patched, flag := img.ReconcileFlag(); patched {
		glog.Infof("ICP flag patched to 0x%04X", flag)
		cfg.printf("\nNOTE: Fixing ICP flag value automatically (-> 0x%04X)\n", flag)
	}

	prog := icp.Programmer{
		Usb:      usb,
		Timing:   cfg.Timing,
		Progress: cfg.Progress,
	}
	if err := prog.EraseAll(); err != nil {
		return fatal(CodeEraseFailed, err)
	}
	if err := prog.ProgramAll(img); err != nil {
		return fatal(CodeProgramFailed, err)
	}
	return nil
}

// Erase erases the whole flash window of a present bootloader-mode device
// without programming anything afterwards.
func Erase(ctx context.Context, opener Opener, cfg Config) error {
	cfg = cfg.withDefaults()
	usb, err := awaitDevice(ctx, opener, &cfg)
	if err != nil {
		return err
	}
	defer usb.Close()

	prog := icp.Programmer{
		Usb:      usb,
		Timing:   cfg.Timing,
		Progress: cfg.Progress,
	}
	if err := prog.EraseAll(); err != nil {
		return fatal(CodeEraseFailed, err)
	}
	return nil
}

// ModeSwitch opens the application-mode identity and asks it to reboot
// into the bootloader. Its session is closed unconditionally; the device is
// about to re-enumerate anyway.
func ModeSwitch(opener Opener, keys Keys) error {
	usb, err := opener.Open(devices.HID)
	if err != nil {
		return fatal(CodeModeSwitchFailed, err)
	}
	defer usb.Close()
	if err := hid.Switch(usb, keys.Key1, keys.Key2); err != nil {
		return fatal(CodeModeSwitchFailed, err)
	}
	return nil
}

// awaitDevice polls for the bootloader identity until it opens, the attempt
// budget runs out, or ctx is cancelled. This covers both the re-enumeration
// after a mode switch and a manual power cycle.
func awaitDevice(ctx context.Context, opener Opener, cfg *Config) (devices.Usb, error) {
	var last error
	for attempt := cfg.Attempts; attempt > 0; attempt-- {
		usb, err := opener.Open(devices.ICP)
		if err == nil {
			cfg.printf("\r%60s\r", "")
			return usb, nil
		}
		last = err
		glog.V(1).Infof("bootloader not ready (%d attempts left): %v", attempt-1, err)
		cfg.printf("\r>>> Unplug and Replug the device in %d seconds... <<<", attempt)

		select {
		case <-ctx.Done():
			return nil, fatal(CodeDeviceNotFound, ctx.Err())
		case <-time.After(cfg.RetryDelay):
		}
	}

	var ce *devices.ConfigurationError
	if errors.As(last, &ce) {
		return nil, fatal(CodeUsbConfiguration, last)
	}
	return nil, fatal(CodeDeviceNotFound, last)
}

func parseImage(path string) (*image.Image, error) {
	img, err := srec.Parse(path)
	if err != nil {
		return nil, fatal(CodeFileNotFound, err)
	}
	return img, nil
}
