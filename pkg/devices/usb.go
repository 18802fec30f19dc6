package devices

import (
	"errors"
	"time"
)

// Usb describes a common API to access the HC908JB8 (in either mode - ICP
// bootloader or HID application) over USB.
type Usb interface {
	// UseDefaultInterface requests the underlying provider to grant access to
	// control transfers to the default interface of configuration 1. This is
	// all of our interactions with the device.
	UseDefaultInterface() error

	// Control sends a control request to the device.
	Control(rType, request uint8, val, idx uint16, data []byte) (int, error)

	// ClearHalt clears a halted/stalled condition on the given endpoint. The
	// application firmware tends to leave endpoint 0 stalled after
	// enumeration, so this is issued before the mode-switch transfer.
	ClearHalt(endpoint uint8) error

	SetControlTimeout(time.Duration) error

	// Close disposes of this device. No other functions may be called on the
	// interface afterwards.
	Close() error
}

var UsbTimeoutError = errors.New("USB timeout error")
