// Package hid talks to the HC908JB8 application firmware, whose only role
// in flashing is to clear its ICP flag and reboot into the bootloader when
// asked with the right key pair.
package hid

import (
	"fmt"

	"github.com/hrmtools/hrmflash/pkg/devices"
)

// HID class SetFeature, directed at the interface.
const (
	requestTypeSetFeature = 0x21
	requestSetFeature     = 0x09
)

// scratchLen is the payload size of the SetFeature report. The firmware
// ignores the contents; the keys ride in wValue and wIndex.
const scratchLen = 8

// Switch asks an application-mode device to clear its ICP flag and drop
// into the bootloader. The keys are firmware-specific and act as a guard
// against accidental reflashing. The device re-enumerates under the ICP
// identity shortly after, so usb is unusable once this returns.
//
// Endpoint 0 is unstalled first: the application firmware routinely leaves
// it halted after enumeration and would NAK the SetFeature otherwise.
func Switch(usb devices.Usb, key1, key2 uint16) error {
	if err := usb.ClearHalt(0); err != nil {
		return fmt.Errorf("clearing endpoint halt: %w", err)
	}

	scratch := make([]byte, scratchLen)
	if _, err := usb.Control(requestTypeSetFeature, requestSetFeature, key1, key2, scratch); err != nil {
		return fmt.Errorf("set feature transfer: %w", err)
	}
	return nil
}
