package devices

import (
	"github.com/google/gousb"
)

// Mode is one of the two USB personalities the HC908JB8 presents: the ICP
// bootloader resident code, or the HID application firmware.
type Mode string

const (
	// ICP is the In-Circuit Programming bootloader. It accepts raw vendor
	// erase/program/status control transfers.
	ICP Mode = "icp"
	// HID is the application firmware. The only thing we ever ask of it is
	// to clear its ICP flag and drop back into the bootloader.
	HID Mode = "hid"
)

func (m Mode) String() string {
	switch m {
	case ICP:
		return "ICP (bootloader)"
	case HID:
		return "HID (application)"
	}
	return "UNKNOWN"
}

// Description ties a Mode to the VID/PID pair the device enumerates with
// while in that mode.
type Description struct {
	VID, PID gousb.ID
	Mode     Mode
}

var Descriptions = map[Mode]Description{
	ICP: {
		VID:  0x0425,
		PID:  0xff01,
		Mode: ICP,
	},
	HID: {
		VID:  0x0c74,
		PID:  0x4008,
		Mode: HID,
	},
}
