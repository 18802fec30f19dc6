// Package icp drives the HC908JB8 In-Circuit Programming protocol: vendor
// control transfers that erase and program the user flash area, each
// acknowledged by a one-byte status read.
package icp

import (
	"fmt"
	"io"
	"time"

	"github.com/golang/glog"

	"github.com/hrmtools/hrmflash/pkg/devices"
	"github.com/hrmtools/hrmflash/pkg/image"
)

// Vendor requests understood by the ICP resident code.
const (
	requestTypeOut   = 0x40
	requestTypeIn    = 0xC0
	RequestProgram   = 0x81
	RequestErase     = 0x82
	RequestGetStatus = 0x8F

	statusOK = 1
)

// Timing holds the settle delays the resident code needs between transfers.
// The delays are not optional: issuing the next transfer before the flash
// write completes corrupts the block being written.
type Timing struct {
	// Program is the wait after a program transfer, before its status read.
	Program time.Duration
	// Status is the wait after a status read, and on either side of an
	// erase status read.
	Status time.Duration
}

// DefaultTiming matches the reference host tool.
var DefaultTiming = Timing{
	Program: 70 * time.Millisecond,
	Status:  5 * time.Millisecond,
}

// Programmer issues erase and program sequences over an already opened and
// configured ICP-mode session. Progress, when non-nil, receives one symbol
// per block and a periodic address header; it is purely informational.
type Programmer struct {
	Usb      devices.Usb
	Timing   Timing
	Progress io.Writer
}

func New(usb devices.Usb) *Programmer {
	return &Programmer{
		Usb:    usb,
		Timing: DefaultTiming,
	}
}

func (p *Programmer) printf(format string, args ...any) {
	if p.Progress != nil {
		fmt.Fprintf(p.Progress, format, args...)
	}
}

// status reads the one-byte result of the immediately preceding erase or
// program transfer. Anything but a single 0x01 byte means the resident code
// rejected or failed the operation.
func (p *Programmer) status() error {
	buf := make([]byte, 1)
	res, err := p.Usb.Control(requestTypeIn, RequestGetStatus, 0, 0, buf)
	if err != nil {
		return fmt.Errorf("status control transfer: %w", err)
	}
	if res != 1 {
		return fmt.Errorf("status returned %d bytes", res)
	}
	if buf[0] != statusOK {
		return fmt.Errorf("device reported status 0x%02X", buf[0])
	}
	return nil
}

// eraseBlock erases the EraseBlockSize bytes starting at addr and confirms
// via a status read. The status byte reflects only the immediately
// preceding operation, so blocks must be erased one at a time.
func (p *Programmer) eraseBlock(addr uint32) error {
	_, err := p.Usb.Control(requestTypeOut, RequestErase, uint16(addr), uint16(addr+image.EraseBlockSize-1), nil)
	if err != nil {
		return fmt.Errorf("erase control transfer: %w", err)
	}

	time.Sleep(p.Timing.Status)
	if err := p.status(); err != nil {
		return err
	}
	time.Sleep(p.Timing.Status)
	return nil
}

// EraseAll erases every erase-granularity block of the flash window in
// ascending address order. The first failing block aborts the run; there is
// no per-block retry, since a failed erase leaves the flash state unknown.
func (p *Programmer) EraseAll() error {
	p.printf("\nERASING FLASH:\n======================\n")
	for addr := uint32(image.MemOffset); addr < image.MemOffset+image.MemSize; addr += image.EraseBlockSize {
		p.printf("\n0x%04X: ", addr)
		if err := p.eraseBlock(addr); err != nil {
			return fmt.Errorf("erasing block 0x%04X: %w", addr, err)
		}
		p.printf("EEEEEEEE")
	}
	p.printf("\n")
	return nil
}

// programBlock sends one ProgBlockSize payload and confirms it. The
// original host tool only ever checked the transfer length here due to a
// typo in its status condition; we check both the transfer length and the
// status byte, which is what the resident code's protocol calls for.
func (p *Programmer) programBlock(addr uint32, data []byte) error {
	res, err := p.Usb.Control(requestTypeOut, RequestProgram, uint16(addr), uint16(addr+image.ProgBlockSize-1), data)
	if err != nil {
		return fmt.Errorf("program control transfer: %w", err)
	}
	if res != image.ProgBlockSize {
		return fmt.Errorf("program transfer moved %d of %d bytes", res, image.ProgBlockSize)
	}

	time.Sleep(p.Timing.Program)
	if err := p.status(); err != nil {
		return err
	}
	time.Sleep(p.Timing.Status)
	return nil
}

// ProgramAll programs every non-empty program-granularity block of img in
// ascending address order. Blocks still fully erased are skipped; erase
// already put the flash in that state, and the resident code programs a
// 0xFF byte as a no-op anyway, so transmitting them only costs time.
func (p *Programmer) ProgramAll(img *image.Image) error {
	p.printf("\nPROGRAMMING FLASH:\n======================\n")
	l := 0
	for addr := uint32(image.MemOffset); addr < image.MemOffset+image.MemSize; addr += image.ProgBlockSize {
		if l%8 == 0 {
			p.printf("\n0x%04X: ", addr)
		}
		l++

		if img.BlockEmpty(addr, image.ProgBlockSize) {
			p.printf(".")
			continue
		}

		block, err := img.Block(addr, image.ProgBlockSize)
		if err != nil {
			return err
		}
		glog.V(1).Infof("programming block 0x%04X", addr)
		if err := p.programBlock(addr, block); err != nil {
			return fmt.Errorf("programming block 0x%04X: %w", addr, err)
		}
		p.printf("P")
	}
	p.printf("\n")
	return nil
}
