// Package image holds the in-memory model of the HC908JB8 user flash area: a
// bounded buffer covering one contiguous address window, plus the ICP flag
// arithmetic the bootloader uses to self-validate a programmed image.
package image

import (
	"bytes"
	"fmt"
)

const (
	// MemOffset is the first flash address of the user area.
	MemOffset = 0xDC00
	// MemSize is the size of the user area in bytes.
	MemSize = 0x1C00
	// EraseBlockSize is the flash erase granularity.
	EraseBlockSize = 0x200
	// ProgBlockSize is the flash program granularity, which is also the
	// payload size of one program control transfer.
	ProgBlockSize = 0x40

	// ChecksumStart/ChecksumStop bound the (inclusive) address range summed
	// into the calculated ICP flag.
	ChecksumStart = 0xF600
	ChecksumStop  = 0xF7FD
	// FlagAddress is where the bootloader expects the 16-bit ICP flag,
	// stored big-endian.
	FlagAddress = 0xF7FE

	// Erased is the value of a flash byte after erase.
	Erased = 0xFF
)

// Image is the user flash area, addressed by device address rather than
// buffer offset. A fresh Image reads as fully erased.
type Image struct {
	mem [MemSize]byte
}

func New() *Image {
	i := &Image{}
	for j := range i.mem {
		i.mem[j] = Erased
	}
	return i
}

// Contains reports whether addr falls inside the flash window.
func (i *Image) Contains(addr uint32) bool {
	return addr >= MemOffset && addr < MemOffset+MemSize
}

// Set writes one byte at the given device address. Addresses outside the
// window are rejected rather than wrapped or clamped.
func (i *Image) Set(addr uint32, b byte) error {
	if !i.Contains(addr) {
		return fmt.Errorf("address 0x%04X outside flash window [0x%04X, 0x%04X)", addr, MemOffset, MemOffset+MemSize)
	}
	i.mem[addr-MemOffset] = b
	return nil
}

// At returns the byte at the given device address. Out-of-window reads
// return the erased value.
func (i *Image) At(addr uint32) byte {
	if !i.Contains(addr) {
		return Erased
	}
	return i.mem[addr-MemOffset]
}

// Block returns the size bytes starting at device address addr. The block
// must lie entirely within the window and addr must be aligned to size.
func (i *Image) Block(addr uint32, size int) ([]byte, error) {
	if !i.Contains(addr) || !i.Contains(addr+uint32(size)-1) {
		return nil, fmt.Errorf("block [0x%04X, 0x%04X) outside flash window", addr, addr+uint32(size))
	}
	if (addr-MemOffset)%uint32(size) != 0 {
		return nil, fmt.Errorf("block address 0x%04X not aligned to %d", addr, size)
	}
	off := addr - MemOffset
	return i.mem[off : off+uint32(size)], nil
}

// BlockEmpty reports whether every byte of the size-byte block at addr still
// holds the erased value. Empty blocks need not be transmitted to the
// device, since erase already left the flash in that state.
func (i *Image) BlockEmpty(addr uint32, size int) bool {
	b, err := i.Block(addr, size)
	if err != nil {
		return false
	}
	return bytes.Count(b, []byte{Erased}) == len(b)
}

// StoredFlag returns the 16-bit ICP flag currently held at FlagAddress.
func (i *Image) StoredFlag() uint16 {
	return uint16(i.At(FlagAddress))<<8 | uint16(i.At(FlagAddress+1))
}

// CalculatedFlag sums every byte of the checksum window and folds the sum
// into the two's complement value the ICP resident code checks at boot:
// 0xFFFF - (sum & 0xFFFF) + 1.
func (i *Image) CalculatedFlag() uint16 {
	var sum uint32
	for a := uint32(ChecksumStart); a <= ChecksumStop; a++ {
		sum += uint32(i.At(a))
	}
	return uint16(0xFFFF-(sum&0xFFFF)) + 1
}

// ReconcileFlag compares the stored and calculated ICP flags and, on
// mismatch, patches the stored bytes with the calculated value, high byte
// first. It reports whether a patch was applied. This runs before every
// programming pass so the device never receives an image it would refuse to
// boot.
func (i *Image) ReconcileFlag() (patched bool, flag uint16) {
	flag = i.CalculatedFlag()
	if i.StoredFlag() == flag {
		return false, flag
	}
	i.mem[FlagAddress-MemOffset] = byte(flag >> 8)
	i.mem[FlagAddress-MemOffset+1] = byte(flag)
	return true, flag
}
