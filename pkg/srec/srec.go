// Package srec parses Motorola S-record (S19) firmware files into a flash
// image. Only S1 (16-bit data) and S9 (termination) records matter for the
// HC908JB8; every other tag is ignored.
//
// Parsing is deliberately permissive: record checksums are decoded but not
// verified, and malformed records are skipped rather than rejected. The
// firmware images produced by the original vendor toolchain do not always
// carry consistent checksums, and refusing them would make the tool useless
// exactly when it is needed. Strict() enables verification for callers that
// want it.
package srec

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/golang/glog"
	"github.com/ulikunitz/xz"

	"github.com/hrmtools/hrmflash/pkg/image"
)

// maxLineLen bounds a single record line. S1 records address 16 bits and
// carry at most 255 bytes, so real lines are far shorter than this.
const maxLineLen = 512

type Option func(*parser)

// Strict makes record checksum mismatches fatal. Off by default.
func Strict() Option {
	return func(p *parser) { p.strict = true }
}

type parser struct {
	strict bool
}

// Parse reads the S19 file at path into a flash image. Files ending in .xz
// are decompressed transparently. A path that cannot be opened is the only
// I/O error surfaced to the caller as-is.
func Parse(path string, opts ...Option) (*image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(path, ".xz") {
		xr, err := xz.NewReader(bufio.NewReader(f))
		if err != nil {
			return nil, fmt.Errorf("opening xz stream: %w", err)
		}
		r = xr
	}
	return ParseReader(r, opts...)
}

// ParseReader parses S19 text from r into a flash image.
func ParseReader(r io.Reader, opts ...Option) (*image.Image, error) {
	p := &parser{}
	for _, o := range opts {
		o(p)
	}

	img := image.New()
	br := bufio.NewReaderSize(r, maxLineLen)

	lineno := 0
	for {
		chunk, isPrefix, err := br.ReadLine()
		if err == io.EOF {
			return img, nil
		}
		if err != nil {
			return nil, fmt.Errorf("reading line %d: %w", lineno+1, err)
		}
		lineno++
		line := strings.TrimSpace(string(chunk))
		if isPrefix {
			// Overlong line: keep the head, drop the rest. The truncated
			// record then falls through the same malformed-record path as
			// any other.
			glog.V(1).Infof("line %d: longer than %d bytes, truncated", lineno, maxLineLen)
			for isPrefix {
				if _, isPrefix, err = br.ReadLine(); err != nil {
					isPrefix = false
				}
			}
		}

		if len(line) < 2 || line[0] != 'S' {
			continue
		}
		switch line[1] {
		case '1':
			if err := p.data(img, line, lineno); err != nil {
				if p.strict {
					return nil, err
				}
				glog.V(1).Infof("line %d: skipping record: %v", lineno, err)
			}
		case '9':
			// Termination record. Anything after it is ignored.
			return img, nil
		default:
			// Header and other record types carry nothing we program.
		}
	}
}

// data decodes one S1 record into the image. Layout after the tag: 2 hex
// digits of byte count (address + data + checksum), 4 hex digits of address,
// count-3 data byte pairs, one checksum byte pair.
func (p *parser) data(img *image.Image, line string, lineno int) error {
	if len(line) < 10 {
		return fmt.Errorf("record too short (%d chars)", len(line))
	}
	count, err := hexByte(line[2:4])
	if err != nil {
		return fmt.Errorf("byte count: %w", err)
	}
	addr64, err := strconv.ParseUint(line[4:8], 16, 16)
	if err != nil {
		return fmt.Errorf("address: %w", err)
	}
	addr := uint32(addr64)

	ndata := int(count) - 3
	if ndata < 0 || len(line) < 8+2*ndata+2 {
		return fmt.Errorf("byte count %d inconsistent with line length %d", count, len(line))
	}

	// Records outside the flash window are legal in vendor images (vector
	// redirection tables and the like); they are simply not ours to program.
	if !img.Contains(addr) {
		glog.V(2).Infof("line %d: record at 0x%04X outside flash window, skipped", lineno, addr)
		return nil
	}

	sum := count + byte(addr>>8) + byte(addr)
	for i := 0; i < ndata; i++ {
		b, err := hexByte(line[8+2*i : 10+2*i])
		if err != nil {
			return fmt.Errorf("data byte %d: %w", i, err)
		}
		if err := img.Set(addr+uint32(i), b); err != nil {
			// The record started in-window but runs past its end.
			return err
		}
		sum += b
	}

	crc, err := hexByte(line[8+2*ndata : 10+2*ndata])
	if err != nil {
		return fmt.Errorf("checksum byte: %w", err)
	}
	if p.strict {
		if want := 0xFF - sum; crc != want {
			return fmt.Errorf("checksum mismatch: record has 0x%02X, computed 0x%02X", crc, want)
		}
	}
	return nil
}

func hexByte(s string) (byte, error) {
	v, err := strconv.ParseUint(s, 16, 8)
	if err != nil {
		return 0, err
	}
	return byte(v), nil
}
