package flasher

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hrmtools/hrmflash/pkg/devices"
	"github.com/hrmtools/hrmflash/pkg/icp"
	"github.com/hrmtools/hrmflash/pkg/image"
)

type call struct {
	op             string // "open", "control", "clearhalt", "close"
	mode           devices.Mode
	rType, request uint8
	val, idx       uint16
	n              int
}

// recUsb records transfers into the shared log of its opener, so the
// ordering across sessions (HID first, then ICP) is observable.
type recUsb struct {
	opener *recOpener
	mode   devices.Mode

	statuses []byte
	closed   bool
}

func (r *recUsb) UseDefaultInterface() error              { return nil }
func (r *recUsb) SetControlTimeout(d time.Duration) error { return nil }

func (r *recUsb) ClearHalt(endpoint uint8) error {
	r.opener.log = append(r.opener.log, call{op: "clearhalt", mode: r.mode, idx: uint16(endpoint)})
	return nil
}

func (r *recUsb) Close() error {
	r.closed = true
	r.opener.log = append(r.opener.log, call{op: "close", mode: r.mode})
	return nil
}

func (r *recUsb) Control(rType, request uint8, val, idx uint16, data []byte) (int, error) {
	r.opener.log = append(r.opener.log, call{op: "control", mode: r.mode, rType: rType, request: request, val: val, idx: idx, n: len(data)})
	if rType == 0xC0 && request == icp.RequestGetStatus {
		st := byte(1)
		if len(r.statuses) > 0 {
			st = r.statuses[0]
			r.statuses = r.statuses[1:]
		}
		data[0] = st
		return 1, nil
	}
	return len(data), nil
}

type recOpener struct {
	log []call

	// failICP makes the next n ICP opens fail with err.
	failICP    int
	failICPErr error

	icpUsb *recUsb
	hidUsb *recUsb
}

func newRecOpener() *recOpener {
	o := &recOpener{}
	o.icpUsb = &recUsb{opener: o, mode: devices.ICP}
	o.hidUsb = &recUsb{opener: o, mode: devices.HID}
	return o
}

func (o *recOpener) Open(mode devices.Mode) (devices.Usb, error) {
	if mode == devices.ICP && o.failICP > 0 {
		o.failICP--
		err := o.failICPErr
		if err == nil {
			err = devices.ErrNotFound
		}
		return nil, err
	}
	o.log = append(o.log, call{op: "open", mode: mode})
	switch mode {
	case devices.ICP:
		return o.icpUsb, nil
	default:
		return o.hidUsb, nil
	}
}

func fastCfg() Config {
	return Config{
		Attempts:   3,
		RetryDelay: time.Millisecond,
		Timing:     icp.Timing{Program: time.Microsecond, Status: time.Microsecond},
	}
}

// writeS19 writes a minimal two-record image: four bytes at 0xDC00 plus the
// terminator.
func writeS19(t *testing.T) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "fw.s19")
	if err := os.WriteFile(p, []byte("S107DC000102030412\nS9030000FC\n"), 0644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestRunSequence(t *testing.T) {
	opener := newRecOpener()
	path := writeS19(t)

	if err := Run(context.Background(), opener, path, fastCfg()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	// Expected: open ICP, 14x (erase + status), then a program + status per
	// non-empty 64-byte block, then close. The image carries data at 0xDC00,
	// and flag reconciliation patches 0xF7FE/0xF7FF (stored 0xFFFF never
	// matches the calculated value), so the last block is programmed too.
	i := 0
	next := func() call {
		if i >= len(opener.log) {
			t.Fatalf("log ended early at %d", i)
		}
		c := opener.log[i]
		i++
		return c
	}

	if c := next(); c.op != "open" || c.mode != devices.ICP {
		t.Fatalf("call 0: got %+v, want open ICP", c)
	}
	for b := 0; b < image.MemSize/image.EraseBlockSize; b++ {
		wantStart := uint16(image.MemOffset + b*image.EraseBlockSize)
		if c := next(); c.request != icp.RequestErase || c.val != wantStart {
			t.Fatalf("erase %d: got %+v, want erase at 0x%04X", b, c, wantStart)
		}
		if c := next(); c.request != icp.RequestGetStatus {
			t.Fatalf("erase %d: missing status read, got %+v", b, c)
		}
	}
	for _, addr := range []uint16{0xDC00, 0xF7C0} {
		if c := next(); c.request != icp.RequestProgram || c.val != addr || c.n != image.ProgBlockSize {
			t.Fatalf("program: got %+v, want program of 64 bytes at 0x%04X", c, addr)
		}
		if c := next(); c.request != icp.RequestGetStatus {
			t.Fatalf("program 0x%04X: missing status read, got %+v", addr, c)
		}
	}
	if c := next(); c.op != "close" || c.mode != devices.ICP {
		t.Fatalf("got %+v, want close ICP", c)
	}
	if i != len(opener.log) {
		t.Errorf("%d unexpected trailing calls: %+v", len(opener.log)-i, opener.log[i:])
	}
	if !opener.icpUsb.closed {
		t.Error("ICP session not closed")
	}
}

func TestRunWithModeSwitch(t *testing.T) {
	opener := newRecOpener()
	path := writeS19(t)

	cfg := fastCfg()
	cfg.Keys = &Keys{Key1: 0x1234, Key2: 0x5678}
	if err := Run(context.Background(), opener, path, cfg); err != nil {
		t.Fatalf("Run: %v", err)
	}

	// HID session first: open, clear halt on ep 0, SetFeature with the
	// keys, close. Only then the bootloader.
	if c := opener.log[0]; c.op != "open" || c.mode != devices.HID {
		t.Fatalf("call 0: got %+v, want open HID", c)
	}
	if c := opener.log[1]; c.op != "clearhalt" || c.idx != 0 {
		t.Fatalf("call 1: got %+v, want clearhalt ep 0", c)
	}
	if c := opener.log[2]; c.rType != 0x21 || c.request != 0x09 || c.val != 0x1234 || c.idx != 0x5678 || c.n != 8 {
		t.Fatalf("call 2: got %+v, want SetFeature with keys", c)
	}
	if c := opener.log[3]; c.op != "close" || c.mode != devices.HID {
		t.Fatalf("call 3: got %+v, want close HID", c)
	}
	if c := opener.log[4]; c.op != "open" || c.mode != devices.ICP {
		t.Fatalf("call 4: got %+v, want open ICP", c)
	}
	if !opener.hidUsb.closed {
		t.Error("HID session not closed")
	}
}

func TestAwaitRetries(t *testing.T) {
	opener := newRecOpener()
	opener.failICP = 2
	path := writeS19(t)

	if err := Run(context.Background(), opener, path, fastCfg()); err != nil {
		t.Fatalf("Run after retries: %v", err)
	}
}

func TestAwaitExhaustion(t *testing.T) {
	opener := newRecOpener()
	opener.failICP = 100

	err := Run(context.Background(), opener, writeS19(t), fastCfg())
	if err == nil {
		t.Fatal("Run succeeded with absent device")
	}
	if got := ExitCode(err); got != int(CodeDeviceNotFound) {
		t.Errorf("exit code %d, want %d", got, CodeDeviceNotFound)
	}
}

func TestAwaitConfigFailure(t *testing.T) {
	opener := newRecOpener()
	opener.failICP = 100
	opener.failICPErr = &devices.ConfigurationError{Err: errors.New("claim failed")}

	err := Run(context.Background(), opener, writeS19(t), fastCfg())
	if got := ExitCode(err); got != int(CodeUsbConfiguration) {
		t.Errorf("exit code %d, want %d", got, CodeUsbConfiguration)
	}
}

func TestRunFileNotFound(t *testing.T) {
	opener := newRecOpener()
	err := Run(context.Background(), opener, filepath.Join(t.TempDir(), "missing.s19"), fastCfg())
	if got := ExitCode(err); got != int(CodeFileNotFound) {
		t.Errorf("exit code %d, want %d", got, CodeFileNotFound)
	}
	// The session must still have been closed.
	if !opener.icpUsb.closed {
		t.Error("ICP session leaked on parse failure")
	}
}

func TestRunEraseFailure(t *testing.T) {
	opener := newRecOpener()
	opener.icpUsb.statuses = []byte{0}

	err := Run(context.Background(), opener, writeS19(t), fastCfg())
	if got := ExitCode(err); got != int(CodeEraseFailed) {
		t.Errorf("exit code %d, want %d", got, CodeEraseFailed)
	}
}

func TestRunProgramFailure(t *testing.T) {
	opener := newRecOpener()
	// 14 good erase statuses, then a bad program status.
	for i := 0; i < 14; i++ {
		opener.icpUsb.statuses = append(opener.icpUsb.statuses, 1)
	}
	opener.icpUsb.statuses = append(opener.icpUsb.statuses, 0)

	err := Run(context.Background(), opener, writeS19(t), fastCfg())
	if got := ExitCode(err); got != int(CodeProgramFailed) {
		t.Errorf("exit code %d, want %d", got, CodeProgramFailed)
	}
}

func TestEraseOnly(t *testing.T) {
	opener := newRecOpener()
	if err := Erase(context.Background(), opener, fastCfg()); err != nil {
		t.Fatalf("Erase: %v", err)
	}
	erases := 0
	for _, c := range opener.log {
		if c.request == icp.RequestErase {
			erases++
		}
		if c.request == icp.RequestProgram {
			t.Fatal("erase-only run issued a program transfer")
		}
	}
	if want := image.MemSize / image.EraseBlockSize; erases != want {
		t.Errorf("got %d erase transfers, want %d", erases, want)
	}
	if !opener.icpUsb.closed {
		t.Error("ICP session not closed")
	}
}

func TestRunContextCancelled(t *testing.T) {
	opener := newRecOpener()
	opener.failICP = 100
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Run(ctx, opener, writeS19(t), fastCfg())
	if got := ExitCode(err); got != int(CodeDeviceNotFound) {
		t.Errorf("exit code %d, want %d", got, CodeDeviceNotFound)
	}
}
