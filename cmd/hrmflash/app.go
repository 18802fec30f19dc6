package main

import (
	"fmt"
	"time"

	"github.com/google/gousb"
	"github.com/hashicorp/go-multierror"

	"github.com/hrmtools/hrmflash/pkg/devices"
)

// desktopUsb implements devices.Usb on top of gousb/libusb.
type desktopUsb struct {
	usb  *gousb.Device
	done func()
}

func (d *desktopUsb) UseDefaultInterface() error {
	_, done, err := d.usb.DefaultInterface()
	if err != nil {
		return err
	}
	d.done = done
	return nil
}

func (d *desktopUsb) Control(rType, request uint8, val, idx uint16, data []byte) (int, error) {
	v, err := d.usb.Control(rType, request, val, idx, data)
	if err == gousb.ErrorTimeout {
		err = devices.UsbTimeoutError
	}
	return v, err
}

// ClearHalt issues the standard CLEAR_FEATURE(ENDPOINT_HALT) request, which
// is what libusb's clear_halt does under the hood.
func (d *desktopUsb) ClearHalt(endpoint uint8) error {
	_, err := d.usb.Control(0x02, 0x01, 0x00, uint16(endpoint), nil)
	return err
}

func (d *desktopUsb) SetControlTimeout(dur time.Duration) error {
	d.usb.ControlTimeout = dur
	return nil
}

func (d *desktopUsb) Close() error {
	if d.done != nil {
		d.done()
		d.done = nil
	}
	return d.usb.Close()
}

// opener opens device sessions, one gousb context per opener.
type opener struct {
	ctx     *gousb.Context
	timeout time.Duration
}

func newOpener() (*opener, error) {
	ctx, err := newContext()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize USB: %w", err)
	}
	return &opener{
		ctx:     ctx,
		timeout: time.Duration(flagTimeout) * time.Second,
	}, nil
}

func (o *opener) Close() error {
	return o.ctx.Close()
}

// Open opens and configures the identity for the given mode. A device that
// opens but cannot be configured is closed before the error is returned.
func (o *opener) Open(mode devices.Mode) (devices.Usb, error) {
	desc := devices.Descriptions[mode]
	usb, err := o.ctx.OpenDeviceWithVIDPID(desc.VID, desc.PID)
	if err != nil {
		return nil, err
	}
	if usb == nil {
		return nil, fmt.Errorf("%s (%04x:%04x): %w", mode, uint16(desc.VID), uint16(desc.PID), devices.ErrNotFound)
	}

	d := &desktopUsb{usb: usb}
	if err := d.SetControlTimeout(o.timeout); err != nil {
		d.Close()
		return nil, &devices.ConfigurationError{Err: err}
	}
	if err := d.UseDefaultInterface(); err != nil {
		d.Close()
		return nil, &devices.ConfigurationError{Err: err}
	}
	return d, nil
}

// openAny tries every known identity and returns the first that opens,
// collecting the per-identity failures otherwise.
func (o *opener) openAny() (devices.Usb, devices.Mode, error) {
	var errs error
	for _, mode := range []devices.Mode{devices.ICP, devices.HID} {
		usb, err := o.Open(mode)
		if err != nil {
			errs = multierror.Append(errs, err)
			continue
		}
		return usb, mode, nil
	}
	return nil, "", errs
}

// newContext initializes gousb in a goroutine so that a libusb panic (no
// backend available) turns into an error instead of taking down the
// process.
func newContext() (*gousb.Context, error) {
	resC := make(chan *gousb.Context)
	errC := make(chan error)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				errC <- fmt.Errorf("%v", r)
			}
		}()

		resC <- gousb.NewContext()
	}()

	select {
	case err := <-errC:
		return nil, err
	case res := <-resC:
		return res, nil
	}
}
