package flasher

import (
	"errors"
	"fmt"
)

// Code is the process exit code associated with a terminal error. Scripted
// callers branch on these, so the numbering is part of the tool's contract.
type Code int

const (
	CodeOK               Code = 0
	CodeDeviceNotFound   Code = 1
	CodeUsbConfiguration Code = 2
	CodeFileNotFound     Code = 3
	CodeEraseFailed      Code = 4
	CodeProgramFailed    Code = 5
	CodeModeSwitchFailed Code = 6
)

func (c Code) String() string {
	switch c {
	case CodeOK:
		return "no error"
	case CodeDeviceNotFound:
		return "USB device not found"
	case CodeUsbConfiguration:
		return "setting USB configuration failed"
	case CodeFileNotFound:
		return "file not found"
	case CodeEraseFailed:
		return "flash erase failed"
	case CodeProgramFailed:
		return "flash program failed"
	case CodeModeSwitchFailed:
		return "mode switch failed"
	}
	return "unknown error"
}

// Error is a terminal flashing error. Nothing in a run recovers from one;
// it travels up to the CLI which prints it and exits with the code.
type Error struct {
	Code Code
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Code.String()
	}
	return fmt.Sprintf("%s: %v", e.Code, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func fatal(code Code, err error) *Error {
	return &Error{Code: code, Err: err}
}

// ExitCode maps an error returned by Run to a process exit code. Errors not
// produced by this package map to the generic program-failed code.
func ExitCode(err error) int {
	if err == nil {
		return int(CodeOK)
	}
	var fe *Error
	if errors.As(err, &fe) {
		return int(fe.Code)
	}
	return int(CodeProgramFailed)
}
