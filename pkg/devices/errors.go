package devices

import (
	"errors"
	"fmt"
)

// ErrNotFound means no attached device matched the requested identity.
var ErrNotFound = errors.New("no matching USB device attached")

// ConfigurationError wraps a failure to configure an already-opened device.
// The handle is closed before this is returned; callers never see a leaked
// session on the configuration failure path.
type ConfigurationError struct {
	Err error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("setting USB configuration: %v", e.Err)
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}
