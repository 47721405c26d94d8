package process

import (
	"errors"
	"fmt"
)

var (
	ErrLaunchFailed    = errors.New("launch failed")
	ErrHandshakeFailed = errors.New("handshake failed")
)

// LaunchError is returned when the OS refuses to start the child.
type LaunchError struct {
	Path string
	Err  error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("starting %s: %s", e.Path, e.Err)
}

func (e *LaunchError) Unwrap() error { return e.Err }

func (e *LaunchError) Is(target error) bool { return target == ErrLaunchFailed }

// HandshakeError is returned when a handshake-spawned child did not announce a usable port.
// The child has already been killed and reaped when this is returned.
type HandshakeError struct {
	Path   string
	PID    int
	Line   string
	Reason string
}

func (e *HandshakeError) Error() string {
	return fmt.Sprintf("handshake with %s (pid %d) failed: %s", e.Path, e.PID, e.Reason)
}

func (e *HandshakeError) Is(target error) bool { return target == ErrHandshakeFailed }
