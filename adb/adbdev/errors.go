package adbdev

import (
	"errors"
)

// Errors which can be tested with [errors.Is]. Transport-level errors
// (adbusb.ErrNoADBInterface, adbusb.ErrBusy, adbusb.ErrDisconnected) are not
// redefined here; they reach callers wrapped (in a [DiagError], for example)
// and still match with [errors.Is].
var (
	ErrTimeout      = errors.New("operation timed out")
	ErrAuthRejected = errors.New("device rejected authentication")
	ErrRejected     = errors.New("stream rejected by device")
	ErrClosed       = errors.New("stream closed")
	ErrNotConnected = errors.New("session not connected")
)

// DiagError attaches a diagnostics snapshot to an error surfaced by the
// session so callers can present it to the user.
type DiagError struct {
	Err      error
	Snapshot Snapshot
}

func (e *DiagError) Error() string {
	return e.Err.Error()
}

func (e *DiagError) Unwrap() error {
	return e.Err
}

// diagErr wraps err with the session's current diagnostics snapshot. A nil
// err stays nil; an already-wrapped error is not wrapped again.
func (s *Session) diagErr(err error) error {
	if err == nil {
		return nil
	}
	var de *DiagError
	if errors.As(err, &de) {
		return err
	}
	return &DiagError{Err: err, Snapshot: s.Diagnostics()}
}
