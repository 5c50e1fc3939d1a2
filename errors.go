package tfm

import (
	"github.com/juju/errors"
)

// Types of operation failures. Use errors.Is to test the cause of a failed
// operation against them.
const (
	// ErrTransport is the type of failures in sending to a middlebox or in
	// reaching its configuration channel.
	ErrTransport = errors.ConstError("transport error")
	// ErrProtocol is the type of protocol errors reported by middleboxes.
	ErrProtocol = errors.ConstError("protocol error")
	// ErrReplay is the type of failures in replaying a buffered event.
	ErrReplay = errors.ConstError("replay error")
)

var (
	// ErrAlreadyExecuted is returned when an operation is executed twice.
	ErrAlreadyExecuted = errors.New("operation is already executed")
	// ErrTerminated is returned when an operation has already finished or
	// failed.
	ErrTerminated = errors.New("operation is terminated")
	// ErrManagerStopped is returned when operations are requested from a
	// stopped manager.
	ErrManagerStopped = errors.New("manager is stopped")
)

// IsConfigError returns whether err is a configuration error: an invalid or
// missing argument of an operation.
func IsConfigError(err error) bool {
	return errors.Is(err, errors.NotValid) || errors.Is(err, errors.NotFound)
}

func transportErr(err error, format string, args ...interface{}) error {
	return errors.WithType(errors.Annotatef(err, format, args...), ErrTransport)
}
