package bridge

import "errors"

// Domain errors for the bridge package.
var (
	// ErrNoDeviceID is returned when the inventory id is unknown: no
	// override is configured, the daemon did not answer and nothing was
	// stored from an earlier run.
	ErrNoDeviceID = errors.New("bridge: device id unknown")

	// ErrCycleFailed is returned by a poll cycle in which no sensor could
	// be read.
	ErrCycleFailed = errors.New("bridge: poll cycle failed")

	// ErrUnknownCommand is returned for a command topic the bridge does
	// not handle.
	ErrUnknownCommand = errors.New("bridge: unknown command")

	// ErrStopped is returned by PollNow after Stop.
	ErrStopped = errors.New("bridge: stopped")
)
