package audio

import (
	"context"
	"errors"
)

// ErrHostUnavailable means no audio subsystem exists on this machine at all.
// There is no point retrying a connect that fails with it.
var ErrHostUnavailable = errors.New("audio host unavailable")

// ErrNoInputDevice means the audio subsystem is up but a microphone could
// not be acquired (missing device or permission denied). Surfaced separately
// from ErrHostUnavailable so the caller can prompt the user differently.
var ErrNoInputDevice = errors.New("no usable input device")

// Capturer defines the interface for microphone capture implementations.
type Capturer interface {
	// Initialize initializes the audio subsystem.
	Initialize() error

	// Terminate terminates the audio subsystem.
	Terminate()

	// Open acquires the capture device.
	Open() error

	// Close releases the capture device.
	Close() error

	// StartCapture reads fixed-size float32 mono frames and sends them to
	// the provided channel until the context is cancelled. Each frame is a
	// fresh slice owned by the receiver.
	StartCapture(ctx context.Context, frames chan<- []float32) error
}
