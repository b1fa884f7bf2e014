// Package capture owns the exclusive audio input device for a single capture
// session: acquisition, fragment buffering, the elapsed-time ticker and the
// finished asset.
package capture

import (
	"context"
	"errors"
	"fmt"
)

// Config is the capture policy requested from the device.
type Config struct {
	EchoCancellation bool `json:"echoCancellation"`
	NoiseSuppression bool `json:"noiseSuppression"`
	AutoGainControl  bool `json:"autoGainControl"`
}

// DefaultConfig is the fixed capture policy. It is not user-configurable.
var DefaultConfig = Config{
	EchoCancellation: true,
	NoiseSuppression: true,
	AutoGainControl:  true,
}

// Device grants exclusive access to an audio input.
type Device interface {
	Acquire(ctx context.Context, cfg Config) (Handle, error)
}

// Handle is a granted device. Fragments are delivered in arrival order to the
// OnFragment callback; OnFinalize fires once after Stop, when the pipeline has
// flushed its last fragment.
type Handle interface {
	OnFragment(func(data []byte))
	OnFinalize(func(mimeType string))
	// Stop signals end-of-capture to the pipeline.
	Stop()
	// ReleaseAllTracks stops every underlying hardware track.
	ReleaseAllTracks()
}

// Errors devices wrap so that acquisition failures can be classified.
var (
	ErrPermissionDenied = errors.New("microphone permission denied")
	ErrDeviceAbsent     = errors.New("no microphone found")
)

// FailureKind classifies an acquisition failure.
type FailureKind int

const (
	KindOther FailureKind = iota
	KindPermissionDenied
	KindDeviceAbsent
)

func (k FailureKind) String() string {
	switch k {
	case KindPermissionDenied:
		return "permission-denied"
	case KindDeviceAbsent:
		return "device-absent"
	default:
		return "device-other"
	}
}

// Classify maps a device error to its failure kind.
func Classify(err error) FailureKind {
	switch {
	case errors.Is(err, ErrPermissionDenied):
		return KindPermissionDenied
	case errors.Is(err, ErrDeviceAbsent):
		return KindDeviceAbsent
	default:
		return KindOther
	}
}

// AcquireError is returned by Start when the device could not be acquired.
type AcquireError struct {
	Kind FailureKind
	Err  error
}

func (e *AcquireError) Error() string {
	return fmt.Sprintf("acquire device (%s): %v", e.Kind, e.Err)
}

func (e *AcquireError) Unwrap() error { return e.Err }

// Guidance returns the message shown to the user for this failure.
func (e *AcquireError) Guidance() string {
	switch e.Kind {
	case KindPermissionDenied:
		return "Microphone access denied. Please allow microphone access in your system settings."
	case KindDeviceAbsent:
		return "No microphone found. Please connect a microphone and try again."
	default:
		return "Could not access microphone. Please check your device settings."
	}
}
