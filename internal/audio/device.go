package audio

import (
	"context"
	"fmt"
	"strings"

	"github.com/audiolibrelab/audiomemo/internal/config"
)

// Completion is reported once when a capture or playback stream finishes on
// its own or, for captures, after Stop has finalized the file.
type Completion struct {
	Success bool
	Err     error
}

// CompletionFunc may be called from any goroutine, including synchronously
// from inside a Device or stream method.
type CompletionFunc func(Completion)

// Device is the host audio service the session controller drives.
type Device interface {
	// Prepare checks once at startup that the device can produce format.
	Prepare(format Format) error

	// Activate and Deactivate the play-and-record session routed to the loudspeaker.
	Activate(ctx context.Context) error
	Deactivate() error

	// StartCapture begins writing path in format. onFinish fires after
	// Stop has finalized the file, or when capture fails on its own.
	StartCapture(ctx context.Context, path string, format Format, onFinish CompletionFunc) (CaptureStream, error)

	// StartPlayback begins reading path. onFinish fires on end of stream or
	// playback failure, never after Stop.
	StartPlayback(ctx context.Context, path string, onFinish CompletionFunc) (PlaybackStream, error)
}

type CaptureStream interface {
	Pause() error
	Resume() error
	// Stop returns once the file is finalized and closed.
	Stop() error
}

type PlaybackStream interface {
	Stop() error
}

// BackendType represents the type of audio backend
type BackendType string

const (
	BackendTypePulse BackendType = "pulse"
	BackendTypeAuto  BackendType = "auto"
)

// NewDevice creates the device for the configured backend
func NewDevice(cfg config.AudioConfig) (Device, error) {
	switch determineBackend(cfg) {
	case BackendTypePulse:
		return NewPulseBackend(cfg), nil
	default:
		return nil, fmt.Errorf("unsupported audio backend: %s", cfg.Backend)
	}
}

func determineBackend(cfg config.AudioConfig) BackendType {
	switch strings.ToLower(cfg.Backend) {
	case "", "auto", "pulse":
		// PulseAudio (or pipewire-pulse) is the only backend
		return BackendTypePulse
	}
	return BackendType(cfg.Backend)
}

// GetAvailableBackends returns list of available backends on current system
func GetAvailableBackends() []BackendType {
	return []BackendType{BackendTypePulse}
}
