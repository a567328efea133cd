package service

import "errors"

var (
	// ErrStorageUnavailable means no writable directory could be resolved for the memo.
	ErrStorageUnavailable = errors.New("storage unavailable")
	// ErrDeviceUnavailable means the capture device or audio session could not be used.
	ErrDeviceUnavailable = errors.New("audio device unavailable")
	// ErrPlaybackUnavailable means the memo cannot be played right now.
	ErrPlaybackUnavailable = errors.New("playback unavailable")
	// ErrDeactivation tags session teardown failures. It is only ever logged.
	ErrDeactivation = errors.New("audio session deactivation failed")
	// ErrClosed is returned by calls made after Close.
	ErrClosed = errors.New("controller closed")
)
