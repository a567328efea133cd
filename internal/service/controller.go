package service

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/audiolibrelab/audiomemo/internal/audio"
	"github.com/audiolibrelab/audiomemo/internal/config"
)

// StorageResolver resolves the writable directory that holds the memo file
type StorageResolver interface {
	ResolveDirectory() (string, error)
}

// StorageFunc adapts a function to StorageResolver
type StorageFunc func() (string, error)

func (f StorageFunc) ResolveDirectory() (string, error) {
	return f()
}

// Controller mediates record, pause, stop and play over one capture stream
// and one playback stream bound to the same memo file.
//
// All state lives on a single goroutine. Public methods hand their work to
// that goroutine and wait for it, so they are safe to call concurrently;
// device completion callbacks are queued and handled on the same goroutine.
type Controller struct {
	device   audio.Device
	observer Observer
	format   audio.Format
	path     string
	setupErr error

	requests  chan request
	events    *mailbox
	quit      chan struct{}
	stopped   chan struct{}
	closeOnce sync.Once

	state atomic.Int32

	// Owned by the loop goroutine
	current     State
	capture     audio.CaptureStream
	captureGen  uint64
	playback    audio.PlaybackStream
	playbackGen uint64
	generation  uint64
	finishing   map[uint64]struct{} // stopped captures awaiting their completion
}

type request struct {
	ctx   context.Context
	op    func(ctx context.Context) error
	reply chan error
}

// New creates a controller for the memo file in the resolved storage
// directory. The controller is always returned. A non-nil error is the setup
// failure (wrapping ErrStorageUnavailable or ErrDeviceUnavailable); in that
// case Record fails with ErrDeviceUnavailable for the controller's lifetime.
func New(device audio.Device, storage StorageResolver, observer Observer) (*Controller, error) {
	if observer == nil {
		observer = ObserverFuncs{}
	}

	c := &Controller{
		device:    device,
		observer:  observer,
		format:    audio.MemoFormat,
		requests:  make(chan request),
		events:    newMailbox(),
		quit:      make(chan struct{}),
		stopped:   make(chan struct{}),
		current:   StateIdle,
		finishing: make(map[uint64]struct{}),
	}
	c.state.Store(int32(StateIdle))

	dir, err := storage.ResolveDirectory()
	if err != nil {
		c.setupErr = fmt.Errorf("%w: failed to get the directory for recording the audio: %w", ErrStorageUnavailable, err)
	} else {
		c.path = filepath.Join(dir, config.MemoFileName)
		if err := device.Prepare(c.format); err != nil {
			c.setupErr = fmt.Errorf("%w: failed to configure the capture device: %w", ErrDeviceUnavailable, err)
		}
	}

	if c.setupErr != nil {
		slog.Error("Audio session setup failed, recording disabled", "error", c.setupErr)
	} else {
		slog.Debug("Audio session controller ready", "file", c.path, "format", c.format.String())
	}

	go c.loop()
	return c, c.setupErr
}

// State returns the current interaction state
func (c *Controller) State() State {
	return State(c.state.Load())
}

// Path returns the memo file path, or "" when storage could not be resolved
func (c *Controller) Path() string {
	return c.path
}

// SetupErr returns the error New reported, if any
func (c *Controller) SetupErr() error {
	return c.setupErr
}

// Record starts capturing from Idle (stopping playback first when Playing),
// pauses a running capture and resumes a paused one.
func (c *Controller) Record(ctx context.Context) error {
	return c.call(ctx, c.record)
}

// Pause suspends a running capture. It is a no-op in every other state.
func (c *Controller) Pause(ctx context.Context) error {
	return c.call(ctx, c.pause)
}

// Play starts playing the memo from Idle. It is a no-op while already playing.
func (c *Controller) Play(ctx context.Context) error {
	return c.call(ctx, c.play)
}

// Stop ends whatever is active and leaves the controller Idle. It is safe to
// call in any state, including after Close.
func (c *Controller) Stop() {
	c.call(context.Background(), func(context.Context) error {
		c.stop()
		return nil
	})
}

// Close stops any activity and terminates the controller goroutine
func (c *Controller) Close() error {
	c.closeOnce.Do(func() {
		close(c.quit)
	})
	<-c.stopped
	return nil
}

// call runs op on the loop goroutine. Once accepted, op runs to completion
// even if ctx is cancelled, so a transition is never left half done.
func (c *Controller) call(ctx context.Context, op func(context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	req := request{ctx: ctx, op: op, reply: make(chan error, 1)}
	select {
	case c.requests <- req:
	case <-c.quit:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	return <-req.reply
}

func (c *Controller) loop() {
	defer close(c.stopped)

	for {
		select {
		case req := <-c.requests:
			req.reply <- req.op(req.ctx)

		case <-c.events.signal:
			c.handleEvents()

		case <-c.quit:
			c.stop()
			c.handleEvents()
			slog.Debug("Audio session controller closed")
			return
		}
	}
}

func (c *Controller) record(ctx context.Context) error {
	switch c.current {
	case StateRecording:
		if err := c.capture.Pause(); err != nil {
			return fmt.Errorf("%w: failed to pause recording: %w", ErrDeviceUnavailable, err)
		}
		c.setState(StatePaused)
		return nil

	case StatePaused:
		if err := c.capture.Resume(); err != nil {
			return fmt.Errorf("%w: failed to resume recording: %w", ErrDeviceUnavailable, err)
		}
		c.setState(StateRecording)
		return nil

	case StatePlaying:
		// Stop the audio player before recording
		c.stopPlayback()
	}

	if c.setupErr != nil {
		return fmt.Errorf("%w: recording disabled: %w", ErrDeviceUnavailable, c.setupErr)
	}

	if err := c.device.Activate(ctx); err != nil {
		return fmt.Errorf("%w: failed to activate the audio session: %w", ErrDeviceUnavailable, err)
	}

	gen := c.nextGeneration()
	stream, err := c.device.StartCapture(ctx, c.path, c.format, c.completionFunc(captureStream, gen))
	if err != nil {
		c.deactivate()
		return fmt.Errorf("%w: failed to start recording: %w", ErrDeviceUnavailable, err)
	}

	c.capture = stream
	c.captureGen = gen
	slog.Info("Recording", "file", c.path)
	c.setState(StateRecording)
	return nil
}

func (c *Controller) pause(ctx context.Context) error {
	if c.current != StateRecording {
		return nil
	}
	return c.record(ctx)
}

func (c *Controller) play(ctx context.Context) error {
	switch c.current {
	case StatePlaying:
		return nil
	case StateRecording, StatePaused:
		return fmt.Errorf("%w: recording in progress", ErrPlaybackUnavailable)
	}

	if c.path == "" {
		return fmt.Errorf("%w: %w", ErrPlaybackUnavailable, c.setupErr)
	}

	info, err := os.Stat(c.path)
	if err != nil {
		return fmt.Errorf("%w: no recording found: %w", ErrPlaybackUnavailable, err)
	}
	if info.Size() == 0 {
		return fmt.Errorf("%w: recording is empty: %s", ErrPlaybackUnavailable, c.path)
	}

	gen := c.nextGeneration()
	stream, err := c.device.StartPlayback(ctx, c.path, c.completionFunc(playbackStream, gen))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrPlaybackUnavailable, err)
	}

	c.playback = stream
	c.playbackGen = gen
	slog.Info("Playing", "file", c.path)
	c.setState(StatePlaying)
	return nil
}

func (c *Controller) stop() {
	switch c.current {
	case StateRecording, StatePaused:
		c.stopCapture()
	case StatePlaying:
		c.stopPlayback()
	}
}

func (c *Controller) stopCapture() {
	stream := c.capture
	c.finishing[c.captureGen] = struct{}{}
	c.capture = nil
	c.captureGen = 0

	if err := stream.Stop(); err != nil {
		slog.Error("Recording did not finalize cleanly", "file", c.path, "error", err)
	}
	c.deactivate()
	c.setState(StateIdle)
}

func (c *Controller) stopPlayback() {
	stream := c.playback
	c.playback = nil
	c.playbackGen = 0

	if err := stream.Stop(); err != nil {
		slog.Warn("Playback did not stop cleanly", "file", c.path, "error", err)
	}
	c.setState(StateIdle)
}

// deactivate tears the session down; failures never block the transition
func (c *Controller) deactivate() {
	if err := c.device.Deactivate(); err != nil {
		slog.Warn("Audio session teardown failed", "error", fmt.Errorf("%w: %w", ErrDeactivation, err))
	}
}

func (c *Controller) handleEvents() {
	for _, ev := range c.events.drain() {
		switch ev.kind {
		case captureStream:
			c.handleCaptureFinished(ev)
		case playbackStream:
			c.handlePlaybackFinished(ev)
		}
	}
}

func (c *Controller) handleCaptureFinished(ev deviceEvent) {
	completion := Completion{Operation: OperationRecord, Success: ev.success, Err: ev.err}

	if _, ok := c.finishing[ev.generation]; ok {
		delete(c.finishing, ev.generation)
		c.emitCompleted(completion)
		return
	}

	if c.capture == nil || ev.generation != c.captureGen {
		slog.Debug("Ignoring stale capture completion", "generation", ev.generation)
		return
	}

	// The capture ended without a stop request
	slog.Error("Recording ended unexpectedly", "file", c.path, "error", ev.err)
	c.capture = nil
	c.captureGen = 0
	c.deactivate()
	c.setState(StateIdle)
	c.emitCompleted(completion)
}

func (c *Controller) handlePlaybackFinished(ev deviceEvent) {
	if c.playback == nil || ev.generation != c.playbackGen {
		slog.Debug("Ignoring stale playback completion", "generation", ev.generation)
		return
	}

	c.playback = nil
	c.playbackGen = 0
	c.setState(StateIdle)
	c.emitCompleted(Completion{Operation: OperationPlay, Success: ev.success, Err: ev.err})
}

func (c *Controller) completionFunc(kind streamKind, gen uint64) audio.CompletionFunc {
	return func(completion audio.Completion) {
		c.events.post(deviceEvent{
			kind:       kind,
			generation: gen,
			success:    completion.Success,
			err:        completion.Err,
		})
	}
}

func (c *Controller) nextGeneration() uint64 {
	c.generation++
	return c.generation
}

func (c *Controller) setState(s State) {
	c.current = s
	c.state.Store(int32(s))
	slog.Debug("State changed", "state", s.String())
	c.observer.StateChanged(s)
}

func (c *Controller) emitCompleted(completion Completion) {
	slog.Debug("Operation completed", "operation", completion.Operation, "success", completion.Success, "error", completion.Err)
	c.observer.Completed(completion)
}
