package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/audiolibrelab/audiomemo/internal/audio/audiotest"
	"github.com/audiolibrelab/audiomemo/internal/config"
)

// eventLog records observer notifications in the order they arrive
type eventLog struct {
	mutex       sync.Mutex
	entries     []string
	states      []State
	completions []Completion
}

func (l *eventLog) StateChanged(state State) {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	l.entries = append(l.entries, "state:"+state.String())
	l.states = append(l.states, state)
}

func (l *eventLog) Completed(completion Completion) {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	l.entries = append(l.entries, fmt.Sprintf("completed:%s:%t", completion.Operation, completion.Success))
	l.completions = append(l.completions, completion)
}

func (l *eventLog) Entries() []string {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	return append([]string(nil), l.entries...)
}

func (l *eventLog) States() []State {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	return append([]State(nil), l.states...)
}

func (l *eventLog) Completions() []Completion {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	return append([]Completion(nil), l.completions...)
}

func (l *eventLog) Reset() {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	l.entries = nil
	l.states = nil
	l.completions = nil
}

func storageAt(dir string) StorageResolver {
	return StorageFunc(func() (string, error) { return dir, nil })
}

func newTestController(t *testing.T) (*Controller, *audiotest.Device, *eventLog) {
	t.Helper()

	device := audiotest.New()
	events := &eventLog{}
	c, err := New(device, storageAt(t.TempDir()), events)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c, device, events
}

// settle waits until every queued device callback has been handled
func settle(t *testing.T, c *Controller) {
	t.Helper()

	require.Eventually(t, func() bool {
		c.events.mutex.Lock()
		defer c.events.mutex.Unlock()
		return len(c.events.queue) == 0
	}, time.Second, time.Millisecond)

	// Draining and handling happen in one loop iteration, so a round trip
	// through the loop orders us after the handler.
	require.NoError(t, c.call(context.Background(), func(context.Context) error { return nil }))
}

func startRecording(t *testing.T, c *Controller, device *audiotest.Device, data string) *audiotest.Capture {
	t.Helper()

	require.NoError(t, c.Record(context.Background()))
	capture := device.LastCapture()
	require.NotNil(t, capture)
	if data != "" {
		require.NoError(t, capture.Feed([]byte(data)))
	}
	return capture
}

func TestNewPlacesMemoInStorageDirectory(t *testing.T) {
	dir := t.TempDir()
	c, err := New(audiotest.New(), storageAt(dir), nil)
	require.NoError(t, err)
	defer c.Close()

	assert.Equal(t, filepath.Join(dir, config.MemoFileName), c.Path())
	assert.Equal(t, StateIdle, c.State())
	assert.NoError(t, c.SetupErr())
}

func TestRecordPauseStopPlayScenario(t *testing.T) {
	c, device, events := newTestController(t)
	ctx := context.Background()

	startRecording(t, c, device, "first take")
	assert.Equal(t, StateRecording, c.State())

	require.NoError(t, c.Record(ctx))
	assert.Equal(t, StatePaused, c.State())

	c.Stop()
	assert.Equal(t, StateIdle, c.State())
	settle(t, c)

	info, err := os.Stat(c.Path())
	require.NoError(t, err)
	assert.Positive(t, info.Size())

	require.NoError(t, c.Play(ctx))
	assert.Equal(t, StatePlaying, c.State())

	device.LastPlayback().Finish(true)
	settle(t, c)
	assert.Equal(t, StateIdle, c.State())

	assert.Equal(t, []string{
		"state:RECORDING",
		"state:PAUSED",
		"state:IDLE",
		"completed:record:true",
		"state:PLAYING",
		"state:IDLE",
		"completed:play:true",
	}, events.Entries())

	var plays int
	for _, completion := range events.Completions() {
		if completion.Operation == OperationPlay {
			plays++
			assert.True(t, completion.Success)
			assert.NoError(t, completion.Err)
		}
	}
	assert.Equal(t, 1, plays)
	assert.False(t, device.Overlapped())
	assert.False(t, device.Active())
}

func TestResumeContinuesSameFile(t *testing.T) {
	c, device, _ := newTestController(t)
	ctx := context.Background()

	capture := startRecording(t, c, device, "aaa")

	require.NoError(t, c.Record(ctx))
	require.True(t, capture.Paused())
	require.NoError(t, capture.Feed([]byte("dropped")))

	require.NoError(t, c.Record(ctx))
	assert.Equal(t, StateRecording, c.State())
	assert.False(t, capture.Paused())
	require.NoError(t, capture.Feed([]byte("bbb")))

	c.Stop()

	assert.Len(t, device.Captures(), 1)
	assert.Equal(t, 1, device.Activations())

	data, err := os.ReadFile(c.Path())
	require.NoError(t, err)
	assert.Equal(t, "aaabbb", string(data))
}

func TestPause(t *testing.T) {
	c, device, events := newTestController(t)
	ctx := context.Background()

	// Idle: nothing to pause
	require.NoError(t, c.Pause(ctx))
	assert.Equal(t, StateIdle, c.State())
	assert.Empty(t, events.Entries())

	capture := startRecording(t, c, device, "take")
	require.NoError(t, c.Pause(ctx))
	assert.Equal(t, StatePaused, c.State())
	assert.True(t, capture.Paused())

	// Paused: stays paused
	require.NoError(t, c.Pause(ctx))
	assert.Equal(t, StatePaused, c.State())
	assert.Equal(t, []State{StateRecording, StatePaused}, events.States())

	c.Stop()
	settle(t, c)

	require.NoError(t, c.Play(ctx))
	require.NoError(t, c.Pause(ctx))
	assert.Equal(t, StatePlaying, c.State())
}

func TestStopFromEveryState(t *testing.T) {
	states := []State{StateIdle, StateRecording, StatePaused, StatePlaying}

	for _, from := range states {
		t.Run(from.String(), func(t *testing.T) {
			c, device, events := newTestController(t)
			ctx := context.Background()

			switch from {
			case StateRecording:
				startRecording(t, c, device, "x")
			case StatePaused:
				startRecording(t, c, device, "x")
				require.NoError(t, c.Record(ctx))
			case StatePlaying:
				require.NoError(t, os.WriteFile(c.Path(), []byte("memo"), 0o644))
				require.NoError(t, c.Play(ctx))
			}
			require.Equal(t, from, c.State())
			events.Reset()

			c.Stop()
			assert.Equal(t, StateIdle, c.State())

			c.Stop()
			assert.Equal(t, StateIdle, c.State())
			settle(t, c)

			if from == StateIdle {
				assert.Empty(t, events.Entries())
			} else {
				assert.Equal(t, StateIdle, events.States()[0])
				assert.Len(t, events.States(), 1)
			}
			assert.False(t, device.Active())
		})
	}
}

func TestPlayRejectedWhileCapturing(t *testing.T) {
	c, device, _ := newTestController(t)
	ctx := context.Background()

	require.NoError(t, os.WriteFile(c.Path(), []byte("old memo"), 0o644))

	startRecording(t, c, device, "new")
	err := c.Play(ctx)
	require.ErrorIs(t, err, ErrPlaybackUnavailable)
	assert.Equal(t, StateRecording, c.State())

	require.NoError(t, c.Record(ctx))
	err = c.Play(ctx)
	require.ErrorIs(t, err, ErrPlaybackUnavailable)
	assert.Equal(t, StatePaused, c.State())

	assert.Empty(t, device.Playbacks())
	assert.False(t, device.Overlapped())
}

func TestPlayWhilePlayingIsNoop(t *testing.T) {
	c, device, events := newTestController(t)
	ctx := context.Background()

	require.NoError(t, os.WriteFile(c.Path(), []byte("memo"), 0o644))
	require.NoError(t, c.Play(ctx))
	require.NoError(t, c.Play(ctx))

	assert.Equal(t, StatePlaying, c.State())
	assert.Len(t, device.Playbacks(), 1)
	assert.Equal(t, []State{StatePlaying}, events.States())
}

func TestPlayRequiresRecording(t *testing.T) {
	c, device, events := newTestController(t)
	ctx := context.Background()

	err := c.Play(ctx)
	require.ErrorIs(t, err, ErrPlaybackUnavailable)
	require.ErrorIs(t, err, os.ErrNotExist)

	require.NoError(t, os.WriteFile(c.Path(), nil, 0o644))
	err = c.Play(ctx)
	require.ErrorIs(t, err, ErrPlaybackUnavailable)
	assert.Contains(t, err.Error(), "empty")

	assert.Equal(t, StateIdle, c.State())
	assert.Empty(t, device.Playbacks())
	assert.Empty(t, events.Entries())
}

func TestPlaybackStartFailure(t *testing.T) {
	c, device, events := newTestController(t)

	require.NoError(t, os.WriteFile(c.Path(), []byte("memo"), 0o644))
	device.SetPlaybackErr(errors.New("no sink"))

	err := c.Play(context.Background())
	require.ErrorIs(t, err, ErrPlaybackUnavailable)
	assert.Contains(t, err.Error(), "no sink")
	assert.Equal(t, StateIdle, c.State())
	assert.Empty(t, events.Entries())
}

func TestOperatorStopDuringPlaybackEmitsNoCompletion(t *testing.T) {
	c, device, events := newTestController(t)

	require.NoError(t, os.WriteFile(c.Path(), []byte("memo"), 0o644))
	require.NoError(t, c.Play(context.Background()))
	playback := device.LastPlayback()

	c.Stop()
	assert.True(t, playback.Stopped())

	// A late callback from the stopped stream is ignored
	playback.Finish(true)
	settle(t, c)

	assert.Equal(t, StateIdle, c.State())
	assert.Empty(t, events.Completions())
	assert.Equal(t, []State{StatePlaying, StateIdle}, events.States())
}

func TestStalePlaybackCallbackDoesNotEndNewPlayback(t *testing.T) {
	c, device, events := newTestController(t)
	ctx := context.Background()

	require.NoError(t, os.WriteFile(c.Path(), []byte("memo"), 0o644))
	require.NoError(t, c.Play(ctx))
	first := device.LastPlayback()
	c.Stop()

	require.NoError(t, c.Play(ctx))
	first.Finish(true)
	settle(t, c)

	assert.Equal(t, StatePlaying, c.State())
	assert.Empty(t, events.Completions())

	device.LastPlayback().Finish(false)
	settle(t, c)

	assert.Equal(t, StateIdle, c.State())
	completions := events.Completions()
	require.Len(t, completions, 1)
	assert.Equal(t, OperationPlay, completions[0].Operation)
	assert.False(t, completions[0].Success)
	assert.Error(t, completions[0].Err)
}

func TestRecordWhilePlayingStopsPlaybackFirst(t *testing.T) {
	c, device, events := newTestController(t)
	ctx := context.Background()

	require.NoError(t, os.WriteFile(c.Path(), []byte("memo"), 0o644))
	require.NoError(t, c.Play(ctx))
	playback := device.LastPlayback()

	require.NoError(t, c.Record(ctx))
	assert.True(t, playback.Stopped())
	assert.Equal(t, StateRecording, c.State())
	assert.Equal(t, []State{StatePlaying, StateIdle, StateRecording}, events.States())
	assert.False(t, device.Overlapped())
}

func TestRecordFailureWhilePlayingEndsIdle(t *testing.T) {
	c, device, events := newTestController(t)
	ctx := context.Background()

	require.NoError(t, os.WriteFile(c.Path(), []byte("memo"), 0o644))
	require.NoError(t, c.Play(ctx))
	device.SetActivateErr(errors.New("busy"))

	err := c.Record(ctx)
	require.ErrorIs(t, err, ErrDeviceUnavailable)
	assert.Equal(t, StateIdle, c.State())
	assert.Equal(t, []State{StatePlaying, StateIdle}, events.States())
}

func TestActivateFailureLeavesIdle(t *testing.T) {
	c, device, events := newTestController(t)
	ctx := context.Background()

	device.SetActivateErr(errors.New("session busy"))
	err := c.Record(ctx)
	require.ErrorIs(t, err, ErrDeviceUnavailable)
	assert.Contains(t, err.Error(), "session busy")
	assert.Equal(t, StateIdle, c.State())
	assert.Empty(t, events.Entries())

	// Activation failures are not permanent
	device.SetActivateErr(nil)
	require.NoError(t, c.Record(ctx))
	assert.Equal(t, StateRecording, c.State())
}

func TestCaptureStartFailureDeactivatesSession(t *testing.T) {
	c, device, events := newTestController(t)

	device.SetCaptureErr(errors.New("source gone"))
	err := c.Record(context.Background())
	require.ErrorIs(t, err, ErrDeviceUnavailable)

	assert.Equal(t, StateIdle, c.State())
	assert.Equal(t, 1, device.Activations())
	assert.Equal(t, 1, device.Deactivations())
	assert.False(t, device.Active())
	assert.Empty(t, events.Entries())
}

func TestDeactivationFailureIsNotSurfaced(t *testing.T) {
	c, device, events := newTestController(t)

	device.SetDeactivateErr(errors.New("route busy"))
	startRecording(t, c, device, "x")

	c.Stop()
	settle(t, c)

	assert.Equal(t, StateIdle, c.State())
	assert.Equal(t, []string{"state:RECORDING", "state:IDLE", "completed:record:true"}, events.Entries())
}

func TestEmptyRecordingReportsFailure(t *testing.T) {
	c, device, events := newTestController(t)

	startRecording(t, c, device, "")
	c.Stop()
	settle(t, c)

	completions := events.Completions()
	require.Len(t, completions, 1)
	assert.Equal(t, OperationRecord, completions[0].Operation)
	assert.False(t, completions[0].Success)
	assert.Error(t, completions[0].Err)
}

func TestUnsolicitedCaptureFailure(t *testing.T) {
	c, device, events := newTestController(t)

	capture := startRecording(t, c, device, "x")
	capture.Fail(errors.New("encoder crashed"))
	settle(t, c)

	assert.Equal(t, StateIdle, c.State())
	assert.False(t, device.Active())

	completions := events.Completions()
	require.Len(t, completions, 1)
	assert.Equal(t, OperationRecord, completions[0].Operation)
	assert.False(t, completions[0].Success)
	assert.EqualError(t, completions[0].Err, "encoder crashed")

	// Further stops are harmless
	c.Stop()
	assert.Equal(t, []State{StateRecording, StateIdle}, events.States())
}

func TestStaleCaptureCallbackIgnored(t *testing.T) {
	c, device, events := newTestController(t)

	first := startRecording(t, c, device, "x")
	c.Stop()
	settle(t, c)

	startRecording(t, c, device, "y")
	first.Finish(false)
	settle(t, c)

	assert.Equal(t, StateRecording, c.State())
	assert.Len(t, events.Completions(), 1)
}

func TestStorageUnavailableDegradesRecording(t *testing.T) {
	device := audiotest.New()
	events := &eventLog{}
	storageErr := errors.New("permission denied")

	c, err := New(device, StorageFunc(func() (string, error) { return "", storageErr }), events)
	require.NotNil(t, c)
	defer c.Close()
	require.ErrorIs(t, err, ErrStorageUnavailable)
	require.ErrorIs(t, err, storageErr)
	assert.Empty(t, c.Path())

	for i := 0; i < 3; i++ {
		err := c.Record(context.Background())
		require.ErrorIs(t, err, ErrDeviceUnavailable)
		assert.Equal(t, StateIdle, c.State())
	}

	require.ErrorIs(t, c.Play(context.Background()), ErrPlaybackUnavailable)
	c.Stop()

	assert.Equal(t, StateIdle, c.State())
	assert.Zero(t, device.Activations())
	assert.Empty(t, events.Entries())
}

func TestPrepareFailureDegradesRecording(t *testing.T) {
	device := audiotest.New()
	device.SetPrepareErr(errors.New("ffmpeg not found"))

	c, err := New(device, storageAt(t.TempDir()), nil)
	require.NotNil(t, c)
	defer c.Close()
	require.ErrorIs(t, err, ErrDeviceUnavailable)
	assert.Equal(t, err, c.SetupErr())

	err = c.Record(context.Background())
	require.ErrorIs(t, err, ErrDeviceUnavailable)
	assert.Equal(t, StateIdle, c.State())
	assert.Zero(t, device.Activations())
}

func TestCancelledContext(t *testing.T) {
	c, device, _ := newTestController(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.ErrorIs(t, c.Record(ctx), context.Canceled)
	require.ErrorIs(t, c.Play(ctx), context.Canceled)
	assert.Equal(t, StateIdle, c.State())
	assert.Zero(t, device.Activations())
}

func TestCloseStopsActivityAndRejectsCalls(t *testing.T) {
	device := audiotest.New()
	events := &eventLog{}
	c, err := New(device, storageAt(t.TempDir()), events)
	require.NoError(t, err)

	capture := startRecording(t, c, device, "x")
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	assert.True(t, capture.Stopped())
	assert.False(t, device.Active())
	assert.Equal(t, []string{"state:RECORDING", "state:IDLE", "completed:record:true"}, events.Entries())

	ctx := context.Background()
	require.ErrorIs(t, c.Record(ctx), ErrClosed)
	require.ErrorIs(t, c.Pause(ctx), ErrClosed)
	require.ErrorIs(t, c.Play(ctx), ErrClosed)
	c.Stop()
	assert.Equal(t, StateIdle, c.State())
}

// validTransitions lists every state change a notification may report
var validTransitions = map[State][]State{
	StateIdle:      {StateRecording, StatePlaying},
	StateRecording: {StatePaused, StateIdle},
	StatePaused:    {StateRecording, StateIdle},
	StatePlaying:   {StateIdle},
}

func assertValidTransitions(t *testing.T, states []State) {
	t.Helper()

	from := StateIdle
	for i, to := range states {
		assert.Contains(t, validTransitions[from], to, "transition %d: %s -> %s", i, from, to)
		from = to
	}
}

func TestRandomSequencesFollowTransitionTable(t *testing.T) {
	for seed := int64(1); seed <= 20; seed++ {
		t.Run(fmt.Sprintf("seed-%d", seed), func(t *testing.T) {
			c, device, events := newTestController(t)
			ctx := context.Background()
			rng := rand.New(rand.NewSource(seed))

			for step := 0; step < 60; step++ {
				before := c.State()

				switch rng.Intn(5) {
				case 0:
					err := c.Record(ctx)
					require.NoError(t, err)
					if capture := device.LastCapture(); capture != nil && !capture.Stopped() {
						require.NoError(t, capture.Feed([]byte("pcm")))
					}
				case 1:
					c.Stop()
					require.Equal(t, StateIdle, c.State())
				case 2:
					err := c.Play(ctx)
					switch before {
					case StateRecording, StatePaused:
						require.ErrorIs(t, err, ErrPlaybackUnavailable)
						require.Equal(t, before, c.State())
					case StatePlaying:
						require.NoError(t, err)
					}
				case 3:
					require.NoError(t, c.Pause(ctx))
				case 4:
					if playback := device.LastPlayback(); playback != nil && before == StatePlaying {
						playback.Finish(true)
					}
				}
				settle(t, c)
			}

			assertValidTransitions(t, events.States())
			assert.False(t, device.Overlapped())
		})
	}
}

func TestConcurrentCallersAreSerialized(t *testing.T) {
	c, device, events := newTestController(t)
	require.NoError(t, os.WriteFile(c.Path(), []byte("memo"), 0o644))

	var wg sync.WaitGroup
	for worker := 0; worker < 8; worker++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()

			ctx := context.Background()
			for i := 0; i < 50; i++ {
				switch (worker + i) % 4 {
				case 0:
					c.Record(ctx)
				case 1:
					c.Play(ctx)
				case 2:
					c.Pause(ctx)
				case 3:
					c.Stop()
				}
			}
		}(worker)
	}
	wg.Wait()

	c.Stop()
	settle(t, c)

	assert.Equal(t, StateIdle, c.State())
	assertValidTransitions(t, events.States())
	assert.False(t, device.Overlapped())
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "IDLE", StateIdle.String())
	assert.Equal(t, "RECORDING", StateRecording.String())
	assert.Equal(t, "PAUSED", StatePaused.String())
	assert.Equal(t, "PLAYING", StatePlaying.String())
	assert.Equal(t, "State(9)", State(9).String())
}
