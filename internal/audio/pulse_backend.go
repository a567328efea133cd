package audio

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"sync"

	"github.com/audiolibrelab/audiomemo/internal/config"
	"github.com/audiolibrelab/audiomemo/internal/play"
	"github.com/jfreymuth/pulse"
)

// PulseBackend implements the Device interface on PulseAudio, with ffmpeg
// encoding the capture and decoding the memo for playback.
type PulseBackend struct {
	cfg config.AudioConfig

	mutex      sync.Mutex
	ffmpegPath string
	client     *pulse.Client
	source     *pulse.Source
}

var _ Device = (*PulseBackend)(nil)

func NewPulseBackend(cfg config.AudioConfig) *PulseBackend {
	return &PulseBackend{cfg: cfg}
}

// Prepare validates the format and locates the ffmpeg binary
func (b *PulseBackend) Prepare(format Format) error {
	if err := format.Validate(); err != nil {
		return err
	}

	path, err := exec.LookPath(b.cfg.FFmpeg)
	if err != nil {
		return fmt.Errorf("ffmpeg not found (%s): %w", b.cfg.FFmpeg, err)
	}

	b.mutex.Lock()
	b.ffmpegPath = path
	b.mutex.Unlock()

	slog.Debug("Pulse backend prepared", "ffmpeg", path, "format", format.String())
	return nil
}

// Activate connects to the server and resolves the capture source and the
// output sink. Activating an active session is a no-op.
func (b *PulseBackend) Activate(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mutex.Lock()
	defer b.mutex.Unlock()

	if b.client != nil {
		return nil
	}

	c, err := newPulseClient()
	if err != nil {
		return err
	}

	source, err := lookupSource(c, b.cfg.Source)
	if err != nil {
		c.Close()
		return err
	}

	sink, err := lookupSink(c, b.cfg.Sink)
	if err != nil {
		c.Close()
		return err
	}

	b.client = c
	b.source = source

	slog.Info("Audio session activated", "source", source.ID(), "sink", sink.ID())
	return nil
}

// Deactivate closes the session connection
func (b *PulseBackend) Deactivate() (err error) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	if b.client == nil {
		return nil
	}

	defer func() {
		r := recover()
		if r != nil {
			err = fmt.Errorf("got a panic while closing the Pulse client: %v", r)
		}
	}()

	c := b.client
	b.client = nil
	b.source = nil
	c.Close()

	slog.Debug("Audio session deactivated")
	return nil
}

// StartCapture records from the session source into path
func (b *PulseBackend) StartCapture(ctx context.Context, path string, format Format, onFinish CompletionFunc) (CaptureStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.mutex.Lock()
	defer b.mutex.Unlock()

	if b.client == nil {
		return nil, fmt.Errorf("audio session is not active")
	}
	if b.ffmpegPath == "" {
		return nil, fmt.Errorf("backend not prepared")
	}

	r := newPulseRecorder(b.ffmpegPath, path, format, b.cfg.StopTimeout, onFinish)
	if err := r.start(b.client, b.source); err != nil {
		return nil, err
	}
	return r, nil
}

// StartPlayback plays path on the configured sink over a dedicated connection
func (b *PulseBackend) StartPlayback(ctx context.Context, path string, onFinish CompletionFunc) (PlaybackStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.mutex.Lock()
	ffmpegPath := b.ffmpegPath
	b.mutex.Unlock()

	if ffmpegPath == "" {
		return nil, fmt.Errorf("backend not prepared")
	}

	chanMap, err := channelMap(MemoFormat.Channels)
	if err != nil {
		return nil, err
	}

	c, err := newPulseClient()
	if err != nil {
		return nil, err
	}

	sink, err := lookupSink(c, b.cfg.Sink)
	if err != nil {
		c.Close()
		return nil, err
	}

	opts := play.Options{
		FFmpeg:     ffmpegPath,
		SampleRate: MemoFormat.SampleRate,
		Channels:   chanMap,
		Latency:    b.cfg.Latency,
	}

	player, err := play.Start(c, sink, path, opts, func(err error) {
		onFinish(Completion{Success: err == nil, Err: err})
	})
	if err != nil {
		return nil, err
	}
	return player, nil
}
