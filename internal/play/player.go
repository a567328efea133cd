package play

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/jfreymuth/pulse"
	"github.com/jfreymuth/pulse/proto"
)

// Options describes how the file is decoded and fed to the sink
type Options struct {
	FFmpeg     string
	SampleRate int
	Channels   proto.ChannelMap
	Latency    time.Duration
}

// Player streams one encoded file through ffmpeg into a Pulse sink.
type Player struct {
	path   string
	client *pulse.Client
	stream *pulse.PlaybackStream
	cmd    *exec.Cmd
	stderr bytes.Buffer
	reader *pcmReader

	stopped  atomic.Bool
	stopOnce sync.Once
	done     chan struct{}
}

// Start decodes path and plays it on sink. The player takes ownership of
// client and closes it when playback ends. onFinish receives nil on end of
// stream and the failure otherwise; it is not called after Stop.
func Start(client *pulse.Client, sink *pulse.Sink, path string, opts Options, onFinish func(error)) (*Player, error) {
	if err := checkFile(path); err != nil {
		client.Close()
		return nil, err
	}

	p := &Player{
		path:   path,
		client: client,
		done:   make(chan struct{}),
	}

	p.cmd = exec.Command(opts.FFmpeg, DecoderArgs(path, opts.SampleRate, len(opts.Channels))...)
	p.cmd.Stderr = &p.stderr

	stdout, err := p.cmd.StdoutPipe()
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}

	if err := p.cmd.Start(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to start decoder: %w", err)
	}

	p.reader = newPCMReader(stdout)

	playbackOpts := []pulse.PlaybackOption{
		pulse.PlaybackSink(sink),
		pulse.PlaybackSampleRate(opts.SampleRate),
		pulse.PlaybackChannels(opts.Channels),
	}
	if opts.Latency > 0 {
		playbackOpts = append(playbackOpts, pulse.PlaybackLatency(opts.Latency.Seconds()))
	}

	p.stream, err = client.NewPlayback(p.reader, playbackOpts...)
	if err != nil {
		p.killDecoder()
		client.Close()
		return nil, fmt.Errorf("unable to initialize a playback: %w", err)
	}

	p.stream.Start()
	if err := p.stream.Error(); err != nil {
		p.killDecoder()
		p.release()
		return nil, fmt.Errorf("an error occurred during playback: %w", err)
	}

	slog.Debug("Playback started", "file", path, "sink", sink.ID())
	go p.watch(onFinish)

	return p, nil
}

// watch waits for the decoder to run dry, lets the sink drain and reports the outcome
func (p *Player) watch(onFinish func(error)) {
	select {
	case <-p.reader.eof:
	case <-p.done:
		p.cmd.Wait()
		return
	}

	p.stream.Drain()
	waitErr := p.cmd.Wait()

	if p.stopped.Load() {
		return
	}

	var mErr *multierror.Error
	if err := p.stream.Error(); err != nil {
		mErr = multierror.Append(mErr, fmt.Errorf("an error occurred during playback: %w", err))
	}
	if waitErr != nil {
		mErr = multierror.Append(mErr, fmt.Errorf("decoder failed: %w (%s)", waitErr, strings.TrimSpace(p.stderr.String())))
	}
	if err := p.reader.err(); err != nil {
		mErr = multierror.Append(mErr, fmt.Errorf("failed to read decoded audio: %w", err))
	}

	p.release()

	result := mErr.ErrorOrNil()
	slog.Debug("Playback finished", "file", p.path, "error", result)
	onFinish(result)
}

// Stop halts playback immediately
func (p *Player) Stop() error {
	var err error
	p.stopOnce.Do(func() {
		p.stopped.Store(true)
		close(p.done)

		var mErr *multierror.Error
		if killErr := p.killDecoder(); killErr != nil {
			mErr = multierror.Append(mErr, killErr)
		}
		if closeErr := p.release(); closeErr != nil {
			mErr = multierror.Append(mErr, closeErr)
		}
		err = mErr.ErrorOrNil()
	})
	return err
}

func (p *Player) killDecoder() error {
	if p.cmd == nil || p.cmd.Process == nil {
		return nil
	}
	if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("failed to kill decoder: %w", err)
	}
	return nil
}

func (p *Player) release() (err error) {
	defer func() {
		r := recover()
		if r != nil {
			err = fmt.Errorf("got a panic: %v", r)
		}
	}()
	if p.stream != nil {
		p.stream.Stop()
		p.stream.Close()
	}
	p.client.Close()
	return
}

// DecoderArgs builds the ffmpeg arguments that decode input to raw float32le PCM on stdout
func DecoderArgs(input string, sampleRate, channels int) []string {
	return []string{
		"-hide_banner",
		"-loglevel", "error",
		"-i", input,
		"-vn",
		"-f", "f32le",
		"-ar", strconv.Itoa(sampleRate),
		"-ac", strconv.Itoa(channels),
		"pipe:1",
	}
}

// checkFile rejects files that cannot hold any audio
func checkFile(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("audio file not found: %s", path)
	}
	if info.IsDir() {
		return fmt.Errorf("audio file is a directory: %s", path)
	}
	if info.Size() == 0 {
		return fmt.Errorf("audio file is empty: %s", path)
	}
	return nil
}

// pcmReader feeds decoded float32le samples to Pulse and turns the end of
// the decoder output into pulse.EndOfData.
type pcmReader struct {
	r       io.Reader
	eof     chan struct{}
	eofOnce sync.Once

	mutex   sync.Mutex
	readErr error
}

var _ pulse.Reader = (*pcmReader)(nil)

func newPCMReader(r io.Reader) *pcmReader {
	return &pcmReader{r: r, eof: make(chan struct{})}
}

func (r *pcmReader) Read(buf []byte) (int, error) {
	n, err := io.ReadFull(r.r, buf)
	switch {
	case err == nil:
		return n, nil
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
	default:
		r.mutex.Lock()
		r.readErr = err
		r.mutex.Unlock()
	}

	r.eofOnce.Do(func() { close(r.eof) })
	if n > 0 {
		return n, nil
	}
	return 0, pulse.EndOfData
}

func (r *pcmReader) Format() byte {
	return proto.FormatFloat32LE
}

func (r *pcmReader) err() error {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return r.readErr
}
