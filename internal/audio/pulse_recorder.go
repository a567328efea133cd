package audio

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/jfreymuth/pulse"
	"github.com/jfreymuth/pulse/proto"
)

// pulseRecorder captures PCM from a Pulse source and pipes it into an ffmpeg
// encoder. The encoder writes a partial file that replaces outputFile only
// once it has been finalized, so a failed take leaves the previous memo intact.
type pulseRecorder struct {
	ffmpegPath  string
	outputFile  string
	partialFile string
	format      Format
	stopTimeout time.Duration
	onFinish    CompletionFunc

	mutex    sync.Mutex
	stream   *pulse.RecordStream
	cmd      *exec.Cmd
	stdin    io.WriteCloser
	gate     *gateWriter
	exited   chan struct{} // closed once the encoder has exited
	exitErr  error
	stopping bool
	finished bool
}

var _ CaptureStream = (*pulseRecorder)(nil)

func newPulseRecorder(ffmpegPath, outputFile string, format Format, stopTimeout time.Duration, onFinish CompletionFunc) *pulseRecorder {
	return &pulseRecorder{
		ffmpegPath:  ffmpegPath,
		outputFile:  outputFile,
		partialFile: outputFile + ".partial",
		format:      format,
		stopTimeout: stopTimeout,
		onFinish:    onFinish,
		exited:      make(chan struct{}),
	}
}

func (r *pulseRecorder) start(client *pulse.Client, source *pulse.Source) error {
	chanMap, err := channelMap(r.format.Channels)
	if err != nil {
		return err
	}

	if err := r.startFFmpeg(); err != nil {
		return fmt.Errorf("failed to start FFmpeg: %w", err)
	}

	r.gate = &gateWriter{w: r.stdin}
	r.stream, err = client.NewRecord(
		pulseWriter{Writer: r.gate},
		pulse.RecordSource(source),
		pulse.RecordSampleRate(r.format.SampleRate),
		pulse.RecordChannels(chanMap),
	)
	if err != nil {
		r.abortFFmpeg()
		return fmt.Errorf("unable to initialize a recording: %w", err)
	}

	r.stream.Start()
	if err := r.stream.Error(); err != nil {
		closeRecordStream(r.stream)
		r.abortFFmpeg()
		return fmt.Errorf("an error occurred during recording: %w", err)
	}

	go r.watch()

	slog.Info("Recording started", "output", r.outputFile, "source", source.ID(), "format", r.format.String())
	return nil
}

// startFFmpeg launches the encoder reading raw PCM from stdin
func (r *pulseRecorder) startFFmpeg() error {
	args := r.format.EncoderArgs(r.partialFile)
	slog.Debug("Starting FFmpeg encoder", "command", r.ffmpegPath, "args", args)

	cmd := exec.Command(r.ffmpegPath, args...)
	cmd.Stderr = &lineLogger{label: "ffmpeg"}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("failed to create stdin pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return err
	}

	r.cmd = cmd
	r.stdin = stdin
	go func() {
		r.exitErr = cmd.Wait()
		close(r.exited)
	}()
	return nil
}

// abortFFmpeg kills an encoder whose capture never started
func (r *pulseRecorder) abortFFmpeg() {
	r.stdin.Close()
	if r.cmd.Process != nil {
		r.cmd.Process.Kill()
	}
	<-r.exited
	os.Remove(r.partialFile)
}

// watch reports encoder exits that were not caused by Stop
func (r *pulseRecorder) watch() {
	<-r.exited
	err := r.exitErr

	r.mutex.Lock()
	if r.stopping || r.finished {
		r.mutex.Unlock()
		return
	}
	r.finished = true
	stream := r.stream
	r.mutex.Unlock()

	closeRecordStream(stream)
	os.Remove(r.partialFile)

	if err == nil {
		err = fmt.Errorf("encoder exited before the recording was stopped")
	}
	slog.Error("Recording failed", "output", r.outputFile, "error", err)
	r.onFinish(Completion{Success: false, Err: fmt.Errorf("FFmpeg process failed: %w", err)})
}

func (r *pulseRecorder) Pause() error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if r.finished || r.stopping {
		return fmt.Errorf("no recording in progress")
	}
	r.gate.paused.Store(true)
	slog.Debug("Recording paused", "output", r.outputFile)
	return nil
}

func (r *pulseRecorder) Resume() error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if r.finished || r.stopping {
		return fmt.Errorf("no recording in progress")
	}
	r.gate.paused.Store(false)
	slog.Debug("Recording resumed", "output", r.outputFile)
	return nil
}

// Stop ends the capture, lets ffmpeg finalize the container and validates
// the result. onFinish is called asynchronously afterwards.
func (r *pulseRecorder) Stop() error {
	r.mutex.Lock()
	if r.finished || r.stopping {
		r.mutex.Unlock()
		return nil
	}
	r.stopping = true
	r.mutex.Unlock()

	slog.Debug("Stopping recording...")

	var mErr *multierror.Error
	if err := closeRecordStream(r.stream); err != nil {
		mErr = multierror.Append(mErr, err)
	}
	r.gate.close()
	if err := r.stdin.Close(); err != nil {
		mErr = multierror.Append(mErr, fmt.Errorf("failed to close encoder input: %w", err))
	}
	if err := r.waitFFmpeg(); err != nil {
		mErr = multierror.Append(mErr, err)
	}
	if err := validateOutputFile(r.partialFile); err != nil {
		mErr = multierror.Append(mErr, err)
	}

	if mErr.ErrorOrNil() == nil {
		if err := os.Rename(r.partialFile, r.outputFile); err != nil {
			mErr = multierror.Append(mErr, fmt.Errorf("failed to finalize recording: %w", err))
		}
	}
	if mErr.ErrorOrNil() != nil {
		os.Remove(r.partialFile)
	}

	r.mutex.Lock()
	r.finished = true
	r.mutex.Unlock()

	err := mErr.ErrorOrNil()
	if err == nil {
		slog.Debug("Recording completed successfully", "output", r.outputFile)
	}

	go r.onFinish(Completion{Success: err == nil, Err: err})
	return err
}

// waitFFmpeg waits for the encoder to exit, killing it after stopTimeout
func (r *pulseRecorder) waitFFmpeg() error {
	select {
	case <-r.exited:
		if r.exitErr != nil {
			return fmt.Errorf("FFmpeg process failed: %w", r.exitErr)
		}
		slog.Debug("FFmpeg exited successfully")
		return nil

	case <-time.After(r.stopTimeout):
		slog.Warn("FFmpeg did not exit within timeout, force killing", "timeout", r.stopTimeout)
		if r.cmd.Process != nil {
			r.cmd.Process.Kill()
		}
		<-r.exited
		return fmt.Errorf("FFmpeg did not finalize %s within %s", r.outputFile, r.stopTimeout)
	}
}

// validateOutputFile checks that the finalized file holds data
func validateOutputFile(path string) error {
	fileInfo, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("recording file not found: %s", path)
	}

	if fileInfo.Size() == 0 {
		return fmt.Errorf("recording failed: file is empty")
	}

	slog.Debug("Output file validated", "size", fileInfo.Size())
	return nil
}

func closeRecordStream(stream *pulse.RecordStream) (err error) {
	defer func() {
		r := recover()
		if r != nil {
			err = fmt.Errorf("got a panic: %v", r)
		}
	}()
	stream.Stop()
	stream.Close()
	return
}

// gateWriter drops samples while paused so that resuming continues the same
// encoder stream without a gap or a truncation.
type gateWriter struct {
	w      io.Writer
	paused atomic.Bool
	closed atomic.Bool
}

func (g *gateWriter) Write(p []byte) (int, error) {
	if g.closed.Load() {
		return 0, io.ErrClosedPipe
	}
	if g.paused.Load() {
		return len(p), nil
	}
	return g.w.Write(p)
}

func (g *gateWriter) close() {
	g.closed.Store(true)
}

type pulseWriter struct {
	io.Writer
}

var _ pulse.Writer = pulseWriter{}

func (pulseWriter) Format() byte {
	return proto.FormatFloat32LE
}

// lineLogger forwards subprocess output to slog line by line
type lineLogger struct {
	label string
	mutex sync.Mutex
	buf   []byte
}

func (l *lineLogger) Write(p []byte) (int, error) {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	l.buf = append(l.buf, p...)
	for {
		i := bytes.IndexByte(l.buf, '\n')
		if i < 0 {
			break
		}
		line := strings.TrimRight(string(l.buf[:i]), "\r")
		l.buf = l.buf[i+1:]
		if line != "" {
			slog.Debug("Subprocess output", "stream", l.label, "line", line)
		}
	}
	return len(p), nil
}
