// Package audiotest provides an in-memory audio.Device whose streams finish
// only when a test tells them to.
package audiotest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/audiolibrelab/audiomemo/internal/audio"
)

// Device records every call made to it. The *Err fields make the matching
// method fail; set them before handing the device to the code under test or
// through the setters while it runs.
type Device struct {
	mutex sync.Mutex

	prepareErr    error
	activateErr   error
	deactivateErr error
	captureErr    error
	playbackErr   error

	prepared      *audio.Format
	active        bool
	activations   int
	deactivations int
	writers       int
	readers       int
	overlapped    bool

	captures  []*Capture
	playbacks []*Playback
}

func New() *Device {
	return &Device{}
}

func (d *Device) SetPrepareErr(err error)    { d.set(&d.prepareErr, err) }
func (d *Device) SetActivateErr(err error)   { d.set(&d.activateErr, err) }
func (d *Device) SetDeactivateErr(err error) { d.set(&d.deactivateErr, err) }
func (d *Device) SetCaptureErr(err error)    { d.set(&d.captureErr, err) }
func (d *Device) SetPlaybackErr(err error)   { d.set(&d.playbackErr, err) }

func (d *Device) set(field *error, err error) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	*field = err
}

func (d *Device) Prepare(format audio.Format) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if d.prepareErr != nil {
		return d.prepareErr
	}
	if err := format.Validate(); err != nil {
		return err
	}
	d.prepared = &format
	return nil
}

func (d *Device) Activate(ctx context.Context) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	if d.activateErr != nil {
		return d.activateErr
	}
	d.active = true
	d.activations++
	return nil
}

func (d *Device) Deactivate() error {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	d.active = false
	d.deactivations++
	return d.deactivateErr
}

func (d *Device) StartCapture(ctx context.Context, path string, format audio.Format, onFinish audio.CompletionFunc) (audio.CaptureStream, error) {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if d.captureErr != nil {
		return nil, d.captureErr
	}
	if d.prepared == nil {
		return nil, errors.New("device not prepared")
	}
	if !d.active {
		return nil, errors.New("audio session is not active")
	}
	if format != *d.prepared {
		return nil, fmt.Errorf("format %s was never prepared", format)
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}

	d.writers++
	if d.readers > 0 {
		d.overlapped = true
	}

	c := &Capture{device: d, file: file, onFinish: onFinish}
	d.captures = append(d.captures, c)
	return c, nil
}

func (d *Device) StartPlayback(ctx context.Context, path string, onFinish audio.CompletionFunc) (audio.PlaybackStream, error) {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if d.playbackErr != nil {
		return nil, d.playbackErr
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	d.readers++
	if d.writers > 0 {
		d.overlapped = true
	}

	p := &Playback{device: d, file: file, onFinish: onFinish}
	d.playbacks = append(d.playbacks, p)
	return p, nil
}

// Active reports whether the session is currently activated
func (d *Device) Active() bool {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return d.active
}

func (d *Device) Activations() int {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return d.activations
}

func (d *Device) Deactivations() int {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return d.deactivations
}

// Overlapped reports whether the memo file was ever open for reading and
// writing at the same time
func (d *Device) Overlapped() bool {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return d.overlapped
}

func (d *Device) Captures() []*Capture {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return append([]*Capture(nil), d.captures...)
}

func (d *Device) Playbacks() []*Playback {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return append([]*Playback(nil), d.playbacks...)
}

// LastCapture returns the most recent capture stream, or nil
func (d *Device) LastCapture() *Capture {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	if len(d.captures) == 0 {
		return nil
	}
	return d.captures[len(d.captures)-1]
}

// LastPlayback returns the most recent playback stream, or nil
func (d *Device) LastPlayback() *Playback {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	if len(d.playbacks) == 0 {
		return nil
	}
	return d.playbacks[len(d.playbacks)-1]
}

func (d *Device) closeWriter() {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.writers--
}

func (d *Device) closeReader() {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.readers--
}

// Capture writes fed bytes straight to the memo file unless paused
type Capture struct {
	device   *Device
	onFinish audio.CompletionFunc

	mutex   sync.Mutex
	file    *os.File
	paused  bool
	stopped bool
}

// Feed simulates captured audio. Bytes fed while paused are dropped.
func (c *Capture) Feed(p []byte) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.stopped {
		return os.ErrClosed
	}
	if c.paused {
		return nil
	}
	_, err := c.file.Write(p)
	return err
}

func (c *Capture) Pause() error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.stopped {
		return errors.New("capture already stopped")
	}
	c.paused = true
	return nil
}

func (c *Capture) Resume() error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.stopped {
		return errors.New("capture already stopped")
	}
	c.paused = false
	return nil
}

// Stop finalizes the file and reports the completion synchronously. An empty
// recording is reported as a failure.
func (c *Capture) Stop() error {
	written, ok, err := c.close()
	if !ok {
		return nil
	}

	completion := audio.Completion{Success: err == nil && written > 0, Err: err}
	if err == nil && written == 0 {
		completion.Err = errors.New("recorded file is empty")
	}
	c.onFinish(completion)
	return err
}

// Fail simulates the capture dying underneath the controller
func (c *Capture) Fail(cause error) {
	if _, ok, _ := c.close(); !ok {
		return
	}
	c.onFinish(audio.Completion{Success: false, Err: cause})
}

// Finish fires the completion callback again after the stream is done, as a
// late or duplicate callback would.
func (c *Capture) Finish(success bool) {
	c.onFinish(audio.Completion{Success: success})
}

func (c *Capture) Paused() bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.paused
}

func (c *Capture) Stopped() bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.stopped
}

func (c *Capture) close() (int64, bool, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.stopped {
		return 0, false, nil
	}
	c.stopped = true

	var written int64
	if info, err := c.file.Stat(); err == nil {
		written = info.Size()
	}
	err := c.file.Close()
	c.device.closeWriter()
	return written, true, err
}

// Playback holds the memo open for reading until finished or stopped
type Playback struct {
	device   *Device
	onFinish audio.CompletionFunc

	mutex   sync.Mutex
	file    *os.File
	stopped bool
}

// Finish simulates the end of the stream. It fires the completion even
// after Stop so tests can deliver late callbacks.
func (p *Playback) Finish(success bool) {
	p.close()

	completion := audio.Completion{Success: success}
	if !success {
		completion.Err = errors.New("playback failed")
	}
	p.onFinish(completion)
}

func (p *Playback) Stop() error {
	p.close()
	return nil
}

func (p *Playback) Stopped() bool {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return p.stopped
}

func (p *Playback) close() {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if p.stopped {
		return
	}
	p.stopped = true
	p.file.Close()
	p.device.closeReader()
}

var _ audio.Device = (*Device)(nil)
