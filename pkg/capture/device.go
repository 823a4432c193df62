// Package capture acquires microphone audio and emits fixed-rate mono
// PCM16 frames for the segmentation pipeline.
//
// A Device produces raw chunks at the hardware capture rate. The Engine
// downsamples them to the pipeline target rate, preferring a buffered
// streaming path and degrading to a synchronous decimation path if the
// streaming path produces nothing within a bounded timeout.
package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"

	"github.com/neurocare/go-companion/internal/config"
	"github.com/neurocare/go-companion/pkg/audio"
)

// ErrDeviceClosed is returned when starting a device that has been
// permanently closed.
var ErrDeviceClosed = errors.New("capture: device closed")

// Device captures raw audio from an input device.
type Device interface {
	// Start begins audio capture. A failed Start is fatal: the device is
	// unavailable or permission was denied, and the caller must not retry.
	Start(ctx context.Context) error

	// Stop halts capture. Safe to call multiple times or before Start.
	Stop() error

	// Read returns the next raw chunk at the device capture rate,
	// blocking until audio is available. Returns io.EOF once stopped.
	Read(ctx context.Context) (audio.Frame, error)

	// Stream returns a channel of raw chunks. Closed when the device stops.
	Stream() <-chan audio.Frame

	// Name returns the backend name (e.g. "arecord", "mock").
	Name() string

	io.Closer
}

// NewDevice creates a capture device for the configured backend.
// An empty device string selects the system default recorder.
func NewDevice(cfg config.Audio, logger *slog.Logger) (Device, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Device == "mock" {
		return NewMockDevice(cfg, logger), nil
	}
	return newRecorderDevice(cfg, logger), nil
}

// recorderDevice captures audio by running an external recorder process
// (arecord) and reading raw PCM16 from its stdout.
type recorderDevice struct {
	cfg    config.Audio
	logger *slog.Logger

	mu      sync.Mutex
	cmd     *exec.Cmd
	stdout  io.ReadCloser
	stream  chan audio.Frame
	running bool
	closed  bool
}

func newRecorderDevice(cfg config.Audio, logger *slog.Logger) *recorderDevice {
	return &recorderDevice{
		cfg:    cfg,
		logger: logger.With("component", "capture.recorder"),
	}
}

func (d *recorderDevice) Name() string { return "arecord" }

func (d *recorderDevice) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return ErrDeviceClosed
	}
	if d.running {
		return nil
	}

	args := []string{
		"-q",
		"-f", "S16_LE",
		"-r", fmt.Sprintf("%d", d.cfg.CaptureRate),
		"-c", "1",
		"-t", "raw",
	}
	if d.cfg.Device != "" {
		args = append(args, "-D", d.cfg.Device)
	}

	cmd := exec.CommandContext(ctx, "arecord", args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("capture: stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("capture: device unavailable: %w", err)
	}

	d.cmd = cmd
	d.stdout = stdout
	d.stream = make(chan audio.Frame, 8)
	d.running = true

	go d.readLoop(stdout, d.stream)

	d.logger.Info("recorder started", "rate", d.cfg.CaptureRate, "device", d.cfg.Device)
	return nil
}

func (d *recorderDevice) readLoop(r io.Reader, out chan<- audio.Frame) {
	defer close(out)

	bufBytes := d.cfg.BufferSize() * 2
	buf := make([]byte, bufBytes)
	for {
		if _, err := io.ReadFull(r, buf); err != nil {
			return
		}
		chunk := make([]byte, bufBytes)
		copy(chunk, buf)
		out <- audio.Frame{Samples: audio.BytesToSamples(chunk), Rate: d.cfg.CaptureRate}
	}
}

func (d *recorderDevice) Read(ctx context.Context) (audio.Frame, error) {
	d.mu.Lock()
	stream := d.stream
	d.mu.Unlock()

	if stream == nil {
		return audio.Frame{}, io.EOF
	}
	select {
	case f, ok := <-stream:
		if !ok {
			return audio.Frame{}, io.EOF
		}
		return f, nil
	case <-ctx.Done():
		return audio.Frame{}, ctx.Err()
	}
}

func (d *recorderDevice) Stream() <-chan audio.Frame {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stream
}

func (d *recorderDevice) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.running {
		return nil
	}
	d.running = false

	if d.stdout != nil {
		d.stdout.Close()
	}
	if d.cmd != nil && d.cmd.Process != nil {
		d.cmd.Process.Kill()
		d.cmd.Wait()
	}
	d.cmd = nil
	d.logger.Info("recorder stopped")
	return nil
}

func (d *recorderDevice) Close() error {
	err := d.Stop()
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	return err
}
