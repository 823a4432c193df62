package capture

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/neurocare/go-companion/internal/config"
	"github.com/neurocare/go-companion/pkg/audio"
)

// FrameFunc receives downsampled PCM frames at the pipeline target rate.
type FrameFunc func(frame audio.Frame)

// Engine turns raw device chunks into target-rate PCM frames.
//
// Two downsampling paths exist. The primary path streams chunks off the
// device channel and resamples with linear interpolation. If it delivers
// no frame within the configured first-frame timeout, the engine degrades
// to a secondary synchronous path that decimates each chunk inline. The
// degradation is best-effort and never surfaces as an error.
type Engine struct {
	cfg     config.Audio
	device  Device
	onFrame FrameFunc
	logger  *slog.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	firstWd *time.Timer

	suspended atomic.Bool
	gotFirst  atomic.Bool

	framesEmitted atomic.Int64
	level         atomic.Uint64 // latest frame RMS, float64 bits
	path          atomic.Value  // string
}

// NewEngine creates a capture engine. Frames are delivered to onFrame
// in arrival order from a single goroutine.
func NewEngine(cfg config.Audio, device Device, onFrame FrameFunc, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{
		cfg:     cfg,
		device:  device,
		onFrame: onFrame,
		logger:  logger.With("component", "capture.engine"),
	}
	e.path.Store("none")
	return e
}

// Start acquires the device and begins emitting frames.
// A device acquisition failure is fatal and returned to the caller.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.running {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	if err := e.device.Start(runCtx); err != nil {
		cancel()
		return err
	}

	e.cancel = cancel
	e.running = true
	e.gotFirst.Store(false)
	e.path.Store("stream")

	go e.streamLoop(runCtx)

	// If the streaming path stays silent, degrade to the synchronous
	// path rather than failing.
	e.firstWd = time.AfterFunc(e.cfg.FirstFrameTimeout, func() {
		if e.gotFirst.Load() {
			return
		}
		e.logger.Warn("primary downsampling path produced no frames, degrading",
			"timeout", e.cfg.FirstFrameTimeout)
		e.path.Store("sync")
		go e.syncLoop(runCtx)
	})

	e.logger.Info("capture started",
		"backend", e.device.Name(),
		"capture_rate", e.cfg.CaptureRate,
		"target_rate", e.cfg.TargetRate,
	)
	return nil
}

// streamLoop is the primary path: pull chunks off the device stream and
// resample with linear interpolation.
func (e *Engine) streamLoop(ctx context.Context) {
	stream := e.device.Stream()
	for {
		select {
		case chunk, ok := <-stream:
			if !ok {
				return
			}
			if e.path.Load() != "stream" {
				// Synchronous path took over.
				return
			}
			e.emit(audio.Resample(chunk.Samples, chunk.Rate, e.cfg.TargetRate))
		case <-ctx.Done():
			return
		}
	}
}

// syncLoop is the secondary path: blocking reads with inline decimation.
func (e *Engine) syncLoop(ctx context.Context) {
	for {
		chunk, err := e.device.Read(ctx)
		if err != nil {
			return
		}
		e.emit(audio.Decimate(chunk.Samples, chunk.Rate, e.cfg.TargetRate))
	}
}

func (e *Engine) emit(samples []int16) {
	if len(samples) == 0 {
		return
	}
	e.gotFirst.Store(true)
	if e.suspended.Load() {
		// Agent speech is playing; drop capture output entirely so the
		// segmenter never sees it.
		return
	}
	frame := audio.Frame{Samples: samples, Rate: e.cfg.TargetRate}
	e.level.Store(math.Float64bits(frame.RMS()))
	e.framesEmitted.Add(1)
	e.onFrame(frame)
}

// Suspend stops frame emission while agent playback is in progress.
func (e *Engine) Suspend() {
	e.suspended.Store(true)
	e.logger.Info("capture suspended for playback")
}

// Resume re-enables frame emission after playback.
func (e *Engine) Resume() {
	e.suspended.Store(false)
	e.logger.Info("capture resumed after playback")
}

// Suspended reports whether the engine is currently muted for playback.
func (e *Engine) Suspended() bool {
	return e.suspended.Load()
}

// Level returns the RMS of the most recently emitted frame.
func (e *Engine) Level() float64 {
	return math.Float64frombits(e.level.Load())
}

// Stats describes the engine state for diagnostics.
type Stats struct {
	Running       bool    `json:"running"`
	Backend       string  `json:"backend"`
	Path          string  `json:"path"`
	Suspended     bool    `json:"suspended"`
	FramesEmitted int64   `json:"frames_emitted"`
	Level         float64 `json:"level"`
}

// Stats returns a snapshot of engine state.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	running := e.running
	e.mu.Unlock()
	return Stats{
		Running:       running,
		Backend:       e.device.Name(),
		Path:          e.path.Load().(string),
		Suspended:     e.suspended.Load(),
		FramesEmitted: e.framesEmitted.Load(),
		Level:         e.Level(),
	}
}

// Stop tears down the device stream and halts frame emission.
// Idempotent and safe to call when never started.
func (e *Engine) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.running {
		return nil
	}
	e.running = false

	if e.firstWd != nil {
		e.firstWd.Stop()
		e.firstWd = nil
	}
	if e.cancel != nil {
		e.cancel()
		e.cancel = nil
	}
	err := e.device.Stop()
	e.path.Store("none")
	e.logger.Info("capture stopped")
	return err
}
