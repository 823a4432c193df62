// Package vad segments the continuous microphone stream into utterances
// using frame energy. An utterance opens on the first frame whose RMS
// exceeds the speech threshold and closes on accumulated silence, a
// stalled stream, a duration cap, or an explicit stop.
package vad

import (
	"log/slog"
	"sync"
	"time"

	"github.com/neurocare/go-companion/internal/config"
	"github.com/neurocare/go-companion/pkg/audio"
)

// Reason tags why an utterance was finalized. Reasons are diagnostic
// only; they never change what happens to the utterance.
type Reason string

const (
	ReasonSilence Reason = "silence"
	ReasonStall   Reason = "stall"
	ReasonMax     Reason = "max"
	ReasonStop    Reason = "stop"
)

// Utterance is a finalized stretch of speech handed downstream.
type Utterance struct {
	// ID increases monotonically for the life of the segmenter.
	ID int64

	// Frames is the accumulated PCM, in arrival order.
	Frames []audio.Frame

	// Features is the immutable stats snapshot computed at finalization.
	Features audio.Features

	// Reason tags the finalization trigger.
	Reason Reason
}

// FinalizeFunc receives finalized utterances that passed the minimum
// viable length check.
type FinalizeFunc func(u Utterance)

// Segmenter is a two-state machine: Idle (no open utterance) and Active.
type Segmenter struct {
	cfg     config.VAD
	onFinal FinalizeFunc
	logger  *slog.Logger
	now     func() time.Time

	mu        sync.Mutex
	seq       int64
	start     time.Time // zero while Idle
	lastFrame time.Time
	silence   time.Duration
	frames    []audio.Frame
	stats     audio.Stats

	gate func() bool // true while agent playback is in progress

	watchStop chan struct{}
}

// Option configures a Segmenter.
type Option func(*Segmenter)

// WithClock substitutes the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Segmenter) { s.now = now }
}

// WithPlaybackGate installs the playback-in-progress signal. While the
// gate reports true, incoming frames are ignored entirely so the
// segmenter cannot trigger on the agent's own speech.
func WithPlaybackGate(gate func() bool) Option {
	return func(s *Segmenter) { s.gate = gate }
}

// New creates a Segmenter delivering finalized utterances to onFinal.
func New(cfg config.VAD, onFinal FinalizeFunc, logger *slog.Logger, opts ...Option) *Segmenter {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Segmenter{
		cfg:     cfg,
		onFinal: onFinal,
		logger:  logger.With("component", "vad"),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// HandleFrame consumes one PCM frame in arrival order.
func (s *Segmenter) HandleFrame(frame audio.Frame) {
	if s.gate != nil && s.gate() {
		return
	}

	rms := frame.RMS()

	s.mu.Lock()
	now := s.now()
	var dt time.Duration
	if !s.lastFrame.IsZero() {
		dt = now.Sub(s.lastFrame)
	}
	s.lastFrame = now

	if rms > s.cfg.SpeechRMS {
		if s.start.IsZero() {
			s.seq++
			s.start = now
			s.logger.Info("speech start", "utterance", s.seq, "rms", rms)
		}
		s.frames = append(s.frames, frame)
		s.stats.Add(rms)
		s.silence = 0
	} else if !s.start.IsZero() {
		s.frames = append(s.frames, frame)
		s.stats.Add(rms)
		s.silence += dt
	}

	if !s.start.IsZero() && s.silence > s.cfg.MinSilence {
		s.finalizeLocked(ReasonSilence)
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
}

// Finalize closes the open utterance with the given reason.
// With no open utterance it is a no-op, not an error.
func (s *Segmenter) Finalize(reason Reason) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finalizeLocked(reason)
}

// finalizeLocked computes features, resets to Idle, and hands the
// utterance downstream unless it is below the minimum viable length.
func (s *Segmenter) finalizeLocked(reason Reason) {
	if s.start.IsZero() {
		s.logger.Debug("finalize ignored, no open utterance", "reason", reason)
		return
	}

	now := s.now()
	duration := now.Sub(s.start)
	features := audio.Features{
		DurationMs: int(duration.Milliseconds()),
		AvgRMS:     s.stats.Avg(),
		MaxRMS:     s.stats.Max,
	}
	frames := s.frames
	id := s.seq

	s.resetLocked()

	s.logger.Info("utterance finalized",
		"utterance", id,
		"reason", string(reason),
		"duration_ms", features.DurationMs,
		"max_rms", features.MaxRMS,
		"frames", len(frames),
	)

	if duration < s.cfg.MinUtterance {
		s.logger.Warn("discarding short utterance",
			"utterance", id,
			"duration_ms", features.DurationMs,
			"reason", string(reason),
		)
		return
	}

	if s.onFinal != nil {
		s.onFinal(Utterance{ID: id, Frames: frames, Features: features, Reason: reason})
	}
}

// Reset drops the open utterance and running stats without finalizing.
// The playback manager calls this when agent speech starts.
func (s *Segmenter) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetLocked()
}

func (s *Segmenter) resetLocked() {
	s.start = time.Time{}
	s.silence = 0
	s.frames = nil
	s.stats.Reset()
}

// Active reports whether an utterance is currently open.
func (s *Segmenter) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.start.IsZero()
}

// StartWatchdog launches the periodic check that finalizes an open
// utterance when the stream stalls or the duration cap is hit.
func (s *Segmenter) StartWatchdog() {
	s.mu.Lock()
	if s.watchStop != nil {
		s.mu.Unlock()
		return
	}
	stop := make(chan struct{})
	s.watchStop = stop
	s.mu.Unlock()

	go func() {
		ticker := time.NewTicker(s.cfg.WatchInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.checkWatchdog()
			case <-stop:
				return
			}
		}
	}()
}

// checkWatchdog applies the stall and max-duration triggers.
func (s *Segmenter) checkWatchdog() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.start.IsZero() {
		return
	}
	now := s.now()
	if gap := now.Sub(s.lastFrame); gap > s.cfg.StallGap {
		s.logger.Warn("stall watchdog finalize", "gap_ms", gap.Milliseconds())
		s.finalizeLocked(ReasonStall)
		return
	}
	if dur := now.Sub(s.start); dur > s.cfg.MaxUtterance {
		s.logger.Warn("max-utterance finalize", "duration_ms", dur.Milliseconds())
		s.finalizeLocked(ReasonMax)
	}
}

// Stop finalizes any open utterance and halts the watchdog.
func (s *Segmenter) Stop() {
	s.Finalize(ReasonStop)

	s.mu.Lock()
	stop := s.watchStop
	s.watchStop = nil
	s.mu.Unlock()
	if stop != nil {
		close(stop)
	}
}
