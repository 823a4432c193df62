package playback

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/neurocare/go-companion/internal/config"
)

// Manager executes playback tasks strictly one at a time, in enqueue
// order. Around each task it raises the "playback in progress" signal,
// which the capture engine and segmenter use to ignore the agent's own
// speech, and holds it for a fixed tail interval afterwards to absorb
// acoustic echo.
type Manager struct {
	cfg    config.Playback
	tiers  []Tier
	logger *slog.Logger

	// OnPlaybackStart fires before the first tier runs; wiring uses it
	// to suspend capture and reset segmenter stats.
	OnPlaybackStart func()

	// OnPlaybackEnd fires after the tail-hold interval.
	OnPlaybackEnd func()

	queue    chan Task
	speaking atomic.Bool

	startOnce sync.Once
	stopOnce  sync.Once
	done      chan struct{}

	tasksPlayed   atomic.Int64
	tierExhausted atomic.Int64
	lastTier      atomic.Value // string
}

// NewManager creates a playback manager with the standard tier chain:
// external media player, direct decode, local synthesis.
func NewManager(cfg config.Playback, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "playback")
	m := &Manager{
		cfg:    cfg,
		logger: logger,
		tiers: []Tier{
			&mediaTier{logger: logger},
			&decodeTier{logger: logger},
			&speakTier{fallbackPhrase: cfg.FallbackPhrase, logger: logger},
		},
		queue: make(chan Task, 16),
		done:  make(chan struct{}),
	}
	m.lastTier.Store("")
	return m
}

// NewManagerWithTiers creates a manager with a custom tier chain.
// The last tier must never fail.
func NewManagerWithTiers(cfg config.Playback, logger *slog.Logger, tiers ...Tier) *Manager {
	m := NewManager(cfg, logger)
	m.tiers = tiers
	return m
}

// Start launches the single playback worker.
func (m *Manager) Start() {
	m.startOnce.Do(func() {
		go m.worker()
	})
}

// Enqueue adds a task to the tail of the queue. Tasks with neither
// audio nor text are dropped.
func (m *Manager) Enqueue(task Task) {
	if len(task.Audio) == 0 && task.Text == "" {
		m.logger.Warn("dropping empty playback task", "utterance", task.UtteranceID)
		return
	}
	m.queue <- task
}

// Speaking reports whether playback (including the tail hold) is in
// progress. This is the gate the segmenter consults.
func (m *Manager) Speaking() bool {
	return m.speaking.Load()
}

func (m *Manager) worker() {
	for {
		select {
		case task := <-m.queue:
			m.run(task)
		case <-m.done:
			return
		}
	}
}

// run executes one task through the tier chain, then holds the
// speaking signal for the echo tail before resuming capture.
func (m *Manager) run(task Task) {
	m.speaking.Store(true)
	if m.OnPlaybackStart != nil {
		m.OnPlaybackStart()
	}
	m.logger.Info("playback start",
		"utterance", task.UtteranceID,
		"bytes", len(task.Audio),
		"mime", task.Mime,
	)

	for i, tier := range m.tiers {
		ctx, cancel := context.WithTimeout(context.Background(), m.cfg.Watchdog)
		err := tier.Play(ctx, task)
		cancel()

		if err == nil {
			if i == len(m.tiers)-1 {
				m.tierExhausted.Add(1)
			}
			m.lastTier.Store(tier.Name())
			m.logger.Info("playback done", "utterance", task.UtteranceID, "tier", tier.Name())
			break
		}
		m.logger.Warn("playback tier failed, falling through",
			"utterance", task.UtteranceID,
			"tier", tier.Name(),
			"error", err,
		)
	}

	m.tasksPlayed.Add(1)

	// Keep the mic muted across the acoustic tail of the agent's speech.
	time.Sleep(m.cfg.TailHold)

	m.speaking.Store(false)
	if m.OnPlaybackEnd != nil {
		m.OnPlaybackEnd()
	}
}

// Stats describes playback activity for diagnostics.
type Stats struct {
	Speaking      bool   `json:"speaking"`
	Queued        int    `json:"queued"`
	TasksPlayed   int64  `json:"tasks_played"`
	TierExhausted int64  `json:"tier_exhausted"`
	LastTier      string `json:"last_tier"`
}

// Stats returns a snapshot of playback state.
func (m *Manager) Stats() Stats {
	return Stats{
		Speaking:      m.speaking.Load(),
		Queued:        len(m.queue),
		TasksPlayed:   m.tasksPlayed.Load(),
		TierExhausted: m.tierExhausted.Load(),
		LastTier:      m.lastTier.Load().(string),
	}
}

// Stop halts the worker. Pending queued tasks are not executed.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() {
		close(m.done)
	})
}
