package respond

import (
	"context"
	"encoding/base64"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/neurocare/go-companion/internal/config"
	"github.com/neurocare/go-companion/pkg/audio"
	"github.com/neurocare/go-companion/pkg/mood"
	"github.com/neurocare/go-companion/pkg/playback"
	"github.com/neurocare/go-companion/pkg/telemetry"
	"github.com/neurocare/go-companion/pkg/vad"
)

// minAudioBase64 is the payload size below which the reply audio is
// treated as absent and the synthesis fallback is used instead.
const minAudioBase64 = 32

// Enqueuer is what the pipeline needs from the playback manager.
type Enqueuer interface {
	Enqueue(task playback.Task)
}

// Pipeline sequences transcription, mood fusion, the reply request and
// playback for each finalized utterance. A single debounce deadline
// gates new triggers; overlapping utterances are dropped, not queued.
type Pipeline struct {
	cfg      config.Respond
	services Services
	store    *telemetry.Store
	player   Enqueuer
	patient  string
	session  string
	logger   *slog.Logger
	now      func() time.Time

	mu            sync.Mutex
	debounceUntil time.Time
	lastHeard     string
	lastReply     string
	lastNotified  string
	lastNotifyAt  time.Time
	triggered     int64
	dropped       int64
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithClock substitutes the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// NewPipeline creates the orchestration pipeline.
func NewPipeline(cfg config.Respond, patient string, services Services, store *telemetry.Store, player Enqueuer, logger *slog.Logger, opts ...Option) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pipeline{
		cfg:      cfg,
		services: services,
		store:    store,
		player:   player,
		patient:  patient,
		session:  uuid.NewString(),
		logger:   logger.With("component", "respond"),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Session returns the session identifier attached to notifications.
func (p *Pipeline) Session() string { return p.session }

// HandleUtterance is the entry point for finalized utterances. The
// debounce decision is made synchronously; the service calls run in
// their own goroutine so segmentation of the next utterance is never
// blocked by in-flight requests.
func (p *Pipeline) HandleUtterance(u vad.Utterance) {
	p.mu.Lock()
	now := p.now()
	if now.Before(p.debounceUntil) {
		p.dropped++
		remaining := p.debounceUntil.Sub(now)
		p.mu.Unlock()
		p.logger.Debug("utterance debounced",
			"utterance", u.ID,
			"remaining_ms", remaining.Milliseconds(),
		)
		return
	}
	p.debounceUntil = now.Add(p.cfg.Debounce)
	p.triggered++
	p.mu.Unlock()

	go p.process(u)
}

// unlockDebounce reopens the gate immediately so a failed exchange does
// not leave the system unresponsive. Successful exchanges keep the full
// debounce window.
func (p *Pipeline) unlockDebounce() {
	p.mu.Lock()
	p.debounceUntil = p.now()
	p.mu.Unlock()
}

func (p *Pipeline) process(u vad.Utterance) {
	ctx := context.Background()

	wav, err := encodeUtterance(u)
	if err != nil {
		p.logger.Error("encode failed", "utterance", u.ID, "error", err)
		p.unlockDebounce()
		return
	}

	text, err := p.services.Transcribe(ctx, wav)
	if err != nil {
		p.logger.Error("transcription failed", "utterance", u.ID, "error", err)
		p.unlockDebounce()
		return
	}
	if text == "" {
		p.logger.Warn("empty transcript, unlocking debounce", "utterance", u.ID)
		p.unlockDebounce()
		return
	}

	p.mu.Lock()
	p.lastHeard = text
	p.mu.Unlock()
	p.logger.Info("transcript", "utterance", u.ID, "len", len(text))

	keyword, hasKeyword := mood.FromTranscript(text)
	merged := mood.Merge(keyword, hasKeyword, p.store.Mood())
	prosody := p.mergeProsody(u.Features)

	reply, err := p.services.Respond(ctx, Request{
		Mood:       merged,
		Prosody:    prosody,
		Transcript: text,
		Patient:    Patient{Name: p.patient},
	})
	if err != nil {
		p.logger.Error("reply request failed", "utterance", u.ID, "error", err)
		p.unlockDebounce()
		return
	}

	p.mu.Lock()
	p.lastReply = reply.Text
	p.mu.Unlock()
	p.logger.Info("reply",
		"utterance", u.ID,
		"text_len", len(reply.Text),
		"audio_b64_len", len(reply.AudioBase64),
	)

	if p.cfg.NotifyMode == "on_reply" {
		go p.notify(Notification{
			Trigger:    "agent_reply",
			Transcript: text,
			ReplyText:  reply.Text,
			Mood:       merged,
			Source:     "webclient",
			TS:         p.now().UnixMilli(),
			Session:    p.session,
			Utterance:  u.ID,
		})
	}

	p.enqueuePlayback(u.ID, reply)
}

// mergeProsody starts from the utterance's local features and overlays
// the latest streamed snapshot, which wins for the fields it provides.
func (p *Pipeline) mergeProsody(f audio.Features) *ProsodyPayload {
	payload := &ProsodyPayload{
		AvgRMS:     f.AvgRMS,
		DurationMs: f.DurationMs,
		MaxRMS:     f.MaxRMS,
	}
	if snap, ok := p.store.Prosody(); ok {
		payload.AvgRMS = snap.AvgRMS
		payload.F0Mean = snap.F0Mean
		payload.F0Std = snap.F0Std
		payload.ZCR = snap.ZCR
		payload.TS = snap.TS
	}
	return payload
}

// enqueuePlayback picks the playback task for a reply: the synthesized
// audio when non-trivial, otherwise local synthesis of the reply text,
// otherwise nothing.
func (p *Pipeline) enqueuePlayback(utteranceID int64, reply Reply) {
	if len(reply.AudioBase64) > minAudioBase64 {
		decoded, err := base64.StdEncoding.DecodeString(reply.AudioBase64)
		if err == nil {
			mime := reply.Mime
			if mime == "" {
				mime = "audio/mpeg"
			}
			p.player.Enqueue(playback.Task{
				Audio:       decoded,
				Mime:        mime,
				Text:        reply.Text,
				UtteranceID: utteranceID,
			})
			return
		}
		p.logger.Warn("reply audio decode failed, using synthesis", "error", err)
	}
	if reply.Text != "" {
		p.logger.Warn("no reply audio, falling back to local synthesis", "utterance", utteranceID)
		p.player.Enqueue(playback.Task{Text: reply.Text, UtteranceID: utteranceID})
		return
	}
	p.logger.Warn("reply has neither audio nor text", "utterance", utteranceID)
}

// notify posts a caregiver notification; failures are logged only.
func (p *Pipeline) notify(n Notification) {
	if err := p.services.Notify(context.Background(), n); err != nil {
		p.logger.Warn("notification failed", "trigger", n.Trigger, "error", err)
		return
	}
	p.logger.Info("notification sent", "trigger", n.Trigger, "transcript_len", len(n.Transcript))
}

// HandleFusion implements the legacy fusion-triggered notification
// mode: alert when a fresh transcript exists and the rate limit allows.
func (p *Pipeline) HandleFusion(sig mood.Signal) {
	if p.cfg.NotifyMode != "on_fusion" {
		return
	}

	p.mu.Lock()
	heard := p.lastHeard
	now := p.now()
	if heard == "" || heard == p.lastNotified || now.Sub(p.lastNotifyAt) <= p.cfg.FusionNotifyMinGap {
		p.mu.Unlock()
		return
	}
	p.lastNotified = heard
	p.lastNotifyAt = now
	p.mu.Unlock()

	keyword, hasKeyword := mood.FromTranscript(heard)
	merged := mood.Merge(keyword, hasKeyword, sig)

	go p.notify(Notification{
		Trigger:    "fusion",
		Transcript: heard,
		Mood:       merged,
		Source:     "webclient",
		TS:         now.UnixMilli(),
		Session:    p.session,
	})
}

// Stats describes pipeline activity for diagnostics.
type Stats struct {
	Triggered int64  `json:"triggered"`
	Dropped   int64  `json:"dropped"`
	LastHeard string `json:"last_heard"`
	LastReply string `json:"last_reply"`
}

// Stats returns a snapshot of pipeline state.
func (p *Pipeline) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		Triggered: p.triggered,
		Dropped:   p.dropped,
		LastHeard: p.lastHeard,
		LastReply: p.lastReply,
	}
}

// encodeUtterance flattens the utterance frames into one WAV payload.
func encodeUtterance(u vad.Utterance) ([]byte, error) {
	var total int
	for _, f := range u.Frames {
		total += len(f.Samples)
	}
	samples := make([]int16, 0, total)
	rate := 16000
	for _, f := range u.Frames {
		samples = append(samples, f.Samples...)
		rate = f.Rate
	}
	return audio.EncodeWAV(samples, rate)
}
