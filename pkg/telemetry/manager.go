package telemetry

import (
	"encoding/json"
	"log/slog"

	"github.com/neurocare/go-companion/internal/config"
	"github.com/neurocare/go-companion/pkg/audio"
	"github.com/neurocare/go-companion/pkg/mood"
)

// prosodyMsg is the feature-stream wire format.
type prosodyMsg struct {
	Type   string  `json:"type"`
	RMS    float64 `json:"rms"`
	F0Mean float64 `json:"f0_mean"`
	F0Std  float64 `json:"f0_std"`
	ZCR    float64 `json:"zcr"`
	TS     float64 `json:"ts"`
}

// fusionMsg is the fusion-stream wire format.
type fusionMsg struct {
	State      string  `json:"state"`
	Confidence float64 `json:"confidence"`
}

// Manager owns the two streaming channels and routes their inbound
// messages into the shared store. Malformed messages are logged and
// dropped; they never close a connection.
type Manager struct {
	store   *Store
	feature *Channel
	fusion  *Channel
	logger  *slog.Logger

	// OnFusion, if set, is invoked after each fusion mood update.
	OnFusion func(m mood.Signal)
}

// NewManager wires the feature and fusion channels. Only the feature
// channel carries liveness pings.
func NewManager(cfg config.Telemetry, eps config.Endpoints, store *Store, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		store:  store,
		logger: logger.With("component", "telemetry"),
	}
	m.feature = NewChannel("prosody", eps.ProsodyWS,
		cfg.ReconnectBase, cfg.ReconnectMax, cfg.PingInterval,
		m.handleProsody, logger)
	m.fusion = NewChannel("fusion", eps.FusionWS,
		cfg.ReconnectBase, cfg.ReconnectMax, 0,
		m.handleFusion, logger)
	return m
}

// Start enables both channels.
func (m *Manager) Start() {
	m.feature.Enable()
	m.fusion.Enable()
}

// Stop disables both channels.
func (m *Manager) Stop() {
	m.feature.Disable()
	m.fusion.Disable()
}

// SendFrame streams one PCM frame's raw bytes on the feature channel.
// Frames are dropped while the channel is not open.
func (m *Manager) SendFrame(f audio.Frame) {
	m.feature.Send(f.Bytes())
}

// handleProsody updates the prosody snapshot from a recognized message.
func (m *Manager) handleProsody(data []byte) {
	var msg prosodyMsg
	if err := json.Unmarshal(data, &msg); err != nil {
		m.logger.Warn("prosody parse error", "error", err)
		return
	}
	if msg.Type != "prosody" {
		return
	}
	m.store.SetProsody(Prosody{
		AvgRMS: msg.RMS,
		F0Mean: msg.F0Mean,
		F0Std:  msg.F0Std,
		ZCR:    msg.ZCR,
		TS:     msg.TS,
	})
	m.logger.Debug("prosody snapshot", "rms", msg.RMS, "f0_mean", msg.F0Mean)
}

// handleFusion overwrites the process-wide mood signal.
func (m *Manager) handleFusion(data []byte) {
	var msg fusionMsg
	if err := json.Unmarshal(data, &msg); err != nil {
		m.logger.Warn("fusion parse error", "error", err)
		return
	}
	sig := mood.Signal{State: msg.State, Confidence: msg.Confidence}
	if sig.State == "" {
		sig.State = mood.StateUnknown
	}
	m.store.SetMood(sig)
	m.logger.Debug("fusion mood", "state", sig.State, "confidence", sig.Confidence)

	if m.OnFusion != nil {
		m.OnFusion(sig)
	}
}

// ChannelStats describes one channel for diagnostics.
type ChannelStats struct {
	State string `json:"state"`
	Retry int    `json:"retry"`
}

// Stats reports both channels' connection state.
func (m *Manager) Stats() map[string]ChannelStats {
	return map[string]ChannelStats{
		"prosody": {State: m.feature.State().String(), Retry: m.feature.Retry()},
		"fusion":  {State: m.fusion.State().String(), Retry: m.fusion.Retry()},
	}
}

// Feature exposes the feature channel, for tests.
func (m *Manager) Feature() *Channel { return m.feature }

// Fusion exposes the fusion channel, for tests.
func (m *Manager) Fusion() *Channel { return m.fusion }
