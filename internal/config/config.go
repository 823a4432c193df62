// Package config holds the companion client configuration.
//
// Configuration is loaded from an optional YAML file with environment
// variable overrides for the service endpoints. All duration fields use
// Go duration syntax in YAML (e.g. "1200ms", "15s").
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Endpoints lists the external collaborators the client talks to.
type Endpoints struct {
	// ProsodyWS is the prosody feature stream websocket URL.
	ProsodyWS string `yaml:"prosody_ws" json:"prosody_ws"`

	// FusionWS is the mood fusion stream websocket URL.
	FusionWS string `yaml:"fusion_ws" json:"fusion_ws"`

	// TranscribeURL accepts multipart WAV and returns {text}.
	TranscribeURL string `yaml:"transcribe_url" json:"transcribe_url"`

	// RespondURL composes the agent reply.
	RespondURL string `yaml:"respond_url" json:"respond_url"`

	// NotifyURL receives fire-and-forget caregiver notifications.
	NotifyURL string `yaml:"notify_url" json:"notify_url"`

	// ContextURL is the shared conversational context store.
	ContextURL string `yaml:"context_url" json:"context_url"`
}

// Audio holds capture parameters.
type Audio struct {
	// CaptureRate is the nominal device capture rate in Hz.
	CaptureRate int `yaml:"capture_rate" json:"capture_rate"`

	// TargetRate is the pipeline PCM rate in Hz. Everything downstream
	// of the capture engine assumes this rate.
	TargetRate int `yaml:"target_rate" json:"target_rate"`

	// BufferDuration is the size of capture buffers.
	BufferDuration time.Duration `yaml:"buffer_duration" json:"buffer_duration"`

	// Device is the platform-specific input device identifier.
	Device string `yaml:"device" json:"device"`

	// FirstFrameTimeout bounds how long the primary downsampling path
	// may stay silent before the engine degrades to the synchronous path.
	FirstFrameTimeout time.Duration `yaml:"first_frame_timeout" json:"first_frame_timeout"`
}

// VAD holds the utterance segmentation parameters.
type VAD struct {
	// SpeechRMS is the speech-energy threshold on a normalized [-1,1] scale.
	SpeechRMS float64 `yaml:"speech_rms" json:"speech_rms"`

	// MinSilence is the accumulated silence that finalizes an utterance.
	MinSilence time.Duration `yaml:"min_silence" json:"min_silence"`

	// MinUtterance is the minimum viable utterance length; shorter
	// utterances are discarded as energy blips.
	MinUtterance time.Duration `yaml:"min_utterance" json:"min_utterance"`

	// MaxUtterance force-finalizes an utterance regardless of energy.
	MaxUtterance time.Duration `yaml:"max_utterance" json:"max_utterance"`

	// StallGap is the wall-clock gap since the last frame that makes the
	// watchdog finalize an open utterance.
	StallGap time.Duration `yaml:"stall_gap" json:"stall_gap"`

	// WatchInterval is how often the watchdog checks for stalls.
	WatchInterval time.Duration `yaml:"watch_interval" json:"watch_interval"`
}

// Telemetry holds the streaming channel parameters.
type Telemetry struct {
	// PingInterval is the liveness ping cadence on the feature stream.
	PingInterval time.Duration `yaml:"ping_interval" json:"ping_interval"`

	// ReconnectBase is the backoff base delay.
	ReconnectBase time.Duration `yaml:"reconnect_base" json:"reconnect_base"`

	// ReconnectMax caps the backoff delay.
	ReconnectMax time.Duration `yaml:"reconnect_max" json:"reconnect_max"`
}

// Respond holds the orchestration parameters.
type Respond struct {
	// Debounce is the minimum interval between reply triggers.
	Debounce time.Duration `yaml:"debounce" json:"debounce"`

	// NotifyMode selects when caregiver notifications fire:
	// "on_reply", "on_fusion", or "off".
	NotifyMode string `yaml:"notify_mode" json:"notify_mode"`

	// FusionNotifyMinGap rate-limits "on_fusion" notifications.
	FusionNotifyMinGap time.Duration `yaml:"fusion_notify_min_gap" json:"fusion_notify_min_gap"`
}

// Playback holds the playback manager parameters.
type Playback struct {
	// Watchdog bounds how long the primary player may run without
	// reporting end-of-media.
	Watchdog time.Duration `yaml:"watchdog" json:"watchdog"`

	// TailHold keeps capture suspended after playback to absorb echo.
	TailHold time.Duration `yaml:"tail_hold" json:"tail_hold"`

	// FallbackPhrase is spoken by the last-resort synthesis tier.
	FallbackPhrase string `yaml:"fallback_phrase" json:"fallback_phrase"`
}

// Config is the full client configuration.
type Config struct {
	LogLevel  string    `yaml:"log_level" json:"log_level"`
	WebAddr   string    `yaml:"web_addr" json:"web_addr"`
	Patient   string    `yaml:"patient" json:"patient"`
	Endpoints Endpoints `yaml:"endpoints" json:"endpoints"`
	Audio     Audio     `yaml:"audio" json:"audio"`
	VAD       VAD       `yaml:"vad" json:"vad"`
	Telemetry Telemetry `yaml:"telemetry" json:"telemetry"`
	Respond   Respond   `yaml:"respond" json:"respond"`
	Playback  Playback  `yaml:"playback" json:"playback"`
}

// Default returns a Config with sensible defaults, matching the
// parameters the pipeline was tuned with.
func Default() Config {
	return Config{
		LogLevel: "info",
		WebAddr:  ":8090",
		Patient:  "Alex",
		Endpoints: Endpoints{
			ProsodyWS:     "ws://localhost:8001/stream-prosody",
			FusionWS:      "ws://localhost:8003/mood",
			TranscribeURL: "http://localhost:8081/stt",
			RespondURL:    "http://localhost:8081/respond",
			NotifyURL:     "http://localhost:8081/notify",
			ContextURL:    "http://localhost:8081/context",
		},
		Audio: Audio{
			CaptureRate:       48000,
			TargetRate:        16000,
			BufferDuration:    20 * time.Millisecond,
			FirstFrameTimeout: 1000 * time.Millisecond,
		},
		VAD: VAD{
			SpeechRMS:     0.010,
			MinSilence:    1200 * time.Millisecond,
			MinUtterance:  600 * time.Millisecond,
			MaxUtterance:  9000 * time.Millisecond,
			StallGap:      1400 * time.Millisecond,
			WatchInterval: 200 * time.Millisecond,
		},
		Telemetry: Telemetry{
			PingInterval:  15 * time.Second,
			ReconnectBase: 300 * time.Millisecond,
			ReconnectMax:  5 * time.Second,
		},
		Respond: Respond{
			Debounce:           1500 * time.Millisecond,
			NotifyMode:         "on_reply",
			FusionNotifyMinGap: 8 * time.Second,
		},
		Playback: Playback{
			Watchdog:       25 * time.Second,
			TailHold:       700 * time.Millisecond,
			FallbackPhrase: "I'm here with you.",
		},
	}
}

// Load reads configuration from an optional YAML file, then applies
// environment overrides. An empty path loads defaults only.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// applyEnv overrides endpoints from the environment so containerized
// deployments can rewire services without a config file.
func (c *Config) applyEnv() {
	envStr(&c.Endpoints.ProsodyWS, "COMPANION_PROSODY_WS")
	envStr(&c.Endpoints.FusionWS, "COMPANION_FUSION_WS")
	envStr(&c.Endpoints.TranscribeURL, "COMPANION_STT_URL")
	envStr(&c.Endpoints.RespondURL, "COMPANION_RESPOND_URL")
	envStr(&c.Endpoints.NotifyURL, "COMPANION_NOTIFY_URL")
	envStr(&c.Endpoints.ContextURL, "COMPANION_CONTEXT_URL")
	envStr(&c.Patient, "COMPANION_PATIENT")
	envStr(&c.LogLevel, "COMPANION_LOG_LEVEL")
	envStr(&c.WebAddr, "COMPANION_WEB_ADDR")
}

func envStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.Audio.CaptureRate <= 0 {
		return fmt.Errorf("config: capture_rate must be positive, got %d", c.Audio.CaptureRate)
	}
	if c.Audio.TargetRate <= 0 {
		return fmt.Errorf("config: target_rate must be positive, got %d", c.Audio.TargetRate)
	}
	if c.Audio.CaptureRate < c.Audio.TargetRate {
		return fmt.Errorf("config: capture_rate %d below target_rate %d", c.Audio.CaptureRate, c.Audio.TargetRate)
	}
	if c.Audio.BufferDuration <= 0 {
		return fmt.Errorf("config: buffer_duration must be positive, got %v", c.Audio.BufferDuration)
	}
	if c.VAD.SpeechRMS <= 0 || c.VAD.SpeechRMS >= 1 {
		return fmt.Errorf("config: speech_rms must be in (0,1), got %v", c.VAD.SpeechRMS)
	}
	if c.VAD.MinUtterance > c.VAD.MaxUtterance {
		return fmt.Errorf("config: min_utterance %v exceeds max_utterance %v", c.VAD.MinUtterance, c.VAD.MaxUtterance)
	}
	switch c.Respond.NotifyMode {
	case "on_reply", "on_fusion", "off":
	default:
		return fmt.Errorf("config: unknown notify_mode %q", c.Respond.NotifyMode)
	}
	if c.Telemetry.ReconnectBase <= 0 || c.Telemetry.ReconnectMax < c.Telemetry.ReconnectBase {
		return fmt.Errorf("config: bad reconnect window %v..%v", c.Telemetry.ReconnectBase, c.Telemetry.ReconnectMax)
	}
	return nil
}

// BufferSize returns the number of device-rate samples per capture buffer.
func (a *Audio) BufferSize() int {
	return int(float64(a.CaptureRate) * a.BufferDuration.Seconds())
}
