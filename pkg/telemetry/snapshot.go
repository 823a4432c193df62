// Package telemetry maintains the two resilient streaming channels to
// the analysis services: the prosody feature stream (outbound PCM,
// inbound feature snapshots) and the mood fusion stream (inbound mood
// updates). Each channel reconnects with capped exponential backoff
// while enabled.
package telemetry

import (
	"sync"

	"github.com/neurocare/go-companion/pkg/mood"
)

// Prosody is the latest acoustic feature snapshot from the feature
// stream. Snapshots replace each other wholesale; fields are never
// merged across messages.
type Prosody struct {
	AvgRMS float64 `json:"avg_rms"`
	F0Mean float64 `json:"f0_mean"`
	F0Std  float64 `json:"f0_std"`
	ZCR    float64 `json:"zcr"`
	TS     float64 `json:"ts"`
}

// Store holds the process-wide last-writer-wins telemetry values read
// by the orchestration pipeline. Writers are the channel read loops;
// a mutex guards against interleaved partial updates.
type Store struct {
	mu      sync.RWMutex
	prosody Prosody
	hasPros bool
	mood    mood.Signal
}

// NewStore creates an empty store. The mood starts unknown and the
// prosody snapshot absent.
func NewStore() *Store {
	return &Store{mood: mood.Unknown()}
}

// SetProsody replaces the prosody snapshot.
func (s *Store) SetProsody(p Prosody) {
	s.mu.Lock()
	s.prosody = p
	s.hasPros = true
	s.mu.Unlock()
}

// Prosody returns the latest snapshot and whether one has been received.
func (s *Store) Prosody() (Prosody, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.prosody, s.hasPros
}

// SetMood replaces the fusion mood signal.
func (s *Store) SetMood(m mood.Signal) {
	s.mu.Lock()
	s.mood = m
	s.mu.Unlock()
}

// Mood returns the latest fusion mood signal.
func (s *Store) Mood() mood.Signal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.mood
}
