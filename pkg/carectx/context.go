// Package carectx models the shared conversational context: who the
// patient is and where their caregiver is. The authoritative store
// lives in the orchestrator; this package provides the client, the
// merge rule for partial updates, and an embeddable local store used
// when no remote store is configured.
package carectx

import "sync"

// Patient describes the person the agent is speaking with.
type Patient struct {
	Name          string            `json:"name,omitempty"`
	PreferredName string            `json:"preferred_name,omitempty"`
	Favorites     map[string]string `json:"favorites,omitempty"`
}

// Caregiver describes the patient's caregiver and availability.
// Status is one of "away_at_work", "with_patient", "unavailable",
// "unknown".
type Caregiver struct {
	Name       string `json:"name,omitempty"`
	Status     string `json:"status,omitempty"`
	ReturnInfo string `json:"return_info,omitempty"`
}

// Context is the shared conversational context document.
type Context struct {
	Patient   Patient   `json:"patient"`
	Caregiver Caregiver `json:"caregiver"`
}

// Merge applies a partial patch: shallow at the top level, with a
// nested merge for the patient and caregiver sub-objects. Zero-valued
// patch fields leave the current value untouched.
func Merge(current Context, patch Context) Context {
	merged := current

	if patch.Patient.Name != "" {
		merged.Patient.Name = patch.Patient.Name
	}
	if patch.Patient.PreferredName != "" {
		merged.Patient.PreferredName = patch.Patient.PreferredName
	}
	if patch.Patient.Favorites != nil {
		merged.Patient.Favorites = patch.Patient.Favorites
	}

	if patch.Caregiver.Name != "" {
		merged.Caregiver.Name = patch.Caregiver.Name
	}
	if patch.Caregiver.Status != "" {
		merged.Caregiver.Status = patch.Caregiver.Status
	}
	if patch.Caregiver.ReturnInfo != "" {
		merged.Caregiver.ReturnInfo = patch.Caregiver.ReturnInfo
	}

	return merged
}

// Store is an in-process context store with the same merge semantics
// as the remote one. The status server hosts it when the client runs
// without an orchestrator-side store.
type Store struct {
	mu  sync.RWMutex
	ctx Context
}

// NewStore creates a store seeded with the given context.
func NewStore(initial Context) *Store {
	return &Store{ctx: initial}
}

// Get returns the current context.
func (s *Store) Get() Context {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ctx
}

// Update merges a partial patch and returns the merged result.
func (s *Store) Update(patch Context) Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ctx = Merge(s.ctx, patch)
	return s.ctx
}
