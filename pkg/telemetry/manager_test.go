package telemetry

import (
	"testing"

	"github.com/neurocare/go-companion/internal/config"
	"github.com/neurocare/go-companion/pkg/mood"
)

func testManager() (*Manager, *Store) {
	store := NewStore()
	m := NewManager(config.Telemetry{}, config.Endpoints{}, store, nil)
	return m, store
}

func TestStore_Defaults(t *testing.T) {
	store := NewStore()

	if _, ok := store.Prosody(); ok {
		t.Error("Expected no prosody snapshot initially")
	}
	if got := store.Mood(); got.State != mood.StateUnknown {
		t.Errorf("Expected unknown mood, got %s", got.State)
	}
}

func TestManager_ProsodyMessageUpdatesSnapshot(t *testing.T) {
	m, store := testManager()

	m.handleProsody([]byte(`{"type":"prosody","rms":0.042,"f0_mean":180.5,"f0_std":12.1,"zcr":0.3,"ts":1700000000.5}`))

	snap, ok := store.Prosody()
	if !ok {
		t.Fatal("Expected a prosody snapshot")
	}
	if snap.AvgRMS != 0.042 {
		t.Errorf("Expected avg_rms 0.042, got %v", snap.AvgRMS)
	}
	if snap.F0Mean != 180.5 {
		t.Errorf("Expected f0_mean 180.5, got %v", snap.F0Mean)
	}
	if snap.TS != 1700000000.5 {
		t.Errorf("Expected ts carried through, got %v", snap.TS)
	}
}

func TestManager_ProsodyIgnoresOtherTypes(t *testing.T) {
	m, store := testManager()

	m.handleProsody([]byte(`{"type":"status","rms":0.9}`))

	if _, ok := store.Prosody(); ok {
		t.Error("Expected non-prosody messages to be ignored")
	}
}

func TestManager_MalformedMessagesDropped(t *testing.T) {
	m, store := testManager()

	m.handleProsody([]byte(`{not json`))
	m.handleFusion([]byte(`garbage`))

	if _, ok := store.Prosody(); ok {
		t.Error("Expected malformed prosody to be dropped")
	}
	if got := store.Mood(); got.State != mood.StateUnknown {
		t.Errorf("Expected mood unchanged, got %s", got.State)
	}
}

func TestManager_FusionUpdatesMoodAndNotifies(t *testing.T) {
	m, store := testManager()

	var seen []mood.Signal
	m.OnFusion = func(sig mood.Signal) { seen = append(seen, sig) }

	m.handleFusion([]byte(`{"state":"anxious","confidence":0.8}`))

	got := store.Mood()
	if got.State != mood.StateAnxious || got.Confidence != 0.8 {
		t.Errorf("Expected anxious/0.8, got %+v", got)
	}
	if len(seen) != 1 || seen[0].State != mood.StateAnxious {
		t.Errorf("Expected OnFusion callback with the signal, got %+v", seen)
	}

	// Snapshots replace each other wholesale.
	m.handleFusion([]byte(`{"state":"calm","confidence":0.4}`))
	if got := store.Mood(); got.State != mood.StateCalm {
		t.Errorf("Expected calm after second update, got %s", got.State)
	}
}

func TestManager_FusionEmptyStateMapsToUnknown(t *testing.T) {
	m, store := testManager()

	m.handleFusion([]byte(`{"confidence":0.5}`))

	if got := store.Mood(); got.State != mood.StateUnknown {
		t.Errorf("Expected unknown for empty state, got %s", got.State)
	}
}

func TestManager_Stats(t *testing.T) {
	m, _ := testManager()

	stats := m.Stats()
	if stats["prosody"].State != "stopped" || stats["fusion"].State != "stopped" {
		t.Errorf("Expected both channels stopped, got %+v", stats)
	}
}
