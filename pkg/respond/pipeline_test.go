package respond_test

import (
	"context"
	"encoding/base64"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/neurocare/go-companion/internal/config"
	"github.com/neurocare/go-companion/pkg/audio"
	"github.com/neurocare/go-companion/pkg/mood"
	"github.com/neurocare/go-companion/pkg/playback"
	"github.com/neurocare/go-companion/pkg/respond"
	"github.com/neurocare/go-companion/pkg/telemetry"
	"github.com/neurocare/go-companion/pkg/vad"
)

type mockServices struct {
	mu            sync.Mutex
	wavs          [][]byte
	requests      []respond.Request
	notifications []respond.Notification

	transcript    string
	transcribeErr error
	reply         respond.Reply
	respondErr    error
}

func (m *mockServices) Transcribe(ctx context.Context, wav []byte) (string, error) {
	m.mu.Lock()
	m.wavs = append(m.wavs, wav)
	m.mu.Unlock()
	return m.transcript, m.transcribeErr
}

func (m *mockServices) Respond(ctx context.Context, req respond.Request) (respond.Reply, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	m.mu.Unlock()
	return m.reply, m.respondErr
}

func (m *mockServices) Notify(ctx context.Context, n respond.Notification) error {
	m.mu.Lock()
	m.notifications = append(m.notifications, n)
	m.mu.Unlock()
	return nil
}

func (m *mockServices) transcribeCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.wavs)
}

func (m *mockServices) notifyCalls() []respond.Notification {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]respond.Notification(nil), m.notifications...)
}

type mockPlayer struct {
	mu    sync.Mutex
	tasks []playback.Task
}

func (p *mockPlayer) Enqueue(task playback.Task) {
	p.mu.Lock()
	p.tasks = append(p.tasks, task)
	p.mu.Unlock()
}

func (p *mockPlayer) queued() []playback.Task {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]playback.Task(nil), p.tasks...)
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func testRespondConfig() config.Respond {
	return config.Respond{
		Debounce:           1500 * time.Millisecond,
		NotifyMode:         "on_reply",
		FusionNotifyMinGap: 8 * time.Second,
	}
}

func testUtterance(id int64) vad.Utterance {
	samples := make([]int16, 16000) // 1s of tone
	for i := range samples {
		samples[i] = 3000
	}
	return vad.Utterance{
		ID:       id,
		Frames:   []audio.Frame{{Samples: samples, Rate: 16000}},
		Features: audio.Features{DurationMs: 1000, AvgRMS: 0.09, MaxRMS: 0.12},
		Reason:   vad.ReasonSilence,
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestPipeline_DebounceDropsOverlappingUtterances(t *testing.T) {
	clock := newFakeClock()
	services := &mockServices{transcript: "hello there"}
	player := &mockPlayer{}
	p := respond.NewPipeline(testRespondConfig(), "Alex", services,
		telemetry.NewStore(), player, nil, respond.WithClock(clock.Now))

	p.HandleUtterance(testUtterance(1))
	p.HandleUtterance(testUtterance(2))
	p.HandleUtterance(testUtterance(3))

	stats := p.Stats()
	if stats.Triggered != 1 {
		t.Errorf("Expected 1 trigger, got %d", stats.Triggered)
	}
	if stats.Dropped != 2 {
		t.Errorf("Expected 2 dropped, got %d", stats.Dropped)
	}

	waitFor(t, func() bool { return services.transcribeCalls() == 1 })
}

func TestPipeline_DebounceReopensAfterWindow(t *testing.T) {
	clock := newFakeClock()
	services := &mockServices{transcript: "hello", reply: respond.Reply{Text: "hi"}}
	player := &mockPlayer{}
	p := respond.NewPipeline(testRespondConfig(), "Alex", services,
		telemetry.NewStore(), player, nil, respond.WithClock(clock.Now))

	p.HandleUtterance(testUtterance(1))
	waitFor(t, func() bool { return len(player.queued()) == 1 })

	// Still inside the window: a success keeps the full debounce.
	p.HandleUtterance(testUtterance(2))
	if stats := p.Stats(); stats.Triggered != 1 || stats.Dropped != 1 {
		t.Errorf("Expected success to hold the debounce, got %+v", stats)
	}

	clock.Advance(2 * time.Second)
	p.HandleUtterance(testUtterance(3))
	if stats := p.Stats(); stats.Triggered != 2 {
		t.Errorf("Expected trigger after window expiry, got %+v", stats)
	}
}

func TestPipeline_TranscribeFailureUnlocksDebounce(t *testing.T) {
	clock := newFakeClock()
	services := &mockServices{transcribeErr: errors.New("stt down")}
	p := respond.NewPipeline(testRespondConfig(), "Alex", services,
		telemetry.NewStore(), &mockPlayer{}, nil, respond.WithClock(clock.Now))

	p.HandleUtterance(testUtterance(1))
	waitFor(t, func() bool { return services.transcribeCalls() == 1 })

	// The failure reopens the gate without waiting out the window.
	waitFor(t, func() bool {
		p.HandleUtterance(testUtterance(2))
		return p.Stats().Triggered == 2
	})
}

func TestPipeline_EmptyTranscriptAbortsAndUnlocks(t *testing.T) {
	clock := newFakeClock()
	services := &mockServices{transcript: ""}
	p := respond.NewPipeline(testRespondConfig(), "Alex", services,
		telemetry.NewStore(), &mockPlayer{}, nil, respond.WithClock(clock.Now))

	p.HandleUtterance(testUtterance(1))
	waitFor(t, func() bool { return services.transcribeCalls() == 1 })

	waitFor(t, func() bool {
		p.HandleUtterance(testUtterance(2))
		return p.Stats().Triggered == 2
	})

	// No reply request is made for silence.
	services.mu.Lock()
	requests := len(services.requests)
	services.mu.Unlock()
	if requests != 0 {
		t.Errorf("Expected no reply requests for empty transcript, got %d", requests)
	}
}

func TestPipeline_TranscribeReceivesPlayableWAV(t *testing.T) {
	services := &mockServices{transcript: "ok", reply: respond.Reply{Text: "hi"}}
	p := respond.NewPipeline(testRespondConfig(), "Alex", services,
		telemetry.NewStore(), &mockPlayer{}, nil)

	p.HandleUtterance(testUtterance(1))
	waitFor(t, func() bool { return services.transcribeCalls() == 1 })

	services.mu.Lock()
	wav := services.wavs[0]
	services.mu.Unlock()

	samples, rate, err := audio.DecodeWAV(wav)
	if err != nil {
		t.Fatalf("Expected a valid WAV payload: %v", err)
	}
	if rate != 16000 {
		t.Errorf("Expected 16kHz WAV, got %d", rate)
	}
	if len(samples) != 16000 {
		t.Errorf("Expected 16000 samples, got %d", len(samples))
	}
}

func TestPipeline_ProsodySnapshotOverlaysLocalFeatures(t *testing.T) {
	store := telemetry.NewStore()
	store.SetProsody(telemetry.Prosody{
		AvgRMS: 0.05, F0Mean: 200, F0Std: 14, ZCR: 0.22, TS: 1700000001,
	})
	store.SetMood(mood.Signal{State: mood.StateConcerned, Confidence: 0.6})

	services := &mockServices{transcript: "what time is it", reply: respond.Reply{Text: "hi"}}
	p := respond.NewPipeline(testRespondConfig(), "Alex", services, store, &mockPlayer{}, nil)
	p.HandleUtterance(testUtterance(1))

	waitFor(t, func() bool {
		services.mu.Lock()
		defer services.mu.Unlock()
		return len(services.requests) == 1
	})

	services.mu.Lock()
	req := services.requests[0]
	services.mu.Unlock()

	if req.Prosody == nil {
		t.Fatal("Expected a prosody payload")
	}
	if req.Prosody.AvgRMS != 0.05 {
		t.Errorf("Expected snapshot avg_rms to win, got %v", req.Prosody.AvgRMS)
	}
	if req.Prosody.F0Mean != 200 || req.Prosody.ZCR != 0.22 {
		t.Errorf("Expected snapshot pitch fields, got %+v", req.Prosody)
	}
	if req.Prosody.DurationMs != 1000 || req.Prosody.MaxRMS != 0.12 {
		t.Errorf("Expected local duration and max to survive, got %+v", req.Prosody)
	}
	// No transcript keyword, so the fusion mood wins.
	if req.Mood.State != mood.StateConcerned {
		t.Errorf("Expected fusion mood, got %s", req.Mood.State)
	}
	if req.Patient.Name != "Alex" {
		t.Errorf("Expected patient name Alex, got %s", req.Patient.Name)
	}
}

func TestPipeline_ReplyAudioEnqueued(t *testing.T) {
	payload := make([]byte, 64)
	for i := range payload {
		payload[i] = byte(i)
	}
	services := &mockServices{
		transcript: "hello",
		reply:      respond.Reply{Text: "hi there", AudioBase64: base64.StdEncoding.EncodeToString(payload)},
	}
	player := &mockPlayer{}
	p := respond.NewPipeline(testRespondConfig(), "Alex", services,
		telemetry.NewStore(), player, nil)

	p.HandleUtterance(testUtterance(7))
	waitFor(t, func() bool { return len(player.queued()) == 1 })

	task := player.queued()[0]
	if len(task.Audio) != 64 {
		t.Errorf("Expected decoded audio, got %d bytes", len(task.Audio))
	}
	if task.Mime != "audio/mpeg" {
		t.Errorf("Expected default mime, got %s", task.Mime)
	}
	if task.UtteranceID != 7 {
		t.Errorf("Expected utterance ID carried through, got %d", task.UtteranceID)
	}
}

func TestPipeline_TrivialAudioFallsBackToText(t *testing.T) {
	// Anything at or under the threshold length counts as absent.
	services := &mockServices{
		transcript: "hello",
		reply:      respond.Reply{Text: "hi there", AudioBase64: base64.StdEncoding.EncodeToString([]byte("tiny"))},
	}
	player := &mockPlayer{}
	p := respond.NewPipeline(testRespondConfig(), "Alex", services,
		telemetry.NewStore(), player, nil)

	p.HandleUtterance(testUtterance(1))
	waitFor(t, func() bool { return len(player.queued()) == 1 })

	task := player.queued()[0]
	if len(task.Audio) != 0 {
		t.Errorf("Expected no audio payload, got %d bytes", len(task.Audio))
	}
	if task.Text != "hi there" {
		t.Errorf("Expected text task, got %q", task.Text)
	}
}

func TestPipeline_NotifyOnReply(t *testing.T) {
	services := &mockServices{
		transcript: "I'm worried about the door",
		reply:      respond.Reply{Text: "The door is locked."},
	}
	p := respond.NewPipeline(testRespondConfig(), "Alex", services,
		telemetry.NewStore(), &mockPlayer{}, nil)

	p.HandleUtterance(testUtterance(1))
	waitFor(t, func() bool { return len(services.notifyCalls()) == 1 })

	n := services.notifyCalls()[0]
	if n.Trigger != "agent_reply" {
		t.Errorf("Expected agent_reply trigger, got %s", n.Trigger)
	}
	if n.Transcript != "I'm worried about the door" {
		t.Errorf("Unexpected transcript %q", n.Transcript)
	}
	if n.ReplyText != "The door is locked." {
		t.Errorf("Unexpected reply text %q", n.ReplyText)
	}
	if n.Mood.State != mood.StateAnxious {
		t.Errorf("Expected keyword mood anxious, got %s", n.Mood.State)
	}
	if n.Source != "webclient" {
		t.Errorf("Expected webclient source, got %s", n.Source)
	}
	if n.Session != p.Session() {
		t.Errorf("Expected session %s, got %s", p.Session(), n.Session)
	}
	if n.TS == 0 {
		t.Error("Expected a timestamp")
	}
	if n.Utterance != 1 {
		t.Errorf("Expected utterance sequence 1, got %d", n.Utterance)
	}
}

func TestPipeline_NotifyOffMode(t *testing.T) {
	cfg := testRespondConfig()
	cfg.NotifyMode = "off"
	services := &mockServices{transcript: "hello", reply: respond.Reply{Text: "hi"}}
	player := &mockPlayer{}
	p := respond.NewPipeline(cfg, "Alex", services, telemetry.NewStore(), player, nil)

	p.HandleUtterance(testUtterance(1))
	waitFor(t, func() bool { return len(player.queued()) == 1 })

	if got := services.notifyCalls(); len(got) != 0 {
		t.Errorf("Expected no notifications in off mode, got %d", len(got))
	}
}

func TestPipeline_FusionNotifyMode(t *testing.T) {
	cfg := testRespondConfig()
	cfg.NotifyMode = "on_fusion"
	clock := newFakeClock()
	services := &mockServices{transcript: "I feel lost", reply: respond.Reply{Text: "hi"}}
	player := &mockPlayer{}
	p := respond.NewPipeline(cfg, "Alex", services,
		telemetry.NewStore(), player, nil, respond.WithClock(clock.Now))

	// A reply exchange records the transcript but must not notify.
	p.HandleUtterance(testUtterance(1))
	waitFor(t, func() bool { return len(player.queued()) == 1 })
	if got := services.notifyCalls(); len(got) != 0 {
		t.Fatalf("Expected no reply-triggered notification, got %d", len(got))
	}

	sig := mood.Signal{State: mood.StateAnxious, Confidence: 0.8}
	p.HandleFusion(sig)
	waitFor(t, func() bool { return len(services.notifyCalls()) == 1 })

	n := services.notifyCalls()[0]
	if n.Trigger != "fusion" {
		t.Errorf("Expected fusion trigger, got %s", n.Trigger)
	}
	if n.Transcript != "I feel lost" {
		t.Errorf("Unexpected transcript %q", n.Transcript)
	}
	if n.Mood.State != mood.StateConcerned {
		t.Errorf("Expected keyword mood concerned to win, got %s", n.Mood.State)
	}

	// The same transcript never notifies twice, regardless of elapsed time.
	clock.Advance(time.Minute)
	p.HandleFusion(sig)
	time.Sleep(30 * time.Millisecond)
	if got := services.notifyCalls(); len(got) != 1 {
		t.Errorf("Expected no duplicate notification, got %d", len(got))
	}
}
