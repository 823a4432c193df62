package capture

import (
	"context"
	"io"
	"log/slog"
	"sync"

	"github.com/neurocare/go-companion/internal/config"
	"github.com/neurocare/go-companion/pkg/audio"
)

// MockDevice is an in-memory capture device for testing. Chunks are
// injected with Push and delivered to the engine like real audio.
type MockDevice struct {
	cfg    config.Audio
	logger *slog.Logger

	mu      sync.Mutex
	running bool
	closed  bool
	stream  chan audio.Frame

	// FailStart makes Start return an error, simulating a denied or
	// missing input device.
	FailStart error
}

// NewMockDevice creates a mock capture device.
func NewMockDevice(cfg config.Audio, logger *slog.Logger) *MockDevice {
	if logger == nil {
		logger = slog.Default()
	}
	return &MockDevice{
		cfg:    cfg,
		logger: logger.With("component", "capture.mock"),
		stream: make(chan audio.Frame, 64),
	}
}

func (m *MockDevice) Name() string { return "mock" }

// Start begins accepting pushed chunks.
func (m *MockDevice) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailStart != nil {
		return m.FailStart
	}
	if m.closed {
		return ErrDeviceClosed
	}
	m.running = true
	return nil
}

// Push injects a raw chunk at the device capture rate.
// It is a no-op once the device is stopped.
func (m *MockDevice) Push(samples []int16) {
	m.mu.Lock()
	running := m.running
	m.mu.Unlock()
	if !running {
		return
	}
	m.stream <- audio.Frame{Samples: samples, Rate: m.cfg.CaptureRate}
}

func (m *MockDevice) Read(ctx context.Context) (audio.Frame, error) {
	select {
	case f, ok := <-m.stream:
		if !ok {
			return audio.Frame{}, io.EOF
		}
		return f, nil
	case <-ctx.Done():
		return audio.Frame{}, ctx.Err()
	}
}

func (m *MockDevice) Stream() <-chan audio.Frame {
	return m.stream
}

func (m *MockDevice) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return nil
	}
	m.running = false
	close(m.stream)
	return nil
}

func (m *MockDevice) Close() error {
	err := m.Stop()
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return err
}
