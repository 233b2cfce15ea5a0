package session

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"speech-relay-service/internal/observability/metrics"
	"speech-relay-service/internal/service/vad"
)

// Manager creates a Handler per connection and tracks the live ones. The
// classifier and dispatcher are shared by every session.
type Manager struct {
	cfg        Config
	classifier vad.Classifier
	dispatcher Dispatcher
	metrics    *metrics.Metrics

	mu       sync.Mutex
	sessions map[*Handler]struct{}
	wg       sync.WaitGroup
}

// NewManager creates a session manager.
func NewManager(cfg Config, classifier vad.Classifier, d Dispatcher, m *metrics.Metrics) *Manager {
	if m == nil {
		m = metrics.DefaultMetrics
	}
	return &Manager{
		cfg:        cfg,
		classifier: classifier,
		dispatcher: d,
		metrics:    m,
		sessions:   make(map[*Handler]struct{}),
	}
}

// Handle runs a session on conn and blocks until it ends.
func (m *Manager) Handle(ctx context.Context, conn Conn) error {
	h := NewHandler(m.cfg, m.classifier, m.dispatcher, m.metrics)

	m.mu.Lock()
	m.sessions[h] = struct{}{}
	m.wg.Add(1)
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		delete(m.sessions, h)
		m.mu.Unlock()
		m.wg.Done()
	}()

	err := h.Run(ctx, conn)
	if err != nil {
		log.Warn().
			Err(err).
			Str("component", "session").
			Str("sessionId", h.Info().ID).
			Msg("Session ended with transport error")
	}
	return err
}

// Active returns the number of running sessions.
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Sessions returns a snapshot of the running sessions.
func (m *Manager) Sessions() []Info {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Info, 0, len(m.sessions))
	for h := range m.sessions {
		out = append(out, h.Info())
	}
	return out
}

// Wait blocks until every running session has finished or ctx is done.
// Callers cancel the sessions' context first.
func (m *Manager) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
