package autosave

import (
	"log/slog"
	"sync"

	"github.com/traction-hq/traction/pkg/persistence"
)

// Manager hands out one Saver per draft key, creating them lazily. Editing
// sessions for different templates debounce independently.
type Manager struct {
	drafts persistence.DraftRepository
	logger *slog.Logger
	opts   []Option

	mu     sync.Mutex
	savers map[string]*Saver
}

func NewManager(drafts persistence.DraftRepository, logger *slog.Logger, opts ...Option) *Manager {
	return &Manager{
		drafts: drafts,
		logger: logger,
		opts:   opts,
		savers: make(map[string]*Saver),
	}
}

// For returns the saver bound to the given draft key.
func (m *Manager) For(key string) *Saver {
	m.mu.Lock()
	defer m.mu.Unlock()

	if saver, ok := m.savers[key]; ok {
		return saver
	}

	saver := NewSaver(m.drafts, key, m.logger, m.opts...)
	m.savers[key] = saver

	return saver
}

// Close flushes and stops every saver. The first error wins; remaining
// savers are still closed.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var firstErr error

	for _, saver := range m.savers {
		if err := saver.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	m.savers = make(map[string]*Saver)

	return firstErr
}
