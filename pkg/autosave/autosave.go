// Package autosave persists in-progress template edits as drafts. Updates
// are debounced so a burst of keystroke-level changes collapses into one
// write carrying the latest state.
package autosave

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/traction-hq/traction/pkg/persistence"
)

const (
	// DefaultDelay is the quiet period after the last update before a draft
	// is written.
	DefaultDelay = 2 * time.Second

	flushTimeout = 10 * time.Second
)

// ErrClosed indicates an operation on a saver after Close.
var ErrClosed = errors.New("autosave: saver is closed")

// Saver debounces draft writes for one draft key. All saves are serialized;
// a flush triggered by the timer and an explicit SaveNow never interleave.
type Saver struct {
	drafts persistence.DraftRepository
	key    string
	delay  time.Duration
	logger *slog.Logger

	mu        sync.Mutex
	pending   json.RawMessage
	timer     *time.Timer
	lastSaved time.Time
	closed    bool
}

type Option func(*Saver)

// WithDelay overrides the debounce quiet period.
func WithDelay(delay time.Duration) Option {
	return func(s *Saver) { s.delay = delay }
}

func NewSaver(drafts persistence.DraftRepository, key string, logger *slog.Logger, opts ...Option) *Saver {
	s := &Saver{
		drafts: drafts,
		key:    key,
		delay:  DefaultDelay,
		logger: logger.With("module", "autosave", "draft_key", key),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Update buffers the latest draft state and (re)arms the debounce timer.
// Consecutive updates within the quiet period coalesce: only the newest
// state reaches the store.
func (s *Saver) Update(data json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	s.pending = append(json.RawMessage(nil), data...)

	if s.timer != nil {
		s.timer.Stop()
	}

	s.timer = time.AfterFunc(s.delay, s.flush)

	return nil
}

// SaveNow writes the buffered state immediately and disarms the timer. A
// timer that already fired finds no pending state and writes nothing, so an
// explicit save is never followed by a stale debounced one.
func (s *Saver) SaveNow(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	return s.saveLocked(ctx)
}

// Dirty reports whether an update is buffered but not yet persisted.
func (s *Saver) Dirty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.pending != nil
}

// LastSavedAt returns the time of the most recent successful save, zero if
// none has happened yet.
func (s *Saver) LastSavedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.lastSaved
}

// HasDraft reports whether a persisted draft exists for this key.
func (s *Saver) HasDraft(ctx context.Context) (bool, error) {
	_, err := s.drafts.Get(ctx, s.key)
	if err != nil {
		if persistence.IsDraftNotFound(err) {
			return false, nil
		}

		return false, err
	}

	return true, nil
}

// LoadDraft returns the persisted draft state.
func (s *Saver) LoadDraft(ctx context.Context) (json.RawMessage, error) {
	return s.drafts.Get(ctx, s.key)
}

// ClearDraft drops both the buffered state and the persisted draft. Called
// after a successful real save of the edited template.
func (s *Saver) ClearDraft(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pending = nil

	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}

	return s.drafts.Delete(ctx, s.key)
}

// Close flushes any buffered state and stops the saver.
func (s *Saver) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()

	err := s.saveLocked(ctx)
	s.closed = true

	return err
}

// flush runs on the debounce timer's goroutine.
func (s *Saver) flush() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()

	if err := s.saveLocked(ctx); err != nil {
		s.logger.Warn("Debounced draft save failed", "error", err)
	}
}

// saveLocked writes the pending state, if any. Caller holds the mutex.
func (s *Saver) saveLocked(ctx context.Context) error {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}

	if s.pending == nil {
		return nil
	}

	if err := s.drafts.Set(ctx, s.key, s.pending); err != nil {
		return err
	}

	s.pending = nil
	s.lastSaved = time.Now().UTC()

	s.logger.Debug("Draft saved")

	return nil
}
