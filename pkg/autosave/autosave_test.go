package autosave

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/traction-hq/traction/pkg/persistence"
	"github.com/traction-hq/traction/pkg/persistence/file"
)

// countingDrafts wraps a real repository and counts writes.
type countingDrafts struct {
	persistence.DraftRepository

	mu   sync.Mutex
	sets int
}

func (c *countingDrafts) Set(ctx context.Context, key string, data json.RawMessage) error {
	c.mu.Lock()
	c.sets++
	c.mu.Unlock()

	return c.DraftRepository.Set(ctx, key, data)
}

func (c *countingDrafts) writes() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.sets
}

func newTestSaver(t *testing.T, delay time.Duration) (*Saver, *countingDrafts) {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	drafts := &countingDrafts{DraftRepository: file.NewPersistence(t.TempDir()).DraftRepository()}
	saver := NewSaver(drafts, "template:tpl-1", logger, WithDelay(delay))

	t.Cleanup(func() { _ = saver.Close() })

	return saver, drafts
}

func TestSaver_DebounceCoalescesUpdates(t *testing.T) {
	saver, drafts := newTestSaver(t, 30*time.Millisecond)
	ctx := context.Background()

	require.NoError(t, saver.Update(json.RawMessage(`{"name":"a"}`)))
	require.NoError(t, saver.Update(json.RawMessage(`{"name":"ab"}`)))
	require.NoError(t, saver.Update(json.RawMessage(`{"name":"abc"}`)))

	assert.True(t, saver.Dirty())
	assert.Equal(t, 0, drafts.writes())

	assert.Eventually(t, func() bool { return drafts.writes() == 1 }, time.Second, 5*time.Millisecond)
	assert.False(t, saver.Dirty())

	// Only the newest state reached the store.
	draft, err := saver.LoadDraft(ctx)
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"abc"}`, string(draft))

	// No trailing second write.
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, 1, drafts.writes())
}

func TestSaver_SaveNowFlushesAndDisarmsTimer(t *testing.T) {
	saver, drafts := newTestSaver(t, 30*time.Millisecond)
	ctx := context.Background()

	require.NoError(t, saver.Update(json.RawMessage(`{"name":"draft"}`)))
	require.NoError(t, saver.SaveNow(ctx))

	assert.Equal(t, 1, drafts.writes())
	assert.False(t, saver.Dirty())
	assert.False(t, saver.LastSavedAt().IsZero())

	// The disarmed timer never produces a stale duplicate write.
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, 1, drafts.writes())
}

func TestSaver_SaveNowWithoutPendingIsNoop(t *testing.T) {
	saver, drafts := newTestSaver(t, time.Minute)

	require.NoError(t, saver.SaveNow(context.Background()))
	assert.Equal(t, 0, drafts.writes())
}

func TestSaver_DraftLifecycle(t *testing.T) {
	saver, _ := newTestSaver(t, time.Minute)
	ctx := context.Background()

	has, err := saver.HasDraft(ctx)
	require.NoError(t, err)
	assert.False(t, has)

	require.NoError(t, saver.Update(json.RawMessage(`{"steps":[]}`)))
	require.NoError(t, saver.SaveNow(ctx))

	has, err = saver.HasDraft(ctx)
	require.NoError(t, err)
	assert.True(t, has)

	require.NoError(t, saver.ClearDraft(ctx))

	has, err = saver.HasDraft(ctx)
	require.NoError(t, err)
	assert.False(t, has)

	_, err = saver.LoadDraft(ctx)
	assert.True(t, persistence.IsDraftNotFound(err))
}

func TestSaver_ClearDraftDropsPendingUpdate(t *testing.T) {
	saver, drafts := newTestSaver(t, 30*time.Millisecond)
	ctx := context.Background()

	require.NoError(t, saver.Update(json.RawMessage(`{"name":"abandoned"}`)))
	require.NoError(t, saver.ClearDraft(ctx))

	assert.False(t, saver.Dirty())

	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, 0, drafts.writes())
}

func TestSaver_CloseFlushesPending(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	repo := file.NewPersistence(t.TempDir()).DraftRepository()
	saver := NewSaver(repo, "template:tpl-close", logger, WithDelay(time.Minute))

	require.NoError(t, saver.Update(json.RawMessage(`{"name":"final"}`)))
	require.NoError(t, saver.Close())

	draft, err := repo.Get(context.Background(), "template:tpl-close")
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"final"}`, string(draft))

	assert.ErrorIs(t, saver.Update(json.RawMessage(`{}`)), ErrClosed)
}
