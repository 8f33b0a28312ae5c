package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tbourn/go-docchat-rag/internal/domain"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestStore(repo Repository) (*Store, *fakeClock) {
	clock := &fakeClock{t: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	s := NewStore(repo)
	s.Now = clock.Now
	return s, clock
}

func TestStore_K1Scenario(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository(0)
	s, clock := newTestStore(repo)

	require.NoError(t, s.CacheResponse(ctx, "k1", "cached answer", 24*time.Hour))

	got, ok, err := s.GetCachedResponse(ctx, "k1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "cached answer", got)

	e, err := repo.Get(ctx, "k1")
	require.NoError(t, err)
	assert.EqualValues(t, 1, e.AccessCount)

	clock.Advance(24*time.Hour + time.Second)

	got, ok, err = s.GetCachedResponse(ctx, "k1")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, got)

	st, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 0, st.Entries)
}

func TestStore_ZeroValidityNeverReturned(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository(0)
	s, _ := newTestStore(repo)

	require.NoError(t, s.CacheResponse(ctx, "k", "v", 0))
	_, ok, err := s.GetCachedResponse(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = repo.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrNotFound, "expired read must delete the entry")

	require.NoError(t, s.CacheResponse(ctx, "past", "v", -time.Hour))
	_, ok, _ = s.GetCachedResponse(ctx, "past")
	assert.False(t, ok)
}

func TestStore_UpsertResetsEntry(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository(0)
	s, clock := newTestStore(repo)

	require.NoError(t, s.CacheResponse(ctx, "k", "old", time.Hour))
	_, _, _ = s.GetCachedResponse(ctx, "k")
	clock.Advance(30 * time.Minute)
	require.NoError(t, s.CacheResponse(ctx, "k", "new", time.Hour))

	e, err := repo.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "new", e.Value)
	assert.Equal(t, clock.Now().Add(time.Hour), e.ExpiresAt)
	assert.EqualValues(t, 0, e.AccessCount)
}

func TestStore_RemoveAndClearAreIdempotent(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(NewMemoryRepository(0))

	require.NoError(t, s.RemoveFromCache(ctx, "missing"))
	require.NoError(t, s.CacheResponse(ctx, "a", "1", time.Hour))
	require.NoError(t, s.CacheResponse(ctx, "b", "2", time.Hour))
	require.NoError(t, s.RemoveFromCache(ctx, "a"))
	require.NoError(t, s.RemoveFromCache(ctx, "a"))

	n, err := s.ClearCache(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	n, err = s.ClearCache(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 0, n)
}

func TestStore_PurgeExpired(t *testing.T) {
	ctx := context.Background()
	s, clock := newTestStore(NewMemoryRepository(0))

	require.NoError(t, s.CacheResponse(ctx, "short", "1", time.Minute))
	require.NoError(t, s.CacheResponse(ctx, "long", "2", time.Hour))
	clock.Advance(2 * time.Minute)

	n, err := s.PurgeExpired(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	v, ok, err := s.GetCachedResponse(ctx, "long")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "2", v)
}

type failingRepo struct {
	*MemoryRepository
	err error
}

func (f *failingRepo) Get(context.Context, string) (*domain.CacheEntry, error) { return nil, f.err }
func (f *failingRepo) Upsert(context.Context, domain.CacheEntry) error         { return f.err }

func TestStore_BackendFailuresAreUnavailableErrors(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("connection refused")
	s, _ := newTestStore(&failingRepo{MemoryRepository: NewMemoryRepository(1), err: boom})

	_, ok, err := s.GetCachedResponse(ctx, "k")
	assert.False(t, ok)
	var ue *UnavailableError
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, "read", ue.Op)
	assert.ErrorIs(t, err, boom)

	err = s.CacheResponse(ctx, "k", "v", time.Hour)
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, "write", ue.Op)
}

func TestMemoryRepository_EvictsLeastRecentlyUsed(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryRepository(2)
	exp := time.Now().Add(time.Hour)

	require.NoError(t, m.Upsert(ctx, domain.CacheEntry{Key: "a", Value: "1", ExpiresAt: exp}))
	require.NoError(t, m.Upsert(ctx, domain.CacheEntry{Key: "b", Value: "2", ExpiresAt: exp}))
	_, err := m.Get(ctx, "a")
	require.NoError(t, err)
	require.NoError(t, m.Upsert(ctx, domain.CacheEntry{Key: "c", Value: "3", ExpiresAt: exp}))

	_, err = m.Get(ctx, "b")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = m.Get(ctx, "a")
	assert.NoError(t, err)

	_, err = m.Touch(ctx, "b")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestKeyAndScope(t *testing.T) {
	assert.Equal(t, Scope("", []string{"b", "a"}), Scope("", []string{"a", "b"}))
	assert.Equal(t, "conv:c1", Scope("c1", []string{"a"}))

	k1 := Key("docs:a,b", "OpenAI", "gpt-4o", "prompt")
	k2 := Key("docs:a,b", "openai", "gpt-4o", "prompt")
	assert.Equal(t, k1, k2)
	assert.NotEqual(t, k1, Key("docs:a,b", "openai", "gpt-4o", "prompt2"))
	assert.NotEqual(t, Key("ab", "", "", "c"), Key("a", "", "", "bc"))
	assert.Len(t, k1, len("rag:")+64)
}

func TestIndexState(t *testing.T) {
	ctx := context.Background()
	s, clock := newTestStore(NewMemoryRepository(0))
	st := IndexState{Store: s}

	assert.False(t, st.Unchanged(ctx, "doc1", "h1"))
	require.NoError(t, st.Record(ctx, "doc1", "h1"))
	assert.True(t, st.Unchanged(ctx, "doc1", "h1"))
	assert.False(t, st.Unchanged(ctx, "doc1", "h2"))

	clock.Advance(IndexStateValidity)
	assert.False(t, st.Unchanged(ctx, "doc1", "h1"))

	require.NoError(t, st.Record(ctx, "doc1", "h1"))
	require.NoError(t, st.Forget(ctx, "doc1"))
	assert.False(t, st.Unchanged(ctx, "doc1", "h1"))
}

func TestNewIndexState_KeptOutOfAnswerCache(t *testing.T) {
	ctx := context.Background()
	answersRepo := NewMemoryRepository(0)
	answers := NewStore(answersRepo)
	st := NewIndexState(answersRepo)

	require.NoError(t, answers.CacheResponse(ctx, "rag:1", "answer", time.Hour))
	require.NoError(t, st.Record(ctx, "doc1", "h1"))

	stats, err := answers.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Entries)

	n, err := answers.ClearCache(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.True(t, st.Unchanged(ctx, "doc1", "h1"), "clearing answers must not force a re-index")
}
