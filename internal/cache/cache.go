// Package cache stores generated answers keyed by a deterministic hash of
// their inputs, with TTL-based expiration and per-entry access counting.
//
// Expiration is lazy: entries are not swept in the background. A read that
// finds an entry at or past its expiry deletes it and reports a miss, so a
// read never returns an expired value. Deleting an entry that a concurrent
// reader already removed is not an error.
//
// Storage is abstracted by Repository. Three backends exist: the GORM
// response_cache table (see internal/repo), Redis hashes (RedisRepository)
// and an in-process LRU (MemoryRepository).
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/tbourn/go-docchat-rag/internal/domain"
)

// DefaultValidity is how long a response stays cached when no validity is
// configured.
const DefaultValidity = 24 * time.Hour

// ErrNotFound is returned by a Repository when no entry exists for a key.
var ErrNotFound = errors.New("cache entry not found")

// UnavailableError wraps a backend failure. Callers treat it as a soft
// failure: a failed read is a miss and a failed write is a no-op.
type UnavailableError struct {
	Op  string
	Err error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("cache unavailable: %s: %v", e.Op, e.Err)
}

func (e *UnavailableError) Unwrap() error { return e.Err }

// Repository is the key-value persistence behind a Store. Implementations
// must make Touch atomic and Delete idempotent.
type Repository interface {
	Upsert(ctx context.Context, e domain.CacheEntry) error
	Get(ctx context.Context, key string) (*domain.CacheEntry, error)
	// Touch increments the access count and returns the new value.
	Touch(ctx context.Context, key string) (int64, error)
	Delete(ctx context.Context, key string) error
	Clear(ctx context.Context) (int64, error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
	Count(ctx context.Context) (int64, error)
}

// Store implements the cache operations on top of a Repository.
type Store struct {
	Repo Repository
	// Now is the clock; nil means time.Now.
	Now func() time.Time
	Log zerolog.Logger
}

// NewStore returns a Store over repo using the wall clock and a disabled
// logger.
func NewStore(repo Repository) *Store {
	return &Store{Repo: repo, Now: time.Now, Log: zerolog.Nop()}
}

func (s *Store) now() time.Time {
	if s.Now == nil {
		return time.Now()
	}
	return s.Now()
}

// CacheResponse upserts response under key, valid for validity from now.
// A non-positive validity stores an entry that is already expired.
func (s *Store) CacheResponse(ctx context.Context, key, response string, validity time.Duration) error {
	now := s.now()
	e := domain.CacheEntry{
		Key:       key,
		Value:     response,
		CreatedAt: now,
		ExpiresAt: now.Add(validity),
	}
	if err := s.Repo.Upsert(ctx, e); err != nil {
		return &UnavailableError{Op: "write", Err: err}
	}
	return nil
}

// GetCachedResponse returns the value under key and true on a hit. Expired
// entries are deleted and reported as misses.
func (s *Store) GetCachedResponse(ctx context.Context, key string) (string, bool, error) {
	e, err := s.Repo.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, &UnavailableError{Op: "read", Err: err}
	}

	if !s.now().Before(e.ExpiresAt) {
		if err := s.Repo.Delete(ctx, key); err != nil && !errors.Is(err, ErrNotFound) {
			return "", false, &UnavailableError{Op: "expire", Err: err}
		}
		s.Log.Debug().Str("key", key).Time("expired_at", e.ExpiresAt).Msg("cache entry expired")
		return "", false, nil
	}

	if _, err := s.Repo.Touch(ctx, key); err != nil {
		if errors.Is(err, ErrNotFound) {
			// removed between read and touch
			return "", false, nil
		}
		return "", false, &UnavailableError{Op: "touch", Err: err}
	}
	return e.Value, true, nil
}

// RemoveFromCache deletes key. Missing keys are not an error.
func (s *Store) RemoveFromCache(ctx context.Context, key string) error {
	if err := s.Repo.Delete(ctx, key); err != nil && !errors.Is(err, ErrNotFound) {
		return &UnavailableError{Op: "delete", Err: err}
	}
	return nil
}

// ClearCache deletes every entry and returns how many were removed.
func (s *Store) ClearCache(ctx context.Context) (int64, error) {
	n, err := s.Repo.Clear(ctx)
	if err != nil {
		return 0, &UnavailableError{Op: "clear", Err: err}
	}
	return n, nil
}

// PurgeExpired deletes every entry that has expired by now.
func (s *Store) PurgeExpired(ctx context.Context) (int64, error) {
	n, err := s.Repo.DeleteExpired(ctx, s.now())
	if err != nil {
		return 0, &UnavailableError{Op: "purge", Err: err}
	}
	return n, nil
}

// Stats summarizes the cache contents.
type Stats struct {
	Entries int64 `json:"entries"`
}

// Stats reports the number of stored entries, expired ones included.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	n, err := s.Repo.Count(ctx)
	if err != nil {
		return Stats{}, &UnavailableError{Op: "count", Err: err}
	}
	return Stats{Entries: n}, nil
}

// Scope identifies what an answer was grounded on: the conversation when
// there is one, otherwise the sorted set of document ids.
func Scope(conversationID string, documentIDs []string) string {
	if conversationID != "" {
		return "conv:" + conversationID
	}
	ids := append([]string(nil), documentIDs...)
	sort.Strings(ids)
	return "docs:" + strings.Join(ids, ",")
}

// Key derives a deterministic cache key from the answer scope, the model
// selection and the final prompt.
func Key(scope, provider, model, prompt string) string {
	h := sha256.New()
	for _, part := range []string{scope, strings.ToLower(provider), model, prompt} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return "rag:" + hex.EncodeToString(h.Sum(nil))
}
