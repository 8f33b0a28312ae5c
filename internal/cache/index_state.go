package cache

import (
	"context"
	"time"
)

// IndexStateValidity is how long a recorded document hash is trusted.
const IndexStateValidity = time.Hour

// IndexState remembers the content hash a document was last indexed with,
// so unchanged documents can skip re-chunking. Entries are keyed
// "file:<id>:hash" and must live apart from cached answers, so the cache
// admin operations never count or drop them; see NewIndexState.
type IndexState struct {
	Store *Store
}

// indexStatePrefix namespaces index state in a shared Redis.
const indexStatePrefix = "index:"

// NewIndexState returns an IndexState kept beside the answer repository.
// A Redis backend shares its client under a separate key prefix so every
// replica sees the same state; anything else gets a process-local memory
// repository, since the document row already carries the indexed hash.
func NewIndexState(answers Repository) *IndexState {
	var r Repository
	if rr, ok := answers.(*RedisRepository); ok {
		r = &RedisRepository{Client: rr.Client, Prefix: indexStatePrefix}
	} else {
		r = NewMemoryRepository(0)
	}
	return &IndexState{Store: NewStore(r)}
}

func indexStateKey(documentID string) string { return "file:" + documentID + ":hash" }

// Hash returns the last recorded hash for documentID.
func (s IndexState) Hash(ctx context.Context, documentID string) (string, bool, error) {
	return s.Store.GetCachedResponse(ctx, indexStateKey(documentID))
}

// Record stores hash as the indexed state of documentID.
func (s IndexState) Record(ctx context.Context, documentID, hash string) error {
	return s.Store.CacheResponse(ctx, indexStateKey(documentID), hash, IndexStateValidity)
}

// Forget drops the recorded state, forcing the next index to run.
func (s IndexState) Forget(ctx context.Context, documentID string) error {
	return s.Store.RemoveFromCache(ctx, indexStateKey(documentID))
}

// Unchanged reports whether documentID was last indexed with hash. Backend
// failures read as "changed".
func (s IndexState) Unchanged(ctx context.Context, documentID, hash string) bool {
	got, ok, err := s.Hash(ctx, documentID)
	return err == nil && ok && got == hash
}
