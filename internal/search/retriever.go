package search

import (
	"context"
	"errors"

	"github.com/tbourn/go-docchat-rag/internal/domain"
)

// Searcher answers unscoped similarity queries.
type Searcher interface {
	Search(ctx context.Context, query string, threshold float64, count int) ([]Match, error)
}

// Retriever returns the chunks of the given documents relevant to query,
// best first.
type Retriever interface {
	Retrieve(ctx context.Context, query string, documentIDs []string) ([]Match, error)
}

// ChunkSource loads stored chunks, ordered by document and sequence.
type ChunkSource interface {
	ChunksForDocuments(ctx context.Context, documentIDs []string) ([]domain.Chunk, error)
}

// ErrNoDocuments is returned when a retrieval is not scoped to any document.
var ErrNoDocuments = errors.New("no documents to search")

// Retrieval defaults.
const (
	DefaultMatchThreshold = 0.05
	DefaultMatchCount     = 5
)

// ChunkRetriever ranks the stored chunks of the requested documents with a
// lexical Index built per call.
//
// When nothing clears the threshold and LeadingFallback is set, the first
// MatchCount chunks in document order are returned with zero similarity, so
// a question phrased unlike the text (a summary request, say) still gets
// the start of the documents as context.
type ChunkRetriever struct {
	Source          ChunkSource
	Threshold       float64
	MatchCount      int
	LeadingFallback bool
	Options         []Option
}

// NewChunkRetriever returns a retriever with default threshold and count and
// the leading-chunk fallback enabled.
func NewChunkRetriever(src ChunkSource, opts ...Option) *ChunkRetriever {
	return &ChunkRetriever{
		Source:          src,
		Threshold:       DefaultMatchThreshold,
		MatchCount:      DefaultMatchCount,
		LeadingFallback: true,
		Options:         opts,
	}
}

// Retrieve implements Retriever.
func (r *ChunkRetriever) Retrieve(ctx context.Context, query string, documentIDs []string) ([]Match, error) {
	if len(documentIDs) == 0 {
		return nil, ErrNoDocuments
	}
	chunks, err := r.Source.ChunksForDocuments(ctx, documentIDs)
	if err != nil {
		return nil, err
	}
	if len(chunks) == 0 {
		return nil, nil
	}

	count := r.MatchCount
	if count <= 0 {
		count = DefaultMatchCount
	}
	matches := NewIndex(chunks, r.Options...).Search(query, r.Threshold, count)
	if len(matches) > 0 || !r.LeadingFallback {
		return matches, nil
	}

	if count > len(chunks) {
		count = len(chunks)
	}
	out := make([]Match, 0, count)
	for _, c := range chunks[:count] {
		out = append(out, toMatch(c, 0))
	}
	return out, nil
}

// SearcherRetriever adapts a Searcher to a Retriever by filtering its
// results to the requested documents.
type SearcherRetriever struct {
	Searcher   Searcher
	Threshold  float64
	MatchCount int
}

// Retrieve implements Retriever. The searcher is asked for four times the
// match count to leave room for the document filter.
func (r SearcherRetriever) Retrieve(ctx context.Context, query string, documentIDs []string) ([]Match, error) {
	count := r.MatchCount
	if count <= 0 {
		count = DefaultMatchCount
	}
	matches, err := r.Searcher.Search(ctx, query, r.Threshold, count*4)
	if err != nil {
		return nil, err
	}
	if len(documentIDs) == 0 {
		if len(matches) > count {
			matches = matches[:count]
		}
		return matches, nil
	}

	allowed := make(map[string]struct{}, len(documentIDs))
	for _, id := range documentIDs {
		allowed[id] = struct{}{}
	}
	out := make([]Match, 0, count)
	for _, m := range matches {
		if _, ok := allowed[m.DocumentID]; !ok {
			continue
		}
		out = append(out, m)
		if len(out) == count {
			break
		}
	}
	return out, nil
}
