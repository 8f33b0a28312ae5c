// Package search finds the document chunks relevant to a question.
//
// Two capabilities are defined. A Searcher answers similarity queries with a
// threshold and a result cap, the contract of an external vector service. A
// Retriever answers a question scoped to a set of documents and is what the
// RAG orchestrator consumes.
//
// The in-process implementation is a lexical index: chunks are tokenized
// into lower-cased word sets (Unicode-aware, optional stop-word removal) and
// scored against the query by Jaccard similarity,
//
//	score = |Q ∩ C| / |Q ∪ C|
//
// Ties are broken by shorter chunk, then by document and sequence order, so
// results are deterministic. An Index is immutable once built and safe for
// concurrent use. RemoteSearcher delegates to an HTTP vector service instead.
package search

import (
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/tbourn/go-docchat-rag/internal/domain"
)

// Match is a scored chunk.
type Match struct {
	ID            string         `json:"id"`
	DocumentID    string         `json:"document_id"`
	SequenceIndex int            `json:"sequence_index"`
	Content       string         `json:"content"`
	Similarity    float64        `json:"similarity"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// Option configures an Index.
type Option func(*config)

type config struct {
	minChunkRunes int
	stopwords     map[string]struct{}
	maxChunks     int
}

func defaultConfig() config {
	return config{minChunkRunes: 0}
}

// WithMinChunkRunes skips chunks shorter than n runes.
func WithMinChunkRunes(n int) Option {
	return func(c *config) {
		if n >= 0 {
			c.minChunkRunes = n
		}
	}
}

// WithStopwords drops the given words from chunk and query token sets.
func WithStopwords(words []string) Option {
	return func(c *config) {
		m := make(map[string]struct{}, len(words))
		for _, w := range words {
			w = strings.ToLower(strings.TrimSpace(w))
			if w != "" {
				m[w] = struct{}{}
			}
		}
		if len(m) > 0 {
			c.stopwords = m
		}
	}
}

// WithMaxChunks caps how many chunks are indexed.
func WithMaxChunks(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.maxChunks = n
		}
	}
}

type entry struct {
	chunk  domain.Chunk
	tokens map[string]struct{}
	runes  int
}

// Index is an immutable lexical index over chunks.
type Index struct {
	cfg     config
	entries []entry
}

// NewIndex indexes chunks in the order given.
func NewIndex(chunks []domain.Chunk, opts ...Option) *Index {
	cfg := defaultConfig()
	for _, o := range opts {
		o(&cfg)
	}
	entries := make([]entry, 0, len(chunks))
	for _, c := range chunks {
		text := strings.TrimSpace(c.Content)
		if text == "" {
			continue
		}
		n := utf8.RuneCountInString(text)
		if cfg.minChunkRunes > 0 && n < cfg.minChunkRunes {
			continue
		}
		toks := tokenize(text, cfg.stopwords)
		if len(toks) == 0 {
			continue
		}
		entries = append(entries, entry{chunk: c, tokens: toks, runes: n})
		if cfg.maxChunks > 0 && len(entries) >= cfg.maxChunks {
			break
		}
	}
	return &Index{cfg: cfg, entries: entries}
}

// Len returns the number of indexed chunks.
func (ix *Index) Len() int { return len(ix.entries) }

// Search returns up to count chunks whose similarity to query is at least
// threshold, best first. count <= 0 means 5.
func (ix *Index) Search(query string, threshold float64, count int) []Match {
	if len(ix.entries) == 0 || strings.TrimSpace(query) == "" {
		return nil
	}
	if count <= 0 {
		count = 5
	}
	q := tokenize(query, ix.cfg.stopwords)
	if len(q) == 0 {
		return nil
	}

	type scored struct {
		e     *entry
		score float64
	}
	buf := make([]scored, 0, min(count*4, len(ix.entries)))
	for i := range ix.entries {
		e := &ix.entries[i]
		over := overlap(q, e.tokens)
		if over == 0 {
			continue
		}
		score := float64(over) / float64(len(q)+len(e.tokens)-over)
		if score < threshold {
			continue
		}
		buf = append(buf, scored{e: e, score: score})
	}
	if len(buf) == 0 {
		return nil
	}

	sort.SliceStable(buf, func(a, b int) bool {
		if buf[a].score != buf[b].score {
			return buf[a].score > buf[b].score
		}
		if buf[a].e.runes != buf[b].e.runes {
			return buf[a].e.runes < buf[b].e.runes
		}
		ca, cb := buf[a].e.chunk, buf[b].e.chunk
		if ca.DocumentID != cb.DocumentID {
			return ca.DocumentID < cb.DocumentID
		}
		return ca.SequenceIndex < cb.SequenceIndex
	})

	if count > len(buf) {
		count = len(buf)
	}
	out := make([]Match, count)
	for i := 0; i < count; i++ {
		out[i] = toMatch(buf[i].e.chunk, buf[i].score)
	}
	return out
}

func toMatch(c domain.Chunk, score float64) Match {
	return Match{
		ID:            c.ID,
		DocumentID:    c.DocumentID,
		SequenceIndex: c.SequenceIndex,
		Content:       c.Content,
		Similarity:    score,
		Metadata:      c.Metadata,
	}
}

var wordRE = regexp.MustCompile(`\p{L}+\p{N}*|\p{N}+`)

func tokenize(s string, stop map[string]struct{}) map[string]struct{} {
	words := wordRE.FindAllString(strings.ToLower(s), -1)
	if len(words) == 0 {
		return nil
	}
	out := make(map[string]struct{}, len(words))
	for _, w := range words {
		if _, skip := stop[w]; skip {
			continue
		}
		out[w] = struct{}{}
	}
	return out
}

func overlap(a, b map[string]struct{}) int {
	if len(a) > len(b) {
		a, b = b, a
	}
	n := 0
	for k := range a {
		if _, ok := b[k]; ok {
			n++
		}
	}
	return n
}
