package search

import (
	"context"
	"errors"
	"testing"

	"github.com/tbourn/go-docchat-rag/internal/domain"
)

// ---------- helpers ----------
func chunk(doc string, seq int, text string) domain.Chunk {
	return domain.Chunk{ID: doc + "-" + string(rune('a'+seq)), DocumentID: doc, SequenceIndex: seq, Content: text}
}

type fakeSource struct {
	chunks []domain.Chunk
	err    error
	asked  []string
}

func (f *fakeSource) ChunksForDocuments(_ context.Context, ids []string) ([]domain.Chunk, error) {
	f.asked = ids
	if f.err != nil {
		return nil, f.err
	}
	allowed := map[string]bool{}
	for _, id := range ids {
		allowed[id] = true
	}
	var out []domain.Chunk
	for _, c := range f.chunks {
		if allowed[c.DocumentID] {
			out = append(out, c)
		}
	}
	return out, nil
}

// ---------- Options ----------
func TestOptions(t *testing.T) {
	cfg := defaultConfig()
	WithMinChunkRunes(10)(&cfg)
	WithMinChunkRunes(-1)(&cfg)
	if cfg.minChunkRunes != 10 {
		t.Fatalf("minChunkRunes = %d; want 10", cfg.minChunkRunes)
	}
	WithStopwords([]string{" The ", ""})(&cfg)
	if _, ok := cfg.stopwords["the"]; !ok {
		t.Fatalf("stopword not normalized: %#v", cfg.stopwords)
	}
	cfg2 := defaultConfig()
	WithStopwords(nil)(&cfg2)
	if cfg2.stopwords != nil {
		t.Fatalf("empty stopwords should stay nil")
	}
	WithMaxChunks(0)(&cfg2)
	WithMaxChunks(3)(&cfg2)
	if cfg2.maxChunks != 3 {
		t.Fatalf("maxChunks = %d; want 3", cfg2.maxChunks)
	}
}

// ---------- Index ----------
func TestIndex_RanksByJaccard(t *testing.T) {
	ix := NewIndex([]domain.Chunk{
		chunk("d1", 0, "Refunds are processed within five business days."),
		chunk("d1", 1, "Shipping is free for orders above fifty euros."),
		chunk("d2", 0, "Refunds refunds everywhere"),
		chunk("d2", 1, "   "),
	})
	if ix.Len() != 3 {
		t.Fatalf("Len = %d; want 3 (blank chunk skipped)", ix.Len())
	}

	got := ix.Search("how are refunds processed", 0, 5)
	if len(got) != 2 {
		t.Fatalf("got %d matches; want 2", len(got))
	}
	if got[0].DocumentID != "d1" || got[0].SequenceIndex != 0 {
		t.Fatalf("best match = %+v; want d1/0", got[0])
	}
	if !(got[0].Similarity > got[1].Similarity) {
		t.Fatalf("results not sorted by similarity: %v, %v", got[0].Similarity, got[1].Similarity)
	}
}

func TestIndex_ThresholdCountAndEmpty(t *testing.T) {
	ix := NewIndex([]domain.Chunk{
		chunk("d", 0, "alpha beta gamma"),
		chunk("d", 1, "alpha delta"),
		chunk("d", 2, "alpha"),
	})
	if got := ix.Search("alpha", 0.9, 5); len(got) != 1 || got[0].SequenceIndex != 2 {
		t.Fatalf("threshold 0.9 should keep only the exact chunk: %+v", got)
	}
	if got := ix.Search("alpha", 0, 2); len(got) != 2 {
		t.Fatalf("count cap ignored: %d", len(got))
	}
	if got := ix.Search("alpha", 0, 0); len(got) != 3 {
		t.Fatalf("count <= 0 should default to 5 (all 3 here): %d", len(got))
	}
	if ix.Search("   ", 0, 5) != nil || ix.Search("!!!", 0, 5) != nil {
		t.Fatalf("blank or token-free queries should return nil")
	}
	if NewIndex(nil).Search("alpha", 0, 5) != nil {
		t.Fatalf("empty index should return nil")
	}
}

func TestIndex_TiesAreDeterministic(t *testing.T) {
	ix := NewIndex([]domain.Chunk{
		chunk("b", 1, "cat dog"),
		chunk("a", 3, "cat dog"),
		chunk("a", 2, "cat dog"),
	})
	got := ix.Search("cat", 0, 3)
	want := []string{"a/2", "a/3", "b/1"}
	for i, m := range got {
		k := m.DocumentID + "/" + string(rune('0'+m.SequenceIndex))
		if k != want[i] {
			t.Fatalf("order[%d] = %s; want %s", i, k, want[i])
		}
	}
}

func TestIndex_StopwordsAndMinRunes(t *testing.T) {
	ix := NewIndex([]domain.Chunk{
		chunk("d", 0, "the cat"),
		chunk("d", 1, "tiny"),
	}, WithStopwords([]string{"the"}), WithMinChunkRunes(5))
	if ix.Len() != 1 {
		t.Fatalf("Len = %d; want 1", ix.Len())
	}
	if got := ix.Search("the", 0, 5); got != nil {
		t.Fatalf("stopword-only query should not match: %+v", got)
	}
}

func TestIndex_UnicodeAndNumbers(t *testing.T) {
	ix := NewIndex([]domain.Chunk{chunk("d", 0, "Über 2024 Straße")})
	if got := ix.Search("über", 0, 1); len(got) != 1 {
		t.Fatalf("unicode token not matched")
	}
	if got := ix.Search("2024", 0, 1); len(got) != 1 {
		t.Fatalf("numeric token not matched")
	}
}

// ---------- ChunkRetriever ----------
func TestChunkRetriever_ScopesToDocuments(t *testing.T) {
	src := &fakeSource{chunks: []domain.Chunk{
		chunk("d1", 0, "invoice payment terms net thirty"),
		chunk("d2", 0, "invoice payment terms net sixty"),
	}}
	r := NewChunkRetriever(src)
	got, err := r.Retrieve(context.Background(), "invoice payment terms", []string{"d2"})
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(got) != 1 || got[0].DocumentID != "d2" {
		t.Fatalf("got %+v; want only d2", got)
	}
}

func TestChunkRetriever_LeadingFallback(t *testing.T) {
	src := &fakeSource{chunks: []domain.Chunk{
		chunk("d", 0, "first part"),
		chunk("d", 1, "second part"),
		chunk("d", 2, "third part"),
	}}
	r := NewChunkRetriever(src)
	r.MatchCount = 2

	got, err := r.Retrieve(context.Background(), "summarize", []string{"d"})
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(got) != 2 || got[0].SequenceIndex != 0 || got[1].SequenceIndex != 1 || got[0].Similarity != 0 {
		t.Fatalf("fallback = %+v; want first two chunks at zero similarity", got)
	}

	r.LeadingFallback = false
	got, _ = r.Retrieve(context.Background(), "summarize", []string{"d"})
	if len(got) != 0 {
		t.Fatalf("fallback disabled should return nothing: %+v", got)
	}
}

func TestChunkRetriever_Errors(t *testing.T) {
	r := NewChunkRetriever(&fakeSource{})
	if _, err := r.Retrieve(context.Background(), "q", nil); !errors.Is(err, ErrNoDocuments) {
		t.Fatalf("err = %v; want ErrNoDocuments", err)
	}

	boom := errors.New("db down")
	r = NewChunkRetriever(&fakeSource{err: boom})
	if _, err := r.Retrieve(context.Background(), "q", []string{"d"}); !errors.Is(err, boom) {
		t.Fatalf("err = %v; want %v", err, boom)
	}

	got, err := NewChunkRetriever(&fakeSource{}).Retrieve(context.Background(), "q", []string{"none"})
	if err != nil || got != nil {
		t.Fatalf("no chunks should yield nil, nil; got %v, %v", got, err)
	}
}
