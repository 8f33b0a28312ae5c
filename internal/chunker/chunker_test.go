package chunker

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func para(ch string, n int) string { return strings.Repeat(ch, n) }

func TestChunk_EmptyAndWhitespace(t *testing.T) {
	for _, in := range []string{"", "   ", "\n\n\t\n"} {
		res := Chunk(in)
		if res.Len() != 0 || len(res.EstimatedTokens) != 0 {
			t.Fatalf("Chunk(%q) = %+v; want empty", in, res)
		}
	}
}

func TestChunk_TwoParagraphScenario(t *testing.T) {
	first := para("a", 1600)
	second := para("b", 1400)
	res := Chunk(first + "\n\n" + second)

	if res.Len() != 2 {
		t.Fatalf("got %d chunks; want 2", res.Len())
	}
	for i, c := range res.Chunks {
		if n := utf8.RuneCountInString(c); n > 1700 {
			t.Fatalf("chunk %d has %d chars; want <= 1700", i, n)
		}
	}
	tail := res.Chunks[0][len(res.Chunks[0])-100:]
	if !strings.HasPrefix(res.Chunks[1], tail) {
		t.Fatalf("second chunk must start with the last 100 chars of the first")
	}
	if res.Chunks[1] != tail+"\n"+second {
		t.Fatalf("unexpected second chunk layout")
	}
	if res.EstimatedTokens[0] != 400 || res.EstimatedTokens[1] != 376 {
		t.Fatalf("tokens = %v; want [400 376]", res.EstimatedTokens)
	}
}

func TestChunk_CoverageWithoutParagraphsOrOverlap(t *testing.T) {
	text := "line one\r\n\r\nline two\nline three\n\n\nline four"
	res := Chunk(text, WithParagraphs(false), WithOverlap(0))
	got := strings.Join(res.Chunks, "")
	want := strings.ReplaceAll(text, "\r\n", "\n")
	if got != want {
		t.Fatalf("reconstruction mismatch:\n got %q\nwant %q", got, want)
	}
}

func TestChunk_ParagraphsAllCovered(t *testing.T) {
	paras := []string{para("a", 700), para("b", 900), para("c", 400), para("d", 1200), para("e", 50)}
	res := Chunk(strings.Join(paras, "\n\n"), WithOverlap(0))
	joined := strings.Join(res.Chunks, "\n")
	for i, p := range paras {
		if !strings.Contains(joined, p) {
			t.Fatalf("paragraph %d missing from chunks", i)
		}
	}
}

func TestChunk_BoundsForLongInput(t *testing.T) {
	var paras []string
	for i := 0; i < 40; i++ {
		paras = append(paras, para(string(rune('a'+i%26)), 90+(i*37)%400))
	}
	res := Chunk(strings.Join(paras, "\n\n"))
	if res.Len() < 3 {
		t.Fatalf("expected several chunks, got %d", res.Len())
	}
	for i := 1; i < res.Len()-1; i++ {
		if n := utf8.RuneCountInString(res.Chunks[i]); n < DefaultMinChunkSize {
			t.Fatalf("chunk %d has %d chars; want >= %d", i, n, DefaultMinChunkSize)
		}
	}
}

func TestChunk_OversizedSegmentKeptWhole(t *testing.T) {
	huge := para("x", 5000)
	res := Chunk(huge)
	if res.Len() != 1 || res.Chunks[0] != huge {
		t.Fatalf("oversized single segment should be emitted whole")
	}
}

func TestChunk_HeadersPrependedToEveryChunk(t *testing.T) {
	text := "# Guide\n\n" + para("a", 1000) + "\n\nSECTION TWO\n\n" + para("b", 1000)
	res := Chunk(text)
	if res.Len() != 2 {
		t.Fatalf("got %d chunks; want 2", res.Len())
	}
	if !strings.HasPrefix(res.Chunks[0], "# Guide\nSECTION TWO\n\n") {
		t.Fatalf("first chunk missing headers: %q", res.Chunks[0][:40])
	}
	if !strings.HasPrefix(res.Chunks[1], "# Guide\nSECTION TWO\n\n") {
		t.Fatalf("second chunk missing headers: %q", res.Chunks[1][:40])
	}
}

func TestChunk_HeadersDisabledAreContent(t *testing.T) {
	res := Chunk("# Title\n\nbody", WithHeaders(false))
	if res.Len() != 1 || res.Chunks[0] != "# Title\nbody" {
		t.Fatalf("got %q", res.Chunks)
	}
}

func TestChunk_MarkdownClassifierKeepsUppercaseParagraphs(t *testing.T) {
	res := Chunk("# Title\n\nNOTE ON USAGE", WithClassifier(MarkdownClassifier{}))
	if res.Len() != 1 || res.Chunks[0] != "# Title\n\nNOTE ON USAGE" {
		t.Fatalf("got %q", res.Chunks)
	}
	res = Chunk("# Title\n\nNOTE ON USAGE")
	if res.Len() != 0 {
		t.Fatalf("heuristic classifier treats both segments as headers; got %q", res.Chunks)
	}
}

func TestChunk_OverlapIsRuneSafe(t *testing.T) {
	first := para("é", 300)
	second := para("ü", 1300)
	res := Chunk(first+"\n\n"+second, WithOverlap(10))
	if res.Len() != 2 {
		t.Fatalf("got %d chunks; want 2", res.Len())
	}
	if !utf8.ValidString(res.Chunks[1]) || !strings.HasPrefix(res.Chunks[1], para("é", 10)+"\n") {
		t.Fatalf("overlap should be 10 whole runes")
	}
}

func TestChunk_ZeroOverlapStartsOnTheNextSegment(t *testing.T) {
	second := para("b", 1300)
	res := Chunk(para("a", 300)+"\n\n"+second, WithOverlap(0))
	if res.Len() != 2 {
		t.Fatalf("got %d chunks; want 2", res.Len())
	}
	if res.Chunks[1] != second {
		t.Fatalf("second chunk starts %q; want the next paragraph with no separator", res.Chunks[1][:5])
	}
}

func TestNewWithOptions_RepairsDegenerateValues(t *testing.T) {
	c := NewWithOptions(Options{MinChunkSize: 5000, MaxChunkSize: 0, OverlapSize: -1})
	o := c.Options()
	if o.MaxChunkSize != DefaultMaxChunkSize || o.MinChunkSize != DefaultMaxChunkSize {
		t.Fatalf("sizes not repaired: %+v", o)
	}
	if o.OverlapSize != 0 || o.EstimatedTokenFactor != DefaultEstimatedTokenFactor || o.Classifier == nil {
		t.Fatalf("defaults not applied: %+v", o)
	}
}

func TestChunkDocument_BuildsOrderedChunks(t *testing.T) {
	c := New()
	chunks := c.ChunkDocument("doc-1", para("a", 1600)+"\n\n"+para("b", 1400))
	if len(chunks) != 2 {
		t.Fatalf("got %d chunks; want 2", len(chunks))
	}
	for i, ch := range chunks {
		if ch.DocumentID != "doc-1" || ch.SequenceIndex != i || ch.ID == "" {
			t.Fatalf("bad chunk %d: %+v", i, ch)
		}
		if ch.EstimatedTokens <= 0 || ch.Metadata["chars"] == nil {
			t.Fatalf("chunk %d missing estimates/metadata", i)
		}
	}
}

func TestClassifierByName(t *testing.T) {
	if _, ok := ClassifierByName("Markdown").(MarkdownClassifier); !ok {
		t.Fatalf("expected markdown classifier")
	}
	if _, ok := ClassifierByName("whatever").(HeuristicClassifier); !ok {
		t.Fatalf("expected heuristic fallback")
	}
	f := ClassifierFunc(func(s string) bool { return s == "H" })
	if !f.IsHeader("H") || f.IsHeader("x") {
		t.Fatalf("ClassifierFunc mismatch")
	}
}
