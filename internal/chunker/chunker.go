// Package chunker splits document text into overlapping, size-bounded chunks
// for indexing. Splitting happens at paragraph boundaries only; a chunk is
// finalized once it has reached the minimum size and the next paragraph would
// push it past the maximum. Consecutive chunks share a tail overlap, and
// header paragraphs seen so far are prepended to every emitted chunk.
//
// A single paragraph larger than the maximum is emitted whole and never split
// mid-paragraph, so chunks can exceed MaxChunkSize in that case.
//
// Sizes are measured in characters (runes). The package does no logging and
// never fails: empty input yields an empty Result.
package chunker

import (
	"errors"
	"math"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/tbourn/go-docchat-rag/internal/domain"
)

// ErrEmptyInput is available to callers that treat an empty chunking result
// as a failure (for example document ingestion). Chunk itself never returns it.
var ErrEmptyInput = errors.New("chunker: no content to chunk")

// Defaults.
const (
	DefaultMinChunkSize         = 200
	DefaultMaxChunkSize         = 1500
	DefaultOverlapSize          = 100
	DefaultEstimatedTokenFactor = 0.25
)

// Options controls chunk sizing and paragraph/header handling.
type Options struct {
	MinChunkSize         int
	MaxChunkSize         int
	OverlapSize          int
	RespectParagraphs    bool
	PreserveHeaders      bool
	EstimatedTokenFactor float64
	Classifier           SegmentClassifier
}

// DefaultOptions returns the standard chunking configuration.
func DefaultOptions() Options {
	return Options{
		MinChunkSize:         DefaultMinChunkSize,
		MaxChunkSize:         DefaultMaxChunkSize,
		OverlapSize:          DefaultOverlapSize,
		RespectParagraphs:    true,
		PreserveHeaders:      true,
		EstimatedTokenFactor: DefaultEstimatedTokenFactor,
		Classifier:           HeuristicClassifier{},
	}
}

// Option mutates Options.
type Option func(*Options)

// WithSizes sets the minimum and maximum chunk size in characters.
// Non-positive values keep the current setting.
func WithSizes(min, max int) Option {
	return func(o *Options) {
		if min > 0 {
			o.MinChunkSize = min
		}
		if max > 0 {
			o.MaxChunkSize = max
		}
	}
}

// WithOverlap sets the number of trailing characters carried into the next
// chunk. Zero disables overlap.
func WithOverlap(n int) Option {
	return func(o *Options) {
		if n >= 0 {
			o.OverlapSize = n
		}
	}
}

// WithParagraphs toggles paragraph splitting. When disabled the whole text
// is a single segment.
func WithParagraphs(on bool) Option {
	return func(o *Options) { o.RespectParagraphs = on }
}

// WithHeaders toggles header buffering and prepending.
func WithHeaders(on bool) Option {
	return func(o *Options) { o.PreserveHeaders = on }
}

// WithTokenFactor sets the tokens-per-character ratio used for estimates.
func WithTokenFactor(f float64) Option {
	return func(o *Options) {
		if f > 0 {
			o.EstimatedTokenFactor = f
		}
	}
}

// WithClassifier replaces the header classifier.
func WithClassifier(c SegmentClassifier) Option {
	return func(o *Options) {
		if c != nil {
			o.Classifier = c
		}
	}
}

// Result holds the chunks and their estimated token counts, index-aligned.
type Result struct {
	Chunks          []string
	EstimatedTokens []int
}

// Len returns the number of chunks.
func (r Result) Len() int { return len(r.Chunks) }

// Chunker applies a fixed Options set. It is immutable and safe for
// concurrent use.
type Chunker struct {
	opts Options
}

// New builds a Chunker from DefaultOptions with opts applied.
func New(opts ...Option) *Chunker {
	o := DefaultOptions()
	for _, fn := range opts {
		fn(&o)
	}
	return NewWithOptions(o)
}

// NewWithOptions builds a Chunker from a complete Options value, repairing
// values that would make the algorithm degenerate.
func NewWithOptions(o Options) *Chunker {
	if o.MaxChunkSize <= 0 {
		o.MaxChunkSize = DefaultMaxChunkSize
	}
	if o.MinChunkSize < 0 {
		o.MinChunkSize = 0
	}
	if o.MinChunkSize > o.MaxChunkSize {
		o.MinChunkSize = o.MaxChunkSize
	}
	if o.OverlapSize < 0 {
		o.OverlapSize = 0
	}
	if o.EstimatedTokenFactor <= 0 {
		o.EstimatedTokenFactor = DefaultEstimatedTokenFactor
	}
	if o.Classifier == nil {
		o.Classifier = HeuristicClassifier{}
	}
	return &Chunker{opts: o}
}

// Options returns the effective configuration.
func (c *Chunker) Options() Options { return c.opts }

// Chunk splits text with the default configuration plus opts.
func Chunk(text string, opts ...Option) Result {
	return New(opts...).Chunk(text)
}

// paragraphRE matches a blank line, optionally containing whitespace.
var paragraphRE = regexp.MustCompile(`\n\s*\n`)

type piece struct {
	text    string
	headers int
}

// Chunk splits text into chunks. Every non-header character of the input
// appears in at least one chunk.
func (c *Chunker) Chunk(text string) Result {
	pieces := c.split(text)
	res := Result{
		Chunks:          make([]string, 0, len(pieces)),
		EstimatedTokens: make([]int, 0, len(pieces)),
	}
	for _, p := range pieces {
		res.Chunks = append(res.Chunks, p.text)
		res.EstimatedTokens = append(res.EstimatedTokens, c.estimate(p.text))
	}
	return res
}

// ChunkDocument chunks text and wraps the result in domain chunks owned by
// documentID, ordered by SequenceIndex.
func (c *Chunker) ChunkDocument(documentID, text string) []domain.Chunk {
	pieces := c.split(text)
	now := time.Now().UTC()
	out := make([]domain.Chunk, 0, len(pieces))
	for i, p := range pieces {
		out = append(out, domain.Chunk{
			ID:              uuid.NewString(),
			DocumentID:      documentID,
			SequenceIndex:   i,
			Content:         p.text,
			EstimatedTokens: c.estimate(p.text),
			Metadata: datatypes.JSONMap{
				"chars":   utf8.RuneCountInString(p.text),
				"headers": p.headers,
			},
			CreatedAt: now,
		})
	}
	return out
}

func (c *Chunker) split(text string) []piece {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	text = strings.ReplaceAll(text, "\r\n", "\n")

	segments := []string{text}
	if c.opts.RespectParagraphs {
		segments = paragraphRE.Split(text, -1)
	}

	var (
		out     []piece
		headers []string
		cur     strings.Builder
		curLen  int
	)
	emit := func(body string) {
		if c.opts.PreserveHeaders && len(headers) > 0 {
			body = strings.Join(headers, "\n") + "\n\n" + body
		}
		out = append(out, piece{text: body, headers: len(headers)})
	}

	for _, seg := range segments {
		if c.opts.PreserveHeaders && c.opts.Classifier.IsHeader(seg) {
			headers = append(headers, seg)
			continue
		}
		segLen := utf8.RuneCountInString(seg)

		if curLen+segLen > c.opts.MaxChunkSize && curLen >= c.opts.MinChunkSize {
			body := cur.String()
			emit(body)

			tail := lastRunes(body, c.opts.OverlapSize)
			cur.Reset()
			curLen = 0
			if tail != "" {
				cur.WriteString(tail)
				cur.WriteByte('\n')
				curLen = utf8.RuneCountInString(tail) + 1
			}
			cur.WriteString(seg)
			curLen += segLen
			continue
		}

		if curLen > 0 {
			cur.WriteByte('\n')
			curLen++
		}
		cur.WriteString(seg)
		curLen += segLen
	}

	if body := cur.String(); strings.TrimSpace(body) != "" {
		emit(body)
	}
	return out
}

func (c *Chunker) estimate(s string) int {
	return int(math.Ceil(float64(utf8.RuneCountInString(s)) * c.opts.EstimatedTokenFactor))
}

// lastRunes returns the last n runes of s, or s when it is shorter.
func lastRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	count := utf8.RuneCountInString(s)
	if count <= n {
		return s
	}
	skip := count - n
	for i := range s {
		if skip == 0 {
			return s[i:]
		}
		skip--
	}
	return ""
}
