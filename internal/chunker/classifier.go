package chunker

import (
	"regexp"
	"strings"
)

// SegmentClassifier decides whether a paragraph is a header. Headers are
// buffered and prepended to chunks instead of being chunk content.
type SegmentClassifier interface {
	IsHeader(segment string) bool
}

var (
	atxHeaderRE  = regexp.MustCompile(`^#+\s`)
	capsHeaderRE = regexp.MustCompile(`^[A-Z0-9\s]{3,30}$`)
)

// HeuristicClassifier treats markdown ATX headings ("# Title") and short
// all-caps lines ("SECTION 2") as headers. It misclassifies short uppercase
// acronym paragraphs, which is accepted.
type HeuristicClassifier struct{}

// IsHeader implements SegmentClassifier.
func (HeuristicClassifier) IsHeader(segment string) bool {
	return atxHeaderRE.MatchString(segment) || capsHeaderRE.MatchString(segment)
}

// MarkdownClassifier only accepts single-line ATX headings, for corpora where
// uppercase paragraphs carry content.
type MarkdownClassifier struct{}

// IsHeader implements SegmentClassifier.
func (MarkdownClassifier) IsHeader(segment string) bool {
	s := strings.TrimSpace(segment)
	return atxHeaderRE.MatchString(s) && !strings.Contains(s, "\n")
}

// ClassifierFunc adapts a function to SegmentClassifier.
type ClassifierFunc func(segment string) bool

// IsHeader implements SegmentClassifier.
func (f ClassifierFunc) IsHeader(segment string) bool { return f(segment) }

// ClassifierByName resolves a configured classifier name. Unknown names fall
// back to the heuristic classifier.
func ClassifierByName(name string) SegmentClassifier {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "markdown":
		return MarkdownClassifier{}
	default:
		return HeuristicClassifier{}
	}
}
