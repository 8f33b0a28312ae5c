// Package ingest turns uploaded or watched files into plain text ready for
// chunking. Markdown tables are flattened into one paragraph per row, and
// HTML is reduced to its readable blocks with headings rendered as markdown
// headings so the chunker keeps them as section headers.
package ingest

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"golang.org/x/net/html"
)

// Content types.
const (
	TypeText     = "text"
	TypeMarkdown = "markdown"
	TypeHTML     = "html"
)

// ErrUnsupportedContentType is returned for types other than text, markdown
// and html.
var ErrUnsupportedContentType = errors.New("unsupported content type")

// maxInput bounds how much of a single document is read.
const maxInput = 16 << 20

// Extracted is the text of a document and the title found in it, if any.
type Extracted struct {
	Title string
	Text  string
}

// DetectContentType resolves a declared type, falling back to the file
// extension. An empty result means the file is not ingestible.
func DetectContentType(filename, declared string) string {
	switch strings.ToLower(strings.TrimSpace(declared)) {
	case TypeText, "txt", "text/plain":
		return TypeText
	case TypeMarkdown, "md", "text/markdown":
		return TypeMarkdown
	case TypeHTML, "htm", "text/html":
		return TypeHTML
	}
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".txt", ".text":
		return TypeText
	case ".md", ".markdown":
		return TypeMarkdown
	case ".html", ".htm":
		return TypeHTML
	}
	if declared == "" && filename == "" {
		return TypeText
	}
	return ""
}

// Extract reads r as contentType and returns normalized text.
func Extract(contentType string, r io.Reader) (Extracted, error) {
	lr := io.LimitReader(r, maxInput)
	switch contentType {
	case TypeText:
		b, err := io.ReadAll(lr)
		if err != nil {
			return Extracted{}, err
		}
		return Extracted{Text: normalize(string(b))}, nil
	case TypeMarkdown:
		b, err := io.ReadAll(lr)
		if err != nil {
			return Extracted{}, err
		}
		text, err := FlattenMarkdownTables(normalize(string(b)))
		if err != nil {
			return Extracted{}, err
		}
		return Extracted{Title: markdownTitle(text), Text: text}, nil
	case TypeHTML:
		return extractHTML(lr)
	default:
		return Extracted{}, fmt.Errorf("%w: %q", ErrUnsupportedContentType, contentType)
	}
}

// ContentHash returns the hex SHA-256 of text.
func ContentHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

func normalize(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = strings.TrimPrefix(s, "\ufeff")
	return strings.TrimSpace(s)
}

func markdownTitle(text string) string {
	for _, line := range strings.Split(text, "\n") {
		if strings.HasPrefix(line, "# ") {
			return strings.TrimSpace(strings.TrimPrefix(line, "# "))
		}
	}
	return ""
}

// FlattenMarkdownTables rewrites every table row ("| a | b |") as a
// standalone paragraph "a b". Separator rows ("|---|:-:|") are dropped.
// Other lines pass through untouched.
func FlattenMarkdownTables(text string) (string, error) {
	var b strings.Builder
	sc := bufio.NewScanner(strings.NewReader(text))
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	inTable := false
	for sc.Scan() {
		raw := sc.Text()
		line := strings.TrimSpace(raw)
		if !(strings.HasPrefix(line, "|") && strings.HasSuffix(line, "|") && len(line) > 1) {
			inTable = false
			b.WriteString(raw)
			b.WriteByte('\n')
			continue
		}

		cells := strings.Split(strings.Trim(line, "|"), "|")
		kept := make([]string, 0, len(cells))
		separator := true
		for _, c := range cells {
			cell := strings.TrimSpace(c)
			if strings.Trim(cell, ":- ") != "" {
				separator = false
			}
			if cell != "" {
				kept = append(kept, cell)
			}
		}
		if separator || len(kept) == 0 {
			continue
		}
		if !inTable && b.Len() > 0 && !strings.HasSuffix(b.String(), "\n\n") {
			b.WriteByte('\n')
		}
		inTable = true
		b.WriteString(strings.Join(kept, " "))
		b.WriteString("\n\n")
	}
	if err := sc.Err(); err != nil {
		return "", err
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

var skipElements = map[string]bool{
	"script": true, "style": true, "noscript": true, "nav": true,
	"header": true, "footer": true, "aside": true, "form": true,
	"template": true, "svg": true, "iframe": true, "head": true,
}

var blockElements = map[string]bool{
	"p": true, "li": true, "pre": true, "blockquote": true, "td": true,
	"th": true, "dt": true, "dd": true, "figcaption": true, "caption": true,
}

func extractHTML(r io.Reader) (Extracted, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return Extracted{}, fmt.Errorf("parsing HTML: %w", err)
	}

	var out Extracted
	if t := findElement(doc, "title"); t != nil {
		out.Title = collapse(textContent(t))
	}

	var blocks []string
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			if skipElements[n.Data] {
				return
			}
			switch {
			case len(n.Data) == 2 && n.Data[0] == 'h' && n.Data[1] >= '1' && n.Data[1] <= '6':
				if t := collapse(textContent(n)); t != "" {
					blocks = append(blocks, strings.Repeat("#", int(n.Data[1]-'0'))+" "+t)
				}
				return
			case blockElements[n.Data]:
				if t := collapse(textContent(n)); t != "" {
					blocks = append(blocks, t)
				}
				return
			}
		}
		if n.Type == html.TextNode && n.Parent != nil && n.Parent.Type == html.ElementNode &&
			(n.Parent.Data == "body" || n.Parent.Data == "div" || n.Parent.Data == "section" || n.Parent.Data == "article" || n.Parent.Data == "main") {
			if t := collapse(n.Data); t != "" {
				blocks = append(blocks, t)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	if body := findElement(doc, "body"); body != nil {
		walk(body)
	} else {
		walk(doc)
	}

	out.Text = strings.Join(blocks, "\n\n")
	if out.Title == "" {
		if h := findElement(doc, "h1"); h != nil {
			out.Title = collapse(textContent(h))
		}
	}
	return out, nil
}

func findElement(n *html.Node, tag string) *html.Node {
	if n.Type == html.ElementNode && n.Data == tag {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findElement(c, tag); found != nil {
			return found
		}
	}
	return nil
}

func textContent(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && skipElements[n.Data] {
			return
		}
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
			b.WriteByte(' ')
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}

func collapse(s string) string { return strings.Join(strings.Fields(s), " ") }
