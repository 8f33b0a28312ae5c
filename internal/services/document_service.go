// Package services – DocumentService
//
// DocumentService turns uploaded or watched files into indexed documents:
// text is extracted by content type, chunked, and the chunks replace the
// document's previous ones in a single transaction. A content hash recorded
// in the cache lets unchanged documents skip re-chunking.
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/tbourn/go-docchat-rag/internal/cache"
	"github.com/tbourn/go-docchat-rag/internal/chunker"
	"github.com/tbourn/go-docchat-rag/internal/domain"
	"github.com/tbourn/go-docchat-rag/internal/ingest"
	"github.com/tbourn/go-docchat-rag/internal/repo"
)

// Document sources.
const (
	SourceUpload = "upload"
	SourceWatch  = "watch"
)

const (
	defaultDocumentTitle = "Untitled document"
	// DefaultIndexConcurrency bounds parallel indexing in CreateBatch.
	DefaultIndexConcurrency = 4
)

// NewDocument is the input of DocumentService.Create.
type NewDocument struct {
	Title string
	// Filename helps content type detection when ContentType is empty.
	Filename    string
	ContentType string
	Content     string
	Source      string
}

// BatchResult is the outcome of one document in CreateBatch.
type BatchResult struct {
	Document *domain.Document `json:"document,omitempty"`
	Error    string           `json:"error,omitempty"`
}

// DocumentService manages documents and their chunks.
type DocumentService struct {
	DB      *gorm.DB
	Chunker *chunker.Chunker
	// Markdown, when set, chunks markdown documents instead of Chunker.
	Markdown *chunker.Chunker
	// IndexState, when set, skips re-chunking documents whose content hash
	// is unchanged.
	IndexState *cache.IndexState
	// Concurrency bounds CreateBatch; zero means DefaultIndexConcurrency.
	Concurrency int
	Log         zerolog.Logger
}

// NewDocumentService returns a service chunking with default options and a
// markdown-aware variant for markdown documents.
func NewDocumentService(db *gorm.DB, opts chunker.Options) *DocumentService {
	md := opts
	md.Classifier = chunker.MarkdownClassifier{}
	return &DocumentService{
		DB:       db,
		Chunker:  chunker.NewWithOptions(opts),
		Markdown: chunker.NewWithOptions(md),
		Log:      zerolog.Nop(),
	}
}

// Create extracts, stores and indexes one document for userID.
func (s *DocumentService) Create(ctx context.Context, userID string, in NewDocument) (*domain.Document, error) {
	tr := otel.Tracer("services/DocumentService")
	ctx, span := tr.Start(ctx, "Create", trace.WithAttributes(attribute.String("user.id", userID)))
	defer span.End()

	ct := ingest.DetectContentType(in.Filename, in.ContentType)
	if ct == "" {
		return nil, fmt.Errorf("%w: %q", ingest.ErrUnsupportedContentType, in.ContentType)
	}
	ext, err := ingest.Extract(ct, strings.NewReader(in.Content))
	if err != nil {
		return nil, err
	}
	if ext.Text == "" {
		return nil, ErrEmptyDocument
	}

	title := normalizeTitle(in.Title)
	if title == "" {
		title = normalizeTitle(ext.Title)
	}
	if title == "" {
		title = defaultDocumentTitle
	}
	source := in.Source
	if source == "" {
		source = SourceUpload
	}

	doc := &domain.Document{
		UserID:      userID,
		Title:       clipRunes(title, 255),
		Source:      source,
		ContentType: ct,
	}
	if err := s.index(ctx, doc, ext.Text, true); err != nil {
		span.RecordError(err)
		return nil, err
	}
	span.SetAttributes(attribute.String("document.id", doc.ID))
	return doc, nil
}

// CreateBatch indexes several documents in parallel. Failures are reported
// per document and do not stop the others.
func (s *DocumentService) CreateBatch(ctx context.Context, userID string, in []NewDocument) []BatchResult {
	out := make([]BatchResult, len(in))
	limit := s.Concurrency
	if limit <= 0 {
		limit = DefaultIndexConcurrency
	}

	var g errgroup.Group
	g.SetLimit(limit)
	for i := range in {
		g.Go(func() error {
			doc, err := s.Create(ctx, userID, in[i])
			if err != nil {
				out[i] = BatchResult{Error: err.Error()}
				return nil
			}
			out[i] = BatchResult{Document: doc}
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// index chunks text into doc unless the recorded hash says it is unchanged.
// With create set, the document row is inserted in the same transaction as
// its chunks, so a document that cannot be indexed is never stored.
func (s *DocumentService) index(ctx context.Context, doc *domain.Document, text string, create bool) error {
	hash := ingest.ContentHash(text)
	if !create && s.IndexState != nil && doc.ContentHash == hash && s.IndexState.Unchanged(ctx, doc.ID, hash) {
		s.Log.Debug().Str("document_id", doc.ID).Msg("document unchanged, skipping re-index")
		return nil
	}

	if create && doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	chunks := s.chunkerFor(doc.ContentType).ChunkDocument(doc.ID, text)
	if len(chunks) == 0 {
		return ErrEmptyDocument
	}
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if create {
			if err := repo.CreateDocument(ctx, tx, doc); err != nil {
				return err
			}
		}
		return repo.ReplaceChunks(ctx, tx, doc.ID, hash, chunks)
	})
	if err != nil {
		return err
	}

	total := 0
	for _, c := range chunks {
		total += c.EstimatedTokens
	}
	doc.ContentHash = hash
	doc.ChunkCount = len(chunks)
	doc.TotalTokens = total
	if fresh, err := repo.GetDocument(ctx, s.DB, doc.ID, doc.UserID); err == nil {
		doc.IndexedAt = fresh.IndexedAt
		doc.UpdatedAt = fresh.UpdatedAt
	}

	if s.IndexState != nil {
		if err := s.IndexState.Record(ctx, doc.ID, hash); err != nil {
			s.Log.Warn().Err(err).Str("document_id", doc.ID).Msg("index state not recorded")
		}
	}
	s.Log.Info().
		Str("document_id", doc.ID).
		Int("chunks", len(chunks)).
		Int("tokens", total).
		Msg("document indexed")
	return nil
}

func (s *DocumentService) chunkerFor(contentType string) *chunker.Chunker {
	if contentType == ingest.TypeMarkdown && s.Markdown != nil {
		return s.Markdown
	}
	if s.Chunker == nil {
		return chunker.New()
	}
	return s.Chunker
}

// WatchIndexer returns an ingest.Indexer that files watched documents under
// userID. A file is identified by its base name: writing the same file
// again re-indexes the existing document.
func (s *DocumentService) WatchIndexer(userID string) ingest.Indexer {
	return ingest.IndexerFunc(func(ctx context.Context, f ingest.File) error {
		return s.IndexFile(ctx, userID, f)
	})
}

// IndexFile creates or re-indexes the document backing a watched file.
func (s *DocumentService) IndexFile(ctx context.Context, userID string, f ingest.File) error {
	if strings.TrimSpace(f.Text) == "" {
		return ErrEmptyDocument
	}
	doc, err := repo.FindDocumentBySource(ctx, s.DB, userID, SourceWatch, f.Name)
	switch {
	case errors.Is(err, repo.ErrNotFound):
		doc = &domain.Document{UserID: userID, Title: f.Name, Source: SourceWatch, ContentType: f.ContentType}
		return s.index(ctx, doc, f.Text, true)
	case err != nil:
		return err
	}
	return s.index(ctx, doc, f.Text, false)
}

// Get returns a document owned by userID.
func (s *DocumentService) Get(ctx context.Context, userID, id string) (*domain.Document, error) {
	d, err := repo.GetDocument(ctx, s.DB, id, userID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrDocumentNotFound
	}
	return d, err
}

// ListPage returns a page of the user's documents, newest first.
func (s *DocumentService) ListPage(ctx context.Context, userID string, page, pageSize int) ([]domain.Document, int64, error) {
	page, pageSize = normalizePage(page, pageSize)
	total, err := repo.CountDocuments(ctx, s.DB, userID)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.Document{}, 0, nil
	}
	items, err := repo.ListDocumentsPage(ctx, s.DB, userID, (page-1)*pageSize, pageSize)
	return items, total, err
}

// Chunks returns a page of a document's chunks in sequence order.
func (s *DocumentService) Chunks(ctx context.Context, userID, id string, page, pageSize int) ([]domain.Chunk, int64, error) {
	d, err := s.Get(ctx, userID, id)
	if err != nil {
		return nil, 0, err
	}
	page, pageSize = normalizePage(page, pageSize)
	items, err := repo.ListChunksPage(ctx, s.DB, id, (page-1)*pageSize, pageSize)
	return items, int64(d.ChunkCount), err
}

// Delete removes a document, its chunks and its recorded index state.
func (s *DocumentService) Delete(ctx context.Context, userID, id string) error {
	if err := repo.DeleteDocument(ctx, s.DB, id, userID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return ErrDocumentNotFound
		}
		return err
	}
	if s.IndexState != nil {
		if err := s.IndexState.Forget(ctx, id); err != nil {
			s.Log.Warn().Err(err).Str("document_id", id).Msg("index state not cleared")
		}
	}
	return nil
}

// OwnedIDs checks that userID owns every id and returns them deduplicated.
func (s *DocumentService) OwnedIDs(ctx context.Context, userID string, ids []string) ([]string, error) {
	return checkOwnedDocuments(ctx, s.DB, repo.OwnedDocumentIDs, userID, ids)
}

func normalizePage(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	return page, pageSize
}
