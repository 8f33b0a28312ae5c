// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for documents and
// their chunks, and ChunkStore, the chunk source used by retrieval.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-docchat-rag/internal/domain"
)

// chunkBatchSize bounds a single multi-row INSERT of chunks.
const chunkBatchSize = 100

// CreateDocument inserts d, filling in its ID and timestamps when unset.
func CreateDocument(ctx context.Context, db *gorm.DB, d *domain.Document) error {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if d.CreatedAt.IsZero() {
		d.CreatedAt = now
	}
	d.UpdatedAt = now
	return db.WithContext(ctx).Create(d).Error
}

// GetDocument fetches a document by ID and owner, or ErrNotFound.
func GetDocument(ctx context.Context, db *gorm.DB, id, userID string) (*domain.Document, error) {
	var d domain.Document
	if err := db.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).First(&d).Error; err != nil {
		return nil, err
	}
	return &d, nil
}

// FindDocumentBySource returns the user's document with the given source and
// title. Watched files are identified this way across restarts.
func FindDocumentBySource(ctx context.Context, db *gorm.DB, userID, source, title string) (*domain.Document, error) {
	var d domain.Document
	err := db.WithContext(ctx).
		Where("user_id = ? AND source = ? AND title = ?", userID, source, title).
		Order("created_at desc").
		First(&d).Error
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// CountDocuments returns the number of documents owned by userID.
func CountDocuments(ctx context.Context, db *gorm.DB, userID string) (int64, error) {
	var total int64
	err := db.WithContext(ctx).Model(&domain.Document{}).Where("user_id = ?", userID).Count(&total).Error
	return total, err
}

// ListDocumentsPage returns a page of the user's documents, newest first.
func ListDocumentsPage(ctx context.Context, db *gorm.DB, userID string, offset, limit int) ([]domain.Document, error) {
	var out []domain.Document
	err := db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at desc, id asc").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// OwnedDocumentIDs filters ids down to those owned by userID, keeping the
// input order.
func OwnedDocumentIDs(ctx context.Context, db *gorm.DB, userID string, ids []string) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var found []string
	err := db.WithContext(ctx).
		Model(&domain.Document{}).
		Where("user_id = ? AND id IN ?", userID, ids).
		Pluck("id", &found).Error
	if err != nil {
		return nil, err
	}
	owned := make(map[string]struct{}, len(found))
	for _, id := range found {
		owned[id] = struct{}{}
	}
	out := make([]string, 0, len(found))
	for _, id := range ids {
		if _, ok := owned[id]; ok {
			out = append(out, id)
			delete(owned, id)
		}
	}
	return out, nil
}

// ReplaceChunks swaps the chunks of a document and records the content hash
// and totals, all in one transaction.
func ReplaceChunks(ctx context.Context, db *gorm.DB, documentID, contentHash string, chunks []domain.Chunk) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("document_id = ?", documentID).Delete(&domain.Chunk{}).Error; err != nil {
			return err
		}
		total := 0
		for _, c := range chunks {
			total += c.EstimatedTokens
		}
		if len(chunks) > 0 {
			if err := tx.CreateInBatches(chunks, chunkBatchSize).Error; err != nil {
				return err
			}
		}
		now := time.Now().UTC()
		res := tx.Model(&domain.Document{}).Where("id = ?", documentID).Updates(map[string]any{
			"content_hash": contentHash,
			"chunk_count":  len(chunks),
			"total_tokens": total,
			"indexed_at":   now,
			"updated_at":   now,
		})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// DeleteDocument removes a document owned by userID and its chunks.
func DeleteDocument(ctx context.Context, db *gorm.DB, id, userID string) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("id = ? AND user_id = ?", id, userID).Delete(&domain.Document{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return tx.Where("document_id = ?", id).Delete(&domain.Chunk{}).Error
	})
}

// ListChunksPage returns chunks of a document in sequence order.
func ListChunksPage(ctx context.Context, db *gorm.DB, documentID string, offset, limit int) ([]domain.Chunk, error) {
	var out []domain.Chunk
	err := db.WithContext(ctx).
		Where("document_id = ?", documentID).
		Order("sequence_index asc").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// ChunkStore loads chunks for retrieval.
type ChunkStore struct {
	DB *gorm.DB
}

// ChunksForDocuments returns every chunk of the given documents, ordered by
// document then sequence.
func (s ChunkStore) ChunksForDocuments(ctx context.Context, documentIDs []string) ([]domain.Chunk, error) {
	if len(documentIDs) == 0 {
		return nil, nil
	}
	var out []domain.Chunk
	err := s.DB.WithContext(ctx).
		Where("document_id IN ?", documentIDs).
		Order("document_id asc, sequence_index asc").
		Find(&out).Error
	return out, err
}
