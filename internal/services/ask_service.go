package services

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/tbourn/go-docchat-rag/internal/rag"
)

// AskService answers one-off questions over a set of documents without a
// conversation. Nothing is persisted besides metering and the cache.
type AskService struct {
	RAG            Answerer
	Documents      *DocumentService
	MaxPromptRunes int
}

// Ask validates document ownership and delegates to the orchestrator.
func (s *AskService) Ask(ctx context.Context, userID string, req rag.Request) (*rag.Answer, error) {
	req.Query = strings.TrimSpace(req.Query)
	if req.Query == "" {
		return nil, ErrEmptyPrompt
	}
	if s.MaxPromptRunes > 0 && utf8.RuneCountInString(req.Query) > s.MaxPromptRunes {
		return nil, ErrTooLong
	}
	ids, err := s.Documents.OwnedIDs(ctx, userID, req.DocumentIDs)
	if err != nil {
		return nil, err
	}
	req.UserID = userID
	req.ConversationID = ""
	req.DocumentIDs = ids
	return s.RAG.Answer(ctx, req)
}
