// Package domain defines the persistence models of the document-chat backend:
// conversations and their messages, ingested documents and their chunks, the
// response cache, and the credit ledger (balances, transactions, usage log).
// These types are mapped with GORM and shared by the repository, service and
// RAG layers.
package domain

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Conversation is a chat session owned by a user. A conversation may be
// scoped to a set of documents; answers are then grounded on those documents
// only. Provider and Model select the language model used for replies.
//
// Fields:
//   - ID: stable UUID primary key (char(36)).
//   - UserID: identifier of the owner; indexed for listing.
//   - Title: human-readable title (auto-generated from the first prompt).
//   - Provider / Model: language-model selection for this conversation.
//   - DocumentIDs: JSON array of document ids the conversation is scoped to.
//   - CreatedAt / UpdatedAt: timestamps managed by GORM.
//   - DeletedAt: soft deletion marker.
type Conversation struct {
	ID          string         `json:"id"                     gorm:"type:char(36);primaryKey"`
	UserID      string         `json:"user_id"                gorm:"type:varchar(64);not null;index:idx_user_conversations"`
	Title       string         `json:"title"                  gorm:"type:varchar(255);not null;default:'New conversation'"`
	Provider    string         `json:"provider"               gorm:"type:varchar(32);not null;default:'openai'"`
	Model       string         `json:"model,omitempty"        gorm:"type:varchar(128)"`
	DocumentIDs datatypes.JSON `json:"document_ids,omitempty" swaggertype:"array,string"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	DeletedAt   gorm.DeletedAt `json:"-"                      gorm:"index"`
}

// TableName returns the database table name for Conversation.
func (Conversation) TableName() string { return "conversations" }

// Documents decodes the DocumentIDs column. A malformed or empty column
// yields nil.
func (c Conversation) Documents() []string {
	if len(c.DocumentIDs) == 0 {
		return nil
	}
	var ids []string
	if err := json.Unmarshal(c.DocumentIDs, &ids); err != nil {
		return nil
	}
	return ids
}

// SetDocuments encodes ids into the DocumentIDs column.
func (c *Conversation) SetDocuments(ids []string) {
	if len(ids) == 0 {
		c.DocumentIDs = nil
		return
	}
	b, _ := json.Marshal(ids)
	c.DocumentIDs = datatypes.JSON(b)
}

// Message is a single utterance within a conversation. Assistant messages
// carry the retrieval score of the best matching chunk, the token usage and
// cost of the generation, and the cache key their answer was stored under,
// which lets negative feedback evict a bad cached answer.
type Message struct {
	ID               string          `json:"id"                 gorm:"type:char(36);primaryKey"`
	ConversationID   string          `json:"conversation_id"    gorm:"type:char(36);not null;index:idx_conversation_msgs,priority:1"`
	Role             string          `json:"role"               gorm:"type:varchar(16);not null;check:role IN ('user','assistant')"`
	Content          string          `json:"content"            gorm:"type:text;not null"`
	Score            *float64        `json:"score,omitempty"`
	Provider         string          `json:"provider,omitempty" gorm:"type:varchar(32)"`
	PromptTokens     int             `json:"prompt_tokens"      gorm:"not null;default:0"`
	CompletionTokens int             `json:"completion_tokens"  gorm:"not null;default:0"`
	Cost             decimal.Decimal `json:"cost"               gorm:"type:decimal(20,8);not null;default:0" swaggertype:"string"`
	FromCache        bool            `json:"from_cache"         gorm:"not null;default:false"`
	CacheKey         string          `json:"-"                  gorm:"type:varchar(128)"`
	CreatedAt        time.Time       `json:"created_at"         gorm:"index:idx_conversation_msgs,priority:2"`
	UpdatedAt        time.Time       `json:"updated_at"`
	DeletedAt        gorm.DeletedAt  `json:"-"                  gorm:"index"`

	Conversation Conversation `json:"-" gorm:"foreignKey:ConversationID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Message.
func (Message) TableName() string { return "messages" }

// Feedback is a user rating (+1/-1) on an assistant message. One entry per
// (message, user). Evicted records whether a negative rating removed the
// cached answer behind the message.
type Feedback struct {
	ID        string         `json:"id"         gorm:"type:char(36);primaryKey"`
	MessageID string         `json:"message_id" gorm:"type:char(36);not null;index;uniqueIndex:ux_feedback_message_user"`
	UserID    string         `json:"user_id"    gorm:"type:varchar(64);not null;index;uniqueIndex:ux_feedback_message_user"`
	Value     int            `json:"value"      gorm:"not null;check:value IN (-1,1)"`
	Evicted   bool           `json:"evicted"    gorm:"not null;default:false"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-"          gorm:"index"`

	Message Message `json:"-" gorm:"foreignKey:MessageID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Feedback.
func (Feedback) TableName() string { return "feedback" }

// Document is a source text ingested for retrieval. The raw text is not kept;
// only its chunks are. ContentHash is the SHA-256 of the normalized text and
// drives re-index skipping.
type Document struct {
	ID          string     `json:"id"                   gorm:"type:char(36);primaryKey"`
	UserID      string     `json:"user_id"              gorm:"type:varchar(64);not null;index:idx_user_documents"`
	Title       string     `json:"title"                gorm:"type:varchar(255);not null"`
	Source      string     `json:"source"               gorm:"type:varchar(32);not null;default:'upload'"`
	ContentType string     `json:"content_type"         gorm:"type:varchar(32);not null;default:'text'"`
	ContentHash string     `json:"content_hash"         gorm:"type:char(64);index"`
	ChunkCount  int        `json:"chunk_count"          gorm:"not null;default:0"`
	TotalTokens int        `json:"total_tokens"         gorm:"not null;default:0"`
	IndexedAt   *time.Time `json:"indexed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// TableName returns the database table name for Document.
func (Document) TableName() string { return "documents" }

// Chunk is an immutable, contiguous slice of a document's text produced by
// the chunker. SequenceIndex orders chunks within their document.
type Chunk struct {
	ID              string            `json:"id"               gorm:"type:char(36);primaryKey"`
	DocumentID      string            `json:"document_id"      gorm:"type:char(36);not null;uniqueIndex:ux_chunk_document_seq,priority:1"`
	SequenceIndex   int               `json:"sequence_index"   gorm:"not null;uniqueIndex:ux_chunk_document_seq,priority:2"`
	Content         string            `json:"content"          gorm:"type:text;not null"`
	EstimatedTokens int               `json:"estimated_tokens" gorm:"not null"`
	Metadata        datatypes.JSONMap `json:"metadata,omitempty" swaggertype:"object"`
	CreatedAt       time.Time         `json:"created_at"`

	Document Document `json:"-" gorm:"foreignKey:DocumentID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Chunk.
func (Chunk) TableName() string { return "document_chunks" }

// CacheEntry is a cached model response. An entry is valid while the
// current time is before ExpiresAt. AccessCount is bumped on every hit.
type CacheEntry struct {
	Key         string    `json:"key"          gorm:"type:varchar(128);primaryKey"`
	Value       string    `json:"value"        gorm:"type:text;not null"`
	CreatedAt   time.Time `json:"created_at"   gorm:"not null"`
	ExpiresAt   time.Time `json:"expires_at"   gorm:"not null;index"`
	AccessCount int64     `json:"access_count" gorm:"not null;default:0"`
}

// TableName returns the database table name for CacheEntry.
func (CacheEntry) TableName() string { return "response_cache" }

// UsageRecord is an append-only entry in the token usage log. Cache hits
// are recorded with FromCache set and zero cost.
type UsageRecord struct {
	ID            string          `json:"id"             gorm:"type:char(36);primaryKey"`
	UserID        string          `json:"user_id"        gorm:"type:varchar(64);not null;index:idx_usage_user_time,priority:1"`
	Provider      string          `json:"provider"       gorm:"type:varchar(128);not null"`
	OperationType string          `json:"operation_type" gorm:"type:varchar(32);not null;default:'chat'"`
	TokensInput   int             `json:"tokens_input"   gorm:"not null"`
	TokensOutput  int             `json:"tokens_output"  gorm:"not null"`
	EstimatedCost decimal.Decimal `json:"estimated_cost" gorm:"type:decimal(20,8);not null" swaggertype:"string"`
	FromCache     bool            `json:"from_cache"     gorm:"not null;default:false"`
	CreatedAt     time.Time       `json:"created_at"     gorm:"index:idx_usage_user_time,priority:2"`
}

// TableName returns the database table name for UsageRecord.
func (UsageRecord) TableName() string { return "token_usage" }

// CreditBalance is a user's spendable balance. Balance may drift below zero
// when an actual cost exceeds the estimate that passed the credit gate.
type CreditBalance struct {
	UserID      string          `json:"user_id"      gorm:"type:varchar(64);primaryKey"`
	Balance     decimal.Decimal `json:"balance"      gorm:"type:decimal(20,8);not null" swaggertype:"string"`
	LastUpdated time.Time       `json:"last_updated" gorm:"not null"`
}

// TableName returns the database table name for CreditBalance.
func (CreditBalance) TableName() string { return "user_credits" }

// Credit transaction types.
const (
	TransactionDeposit = "deposit"
	TransactionUsage   = "usage"
)

// CreditTransaction records a balance movement: deposits are positive,
// usage is recorded as a positive amount of type "usage".
type CreditTransaction struct {
	ID        string          `json:"id"                  gorm:"type:char(36);primaryKey"`
	UserID    string          `json:"user_id"             gorm:"type:varchar(64);not null;index"`
	Amount    decimal.Decimal `json:"amount"              gorm:"type:decimal(20,8);not null" swaggertype:"string"`
	Type      string          `json:"type"                gorm:"type:varchar(16);not null;check:type IN ('deposit','usage')"`
	Status    string          `json:"status"              gorm:"type:varchar(16);not null;default:'completed'"`
	Reference string          `json:"reference,omitempty" gorm:"type:varchar(255)"`
	CreatedAt time.Time       `json:"created_at"`
}

// TableName returns the database table name for CreditTransaction.
func (CreditTransaction) TableName() string { return "credit_transactions" }
