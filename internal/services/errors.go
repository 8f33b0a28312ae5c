// Package services defines the business logic for conversations, messages,
// documents, feedback and credits. This file centralizes common service-level
// error values so that they can be consistently returned by service methods
// and checked by callers.
//
// Translation into user-facing messages or HTTP status codes is performed at
// the handler layer.
package services

import "errors"

// Conversation and message errors.
var (
	// ErrConversationNotFound indicates that the requested conversation does
	// not exist or is not accessible to the current user.
	ErrConversationNotFound = errors.New("conversation not found")

	// ErrEmptyPrompt is returned when a request to create a message contains
	// an empty prompt.
	ErrEmptyPrompt = errors.New("prompt is empty")

	// ErrTooLong is returned when a prompt exceeds the configured rune limit.
	ErrTooLong = errors.New("prompt too long")

	// ErrMessageNotFound indicates that the requested message does not exist
	// or is not accessible to the current user.
	ErrMessageNotFound = errors.New("message not found")
)

// Feedback errors.
var (
	ErrInvalidFeedback   = errors.New("feedback value must be -1 or 1")
	ErrForbiddenFeedback = errors.New("cannot leave feedback on this message")
	ErrDuplicateFeedback = errors.New("feedback already exists")
)

// Document errors.
var (
	// ErrDocumentNotFound is returned when a document id is unknown or owned
	// by someone else. Requests naming several documents fail as a whole.
	ErrDocumentNotFound = errors.New("document not found")

	// ErrEmptyDocument is returned when extraction leaves no text to index.
	ErrEmptyDocument = errors.New("document has no text content")

	// ErrTooManyDocuments caps how many documents one request may name.
	ErrTooManyDocuments = errors.New("too many documents")
)

// ErrInvalidAmount is returned for credit deposits that are not a positive
// decimal.
var ErrInvalidAmount = errors.New("amount must be a positive decimal")
