package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-docchat-rag/internal/credits"
	"github.com/tbourn/go-docchat-rag/internal/ingest"
	"github.com/tbourn/go-docchat-rag/internal/llm"
	"github.com/tbourn/go-docchat-rag/internal/rag"
	"github.com/tbourn/go-docchat-rag/internal/services"
)

const (
	ErrCodeBadRequest   = "bad_request"
	ErrCodeUnauthorized = "unauthorized"
	ErrCodeForbidden    = "forbidden"
	ErrCodeNotFound     = "not_found"
	ErrCodeConflict     = "conflict"
	ErrCodeRateLimited  = "too_many_requests"
	ErrCodeInternal     = "internal_error"

	// Domain-specific:
	ErrCodeAnswerFailed       = "answer_failed"
	ErrCodeCreateFailed       = "create_failed"
	ErrCodeListFailed         = "list_failed"
	ErrCodeMethodNotAllowed   = "method_not_allowed"
	ErrCodeInsufficientCredit = "insufficient_credit"
	ErrCodeProviderError      = "provider_error"
	ErrCodeProviderTimeout    = "provider_timeout"
	ErrCodeUnknownProvider    = "unknown_provider"
	ErrCodeUnsupportedMedia   = "unsupported_media_type"
	ErrCodeCacheUnavailable   = "cache_unavailable"
)

var errMissingFile = errors.New("multipart field \"file\" is required")

// failErr maps a service error to a status and code. Errors with no mapping
// become a 500 carrying fallbackCode.
func failErr(c *gin.Context, err error, fallbackCode string) {
	var (
		insufficient *credits.InsufficientCreditError
		timeout      *llm.ProviderTimeoutError
		provider     *llm.ProviderError
	)
	switch {
	case errors.Is(err, services.ErrConversationNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "conversation not found")
	case errors.Is(err, services.ErrDocumentNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "document not found")
	case errors.Is(err, services.ErrMessageNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "message not found")
	case errors.Is(err, services.ErrEmptyPrompt), errors.Is(err, rag.ErrEmptyQuery):
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "content required")
	case errors.Is(err, services.ErrTooLong):
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "content too long")
	case errors.Is(err, services.ErrTooManyDocuments):
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
	case errors.Is(err, services.ErrEmptyDocument):
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "document has no text")
	case errors.Is(err, services.ErrInvalidAmount):
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "amount must be a positive decimal")
	case errors.Is(err, services.ErrInvalidFeedback):
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "value must be -1 or 1")
	case errors.Is(err, services.ErrForbiddenFeedback):
		fail(c, http.StatusForbidden, ErrCodeForbidden, "cannot leave feedback on this message")
	case errors.Is(err, services.ErrDuplicateFeedback):
		fail(c, http.StatusConflict, ErrCodeConflict, "feedback already exists")
	case errors.Is(err, ingest.ErrUnsupportedContentType):
		fail(c, http.StatusUnsupportedMediaType, ErrCodeUnsupportedMedia, err.Error())
	case errors.Is(err, llm.ErrUnknownProvider):
		fail(c, http.StatusBadRequest, ErrCodeUnknownProvider, err.Error())
	case errors.As(err, &insufficient):
		failWith(c, http.StatusPaymentRequired, ErrCodeInsufficientCredit, insufficient.Error(), &ErrorDetails{
			Balance:  &insufficient.Balance,
			Required: &insufficient.Required,
		})
	case errors.As(err, &timeout):
		failWith(c, http.StatusGatewayTimeout, ErrCodeProviderTimeout, "language model did not answer in time",
			&ErrorDetails{Provider: timeout.Provider})
	case errors.Is(err, context.DeadlineExceeded):
		fail(c, http.StatusGatewayTimeout, ErrCodeProviderTimeout, "language model did not answer in time")
	case errors.As(err, &provider):
		failWith(c, http.StatusBadGateway, ErrCodeProviderError, "language model request failed",
			&ErrorDetails{Provider: provider.Provider, UpstreamStatus: provider.StatusCode})
	default:
		fail(c, http.StatusInternalServerError, fallbackCode, err.Error())
	}
}
