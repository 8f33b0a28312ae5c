// Document HTTP handlers.
//
//   - POST   /documents               (ingest one document, a batch, or a multipart file)
//   - GET    /documents               (list, paginated, ETag support)
//   - GET    /documents/{id}          (metadata)
//   - GET    /documents/{id}/chunks   (chunks in sequence order)
//   - DELETE /documents/{id}          (document and its chunks)
package handlers

import (
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-docchat-rag/internal/domain"
	"github.com/tbourn/go-docchat-rag/internal/repo"
	"github.com/tbourn/go-docchat-rag/internal/services"
)

// maxBatchDocuments caps one batch request.
const maxBatchDocuments = 50

// DocumentInput is one document to ingest.
type DocumentInput struct {
	Title string `json:"title" example:"Travel policy"`
	// Filename helps detect the content type when ContentType is empty.
	Filename string `json:"filename" example:"travel.md"`
	// ContentType is one of text, markdown, html (MIME types accepted).
	ContentType string `json:"content_type" example:"markdown"`
	Content     string `json:"content" example:"# Travel\n\nBook flights two weeks ahead."`
}

// CreateDocumentRequest ingests either a single document (top-level fields)
// or a batch (Documents).
type CreateDocumentRequest struct {
	DocumentInput
	Documents []DocumentInput `json:"documents,omitempty"`
}

// CreateDocumentsResponse reports a batch outcome per document.
type CreateDocumentsResponse struct {
	Results []services.BatchResult `json:"results"`
}

// ListDocumentsResponse wraps a page of documents.
type ListDocumentsResponse struct {
	Documents  []domain.Document `json:"documents"`
	Pagination Pagination        `json:"pagination"`
}

// ListChunksResponse wraps a page of chunks.
type ListChunksResponse struct {
	Chunks     []domain.Chunk `json:"chunks"`
	Pagination Pagination     `json:"pagination"`
}

func (in DocumentInput) toService() services.NewDocument {
	return services.NewDocument{
		Title:       in.Title,
		Filename:    in.Filename,
		ContentType: in.ContentType,
		Content:     in.Content,
		Source:      services.SourceUpload,
	}
}

// CreateDocument godoc
// @ID          createDocument
// @Summary     Ingest documents
// @Description Extracts, chunks and indexes a document. Send JSON with the document fields, JSON with a
// @Description `documents` array for a batch (207 when some fail), or multipart/form-data with a `file` field.
// @Tags        Documents
// @Accept      json
// @Accept      mpfd
// @Produce     json
//
// @Param       X-User-ID  header    string  false "User ID (demo header)"  example(user123)
// @Param       body       body      handlers.CreateDocumentRequest  false  "Document or batch"
// @Param       file       formData  file    false "Document file (.txt, .md, .html)"
// @Param       title      formData  string  false "Title for the uploaded file"
//
// @Success     201  {object}  domain.Document
// @Success     207  {object}  handlers.CreateDocumentsResponse  "Batch with failures"
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request or empty document"
// @Failure     415  {object}  handlers.ErrorResponse  "Unsupported content type"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /documents [post]
func (h *Handlers) CreateDocument(c *gin.Context) {
	ctx := c.Request.Context()
	uid := userID(c)

	if strings.HasPrefix(c.ContentType(), "multipart/") {
		in, err := readUpload(c)
		if err != nil {
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
			return
		}
		doc, err := h.docSvc.Create(ctx, uid, in)
		if err != nil {
			failErr(c, err, ErrCodeCreateFailed)
			return
		}
		ok(c, http.StatusCreated, doc)
		return
	}

	var req CreateDocumentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}

	if len(req.Documents) > 0 {
		if len(req.Documents) > maxBatchDocuments {
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "too many documents in one request")
			return
		}
		in := make([]services.NewDocument, len(req.Documents))
		for i, d := range req.Documents {
			in[i] = d.toService()
		}
		results := h.docSvc.CreateBatch(ctx, uid, in)
		status := http.StatusCreated
		for _, r := range results {
			if r.Error != "" {
				status = http.StatusMultiStatus
				break
			}
		}
		ok(c, status, CreateDocumentsResponse{Results: results})
		return
	}

	if strings.TrimSpace(req.Content) == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "content required")
		return
	}
	doc, err := h.docSvc.Create(ctx, uid, req.DocumentInput.toService())
	if err != nil {
		failErr(c, err, ErrCodeCreateFailed)
		return
	}
	ok(c, http.StatusCreated, doc)
}

// readUpload reads the multipart "file" field. The request body is already
// capped by the router.
func readUpload(c *gin.Context) (services.NewDocument, error) {
	fh, err := c.FormFile("file")
	if err != nil {
		return services.NewDocument{}, errMissingFile
	}
	f, err := fh.Open()
	if err != nil {
		return services.NewDocument{}, err
	}
	defer f.Close()
	b, err := io.ReadAll(f)
	if err != nil {
		return services.NewDocument{}, err
	}
	return services.NewDocument{
		Title:       c.PostForm("title"),
		Filename:    fh.Filename,
		ContentType: c.PostForm("content_type"),
		Content:     string(b),
		Source:      services.SourceUpload,
	}, nil
}

// ListDocuments godoc
// @ID          listDocuments
// @Summary     List documents (paginated)
// @Tags        Documents
// @Produce     json
//
// @Param       X-User-ID      header  string  false "User ID (demo header)"  example(user123)
// @Param       If-None-Match  header  string  false "Return 304 if ETag matches"
// @Param       page           query   int     false "Page number"     minimum(1) default(1)
// @Param       page_size      query   int     false "Items per page"  minimum(1) maximum(100) default(20)
//
// @Success     200  {object} handlers.ListDocumentsResponse
// @Success     304  {string} string "Not Modified"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /documents [get]
func (h *Handlers) ListDocuments(c *gin.Context) {
	ctx := c.Request.Context()
	uid := userID(c)
	page, pageSize := clampPagination(c)

	if h.db != nil {
		if count, maxTS, err := repo.DocumentsStats(ctx, h.db, uid); err == nil {
			if notModified(c, "documents", uid, count, maxTS) {
				return
			}
		}
	}

	items, total, err := h.docSvc.ListPage(ctx, uid, page, pageSize)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}
	ok(c, http.StatusOK, ListDocumentsResponse{
		Documents:  items,
		Pagination: newPagination(page, pageSize, total),
	})
}

// GetDocument godoc
// @ID          getDocument
// @Summary     Get document metadata
// @Tags        Documents
// @Produce     json
// @Param       id  path  string  true  "Document ID (UUID)"  format(uuid)
// @Success     200  {object} domain.Document
// @Failure     404  {object} handlers.ErrorResponse "Document not found"
// @Router      /documents/{id} [get]
func (h *Handlers) GetDocument(c *gin.Context) {
	id, okID := pathUUID(c, "document")
	if !okID {
		return
	}
	doc, err := h.docSvc.Get(c.Request.Context(), userID(c), id)
	if err != nil {
		failErr(c, err, ErrCodeInternal)
		return
	}
	ok(c, http.StatusOK, doc)
}

// ListDocumentChunks godoc
// @ID          listDocumentChunks
// @Summary     List a document's chunks
// @Tags        Documents
// @Produce     json
// @Param       id         path   string  true  "Document ID (UUID)"  format(uuid)
// @Param       page       query  int     false "Page number"     minimum(1) default(1)
// @Param       page_size  query  int     false "Items per page"  minimum(1) maximum(100) default(20)
// @Success     200  {object} handlers.ListChunksResponse
// @Failure     404  {object} handlers.ErrorResponse "Document not found"
// @Router      /documents/{id}/chunks [get]
func (h *Handlers) ListDocumentChunks(c *gin.Context) {
	id, okID := pathUUID(c, "document")
	if !okID {
		return
	}
	page, pageSize := clampPagination(c)
	items, total, err := h.docSvc.Chunks(c.Request.Context(), userID(c), id, page, pageSize)
	if err != nil {
		failErr(c, err, ErrCodeListFailed)
		return
	}
	ok(c, http.StatusOK, ListChunksResponse{
		Chunks:     items,
		Pagination: newPagination(page, pageSize, total),
	})
}

// DeleteDocument godoc
// @ID          deleteDocument
// @Summary     Delete a document
// @Description Removes the document and its chunks. Conversations that referenced it keep answering from the remaining documents.
// @Tags        Documents
// @Param       id  path  string  true  "Document ID (UUID)"  format(uuid)
// @Success     204  {string} string "No Content"
// @Failure     404  {object} handlers.ErrorResponse "Document not found"
// @Router      /documents/{id} [delete]
func (h *Handlers) DeleteDocument(c *gin.Context) {
	id, okID := pathUUID(c, "document")
	if !okID {
		return
	}
	if err := h.docSvc.Delete(c.Request.Context(), userID(c), id); err != nil {
		failErr(c, err, ErrCodeInternal)
		return
	}
	noContent(c)
}
