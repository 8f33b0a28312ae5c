// Package docs registers the OpenAPI description served at /swagger.
//
// Regenerate with: swag init -g internal/http/router.go -o internal/http/docs
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {},
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/answer": {"post": {"tags": ["Answers"], "summary": "Answer a question over documents", "operationId": "answer"}},
        "/cache": {"delete": {"tags": ["Cache"], "summary": "Clear the answer cache", "operationId": "clearCache"}},
        "/cache/purge": {"post": {"tags": ["Cache"], "summary": "Purge expired cache entries", "operationId": "purgeCache"}},
        "/cache/stats": {"get": {"tags": ["Cache"], "summary": "Cache statistics", "operationId": "cacheStats"}},
        "/cache/{key}": {"delete": {"tags": ["Cache"], "summary": "Remove one cached answer", "operationId": "removeCacheEntry"}},
        "/conversations": {
            "get": {"tags": ["Conversations"], "summary": "List conversations (paginated)", "operationId": "listConversations"},
            "post": {"tags": ["Conversations"], "summary": "Create a conversation", "operationId": "createConversation"}
        },
        "/conversations/{id}": {"get": {"tags": ["Conversations"], "summary": "Get a conversation", "operationId": "getConversation"}},
        "/conversations/{id}/messages": {
            "get": {"tags": ["Messages"], "summary": "List messages in a conversation", "operationId": "listMessages"},
            "post": {"tags": ["Messages"], "summary": "Ask a question in a conversation", "operationId": "postMessage"}
        },
        "/conversations/{id}/title": {"put": {"tags": ["Conversations"], "summary": "Rename a conversation", "operationId": "updateConversationTitle"}},
        "/credits": {
            "get": {"tags": ["Credits"], "summary": "Get credit balance", "operationId": "getCredits"},
            "post": {"tags": ["Credits"], "summary": "Add credits", "operationId": "addCredits"}
        },
        "/documents": {
            "get": {"tags": ["Documents"], "summary": "List documents (paginated)", "operationId": "listDocuments"},
            "post": {"tags": ["Documents"], "summary": "Ingest documents", "operationId": "createDocument"}
        },
        "/documents/{id}": {
            "get": {"tags": ["Documents"], "summary": "Get document metadata", "operationId": "getDocument"},
            "delete": {"tags": ["Documents"], "summary": "Delete a document", "operationId": "deleteDocument"}
        },
        "/documents/{id}/chunks": {"get": {"tags": ["Documents"], "summary": "List a document's chunks", "operationId": "listDocumentChunks"}},
        "/messages/{id}/feedback": {"post": {"tags": ["Feedback"], "summary": "Leave feedback on a message", "operationId": "leaveFeedback"}},
        "/usage": {"get": {"tags": ["Credits"], "summary": "Usage summary", "operationId": "getUsage"}}
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/api/v1",
	Schemes:          []string{},
	Title:            "Document Chat RAG API",
	Description:      "Ask questions over your documents with cached, credit-metered LLM answers.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
