package llm

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/tbourn/go-docchat-rag/internal/sysutil"
	"github.com/tbourn/go-docchat-rag/internal/tokens"
)

// OpenAI speaks the chat-completions dialect. It also serves DeepSeek,
// Mistral and Perplexity, which expose compatible endpoints.
type OpenAI struct {
	name         string
	baseURL      string
	apiKey       string
	defaultModel string
	client       *http.Client
}

// NewOpenAI builds an OpenAI-compatible provider from cfg.
func NewOpenAI(cfg ProviderConfig) *OpenAI {
	return &OpenAI{
		name:         cfg.Name,
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:       cfg.APIKey,
		defaultModel: cfg.DefaultModel,
		client:       newHTTPClient(cfg.Timeout),
	}
}

// Name implements Provider.
func (p *OpenAI) Name() string { return p.name }

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIRequest struct {
	Model       string          `json:"model"`
	Messages    []openAIMessage `json:"messages"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
	Temperature *float64        `json:"temperature,omitempty"`
}

type openAIResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message openAIMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// Generate implements Provider.
func (p *OpenAI) Generate(ctx context.Context, req GenerateRequest) (*Generation, error) {
	model := sysutil.FirstNonEmpty(req.Model, p.defaultModel)
	body := openAIRequest{Model: model, MaxTokens: req.MaxTokens, Temperature: req.Temperature}
	if req.SystemPrompt != "" {
		body.Messages = append(body.Messages, openAIMessage{Role: "system", Content: req.SystemPrompt})
	}
	body.Messages = append(body.Messages, openAIMessage{Role: "user", Content: req.Prompt})

	headers := map[string]string{}
	if p.apiKey != "" {
		headers["Authorization"] = "Bearer " + p.apiKey
	}

	start := time.Now()
	var out openAIResponse
	if err := postJSON(ctx, p.client, p.name, p.baseURL+"/chat/completions", headers, body, &out); err != nil {
		return nil, err
	}
	if len(out.Choices) == 0 {
		return nil, &ProviderError{Provider: p.name, Err: errors.New("response has no choices")}
	}

	g := &Generation{
		Content:          out.Choices[0].Message.Content,
		Model:            sysutil.FirstNonEmpty(out.Model, model),
		PromptTokens:     out.Usage.PromptTokens,
		CompletionTokens: out.Usage.CompletionTokens,
		Latency:          time.Since(start),
	}
	fillTokenEstimates(g, req)
	return g, nil
}

// fillTokenEstimates backfills token counts a provider did not report.
func fillTokenEstimates(g *Generation, req GenerateRequest) {
	if g.PromptTokens == 0 {
		g.PromptTokens = tokens.Estimate(req.Prompt) + tokens.Estimate(req.SystemPrompt)
	}
	if g.CompletionTokens == 0 {
		g.CompletionTokens = tokens.Estimate(g.Content)
	}
}
