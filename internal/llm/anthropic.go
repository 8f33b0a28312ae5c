package llm

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/tbourn/go-docchat-rag/internal/sysutil"
)

const (
	anthropicVersion = "2023-06-01"
	// anthropicDefaultMaxTokens is sent when the caller sets no limit; the
	// messages API requires one.
	anthropicDefaultMaxTokens = 4000
)

// Anthropic speaks the messages API.
type Anthropic struct {
	name         string
	baseURL      string
	apiKey       string
	defaultModel string
	client       *http.Client
}

// NewAnthropic builds an Anthropic provider from cfg.
func NewAnthropic(cfg ProviderConfig) *Anthropic {
	return &Anthropic{
		name:         cfg.Name,
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:       cfg.APIKey,
		defaultModel: cfg.DefaultModel,
		client:       newHTTPClient(cfg.Timeout),
	}
}

// Name implements Provider.
func (p *Anthropic) Name() string { return p.name }

type anthropicRequest struct {
	Model       string          `json:"model"`
	System      string          `json:"system,omitempty"`
	MaxTokens   int             `json:"max_tokens"`
	Temperature *float64        `json:"temperature,omitempty"`
	Messages    []openAIMessage `json:"messages"`
}

type anthropicResponse struct {
	Model   string `json:"model"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// Generate implements Provider.
func (p *Anthropic) Generate(ctx context.Context, req GenerateRequest) (*Generation, error) {
	model := sysutil.FirstNonEmpty(req.Model, p.defaultModel)
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = anthropicDefaultMaxTokens
	}
	body := anthropicRequest{
		Model:       model,
		System:      req.SystemPrompt,
		MaxTokens:   maxTokens,
		Temperature: req.Temperature,
		Messages:    []openAIMessage{{Role: "user", Content: req.Prompt}},
	}
	headers := map[string]string{
		"x-api-key":         p.apiKey,
		"anthropic-version": anthropicVersion,
	}

	start := time.Now()
	var out anthropicResponse
	if err := postJSON(ctx, p.client, p.name, p.baseURL+"/messages", headers, body, &out); err != nil {
		return nil, err
	}

	var sb strings.Builder
	for _, c := range out.Content {
		if c.Type == "text" {
			sb.WriteString(c.Text)
		}
	}
	if sb.Len() == 0 {
		return nil, &ProviderError{Provider: p.name, Err: errors.New("response has no text content")}
	}

	g := &Generation{
		Content:          sb.String(),
		Model:            sysutil.FirstNonEmpty(out.Model, model),
		PromptTokens:     out.Usage.InputTokens,
		CompletionTokens: out.Usage.OutputTokens,
		Latency:          time.Since(start),
	}
	fillTokenEstimates(g, req)
	return g, nil
}
