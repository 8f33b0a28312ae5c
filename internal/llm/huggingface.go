package llm

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/tbourn/go-docchat-rag/internal/sysutil"
)

// HuggingFace calls the hosted text-generation inference endpoint
// (POST {base}/models/{model}). The API reports no token usage, so counts
// are always estimated.
type HuggingFace struct {
	name         string
	baseURL      string
	apiKey       string
	defaultModel string
	client       *http.Client
}

// NewHuggingFace builds a HuggingFace provider from cfg.
func NewHuggingFace(cfg ProviderConfig) *HuggingFace {
	return &HuggingFace{
		name:         cfg.Name,
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:       cfg.APIKey,
		defaultModel: cfg.DefaultModel,
		client:       newHTTPClient(cfg.Timeout),
	}
}

// Name implements Provider.
func (p *HuggingFace) Name() string { return p.name }

type hfParameters struct {
	MaxNewTokens   int      `json:"max_new_tokens,omitempty"`
	Temperature    *float64 `json:"temperature,omitempty"`
	ReturnFullText bool     `json:"return_full_text"`
}

type hfRequest struct {
	Inputs     string       `json:"inputs"`
	Parameters hfParameters `json:"parameters"`
}

// Generate implements Provider.
func (p *HuggingFace) Generate(ctx context.Context, req GenerateRequest) (*Generation, error) {
	model := sysutil.FirstNonEmpty(req.Model, p.defaultModel)
	if model == "" {
		return nil, &ProviderError{Provider: p.name, Err: errors.New("model is required")}
	}

	inputs := req.Prompt
	if req.SystemPrompt != "" {
		inputs = req.SystemPrompt + "\n\n" + req.Prompt
	}
	body := hfRequest{
		Inputs: inputs,
		Parameters: hfParameters{
			MaxNewTokens: req.MaxTokens,
			Temperature:  req.Temperature,
		},
	}
	headers := map[string]string{}
	if p.apiKey != "" {
		headers["Authorization"] = "Bearer " + p.apiKey
	}

	start := time.Now()
	var out []struct {
		GeneratedText string `json:"generated_text"`
	}
	endpoint := p.baseURL + "/models/" + model
	if err := postJSON(ctx, p.client, p.name, endpoint, headers, body, &out); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, &ProviderError{Provider: p.name, Err: errors.New("response has no generations")}
	}

	g := &Generation{
		Content: strings.TrimSpace(out[0].GeneratedText),
		Model:   model,
		Latency: time.Since(start),
	}
	fillTokenEstimates(g, req)
	return g, nil
}
