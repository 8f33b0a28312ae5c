// Package llm calls hosted language models. Three wire dialects are
// supported: OpenAI-compatible chat completions (OpenAI, DeepSeek, Mistral,
// Perplexity), the Anthropic messages API, and HuggingFace text-generation
// inference. Each is exposed through the Provider interface.
//
// Calls are made once: a failed or timed-out request is reported as a
// *ProviderError or *ProviderTimeoutError and never retried here.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// GenerateRequest is a single-turn generation request.
type GenerateRequest struct {
	Model        string
	SystemPrompt string
	Prompt       string
	MaxTokens    int
	Temperature  *float64
}

// Generation is a provider reply. Token counts come from the provider when
// it reports them and are estimated otherwise.
type Generation struct {
	Content          string
	Model            string
	PromptTokens     int
	CompletionTokens int
	Latency          time.Duration
}

// TokensUsed returns prompt plus completion tokens.
func (g Generation) TokensUsed() int { return g.PromptTokens + g.CompletionTokens }

// Provider generates text from a prompt.
type Provider interface {
	Name() string
	Generate(ctx context.Context, req GenerateRequest) (*Generation, error)
}

// ProviderError reports a failed call or a non-2xx reply.
type ProviderError struct {
	Provider   string
	StatusCode int
	Body       string
	Err        error
}

func (e *ProviderError) Error() string {
	switch {
	case e.StatusCode != 0:
		return fmt.Sprintf("provider %s returned status %d: %s", e.Provider, e.StatusCode, e.Body)
	case e.Err != nil:
		return fmt.Sprintf("provider %s: %v", e.Provider, e.Err)
	default:
		return fmt.Sprintf("provider %s failed", e.Provider)
	}
}

func (e *ProviderError) Unwrap() error { return e.Err }

// ProviderTimeoutError reports a call that exceeded its deadline.
type ProviderTimeoutError struct {
	Provider string
	Err      error
}

func (e *ProviderTimeoutError) Error() string {
	return fmt.Sprintf("provider %s timed out: %v", e.Provider, e.Err)
}

func (e *ProviderTimeoutError) Unwrap() error { return e.Err }

const (
	defaultTimeout = 60 * time.Second
	maxErrorBody   = 512
)

func newHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}
}

// postJSON sends body to url and decodes a 2xx reply into out. Errors are
// classified into ProviderError and ProviderTimeoutError.
func postJSON(ctx context.Context, client *http.Client, provider, url string, headers map[string]string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return &ProviderError{Provider: provider, Err: fmt.Errorf("marshal request: %w", err)}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return &ProviderError{Provider: provider, Err: fmt.Errorf("create request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := client.Do(req)
	if err != nil {
		if isTimeout(err) {
			return &ProviderTimeoutError{Provider: provider, Err: err}
		}
		return &ProviderError{Provider: provider, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &ProviderError{Provider: provider, StatusCode: resp.StatusCode, Body: string(bytes.TrimSpace(b))}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if isTimeout(err) {
			return &ProviderTimeoutError{Provider: provider, Err: err}
		}
		return &ProviderError{Provider: provider, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
