// Package rag answers questions over ingested documents. An Orchestrator
// runs one request through a fixed sequence of stages:
//
//	idle → context_fetch → prompt_build → cache_check
//	    → cache_hit → respond
//	    → cache_miss → credit_check → provider_call → credit_deduct → cache_write → respond
//
// Any stage may end in failed, reported as a *StageError. Only the credit
// gate and the provider call can fail a request once the prompt is built:
// cache and metering problems are logged and the request carries on.
package rag

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/go-docchat-rag/internal/cache"
	"github.com/tbourn/go-docchat-rag/internal/credits"
	"github.com/tbourn/go-docchat-rag/internal/llm"
	"github.com/tbourn/go-docchat-rag/internal/observability"
	"github.com/tbourn/go-docchat-rag/internal/search"
	"github.com/tbourn/go-docchat-rag/internal/tokens"
)

// ContextSeparator joins retrieved chunks in the prompt.
const ContextSeparator = "\n\n---\n\n"

// DefaultSystemPrompt is used when a request carries none.
const DefaultSystemPrompt = "You are a helpful assistant that answers questions about the user's documents. " +
	"Answer only from the provided context and say so when the context does not contain the answer."

const noContext = "(no relevant document excerpts were found)"

const promptTemplate = `Use the following document excerpts to answer the question.

Context:
%s

Question: %s

Answer:`

// Providers resolves a provider name. *llm.Registry implements it.
type Providers interface {
	Get(name string) (llm.Provider, error)
}

// Request is one question to answer.
type Request struct {
	UserID          string
	ConversationID  string
	Query           string
	DocumentIDs     []string
	Provider        string
	Model           string
	SystemPrompt    string
	MaxOutputTokens int
	Temperature     *float64
	// SkipCache forces a provider call; the fresh answer is still cached.
	SkipCache bool
}

// Usage is the metered cost of an answer.
type Usage struct {
	Provider         string          `json:"provider"`
	Model            string          `json:"model,omitempty"`
	PromptTokens     int             `json:"prompt_tokens"`
	CompletionTokens int             `json:"completion_tokens"`
	Cost             decimal.Decimal `json:"cost" swaggertype:"string"`
	FromCache        bool            `json:"from_cache"`
}

// Answer is a successful response.
type Answer struct {
	Content   string
	Usage     Usage
	Matches   []search.Match
	CacheKey  string
	Truncated bool
	// Path lists the stages the request went through.
	Path []Stage
}

// TopScore returns the similarity of the best match, if any.
func (a *Answer) TopScore() *float64 {
	if a == nil || len(a.Matches) == 0 {
		return nil
	}
	v := a.Matches[0].Similarity
	return &v
}

// Orchestrator wires retrieval, prompt budgeting, the response cache, the
// credit ledger and the language model providers. Cache and Ledger may be
// nil to disable caching or metering.
type Orchestrator struct {
	Retriever search.Retriever
	Providers Providers
	Cache     *cache.Store
	Ledger    *credits.Ledger
	Metrics   *observability.RAGMetrics

	DefaultProvider string
	CacheValidity   time.Duration
	// ProviderTimeout bounds one provider call; 0 leaves it to the provider's
	// HTTP client.
	ProviderTimeout time.Duration

	Log zerolog.Logger
}

type run struct {
	req  Request
	ans  Answer
	span trace.Span
}

func (r *run) enter(s Stage) {
	r.ans.Path = append(r.ans.Path, s)
	r.span.AddEvent(string(s))
}

// Answer runs req through the pipeline.
func (o *Orchestrator) Answer(ctx context.Context, req Request) (*Answer, error) {
	tr := otel.Tracer("rag/Orchestrator")
	ctx, span := tr.Start(ctx, "Answer",
		trace.WithAttributes(
			attribute.String("user.id", req.UserID),
			attribute.String("conversation.id", req.ConversationID),
			attribute.Int("documents", len(req.DocumentIDs)),
		),
	)
	defer span.End()

	r := &run{req: req, span: span}
	r.enter(StageIdle)

	ans, err := o.answer(ctx, r)
	if err != nil {
		stage := FailedStage(err)
		r.enter(StageFailed)
		o.Metrics.StageFailed(string(stage))
		span.RecordError(err)
		span.SetStatus(codes.Error, string(stage))
		return nil, err
	}
	r.enter(StageRespond)
	span.SetAttributes(
		attribute.Bool("cache.hit", ans.Usage.FromCache),
		attribute.String("llm.provider", ans.Usage.Provider),
	)
	return ans, nil
}

func (o *Orchestrator) answer(ctx context.Context, r *run) (*Answer, error) {
	req := r.req
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return nil, &StageError{Stage: StageIdle, Err: ErrEmptyQuery}
	}

	providerName := strings.ToLower(strings.TrimSpace(req.Provider))
	if providerName == "" {
		providerName = o.DefaultProvider
	}

	// context_fetch
	r.enter(StageContextFetch)
	matches, err := o.fetchContext(ctx, query, req.DocumentIDs)
	if err != nil {
		return nil, &StageError{Stage: StageContextFetch, Err: err}
	}
	r.ans.Matches = matches

	// prompt_build
	r.enter(StagePromptBuild)
	provider, err := o.Providers.Get(providerName)
	if err != nil {
		return nil, &StageError{Stage: StagePromptBuild, Err: err}
	}
	system := req.SystemPrompt
	if strings.TrimSpace(system) == "" {
		system = DefaultSystemPrompt
	}
	opt := tokens.Optimize(BuildPrompt(query, matches), system, providerName,
		tokens.Params{MaxOutputTokens: req.MaxOutputTokens, Temperature: req.Temperature})
	if opt.Truncated {
		o.Metrics.PromptTruncated()
		o.Log.Debug().Str("provider", providerName).Int("max_tokens", opt.MaxTokens).Msg("prompt truncated")
	}
	r.ans.Truncated = opt.Truncated
	rateName := credits.RateName(providerName, req.Model)

	// cache_check
	r.enter(StageCacheCheck)
	key := cache.Key(cache.Scope(req.ConversationID, req.DocumentIDs), providerName, req.Model, opt.SystemPrompt+"\n"+opt.Prompt)
	r.ans.CacheKey = key
	if cached, ok := o.lookup(ctx, key, req.SkipCache); ok {
		r.enter(StageCacheHit)
		out := tokens.Estimate(cached)
		if o.Ledger != nil {
			_ = o.Ledger.LogTokenUsage(ctx, req.UserID, opt.InputTokens, out, rateName, true)
		}
		r.ans.Content = cached
		r.ans.Usage = Usage{
			Provider:         providerName,
			Model:            req.Model,
			PromptTokens:     opt.InputTokens,
			CompletionTokens: out,
			Cost:             decimal.Zero,
			FromCache:        true,
		}
		return &r.ans, nil
	}
	r.enter(StageCacheMiss)

	// credit_check
	r.enter(StageCreditCheck)
	if o.Ledger != nil {
		estimate := credits.CalculateTokenCost(opt.InputTokens+opt.Params.MaxOutputTokens, rateName)
		if _, err := o.Ledger.CheckUserCredits(ctx, req.UserID, estimate); err != nil {
			var ice *credits.InsufficientCreditError
			if errors.As(err, &ice) {
				o.Metrics.CreditRejected()
			}
			return nil, &StageError{Stage: StageCreditCheck, Err: err}
		}
	}

	// provider_call
	r.enter(StageProviderCall)
	gen, err := o.generate(ctx, provider, llm.GenerateRequest{
		Model:        req.Model,
		SystemPrompt: opt.SystemPrompt,
		Prompt:       opt.Prompt,
		MaxTokens:    opt.Params.MaxOutputTokens,
		Temperature:  opt.Params.Temperature,
	})
	if err != nil {
		return nil, &StageError{Stage: StageProviderCall, Err: err}
	}

	// credit_deduct
	r.enter(StageCreditDeduct)
	model := req.Model
	if gen.Model != "" {
		model = gen.Model
	}
	actualRate := credits.RateName(providerName, model)
	cost := credits.CalculateTokenCost(gen.TokensUsed(), actualRate)
	if o.Ledger != nil {
		_ = o.Ledger.LogTokenUsage(ctx, req.UserID, gen.PromptTokens, gen.CompletionTokens, actualRate, false)
		if merr := o.Ledger.DeductUserCredits(ctx, req.UserID, cost, key); merr == nil && req.UserID != "" {
			o.Metrics.CreditsSpent(providerName, cost.InexactFloat64())
		}
	}

	// cache_write
	r.enter(StageCacheWrite)
	o.store(ctx, key, gen.Content)

	r.ans.Content = gen.Content
	r.ans.Usage = Usage{
		Provider:         providerName,
		Model:            model,
		PromptTokens:     gen.PromptTokens,
		CompletionTokens: gen.CompletionTokens,
		Cost:             cost,
	}
	return &r.ans, nil
}

func (o *Orchestrator) fetchContext(ctx context.Context, query string, documentIDs []string) ([]search.Match, error) {
	if o.Retriever == nil || len(documentIDs) == 0 {
		return nil, nil
	}
	matches, err := o.Retriever.Retrieve(ctx, query, documentIDs)
	if errors.Is(err, search.ErrNoDocuments) {
		return nil, nil
	}
	return matches, err
}

func (o *Orchestrator) lookup(ctx context.Context, key string, skip bool) (string, bool) {
	if o.Cache == nil || skip {
		return "", false
	}
	v, ok, err := o.Cache.GetCachedResponse(ctx, key)
	switch {
	case err != nil:
		o.Metrics.CacheLookup("error")
		o.Log.Warn().Err(err).Msg("cache read failed, treating as miss")
		return "", false
	case ok:
		o.Metrics.CacheLookup("hit")
		return v, true
	default:
		o.Metrics.CacheLookup("miss")
		return "", false
	}
}

func (o *Orchestrator) store(ctx context.Context, key, value string) {
	if o.Cache == nil || strings.TrimSpace(value) == "" {
		return
	}
	validity := o.CacheValidity
	if validity <= 0 {
		validity = cache.DefaultValidity
	}
	if err := o.Cache.CacheResponse(ctx, key, value, validity); err != nil {
		o.Log.Warn().Err(err).Msg("cache write failed")
	}
}

func (o *Orchestrator) generate(ctx context.Context, p llm.Provider, req llm.GenerateRequest) (*llm.Generation, error) {
	if o.ProviderTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.ProviderTimeout)
		defer cancel()
	}
	start := time.Now()
	gen, err := p.Generate(ctx, req)
	o.Metrics.ProviderCall(p.Name(), time.Since(start), err)
	if err != nil {
		o.Log.Error().Err(err).Str("provider", p.Name()).Msg("provider call failed")
		return nil, err
	}
	return gen, nil
}

// BuildPrompt wraps the retrieved excerpts and the question in the answer
// instruction template.
func BuildPrompt(query string, matches []search.Match) string {
	parts := make([]string, 0, len(matches))
	for _, m := range matches {
		if c := strings.TrimSpace(m.Content); c != "" {
			parts = append(parts, c)
		}
	}
	ctxText := noContext
	if len(parts) > 0 {
		ctxText = strings.Join(parts, ContextSeparator)
	}
	return fmt.Sprintf(promptTemplate, ctxText, strings.TrimSpace(query))
}
