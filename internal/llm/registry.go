package llm

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Wire dialects.
const (
	DialectOpenAI      = "openai"
	DialectAnthropic   = "anthropic"
	DialectHuggingFace = "huggingface"
)

// ErrUnknownProvider is returned for a provider name with no registration.
var ErrUnknownProvider = errors.New("unknown provider")

// ProviderConfig describes one named provider endpoint.
type ProviderConfig struct {
	Name         string        `yaml:"name"`
	Dialect      string        `yaml:"dialect"`
	BaseURL      string        `yaml:"base_url"`
	APIKey       string        `yaml:"-"`
	APIKeyEnv    string        `yaml:"api_key_env"`
	DefaultModel string        `yaml:"default_model"`
	Timeout      time.Duration `yaml:"timeout"`
}

// DefaultProviderConfigs returns the built-in endpoints. API keys are read
// from <NAME>_API_KEY.
func DefaultProviderConfigs() []ProviderConfig {
	return []ProviderConfig{
		{Name: "openai", Dialect: DialectOpenAI, BaseURL: "https://api.openai.com/v1", DefaultModel: "gpt-4o-mini", APIKeyEnv: "OPENAI_API_KEY"},
		{Name: "anthropic", Dialect: DialectAnthropic, BaseURL: "https://api.anthropic.com/v1", DefaultModel: "claude-3-haiku-20240307", APIKeyEnv: "ANTHROPIC_API_KEY"},
		{Name: "deepseek", Dialect: DialectOpenAI, BaseURL: "https://api.deepseek.com/v1", DefaultModel: "deepseek-chat", APIKeyEnv: "DEEPSEEK_API_KEY"},
		{Name: "mistral", Dialect: DialectOpenAI, BaseURL: "https://api.mistral.ai/v1", DefaultModel: "mistral-small-latest", APIKeyEnv: "MISTRAL_API_KEY"},
		{Name: "perplexity", Dialect: DialectOpenAI, BaseURL: "https://api.perplexity.ai", DefaultModel: "sonar", APIKeyEnv: "PERPLEXITY_API_KEY"},
		{Name: "huggingface", Dialect: DialectHuggingFace, BaseURL: "https://api-inference.huggingface.co", DefaultModel: "mistralai/Mistral-7B-Instruct-v0.2", APIKeyEnv: "HUGGINGFACE_API_KEY"},
	}
}

type providerFile struct {
	Providers []ProviderConfig `yaml:"providers"`
}

// LoadProviderFile reads provider definitions from a YAML file of the form
//
//	providers:
//	  - name: local
//	    dialect: openai
//	    base_url: http://localhost:11434/v1
//	    default_model: llama3
//	    api_key_env: LOCAL_API_KEY
//	    timeout: 120s
func LoadProviderFile(path string) ([]ProviderConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read provider file: %w", err)
	}
	var f providerFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("parse provider file %s: %w", path, err)
	}
	for i, c := range f.Providers {
		if strings.TrimSpace(c.Name) == "" {
			return nil, fmt.Errorf("provider file %s: entry %d has no name", path, i)
		}
	}
	return f.Providers, nil
}

// MergeConfigs overlays extra onto base by provider name; entries in extra
// replace base entries of the same name and new names are appended.
func MergeConfigs(base, extra []ProviderConfig) []ProviderConfig {
	out := append([]ProviderConfig(nil), base...)
	idx := make(map[string]int, len(out))
	for i, c := range out {
		idx[strings.ToLower(c.Name)] = i
	}
	for _, c := range extra {
		if i, ok := idx[strings.ToLower(c.Name)]; ok {
			out[i] = c
			continue
		}
		idx[strings.ToLower(c.Name)] = len(out)
		out = append(out, c)
	}
	return out
}

// New constructs a provider for cfg's dialect. An APIKey left empty is
// resolved from APIKeyEnv.
func New(cfg ProviderConfig) (Provider, error) {
	if cfg.APIKey == "" && cfg.APIKeyEnv != "" {
		cfg.APIKey = os.Getenv(cfg.APIKeyEnv)
	}
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("provider %s: base_url is required", cfg.Name)
	}
	switch strings.ToLower(cfg.Dialect) {
	case DialectOpenAI, "":
		return NewOpenAI(cfg), nil
	case DialectAnthropic:
		return NewAnthropic(cfg), nil
	case DialectHuggingFace:
		return NewHuggingFace(cfg), nil
	default:
		return nil, fmt.Errorf("provider %s: unsupported dialect %q", cfg.Name, cfg.Dialect)
	}
}

// Registry resolves provider names (case-insensitive) to providers.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

// BuildRegistry constructs and registers a provider per config.
func BuildRegistry(cfgs []ProviderConfig, timeout time.Duration) (*Registry, error) {
	r := NewRegistry()
	for _, c := range cfgs {
		if c.Timeout <= 0 {
			c.Timeout = timeout
		}
		p, err := New(c)
		if err != nil {
			return nil, err
		}
		r.Register(p)
	}
	return r, nil
}

// Register adds or replaces p under p.Name().
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[strings.ToLower(p.Name())] = p
}

// Get returns the provider registered under name.
func (r *Registry) Get(name string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, name)
	}
	return p, nil
}

// Names lists registered provider names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.providers))
	for n := range r.providers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
