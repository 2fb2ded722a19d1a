package llm

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

type ProviderFactory func(ctx context.Context, apiKey string) (Provider, error)

// Registry maps provider names to constructors.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]ProviderFactory
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]ProviderFactory)}
}

// DefaultRegistry knows every provider shipped with this package.
func DefaultRegistry(client HTTPDoer) *Registry {
	r := NewRegistry()
	r.RegisterFactory("groq", func(_ context.Context, apiKey string) (Provider, error) {
		return NewGroqProvider(apiKey, WithOpenAIHTTPClient(client)), nil
	})
	r.RegisterFactory("openai", func(_ context.Context, apiKey string) (Provider, error) {
		return NewOpenAIProvider(apiKey, WithOpenAIHTTPClient(client)), nil
	})
	r.RegisterFactory("anthropic", func(_ context.Context, apiKey string) (Provider, error) {
		return NewAnthropicProvider(apiKey, WithAnthropicHTTPClient(client)), nil
	})
	r.RegisterFactory("gemini", func(ctx context.Context, apiKey string) (Provider, error) {
		return NewGeminiProvider(ctx, apiKey)
	})
	return r
}

func (r *Registry) RegisterFactory(name string, factory ProviderFactory) {
	if r == nil || factory == nil {
		return
	}
	key := normalizeProviderName(name)
	if key == "" {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[key] = factory
}

func (r *Registry) New(ctx context.Context, name, apiKey string) (Provider, error) {
	key := normalizeProviderName(name)

	r.mu.RLock()
	factory, ok := r.factories[key]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown llm provider %q (known: %s)", name, strings.Join(r.Names(), ", "))
	}

	provider, err := factory(ctx, apiKey)
	if err != nil {
		return nil, fmt.Errorf("create %s provider: %w", key, err)
	}
	return Traced(key, provider), nil
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func normalizeProviderName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
