package llm

import (
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/soyeahso/roundtable/internal/config"
	"github.com/soyeahso/roundtable/internal/logging"
)

// Registry maps provider names and model aliases to clients.
type Registry struct {
	mu       sync.RWMutex
	clients  map[string]Client
	aliases  map[string]string
	fallback string
	log      *logging.Logger
}

func NewRegistry(log *logging.Logger) *Registry {
	return &Registry{
		clients: map[string]Client{},
		aliases: map[string]string{},
		log:     log.Sub("llm"),
	}
}

// Register makes client reachable under provider name.
func (r *Registry) Register(name string, client Client) {
	r.mu.Lock()
	r.clients[name] = client
	r.mu.Unlock()
	r.log.Info().Str("provider", name).Msg("provider registered")
}

// Alias routes requests for model to provider.
func (r *Registry) Alias(model, provider string) {
	r.mu.Lock()
	r.aliases[model] = provider
	r.mu.Unlock()
}

// SetFallback names the provider used when nothing else matches.
func (r *Registry) SetFallback(provider string) {
	r.mu.Lock()
	r.fallback = provider
	r.mu.Unlock()
}

// Resolve finds the client for ref, trying a provider name, then a model
// alias, then the fallback.
func (r *Registry) Resolve(ref string) (Client, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, name := range []string{ref, r.aliases[ref], r.fallback} {
		if name == "" {
			continue
		}
		if c, ok := r.clients[name]; ok {
			return c, nil
		}
	}
	return nil, fmt.Errorf("no LLM provider for model %q", ref)
}

// List returns the registered provider names, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.clients))
}

func (r *Registry) has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.clients[name]
	return ok
}

// hostedClient builds the adapter for a hosted provider.
func hostedClient(name, key, model, baseURL string) (Client, error) {
	switch name {
	case config.ProviderOpenAI:
		return NewOpenAIClient(key, model, baseURL), nil
	case config.ProviderAnthropic:
		return NewAnthropicClient(key, model, baseURL), nil
	case config.ProviderGemini:
		return NewGeminiClient(key, model, WithGeminiBaseURL(baseURL)), nil
	}
	return nil, fmt.Errorf("unknown LLM provider %q", name)
}

// NewRegistryFromConfig registers the primary provider and each fallback
// that has credentials. The first one registered becomes the fallback. The
// scripted provider is left to the caller, which owns the script.
func NewRegistryFromConfig(cfg config.ProviderConfig, log *logging.Logger) *Registry {
	reg := NewRegistry(log)
	primary := config.NormalizeProvider(cfg.Name)

	for _, raw := range append([]string{cfg.Name}, cfg.Fallbacks...) {
		name := config.NormalizeProvider(raw)
		if name == config.ProviderScripted || reg.has(name) {
			continue
		}

		key, model := cfg.KeyFor(name), cfg.ModelFor(name)
		var baseURL string
		if name == primary {
			baseURL = cfg.BaseURL
		}
		if key == "" && baseURL == "" {
			reg.log.Warn().Str("provider", name).Msg("no API key configured, skipping")
			continue
		}

		client, err := hostedClient(name, key, model, baseURL)
		if err != nil {
			reg.log.Warn().Err(err).Msg("skipping provider")
			continue
		}
		reg.Register(name, client)
		reg.Alias(model, name)
		if reg.fallback == "" {
			reg.SetFallback(name)
		}
	}
	return reg
}
