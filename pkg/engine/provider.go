package engine

import (
	"fmt"
	"sync"
	"time"

	"github.com/germanamz/promptkit/pkg/modeladapter"
	"github.com/germanamz/promptkit/pkg/providers/ollama"
	"github.com/germanamz/promptkit/pkg/providers/openai"
)

// ProviderFactory creates a Completer from a ProviderConfig. The returned
// value may also implement modeladapter.Generator and modeladapter.Embedder.
type ProviderFactory func(cfg ProviderConfig) (modeladapter.Completer, error)

var (
	factoryMu   sync.RWMutex
	factories   = map[string]ProviderFactory{}
	defaultsReg sync.Once
)

func ensureDefaults() {
	defaultsReg.Do(func() {
		factories["ollama"] = newOllama
		factories["openai"] = newOpenAI
	})
}

// RegisterProvider registers a custom provider factory under the given kind.
// It can be called before New to extend the engine with additional providers.
func RegisterProvider(kind string, factory ProviderFactory) {
	ensureDefaults()

	factoryMu.Lock()
	defer factoryMu.Unlock()

	factories[kind] = factory
}

// getFactory returns the factory for the given kind.
func getFactory(kind string) (ProviderFactory, bool) {
	ensureDefaults()

	factoryMu.RLock()
	defer factoryMu.RUnlock()

	f, ok := factories[kind]
	return f, ok
}

func newOllama(cfg ProviderConfig) (modeladapter.Completer, error) {
	a := ollama.New(cfg.BaseURL, cfg.Model)
	a.EmbedModel = cfg.EmbedModel
	a.KeepAlive = cfg.KeepAlive
	a.Temperature = cfg.Temperature
	a.MaxTokens = cfg.MaxTokens
	a.ContextWindow = cfg.ContextWindow

	return a, nil
}

func newOpenAI(cfg ProviderConfig) (modeladapter.Completer, error) {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.openai.com"
	}

	a := openai.New(baseURL, cfg.APIKey, cfg.Model)
	a.EmbedModel = cfg.EmbedModel
	a.Temperature = cfg.Temperature
	a.MaxTokens = cfg.MaxTokens
	a.ContextWindow = cfg.ContextWindow

	return a, nil
}

// buildCompleter creates a Completer from a ProviderConfig using the registered
// factory for its Kind. It returns the raw adapter and the value agents should
// use, which is throttled when the config asks for it.
func buildCompleter(cfg ProviderConfig) (raw, wrapped modeladapter.Completer, err error) {
	factory, ok := getFactory(cfg.Kind)
	if !ok {
		return nil, nil, fmt.Errorf("engine: unknown provider kind %q", cfg.Kind)
	}

	raw, err = factory(cfg)
	if err != nil {
		return nil, nil, err
	}

	t := cfg.Throttle
	if !t.enabled() {
		return raw, raw, nil
	}

	var baseDelay time.Duration
	if t.BaseDelay != "" {
		baseDelay, err = time.ParseDuration(t.BaseDelay)
		if err != nil {
			return nil, nil, fmt.Errorf("engine: provider %q: invalid base_delay %q: %w", cfg.Name, t.BaseDelay, err)
		}
	}

	return raw, modeladapter.NewThrottled(raw, modeladapter.ThrottleOpts{
		RPM:        t.RPM,
		MaxRetries: t.MaxRetries,
		BaseDelay:  baseDelay,
	}), nil
}

// embeddingModel names the model behind an embedder, for cache keys.
func embeddingModel(raw modeladapter.Completer, cfg ProviderConfig) string {
	if m, ok := raw.(interface{ EmbeddingModel() string }); ok {
		return cfg.Kind + ":" + m.EmbeddingModel()
	}
	if cfg.EmbedModel != "" {
		return cfg.Kind + ":" + cfg.EmbedModel
	}
	return cfg.Kind + ":" + cfg.Model
}
