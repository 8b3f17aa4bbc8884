package engine

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/germanamz/promptkit/pkg/providers/ollama"
)

// Agent kinds.
const (
	KindDirect     = "direct"
	KindAugmented  = "augmented"
	KindKnowledge  = "knowledge"
	KindRAG        = "rag"
	KindEvaluation = "evaluation"
)

// Router scorers.
const (
	ScorerWords      = "words"
	ScorerEmbeddings = "embeddings"
)

// Config is the top-level engine configuration.
type Config struct {
	Dir       string           `yaml:"-"` // Base for relative paths; set by LoadConfig.
	Logger    *slog.Logger     `yaml:"-"` // Set by the CLI; defaults to slog.Default().
	Providers []ProviderConfig `yaml:"providers"`
	Agents    []AgentConfig    `yaml:"agents"`
	Router    RouterConfig     `yaml:"router"`
	QA        QAConfig         `yaml:"qa"`
	Knowledge KnowledgeConfig  `yaml:"knowledge"`
	StorePath string           `yaml:"store_path"` // sqlite file; empty disables persistence.
}

// ThrottleConfig controls per-provider pacing and retries.
type ThrottleConfig struct {
	RPM        int    `yaml:"rpm"`         // Requests per minute (0 = no limit).
	MaxRetries int    `yaml:"max_retries"` // Retries when the runtime is busy (default 3).
	BaseDelay  string `yaml:"base_delay"`  // Initial backoff as a duration string (e.g. "1s").
}

func (t ThrottleConfig) enabled() bool {
	return t.RPM > 0 || t.MaxRetries > 0 || t.BaseDelay != ""
}

// ProviderConfig describes a model endpoint.
type ProviderConfig struct {
	Name          string         `yaml:"name"`
	Kind          string         `yaml:"kind"` // "ollama" or "openai".
	BaseURL       string         `yaml:"base_url"`
	APIKey        string         `yaml:"api_key"` //nolint:gosec // configuration field, not a hardcoded secret
	Model         string         `yaml:"model"`
	EmbedModel    string         `yaml:"embed_model"`
	Temperature   float64        `yaml:"temperature"`
	MaxTokens     int            `yaml:"max_tokens"`
	ContextWindow int            `yaml:"context_window"`
	KeepAlive     string         `yaml:"keep_alive"`
	Throttle      ThrottleConfig `yaml:"throttle"`
}

// AgentConfig describes an agent to register.
type AgentConfig struct {
	Name        string `yaml:"name"`
	Kind        string `yaml:"kind"` // Defaults to "direct".
	Description string `yaml:"description"`
	Provider    string `yaml:"provider"` // Defaults to the first provider.
	Timeout     string `yaml:"timeout"`

	Persona  string `yaml:"persona"`
	Greeting string `yaml:"greeting"`

	Knowledge     string `yaml:"knowledge"`
	KnowledgeFile string `yaml:"knowledge_file"`
	Instructions  string `yaml:"instructions"`
	Retrieval     bool   `yaml:"retrieval"` // rag only: answer from retrieved chunks.
	TopK          int    `yaml:"top_k"`

	Worker          string `yaml:"worker"` // evaluation only: agent being evaluated.
	Judge           string `yaml:"judge"`  // evaluation only: provider of the judge.
	Criteria        string `yaml:"criteria"`
	MaxInteractions int    `yaml:"max_interactions"`
}

// RouterConfig configures the router.
type RouterConfig struct {
	Routes   []string `yaml:"routes"`   // Agent names; empty means every agent.
	Scorer   string   `yaml:"scorer"`   // "words" (default) or "embeddings".
	Provider string   `yaml:"provider"` // Embedding provider for the embeddings scorer.
}

// QAConfig configures the QA planner.
type QAConfig struct {
	Provider        string `yaml:"provider"` // Defaults to the first provider.
	Judge           string `yaml:"judge"`    // Defaults to Provider.
	IOSVersion      string `yaml:"ios_version"`
	AndroidVersion  string `yaml:"android_version"`
	MaxInteractions int    `yaml:"max_interactions"`
}

// KnowledgeConfig configures retrieval for rag agents.
type KnowledgeConfig struct {
	Provider     string `yaml:"provider"` // Embedding provider; defaults to the agent's.
	ChunkSize    int    `yaml:"chunk_size"`
	ChunkOverlap int    `yaml:"chunk_overlap"`
	BatchSize    int    `yaml:"batch_size"`
	Concurrency  int    `yaml:"concurrency"`
	Cache        bool   `yaml:"cache"` // Cache embeddings in the store.
}

// DefaultConfig targets a local runtime serving llama3.2.
func DefaultConfig() Config {
	return Config{
		Providers: []ProviderConfig{{
			Name:  "local",
			Kind:  "ollama",
			Model: ollama.DefaultModel,
		}},
		Agents: []AgentConfig{{
			Name:        "assistant",
			Kind:        KindDirect,
			Description: "Answers general questions directly",
		}},
	}
}

var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnv replaces ${NAME} references with the variable's value. Unset
// variables expand to "".
func expandEnv(s string) string {
	return envRef.ReplaceAllStringFunc(s, func(ref string) string {
		return os.Getenv(envRef.FindStringSubmatch(ref)[1])
	})
}

// LoadConfig reads a YAML file and returns a Config.
// Environment variables referenced as ${VAR} in the YAML are expanded before
// parsing, so API keys can live in the environment or a .env file. A bare $
// is left alone so inline prompt text keeps amounts like $20.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is caller-provided configuration, not user input
	if err != nil {
		return Config{}, fmt.Errorf("engine: load config: %w", err)
	}

	expanded := expandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return Config{}, fmt.Errorf("engine: parse config: %w", err)
	}

	cfg.Dir = filepath.Dir(path)

	return cfg, nil
}

// Validate checks that the configuration is internally consistent.
func (c Config) Validate() error {
	if len(c.Providers) == 0 {
		return fmt.Errorf("engine: config: at least one provider is required")
	}

	providerNames := make(map[string]struct{}, len(c.Providers))
	for _, p := range c.Providers {
		if p.Name == "" {
			return fmt.Errorf("engine: config: provider name is required")
		}
		if p.Kind == "" {
			return fmt.Errorf("engine: config: provider %q: kind is required", p.Name)
		}
		if _, dup := providerNames[p.Name]; dup {
			return fmt.Errorf("engine: config: duplicate provider name %q", p.Name)
		}
		if p.Throttle.BaseDelay != "" {
			if _, err := time.ParseDuration(p.Throttle.BaseDelay); err != nil {
				return fmt.Errorf("engine: config: provider %q: invalid base_delay %q", p.Name, p.Throttle.BaseDelay)
			}
		}
		providerNames[p.Name] = struct{}{}
	}

	knownProvider := func(name string) bool {
		_, ok := providerNames[name]
		return name == "" || ok
	}

	if len(c.Agents) == 0 {
		return fmt.Errorf("engine: config: at least one agent is required")
	}

	agentNames := make(map[string]struct{}, len(c.Agents))
	for _, a := range c.Agents {
		if a.Name == "" {
			return fmt.Errorf("engine: config: agent name is required")
		}
		if _, dup := agentNames[a.Name]; dup {
			return fmt.Errorf("engine: config: duplicate agent name %q", a.Name)
		}
		agentNames[a.Name] = struct{}{}
	}

	for _, a := range c.Agents {
		if err := c.validateAgent(a, agentNames, knownProvider); err != nil {
			return err
		}
	}

	for _, r := range c.Router.Routes {
		if _, ok := agentNames[r]; !ok {
			return fmt.Errorf("engine: config: router: unknown agent %q", r)
		}
	}

	switch c.Router.Scorer {
	case "", ScorerWords, ScorerEmbeddings:
	default:
		return fmt.Errorf("engine: config: router: unknown scorer %q", c.Router.Scorer)
	}

	for field, name := range map[string]string{
		"router":    c.Router.Provider,
		"qa":        c.QA.Provider,
		"qa judge":  c.QA.Judge,
		"knowledge": c.Knowledge.Provider,
	} {
		if !knownProvider(name) {
			return fmt.Errorf("engine: config: %s: unknown provider %q", field, name)
		}
	}

	return nil
}

func (c Config) validateAgent(a AgentConfig, agents map[string]struct{}, knownProvider func(string) bool) error {
	if !knownProvider(a.Provider) {
		return fmt.Errorf("engine: config: agent %q: unknown provider %q", a.Name, a.Provider)
	}

	if a.Timeout != "" {
		if _, err := time.ParseDuration(a.Timeout); err != nil {
			return fmt.Errorf("engine: config: agent %q: invalid timeout %q", a.Name, a.Timeout)
		}
	}

	switch a.Kind {
	case "", KindDirect, KindAugmented:
	case KindKnowledge, KindRAG:
		if a.Knowledge == "" && a.KnowledgeFile == "" {
			return fmt.Errorf("engine: config: agent %q: knowledge or knowledge_file is required", a.Name)
		}
		if a.Knowledge != "" && a.KnowledgeFile != "" {
			return fmt.Errorf("engine: config: agent %q: knowledge and knowledge_file are exclusive", a.Name)
		}
	case KindEvaluation:
		if a.Worker == "" {
			return fmt.Errorf("engine: config: agent %q: worker is required", a.Name)
		}
		if a.Worker == a.Name {
			return fmt.Errorf("engine: config: agent %q: cannot evaluate itself", a.Name)
		}
		if _, ok := agents[a.Worker]; !ok {
			return fmt.Errorf("engine: config: agent %q: unknown worker %q", a.Name, a.Worker)
		}
		if a.Criteria == "" {
			return fmt.Errorf("engine: config: agent %q: criteria is required", a.Name)
		}
		if !knownProvider(a.Judge) {
			return fmt.Errorf("engine: config: agent %q: unknown judge provider %q", a.Name, a.Judge)
		}
	default:
		return fmt.Errorf("engine: config: agent %q: unknown kind %q", a.Name, a.Kind)
	}

	return nil
}

// resolvePath makes p relative to the config directory.
func (c Config) resolvePath(p string) string {
	if p == "" || filepath.IsAbs(p) || c.Dir == "" {
		return p
	}
	return filepath.Join(c.Dir, p)
}
