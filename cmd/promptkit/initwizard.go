package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/germanamz/promptkit/pkg/engine"
	"github.com/germanamz/promptkit/pkg/providers/ollama"
	"gopkg.in/yaml.v3"
)

func cmdInit(_ context.Context, args []string) error {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: promptkit init [flags]\n\nCreate a config file interactively.\n\nFlags:\n")
		fs.PrintDefaults()
	}
	out := fs.String("o", filepath.Join(defaultDir, "config.yaml"), "where to write the config")
	force := fs.Bool("force", false, "overwrite an existing config")
	_ = fs.Parse(args)

	if _, err := os.Stat(*out); err == nil && !*force {
		return fmt.Errorf("%s already exists (use --force to overwrite)", *out)
	}

	data, err := runWizard()
	if err != nil {
		return err
	}

	if err := writeConfig(*out, data); err != nil {
		return err
	}

	fmt.Printf("Wrote %s\n", *out)
	return nil
}

// writeConfig validates data as an engine config and writes it to path.
func writeConfig(path string, data []byte) error {
	var cfg engine.Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return fmt.Errorf("init: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("init: generated config is invalid: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("init: %w", err)
	}

	return os.WriteFile(path, data, 0o600)
}

type wizardProvider struct {
	Kind       string
	Name       string
	BaseURL    string
	APIKey     string //nolint:gosec // env var reference, not a secret
	Model      string
	EmbedModel string
	RPM        string
	MaxRetries string
	BaseDelay  string
}

type wizardAgent struct {
	Name            string
	Kind            string
	Description     string
	Persona         string
	Provider        string
	KnowledgeFile   string
	Retrieval       bool
	Worker          string
	Criteria        string
	MaxInteractions string
}

type wizardConfig struct {
	Providers []wizardProvider
	Agents    []wizardAgent
	Routes    []string
	Persist   bool
}

type providerDefault struct {
	APIKey     string //nolint:gosec // env var reference template, not a secret
	Model      string
	EmbedModel string
}

//nolint:gosec // env var reference templates, not hardcoded secrets
var providerDefaults = map[string]providerDefault{
	"ollama": {Model: ollama.DefaultModel, EmbedModel: "nomic-embed-text"},
	"openai": {APIKey: "${OPENAI_API_KEY}", Model: "gpt-4o-mini", EmbedModel: "text-embedding-3-small"},
}

func runWizard() ([]byte, error) {
	var cfg wizardConfig

	if err := wizardProviders(&cfg); err != nil {
		return nil, err
	}

	if err := wizardAgents(&cfg); err != nil {
		return nil, err
	}

	if err := wizardRouting(&cfg); err != nil {
		return nil, err
	}

	return marshalWizardConfig(cfg)
}

func wizardProviders(cfg *wizardConfig) error {
	for {
		p, err := wizardPromptProvider()
		if err != nil {
			return err
		}

		cfg.Providers = append(cfg.Providers, p)

		var more bool
		if err := huh.NewForm(huh.NewGroup(
			huh.NewConfirm().Title("Add another provider?").Value(&more),
		)).Run(); err != nil {
			return err
		}

		if !more {
			return nil
		}
	}
}

func wizardPromptProvider() (wizardProvider, error) {
	var p wizardProvider

	if err := huh.NewForm(huh.NewGroup(
		huh.NewSelect[string]().
			Title("Provider kind").
			Options(
				huh.NewOption("Ollama (local runtime)", "ollama"),
				huh.NewOption("OpenAI-compatible API", "openai"),
			).
			Value(&p.Kind),
	)).Run(); err != nil {
		return p, err
	}

	defaults := providerDefaults[p.Kind]
	p.Name = p.Kind
	p.APIKey = defaults.APIKey
	p.Model = defaults.Model
	p.EmbedModel = defaults.EmbedModel

	fields := []huh.Field{
		huh.NewInput().Title("Provider name").Value(&p.Name),
		huh.NewInput().Title("Base URL (empty = default)").Value(&p.BaseURL),
		huh.NewInput().Title("Model").Value(&p.Model),
		huh.NewInput().Title("Embedding model (empty = chat model)").Value(&p.EmbedModel),
	}
	if p.Kind == "openai" {
		fields = append(fields, huh.NewInput().Title("API key env var").Value(&p.APIKey))
	}

	if err := huh.NewForm(huh.NewGroup(fields...)).Run(); err != nil {
		return p, err
	}

	var throttle bool
	if err := huh.NewForm(huh.NewGroup(
		huh.NewConfirm().Title("Configure rate limiting and retries?").Value(&throttle),
	)).Run(); err != nil {
		return p, err
	}

	if throttle {
		p.RPM = "0"
		p.MaxRetries = "3"
		p.BaseDelay = "1s"

		if err := huh.NewForm(huh.NewGroup(
			huh.NewInput().Title("Requests per minute (0 = no limit)").Value(&p.RPM).Validate(validateNonNegativeInt),
			huh.NewInput().Title("Max retries when busy").Value(&p.MaxRetries).Validate(validateNonNegativeInt),
			huh.NewInput().Title("Base backoff delay (e.g. 1s, 500ms)").Value(&p.BaseDelay).Validate(validateDuration),
		)).Run(); err != nil {
			return p, err
		}
	}

	return p, nil
}

func wizardAgents(cfg *wizardConfig) error {
	providerNames := make([]string, len(cfg.Providers))
	for i, p := range cfg.Providers {
		providerNames[i] = p.Name
	}

	for {
		var agentNames []string
		for _, a := range cfg.Agents {
			agentNames = append(agentNames, a.Name)
		}

		a, err := wizardPromptAgent(providerNames, agentNames)
		if err != nil {
			return err
		}

		cfg.Agents = append(cfg.Agents, a)

		var more bool
		if err := huh.NewForm(huh.NewGroup(
			huh.NewConfirm().Title("Add another agent?").Value(&more),
		)).Run(); err != nil {
			return err
		}

		if !more {
			return nil
		}
	}
}

func wizardPromptAgent(providerNames, agentNames []string) (wizardAgent, error) {
	a := wizardAgent{
		Name:            "assistant",
		Kind:            engine.KindDirect,
		Description:     "Answers general questions",
		MaxInteractions: "3",
	}

	if len(providerNames) > 0 {
		a.Provider = providerNames[0]
	}

	kinds := []huh.Option[string]{
		huh.NewOption("Direct (prompt as is)", engine.KindDirect),
		huh.NewOption("Augmented (persona)", engine.KindAugmented),
		huh.NewOption("Knowledge (persona + document)", engine.KindKnowledge),
		huh.NewOption("RAG (persona + document + instructions)", engine.KindRAG),
	}
	if len(agentNames) > 0 {
		kinds = append(kinds, huh.NewOption("Evaluation (checks another agent)", engine.KindEvaluation))
	}

	err := huh.NewForm(huh.NewGroup(
		huh.NewInput().Title("Agent name").Value(&a.Name),
		huh.NewSelect[string]().Title("Kind").Options(kinds...).Value(&a.Kind),
		huh.NewInput().Title("Description (used for routing)").Value(&a.Description),
		huh.NewSelect[string]().Title("Provider").Options(huh.NewOptions(providerNames...)...).Value(&a.Provider),
	)).Run()
	if err != nil {
		return a, err
	}

	switch a.Kind {
	case engine.KindAugmented:
		err = huh.NewForm(huh.NewGroup(
			huh.NewInput().Title("Persona (e.g. a college professor)").Value(&a.Persona),
		)).Run()

	case engine.KindKnowledge, engine.KindRAG:
		fields := []huh.Field{
			huh.NewInput().Title("Persona").Value(&a.Persona),
			huh.NewInput().Title("Knowledge file (relative to the config)").Value(&a.KnowledgeFile).Validate(validateRequired),
		}
		if a.Kind == engine.KindRAG {
			fields = append(fields, huh.NewConfirm().Title("Answer from retrieved chunks only?").Value(&a.Retrieval))
		}
		err = huh.NewForm(huh.NewGroup(fields...)).Run()

	case engine.KindEvaluation:
		a.Worker = agentNames[0]
		err = huh.NewForm(huh.NewGroup(
			huh.NewSelect[string]().Title("Agent to evaluate").Options(huh.NewOptions(agentNames...)...).Value(&a.Worker),
			huh.NewText().Title("Criteria the answer must meet").Value(&a.Criteria).Validate(validateRequired),
			huh.NewInput().Title("Max attempts").Value(&a.MaxInteractions).Validate(validatePositiveInt),
		)).Run()
	}

	return a, err
}

func wizardRouting(cfg *wizardConfig) error {
	names := make([]string, 0, len(cfg.Agents))
	opts := make([]huh.Option[string], 0, len(cfg.Agents))
	for _, a := range cfg.Agents {
		names = append(names, a.Name)
		opts = append(opts, huh.NewOption(a.Name, a.Name).Selected(true))
	}

	cfg.Persist = true

	fields := []huh.Field{
		huh.NewConfirm().Title("Keep QA history and an embedding cache in a local database?").Value(&cfg.Persist),
	}
	if len(names) > 1 {
		fields = append([]huh.Field{
			huh.NewMultiSelect[string]().Title("Agents the router may pick").Options(opts...).Value(&cfg.Routes),
		}, fields...)
	}

	if err := huh.NewForm(huh.NewGroup(fields...)).Run(); err != nil {
		return err
	}

	// Every agent is routable when none is listed.
	if len(cfg.Routes) == len(names) {
		cfg.Routes = nil
	}

	return nil
}

func validateRequired(s string) error {
	if s == "" {
		return errors.New("required")
	}
	return nil
}

func validatePositiveInt(s string) error {
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return errors.New("must be a positive integer")
	}
	return nil
}

func validateNonNegativeInt(s string) error {
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return errors.New("must be a non-negative integer")
	}
	return nil
}

func validateDuration(s string) error {
	if s == "" {
		return nil
	}
	if _, err := time.ParseDuration(s); err != nil {
		return errors.New("must be a valid duration (e.g. 1s, 500ms)")
	}
	return nil
}

// YAML output types.

type configYAML struct {
	Providers []providerYAML `yaml:"providers"`
	Agents    []agentYAML    `yaml:"agents"`
	Router    *routerYAML    `yaml:"router,omitempty"`
	Knowledge *knowledgeYAML `yaml:"knowledge,omitempty"`
	StorePath string         `yaml:"store_path,omitempty"`
}

type providerYAML struct {
	Name       string        `yaml:"name"`
	Kind       string        `yaml:"kind"`
	BaseURL    string        `yaml:"base_url,omitempty"`
	APIKey     string        `yaml:"api_key,omitempty"` //nolint:gosec // env var reference, not a secret
	Model      string        `yaml:"model"`
	EmbedModel string        `yaml:"embed_model,omitempty"`
	Throttle   *throttleYAML `yaml:"throttle,omitempty"`
}

type throttleYAML struct {
	RPM        int    `yaml:"rpm,omitempty"`
	MaxRetries int    `yaml:"max_retries,omitempty"`
	BaseDelay  string `yaml:"base_delay,omitempty"`
}

type agentYAML struct {
	Name            string `yaml:"name"`
	Kind            string `yaml:"kind"`
	Description     string `yaml:"description,omitempty"`
	Provider        string `yaml:"provider"`
	Persona         string `yaml:"persona,omitempty"`
	KnowledgeFile   string `yaml:"knowledge_file,omitempty"`
	Retrieval       bool   `yaml:"retrieval,omitempty"`
	Worker          string `yaml:"worker,omitempty"`
	Judge           string `yaml:"judge,omitempty"`
	Criteria        string `yaml:"criteria,omitempty"`
	MaxInteractions int    `yaml:"max_interactions,omitempty"`
}

type routerYAML struct {
	Routes []string `yaml:"routes"`
}

type knowledgeYAML struct {
	Cache bool `yaml:"cache"`
}

func marshalWizardConfig(cfg wizardConfig) ([]byte, error) {
	var yc configYAML

	for _, p := range cfg.Providers {
		py := providerYAML{
			Name:       p.Name,
			Kind:       p.Kind,
			BaseURL:    p.BaseURL,
			APIKey:     p.APIKey,
			Model:      p.Model,
			EmbedModel: p.EmbedModel,
		}

		rpm, _ := strconv.Atoi(p.RPM)
		maxRetries, _ := strconv.Atoi(p.MaxRetries)

		if rpm > 0 || maxRetries > 0 || p.BaseDelay != "" {
			py.Throttle = &throttleYAML{RPM: rpm, MaxRetries: maxRetries, BaseDelay: p.BaseDelay}
		}

		yc.Providers = append(yc.Providers, py)
	}

	for _, a := range cfg.Agents {
		ay := agentYAML{
			Name:          a.Name,
			Kind:          a.Kind,
			Description:   a.Description,
			Provider:      a.Provider,
			Persona:       a.Persona,
			KnowledgeFile: a.KnowledgeFile,
			Retrieval:     a.Retrieval,
		}

		if a.Kind == engine.KindEvaluation {
			ay.Worker = a.Worker
			ay.Judge = a.Provider
			ay.Criteria = a.Criteria
			ay.MaxInteractions, _ = strconv.Atoi(a.MaxInteractions)
		}

		yc.Agents = append(yc.Agents, ay)
	}

	if len(cfg.Routes) > 0 {
		yc.Router = &routerYAML{Routes: cfg.Routes}
	}

	if cfg.Persist {
		yc.StorePath = "promptkit.db"
		yc.Knowledge = &knowledgeYAML{Cache: true}
	}

	return yaml.Marshal(yc)
}
