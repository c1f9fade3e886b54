package internal

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the resolved application configuration.
type Config struct {
	// Server holds the webhook server settings.
	Server struct {
		Port           int    `yaml:"port"`
		BasePath       string `yaml:"base_path"`
		RateLimitRPS   int64  `yaml:"rate_limit_rps"`
		RateLimitBurst int64  `yaml:"rate_limit_burst"`
	} `yaml:"server"`
	// Providers contains per-platform settings.
	Providers struct {
		GitHub ProviderConfig `yaml:"github"`
		GitLab ProviderConfig `yaml:"gitlab"`
		Linear ProviderConfig `yaml:"linear"`
		Slack  ProviderConfig `yaml:"slack"`
	} `yaml:"providers"`
	// Executor configures the external command run for each event.
	Executor ExecutorConfig `yaml:"executor"`
	// Filters are operator drop rules layered on the built-in filter.
	Filters []DropRule `yaml:"filters"`
	// Forward mirrors dispatched events to an external HTTP endpoint.
	Forward ForwardConfig `yaml:"forward"`
}

// ProviderConfig is the per-platform configuration. Secret-valued fields
// accept the literal / env: / file: schemes of ResolveSecret. Exactly one of
// the container lists applies per provider: Repositories (github), Projects
// (gitlab), Teams (linear), Channels (slack).
type ProviderConfig struct {
	Enabled bool `yaml:"enabled"`
	// Secret is the webhook signing secret (or shared token).
	Secret string `yaml:"secret"`
	// Token authenticates outbound API calls.
	Token   string `yaml:"token"`
	BaseURL string `yaml:"base_url"`
	// BotUsername is the identity (or identities) the watcher's comments
	// appear under. Accepts a single string or a list.
	BotUsername  StringList `yaml:"bot_username"`
	Repositories []string   `yaml:"repositories"`
	Projects     []string   `yaml:"projects"`
	Teams        []string   `yaml:"teams"`
	Channels     []string   `yaml:"channels"`
	// PollingIntervalSeconds enables the poller when positive.
	PollingIntervalSeconds int `yaml:"polling_interval_s"`
	InitialLookbackHours   int `yaml:"initial_lookback_hours"`
}

// HasAuth reports whether the provider has credentials for outbound calls.
func (p ProviderConfig) HasAuth() bool {
	return p.Token != ""
}

// ExecutorConfig mirrors the recognized command-executor option set.
type ExecutorConfig struct {
	Enabled            bool              `yaml:"enabled"`
	Command            string            `yaml:"command"`
	PromptTemplate     string            `yaml:"prompt_template"`
	PromptTemplateFile string            `yaml:"prompt_template_file"`
	Prompts            map[string]string `yaml:"prompts"`
	UseStdin           bool              `yaml:"use_stdin"`
	FollowUp           bool              `yaml:"follow_up"`
	DryRun             bool              `yaml:"dry_run"`
	// CommentTemplate renders the acknowledgement comment posted when the
	// executor is disabled. It receives {"id": displayString}.
	CommentTemplate string `yaml:"comment_template"`
}

// ForwardConfig configures the optional event mirror.
type ForwardConfig struct {
	URL string `yaml:"url"`
}

// StringList accepts a YAML scalar or sequence.
type StringList []string

func (s *StringList) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		var single string
		if err := node.Decode(&single); err != nil {
			return err
		}
		if single != "" {
			*s = StringList{single}
		}
		return nil
	case yaml.SequenceNode:
		var list []string
		if err := node.Decode(&list); err != nil {
			return err
		}
		*s = StringList(list)
		return nil
	default:
		return fmt.Errorf("bot_username must be a string or a list of strings")
	}
}

// LoadConfig loads the configuration from a YAML file, expanding environment
// variables and applying defaults.
func LoadConfig(path string) (Config, error) {
	var cfg Config
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}

	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return cfg, err
	}

	applyDefaults(&cfg)
	if err := validateConfig(&cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	cfg.Server.BasePath = strings.TrimRight(cfg.Server.BasePath, "/")
	if cfg.Executor.CommentTemplate == "" {
		cfg.Executor.CommentTemplate = "Agent is working on {{.id}}"
	}
	for _, p := range []*ProviderConfig{
		&cfg.Providers.GitHub, &cfg.Providers.GitLab,
		&cfg.Providers.Linear, &cfg.Providers.Slack,
	} {
		if p.InitialLookbackHours == 0 {
			p.InitialLookbackHours = 1
		}
	}
}

func validateConfig(cfg *Config) error {
	if cfg.Executor.Enabled && cfg.Executor.Command == "" {
		return fmt.Errorf("executor.command is required when the executor is enabled")
	}
	for name, p := range map[string]ProviderConfig{
		"github": cfg.Providers.GitHub,
		"gitlab": cfg.Providers.GitLab,
		"linear": cfg.Providers.Linear,
		"slack":  cfg.Providers.Slack,
	} {
		if p.Enabled && len(p.BotUsername) == 0 && name != "slack" {
			return fmt.Errorf("providers.%s.bot_username is required for deduplication", name)
		}
	}
	return nil
}
