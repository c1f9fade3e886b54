package internal

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, "{}\n"))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Fatalf("expected default port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Executor.CommentTemplate == "" {
		t.Fatalf("expected default comment template")
	}
	if cfg.Providers.GitHub.InitialLookbackHours != 1 {
		t.Fatalf("expected default lookback 1h, got %d", cfg.Providers.GitHub.InitialLookbackHours)
	}
}

func TestLoadConfigBotUsernameScalarAndList(t *testing.T) {
	content := `
providers:
  github:
    enabled: true
    bot_username: agent-bot
  gitlab:
    enabled: true
    bot_username: [agent-bot, agent-bot-2]
`
	cfg, err := LoadConfig(writeConfig(t, content))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if len(cfg.Providers.GitHub.BotUsername) != 1 || cfg.Providers.GitHub.BotUsername[0] != "agent-bot" {
		t.Fatalf("unexpected scalar bot_username: %v", cfg.Providers.GitHub.BotUsername)
	}
	if len(cfg.Providers.GitLab.BotUsername) != 2 {
		t.Fatalf("unexpected list bot_username: %v", cfg.Providers.GitLab.BotUsername)
	}
}

func TestLoadConfigExpandsEnv(t *testing.T) {
	t.Setenv("AGENTWATCH_TEST_TOKEN", "tok-123")
	content := `
providers:
  github:
    enabled: true
    bot_username: agent-bot
    token: ${AGENTWATCH_TEST_TOKEN}
`
	cfg, err := LoadConfig(writeConfig(t, content))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Providers.GitHub.Token != "tok-123" {
		t.Fatalf("expected env expansion, got %q", cfg.Providers.GitHub.Token)
	}
}

func TestLoadConfigRequiresBotUsername(t *testing.T) {
	content := `
providers:
  github:
    enabled: true
`
	if _, err := LoadConfig(writeConfig(t, content)); err == nil {
		t.Fatalf("expected error for missing bot_username")
	}
}

func TestLoadConfigRequiresCommandWhenExecutorEnabled(t *testing.T) {
	content := `
executor:
  enabled: true
`
	if _, err := LoadConfig(writeConfig(t, content)); err == nil {
		t.Fatalf("expected error for executor without command")
	}
}
