package internal

import (
	"os"
	"path/filepath"
	"testing"
)

func TestResolveSecretLiteral(t *testing.T) {
	got, err := ResolveSecret("plain-value")
	if err != nil {
		t.Fatalf("resolve literal: %v", err)
	}
	if got != "plain-value" {
		t.Fatalf("expected literal passthrough, got %q", got)
	}

	got, err = ResolveSecret("")
	if err != nil || got != "" {
		t.Fatalf("expected empty resolution, got %q, %v", got, err)
	}
}

func TestResolveSecretEnv(t *testing.T) {
	t.Setenv("AGENTWATCH_TEST_SECRET", "from-env")
	got, err := ResolveSecret("env:AGENTWATCH_TEST_SECRET")
	if err != nil {
		t.Fatalf("resolve env: %v", err)
	}
	if got != "from-env" {
		t.Fatalf("expected env value, got %q", got)
	}

	if _, err := ResolveSecret("env:AGENTWATCH_TEST_SECRET_MISSING"); err == nil {
		t.Fatalf("expected error for unset env var")
	}
}

func TestResolveSecretFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "secret")
	if err := os.WriteFile(path, []byte("from-file\n"), 0o600); err != nil {
		t.Fatalf("write secret file: %v", err)
	}

	got, err := ResolveSecret("file:" + path)
	if err != nil {
		t.Fatalf("resolve file: %v", err)
	}
	if got != "from-file" {
		t.Fatalf("expected trimmed file value, got %q", got)
	}

	if _, err := ResolveSecret("file:" + filepath.Join(dir, "missing")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}
