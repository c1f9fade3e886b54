package watcher

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"agentwatch/internal"
)

func TestPromptRendererDefaultTemplate(t *testing.T) {
	r, err := NewPromptRenderer(internal.ExecutorConfig{
		PromptTemplate: "Please handle {{.resource.repository}}#{{.resource.number}} from {{.actor.username}}",
	})
	if err != nil {
		t.Fatalf("new renderer: %v", err)
	}
	got, err := r.Render(testEvent())
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if got != "Please handle o/r#42 from alice" {
		t.Fatalf("unexpected prompt %q", got)
	}
}

func TestPromptRendererPerProviderOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "github.tmpl")
	if err := os.WriteFile(path, []byte("github-specific {{.id}}"), 0o600); err != nil {
		t.Fatalf("write template: %v", err)
	}

	r, err := NewPromptRenderer(internal.ExecutorConfig{
		PromptTemplate: "default",
		Prompts:        map[string]string{"github": path},
	})
	if err != nil {
		t.Fatalf("new renderer: %v", err)
	}

	got, err := r.Render(testEvent())
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if !strings.HasPrefix(got, "github-specific github:") {
		t.Fatalf("expected provider template, got %q", got)
	}

	other := testEvent()
	other.Provider = "gitlab"
	got, err = r.Render(other)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if got != "default" {
		t.Fatalf("expected default template, got %q", got)
	}
}

func TestPromptRendererEmptyWithoutTemplate(t *testing.T) {
	r, err := NewPromptRenderer(internal.ExecutorConfig{})
	if err != nil {
		t.Fatalf("new renderer: %v", err)
	}
	got, err := r.Render(testEvent())
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if got != "" {
		t.Fatalf("expected empty prompt, got %q", got)
	}
}

func TestPromptRendererJSONPath(t *testing.T) {
	r, err := NewPromptRenderer(internal.ExecutorConfig{
		PromptTemplate: `{{jsonpath "$.raw.issue.title" .}}`,
	})
	if err != nil {
		t.Fatalf("new renderer: %v", err)
	}
	e := testEvent()
	e.Raw = []byte(`{"issue":{"title":"broken build"}}`)
	got, err := r.Render(e)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if got != "broken build" {
		t.Fatalf("expected jsonpath value, got %q", got)
	}
}

func TestPromptRendererMissingFileFails(t *testing.T) {
	_, err := NewPromptRenderer(internal.ExecutorConfig{
		PromptTemplateFile: "/nonexistent/prompt.tmpl",
	})
	if err == nil {
		t.Fatalf("expected error for missing template file")
	}
}

func TestRenderComment(t *testing.T) {
	got, err := RenderComment("Agent is working on {{.id}}", "o/r#42")
	if err != nil {
		t.Fatalf("render comment: %v", err)
	}
	if got != "Agent is working on o/r#42" {
		t.Fatalf("unexpected comment %q", got)
	}
}
