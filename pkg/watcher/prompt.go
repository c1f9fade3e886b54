package watcher

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"text/template"

	"github.com/PaesslerAG/jsonpath"

	"agentwatch/internal"
)

// PromptRenderer resolves and renders the prompt template for an event. The
// per-provider template wins over the default; with neither configured the
// prompt is empty.
type PromptRenderer struct {
	defaultTemplate string
	perProvider     map[string]string
}

// NewPromptRenderer loads the configured templates. File-based templates are
// read once at construction.
func NewPromptRenderer(cfg internal.ExecutorConfig) (*PromptRenderer, error) {
	r := &PromptRenderer{perProvider: make(map[string]string)}

	r.defaultTemplate = cfg.PromptTemplate
	if cfg.PromptTemplateFile != "" {
		data, err := os.ReadFile(cfg.PromptTemplateFile)
		if err != nil {
			return nil, fmt.Errorf("prompt template file: %w", err)
		}
		r.defaultTemplate = string(data)
	}
	for provider, path := range cfg.Prompts {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("prompt template for %s: %w", provider, err)
		}
		r.perProvider[provider] = string(data)
	}
	return r, nil
}

// Render produces the prompt for an event. The template sees the normalized
// event as a JSON-shaped map ({{.resource.title}}, {{.actor.username}}, ...)
// and may reach into the raw payload with {{jsonpath "$.issue.labels" .}}.
func (r *PromptRenderer) Render(e *internal.Event) (string, error) {
	text, ok := r.perProvider[e.Provider]
	if !ok {
		text = r.defaultTemplate
	}
	if text == "" {
		return "", nil
	}
	return renderTemplate("prompt", text, eventTemplateData(e))
}

// RenderComment renders an acknowledgement comment template against
// {"id": displayString}.
func RenderComment(text string, displayString string) (string, error) {
	return renderTemplate("comment", text, map[string]interface{}{"id": displayString})
}

func renderTemplate(name, text string, data map[string]interface{}) (string, error) {
	tmpl, err := template.New(name).Funcs(template.FuncMap{
		"jsonpath": jsonpathFunc,
	}).Parse(text)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// eventTemplateData round-trips the event through JSON so templates address
// fields by their wire names.
func eventTemplateData(e *internal.Event) map[string]interface{} {
	raw, err := json.Marshal(e)
	if err != nil {
		return map[string]interface{}{}
	}
	var data map[string]interface{}
	if err := json.Unmarshal(raw, &data); err != nil {
		return map[string]interface{}{}
	}
	return data
}

// jsonpathFunc evaluates a JSONPath expression against the template data
// (typically the raw payload subtree). Lookup failures render as empty.
func jsonpathFunc(path string, data interface{}) string {
	value, err := jsonpath.Get(path, data)
	if err != nil {
		return ""
	}
	switch v := value.(type) {
	case string:
		return v
	default:
		out, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return string(out)
	}
}
