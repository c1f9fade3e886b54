package internal

import (
	"encoding/json"
	"fmt"
)

// RuleEnv builds the evaluation environment for drop rules: the normalized
// fields under stable names, plus the raw payload flattened with "."-joined
// keys (`issue.number`, `comment.user.login`, ...).
func RuleEnv(e *Event) map[string]interface{} {
	env := map[string]interface{}{
		"provider":   e.Provider,
		"type":       e.Type,
		"action":     e.Action,
		"repository": e.Resource.Repository,
		"number":     e.Resource.Number,
		"state":      e.Resource.State,
		"title":      e.Resource.Title,
		"author":     e.Resource.Author,
		"actor":      e.Actor.Username,
		"polled":     e.Metadata.Polled,
	}
	if len(e.Raw) > 0 {
		var raw map[string]interface{}
		if err := json.Unmarshal(e.Raw, &raw); err == nil {
			for key, value := range Flatten(raw) {
				if _, taken := env[key]; !taken {
					env[key] = value
				}
			}
		}
	}
	return env
}

// Flatten takes a nested map and returns a new map with the keys flattened
// into a single level, joined with ".". Arrays keep their element paths
// indexed (`labels[0].name`).
func Flatten(data map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{})
	for key, value := range data {
		flattenInto(out, key, value)
	}
	return out
}

func flattenInto(out map[string]interface{}, path string, value interface{}) {
	switch typed := value.(type) {
	case map[string]interface{}:
		for key, child := range typed {
			flattenInto(out, fmt.Sprintf("%s.%s", path, key), child)
		}
	case []interface{}:
		out[path] = typed
		for i, child := range typed {
			flattenInto(out, fmt.Sprintf("%s[%d]", path, i), child)
		}
	default:
		out[path] = value
	}
}
