package internal

import (
	"fmt"
	"os"
	"strings"
)

// ResolveSecret resolves a configured secret value from one of three
// schemes: "env:NAME" reads the named environment variable, "file:/path"
// reads the file's contents (trimmed), anything else is the literal secret.
// An empty value resolves to empty without error; a missing env var or an
// unreadable file is an error because the operator asked for indirection.
func ResolveSecret(value string) (string, error) {
	switch {
	case value == "":
		return "", nil
	case strings.HasPrefix(value, "env:"):
		name := strings.TrimPrefix(value, "env:")
		v, ok := os.LookupEnv(name)
		if !ok {
			return "", fmt.Errorf("secret env var %s is not set", name)
		}
		return v, nil
	case strings.HasPrefix(value, "file:"):
		path := strings.TrimPrefix(value, "file:")
		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("secret file %s: %w", path, err)
		}
		return strings.TrimSpace(string(data)), nil
	default:
		return value, nil
	}
}
