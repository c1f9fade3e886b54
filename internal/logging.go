package internal

import (
	"log"
	"os"
)

// NewLogger returns a component-scoped logger writing to stdout.
func NewLogger(component string) *log.Logger {
	prefix := "agentwatch"
	if component != "" {
		prefix = prefix + "/" + component
	}
	return log.New(os.Stdout, prefix+" ", log.LstdFlags|log.Lmicroseconds)
}
