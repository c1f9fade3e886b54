package watcher

import (
	"context"
	"strings"
	"testing"

	"agentwatch/internal"
)

func executorConfig(command string) internal.ExecutorConfig {
	return internal.ExecutorConfig{
		Enabled:        true,
		Command:        command,
		PromptTemplate: "Handle {{.resource.repository}}#{{.resource.number}}",
	}
}

func TestExecutePostsAcknowledgementFirst(t *testing.T) {
	x, err := NewCommandExecutor(executorConfig("true"), nil)
	if err != nil {
		t.Fatalf("new executor: %v", err)
	}
	reactor := &fakeReactor{}

	if err := x.Execute(context.Background(), testEvent(), reactor); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if len(reactor.posted) != 1 {
		t.Fatalf("expected one comment, got %v", reactor.posted)
	}
	if reactor.posted[0] != "Agent is working on o/r#42" {
		t.Fatalf("unexpected acknowledgement %q", reactor.posted[0])
	}
}

func TestExecutePromptViaEnv(t *testing.T) {
	cfg := executorConfig(`echo "$PROMPT"`)
	cfg.FollowUp = true
	x, err := NewCommandExecutor(cfg, nil)
	if err != nil {
		t.Fatalf("new executor: %v", err)
	}

	reactor := &fakeReactor{}
	if err := x.Execute(context.Background(), testEvent(), reactor); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if len(reactor.posted) != 2 {
		t.Fatalf("expected acknowledgement and follow-up, got %v", reactor.posted)
	}
	if strings.TrimSpace(reactor.posted[1]) != "Handle o/r#42" {
		t.Fatalf("PROMPT env not delivered: %q", reactor.posted[1])
	}
}

func TestExecutePromptViaStdin(t *testing.T) {
	cfg := executorConfig("cat")
	cfg.UseStdin = true
	cfg.FollowUp = true
	x, err := NewCommandExecutor(cfg, nil)
	if err != nil {
		t.Fatalf("new executor: %v", err)
	}

	reactor := &fakeReactor{}
	if err := x.Execute(context.Background(), testEvent(), reactor); err != nil {
		t.Fatalf("execute: %v", err)
	}
	// cat echoes the stdin prompt; follow-up posts it.
	if len(reactor.posted) != 2 {
		t.Fatalf("expected acknowledgement and follow-up, got %v", reactor.posted)
	}
	if reactor.posted[1] != "Handle o/r#42" {
		t.Fatalf("unexpected follow-up %q", reactor.posted[1])
	}
}

func TestExecuteEnvironmentCuration(t *testing.T) {
	cfg := executorConfig(`echo "$EVENT_ID|$EVENT_SAFE_ID|$EVENT_SHORT_ID"`)
	cfg.FollowUp = true
	x, err := NewCommandExecutor(cfg, nil)
	if err != nil {
		t.Fatalf("new executor: %v", err)
	}

	reactor := &fakeReactor{}
	if err := x.Execute(context.Background(), testEvent(), reactor); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if len(reactor.posted) != 2 {
		t.Fatalf("expected follow-up, got %v", reactor.posted)
	}
	parts := strings.Split(strings.TrimSpace(reactor.posted[1]), "|")
	if len(parts) != 3 {
		t.Fatalf("unexpected env echo %q", reactor.posted[1])
	}
	if parts[0] != testEvent().ID {
		t.Fatalf("EVENT_ID = %q", parts[0])
	}
	if parts[1] != testEvent().SafeID() {
		t.Fatalf("EVENT_SAFE_ID = %q", parts[1])
	}
	if parts[2] != testEvent().ShortID() {
		t.Fatalf("EVENT_SHORT_ID = %q", parts[2])
	}
}

func TestExecuteNonZeroExitSkipsFollowUp(t *testing.T) {
	cfg := executorConfig("echo oops >&2; exit 3")
	cfg.FollowUp = true
	x, err := NewCommandExecutor(cfg, nil)
	if err != nil {
		t.Fatalf("new executor: %v", err)
	}

	reactor := &fakeReactor{}
	if err := x.Execute(context.Background(), testEvent(), reactor); err != nil {
		t.Fatalf("execute must swallow subprocess failure, got %v", err)
	}
	if len(reactor.posted) != 1 {
		t.Fatalf("expected only the acknowledgement, got %v", reactor.posted)
	}
}

func TestExecuteDryRunSkipsSubprocess(t *testing.T) {
	// If the command ran, its output would be posted as a follow-up.
	cfg := executorConfig("echo ran")
	cfg.DryRun = true
	cfg.FollowUp = true
	x, err := NewCommandExecutor(cfg, nil)
	if err != nil {
		t.Fatalf("new executor: %v", err)
	}

	reactor := &fakeReactor{}
	if err := x.Execute(context.Background(), testEvent(), reactor); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if len(reactor.posted) != 1 {
		t.Fatalf("dry run still posts the acknowledgement, got %v", reactor.posted)
	}
}

func TestExecuteDisabled(t *testing.T) {
	var x *CommandExecutor
	if x.Enabled() {
		t.Fatalf("nil executor must be disabled")
	}
	x, err := NewCommandExecutor(internal.ExecutorConfig{}, nil)
	if err != nil {
		t.Fatalf("new executor: %v", err)
	}
	if x.Enabled() {
		t.Fatalf("executor without enabled flag must be disabled")
	}
}
