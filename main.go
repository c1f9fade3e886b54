package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"agentwatch/internal"
	"agentwatch/pkg/providers/github"
	"agentwatch/pkg/providers/gitlab"
	"agentwatch/pkg/providers/linear"
	"agentwatch/pkg/providers/slack"
	"agentwatch/pkg/watcher"
	"agentwatch/webhook"
)

func main() {
	logger := internal.NewLogger("main")
	configPath := flag.String("config", "config.yaml", "Path to config file")
	flag.Parse()

	config, err := internal.LoadConfig(*configPath)
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}

	w, err := watcher.New(config)
	if err != nil {
		logger.Fatalf("build watcher: %v", err)
	}

	register := func(p watcher.Provider, cfg internal.ProviderConfig) {
		if err := w.Register(p, cfg); err != nil {
			logger.Fatalf("register %s: %v", p.Metadata().Name, err)
		}
	}
	register(github.New(), config.Providers.GitHub)
	register(gitlab.New(), config.Providers.GitLab)
	register(linear.New(), config.Providers.Linear)
	register(slack.New(), config.Providers.Slack)

	w.SetServer(webhook.NewServer(config, w, internal.NewLogger("server")))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := w.Start(ctx); err != nil {
		logger.Fatalf("start: %v", err)
	}
	logger.Printf("watcher started")

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)
	<-shutdown

	logger.Printf("shutting down")
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 45*time.Second)
	defer stopCancel()
	if err := w.Stop(stopCtx); err != nil {
		logger.Printf("stop: %v", err)
	}
	logger.Printf("stopped")
}
