// Copyright 2025 CodeCompanion
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"syscall"

	"github.com/AidiJackson/codecompanion/config"
	"github.com/AidiJackson/codecompanion/orchestrator"
)

func main() {
	configPath := flag.String("config", "", "path to YAML configuration file")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("[Routerd] failed to load configuration: %v", err)
	}

	server, err := orchestrator.NewServer(ctx, cfg)
	if err != nil {
		log.Fatalf("[Routerd] failed to start: %v", err)
	}

	if err := server.Run(ctx); err != nil {
		log.Fatalf("[Routerd] server error: %v", err)
	}
}
