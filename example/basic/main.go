package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	meshstream "github.com/tspannhw/SNACKAI-CoCo-Meshtastic"
)

func main() {
	cfg, err := meshstream.LoadConfig("../../config.yaml")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	rt, err := meshstream.NewRuntime(cfg)
	if err != nil {
		log.Fatalf("build runtime: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rt.Run(ctx); err != nil && err != context.Canceled {
		log.Fatalf("relay exited: %v", err)
	}
}
