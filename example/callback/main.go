package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	meshstream "github.com/tspannhw/SNACKAI-CoCo-Meshtastic"
)

// Runs the pipeline with the Snowpipe sink swapped for a stdout callback,
// handy for checking what a capture file normalizes to.
func main() {
	cfg, err := meshstream.LoadConfig("../../config.yaml")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	sink := meshstream.NewCallbackSink("stdout", func(_ context.Context, batch []*meshstream.Reading) error {
		for _, r := range batch {
			fmt.Printf("%s kind=%s from=%s\n",
				r.ReceivedAt.Format(time.RFC3339Nano), r.Kind, r.FromID)
		}
		return nil
	})

	rt, err := meshstream.NewRuntime(cfg, meshstream.WithSink(sink))
	if err != nil {
		log.Fatalf("build runtime: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rt.Run(ctx); err != nil && err != context.Canceled {
		log.Fatalf("relay exited: %v", err)
	}
}
