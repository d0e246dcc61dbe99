package main

import (
	"context"
	"log"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/osvatech/bus-telemetry/services/ingest/config"
	"github.com/osvatech/bus-telemetry/services/ingest/db"
	httpserver "github.com/osvatech/bus-telemetry/services/ingest/http"
	"github.com/osvatech/bus-telemetry/services/ingest/pipeline"
	"github.com/osvatech/bus-telemetry/services/ingest/queues"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, err := db.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db connection error: %v", err)
	}
	defer store.Close()

	var publisher pipeline.Publisher = queues.NoopPublisher{}
	if cfg.AMQPURL != "" {
		client := queues.New(cfg.AMQPURL)
		defer client.Close()
		publisher = client
	}

	coordinator := pipeline.NewCoordinator(store, publisher, pipeline.Settings{
		MaxImageBytes: cfg.MaxImageBytes,
		MaxSpeedKMH:   cfg.MaxSpeedKMH,
	}, slog.Default())

	srv := httpserver.New(cfg, store, coordinator)
	log.Printf("telemetry API listening on %s", cfg.ListenAddr())

	if err := srv.Run(ctx); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
