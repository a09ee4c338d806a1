package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/openfactoryio/serving-layer/pkg/config"
	"github.com/openfactoryio/serving-layer/pkg/dispatcher"
	"github.com/openfactoryio/serving-layer/pkg/fanout"
	"github.com/openfactoryio/serving-layer/pkg/log"
	"github.com/openfactoryio/serving-layer/pkg/platform"
	"github.com/openfactoryio/serving-layer/pkg/streamapi"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	settings, err := config.Load()
	if err != nil {
		return err
	}

	log.Init(log.Config{
		Level:      log.Level(settings.LogLevel),
		JSONOutput: true,
	})

	registry := fanout.NewRegistry(settings.QueueMaxSize, fanout.Policy(settings.QueueFullPolicy))

	// No partition assignment within the deadline is a fatal startup
	// error: the instance would never serve anything.
	consumer, err := dispatcher.NewConsumer(settings.Kafka)
	if err != nil {
		return err
	}

	disp := dispatcher.New(consumer, registry)
	disp.Start()

	server := streamapi.NewServer(registry, disp.Ready)
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start(fmt.Sprintf("0.0.0.0:%d", platform.ServicePort))
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		registry.Close()
		disp.Stop()
		return err
	case sig := <-sigCh:
		log.Info(fmt.Sprintf("Received signal %s, shutting down", sig))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Errorf("Failed to shut down HTTP server", err)
	}

	// Unblock any fan-out stalled on a full queue, then let the
	// dispatcher close its consumer (triggers a group rebalance).
	registry.Close()
	disp.Stop()
	return nil
}
