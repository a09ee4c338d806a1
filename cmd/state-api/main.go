package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/openfactoryio/serving-layer/pkg/config"
	"github.com/openfactoryio/serving-layer/pkg/ksql"
	"github.com/openfactoryio/serving-layer/pkg/log"
	"github.com/openfactoryio/serving-layer/pkg/platform"
	"github.com/openfactoryio/serving-layer/pkg/stateapi"
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

	client := ksql.NewClient(settings.KSQL.URL)
	server := stateapi.NewServer(client, settings.KSQL.AssetsTable)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start(fmt.Sprintf("0.0.0.0:%d", platform.ServicePort))
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		log.Info(fmt.Sprintf("Received signal %s, shutting down", sig))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
