package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/openfactoryio/serving-layer/pkg/config"
	"github.com/openfactoryio/serving-layer/pkg/controller"
	"github.com/openfactoryio/serving-layer/pkg/log"
	"github.com/openfactoryio/serving-layer/pkg/platform"
	"github.com/openfactoryio/serving-layer/pkg/router"
	"github.com/openfactoryio/serving-layer/pkg/version"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "serving-layer",
	Short: "OpenFactory serving layer - asset stream routing and state queries",
	Long: `The serving layer partitions factory asset traffic into logical groups,
deploys one stream-serving instance per group, and routes client requests
(live SSE streams and state queries) to the correct instance.`,
	Version: version.Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"serving-layer version %s\nCommit: %s\nBuilt: %s\n",
		version.Version, version.Commit, version.BuildTime,
	))

	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")

	rootCmd.AddCommand(deployCmd)
	rootCmd.AddCommand(teardownCmd)
	rootCmd.AddCommand(runserverCmd)
	rootCmd.AddCommand(buildCmd)
}

// setup loads the configuration and initialises logging.
func setup() (*config.Settings, error) {
	settings, err := config.Load()
	if err != nil {
		return nil, err
	}

	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")
	log.Init(log.Config{
		Level:      log.Level(settings.LogLevel),
		JSONOutput: logJSON,
	})
	return settings, nil
}

var deployCmd = &cobra.Command{
	Use:   "deploy",
	Short: "Create derived streams and deploy all serving-layer instances",
	RunE: func(cmd *cobra.Command, args []string) error {
		settings, err := setup()
		if err != nil {
			return err
		}

		ctrl, err := controller.NewFromSettings(settings)
		if err != nil {
			return err
		}
		return ctrl.Deploy(cmd.Context())
	},
}

var teardownCmd = &cobra.Command{
	Use:   "teardown",
	Short: "Remove derived streams and all serving-layer instances",
	RunE: func(cmd *cobra.Command, args []string) error {
		settings, err := setup()
		if err != nil {
			return err
		}

		ctrl, err := controller.NewFromSettings(settings)
		if err != nil {
			return err
		}
		return ctrl.Teardown(cmd.Context())
	},
}

var runserverCmd = &cobra.Command{
	Use:   "runserver",
	Short: "Run the routing front-end",
	RunE: func(cmd *cobra.Command, args []string) error {
		settings, err := setup()
		if err != nil {
			return err
		}

		ctrl, err := controller.NewFromSettings(settings)
		if err != nil {
			return err
		}

		server := router.NewServer(ctrl)
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
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		}
	},
}

// imageBuilds maps Dockerfiles to image tags, relative to the repo root.
var imageBuilds = []struct {
	dockerfile string
	tag        string
	context    string
}{
	{"deployments/routing-layer/Dockerfile", "ofa/routing-layer", "."},
	{"deployments/stream-api/Dockerfile", "ofa/stream-api-non-replicated", "."},
	{"deployments/state-api/Dockerfile", "ofa/state-api", "."},
}

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Build all serving-layer Docker images",
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := setup(); err != nil {
			return err
		}

		for _, b := range imageBuilds {
			log.Info(fmt.Sprintf("Building image %s from %s", b.tag, b.dockerfile))

			build := exec.CommandContext(cmd.Context(), "docker", "build",
				"-f", b.dockerfile, "-t", b.tag, b.context)
			build.Stdout = os.Stdout
			build.Stderr = os.Stderr
			if err := build.Run(); err != nil {
				return fmt.Errorf("failed to build %s: %w", b.tag, err)
			}
		}

		log.Info("All images built successfully")
		return nil
	},
}
