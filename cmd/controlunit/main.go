// Command controlunit runs the fleet control-layer node: registration
// ingestion, monitoring aggregation and optional software-update/command
// fan-out, all wired through a lifecycle.Controller.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mupaco/controlunit/internal/config"
	"github.com/mupaco/controlunit/internal/lifecycle"
	"github.com/mupaco/controlunit/internal/logging"
)

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "controlunit [config-file]",
		Short: "Fleet control-layer node: registration, monitoring aggregation and update fan-out",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var configPath string
			if len(args) == 1 {
				configPath = args[0]
			}
			return run(configPath)
		},
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "controlunit: failed to load configuration: %v\n", err)
		return err
	}

	log := logging.New("controlunit", cfg.LoggingStandard, cfg.LoggingDebug)
	for _, w := range cfg.Warnings {
		log.Warn(w)
	}

	cc, err := lifecycle.NewControllerContext(cfg, log)
	if err != nil {
		log.Error(err, "failed to build controller context")
		return err
	}
	controller := lifecycle.New(cc, log)

	if err := controller.Start(); err != nil {
		log.Error(err, "failed to start controller")
		return err
	}

	metricsServer := startMetricsServer(cc, log)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("shutdown signal received")

	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = metricsServer.Shutdown(shutdownCtx)
		cancel()
	}

	if err := controller.Stop(); err != nil {
		log.Error(err, "controller stop reported an error")
		return err
	}
	return nil
}

// startMetricsServer binds the ambient /metrics route on a dedicated
// support port (registration.port + 1), independent of which protocol
// the registration/aggregation/update channels use.
func startMetricsServer(cc *lifecycle.ControllerContext, log *logging.Logger) *http.Server {
	cfg := cc.Config()
	addr := fmt.Sprintf("%s:%d", cfg.Registration.URL, cfg.Registration.Port+1)
	server := &http.Server{Addr: addr, Handler: cc.MetricsEngine()}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Warn("metrics server stopped", "error", err)
		}
	}()
	return server
}
