package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cuemby/flotilla/pkg/api"
	"github.com/cuemby/flotilla/pkg/config"
	"github.com/cuemby/flotilla/pkg/deploy"
	"github.com/cuemby/flotilla/pkg/deploylock"
	"github.com/cuemby/flotilla/pkg/dnsclient"
	"github.com/cuemby/flotilla/pkg/log"
	"github.com/cuemby/flotilla/pkg/metrics"
	"github.com/cuemby/flotilla/pkg/monitor"
	"github.com/cuemby/flotilla/pkg/nodeagent"
	"github.com/cuemby/flotilla/pkg/provider"
	"github.com/cuemby/flotilla/pkg/storage"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Run the Flotilla control plane",
	Long: `Run the control plane: the HTTP API, the deployment orchestrator
and the health monitor, backed by a bbolt store on disk.

Configuration comes from the environment. DO_TOKEN and ROOT_DOMAIN
are required; everything else has defaults (API_ADDR :8080, DATA_DIR
/var/lib/flotilla, HEALTH_CHECK_INTERVAL 60, ...).`,
	RunE: runServer,
}

func init() {
	rootCmd.AddCommand(serverCmd)
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return err
	}

	log.Init(log.Config{Level: log.Level(cfg.LogLevel), JSONOutput: cfg.LogJSON})
	logger := log.WithComponent("server")
	metrics.SetVersion(Version)

	store, err := storage.NewBoltStore(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer store.Close()
	metrics.RegisterComponent("store", true, "")

	agents := nodeagent.NewPool(cfg.NodeAgentPort, cfg.DOToken)
	defer agents.Close()

	cloud := provider.NewDigitalOcean(cfg.DOToken)

	// Typed nil must not reach the orchestrator's interface field, so
	// the client is only assigned when a token exists.
	var dns deploy.DNS
	if cfg.DNSAPIToken != "" {
		dns = dnsclient.NewClient(cfg.DNSAPIToken, cfg.RootDomain)
	} else {
		logger.Warn().Msg("DNS_API_TOKEN unset; webservice deploys will be rejected")
	}

	orch := deploy.New(store, deploy.Pool{Pool: agents}, dns, cloud, deploylock.NewRegistry(), cfg)

	mon := monitor.New(store, monitor.Pool{Pool: agents}, cloud, cfg)
	mon.Start()
	defer mon.Stop()
	metrics.RegisterComponent("monitor", true, "")

	srv := api.New(store, orch, cfg)
	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil {
			errCh <- fmt.Errorf("API server error: %w", err)
		}
	}()
	metrics.RegisterComponent("api", true, "")

	logger.Info().
		Str("addr", cfg.APIAddr).
		Str("data_dir", cfg.DataDir).
		Str("version", Version).
		Msg("Control plane running")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		logger.Info().Msg("Shutting down")
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("API shutdown failed")
	}
	return nil
}
