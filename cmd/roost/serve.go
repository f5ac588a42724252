package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gravitational/trace"
	"github.com/spf13/cobra"

	"github.com/dwsnet/roost/pkg/api"
	"github.com/dwsnet/roost/pkg/backup"
	"github.com/dwsnet/roost/pkg/config"
	"github.com/dwsnet/roost/pkg/contentstore"
	"github.com/dwsnet/roost/pkg/cron"
	"github.com/dwsnet/roost/pkg/events"
	"github.com/dwsnet/roost/pkg/launcher"
	"github.com/dwsnet/roost/pkg/lifecycle"
	"github.com/dwsnet/roost/pkg/log"
	"github.com/dwsnet/roost/pkg/netalloc"
	"github.com/dwsnet/roost/pkg/pool"
	"github.com/dwsnet/roost/pkg/storage"
	"github.com/dwsnet/roost/pkg/supervisor"
	"github.com/dwsnet/roost/pkg/types"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the control plane",
	Long: `Start the Roost control plane: content store client, worker
supervisor, cron scheduler, database lifecycle controller, and the HTTP
API, then run until interrupted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config")
		return serve(configPath)
	},
}

func init() {
	serveCmd.Flags().String("config", "", "Path to YAML config file")
}

func serve(configPath string) error {
	cfg := config.Default()
	if configPath != "" {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return trace.Wrap(err)
		}
	}

	log.Init(log.Config{
		Level:      log.Level(cfg.LogLevel),
		JSONOutput: cfg.LogJSON,
	})
	logger := log.WithComponent("main")

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return trace.Wrap(err)
	}

	store, err := storage.NewBoltStore(cfg.DataDir)
	if err != nil {
		return trace.Wrap(err)
	}
	defer store.Close()

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	cs, err := contentstore.NewClient(contentstore.Config{
		Primary:        cfg.ContentStore.Primary,
		Gateways:       cfg.ContentStore.Gateways,
		RequestTimeout: cfg.ContentStore.RequestTimeout,
	})
	if err != nil {
		return trace.Wrap(err)
	}

	ports, err := netalloc.NewPortAllocator(cfg.Supervisor.PortMin, cfg.Supervisor.PortMax)
	if err != nil {
		return trace.Wrap(err)
	}

	l, err := launcher.NewLauncher(launcher.Config{
		CacheDir:       filepath.Join(cfg.DataDir, "cache"),
		WorkRoot:       filepath.Join(cfg.DataDir, "work"),
		RuntimeCommand: cfg.Supervisor.RuntimeCommand,
	}, cs)
	if err != nil {
		return trace.Wrap(err)
	}

	sup := supervisor.NewSupervisor(supervisor.Config{
		MaxWarmInstances:         cfg.Supervisor.MaxWarmInstances,
		MaxConcurrentInvocations: cfg.Supervisor.MaxConcurrentInvocations,
		IdleTimeout:              cfg.Supervisor.IdleTimeout,
		NetworkID:                cfg.Supervisor.NetworkID,
		PublicGatewayURL:         cfg.Supervisor.PublicGatewayURL,
		KeyServiceURL:            cfg.Supervisor.KeyServiceURL,
	}, supervisor.NewProcessLauncher(l), ports, store, broker, nil)
	sup.Start()
	defer sup.Stop()

	pools := pool.NewManager(nil)

	worker := backup.NewWorker(backup.Config{
		DumpCommand:    cfg.Lifecycle.DumpCommand,
		RestoreCommand: cfg.Lifecycle.RestoreCommand,
	}, cs, nil)

	ctrl := lifecycle.NewController(lifecycle.Config{
		Region: cfg.Lifecycle.Region,
	}, pools, worker, store, broker, nil)
	defer ctrl.Wait()

	// The scheduler reaches workers only through this injected capability.
	invoker := func(ctx context.Context, functionID string, event []byte) (types.InvokeResult, error) {
		result, err := sup.InvokeHTTP(ctx, functionID, types.HTTPEvent{
			Method:  "POST",
			Path:    "/",
			Headers: map[string]string{"Content-Type": "application/json"},
			Body:    event,
		})
		if err != nil {
			return types.InvokeResult{}, trace.Wrap(err)
		}
		exitCode := 0
		if result.StatusCode < 200 || result.StatusCode >= 300 {
			exitCode = 1
			return types.InvokeResult{Output: result.Body, ExitCode: exitCode},
				trace.ConnectionProblem(nil, "invocation returned status %d", result.StatusCode)
		}
		return types.InvokeResult{Output: result.Body, ExitCode: exitCode}, nil
	}

	scheduler := cron.NewScheduler(cron.Config{
		TickInterval: cfg.Cron.TickInterval,
		HistoryCap:   cfg.Cron.HistoryCap,
	}, invoker, store, broker, nil)
	scheduler.Start()
	defer scheduler.Stop()

	server := api.NewServer(api.Config{
		ListenAddr: cfg.API.ListenAddr,
		Debug:      cfg.API.Debug,
	}, sup, scheduler, ctrl, broker)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-errCh:
		if err != nil {
			return trace.Wrap(err)
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("api shutdown failed")
	}
	return nil
}
