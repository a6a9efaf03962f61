package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/jmylchreest/framecast/internal/capability"
	"github.com/jmylchreest/framecast/internal/controller"
	internalhttp "github.com/jmylchreest/framecast/internal/http"
	"github.com/jmylchreest/framecast/internal/http/handlers"
	"github.com/jmylchreest/framecast/internal/observability"
	"github.com/jmylchreest/framecast/internal/session"
	"github.com/jmylchreest/framecast/internal/simulate"
	"github.com/jmylchreest/framecast/internal/telemetry"
	"github.com/jmylchreest/framecast/internal/version"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the framecast engine and status API",
	Long: `Start the selection engine and its HTTP status API.

The server provides:
- Window status and video-mode control under /api/v1/windows
- The capability catalog and ad-hoc rankings under /api/v1
- Health at /health and prometheus metrics at /metrics
- OpenAPI documentation at /docs

Encoding is simulated. Pass --scenario to drive windows with a synthetic
capture workload ("default" plays the built-in scenario).`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("host", "127.0.0.1", "Host to bind to")
	serveCmd.Flags().Int("port", 8090, "Port to listen on")
	serveCmd.Flags().String("catalog", "", "Capability catalog file (default: built-in catalog)")
	serveCmd.Flags().Bool("watch", false, "Reload the catalog file when it changes")
	serveCmd.Flags().String("scenario", "", `Simulated capture scenario file, or "default"`)

	mustBindPFlag("server.host", serveCmd.Flags().Lookup("host"))
	mustBindPFlag("server.port", serveCmd.Flags().Lookup("port"))
	mustBindPFlag("capabilities.catalog_path", serveCmd.Flags().Lookup("catalog"))
	mustBindPFlag("capabilities.watch", serveCmd.Flags().Lookup("watch"))
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := slog.Default()

	var scenario *simulate.Scenario
	if path, _ := cmd.Flags().GetString("scenario"); path != "" {
		if scenario, err = loadScenario(path); err != nil {
			return err
		}
		scenario.Realtime = true
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	eng, err := newEngine(cfg, logger)
	if err != nil {
		return err
	}

	host := telemetry.NewHostSampler(cfg.Telemetry.CPUSampleInterval, logger)
	host.OnSample(func(s telemetry.HostStats) {
		observability.RecordHostCPU(s.CPUPercent)
	})

	exec := simulate.NewExecutor(simulate.DefaultCostModel(), 0, logger).WithRealtime(true)
	observers := controller.Observers{controller.NewLogObserver(logger), controller.MetricsObserver{}}
	var recorder *simulate.Recorder
	if scenario != nil {
		recorder = simulate.NewRecorder()
		observers = append(observers, recorder)
	}

	manager, err := eng.newManager(cfg, session.Deps{
		Executor: exec,
		Observer: observers,
		CPU:      host,
		Logger:   logger,
	})
	if err != nil {
		return fmt.Errorf("creating session manager: %w", err)
	}
	defer func() { _ = manager.Close() }()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return host.Run(gctx) })
	g.Go(func() error { return manager.Run(gctx) })

	if path := cfg.Capabilities.CatalogPath; path != "" && cfg.Capabilities.Watch {
		watcher := capability.NewCatalogWatcher(path, eng.registry, logger).WithDebounce(cfg.Capabilities.WatchDebounce)
		g.Go(func() error { return watcher.Run(gctx) })
	}

	if cfg.Server.Enabled {
		server := internalhttp.NewServer(cfg.Server, logger, version.Short())
		api := server.API()
		handlers.NewHealthHandler(version.Short(), manager, host).Register(api)
		handlers.NewWindowHandler(manager).Register(api)
		handlers.NewCapabilityHandler(eng.registry).Register(api)
		handlers.NewRankHandler(eng.selector).Register(api)
		g.Go(func() error { return server.ListenAndServe(gctx) })
	}

	if scenario != nil {
		runner := simulate.NewRunner(manager, exec, recorder, logger)
		g.Go(func() error {
			report, err := runner.Run(gctx, scenario)
			if err != nil {
				if errors.Is(err, context.Canceled) {
					return nil
				}
				return fmt.Errorf("running scenario: %w", err)
			}
			for _, w := range report.Windows {
				logger.Info("simulated window finished",
					slog.String("window_id", w.ID),
					slog.String("pipeline", w.Status.Pipeline),
					slog.Int("frames", w.Submitted),
					slog.Int("reselections", len(w.Reselections)),
				)
			}
			return nil
		})
	}

	logger.Info("framecast started",
		slog.String("version", version.Short()),
		slog.String("session_id", manager.ID().String()),
		slog.Uint64("generation", eng.registry.Generation()),
		slog.Bool("api", cfg.Server.Enabled),
	)

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("framecast stopped")
	return nil
}

// loadScenario reads a scenario file; "default" is the built-in scenario.
func loadScenario(path string) (*simulate.Scenario, error) {
	if path == "default" {
		return simulate.DefaultScenario(), nil
	}
	sc, err := simulate.LoadScenario(path)
	if err != nil {
		return nil, fmt.Errorf("loading scenario: %w", err)
	}
	return sc, nil
}
