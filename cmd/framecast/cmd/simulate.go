package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/jmylchreest/framecast/internal/controller"
	"github.com/jmylchreest/framecast/internal/observability"
	"github.com/jmylchreest/framecast/internal/session"
	"github.com/jmylchreest/framecast/internal/simulate"
	"github.com/jmylchreest/framecast/internal/telemetry"
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Play a synthetic capture scenario through the engine",
	Long: `Play a scripted capture scenario through the adaptive controllers and
print how each window's pipeline evolved.

A scenario is a YAML file listing windows, their capture size and frame
count, and steps that change CPU load, network conditions, window size or
video mode at given frames. Without --scenario the built-in scenario runs.

Examples:
  framecast simulate
  framecast simulate --scenario testdata/shrink.yaml --json`,
	RunE: runSimulate,
}

func init() {
	rootCmd.AddCommand(simulateCmd)

	simulateCmd.Flags().String("scenario", "default", `scenario file, or "default"`)
	simulateCmd.Flags().Bool("realtime", false, "pace frames at the scenario frame interval")
	simulateCmd.Flags().Int64("seed", 0, "override the scenario seed")
	simulateCmd.Flags().Bool("json", false, "print the report as JSON")
	simulateCmd.Flags().String("catalog", "", "capability catalog file (default: built-in catalog)")
}

func runSimulate(cmd *cobra.Command, _ []string) (err error) {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	flags := cmd.Flags()
	if flags.Changed("catalog") {
		cfg.Capabilities.CatalogPath, _ = flags.GetString("catalog")
	}

	path, _ := flags.GetString("scenario")
	scenario, err := loadScenario(path)
	if err != nil {
		return err
	}
	if flags.Changed("realtime") {
		scenario.Realtime, _ = flags.GetBool("realtime")
	}
	if flags.Changed("seed") {
		scenario.Seed, _ = flags.GetInt64("seed")
	}
	cost := simulate.DefaultCostModel()
	if scenario.Cost != nil {
		cost = *scenario.Cost
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := slog.Default()
	defer observability.TimedOperationWithError(ctx, logger, "simulate "+scenario.Name, &err)()

	eng, err := newEngine(cfg, logger)
	if err != nil {
		return err
	}

	exec := simulate.NewExecutor(cost, scenario.Seed, logger).WithRealtime(scenario.Realtime)
	recorder := simulate.NewRecorder()
	manager, err := eng.newManager(cfg, session.Deps{
		Executor: exec,
		Observer: controller.Observers{controller.NewLogObserver(logger), controller.MetricsObserver{}, recorder},
		CPU:      telemetry.StaticCPU(0),
		Logger:   logger,
	})
	if err != nil {
		return fmt.Errorf("creating session manager: %w", err)
	}
	defer func() { _ = manager.Close() }()

	report, err := simulate.NewRunner(manager, exec, recorder, logger).Run(ctx, scenario)
	if err != nil {
		return fmt.Errorf("running scenario: %w", err)
	}

	out := cmd.OutOrStdout()
	if asJSON, _ := flags.GetBool("json"); asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}
	return writeReport(out, report)
}

func writeReport(w io.Writer, report *simulate.Report) error {
	name := report.Scenario
	if name == "" {
		name = "scenario"
	}
	fmt.Fprintf(w, "%s: %d windows in %s\n", name, len(report.Windows), report.Elapsed.Round(time.Millisecond))

	for _, win := range report.Windows {
		st := win.Status
		fmt.Fprintf(w, "\n%s  %s %s  state=%s  frames=%d dropped=%d errors=%d  output=%s\n",
			win.ID, st.Format, st.Dimensions, st.State,
			st.Encode.Frames, st.Encode.Dropped, st.Encode.Errors,
			humanize.IBytes(st.Encode.TotalBytes),
		)
		fmt.Fprintf(w, "  final pipeline %s (quality %.1f, speed %.1f, pressure %+.2f)\n",
			st.Pipeline, st.Quality, st.Speed, st.Pressure)

		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "  REASON\tRESULT\tFROM\tTO\tPRESSURE")
		for _, ev := range win.Reselections {
			to := ev.NewName
			if ev.Error != "" {
				to = fmt.Sprintf("%s (%s)", to, ev.Error)
			}
			fmt.Fprintf(tw, "  %s\t%s\t%s\t%s\t%+.2f\n", ev.Reason, ev.Result, ev.OldName, to, ev.Pressure)
		}
		if err := tw.Flush(); err != nil {
			return err
		}
	}
	fmt.Fprintln(w, strings.Repeat("-", 60))
	return nil
}
