package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/rcliao/loopmem/internal/loop"
	"github.com/rcliao/loopmem/internal/metrics"
)

func init() {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the generation loop",
		Long: "Generate continuously, feeding every output back into memory. Stops on Ctrl+C, " +
			"the cost cap or the iteration limit.",
		Args: cobra.NoArgs,
		Run:  runRun,
	}

	cmd.Flags().IntP("max-iterations", "n", 0, "Stop after N iterations (0: no limit)")
	cmd.Flags().Float64("cost-cap", 0, "Stop once estimated cost reaches this many dollars")
	cmd.Flags().String("metrics-addr", "", "Serve Prometheus metrics on this address, e.g. :9091")
	cmd.Flags().String("stream-log", "", "Append generated text to this file")

	RootCmd.AddCommand(cmd)
}

func runRun(cmd *cobra.Command, args []string) {
	extra := map[string]interface{}{}
	if cmd.Flags().Changed("max-iterations") {
		v, _ := cmd.Flags().GetInt("max-iterations")
		extra["loop.max_iterations"] = v
	}
	if cmd.Flags().Changed("cost-cap") {
		v, _ := cmd.Flags().GetFloat64("cost-cap")
		extra["loop.cost_cap"] = v
	}
	if cmd.Flags().Changed("metrics-addr") {
		v, _ := cmd.Flags().GetString("metrics-addr")
		extra["metrics.addr"] = v
	}
	if cmd.Flags().Changed("stream-log") {
		v, _ := cmd.Flags().GetString("stream-log")
		extra["loop.stream_log"] = v
	}

	a, err := openApp(extra)
	if err != nil {
		exitErr("open", err)
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	mcfg := metrics.DefaultConfig()
	mcfg.Enabled = a.cfg.Metrics.Addr != ""
	mx := metrics.NewManager(mcfg)
	if mx.Enabled() {
		go func() {
			if err := mx.Serve(ctx, a.cfg.Metrics.Addr); err != nil {
				a.logger.Error("metrics listener stopped", "error", err)
			}
		}()
	}

	runID := uuid.NewString()
	mgr, err := a.newManager(ctx, runID, mx)
	if err != nil {
		exitErr("restore memory", err)
	}

	lcfg := a.cfg.Loop
	lcfg.RunID = runID
	l := loop.New(a.client, mgr, lcfg, a.logger).WithRecorder(a.db).WithMetrics(mx)

	sum, runErr := l.Run(ctx)

	b, _ := json.MarshalIndent(sum, "", "  ")
	fmt.Println(string(b))
	if runErr != nil {
		exitErr("run", runErr)
	}
}
