package run

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	cmdUtil "github.com/ValentinKolb/dHammer/cmd/util"
	"github.com/ValentinKolb/dHammer/lib/common"
	"github.com/ValentinKolb/dHammer/lib/harness"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
)

var (
	runCmdConfig = common.DefaultHarnessConfig()
	log          = logger.GetLogger("cli")

	// RunCmd starts a hammer run
	RunCmd = &cobra.Command{
		Use:   "run",
		Short: "Hammer a storage backend with concurrent inserts and deletes",
		Long: `Hammer a storage backend with many concurrent insert workers, a periodic delete task and an optional checkpoint task, while reporting throughput and workers that stopped making progress.

While running, type one space per additional insert worker and press Enter to spawn them. Press Enter on an empty line (or type q) to stop.

All flags can be set via environment variables in the format DHAMMER_<flag> (e.g. DHAMMER_DELETE_INTERVAL=5s) or in a .env / .env.local file.`,
		PreRunE: processConfig,
		RunE:    run,
	}
)

func init() {
	// initialize viper
	cobra.OnInitialize(cmdUtil.InitConfig)

	defaults := common.DefaultHarnessConfig()
	flags := RunCmd.Flags()

	// workers
	key := "workers"
	flags.Int(key, defaults.Workers, cmdUtil.WrapString("Number of insert workers started with the run"))
	key = "insert-delay-min"
	flags.Duration(key, defaults.InsertDelayMin, cmdUtil.WrapString("Lower bound of the random pause between two inserts of one worker"))
	key = "insert-delay-max"
	flags.Duration(key, defaults.InsertDelayMax, cmdUtil.WrapString("Upper bound of the random pause between two inserts of one worker"))

	// periodic tasks
	key = "report-interval"
	flags.Duration(key, defaults.ReportInterval, cmdUtil.WrapString("How often the status is rendered"))
	key = "delete-interval"
	flags.Duration(key, defaults.DeleteInterval, cmdUtil.WrapString("How often records older than the retention window are deleted"))
	key = "checkpoint-interval"
	flags.Duration(key, defaults.CheckpointInterval, cmdUtil.WrapString("How often the store is asked for a checkpoint (0 disables the checkpoint task)"))
	key = "jitter"
	flags.Float64(key, defaults.Jitter, cmdUtil.WrapString("Maximum fraction by which the periodic intervals are randomly shifted (0 <= jitter < 1)"))

	// records and liveness
	key = "retention"
	flags.Duration(key, defaults.Retention, cmdUtil.WrapString("Age at which a record becomes eligible for deletion"))
	key = "stale-threshold"
	flags.Duration(key, defaults.StaleThreshold, cmdUtil.WrapString("Time without a successful operation after which a worker is reported as stale"))
	key = "duration"
	flags.Duration(key, defaults.Duration, cmdUtil.WrapString("Stop the run after this duration (0 runs until stopped)"))
	key = "shutdown-timeout"
	flags.Duration(key, defaults.ShutdownTimeout, cmdUtil.WrapString("How long shutdown waits for hanging workers before it closes the store under them (0 waits forever)"))
	key = "report-store-size"
	flags.Bool(key, defaults.ReportStoreSize, cmdUtil.WrapString("Also ask the store for its record count on every report"))

	// storage
	key = "storage"
	flags.String(key, string(defaults.Storage), cmdUtil.WrapString("Storage backend to hammer (memory, sqlite, raft)"))
	key = "location"
	flags.String(key, defaults.Location, cmdUtil.WrapString("Directory the storage backend keeps its data in"))
	key = "keep-data"
	flags.Bool(key, defaults.KeepData, cmdUtil.WrapString("Do not remove the data of a previous run on startup"))
	key = "raft-address"
	flags.String(key, defaults.RaftAddress, cmdUtil.WrapString("(raft backend) Address of the local raft node host"))
	key = "raft-rtt-millisecond"
	flags.Uint64(key, defaults.RaftRTTMillisecond, cmdUtil.WrapString("(raft backend) Average round trip time between node hosts in milliseconds. Election and heartbeat timeouts are derived from this value"))

	// fault injection
	key = "chaos-fail-rate"
	flags.Float64(key, 0, cmdUtil.WrapString("Probability that a store call fails with an injected transient error"))
	key = "chaos-latency-max"
	flags.Duration(key, 0, cmdUtil.WrapString("Upper bound of a random latency added to every store call"))
	key = "chaos-stall-after"
	flags.Int(key, 0, cmdUtil.WrapString("Block every insert after this many successful inserts (0 = never)"))
	key = "chaos-fatal-after"
	flags.Int(key, 0, cmdUtil.WrapString("Fail every store call fatally after this many successful inserts (0 = never)"))

	// outputs
	key = "metrics-endpoint"
	flags.String(key, "", cmdUtil.WrapString("Address to serve Prometheus metrics on (e.g. :9100, empty disables the endpoint)"))
	key = "summary"
	flags.String(key, "", cmdUtil.WrapString("File to write the run summary to (.yaml, .yml or .csv)"))
	key = "log-level"
	flags.String(key, defaults.LogLevel, cmdUtil.WrapString("LogLevel is the level at which logs will be output (debug, info, warn, error)"))
}

// processConfig reads the configuration from the command line flags and environment variables
func processConfig(cmd *cobra.Command, _ []string) error {
	// bind the flags to viper
	if err := cmdUtil.BindCommandFlags(cmd); err != nil {
		return err
	}

	runCmdConfig = cmdUtil.GetHarnessConfig()
	if err := runCmdConfig.Validate(); err != nil {
		return err
	}

	return common.InitLoggers(runCmdConfig.LogLevel)
}

// run executes the hammer run until it is stopped
func run(cmd *cobra.Command, _ []string) error {
	cmd.SilenceUsage = true

	backend, err := cmdUtil.GetBackend(runCmdConfig)
	if err != nil {
		return err
	}

	fmt.Println("dHammer - concurrent storage load generator")
	fmt.Println(runCmdConfig.String())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	spawn, stopRun := ReadControls(ctx, os.Stdin)

	summary, err := harness.Run(ctx, runCmdConfig, backend, harness.Controls{
		Spawn:       spawn,
		Stop:        stopRun,
		Status:      os.Stdout,
		ClearScreen: isTerminal(os.Stdout),
	})
	if err != nil {
		return err
	}

	fmt.Printf("\n%d records inserted and %d deleted in %s (%.0f inserts/s, %d of %d insert workers failed)\n",
		summary.Inserted, summary.Deleted, summary.Duration.Round(time.Millisecond), summary.InsertRate, summary.FailedWorkers, summary.SpawnedWorkers)

	if runCmdConfig.SummaryPath != "" {
		if err := summary.WriteFile(runCmdConfig.SummaryPath); err != nil {
			return err
		}
		log.Infof("summary written to %s", runCmdConfig.SummaryPath)
	}
	return nil
}

// isTerminal reports whether f is an interactive terminal (not a file or pipe)
func isTerminal(f *os.File) bool {
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
