package util

import (
	"fmt"
	"strings"

	"github.com/ValentinKolb/dHammer/lib/common"
	"github.com/ValentinKolb/dHammer/lib/storage"
	"github.com/ValentinKolb/dHammer/lib/storage/chaos"
	"github.com/ValentinKolb/dHammer/lib/storage/memstore"
	"github.com/ValentinKolb/dHammer/lib/storage/raftstore"
	"github.com/ValentinKolb/dHammer/lib/storage/sqlstore"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	// Wrap is the number of characters to Wrap the help text at
	Wrap int = 50

	// EnvPrefix is the prefix of all environment variables (DHAMMER_<FLAG>)
	EnvPrefix = "dhammer"
)

// WrapString wraps a string at Wrap characters
func WrapString(text string) string {
	var wrappedLines []string
	var currentLine strings.Builder
	lineWidth := 0

	for _, word := range strings.Fields(text) {
		wordWidth := len(word)

		if lineWidth > 0 && lineWidth+1+wordWidth > Wrap {
			wrappedLines = append(wrappedLines, currentLine.String())
			currentLine.Reset()
			lineWidth = 0
		}

		if lineWidth > 0 {
			currentLine.WriteString(" ")
			lineWidth++
		}

		currentLine.WriteString(word)
		lineWidth += wordWidth
	}

	if currentLine.Len() > 0 {
		wrappedLines = append(wrappedLines, currentLine.String())
	}

	return strings.Join(wrappedLines, "\n")
}

// InitConfig loads .env files and makes viper read DHAMMER_* environment variables
func InitConfig() {
	// load env files
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	// initialize viper
	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv() // read in environment variables that match
}

// BindCommandFlags binds a command's flags to viper
func BindCommandFlags(cmd *cobra.Command) error {
	return viper.BindPFlags(cmd.Flags())
}

// GetHarnessConfig reads the harness configuration from viper
func GetHarnessConfig() common.HarnessConfig {
	return common.HarnessConfig{
		Workers:            viper.GetInt("workers"),
		InsertDelayMin:     viper.GetDuration("insert-delay-min"),
		InsertDelayMax:     viper.GetDuration("insert-delay-max"),
		ReportInterval:     viper.GetDuration("report-interval"),
		DeleteInterval:     viper.GetDuration("delete-interval"),
		CheckpointInterval: viper.GetDuration("checkpoint-interval"),
		Jitter:             viper.GetFloat64("jitter"),
		Retention:          viper.GetDuration("retention"),
		StaleThreshold:     viper.GetDuration("stale-threshold"),
		Duration:           viper.GetDuration("duration"),
		ShutdownTimeout:    viper.GetDuration("shutdown-timeout"),
		ReportStoreSize:    viper.GetBool("report-store-size"),
		Storage:            common.StorageBackend(strings.ToLower(viper.GetString("storage"))),
		Location:           viper.GetString("location"),
		KeepData:           viper.GetBool("keep-data"),
		RaftAddress:        viper.GetString("raft-address"),
		RaftRTTMillisecond: viper.GetUint64("raft-rtt-millisecond"),
		Chaos: common.ChaosConfig{
			FailRate:   viper.GetFloat64("chaos-fail-rate"),
			LatencyMax: viper.GetDuration("chaos-latency-max"),
			StallAfter: viper.GetInt("chaos-stall-after"),
			FatalAfter: viper.GetInt("chaos-fatal-after"),
		},
		MetricsEndpoint: viper.GetString("metrics-endpoint"),
		SummaryPath:     viper.GetString("summary"),
		LogLevel:        viper.GetString("log-level"),
	}
}

// GetBackend creates the storage backend selected by the configuration.
// The backend is wrapped into the chaos decorator if any fault is configured.
func GetBackend(cfg common.HarnessConfig) (storage.Backend, error) {
	var b storage.Backend

	switch cfg.Storage {
	case common.BackendMemory:
		b = memstore.NewBackend(cfg.Location, nil)
	case common.BackendSQLite:
		b = sqlstore.NewBackend(cfg.Location)
	case common.BackendRaft:
		opts := raftstore.DefaultOptions()
		opts.Address = cfg.RaftAddress
		opts.RTTMillisecond = cfg.RaftRTTMillisecond
		b = raftstore.NewBackend(cfg.Location, opts)
	default:
		return storage.Backend{}, fmt.Errorf("invalid storage backend %q (expected one of: memory, sqlite, raft)", cfg.Storage)
	}

	if cfg.Chaos.Enabled() {
		b = chaos.WrapBackend(b, cfg.Chaos)
	}
	return b, nil
}
