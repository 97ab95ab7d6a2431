package common

import (
	"fmt"
	"strings"
	"time"
)

// --------------------------------------------------------------------------
// Harness configuration struct
// --------------------------------------------------------------------------

// StorageBackend names a storage port implementation
type StorageBackend string

const (
	BackendMemory StorageBackend = "memory"
	BackendSQLite StorageBackend = "sqlite"
	BackendRaft   StorageBackend = "raft"
)

// ChaosConfig configures the fault injecting storage decorator.
// The zero value disables fault injection.
type ChaosConfig struct {
	FailRate   float64       // probability of a transient error per call
	LatencyMax time.Duration // upper bound of an added random latency per call
	StallAfter int           // block every insert after this many successful inserts (0 = never)
	FatalAfter int           // fail every call with a fatal error after this many successful inserts (0 = never)
}

// Enabled reports whether any fault is configured
func (c ChaosConfig) Enabled() bool {
	return c.FailRate > 0 || c.LatencyMax > 0 || c.StallAfter > 0 || c.FatalAfter > 0
}

// HarnessConfig holds all configuration parameters of a hammer run
type HarnessConfig struct {
	// worker pool
	Workers        int           // initial number of insert workers
	InsertDelayMin time.Duration // lower bound of the pause between two inserts of one worker
	InsertDelayMax time.Duration // upper bound of the pause between two inserts of one worker

	// periodic tasks
	ReportInterval     time.Duration
	DeleteInterval     time.Duration
	CheckpointInterval time.Duration // 0 disables the checkpoint task
	Jitter             float64       // max fraction an interval is shifted by (0 <= Jitter < 1)

	// record lifecycle and liveness
	Retention      time.Duration // age at which a record becomes eligible for deletion
	StaleThreshold time.Duration // age of the last success at which a worker is reported

	// run control
	Duration        time.Duration // 0 = run until stopped
	ShutdownTimeout time.Duration // how long teardown waits for tasks before it closes the store under them (0 = forever)
	ReportStoreSize bool          // whether the report task also asks the store for its record count

	// storage
	Storage  StorageBackend
	Location string
	KeepData bool // do not clear data of a previous run on startup

	// raft backend
	RaftAddress        string
	RaftRTTMillisecond uint64

	// fault injection
	Chaos ChaosConfig

	// outputs
	MetricsEndpoint string // empty = no metrics endpoint
	SummaryPath     string // empty = no summary file
	LogLevel        string
}

// DefaultHarnessConfig returns the defaults used by the run command
func DefaultHarnessConfig() HarnessConfig {
	return HarnessConfig{
		Workers:            16,
		InsertDelayMin:     1 * time.Millisecond,
		InsertDelayMax:     5 * time.Millisecond,
		ReportInterval:     1 * time.Second,
		DeleteInterval:     3 * time.Second,
		CheckpointInterval: 0,
		Jitter:             0.1,
		Retention:          5 * time.Second,
		StaleThreshold:     5 * time.Second,
		ShutdownTimeout:    10 * time.Second,
		Storage:            BackendMemory,
		Location:           "dhammer-data",
		RaftAddress:        "localhost:63001",
		RaftRTTMillisecond: 100,
		LogLevel:           "info",
	}
}

// Validate checks the configuration for values the harness can not run with
func (c *HarnessConfig) Validate() error {
	switch {
	case c.Workers < 0:
		return fmt.Errorf("workers must not be negative (got %d)", c.Workers)
	case c.InsertDelayMin < 0:
		return fmt.Errorf("insert delay must not be negative (got %s)", c.InsertDelayMin)
	case c.InsertDelayMin > c.InsertDelayMax:
		return fmt.Errorf("insert delay min (%s) is larger than max (%s)", c.InsertDelayMin, c.InsertDelayMax)
	case c.ReportInterval <= 0:
		return fmt.Errorf("report interval must be positive (got %s)", c.ReportInterval)
	case c.DeleteInterval <= 0:
		return fmt.Errorf("delete interval must be positive (got %s)", c.DeleteInterval)
	case c.CheckpointInterval < 0:
		return fmt.Errorf("checkpoint interval must not be negative (got %s)", c.CheckpointInterval)
	case c.Jitter < 0 || c.Jitter >= 1:
		return fmt.Errorf("jitter must be in [0, 1) (got %v)", c.Jitter)
	case c.Retention <= 0:
		return fmt.Errorf("retention must be positive (got %s)", c.Retention)
	case c.StaleThreshold <= 0:
		return fmt.Errorf("stale threshold must be positive (got %s)", c.StaleThreshold)
	case c.Duration < 0:
		return fmt.Errorf("duration must not be negative (got %s)", c.Duration)
	case c.ShutdownTimeout < 0:
		return fmt.Errorf("shutdown timeout must not be negative (got %s)", c.ShutdownTimeout)
	case c.Chaos.FailRate < 0 || c.Chaos.FailRate > 1:
		return fmt.Errorf("chaos fail rate must be in [0, 1] (got %v)", c.Chaos.FailRate)
	}

	switch c.Storage {
	case BackendMemory, BackendSQLite, BackendRaft:
	default:
		return fmt.Errorf("invalid storage backend %q (expected one of: memory, sqlite, raft)", c.Storage)
	}

	if c.Storage == BackendRaft && c.RaftAddress == "" {
		return fmt.Errorf("the raft backend requires a raft address")
	}
	return nil
}

// String returns a formatted string representation of the configuration
func (c *HarnessConfig) String() string {
	var sb strings.Builder

	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	addSection("Workers")
	addField("Initial Insert Workers", fmt.Sprintf("%d", c.Workers))
	addField("Insert Delay", fmt.Sprintf("%s - %s", c.InsertDelayMin, c.InsertDelayMax))

	addSection("Periodic Tasks")
	addField("Report Interval", c.ReportInterval.String())
	addField("Delete Interval", c.DeleteInterval.String())
	if c.CheckpointInterval > 0 {
		addField("Checkpoint Interval", c.CheckpointInterval.String())
	} else {
		addField("Checkpoint Interval", "disabled")
	}
	addField("Jitter", fmt.Sprintf("%.0f%%", c.Jitter*100))

	addSection("Records")
	addField("Retention", c.Retention.String())
	addField("Stale Threshold", c.StaleThreshold.String())
	if c.Duration > 0 {
		addField("Run Duration", c.Duration.String())
	} else {
		addField("Run Duration", "until stopped")
	}
	addField("Shutdown Timeout", c.ShutdownTimeout.String())

	addSection("Storage")
	addField("Backend", string(c.Storage))
	addField("Location", c.Location)
	addField("Keep Data", fmt.Sprintf("%t", c.KeepData))
	if c.Storage == BackendRaft {
		addField("Raft Address", c.RaftAddress)
		addField("Round Trip Time (ms)", fmt.Sprintf("%d ms", c.RaftRTTMillisecond))
	}

	if c.Chaos.Enabled() {
		addSection("Fault Injection")
		addField("Fail Rate", fmt.Sprintf("%.2f%%", c.Chaos.FailRate*100))
		addField("Latency Max", c.Chaos.LatencyMax.String())
		addField("Stall After", fmt.Sprintf("%d inserts", c.Chaos.StallAfter))
		addField("Fatal After", fmt.Sprintf("%d inserts", c.Chaos.FatalAfter))
	}

	addSection("Outputs")
	if c.MetricsEndpoint != "" {
		addField("Metrics Endpoint", c.MetricsEndpoint)
	}
	if c.SummaryPath != "" {
		addField("Summary", c.SummaryPath)
	}
	addField("Log Level", c.LogLevel)

	return sb.String()
}
