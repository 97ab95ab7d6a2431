package harness

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/ValentinKolb/dHammer/lib/util"
	"gopkg.in/yaml.v3"
)

// Summary is the result of a run, written to disk with WriteFile
type Summary struct {
	RunID    string        `yaml:"run_id"`
	Backend  string        `yaml:"backend"`
	Started  time.Time     `yaml:"started"`
	Duration time.Duration `yaml:"duration"`

	InitialWorkers int `yaml:"initial_workers"`
	SpawnedWorkers int `yaml:"spawned_workers"` // insert workers started during the run, including the initial ones
	FailedWorkers  int `yaml:"failed_workers"`  // tasks that terminated on an unrecoverable error

	Inserted   uint64            `yaml:"inserted"`
	Deleted    uint64            `yaml:"deleted"`
	Errors     map[string]uint64 `yaml:"errors,omitempty"`
	InsertRate float64           `yaml:"insert_rate"` // mean inserts per second
	DeleteRate float64           `yaml:"delete_rate"` // mean deleted records per second

	InsertLatency LatencySummary         `yaml:"insert_latency"`
	PerWorker     util.DistributionStats `yaml:"inserts_per_worker"`
	StaleAtEnd    int                    `yaml:"stale_at_end"`

	Retention      time.Duration `yaml:"retention"`
	DeleteInterval time.Duration `yaml:"delete_interval"`
	StaleThreshold time.Duration `yaml:"stale_threshold"`
}

// summary assembles the Summary from the final status
func (h *harness) summary(now time.Time, final Status) Summary {
	s := Summary{
		RunID:          h.runID,
		Backend:        h.backend,
		Started:        h.started,
		Duration:       now.Sub(h.started),
		InitialWorkers: h.cfg.Workers,
		Inserted:       final.Stats.Inserted,
		Deleted:        final.Stats.Deleted,
		InsertLatency:  h.metrics.InsertLatency(),
		StaleAtEnd:     final.Stale.Count,
		Retention:      h.cfg.Retention,
		DeleteInterval: h.cfg.DeleteInterval,
		StaleThreshold: h.cfg.StaleThreshold,
	}

	if len(final.Stats.Errors) > 0 {
		s.Errors = make(map[string]uint64, len(final.Stats.Errors))
		for op, n := range final.Stats.Errors {
			s.Errors[string(op)] = n
		}
	}

	if secs := s.Duration.Seconds(); secs > 0 {
		s.InsertRate = float64(s.Inserted) / secs
		s.DeleteRate = float64(s.Deleted) / secs
	}

	var perWorker []float64
	for _, w := range h.pool.Handles() {
		if w.State() == StateFailed {
			s.FailedWorkers++
		}
		if w.Kind == KindInsert {
			s.SpawnedWorkers++
			perWorker = append(perWorker, float64(w.Inserted()))
		}
	}
	if len(perWorker) > 0 {
		s.PerWorker = util.NewDistributionStats(perWorker)
	}
	return s
}

// WriteFile writes the summary to path. The format follows the extension:
// .yaml / .yml for YAML, .csv for a header row plus one value row.
func (s Summary) WriteFile(path string) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return s.writeYAML(path)
	case ".csv":
		return s.writeCSV(path)
	default:
		return fmt.Errorf("unsupported summary format %q (expected .yaml, .yml or .csv)", filepath.Ext(path))
	}
}

func (s Summary) writeYAML(path string) error {
	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to encode summary: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write summary: %w", err)
	}
	return nil
}

func (s Summary) writeCSV(path string) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %w", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)

	header := []string{
		"RunID", "Backend", "Started", "Duration",
		"InitialWorkers", "SpawnedWorkers", "FailedWorkers",
		"Inserted", "Deleted", "Errors", "InsertRate", "DeleteRate",
		"InsertLatencyMean", "InsertLatencyP50", "InsertLatencyP99", "InsertLatencyMax",
		"PerWorkerMin", "PerWorkerMax", "PerWorkerMean", "PerWorkerStdDev",
		"StaleAtEnd", "Retention", "DeleteInterval", "StaleThreshold",
	}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}

	var errorsTotal uint64
	for _, n := range s.Errors {
		errorsTotal += n
	}

	row := []string{
		s.RunID,
		s.Backend,
		s.Started.Format(time.RFC3339),
		s.Duration.String(),
		strconv.Itoa(s.InitialWorkers),
		strconv.Itoa(s.SpawnedWorkers),
		strconv.Itoa(s.FailedWorkers),
		strconv.FormatUint(s.Inserted, 10),
		strconv.FormatUint(s.Deleted, 10),
		strconv.FormatUint(errorsTotal, 10),
		fmt.Sprintf("%.2f", s.InsertRate),
		fmt.Sprintf("%.2f", s.DeleteRate),
		s.InsertLatency.Mean.String(),
		s.InsertLatency.P50.String(),
		s.InsertLatency.P99.String(),
		s.InsertLatency.Max.String(),
		fmt.Sprintf("%.0f", s.PerWorker.Min),
		fmt.Sprintf("%.0f", s.PerWorker.Max),
		fmt.Sprintf("%.2f", s.PerWorker.Mean),
		fmt.Sprintf("%.2f", s.PerWorker.StdDeviation),
		strconv.Itoa(s.StaleAtEnd),
		s.Retention.String(),
		s.DeleteInterval.String(),
		s.StaleThreshold.String(),
	}
	if err := writer.Write(row); err != nil {
		return fmt.Errorf("failed to write CSV row: %w", err)
	}

	writer.Flush()
	return writer.Error()
}
