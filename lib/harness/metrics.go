package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	vm "github.com/VictoriaMetrics/metrics"
	gometrics "github.com/rcrowley/go-metrics"
)

// --------------------------------------------------------------------------
// Metrics
// --------------------------------------------------------------------------

// Metrics holds the instrumentation of one run.
// Prometheus series live in a private VictoriaMetrics set (so parallel runs in tests
// do not collide), the EWMA rates printed by the report come from go-metrics meters.
type Metrics struct {
	set *vm.Set

	inserted      *vm.Counter
	deleted       *vm.Counter
	insertLatency *vm.Histogram

	insertRate  gometrics.Meter
	deleteRate  gometrics.Meter
	insertTimer gometrics.Timer

	stopped atomic.Bool
}

// Rates are the throughput figures shown in the report
type Rates struct {
	Insert1  float64 // one minute EWMA of inserts per second
	InsertMn float64 // mean inserts per second since the start
	Delete1  float64 // one minute EWMA of deleted records per second
	DeleteMn float64 // mean deleted records per second since the start
}

// LatencySummary describes the latency of successful inserts
type LatencySummary struct {
	Mean time.Duration `yaml:"mean"`
	P50  time.Duration `yaml:"p50"`
	P99  time.Duration `yaml:"p99"`
	Max  time.Duration `yaml:"max"`
}

// NewMetrics creates the instruments of a run. Stop must be called when the run ends.
func NewMetrics() *Metrics {
	set := vm.NewSet()
	return &Metrics{
		set:           set,
		inserted:      set.NewCounter("dhammer_records_inserted_total"),
		deleted:       set.NewCounter("dhammer_records_deleted_total"),
		insertLatency: set.NewHistogram("dhammer_insert_duration_seconds"),
		insertRate:    gometrics.NewMeter(),
		deleteRate:    gometrics.NewMeter(),
		insertTimer:   gometrics.NewTimer(),
	}
}

// RegisterGauges exposes the number of active insert workers and stale workers.
// The callbacks are invoked on every scrape.
func (m *Metrics) RegisterGauges(active func() int, stale func() int) {
	m.set.NewGauge("dhammer_active_insert_workers", func() float64 { return float64(active()) })
	m.set.NewGauge("dhammer_stale_workers", func() float64 { return float64(stale()) })
}

func (m *Metrics) recordInserted(n int) {
	m.inserted.Add(n)
	m.insertRate.Mark(int64(n))
}

func (m *Metrics) recordDeleted(n int) {
	m.deleted.Add(n)
	m.deleteRate.Mark(int64(n))
}

func (m *Metrics) recordError(op Op) {
	m.set.GetOrCreateCounter(fmt.Sprintf(`dhammer_operation_errors_total{op=%q}`, op)).Inc()
}

// ObserveInsert records the latency of one successful insert
func (m *Metrics) ObserveInsert(d time.Duration) {
	m.insertLatency.Update(d.Seconds())
	m.insertTimer.Update(d)
}

// Rates returns the current throughput
func (m *Metrics) Rates() Rates {
	return Rates{
		Insert1:  m.insertRate.Rate1(),
		InsertMn: m.insertRate.RateMean(),
		Delete1:  m.deleteRate.Rate1(),
		DeleteMn: m.deleteRate.RateMean(),
	}
}

// InsertLatency summarizes the observed insert latencies
func (m *Metrics) InsertLatency() LatencySummary {
	ps := m.insertTimer.Percentiles([]float64{0.5, 0.99})
	return LatencySummary{
		Mean: time.Duration(m.insertTimer.Mean()),
		P50:  time.Duration(ps[0]),
		P99:  time.Duration(ps[1]),
		Max:  time.Duration(m.insertTimer.Max()),
	}
}

// WritePrometheus writes all series of the run plus process metrics in Prometheus text format
func (m *Metrics) WritePrometheus(w io.Writer) {
	m.set.WritePrometheus(w)
	vm.WriteProcessMetrics(w)
}

// Stop detaches the meters from the go-metrics ticker. Calling it twice is a no-op.
func (m *Metrics) Stop() {
	if m.stopped.Swap(true) {
		return
	}
	m.insertRate.Stop()
	m.deleteRate.Stop()
	m.insertTimer.Stop()
}

// --------------------------------------------------------------------------
// HTTP exposition
// --------------------------------------------------------------------------

// Handler serves the metrics in Prometheus text format
func (m *Metrics) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		m.WritePrometheus(w)
	})
}

// MetricsServer serves /metrics until it is shut down
type MetricsServer struct {
	srv *http.Server
	ln  net.Listener
}

// ServeMetrics starts an HTTP server for m on addr (e.g. ":9100")
func ServeMetrics(addr string, m *Metrics) (*MetricsServer, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())

	s := &MetricsServer{
		srv: &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second},
		ln:  ln,
	}
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("metrics server stopped: %v", err)
		}
	}()
	log.Infof("serving metrics at http://%s/metrics", ln.Addr())
	return s, nil
}

// Addr returns the address the server listens on
func (s *MetricsServer) Addr() string {
	return s.ln.Addr().String()
}

// Shutdown stops the server, waiting for running scrapes up to the deadline of ctx
func (s *MetricsServer) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
