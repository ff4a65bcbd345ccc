// Package metrics exposes run progress as Prometheus metrics. A Recorder
// owns its registry so tests never collide on the global default registry.
// Counters are process totals; gauges describing one run's state carry a
// run label. A nil *Recorder is valid and records nothing.
package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sort"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "cellsim"

// Recorder holds the metrics of one process. Runs record through ForRun.
type Recorder struct {
	reg *prometheus.Registry
	run string

	steps        prometheus.Counter
	simTime      *prometheus.GaugeVec
	stepDuration prometheus.Histogram
	divisions    prometheus.Counter
	deaths       *prometheus.CounterVec
	cells        *prometheus.GaugeVec
	runs         *prometheus.CounterVec
}

// New registers the cellsim metrics on a fresh registry.
func New() *Recorder {
	r := &Recorder{
		reg: prometheus.NewRegistry(),
		steps: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "steps_total",
			Help:      "Simulation steps completed.",
		}),
		simTime: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "simulated_time_hours",
			Help:      "Current simulated time by run.",
		}, []string{"run"}),
		stepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "step_duration_seconds",
			Help:      "Wall-clock time per simulation step.",
			Buckets:   prometheus.ExponentialBuckets(1e-5, 4, 10),
		}),
		divisions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "divisions_total",
			Help:      "Cell divisions.",
		}),
		deaths: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deaths_total",
			Help:      "Cells removed, by cause.",
		}, []string{"cause"}),
		cells: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "live_cells",
			Help:      "Live cells by run and mutation state.",
		}, []string{"run", "mutation"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Finished runs by outcome.",
		}, []string{"outcome"}),
	}
	r.reg.MustRegister(r.steps, r.simTime, r.stepDuration, r.divisions, r.deaths, r.cells, r.runs)
	return r
}

// ForRun returns a view of r whose run gauges are labelled with id. It
// shares r's registry, so concurrent runs of an ensemble each keep their
// own series.
func (r *Recorder) ForRun(id string) *Recorder {
	if r == nil {
		return nil
	}
	v := *r
	v.run = id
	return &v
}

// Registry returns the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.reg
}

// ObserveStep records one completed step.
func (r *Recorder) ObserveStep(d time.Duration, simTime float64) {
	if r == nil {
		return
	}
	r.steps.Inc()
	r.simTime.WithLabelValues(r.run).Set(simTime)
	r.stepDuration.Observe(d.Seconds())
}

// AddDivisions counts n divisions.
func (r *Recorder) AddDivisions(n int) {
	if r == nil || n == 0 {
		return
	}
	r.divisions.Add(float64(n))
}

// AddDeaths counts removed cells: apoptotic ones and those killed outright.
func (r *Recorder) AddDeaths(apoptotic, killed int) {
	if r == nil {
		return
	}
	if apoptotic > 0 {
		r.deaths.WithLabelValues("apoptosis").Add(float64(apoptotic))
	}
	if killed > 0 {
		r.deaths.WithLabelValues("killed").Add(float64(killed))
	}
}

// SetCellCounts replaces the live-cell gauges of r's run.
func (r *Recorder) SetCellCounts(counts map[string]int) {
	if r == nil {
		return
	}
	r.cells.DeletePartialMatch(prometheus.Labels{"run": r.run})
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		r.cells.WithLabelValues(r.run, k).Set(float64(counts[k]))
	}
}

// RunFinished counts a run by outcome ("complete" or "failed").
func (r *Recorder) RunFinished(outcome string) {
	if r == nil {
		return
	}
	r.runs.WithLabelValues(outcome).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{Registry: r.reg})
}

// Serve exposes /metrics on ln until ctx is done.
func (r *Recorder) Serve(ctx context.Context, ln net.Listener) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", r.Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ln) }()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

// ListenAndServe listens on addr and calls Serve.
func (r *Recorder) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return r.Serve(ctx, ln)
}
