// Package metrics records recompute and allocation activity as Prometheus metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "launchpricing"

// Recorder is safe for concurrent use. A nil *Recorder records nothing.
type Recorder struct {
	recomputeTotal    *prometheus.CounterVec
	recomputeDuration *prometheus.HistogramVec
	valuationsWritten prometheus.Counter
	allocationTotal   *prometheus.CounterVec
}

// NewRecorder creates the collectors and registers them with registerer
// (prometheus.DefaultRegisterer when nil).
func NewRecorder(registerer prometheus.Registerer) (*Recorder, error) {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	r := &Recorder{
		recomputeTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recompute_total",
			Help:      "Recompute passes by scope and outcome.",
		}, []string{"scope", "status"}),
		recomputeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "recompute_duration_seconds",
			Help:      "Duration of recompute passes by scope.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"scope"}),
		valuationsWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "valuations_written_total",
			Help:      "Unit valuations written by recompute and allocation.",
		}),
		allocationTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "allocation_total",
			Help:      "Allocation ledger operations by operation and outcome.",
		}, []string{"op", "status"}),
	}

	for _, c := range []prometheus.Collector{r.recomputeTotal, r.recomputeDuration, r.valuationsWritten, r.allocationTotal} {
		if err := registerer.Register(c); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Recompute records one recompute pass.
func (r *Recorder) Recompute(scope string, elapsed time.Duration, written int, err error) {
	if r == nil {
		return
	}
	r.recomputeTotal.WithLabelValues(scope, status(err)).Inc()
	r.recomputeDuration.WithLabelValues(scope).Observe(elapsed.Seconds())
	if err == nil {
		r.valuationsWritten.Add(float64(written))
	}
}

// Allocation records one ledger operation.
func (r *Recorder) Allocation(op string, written int, err error) {
	if r == nil {
		return
	}
	r.allocationTotal.WithLabelValues(op, status(err)).Inc()
	if err == nil {
		r.valuationsWritten.Add(float64(written))
	}
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
