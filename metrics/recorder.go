// Package metrics holds the Prometheus instruments shared by every rank of a coupled run.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "dgcouple"

// Recorder bundles the coupling instruments. One Recorder is shared by all ranks in an
// OS process; ranks are told apart by labels. All methods are safe on a nil Recorder.
type Recorder struct {
	Messages       *prometheus.CounterVec // group, tag
	Values         *prometheus.CounterVec // group, tag
	Rebuilds       *prometheus.CounterVec // role
	Catchups       prometheus.Counter
	Timestep       *prometheus.GaugeVec // role
	FineElapsed    prometheus.Gauge
	CoarseInterval prometheus.Gauge
	SinkPoints     *prometheus.GaugeVec // role, category
}

// NewRecorder creates the instruments and registers them with reg. A nil reg skips
// registration, which is what unit tests that only read values back want.
func NewRecorder(reg prometheus.Registerer) (*Recorder, error) {
	r := &Recorder{
		Messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "transport", Name: "messages_total",
			Help: "Point-to-point messages sent, by process group and tag.",
		}, []string{"group", "tag"}),
		Values: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "transport", Name: "values_total",
			Help: "Float64 payload values sent, by process group and tag.",
		}, []string{"group", "tag"}),
		Rebuilds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "exchanger", Name: "rebuilds_total",
			Help: "Coupling geometry rebuilds (bounded box, sources, sinks).",
		}, []string{"role"}),
		Catchups: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "exchanger", Name: "catchups_total",
			Help: "Fine sub-cycles that landed on a coarse interval boundary.",
		}),
		Timestep: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "exchanger", Name: "timestep",
			Help: "Last timestep returned by stable timestep negotiation.",
		}, []string{"role"}),
		FineElapsed: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "exchanger", Name: "fine_elapsed",
			Help: "Fine time accumulated inside the current coarse interval (fge_t).",
		}),
		CoarseInterval: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "exchanger", Name: "coarse_interval",
			Help: "Coarse interval negotiated for the current fine sub-cycle (cge_t).",
		}),
		SinkPoints: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "exchanger", Name: "sink_points",
			Help: "Points owned by the sinks built in the last rebuild.",
		}, []string{"role", "category"}),
	}
	if reg == nil {
		return r, nil
	}
	for _, c := range []prometheus.Collector{r.Messages, r.Values, r.Rebuilds, r.Catchups,
		r.Timestep, r.FineElapsed, r.CoarseInterval, r.SinkPoints} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register coupling metrics: %w", err)
		}
	}
	return r, nil
}

// Sent records one message of n values.
func (r *Recorder) Sent(group, tag string, n int) {
	if r == nil {
		return
	}
	r.Messages.WithLabelValues(group, tag).Inc()
	r.Values.WithLabelValues(group, tag).Add(float64(n))
}

// Rebuilt records a coupling geometry rebuild.
func (r *Recorder) Rebuilt(role string) {
	if r == nil {
		return
	}
	r.Rebuilds.WithLabelValues(role).Inc()
}

// CaughtUp records a fine catchup event.
func (r *Recorder) CaughtUp() {
	if r == nil {
		return
	}
	r.Catchups.Inc()
}

// Negotiated records the timestep handed back to a controller.
func (r *Recorder) Negotiated(role string, dt float64) {
	if r == nil {
		return
	}
	r.Timestep.WithLabelValues(role).Set(dt)
}

// SubCycle records the fine-side clocks.
func (r *Recorder) SubCycle(fgeT, cgeT float64) {
	if r == nil {
		return
	}
	r.FineElapsed.Set(fgeT)
	r.CoarseInterval.Set(cgeT)
}

// SinkSize records the number of points a sink aggregates.
func (r *Recorder) SinkSize(role, category string, n int) {
	if r == nil {
		return
	}
	r.SinkPoints.WithLabelValues(role, category).Set(float64(n))
}
