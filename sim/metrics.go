package sim

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups the Prometheus collectors updated by a Driver.
type Metrics struct {
	Dispatches       *prometheus.CounterVec
	Ticks            prometheus.Counter
	Particles        prometheus.Gauge
	BuffersAllocated prometheus.Gauge
	TickDuration     prometheus.Histogram
}

// NewMetrics creates the collectors and registers them with reg. A nil reg
// leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		Dispatches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "particlesim_dispatches_total",
				Help: "Kernel dispatches submitted, by kernel name",
			},
			[]string{"kernel"},
		),
		Ticks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "particlesim_ticks_total",
			Help: "Simulation ticks executed",
		}),
		Particles: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "particlesim_particles",
			Help: "Particles resident in the particle buffer",
		}),
		BuffersAllocated: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "particlesim_buffers_allocated",
			Help: "Device buffers currently held by the driver",
		}),
		TickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "particlesim_tick_duration_seconds",
			Help:    "Host time spent submitting one tick",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 14),
		}),
	}
	if reg == nil {
		return m, nil
	}
	for _, c := range []prometheus.Collector{m.Dispatches, m.Ticks, m.Particles, m.BuffersAllocated, m.TickDuration} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}
