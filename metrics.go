package harvest

import "github.com/prometheus/client_golang/prometheus"

// Metrics exports pipeline counters. A nil *Metrics is valid and records nothing.
type Metrics struct {
	outcomes       *prometheus.CounterVec
	fetchRetries   prometheus.Counter
	sourceFailures *prometheus.CounterVec
}

// NewMetrics registers the pipeline collectors on reg. Returns nil when reg is nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		return nil
	}
	m := &Metrics{
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "harvest",
			Name:      "outcomes_total",
			Help:      "Terminal candidate outcomes by outcome and source.",
		}, []string{"outcome", "source"}),
		fetchRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "harvest",
			Name:      "fetch_retries_total",
			Help:      "Fetch attempts that were retried after backoff.",
		}),
		sourceFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "harvest",
			Name:      "source_failures_total",
			Help:      "Source collection failures by source.",
		}, []string{"source"}),
	}
	reg.MustRegister(m.outcomes, m.fetchRetries, m.sourceFailures)
	return m
}

func (m *Metrics) outcome(source string, o Outcome) {
	if m == nil {
		return
	}
	m.outcomes.WithLabelValues(string(o), source).Inc()
}

func (m *Metrics) retry() {
	if m == nil {
		return
	}
	m.fetchRetries.Inc()
}

func (m *Metrics) sourceFailure(source string) {
	if m == nil {
		return
	}
	m.sourceFailures.WithLabelValues(source).Inc()
}
