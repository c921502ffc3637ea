package harvest

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func newTestMetrics(t *testing.T) *Metrics {
	t.Helper()
	m := NewMetrics(prometheus.NewRegistry())
	if m == nil {
		t.Fatal("NewMetrics returned nil for a non-nil registry")
	}
	return m
}

func counterValue(t *testing.T, c prometheus.Collector) float64 {
	t.Helper()
	return testutil.ToFloat64(c)
}

func TestNewMetrics_NilRegistry(t *testing.T) {
	t.Parallel()

	m := NewMetrics(nil)
	if m != nil {
		t.Fatalf("NewMetrics(nil) = %v, want nil", m)
	}
	// nil receivers must be safe
	m.outcome("wikimedia", OutcomeOK)
	m.retry()
	m.sourceFailure("seed")
}

func TestMetrics_Counters(t *testing.T) {
	t.Parallel()

	m := newTestMetrics(t)
	m.outcome("wikimedia", OutcomeOK)
	m.outcome("wikimedia", OutcomeOK)
	m.outcome("seed", OutcomeNotImage)
	m.sourceFailure("seed")

	if got := counterValue(t, m.outcomes.WithLabelValues("OK", "wikimedia")); got != 2 {
		t.Errorf("outcomes{OK,wikimedia} = %v, want 2", got)
	}
	if got := counterValue(t, m.outcomes.WithLabelValues("NOT_IMAGE", "seed")); got != 1 {
		t.Errorf("outcomes{NOT_IMAGE,seed} = %v, want 1", got)
	}
	if got := counterValue(t, m.sourceFailures.WithLabelValues("seed")); got != 1 {
		t.Errorf("source_failures{seed} = %v, want 1", got)
	}
	if n := testutil.CollectAndCount(m.outcomes); n != 2 {
		t.Errorf("outcome series = %d, want 2", n)
	}
}
