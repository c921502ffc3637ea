package harvest

import (
	"sync"
	"testing"
)

func TestOutcomeValid(t *testing.T) {
	t.Parallel()

	for _, o := range Outcomes {
		if !o.Valid() {
			t.Errorf("%s.Valid() = false", o)
		}
	}
	if Outcome("SOURCE_ERROR").Valid() {
		t.Error("SOURCE_ERROR must not be a candidate outcome")
	}
	if !OutcomeDuplicateExact.IsDuplicate() || !OutcomeDuplicatePerceptual.IsDuplicate() || OutcomeOK.IsDuplicate() {
		t.Error("IsDuplicate mismatch")
	}
}

func TestAggregator_ConcurrentRecord(t *testing.T) {
	t.Parallel()

	m := newTestMetrics(t)
	agg := NewAggregator(m)

	const perOutcome = 50
	var wg sync.WaitGroup
	for _, o := range Outcomes {
		for range perOutcome {
			wg.Add(1)
			go func() {
				defer wg.Done()
				agg.Record("wikimedia", o)
			}()
		}
	}
	wg.Wait()

	counts := agg.Counts()
	for _, o := range Outcomes {
		if counts[o] != perOutcome {
			t.Errorf("counts[%s] = %d, want %d", o, counts[o], perOutcome)
		}
	}
	if got, want := agg.Total(), perOutcome*len(Outcomes); got != want {
		t.Errorf("Total() = %d, want %d", got, want)
	}
	if got := agg.OKBySource()["wikimedia"]; got != perOutcome {
		t.Errorf("OKBySource[wikimedia] = %d, want %d", got, perOutcome)
	}
	if got := counterValue(t, m.outcomes.WithLabelValues("OK", "wikimedia")); got != perOutcome {
		t.Errorf("outcomes_total{OK,wikimedia} = %v, want %d", got, perOutcome)
	}
}

func TestAggregator_CountsHasEveryOutcome(t *testing.T) {
	t.Parallel()

	agg := NewAggregator(nil)
	agg.Record("seed", OutcomeNotImage)

	counts := agg.Counts()
	if len(counts) != len(Outcomes) {
		t.Errorf("len(Counts()) = %d, want %d", len(counts), len(Outcomes))
	}
	if counts[OutcomeNotImage] != 1 || counts[OutcomeOK] != 0 {
		t.Errorf("counts = %v", counts)
	}
	if len(agg.OKBySource()) != 0 {
		t.Errorf("OKBySource = %v, want empty", agg.OKBySource())
	}

	// Returned maps are copies.
	counts[OutcomeNotImage] = 99
	if agg.Counts()[OutcomeNotImage] != 1 {
		t.Error("Counts() exposed internal state")
	}
}
