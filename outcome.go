package harvest

import "sync"

// Outcome is the terminal result of processing one candidate.
type Outcome string

const (
	OutcomeOK                  Outcome = "OK"
	OutcomeDownloadFail        Outcome = "DOWNLOAD_FAIL"
	OutcomeNotImage            Outcome = "NOT_IMAGE"
	OutcomeImageDecodeFail     Outcome = "IMAGE_DECODE_FAIL"
	OutcomeResolutionTooSmall  Outcome = "RESOLUTION_TOO_SMALL"
	OutcomeDuplicateExact      Outcome = "DUPLICATE_EXACT"
	OutcomeDuplicatePerceptual Outcome = "DUPLICATE_PERCEPTUAL"
	OutcomeDedupEngineError    Outcome = "DEDUP_ENGINE_ERROR"
)

// Outcomes lists every Outcome in report order.
var Outcomes = []Outcome{
	OutcomeOK,
	OutcomeDownloadFail,
	OutcomeNotImage,
	OutcomeImageDecodeFail,
	OutcomeResolutionTooSmall,
	OutcomeDuplicateExact,
	OutcomeDuplicatePerceptual,
	OutcomeDedupEngineError,
}

// Valid reports whether o is one of Outcomes.
func (o Outcome) Valid() bool {
	for _, v := range Outcomes {
		if o == v {
			return true
		}
	}
	return false
}

// IsDuplicate reports whether o is a dedup rejection, an expected steady-state
// result on repeated runs.
func (o Outcome) IsDuplicate() bool {
	return o == OutcomeDuplicateExact || o == OutcomeDuplicatePerceptual
}

// Aggregator counts outcomes per tag and OK results per source.
// It is safe for concurrent use.
type Aggregator struct {
	mu         sync.Mutex
	counts     map[Outcome]int
	okBySource map[string]int
	metrics    *Metrics
}

// NewAggregator returns an empty Aggregator that mirrors records into m (may be nil).
func NewAggregator(m *Metrics) *Aggregator {
	return &Aggregator{
		counts:     make(map[Outcome]int, len(Outcomes)),
		okBySource: make(map[string]int),
		metrics:    m,
	}
}

// Record counts one terminal outcome for a candidate from source.
func (a *Aggregator) Record(source string, o Outcome) {
	a.mu.Lock()
	a.counts[o]++
	if o == OutcomeOK {
		a.okBySource[source]++
	}
	a.mu.Unlock()

	a.metrics.outcome(source, o)
}

// Counts returns a copy of the per-outcome counts. Every Outcome is present.
func (a *Aggregator) Counts() map[Outcome]int {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make(map[Outcome]int, len(Outcomes))
	for _, o := range Outcomes {
		out[o] = 0
	}
	for o, n := range a.counts {
		out[o] = n
	}
	return out
}

// OKBySource returns a copy of the OK counts per source.
func (a *Aggregator) OKBySource() map[string]int {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make(map[string]int, len(a.okBySource))
	for s, n := range a.okBySource {
		out[s] = n
	}
	return out
}

// Total returns the number of recorded outcomes.
func (a *Aggregator) Total() int {
	a.mu.Lock()
	defer a.mu.Unlock()

	total := 0
	for _, n := range a.counts {
		total += n
	}
	return total
}
