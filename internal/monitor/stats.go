// Package monitor consumes the pipeline's intermediate topics and turns
// them into drift, calibration, throughput and latency signals. It taps
// the log read-only and never sits on the decision hot path.
package monitor

import (
	"math"
	"sort"
	"time"
)

const (
	psiBins       = 10
	psiProbFloor  = 1e-6
	psiMinSamples = 200
)

// PSI computes the population stability index between a reference and a
// current sample over ten equal-width bins spanning their joint range.
// Per-bin probabilities are floored at 1e-6 so empty bins keep the log
// term finite. Identical samples score 0; an empty side scores 0.
func PSI(reference, current []float64) float64 {
	if len(reference) == 0 || len(current) == 0 {
		return 0
	}

	lo, hi := jointRange(reference, current)
	if hi <= lo {
		return 0
	}

	refProbs := binProbabilities(reference, lo, hi)
	curProbs := binProbabilities(current, lo, hi)

	psi := 0.0
	for i := range refProbs {
		psi += (curProbs[i] - refProbs[i]) * math.Log(curProbs[i]/refProbs[i])
	}
	return psi
}

func jointRange(samples ...[]float64) (float64, float64) {
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, sample := range samples {
		for _, v := range sample {
			lo = math.Min(lo, v)
			hi = math.Max(hi, v)
		}
	}
	return lo, hi
}

func binProbabilities(sample []float64, lo, hi float64) []float64 {
	width := (hi - lo) / psiBins
	counts := make([]float64, psiBins)
	for _, v := range sample {
		idx := int((v - lo) / width)
		if idx < 0 {
			idx = 0
		}
		if idx >= psiBins {
			idx = psiBins - 1
		}
		counts[idx]++
	}

	probs := make([]float64, psiBins)
	for i, count := range counts {
		p := count / float64(len(sample))
		if p < psiProbFloor {
			p = psiProbFloor
		}
		probs[i] = p
	}
	return probs
}

// Brier scores probability forecasts against binary outcomes:
// (1/n) Σ (p_i − y_i)². Mismatched or empty inputs score 0.
func Brier(probs, labels []float64) float64 {
	if len(probs) == 0 || len(probs) != len(labels) {
		return 0
	}
	sum := 0.0
	for i, p := range probs {
		d := p - labels[i]
		sum += d * d
	}
	return sum / float64(len(probs))
}

// Throughput reports events per second over a timestamp window:
// n / (t_last − t_first). Fewer than two stamps, or a zero span,
// report 0.
func Throughput(stamps []time.Time) float64 {
	if len(stamps) < 2 {
		return 0
	}
	span := stamps[len(stamps)-1].Sub(stamps[0]).Seconds()
	if span <= 0 {
		return 0
	}
	return float64(len(stamps)) / span
}

// LatencySummary condenses recent latency observations in milliseconds.
type LatencySummary struct {
	P50Ms       float64 `json:"p50_ms"`
	P95Ms       float64 `json:"p95_ms"`
	P99Ms       float64 `json:"p99_ms"`
	MeanMs      float64 `json:"mean_ms"`
	MaxMs       float64 `json:"max_ms"`
	MinMs       float64 `json:"min_ms"`
	SampleCount int     `json:"sample_count"`
}

// SummarizeLatencies computes percentile and spread statistics over a
// sample of latencies.
func SummarizeLatencies(values []float64) LatencySummary {
	if len(values) == 0 {
		return LatencySummary{}
	}

	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	sum := 0.0
	for _, v := range sorted {
		sum += v
	}

	return LatencySummary{
		P50Ms:       percentile(sorted, 0.5),
		P95Ms:       percentile(sorted, 0.95),
		P99Ms:       percentile(sorted, 0.99),
		MeanMs:      sum / float64(len(sorted)),
		MaxMs:       sorted[len(sorted)-1],
		MinMs:       sorted[0],
		SampleCount: len(sorted),
	}
}

func percentile(sorted []float64, q float64) float64 {
	idx := int(float64(len(sorted)) * q)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// window is a bounded rolling sample; the oldest value drops first.
type window struct {
	values []float64
	limit  int
}

func newWindow(limit int) *window {
	return &window{limit: limit}
}

func (w *window) add(v float64) {
	w.values = append(w.values, v)
	if len(w.values) > w.limit {
		w.values = w.values[1:]
	}
}

func (w *window) size() int { return len(w.values) }

// last returns the newest n values, or everything when fewer exist.
func (w *window) last(n int) []float64 {
	if n > len(w.values) {
		n = len(w.values)
	}
	return w.values[len(w.values)-n:]
}

// driftTracker holds one feature's rolling observations. PSI splits the
// buffer at its midpoint: the older half is the reference distribution,
// the newer half the current one.
type driftTracker struct {
	window *window
	seen   int
}

func newDriftTracker(limit int) *driftTracker {
	return &driftTracker{window: newWindow(limit)}
}

func (t *driftTracker) add(v float64) {
	t.window.add(v)
	t.seen++
}

// psi needs at least psiMinSamples buffered observations and reports
// ok=false below that.
func (t *driftTracker) psi() (float64, bool) {
	values := t.window.values
	if len(values) < psiMinSamples {
		return 0, false
	}
	mid := len(values) / 2
	return PSI(values[:mid], values[mid:]), true
}
