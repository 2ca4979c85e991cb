// Package cost computes per-attempt charges in integral cents.
package cost

import (
	"math"
	"strings"
)

// defaultWordsPerSecond approximates conversational speech pace.
const defaultWordsPerSecond = 2.5

// Estimator computes provisional and finalized attempt costs.
// All amounts are integral cents; the minimum floor guarantees no attempt is
// ever recorded at zero cost, so totals are never skewed by short messages.
type Estimator struct {
	WordsPerSecond     float64
	RatePerMinuteCents int
	MinimumCents       int
}

// NewEstimator creates an estimator with the given per-minute rate and floor.
func NewEstimator(ratePerMinuteCents, minimumCents int) *Estimator {
	if ratePerMinuteCents <= 0 {
		ratePerMinuteCents = 2
	}
	if minimumCents <= 0 {
		minimumCents = 1
	}
	return &Estimator{
		WordsPerSecond:     defaultWordsPerSecond,
		RatePerMinuteCents: ratePerMinuteCents,
		MinimumCents:       minimumCents,
	}
}

// Provisional estimates the cost of a message at dispatch time from its
// estimated speech duration, rounded up to whole minutes.
func (e *Estimator) Provisional(message string) int {
	words := len(strings.Fields(message))
	if words == 0 {
		return e.MinimumCents
	}

	seconds := float64(words) / e.WordsPerSecond
	return e.forSeconds(int(math.Ceil(seconds)))
}

// Finalize recomputes the cost from the actual connected duration reported
// by the provider callback.
func (e *Estimator) Finalize(durationSeconds int) int {
	return e.forSeconds(durationSeconds)
}

func (e *Estimator) forSeconds(seconds int) int {
	if seconds < 0 {
		seconds = 0
	}

	minutes := (seconds + 59) / 60
	cents := minutes * e.RatePerMinuteCents
	if cents < e.MinimumCents {
		cents = e.MinimumCents
	}
	return cents
}
