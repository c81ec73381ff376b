// Package rate estimates a stream's sampling rate once, after a settle
// period, and then holds it.
package rate

import (
	"math"
	"sync"
	"time"
)

const (
	// DefaultProvisional is used until the estimate settles.
	DefaultProvisional = 7.0
	// DefaultSettle is how long samples are counted before estimating.
	DefaultSettle = 5 * time.Second
)

// Estimator is a one-shot rate estimator.
type Estimator struct {
	mu          sync.Mutex
	provisional float64
	settle      time.Duration
	rate        float64
	settled     bool
}

// New returns an estimator reporting provisional until settle has elapsed.
func New(provisional float64, settle time.Duration) *Estimator {
	if provisional <= 0 || math.IsNaN(provisional) || math.IsInf(provisional, 0) {
		provisional = DefaultProvisional
	}
	if settle <= 0 {
		settle = DefaultSettle
	}
	return &Estimator{provisional: provisional, settle: settle, rate: provisional}
}

// Update feeds the elapsed time since the first sample and the number of
// samples received so far. The first call past the settle duration fixes the
// rate to count/elapsed; later calls are ignored.
func (e *Estimator) Update(elapsed time.Duration, count int) float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.settled || elapsed <= e.settle {
		return e.rate
	}
	e.settled = true
	if count > 0 {
		if r := float64(count) / elapsed.Seconds(); r > 0 && !math.IsInf(r, 0) {
			e.rate = r
		}
	}
	return e.rate
}

func (e *Estimator) Rate() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rate
}

func (e *Estimator) Settled() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.settled
}

// Reset returns to the provisional rate and re-arms the estimate.
func (e *Estimator) Reset() {
	e.mu.Lock()
	e.rate = e.provisional
	e.settled = false
	e.mu.Unlock()
}
