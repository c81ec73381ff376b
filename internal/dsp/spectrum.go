package dsp

import (
	"errors"
	"fmt"
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/floats"
)

// ErrEmptyWindow is returned when there is nothing to analyse.
var ErrEmptyWindow = errors.New("dsp: empty window")

// Spectrum is the result of analysing one window.
type Spectrum struct {
	// Freqs[k] = k * rate / N for every bin.
	Freqs []float64
	// Magnitudes are normalized to a peak of 1.
	Magnitudes []float64
	// Coefficients are the raw DFT bins, kept for reconstruction.
	Coefficients []complex128
	// NyquistIndex is the last bin worth displaying.
	NyquistIndex int
	// Degenerate is set when every magnitude is zero and normalization was
	// skipped.
	Degenerate bool
}

// Analyze transforms one window sampled at rate Hz.
func (t *Transformer) Analyze(values []float64, rate float64) (*Spectrum, error) {
	if len(values) == 0 {
		return nil, ErrEmptyWindow
	}
	if !(rate > 0) || math.IsInf(rate, 0) {
		return nil, fmt.Errorf("dsp: invalid sampling rate %v", rate)
	}
	coeffs := t.Forward(values)
	display := coeffs
	if t.taper {
		display = t.tapered(values)
	}
	mags := Magnitudes(display)
	ok := Normalize(mags)
	return &Spectrum{
		Freqs:        FrequencyAxis(len(values), rate),
		Magnitudes:   mags,
		Coefficients: coeffs,
		NyquistIndex: NyquistIndex(len(values)),
		Degenerate:   !ok,
	}, nil
}

// Analyze runs a window through a shared transformer.
func Analyze(values []float64, rate float64) (*Spectrum, error) {
	return shared.Analyze(values, rate)
}

// FrequencyAxis returns k*rate/n for k in [0, n).
func FrequencyAxis(n int, rate float64) []float64 {
	freqs := make([]float64, n)
	if n == 0 {
		return freqs
	}
	d := float64(n) / rate
	for k := range freqs {
		freqs[k] = float64(k) / d
	}
	return freqs
}

// NyquistIndex is ceil((n-1)/2), the highest bin below the folding frequency.
func NyquistIndex(n int) int {
	if n <= 1 {
		return 0
	}
	return n / 2
}

// Magnitudes returns the modulus of every coefficient.
func Magnitudes(coeffs []complex128) []float64 {
	out := make([]float64, len(coeffs))
	for i, c := range coeffs {
		out[i] = cmplx.Abs(c)
	}
	return out
}

// Normalize scales mags in place so the peak is 1. It returns false and
// zeroes mags when there is no finite positive peak.
func Normalize(mags []float64) bool {
	if len(mags) == 0 {
		return false
	}
	peak := floats.Max(mags)
	if !(peak > 0) || math.IsInf(peak, 0) {
		for i := range mags {
			mags[i] = 0
		}
		return false
	}
	for i := range mags {
		mags[i] /= peak
	}
	return true
}

// Display returns the bins up to and including the Nyquist index.
func (s *Spectrum) Display() (freqs, mags []float64) {
	end := min(s.NyquistIndex+1, len(s.Freqs))
	return s.Freqs[:end], s.Magnitudes[:end]
}
