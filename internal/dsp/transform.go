package dsp

import (
	"sync"

	"gonum.org/v1/gonum/dsp/fourier"
)

// Transformer caches one FFT plan per window length. Windows rarely change
// size once the buffer is full, so the plan is reused every cycle.
type Transformer struct {
	mu    sync.Mutex
	plans map[int]*fourier.CmplxFFT
	taper bool
	win   map[int][]float64
}

// Option configures a Transformer.
type Option func(*Transformer)

// WithHamming tapers the window before computing display magnitudes.
// Coefficients used for reconstruction are always untapered.
func WithHamming() Option {
	return func(t *Transformer) { t.taper = true }
}

// NewTransformer returns a transformer with an empty plan cache.
func NewTransformer(opts ...Option) *Transformer {
	t := &Transformer{
		plans: make(map[int]*fourier.CmplxFFT),
		win:   make(map[int][]float64),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// plan must be called with t.mu held.
func (t *Transformer) plan(n int) *fourier.CmplxFFT {
	p, ok := t.plans[n]
	if !ok {
		p = fourier.NewCmplxFFT(n)
		t.plans[n] = p
	}
	return p
}

// Forward returns the unnormalized DFT of the real input.
func (t *Transformer) Forward(values []float64) []complex128 {
	if len(values) == 0 {
		return []complex128{}
	}
	in := make([]complex128, len(values))
	for i, v := range values {
		in[i] = complex(v, 0)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.plan(len(in)).Coefficients(nil, in)
}

// Inverse returns the inverse DFT scaled by 1/N.
func (t *Transformer) Inverse(coeffs []complex128) []complex128 {
	n := len(coeffs)
	if n == 0 {
		return []complex128{}
	}
	t.mu.Lock()
	out := t.plan(n).Sequence(nil, coeffs)
	t.mu.Unlock()
	scale := complex(1/float64(n), 0)
	for i := range out {
		out[i] *= scale
	}
	return out
}

// Reconstruct returns the real part of the inverse transform. Any imaginary
// residue left by asymmetric edits is discarded.
func (t *Transformer) Reconstruct(coeffs []complex128) []float64 {
	seq := t.Inverse(coeffs)
	out := make([]float64, len(seq))
	for i, v := range seq {
		out[i] = real(v)
	}
	return out
}

// Plans reports how many plan sizes are cached.
func (t *Transformer) Plans() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.plans)
}

func (t *Transformer) tapered(values []float64) []complex128 {
	t.mu.Lock()
	defer t.mu.Unlock()
	w, ok := t.win[len(values)]
	if !ok {
		w = Hamming(len(values))
		t.win[len(values)] = w
	}
	return t.plan(len(values)).Coefficients(nil, ApplyWindow(values, w))
}

var shared = NewTransformer()

// Reconstruct inverts coeffs with a shared plan cache.
func Reconstruct(coeffs []complex128) []float64 {
	return shared.Reconstruct(coeffs)
}
