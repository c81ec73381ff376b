package dsp

import "math"

// Hamming returns a Hamming window of length n.
// If n is zero or negative, an empty slice is returned.
func Hamming(n int) []float64 {
	if n <= 0 {
		return []float64{}
	}
	if n == 1 {
		return []float64{1}
	}
	win := make([]float64, n)
	for i := 0; i < n; i++ {
		win[i] = 0.54 - 0.46*math.Cos(2*math.Pi*float64(i)/float64(n-1))
	}
	return win
}

// ApplyWindow multiplies real samples by the window and lifts them to the
// complex plane. The window length must match the input length.
func ApplyWindow(values, window []float64) []complex128 {
	if len(values) != len(window) {
		return []complex128{}
	}
	out := make([]complex128, len(values))
	for i, v := range values {
		out[i] = complex(v*window[i], 0)
	}
	return out
}
