package dsp

import (
	"fmt"
	"strconv"
	"strings"
)

// DefaultTolerance is the half-width of a notch when none is given.
const DefaultTolerance = 0.1

// Notch suppresses every bin within Tolerance Hz of Frequency.
type Notch struct {
	Frequency float64 `json:"frequency"`
	Tolerance float64 `json:"tolerance"`
}

func (n Notch) tolerance() float64 {
	if n.Tolerance <= 0 {
		return DefaultTolerance
	}
	return n.Tolerance
}

func (n Notch) matches(freq float64) bool {
	tol := n.tolerance()
	return freq >= n.Frequency-tol && freq <= n.Frequency+tol
}

func (n Notch) String() string {
	return strconv.FormatFloat(n.Frequency, 'g', -1, 64) + ":" + strconv.FormatFloat(n.tolerance(), 'g', -1, 64)
}

// ParseNotch parses "freq" or "freq:tol".
func ParseNotch(s string) (Notch, error) {
	s = strings.TrimSpace(s)
	freqStr, tolStr, hasTol := strings.Cut(s, ":")
	freq, err := strconv.ParseFloat(strings.TrimSpace(freqStr), 64)
	if err != nil {
		return Notch{}, fmt.Errorf("notch %q: bad frequency: %w", s, err)
	}
	n := Notch{Frequency: freq, Tolerance: DefaultTolerance}
	if hasTol {
		tol, err := strconv.ParseFloat(strings.TrimSpace(tolStr), 64)
		if err != nil || tol <= 0 {
			return Notch{}, fmt.Errorf("notch %q: bad tolerance", s)
		}
		n.Tolerance = tol
	}
	return n, nil
}

// ParseNotches parses a comma separated list such as "50:0.5,60".
func ParseNotches(s string) ([]Notch, error) {
	var out []Notch
	for _, part := range strings.Split(s, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		n, err := ParseNotch(part)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}

// FormatNotches is the inverse of ParseNotches.
func FormatNotches(notches []Notch) string {
	parts := make([]string, len(notches))
	for i, n := range notches {
		parts[i] = n.String()
	}
	return strings.Join(parts, ",")
}

// SuppressMagnitudes zeroes display magnitudes inside the notch band.
func SuppressMagnitudes(freqs, mags []float64, notch Notch) {
	for k := range mags {
		if k < len(freqs) && notch.matches(freqs[k]) {
			mags[k] = 0
		}
	}
}

// SuppressCoefficients zeroes matching bins together with their conjugate
// mirror N-k so the inverse stays real.
func SuppressCoefficients(freqs []float64, coeffs []complex128, notch Notch) {
	n := len(coeffs)
	for k := range coeffs {
		if k >= len(freqs) || !notch.matches(freqs[k]) {
			continue
		}
		coeffs[k] = 0
		if k != 0 {
			coeffs[n-k] = 0
		}
	}
}

// Suppress applies every notch to both magnitudes and coefficients.
func (s *Spectrum) Suppress(notches ...Notch) {
	for _, n := range notches {
		SuppressMagnitudes(s.Freqs, s.Magnitudes, n)
		SuppressCoefficients(s.Freqs, s.Coefficients, n)
	}
}
