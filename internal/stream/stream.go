package stream

import (
	"context"
	"errors"
	"fmt"
)

// Sample is one multi-channel reading. Timestamp is in seconds relative to
// the start of the source. Values holds one scalar per channel.
type Sample struct {
	Timestamp float64   `json:"timestamp"`
	Values    []float64 `json:"values"`
}

// Source captures the pull contract shared by live connectors and the
// synthetic generator.
type Source interface {
	Name() string
	// Channels is fixed for the lifetime of the source.
	Channels() int
	// Poll returns zero or more samples. It blocks at most until ctx is done.
	Poll(ctx context.Context) ([]Sample, error)
	Close() error
}

// RateHinter is implemented by sources that know their nominal rate.
type RateHinter interface {
	NominalRate() float64
}

// ErrSourceUnavailable reports a failed or timed out poll. Callers decide
// whether to retry.
var ErrSourceUnavailable = errors.New("source unavailable")

// ConfigurationError reports a channel-count mismatch between a source and
// its consumer. It is never recoverable.
type ConfigurationError struct {
	Source   string
	Expected int
	Got      int
}

func (e *ConfigurationError) Error() string {
	if e.Source == "" {
		return fmt.Sprintf("channel count mismatch: expected %d, got %d", e.Expected, e.Got)
	}
	return fmt.Sprintf("source %s: channel count mismatch: expected %d, got %d", e.Source, e.Expected, e.Got)
}

// CheckChannels returns a ConfigurationError when s does not carry exactly
// want values.
func CheckChannels(source string, s Sample, want int) error {
	if len(s.Values) != want {
		return &ConfigurationError{Source: source, Expected: want, Got: len(s.Values)}
	}
	return nil
}
