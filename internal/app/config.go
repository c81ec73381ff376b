package app

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/ary1234554321/Neurosurf/internal/buffer"
	"github.com/ary1234554321/Neurosurf/internal/dsp"
	"github.com/ary1234554321/Neurosurf/internal/rate"
)

// Config captures pipeline level configuration.
type Config struct {
	// Stream labels snapshots and log entries. Defaults to the source name.
	Stream   string `json:"stream"`
	Channels int    `json:"channels"`
	// WindowSize is the number of most recent samples analysed per cycle.
	WindowSize      int           `json:"window_size"`
	SettleDuration  time.Duration `json:"settle_duration"`
	ProvisionalRate float64       `json:"provisional_rate"`
	Notches         []dsp.Notch   `json:"notches"`
	// Reconstruct adds the filtered time series to every channel snapshot.
	Reconstruct bool `json:"reconstruct"`
	// Recording forwards accepted samples to the sink.
	Recording bool `json:"recording"`
	// Taper applies a Hamming window to the displayed spectrum.
	Taper bool `json:"taper"`
	// PollTimeout bounds a single poll. Zero leaves it to the source.
	PollTimeout time.Duration `json:"poll_timeout"`
	// CycleInterval paces Run. Zero runs cycles back to back.
	CycleInterval time.Duration `json:"cycle_interval"`
}

// DefaultConfig mirrors the defaults applied by NewPipeline.
func DefaultConfig() Config {
	return Config{
		WindowSize:      buffer.DefaultWindow,
		SettleDuration:  rate.DefaultSettle,
		ProvisionalRate: rate.DefaultProvisional,
	}
}

func (c Config) withDefaults() Config {
	if c.WindowSize == 0 {
		c.WindowSize = buffer.DefaultWindow
	}
	if c.SettleDuration == 0 {
		c.SettleDuration = rate.DefaultSettle
	}
	if c.ProvisionalRate == 0 {
		c.ProvisionalRate = rate.DefaultProvisional
	}
	c.Notches = append([]dsp.Notch(nil), c.Notches...)
	for i, n := range c.Notches {
		if n.Tolerance == 0 {
			c.Notches[i].Tolerance = dsp.DefaultTolerance
		}
	}
	return c
}

// Validate reports the first invalid field.
func (c Config) Validate() error {
	if c.Channels <= 0 {
		return fmt.Errorf("channels must be positive, got %d", c.Channels)
	}
	if c.WindowSize <= 0 {
		return fmt.Errorf("window size must be positive, got %d", c.WindowSize)
	}
	if c.SettleDuration < 0 {
		return errors.New("settle duration must not be negative")
	}
	if !(c.ProvisionalRate > 0) || math.IsInf(c.ProvisionalRate, 0) {
		return fmt.Errorf("provisional rate must be positive, got %v", c.ProvisionalRate)
	}
	for _, n := range c.Notches {
		if n.Tolerance < 0 || math.IsNaN(n.Frequency) {
			return fmt.Errorf("invalid notch %v", n)
		}
	}
	if c.PollTimeout < 0 || c.CycleInterval < 0 {
		return errors.New("durations must not be negative")
	}
	return nil
}
