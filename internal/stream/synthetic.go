package stream

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"
)

const (
	SyntheticName = "synthetic"

	defaultSyntheticChannels = 3
	defaultSyntheticRate     = 7.0
)

// Tone is one sinusoidal component of the synthetic signal.
type Tone struct {
	Frequency float64 `json:"frequency"`
	Amplitude float64 `json:"amplitude"`
	// Phase in radians.
	Phase float64 `json:"phase"`
}

// SyntheticConfig parameterizes the generator.
type SyntheticConfig struct {
	Channels int
	// Rate is the virtual sampling rate in Hz.
	Rate  float64
	Tones []Tone
	// BatchSize is the number of samples returned per poll.
	BatchSize int
	// Realtime paces polls so samples are delivered at Rate on the wall clock.
	Realtime bool
	// Jitter perturbs each timestamp by up to +/- Jitter seconds, which makes
	// neighbouring samples arrive out of order.
	Jitter float64
	// Noise is the standard deviation of additive gaussian noise.
	Noise float64
	Seed  int64
}

func (c SyntheticConfig) withDefaults() SyntheticConfig {
	if c.Channels <= 0 {
		c.Channels = defaultSyntheticChannels
	}
	if c.Rate <= 0 {
		c.Rate = defaultSyntheticRate
	}
	if c.Tones == nil {
		c.Tones = []Tone{{Frequency: 60, Amplitude: 10}}
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 1
	}
	return c
}

// Synthetic produces deterministic tone mixtures on a fixed virtual clock.
type Synthetic struct {
	mu   sync.RWMutex
	cfg  SyntheticConfig
	rng  *rand.Rand
	next int64
	// epoch anchors realtime pacing: sample k is due at epoch + (k+1)/Rate.
	epoch time.Time
}

// NewSynthetic builds a generator. Zero config values take defaults.
func NewSynthetic(cfg SyntheticConfig) *Synthetic {
	cfg = cfg.withDefaults()
	return &Synthetic{
		cfg: cfg,
		rng: rand.New(rand.NewSource(cfg.Seed)),
	}
}

func (s *Synthetic) Name() string { return SyntheticName }

func (s *Synthetic) Channels() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.Channels
}

// NominalRate returns the virtual sampling rate.
func (s *Synthetic) NominalRate() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.Rate
}

// SetTones replaces the generated tone mix, e.g. to inject a test tone while
// running.
func (s *Synthetic) SetTones(tones []Tone) {
	s.mu.Lock()
	s.cfg.Tones = append([]Tone(nil), tones...)
	s.mu.Unlock()
}

func (s *Synthetic) Close() error { return nil }

// Poll returns the next BatchSize samples. In realtime mode samples are
// released as their period elapses on the wall clock; when ctx ends before
// the batch is complete the samples already due are returned without error.
func (s *Synthetic) Poll(ctx context.Context) ([]Sample, error) {
	s.mu.RLock()
	cfg := s.cfg
	s.mu.RUnlock()

	count := cfg.BatchSize
	if cfg.Realtime {
		n, err := s.await(ctx, cfg)
		if err != nil {
			return nil, err
		}
		count = n
	} else if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Sample, count)
	for i := range out {
		t := float64(s.next) / cfg.Rate
		s.next++

		value := 0.0
		for _, tone := range cfg.Tones {
			value += tone.Amplitude * math.Sin(2*math.Pi*tone.Frequency*t+tone.Phase)
		}
		values := make([]float64, cfg.Channels)
		for ch := range values {
			values[ch] = value
			if cfg.Noise > 0 {
				values[ch] += s.rng.NormFloat64() * cfg.Noise
			}
		}
		ts := t
		if cfg.Jitter > 0 {
			ts += (2*s.rng.Float64() - 1) * cfg.Jitter
		}
		out[i] = Sample{Timestamp: ts, Values: values}
	}
	return out, nil
}

// await blocks until a full batch is due or ctx ends and reports how many
// samples may be generated.
func (s *Synthetic) await(ctx context.Context, cfg SyntheticConfig) (int, error) {
	period := float64(time.Second) / cfg.Rate
	for {
		s.mu.Lock()
		if s.epoch.IsZero() {
			s.epoch = time.Now().Add(-time.Duration(float64(s.next) * period))
		}
		elapsed := time.Since(s.epoch)
		due := int64(float64(elapsed)/period) - s.next
		wait := time.Duration(float64(s.next+int64(cfg.BatchSize))*period) - elapsed
		s.mu.Unlock()

		if due >= int64(cfg.BatchSize) {
			return cfg.BatchSize, nil
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			s.mu.Lock()
			due = int64(float64(time.Since(s.epoch))/period) - s.next
			s.mu.Unlock()
			if due > 0 {
				return int(min(due, int64(cfg.BatchSize))), nil
			}
			return 0, ctx.Err()
		case <-timer.C:
		}
	}
}
