package app

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/ary1234554321/Neurosurf/internal/dsp"
	"github.com/ary1234554321/Neurosurf/internal/stream"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

// scriptedSource replays batches and errors in order, then returns empty
// batches.
type scriptedSource struct {
	channels int
	nominal  float64
	batches  [][]stream.Sample
	errs     []error
	calls    int
	block    bool
}

func (s *scriptedSource) Name() string  { return "scripted" }
func (s *scriptedSource) Channels() int { return s.channels }
func (s *scriptedSource) Close() error  { return nil }
func (s *scriptedSource) NominalRate() float64 {
	return s.nominal
}

func (s *scriptedSource) Poll(ctx context.Context) ([]stream.Sample, error) {
	if s.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	i := s.calls
	s.calls++
	if i < len(s.errs) && s.errs[i] != nil {
		return nil, s.errs[i]
	}
	if i < len(s.batches) {
		return s.batches[i], nil
	}
	return nil, nil
}

type captureSink struct {
	mu      sync.Mutex
	samples []stream.Sample
	fail    bool
}

func (c *captureSink) Write(_ context.Context, s stream.Sample) error {
	if c.fail {
		return errors.New("sink offline")
	}
	c.mu.Lock()
	c.samples = append(c.samples, s)
	c.mu.Unlock()
	return nil
}

func (c *captureSink) Close() error { return nil }

type capturePublisher struct {
	snaps []*Snapshot
	hook  func(*Snapshot)
}

func (c *capturePublisher) Report(s *Snapshot) {
	c.snaps = append(c.snaps, s)
	if c.hook != nil {
		c.hook(s)
	}
}

func TestFirstCycleWithSingleSample(t *testing.T) {
	src := stream.NewSynthetic(stream.SyntheticConfig{})
	pub := &capturePublisher{}
	p, err := NewPipeline(src, nil, pub, nil, Config{})
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}
	if p.Snapshot() != nil {
		t.Fatalf("expected no snapshot before the first cycle")
	}
	published, err := p.Step(context.Background())
	if err != nil || !published {
		t.Fatalf("Step: published=%v err=%v", published, err)
	}
	snap := p.Snapshot()
	if snap == nil || len(snap.Channels) != 3 || len(pub.snaps) != 1 {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	if snap.Rate != 7 || snap.Settled {
		t.Fatalf("expected provisional 7 Hz, got %v settled=%v", snap.Rate, snap.Settled)
	}
	for _, ch := range snap.Channels {
		if len(ch.Freqs) != 1 || len(ch.Magnitudes) != 1 || len(ch.Raw) != 1 {
			t.Fatalf("expected length-1 spectrum, got %+v", ch)
		}
		if math.IsNaN(ch.Magnitudes[0]) {
			t.Fatalf("magnitude is NaN")
		}
	}
}

func TestRateSettlesThenFreezes(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	src := stream.NewSynthetic(stream.SyntheticConfig{Channels: 1, Rate: 200, BatchSize: 20})
	p, err := NewPipeline(src, nil, nil, nil, Config{ProvisionalRate: 7})
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}
	p.WithClock(clock.Now)

	ctx := context.Background()
	for i := 0; i < 52; i++ {
		if _, err := p.Step(ctx); err != nil {
			t.Fatalf("Step %d: %v", i, err)
		}
		if i < 51 && p.Rate() != 7 {
			t.Fatalf("rate changed early at step %d: %v", i, p.Rate())
		}
		clock.Advance(100 * time.Millisecond)
	}
	settled := p.Rate()
	if math.Abs(settled-200)/200 > 0.05 {
		t.Fatalf("expected rate within 5%% of 200, got %v", settled)
	}
	if !p.Snapshot().Settled {
		t.Fatalf("snapshot should report a settled rate")
	}

	for i := 0; i < 20; i++ {
		clock.Advance(time.Second)
		if _, err := p.Step(ctx); err != nil {
			t.Fatalf("Step: %v", err)
		}
	}
	if p.Rate() != settled {
		t.Fatalf("rate must stay frozen: %v != %v", p.Rate(), settled)
	}
	if got := len(p.Snapshot().Channels[0].Raw); got != 200 {
		t.Fatalf("window should be bounded to 200, got %d", got)
	}
}

func TestPipelineNotchAndReconstruct(t *testing.T) {
	src := stream.NewSynthetic(stream.SyntheticConfig{
		Channels:  2,
		Rate:      200,
		BatchSize: 200,
		Tones:     []stream.Tone{{Frequency: 60, Amplitude: 10}, {Frequency: 10, Amplitude: 1}},
	})
	p, err := NewPipeline(src, nil, nil, nil, Config{
		Notches:     []dsp.Notch{{Frequency: 60, Tolerance: 0.1}},
		Reconstruct: true,
	})
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}
	if p.Rate() != 200 {
		t.Fatalf("nominal rate should seed the estimate, got %v", p.Rate())
	}
	if _, err := p.Step(context.Background()); err != nil {
		t.Fatalf("Step: %v", err)
	}
	for _, ch := range p.Snapshot().Channels {
		if ch.Freqs[60] != 60 || ch.Magnitudes[60] != 0 {
			t.Fatalf("60 Hz bin not suppressed: f=%v m=%v", ch.Freqs[60], ch.Magnitudes[60])
		}
		ref, err := dsp.Analyze(ch.Raw, 200)
		if err != nil {
			t.Fatalf("Analyze: %v", err)
		}
		if ref.Magnitudes[10] == 0 || math.Abs(ch.Magnitudes[10]-ref.Magnitudes[10]) > 1e-12 {
			t.Fatalf("10 Hz bin changed: got %v want %v", ch.Magnitudes[10], ref.Magnitudes[10])
		}
		if len(ch.Filtered) != 200 {
			t.Fatalf("expected filtered series, got %d", len(ch.Filtered))
		}
		for i, v := range ch.Filtered {
			want := math.Sin(2 * math.Pi * 10 * ch.Timestamps[i])
			if math.Abs(v-want) > 1e-9 {
				t.Fatalf("sample %d: got %v want %v", i, v, want)
			}
		}
		if ch.NyquistIndex != 100 {
			t.Fatalf("expected nyquist index 100, got %d", ch.NyquistIndex)
		}
	}
}

func TestOutOfOrderSamplesAreSorted(t *testing.T) {
	src := stream.NewSynthetic(stream.SyntheticConfig{Channels: 1, Rate: 100, BatchSize: 50, Jitter: 0.05, Seed: 3})
	p, _ := NewPipeline(src, nil, nil, nil, Config{WindowSize: 120})
	for i := 0; i < 4; i++ {
		if _, err := p.Step(context.Background()); err != nil {
			t.Fatalf("Step: %v", err)
		}
	}
	ts := p.Snapshot().Channels[0].Timestamps
	if len(ts) != 120 {
		t.Fatalf("expected 120 entries, got %d", len(ts))
	}
	for i := 1; i < len(ts); i++ {
		if ts[i] < ts[i-1] {
			t.Fatalf("window not sorted at %d: %v < %v", i, ts[i], ts[i-1])
		}
	}
}

func TestChannelMismatch(t *testing.T) {
	src := stream.NewSynthetic(stream.SyntheticConfig{Channels: 3})
	_, err := NewPipeline(src, nil, nil, nil, Config{Channels: 2})
	var cfgErr *stream.ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigurationError, got %v", err)
	}

	bad := &scriptedSource{channels: 3, batches: [][]stream.Sample{{{Timestamp: 0, Values: []float64{1, 2}}}}}
	p, err := NewPipeline(bad, nil, nil, nil, Config{})
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}
	if _, err := p.Step(context.Background()); !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigurationError from Step, got %v", err)
	}
	if p.Snapshot() != nil {
		t.Fatalf("nothing should be published")
	}
}

func TestSourceFailureKeepsLastSnapshot(t *testing.T) {
	src := &scriptedSource{
		channels: 1,
		batches:  [][]stream.Sample{{{Timestamp: 0, Values: []float64{1}}}, nil, nil},
		errs:     []error{nil, nil, stream.ErrSourceUnavailable},
	}
	p, _ := NewPipeline(src, nil, nil, nil, Config{})
	ctx := context.Background()

	if ok, err := p.Step(ctx); !ok || err != nil {
		t.Fatalf("first step: %v %v", ok, err)
	}
	first := p.Snapshot()

	if ok, err := p.Step(ctx); ok || err != nil {
		t.Fatalf("stalled step should publish nothing: %v %v", ok, err)
	}
	if _, err := p.Step(ctx); !errors.Is(err, stream.ErrSourceUnavailable) {
		t.Fatalf("expected ErrSourceUnavailable, got %v", err)
	}
	if p.Snapshot() != first {
		t.Fatalf("last snapshot should be retained")
	}
}

func TestPollTimeout(t *testing.T) {
	src := &scriptedSource{channels: 1, block: true}
	p, _ := NewPipeline(src, nil, nil, nil, Config{PollTimeout: 10 * time.Millisecond})
	if _, err := p.Step(context.Background()); !errors.Is(err, stream.ErrSourceUnavailable) {
		t.Fatalf("expected ErrSourceUnavailable, got %v", err)
	}
}

func TestRecordingOrderAndFlag(t *testing.T) {
	batch := []stream.Sample{
		{Timestamp: 3, Values: []float64{30}},
		{Timestamp: 1, Values: []float64{10}},
		{Timestamp: 2, Values: []float64{20}},
	}

	sink := &captureSink{}
	p, _ := NewPipeline(&scriptedSource{channels: 1, batches: [][]stream.Sample{batch}}, sink, nil, nil, Config{Recording: true})
	if _, err := p.Step(context.Background()); err != nil {
		t.Fatalf("Step: %v", err)
	}
	if len(sink.samples) != 3 {
		t.Fatalf("expected 3 recorded samples, got %d", len(sink.samples))
	}
	for i, want := range []float64{1, 2, 3} {
		if sink.samples[i].Timestamp != want {
			t.Fatalf("recorded out of order: %+v", sink.samples)
		}
	}

	idle := &captureSink{}
	p, _ = NewPipeline(&scriptedSource{channels: 1, batches: [][]stream.Sample{batch}}, idle, nil, nil, Config{})
	p.Step(context.Background())
	if len(idle.samples) != 0 {
		t.Fatalf("recording disabled but sink received samples")
	}

	broken := &captureSink{fail: true}
	p, _ = NewPipeline(&scriptedSource{channels: 1, batches: [][]stream.Sample{batch}}, broken, nil, nil, Config{Recording: true})
	if ok, err := p.Step(context.Background()); !ok || err != nil {
		t.Fatalf("sink failures must not stop the cycle: %v %v", ok, err)
	}
	if c := p.SinkCounts(); c.Error != 3 || c.Total != 3 {
		t.Fatalf("unexpected counts %+v", c)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pub := &capturePublisher{hook: func(s *Snapshot) {
		if s.Cycle >= 5 {
			cancel()
		}
	}}
	src := stream.NewSynthetic(stream.SyntheticConfig{Channels: 2, Rate: 50, BatchSize: 5})
	p, _ := NewPipeline(src, nil, pub, nil, Config{})

	if err := p.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if len(pub.snaps) != 5 {
		t.Fatalf("expected 5 snapshots, got %d", len(pub.snaps))
	}
}

func TestRunPropagatesSourceError(t *testing.T) {
	src := &scriptedSource{channels: 1, errs: []error{errors.Join(stream.ErrSourceUnavailable, errors.New("reset by peer"))}}
	p, _ := NewPipeline(src, nil, nil, nil, Config{CycleInterval: time.Millisecond})
	err := p.Run(context.Background())
	if !errors.Is(err, stream.ErrSourceUnavailable) {
		t.Fatalf("expected ErrSourceUnavailable, got %v", err)
	}
}

func TestReattachKeepsHistory(t *testing.T) {
	first := &scriptedSource{channels: 1, batches: [][]stream.Sample{{{Timestamp: 0, Values: []float64{1}}}}}
	p, _ := NewPipeline(first, nil, nil, nil, Config{})
	p.Step(context.Background())

	if err := p.Reattach(&scriptedSource{channels: 2}); err == nil {
		t.Fatalf("expected mismatch error")
	}
	second := &scriptedSource{channels: 1, batches: [][]stream.Sample{{{Timestamp: 1, Values: []float64{2}}}}}
	if err := p.Reattach(second); err != nil {
		t.Fatalf("Reattach: %v", err)
	}
	p.Step(context.Background())
	if got := p.Snapshot().Total; got != 2 {
		t.Fatalf("expected history of 2 samples, got %d", got)
	}
}

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Channels = 1
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
	cfg.ProvisionalRate = -1
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error for negative rate")
	}
}
