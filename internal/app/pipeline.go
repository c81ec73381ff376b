package app

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ary1234554321/Neurosurf/internal/buffer"
	"github.com/ary1234554321/Neurosurf/internal/dsp"
	"github.com/ary1234554321/Neurosurf/internal/logging"
	"github.com/ary1234554321/Neurosurf/internal/rate"
	"github.com/ary1234554321/Neurosurf/internal/record"
	"github.com/ary1234554321/Neurosurf/internal/stream"
	"github.com/ary1234554321/Neurosurf/internal/telemetry"
)

const sinkCountInfo = 1000

type (
	Snapshot        = telemetry.Snapshot
	ChannelSnapshot = telemetry.ChannelSnapshot
	// Publisher receives every snapshot right after it becomes current.
	Publisher = telemetry.Reporter
)

// Pipeline wires a source into the windowed spectral analysis loop.
type Pipeline struct {
	src    stream.Source
	sink   record.Sink
	pub    Publisher
	logger logging.Logger
	cfg    Config

	buf   *buffer.SampleBuffer
	est   *rate.Estimator
	tr    *dsp.Transformer
	clock func() time.Time

	start  time.Time
	cycle  uint64
	latest atomic.Pointer[Snapshot]

	countsMu sync.Mutex
	counts   record.Counts
}

// NewPipeline validates cfg against the source. sink and pub may be nil.
func NewPipeline(src stream.Source, sink record.Sink, pub Publisher, logger logging.Logger, cfg Config) (*Pipeline, error) {
	if src == nil {
		return nil, errors.New("pipeline: source is required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.Channels <= 0 {
		cfg.Channels = src.Channels()
	}
	if n := src.Channels(); n > 0 && n != cfg.Channels {
		return nil, &stream.ConfigurationError{Source: src.Name(), Expected: cfg.Channels, Got: n}
	}
	if cfg.ProvisionalRate == 0 {
		if h, ok := src.(stream.RateHinter); ok && h.NominalRate() > 0 {
			cfg.ProvisionalRate = h.NominalRate()
		}
	}
	if cfg.Stream == "" {
		cfg.Stream = src.Name()
	}
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("pipeline config: %w", err)
	}

	buf, err := buffer.New(cfg.Channels, cfg.WindowSize)
	if err != nil {
		return nil, err
	}
	var opts []dsp.Option
	if cfg.Taper {
		opts = append(opts, dsp.WithHamming())
	}
	return &Pipeline{
		src:    src,
		sink:   sink,
		pub:    pub,
		logger: logger.With(logging.F("subsystem", "pipeline"), logging.F("stream", cfg.Stream)),
		cfg:    cfg,
		buf:    buf,
		est:    rate.New(cfg.ProvisionalRate, cfg.SettleDuration),
		tr:     dsp.NewTransformer(opts...),
		clock:  time.Now,
	}, nil
}

// WithClock replaces the wall clock used for rate estimation.
func (p *Pipeline) WithClock(clock func() time.Time) *Pipeline {
	if clock != nil {
		p.clock = clock
	}
	return p
}

// Config returns the effective configuration.
func (p *Pipeline) Config() Config { return p.cfg }

// Rate returns the current rate estimate in Hz.
func (p *Pipeline) Rate() float64 { return p.est.Rate() }

// Snapshot returns the latest published snapshot, nil before the first one.
func (p *Pipeline) Snapshot() *Snapshot { return p.latest.Load() }

// SinkCounts reports recording outcomes so far.
func (p *Pipeline) SinkCounts() record.Counts {
	p.countsMu.Lock()
	defer p.countsMu.Unlock()
	return p.counts
}

// Reattach swaps in a new source, e.g. after a reconnect. Buffered history
// and the rate estimate are kept.
func (p *Pipeline) Reattach(src stream.Source) error {
	if src == nil {
		return errors.New("pipeline: source is required")
	}
	if n := src.Channels(); n > 0 && n != p.cfg.Channels {
		return &stream.ConfigurationError{Source: src.Name(), Expected: p.cfg.Channels, Got: n}
	}
	p.src = src
	return nil
}

// Step runs one ingestion cycle. published is false when nothing new was
// analysed; the previous snapshot stays current in that case.
func (p *Pipeline) Step(ctx context.Context) (published bool, err error) {
	if p.start.IsZero() {
		p.start = p.clock()
	}

	samples, err := p.poll(ctx)
	if err != nil {
		return false, err
	}
	if len(samples) == 0 {
		return false, nil
	}
	for _, s := range samples {
		if err := stream.CheckChannels(p.src.Name(), s, p.cfg.Channels); err != nil {
			return false, err
		}
	}
	for _, s := range samples {
		if err := p.buf.Append(s); err != nil {
			return false, err
		}
	}
	if p.cfg.Recording && p.sink != nil {
		p.record(ctx, samples)
	}

	now := p.clock()
	rateHz := p.est.Update(now.Sub(p.start), p.buf.Total())

	rows := p.buf.Rows()
	if len(rows.Timestamps) == 0 {
		return false, nil
	}
	channels := make([]ChannelSnapshot, p.cfg.Channels)
	for ch := range channels {
		sp, err := p.tr.Analyze(rows.Values[ch], rateHz)
		if errors.Is(err, dsp.ErrEmptyWindow) {
			return false, nil
		}
		if err != nil {
			return false, fmt.Errorf("analyze channel %d: %w", ch, err)
		}
		if sp.Degenerate {
			p.logger.Debug("degenerate spectrum", logging.F("channel", ch))
		}
		sp.Suppress(p.cfg.Notches...)
		snap := ChannelSnapshot{
			Timestamps:   rows.Timestamps,
			Raw:          rows.Values[ch],
			Freqs:        sp.Freqs,
			Magnitudes:   sp.Magnitudes,
			NyquistIndex: sp.NyquistIndex,
			Degenerate:   sp.Degenerate,
		}
		if p.cfg.Reconstruct {
			snap.Filtered = p.tr.Reconstruct(sp.Coefficients)
		}
		channels[ch] = snap
	}

	p.cycle++
	snap := &Snapshot{
		Stream:   p.cfg.Stream,
		Cycle:    p.cycle,
		Time:     now,
		Rate:     rateHz,
		Settled:  p.est.Settled(),
		Total:    p.buf.Total(),
		Channels: channels,
	}
	p.latest.Store(snap)
	if p.pub != nil {
		p.pub.Report(snap)
	}
	p.logger.Debug("cycle complete",
		logging.F("cycle", p.cycle),
		logging.F("samples", len(samples)),
		logging.F("window", len(rows.Timestamps)),
		logging.F("rate_hz", rateHz),
	)
	return true, nil
}

func (p *Pipeline) poll(ctx context.Context) ([]stream.Sample, error) {
	pollCtx := ctx
	if p.cfg.PollTimeout > 0 {
		var cancel context.CancelFunc
		pollCtx, cancel = context.WithTimeout(ctx, p.cfg.PollTimeout)
		defer cancel()
	}
	samples, err := p.src.Poll(pollCtx)
	if err == nil {
		return samples, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return nil, fmt.Errorf("%w: %s poll timed out after %s", stream.ErrSourceUnavailable, p.src.Name(), p.cfg.PollTimeout)
	}
	return nil, fmt.Errorf("poll %s: %w", p.src.Name(), err)
}

// record writes the batch to the sink in timestamp order. Failures are
// logged and counted, never returned.
func (p *Pipeline) record(ctx context.Context, samples []stream.Sample) {
	ordered := make([]stream.Sample, len(samples))
	copy(ordered, samples)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Timestamp < ordered[j].Timestamp
	})
	for _, s := range ordered {
		err := p.sink.Write(ctx, s)
		p.countsMu.Lock()
		p.counts.Add(err)
		counts := p.counts
		p.countsMu.Unlock()
		if err != nil {
			p.logger.Warn("error recording sample", logging.F("err", err))
			continue
		}
		if counts.Total%sinkCountInfo == 0 {
			p.logger.Info("sample export counts", logging.F("counts", counts))
		}
	}
}

// Run repeats Step until ctx is cancelled or the source fails. It performs
// no retries.
func (p *Pipeline) Run(ctx context.Context) error {
	var tick <-chan time.Time
	if p.cfg.CycleInterval > 0 {
		ticker := time.NewTicker(p.cfg.CycleInterval)
		defer ticker.Stop()
		tick = ticker.C
	}
	p.logger.Info("pipeline started",
		logging.F("channels", p.cfg.Channels),
		logging.F("window", p.cfg.WindowSize),
		logging.F("provisional_rate", p.cfg.ProvisionalRate),
	)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if _, err := p.Step(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		if tick == nil {
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tick:
		}
	}
}
