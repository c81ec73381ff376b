package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff"

	"github.com/ary1234554321/Neurosurf/internal/app"
	"github.com/ary1234554321/Neurosurf/internal/logging"
	"github.com/ary1234554321/Neurosurf/internal/mdns"
	"github.com/ary1234554321/Neurosurf/internal/record"
	"github.com/ary1234554321/Neurosurf/internal/stream"
	"github.com/ary1234554321/Neurosurf/internal/telemetry"
)

// target is one stream the CLI runs a pipeline for. open is called again
// after the source is lost.
type target struct {
	name     string
	channels int
	open     func(ctx context.Context) (stream.Source, error)
}

type discoverFunc func(ctx context.Context, service string, timeout time.Duration) ([]mdns.Stream, error)

var discoverStreams discoverFunc = mdns.DiscoverStreams

func selectTargets(ctx context.Context, cfg cliConfig, logger logging.Logger, discover discoverFunc) ([]target, error) {
	switch cfg.source {
	case "synthetic":
		return []target{syntheticTarget(cfg)}, nil
	case "tcp":
		if cfg.address == "" {
			return nil, errors.New("tcp source needs -address")
		}
		return []target{tcpTarget(cfg.address, cfg.address, cfg.channels, cfg.nominalRate, logger)}, nil
	case "ws":
		if cfg.url == "" {
			return nil, errors.New("ws source needs -url")
		}
		return []target{wsTarget(cfg.url, cfg.url, cfg.channels, cfg.nominalRate, logger)}, nil
	case "discover":
		return discoverTargets(ctx, cfg, logger, discover)
	default:
		return nil, fmt.Errorf("unknown source %s", cfg.source)
	}
}

// syntheticTarget hands out one generator for the life of the target so a
// reopen after a timed out poll continues its virtual clock.
func syntheticTarget(cfg cliConfig) target {
	gen := stream.NewSynthetic(stream.SyntheticConfig{
		Channels:  cfg.channels,
		Rate:      cfg.nominalRate,
		Tones:     cfg.tones,
		BatchSize: cfg.batchSize,
		Realtime:  true,
		Jitter:    cfg.jitter,
		Noise:     cfg.noise,
		Seed:      time.Now().UnixNano(),
	})
	return target{
		name:     stream.SyntheticName,
		channels: cfg.channels,
		open: func(context.Context) (stream.Source, error) {
			return gen, nil
		},
	}
}

// Reconnects share one origin so timestamps stay comparable with the
// history already buffered.
func tcpTarget(name, addr string, channels int, nominal float64, logger logging.Logger) target {
	origin := time.Now()
	return target{
		name:     name,
		channels: channels,
		open: func(ctx context.Context) (stream.Source, error) {
			return stream.DialTCP(ctx, stream.TCPConfig{
				Address:     addr,
				Channels:    channels,
				NominalRate: nominal,
				Origin:      origin,
				Logger:      logger,
			})
		},
	}
}

func wsTarget(name, url string, channels int, nominal float64, logger logging.Logger) target {
	origin := time.Now()
	return target{
		name:     name,
		channels: channels,
		open: func(ctx context.Context) (stream.Source, error) {
			return stream.DialWebSocket(ctx, stream.WebSocketConfig{
				URL:         url,
				Channels:    channels,
				NominalRate: nominal,
				Origin:      origin,
				Logger:      logger,
			})
		},
	}
}

// discoverTargets browses for outlets and keeps the eligible ones. Without
// -discover-all only the first is used. The synthetic source stands in when
// nothing usable is found.
func discoverTargets(ctx context.Context, cfg cliConfig, logger logging.Logger, discover discoverFunc) ([]target, error) {
	logger = logger.With(logging.F("subsystem", "discovery"))
	found, err := discover(ctx, mdns.Service, cfg.discoverTimeout)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		logger.Warn("discovery failed", logging.F("err", err))
	}

	var targets []target
	for _, s := range found {
		if ok, reason := mdns.Eligible(s.Info, cfg.discoverType); !ok {
			logger.Info("skipping stream", logging.F("instance", s.Instance), logging.F("reason", reason))
			continue
		}
		endpoint, err := s.Endpoint()
		if err != nil {
			logger.Warn("skipping stream", logging.F("instance", s.Instance), logging.F("err", err))
			continue
		}
		logger.Info("found stream",
			logging.F("name", s.Name()),
			logging.F("endpoint", endpoint),
			logging.F("channels", s.Info.Channels),
			logging.F("rate_hz", s.Info.Rate),
		)
		if s.Info.Transport == mdns.TransportWebSocket {
			targets = append(targets, wsTarget(s.Name(), endpoint, s.Info.Channels, s.Info.Rate, logger))
		} else {
			targets = append(targets, tcpTarget(s.Name(), endpoint, s.Info.Channels, s.Info.Rate, logger))
		}
		if !cfg.discoverAll {
			break
		}
	}
	if len(targets) == 0 {
		logger.Warn("no eligible streams, using synthetic source", logging.F("type", cfg.discoverType))
		return []target{syntheticTarget(cfg)}, nil
	}
	return targets, nil
}

// forTarget adapts the settings for one of n concurrently running targets.
// An explicit sink path is shared by nobody: each target records to
// <base>_<name><ext>.
func (c cliConfig) forTarget(t target, n int) cliConfig {
	if n > 1 && c.sinkPath != "" {
		ext := filepath.Ext(c.sinkPath)
		c.sinkPath = strings.TrimSuffix(c.sinkPath, ext) + "_" + record.SafeName(t.name) + ext
	}
	return c
}

func (c cliConfig) retryPolicy() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 250 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = c.retryMax
	return b
}

// connect opens the target, retrying while the source reports
// ErrSourceUnavailable. Any other error ends the attempt immediately.
func connect(ctx context.Context, t target, policy backoff.BackOff, logger logging.Logger) (stream.Source, error) {
	var (
		src   stream.Source
		fatal error
	)
	op := func() error {
		s, err := t.open(ctx)
		switch {
		case err == nil:
			src = s
			return nil
		case errors.Is(err, stream.ErrSourceUnavailable):
			return err
		default:
			fatal = err
			return nil
		}
	}
	notify := func(err error, wait time.Duration) {
		logger.Warn("source unavailable, retrying", logging.F("err", err), logging.F("retry_in", wait))
	}
	if err := backoff.RetryNotify(op, backoff.WithContext(policy, ctx), notify); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}
	if fatal != nil {
		return nil, fatal
	}
	return src, nil
}

// runTarget drives one pipeline until ctx ends, reattaching a fresh source
// whenever the current one becomes unavailable.
func runTarget(ctx context.Context, t target, cfg cliConfig, hub *telemetry.Hub, pub telemetry.Reporter, logger logging.Logger) error {
	runLog := logger.With(logging.F("subsystem", "runner"), logging.F("stream", t.name))
	policy := cfg.retryPolicy()

	src, err := connect(ctx, t, policy, runLog)
	if err != nil {
		return ignoreCanceled(ctx, fmt.Errorf("%s: %w", t.name, err))
	}

	var sink record.Sink
	if cfg.recording {
		if sink, err = record.Open(ctx, cfg.recordOptions(t.name)); err != nil {
			src.Close()
			return fmt.Errorf("%s: open %s sink: %w", t.name, cfg.sink, err)
		}
	}
	if sink != nil {
		defer func() {
			if err := sink.Close(); err != nil {
				runLog.Warn("close sink", logging.F("err", err))
			}
		}()
	}

	p, err := app.NewPipeline(src, sink, pub, logger, cfg.pipelineConfig(t.name, t.channels))
	if err != nil {
		src.Close()
		return fmt.Errorf("%s: %w", t.name, err)
	}
	if hub != nil {
		hub.SetConfig(t.name, p.Config())
	}

	for {
		err := p.Run(ctx)
		src.Close()
		if ctx.Err() != nil {
			counts := p.SinkCounts()
			runLog.Info("pipeline stopped", logging.F("samples_recorded", counts.Success), logging.F("record_errors", counts.Error))
			return nil
		}
		if !errors.Is(err, stream.ErrSourceUnavailable) {
			return fmt.Errorf("%s: %w", t.name, err)
		}
		runLog.Warn("source lost, reconnecting", logging.F("err", err))
		if src, err = connect(ctx, t, policy, runLog); err != nil {
			return ignoreCanceled(ctx, fmt.Errorf("%s: %w", t.name, err))
		}
		if err := p.Reattach(src); err != nil {
			src.Close()
			return fmt.Errorf("%s: %w", t.name, err)
		}
	}
}

func ignoreCanceled(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return nil
	}
	return err
}
