package stream

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/ary1234554321/Neurosurf/internal/logging"
)

const (
	WebSocketName = "websocket"

	defaultReadLimit = 1 << 20
)

// Chunk is the JSON frame accepted by the WebSocket connector. Timestamps
// are absolute unix seconds, Samples[i] holds the channel values for
// Timestamps[i].
type Chunk struct {
	Timestamps []float64   `json:"timestamps"`
	Samples    [][]float64 `json:"samples"`
}

// WebSocketConfig configures the WebSocket connector.
type WebSocketConfig struct {
	URL         string
	Channels    int
	NominalRate float64
	MaxWait     time.Duration
	QueueLimit  int
	ReadLimit   int64
	Origin      time.Time
	Logger      logging.Logger
}

// WebSocketSource receives sample chunks pushed by a remote outlet.
type WebSocketSource struct {
	cfg    WebSocketConfig
	conn   *websocket.Conn
	feed   *feed
	logger logging.Logger

	cancel    context.CancelFunc
	closing   atomic.Bool
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// DialWebSocket connects to cfg.URL and starts reading frames.
func DialWebSocket(ctx context.Context, cfg WebSocketConfig) (*WebSocketSource, error) {
	if cfg.URL == "" {
		return nil, errors.New("websocket source: url is required")
	}
	conn, resp, err := websocket.Dial(ctx, cfg.URL, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", ErrSourceUnavailable, cfg.URL, err)
	}
	if cfg.ReadLimit <= 0 {
		cfg.ReadLimit = defaultReadLimit
	}
	conn.SetReadLimit(cfg.ReadLimit)
	if cfg.Origin.IsZero() {
		cfg.Origin = time.Now()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}

	readCtx, cancel := context.WithCancel(context.Background())
	s := &WebSocketSource{
		cfg:    cfg,
		conn:   conn,
		feed:   newFeed(cfg.QueueLimit),
		logger: logger.With(logging.F("subsystem", "stream"), logging.F("source", WebSocketName)),
		cancel: cancel,
	}
	s.wg.Add(1)
	go s.read(readCtx)
	return s, nil
}

func (s *WebSocketSource) Name() string         { return WebSocketName }
func (s *WebSocketSource) Channels() int        { return s.cfg.Channels }
func (s *WebSocketSource) NominalRate() float64 { return s.cfg.NominalRate }

// Poll returns every sample received since the last poll.
func (s *WebSocketSource) Poll(ctx context.Context) ([]Sample, error) {
	return s.feed.drain(ctx, s.cfg.MaxWait)
}

// Close stops the reader and closes the connection.
func (s *WebSocketSource) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.closing.Store(true)
		err = s.conn.Close(websocket.StatusNormalClosure, "closing")
		s.cancel()
		s.wg.Wait()
	})
	return err
}

func (s *WebSocketSource) read(ctx context.Context) {
	defer s.wg.Done()
	for {
		var chunk Chunk
		if err := wsjson.Read(ctx, s.conn, &chunk); err != nil {
			if s.closing.Load() || ctx.Err() != nil {
				s.feed.fail(errors.New("source closed"))
				return
			}
			s.logger.Warn("websocket stream ended", logging.F("err", err))
			s.feed.fail(err)
			return
		}
		samples, err := chunk.decode(s.cfg.Origin)
		if err != nil {
			s.logger.Warn("dropping malformed chunk", logging.F("err", err))
			continue
		}
		s.feed.push(samples...)
	}
}

func (c Chunk) decode(origin time.Time) ([]Sample, error) {
	if len(c.Timestamps) != len(c.Samples) {
		return nil, fmt.Errorf("chunk has %d timestamps but %d samples", len(c.Timestamps), len(c.Samples))
	}
	out := make([]Sample, len(c.Samples))
	for i, values := range c.Samples {
		out[i] = Sample{
			Timestamp: relative(c.Timestamps[i], origin),
			Values:    append([]float64(nil), values...),
		}
	}
	return out, nil
}
