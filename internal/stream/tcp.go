package stream

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"math"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ary1234554321/Neurosurf/internal/logging"
)

const (
	TCPName = "tcp"

	maxLineLen = 1 << 20
)

// TCPConfig configures a line-oriented TCP connector.
//
// Each line carries one sample: an absolute unix timestamp in seconds
// followed by one value per channel, separated by commas or whitespace.
// Empty lines and lines starting with '#' are ignored.
type TCPConfig struct {
	Address     string
	Channels    int
	NominalRate float64
	DialTimeout time.Duration
	// MaxWait bounds how long Poll waits for the first sample.
	MaxWait    time.Duration
	QueueLimit int
	// Origin is subtracted from incoming timestamps. Defaults to connect time.
	Origin time.Time
	Logger logging.Logger
}

// TCPSource reads samples streamed over a TCP connection.
type TCPSource struct {
	cfg    TCPConfig
	conn   net.Conn
	feed   *feed
	logger logging.Logger

	closeOnce sync.Once
	done      chan struct{}
}

// DialTCP connects to cfg.Address and starts reading.
func DialTCP(ctx context.Context, cfg TCPConfig) (*TCPSource, error) {
	if cfg.Address == "" {
		return nil, errors.New("tcp source: address is required")
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 5 * time.Second
	}
	d := net.Dialer{Timeout: cfg.DialTimeout}
	conn, err := d.DialContext(ctx, "tcp", cfg.Address)
	if err != nil {
		return nil, fmt.Errorf("%w: connect %s: %v", ErrSourceUnavailable, cfg.Address, err)
	}
	return NewTCPSource(conn, cfg), nil
}

// NewTCPSource wraps an established connection (tests, tunnels, etc.).
func NewTCPSource(conn net.Conn, cfg TCPConfig) *TCPSource {
	if cfg.Origin.IsZero() {
		cfg.Origin = time.Now()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	s := &TCPSource{
		cfg:    cfg,
		conn:   conn,
		feed:   newFeed(cfg.QueueLimit),
		logger: logger.With(logging.F("subsystem", "stream"), logging.F("source", TCPName)),
		done:   make(chan struct{}),
	}
	go s.read()
	return s
}

func (s *TCPSource) Name() string         { return TCPName }
func (s *TCPSource) Channels() int        { return s.cfg.Channels }
func (s *TCPSource) NominalRate() float64 { return s.cfg.NominalRate }
func (s *TCPSource) Dropped() int         { return s.feed.Dropped() }

// Poll returns every sample received since the last poll.
func (s *TCPSource) Poll(ctx context.Context) ([]Sample, error) {
	return s.feed.drain(ctx, s.cfg.MaxWait)
}

// Close stops the reader and closes the connection.
func (s *TCPSource) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		err = s.conn.Close()
	})
	return err
}

func (s *TCPSource) read() {
	scanner := bufio.NewScanner(s.conn)
	scanner.Buffer(make([]byte, 0, 4096), maxLineLen)
	for scanner.Scan() {
		sample, ok, err := parseLine(scanner.Text(), s.cfg.Origin)
		if err != nil {
			s.logger.Warn("error parsing line", logging.F("err", err))
			continue
		}
		if ok {
			s.feed.push(sample)
		}
	}
	select {
	case <-s.done:
		s.feed.fail(errors.New("source closed"))
		return
	default:
	}
	err := scanner.Err()
	if err == nil {
		err = errors.New("connection closed by peer")
	}
	s.logger.Warn("tcp stream ended", logging.F("err", err))
	s.feed.fail(err)
}

// parseLine decodes one wire line. ok is false for lines carrying no sample.
func parseLine(line string, origin time.Time) (Sample, bool, error) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return Sample{}, false, nil
	}
	fields := strings.FieldsFunc(line, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == ';'
	})
	if len(fields) < 2 {
		return Sample{}, false, fmt.Errorf("line %q: need a timestamp and at least one value", line)
	}
	ts, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return Sample{}, false, fmt.Errorf("timestamp %q: %w", fields[0], err)
	}
	values := make([]float64, len(fields)-1)
	for i, f := range fields[1:] {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return Sample{}, false, fmt.Errorf("value %d %q: %w", i, f, err)
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return Sample{}, false, fmt.Errorf("value %d %q is not finite", i, f)
		}
		values[i] = v
	}
	return Sample{Timestamp: relative(ts, origin), Values: values}, true, nil
}
