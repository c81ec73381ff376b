// Package buffer keeps per-channel sample history and serves bounded,
// timestamp-ordered windows from it.
package buffer

import (
	"fmt"
	"sort"
	"sync"

	"github.com/ary1234554321/Neurosurf/internal/stream"
)

// DefaultWindow is the number of most recent arrivals analysed per cycle.
const DefaultWindow = 200

// SampleBuffer stores samples in arrival order. Ordering is never validated
// on Append; windows are sorted when read.
type SampleBuffer struct {
	mu       sync.RWMutex
	channels int
	window   int
	rows     []stream.Sample
	total    int
}

// Rows is a timestamp-ordered window across all channels. Values[ch][i]
// belongs to Timestamps[i].
type Rows struct {
	Timestamps []float64
	Values     [][]float64
}

// New creates a buffer for the given channel count. A non-positive window
// selects DefaultWindow.
func New(channels, window int) (*SampleBuffer, error) {
	if channels <= 0 {
		return nil, fmt.Errorf("buffer: channel count must be positive, got %d", channels)
	}
	if window <= 0 {
		window = DefaultWindow
	}
	return &SampleBuffer{channels: channels, window: window}, nil
}

func (b *SampleBuffer) Channels() int   { return b.channels }
func (b *SampleBuffer) WindowSize() int { return b.window }

// Append stores one sample. A sample with the wrong number of values is
// rejected with a *stream.ConfigurationError and nothing is stored.
func (b *SampleBuffer) Append(s stream.Sample) error {
	if err := stream.CheckChannels("", s, b.channels); err != nil {
		return err
	}
	row := stream.Sample{Timestamp: s.Timestamp, Values: append([]float64(nil), s.Values...)}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.rows = append(b.rows, row)
	b.total++
	if len(b.rows) > 2*b.window {
		kept := make([]stream.Sample, b.window)
		copy(kept, b.rows[len(b.rows)-b.window:])
		b.rows = kept
	}
	return nil
}

// Len reports how many samples the next window will hold.
func (b *SampleBuffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return min(len(b.rows), b.window)
}

// Total reports how many samples were accepted since construction or the
// last Reset.
func (b *SampleBuffer) Total() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.total
}

// Reset drops all history.
func (b *SampleBuffer) Reset() {
	b.mu.Lock()
	b.rows = nil
	b.total = 0
	b.mu.Unlock()
}

// Window returns the most recent arrivals for one channel, sorted by
// timestamp. Equal timestamps keep their arrival order.
func (b *SampleBuffer) Window(channel int) (timestamps, values []float64, err error) {
	if channel < 0 || channel >= b.channels {
		return nil, nil, fmt.Errorf("buffer: channel %d out of range [0,%d)", channel, b.channels)
	}
	rows := b.Rows()
	return rows.Timestamps, rows.Values[channel], nil
}

// Rows returns the same window as Window for every channel with a single
// sort. An empty buffer yields empty slices.
func (b *SampleBuffer) Rows() Rows {
	b.mu.RLock()
	start := max(0, len(b.rows)-b.window)
	recent := make([]stream.Sample, len(b.rows)-start)
	copy(recent, b.rows[start:])
	b.mu.RUnlock()

	sort.SliceStable(recent, func(i, j int) bool {
		return recent[i].Timestamp < recent[j].Timestamp
	})

	out := Rows{
		Timestamps: make([]float64, len(recent)),
		Values:     make([][]float64, b.channels),
	}
	for ch := range out.Values {
		out.Values[ch] = make([]float64, len(recent))
	}
	for i, s := range recent {
		out.Timestamps[i] = s.Timestamp
		for ch, v := range s.Values {
			out.Values[ch][i] = v
		}
	}
	return out
}
