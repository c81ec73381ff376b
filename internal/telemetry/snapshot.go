package telemetry

import "time"

// ChannelSnapshot is the per-channel render payload of one cycle.
type ChannelSnapshot struct {
	Timestamps   []float64 `json:"timestamps"`
	Raw          []float64 `json:"raw"`
	Freqs        []float64 `json:"freqs"`
	Magnitudes   []float64 `json:"magnitudes"`
	Filtered     []float64 `json:"filtered,omitempty"`
	NyquistIndex int       `json:"nyquistIndex"`
	Degenerate   bool      `json:"degenerate,omitempty"`
}

// Snapshot is published once per cycle and never modified afterwards.
type Snapshot struct {
	Stream   string            `json:"stream"`
	Cycle    uint64            `json:"cycle"`
	Time     time.Time         `json:"time"`
	Rate     float64           `json:"rate"`
	Settled  bool              `json:"settled"`
	Total    int               `json:"total"`
	Channels []ChannelSnapshot `json:"channels"`
}

// Summary is the compact form streamed to live subscribers.
type Summary struct {
	Stream   string    `json:"stream"`
	Cycle    uint64    `json:"cycle"`
	Time     time.Time `json:"time"`
	Rate     float64   `json:"rate"`
	Settled  bool      `json:"settled"`
	Total    int       `json:"total"`
	Window   int       `json:"window"`
	PeakFreq []float64 `json:"peakFreq"`
}

// Summarize extracts the dominant displayed frequency of every channel.
// DC is skipped when there is anything above it.
func (s *Snapshot) Summarize() Summary {
	out := Summary{
		Stream:   s.Stream,
		Cycle:    s.Cycle,
		Time:     s.Time,
		Rate:     s.Rate,
		Settled:  s.Settled,
		Total:    s.Total,
		PeakFreq: make([]float64, len(s.Channels)),
	}
	for i, ch := range s.Channels {
		if i == 0 {
			out.Window = len(ch.Raw)
		}
		out.PeakFreq[i] = peakFrequency(ch)
	}
	return out
}

func peakFrequency(ch ChannelSnapshot) float64 {
	end := min(ch.NyquistIndex+1, len(ch.Magnitudes), len(ch.Freqs))
	start := 0
	if end > 1 {
		start = 1
	}
	best, bestMag := 0.0, -1.0
	for k := start; k < end; k++ {
		if ch.Magnitudes[k] > bestMag {
			best, bestMag = ch.Freqs[k], ch.Magnitudes[k]
		}
	}
	return best
}
