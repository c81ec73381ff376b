package telemetry

import (
	"sort"
	"sync"

	"github.com/ary1234554321/Neurosurf/internal/logging"
)

const defaultHistoryLimit = 500

// Hub keeps the latest snapshot per stream plus a bounded summary history,
// and fans summaries out to live subscribers.
type Hub struct {
	mu           sync.RWMutex
	latest       map[string]*Snapshot
	configs      map[string]any
	history      []Summary
	historyLimit int
	subscribers  map[chan Summary]struct{}
	logger       logging.Logger
}

// NewHub builds a telemetry hub with the provided history limit.
func NewHub(historyLimit int, logger logging.Logger) *Hub {
	if historyLimit <= 0 {
		historyLimit = defaultHistoryLimit
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Hub{
		latest:       make(map[string]*Snapshot),
		configs:      make(map[string]any),
		historyLimit: historyLimit,
		subscribers:  make(map[chan Summary]struct{}),
		logger:       logger.With(logging.F("subsystem", "telemetry")),
	}
}

// Report implements Reporter. Snapshots must not be modified afterwards.
func (h *Hub) Report(s *Snapshot) {
	if s == nil {
		return
	}
	sum := s.Summarize()

	h.mu.Lock()
	h.latest[s.Stream] = s
	h.history = append(h.history, sum)
	if len(h.history) > h.historyLimit {
		h.history = h.history[len(h.history)-h.historyLimit:]
	}
	dropped := 0
	for ch := range h.subscribers {
		select {
		case ch <- sum:
		default:
			dropped++
		}
	}
	h.mu.Unlock()
	if dropped > 0 {
		h.logger.Debug("slow live subscribers skipped", logging.F("count", dropped))
	}
}

// Latest returns the newest snapshot of stream. An empty name selects the
// only stream, or the first one in name order.
func (h *Hub) Latest(stream string) *Snapshot {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if stream != "" {
		return h.latest[stream]
	}
	names := h.streamsLocked()
	if len(names) == 0 {
		return nil
	}
	return h.latest[names[0]]
}

// Streams lists every stream that has published, sorted by name.
func (h *Hub) Streams() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.streamsLocked()
}

func (h *Hub) streamsLocked() []string {
	names := make([]string, 0, len(h.latest))
	for name := range h.latest {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// History returns a copy of stored summaries.
func (h *Hub) History() []Summary {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]Summary, len(h.history))
	copy(out, h.history)
	return out
}

// SetConfig exposes a stream's effective configuration on /api/config.
func (h *Hub) SetConfig(stream string, cfg any) {
	h.mu.Lock()
	h.configs[stream] = cfg
	h.mu.Unlock()
}

// Configs returns a copy of the registered configurations.
func (h *Hub) Configs() map[string]any {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make(map[string]any, len(h.configs))
	for k, v := range h.configs {
		out[k] = v
	}
	return out
}

// Subscribe registers a listener for live updates.
func (h *Hub) Subscribe() (chan Summary, func()) {
	ch := make(chan Summary, 16)
	h.mu.Lock()
	h.subscribers[ch] = struct{}{}
	h.mu.Unlock()
	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subscribers, ch)
			close(ch)
			h.mu.Unlock()
		})
	}
	return ch, cancel
}
