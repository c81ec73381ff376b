package stream

import (
	"context"
	"fmt"
	"sync"
	"time"
)

const (
	defaultMaxWait    = 100 * time.Millisecond
	defaultQueueLimit = 1 << 16
)

// feed is the hand-off between a connector's reader goroutine and Poll.
type feed struct {
	mu      sync.Mutex
	queue   []Sample
	err     error
	limit   int
	dropped int
	notify  chan struct{}
}

func newFeed(limit int) *feed {
	if limit <= 0 {
		limit = defaultQueueLimit
	}
	return &feed{limit: limit, notify: make(chan struct{}, 1)}
}

// push enqueues samples, dropping the oldest ones once the limit is hit.
func (f *feed) push(samples ...Sample) {
	if len(samples) == 0 {
		return
	}
	f.mu.Lock()
	f.queue = append(f.queue, samples...)
	if over := len(f.queue) - f.limit; over > 0 {
		f.queue = f.queue[over:]
		f.dropped += over
	}
	f.mu.Unlock()
	f.signal()
}

// fail records the first transport error; queued samples stay readable.
func (f *feed) fail(err error) {
	f.mu.Lock()
	if f.err == nil {
		f.err = err
	}
	f.mu.Unlock()
	f.signal()
}

func (f *feed) signal() {
	select {
	case f.notify <- struct{}{}:
	default:
	}
}

func (f *feed) take() ([]Sample, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.queue) > 0 {
		out := f.queue
		f.queue = nil
		return out, nil
	}
	if f.err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSourceUnavailable, f.err)
	}
	return nil, nil
}

// Dropped reports how many samples were discarded because nobody polled.
func (f *feed) Dropped() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dropped
}

// drain returns everything queued. With an empty queue it waits up to
// maxWait for the first sample and returns an empty batch on expiry.
func (f *feed) drain(ctx context.Context, maxWait time.Duration) ([]Sample, error) {
	if maxWait <= 0 {
		maxWait = defaultMaxWait
	}
	timer := time.NewTimer(maxWait)
	defer timer.Stop()
	for {
		out, err := f.take()
		if err != nil || len(out) > 0 {
			return out, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
			return nil, nil
		case <-f.notify:
		}
	}
}

// relative converts an absolute unix timestamp in seconds to seconds since
// origin.
func relative(ts float64, origin time.Time) float64 {
	return ts - float64(origin.UnixNano())/float64(time.Second)
}
