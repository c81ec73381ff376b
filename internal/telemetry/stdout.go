package telemetry

import (
	"github.com/ary1234554321/Neurosurf/internal/logging"
)

// Reporter receives every published snapshot.
type Reporter interface {
	Report(s *Snapshot)
}

// StdoutReporter logs a one-line summary per snapshot.
type StdoutReporter struct {
	logger logging.Logger
	every  uint64
}

// NewStdoutReporter logs every n-th cycle (n <= 1 logs all of them).
func NewStdoutReporter(logger logging.Logger, n int) StdoutReporter {
	if logger == nil {
		logger = logging.Default()
	}
	if n < 1 {
		n = 1
	}
	return StdoutReporter{logger: logger, every: uint64(n)}
}

func (r StdoutReporter) Report(s *Snapshot) {
	if s == nil || (r.every > 1 && s.Cycle%r.every != 0) {
		return
	}
	sum := s.Summarize()
	fields := []logging.Field{
		{Key: "subsystem", Value: "telemetry"},
		{Key: "stream", Value: sum.Stream},
		{Key: "cycle", Value: sum.Cycle},
		{Key: "rate_hz", Value: sum.Rate},
		{Key: "window", Value: sum.Window},
	}
	if sum.Settled {
		fields = append(fields, logging.Field{Key: "settled", Value: true})
	}
	if len(sum.PeakFreq) > 0 {
		fields = append(fields, logging.Field{Key: "peak_hz", Value: sum.PeakFreq})
	}
	r.logger.Info("snapshot", fields...)
}

// MultiReporter fans out snapshots to multiple destinations.
type MultiReporter []Reporter

// Report forwards the snapshot to each configured reporter.
func (m MultiReporter) Report(s *Snapshot) {
	for _, r := range m {
		if r != nil {
			r.Report(s)
		}
	}
}
