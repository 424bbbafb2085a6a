package sink

import (
	"context"
	"k8s.io/klog/v2"
	"t7stream/pkg/stream"
	"time"
)

// LogSink prints the first scan of a batch at most once per interval.
type LogSink struct {
	interval time.Duration
	now      func() time.Time
	last     time.Time
}

func NewLogSink(interval time.Duration) *LogSink {
	return &LogSink{interval: interval, now: time.Now}
}

func (l *LogSink) Publish(_ context.Context, batch *stream.Batch) error {
	now := l.now()
	if len(batch.Scans) == 0 || now.Sub(l.last) < l.interval {
		return nil
	}
	l.last = now
	first := batch.ScanTotal - float64(len(batch.Scans)) + 1
	klog.InfoS("Scan", "number", first, "volts", batch.Scans[0], "backlogScans", batch.BacklogScans,
		"status", uint16(batch.Status), "additional", batch.Additional)
	return nil
}

func (l *LogSink) Close() error {
	return nil
}
