package progress

import (
	"io"
	"sync/atomic"
	"time"
)

// Writer wraps an io.Writer, reports progress via a callback and remembers when bytes
// last went through, so a watchdog running in another goroutine can detect stalls.
type Writer struct {
	Writer     io.Writer
	Total      int64
	OnProgress func(written int64, total int64)

	written        atomic.Int64
	lastProgress   atomic.Int64 // unix nanoseconds
	lastReport     int64        // bytes since last report
	reportInterval int64        // bytes
}

func NewWriter(w io.Writer, total int64, interval int64, cb func(written int64, total int64)) *Writer {
	pw := &Writer{
		Writer:         w,
		Total:          total,
		OnProgress:     cb,
		reportInterval: interval,
	}
	pw.lastProgress.Store(time.Now().UnixNano())

	return pw
}

func (pw *Writer) Write(p []byte) (int, error) {
	n, err := pw.Writer.Write(p)
	if n > 0 {
		total := pw.written.Add(int64(n))
		pw.lastProgress.Store(time.Now().UnixNano())

		pw.lastReport += int64(n)
		if pw.OnProgress != nil && pw.reportInterval > 0 && pw.lastReport >= pw.reportInterval {
			pw.OnProgress(total, pw.Total)
			pw.lastReport = 0
		}
	}

	return n, err
}

// Written returns the number of bytes written so far.
func (pw *Writer) Written() int64 {
	return pw.written.Load()
}

// LastProgress returns when bytes were last written, or the creation time.
func (pw *Writer) LastProgress() time.Time {
	return time.Unix(0, pw.lastProgress.Load())
}

// Stalled reports whether nothing was written for longer than d.
func (pw *Writer) Stalled(d time.Duration) bool {
	return time.Since(pw.LastProgress()) > d
}
