package transfer

import (
	"io"
	"sync"
)

// Progress is a snapshot of an upload's byte count.
type Progress struct {
	BytesTransferred int64
	BytesTotal       int64
}

// ProgressFunc receives progress updates. It is called from the uploading
// goroutine and must not block.
type ProgressFunc func(Progress)

// progressTracker forwards updates to a ProgressFunc, dropping any value
// lower than one already reported.
type progressTracker struct {
	mu       sync.Mutex
	fn       ProgressFunc
	total    int64
	last     int64
	reported bool
}

func newProgressTracker(fn ProgressFunc, total int64) *progressTracker {
	return &progressTracker{fn: fn, total: total}
}

func (t *progressTracker) report(n int64) {
	if t == nil || t.fn == nil {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.reported && n <= t.last {
		return
	}

	t.last = n
	t.reported = true
	t.fn(Progress{BytesTransferred: n, BytesTotal: t.total})
}

// countingReader reports bytes as the HTTP transport consumes them.
type countingReader struct {
	r       io.Reader
	n       int64
	tracker *progressTracker
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	if n > 0 {
		c.n += int64(n)
		c.tracker.report(c.n)
	}

	return n, err
}
