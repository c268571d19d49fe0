// Package buffer holds the small byte-handling helpers shared by the
// transports: a batching writer that coalesces line writes into fewer
// syscalls, and pools for the scratch buffers formatters build lines in.
package buffer

import (
	"bufio"
	"errors"
	"sync"
	"time"
)

// ErrClosed is returned when a write is attempted on a closed BatchWriter.
var ErrClosed = errors.New("buffer: BatchWriter is closed")

// BatchWriter coalesces small writes into batches, flushing when the
// pending byte total or entry count reaches a cap, or when flushInterval
// elapses with data pending. The file transport sits on one of these so a
// burst of log lines costs one syscall rather than one per line.
type BatchWriter struct {
	writer        *bufio.Writer
	mu            sync.Mutex
	pending       [][]byte
	pendingBytes  int
	maxBytes      int
	maxEntries    int
	flushTimer    *time.Timer
	flushInterval time.Duration
	closed        bool
	onFlush       func(entries, bytes int)
}

// NewBatchWriter wraps writer with batching caps. A non-positive
// flushInterval disables the periodic flush; size and count caps still
// apply.
func NewBatchWriter(writer *bufio.Writer, maxBytes, maxEntries int, flushInterval time.Duration) *BatchWriter {
	bw := &BatchWriter{
		writer:        writer,
		pending:       make([][]byte, 0, maxEntries),
		maxBytes:      maxBytes,
		maxEntries:    maxEntries,
		flushInterval: flushInterval,
	}
	if flushInterval > 0 {
		bw.flushTimer = time.AfterFunc(flushInterval, bw.timedFlush)
	}
	return bw
}

// Write appends data to the pending batch, flushing if either cap is now
// reached. The data is copied, so the caller may reuse its slice.
func (bw *BatchWriter) Write(data []byte) (int, error) {
	bw.mu.Lock()
	defer bw.mu.Unlock()

	if bw.closed {
		return 0, ErrClosed
	}

	cp := make([]byte, len(data))
	copy(cp, data)
	bw.pending = append(bw.pending, cp)
	bw.pendingBytes += len(cp)

	if bw.pendingBytes >= bw.maxBytes || len(bw.pending) >= bw.maxEntries {
		return len(data), bw.flushLocked()
	}

	if bw.flushTimer != nil {
		bw.flushTimer.Reset(bw.flushInterval)
	}
	return len(data), nil
}

// WriteString is a convenience wrapper for string data.
func (bw *BatchWriter) WriteString(data string) (int, error) {
	return bw.Write([]byte(data))
}

// Flush forces all pending data down to the underlying writer.
func (bw *BatchWriter) Flush() error {
	bw.mu.Lock()
	defer bw.mu.Unlock()
	return bw.flushLocked()
}

func (bw *BatchWriter) flushLocked() error {
	if len(bw.pending) == 0 {
		return nil
	}

	entries, bytes := len(bw.pending), bw.pendingBytes
	for _, data := range bw.pending {
		if _, err := bw.writer.Write(data); err != nil {
			return err
		}
	}
	if err := bw.writer.Flush(); err != nil {
		return err
	}

	bw.pending = bw.pending[:0]
	bw.pendingBytes = 0

	if bw.onFlush != nil {
		bw.onFlush(entries, bytes)
	}
	return nil
}

// SetOnFlush installs a callback invoked after every successful flush with
// the number of entries and bytes written.
func (bw *BatchWriter) SetOnFlush(fn func(entries, bytes int)) {
	bw.mu.Lock()
	defer bw.mu.Unlock()
	bw.onFlush = fn
}

func (bw *BatchWriter) timedFlush() {
	bw.mu.Lock()
	defer bw.mu.Unlock()

	if bw.closed {
		return
	}
	if len(bw.pending) > 0 {
		bw.flushLocked()
	}
	if bw.flushTimer != nil {
		bw.flushTimer.Reset(bw.flushInterval)
	}
}

// Pending reports the current number of buffered entries and bytes.
func (bw *BatchWriter) Pending() (entries, bytes int) {
	bw.mu.Lock()
	defer bw.mu.Unlock()
	return len(bw.pending), bw.pendingBytes
}

// Close flushes any remaining data and stops the timer. Writes after
// Close return ErrClosed.
func (bw *BatchWriter) Close() error {
	bw.mu.Lock()
	defer bw.mu.Unlock()

	if bw.closed {
		return nil
	}
	bw.closed = true
	if bw.flushTimer != nil {
		bw.flushTimer.Stop()
	}
	return bw.flushLocked()
}
