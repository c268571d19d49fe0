package corelog

import (
	"sync"
	"time"
)

// FlushReason identifies why a ThrottledTransport released a batch.
type FlushReason int

const (
	FlushSize FlushReason = iota
	FlushInterval
	FlushManual
	FlushShutdown
)

func (r FlushReason) String() string {
	switch r {
	case FlushSize:
		return "size"
	case FlushInterval:
		return "interval"
	case FlushManual:
		return "manual"
	case FlushShutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}

// Batch is one flushed group of (event, formatted message) pairs handed to
// a ThrottledTransport's delegate.
type Batch struct {
	Items  []BufferItem
	Reason FlushReason
}

// BatchDelegate receives flushed batches off the throttled transport's
// queue, so a slow delegate (e.g. a SQLite insert) never backs up
// producers submitting new events.
type BatchDelegate interface {
	DeliverBatch(batch Batch) error
}

// BatchDelegateFunc adapts a plain function to BatchDelegate.
type BatchDelegateFunc func(batch Batch) error

// DeliverBatch implements BatchDelegate.
func (f BatchDelegateFunc) DeliverBatch(batch Batch) error { return f(batch) }

// ThrottledTransport formats each event once, accumulates (event, message)
// pairs, and flushes to a delegate when a size, interval, or manual
// trigger fires. Flushed batches are handed to a dedicated delivery
// goroutine, so a slow delegate never blocks the transport's queue
// worker and, through it, the manager's accept queue.
type ThrottledTransport struct {
	*BaseTransport

	Formatter Formatter
	Delegate  BatchDelegate
	OnError   ErrorHandler

	mu            sync.Mutex
	buffer        []BufferItem
	flushSize     int
	flushInterval time.Duration
	timer         *time.Timer
	closed        bool
	sending       sync.WaitGroup

	deliveries chan Batch
	quit       chan struct{}
	done       chan struct{}
}

// NewThrottledTransport returns a ThrottledTransport that flushes at
// flushSize items or after flushInterval has elapsed since the last
// flush, whichever comes first. Delivery to delegate runs on the
// transport's delivery goroutine, off its work queue, preserving batch
// order.
func NewThrottledTransport(flushSize int, flushInterval time.Duration, formatter Formatter, delegate BatchDelegate) *ThrottledTransport {
	if flushSize < 1 {
		flushSize = 1
	}
	t := &ThrottledTransport{
		BaseTransport: NewBaseTransport(NewSerialQueue(256)),
		Formatter:     formatter,
		Delegate:      delegate,
		flushSize:     flushSize,
		flushInterval: flushInterval,
		buffer:        make([]BufferItem, 0, flushSize),
		deliveries:    make(chan Batch, 16),
		quit:          make(chan struct{}),
		done:          make(chan struct{}),
	}
	go t.deliveryLoop()
	if flushInterval > 0 {
		t.timer = time.AfterFunc(flushInterval, t.timedFlush)
	}
	return t
}

// Record implements Transport. It is invoked on the transport's own
// queue by the TransportManager (inline on the submitting goroutine when
// the manager is synchronous); the mutex serializes buffer mutation
// against other Record calls and the flush timer.
func (t *ThrottledTransport) Record(event *Event) bool {
	var msg SerializableData
	if t.Formatter != nil {
		m, err := t.Formatter.Format(event)
		if err != nil {
			t.reportError(ErrStorage, err)
			return false
		}
		msg = m
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return false
	}
	t.buffer = append(t.buffer, BufferItem{Event: event, Message: msg})
	shouldFlush := len(t.buffer) >= t.flushSize
	t.mu.Unlock()

	if shouldFlush {
		t.flush(FlushSize)
	}
	return true
}

func (t *ThrottledTransport) timedFlush() {
	t.mu.Lock()
	empty := len(t.buffer) == 0
	t.mu.Unlock()
	if !empty {
		t.flush(FlushInterval)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.timer != nil && !t.closed {
		t.timer.Reset(t.flushInterval)
	}
}

// Flush hands any buffered items to the delivery goroutine immediately,
// with reason=manual. Calling Flush twice in a row on an empty transport
// is a no-op.
func (t *ThrottledTransport) Flush() {
	t.flush(FlushManual)
}

// flush swaps the buffer out under the lock, then hands the batch to the
// delivery goroutine. The hand-off is cheap (a channel send), so callers
// on the transport queue are never stalled behind the delegate.
func (t *ThrottledTransport) flush(reason FlushReason) {
	t.mu.Lock()
	if t.closed || len(t.buffer) == 0 {
		t.mu.Unlock()
		return
	}
	items := t.buffer
	t.buffer = make([]BufferItem, 0, t.flushSize)
	if t.timer != nil {
		t.timer.Reset(t.flushInterval)
	}
	t.sending.Add(1)
	t.mu.Unlock()

	t.deliveries <- Batch{Items: items, Reason: reason}
	t.sending.Done()
}

// deliveryLoop is the single consumer of flushed batches, so the delegate
// observes them in flush order. On shutdown it drains anything already
// queued before exiting.
func (t *ThrottledTransport) deliveryLoop() {
	defer close(t.done)
	for {
		select {
		case b := <-t.deliveries:
			t.deliver(b)
		case <-t.quit:
			for {
				select {
				case b := <-t.deliveries:
					t.deliver(b)
				default:
					return
				}
			}
		}
	}
}

func (t *ThrottledTransport) deliver(b Batch) {
	if t.Delegate == nil {
		return
	}
	if err := t.Delegate.DeliverBatch(b); err != nil {
		t.reportError(ErrStorage, err)
	}
}

// Close stops the timer, waits for queued batches to drain, then delivers
// any remaining items with reason=shutdown before returning.
func (t *ThrottledTransport) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	if t.timer != nil {
		t.timer.Stop()
	}
	t.mu.Unlock()

	// Wait out any in-flight hand-off, then stop the delivery goroutine;
	// it drains the channel on its way out.
	t.sending.Wait()
	close(t.quit)
	<-t.done

	t.mu.Lock()
	items := t.buffer
	t.buffer = nil
	t.mu.Unlock()
	if len(items) > 0 {
		t.deliver(Batch{Items: items, Reason: FlushShutdown})
	}
}

func (t *ThrottledTransport) reportError(kind ErrorKind, err error) {
	if t.OnError != nil {
		t.OnError(NewTransportError("throttled", kind, err))
	}
}
