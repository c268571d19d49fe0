package corelog

import (
	"sync"
	"testing"
	"time"
)

type capturingDelegate struct {
	mu      sync.Mutex
	batches []Batch
}

func (d *capturingDelegate) DeliverBatch(b Batch) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.batches = append(d.batches, b)
	return nil
}

func (d *capturingDelegate) snapshot() []Batch {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Batch, len(d.batches))
	copy(out, d.batches)
	return out
}

// waitForBatches polls until the delegate has seen n batches or the
// deadline passes; deliveries are asynchronous to the recording side.
func waitForBatches(t *testing.T, d *capturingDelegate, n int) []Batch {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if batches := d.snapshot(); len(batches) >= n {
			return batches
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("delegate saw %d batches, want %d", len(d.snapshot()), n)
	return nil
}

func TestThrottledFlushBySize(t *testing.T) {
	delegate := &capturingDelegate{}
	transport := NewThrottledTransport(3, 0, nil, delegate)
	defer transport.Close()

	for i := 0; i < 5; i++ {
		transport.Record(&Event{Message: Text("x")})
	}

	batches := waitForBatches(t, delegate, 1)
	if batches[0].Reason != FlushSize || len(batches[0].Items) != 3 {
		t.Errorf("batch = %+v, want reason=size len=3", batches[0])
	}

	transport.Flush()
	batches = waitForBatches(t, delegate, 2)
	if batches[1].Reason != FlushManual || len(batches[1].Items) != 2 {
		t.Errorf("second batch = %+v, want reason=manual len=2", batches[1])
	}
}

func TestThrottledFlushTwiceWhenEmptyIsNoOp(t *testing.T) {
	delegate := &capturingDelegate{}
	transport := NewThrottledTransport(10, 0, nil, delegate)

	transport.Flush()
	transport.Flush()

	if got := len(delegate.snapshot()); got != 0 {
		t.Errorf("got %d batches from an empty transport, want 0", got)
	}
}

func TestThrottledFlushByInterval(t *testing.T) {
	delegate := &capturingDelegate{}
	transport := NewThrottledTransport(100, 20*time.Millisecond, nil, delegate)
	defer transport.Close()

	transport.Record(&Event{Message: Text("x")})

	deadline := time.After(500 * time.Millisecond)
	for {
		if len(delegate.snapshot()) > 0 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("interval flush did not fire")
		case <-time.After(10 * time.Millisecond):
		}
	}

	batches := delegate.snapshot()
	if batches[0].Reason != FlushInterval {
		t.Errorf("reason = %v, want interval", batches[0].Reason)
	}
}

func TestThrottledCloseFlushesWithShutdownReason(t *testing.T) {
	delegate := &capturingDelegate{}
	transport := NewThrottledTransport(100, 0, nil, delegate)
	transport.Record(&Event{Message: Text("x")})

	transport.Close()

	batches := delegate.snapshot()
	if len(batches) != 1 || batches[0].Reason != FlushShutdown {
		t.Errorf("batches = %+v, want one shutdown batch", batches)
	}
}

// slowDelegate simulates a storage layer whose batch commits take a long
// time, e.g. a database transaction plus a VACUUM.
type slowDelegate struct {
	capturingDelegate
	delay time.Duration
}

func (d *slowDelegate) DeliverBatch(b Batch) error {
	time.Sleep(d.delay)
	return d.capturingDelegate.DeliverBatch(b)
}

func TestThrottledSlowDelegateDoesNotBlockRecord(t *testing.T) {
	delegate := &slowDelegate{delay: 150 * time.Millisecond}
	transport := NewThrottledTransport(1, 0, nil, delegate)

	// flushSize=1: every Record triggers a flush. With the delegate
	// hand-off off-queue, three Records must return in far less time than
	// one delegate delivery takes.
	start := time.Now()
	transport.Record(&Event{Message: Text("a")})
	transport.Record(&Event{Message: Text("b")})
	transport.Record(&Event{Message: Text("c")})
	elapsed := time.Since(start)

	if elapsed >= delegate.delay {
		t.Errorf("3 records took %v, blocked behind the %v delegate", elapsed, delegate.delay)
	}

	batches := waitForBatches(t, &delegate.capturingDelegate, 3)
	for i, want := range []string{"a", "b", "c"} {
		if got := batches[i].Items[0].Event.Message.String(); got != want {
			t.Errorf("batch %d = %q, want %q (delivery order must follow flush order)", i, got, want)
		}
	}
	transport.Close()
}

func TestThrottledCloseDrainsQueuedBatches(t *testing.T) {
	delegate := &slowDelegate{delay: 50 * time.Millisecond}
	transport := NewThrottledTransport(1, 0, nil, delegate)

	transport.Record(&Event{Message: Text("queued")})
	transport.Record(&Event{Message: Text("pending")})
	transport.Close()

	// Close must not return before every flushed batch reached the
	// delegate.
	batches := delegate.snapshot()
	if len(batches) != 2 {
		t.Errorf("Close returned with %d of 2 batches delivered", len(batches))
	}
}
