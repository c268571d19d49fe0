package corelog

import (
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
)

// fakeNATSConn records publishes in place of a live broker.
type fakeNATSConn struct {
	mu        sync.Mutex
	subjects  []string
	published [][]byte
	flushes   int
	drains    int
}

func (c *fakeNATSConn) Publish(subject string, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subjects = append(c.subjects, subject)
	cp := append([]byte(nil), data...)
	c.published = append(c.published, cp)
	return nil
}

func (c *fakeNATSConn) Flush() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.flushes++
	return nil
}

func (c *fakeNATSConn) Drain() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.drains++
	return nil
}

func (c *fakeNATSConn) snapshot() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.published))
	copy(out, c.published)
	return out
}

func TestNATSTransportURIParsing(t *testing.T) {
	tests := []struct {
		name          string
		uri           string
		expectError   bool
		expectSubject string
		expectQueue   string
		expectAsync   bool
		expectBatch   int
		expectFlush   time.Duration
	}{
		{
			name:          "basic URI",
			uri:           "nats://localhost:4222/logs.app",
			expectSubject: "logs.app",
			expectAsync:   true,
			expectBatch:   1,
			expectFlush:   100 * time.Millisecond,
		},
		{
			name:          "URI with queue group",
			uri:           "nats://localhost:4222/logs.app?queue=workers",
			expectSubject: "logs.app",
			expectQueue:   "workers",
			expectAsync:   true,
			expectBatch:   1,
			expectFlush:   100 * time.Millisecond,
		},
		{
			name:          "URI with async disabled",
			uri:           "nats://localhost:4222/logs.app?async=false",
			expectSubject: "logs.app",
			expectAsync:   false,
			expectBatch:   1,
			expectFlush:   100 * time.Millisecond,
		},
		{
			name:          "URI with batch and flush interval",
			uri:           "nats://localhost:4222/logs.app?batch=50&flush_interval_ms=250",
			expectSubject: "logs.app",
			expectAsync:   true,
			expectBatch:   50,
			expectFlush:   250 * time.Millisecond,
		},
		{
			name:        "invalid scheme",
			uri:         "http://localhost:4222/logs.app",
			expectError: true,
		},
		{
			name:        "unparseable URI",
			uri:         "nats://bad\x00host/x",
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// A non-nil conn skips dialing, so parsing is testable with no
			// broker.
			transport, err := NewNATSTransport(tt.uri, nil, &nats.Conn{})

			if tt.expectError {
				if err == nil {
					t.Error("expected an error")
				}
				return
			}
			if err != nil {
				t.Fatalf("NewNATSTransport: %v", err)
			}
			t.Cleanup(func() {
				if transport.timer != nil {
					transport.timer.Stop()
				}
			})

			if transport.subject != tt.expectSubject {
				t.Errorf("subject = %q, want %q", transport.subject, tt.expectSubject)
			}
			if transport.queueGroup != tt.expectQueue {
				t.Errorf("queueGroup = %q, want %q", transport.queueGroup, tt.expectQueue)
			}
			if transport.async != tt.expectAsync {
				t.Errorf("async = %v, want %v", transport.async, tt.expectAsync)
			}
			if transport.batchSize != tt.expectBatch {
				t.Errorf("batchSize = %d, want %d", transport.batchSize, tt.expectBatch)
			}
			if transport.flushInterval != tt.expectFlush {
				t.Errorf("flushInterval = %v, want %v", transport.flushInterval, tt.expectFlush)
			}
			if transport.ownsConn {
				t.Error("supplied connection marked as owned")
			}
		})
	}
}

func newFakeNATSTransport(async bool, batchSize int) (*NATSTransport, *fakeNATSConn) {
	conn := &fakeNATSConn{}
	transport := &NATSTransport{
		BaseTransport: NewBaseTransport(NewSyncQueue()),
		subject:       "logs.app",
		async:         async,
		batchSize:     batchSize,
		flushInterval: 100 * time.Millisecond,
		conn:          conn,
	}
	return transport, conn
}

func TestNATSTransportSynchronousPublish(t *testing.T) {
	transport, conn := newFakeNATSTransport(false, 1)

	transport.Record(&Event{Message: Text("direct")})

	published := conn.snapshot()
	if len(published) != 1 {
		t.Fatalf("published %d messages, want 1", len(published))
	}
	if conn.subjects[0] != "logs.app" {
		t.Errorf("subject = %q", conn.subjects[0])
	}
}

func TestNATSTransportBatchBuffersBelowThreshold(t *testing.T) {
	transport, conn := newFakeNATSTransport(true, 3)

	transport.Record(&Event{Message: Text("one")})
	transport.Record(&Event{Message: Text("two")})

	if got := len(conn.snapshot()); got != 0 {
		t.Errorf("published %d messages below the batch threshold, want 0", got)
	}
	transport.mu.Lock()
	buffered := len(transport.buffer)
	transport.mu.Unlock()
	if buffered != 2 {
		t.Errorf("buffered %d messages, want 2", buffered)
	}
}

func TestNATSTransportBatchFlushesAtThreshold(t *testing.T) {
	transport, conn := newFakeNATSTransport(true, 3)

	transport.Record(&Event{Message: Text("one")})
	transport.Record(&Event{Message: Text("two")})
	transport.Record(&Event{Message: Text("three")})

	if got := len(conn.snapshot()); got != 3 {
		t.Fatalf("published %d messages at the batch threshold, want 3", got)
	}
	if conn.flushes != 1 {
		t.Errorf("conn flushed %d times, want 1", conn.flushes)
	}

	transport.mu.Lock()
	buffered := len(transport.buffer)
	transport.mu.Unlock()
	if buffered != 0 {
		t.Errorf("%d messages left in the buffer after flush", buffered)
	}
}

func TestNATSTransportCloseFlushesBuffer(t *testing.T) {
	transport, conn := newFakeNATSTransport(true, 10)

	transport.Record(&Event{Message: Text("tail")})
	transport.Close()

	if got := len(conn.snapshot()); got != 1 {
		t.Errorf("published %d messages on Close, want 1", got)
	}
	if conn.drains != 0 {
		t.Error("Close drained a connection it does not own")
	}
}

func TestNATSTransportEmptyFlushSkipsConn(t *testing.T) {
	transport, conn := newFakeNATSTransport(true, 10)

	transport.flush()

	if conn.flushes != 0 {
		t.Errorf("conn flushed %d times for an empty buffer, want 0", conn.flushes)
	}
}
