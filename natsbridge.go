package corelog

import (
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// natsConn is the slice of *nats.Conn the transport uses, so tests can
// substitute a fake without a live broker.
type natsConn interface {
	Publish(subject string, data []byte) error
	Flush() error
	Drain() error
}

// NATSTransport publishes formatted events to a NATS subject, batching
// publishes when async is enabled with a batch size above 1. The queue group named in the URI is
// advisory: NATS queue semantics apply on the subscriber side, but
// recording it here lets a caller wiring up consumers read the intended
// fan-out shape off the transport.
type NATSTransport struct {
	*BaseTransport

	Formatter Formatter
	OnError   ErrorHandler

	conn       natsConn
	ownsConn   bool
	subject    string
	queueGroup string

	async         bool
	batchSize     int
	flushInterval time.Duration

	mu     sync.Mutex
	buffer [][]byte
	timer  *time.Timer
}

// NewNATSTransport parses a "nats://host:port/subject?queue=g&async=true&batch=N"
// URI, connects (unless conn is supplied), and returns a Transport that
// publishes one NATS message per event, batched when async is true and
// batch is greater than 1.
func NewNATSTransport(uri string, formatter Formatter, conn *nats.Conn) (*NATSTransport, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return nil, ConfigError("invalid nats uri: " + err.Error())
	}
	if u.Scheme != "nats" {
		return nil, ConfigError("nats uri must use the nats:// scheme")
	}

	t := &NATSTransport{
		BaseTransport: NewBaseTransport(NewSerialQueue(256)),
		Formatter:     formatter,
		subject:       strings.TrimPrefix(u.Path, "/"),
		async:         true,
		batchSize:     1,
		flushInterval: 100 * time.Millisecond,
	}

	q := u.Query()
	if g := q.Get("queue"); g != "" {
		t.queueGroup = g
	}
	if a := q.Get("async"); a != "" {
		t.async, _ = strconv.ParseBool(a)
	}
	if b := q.Get("batch"); b != "" {
		if n, err := strconv.Atoi(b); err == nil && n > 0 {
			t.batchSize = n
		}
	}
	if f := q.Get("flush_interval_ms"); f != "" {
		if n, err := strconv.Atoi(f); err == nil && n > 0 {
			t.flushInterval = time.Duration(n) * time.Millisecond
		}
	}

	if conn != nil {
		t.conn = conn
	} else {
		servers := "nats://" + u.Host
		c, err := nats.Connect(servers, nats.Name("corelog"))
		if err != nil {
			return nil, err
		}
		t.conn = c
		t.ownsConn = true
	}

	if t.async && t.batchSize > 1 {
		t.timer = time.AfterFunc(t.flushInterval, t.timedFlush)
	}

	return t, nil
}

// Record implements Transport.
func (t *NATSTransport) Record(event *Event) bool {
	payload, ok := t.format(event)
	if !ok {
		return true
	}

	if !t.async || t.batchSize <= 1 {
		return t.publish(payload)
	}

	t.mu.Lock()
	t.buffer = append(t.buffer, payload)
	shouldFlush := len(t.buffer) >= t.batchSize
	t.mu.Unlock()

	if shouldFlush {
		t.flush()
	}
	return true
}

func (t *NATSTransport) format(event *Event) ([]byte, bool) {
	if t.Formatter == nil {
		sd, err := NewJSONFormatter().Format(event)
		if err != nil {
			t.reportError(err)
			return nil, false
		}
		b, _ := sd.AsBytes()
		return b, true
	}
	sd, err := t.Formatter.Format(event)
	if err != nil {
		t.reportError(err)
		return nil, false
	}
	if sd.IsZero() {
		return nil, false
	}
	b, _ := sd.AsBytes()
	return b, true
}

func (t *NATSTransport) publish(payload []byte) bool {
	if err := t.conn.Publish(t.subject, payload); err != nil {
		t.reportError(err)
		return false
	}
	return true
}

func (t *NATSTransport) timedFlush() {
	t.flush()
	t.mu.Lock()
	if t.timer != nil {
		t.timer.Reset(t.flushInterval)
	}
	t.mu.Unlock()
}

func (t *NATSTransport) flush() {
	t.mu.Lock()
	items := t.buffer
	t.buffer = nil
	t.mu.Unlock()
	if len(items) == 0 {
		return
	}
	for _, item := range items {
		t.publish(item)
	}
	t.conn.Flush()
}

func (t *NATSTransport) reportError(err error) {
	if t.OnError != nil {
		t.OnError(NewTransportError("nats", ErrNetwork, err))
	}
}

// Close flushes any buffered messages and, if this transport opened the
// connection itself, drains and closes it.
func (t *NATSTransport) Close() {
	if t.timer != nil {
		t.timer.Stop()
	}
	t.flush()
	if t.ownsConn {
		t.conn.Drain()
	}
}
