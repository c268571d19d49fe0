package corelog

import "sync"

// transportEntry pairs a Transport with its own queue reference, cached so
// the manager doesn't re-dispatch through an interface method on every
// event.
type transportEntry struct {
	transport Transport
	queue     WorkQueue
}

// TransportManager fans out accepted events to every attached transport.
// It owns one strictly serial accept queue (guaranteeing total filter
// order) and dispatches to each transport on that transport's own queue.
type TransportManager struct {
	mu          sync.RWMutex
	filters     []Filter
	transports  []transportEntry
	synchronous bool
	acceptQueue WorkQueue
}

// NewTransportManager returns a manager. When synchronous is true, the
// accept queue is an inline WorkQueue and every attached transport is
// dispatched inline as well, so record() completes on the submitting
// goroutine before the originating channel write returns.
func NewTransportManager(synchronous bool) *TransportManager {
	m := &TransportManager{synchronous: synchronous}
	if synchronous {
		m.acceptQueue = NewSyncQueue()
	} else {
		m.acceptQueue = NewSerialQueue(1024)
	}
	return m
}

// AddFilter appends f to the ordered filter chain.
func (m *TransportManager) AddFilter(f Filter) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.filters = append(m.filters, f)
}

// AddTransport attaches t, dispatched on its own WorkQueue (t.Queue()).
func (m *TransportManager) AddTransport(t Transport) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transports = append(m.transports, transportEntry{transport: t, queue: t.Queue()})
}

// Transports returns the attached transports in attachment order.
func (m *TransportManager) Transports() []Transport {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Transport, len(m.transports))
	for i, e := range m.transports {
		out[i] = e.transport
	}
	return out
}

// Submit runs the full pipeline for event: serialize its attached object if
// present, then enqueue filter evaluation on the accept queue, then
// per-transport dispatch on each transport's own queue (inline on the
// submitting goroutine when the manager is synchronous).
func (m *TransportManager) Submit(event *Event, defaultStrategy string) {
	if event.Object != nil && !event.IsSerialized {
		_ = event.serializeObject(defaultStrategy)
	}

	m.acceptQueue.Submit(func() {
		m.mu.RLock()
		filters := m.filters
		entries := m.transports
		m.mu.RUnlock()

		for _, f := range filters {
			if !f.ShouldAccept(event) {
				return
			}
		}

		for _, e := range entries {
			entry := e
			if m.synchronous {
				dispatch(entry.transport, event)
				continue
			}
			entry.queue.Submit(func() {
				dispatch(entry.transport, event)
			})
		}
	})
}

// dispatch applies the enabled flag and min-level gate, then records.
func dispatch(t Transport, event *Event) {
	if !t.Enabled() {
		return
	}
	if min := t.MinLevel(); min != nil && event.Level < *min {
		return
	}
	t.Record(event)
}

// closer is implemented by transports that need a final flush (e.g.
// ThrottledTransport) before their queue stops accepting work.
type closer interface {
	Close()
}

// Close closes the accept queue, then every attached transport's queue,
// draining pending work in order. Transports implementing closer
// (ThrottledTransport and anything composing it) are given a chance to
// flush before their queue is torn down.
func (m *TransportManager) Close() {
	m.mu.RLock()
	entries := m.transports
	m.mu.RUnlock()

	m.acceptQueue.Close()
	for _, e := range entries {
		if c, ok := e.transport.(closer); ok {
			c.Close()
		}
		e.queue.Close()
	}
}
