package corelog

import (
	"sync"
	"testing"
)

// recordingTransport appends every recorded event's message text, guarded
// by a mutex so concurrent per-transport dispatch is safe to assert on.
type recordingTransport struct {
	*BaseTransport
	mu   sync.Mutex
	msgs []string
}

func newRecordingTransport(synchronous bool) *recordingTransport {
	var q WorkQueue
	if synchronous {
		q = NewSyncQueue()
	} else {
		q = NewSerialQueue(64)
	}
	return &recordingTransport{BaseTransport: NewBaseTransport(q)}
}

func (r *recordingTransport) Record(event *Event) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, event.Message.String())
	return true
}

func (r *recordingTransport) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.msgs))
	copy(out, r.msgs)
	return out
}

func TestGatingBelowLevelNotObserved(t *testing.T) {
	manager := NewTransportManager(true)
	transport := newRecordingTransport(true)
	manager.AddTransport(transport)

	log := New("test", "gating", Warning, manager)
	log.Info("x")
	log.Error("y")

	got := transport.snapshot()
	if len(got) != 1 || got[0] != "y" {
		t.Errorf("observed = %v, want exactly [\"y\"]", got)
	}
}

func TestOrderingAcrossMultipleTransportsSynchronous(t *testing.T) {
	manager := NewTransportManager(true)
	t1 := newRecordingTransport(true)
	t2 := newRecordingTransport(true)
	manager.AddTransport(t1)
	manager.AddTransport(t2)

	log := New("test", "ordering", Trace, manager)
	log.Info("a")
	log.Info("b")
	log.Info("c")

	want := []string{"a", "b", "c"}
	for _, got := range [][]string{t1.snapshot(), t2.snapshot()} {
		if len(got) != len(want) {
			t.Fatalf("got %v, want %v", got, want)
		}
		for i := range want {
			if got[i] != want[i] {
				t.Errorf("index %d: got %q, want %q", i, got[i], want[i])
			}
		}
	}
}

func TestFilterChainFirstRejectAborts(t *testing.T) {
	manager := NewTransportManager(true)
	transport := newRecordingTransport(true)
	manager.AddTransport(transport)
	manager.AddFilter(FilterFunc(func(e *Event) bool { return e.Message.String() != "blocked" }))

	log := New("test", "filter", Trace, manager)
	log.Info("ok")
	log.Info("blocked")
	log.Info("ok2")

	got := transport.snapshot()
	want := []string{"ok", "ok2"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("index %d: got %q, want %q", i, got[i], want[i])
		}
	}
}

func TestTransportMinLevelGate(t *testing.T) {
	manager := NewTransportManager(true)
	transport := newRecordingTransport(true)
	transport.SetMinLevel(Error)
	manager.AddTransport(transport)

	log := New("test", "minlevel", Trace, manager)
	log.Info("skip me")
	log.Error("keep me")

	got := transport.snapshot()
	if len(got) != 1 || got[0] != "keep me" {
		t.Errorf("got %v, want exactly [\"keep me\"]", got)
	}
}

func TestTransportDisabledNeverObserves(t *testing.T) {
	manager := NewTransportManager(true)
	transport := newRecordingTransport(true)
	transport.SetEnabled(false)
	manager.AddTransport(transport)

	log := New("test", "disabled", Trace, manager)
	log.Info("nope")

	if got := transport.snapshot(); len(got) != 0 {
		t.Errorf("got %v, want none", got)
	}
}

func TestAllTagsMergedIntoEventFromScope(t *testing.T) {
	manager := NewTransportManager(true)
	var seen *Event
	manager.AddTransport(&captureTransport{BaseTransport: NewBaseTransport(NewSyncQueue()), capture: &seen})

	log := New("test", "scope", Trace, manager)
	log.Scope.SetTag("region", "us-east")
	log.Info("hi", WithTag("request_id", "abc"))

	if seen == nil {
		t.Fatal("no event captured")
	}
	tags := seen.AllTags()
	if tags["region"] != "us-east" || tags["request_id"] != "abc" {
		t.Errorf("AllTags() = %v", tags)
	}
}

type captureTransport struct {
	*BaseTransport
	capture **Event
}

func (c *captureTransport) Record(event *Event) bool {
	*c.capture = event
	return true
}

func TestWriteEventOverridesLevelAndIdentity(t *testing.T) {
	manager := NewTransportManager(true)
	var seen *Event
	manager.AddTransport(&captureTransport{BaseTransport: NewBaseTransport(NewSyncQueue()), capture: &seen})

	log := New("payments", "webhook", Trace, manager)
	e := NewEvent(Trace, "smuggled", "identity", Text("prebuilt"))
	log.ErrorC().WriteEvent(e)

	if seen == nil {
		t.Fatal("no event captured")
	}
	if seen.Level != Error {
		t.Errorf("level = %v, want the channel's Error", seen.Level)
	}
	if seen.Subsystem != "payments" || seen.Label != "payments:webhook" {
		t.Errorf("identity = %q/%q, want the logger's", seen.Subsystem, seen.Label)
	}
	if seen.Message.String() != "prebuilt" {
		t.Errorf("message = %q", seen.Message.String())
	}
}
