package corelog

import (
	"testing"
	"time"
)

func TestScopeSnapshotIsolation(t *testing.T) {
	s := NewScope()
	s.SetTag("env", "prod")
	s.SetExtra("build", "123")

	snap := s.Snapshot()

	s.SetTag("env", "staging")
	s.SetExtra("build", "456")

	if snap.Tags["env"] != "prod" {
		t.Errorf("snapshot tag mutated to %q", snap.Tags["env"])
	}
	if snap.Extra["build"] != "123" {
		t.Errorf("snapshot extra mutated to %v", snap.Extra["build"])
	}
}

func TestScopeSnapshotCopiesMaps(t *testing.T) {
	s := NewScope()
	s.SetTag("a", "1")

	snap := s.Snapshot()
	snap.Tags["a"] = "mutated"

	if got := s.Snapshot().Tags["a"]; got != "1" {
		t.Errorf("live scope affected by snapshot mutation: %q", got)
	}
}

func TestProcessContextRefreshInterval(t *testing.T) {
	calls := 0
	pc := NewProcessContext(time.Hour, func() (string, string, string) {
		calls++
		return "host", "linux", "amd64"
	})

	pc.Snapshot()
	pc.Snapshot()

	if calls != 1 {
		t.Errorf("refresh called %d times within the interval, want 1", calls)
	}
	if snap := pc.Snapshot(); snap.Hostname != "host" || snap.OS != "linux" {
		t.Errorf("snapshot = %+v", snap)
	}
}

func TestProcessContextNilSafe(t *testing.T) {
	var pc *ProcessContext
	if snap := pc.Snapshot(); snap.Hostname != "" {
		t.Errorf("nil context snapshot = %+v", snap)
	}
}

func TestLogSetLevelSwapsChannels(t *testing.T) {
	log := New("x", "y", Warning, nil)

	if log.InfoC() != nil {
		t.Error("info channel live below the logger level")
	}
	if log.ErrorC() == nil {
		t.Error("error channel absent at or above the logger level")
	}

	log.SetLevel(Trace)
	if log.InfoC() == nil {
		t.Error("info channel still absent after lowering the level")
	}

	log.SetLevel(Emergency)
	for l := Trace; l < Emergency; l++ {
		if log.channel(l) != nil {
			t.Errorf("channel %v live with level=emergency", l)
		}
	}
	if log.EmergencyC() == nil {
		t.Error("emergency channel absent")
	}
}

func TestLogDisabledReturnsNilChannels(t *testing.T) {
	log := New("x", "y", Trace, nil)
	log.SetEnabled(false)

	if log.InfoC() != nil {
		t.Error("disabled logger handed out a live channel")
	}
	// Writes through the nil channel are documented no-ops.
	log.Info("dropped")
	log.InfoC().Write(Text("dropped"))
}

func TestNilChannelWriteAllocatesNothing(t *testing.T) {
	log := New("x", "y", Warning, nil)
	ch := log.DebugC()

	allocs := testing.AllocsPerRun(100, func() {
		ch.Text("never formatted")
	})
	if allocs != 0 {
		t.Errorf("nil channel write allocates %v times per call, want 0", allocs)
	}
}
