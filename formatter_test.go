package corelog

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
)

func testEvent() *Event {
	e := NewEvent(Warning, "payments", "webhook", Text("charge declined"))
	e.Timestamp = time.Date(2025, 6, 1, 12, 30, 0, 0, time.UTC)
	e.Tags = map[string]string{"env": "prod"}
	e.Extra = map[string]any{"attempt": 3}
	return e
}

func TestJSONFormatterRoundTrip(t *testing.T) {
	e := testEvent()

	sd, err := NewJSONFormatter().Format(e)
	if err != nil {
		t.Fatalf("Format: %v", err)
	}
	b, ok := sd.AsBytes()
	if !ok {
		t.Fatal("no byte form")
	}

	var doc map[string]any
	if err := json.Unmarshal(b, &doc); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}

	if doc["id"] != e.ID.String() {
		t.Errorf("id = %v, want %v", doc["id"], e.ID)
	}
	if doc["timestamp"] != "2025-06-01T12:30:00Z" {
		t.Errorf("timestamp = %v", doc["timestamp"])
	}
	if doc["level"] != "warning" {
		t.Errorf("level = %v", doc["level"])
	}
	if doc["message"] != "charge declined" {
		t.Errorf("message = %v", doc["message"])
	}
	if doc["label"] != "payments:webhook" {
		t.Errorf("label = %v", doc["label"])
	}
	tags, _ := doc["tags"].(map[string]any)
	if tags["env"] != "prod" {
		t.Errorf("tags = %v", doc["tags"])
	}
	extra, _ := doc["extra"].(map[string]any)
	if extra["attempt"] != float64(3) {
		t.Errorf("extra = %v", doc["extra"])
	}
}

func TestJSONFormatterFlattenFields(t *testing.T) {
	f := NewJSONFormatter()
	f.FlattenFields = true

	sd, err := f.Format(testEvent())
	if err != nil {
		t.Fatalf("Format: %v", err)
	}
	b, _ := sd.AsBytes()

	var doc map[string]any
	if err := json.Unmarshal(b, &doc); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if doc["extra_attempt"] != float64(3) {
		t.Errorf("extra_attempt = %v, flattening did not apply", doc["extra_attempt"])
	}
	if _, nested := doc["extra"]; nested {
		t.Error("nested extra present despite FlattenFields")
	}
}

func TestJSONFormatterDepthBound(t *testing.T) {
	f := NewJSONFormatter()
	f.MaxDepth = 2

	deep := map[string]any{"a": map[string]any{"b": map[string]any{"c": map[string]any{"d": 1}}}}
	e := NewEvent(Info, "", "", Text("deep"))
	e.Extra = deep

	sd, err := f.Format(e)
	if err != nil {
		t.Fatalf("Format: %v", err)
	}
	s, _ := sd.AsString()
	if !strings.Contains(s, "max depth exceeded") {
		t.Errorf("deep structure not truncated: %s", s)
	}
}

func TestJSONFormatterCodableObjectInlined(t *testing.T) {
	e := NewEvent(Info, "", "", Text("obj"))
	e.Object = &testObject{data: `{"k":"v"}`, codable: true}
	if err := e.serializeObject("json"); err != nil {
		t.Fatalf("serializeObject: %v", err)
	}

	sd, err := NewJSONFormatter().Format(e)
	if err != nil {
		t.Fatalf("Format: %v", err)
	}
	b, _ := sd.AsBytes()

	var doc struct {
		Object map[string]string `json:"object"`
	}
	if err := json.Unmarshal(b, &doc); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if doc.Object["k"] != "v" {
		t.Errorf("object = %v, want inlined JSON", doc.Object)
	}
}

func TestTextFormatterLine(t *testing.T) {
	sd, err := NewTextFormatter().Format(testEvent())
	if err != nil {
		t.Fatalf("Format: %v", err)
	}
	s, _ := sd.AsString()

	for _, want := range []string{"[2025-06-01T12:30:00Z]", "[WARNING]", "payments:webhook:", "charge declined", "env=prod"} {
		if !strings.Contains(s, want) {
			t.Errorf("line %q missing %q", s, want)
		}
	}
	if !strings.HasSuffix(s, "\n") {
		t.Error("line is not newline-terminated")
	}
}

func TestTextFormatterLevelCase(t *testing.T) {
	e := testEvent()

	lower := NewTextFormatter()
	lower.LevelCase = LevelCaseLower
	sd, _ := lower.Format(e)
	s, _ := sd.AsString()
	if !strings.Contains(s, "[warning]") {
		t.Errorf("lower-case line = %q", s)
	}

	symbol := NewTextFormatter()
	symbol.LevelCase = LevelCaseSymbol
	sd, _ = symbol.Format(e)
	s, _ = sd.AsString()
	if !strings.Contains(s, "[W]") {
		t.Errorf("symbol line = %q", s)
	}
}

func TestSerializableDataConversions(t *testing.T) {
	s := StringData("hello")
	if b, ok := s.AsBytes(); !ok || string(b) != "hello" {
		t.Errorf("AsBytes of StringData = %q, %v", b, ok)
	}

	b := BytesData([]byte("world"))
	if str, ok := b.AsString(); !ok || str != "world" {
		t.Errorf("AsString of BytesData = %q, %v", str, ok)
	}

	var zero SerializableData
	if !zero.IsZero() {
		t.Error("zero value should report IsZero")
	}
	if _, ok := zero.AsString(); ok {
		t.Error("zero value should have no string form")
	}
}

func TestNewEventDistinctIDs(t *testing.T) {
	a, b := NewEvent(Info, "", "", Text("a")), NewEvent(Info, "", "", Text("b"))
	if a.ID == b.ID || a.ID == uuid.Nil {
		t.Errorf("event IDs not unique: %v, %v", a.ID, b.ID)
	}
}
