package corelog

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// SerializableData is the result of formatting an Event: either a string or
// a byte payload, convertible in both directions.
type SerializableData struct {
	str   *string
	bytes []byte
}

// StringData wraps a string result.
func StringData(s string) SerializableData { return SerializableData{str: &s} }

// BytesData wraps a byte-slice result.
func BytesData(b []byte) SerializableData { return SerializableData{bytes: b} }

// AsString returns the string form, converting from bytes if necessary.
func (d SerializableData) AsString() (string, bool) {
	if d.str != nil {
		return *d.str, true
	}
	if d.bytes != nil {
		return string(d.bytes), true
	}
	return "", false
}

// AsBytes returns the byte form, converting from string if necessary.
func (d SerializableData) AsBytes() ([]byte, bool) {
	if d.bytes != nil {
		return d.bytes, true
	}
	if d.str != nil {
		return []byte(*d.str), true
	}
	return nil, false
}

// IsZero reports whether the formatter produced nothing at all, the
// formatter-null error kind in the error handling design.
func (d SerializableData) IsZero() bool { return d.str == nil && d.bytes == nil }

// Serializable is the capability an Event's attached Object may implement
// so the TransportManager can serialize it before fan-out.
type Serializable interface {
	// Serialize renders the object per strategy (an opaque, caller-defined
	// discriminator such as "json" or "protobuf").
	Serialize(strategy string) ([]byte, error)
	// SerializeMetadata returns side information about the serialized
	// form. The "codable" key, when true, steers SQLiteTransport to store
	// the payload in the JSON text column instead of the BLOB column.
	SerializeMetadata() map[string]any
}

// Event is an immutable-after-emission record of a single log occurrence.
// Channels build one per accepted write; once a transport observes it,
// mutating it is forbidden.
type Event struct {
	ID        uuid.UUID
	Timestamp time.Time
	Level     Level
	Subsystem string
	Category  string
	Label     string

	Message Message

	Object                   Serializable
	SerializedObjectData     []byte
	SerializedObjectMetadata map[string]any
	IsSerialized             bool

	Extra map[string]any
	Tags  map[string]string

	Fingerprint *string
	Scope       Scope

	SerializationStrategy string

	Function string
	File     string
	Line     int
}

// NewEvent constructs an event with a fresh ID and the current timestamp,
// deriving Label as "subsystem:category" with whitespace stripped and
// empty components elided.
func NewEvent(level Level, subsystem, category string, msg Message) *Event {
	return &Event{
		ID:        uuid.New(),
		Timestamp: time.Now(),
		Level:     level,
		Subsystem: subsystem,
		Category:  category,
		Label:     deriveLabel(subsystem, category),
		Message:   msg,
	}
}

// deriveLabel builds "subsystem:category" with whitespace stripped and
// empty components elided.
func deriveLabel(subsystem, category string) string {
	subsystem = strings.TrimSpace(subsystem)
	category = strings.TrimSpace(category)
	switch {
	case subsystem == "" && category == "":
		return ""
	case subsystem == "":
		return category
	case category == "":
		return subsystem
	default:
		return subsystem + ":" + category
	}
}

// AllTags returns scope.tags merged with event.tags, event winning on
// conflict.
func (e *Event) AllTags() map[string]string {
	return mergeTags(e.Scope.Tags, e.Tags)
}

// AllExtra returns scope.extra merged with event.extra, event winning on
// conflict.
func (e *Event) AllExtra() map[string]any {
	return mergeExtra(e.Scope.Extra, e.Extra)
}

// serializeObject fills SerializedObjectData/Metadata/IsSerialized exactly
// once; IsSerialized only ever transitions false to true.
func (e *Event) serializeObject(defaultStrategy string) error {
	if e.Object == nil || e.IsSerialized {
		return nil
	}
	strategy := e.SerializationStrategy
	if strategy == "" {
		strategy = defaultStrategy
	}
	data, err := e.Object.Serialize(strategy)
	if err != nil {
		return err
	}
	e.SerializedObjectData = data
	e.SerializedObjectMetadata = e.Object.SerializeMetadata()
	e.IsSerialized = true
	return nil
}

// codable reports whether the serialized object's metadata marks it for
// JSON-text storage rather than BLOB storage (SQLiteTransport's column
// selection rule).
func (e *Event) codable() bool {
	if e.SerializedObjectMetadata == nil {
		return false
	}
	v, ok := e.SerializedObjectMetadata["codable"]
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}
