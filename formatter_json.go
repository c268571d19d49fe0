package corelog

import (
	"encoding/json"
	"fmt"
	"time"
)

// JSONFormatter renders an Event as a single JSON document: flatten or
// nest fields per FlattenFields, with recursion depth bounded so a
// self-referential Extra value can never hang the formatter.
type JSONFormatter struct {
	TimestampFormat string
	TimeZone        *time.Location
	FlattenFields   bool
	IncludeSource   bool
	MaxDepth        int
}

// NewJSONFormatter returns a JSONFormatter with RFC3339 UTC timestamps and
// a sane recursion depth.
func NewJSONFormatter() *JSONFormatter {
	return &JSONFormatter{
		TimestampFormat: time.RFC3339,
		TimeZone:        time.UTC,
		MaxDepth:        5,
	}
}

// Format implements Formatter.
func (f *JSONFormatter) Format(event *Event) (SerializableData, error) {
	doc := map[string]any{
		"id":        event.ID.String(),
		"timestamp": event.Timestamp.In(f.timeZone()).Format(f.format()),
		"level":     event.Level.String(),
		"message":   event.Message.String(),
	}
	if event.Subsystem != "" {
		doc["subsystem"] = event.Subsystem
	}
	if event.Category != "" {
		doc["category"] = event.Category
	}
	if event.Label != "" {
		doc["label"] = event.Label
	}
	if event.Fingerprint != nil {
		doc["fingerprint"] = *event.Fingerprint
	}
	if f.IncludeSource && event.File != "" {
		doc["source"] = fmt.Sprintf("%s:%d", event.File, event.Line)
	}

	if tags := event.AllTags(); len(tags) > 0 {
		doc["tags"] = tags
	}
	if extra := event.AllExtra(); len(extra) > 0 {
		if f.FlattenFields {
			for k, v := range extra {
				doc["extra_"+k] = safeValue(v, f.maxDepth())
			}
		} else {
			doc["extra"] = safeValue(extra, f.maxDepth())
		}
	}

	if event.IsSerialized {
		if event.codable() {
			doc["object"] = json.RawMessage(event.SerializedObjectData)
		} else {
			doc["object_bytes_len"] = len(event.SerializedObjectData)
		}
	}

	b, err := json.Marshal(doc)
	if err != nil {
		return SerializableData{}, err
	}
	return BytesData(b), nil
}

func (f *JSONFormatter) format() string {
	if f.TimestampFormat == "" {
		return time.RFC3339
	}
	return f.TimestampFormat
}

func (f *JSONFormatter) timeZone() *time.Location {
	if f.TimeZone == nil {
		return time.UTC
	}
	return f.TimeZone
}

func (f *JSONFormatter) maxDepth() int {
	if f.MaxDepth <= 0 {
		return 5
	}
	return f.MaxDepth
}

// safeValue renders v defensively: depth-limited and cycle-tolerant, so an
// Extra map containing a self-referential structure degrades to a
// truncation marker instead of hanging json.Marshal.
func safeValue(v any, depth int) any {
	if depth <= 0 {
		return "(max depth exceeded)"
	}
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, vv := range t {
			out[k] = safeValue(vv, depth-1)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, vv := range t {
			out[i] = safeValue(vv, depth-1)
		}
		return out
	case error:
		return t.Error()
	default:
		return v
	}
}
