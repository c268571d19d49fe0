package corelog

import (
	"strings"
	"time"

	"github.com/driftwoodio/corelog/internal/buffer"
)

// textBufferPool recycles the *bytes.Buffer TextFormatter builds each
// line in, avoiding a fresh allocation per event on a hot logging path.
var textBufferPool = buffer.NewBufferPool()

// LevelCase controls how TextFormatter renders the level token.
type LevelCase int

const (
	LevelCaseUpper LevelCase = iota
	LevelCaseLower
	LevelCaseSymbol
)

// TextFormatter renders an Event as a single human-readable line:
// "[time] [LEVEL] label: message key=value ...".
type TextFormatter struct {
	TimestampFormat string
	TimeZone        *time.Location
	IncludeTime     bool
	IncludeLevel    bool
	LevelCase       LevelCase
}

// NewTextFormatter returns a TextFormatter with RFC3339 UTC timestamps and
// uppercase level names, matching common line-oriented log output.
func NewTextFormatter() *TextFormatter {
	return &TextFormatter{
		TimestampFormat: time.RFC3339,
		TimeZone:        time.UTC,
		IncludeTime:     true,
		IncludeLevel:    true,
	}
}

// Format implements Formatter.
func (f *TextFormatter) Format(event *Event) (SerializableData, error) {
	b := textBufferPool.Get()
	defer textBufferPool.Put(b)

	if f.IncludeTime {
		tz := f.TimeZone
		if tz == nil {
			tz = time.UTC
		}
		format := f.TimestampFormat
		if format == "" {
			format = time.RFC3339
		}
		b.WriteString("[")
		b.WriteString(event.Timestamp.In(tz).Format(format))
		b.WriteString("] ")
	}

	if f.IncludeLevel {
		b.WriteString("[")
		b.WriteString(f.levelText(event.Level))
		b.WriteString("] ")
	}

	if event.Label != "" {
		b.WriteString(event.Label)
		b.WriteString(": ")
	}

	b.WriteString(event.Message.String())

	if tags := event.AllTags(); len(tags) > 0 {
		for k, v := range tags {
			b.WriteString(" ")
			b.WriteString(k)
			b.WriteString("=")
			b.WriteString(v)
		}
	}

	b.WriteString("\n")
	return StringData(b.String()), nil
}

func (f *TextFormatter) levelText(l Level) string {
	s := l.String()
	switch f.LevelCase {
	case LevelCaseUpper:
		return strings.ToUpper(s)
	case LevelCaseSymbol:
		if s == "" {
			return s
		}
		return strings.ToUpper(s[:1])
	default:
		return s
	}
}
