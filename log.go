package corelog

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Log is the producer-facing object: identity (subsystem/category/label),
// a configurable level, nine precomputed channel slots, and an owned
// TransportManager. The channel array is rebuilt on every level change so
// a disabled severity reads as a nil slot.
type Log struct {
	ID        uuid.UUID
	Subsystem string
	Category  string
	Label     string

	Scope *Scope

	level   atomic.Int32
	enabled atomic.Bool

	mu       sync.Mutex
	channels [numLevels]*Channel

	manager *TransportManager

	defaultStrategy string
}

// New constructs a Log at the given minimum level, owning manager. The
// channel array is built immediately so the first write is already as
// cheap as any subsequent one.
func New(subsystem, category string, level Level, manager *TransportManager) *Log {
	l := &Log{
		ID:        uuid.New(),
		Subsystem: subsystem,
		Category:  category,
		Label:     deriveLabel(subsystem, category),
		Scope:     NewScope(),
		manager:   manager,
	}
	l.enabled.Store(true)
	l.level.Store(int32(level))
	l.rebuildChannels(level)
	return l
}

// SetDefaultSerializationStrategy sets the strategy name passed to
// Serializable.Serialize when an event's own SerializationStrategy is
// empty.
func (l *Log) SetDefaultSerializationStrategy(strategy string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.defaultStrategy = strategy
}

// Level returns the logger's current minimum severity.
func (l *Log) Level() Level { return Level(l.level.Load()) }

// SetLevel atomically swaps the channel array: positions at or above the
// new level go live, those numerically below it become nil. This is
// the only place the channel array is mutated, always under l.mu.
func (l *Log) SetLevel(level Level) {
	l.level.Store(int32(level))
	l.rebuildChannels(level)
}

func (l *Log) rebuildChannels(level Level) {
	var fresh [numLevels]*Channel
	for i := 0; i < numLevels; i++ {
		if Level(i) >= level {
			fresh[i] = &Channel{log: l, level: Level(i)}
		}
	}
	l.mu.Lock()
	l.channels = fresh
	l.mu.Unlock()
}

// Enabled reports whether the logger is enabled at all; a disabled logger
// behaves as if every channel were nil.
func (l *Log) Enabled() bool { return l.enabled.Load() }

// SetEnabled enables or disables the logger as a whole.
func (l *Log) SetEnabled(v bool) { l.enabled.Store(v) }

func (l *Log) channel(level Level) *Channel {
	if !l.enabled.Load() {
		return nil
	}
	l.mu.Lock()
	ch := l.channels[level]
	l.mu.Unlock()
	return ch
}

// TraceC, DebugC, ... return the channel for each severity, nil when that
// severity is currently disabled. Producers call e.g. log.InfoC().Text("x").
func (l *Log) TraceC() *Channel     { return l.channel(Trace) }
func (l *Log) DebugC() *Channel     { return l.channel(Debug) }
func (l *Log) InfoC() *Channel      { return l.channel(Info) }
func (l *Log) NoticeC() *Channel    { return l.channel(Notice) }
func (l *Log) WarningC() *Channel   { return l.channel(Warning) }
func (l *Log) ErrorC() *Channel     { return l.channel(Error) }
func (l *Log) CriticalC() *Channel  { return l.channel(Critical) }
func (l *Log) AlertC() *Channel     { return l.channel(Alert) }
func (l *Log) EmergencyC() *Channel { return l.channel(Emergency) }

// Trace, Debug, Info, ... are shorthand for TraceC().Text(s), the common
// single-literal call shape.
func (l *Log) Trace(s string, opts ...EventOption)     { l.channel(Trace).Write(Text(s), opts...) }
func (l *Log) Debug(s string, opts ...EventOption)     { l.channel(Debug).Write(Text(s), opts...) }
func (l *Log) Info(s string, opts ...EventOption)      { l.channel(Info).Write(Text(s), opts...) }
func (l *Log) Notice(s string, opts ...EventOption)    { l.channel(Notice).Write(Text(s), opts...) }
func (l *Log) Warning(s string, opts ...EventOption)   { l.channel(Warning).Write(Text(s), opts...) }
func (l *Log) Error(s string, opts ...EventOption)     { l.channel(Error).Write(Text(s), opts...) }
func (l *Log) Critical(s string, opts ...EventOption)  { l.channel(Critical).Write(Text(s), opts...) }
func (l *Log) Alert(s string, opts ...EventOption)     { l.channel(Alert).Write(Text(s), opts...) }
func (l *Log) Emergency(s string, opts ...EventOption) { l.channel(Emergency).Write(Text(s), opts...) }

// Infof, Errorf, ... are fmt.Sprintf-shaped shorthands at the common
// levels.
func (l *Log) Infof(format string, args ...any)  { l.channel(Info).Sprintf(format, args...) }
func (l *Log) Warnf(format string, args ...any)  { l.channel(Warning).Sprintf(format, args...) }
func (l *Log) Errorf(format string, args ...any) { l.channel(Error).Sprintf(format, args...) }
func (l *Log) Debugf(format string, args ...any) { l.channel(Debug).Sprintf(format, args...) }

// submit builds the event, stamps in level/identity/scope enrichment
// before any call-site options run, and hands it to the TransportManager.
// Called only from Channel's Write, Text and Sprintf, never directly by
// producers.
func (l *Log) submit(level Level, msg Message, opts ...EventOption) {
	event := &Event{
		ID:        uuid.New(),
		Level:     level,
		Subsystem: l.Subsystem,
		Category:  l.Category,
		Label:     l.Label,
		Message:   msg,
		Scope:     l.Scope.Snapshot(),
	}
	event.Timestamp = nowFunc()
	for _, opt := range opts {
		opt(event)
	}
	if l.manager != nil {
		l.manager.Submit(event, l.defaultStrategy)
	}
}

// submitEvent routes a caller-built event through the same enrichment as
// submit: the channel's level and the logger's identity always win, and
// missing id/timestamp/scope are filled in.
func (l *Log) submitEvent(level Level, e *Event) {
	e.Level = level
	e.Subsystem = l.Subsystem
	e.Category = l.Category
	e.Label = l.Label
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = nowFunc()
	}
	if e.Scope.Tags == nil && e.Scope.Extra == nil {
		e.Scope = l.Scope.Snapshot()
	}
	if l.manager != nil {
		l.manager.Submit(e, l.defaultStrategy)
	}
}

// nowFunc is overridable in tests that need deterministic timestamps.
var nowFunc = defaultNow

func defaultNow() time.Time { return time.Now() }
