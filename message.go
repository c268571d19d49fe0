package corelog

import (
	"fmt"
	"strings"
	"sync"
)

// PrivacyTag marks how a placeholder's value should be rendered.
type PrivacyTag int

const (
	// Public renders the value verbatim.
	Public PrivacyTag = iota
	// Private redacts the value entirely.
	Private
	// PrivateHashed renders a short hash of the value instead of the
	// value itself.
	PrivateHashed
	// PartiallyHidden renders a prefix of the value followed by a mask.
	PartiallyHidden
)

// Placeholder is one typed, interpolated segment of a Message.
type Placeholder struct {
	Value   any
	Format  string // fmt verb, e.g. "%d"; empty means "%v"
	Pad     int    // minimum field width, 0 for none
	Privacy PrivacyTag
}

func (p Placeholder) render() string {
	verb := p.Format
	if verb == "" {
		verb = "%v"
	}
	s := fmt.Sprintf(verb, p.Value)

	switch p.Privacy {
	case Private:
		s = "***"
	case PrivateHashed:
		s = fmt.Sprintf("#%08x", fnv32(s))
	case PartiallyHidden:
		if n := len(s); n > 2 {
			s = s[:2] + strings.Repeat("*", n-2)
		} else {
			s = strings.Repeat("*", len(s))
		}
	}

	if p.Pad > 0 && len(s) < p.Pad {
		s = s + strings.Repeat(" ", p.Pad-len(s))
	}
	return s
}

func fnv32(s string) uint32 {
	const (
		offset32 = 2166136261
		prime32  = 16777619
	)
	h := uint32(offset32)
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= prime32
	}
	return h
}

// segment is either a literal string or a Placeholder.
type segment struct {
	literal     string
	placeholder *Placeholder
}

// Message is a sequence of literal and placeholder segments, realized to a
// string lazily and at most once. Messages built from a plain literal (the
// common case, e.g. log.Info("starting up")) take a zero-allocation
// fast path: String() returns the literal directly without touching the
// realization state. The realization state lives behind a pointer so a
// Message value can be copied freely between the channel, the event, and
// every transport that observes it.
type Message struct {
	literal  string
	segments []segment
	state    *messageState
}

type messageState struct {
	once sync.Once
	text string
}

// Text builds a Message out of a single literal string.
func Text(s string) Message {
	return Message{literal: s}
}

// Sprintf builds a Message that lazily formats format/args on first String()
// call, the same cost shape as fmt.Sprintf but deferred until a channel
// actually accepts it.
func Sprintf(format string, args ...any) Message {
	return Message{
		segments: []segment{{placeholder: &Placeholder{Value: sprintfArgs{format, args}, Format: "%v"}}},
		state:    &messageState{},
	}
}

type sprintfArgs struct {
	format string
	args   []any
}

func (a sprintfArgs) String() string { return fmt.Sprintf(a.format, a.args...) }

// Build constructs a Message from literal strings and Placeholders, in
// order. Non-string, non-Placeholder values passed through p are rendered
// with their default String()/fmt representation.
func Build(parts ...any) Message {
	m := Message{segments: make([]segment, 0, len(parts)), state: &messageState{}}
	for _, p := range parts {
		switch v := p.(type) {
		case string:
			m.segments = append(m.segments, segment{literal: v})
		case Placeholder:
			ph := v
			m.segments = append(m.segments, segment{placeholder: &ph})
		default:
			ph := Placeholder{Value: v}
			m.segments = append(m.segments, segment{placeholder: &ph})
		}
	}
	return m
}

// String realizes the message, computing it exactly once regardless of how
// many times it is called (formatters and delegates may each call it).
func (m Message) String() string {
	if m.segments == nil || m.state == nil {
		return m.literal
	}
	m.state.once.Do(func() {
		var b strings.Builder
		for _, seg := range m.segments {
			if seg.placeholder != nil {
				b.WriteString(seg.placeholder.render())
			} else {
				b.WriteString(seg.literal)
			}
		}
		m.state.text = b.String()
	})
	return m.state.text
}

// IsEmpty reports whether the message has no content at all.
func (m Message) IsEmpty() bool {
	return m.literal == "" && len(m.segments) == 0
}
