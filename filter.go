package corelog

import "regexp"

// Filter is a predicate deciding whether an event proceeds past the
// TransportManager's accept queue. Filters run in order; the first filter
// that rejects aborts the event for every transport.
type Filter interface {
	ShouldAccept(event *Event) bool
}

// FilterFunc adapts a plain function to the Filter interface.
type FilterFunc func(event *Event) bool

// ShouldAccept implements Filter.
func (f FilterFunc) ShouldAccept(event *Event) bool { return f(event) }

// LevelFilter rejects events below Min.
type LevelFilter struct {
	Min Level
}

// ShouldAccept implements Filter.
func (f LevelFilter) ShouldAccept(event *Event) bool { return event.Level >= f.Min }

// SubsystemFilter accepts only events whose Subsystem is in the allow set.
// An empty allow set accepts everything.
type SubsystemFilter struct {
	Allow map[string]bool
}

// NewSubsystemFilter builds a SubsystemFilter from a variadic allow list.
func NewSubsystemFilter(subsystems ...string) SubsystemFilter {
	allow := make(map[string]bool, len(subsystems))
	for _, s := range subsystems {
		allow[s] = true
	}
	return SubsystemFilter{Allow: allow}
}

// ShouldAccept implements Filter.
func (f SubsystemFilter) ShouldAccept(event *Event) bool {
	if len(f.Allow) == 0 {
		return true
	}
	return f.Allow[event.Subsystem]
}

// RegexFilter rejects events whose realized message text does not match
// Pattern.
type RegexFilter struct {
	Pattern *regexp.Regexp
}

// NewRegexFilter compiles expr and returns a RegexFilter, or an error if
// expr is not a valid regular expression.
func NewRegexFilter(expr string) (*RegexFilter, error) {
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, err
	}
	return &RegexFilter{Pattern: re}, nil
}

// ShouldAccept implements Filter.
func (f *RegexFilter) ShouldAccept(event *Event) bool {
	return f.Pattern.MatchString(event.Message.String())
}

// TagFilter accepts only events carrying the given tag key/value.
type TagFilter struct {
	Key, Value string
}

// ShouldAccept implements Filter.
func (f TagFilter) ShouldAccept(event *Event) bool {
	tags := event.AllTags()
	if tags == nil {
		return false
	}
	return tags[f.Key] == f.Value
}

// SamplerFilter accepts a deterministic 1-in-N sample of events, tracked
// per filter instance, useful for cutting volume on a noisy transport
// without silently dropping everything.
type SamplerFilter struct {
	N int

	counter int
}

// ShouldAccept implements Filter. Not safe for concurrent use from
// multiple goroutines; the accept queue that owns the filter chain is
// already strictly serial so this is never contended.
func (f *SamplerFilter) ShouldAccept(event *Event) bool {
	if f.N <= 1 {
		return true
	}
	f.counter++
	return f.counter%f.N == 0
}
