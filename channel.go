package corelog

// Channel is a thin per-severity write surface on a Log. A nil *Channel is
// the zero-cost gate for a disabled severity: callers check for nil before
// doing any formatting or allocation, so a disabled level costs exactly one
// pointer comparison.
type Channel struct {
	log   *Log
	level Level
}

// EventOption mutates a freshly built event before it is submitted,
// letting callers attach an object, extra fields, or tags without the
// channel API needing a combinatorial set of write methods.
type EventOption func(*Event)

// WithObject attaches a Serializable payload to the event.
func WithObject(obj Serializable) EventOption {
	return func(e *Event) { e.Object = obj }
}

// WithExtra sets a single extra field on the event.
func WithExtra(key string, value any) EventOption {
	return func(e *Event) {
		if e.Extra == nil {
			e.Extra = map[string]any{}
		}
		e.Extra[key] = value
	}
}

// WithTag sets a single tag on the event.
func WithTag(key, value string) EventOption {
	return func(e *Event) {
		if e.Tags == nil {
			e.Tags = map[string]string{}
		}
		e.Tags[key] = value
	}
}

// WithFingerprint overrides the event's grouping key.
func WithFingerprint(fp string) EventOption {
	return func(e *Event) { e.Fingerprint = &fp }
}

// WithCallSite records the producer's call-site metadata, ordinarily
// injected by a logging macro/wrapper at the call site rather than by
// hand.
func WithCallSite(function, file string, line int) EventOption {
	return func(e *Event) {
		e.Function = function
		e.File = file
		e.Line = line
	}
}

// Write submits msg at the channel's level if the channel is non-nil. A
// nil channel (severity disabled) is a documented no-op: this method must
// be safe to call on a nil receiver so callers don't need their own
// nil-check at every call site.
func (c *Channel) Write(msg Message, opts ...EventOption) {
	if c == nil {
		return
	}
	c.log.submit(c.level, msg, opts...)
}

// WriteEvent submits a pre-built event at the channel's level. The
// event's level and logger identity are overwritten with the channel's
// own, so a recycled event cannot carry a different severity through the
// gate.
func (c *Channel) WriteEvent(e *Event) {
	if c == nil || e == nil {
		return
	}
	c.log.submitEvent(c.level, e)
}

// Text is a convenience wrapper for the common literal-string case.
func (c *Channel) Text(s string, opts ...EventOption) {
	if c == nil {
		return
	}
	c.log.submit(c.level, Text(s), opts...)
}

// Sprintf is a convenience wrapper matching fmt.Sprintf-style call sites.
func (c *Channel) Sprintf(format string, args ...any) {
	if c == nil {
		return
	}
	c.log.submit(c.level, Sprintf(format, args...))
}

// Enabled reports whether the channel is live (equivalently, whether c is
// non-nil); provided for code that wants an explicit boolean rather than a
// nil check, e.g. to guard an expensive argument computation.
func (c *Channel) Enabled() bool { return c != nil }
