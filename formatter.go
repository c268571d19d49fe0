package corelog

// Formatter is a pure mapping from an Event to SerializableData. A nil
// result (IsZero) signals formatter-null: transports apply their own
// policy (file: skip the write; SQLite: persist the original message
// text; HTTP: skip the upload).
type Formatter interface {
	Format(event *Event) (SerializableData, error)
}

// FormatterFunc adapts a plain function to the Formatter interface.
type FormatterFunc func(event *Event) (SerializableData, error)

// Format implements Formatter.
func (f FormatterFunc) Format(event *Event) (SerializableData, error) { return f(event) }
