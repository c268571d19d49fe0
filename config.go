package corelog

// Config holds construction-time defaults for a Log/TransportManager
// pair: a plain struct with sane defaults, mutated via a fluent Builder
// chain that accumulates the first error it hits rather than failing
// immediately.
type Config struct {
	Subsystem string
	Category  string
	Level     Level

	Synchronous bool

	DefaultSerializationStrategy string
}

// DefaultConfig returns a Config at Info level, asynchronous dispatch.
func DefaultConfig() Config {
	return Config{
		Level:       Info,
		Synchronous: false,
	}
}

// Option mutates a Builder under construction.
type Option func(*Builder)

// Builder provides a fluent interface for constructing a Log. Once err is
// set, every subsequent With* call is a no-op so callers can chain freely
// and check err once at the end via Build.
type Builder struct {
	config Config
	err    error
}

// NewBuilder returns a Builder seeded with DefaultConfig.
func NewBuilder() *Builder {
	return &Builder{config: DefaultConfig()}
}

// WithSubsystem sets the logger's subsystem identity.
func (b *Builder) WithSubsystem(s string) *Builder {
	if b.err != nil {
		return b
	}
	b.config.Subsystem = s
	return b
}

// WithCategory sets the logger's category identity.
func (b *Builder) WithCategory(c string) *Builder {
	if b.err != nil {
		return b
	}
	b.config.Category = c
	return b
}

// WithLevel sets the logger's minimum severity.
func (b *Builder) WithLevel(level Level) *Builder {
	if b.err != nil {
		return b
	}
	if level < Trace || level > Emergency {
		b.err = ConfigError("level out of range")
		return b
	}
	b.config.Level = level
	return b
}

// WithSynchronous makes the manager's accept queue and its dispatch to
// every attached transport inline, so Record completes before the
// producing channel write returns.
func (b *Builder) WithSynchronous(v bool) *Builder {
	if b.err != nil {
		return b
	}
	b.config.Synchronous = v
	return b
}

// WithDefaultSerializationStrategy sets the strategy name used when an
// event's own SerializationStrategy is empty.
func (b *Builder) WithDefaultSerializationStrategy(strategy string) *Builder {
	if b.err != nil {
		return b
	}
	b.config.DefaultSerializationStrategy = strategy
	return b
}

// Build validates accumulated options and returns a ready Log plus its
// owned TransportManager, or the first error encountered during
// configuration.
func (b *Builder) Build() (*Log, *TransportManager, error) {
	if b.err != nil {
		return nil, nil, b.err
	}
	manager := NewTransportManager(b.config.Synchronous)
	log := New(b.config.Subsystem, b.config.Category, b.config.Level, manager)
	log.SetDefaultSerializationStrategy(b.config.DefaultSerializationStrategy)
	return log, manager, nil
}
