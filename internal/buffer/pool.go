package buffer

import (
	"bytes"
	"strings"
	"sync"
)

// maxPooledCapacity is the ceiling past which a returned buffer is discarded
// instead of recycled, so one oversized write doesn't bloat the pool forever.
const maxPooledCapacity = 32 * 1024

// BufferPool recycles *bytes.Buffer values of a fixed starting capacity.
type BufferPool struct {
	pool     sync.Pool
	capacity int
}

// NewBufferPool creates a pool of buffers with a 512-byte starting capacity.
func NewBufferPool() *BufferPool {
	return NewBufferPoolWithCapacity(512)
}

// NewBufferPoolWithCapacity creates a pool of buffers with the given starting capacity.
func NewBufferPoolWithCapacity(capacity int) *BufferPool {
	p := &BufferPool{capacity: capacity}
	p.pool.New = func() interface{} {
		return bytes.NewBuffer(make([]byte, 0, capacity))
	}
	return p
}

// Get returns a reset, ready-to-use buffer.
func (p *BufferPool) Get() *bytes.Buffer {
	return p.pool.Get().(*bytes.Buffer)
}

// Put returns a buffer to the pool. Oversized buffers are dropped rather than pooled.
func (p *BufferPool) Put(buf *bytes.Buffer) {
	if buf == nil {
		return
	}
	if buf.Cap() > maxPooledCapacity {
		return
	}
	buf.Reset()
	p.pool.Put(buf)
}

// StringBuilderPool recycles *strings.Builder values.
type StringBuilderPool struct {
	pool sync.Pool
}

// NewStringBuilderPool creates a pool of string builders.
func NewStringBuilderPool() *StringBuilderPool {
	p := &StringBuilderPool{}
	p.pool.New = func() interface{} {
		return &strings.Builder{}
	}
	return p
}

// Get returns a reset, ready-to-use builder.
func (p *StringBuilderPool) Get() *strings.Builder {
	return p.pool.Get().(*strings.Builder)
}

// Put returns a builder to the pool. Oversized builders are dropped.
func (p *StringBuilderPool) Put(sb *strings.Builder) {
	if sb == nil {
		return
	}
	if sb.Cap() > maxPooledCapacity {
		return
	}
	sb.Reset()
	p.pool.Put(sb)
}

// Global pools sized for the common small/medium/large formatted-message cases.
var (
	smallBufferPool         = NewBufferPoolWithCapacity(256)
	mediumBufferPool        = NewBufferPoolWithCapacity(1024)
	largeBufferPool         = NewBufferPoolWithCapacity(4096)
	stringBuilderPoolGlobal = NewStringBuilderPool()
)

// GetSmallBuffer returns a buffer from the small (256B) global pool.
func GetSmallBuffer() *bytes.Buffer { return smallBufferPool.Get() }

// GetBuffer returns a buffer from the medium (1KB) global pool.
func GetBuffer() *bytes.Buffer { return mediumBufferPool.Get() }

// GetLargeBuffer returns a buffer from the large (4KB) global pool.
func GetLargeBuffer() *bytes.Buffer { return largeBufferPool.Get() }

// PutBuffer returns a buffer to the global pool matching its capacity.
func PutBuffer(buf *bytes.Buffer) {
	if buf == nil {
		return
	}
	switch {
	case buf.Cap() <= 256:
		smallBufferPool.Put(buf)
	case buf.Cap() <= 1024:
		mediumBufferPool.Put(buf)
	default:
		largeBufferPool.Put(buf)
	}
}

// GetStringBuilder returns a builder from the global string builder pool.
func GetStringBuilder() *strings.Builder { return stringBuilderPoolGlobal.Get() }

// PutStringBuilder returns a builder to the global string builder pool.
func PutStringBuilder(sb *strings.Builder) { stringBuilderPoolGlobal.Put(sb) }
