package corelog

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// BulkHTTPTransport accepts events, formats each as one length-prefixed
// JSON blob appended to a shared growable byte buffer, and flushes on a
// time interval or a soft-cap overflow, uploading each flushed blob as an
// individual POST with a keep-alive connection.
type BulkHTTPTransport struct {
	*BaseTransport

	Formatter Formatter
	OnError   ErrorHandler
	Client    *http.Client

	scheme, host string
	port         int

	logStorageSize  int64
	maxTotalLogSize int64
	uploadInterval  time.Duration

	mu     sync.Mutex
	active *bytes.Buffer
	outst  int64 // total bytes across active + in-flight buffers
	timer  *time.Timer
	closed bool

	guard *semaphore.Weighted
}

// BulkHTTPOption configures a BulkHTTPTransport at construction.
type BulkHTTPOption func(*BulkHTTPTransport)

// WithHTTPClient overrides the *http.Client used to issue uploads.
func WithHTTPClient(c *http.Client) BulkHTTPOption {
	return func(t *BulkHTTPTransport) { t.Client = c }
}

// nextPowerOfTwo rounds n up to the nearest power of two; both size knobs
// are normalized this way at construction.
func nextPowerOfTwo(n int64) int64 {
	if n <= 1 {
		return 1
	}
	p := int64(1)
	for p < n {
		p <<= 1
	}
	return p
}

// NewBulkHTTPTransport validates and constructs an uploader that POSTs to
// scheme://host:port. maxTotalLogStorageSize must be at least 2x
// logStorageSize (checked before rounding up to powers of two, then both
// are rounded); violating this is a construction-time error, never a
// runtime one.
func NewBulkHTTPTransport(scheme, host string, port int, logStorageSize, maxTotalLogStorageSize int64, uploadInterval time.Duration, formatter Formatter, opts ...BulkHTTPOption) (*BulkHTTPTransport, error) {
	if logStorageSize <= 0 {
		return nil, ConfigError("log storage size must be positive")
	}
	if maxTotalLogStorageSize < 2*logStorageSize {
		return nil, ConfigError("maximum total log storage size must be at least 2x log storage size")
	}
	logStorageSize = nextPowerOfTwo(logStorageSize)
	maxTotalLogStorageSize = nextPowerOfTwo(maxTotalLogStorageSize)
	if maxTotalLogStorageSize < 2*logStorageSize {
		maxTotalLogStorageSize = 2 * logStorageSize
	}

	t := &BulkHTTPTransport{
		BaseTransport:   NewBaseTransport(NewSerialQueue(512)),
		Formatter:       formatter,
		Client:          &http.Client{Timeout: 30 * time.Second},
		scheme:          scheme,
		host:            host,
		port:            port,
		logStorageSize:  logStorageSize,
		maxTotalLogSize: maxTotalLogStorageSize,
		uploadInterval:  uploadInterval,
		active:          bytes.NewBuffer(make([]byte, 0, logStorageSize)),
		guard:           semaphore.NewWeighted(maxTotalLogStorageSize),
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.uploadInterval > 0 {
		t.timer = time.AfterFunc(t.uploadInterval, t.timedUpload)
	}
	return t, nil
}

// Record implements Transport: formats the event, then appends
// |i64 log_len|bytes log| to the active buffer under the buffer's lock,
// triggering an immediate upload if the next record would overflow
// logStorageSize.
func (t *BulkHTTPTransport) Record(event *Event) bool {
	payload, ok := t.format(event)
	if !ok {
		return true
	}
	if int64(len(payload))+8 > t.logStorageSize {
		t.reportError(ErrConfig, fmt.Errorf("record of %d bytes exceeds log_storage_size %d", len(payload), t.logStorageSize))
		return false
	}

	ctx := context.Background()
	if err := t.guard.Acquire(ctx, int64(len(payload))+8); err != nil {
		t.reportError(ErrNetwork, err)
		return false
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		t.guard.Release(int64(len(payload)) + 8)
		return false
	}

	need := int64(len(payload)) + 8
	if int64(t.active.Len())+need > t.logStorageSize {
		t.mu.Unlock()
		t.upload(FlushSize)
		t.mu.Lock()
		if t.timer != nil {
			t.timer.Reset(t.uploadInterval)
		}
	}

	var lenBuf [8]byte
	binary.BigEndian.PutUint64(lenBuf[:], uint64(len(payload)))
	t.active.Write(lenBuf[:])
	t.active.Write(payload)
	t.outst += need
	t.mu.Unlock()

	return true
}

func (t *BulkHTTPTransport) format(event *Event) ([]byte, bool) {
	if t.Formatter == nil {
		sd, err := NewJSONFormatter().Format(event)
		if err != nil {
			t.reportError(ErrProtocol, err)
			return nil, false
		}
		b, _ := sd.AsBytes()
		return b, true
	}
	sd, err := t.Formatter.Format(event)
	if err != nil {
		t.reportError(ErrProtocol, err)
		return nil, false
	}
	if sd.IsZero() {
		return nil, false
	}
	b, _ := sd.AsBytes()
	return b, true
}

func (t *BulkHTTPTransport) timedUpload() {
	t.upload(FlushInterval)
	t.mu.Lock()
	if t.timer != nil && !t.closed {
		t.timer.Reset(t.uploadInterval)
	}
	t.mu.Unlock()
}

// upload swaps the active buffer for a fresh one of the same capacity,
// then issues one POST per length-prefixed record in the swapped buffer,
// concurrently, waiting for all of them before returning.
func (t *BulkHTTPTransport) upload(reason FlushReason) {
	t.mu.Lock()
	if t.timer != nil {
		t.timer.Stop()
	}
	if t.active.Len() == 0 {
		t.mu.Unlock()
		return
	}
	drained := t.active
	t.active = bytes.NewBuffer(make([]byte, 0, t.logStorageSize))
	t.mu.Unlock()

	records := splitRecords(drained.Bytes())
	var wg sync.WaitGroup
	wg.Add(len(records))
	for _, rec := range records {
		r := rec
		go func() {
			defer wg.Done()
			t.postOne(r)
		}()
	}
	wg.Wait()

	// Returning capacity to the semaphore wakes any producer blocked on
	// the memory guard.
	released := int64(drained.Len())
	t.guard.Release(released)
	t.mu.Lock()
	t.outst -= released
	t.mu.Unlock()
}

func splitRecords(buf []byte) [][]byte {
	var out [][]byte
	for len(buf) >= 8 {
		n := binary.BigEndian.Uint64(buf[:8])
		buf = buf[8:]
		if uint64(len(buf)) < n {
			break
		}
		out = append(out, buf[:n])
		buf = buf[n:]
	}
	return out
}

func (t *BulkHTTPTransport) postOne(body []byte) {
	url := fmt.Sprintf("%s://%s:%d", t.scheme, t.host, t.port)
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		t.reportError(ErrNetwork, err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Connection", "keep-alive")
	req.Header.Set("Keep-Alive", t.keepAliveHeader())

	resp, err := t.Client.Do(req)
	if err != nil {
		t.reportError(ErrNetwork, err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		t.reportError(ErrNetwork, fmt.Errorf("upload failed: status %d", resp.StatusCode))
	}
}

// keepAliveHeader computes timeout=ceil(3*uploadInterval) when
// uploadInterval<=10s, else a flat 30s; max is always 100.
func (t *BulkHTTPTransport) keepAliveHeader() string {
	var timeoutSeconds int
	if t.uploadInterval > 0 && t.uploadInterval <= 10*time.Second {
		timeoutSeconds = int((3*t.uploadInterval + time.Second - 1) / time.Second)
	} else {
		timeoutSeconds = 30
	}
	return "timeout=" + strconv.Itoa(timeoutSeconds) + ", max=100"
}

func (t *BulkHTTPTransport) reportError(kind ErrorKind, err error) {
	if t.OnError != nil {
		t.OnError(NewTransportError("bulkhttp", kind, err))
	}
}

// Flush forces an immediate upload of whatever is currently buffered.
func (t *BulkHTTPTransport) Flush() { t.upload(FlushManual) }

// Close uploads any remaining buffered records and stops the timer.
func (t *BulkHTTPTransport) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	if t.timer != nil {
		t.timer.Stop()
	}
	t.mu.Unlock()
	t.upload(FlushShutdown)
}
