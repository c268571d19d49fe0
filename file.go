package corelog

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"github.com/driftwoodio/corelog/internal/buffer"
)

// rotationTimeFormat is the GMT, millisecond-precision, lexically sortable
// timestamp embedded in archive filenames: "<prefix><yyyyMMdd'T'HHmmss.SSS>-<uuid12>.<ext>".
// A '.' separates the seconds from the milliseconds.
const rotationTimeFormat = "20060102T150405.000"

// FileTransport opens a target file in append mode and writes
// format(event)+"\n" on each record, sequentially on its own queue. A
// sibling lock file, path+".lock", is taken around each write.
type FileTransport struct {
	*BaseTransport

	Formatter Formatter
	OnError   ErrorHandler

	mu     sync.Mutex
	path   string
	file   *os.File
	writer *buffer.BatchWriter
	lock   *flock.Flock
}

// fileBatchFlushPeriod bounds how long a written line can sit unflushed
// on a quiet logger; fileBatchMaxEntries and fileBatchMaxBytes keep a busy
// logger's syscalls coalesced.
const (
	fileBatchMaxEntries  = 32
	fileBatchMaxBytes    = 64 * 1024
	fileBatchFlushPeriod = 250 * time.Millisecond
)

// NewFileTransport opens (creating if necessary) the file at path in append
// mode and returns a FileTransport dispatched on a serial queue. Disk
// writes are coalesced through a buffer.BatchWriter so a burst of events
// costs one syscall instead of one per event. Pending lines are flushed
// once fileBatchFlushPeriod passes without a further write, or when an
// entry or byte cap is reached.
func NewFileTransport(path string, formatter Formatter) (*FileTransport, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("corelog: create log directory: %w", err)
	}
	f, err := openAppend(path)
	if err != nil {
		return nil, err
	}
	t := &FileTransport{
		BaseTransport: NewBaseTransport(NewSerialQueue(256)),
		Formatter:     formatter,
		path:          path,
		file:          f,
		writer:        buffer.NewBatchWriter(bufio.NewWriterSize(f, 32*1024), fileBatchMaxBytes, fileBatchMaxEntries, fileBatchFlushPeriod),
		lock:          flock.New(path + ".lock"),
	}
	return t, nil
}

func openAppend(path string) (*os.File, error) {
	return os.OpenFile(filepath.Clean(path), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
}

// Record implements Transport. A formatter-null result skips the write.
// The flock on path+".lock" is held while the line is handed to the batch
// writer; the batch writer's timed flushes run without it. A
// SizeRotationFileTransport locks a different file, "<prefix>.lock".
func (t *FileTransport) Record(event *Event) bool {
	data, ok := t.format(event)
	if !ok {
		return true
	}

	line := ensureNewline(data)

	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.lock.Lock(); err != nil {
		t.reportError(err)
		return false
	}
	defer func() {
		_ = t.lock.Unlock() // best effort
	}()
	if _, err := t.writer.Write(line); err != nil {
		t.reportError(err)
		return false
	}
	return true
}

func (t *FileTransport) format(event *Event) ([]byte, bool) {
	if t.Formatter == nil {
		return []byte(event.Message.String()), true
	}
	sd, err := t.Formatter.Format(event)
	if err != nil {
		t.reportError(err)
		return nil, false
	}
	if sd.IsZero() {
		return nil, false
	}
	b, _ := sd.AsBytes()
	return b, true
}

func (t *FileTransport) reportError(err error) {
	if t.OnError != nil {
		t.OnError(NewTransportError("file", ErrStorage, err))
	}
}

// Close flushes and closes the underlying file handle.
func (t *FileTransport) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	_ = t.writer.Close()
	_ = t.file.Close()
}

// RotationDelegate is notified whenever the current file is archived or
// old archives are pruned.
type RotationDelegate interface {
	OnRotate(archivePath string)
	OnPrune(removedPaths []string)
}

// SizeRotationFileTransport maintains a directory holding one "current"
// file and zero or more archived files, rotating the current file once it
// reaches maxFileSize and pruning archives down to maxFilesCount by
// modification time, oldest first. Archives are named
// "<prefix><yyyyMMdd'T'HHmmss.SSS>-<uuid12>.<ext>" in GMT, so their names
// sort in rotation order.
type SizeRotationFileTransport struct {
	*BaseTransport

	Formatter Formatter
	OnError   ErrorHandler
	Delegate  RotationDelegate

	dir           string
	prefix        string
	ext           string
	maxFileSize   int64
	maxFilesCount int

	mu     sync.Mutex
	file   *os.File
	writer *bufio.Writer
	size   int64
	lock   *flock.Flock
}

// NewSizeRotationFileTransport opens (or creates) "<dir>/<prefix>.<ext>" as
// the current file and rotates it once its size reaches maxFileSize,
// keeping at most maxFilesCount archives.
func NewSizeRotationFileTransport(dir, prefix, ext string, maxFileSize int64, maxFilesCount int, formatter Formatter) (*SizeRotationFileTransport, error) {
	if maxFileSize <= 0 {
		return nil, ConfigError("max file size must be positive")
	}
	if maxFilesCount < 0 {
		return nil, ConfigError("max files count must be non-negative")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("corelog: create log directory: %w", err)
	}

	t := &SizeRotationFileTransport{
		BaseTransport: NewBaseTransport(NewSerialQueue(256)),
		Formatter:     formatter,
		dir:           dir,
		prefix:        prefix,
		ext:           ext,
		maxFileSize:   maxFileSize,
		maxFilesCount: maxFilesCount,
		lock:          flock.New(filepath.Join(dir, prefix+".lock")),
	}
	if err := t.openCurrent(); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *SizeRotationFileTransport) currentPath() string {
	return filepath.Join(t.dir, t.prefix+"."+t.ext)
}

func (t *SizeRotationFileTransport) openCurrent() error {
	path := t.currentPath()
	f, err := openAppend(path)
	if err != nil {
		return err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return err
	}
	t.file = f
	t.writer = bufio.NewWriterSize(f, 32*1024)
	t.size = info.Size()
	return nil
}

// Record implements Transport: rotates the current file first if it has
// already reached the size cap, then writes format(event)+"\n".
func (t *SizeRotationFileTransport) Record(event *Event) bool {
	data, ok := t.format(event)
	if !ok {
		return true
	}
	line := ensureNewline(data)

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.size >= t.maxFileSize {
		if err := t.rotateLocked(); err != nil {
			t.reportError(err)
			return false
		}
	}

	n, err := t.writer.Write(line)
	if err != nil {
		t.reportError(err)
		return false
	}
	if err := t.writer.Flush(); err != nil {
		t.reportError(err)
		return false
	}
	t.size += int64(n)
	return true
}

func ensureNewline(b []byte) []byte {
	if len(b) == 0 || b[len(b)-1] != '\n' {
		return append(b, '\n')
	}
	return b
}

// rotateLocked closes the current file, moves it to a GMT-timestamped
// archive name, opens a fresh current file, then prunes the archive
// directory to maxFilesCount. Caller holds t.mu.
func (t *SizeRotationFileTransport) rotateLocked() error {
	if err := t.lock.Lock(); err != nil {
		return fmt.Errorf("corelog: acquire rotation lock: %w", err)
	}
	defer t.lock.Unlock()

	if err := t.writer.Flush(); err != nil {
		return err
	}
	if err := t.file.Close(); err != nil {
		return err
	}

	archiveName := t.prefix + time.Now().UTC().Format(rotationTimeFormat) + "-" + truncatedUUID() + "." + t.ext
	archivePath := filepath.Join(t.dir, archiveName)
	if err := os.Rename(t.currentPath(), archivePath); err != nil {
		return fmt.Errorf("corelog: rotate archive: %w", err)
	}
	if t.Delegate != nil {
		t.Delegate.OnRotate(archivePath)
	}

	if err := t.openCurrent(); err != nil {
		return err
	}

	removed, err := t.pruneLocked()
	if err != nil {
		t.reportError(err)
	} else if len(removed) > 0 && t.Delegate != nil {
		t.Delegate.OnPrune(removed)
	}
	return nil
}

// pruneLocked removes the oldest archives (by modification time) beyond
// maxFilesCount. Caller holds t.mu.
func (t *SizeRotationFileTransport) pruneLocked() ([]string, error) {
	entries, err := os.ReadDir(t.dir)
	if err != nil {
		return nil, err
	}

	type archive struct {
		path    string
		modTime time.Time
	}
	var archives []archive
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if name == t.prefix+"."+t.ext || name == t.prefix+".lock" || !strings.HasPrefix(name, t.prefix) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		archives = append(archives, archive{path: filepath.Join(t.dir, name), modTime: info.ModTime()})
	}

	sort.Slice(archives, func(i, j int) bool { return archives[i].modTime.Before(archives[j].modTime) })

	var removed []string
	for len(archives) > t.maxFilesCount {
		if err := os.Remove(archives[0].path); err != nil {
			return removed, err
		}
		removed = append(removed, archives[0].path)
		archives = archives[1:]
	}
	return removed, nil
}

func truncatedUUID() string {
	id := uuid.New().String()
	id = strings.ReplaceAll(id, "-", "")
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

func (t *SizeRotationFileTransport) format(event *Event) ([]byte, bool) {
	if t.Formatter == nil {
		return []byte(event.Message.String()), true
	}
	sd, err := t.Formatter.Format(event)
	if err != nil {
		t.reportError(err)
		return nil, false
	}
	if sd.IsZero() {
		return nil, false
	}
	b, _ := sd.AsBytes()
	return append([]byte(nil), b...), true
}

func (t *SizeRotationFileTransport) reportError(err error) {
	if t.OnError != nil {
		t.OnError(NewTransportError("rotating-file", ErrStorage, err))
	}
}

// Close flushes and closes the current file handle.
func (t *SizeRotationFileTransport) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	_ = t.writer.Flush()
	_ = t.file.Close()
}
