package corelog

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// PurgeDelegate is notified after a successful lifetime-based purge.
type PurgeDelegate interface {
	OnPurge(removed int64)
}

// PurgeDelegateFunc adapts a plain function to PurgeDelegate.
type PurgeDelegateFunc func(removed int64)

// OnPurge implements PurgeDelegate.
func (f PurgeDelegateFunc) OnPurge(removed int64) { f(removed) }

// MigrateFunc performs a schema data migration between two
// caller-assigned schema versions. Returning an error aborts the
// migration; the stored user_version is left unchanged.
type MigrateFunc func(db *sql.DB, from, to int) error

// sqliteSchemaVersion is the user_version this package writes when it
// creates the three tables fresh. A version passed to WithSchemaMigration
// that is above the stored user_version runs the migrate hook during
// NewSQLiteTransport.
const sqliteSchemaVersion = 1

// SQLiteTransport persists batches of events to a SQLite database. It
// composes a ThrottledTransport as its front door (formats once, batches
// by size/interval) and implements BatchDelegate itself: every flushed
// batch is inserted inside a single transaction using three prepared,
// reset-and-rebound statements.
type SQLiteTransport struct {
	*ThrottledTransport

	db *sql.DB

	databaseVersion int
	migrate         MigrateFunc

	lifetimeInterval time.Duration
	purgeMinInterval time.Duration
	vacuumAfterPurge bool
	lastPurge        time.Time
	purgeDelegate    PurgeDelegate
	purgeNowFunc     func() time.Time
}

// SQLiteOption configures a SQLiteTransport at construction.
type SQLiteOption func(*SQLiteTransport)

// WithLifetime configures the purge window: rows older than lifetime are
// eligible for deletion, checked at most once per purgeMinInterval.
func WithLifetime(lifetime, purgeMinInterval time.Duration) SQLiteOption {
	return func(t *SQLiteTransport) {
		t.lifetimeInterval = lifetime
		t.purgeMinInterval = purgeMinInterval
	}
}

// WithVacuumAfterPurge enables a VACUUM after every purge that removes at
// least one row.
func WithVacuumAfterPurge() SQLiteOption {
	return func(t *SQLiteTransport) { t.vacuumAfterPurge = true }
}

// WithPurgeDelegate registers a delegate notified with the row count after
// every successful purge.
func WithPurgeDelegate(d PurgeDelegate) SQLiteOption {
	return func(t *SQLiteTransport) { t.purgeDelegate = d }
}

// WithSchemaMigration sets the caller's desired schema version and the
// hook invoked when the stored user_version is lower.
func WithSchemaMigration(version int, migrate MigrateFunc) SQLiteOption {
	return func(t *SQLiteTransport) {
		t.databaseVersion = version
		t.migrate = migrate
	}
}

// NewSQLiteTransport opens (creating if necessary) the database at path,
// creates the log/tags/extra schema on a fresh file, enables foreign keys,
// and returns a transport that batches inserts at flushSize events or
// flushInterval, whichever comes first.
func NewSQLiteTransport(path string, flushSize int, flushInterval time.Duration, formatter Formatter, opts ...SQLiteOption) (*SQLiteTransport, error) {
	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("corelog: open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1) // one writer; avoids SQLITE_BUSY across goroutines

	t := &SQLiteTransport{
		db:           db,
		purgeNowFunc: time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}

	if err := t.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	if err := t.runMigrationIfNeeded(); err != nil {
		db.Close()
		return nil, err
	}

	t.ThrottledTransport = NewThrottledTransport(flushSize, flushInterval, formatter, t)
	return t, nil
}

func (t *SQLiteTransport) ensureSchema() error {
	_, err := t.db.Exec(`
CREATE TABLE IF NOT EXISTS log (
	eventId TEXT PRIMARY KEY,
	timestamp DATETIME NOT NULL,
	level INTEGER NOT NULL,
	category TEXT,
	subsystem TEXT,
	message TEXT,
	functionName TEXT,
	file TEXT,
	fileLine INTEGER,
	objectJSON TEXT,
	objectData BLOB,
	objectMetadata TEXT
);
CREATE TABLE IF NOT EXISTS tags (
	eventId TEXT NOT NULL REFERENCES log(eventId),
	key TEXT NOT NULL,
	value TEXT
);
CREATE TABLE IF NOT EXISTS extra (
	eventId TEXT NOT NULL REFERENCES log(eventId),
	key TEXT NOT NULL,
	value BLOB
);
CREATE INDEX IF NOT EXISTS idx_log_timestamp ON log(timestamp);
`)
	if err != nil {
		return fmt.Errorf("corelog: create schema: %w", err)
	}

	var current int
	if err := t.db.QueryRow("PRAGMA user_version").Scan(&current); err != nil {
		return fmt.Errorf("corelog: read user_version: %w", err)
	}
	if current == 0 {
		if _, err := t.db.Exec(fmt.Sprintf("PRAGMA user_version = %d", sqliteSchemaVersion)); err != nil {
			return fmt.Errorf("corelog: set user_version: %w", err)
		}
	}
	return nil
}

// runMigrationIfNeeded compares the caller's desired database version
// against the stored user_version and invokes the migrate hook when the
// stored version is lower.
func (t *SQLiteTransport) runMigrationIfNeeded() error {
	if t.databaseVersion == 0 || t.migrate == nil {
		return nil
	}
	var stored int
	if err := t.db.QueryRow("PRAGMA user_version").Scan(&stored); err != nil {
		return fmt.Errorf("corelog: read user_version: %w", err)
	}
	if stored >= t.databaseVersion {
		return nil
	}
	if err := t.migrate(t.db, stored, t.databaseVersion); err != nil {
		return fmt.Errorf("corelog: migrate schema from %d to %d: %w", stored, t.databaseVersion, err)
	}
	if _, err := t.db.Exec(fmt.Sprintf("PRAGMA user_version = %d", t.databaseVersion)); err != nil {
		return fmt.Errorf("corelog: set user_version: %w", err)
	}
	return nil
}

// DeliverBatch implements BatchDelegate: the entire batch is inserted in
// one transaction using three prepared statements, reset and re-bound per
// row. Any SQL error aborts the transaction; the batch is not retried by
// this layer. After a successful commit, a lifetime-based purge runs if
// due.
func (t *SQLiteTransport) DeliverBatch(batch Batch) error {
	tx, err := t.db.Begin()
	if err != nil {
		return fmt.Errorf("corelog: begin transaction: %w", err)
	}

	logStmt, err := tx.Prepare(`INSERT INTO log
		(eventId, timestamp, level, category, subsystem, message, functionName, file, fileLine, objectJSON, objectData, objectMetadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("corelog: prepare log insert: %w", err)
	}
	defer logStmt.Close()

	tagStmt, err := tx.Prepare(`INSERT INTO tags (eventId, key, value) VALUES (?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("corelog: prepare tag insert: %w", err)
	}
	defer tagStmt.Close()

	extraStmt, err := tx.Prepare(`INSERT INTO extra (eventId, key, value) VALUES (?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("corelog: prepare extra insert: %w", err)
	}
	defer extraStmt.Close()

	for _, item := range batch.Items {
		if err := t.insertRow(logStmt, tagStmt, extraStmt, item); err != nil {
			tx.Rollback()
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("corelog: commit batch: %w", err)
	}

	t.maybePurge()
	return nil
}

func (t *SQLiteTransport) insertRow(logStmt, tagStmt, extraStmt *sql.Stmt, item BufferItem) error {
	e := item.Event

	message := e.Message.String()
	if s, ok := item.Message.AsString(); ok && s != "" {
		message = s
	}

	var objectJSON sql.NullString
	var objectData []byte
	var objectMetadata sql.NullString
	if e.IsSerialized {
		if e.codable() {
			objectJSON = sql.NullString{String: string(e.SerializedObjectData), Valid: true}
		} else {
			objectData = e.SerializedObjectData
		}
		if meta := e.SerializedObjectMetadata; len(meta) > 0 {
			if b, err := json.Marshal(meta); err == nil {
				objectMetadata = sql.NullString{String: string(b), Valid: true}
			}
		}
	}

	if _, err := logStmt.Exec(
		e.ID.String(), e.Timestamp.UTC(), int(e.Level), e.Category, e.Subsystem,
		message, e.Function, e.File, e.Line, objectJSON, objectData, objectMetadata,
	); err != nil {
		return fmt.Errorf("corelog: insert log row: %w", err)
	}

	for k, v := range e.AllTags() {
		if _, err := tagStmt.Exec(e.ID.String(), k, v); err != nil {
			return fmt.Errorf("corelog: insert tag: %w", err)
		}
	}
	for k, v := range e.AllExtra() {
		if _, err := extraStmt.Exec(e.ID.String(), k, encodeExtraValue(v)); err != nil {
			return fmt.Errorf("corelog: insert extra: %w", err)
		}
	}
	return nil
}

func encodeExtraValue(v any) []byte {
	switch t := v.(type) {
	case []byte:
		return t
	case string:
		return []byte(t)
	case bool:
		if t {
			return []byte("true")
		}
		return []byte("false")
	default:
		return []byte(fmt.Sprint(v))
	}
}

// maybePurge deletes rows older than lifetimeInterval, at most once per
// purgeMinInterval, and reports the removed count to purgeDelegate.
func (t *SQLiteTransport) maybePurge() {
	if t.lifetimeInterval <= 0 {
		return
	}
	now := t.purgeNowFunc()
	if !t.lastPurge.IsZero() && now.Sub(t.lastPurge) < t.purgeMinInterval {
		return
	}
	t.lastPurge = now

	cutoff := now.Add(-t.lifetimeInterval).UTC()
	res, err := t.db.Exec(`DELETE FROM log WHERE timestamp < ?`, cutoff)
	if err != nil {
		t.reportSQLError(ErrStorage, err)
		return
	}
	removed, _ := res.RowsAffected()
	if removed > 0 {
		t.db.Exec(`DELETE FROM tags WHERE eventId NOT IN (SELECT eventId FROM log)`)
		t.db.Exec(`DELETE FROM extra WHERE eventId NOT IN (SELECT eventId FROM log)`)
		if t.vacuumAfterPurge {
			t.db.Exec("VACUUM")
		}
	}
	if t.purgeDelegate != nil {
		t.purgeDelegate.OnPurge(removed)
	}
}

func (t *SQLiteTransport) reportSQLError(kind ErrorKind, err error) {
	if t.OnError != nil {
		t.OnError(NewTransportError("sqlite", kind, err))
	}
}

// Close flushes any buffered batch, then closes the database handle.
func (t *SQLiteTransport) Close() {
	t.ThrottledTransport.Close()
	t.db.Close()
}
