package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/TheMichaelB/silentpen/internal/events"
	"github.com/TheMichaelB/silentpen/internal/models"
)

// SQLiteStore keeps entries in a SQLite database. Every mutation is a single
// transaction.
type SQLiteStore struct {
	db     *sql.DB
	path   string
	logger *events.Logger

	mu sync.RWMutex
}

// NewSQLiteStore opens or creates the database at dbPath.
func NewSQLiteStore(dbPath string, logger *events.Logger) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0700); err != nil {
		return nil, &models.StorageError{Op: "create store directory", Path: filepath.Dir(dbPath), Err: err}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal=WAL&_timeout=5000&_sync=FULL")
	if err != nil {
		return nil, &models.StorageError{Op: "open database", Path: dbPath, Err: err}
	}

	store := &SQLiteStore{
		db:     db,
		path:   dbPath,
		logger: logger.WithFields(map[string]interface{}{"component": "sqlite_store", "path": dbPath}),
	}

	if err := store.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

// initialize creates tables.
func (s *SQLiteStore) initialize() error {
	schema := `
    CREATE TABLE IF NOT EXISTS store_header (
        id INTEGER PRIMARY KEY CHECK (id = 1),
        schema_version INTEGER NOT NULL,
        kdf TEXT NOT NULL,
        verifier BLOB,
        created_at TEXT NOT NULL
    );

    CREATE TABLE IF NOT EXISTS entries (
        seq INTEGER PRIMARY KEY,
        id TEXT NOT NULL UNIQUE,
        date TEXT NOT NULL,
        time TEXT NOT NULL,
        word_count INTEGER NOT NULL,
        nonce BLOB NOT NULL,
        ciphertext BLOB NOT NULL,
        auth_tag BLOB NOT NULL
    );
    `

	if _, err := s.db.Exec(schema); err != nil {
		if isCorrupt(err) {
			return ErrStoreUnreadable
		}
		return &models.StorageError{Op: "create schema", Path: s.path, Err: err}
	}

	return nil
}

// Header returns the store header.
func (s *SQLiteStore) Header(ctx context.Context) (*models.StoreHeader, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.header(ctx, s.db)
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

func (s *SQLiteStore) header(ctx context.Context, q querier) (*models.StoreHeader, error) {
	var (
		header    models.StoreHeader
		kdfJSON   string
		verifier  []byte
		createdAt string
	)

	err := q.QueryRowContext(ctx, `
        SELECT schema_version, kdf, verifier, created_at
        FROM store_header
        WHERE id = 1
    `).Scan(&header.SchemaVersion, &kdfJSON, &verifier, &createdAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotInitialized
	}
	if err != nil {
		return nil, s.queryError("query header", err)
	}

	if err := json.Unmarshal([]byte(kdfJSON), &header.KDF); err != nil {
		return nil, fmt.Errorf("%w: kdf parameters: %v", ErrStoreUnreadable, err)
	}
	header.Verifier = verifier
	header.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return nil, fmt.Errorf("%w: created_at: %v", ErrStoreUnreadable, err)
	}

	return &header, nil
}

// Initialize writes the header of a fresh store.
func (s *SQLiteStore) Initialize(ctx context.Context, header *models.StoreHeader) error {
	if err := checkHeader(header); err != nil {
		return err
	}

	kdfJSON, err := json.Marshal(header.KDF)
	if err != nil {
		return fmt.Errorf("marshal kdf parameters: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return s.queryError("begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := s.header(ctx, tx); err == nil {
		return ErrAlreadyInitialized
	} else if !errors.Is(err, ErrNotInitialized) {
		return err
	}

	_, err = tx.ExecContext(ctx, `
        INSERT INTO store_header (id, schema_version, kdf, verifier, created_at)
        VALUES (1, ?, ?, ?, ?)
    `, header.SchemaVersion, string(kdfJSON), header.Verifier, header.CreatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return s.queryError("insert header", err)
	}

	s.logger.WithField("kdf", header.KDF.Algorithm).Info("Initializing diary store")
	return s.commit(tx)
}

// Append adds one entry.
func (s *SQLiteStore) Append(ctx context.Context, entry models.DiaryEntry) (models.DiaryEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return models.DiaryEntry{}, s.queryError("begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := s.header(ctx, tx); err != nil {
		return models.DiaryEntry{}, err
	}

	var next int64
	if err := tx.QueryRowContext(ctx, "SELECT COALESCE(MAX(seq) + 1, 0) FROM entries").Scan(&next); err != nil {
		return models.DiaryEntry{}, s.queryError("next sequence", err)
	}

	entry = prepareEntries([]models.DiaryEntry{entry}, next)[0]
	if err := insertEntry(ctx, tx, entry); err != nil {
		return models.DiaryEntry{}, s.queryError("insert entry", err)
	}

	s.logger.WithField("seq", entry.Seq).Debug("Appending entry")

	if err := s.commit(tx); err != nil {
		return models.DiaryEntry{}, err
	}
	return entry, nil
}

// All returns every entry in creation order.
func (s *SQLiteStore) All(ctx context.Context) ([]models.DiaryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
        SELECT seq, id, date, time, word_count, nonce, ciphertext, auth_tag
        FROM entries
        ORDER BY seq
    `)
	if err != nil {
		return nil, s.queryError("query entries", err)
	}
	defer rows.Close()

	entries := []models.DiaryEntry{}
	for rows.Next() {
		var e models.DiaryEntry
		if err := rows.Scan(&e.Seq, &e.ID, &e.Date, &e.Time, &e.WordCount, &e.Nonce, &e.Ciphertext, &e.AuthTag); err != nil {
			return nil, s.queryError("scan entry", err)
		}
		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, s.queryError("iterate entries", err)
	}

	return entries, nil
}

// ReplaceAll swaps the entry sequence in one transaction.
func (s *SQLiteStore) ReplaceAll(ctx context.Context, entries []models.DiaryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return s.queryError("begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := s.header(ctx, tx); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM entries"); err != nil {
		return s.queryError("delete entries", err)
	}

	for _, entry := range prepareEntries(entries, 0) {
		if err := insertEntry(ctx, tx, entry); err != nil {
			return s.queryError(fmt.Sprintf("insert entry %d", entry.Seq), err)
		}
	}

	s.logger.WithField("entries", len(entries)).Debug("Replacing entries")
	return s.commit(tx)
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func insertEntry(ctx context.Context, tx *sql.Tx, e models.DiaryEntry) error {
	_, err := tx.ExecContext(ctx, `
        INSERT INTO entries (seq, id, date, time, word_count, nonce, ciphertext, auth_tag)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?)
    `, e.Seq, e.ID, e.Date, e.Time, e.WordCount, e.Nonce, e.Ciphertext, e.AuthTag)
	return err
}

func (s *SQLiteStore) commit(tx *sql.Tx) error {
	if err := tx.Commit(); err != nil {
		return s.queryError("commit", err)
	}
	return nil
}

// queryError classifies a database error. Context errors pass through.
func (s *SQLiteStore) queryError(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if isCorrupt(err) {
		s.logger.WithError(err).Error("Database is corrupt")
		return fmt.Errorf("%w: %s", ErrStoreUnreadable, op)
	}
	return &models.StorageError{Op: op, Path: s.path, Err: err}
}

func isCorrupt(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrCorrupt || sqliteErr.Code == sqlite3.ErrNotADB
	}
	// Errors raised while the driver applies connection pragmas are not typed
	return strings.Contains(err.Error(), "file is not a database")
}
