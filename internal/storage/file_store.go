package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/TheMichaelB/silentpen/internal/events"
	"github.com/TheMichaelB/silentpen/internal/models"
)

// storeDocument is the on-disk layout of a FileStore.
type storeDocument struct {
	SchemaVersion int                 `json:"schema_version"`
	Header        *models.StoreHeader `json:"header,omitempty"`
	Entries       []models.DiaryEntry `json:"entries"`
	UpdatedAt     time.Time           `json:"updated_at"`
}

// FileStore keeps the whole diary in one JSON file, replaced atomically on
// every write.
type FileStore struct {
	path   string
	logger *events.Logger

	mu           sync.RWMutex
	closed       bool
	beforeCommit commitHook
}

// NewFileStore opens (or prepares to create) the store file at path.
func NewFileStore(path string, logger *events.Logger) (*FileStore, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve store path: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(absPath), 0700); err != nil {
		return nil, &models.StorageError{Op: "create store directory", Path: filepath.Dir(absPath), Err: err}
	}

	logger = logger.WithFields(map[string]interface{}{
		"component": "file_store",
		"path":      absPath,
	})

	cleanStaleTemps(absPath, logger)

	return &FileStore{
		path:   absPath,
		logger: logger,
	}, nil
}

// Path returns the store file location.
func (s *FileStore) Path() string {
	return s.path
}

// Header returns the store header.
func (s *FileStore) Header(ctx context.Context) (*models.StoreHeader, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	if doc.Header == nil {
		return nil, ErrNotInitialized
	}
	return doc.Header, nil
}

// Initialize writes the header of a fresh store.
func (s *FileStore) Initialize(ctx context.Context, header *models.StoreHeader) error {
	if err := checkHeader(header); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load(ctx)
	if err != nil {
		return err
	}
	if doc.Header != nil {
		return ErrAlreadyInitialized
	}

	doc.Header = header
	s.logger.WithField("kdf", header.KDF.Algorithm).Info("Initializing diary store")
	return s.write(doc)
}

// Append adds one entry.
func (s *FileStore) Append(ctx context.Context, entry models.DiaryEntry) (models.DiaryEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load(ctx)
	if err != nil {
		return models.DiaryEntry{}, err
	}
	if doc.Header == nil {
		return models.DiaryEntry{}, ErrNotInitialized
	}

	entry = prepareEntries([]models.DiaryEntry{entry}, int64(len(doc.Entries)))[0]
	doc.Entries = append(doc.Entries, entry)

	s.logger.WithFields(map[string]interface{}{
		"seq":     entry.Seq,
		"entries": len(doc.Entries),
	}).Debug("Appending entry")

	if err := s.write(doc); err != nil {
		return models.DiaryEntry{}, err
	}
	return entry, nil
}

// All returns every entry in creation order.
func (s *FileStore) All(ctx context.Context) ([]models.DiaryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	return doc.Entries, nil
}

// ReplaceAll swaps the entry sequence in one write.
func (s *FileStore) ReplaceAll(ctx context.Context, entries []models.DiaryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load(ctx)
	if err != nil {
		return err
	}
	if doc.Header == nil {
		return ErrNotInitialized
	}

	s.logger.WithFields(map[string]interface{}{
		"before": len(doc.Entries),
		"after":  len(entries),
	}).Debug("Replacing entries")

	doc.Entries = prepareEntries(entries, 0)
	return s.write(doc)
}

// Close marks the store closed.
func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// load reads the current document. A missing file is an empty store.
func (s *FileStore) load(ctx context.Context) (*storeDocument, error) {
	if s.closed {
		return nil, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return &storeDocument{SchemaVersion: models.CurrentSchemaVersion}, nil
	}
	if err != nil {
		return nil, &models.StorageError{Op: "read", Path: s.path, Err: err}
	}

	var doc storeDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		s.logger.WithError(err).Error("Store file is not valid JSON")
		return nil, ErrStoreUnreadable
	}

	if doc.SchemaVersion != models.CurrentSchemaVersion {
		s.logger.WithField("version", doc.SchemaVersion).Error("Unsupported store schema version")
		return nil, fmt.Errorf("%w: schema version %d", ErrStoreUnreadable, doc.SchemaVersion)
	}

	return &doc, nil
}

func (s *FileStore) write(doc *storeDocument) error {
	doc.SchemaVersion = models.CurrentSchemaVersion
	doc.UpdatedAt = time.Now().UTC()
	if doc.Entries == nil {
		doc.Entries = []models.DiaryEntry{}
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal store: %w", err)
	}

	return writeAtomic(s.path, data, s.beforeCommit, s.logger)
}
