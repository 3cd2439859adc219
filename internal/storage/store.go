package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/TheMichaelB/silentpen/internal/config"
	"github.com/TheMichaelB/silentpen/internal/events"
	"github.com/TheMichaelB/silentpen/internal/models"
)

// EntryStore is the persisted, ordered collection of diary entries. It is the
// only component that touches durable storage. Every mutation is atomic: after
// a crash either the old or the new state is visible, never a mix.
type EntryStore interface {
	// Header returns the store-wide key material.
	// ErrNotInitialized means no entry has been written yet.
	Header(ctx context.Context) (*models.StoreHeader, error)

	// Initialize writes the header of a fresh store.
	Initialize(ctx context.Context, header *models.StoreHeader) error

	// Append durably adds an entry and returns it with Seq and ID assigned.
	Append(ctx context.Context, entry models.DiaryEntry) (models.DiaryEntry, error)

	// All returns every entry in creation order without decrypting.
	All(ctx context.Context) ([]models.DiaryEntry, error)

	// ReplaceAll atomically swaps the entry sequence, renumbering Seq in order.
	ReplaceAll(ctx context.Context, entries []models.DiaryEntry) error

	// Close releases resources.
	Close() error
}

// Errors
var (
	ErrNotInitialized     = errors.New("store not initialized")
	ErrAlreadyInitialized = errors.New("store already initialized")
	ErrClosed             = errors.New("store is closed")
	ErrStoreUnreadable    = fmt.Errorf("%w: store file is unreadable", models.ErrStoreCorrupted)
)

// Open creates the store for backend at path.
func Open(backend, path string, logger *events.Logger) (EntryStore, error) {
	switch backend {
	case config.BackendFile, "":
		return NewFileStore(path, logger)
	case config.BackendSQLite:
		return NewSQLiteStore(path, logger)
	case config.BackendMemory:
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown storage backend: %s", backend)
	}
}

// prepareEntries assigns IDs where missing and numbers entries from first.
func prepareEntries(entries []models.DiaryEntry, first int64) []models.DiaryEntry {
	out := make([]models.DiaryEntry, len(entries))
	for i, e := range entries {
		if e.ID == "" {
			e.ID = uuid.NewString()
		}
		e.Seq = first + int64(i)
		out[i] = e
	}
	return out
}

func checkHeader(header *models.StoreHeader) error {
	if header == nil || header.KDF.Algorithm == "" || len(header.KDF.Salt) == 0 {
		return fmt.Errorf("%w: header without key derivation parameters", models.ErrInvalidInput)
	}
	return nil
}
