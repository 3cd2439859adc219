package storage

import (
	"context"
	"fmt"
	"sync"

	"github.com/TheMichaelB/silentpen/internal/models"
)

// Operation names accepted by MemoryStore.FailOn.
const (
	OpHeader     = "header"
	OpInitialize = "initialize"
	OpAppend     = "append"
	OpAll        = "all"
	OpReplaceAll = "replace_all"
)

// MemoryStore keeps the diary in process memory. It backs throwaway sessions
// and lets tests inject faults and tamper with stored entries.
type MemoryStore struct {
	mu       sync.RWMutex
	header   *models.StoreHeader
	entries  []models.DiaryEntry
	failures map[string]error
	closed   bool
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		failures: make(map[string]error),
	}
}

// FailOn makes every later call of op fail with err. A nil err clears it.
func (m *MemoryStore) FailOn(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err == nil {
		delete(m.failures, op)
		return
	}
	m.failures[op] = &models.StorageError{Op: op, Err: err}
}

// Tamper edits the stored entry at position in place.
func (m *MemoryStore) Tamper(position int, fn func(*models.DiaryEntry)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if position < 0 || position >= len(m.entries) {
		return fmt.Errorf("no entry at position %d", position)
	}
	entry := cloneEntry(m.entries[position])
	fn(&entry)
	m.entries[position] = entry
	return nil
}

// Header returns the store header.
func (m *MemoryStore) Header(ctx context.Context) (*models.StoreHeader, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := m.check(ctx, OpHeader); err != nil {
		return nil, err
	}
	if m.header == nil {
		return nil, ErrNotInitialized
	}
	header := *m.header
	return &header, nil
}

// Initialize writes the header of a fresh store.
func (m *MemoryStore) Initialize(ctx context.Context, header *models.StoreHeader) error {
	if err := checkHeader(header); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.check(ctx, OpInitialize); err != nil {
		return err
	}
	if m.header != nil {
		return ErrAlreadyInitialized
	}

	h := *header
	m.header = &h
	return nil
}

// Append adds one entry.
func (m *MemoryStore) Append(ctx context.Context, entry models.DiaryEntry) (models.DiaryEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.check(ctx, OpAppend); err != nil {
		return models.DiaryEntry{}, err
	}
	if m.header == nil {
		return models.DiaryEntry{}, ErrNotInitialized
	}

	entry = prepareEntries([]models.DiaryEntry{cloneEntry(entry)}, int64(len(m.entries)))[0]
	m.entries = append(m.entries, entry)
	return cloneEntry(entry), nil
}

// All returns copies of every entry in creation order.
func (m *MemoryStore) All(ctx context.Context) ([]models.DiaryEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := m.check(ctx, OpAll); err != nil {
		return nil, err
	}

	result := make([]models.DiaryEntry, len(m.entries))
	for i, e := range m.entries {
		result[i] = cloneEntry(e)
	}
	return result, nil
}

// ReplaceAll swaps the entry sequence.
func (m *MemoryStore) ReplaceAll(ctx context.Context, entries []models.DiaryEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.check(ctx, OpReplaceAll); err != nil {
		return err
	}
	if m.header == nil {
		return ErrNotInitialized
	}

	cloned := make([]models.DiaryEntry, len(entries))
	for i, e := range entries {
		cloned[i] = cloneEntry(e)
	}
	m.entries = prepareEntries(cloned, 0)
	return nil
}

// Close marks the store closed.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *MemoryStore) check(ctx context.Context, op string) error {
	if m.closed {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return m.failures[op]
}

func cloneEntry(e models.DiaryEntry) models.DiaryEntry {
	e.Nonce = append([]byte(nil), e.Nonce...)
	e.Ciphertext = append([]byte(nil), e.Ciphertext...)
	e.AuthTag = append([]byte(nil), e.AuthTag...)
	return e
}
