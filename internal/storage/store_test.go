package storage_test

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheMichaelB/silentpen/internal/config"
	"github.com/TheMichaelB/silentpen/internal/events"
	"github.com/TheMichaelB/silentpen/internal/models"
	"github.com/TheMichaelB/silentpen/internal/storage"
	"github.com/TheMichaelB/silentpen/test/testutil"
)

func TestFileStore(t *testing.T) {
	var buf bytes.Buffer
	logger := events.NewTestLogger(events.DebugLevel, "json", &buf)

	store, err := storage.NewFileStore(filepath.Join(t.TempDir(), "diary.json"), logger)
	require.NoError(t, err)
	defer store.Close()

	testStoreOperations(t, store)
}

func TestSQLiteStore(t *testing.T) {
	var buf bytes.Buffer
	logger := events.NewTestLogger(events.DebugLevel, "json", &buf)

	store, err := storage.NewSQLiteStore(filepath.Join(t.TempDir(), "diary.db"), logger)
	require.NoError(t, err)
	defer store.Close()

	testStoreOperations(t, store)
}

func TestMemoryStore(t *testing.T) {
	store := storage.NewMemoryStore()
	defer store.Close()

	testStoreOperations(t, store)
}

func testStoreOperations(t *testing.T, store storage.EntryStore) {
	ctx := context.Background()

	t.Run("fresh store", func(t *testing.T) {
		_, err := store.Header(ctx)
		assert.ErrorIs(t, err, storage.ErrNotInitialized)

		entries, err := store.All(ctx)
		require.NoError(t, err)
		assert.Empty(t, entries)
	})

	t.Run("append before initialize", func(t *testing.T) {
		_, err := store.Append(ctx, testutil.SampleEntry(0))
		assert.ErrorIs(t, err, storage.ErrNotInitialized)

		err = store.ReplaceAll(ctx, nil)
		assert.ErrorIs(t, err, storage.ErrNotInitialized)
	})

	t.Run("initialize", func(t *testing.T) {
		header := testutil.TestHeader()
		require.NoError(t, store.Initialize(ctx, header))

		loaded, err := store.Header(ctx)
		require.NoError(t, err)
		assert.Equal(t, header.KDF, loaded.KDF)
		assert.Equal(t, header.Verifier, loaded.Verifier)
		assert.True(t, header.CreatedAt.Equal(loaded.CreatedAt))

		err = store.Initialize(ctx, testutil.TestHeader())
		assert.ErrorIs(t, err, storage.ErrAlreadyInitialized)
	})

	t.Run("initialize rejects empty header", func(t *testing.T) {
		err := store.Initialize(ctx, &models.StoreHeader{})
		assert.ErrorIs(t, err, models.ErrInvalidInput)
	})

	t.Run("append assigns sequence and id", func(t *testing.T) {
		for i := 0; i < 3; i++ {
			stored, err := store.Append(ctx, testutil.SampleEntry(i))
			require.NoError(t, err)
			assert.Equal(t, int64(i), stored.Seq)
			assert.NotEmpty(t, stored.ID)
		}

		entries, err := store.All(ctx)
		require.NoError(t, err)
		require.Len(t, entries, 3)

		for i, e := range entries {
			want := testutil.SampleEntry(i)
			assert.Equal(t, int64(i), e.Seq)
			assert.Equal(t, want.EntryMeta, e.EntryMeta)
			assert.Equal(t, want.Nonce, e.Nonce)
			assert.Equal(t, want.Ciphertext, e.Ciphertext)
			assert.Equal(t, want.AuthTag, e.AuthTag)
		}
	})

	t.Run("replace all renumbers", func(t *testing.T) {
		existing, err := store.All(ctx)
		require.NoError(t, err)

		replacement := append(existing, testutil.SampleEntry(10), testutil.SampleEntry(11))
		require.NoError(t, store.ReplaceAll(ctx, replacement))

		entries, err := store.All(ctx)
		require.NoError(t, err)
		require.Len(t, entries, 5)

		for i, e := range entries {
			assert.Equal(t, int64(i), e.Seq)
			assert.NotEmpty(t, e.ID)
		}
		assert.Equal(t, existing[0].ID, entries[0].ID)
		assert.Equal(t, testutil.SampleEntry(11).EntryMeta, entries[4].EntryMeta)

		next, err := store.Append(ctx, testutil.SampleEntry(12))
		require.NoError(t, err)
		assert.Equal(t, int64(5), next.Seq)
	})

	t.Run("concurrent appends", func(t *testing.T) {
		before, err := store.All(ctx)
		require.NoError(t, err)

		var wg sync.WaitGroup
		errs := make(chan error, 10)
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func(n int) {
				defer wg.Done()
				if _, err := store.Append(ctx, testutil.SampleEntry(20+n)); err != nil {
					errs <- err
				}
			}(i)
		}
		wg.Wait()
		close(errs)

		for err := range errs {
			t.Errorf("Append error: %v", err)
		}

		entries, err := store.All(ctx)
		require.NoError(t, err)
		assert.Len(t, entries, len(before)+10)

		seen := make(map[int64]bool)
		for _, e := range entries {
			assert.False(t, seen[e.Seq], "duplicate seq %d", e.Seq)
			seen[e.Seq] = true
		}
	})

	t.Run("cancelled context", func(t *testing.T) {
		cancelled, cancel := context.WithCancel(ctx)
		cancel()

		_, err := store.Append(cancelled, testutil.SampleEntry(99))
		assert.Error(t, err)
	})
}

func TestOpen(t *testing.T) {
	tmpDir := t.TempDir()
	logger := testutil.NewTestLogger()

	tests := []struct {
		backend string
		want    string
		wantErr bool
	}{
		{config.BackendFile, "*storage.FileStore", false},
		{config.BackendSQLite, "*storage.SQLiteStore", false},
		{config.BackendMemory, "*storage.MemoryStore", false},
		{"postgres", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.backend, func(t *testing.T) {
			store, err := storage.Open(tt.backend, filepath.Join(tmpDir, tt.backend, "diary"), logger)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			defer store.Close()
			assert.Equal(t, tt.want, fmt.Sprintf("%T", store))
		})
	}
}

func TestMemoryStoreFailures(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	require.NoError(t, store.Initialize(ctx, testutil.TestHeader()))

	store.FailOn(storage.OpAppend, fmt.Errorf("disk full"))

	_, err := store.Append(ctx, testutil.SampleEntry(0))
	assert.ErrorIs(t, err, models.ErrStorageFailure)

	store.FailOn(storage.OpAppend, nil)
	_, err = store.Append(ctx, testutil.SampleEntry(0))
	require.NoError(t, err)

	require.NoError(t, store.Tamper(0, func(e *models.DiaryEntry) { e.WordCount = 1 }))
	entries, err := store.All(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, entries[0].WordCount)

	assert.Error(t, store.Tamper(5, func(*models.DiaryEntry) {}))
}

func TestClosedStore(t *testing.T) {
	ctx := context.Background()

	store, err := storage.NewFileStore(filepath.Join(t.TempDir(), "diary.json"), testutil.NewTestLogger())
	require.NoError(t, err)
	require.NoError(t, store.Close())

	_, err = store.All(ctx)
	assert.ErrorIs(t, err, storage.ErrClosed)
}
