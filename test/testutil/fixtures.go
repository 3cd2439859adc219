package testutil

import (
	"bytes"
	"fmt"
	"sync"
	"time"

	"github.com/TheMichaelB/silentpen/internal/models"
)

// FastKDFParams returns argon2id parameters cheap enough for unit tests.
func FastKDFParams() models.KDFParams {
	return models.KDFParams{
		Algorithm: models.KDFArgon2id,
		Time:      1,
		MemoryKiB: 64,
		Threads:   1,
	}
}

// TestHeader returns a valid store header with a fixed salt.
func TestHeader() *models.StoreHeader {
	params := FastKDFParams()
	params.Salt = bytes.Repeat([]byte{0x42}, 32)

	return &models.StoreHeader{
		SchemaVersion: models.CurrentSchemaVersion,
		KDF:           params,
		Verifier:      bytes.Repeat([]byte{0x07}, 32),
		CreatedAt:     time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

// SampleEntry builds a stored entry with recognizable opaque bytes. It is not
// a valid ciphertext under any key.
func SampleEntry(n int) models.DiaryEntry {
	return models.DiaryEntry{
		EntryMeta: models.EntryMeta{
			Date:      fmt.Sprintf("2024-01-%02d", n%28+1),
			Time:      fmt.Sprintf("%02d:%02d", n%24, n%60),
			WordCount: 10 + n,
		},
		Nonce:      bytes.Repeat([]byte{byte(n)}, 12),
		Ciphertext: []byte(fmt.Sprintf("ciphertext-%d", n)),
		AuthTag:    bytes.Repeat([]byte{byte(n + 1)}, 16),
	}
}

// SampleContents are diary texts used across service tests.
var SampleContents = []string{
	"hello world",
	"Went for a long walk by the river.",
	"今日は雨でした。",
	"Short.",
}

// Clock is a settable time source.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock creates a clock stopped at now.
func NewClock(now time.Time) *Clock {
	return &Clock{now: now}
}

// Now returns the current fake time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
