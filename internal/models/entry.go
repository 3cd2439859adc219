package models

import (
	"strings"
	"time"
	"unicode/utf8"
)

// Layouts of the plaintext entry metadata, in the creator's local time zone.
const (
	DateLayout = "2006-01-02"
	TimeLayout = "15:04"
)

// CurrentSchemaVersion of the persisted store layout.
const CurrentSchemaVersion = 1

// EntryMeta is the metadata kept in the clear next to every entry. It is
// authenticated together with the ciphertext.
type EntryMeta struct {
	Date      string `json:"date"`
	Time      string `json:"time"`
	WordCount int    `json:"word_count"`
}

// NewEntryMeta derives the metadata of content written at now.
func NewEntryMeta(content string, now time.Time) EntryMeta {
	local := now.Local()
	return EntryMeta{
		Date:      local.Format(DateLayout),
		Time:      local.Format(TimeLayout),
		WordCount: WordCount(content),
	}
}

// WordCount counts the characters of content once surrounding whitespace is
// trimmed, matching how the diary has always measured entries.
func WordCount(content string) int {
	return utf8.RuneCountInString(strings.TrimSpace(content))
}

// DiaryEntry is one encrypted diary note. Entries are never modified once written.
type DiaryEntry struct {
	ID  string `json:"id"`
	Seq int64  `json:"seq"` // Insertion order, assigned by the store
	EntryMeta

	Nonce      []byte `json:"nonce"`
	Ciphertext []byte `json:"ciphertext"`
	AuthTag    []byte `json:"auth_tag"`
}

// Less orders entries by date, time and insertion order.
func (e DiaryEntry) Less(other DiaryEntry) bool {
	if e.Date != other.Date {
		return e.Date < other.Date
	}
	if e.Time != other.Time {
		return e.Time < other.Time
	}
	return e.Seq < other.Seq
}

// KDF algorithm identifiers.
const (
	KDFArgon2id     = "argon2id"
	KDFScrypt       = "scrypt"
	KDFPBKDF2SHA256 = "pbkdf2-sha256"
)

// KDFParams describes how a password is stretched into a key. The salt is
// unique per store and per export bundle.
type KDFParams struct {
	Algorithm string `json:"algorithm"`
	Salt      []byte `json:"salt"`

	// argon2id
	Time      uint32 `json:"time,omitempty"`
	MemoryKiB uint32 `json:"memory_kib,omitempty"`
	Threads   uint8  `json:"threads,omitempty"`

	// scrypt
	N int `json:"n,omitempty"`
	R int `json:"r,omitempty"`
	P int `json:"p,omitempty"`

	// pbkdf2-sha256
	Iterations int `json:"iterations,omitempty"`
}

// StoreHeader is the store-wide key material: salt, work factor and the
// password verifier. It is written once when the first entry arrives.
type StoreHeader struct {
	SchemaVersion int       `json:"schema_version"`
	KDF           KDFParams `json:"kdf"`
	Verifier      []byte    `json:"verifier,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// BundleFormat tags export bundles.
const (
	BundleFormat  = "silentpen-bundle"
	BundleVersion = 1
)

// Bundle is a portable export of entries, encrypted under a key derived from
// the export password and the bundle's own salt.
type Bundle struct {
	Format    string        `json:"format"`
	Version   int           `json:"version"`
	CreatedAt time.Time     `json:"created_at"`
	KDF       KDFParams     `json:"kdf"`
	Verifier  []byte        `json:"verifier,omitempty"`
	Entries   []BundleEntry `json:"entries"`
}

// BundleEntry is one re-encrypted entry inside a bundle.
type BundleEntry struct {
	EntryMeta
	Nonce      []byte `json:"nonce"`
	Ciphertext []byte `json:"ciphertext"`
	AuthTag    []byte `json:"auth_tag"`
}

// ToEntry converts the bundle record to the codec's entry shape.
func (b BundleEntry) ToEntry() DiaryEntry {
	return DiaryEntry{
		EntryMeta:  b.EntryMeta,
		Nonce:      b.Nonce,
		Ciphertext: b.Ciphertext,
		AuthTag:    b.AuthTag,
	}
}

// NewBundleEntry strips store bookkeeping from an entry.
func NewBundleEntry(e DiaryEntry) BundleEntry {
	return BundleEntry{
		EntryMeta:  e.EntryMeta,
		Nonce:      e.Nonce,
		Ciphertext: e.Ciphertext,
		AuthTag:    e.AuthTag,
	}
}
