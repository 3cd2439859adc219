package crypto

import "github.com/TheMichaelB/silentpen/internal/models"

// Provider defines the interface for cryptographic operations.
type Provider interface {
	// DeriveKey stretches a password into an entry key and a verifier.
	DeriveKey(password string, params models.KDFParams) (*DerivedKey, error)

	// NewParams copies the work factor of base and draws a fresh salt.
	NewParams(base models.KDFParams) (models.KDFParams, error)

	// Encrypt seals plaintext, authenticating meta as associated data.
	Encrypt(key, plaintext []byte, meta models.EntryMeta) (models.DiaryEntry, error)

	// Decrypt verifies and opens an entry.
	Decrypt(key []byte, entry models.DiaryEntry) ([]byte, error)

	// DecryptMetadata verifies an entry and returns only its metadata.
	DecryptMetadata(key []byte, entry models.DiaryEntry) (models.EntryMeta, error)
}
