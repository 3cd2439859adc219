package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/TheMichaelB/silentpen/internal/models"
)

const entryFormat = "silentpen/entry/v1"

// Encrypt seals plaintext under key with a fresh random nonce. The entry's
// date, time and word count are bound to the tag as associated data.
func (p *CryptoProvider) Encrypt(key, plaintext []byte, meta models.EntryMeta) (models.DiaryEntry, error) {
	aead, err := newAEAD(key)
	if err != nil {
		return models.DiaryEntry{}, err
	}

	// Generate nonce
	nonce := make([]byte, NonceSize)
	if _, err := io.ReadFull(p.rand, nonce); err != nil {
		return models.DiaryEntry{}, &models.StorageError{Op: "generate nonce", Err: err}
	}

	sealed := aead.Seal(nil, nonce, plaintext, associatedData(meta))

	// Split the tag from the end of the sealed output
	split := len(sealed) - TagSize
	ciphertext := make([]byte, split)
	copy(ciphertext, sealed[:split])
	tag := make([]byte, TagSize)
	copy(tag, sealed[split:])

	return models.DiaryEntry{
		EntryMeta:  meta,
		Nonce:      nonce,
		Ciphertext: ciphertext,
		AuthTag:    tag,
	}, nil
}

// Decrypt verifies the entry's tag over ciphertext and metadata before
// returning any plaintext. Any mismatch is ErrAuthenticationFailed.
func (p *CryptoProvider) Decrypt(key []byte, entry models.DiaryEntry) ([]byte, error) {
	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}

	if len(entry.Nonce) != NonceSize || len(entry.AuthTag) != TagSize {
		return nil, ErrAuthenticationFailed
	}

	// aead.Open expects ciphertext+tag combined
	combined := make([]byte, 0, len(entry.Ciphertext)+TagSize)
	combined = append(combined, entry.Ciphertext...)
	combined = append(combined, entry.AuthTag...)

	plaintext, err := aead.Open(nil, entry.Nonce, combined, associatedData(entry.EntryMeta))
	if err != nil {
		return nil, ErrAuthenticationFailed
	}

	return plaintext, nil
}

// DecryptMetadata fully verifies the entry and returns its metadata. The
// plaintext is discarded.
func (p *CryptoProvider) DecryptMetadata(key []byte, entry models.DiaryEntry) (models.EntryMeta, error) {
	plaintext, err := p.Decrypt(key, entry)
	if err != nil {
		return models.EntryMeta{}, err
	}
	zero(plaintext)
	return entry.EntryMeta, nil
}

func newAEAD(key []byte) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKey
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}

	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}
	return aead, nil
}

// associatedData encodes the metadata unambiguously: every field is length
// prefixed, the word count is a fixed-width integer.
func associatedData(meta models.EntryMeta) []byte {
	buf := make([]byte, 0, 64)
	for _, field := range []string{entryFormat, meta.Date, meta.Time} {
		buf = binary.BigEndian.AppendUint32(buf, uint32(len(field)))
		buf = append(buf, field...)
	}
	return binary.BigEndian.AppendUint64(buf, uint64(meta.WordCount))
}
