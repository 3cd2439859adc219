package crypto

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/pbkdf2"
	"golang.org/x/crypto/scrypt"
	"golang.org/x/text/unicode/norm"

	"github.com/TheMichaelB/silentpen/internal/models"
)

const (
	// Key sizes
	KeySize   = 32 // AES-256
	NonceSize = 12 // GCM standard
	TagSize   = 16 // GCM tag

	SaltSize    = 32
	MinSaltSize = 16

	// Upper bounds keep a hostile bundle from demanding unbounded work.
	MaxArgon2MemoryKiB = 4 * 1024 * 1024
	MaxArgon2Time      = 64
	MaxScryptN         = 1 << 22
	MaxIterations      = 50_000_000

	// Imported bundles are held to a small multiple of the default work.
	MaxBundleArgon2MemoryKiB = 256 * 1024
	MaxBundleArgon2Time      = 12
	MaxBundleScryptMemory    = 256 << 20 // 128 * N * r bytes
	MaxBundleScryptP         = 4
	MaxBundleIterations      = 2_400_000

	keyLabel      = "silentpen/key/v1"
	verifierLabel = "silentpen/verifier/v1"
)

// Errors
var (
	ErrInvalidKey           = errors.New("invalid key size")
	ErrInvalidParams        = errors.New("invalid kdf parameters")
	ErrAuthenticationFailed = errors.New("authentication failed")
)

// DerivedKey is the output of key derivation.
type DerivedKey struct {
	Key      []byte
	Verifier []byte
}

// Matches reports whether verifier was produced by the same password and params.
func (d *DerivedKey) Matches(verifier []byte) bool {
	return len(verifier) > 0 && hmac.Equal(d.Verifier, verifier)
}

// Wipe zeroes the key material.
func (d *DerivedKey) Wipe() {
	zero(d.Key)
	zero(d.Verifier)
}

// CryptoProvider handles all cryptographic operations.
type CryptoProvider struct {
	rand io.Reader
}

// NewProvider creates a crypto provider. A nil random source selects crypto/rand.
func NewProvider(random io.Reader) *CryptoProvider {
	if random == nil {
		random = rand.Reader
	}
	return &CryptoProvider{rand: random}
}

// DefaultParams returns the argon2id work factor used for new stores.
func DefaultParams() models.KDFParams {
	return models.KDFParams{
		Algorithm: models.KDFArgon2id,
		Time:      3,
		MemoryKiB: 64 * 1024,
		Threads:   4,
	}
}

// ValidateParams checks params before any work is done.
func ValidateParams(params models.KDFParams) error {
	if len(params.Salt) < MinSaltSize {
		return fmt.Errorf("%w: salt too short: %d bytes", ErrInvalidParams, len(params.Salt))
	}

	switch params.Algorithm {
	case models.KDFArgon2id:
		if params.Threads == 0 {
			return fmt.Errorf("%w: argon2id threads must be positive", ErrInvalidParams)
		}
		if params.Time == 0 || params.Time > MaxArgon2Time {
			return fmt.Errorf("%w: argon2id time out of range: %d", ErrInvalidParams, params.Time)
		}
		if params.MemoryKiB < 8*uint32(params.Threads) || params.MemoryKiB > MaxArgon2MemoryKiB {
			return fmt.Errorf("%w: argon2id memory out of range: %d KiB", ErrInvalidParams, params.MemoryKiB)
		}
	case models.KDFScrypt:
		if params.N <= 1 || params.N&(params.N-1) != 0 || params.N > MaxScryptN {
			return fmt.Errorf("%w: scrypt N must be a power of two up to %d", ErrInvalidParams, MaxScryptN)
		}
		if params.R <= 0 || params.P <= 0 || params.R*params.P >= 1<<30 {
			return fmt.Errorf("%w: scrypt r and p out of range", ErrInvalidParams)
		}
	case models.KDFPBKDF2SHA256:
		if params.Iterations <= 0 || params.Iterations > MaxIterations {
			return fmt.Errorf("%w: pbkdf2 iterations out of range: %d", ErrInvalidParams, params.Iterations)
		}
	default:
		return fmt.Errorf("%w: unsupported algorithm %q", ErrInvalidParams, params.Algorithm)
	}

	return nil
}

// ValidateBundleParams checks params carried by an imported bundle. Besides
// ValidateParams it caps the work at the bundle ceilings, raised to local when
// local uses the same algorithm with a larger work factor.
func ValidateBundleParams(params, local models.KDFParams) error {
	if err := ValidateParams(params); err != nil {
		return err
	}

	same := params.Algorithm == local.Algorithm
	switch params.Algorithm {
	case models.KDFArgon2id:
		maxMemory, maxTime := uint32(MaxBundleArgon2MemoryKiB), uint32(MaxBundleArgon2Time)
		if same {
			maxMemory = max(maxMemory, local.MemoryKiB)
			maxTime = max(maxTime, local.Time)
		}
		if params.MemoryKiB > maxMemory || params.Time > maxTime {
			return fmt.Errorf("%w: argon2id work too high for import: t=%d m=%d KiB",
				ErrInvalidParams, params.Time, params.MemoryKiB)
		}
	case models.KDFScrypt:
		maxMemory, maxP := int64(MaxBundleScryptMemory), MaxBundleScryptP
		if same {
			maxMemory = max(maxMemory, 128*int64(local.N)*int64(local.R))
			maxP = max(maxP, local.P)
		}
		if 128*int64(params.N)*int64(params.R) > maxMemory || params.P > maxP {
			return fmt.Errorf("%w: scrypt work too high for import: N=%d r=%d p=%d",
				ErrInvalidParams, params.N, params.R, params.P)
		}
	case models.KDFPBKDF2SHA256:
		maxIterations := MaxBundleIterations
		if same {
			maxIterations = max(maxIterations, local.Iterations)
		}
		if params.Iterations > maxIterations {
			return fmt.Errorf("%w: pbkdf2 iterations too high for import: %d",
				ErrInvalidParams, params.Iterations)
		}
	}

	return nil
}

// DeriveKey derives the entry key and verifier for password. The result is a
// pure function of the NFKC form of password and params.
func (p *CryptoProvider) DeriveKey(password string, params models.KDFParams) (*DerivedKey, error) {
	if err := ValidateParams(params); err != nil {
		return nil, err
	}

	secret := []byte(norm.NFKC.String(password))
	defer zero(secret)

	var master []byte
	switch params.Algorithm {
	case models.KDFArgon2id:
		master = argon2.IDKey(secret, params.Salt, params.Time, params.MemoryKiB, params.Threads, KeySize)
	case models.KDFScrypt:
		var err error
		master, err = scrypt.Key(secret, params.Salt, params.N, params.R, params.P, KeySize)
		if err != nil {
			return nil, fmt.Errorf("scrypt key derivation: %w", err)
		}
	case models.KDFPBKDF2SHA256:
		master = pbkdf2.Key(secret, params.Salt, params.Iterations, KeySize, sha256.New)
	}
	defer zero(master)

	return &DerivedKey{
		Key:      expand(master, keyLabel),
		Verifier: expand(master, verifierLabel),
	}, nil
}

// NewParams copies the work factor of base and draws a fresh salt.
func (p *CryptoProvider) NewParams(base models.KDFParams) (models.KDFParams, error) {
	params := base
	params.Salt = make([]byte, SaltSize)
	if _, err := io.ReadFull(p.rand, params.Salt); err != nil {
		return models.KDFParams{}, &models.StorageError{Op: "generate salt", Err: err}
	}

	if err := ValidateParams(params); err != nil {
		return models.KDFParams{}, err
	}
	return params, nil
}

// expand derives an independent subkey from master.
func expand(master []byte, label string) []byte {
	h := hmac.New(sha256.New, master)
	h.Write([]byte(label))
	return h.Sum(nil)
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
