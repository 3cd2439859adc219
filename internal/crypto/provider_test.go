package crypto_test

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheMichaelB/silentpen/internal/crypto"
	"github.com/TheMichaelB/silentpen/internal/models"
	"github.com/TheMichaelB/silentpen/test/testutil"
)

var fixedSalt = bytes.Repeat([]byte{0x5a}, crypto.SaltSize)

func TestProvider_DeriveKey(t *testing.T) {
	provider := crypto.NewProvider(nil)

	tests := []struct {
		name     string
		password string
		params   models.KDFParams
		wantErr  bool
	}{
		{
			name:     "argon2id",
			password: "password123",
			params:   withSalt(testutil.FastKDFParams(), fixedSalt),
		},
		{
			name:     "scrypt",
			password: "password123",
			params: models.KDFParams{
				Algorithm: models.KDFScrypt,
				Salt:      fixedSalt,
				N:         1 << 10,
				R:         8,
				P:         1,
			},
		},
		{
			name:     "pbkdf2-sha256",
			password: "password123",
			params: models.KDFParams{
				Algorithm:  models.KDFPBKDF2SHA256,
				Salt:       fixedSalt,
				Iterations: 1000,
			},
		},
		{
			name:     "unicode password",
			password: "пароль123",
			params:   withSalt(testutil.FastKDFParams(), fixedSalt),
		},
		{
			name:     "unknown algorithm",
			password: "password123",
			params:   models.KDFParams{Algorithm: "md5", Salt: fixedSalt},
			wantErr:  true,
		},
		{
			name:     "short salt",
			password: "password123",
			params:   withSalt(testutil.FastKDFParams(), []byte("short")),
			wantErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			derived, err := provider.DeriveKey(tt.password, tt.params)

			if tt.wantErr {
				assert.ErrorIs(t, err, crypto.ErrInvalidParams)
				return
			}

			require.NoError(t, err)
			assert.Len(t, derived.Key, crypto.KeySize)
			assert.Len(t, derived.Verifier, 32)
			assert.NotEqual(t, derived.Key, derived.Verifier)
		})
	}
}

func TestDeriveKeyDeterministic(t *testing.T) {
	provider := crypto.NewProvider(nil)
	params := withSalt(testutil.FastKDFParams(), fixedSalt)

	first, err := provider.DeriveKey("same password", params)
	require.NoError(t, err)
	second, err := provider.DeriveKey("same password", params)
	require.NoError(t, err)

	assert.Equal(t, first.Key, second.Key)
	assert.True(t, second.Matches(first.Verifier))

	other, err := provider.DeriveKey("other password", params)
	require.NoError(t, err)
	assert.NotEqual(t, first.Key, other.Key)
	assert.False(t, other.Matches(first.Verifier))
}

func TestDeriveKeySaltMatters(t *testing.T) {
	provider := crypto.NewProvider(nil)

	a, err := provider.DeriveKey("pw", withSalt(testutil.FastKDFParams(), fixedSalt))
	require.NoError(t, err)
	b, err := provider.DeriveKey("pw", withSalt(testutil.FastKDFParams(), bytes.Repeat([]byte{1}, crypto.SaltSize)))
	require.NoError(t, err)

	assert.NotEqual(t, a.Key, b.Key)
}

func TestDeriveKeyNormalizesPassword(t *testing.T) {
	provider := crypto.NewProvider(nil)
	params := withSalt(testutil.FastKDFParams(), fixedSalt)

	composed, err := provider.DeriveKey("caf\u00e9", params)
	require.NoError(t, err)
	decomposed, err := provider.DeriveKey("cafe\u0301", params)
	require.NoError(t, err)

	assert.Equal(t, composed.Key, decomposed.Key)
}

func TestDerivedKeyMatchesEmptyVerifier(t *testing.T) {
	derived := &crypto.DerivedKey{Key: make([]byte, 32), Verifier: nil}
	assert.False(t, derived.Matches(nil))
	assert.False(t, derived.Matches([]byte{}))
}

func TestDerivedKeyWipe(t *testing.T) {
	derived := &crypto.DerivedKey{Key: []byte{1, 2, 3}, Verifier: []byte{4, 5}}
	derived.Wipe()
	assert.Equal(t, []byte{0, 0, 0}, derived.Key)
	assert.Equal(t, []byte{0, 0}, derived.Verifier)
}

func TestNewParams(t *testing.T) {
	provider := crypto.NewProvider(nil)
	base := testutil.FastKDFParams()

	a, err := provider.NewParams(base)
	require.NoError(t, err)
	b, err := provider.NewParams(base)
	require.NoError(t, err)

	assert.Len(t, a.Salt, crypto.SaltSize)
	assert.NotEqual(t, a.Salt, b.Salt)
	assert.Equal(t, base.Algorithm, a.Algorithm)
	assert.Equal(t, base.MemoryKiB, a.MemoryKiB)
	assert.Nil(t, base.Salt)
}

func TestNewParamsRandomFailure(t *testing.T) {
	provider := crypto.NewProvider(testutil.FailingReader{Err: errors.New("entropy exhausted")})

	_, err := provider.NewParams(testutil.FastKDFParams())
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrStorageFailure)
}

func TestValidateParams(t *testing.T) {
	tests := []struct {
		name    string
		params  models.KDFParams
		wantErr bool
	}{
		{"default argon2id", withSalt(crypto.DefaultParams(), fixedSalt), false},
		{"argon2id zero threads", models.KDFParams{Algorithm: models.KDFArgon2id, Salt: fixedSalt, Time: 1, MemoryKiB: 64}, true},
		{"argon2id huge memory", models.KDFParams{Algorithm: models.KDFArgon2id, Salt: fixedSalt, Time: 1, MemoryKiB: crypto.MaxArgon2MemoryKiB + 1, Threads: 1}, true},
		{"scrypt N not power of two", models.KDFParams{Algorithm: models.KDFScrypt, Salt: fixedSalt, N: 1000, R: 8, P: 1}, true},
		{"scrypt N too large", models.KDFParams{Algorithm: models.KDFScrypt, Salt: fixedSalt, N: crypto.MaxScryptN * 2, R: 8, P: 1}, true},
		{"pbkdf2 zero iterations", models.KDFParams{Algorithm: models.KDFPBKDF2SHA256, Salt: fixedSalt}, true},
		{"missing salt", models.KDFParams{Algorithm: models.KDFPBKDF2SHA256, Iterations: 10}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := crypto.ValidateParams(tt.params)
			if tt.wantErr {
				assert.ErrorIs(t, err, crypto.ErrInvalidParams)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateBundleParams(t *testing.T) {
	scrypt := models.KDFParams{Algorithm: models.KDFScrypt, Salt: fixedSalt, N: 32768, R: 8, P: 1}
	pbkdf2 := models.KDFParams{Algorithm: models.KDFPBKDF2SHA256, Salt: fixedSalt, Iterations: 600000}
	heavy := withSalt(crypto.DefaultParams(), fixedSalt)
	heavy.MemoryKiB = 1024 * 1024

	tests := []struct {
		name    string
		params  models.KDFParams
		local   models.KDFParams
		wantErr bool
	}{
		{"default argon2id", withSalt(crypto.DefaultParams(), fixedSalt), crypto.DefaultParams(), false},
		{"default scrypt", scrypt, crypto.DefaultParams(), false},
		{"default pbkdf2", pbkdf2, crypto.DefaultParams(), false},
		{"argon2id at global ceiling", models.KDFParams{Algorithm: models.KDFArgon2id, Salt: fixedSalt, Time: crypto.MaxArgon2Time, MemoryKiB: crypto.MaxArgon2MemoryKiB, Threads: 4}, crypto.DefaultParams(), true},
		{"argon2id memory above import ceiling", models.KDFParams{Algorithm: models.KDFArgon2id, Salt: fixedSalt, Time: 1, MemoryKiB: crypto.MaxBundleArgon2MemoryKiB + 1, Threads: 1}, crypto.DefaultParams(), true},
		{"argon2id time above import ceiling", models.KDFParams{Algorithm: models.KDFArgon2id, Salt: fixedSalt, Time: crypto.MaxBundleArgon2Time + 1, MemoryKiB: 64, Threads: 1}, crypto.DefaultParams(), true},
		{"argon2id matching a heavier local config", heavy, heavy, false},
		{"scrypt memory above import ceiling", models.KDFParams{Algorithm: models.KDFScrypt, Salt: fixedSalt, N: 1 << 20, R: 8, P: 1}, crypto.DefaultParams(), true},
		{"scrypt parallelism above import ceiling", models.KDFParams{Algorithm: models.KDFScrypt, Salt: fixedSalt, N: 1024, R: 8, P: crypto.MaxBundleScryptP + 1}, crypto.DefaultParams(), true},
		{"pbkdf2 above import ceiling", models.KDFParams{Algorithm: models.KDFPBKDF2SHA256, Salt: fixedSalt, Iterations: crypto.MaxBundleIterations + 1}, crypto.DefaultParams(), true},
		{"pbkdf2 matching local config", models.KDFParams{Algorithm: models.KDFPBKDF2SHA256, Salt: fixedSalt, Iterations: 5_000_000}, models.KDFParams{Algorithm: models.KDFPBKDF2SHA256, Iterations: 5_000_000}, false},
		{"invalid params", models.KDFParams{Algorithm: "md5", Salt: fixedSalt}, crypto.DefaultParams(), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := crypto.ValidateBundleParams(tt.params, tt.local)
			if tt.wantErr {
				assert.ErrorIs(t, err, crypto.ErrInvalidParams)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func withSalt(params models.KDFParams, salt []byte) models.KDFParams {
	params.Salt = salt
	return params
}
