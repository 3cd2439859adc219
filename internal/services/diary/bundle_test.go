package diary

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheMichaelB/silentpen/internal/models"
)

func sampleBundle() *models.Bundle {
	return &models.Bundle{
		Format:    models.BundleFormat,
		Version:   models.BundleVersion,
		CreatedAt: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
		KDF: models.KDFParams{
			Algorithm: models.KDFArgon2id,
			Salt:      make([]byte, 32),
			Time:      1,
			MemoryKiB: 64,
			Threads:   1,
		},
		Verifier: []byte{1, 2, 3},
		Entries: []models.BundleEntry{{
			EntryMeta:  models.EntryMeta{Date: "2024-06-01", Time: "12:00", WordCount: 11},
			Nonce:      make([]byte, 12),
			Ciphertext: []byte("opaque"),
			AuthTag:    make([]byte, 16),
		}},
	}
}

func TestEncodeDecodeBundle(t *testing.T) {
	text, err := EncodeBundle(sampleBundle())
	require.NoError(t, err)

	var raw map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(text), &raw))
	assert.Equal(t, "silentpen-bundle", raw["format"])
	assert.Contains(t, raw, "kdf")
	assert.Contains(t, raw, "entries")

	decoded, err := DecodeBundle("\n  " + text + "\n")
	require.NoError(t, err)
	assert.Equal(t, sampleBundle(), decoded)
}

func TestDecodeBundleRejects(t *testing.T) {
	tooMany := sampleBundle()
	tooMany.Entries = make([]models.BundleEntry, MaxBundleEntries+1)
	tooManyText, err := EncodeBundle(tooMany)
	require.NoError(t, err)

	wrongVersion := sampleBundle()
	wrongVersion.Version = 2
	wrongVersionText, err := EncodeBundle(wrongVersion)
	require.NoError(t, err)

	tests := []struct {
		name    string
		text    string
		message string
	}{
		{"empty", "", "bundle is empty"},
		{"whitespace", " \t\n", "bundle is empty"},
		{"not json", "hello", "not valid JSON"},
		{"truncated", `{"format":"silentpen-bundle"`, "not valid JSON"},
		{"wrong format", `{"format":"other","version":1}`, `unknown bundle format "other"`},
		{"wrong version", wrongVersionText, "unsupported bundle version 2"},
		{"no entries", `{"format":"silentpen-bundle","version":1}`, "no entries"},
		{"too many entries", tooManyText, "more than"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bundle, err := DecodeBundle(tt.text)
			assert.Nil(t, bundle)
			require.Error(t, err)
			assert.ErrorIs(t, err, models.ErrInvalidInput)
			assert.True(t, strings.Contains(err.Error(), tt.message), err.Error())
		})
	}
}
