package diary

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/TheMichaelB/silentpen/internal/models"
)

// MaxBundleEntries bounds how many entries one import may carry.
const MaxBundleEntries = 100_000

// EncodeBundle serializes a bundle to its portable text form.
func EncodeBundle(bundle *models.Bundle) (string, error) {
	data, err := json.Marshal(bundle)
	if err != nil {
		return "", fmt.Errorf("marshal bundle: %w", err)
	}
	return string(data), nil
}

// DecodeBundle parses bundle text. Structural problems are invalid input;
// whether the entries verify is decided by the key.
func DecodeBundle(text string) (*models.Bundle, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, invalid("bundle is empty")
	}

	var bundle models.Bundle
	if err := json.Unmarshal([]byte(text), &bundle); err != nil {
		return nil, invalid("bundle is not valid JSON")
	}

	if bundle.Format != models.BundleFormat {
		return nil, invalid(fmt.Sprintf("unknown bundle format %q", bundle.Format))
	}
	if bundle.Version != models.BundleVersion {
		return nil, invalid(fmt.Sprintf("unsupported bundle version %d", bundle.Version))
	}
	if len(bundle.Entries) == 0 {
		return nil, invalid("bundle has no entries")
	}
	if len(bundle.Entries) > MaxBundleEntries {
		return nil, invalid(fmt.Sprintf("bundle has more than %d entries", MaxBundleEntries))
	}

	return &bundle, nil
}
