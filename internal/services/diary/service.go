package diary

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/TheMichaelB/silentpen/internal/crypto"
	"github.com/TheMichaelB/silentpen/internal/events"
	"github.com/TheMichaelB/silentpen/internal/models"
	"github.com/TheMichaelB/silentpen/internal/storage"
)

// Operation names used in errors and logs.
const (
	OpSave   = "save"
	OpList   = "list"
	OpExport = "export"
	OpImport = "import"
)

// Service implements the diary operations on top of an entry store. It keeps
// no state between calls besides the lock; keys are derived per call.
type Service struct {
	store  storage.EntryStore
	crypto crypto.Provider
	logger *events.Logger

	// Work factor for new stores and export bundles
	kdf models.KDFParams
	now func() time.Time

	// Save and Import hold the write lock across read-modify-write;
	// List and Export take a read snapshot.
	mu sync.RWMutex
}

// Option configures a Service.
type Option func(*Service)

// WithClock sets the time source for entry dates.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// WithKDFParams sets the work factor used for new stores and bundles.
func WithKDFParams(params models.KDFParams) Option {
	return func(s *Service) {
		params.Salt = nil
		s.kdf = params
	}
}

// WithRandom sets the randomness source for salts and nonces.
func WithRandom(r io.Reader) Option {
	return func(s *Service) {
		s.crypto = crypto.NewProvider(r)
	}
}

// NewService creates a diary service.
func NewService(store storage.EntryStore, logger *events.Logger, opts ...Option) *Service {
	s := &Service{
		store:  store,
		crypto: crypto.NewProvider(nil),
		logger: logger.WithField("service", "diary"),
		kdf:    crypto.DefaultParams(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Save encrypts content under password and appends it to the store. The first
// save initializes the store's salt and verifier from password; later saves
// must use the same password.
func (s *Service) Save(ctx context.Context, content, password string) error {
	if strings.TrimSpace(content) == "" {
		return s.fail(OpSave, invalid("content is empty"))
	}
	if password == "" {
		return s.fail(OpSave, invalid("password is empty"))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	derived, err := s.unlockOrInitialize(ctx, password)
	if err != nil {
		return s.fail(OpSave, err)
	}
	defer derived.Wipe()

	meta := models.NewEntryMeta(content, s.now())
	entry, err := s.crypto.Encrypt(derived.Key, []byte(content), meta)
	if err != nil {
		return s.fail(OpSave, err)
	}

	stored, err := s.store.Append(ctx, entry)
	if err != nil {
		return s.fail(OpSave, storageErr(err))
	}

	s.logger.WithFields(map[string]interface{}{
		"seq":        stored.Seq,
		"date":       meta.Date,
		"word_count": meta.WordCount,
	}).Info("Saved diary entry")

	return nil
}

// List returns the metadata of every entry, sorted by date, time and
// insertion order. Every entry is verified under the password's key. When
// some entries fail under an otherwise correct key the verified ones are
// returned together with a *models.CorruptionError.
func (s *Service) List(ctx context.Context, password string) ([]models.EntryMeta, error) {
	if password == "" {
		return nil, s.fail(OpList, invalid("password is empty"))
	}

	header, entries, err := s.snapshot(ctx)
	if errors.Is(err, storage.ErrNotInitialized) {
		return []models.EntryMeta{}, nil
	}
	if err != nil {
		return nil, s.fail(OpList, err)
	}

	derived, err := s.unlock(header, password)
	if err != nil {
		return nil, s.fail(OpList, err)
	}
	defer derived.Wipe()

	verified, verifyErr := s.verifyEntries(header, entries, func(e models.DiaryEntry) ([]byte, error) {
		_, err := s.crypto.DecryptMetadata(derived.Key, e)
		return nil, err
	})
	if verifyErr != nil && !errors.Is(verifyErr, models.ErrStoreCorrupted) {
		return nil, s.fail(OpList, verifyErr)
	}

	sortEntries(verified)
	metas := make([]models.EntryMeta, len(verified))
	for i, v := range verified {
		metas[i] = v.entry.EntryMeta
	}

	s.logger.WithFields(map[string]interface{}{
		"entries":  len(entries),
		"verified": len(verified),
	}).Debug("Listed diary entries")

	if verifyErr != nil {
		return metas, s.fail(OpList, verifyErr)
	}
	return metas, nil
}

// Export decrypts every entry with password and re-encrypts it into a bundle
// keyed by exportPassword under a fresh salt. The store's own key material
// never leaves the store.
func (s *Service) Export(ctx context.Context, password, exportPassword string) (string, error) {
	if password == "" {
		return "", s.fail(OpExport, invalid("password is empty"))
	}
	if exportPassword == "" {
		return "", s.fail(OpExport, invalid("export password is empty"))
	}

	header, entries, err := s.snapshot(ctx)
	if errors.Is(err, storage.ErrNotInitialized) {
		return "", s.fail(OpExport, models.ErrNothingToExport)
	}
	if err != nil {
		return "", s.fail(OpExport, err)
	}

	derived, err := s.unlock(header, password)
	if err != nil {
		return "", s.fail(OpExport, err)
	}
	defer derived.Wipe()

	if len(entries) == 0 {
		return "", s.fail(OpExport, models.ErrNothingToExport)
	}

	opened, err := s.verifyEntries(header, entries, func(e models.DiaryEntry) ([]byte, error) {
		return s.crypto.Decrypt(derived.Key, e)
	})
	if err != nil {
		return "", s.fail(OpExport, err)
	}
	defer wipeOpened(opened)

	bundle, err := s.sealBundle(opened, exportPassword)
	if err != nil {
		return "", s.fail(OpExport, err)
	}

	text, err := EncodeBundle(bundle)
	if err != nil {
		return "", s.fail(OpExport, err)
	}

	s.logger.WithField("entries", len(bundle.Entries)).Info("Exported diary")
	return text, nil
}

// Import decrypts a bundle with importPassword and appends its entries,
// re-encrypted under activePassword, after the existing ones. Nothing is
// written unless every bundle entry verifies. Entries are not deduplicated:
// importing the same bundle twice stores every entry twice.
func (s *Service) Import(ctx context.Context, importPassword, bundleText, activePassword string) (int, error) {
	if importPassword == "" {
		return 0, s.fail(OpImport, invalid("import password is empty"))
	}
	if activePassword == "" {
		return 0, s.fail(OpImport, invalid("password is empty"))
	}

	bundle, err := DecodeBundle(bundleText)
	if err != nil {
		return 0, s.fail(OpImport, err)
	}

	opened, err := s.openBundle(bundle, importPassword)
	if err != nil {
		return 0, s.fail(OpImport, err)
	}
	defer wipeOpened(opened)

	s.mu.Lock()
	defer s.mu.Unlock()

	derived, err := s.unlockOrInitialize(ctx, activePassword)
	if err != nil {
		return 0, s.fail(OpImport, err)
	}
	defer derived.Wipe()

	existing, err := s.store.All(ctx)
	if err != nil {
		return 0, s.fail(OpImport, storageErr(err))
	}

	merged := make([]models.DiaryEntry, 0, len(existing)+len(opened))
	merged = append(merged, existing...)
	for _, o := range opened {
		entry, err := s.crypto.Encrypt(derived.Key, o.plaintext, o.entry.EntryMeta)
		if err != nil {
			return 0, s.fail(OpImport, err)
		}
		merged = append(merged, entry)
	}

	if err := s.store.ReplaceAll(ctx, merged); err != nil {
		return 0, s.fail(OpImport, storageErr(err))
	}

	s.logger.WithFields(map[string]interface{}{
		"imported": len(opened),
		"total":    len(merged),
	}).Info("Imported diary bundle")

	return len(opened), nil
}

// snapshot reads the header and entries under the read lock.
func (s *Service) snapshot(ctx context.Context) (*models.StoreHeader, []models.DiaryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	header, err := s.store.Header(ctx)
	if err != nil {
		return nil, nil, storageErr(err)
	}

	entries, err := s.store.All(ctx)
	if err != nil {
		return nil, nil, storageErr(err)
	}
	return header, entries, nil
}

// unlock derives the store key for password and checks it against the
// store's verifier.
func (s *Service) unlock(header *models.StoreHeader, password string) (*crypto.DerivedKey, error) {
	derived, err := s.crypto.DeriveKey(password, header.KDF)
	if err != nil {
		if errors.Is(err, crypto.ErrInvalidParams) {
			return nil, fmt.Errorf("%w: store key parameters: %v", models.ErrStoreCorrupted, err)
		}
		return nil, err
	}

	if len(header.Verifier) > 0 && !derived.Matches(header.Verifier) {
		derived.Wipe()
		return nil, fmt.Errorf("verifier mismatch: %w", models.ErrWrongPassword)
	}
	return derived, nil
}

// unlockOrInitialize unlocks the store, or creates its header from password
// when the store is fresh. Callers hold the write lock.
func (s *Service) unlockOrInitialize(ctx context.Context, password string) (*crypto.DerivedKey, error) {
	header, err := s.store.Header(ctx)
	if err == nil {
		return s.unlock(header, password)
	}
	if !errors.Is(err, storage.ErrNotInitialized) {
		return nil, storageErr(err)
	}

	params, err := s.crypto.NewParams(s.kdf)
	if err != nil {
		return nil, err
	}

	derived, err := s.crypto.DeriveKey(password, params)
	if err != nil {
		return nil, err
	}

	header = &models.StoreHeader{
		SchemaVersion: models.CurrentSchemaVersion,
		KDF:           params,
		Verifier:      append([]byte(nil), derived.Verifier...),
		CreatedAt:     s.now().UTC(),
	}

	if err := s.store.Initialize(ctx, header); err != nil {
		derived.Wipe()
		return nil, storageErr(err)
	}

	s.logger.WithField("kdf", params.Algorithm).Info("Initialized diary store")
	return derived, nil
}

type openedEntry struct {
	entry     models.DiaryEntry
	plaintext []byte
}

// verifyEntries runs open on every entry. Failures under a key that matched
// the verifier are corruption of those entries; when the store has no
// verifier and nothing opens, the password is wrong.
func (s *Service) verifyEntries(
	header *models.StoreHeader,
	entries []models.DiaryEntry,
	open func(models.DiaryEntry) ([]byte, error),
) ([]openedEntry, error) {
	opened := make([]openedEntry, 0, len(entries))
	var failed []int

	for i, e := range entries {
		plaintext, err := open(e)
		if err != nil {
			if !errors.Is(err, crypto.ErrAuthenticationFailed) {
				wipeOpened(opened)
				return nil, err
			}
			failed = append(failed, i)
			continue
		}
		opened = append(opened, openedEntry{entry: e, plaintext: plaintext})
	}

	if len(failed) == 0 {
		return opened, nil
	}

	if len(header.Verifier) == 0 && len(failed) == len(entries) {
		return nil, fmt.Errorf("no entry opens: %w", models.ErrWrongPassword)
	}

	s.logger.WithFields(map[string]interface{}{
		"failed": failed,
		"total":  len(entries),
	}).Error("Diary entries failed verification")

	return opened, &models.CorruptionError{Positions: failed, Total: len(entries)}
}

// openBundle derives the bundle key and verifies every bundle entry. Any
// failure rejects the whole bundle.
func (s *Service) openBundle(bundle *models.Bundle, password string) ([]openedEntry, error) {
	if err := crypto.ValidateBundleParams(bundle.KDF, s.kdf); err != nil {
		return nil, fmt.Errorf("%w: bundle key parameters: %v", models.ErrInvalidInput, err)
	}

	derived, err := s.crypto.DeriveKey(password, bundle.KDF)
	if err != nil {
		if errors.Is(err, crypto.ErrInvalidParams) {
			return nil, fmt.Errorf("%w: bundle key parameters: %v", models.ErrInvalidInput, err)
		}
		return nil, err
	}
	defer derived.Wipe()

	if len(bundle.Verifier) > 0 && !derived.Matches(bundle.Verifier) {
		return nil, fmt.Errorf("bundle verifier mismatch: %w", models.ErrWrongPassword)
	}

	opened := make([]openedEntry, 0, len(bundle.Entries))
	for i, be := range bundle.Entries {
		entry := be.ToEntry()
		plaintext, err := s.crypto.Decrypt(derived.Key, entry)
		if err != nil {
			wipeOpened(opened)
			if errors.Is(err, crypto.ErrAuthenticationFailed) {
				return nil, fmt.Errorf("bundle entry %d: %w", i, models.ErrWrongPassword)
			}
			return nil, err
		}
		opened = append(opened, openedEntry{entry: entry, plaintext: plaintext})
	}
	return opened, nil
}

// sealBundle re-encrypts opened entries under a key derived from password
// and a fresh salt.
func (s *Service) sealBundle(opened []openedEntry, password string) (*models.Bundle, error) {
	params, err := s.crypto.NewParams(s.kdf)
	if err != nil {
		return nil, err
	}

	derived, err := s.crypto.DeriveKey(password, params)
	if err != nil {
		return nil, err
	}
	defer derived.Wipe()

	sortEntries(opened)

	bundle := &models.Bundle{
		Format:    models.BundleFormat,
		Version:   models.BundleVersion,
		CreatedAt: s.now().UTC(),
		KDF:       params,
		Verifier:  append([]byte(nil), derived.Verifier...),
		Entries:   make([]models.BundleEntry, 0, len(opened)),
	}

	for _, o := range opened {
		sealed, err := s.crypto.Encrypt(derived.Key, o.plaintext, o.entry.EntryMeta)
		if err != nil {
			return nil, err
		}
		bundle.Entries = append(bundle.Entries, models.NewBundleEntry(sealed))
	}

	return bundle, nil
}

// fail wraps err for op and logs it without any secret material.
func (s *Service) fail(op string, err error) error {
	derr := models.NewDiaryError(op, err)

	logger := s.logger.WithFields(map[string]interface{}{
		"op":   op,
		"code": derr.Code,
	})
	switch derr.Code {
	case models.ErrCodeStorageFailure, models.ErrCodeStoreCorrupted, models.ErrCodeInternal:
		logger.WithError(err).Error("Diary operation failed")
	default:
		logger.Debug("Diary operation rejected")
	}

	return derr
}

func invalid(reason string) error {
	return fmt.Errorf("%w: %s", models.ErrInvalidInput, reason)
}

// storageErr classifies store errors that are not already typed.
func storageErr(err error) error {
	switch {
	case errors.Is(err, models.ErrStorageFailure),
		errors.Is(err, models.ErrStoreCorrupted),
		errors.Is(err, models.ErrInvalidInput),
		errors.Is(err, storage.ErrNotInitialized),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return err
	default:
		return fmt.Errorf("%w: %w", models.ErrStorageFailure, err)
	}
}

func sortEntries(opened []openedEntry) {
	sort.SliceStable(opened, func(i, j int) bool {
		return opened[i].entry.Less(opened[j].entry)
	})
}

func wipeOpened(opened []openedEntry) {
	for _, o := range opened {
		for i := range o.plaintext {
			o.plaintext[i] = 0
		}
	}
}
