package testutil

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/TheMichaelB/silentpen/internal/models"
	"github.com/TheMichaelB/silentpen/internal/storage"
)

var _ storage.EntryStore = (*MockStore)(nil)

// FailingReader is a random source that always errors.
type FailingReader struct {
	Err error
}

func (r FailingReader) Read([]byte) (int, error) {
	return 0, r.Err
}

// MockStore mocks the entry store. Unexpected calls fail the test.
type MockStore struct {
	mock.Mock
}

func NewMockStore() *MockStore {
	return &MockStore{}
}

func (m *MockStore) Header(ctx context.Context) (*models.StoreHeader, error) {
	args := m.Called(ctx)
	if header := args.Get(0); header != nil {
		return header.(*models.StoreHeader), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockStore) Initialize(ctx context.Context, header *models.StoreHeader) error {
	args := m.Called(ctx, header)
	return args.Error(0)
}

func (m *MockStore) Append(ctx context.Context, entry models.DiaryEntry) (models.DiaryEntry, error) {
	args := m.Called(ctx, entry)
	if stored := args.Get(0); stored != nil {
		return stored.(models.DiaryEntry), args.Error(1)
	}
	return models.DiaryEntry{}, args.Error(1)
}

func (m *MockStore) All(ctx context.Context) ([]models.DiaryEntry, error) {
	args := m.Called(ctx)
	if entries := args.Get(0); entries != nil {
		return entries.([]models.DiaryEntry), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockStore) ReplaceAll(ctx context.Context, entries []models.DiaryEntry) error {
	args := m.Called(ctx, entries)
	return args.Error(0)
}

func (m *MockStore) Close() error {
	args := m.Called()
	return args.Error(0)
}
