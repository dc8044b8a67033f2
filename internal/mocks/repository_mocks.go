package mocks

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"dream-server/internal/models"
	"dream-server/internal/repository"
)

// MockSequenceRepository is a mock type for the SequenceRepository type
type MockSequenceRepository struct {
	mock.Mock
}

// Create provides a mock function with given fields: ctx, seq
func (_m *MockSequenceRepository) Create(ctx context.Context, seq *models.SequenceResult) error {
	ret := _m.Called(ctx, seq)
	return ret.Error(0)
}

// AppendScene provides a mock function with given fields: ctx, sequenceID, scene
func (_m *MockSequenceRepository) AppendScene(ctx context.Context, sequenceID uuid.UUID, scene models.SceneResult) error {
	ret := _m.Called(ctx, sequenceID, scene)
	return ret.Error(0)
}

// Finalize provides a mock function with given fields: ctx, sequenceID, characterImageRef, characterPrompt, status, completedAt
func (_m *MockSequenceRepository) Finalize(ctx context.Context, sequenceID uuid.UUID, characterImageRef, characterPrompt string, status models.SequenceStatus, completedAt time.Time) error {
	ret := _m.Called(ctx, sequenceID, characterImageRef, characterPrompt, status, completedAt)
	return ret.Error(0)
}

// GetByID provides a mock function with given fields: ctx, id
func (_m *MockSequenceRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.SequenceResult, error) {
	ret := _m.Called(ctx, id)

	var r0 *models.SequenceResult
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(*models.SequenceResult)
	}
	return r0, ret.Error(1)
}

var _ repository.SequenceRepository = (*MockSequenceRepository)(nil)

// MockImageReferenceRepository is a mock type for the ImageReferenceRepository type
type MockImageReferenceRepository struct {
	mock.Mock
}

// SaveOrUpdate provides a mock function with given fields: ctx, reference, imageURL
func (_m *MockImageReferenceRepository) SaveOrUpdate(ctx context.Context, reference string, imageURL string) error {
	ret := _m.Called(ctx, reference, imageURL)
	return ret.Error(0)
}

// GetURLByRef provides a mock function with given fields: ctx, reference
func (_m *MockImageReferenceRepository) GetURLByRef(ctx context.Context, reference string) (string, error) {
	ret := _m.Called(ctx, reference)
	return ret.String(0), ret.Error(1)
}

// GetURLsByRefs provides a mock function with given fields: ctx, refs
func (_m *MockImageReferenceRepository) GetURLsByRefs(ctx context.Context, refs []string) (map[string]string, error) {
	ret := _m.Called(ctx, refs)

	var r0 map[string]string
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(map[string]string)
	}
	return r0, ret.Error(1)
}

var _ repository.ImageReferenceRepository = (*MockImageReferenceRepository)(nil)

// MockDynamicConfigRepository is a mock type for the DynamicConfigRepository type
type MockDynamicConfigRepository struct {
	mock.Mock
}

// GetAll provides a mock function with given fields: ctx
func (_m *MockDynamicConfigRepository) GetAll(ctx context.Context) ([]models.DynamicConfig, error) {
	ret := _m.Called(ctx)

	var r0 []models.DynamicConfig
	if ret.Get(0) != nil {
		r0 = ret.Get(0).([]models.DynamicConfig)
	}
	return r0, ret.Error(1)
}

// Upsert provides a mock function with given fields: ctx, key, value
func (_m *MockDynamicConfigRepository) Upsert(ctx context.Context, key, value string) error {
	ret := _m.Called(ctx, key, value)
	return ret.Error(0)
}

var _ repository.DynamicConfigRepository = (*MockDynamicConfigRepository)(nil)
