package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"dream-server/internal/models"
	"dream-server/internal/service"
)

// MockStyleResolver is a mock type for the StyleResolver type
type MockStyleResolver struct {
	mock.Mock
}

// Resolve provides a mock function with given fields: ctx, styleKey
func (_m *MockStyleResolver) Resolve(ctx context.Context, styleKey string) (*models.StyleRecord, error) {
	ret := _m.Called(ctx, styleKey)

	var r0 *models.StyleRecord
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(*models.StyleRecord)
	}
	return r0, ret.Error(1)
}

// List provides a mock function with given fields: ctx
func (_m *MockStyleResolver) List(ctx context.Context) ([]models.StyleRecord, error) {
	ret := _m.Called(ctx)

	var r0 []models.StyleRecord
	if ret.Get(0) != nil {
		r0 = ret.Get(0).([]models.StyleRecord)
	}
	return r0, ret.Error(1)
}

var _ service.StyleResolver = (*MockStyleResolver)(nil)

// MockCharacterAnalyzer is a mock type for the CharacterAnalyzer type
type MockCharacterAnalyzer struct {
	mock.Mock
}

// DescribeCharacter provides a mock function with given fields: ctx, userID, imageData, mimeType
func (_m *MockCharacterAnalyzer) DescribeCharacter(ctx context.Context, userID string, imageData []byte, mimeType string) (models.CharacterDescription, error) {
	ret := _m.Called(ctx, userID, imageData, mimeType)
	return ret.Get(0).(models.CharacterDescription), ret.Error(1)
}

var _ service.CharacterAnalyzer = (*MockCharacterAnalyzer)(nil)

// MockImageSynthesizer is a mock type for the ImageSynthesizer type
type MockImageSynthesizer struct {
	mock.Mock
}

// Synthesize provides a mock function with given fields: ctx, req
func (_m *MockImageSynthesizer) Synthesize(ctx context.Context, req service.SynthesisRequest) (string, []byte, string, error) {
	ret := _m.Called(ctx, req)

	var r1 []byte
	if ret.Get(1) != nil {
		r1 = ret.Get(1).([]byte)
	}
	return ret.String(0), r1, ret.String(2), ret.Error(3)
}

var _ service.ImageSynthesizer = (*MockImageSynthesizer)(nil)

// MockProgressNotifier is a mock type for the ProgressNotifier type. It
// records every event so tests can assert on ordering and terminality.
type MockProgressNotifier struct {
	mock.Mock
}

// Notify provides a mock function with given fields: ctx, event
func (_m *MockProgressNotifier) Notify(ctx context.Context, event models.ProgressEvent) error {
	ret := _m.Called(ctx, event)
	return ret.Error(0)
}

var _ service.ProgressNotifier = (*MockProgressNotifier)(nil)
