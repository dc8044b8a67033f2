package service_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"

	"dream-server/internal/mocks"
	"dream-server/internal/models"
	"dream-server/internal/service"
)

func TestRulesService_HardcodedDefaults(t *testing.T) {
	source := new(mocks.MockDynamicConfigRepository)
	source.On("GetAll", mock.Anything).Return([]models.DynamicConfig{}, nil)

	rs := service.NewRulesService(source, models.GlobalRules{}, zap.NewNop())

	rules := rs.Snapshot()
	assert.Equal(t, service.DefaultRulesAspectRatio, rules.AspectRatio)
	assert.Equal(t, service.DefaultRulesFraming, rules.Framing)
	assert.Equal(t, service.DefaultRulesQuality, rules.QualityDirectives)
}

func TestRulesService_EnvDefaultsOverrideHardcoded(t *testing.T) {
	source := new(mocks.MockDynamicConfigRepository)
	source.On("GetAll", mock.Anything).Return([]models.DynamicConfig{}, nil)

	envDefaults := models.GlobalRules{AspectRatio: "16:9"}
	rs := service.NewRulesService(source, envDefaults, zap.NewNop())

	rules := rs.Snapshot()
	assert.Equal(t, "16:9", rules.AspectRatio)
	assert.Equal(t, service.DefaultRulesFraming, rules.Framing)
}

func TestRulesService_DatabaseOverridesEverything(t *testing.T) {
	source := new(mocks.MockDynamicConfigRepository)
	source.On("GetAll", mock.Anything).Return([]models.DynamicConfig{
		{Key: service.RulesKeyAspectRatio, Value: "1:1"},
		{Key: service.RulesKeyFraming, Value: "Centered portrait framing."},
		{Key: "unrelated.key", Value: "ignored"},
	}, nil)

	envDefaults := models.GlobalRules{AspectRatio: "16:9"}
	rs := service.NewRulesService(source, envDefaults, zap.NewNop())

	rules := rs.Snapshot()
	assert.Equal(t, "1:1", rules.AspectRatio)
	assert.Equal(t, "Centered portrait framing.", rules.Framing)
	assert.Equal(t, service.DefaultRulesQuality, rules.QualityDirectives)
}

func TestRulesService_EmptyDatabaseValueIgnored(t *testing.T) {
	source := new(mocks.MockDynamicConfigRepository)
	source.On("GetAll", mock.Anything).Return([]models.DynamicConfig{
		{Key: service.RulesKeyAspectRatio, Value: ""},
	}, nil)

	rs := service.NewRulesService(source, models.GlobalRules{}, zap.NewNop())
	assert.Equal(t, service.DefaultRulesAspectRatio, rs.Snapshot().AspectRatio)
}

func TestRulesService_FailedInitialLoadFallsBackToDefaults(t *testing.T) {
	source := new(mocks.MockDynamicConfigRepository)
	source.On("GetAll", mock.Anything).Return(nil, errors.New("db down"))

	rs := service.NewRulesService(source, models.GlobalRules{}, zap.NewNop())

	rules := rs.Snapshot()
	assert.Equal(t, service.DefaultRulesAspectRatio, rules.AspectRatio)
	assert.Equal(t, service.DefaultRulesFraming, rules.Framing)
}

func TestRulesService_FailedRefreshKeepsPreviousSnapshot(t *testing.T) {
	source := new(mocks.MockDynamicConfigRepository)
	source.On("GetAll", mock.Anything).Return([]models.DynamicConfig{
		{Key: service.RulesKeyAspectRatio, Value: "1:1"},
	}, nil).Once()
	source.On("GetAll", mock.Anything).Return(nil, errors.New("db down"))

	rs := service.NewRulesService(source, models.GlobalRules{}, zap.NewNop())
	assert.Equal(t, "1:1", rs.Snapshot().AspectRatio)

	err := rs.Refresh(context.Background())
	assert.Error(t, err)
	assert.Equal(t, "1:1", rs.Snapshot().AspectRatio, "failed refresh must not clobber the snapshot")
}

func TestRulesService_RefreshPicksUpChanges(t *testing.T) {
	source := new(mocks.MockDynamicConfigRepository)
	source.On("GetAll", mock.Anything).Return([]models.DynamicConfig{}, nil).Once()
	source.On("GetAll", mock.Anything).Return([]models.DynamicConfig{
		{Key: service.RulesKeyQuality, Value: "Painterly finish."},
	}, nil)

	rs := service.NewRulesService(source, models.GlobalRules{}, zap.NewNop())
	assert.Equal(t, service.DefaultRulesQuality, rs.Snapshot().QualityDirectives)

	assert.NoError(t, rs.Refresh(context.Background()))
	assert.Equal(t, "Painterly finish.", rs.Snapshot().QualityDirectives)
}
