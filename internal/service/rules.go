package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"dream-server/internal/models"
)

// Dynamic configuration keys for the global rule set and their hardcoded
// last-resort defaults. Resolution priority per key: database value, then
// environment-provided default, then the constant below.
const (
	RulesKeyAspectRatio = "rules.aspect_ratio"
	RulesKeyFraming     = "rules.framing"
	RulesKeyQuality     = "rules.quality_directives"

	DefaultRulesAspectRatio = "2:3"
	DefaultRulesFraming     = "Keep the main character fully in frame."
	DefaultRulesQuality     = "Clean lines, coherent anatomy, consistent lighting."
)

// DynamicConfigSource is the subset of the dynamic config repository the
// rules service needs.
type DynamicConfigSource interface {
	GetAll(ctx context.Context) ([]models.DynamicConfig, error)
}

// RulesService maintains the process-wide global rule set as a read-mostly
// snapshot. Callers take a snapshot at job start and pass it into the pure
// composer; hot reloads only affect jobs started afterwards.
type RulesService struct {
	logger      *zap.Logger
	source      DynamicConfigSource
	envDefaults models.GlobalRules

	mu      sync.RWMutex
	current models.GlobalRules
}

// NewRulesService builds the service and performs the initial load. A failed
// initial load is not fatal: the env/hardcoded defaults already form a valid
// rule set.
func NewRulesService(source DynamicConfigSource, envDefaults models.GlobalRules, logger *zap.Logger) *RulesService {
	rs := &RulesService{
		logger:      logger.Named("RulesService"),
		source:      source,
		envDefaults: envDefaults,
	}
	rs.current = rs.fallbackRules()

	if err := rs.Refresh(context.Background()); err != nil {
		rs.logger.Warn("Initial rules load failed, using defaults", zap.Error(err))
	}
	return rs
}

// Snapshot returns the active rule set by value.
func (rs *RulesService) Snapshot() models.GlobalRules {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	return rs.current
}

// Refresh re-reads the dynamic configuration and swaps the snapshot.
func (rs *RulesService) Refresh(ctx context.Context) error {
	configs, err := rs.source.GetAll(ctx)
	if err != nil {
		return err
	}

	values := make(map[string]string, len(configs))
	for _, cfg := range configs {
		values[cfg.Key] = cfg.Value
	}

	rules := rs.fallbackRules()
	if v, ok := values[RulesKeyAspectRatio]; ok && v != "" {
		rules.AspectRatio = v
	}
	if v, ok := values[RulesKeyFraming]; ok && v != "" {
		rules.Framing = v
	}
	if v, ok := values[RulesKeyQuality]; ok && v != "" {
		rules.QualityDirectives = v
	}

	rs.mu.Lock()
	changed := rules != rs.current
	rs.current = rules
	rs.mu.Unlock()

	if changed {
		rs.logger.Info("Global rules updated",
			zap.String("aspect_ratio", rules.AspectRatio),
			zap.String("framing", rules.Framing))
	}
	return nil
}

// StartRefreshing refreshes the snapshot on a ticker until the context is
// cancelled.
func (rs *RulesService) StartRefreshing(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			rs.logger.Info("Rules refresh loop stopped")
			return
		case <-ticker.C:
			if err := rs.Refresh(ctx); err != nil {
				rs.logger.Warn("Rules refresh failed, keeping previous snapshot", zap.Error(err))
			}
		}
	}
}

// fallbackRules resolves the env-provided defaults over the hardcoded ones.
func (rs *RulesService) fallbackRules() models.GlobalRules {
	rules := models.GlobalRules{
		AspectRatio:       DefaultRulesAspectRatio,
		Framing:           DefaultRulesFraming,
		QualityDirectives: DefaultRulesQuality,
	}
	if rs.envDefaults.AspectRatio != "" {
		rules.AspectRatio = rs.envDefaults.AspectRatio
	}
	if rs.envDefaults.Framing != "" {
		rules.Framing = rs.envDefaults.Framing
	}
	if rs.envDefaults.QualityDirectives != "" {
		rules.QualityDirectives = rs.envDefaults.QualityDirectives
	}
	return rules
}
