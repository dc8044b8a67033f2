package repository

import (
	"context"
	"fmt"

	"github.com/georgysavva/scany/v2/pgxscan"
	"go.uber.org/zap"

	"dream-server/internal/models"
)

// Compile-time check to ensure pgDynamicConfigRepository implements the interface
var _ DynamicConfigRepository = (*pgDynamicConfigRepository)(nil)

type pgDynamicConfigRepository struct {
	db     DBTX
	logger *zap.Logger
}

// NewPgDynamicConfigRepository creates a PostgreSQL-backed DynamicConfigRepository.
func NewPgDynamicConfigRepository(db DBTX, logger *zap.Logger) DynamicConfigRepository {
	return &pgDynamicConfigRepository{
		db:     db,
		logger: logger.Named("PgDynamicConfigRepo"),
	}
}

const getAllConfigsQuery = `
SELECT key, value, updated_at
FROM dynamic_configs
ORDER BY key`

// GetAll returns every dynamic configuration row.
func (r *pgDynamicConfigRepository) GetAll(ctx context.Context) ([]models.DynamicConfig, error) {
	var configs []models.DynamicConfig
	if err := pgxscan.Select(ctx, r.db, &configs, getAllConfigsQuery); err != nil {
		r.logger.Error("Error listing dynamic configs", zap.Error(err))
		return nil, fmt.Errorf("database error listing dynamic configs: %w", err)
	}
	return configs, nil
}

const upsertConfigQuery = `
INSERT INTO dynamic_configs (key, value, updated_at)
VALUES ($1, $2, NOW())
ON CONFLICT (key) DO UPDATE SET
    value = EXCLUDED.value,
    updated_at = NOW()`

// Upsert stores or replaces one dynamic configuration value.
func (r *pgDynamicConfigRepository) Upsert(ctx context.Context, key, value string) error {
	if _, err := r.db.Exec(ctx, upsertConfigQuery, key, value); err != nil {
		r.logger.Error("Error upserting dynamic config", zap.String("key", key), zap.Error(err))
		return fmt.Errorf("database error upserting dynamic config '%s': %w", key, err)
	}
	return nil
}
