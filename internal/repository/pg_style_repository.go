package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"dream-server/internal/models"
)

// Compile-time check to ensure pgStyleRepository implements the interface
var _ StyleRepository = (*pgStyleRepository)(nil)

type pgStyleRepository struct {
	db     DBTX
	logger *zap.Logger
}

// NewPgStyleRepository creates a PostgreSQL-backed StyleRepository.
func NewPgStyleRepository(db DBTX, logger *zap.Logger) StyleRepository {
	return &pgStyleRepository{
		db:     db,
		logger: logger.Named("PgStyleRepo"),
	}
}

const getStyleByKeyQuery = `
SELECT key, display_name, base_instructions, character_instructions
FROM styles
WHERE key = $1`

// GetByKey returns the style for the given key. A missing key maps to
// models.ErrStyleNotFound so callers can reject requests before any work
// is scheduled.
func (r *pgStyleRepository) GetByKey(ctx context.Context, key string) (*models.StyleRecord, error) {
	var style models.StyleRecord
	err := pgxscan.Get(ctx, r.db, &style, getStyleByKeyQuery, key)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			r.logger.Debug("Style not found", zap.String("style_key", key))
			return nil, fmt.Errorf("%w: style '%s'", models.ErrStyleNotFound, key)
		}
		r.logger.Error("Error querying style by key", zap.String("style_key", key), zap.Error(err))
		return nil, fmt.Errorf("database error querying style '%s': %w", key, err)
	}
	return &style, nil
}

const listStylesQuery = `
SELECT key, display_name, base_instructions, character_instructions
FROM styles
ORDER BY key`

// List returns every style in the catalog ordered by key.
func (r *pgStyleRepository) List(ctx context.Context) ([]models.StyleRecord, error) {
	var styles []models.StyleRecord
	if err := pgxscan.Select(ctx, r.db, &styles, listStylesQuery); err != nil {
		r.logger.Error("Error listing styles", zap.Error(err))
		return nil, fmt.Errorf("database error listing styles: %w", err)
	}
	return styles, nil
}
