package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"dream-server/internal/models"
)

// Compile-time check to ensure pgImageReferenceRepository implements the interface
var _ ImageReferenceRepository = (*pgImageReferenceRepository)(nil)

type pgImageReferenceRepository struct {
	db     DBTX
	logger *zap.Logger
}

// NewPgImageReferenceRepository creates a PostgreSQL-backed ImageReferenceRepository.
func NewPgImageReferenceRepository(db DBTX, logger *zap.Logger) ImageReferenceRepository {
	return &pgImageReferenceRepository{
		db:     db,
		logger: logger.Named("PgImageReferenceRepo"),
	}
}

// SaveOrUpdate stores or refreshes the URL for the given reference.
func (r *pgImageReferenceRepository) SaveOrUpdate(ctx context.Context, reference string, imageURL string) error {
	query := `
        INSERT INTO image_references (reference, image_url)
        VALUES ($1, $2)
        ON CONFLICT (reference) DO UPDATE SET
            image_url = EXCLUDED.image_url,
            updated_at = NOW()
    `

	cmdTag, err := r.db.Exec(ctx, query, reference, imageURL)
	if err != nil {
		r.logger.Error("Error executing save/update image reference", zap.String("reference", reference), zap.Error(err))
		return fmt.Errorf("database error saving/updating image reference '%s': %w", reference, err)
	}

	if cmdTag.RowsAffected() == 0 {
		r.logger.Warn("SaveOrUpdate query executed but no rows were affected", zap.String("reference", reference))
	}

	return nil
}

// GetURLByRef resolves one reference to its hosted URL.
func (r *pgImageReferenceRepository) GetURLByRef(ctx context.Context, reference string) (string, error) {
	query := `SELECT image_url FROM image_references WHERE reference = $1`
	var imageURL string

	err := r.db.QueryRow(ctx, query, reference).Scan(&imageURL)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			r.logger.Debug("Image reference not found", zap.String("reference", reference))
			return "", fmt.Errorf("%w: image reference '%s' not found", models.ErrImageNotFound, reference)
		}
		r.logger.Error("Error querying image URL by reference", zap.String("reference", reference), zap.Error(err))
		return "", fmt.Errorf("database error querying image reference '%s': %w", reference, err)
	}

	return imageURL, nil
}

// GetURLsByRefs resolves many references in one round trip. References without
// a row are simply absent from the returned map.
func (r *pgImageReferenceRepository) GetURLsByRefs(ctx context.Context, refs []string) (map[string]string, error) {
	if len(refs) == 0 {
		return make(map[string]string), nil
	}

	query := `SELECT reference, image_url FROM image_references WHERE reference = ANY($1::text[])`
	logFields := []zap.Field{zap.Int("ref_count", len(refs))}

	rows, err := r.db.Query(ctx, query, pq.Array(refs))
	if err != nil {
		r.logger.Error("Failed to query image URLs by references", append(logFields, zap.Error(err))...)
		return nil, fmt.Errorf("failed to query image URLs by references: %w", err)
	}
	defer rows.Close()

	results := make(map[string]string)
	for rows.Next() {
		var ref, url string
		if err := rows.Scan(&ref, &url); err != nil {
			r.logger.Error("Failed to scan image reference row", append(logFields, zap.Error(err))...)
			continue
		}
		results[ref] = url
	}

	if err := rows.Err(); err != nil {
		r.logger.Error("Error iterating image reference rows", append(logFields, zap.Error(err))...)
		return nil, fmt.Errorf("error iterating image reference results: %w", err)
	}

	r.logger.Debug("Image URLs retrieved (batch)", append(logFields, zap.Int("found_count", len(results)))...)
	return results, nil
}
