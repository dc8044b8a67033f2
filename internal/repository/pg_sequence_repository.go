package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"dream-server/internal/models"
)

// Compile-time check to ensure pgSequenceRepository implements the interface
var _ SequenceRepository = (*pgSequenceRepository)(nil)

type pgSequenceRepository struct {
	db     DBTX
	logger *zap.Logger
}

// NewPgSequenceRepository creates a PostgreSQL-backed SequenceRepository.
func NewPgSequenceRepository(db DBTX, logger *zap.Logger) SequenceRepository {
	return &pgSequenceRepository{
		db:     db,
		logger: logger.Named("PgSequenceRepo"),
	}
}

const createSequenceQuery = `
INSERT INTO sequences (id, user_id, subject_label, dreamer_label, style_key, status, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`

// Create inserts the sequence row in the generating state. Scene rows are
// appended later, one per finished scene.
func (r *pgSequenceRepository) Create(ctx context.Context, seq *models.SequenceResult) error {
	_, err := r.db.Exec(ctx, createSequenceQuery,
		seq.ID, seq.UserID, seq.SubjectLabel, seq.DreamerLabel, seq.StyleKey, seq.Status, seq.CreatedAt)
	if err != nil {
		r.logger.Error("Error inserting sequence", zap.String("sequence_id", seq.ID.String()), zap.Error(err))
		return fmt.Errorf("database error inserting sequence '%s': %w", seq.ID, err)
	}
	return nil
}

const appendSceneQuery = `
INSERT INTO sequence_scenes (sequence_id, sequence_number, prompt, image_ref, status)
VALUES ($1, $2, $3, $4, $5)`

// AppendScene inserts one scene outcome. Each scene is written in its own
// statement so a later failure never touches rows already committed.
func (r *pgSequenceRepository) AppendScene(ctx context.Context, sequenceID uuid.UUID, scene models.SceneResult) error {
	_, err := r.db.Exec(ctx, appendSceneQuery,
		sequenceID, scene.SequenceNumber, scene.Prompt, scene.ImageRef, scene.Status)
	if err != nil {
		r.logger.Error("Error inserting scene",
			zap.String("sequence_id", sequenceID.String()),
			zap.Int("sequence_number", scene.SequenceNumber),
			zap.Error(err))
		return fmt.Errorf("database error inserting scene %d of sequence '%s': %w", scene.SequenceNumber, sequenceID, err)
	}
	return nil
}

const finalizeSequenceQuery = `
UPDATE sequences
SET character_image_ref = $2,
    character_prompt = $3,
    status = $4,
    completed_at = $5
WHERE id = $1`

// Finalize stores the character image data and flips the sequence to its
// terminal status.
func (r *pgSequenceRepository) Finalize(ctx context.Context, sequenceID uuid.UUID, characterImageRef, characterPrompt string, status models.SequenceStatus, completedAt time.Time) error {
	cmdTag, err := r.db.Exec(ctx, finalizeSequenceQuery,
		sequenceID, characterImageRef, characterPrompt, status, completedAt)
	if err != nil {
		r.logger.Error("Error finalizing sequence", zap.String("sequence_id", sequenceID.String()), zap.Error(err))
		return fmt.Errorf("database error finalizing sequence '%s': %w", sequenceID, err)
	}
	if cmdTag.RowsAffected() == 0 {
		return fmt.Errorf("%w: sequence '%s'", models.ErrNotFound, sequenceID)
	}
	return nil
}

const getSequenceQuery = `
SELECT id, user_id, subject_label, dreamer_label, style_key,
       COALESCE(character_image_ref, '') AS character_image_ref,
       COALESCE(character_prompt, '') AS character_prompt,
       status, created_at, completed_at
FROM sequences
WHERE id = $1`

const getSequenceScenesQuery = `
SELECT sequence_number, prompt, image_ref, status
FROM sequence_scenes
WHERE sequence_id = $1
ORDER BY sequence_number`

// GetByID loads one sequence with its scenes in sequence-number order.
func (r *pgSequenceRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.SequenceResult, error) {
	var seq models.SequenceResult
	if err := pgxscan.Get(ctx, r.db, &seq, getSequenceQuery, id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: sequence '%s'", models.ErrNotFound, id)
		}
		r.logger.Error("Error querying sequence", zap.String("sequence_id", id.String()), zap.Error(err))
		return nil, fmt.Errorf("database error querying sequence '%s': %w", id, err)
	}

	if err := pgxscan.Select(ctx, r.db, &seq.Scenes, getSequenceScenesQuery, id); err != nil {
		r.logger.Error("Error querying sequence scenes", zap.String("sequence_id", id.String()), zap.Error(err))
		return nil, fmt.Errorf("database error querying scenes of sequence '%s': %w", id, err)
	}

	return &seq, nil
}
