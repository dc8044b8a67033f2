package repository_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"dream-server/internal/models"
	"dream-server/internal/repository"

	"github.com/docker/docker/client"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"
)

// RepositoryIntegrationSuite runs the PostgreSQL repositories against a real
// database in a disposable container, with the production migrations applied.
type RepositoryIntegrationSuite struct {
	suite.Suite
	ctx         context.Context
	pgContainer *postgres.PostgresContainer
	pool        *pgxpool.Pool
	logger      *zap.Logger

	styles    repository.StyleRepository
	sequences repository.SequenceRepository
	images    repository.ImageReferenceRepository
	configs   repository.DynamicConfigRepository
}

func (s *RepositoryIntegrationSuite) SetupSuite() {
	s.ctx = context.Background()
	var err error

	s.logger, err = zap.NewDevelopment()
	require.NoError(s.T(), err, "Failed to create logger for tests")

	s.pgContainer, err = postgres.Run(s.ctx,
		"postgres:15-alpine",
		postgres.WithDatabase("test_db"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(5*time.Minute),
		),
	)
	require.NoError(s.T(), err, "Failed to start postgres container")

	pgConnStr, err := s.pgContainer.ConnectionString(s.ctx, "sslmode=disable")
	require.NoError(s.T(), err, "Failed to get postgres connection string")

	s.pool, err = pgxpool.New(s.ctx, pgConnStr)
	require.NoError(s.T(), err, "Failed to connect to test postgres")

	require.NoError(s.T(), s.runMigrations(pgConnStr), "Failed to run migrations")

	s.styles = repository.NewPgStyleRepository(s.pool, s.logger)
	s.sequences = repository.NewPgSequenceRepository(s.pool, s.logger)
	s.images = repository.NewPgImageReferenceRepository(s.pool, s.logger)
	s.configs = repository.NewPgDynamicConfigRepository(s.pool, s.logger)
}

func (s *RepositoryIntegrationSuite) TearDownSuite() {
	if s.pool != nil {
		s.pool.Close()
	}
	if s.pgContainer != nil {
		if err := s.pgContainer.Terminate(s.ctx); err != nil {
			s.logger.Error("Failed to terminate postgres container", zap.Error(err))
		}
	}
}

func (s *RepositoryIntegrationSuite) SetupTest() {
	// Styles stay: they are seeded by a migration and treated as read-only.
	_, err := s.pool.Exec(s.ctx, "TRUNCATE TABLE sequences, sequence_scenes, image_references, dynamic_configs CASCADE")
	require.NoError(s.T(), err, "Failed to truncate tables")
}

// runMigrations applies the production migrations to the test database.
func (s *RepositoryIntegrationSuite) runMigrations(dbURL string) error {
	_, filename, _, ok := runtime.Caller(0)
	if !ok {
		return fmt.Errorf("could not get caller information")
	}
	migrationsPath := filepath.Join(filepath.Dir(filename), "..", "..", "migrations")

	sourceDriver, err := iofs.New(os.DirFS(migrationsPath), ".")
	if err != nil {
		return fmt.Errorf("failed to create iofs source driver: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", sourceDriver, dbURL)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w, path: %s", err, migrationsPath)
	}
	defer m.Close()

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	return nil
}

func TestRepositoryIntegrationSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration tests in short mode")
	}
	cli, err := client.NewClientWithOpts(client.FromEnv)
	if err != nil {
		t.Fatalf("Docker client init error: %v. Ensure Docker is running and accessible.", err)
	}
	if _, err := cli.Ping(context.Background()); err != nil {
		t.Fatalf("Docker daemon is not running or accessible: %v", err)
	}
	cli.Close()

	suite.Run(t, new(RepositoryIntegrationSuite))
}

func (s *RepositoryIntegrationSuite) TestStyleRepository() {
	t := s.T()
	ctx := context.Background()

	style, err := s.styles.GetByKey(ctx, "storybook")
	require.NoError(t, err, "seeded style should resolve")
	require.Equal(t, "storybook", style.Key)
	require.Equal(t, "Storybook", style.DisplayName)
	require.NotEmpty(t, style.BaseInstructions)
	require.NotEmpty(t, style.CharacterInstructions)

	_, err = s.styles.GetByKey(ctx, "no-such-style")
	require.ErrorIs(t, err, models.ErrStyleNotFound)

	styles, err := s.styles.List(ctx)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(styles), 3)

	keys := make(map[string]bool, len(styles))
	for _, st := range styles {
		keys[st.Key] = true
	}
	require.True(t, keys["storybook"])
	require.True(t, keys["watercolor"])
	require.True(t, keys["comic"])
}

func (s *RepositoryIntegrationSuite) TestImageReferenceRepository() {
	t := s.T()
	ctx := context.Background()

	require.NoError(t, s.images.SaveOrUpdate(ctx, "img_a", "/static/images/img_a.png"))
	require.NoError(t, s.images.SaveOrUpdate(ctx, "img_b", "/static/images/img_b.png"))

	url, err := s.images.GetURLByRef(ctx, "img_a")
	require.NoError(t, err)
	require.Equal(t, "/static/images/img_a.png", url)

	// Same reference, new URL: the row must be replaced, not duplicated.
	require.NoError(t, s.images.SaveOrUpdate(ctx, "img_a", "/static/images/img_a_v2.png"))
	url, err = s.images.GetURLByRef(ctx, "img_a")
	require.NoError(t, err)
	require.Equal(t, "/static/images/img_a_v2.png", url)

	_, err = s.images.GetURLByRef(ctx, "img_missing")
	require.ErrorIs(t, err, models.ErrImageNotFound)

	urls, err := s.images.GetURLsByRefs(ctx, []string{"img_a", "img_b", "img_missing"})
	require.NoError(t, err)
	require.Len(t, urls, 2)
	require.Equal(t, "/static/images/img_a_v2.png", urls["img_a"])
	require.Equal(t, "/static/images/img_b.png", urls["img_b"])
}

func (s *RepositoryIntegrationSuite) TestSequenceRepositoryLifecycle() {
	t := s.T()
	ctx := context.Background()

	seq := &models.SequenceResult{
		ID:           uuid.New(),
		UserID:       "user-1",
		SubjectLabel: "my daughter",
		DreamerLabel: "me",
		StyleKey:     "storybook",
		Status:       models.SequenceStatusGenerating,
		CreatedAt:    time.Now().UTC(),
	}
	require.NoError(t, s.sequences.Create(ctx, seq))

	require.NoError(t, s.sequences.AppendScene(ctx, seq.ID, models.SceneResult{
		SequenceNumber: 1,
		Prompt:         "prompt one",
		ImageRef:       "img_scene1",
		Status:         models.SceneStatusSucceeded,
	}))
	require.NoError(t, s.sequences.AppendScene(ctx, seq.ID, models.SceneResult{
		SequenceNumber: 2,
		Prompt:         "prompt two",
		ImageRef:       models.ErrorPlaceholderImageRef,
		Status:         models.SceneStatusFailedPlaceholder,
	}))

	// Before finalize the nullable character fields read back empty.
	loaded, err := s.sequences.GetByID(ctx, seq.ID)
	require.NoError(t, err)
	require.Equal(t, models.SequenceStatusGenerating, loaded.Status)
	require.Empty(t, loaded.CharacterImageRef)
	require.Nil(t, loaded.CompletedAt)

	completedAt := time.Now().UTC()
	require.NoError(t, s.sequences.Finalize(ctx, seq.ID, "img_char", "The main character is my daughter.", models.SequenceStatusCompleted, completedAt))

	loaded, err = s.sequences.GetByID(ctx, seq.ID)
	require.NoError(t, err)
	require.Equal(t, "user-1", loaded.UserID)
	require.Equal(t, "my daughter", loaded.SubjectLabel)
	require.Equal(t, models.SequenceStatusCompleted, loaded.Status)
	require.Equal(t, "img_char", loaded.CharacterImageRef)
	require.Equal(t, "The main character is my daughter.", loaded.CharacterPrompt)
	require.NotNil(t, loaded.CompletedAt)

	require.Len(t, loaded.Scenes, 2)
	require.Equal(t, 1, loaded.Scenes[0].SequenceNumber)
	require.Equal(t, models.SceneStatusSucceeded, loaded.Scenes[0].Status)
	require.Equal(t, 2, loaded.Scenes[1].SequenceNumber)
	require.Equal(t, models.ErrorPlaceholderImageRef, loaded.Scenes[1].ImageRef)
	require.True(t, loaded.Scenes[1].Failed())
}

func (s *RepositoryIntegrationSuite) TestSequenceRepositoryNotFound() {
	t := s.T()
	ctx := context.Background()

	_, err := s.sequences.GetByID(ctx, uuid.New())
	require.ErrorIs(t, err, models.ErrNotFound)

	err = s.sequences.Finalize(ctx, uuid.New(), "", "", models.SequenceStatusCompleted, time.Now().UTC())
	require.ErrorIs(t, err, models.ErrNotFound)
}

func (s *RepositoryIntegrationSuite) TestDynamicConfigRepository() {
	t := s.T()
	ctx := context.Background()

	require.NoError(t, s.configs.Upsert(ctx, "rules.aspect_ratio", "1:1"))
	require.NoError(t, s.configs.Upsert(ctx, "rules.framing", "Centered framing."))

	configs, err := s.configs.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, configs, 2)

	values := make(map[string]string, len(configs))
	for _, cfg := range configs {
		values[cfg.Key] = cfg.Value
	}
	require.Equal(t, "1:1", values["rules.aspect_ratio"])

	require.NoError(t, s.configs.Upsert(ctx, "rules.aspect_ratio", "16:9"))
	configs, err = s.configs.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, configs, 2)

	for _, cfg := range configs {
		if cfg.Key == "rules.aspect_ratio" {
			require.Equal(t, "16:9", cfg.Value)
		}
	}
}
