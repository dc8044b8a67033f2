package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"dream-server/internal/models"
	"dream-server/internal/repository"
)

// StyleResolver resolves a style key into its immutable StyleRecord. A
// missing key is an expected outcome reported as models.ErrStyleNotFound.
type StyleResolver interface {
	Resolve(ctx context.Context, styleKey string) (*models.StyleRecord, error)
	List(ctx context.Context) ([]models.StyleRecord, error)
}

// Compile-time check to ensure cachedStyleResolver implements the interface
var _ StyleResolver = (*cachedStyleResolver)(nil)

// cachedStyleResolver is a Redis cache-aside layer over the style catalog.
// Styles change rarely and only through the admin collaborator, so a short
// TTL keeps the hot path off Postgres without a dedicated invalidation
// channel. Cache errors are logged and treated as misses.
type cachedStyleResolver struct {
	styleRepo repository.StyleRepository
	redis     *redis.Client
	ttl       time.Duration
	logger    *zap.Logger
}

// NewStyleResolver creates the Redis-cached style resolver.
func NewStyleResolver(styleRepo repository.StyleRepository, redisClient *redis.Client, ttl time.Duration, logger *zap.Logger) StyleResolver {
	return &cachedStyleResolver{
		styleRepo: styleRepo,
		redis:     redisClient,
		ttl:       ttl,
		logger:    logger.Named("StyleResolver"),
	}
}

func styleCacheKey(styleKey string) string {
	return fmt.Sprintf("style:%s", styleKey)
}

// Resolve returns the style for the given key, consulting the cache first.
func (r *cachedStyleResolver) Resolve(ctx context.Context, styleKey string) (*models.StyleRecord, error) {
	cacheKey := styleCacheKey(styleKey)

	if r.redis != nil {
		cached, err := r.redis.Get(ctx, cacheKey).Result()
		switch {
		case err == nil:
			var style models.StyleRecord
			if unmarshalErr := json.Unmarshal([]byte(cached), &style); unmarshalErr == nil {
				r.logger.Debug("Style cache hit", zap.String("style_key", styleKey))
				return &style, nil
			}
			r.logger.Warn("Failed to unmarshal cached style, falling back to database",
				zap.String("style_key", styleKey))
		case !errors.Is(err, redis.Nil):
			r.logger.Warn("Style cache read failed, falling back to database",
				zap.String("style_key", styleKey), zap.Error(err))
		}
	}

	style, err := r.styleRepo.GetByKey(ctx, styleKey)
	if err != nil {
		return nil, err
	}

	if r.redis != nil {
		if data, marshalErr := json.Marshal(style); marshalErr == nil {
			if setErr := r.redis.Set(ctx, cacheKey, data, r.ttl).Err(); setErr != nil {
				r.logger.Warn("Failed to cache style", zap.String("style_key", styleKey), zap.Error(setErr))
			}
		}
	}

	return style, nil
}

// List returns the full style catalog straight from the database; it only
// serves the catalog endpoint, which is not on the generation hot path.
func (r *cachedStyleResolver) List(ctx context.Context) ([]models.StyleRecord, error) {
	return r.styleRepo.List(ctx)
}
