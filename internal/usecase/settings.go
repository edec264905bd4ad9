package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/example/faceverify/internal/logging"
	"github.com/example/faceverify/internal/repository"
)

const settingsCacheKey = "settings"

type settingsFinder interface {
	FindSettings(ctx context.Context) (*repository.Settings, error)
}

// SettingsCache serves the settings document through a short-lived cache entry.
// The cache is optional: any cache failure falls back to the store.
type SettingsCache struct {
	store          settingsFinder
	cache          Cache
	ttl            time.Duration
	logger         *zap.Logger
	retryAttempts  int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

func NewSettingsCache(store settingsFinder, cache Cache, ttl time.Duration, logger *zap.Logger) *SettingsCache {
	return &SettingsCache{
		store:          store,
		cache:          cache,
		ttl:            ttl,
		logger:         logger.Named("settings_cache"),
		retryAttempts:  3,
		initialBackoff: 50 * time.Millisecond,
		maxBackoff:     time.Second,
	}
}

// Get returns the settings, or nil when no settings document exists.
func (s *SettingsCache) Get(ctx context.Context) (*repository.Settings, error) {
	requestID := logging.RequestIDFromContext(ctx)
	opLogger := logging.WithOperation(s.logger, "settings.get", requestID)

	if s.cache != nil {
		var cached []byte
		err := s.withRetry(ctx, requestID, "cache.get.settings", func() error {
			value, err := s.cache.Get(ctx, settingsCacheKey)
			cached = value
			return err
		})
		switch {
		case err == nil:
			var settings repository.Settings
			decodeErr := json.Unmarshal(cached, &settings)
			if decodeErr == nil {
				return &settings, nil
			}
			opLogger.Warn("failed to decode cached settings", zap.Error(decodeErr))
		case errors.Is(err, ErrCacheMiss):
		default:
			opLogger.Warn("failed to read settings cache", zap.Error(err))
		}
	}

	settings, err := s.store.FindSettings(ctx)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, logging.NewOperationError("settings.find", requestID, err)
	}

	if s.cache != nil && s.ttl > 0 {
		serialized, err := json.Marshal(settings)
		if err == nil {
			err = s.withRetry(ctx, requestID, "cache.set.settings", func() error {
				return s.cache.Set(ctx, settingsCacheKey, serialized, s.ttl)
			})
		}
		if err != nil {
			opLogger.Warn("failed to cache settings", zap.Error(err))
		}
	}
	return settings, nil
}

func (s *SettingsCache) withRetry(ctx context.Context, requestID, operation string, fn func() error) error {
	backoff := s.initialBackoff
	opLogger := logging.WithOperation(s.logger, operation, requestID)
	var err error
	for attempt := 0; attempt < s.retryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return logging.NewOperationError(operation, requestID, ctx.Err())
			case <-time.After(backoff):
			}
			if next := backoff * 2; next <= s.maxBackoff {
				backoff = next
			}
		}

		err = fn()
		if err == nil || errors.Is(err, ErrCacheMiss) {
			if err == nil && attempt > 0 {
				opLogger.Info("cache operation succeeded after retry", zap.Int("attempt", attempt+1))
			}
			return err
		}

		if !isTransientError(err) || attempt == s.retryAttempts-1 {
			return logging.NewOperationError(operation, requestID, err)
		}
		opLogger.Warn("transient cache error", zap.Error(err), zap.Int("attempt", attempt+1))
	}
	return logging.NewOperationError(operation, requestID, err)
}

func isTransientError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var temporary interface{ Temporary() bool }
	if errors.As(err, &temporary) && temporary.Temporary() {
		return true
	}
	return false
}
