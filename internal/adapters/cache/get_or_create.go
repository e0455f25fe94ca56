package cache

import (
	"context"
	"fmt"

	"github.com/Amund211/chessoverlay/internal/logging"
)

// GetOrCreate returns the cached value for key, calling create at most once across
// concurrent callers. Failed creations are not cached so later callers retry.
func GetOrCreate[T any](ctx context.Context, cache Cache[T], key string, create func(ctx context.Context) (T, error)) (T, error) {
	claimed := false
	set := false
	defer func() {
		if claimed && !set {
			cache.delete(key)
		}
	}()

	logger := logging.FromContext(ctx)

	for {
		result := cache.getOrClaim(key)

		if result.claimed {
			claimed = true

			logger.DebugContext(ctx, "Cache lookup", "key", key, "cache", "miss")

			data, err := create(ctx)
			if err != nil {
				var empty T
				return empty, fmt.Errorf("failed to create cache entry: %w", err)
			}

			cache.set(key, data)
			set = true

			return data, nil
		}

		if result.valid {
			logger.DebugContext(ctx, "Cache lookup", "key", key, "cache", "hit")
			return result.data, nil
		}

		select {
		case <-ctx.Done():
			var empty T
			return empty, fmt.Errorf("waiting for cache entry: %w", ctx.Err())
		default:
		}
		cache.wait()
	}
}
