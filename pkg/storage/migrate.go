package storage

import (
	"context"
	"fmt"

	"chatcache/pkg/logger"
)

// CurrentVersion is the schema version this build writes. Bumping it
// invalidates every existing cache: migration is destructive, there is
// no data transformation path between versions.
const CurrentVersion = 2

// MigrateIfNeeded compares the stored schema version against target and
// destroys + recreates all managed storage on mismatch. Data loss here
// is expected and logged as a normal event; the remote is the source of
// truth and repopulates the cache.
//
// A failing version-marker read or write is never ignored: the error
// surfaces and the cache must not be used until a retry succeeds.
func MigrateIfNeeded(ctx context.Context, drv Driver, target int) error {
	current, err := drv.Version(ctx)
	if err != nil {
		return fmt.Errorf("read schema version: %w: %w", ErrStorageUnavailable, err)
	}
	if current >= target {
		return nil
	}
	logger.Log.Info("schema_mismatch_dropping_cache", "stored", current, "target", target)
	if err := drv.Reset(ctx); err != nil {
		return fmt.Errorf("reset storage for migration: %w", err)
	}
	if err := drv.SetVersion(ctx, target); err != nil {
		return fmt.Errorf("write schema version: %w: %w", ErrStorageUnavailable, err)
	}
	logger.Log.Info("schema_migrated", "version", target)
	return nil
}
