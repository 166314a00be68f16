package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"chatcache/pkg/keys"
)

func TestMigrateFreshStoreWritesTarget(t *testing.T) {
	eachDriver(t, func(t *testing.T, drv Driver) {
		ctx := context.Background()
		require.NoError(t, MigrateIfNeeded(ctx, drv, CurrentVersion))
		v, err := drv.Version(ctx)
		require.NoError(t, err)
		require.Equal(t, CurrentVersion, v)
	})
}

func TestMigrateOutdatedStoreIsDropped(t *testing.T) {
	eachDriver(t, func(t *testing.T, drv Driver) {
		ctx := context.Background()
		require.NoError(t, drv.SetItem(ctx, keys.User("u1", "amy"), userRowJSON(t, "amy")))
		require.NoError(t, drv.SetVersion(ctx, 1))

		require.NoError(t, MigrateIfNeeded(ctx, drv, 2))

		// old data is gone, nothing is transformed
		v, err := drv.GetItem(ctx, keys.User("u1", "amy"))
		require.NoError(t, err)
		require.Nil(t, v)
		ver, err := drv.Version(ctx)
		require.NoError(t, err)
		require.Equal(t, 2, ver)
	})
}

func TestMigrateCurrentStoreIsUntouched(t *testing.T) {
	eachDriver(t, func(t *testing.T, drv Driver) {
		ctx := context.Background()
		require.NoError(t, drv.SetVersion(ctx, CurrentVersion))
		require.NoError(t, drv.SetItem(ctx, keys.User("u1", "amy"), userRowJSON(t, "amy")))

		require.NoError(t, MigrateIfNeeded(ctx, drv, CurrentVersion))

		v, err := drv.GetItem(ctx, keys.User("u1", "amy"))
		require.NoError(t, err)
		require.NotNil(t, v)
	})
}
