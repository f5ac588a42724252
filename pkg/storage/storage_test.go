package storage

import (
	"testing"

	"github.com/gravitational/trace"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dwsnet/roost/pkg/types"
)

// stores runs the same suite against every Store implementation.
func stores(t *testing.T) map[string]Store {
	t.Helper()
	boltStore, err := NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { boltStore.Close() })
	return map[string]Store{
		"memory": NewMemoryStore(),
		"bolt":   boltStore,
	}
}

func TestFunctionRoundTrip(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			fn := &types.Function{ID: "fn1", Name: "api", CodeCID: "abc", MemoryLimitMB: 128, TimeoutMs: 5000}
			require.NoError(t, s.PutFunction(fn))

			got, err := s.GetFunction("fn1")
			require.NoError(t, err)
			assert.Equal(t, "api", got.Name)
			assert.Equal(t, "abc", got.CodeCID)

			list, err := s.ListFunctions()
			require.NoError(t, err)
			assert.Len(t, list, 1)

			require.NoError(t, s.DeleteFunction("fn1"))
			_, err = s.GetFunction("fn1")
			require.Error(t, err)
			assert.True(t, trace.IsNotFound(err))
		})
	}
}

func TestPutFunctionOverwrites(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.PutFunction(&types.Function{ID: "fn1", Name: "api", Version: 1}))
			require.NoError(t, s.PutFunction(&types.Function{ID: "fn1", Name: "api", Version: 2}))

			got, err := s.GetFunction("fn1")
			require.NoError(t, err)
			assert.Equal(t, 2, got.Version)

			list, err := s.ListFunctions()
			require.NoError(t, err)
			assert.Len(t, list, 1)
		})
	}
}

func TestDatabaseRoundTrip(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			db := &types.DatabaseInstance{
				ID:      "db1",
				OwnerID: "owner1",
				Engine:  types.EngineRelational,
				Name:    "app",
				Status:  types.DatabaseStatusRunning,
			}
			require.NoError(t, s.PutDatabase(db))

			got, err := s.GetDatabase("db1")
			require.NoError(t, err)
			assert.Equal(t, types.DatabaseStatusRunning, got.Status)
			assert.Equal(t, types.EngineRelational, got.Engine)

			list, err := s.ListDatabases()
			require.NoError(t, err)
			assert.Len(t, list, 1)

			_, err = s.GetDatabase("ghost")
			assert.True(t, trace.IsNotFound(err))
		})
	}
}

func TestBackupsByInstance(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.PutBackup(&types.Backup{ID: "b1", InstanceID: "db1", Status: types.BackupStatusCompleted}))
			require.NoError(t, s.PutBackup(&types.Backup{ID: "b2", InstanceID: "db1", Status: types.BackupStatusFailed}))
			require.NoError(t, s.PutBackup(&types.Backup{ID: "b3", InstanceID: "db2", Status: types.BackupStatusCompleted}))

			got, err := s.GetBackup("b1")
			require.NoError(t, err)
			assert.Equal(t, types.BackupStatusCompleted, got.Status)

			list, err := s.ListBackupsByInstance("db1")
			require.NoError(t, err)
			assert.Len(t, list, 2)

			list, err = s.ListBackupsByInstance("ghost")
			require.NoError(t, err)
			assert.Empty(t, list)
		})
	}
}

func TestScheduleRoundTrip(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			sched := &types.CronSchedule{
				ID:         "s1",
				FunctionID: "fn1",
				Expression: "0 0 * * *",
				Status:     types.ScheduleStatusActive,
			}
			require.NoError(t, s.PutSchedule(sched))

			got, err := s.GetSchedule("s1")
			require.NoError(t, err)
			assert.Equal(t, "0 0 * * *", got.Expression)

			list, err := s.ListSchedules()
			require.NoError(t, err)
			assert.Len(t, list, 1)

			require.NoError(t, s.DeleteSchedule("s1"))
			_, err = s.GetSchedule("s1")
			assert.True(t, trace.IsNotFound(err))
		})
	}
}

func TestBoltStorePersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()

	s, err := NewBoltStore(dir)
	require.NoError(t, err)
	require.NoError(t, s.PutFunction(&types.Function{ID: "fn1", Name: "api"}))
	require.NoError(t, s.Close())

	s, err = NewBoltStore(dir)
	require.NoError(t, err)
	defer s.Close()

	got, err := s.GetFunction("fn1")
	require.NoError(t, err)
	assert.Equal(t, "api", got.Name)
}
