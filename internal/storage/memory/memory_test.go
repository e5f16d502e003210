package memory

import (
	"testing"
	"time"

	"github.com/multidriver/relay/internal/config"
	"github.com/multidriver/relay/internal/storage"
	"github.com/multidriver/relay/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Compile-time interface checks
var (
	_ storage.Backend    = (*Backend)(nil)
	_ storage.Uploadable = (*Backend)(nil)
)

func newTestBackend(t *testing.T) *Backend {
	t.Helper()
	b := New(config.MemoryConfig{OutputDir: t.TempDir()})
	require.NoError(t, b.Init())
	return b
}

func TestAddEntityAssignsIDs(t *testing.T) {
	b := newTestBackend(t)
	require.NoError(t, b.StartSession(&core.Session{Name: "ids", StartTime: time.Now()}))

	a := &core.Entity{RelayID: "mdv_1", DriverName: "Alice"}
	c := &core.Entity{RelayID: "mdv_2", DriverName: "Bob"}
	require.NoError(t, b.AddEntity(a))
	require.NoError(t, b.AddEntity(c))

	assert.Equal(t, uint(1), a.ID)
	assert.Equal(t, uint(2), c.ID)

	got, ok := b.GetEntity("mdv_2")
	require.True(t, ok)
	assert.Equal(t, "Bob", got.DriverName)

	_, ok = b.GetEntity("mdv_9")
	assert.False(t, ok)
}

func TestStartSessionResets(t *testing.T) {
	b := newTestBackend(t)
	require.NoError(t, b.StartSession(&core.Session{Name: "first", StartTime: time.Now()}))
	require.NoError(t, b.AddEntity(&core.Entity{RelayID: "mdv_1"}))

	require.NoError(t, b.StartSession(&core.Session{Name: "second", StartTime: time.Now()}))
	_, ok := b.GetEntity("mdv_1")
	assert.False(t, ok)

	e := &core.Entity{RelayID: "mdv_5"}
	require.NoError(t, b.AddEntity(e))
	assert.Equal(t, uint(1), e.ID)
}

func TestRecordEntityState(t *testing.T) {
	b := newTestBackend(t)
	require.NoError(t, b.StartSession(&core.Session{Name: "states", StartTime: time.Now()}))
	require.NoError(t, b.AddEntity(&core.Entity{RelayID: "mdv_1"}))

	require.NoError(t, b.RecordEntityState(&core.EntityState{RelayID: "mdv_1", Position: core.Position3D{X: 1}}))
	require.NoError(t, b.RecordEntityState(&core.EntityState{RelayID: "mdv_1", Position: core.Position3D{X: 2}}))
	// unknown entities are ignored
	require.NoError(t, b.RecordEntityState(&core.EntityState{RelayID: "mdv_7"}))

	record := b.entities["mdv_1"]
	require.Len(t, record.States, 2)
	assert.Equal(t, 2.0, record.States[1].Position.X)
}

func TestRemoveEntityKeepsFirstLeaveTime(t *testing.T) {
	b := newTestBackend(t)
	require.NoError(t, b.StartSession(&core.Session{Name: "leave", StartTime: time.Now()}))
	require.NoError(t, b.AddEntity(&core.Entity{RelayID: "mdv_1"}))

	first := time.Now()
	require.NoError(t, b.RemoveEntity(&core.EntityRemoval{RelayID: "mdv_1", Time: first}))
	require.NoError(t, b.RemoveEntity(&core.EntityRemoval{RelayID: "mdv_1", Time: first.Add(time.Minute)}))
	require.NoError(t, b.RemoveEntity(&core.EntityRemoval{RelayID: "mdv_9", Time: first}))

	assert.Equal(t, first, b.entities["mdv_1"].LeaveTime)
	// the track survives removal
	_, ok := b.GetEntity("mdv_1")
	assert.True(t, ok)
}

func TestEndSessionWithoutSession(t *testing.T) {
	b := newTestBackend(t)
	assert.NoError(t, b.EndSession())
	assert.NoError(t, b.Close())
	assert.Equal(t, "", b.GetExportedFilePath())
}

func TestCloseExportsOpenSession(t *testing.T) {
	b := newTestBackend(t)
	require.NoError(t, b.StartSession(&core.Session{Name: "open", StartTime: time.Now()}))
	require.NoError(t, b.Close())

	assert.NotEmpty(t, b.GetExportedFilePath())
	assert.FileExists(t, b.GetExportedFilePath())

	// a second close has nothing left to export
	path := b.GetExportedFilePath()
	require.NoError(t, b.Close())
	assert.Equal(t, path, b.GetExportedFilePath())
}
