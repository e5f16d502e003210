package main

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/multidriver/relay/internal/database"
	v1 "github.com/multidriver/relay/internal/storage/memory/export/v1"
	sqlitestorage "github.com/multidriver/relay/internal/storage/sqlite"
	"github.com/multidriver/relay/pkg/core"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordSession writes a one-entity session to a SQLite dump and returns its path.
func recordSession(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "dump.db")
	b, err := sqlitestorage.New(sqlitestorage.Config{DumpPath: path}, nil, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, b.Init())

	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, b.StartSession(&core.Session{Name: name, Host: "relay-host", Port: 4242, StartTime: start}))
	require.NoError(t, b.AddEntity(&core.Entity{RelayID: "mdv_1", ModelPath: "cars/truck", DriverName: "Alice", JoinTime: start}))
	require.NoError(t, b.RecordEntityState(&core.EntityState{
		RelayID:         "mdv_1",
		Time:            start.Add(500 * time.Millisecond),
		Position:        core.Position3D{X: 1, Y: 2, Z: 3},
		OrientationKind: core.OrientationHeading,
		Heading:         90,
		Steering:        0.25,
		WheelPos:        4,
	}))
	require.NoError(t, b.RemoveEntity(&core.EntityRemoval{RelayID: "mdv_1", Time: start.Add(2 * time.Second)}))
	require.NoError(t, b.EndSession())
	require.NoError(t, b.Close())
	return path
}

func readExport(t *testing.T, path string) v1.Export {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	gz, err := gzip.NewReader(f)
	require.NoError(t, err)
	var export v1.Export
	require.NoError(t, json.NewDecoder(gz).Decode(&export))
	return export
}

func TestGetJSON_FromSqliteDump(t *testing.T) {
	t.Cleanup(viper.Reset)
	dbPath := recordSession(t, "night run")

	var out bytes.Buffer
	require.NoError(t, runTool([]string{"getjson", dbPath}, &out))

	written := strings.TrimSpace(out.String())
	assert.Equal(t, filepath.Join(filepath.Dir(dbPath), "night_run_1.json.gz"), written)

	export := readExport(t, written)
	assert.Equal(t, v1.FormatVersion, export.FormatVersion)
	assert.Equal(t, "night run", export.SessionName)
	assert.Equal(t, 4242, export.Port)
	require.Len(t, export.Entities, 1)

	e := export.Entities[0]
	assert.Equal(t, "mdv_1", e.RelayID)
	assert.Equal(t, "Alice", e.DriverName)
	assert.Equal(t, int64(2000), e.LeaveOffset)
	require.Len(t, e.Positions, 1)
	assert.EqualValues(t, 500, e.Positions[0][0])
	assert.EqualValues(t, 90, e.Positions[0][2])
}

func TestGetJSON_UnknownSession(t *testing.T) {
	t.Cleanup(viper.Reset)
	dbPath := recordSession(t, "only")

	db, err := database.GetSqliteDB(dbPath, zerolog.Nop())
	require.NoError(t, err)

	_, err = exportSessions(db, []string{"99"}, t.TempDir())
	assert.EqualError(t, err, "no sessions found")

	_, err = exportSessions(db, []string{"abc"}, t.TempDir())
	assert.EqualError(t, err, `invalid session id "abc"`)
}

func TestGetJSON_MissingFile(t *testing.T) {
	t.Cleanup(viper.Reset)
	err := runTool([]string{"getjson", filepath.Join(t.TempDir(), "missing.db")}, &bytes.Buffer{})
	assert.Error(t, err)

	assert.ErrorIs(t, runTool([]string{"getjson"}, &bytes.Buffer{}), errUsage)
}

func TestBackupsTool(t *testing.T) {
	t.Cleanup(viper.Reset)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.db"), nil, 0644))

	var out bytes.Buffer
	require.NoError(t, runTool([]string{"backups", dir}, &out))
	assert.Equal(t, filepath.Join(dir, "a.db")+"\n", out.String())

	out.Reset()
	require.NoError(t, runTool([]string{"backups", t.TempDir()}, &out))
	assert.Contains(t, out.String(), "No database dumps found")
}

func TestVersionAndHelp(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, runTool([]string{"VERSION"}, &out))
	assert.Contains(t, out.String(), AppName+" v"+CurrentVersion)

	out.Reset()
	require.NoError(t, runTool([]string{"--help"}, &out))
	assert.Contains(t, out.String(), "getjson")

	assert.True(t, isTool("GetJSON"))
	assert.False(t, isTool("4242"))
}
