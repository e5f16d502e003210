package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte(body), 0644))
	return dir
}

func TestLoad_WithValidConfigFile(t *testing.T) {
	t.Cleanup(viper.Reset)

	dir := writeConfig(t, `{
		"logLevel": "debug",
		"server": { "port": 9000, "maxFramerate": 30 },
		"db": { "host": "10.0.0.1", "port": "5433" }
	}`)

	err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, "debug", viper.GetString("logLevel"))
	assert.Equal(t, "10.0.0.1", viper.GetString("db.host"))
	assert.Equal(t, "5433", viper.GetString("db.port"))

	sc := GetServerConfig()
	assert.Equal(t, 9000, sc.Port)
	assert.Equal(t, 30, sc.MaxFramerate)
	assert.Equal(t, 256, sc.SendQueue)
}

func TestLoad_DefaultValues(t *testing.T) {
	t.Cleanup(viper.Reset)

	require.NoError(t, Load(writeConfig(t, `{}`)))

	assert.Equal(t, "info", viper.GetString("logLevel"))
	assert.Equal(t, "./logs", viper.GetString("logsDir"))
	assert.Equal(t, "http://localhost:5000", viper.GetString("api.serverUrl"))
	assert.Equal(t, "", viper.GetString("api.apiKey"))
	assert.Equal(t, false, viper.GetBool("api.upload"))
	assert.Equal(t, "localhost", viper.GetString("db.host"))
	assert.Equal(t, "5432", viper.GetString("db.port"))
	assert.Equal(t, "postgres", viper.GetString("db.username"))
	assert.Equal(t, "postgres", viper.GetString("db.password"))
	assert.Equal(t, "mdv_relay", viper.GetString("db.database"))
	assert.Equal(t, false, viper.GetBool("influx.enabled"))
	assert.Equal(t, "relay_performance", viper.GetString("influx.bucket"))
	assert.Equal(t, false, viper.GetBool("geo.enabled"))
	assert.Equal(t, true, viper.GetBool("monitor.enabled"))

	sc := GetServerConfig()
	assert.Equal(t, ServerConfig{
		Port:         0,
		MaxFramerate: 20,
		SendQueue:    256,
		StopCommand:  "e",
		UpdateQueue:  0,
	}, sc)
}

func TestLoad_MissingFile(t *testing.T) {
	t.Cleanup(viper.Reset)

	err := Load("/nonexistent/path")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "error reading config file")

	// defaults are still usable
	assert.Equal(t, 20, GetServerConfig().MaxFramerate)
}

func TestSetDefaults_EnvOverride(t *testing.T) {
	t.Cleanup(viper.Reset)
	t.Setenv("MDV_SERVER_PORT", "7777")
	t.Setenv("MDV_STORAGE_TYPE", "SQLite")

	SetDefaults()

	assert.Equal(t, 7777, GetServerConfig().Port)
	assert.Equal(t, "sqlite", GetStorageConfig().Type)
}

func TestGetString(t *testing.T) {
	t.Cleanup(viper.Reset)
	viper.Set("testKey", "testValue")
	assert.Equal(t, "testValue", GetString("testKey"))
}

func TestGetInt(t *testing.T) {
	t.Cleanup(viper.Reset)
	viper.Set("testInt", 42)
	assert.Equal(t, 42, GetInt("testInt"))
}

func TestGetBool(t *testing.T) {
	t.Cleanup(viper.Reset)
	viper.Set("testBool", true)
	assert.Equal(t, true, GetBool("testBool"))
}

func TestGetDuration(t *testing.T) {
	t.Cleanup(viper.Reset)
	viper.Set("testDuration", "150ms")
	assert.Equal(t, 150*time.Millisecond, GetDuration("testDuration"))
}

func TestGetStorageConfig_Defaults(t *testing.T) {
	t.Cleanup(viper.Reset)
	require.NoError(t, Load(writeConfig(t, `{}`)))

	cfg := GetStorageConfig()
	assert.Equal(t, "none", cfg.Type)
	assert.Equal(t, "./recordings", cfg.Memory.OutputDir)
	assert.Equal(t, true, cfg.Memory.CompressOutput)
	assert.Equal(t, 3*time.Minute, cfg.Sqlite.DumpInterval)
	assert.Equal(t, "", cfg.Sqlite.Path)
	assert.Equal(t, "ws://localhost:5000/api/relay", cfg.WebSocket.URL)
}

func TestGetStorageConfig_Override(t *testing.T) {
	t.Cleanup(viper.Reset)
	require.NoError(t, Load(writeConfig(t, `{
		"storage": {
			"type": "sqlite",
			"memory": { "outputDir": "/tmp/out", "compressOutput": false },
			"sqlite": { "dumpInterval": "10m", "path": "/tmp/relay.db" },
			"websocket": { "url": "ws://example:1/x", "secret": "s3cret" }
		}
	}`)))

	sc := GetStorageConfig()
	assert.Equal(t, "sqlite", sc.Type)
	assert.Equal(t, "/tmp/out", sc.Memory.OutputDir)
	assert.Equal(t, false, sc.Memory.CompressOutput)
	assert.Equal(t, 10*time.Minute, sc.Sqlite.DumpInterval)
	assert.Equal(t, "/tmp/relay.db", sc.Sqlite.Path)
	assert.Equal(t, "ws://example:1/x", sc.WebSocket.URL)
	assert.Equal(t, "s3cret", sc.WebSocket.Secret)
}

func TestGetOTelConfig_Defaults(t *testing.T) {
	t.Cleanup(viper.Reset)
	require.NoError(t, Load(writeConfig(t, `{}`)))

	cfg := GetOTelConfig()
	assert.Equal(t, false, cfg.Enabled)
	assert.Equal(t, "mdv-relay", cfg.ServiceName)
	assert.Equal(t, 5*time.Second, cfg.BatchTimeout)
	assert.Equal(t, "", cfg.Endpoint)
	assert.Equal(t, true, cfg.Insecure)
}

func TestGetOTelConfig_Override(t *testing.T) {
	t.Cleanup(viper.Reset)
	require.NoError(t, Load(writeConfig(t, `{
		"otel": {
			"enabled": true,
			"serviceName": "my-service",
			"batchTimeout": "30s",
			"endpoint": "localhost:4317",
			"insecure": false
		}
	}`)))

	oc := GetOTelConfig()
	assert.Equal(t, true, oc.Enabled)
	assert.Equal(t, "my-service", oc.ServiceName)
	assert.Equal(t, 30*time.Second, oc.BatchTimeout)
	assert.Equal(t, "localhost:4317", oc.Endpoint)
	assert.Equal(t, false, oc.Insecure)
}

func TestGetMonitorAndInfluxConfig(t *testing.T) {
	t.Cleanup(viper.Reset)
	require.NoError(t, Load(writeConfig(t, `{
		"monitor": { "interval": "5s", "statusFile": "/tmp/s.txt" },
		"influx": { "enabled": true, "host": "influx", "org": "o" }
	}`)))

	mc := GetMonitorConfig()
	assert.True(t, mc.Enabled)
	assert.Equal(t, 5*time.Second, mc.Interval)
	assert.Equal(t, "/tmp/s.txt", mc.StatusFile)

	ic := GetInfluxConfig()
	assert.True(t, ic.Enabled)
	assert.Equal(t, "influx", ic.Host)
	assert.Equal(t, "8086", ic.Port)
	assert.Equal(t, "o", ic.Org)
	assert.Equal(t, "relay_performance", ic.Bucket)
}

func TestGetAPIAndGeoConfig(t *testing.T) {
	t.Cleanup(viper.Reset)
	require.NoError(t, Load(writeConfig(t, `{
		"api": { "serverUrl": "https://web", "apiKey": "k", "upload": true },
		"geo": { "enabled": true, "origin": "13.4,52.5,34" }
	}`)))

	assert.Equal(t, APIConfig{ServerURL: "https://web", APIKey: "k", Upload: true}, GetAPIConfig())
	assert.Equal(t, GeoConfig{Enabled: true, Origin: "13.4,52.5,34"}, GetGeoConfig())
}
