package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// FileName is the configuration file looked up by Load.
const FileName = "mdv_relay.cfg.json"

// ServerConfig holds relay listener settings
type ServerConfig struct {
	Port         int    `json:"port" mapstructure:"port"`
	MaxFramerate int    `json:"maxFramerate" mapstructure:"maxFramerate"`
	SendQueue    int    `json:"sendQueue" mapstructure:"sendQueue"`
	StopCommand  string `json:"stopCommand" mapstructure:"stopCommand"`
	UpdateQueue  int    `json:"updateQueue" mapstructure:"updateQueue"`
}

// MemoryConfig holds in-memory/JSON storage backend settings
type MemoryConfig struct {
	OutputDir      string `json:"outputDir" mapstructure:"outputDir"`
	CompressOutput bool   `json:"compressOutput" mapstructure:"compressOutput"`
}

// SqliteConfig holds SQLite storage backend settings
type SqliteConfig struct {
	DumpInterval time.Duration `json:"dumpInterval" mapstructure:"dumpInterval"`
	Path         string        `json:"path" mapstructure:"path"`
}

// WebSocketConfig holds streaming storage backend settings
type WebSocketConfig struct {
	URL    string `json:"url" mapstructure:"url"`
	Secret string `json:"secret" mapstructure:"secret"`
}

// StorageConfig selects and configures the session recorder
type StorageConfig struct {
	Type      string          `json:"type" mapstructure:"type"`
	Memory    MemoryConfig    `json:"memory" mapstructure:"memory"`
	Sqlite    SqliteConfig    `json:"sqlite" mapstructure:"sqlite"`
	WebSocket WebSocketConfig `json:"websocket" mapstructure:"websocket"`
}

// DBConfig holds Postgres connection settings
type DBConfig struct {
	Host     string `json:"host" mapstructure:"host"`
	Port     string `json:"port" mapstructure:"port"`
	Username string `json:"username" mapstructure:"username"`
	Password string `json:"password" mapstructure:"password"`
	Database string `json:"database" mapstructure:"database"`
}

// InfluxConfig holds InfluxDB settings
type InfluxConfig struct {
	Enabled  bool   `json:"enabled" mapstructure:"enabled"`
	Host     string `json:"host" mapstructure:"host"`
	Port     string `json:"port" mapstructure:"port"`
	Protocol string `json:"protocol" mapstructure:"protocol"`
	Token    string `json:"token" mapstructure:"token"`
	Org      string `json:"org" mapstructure:"org"`
	Bucket   string `json:"bucket" mapstructure:"bucket"`
}

// MonitorConfig holds status reporting settings
type MonitorConfig struct {
	Enabled    bool          `json:"enabled" mapstructure:"enabled"`
	Interval   time.Duration `json:"interval" mapstructure:"interval"`
	StatusFile string        `json:"statusFile" mapstructure:"statusFile"`
}

// OTelConfig holds OpenTelemetry log export settings
type OTelConfig struct {
	Enabled      bool          `json:"enabled" mapstructure:"enabled"`
	ServiceName  string        `json:"serviceName" mapstructure:"serviceName"`
	BatchTimeout time.Duration `json:"batchTimeout" mapstructure:"batchTimeout"`
	Endpoint     string        `json:"endpoint" mapstructure:"endpoint"`
	Insecure     bool          `json:"insecure" mapstructure:"insecure"`
}

// APIConfig holds recording upload settings
type APIConfig struct {
	ServerURL string `json:"serverUrl" mapstructure:"serverUrl"`
	APIKey    string `json:"apiKey" mapstructure:"apiKey"`
	Upload    bool   `json:"upload" mapstructure:"upload"`
}

// GeoConfig holds georeferencing settings
type GeoConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	Origin  string `json:"origin" mapstructure:"origin"`
}

// Load reads configuration from JSON file and sets default values.
// configDir is the directory containing the config file.
func Load(configDir string) error {
	SetDefaults()

	viper.SetConfigName(FileName)
	viper.AddConfigPath(configDir)
	viper.SetConfigType("json")

	err := viper.ReadInConfig()
	if err != nil {
		return fmt.Errorf("error reading config file: %v", err)
	}

	return nil
}

// SetDefaults registers default values and environment overrides (MDV_SERVER_PORT, ...).
// Load calls it; the entry point calls it directly when no file is present.
func SetDefaults() {
	viper.SetDefault("logLevel", "info")
	viper.SetDefault("logsDir", "./logs")
	viper.SetDefault("defaultTag", "")

	viper.SetDefault("server.port", 0)
	viper.SetDefault("server.maxFramerate", 20)
	viper.SetDefault("server.sendQueue", 256)
	viper.SetDefault("server.stopCommand", "e")
	viper.SetDefault("server.updateQueue", 0)

	viper.SetDefault("storage.type", "none")
	viper.SetDefault("storage.memory.outputDir", "./recordings")
	viper.SetDefault("storage.memory.compressOutput", true)
	viper.SetDefault("storage.sqlite.dumpInterval", "3m")
	viper.SetDefault("storage.sqlite.path", "")
	viper.SetDefault("storage.websocket.url", "ws://localhost:5000/api/relay")
	viper.SetDefault("storage.websocket.secret", "")

	viper.SetDefault("db.host", "localhost")
	viper.SetDefault("db.port", "5432")
	viper.SetDefault("db.username", "postgres")
	viper.SetDefault("db.password", "postgres")
	viper.SetDefault("db.database", "mdv_relay")

	viper.SetDefault("geo.enabled", false)
	viper.SetDefault("geo.origin", "")

	viper.SetDefault("influx.enabled", false)
	viper.SetDefault("influx.host", "localhost")
	viper.SetDefault("influx.port", "8086")
	viper.SetDefault("influx.protocol", "http")
	viper.SetDefault("influx.token", "supersecrettoken")
	viper.SetDefault("influx.org", "mdv-metrics")
	viper.SetDefault("influx.bucket", "relay_performance")

	viper.SetDefault("otel.enabled", false)
	viper.SetDefault("otel.serviceName", "mdv-relay")
	viper.SetDefault("otel.batchTimeout", "5s")
	viper.SetDefault("otel.endpoint", "")
	viper.SetDefault("otel.insecure", true)

	viper.SetDefault("api.serverUrl", "http://localhost:5000")
	viper.SetDefault("api.apiKey", "")
	viper.SetDefault("api.upload", false)

	viper.SetDefault("monitor.enabled", true)
	viper.SetDefault("monitor.interval", "1s")
	viper.SetDefault("monitor.statusFile", "./status.txt")

	viper.SetEnvPrefix("MDV")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
}

// GetServerConfig returns the relay listener configuration.
func GetServerConfig() ServerConfig {
	return ServerConfig{
		Port:         viper.GetInt("server.port"),
		MaxFramerate: viper.GetInt("server.maxFramerate"),
		SendQueue:    viper.GetInt("server.sendQueue"),
		StopCommand:  viper.GetString("server.stopCommand"),
		UpdateQueue:  viper.GetInt("server.updateQueue"),
	}
}

// GetStorageConfig returns the recorder configuration.
func GetStorageConfig() StorageConfig {
	return StorageConfig{
		Type: strings.ToLower(viper.GetString("storage.type")),
		Memory: MemoryConfig{
			OutputDir:      viper.GetString("storage.memory.outputDir"),
			CompressOutput: viper.GetBool("storage.memory.compressOutput"),
		},
		Sqlite: SqliteConfig{
			DumpInterval: viper.GetDuration("storage.sqlite.dumpInterval"),
			Path:         viper.GetString("storage.sqlite.path"),
		},
		WebSocket: WebSocketConfig{
			URL:    viper.GetString("storage.websocket.url"),
			Secret: viper.GetString("storage.websocket.secret"),
		},
	}
}

// GetDBConfig returns the Postgres connection settings.
func GetDBConfig() DBConfig {
	return DBConfig{
		Host:     viper.GetString("db.host"),
		Port:     viper.GetString("db.port"),
		Username: viper.GetString("db.username"),
		Password: viper.GetString("db.password"),
		Database: viper.GetString("db.database"),
	}
}

// GetInfluxConfig returns the InfluxDB settings.
func GetInfluxConfig() InfluxConfig {
	return InfluxConfig{
		Enabled:  viper.GetBool("influx.enabled"),
		Host:     viper.GetString("influx.host"),
		Port:     viper.GetString("influx.port"),
		Protocol: viper.GetString("influx.protocol"),
		Token:    viper.GetString("influx.token"),
		Org:      viper.GetString("influx.org"),
		Bucket:   viper.GetString("influx.bucket"),
	}
}

// GetMonitorConfig returns the status reporting settings.
func GetMonitorConfig() MonitorConfig {
	return MonitorConfig{
		Enabled:    viper.GetBool("monitor.enabled"),
		Interval:   viper.GetDuration("monitor.interval"),
		StatusFile: viper.GetString("monitor.statusFile"),
	}
}

// GetOTelConfig returns the OpenTelemetry settings.
func GetOTelConfig() OTelConfig {
	return OTelConfig{
		Enabled:      viper.GetBool("otel.enabled"),
		ServiceName:  viper.GetString("otel.serviceName"),
		BatchTimeout: viper.GetDuration("otel.batchTimeout"),
		Endpoint:     viper.GetString("otel.endpoint"),
		Insecure:     viper.GetBool("otel.insecure"),
	}
}

// GetAPIConfig returns the upload settings.
func GetAPIConfig() APIConfig {
	return APIConfig{
		ServerURL: viper.GetString("api.serverUrl"),
		APIKey:    viper.GetString("api.apiKey"),
		Upload:    viper.GetBool("api.upload"),
	}
}

// GetGeoConfig returns the georeferencing settings.
func GetGeoConfig() GeoConfig {
	return GeoConfig{
		Enabled: viper.GetBool("geo.enabled"),
		Origin:  viper.GetString("geo.origin"),
	}
}

// GetString returns a string config value.
func GetString(key string) string {
	return viper.GetString(key)
}

// GetInt returns an int config value.
func GetInt(key string) int {
	return viper.GetInt(key)
}

// GetBool returns a bool config value.
func GetBool(key string) bool {
	return viper.GetBool(key)
}

// GetDuration returns a duration config value.
func GetDuration(key string) time.Duration {
	return viper.GetDuration(key)
}
