package database

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/glebarez/sqlite"
	"github.com/multidriver/relay/internal/config"
	"github.com/multidriver/relay/internal/model"
	"github.com/rs/zerolog"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var memoryDBCounter atomic.Uint64

// GetPostgresDB returns a connection to the Postgres database and validates it with a ping.
func GetPostgresDB(cfg config.DBConfig, log zerolog.Logger) (*gorm.DB, error) {
	dsn := fmt.Sprintf(`host=%s port=%s user=%s password=%s dbname=%s sslmode=disable`,
		cfg.Host,
		cfg.Port,
		cfg.Username,
		cfg.Password,
		cfg.Database,
	)

	log.Debug().Str("host", cfg.Host).Str("port", cfg.Port).Str("database", cfg.Database).Msg("Connecting to Postgres DB")

	db, err := gorm.Open(postgres.New(postgres.Config{
		DSN:                  dsn,
		PreferSimpleProtocol: true,
	}), &gorm.Config{
		SkipDefaultTransaction: true,
		CreateBatchSize:        10000,
		Logger:                 logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to access sql interface: %w", err)
	}
	if err = sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("failed to validate connection: %w", err)
	}
	sqlDB.SetMaxOpenConns(10)

	log.Info().Msg("Connected to database")
	return db, nil
}

// GetSqliteDB returns a connection to a SQLite database.
// If path is empty, uses a private in-memory database.
func GetSqliteDB(path string, log zerolog.Logger) (*gorm.DB, error) {
	dsn := path
	if path == "" {
		// named so every backend gets its own memory db while the shared cache
		// keeps it alive across pooled connections
		dsn = fmt.Sprintf("file:mdv_relay_%d?mode=memory&cache=shared", memoryDBCounter.Add(1))
	}

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		PrepareStmt:            true,
		SkipDefaultTransaction: true,
		CreateBatchSize:        2000,
		Logger:                 logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}

	if path != "" {
		log.Info().Str("path", path).Msg("Using local SQLite DB")
	} else {
		log.Info().Msg("Using local SQLite DB in memory with periodic disk dump")
	}

	// set PRAGMAS
	pragmas := []string{
		"PRAGMA user_version = 1;",
		"PRAGMA journal_mode = MEMORY;",
		"PRAGMA synchronous = OFF;",
		"PRAGMA cache_size = -32000;",
		"PRAGMA temp_store = MEMORY;",
	}

	for _, pragma := range pragmas {
		if err := db.Exec(pragma).Error; err != nil {
			return nil, fmt.Errorf("error setting PRAGMA: %w", err)
		}
	}

	return db, nil
}

// Setup migrates tables and creates default relay info if it doesn't exist.
func Setup(db *gorm.DB, log zerolog.Logger) error {
	if !db.Migrator().HasTable(&model.RelayInfo{}) {
		if err := db.AutoMigrate(&model.RelayInfo{}); err != nil {
			return fmt.Errorf("failed to create relay_infos table: %w", err)
		}
		if err := db.Create(&model.RelayInfo{
			InstanceName: "mdv-relay",
			Description:  "Multi-driver simulator relay",
		}).Error; err != nil {
			return fmt.Errorf("failed to create relay_infos entry: %w", err)
		}
	}

	// Ensure PostGIS Extension is installed for Postgres
	if db.Dialector.Name() == "postgres" {
		if err := db.Exec(`CREATE Extension IF NOT EXISTS postgis;`).Error; err != nil {
			return fmt.Errorf("failed to create PostGIS Extension: %w", err)
		}
		log.Info().Msg("PostGIS Extension created")
	}

	log.Info().Msg("Migrating schema")
	if err := db.AutoMigrate(model.DatabaseModels...); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}

	log.Info().Msg("Database setup complete")
	return nil
}

// DumpMemoryDBToDisk vacuums the in-memory database to a disk file.
func DumpMemoryDBToDisk(db *gorm.DB, sqliteFilePath string) error {
	if sqliteFilePath == "" {
		return fmt.Errorf("sqlite file path not set")
	}

	if err := os.MkdirAll(filepath.Dir(sqliteFilePath), 0755); err != nil {
		return fmt.Errorf("error creating dump directory: %w", err)
	}

	// remove existing file if it exists
	if exists, err := os.Stat(sqliteFilePath); err == nil && exists != nil {
		if err := os.Remove(sqliteFilePath); err != nil {
			return fmt.Errorf("error removing existing DB file: %w", err)
		}
	}

	quoted := strings.ReplaceAll(sqliteFilePath, "'", "''")
	if err := db.Exec("VACUUM INTO '" + quoted + "';").Error; err != nil {
		return fmt.Errorf("error dumping memory DB to disk: %w", err)
	}

	return nil
}

// GetBackupDBPaths returns paths to all .db files in the given directory.
func GetBackupDBPaths(dir string) ([]string, error) {
	files, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var dbPaths []string
	for _, file := range files {
		if !file.IsDir() && strings.HasSuffix(file.Name(), ".db") {
			dbPaths = append(dbPaths, filepath.Join(dir, file.Name()))
		}
	}
	return dbPaths, nil
}
