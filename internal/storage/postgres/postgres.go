// Package postgres implements the storage.Backend interface on PostgreSQL/PostGIS.
// Queueing and batch writes live in the GORM backend; this package only owns the connection.
package postgres

import (
	"log/slog"

	"github.com/multidriver/relay/internal/config"
	"github.com/multidriver/relay/internal/database"
	gormstorage "github.com/multidriver/relay/internal/storage/gorm"
	"github.com/rs/zerolog"

	"gorm.io/gorm"
)

// Backend records sessions into Postgres.
type Backend struct {
	*gormstorage.Backend
}

// New creates a Postgres backend. The connection is opened and validated by Init.
func New(cfg config.DBConfig, logger *slog.Logger, dbLog zerolog.Logger) *Backend {
	return &Backend{
		Backend: gormstorage.New(gormstorage.Dependencies{
			Open: func() (*gorm.DB, error) {
				return database.GetPostgresDB(cfg, dbLog)
			},
			Logger:   logger,
			DBLogger: dbLog,
		}),
	}
}
