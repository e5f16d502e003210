// Package sqlitestorage implements the storage.Backend interface using an in-memory
// SQLite database with periodic disk dumps via VACUUM INTO.
// It wraps the GORM backend; the only SQLite-specific concerns are creating the
// in-memory DB and the periodic disk dump.
package sqlitestorage

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/multidriver/relay/internal/database"
	gormstorage "github.com/multidriver/relay/internal/storage/gorm"
	"github.com/rs/zerolog"

	"gorm.io/gorm"
)

// Config holds configuration for the SQLite storage backend.
type Config struct {
	DumpInterval time.Duration
	DumpPath     string // Path for periodic VACUUM INTO dumps
}

// Backend wraps the GORM backend for SQLite-specific behavior.
type Backend struct {
	*gormstorage.Backend
	db        *gorm.DB
	cfg       Config
	logger    *slog.Logger
	stopChan  chan struct{}
	dumpDone  chan struct{}
	closeOnce sync.Once
}

// New creates a new SQLite storage backend on a private in-memory database.
func New(cfg Config, logger *slog.Logger, dbLog zerolog.Logger) (*Backend, error) {
	db, err := database.GetSqliteDB("", dbLog)
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory SQLite DB: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	gormBackend := gormstorage.New(gormstorage.Dependencies{
		DB:       db,
		Logger:   logger,
		DBLogger: dbLog,
	})

	return &Backend{
		Backend:  gormBackend,
		db:       db,
		cfg:      cfg,
		logger:   logger,
		stopChan: make(chan struct{}),
	}, nil
}

// Init initializes the embedded GORM backend and starts the dump goroutine.
func (b *Backend) Init() error {
	if err := b.Backend.Init(); err != nil {
		return err
	}

	b.dumpDone = make(chan struct{})
	if b.cfg.DumpPath != "" && b.cfg.DumpInterval > 0 {
		go b.dumpLoop()
	} else {
		close(b.dumpDone)
	}

	return nil
}

// Close stops the dump goroutine, flushes the GORM backend and writes a final dump.
func (b *Backend) Close() error {
	var err error
	b.closeOnce.Do(func() {
		close(b.stopChan)
		if b.dumpDone != nil {
			<-b.dumpDone
		}

		if err = b.Backend.Close(); err != nil {
			return
		}
		if b.cfg.DumpPath != "" {
			err = b.Dump()
		}
	})
	return err
}

// Dump writes a point-in-time copy of the database to DumpPath.
func (b *Backend) Dump() error {
	start := time.Now()
	if err := database.DumpMemoryDBToDisk(b.db, b.cfg.DumpPath); err != nil {
		return err
	}
	b.logger.Debug("Dumped SQLite DB to disk", "path", b.cfg.DumpPath, "duration", time.Since(start))
	return nil
}

// dumpLoop periodically dumps the in-memory SQLite database to disk via VACUUM INTO.
// VACUUM INTO creates a point-in-time snapshot, so no pause mechanism is needed.
func (b *Backend) dumpLoop() {
	defer close(b.dumpDone)

	ticker := time.NewTicker(b.cfg.DumpInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stopChan:
			return
		case <-ticker.C:
			if err := b.Dump(); err != nil {
				b.logger.Error("Error dumping to disk", "path", b.cfg.DumpPath, "error", err)
			}
		}
	}
}
