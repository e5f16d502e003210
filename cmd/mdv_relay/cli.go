package main

import (
	"compress/gzip"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/multidriver/relay/internal/config"
	"github.com/multidriver/relay/internal/database"
	"github.com/multidriver/relay/internal/model"
	"github.com/multidriver/relay/internal/model/convert"
	v1 "github.com/multidriver/relay/internal/storage/memory/export/v1"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

var errUsage = errors.New(`usage:
  mdv_relay [port]
  mdv_relay getjson <file.db|postgres> [session ids...]
  mdv_relay backups [dir]
  mdv_relay version`)

func isTool(arg string) bool {
	switch strings.ToLower(arg) {
	case "getjson", "backups", "version", "help", "-h", "--help":
		return true
	}
	return false
}

// runTool handles the offline subcommands that work on recorded sessions.
func runTool(args []string, out io.Writer) error {
	switch strings.ToLower(args[0]) {
	case "version":
		fmt.Fprintf(out, "%s v%s (built %s)\n", AppName, CurrentVersion, BuildDate)
		return nil

	case "help", "-h", "--help":
		fmt.Fprintln(out, errUsage)
		return nil

	case "backups":
		_ = loadConfig()
		dir := config.GetString("logsDir")
		if len(args) > 1 {
			dir = args[1]
		}
		paths, err := database.GetBackupDBPaths(dir)
		if err != nil {
			return fmt.Errorf("listing %s: %w", dir, err)
		}
		if len(paths) == 0 {
			fmt.Fprintln(out, "No database dumps found in", dir)
		}
		for _, p := range paths {
			fmt.Fprintln(out, p)
		}
		return nil

	case "getjson":
		if len(args) < 2 {
			return errUsage
		}
		_ = loadConfig()
		db, outDir, err := openRecordingDB(args[1])
		if err != nil {
			return err
		}
		written, err := exportSessions(db, args[2:], outDir)
		for _, p := range written {
			fmt.Fprintln(out, p)
		}
		return err

	default:
		return errUsage
	}
}

// openRecordingDB opens a SQLite dump, or the configured Postgres database for "postgres".
func openRecordingDB(source string) (*gorm.DB, string, error) {
	if strings.EqualFold(source, "postgres") {
		db, err := database.GetPostgresDB(config.GetDBConfig(), zerolog.Nop())
		if err != nil {
			return nil, "", fmt.Errorf("failed to connect to postgres: %w", err)
		}
		return db, ".", nil
	}

	if _, err := os.Stat(source); err != nil {
		return nil, "", err
	}
	db, err := database.GetSqliteDB(source, zerolog.Nop())
	if err != nil {
		return nil, "", fmt.Errorf("failed to open %s: %w", source, err)
	}
	return db, filepath.Dir(source), nil
}

// exportSessions writes one gzipped JSON export per session. No ids means every session.
func exportSessions(db *gorm.DB, ids []string, outDir string) ([]string, error) {
	var sessionIDs []uint
	for _, id := range ids {
		n, err := strconv.ParseUint(id, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid session id %q", id)
		}
		sessionIDs = append(sessionIDs, uint(n))
	}

	var sessions []model.Session
	q := db.Order("id")
	if len(sessionIDs) > 0 {
		q = q.Where("id IN ?", sessionIDs)
	}
	if err := q.Find(&sessions).Error; err != nil {
		return nil, fmt.Errorf("failed to load sessions: %w", err)
	}
	if len(sessions) == 0 {
		return nil, errors.New("no sessions found")
	}

	var written []string
	for _, s := range sessions {
		data, err := loadSessionData(db, s)
		if err != nil {
			return written, err
		}
		path := filepath.Join(outDir, fmt.Sprintf("%s_%d.json.gz", sanitize(s.Name), s.ID))
		if err := writeExport(path, v1.Build(data)); err != nil {
			return written, err
		}
		written = append(written, path)
	}
	return written, nil
}

func loadSessionData(db *gorm.DB, s model.Session) (*v1.SessionData, error) {
	var entities []model.Entity
	if err := db.Where("session_id = ?", s.ID).Order("join_time, id").Find(&entities).Error; err != nil {
		return nil, fmt.Errorf("failed to load entities for session %d: %w", s.ID, err)
	}
	var states []model.EntityState
	if err := db.Where("session_id = ?", s.ID).Order("time, id").Find(&states).Error; err != nil {
		return nil, fmt.Errorf("failed to load states for session %d: %w", s.ID, err)
	}

	session := convert.SessionToCore(s)
	data := &v1.SessionData{Session: &session}
	byRelayID := make(map[string]*v1.EntityRecord, len(entities))
	for _, e := range entities {
		record := &v1.EntityRecord{Entity: convert.EntityToCore(e)}
		if e.LeaveTime.Valid {
			record.LeaveTime = e.LeaveTime.Time
		}
		byRelayID[e.RelayID] = record
		data.Entities = append(data.Entities, record)
	}
	for _, st := range states {
		if record, ok := byRelayID[st.RelayID]; ok {
			record.States = append(record.States, convert.EntityStateToCore(st))
		}
	}
	return data, nil
}

func writeExport(path string, export v1.Export) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer f.Close()

	gz := gzip.NewWriter(f)
	if err := json.NewEncoder(gz).Encode(export); err != nil {
		gz.Close()
		return fmt.Errorf("failed to encode %s: %w", path, err)
	}
	return gz.Close()
}

func sanitize(name string) string {
	return strings.NewReplacer(" ", "_", ":", "_", "/", "_", "\\", "_").Replace(name)
}
