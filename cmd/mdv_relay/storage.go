package main

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/multidriver/relay/internal/config"
	"github.com/multidriver/relay/internal/storage"
	"github.com/multidriver/relay/internal/storage/memory"
	pgstorage "github.com/multidriver/relay/internal/storage/postgres"
	sqlitestorage "github.com/multidriver/relay/internal/storage/sqlite"
	wsstorage "github.com/multidriver/relay/internal/storage/websocket"
	"github.com/multidriver/relay/pkg/core"
	"github.com/rs/zerolog"
)

// startRecording creates the configured recorder, initializes it and opens the session.
// Any failure leaves relaying untouched and recording disabled.
func startRecording(storageCfg config.StorageConfig, s *core.Session, dbLog zerolog.Logger) storage.Backend {
	backend, err := createStorageBackend(storageCfg, dbLog)
	if err != nil {
		Logger.Error("Failed to create storage backend", "error", err)
		return storage.Nop{}
	}
	if _, ok := backend.(storage.Nop); ok {
		Logger.Info("Session recording disabled")
		return backend
	}

	if err := backend.Init(); err != nil {
		Logger.Error("Failed to initialize storage backend, recording disabled", "type", storageCfg.Type, "error", err)
		_ = backend.Close()
		return storage.Nop{}
	}

	if err := backend.StartSession(s); err != nil {
		Logger.Error("Failed to start session, recording disabled", "type", storageCfg.Type, "error", err)
		_ = backend.Close()
		return storage.Nop{}
	}
	currentSession.Store(s)

	Logger.Info("Session recording started", "type", storageCfg.Type, "session", s.Name, "sessionId", s.ID)
	return backend
}

// stopRecording ends the session and releases the recorder.
func stopRecording(backend storage.Backend) {
	if err := backend.EndSession(); err != nil {
		Logger.Error("Failed to end session", "error", err)
	}
	if err := backend.Close(); err != nil {
		Logger.Error("Failed to close storage backend", "error", err)
	}
	currentSession.Store(nil)
}

func createStorageBackend(storageCfg config.StorageConfig, dbLog zerolog.Logger) (storage.Backend, error) {
	switch storageCfg.Type {
	case "", "none":
		return storage.Nop{}, nil

	case "memory":
		Logger.Info("Memory storage backend initialized", "outputDir", storageCfg.Memory.OutputDir)
		return memory.New(storageCfg.Memory), nil

	case "postgres":
		Logger.Info("Postgres storage backend initialized")
		return pgstorage.New(config.GetDBConfig(), Logger, dbLog), nil

	case "sqlite":
		dumpPath := storageCfg.Sqlite.Path
		if dumpPath == "" {
			dumpPath = filepath.Join(config.GetString("logsDir"), fmt.Sprintf("%s_%s.db", AppName, SessionStartTime.Format("20060102_150405")))
		}
		backend, err := sqlitestorage.New(sqlitestorage.Config{
			DumpInterval: storageCfg.Sqlite.DumpInterval,
			DumpPath:     dumpPath,
		}, Logger, dbLog)
		if err != nil {
			return nil, fmt.Errorf("failed to create SQLite backend: %w", err)
		}
		Logger.Info("SQLite storage backend initialized", "dumpPath", dumpPath)
		return backend, nil

	case "websocket":
		wsURL := storageCfg.WebSocket.URL
		if wsURL == "" {
			wsURL = httpToWS(config.GetAPIConfig().ServerURL) + "/api/relay"
		}
		secret := storageCfg.WebSocket.Secret
		if secret == "" {
			secret = config.GetAPIConfig().APIKey
		}
		Logger.Info("WebSocket storage backend initialized", "url", wsURL)
		return wsstorage.New(wsstorage.Config{
			URL:    wsURL,
			Secret: secret,
		}, Logger), nil

	default:
		return nil, fmt.Errorf("unknown storage type %q", storageCfg.Type)
	}
}

// httpToWS converts an HTTP(S) URL to a WebSocket URL.
func httpToWS(httpURL string) string {
	s := strings.TrimRight(httpURL, "/")
	s = strings.Replace(s, "https://", "wss://", 1)
	s = strings.Replace(s, "http://", "ws://", 1)
	return s
}
