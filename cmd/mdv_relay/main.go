package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/multidriver/relay/internal/api"
	"github.com/multidriver/relay/internal/cache"
	"github.com/multidriver/relay/internal/config"
	"github.com/multidriver/relay/internal/dispatcher"
	"github.com/multidriver/relay/internal/geo"
	"github.com/multidriver/relay/internal/handlers"
	"github.com/multidriver/relay/internal/influx"
	"github.com/multidriver/relay/internal/logging"
	"github.com/multidriver/relay/internal/monitor"
	intOtel "github.com/multidriver/relay/internal/otel"
	"github.com/multidriver/relay/internal/registry"
	"github.com/multidriver/relay/internal/server"
	"github.com/multidriver/relay/internal/storage"
	"github.com/multidriver/relay/pkg/core"

	"github.com/rs/zerolog"
)

// build info - BuildDate can be set at build time via ldflags
var (
	CurrentVersion string = "0.0.1"
	BuildDate      string = "unknown"

	AppName string = "mdv_relay"
)

var (
	// SlogManager handles all slog-based logging
	SlogManager *logging.SlogManager

	// Logger is the slog logger (convenience reference)
	Logger *slog.Logger = slog.Default()

	// OTelProvider handles OpenTelemetry
	OTelProvider *intOtel.Provider

	SessionStartTime time.Time = time.Now()

	// currentSession is the recorded session, nil while recording is off
	currentSession atomic.Pointer[core.Session]
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout))
}

func run(args []string, stdin io.Reader, stdout io.Writer) int {
	if len(args) > 0 && isTool(args[0]) {
		if err := runTool(args, stdout); err != nil {
			fmt.Fprintln(os.Stderr, "Error:", err)
			return 1
		}
		return 0
	}

	configErr := loadConfig()

	logFile, err := openLogFile()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Failed to create log file, logging to console:", err)
	}
	if logFile != nil {
		defer logFile.Close()
	}
	dbLog := setupLogging(logFile)
	defer shutdownLogging()

	if configErr != nil {
		Logger.Warn("Failed to load config, using defaults!", "error", configErr)
	} else {
		Logger.Info("Loaded config")
	}

	console := newConsole(stdin, stdout)
	serverCfg := config.GetServerConfig()

	port, err := console.resolvePort(args, serverCfg.Port)
	if err != nil {
		Logger.Error("Invalid port", "error", err)
		fmt.Fprintln(os.Stderr, "Invalid port:", err)
		return 1
	}

	reg := registry.New()
	eventDispatcher, err := dispatcher.New(logging.NewDispatcherLogger(dbLog))
	if err != nil {
		Logger.Error("Failed to create dispatcher", "error", err)
		return 1
	}

	handlerService := handlers.NewService(handlers.Dependencies{
		Registry:    reg,
		EntityCache: cache.NewEntityCache(),
		Georef:      setupGeoreferencer(config.GetGeoConfig()),
		Logger:      Logger,
	})
	handlerService.RegisterHandlers(eventDispatcher, serverCfg.UpdateQueue)

	srv, err := server.New(server.Config{
		Port:         port,
		MaxFramerate: serverCfg.MaxFramerate,
		SendQueue:    serverCfg.SendQueue,
	}, reg, eventDispatcher, Logger)
	if err != nil {
		Logger.Error("Failed to create server", "error", err)
		return 1
	}
	if err := srv.Listen(); err != nil {
		Logger.Error("Failed to bind port", "port", port, "error", err)
		fmt.Fprintln(os.Stderr, "Failed to bind port:", err)
		return 1
	}

	session := newSession(srv.Addr().(*net.TCPAddr).Port, serverCfg.MaxFramerate)
	backend := startRecording(config.GetStorageConfig(), session, dbLog)
	handlerService.SetBackend(backend)

	influxManager := setupInflux(dbLog)
	monitorService := setupMonitor(srv, backend, influxManager)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)
	go func() {
		if err := srv.Serve(); err != nil {
			Logger.Error("Relay stopped unexpectedly", "error", err)
			serveErr <- err
			stop()
		}
	}()

	console.printBanner(srv.Addr().String(), serverCfg.StopCommand)
	reason := console.waitForStop(ctx, serverCfg.StopCommand, func() {
		console.printStatus(srv.Status())
	})
	Logger.Info("Shutting down", "reason", reason)

	srv.Stop()
	eventDispatcher.Close()
	if monitorService != nil {
		monitorService.Stop()
	}
	stopRecording(backend)
	uploadRecording(backend)
	if influxManager != nil {
		if err := influxManager.Close(); err != nil {
			Logger.Warn("Failed to close InfluxDB", "error", err)
		}
	}

	select {
	case <-serveErr:
		return 1
	default:
	}
	return 0
}

func loadConfig() error {
	dir, err := os.Getwd()
	if err != nil {
		dir = "."
	}
	if err := config.Load(dir); err == nil {
		return nil
	}

	// fall back to the folder holding the binary
	exe, err := os.Executable()
	if err != nil {
		return config.Load(dir)
	}
	return config.Load(filepath.Dir(exe))
}

// openLogFile creates the per-run log file in logsDir, moving an existing one aside.
func openLogFile() (*os.File, error) {
	logsDir := config.GetString("logsDir")
	if err := os.MkdirAll(logsDir, 0755); err != nil {
		return nil, err
	}

	path := logging.LogFilePath(logsDir, AppName, SessionStartTime)
	if _, err := os.Stat(path); err == nil {
		os.Rename(path, path+".old")
	}
	return os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
}

// setupLogging configures slog (with the OTel bridge when enabled) and returns the
// zerolog logger used by the database, InfluxDB and dispatcher layers.
func setupLogging(logFile *os.File) zerolog.Logger {
	var out io.Writer = os.Stdout
	if logFile != nil {
		out = logFile
	}

	otelCfg := config.GetOTelConfig()
	var err error
	OTelProvider, err = intOtel.New(intOtel.Config{
		Enabled:      otelCfg.Enabled,
		ServiceName:  otelCfg.ServiceName,
		BatchTimeout: otelCfg.BatchTimeout,
		LogWriter:    out,
		Endpoint:     otelCfg.Endpoint,
		Insecure:     otelCfg.Insecure,
		ErrorLogger:  slog.New(slog.NewTextHandler(out, nil)),
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "Failed to set up OpenTelemetry:", err)
		OTelProvider, _ = intOtel.New(intOtel.Config{})
	}

	SlogManager = logging.NewSlogManager()
	SlogManager.SetRecordAttrs(sessionAttrs)
	var file io.Writer
	if logFile != nil {
		file = logFile
	}
	SlogManager.Setup(file, config.GetString("logLevel"), OTelProvider.LoggerProvider())
	Logger = SlogManager.Logger()
	slog.SetDefault(Logger)

	level, err := zerolog.ParseLevel(config.GetString("logLevel"))
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.TimestampFunc = func() time.Time {
		return time.Now().UTC()
	}
	dbLog := zerolog.New(zerolog.ConsoleWriter{
		Out:        out,
		TimeFormat: time.RFC3339,
		NoColor:    true,
	}).Level(level).With().Timestamp().Logger().
		Hook(zerolog.HookFunc(func(e *zerolog.Event, _ zerolog.Level, _ string) {
			if s := currentSession.Load(); s != nil {
				e.Str("session", s.Name)
			}
		}))

	Logger.Info("Logging set up", "version", CurrentVersion, "buildDate", BuildDate, "otel", OTelProvider.Enabled())
	return dbLog
}

func shutdownLogging() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := SlogManager.Flush(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Failed to flush logs:", err)
	}
	if err := OTelProvider.Shutdown(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Failed to shut down OpenTelemetry:", err)
	}
}

// sessionAttrs adds the recorded session to every log record.
func sessionAttrs() []slog.Attr {
	s := currentSession.Load()
	if s == nil {
		return nil
	}
	return []slog.Attr{slog.String("session", s.Name), slog.Uint64("sessionId", uint64(s.ID))}
}

func newSession(port, maxFramerate int) *core.Session {
	host, err := os.Hostname()
	if err != nil {
		host = "localhost"
	}
	return &core.Session{
		Name:         fmt.Sprintf("%s_%d", host, port),
		Host:         host,
		Port:         port,
		MaxFramerate: maxFramerate,
		RelayVersion: CurrentVersion,
		Tag:          config.GetString("defaultTag"),
		StartTime:    time.Now(),
	}
}

func setupGeoreferencer(cfg config.GeoConfig) *geo.Georeferencer {
	if !cfg.Enabled {
		return nil
	}
	origin, err := geo.GeoPositionFromString(cfg.Origin)
	if err != nil {
		Logger.Error("Invalid geo.origin, georeferencing disabled", "origin", cfg.Origin, "error", err)
		return nil
	}
	g, err := geo.NewGeoreferencer(origin)
	if err != nil {
		Logger.Error("Failed to create georeferencer", "error", err)
		return nil
	}
	Logger.Info("Georeferencing enabled", "lon", origin.Longitude, "lat", origin.Latitude, "elev", origin.Elevation)
	return g
}

func setupInflux(dbLog zerolog.Logger) *influx.Manager {
	cfg := config.GetInfluxConfig()
	if !cfg.Enabled {
		return nil
	}

	backupPath := filepath.Join(config.GetString("logsDir"), fmt.Sprintf("%s_influx_%s.gz", AppName, SessionStartTime.Format("20060102_150405")))
	m := influx.NewManager(cfg, dbLog, backupPath)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := m.Connect(ctx); err != nil {
		Logger.Error("InfluxDB unavailable", "error", err)
		return nil
	}
	return m
}

func setupMonitor(srv *server.Server, backend storage.Backend, influxManager *influx.Manager) *monitor.Service {
	cfg := config.GetMonitorConfig()
	if !cfg.Enabled {
		return nil
	}

	deps := monitor.Dependencies{
		Server:     srv,
		Backend:    backend,
		Logger:     Logger,
		Interval:   cfg.Interval,
		StatusFile: cfg.StatusFile,
	}
	// a typed nil would defeat the monitor's nil check
	if influxManager != nil {
		deps.Influx = influxManager
	}

	m := monitor.NewService(deps)
	if err := m.Start(); err != nil {
		Logger.Error("Failed to start status monitor", "error", err)
		return nil
	}
	return m
}

// uploadRecording sends the exported recording to the web frontend when api.upload is set.
func uploadRecording(backend storage.Backend) {
	apiCfg := config.GetAPIConfig()
	if !apiCfg.Upload {
		return
	}
	up, ok := backend.(storage.Uploadable)
	if !ok {
		return
	}
	path := up.GetExportedFilePath()
	if path == "" {
		Logger.Warn("No recording to upload")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	client := api.New(apiCfg.ServerURL, apiCfg.APIKey)
	if err := client.Healthcheck(ctx); err != nil {
		Logger.Warn("Web frontend is offline, keeping recording on disk", "path", path, "error", err)
		return
	}
	if err := client.Upload(ctx, path, up.GetExportMetadata()); err != nil {
		Logger.Error("Failed to upload recording", "path", path, "error", err)
		return
	}
	Logger.Info("Recording uploaded", "path", path)
}
