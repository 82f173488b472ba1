package server

import (
	"fmt"
	"net/http"
	"os"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/nicktill/geomag/pkg/config"
	"github.com/nicktill/geomag/pkg/server/monitor"
	"github.com/nicktill/geomag/pkg/storage/badger"
)

// Config holds server configuration.
type Config struct {
	MaxStorageGB int64
	MaxMemoryMB  int64
	DataDir      string
	Port         string
}

// LoadConfig loads configuration from environment variables, starting from
// the given data directory.
func LoadConfig(dataDir string) (Config, error) {
	if v := os.Getenv("GEOMAG_DATA_DIR"); v != "" {
		dataDir = v
	}
	if dataDir == "" {
		dataDir = config.DefaultDataDir()
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return Config{}, fmt.Errorf("failed to create data directory: %w", err)
	}
	return Config{
		MaxStorageGB: getEnvInt64("GEOMAG_MAX_STORAGE_GB", 0),
		MaxMemoryMB:  getEnvInt64("GEOMAG_MAX_MEMORY_MB", config.DefaultMaxMemoryMB),
		DataDir:      dataDir,
		Port:         getPort(),
	}, nil
}

// InitializeStorage opens the badger sample store under the data directory.
func InitializeStorage(cfg Config) (*badger.Storage, error) {
	store, err := badger.New(badger.Config{
		Path:        cfg.DataDir,
		MaxMemoryMB: cfg.MaxMemoryMB,
	})
	if err != nil {
		return nil, err
	}
	log.Info().Str("path", cfg.DataDir).Int64("max_memory_mb", cfg.MaxMemoryMB).Msg("badger storage opened")
	return store, nil
}

// InitializeMonitors creates the storage and update monitors.
func InitializeMonitors(cfg Config) (*monitor.StorageMonitor, *monitor.UpdateMonitor) {
	return monitor.NewStorageMonitor(cfg.DataDir, cfg.MaxStorageGB<<30), &monitor.UpdateMonitor{}
}

// NewHTTPServer builds the HTTP server for routes.
func NewHTTPServer(cfg Config, rt Routes) *http.Server {
	router := mux.NewRouter()
	rt.Port = cfg.Port
	SetupRoutes(router, rt)
	return &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: config.ReadHeaderTimeout,
		ReadTimeout:       config.RequestTimeout,
		WriteTimeout:      config.RequestTimeout,
	}
}

// getEnvInt64 gets an int64 from environment variable or returns default.
func getEnvInt64(key string, defaultValue int64) int64 {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.ParseInt(val, 10, 64); err == nil {
			return parsed
		}
		log.Warn().Str("key", key).Str("value", val).Int64("default", defaultValue).Msg("invalid integer, using default")
	}
	return defaultValue
}

// getPort gets the server port from PORT environment variable or returns default.
func getPort() string {
	if port := os.Getenv("PORT"); port != "" {
		return port
	}
	return config.DefaultPort
}
