// Package server exposes a storage.Source over HTTP in the timeseries wire
// format, with health, storage and Prometheus endpoints, and runs the
// background tasks of a long-lived process.
package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/nicktill/geomag/pkg/config"
	"github.com/nicktill/geomag/pkg/httpx"
	"github.com/nicktill/geomag/pkg/log"
	"github.com/nicktill/geomag/pkg/server/monitor"
	"github.com/nicktill/geomag/pkg/storage"
)

var startTime = time.Now()

// Version is reported by the health endpoint.
var Version = "dev"

// StorageChecker rejects writes when the local store is full.
type StorageChecker interface {
	CheckLimit() error
}

// Handler serves the timeseries endpoint over a data source.
type Handler struct {
	src       storage.Source
	checker   StorageChecker
	maxWindow time.Duration
}

// NewHandler creates a handler over src.
func NewHandler(src storage.Source) *Handler {
	return &Handler{src: src, maxWindow: config.MaxRequestWindow}
}

// SetStorageChecker enables storage limit enforcement on writes.
func (h *Handler) SetStorageChecker(c StorageChecker) {
	h.checker = c
}

// PutResponse is the response of a timeseries POST.
type PutResponse struct {
	Status   string `json:"status"`
	Channels int    `json:"channels"`
	Samples  int    `json:"samples"`
}

// HandleGet returns the requested channels padded to the requested window.
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	start, end, sel, channels, err := storage.DecodeQuery(r.URL.Query())
	if err != nil {
		httpx.RespondDomainError(w, err)
		return
	}
	if err := ValidateWindow(start, end, sel.Period, channels, h.maxWindow); err != nil {
		httpx.RespondDomainError(w, err)
		return
	}

	ts, err := h.src.Get(r.Context(), start, end, sel, channels)
	if err != nil {
		log.Get(r.Context()).Error().Err(err).Str("observatory", sel.Observatory).Msg("get failed")
		httpx.RespondDomainError(w, err)
		return
	}
	httpx.RespondJSON(w, http.StatusOK, storage.Encode(ts, sel, channels))
}

// HandlePut writes the valid samples of the posted channels.
func (h *Handler) HandlePut(w http.ResponseWriter, r *http.Request) {
	if h.checker != nil {
		if err := h.checker.CheckLimit(); err != nil {
			httpx.RespondError(w, http.StatusInsufficientStorage, err)
			return
		}
	}

	r.Body = http.MaxBytesReader(w, r.Body, config.MaxRequestBodyMB<<20)
	var body storage.WireSeries
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		httpx.RespondErrorString(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if err := ValidateSeries(body); err != nil {
		httpx.RespondDomainError(w, err)
		return
	}
	ts, sel, err := storage.Decode(body)
	if err != nil {
		httpx.RespondDomainError(w, err)
		return
	}

	if err := h.src.Put(r.Context(), ts, sel, nil); err != nil {
		log.Get(r.Context()).Error().Err(err).Str("observatory", sel.Observatory).Msg("put failed")
		httpx.RespondDomainError(w, err)
		return
	}

	samples := 0
	for _, c := range ts.Channels() {
		samples += c.ValidCount()
	}
	httpx.RespondJSON(w, http.StatusOK, PutResponse{Status: "success", Channels: ts.Len(), Samples: samples})
}

// StorageUsage represents current storage usage stats.
type StorageUsage struct {
	UsedBytes int64 `json:"used_bytes"`
	MaxBytes  int64 `json:"max_bytes"`
}

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status  string                `json:"status"`
	Version string                `json:"version"`
	Uptime  string                `json:"uptime"`
	Updates *monitor.UpdateStatus `json:"updates,omitempty"`
}

// handleHealth reports degraded while a scheduled update job is failing.
func handleHealth(updates *monitor.UpdateMonitor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		response := HealthResponse{
			Status:  "healthy",
			Version: Version,
			Uptime:  time.Since(startTime).Round(time.Second).String(),
		}
		statusCode := http.StatusOK
		if updates != nil {
			status := updates.Status()
			response.Updates = &status
			if !status.Healthy {
				response.Status = "degraded"
				statusCode = http.StatusServiceUnavailable
			}
		}
		httpx.RespondJSON(w, statusCode, response)
	}
}

// handleStorageUsage returns current storage usage.
func handleStorageUsage(monitor *monitor.StorageMonitor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		usedBytes, err := monitor.GetUsage()
		if err != nil {
			httpx.RespondError(w, http.StatusInternalServerError, err)
			return
		}
		httpx.RespondJSON(w, http.StatusOK, StorageUsage{
			UsedBytes: usedBytes,
			MaxBytes:  monitor.GetLimit(),
		})
	}
}

// Routes bundles what SetupRoutes mounts. A nil Handler or monitor drops its
// endpoints or health details.
type Routes struct {
	Handler *Handler
	Storage *monitor.StorageMonitor
	Updates *monitor.UpdateMonitor
	Port    string
	Logger  *zerolog.Logger
}

// SetupRoutes configures all HTTP routes for the server.
func SetupRoutes(router *mux.Router, rt Routes) {
	router.Use(Middleware)
	if rt.Logger != nil {
		router.Use(withLogger(rt.Logger))
	}
	router.Use(corsMiddleware(rt.Port))

	api := router.PathPrefix("/v1").Subrouter()
	if rt.Handler != nil {
		api.HandleFunc("/timeseries", rt.Handler.HandleGet).Methods("GET")
		api.HandleFunc("/timeseries", rt.Handler.HandlePut).Methods("POST")
	}
	api.HandleFunc("/health", handleHealth(rt.Updates)).Methods("GET")
	if rt.Storage != nil {
		api.HandleFunc("/storage", handleStorageUsage(rt.Storage)).Methods("GET")
	}

	router.Handle("/metrics", promhttp.Handler()).Methods("GET")
}

// corsMiddleware creates CORS middleware that restricts to localhost origins only.
func corsMiddleware(port string) func(http.Handler) http.Handler {
	allowedOrigins := map[string]bool{
		"http://localhost:" + port: true,
		"http://127.0.0.1:" + port: true,
		"http://localhost:3000":    true,
		"http://127.0.0.1:3000":    true,
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if origin := r.Header.Get("Origin"); allowedOrigins[origin] {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
				w.Header().Set("Access-Control-Allow-Credentials", "true")
			}
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
