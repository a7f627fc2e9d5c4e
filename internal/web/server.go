package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/creeping-vampires/neura-vaults-backend/internal/logger"
	"github.com/creeping-vampires/neura-vaults-backend/internal/metrics"
	"github.com/creeping-vampires/neura-vaults-backend/internal/state"
	"github.com/creeping-vampires/neura-vaults-backend/internal/types"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
)

var webLogger = logger.GetForComponent("web_server")

const (
	defaultRunLimit       = 20
	maxRunLimit           = 100
	defaultRebalanceLimit = 50
	maxRebalanceLimit     = 500
)

// Options wires the server to its read models. Runs and Rebalances are required.
type Options struct {
	Port       string
	Runs       RunReader
	Rebalances RebalanceReader
	Gatherer   prometheus.Gatherer
	// Health reports backing store health; nil means always healthy.
	Health func(ctx context.Context) error
	// MaxRunAge marks the service degraded when the latest run is older. Zero disables it.
	MaxRunAge time.Duration
}

// WebServer serves the read API for run results and rebalance records.
type WebServer struct {
	router     *mux.Router
	port       string
	runs       RunReader
	rebalances RebalanceReader
	health     func(ctx context.Context) error
	maxRunAge  time.Duration
	startedAt  time.Time
}

// NewWebServer creates a new web server instance
func NewWebServer(opts Options) *WebServer {
	if opts.Port == "" {
		opts.Port = "8080"
	}

	server := &WebServer{
		router:     mux.NewRouter(),
		port:       opts.Port,
		runs:       opts.Runs,
		rebalances: opts.Rebalances,
		health:     opts.Health,
		maxRunAge:  opts.MaxRunAge,
		startedAt:  time.Now().UTC(),
	}

	server.setupRoutes(opts.Gatherer)
	return server
}

// setupRoutes configures all HTTP routes
func (ws *WebServer) setupRoutes(gatherer prometheus.Gatherer) {
	ws.router.HandleFunc("/health", ws.handleHealth).Methods("GET")
	if gatherer != nil {
		ws.router.Handle("/metrics", metrics.Handler(gatherer)).Methods("GET")
	}

	// API endpoints. Fixed paths are registered before the {id} pattern.
	api := ws.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/health", ws.handleHealth).Methods("GET")
	api.HandleFunc("/runs", ws.handleGetRuns).Methods("GET")
	api.HandleFunc("/runs/latest", ws.handleGetLatestRun).Methods("GET")
	api.HandleFunc("/runs/summary", ws.handleGetRunSummary).Methods("GET")
	api.HandleFunc("/runs/{id}", ws.handleGetRun).Methods("GET")
	api.HandleFunc("/rebalances", ws.handleGetRebalances).Methods("GET")
	api.HandleFunc("/rebalances/stranded", ws.handleGetStranded).Methods("GET")

	ws.router.Use(ws.corsMiddleware)
	ws.router.Use(ws.loggingMiddleware)
}

// Handler exposes the router, mainly for tests.
func (ws *WebServer) Handler() http.Handler {
	return ws.router
}

// Start serves until ctx ends, then shuts down gracefully.
func (ws *WebServer) Start(ctx context.Context) error {
	webLogger.Info().Str("port", ws.port).Msg("Starting web server")

	server := &http.Server{
		Addr:         ":" + ws.port,
		Handler:      ws.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		webLogger.Info().Msg("Shutting down web server")
		return server.Shutdown(shutdownCtx)
	}
}

// handleHealth reports process, store and last-run health
func (ws *WebServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	hasErrors := false
	runInfo := map[string]interface{}{
		"cycle_number":    0,
		"last_run_time":   nil,
		"last_run_status": "unknown",
		"transactions":    0,
	}
	latest, err := ws.runs.LatestRun(r.Context())
	if err == nil && latest != nil {
		runInfo = map[string]interface{}{
			"cycle_number":    latest.CycleNumber,
			"last_run_time":   latest.StartedAt,
			"last_run_status": latest.Status,
			"transactions":    len(latest.Transactions),
			"errors":          len(latest.Errors),
		}
		if ws.maxRunAge > 0 && time.Since(latest.StartedAt) > ws.maxRunAge {
			hasErrors = true
		}
	} else {
		hasErrors = true
	}

	storeHealthy := true
	if ws.health != nil {
		if err := ws.health(r.Context()); err != nil {
			storeHealthy = false
			hasErrors = true
		}
	}

	overallStatus := "OK"
	if hasErrors {
		overallStatus = "DEGRADED"
	}

	response := map[string]interface{}{
		"status":    overallStatus,
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		"system": map[string]interface{}{
			"version":          runtime.Version(),
			"goroutines_count": runtime.NumGoroutine(),
			"alloc_bytes":      memStats.Alloc,
			"sys_bytes":        memStats.Sys,
			"gc_cycles":        memStats.NumGC,
			"uptime_seconds":   int64(time.Since(ws.startedAt).Seconds()),
		},
		"component": map[string]interface{}{
			"name":    "vault-orchestrator",
			"version": "1.0.0",
		},
		"orchestrator_status": map[string]interface{}{
			"store_healthy": storeHealthy,
			"run_info":      runInfo,
		},
	}

	statusCode := http.StatusOK
	if hasErrors {
		statusCode = http.StatusServiceUnavailable
	}
	ws.writeJSONResponse(w, statusCode, response)
}

// handleGetRuns returns the newest runs
func (ws *WebServer) handleGetRuns(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r, defaultRunLimit, maxRunLimit)

	runs, err := ws.runs.RecentRuns(r.Context(), limit)
	if err != nil {
		webLogger.Error().Err(err).Msg("Failed to get recent runs")
		ws.writeStoreError(w, err, "Failed to retrieve runs")
		return
	}

	ws.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"runs":  runs,
		"count": len(runs),
		"limit": limit,
	})
}

// handleGetRun returns a run by its run id
func (ws *WebServer) handleGetRun(w http.ResponseWriter, r *http.Request) {
	runID := mux.Vars(r)["id"]
	if runID == "" {
		ws.writeErrorResponse(w, http.StatusBadRequest, "Invalid run ID")
		return
	}

	run, err := ws.runs.RunByID(r.Context(), runID)
	if err != nil {
		webLogger.Error().Err(err).Str("runId", runID).Msg("Failed to get run")
		ws.writeStoreError(w, err, "Failed to retrieve run")
		return
	}
	ws.writeJSONResponse(w, http.StatusOK, run)
}

// handleGetLatestRun returns the most recent run
func (ws *WebServer) handleGetLatestRun(w http.ResponseWriter, r *http.Request) {
	run, err := ws.runs.LatestRun(r.Context())
	if err != nil {
		webLogger.Error().Err(err).Msg("Failed to get latest run")
		ws.writeStoreError(w, err, "Failed to retrieve latest run")
		return
	}
	ws.writeJSONResponse(w, http.StatusOK, run)
}

// handleGetRunSummary returns aggregate run statistics
func (ws *WebServer) handleGetRunSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := ws.runs.Summary(r.Context())
	if err != nil {
		webLogger.Error().Err(err).Msg("Failed to get run summary")
		ws.writeStoreError(w, err, "Failed to retrieve run summary")
		return
	}
	ws.writeJSONResponse(w, http.StatusOK, summary)
}

// handleGetRebalances lists rebalance legs, optionally filtered by ?status=
func (ws *WebServer) handleGetRebalances(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	if status != "" && !validRebalanceStatus(status) {
		ws.writeErrorResponse(w, http.StatusBadRequest, "Invalid rebalance status")
		return
	}
	limit := parseLimit(r, defaultRebalanceLimit, maxRebalanceLimit)

	records, err := ws.rebalances.ListRebalanceRecords(r.Context(), status, limit)
	if err != nil {
		webLogger.Error().Err(err).Str("status", status).Msg("Failed to list rebalance records")
		ws.writeStoreError(w, err, "Failed to retrieve rebalance records")
		return
	}

	ws.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"rebalances": records,
		"count":      len(records),
		"status":     status,
		"limit":      limit,
	})
}

// handleGetStranded lists rebalances whose withdrawal completed but whose deposit failed
func (ws *WebServer) handleGetStranded(w http.ResponseWriter, r *http.Request) {
	units, err := ws.rebalances.StrandedUnits(r.Context())
	if err != nil {
		webLogger.Error().Err(err).Msg("Failed to get stranded rebalances")
		ws.writeStoreError(w, err, "Failed to retrieve stranded rebalances")
		return
	}
	if units == nil {
		units = []types.StrandedUnit{}
	}
	ws.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"stranded": units,
		"count":    len(units),
	})
}

func parseLimit(r *http.Request, fallback, upper int) int {
	limit := fallback
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if parsed, err := strconv.Atoi(limitStr); err == nil && parsed > 0 && parsed <= upper {
			limit = parsed
		}
	}
	return limit
}

func validRebalanceStatus(status string) bool {
	switch types.RebalanceStatus(status) {
	case types.RebalancePending, types.RebalanceCompleted, types.RebalanceFailed, types.RebalanceUnknown:
		return true
	}
	return false
}

// writeStoreError maps store errors onto status codes.
func (ws *WebServer) writeStoreError(w http.ResponseWriter, err error, message string) {
	switch {
	case errors.Is(err, state.ErrRunNotFound):
		ws.writeErrorResponse(w, http.StatusNotFound, "Run not found")
	case errors.Is(err, state.ErrDBNotInitialized):
		ws.writeErrorResponse(w, http.StatusServiceUnavailable, "Store unavailable")
	default:
		ws.writeErrorResponse(w, http.StatusInternalServerError, message)
	}
}

// writeJSONResponse writes a JSON response
func (ws *WebServer) writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		webLogger.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// writeErrorResponse writes an error response
func (ws *WebServer) writeErrorResponse(w http.ResponseWriter, statusCode int, message string) {
	response := map[string]interface{}{
		"error":     true,
		"message":   message,
		"timestamp": time.Now().UTC(),
	}

	ws.writeJSONResponse(w, statusCode, response)
}

// corsMiddleware adds CORS headers
func (ws *WebServer) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// loggingMiddleware logs HTTP requests
func (ws *WebServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapper := &responseWriterWrapper{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapper, r)

		webLogger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("remote_addr", r.RemoteAddr).
			Int("status", wrapper.statusCode).
			Dur("duration", time.Since(start)).
			Msg("HTTP request")
	})
}

// responseWriterWrapper wraps http.ResponseWriter to capture status code
type responseWriterWrapper struct {
	http.ResponseWriter
	statusCode int
}

func (w *responseWriterWrapper) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}
