package main

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	metricRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "star_etl",
		Name:      "runs_total",
		Help:      "Total pipeline runs by terminal status",
	}, []string{"status"})

	metricRowsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "star_etl",
		Name:      "rows_total",
		Help:      "Total rows counted per pipeline stage",
	}, []string{"stage"})

	metricRunDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "star_etl",
		Name:      "run_duration_seconds",
		Help:      "Wall-clock duration of completed pipeline runs",
		Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
	})

	metricLastSuccess = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "star_etl",
		Name:      "last_success_timestamp_seconds",
		Help:      "Unix time of the last successful run",
	})
)

// observeRun records a completed run's outcome in the process metrics
func observeRun(r RunReport) {
	metricRunsTotal.WithLabelValues(string(r.State)).Inc()
	metricRowsTotal.WithLabelValues("extracted").Add(float64(r.Counts.Extracted))
	metricRowsTotal.WithLabelValues("transformed").Add(float64(r.Counts.Transformed))
	metricRowsTotal.WithLabelValues("loaded").Add(float64(r.Counts.Loaded))
	metricRowsTotal.WithLabelValues("rejected").Add(float64(r.Counts.Rejected))
	metricRunDuration.Observe(r.Duration.Seconds())
	if r.State == StateSucceeded {
		metricLastSuccess.SetToCurrentTime()
	}
}

// HealthServer provides health and metrics endpoints for daemon mode
type HealthServer struct {
	mu        sync.RWMutex
	port      int
	startTime time.Time
	lastRun   *RunReport
	server    *http.Server
}

// HealthResponse is the JSON response for /health
type HealthResponse struct {
	Status          string `json:"status"`
	Uptime          string `json:"uptime"`
	LastRunID       int64  `json:"last_run_id,omitempty"`
	LastRunState    string `json:"last_run_state,omitempty"`
	LastRunDuration string `json:"last_run_duration,omitempty"`
	RowsExtracted   int64  `json:"rows_extracted"`
	RowsLoaded      int64  `json:"rows_loaded"`
	RowsRejected    int64  `json:"rows_rejected"`
	LastError       string `json:"last_error,omitempty"`
}

// NewHealthServer creates a new health server
func NewHealthServer(port int) *HealthServer {
	return &HealthServer{
		port:      port,
		startTime: time.Now(),
	}
}

// RecordRun publishes a completed run for the health endpoint
func (hs *HealthServer) RecordRun(report RunReport) {
	hs.mu.Lock()
	defer hs.mu.Unlock()
	hs.lastRun = &report
}

// Start starts the health HTTP server
func (hs *HealthServer) Start() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", hs.handleHealth)
	mux.HandleFunc("/ready", hs.handleReady)
	mux.HandleFunc("/live", hs.handleReady)
	mux.Handle("/metrics", promhttp.Handler())

	hs.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", hs.port),
		Handler: mux,
	}

	log.Printf("Health server listening on :%d", hs.port)

	go func() {
		if err := hs.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("Health server error: %v", err)
		}
	}()

	return nil
}

// Stop gracefully stops the health server
func (hs *HealthServer) Stop() error {
	if hs.server != nil {
		return hs.server.Close()
	}
	return nil
}

// handleHealth handles the /health endpoint
func (hs *HealthServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	hs.mu.RLock()
	last := hs.lastRun
	hs.mu.RUnlock()

	resp := HealthResponse{
		Status: "healthy",
		Uptime: time.Since(hs.startTime).String(),
	}
	if last != nil {
		resp.LastRunID = last.RunID
		resp.LastRunState = string(last.State)
		resp.LastRunDuration = last.Duration.String()
		resp.RowsExtracted = last.Counts.Extracted
		resp.RowsLoaded = last.Counts.Loaded
		resp.RowsRejected = last.Counts.Rejected
		if last.Err != nil {
			resp.LastError = last.Err.Error()
		}
		if last.State == StateFailed {
			resp.Status = "degraded"
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		log.Printf("Error encoding health response: %v", err)
	}
}

// handleReady handles the /ready and /live endpoints
func (hs *HealthServer) handleReady(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, "OK")
}
