package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/psantana5/whisperq/pkg/auth"
	"github.com/psantana5/whisperq/pkg/logging"
	"github.com/psantana5/whisperq/pkg/models"
	"github.com/psantana5/whisperq/pkg/ratelimit"
	"github.com/psantana5/whisperq/pkg/resources"
	"github.com/psantana5/whisperq/pkg/tracing"
)

const maxRunBodyBytes = 1 << 20

// RunEnvelope is the body accepted by POST /run
type RunEnvelope struct {
	ID    string                      `json:"id,omitempty"`
	Input models.TranscriptionRequest `json:"input"`
}

// RunResponse wraps a pipeline result
type RunResponse struct {
	ID     string                     `json:"id,omitempty"`
	Output models.TranscriptionResult `json:"output"`
}

// ServerConfig configures the worker host HTTP surface
type ServerConfig struct {
	// Binaries that must be on PATH (or exist) for /ready to pass
	Binaries []string
	// ModelPath must exist for /ready to pass when set
	ModelPath string
	// WorkDir is where disk usage is checked
	WorkDir string
	// MaxDiskUsedPercent above which the host reports not ready
	MaxDiskUsedPercent float64
	// RequestsPerSecond limits /run per client IP; <= 0 disables
	RequestsPerSecond float64
	Burst             int
	// Keys required as a bearer token on /run; nil or empty leaves it open
	Keys *auth.KeySet
}

// Server exposes a Pipeline over HTTP. Runs are serialized: the pipeline
// assumes exclusive use of the GPU.
type Server struct {
	pipeline *Pipeline
	cfg      ServerConfig
	logger   *logging.Logger
	registry *prometheus.Registry
	tracing  *tracing.Provider
	slot     chan struct{}
}

// NewServer creates a worker host. registry is served on /metrics.
func NewServer(p *Pipeline, cfg ServerConfig, registry *prometheus.Registry, logger *logging.Logger, tp *tracing.Provider) *Server {
	if logger == nil {
		logger = logging.Discard()
	}
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	if cfg.MaxDiskUsedPercent <= 0 {
		cfg.MaxDiskUsedPercent = 90
	}
	if cfg.WorkDir == "" {
		cfg.WorkDir = os.TempDir()
	}
	return &Server{
		pipeline: p,
		cfg:      cfg,
		logger:   logger,
		registry: registry,
		tracing:  tp,
		slot:     make(chan struct{}, 1),
	}
}

// Router builds the HTTP routes
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	if s.tracing != nil {
		r.Use(tracing.HTTPMiddleware(s.tracing))
	}

	run := s.cfg.Keys.Middleware(http.HandlerFunc(s.handleRun))
	if s.cfg.RequestsPerSecond > 0 {
		limiter := ratelimit.NewLimiter(s.cfg.RequestsPerSecond, s.cfg.Burst)
		run = limiter.Middleware(ratelimit.IPKeyFunc)(run)
	}
	r.Handle("/run", run).Methods("POST")
	r.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})).Methods("GET")
	r.HandleFunc("/health", s.handleHealth).Methods("GET")
	r.HandleFunc("/ready", s.handleReady).Methods("GET")
	return r
}

// RunOnce executes a single request while holding the run slot
func (s *Server) RunOnce(ctx context.Context, req models.TranscriptionRequest) (models.TranscriptionResult, error) {
	select {
	case s.slot <- struct{}{}:
	case <-ctx.Done():
		return models.TranscriptionResult{}, ctx.Err()
	}
	defer func() { <-s.slot }()
	return s.pipeline.Run(ctx, req), nil
}

// Idle reports whether no request is running
func (s *Server) Idle() bool {
	return len(s.slot) == 0
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRunBodyBytes+1))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "failed to read request body"})
		return
	}
	if len(body) > maxRunBodyBytes {
		writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "request body too large"})
		return
	}

	var env RunEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": fmt.Sprintf("invalid request: %v", err)})
		return
	}

	s.logger.Info("Run accepted", map[string]interface{}{
		"job_id": env.Input.JobID,
		"source": env.Input.Source,
	})

	// Pipeline failures are reported inside the output with HTTP 200; the
	// queue service treats the handler as having completed.
	result, err := s.RunOnce(r.Context(), env.Input)
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, RunResponse{ID: env.ID, Output: result})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "healthy",
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ready := true
	checks := make(map[string]string)

	for _, bin := range s.cfg.Binaries {
		if _, err := exec.LookPath(bin); err != nil {
			checks[bin] = "not_found"
			ready = false
		} else {
			checks[bin] = "available"
		}
	}

	if s.cfg.ModelPath != "" {
		if _, err := os.Stat(s.cfg.ModelPath); err != nil {
			checks["model"] = "missing"
			ready = false
		} else {
			checks["model"] = "available"
		}
	}

	diskInfo, err := resources.CheckDiskSpace(s.cfg.WorkDir)
	if err != nil {
		checks["disk_space"] = fmt.Sprintf("error: %v", err)
		ready = false
	} else if diskInfo.UsedPercent > s.cfg.MaxDiskUsedPercent {
		checks["disk_space"] = fmt.Sprintf("low: %.1f%% used", diskInfo.UsedPercent)
		ready = false
	} else {
		checks["disk_space"] = fmt.Sprintf("ok: %.1f%% used, %d MB available", diskInfo.UsedPercent, diskInfo.AvailableMB)
	}

	if memInfo, err := resources.CheckMemory(); err == nil {
		checks["memory"] = fmt.Sprintf("%d MB available", memInfo.AvailableMB)
	}

	checks["pipeline"] = "busy"
	if s.Idle() {
		checks["pipeline"] = "idle"
	}

	status, code := "ready", http.StatusOK
	if !ready {
		status, code = "not_ready", http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]interface{}{
		"status":    status,
		"checks":    checks,
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
