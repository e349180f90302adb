package controlplane

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/fentz26/regent/internal/models"
)

// Version is set at build time via -ldflags.
var Version = "0.1.0"

// Server provides the HTTP API for Regent.
type Server struct {
	service *Service
	addr    string
	server  *http.Server
}

// NewServer creates a new HTTP server.
func NewServer(service *Service, addr string) *Server {
	return &Server{
		service: service,
		addr:    addr,
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	mux := http.NewServeMux()

	mux.HandleFunc("/query", s.handleQuery)
	mux.HandleFunc("/tasks", s.handleTasks)
	mux.HandleFunc("/tasks/", s.handleTaskByID)
	mux.HandleFunc("/health", s.handleHealth)

	s.server = &http.Server{
		Addr:        s.addr,
		Handler:     mux,
		ReadTimeout: 10 * time.Second,
		// No write timeout: a synchronous /query holds the response open
		// for as long as the job runs.
	}

	log.Printf("Starting Regent daemon on %s", s.addr)
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// --- Query Handlers ---

type queryRequest struct {
	Query          string `json:"query"`
	MaxIterations  int    `json:"max_iterations"`
	AsyncExecution bool   `json:"async_execution"`
}

type queryResponse struct {
	TaskID        string  `json:"task_id"`
	Status        string  `json:"status"`
	Response      string  `json:"response,omitempty"`
	Error         string  `json:"error,omitempty"`
	Iterations    int     `json:"iterations"`
	ExecutionTime float64 `json:"execution_time"`
}

// handleQuery handles POST /query: synchronous execution answers with the
// finished job, async answers 202 with the pending record.
func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	job, elapsed, err := s.service.SubmitQuery(req.Query, req.AsyncExecution, req.MaxIterations)
	if err != nil {
		if err == ErrEmptyQuery {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if req.AsyncExecution {
		writeJSON(w, http.StatusAccepted, queryResponse{
			TaskID: job.ID,
			Status: string(job.Status),
		})
		return
	}

	writeJSON(w, http.StatusOK, queryResponse{
		TaskID:        job.ID,
		Status:        string(job.Status),
		Response:      job.Result,
		Error:         job.Error,
		Iterations:    job.Iterations,
		ExecutionTime: elapsed.Seconds(),
	})
}

// --- Task Handlers ---

type listResponse struct {
	Jobs  []models.Job `json:"jobs"`
	Count int          `json:"count"`
}

// handleTasks handles GET /tasks.
func (s *Server) handleTasks(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	q := r.URL.Query()
	limit, err := intParam(q.Get("limit"), 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid limit")
		return
	}
	offset, err := intParam(q.Get("offset"), 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid offset")
		return
	}

	jobs, err := s.service.ListJobs(q.Get("status"), limit, offset)
	if err != nil {
		if err == ErrBadStatus {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if jobs == nil {
		jobs = []models.Job{}
	}
	writeJSON(w, http.StatusOK, listResponse{Jobs: jobs, Count: len(jobs)})
}

// handleTaskByID handles GET and DELETE on /tasks/{id}.
func (s *Server) handleTaskByID(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/tasks/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, http.StatusBadRequest, "task id required")
		return
	}

	switch r.Method {
	case http.MethodGet:
		s.getTask(w, id)
	case http.MethodDelete:
		s.deleteTask(w, id)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) getTask(w http.ResponseWriter, id string) {
	job, err := s.service.GetJob(id)
	if err != nil {
		if err == ErrNotFound {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) deleteTask(w http.ResponseWriter, id string) {
	outcome, err := s.service.DeleteJob(id)
	if err != nil {
		if err == ErrNotFound {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": outcome})
}

// --- Health ---

// HealthResponse is the /health payload.
type HealthResponse struct {
	OK         bool   `json:"ok"`
	DB         string `json:"db"`
	Version    string `json:"version"`
	ActiveJobs int    `json:"active_jobs"`
	Time       string `json:"time"`
}

// handleHealth handles GET /health. Degraded storage answers 503 so load
// balancers and the CLI can tell a live daemon from a healthy one.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	health := HealthResponse{
		OK:      true,
		DB:      "ok",
		Version: Version,
		Time:    time.Now().UTC().Format(time.RFC3339),
	}

	if err := s.service.Ping(ctx); err != nil {
		health.OK = false
		health.DB = err.Error()
	} else if n, err := s.service.ActiveJobs(); err != nil {
		health.OK = false
		health.DB = err.Error()
	} else {
		health.ActiveJobs = n
	}

	status := http.StatusOK
	if !health.OK {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, health)
}

// --- Helpers ---

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[controlplane] encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func intParam(raw string, def int) (int, error) {
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}
