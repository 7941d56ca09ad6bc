package controlplane

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/MaiM-with-u/MaiLuncher/internal/models"
	"go.uber.org/zap"
)

// Version is reported by /health. It is set at build time.
var Version = "dev"

// Server provides the HTTP API for the launcher.
type Server struct {
	service *Service
	addr    string
	server  *http.Server
	log     *zap.Logger
}

// NewServer creates a new HTTP server.
func NewServer(service *Service, addr string, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{
		service: service,
		addr:    addr,
		log:     log,
	}
}

// Handler returns the API routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Process endpoints
	mux.HandleFunc("/processes", s.handleProcesses)
	mux.HandleFunc("/processes/", s.handleProcessByID)

	// UI hooks
	mux.HandleFunc("/ui/", s.handleUI)

	// Health check
	mux.HandleFunc("/health", s.handleHealth)

	return mux
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	s.log.Info("api listening", zap.String("addr", s.addr))
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// HealthResponse is the /health payload.
type HealthResponse struct {
	OK      bool   `json:"ok"`
	DB      string `json:"db"`
	Version string `json:"version"`
	Time    string `json:"time"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
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
	status := http.StatusOK
	if err := s.service.Ping(ctx); err != nil {
		health.OK = false
		health.DB = err.Error()
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, health)
}

// handleProcesses handles GET /processes
func (s *Server) handleProcesses(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	infos := s.service.List()
	if infos == nil {
		infos = []models.ProcessInfo{}
	}
	writeJSON(w, http.StatusOK, infos)
}

// handleProcessByID handles /processes/{id}/*
func (s *Server) handleProcessByID(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/processes/")
	parts := strings.Split(path, "/")

	if len(parts) == 0 || parts[0] == "" {
		http.Error(w, "process id required", http.StatusBadRequest)
		return
	}

	id := parts[0]
	action := ""
	if len(parts) > 1 {
		action = parts[1]
	}

	switch {
	case action == "" && r.Method == http.MethodGet:
		s.getProcess(w, id)
	case action == "" && r.Method == http.MethodDelete:
		s.removeProcess(w, id)
	case action == "start" && r.Method == http.MethodPost:
		s.startProcess(w, r, id)
	case action == "stop" && r.Method == http.MethodPost:
		s.lifecycle(w, id, s.service.Stop)
	case action == "restart" && r.Method == http.MethodPost:
		s.lifecycle(w, id, s.service.Restart)
	case action == "logs" && r.Method == http.MethodGet:
		s.getLogs(w, r, id)
	case action == "runs" && r.Method == http.MethodGet:
		s.getRuns(w, r, id)
	default:
		http.Error(w, "not found", http.StatusNotFound)
	}
}

// ActionResponse is returned by start, stop and restart.
type ActionResponse struct {
	Message string             `json:"message"`
	Process models.ProcessInfo `json:"process"`
}

// StartRequest is the optional body of POST /processes/{id}/start.
type StartRequest struct {
	Script      string `json:"script,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
}

func (s *Server) getProcess(w http.ResponseWriter, id string) {
	info, err := s.service.Get(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) removeProcess(w http.ResponseWriter, id string) {
	if err := s.service.Remove(id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "removed"})
}

func (s *Server) startProcess(w http.ResponseWriter, r *http.Request, id string) {
	var req StartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	s.lifecycle(w, id, func(id string) (string, error) {
		return s.service.Start(id, req.Script, req.DisplayName)
	})
}

func (s *Server) lifecycle(w http.ResponseWriter, id string, op func(string) (string, error)) {
	msg, err := op(id)
	if err != nil {
		writeError(w, err)
		return
	}
	info, _ := s.service.Get(id)
	writeJSON(w, http.StatusOK, ActionResponse{Message: msg, Process: info})
}

func (s *Server) getLogs(w http.ResponseWriter, r *http.Request, id string) {
	q := r.URL.Query()
	after, err := queryInt(q.Get("after"))
	if err != nil {
		http.Error(w, "invalid after", http.StatusBadRequest)
		return
	}
	tail, err := queryInt(q.Get("tail"))
	if err != nil {
		http.Error(w, "invalid tail", http.StatusBadRequest)
		return
	}

	logs, err := s.service.Logs(id, uint64(after), tail)
	if err != nil {
		writeError(w, err)
		return
	}
	if logs == nil {
		logs = []models.LogEntry{}
	}
	writeJSON(w, http.StatusOK, logs)
}

func (s *Server) getRuns(w http.ResponseWriter, r *http.Request, id string) {
	limit, err := queryInt(r.URL.Query().Get("limit"))
	if err != nil {
		http.Error(w, "invalid limit", http.StatusBadRequest)
		return
	}
	runs, err := s.service.Runs(id, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	if runs == nil {
		runs = []models.Run{}
	}
	writeJSON(w, http.StatusOK, runs)
}

// handleUI handles POST /ui/disconnect and POST /ui/connect
func (s *Server) handleUI(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	switch strings.TrimPrefix(r.URL.Path, "/ui/") {
	case "disconnect":
		s.service.UIDisconnect()
		writeJSON(w, http.StatusOK, map[string]string{"status": "disconnected"})
	case "connect":
		cancelled := s.service.UIConnect()
		writeJSON(w, http.StatusOK, map[string]bool{"cancelled_stop": cancelled})
	default:
		http.Error(w, "not found", http.StatusNotFound)
	}
}

func queryInt(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, ErrBadRequest
	}
	return n, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), map[string]string{"error": err.Error()})
}
