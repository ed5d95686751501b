package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/portwatch/portwatch/internal/alerter"
	"github.com/portwatch/portwatch/internal/scheduler"
	"github.com/portwatch/portwatch/internal/store"
	"github.com/portwatch/portwatch/internal/types"
	"github.com/portwatch/portwatch/internal/uptime"
	"github.com/portwatch/portwatch/internal/version"
	"github.com/portwatch/portwatch/internal/webui"
	"github.com/rs/zerolog"
)

// Server provides the HTTP API and the live update websocket
type Server struct {
	store     *store.Store
	engine    *alerter.Engine
	uptime    *uptime.Calculator
	scheduler *scheduler.Scheduler
	hub       *Hub
	logger    zerolog.Logger
	port      string
	startTime time.Time

	logBuffer    *webui.LogBuffer
	uptimeWindow time.Duration
	version      version.Info
	mu           sync.RWMutex
}

// NewServer creates a new API server
func NewServer(st *store.Store, engine *alerter.Engine, calc *uptime.Calculator, sched *scheduler.Scheduler, hub *Hub, logger zerolog.Logger, port string) *Server {
	return &Server{
		store:        st,
		engine:       engine,
		uptime:       calc,
		scheduler:    sched,
		hub:          hub,
		logger:       logger.With().Str("component", "api").Logger(),
		port:         port,
		startTime:    time.Now(),
		uptimeWindow: uptime.DefaultWindow,
		version:      version.Get(),
	}
}

// SetLogBuffer sets the buffer served by /api/logs
func (s *Server) SetLogBuffer(lb *webui.LogBuffer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logBuffer = lb
}

// SetUptimeWindow sets the default window of uptime reports
func (s *Server) SetUptimeWindow(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d > 0 {
		s.uptimeWindow = d
	}
}

// SetVersion sets the version information
func (s *Server) SetVersion(info version.Info) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.version = info
}

// Handler returns the routed handler
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/api/endpoints", s.handleEndpoints)
	mux.HandleFunc("/api/endpoints/", s.handleEndpointDetail)
	mux.HandleFunc("/api/check", s.handleCheck)
	mux.HandleFunc("/api/interval", s.handleInterval)
	mux.HandleFunc("/api/alerts", s.handleAlerts)
	mux.HandleFunc("/api/public", s.handlePublic)
	mux.HandleFunc("/api/logs", s.handleLogs)
	if s.hub != nil {
		mux.HandleFunc("/api/ws", s.hub.ServeWS)
	}

	return mux
}

// Start serves until ctx is done, then shuts down gracefully
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              ":" + s.port,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().
			Str("address", srv.Addr).
			Msg("Starting API server")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) internalError(w http.ResponseWriter, r *http.Request, err error) {
	s.logger.Error().
		Err(err).
		Str("method", r.Method).
		Str("path", r.URL.Path).
		Msg("Request failed")
	writeError(w, http.StatusInternalServerError, "internal error")
}

// handleHealth returns service health status
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// handleStatus returns current state summary
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	info := s.version
	s.mu.RUnlock()

	status := map[string]interface{}{
		"active_alerts":  len(s.engine.GetActiveAlerts()),
		"time":           time.Now().UTC().Format(time.RFC3339),
		"uptime":         time.Since(s.startTime).String(),
		"check_interval": s.scheduler.Interval().String(),
		"version":        info.Version,
		"commit":         info.Commit,
		"build_date":     info.BuildDate,
	}
	if s.hub != nil {
		status["ws_clients"] = s.hub.ClientCount()
	}
	if last, ok := s.scheduler.LastReport(); ok {
		status["last_cycle"] = map[string]interface{}{
			"id":        last.ID,
			"ad_hoc":    last.AdHoc,
			"started":   last.StartedAt.Format(time.RFC3339),
			"endpoints": len(last.Results),
			"failed":    last.Failed(),
		}
	}

	last, ok, err := s.store.LastUpdateTime(r.Context())
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	if ok {
		status["last_update"] = last.Format(time.RFC3339)
	}

	writeJSON(w, http.StatusOK, status)
}

type addEndpointRequest struct {
	Name string `json:"name"`
	Host string `json:"host"`
	Port int    `json:"port"`
}

// handleEndpoints lists or registers endpoints
func (s *Server) handleEndpoints(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		endpoints, err := s.store.ListWithStatus(r.Context())
		if err != nil {
			s.internalError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"endpoints": endpoints,
			"count":     len(endpoints),
		})

	case http.MethodPost:
		var req addEndpointRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		ep, err := s.store.AddEndpoint(r.Context(), req.Name, req.Host, req.Port)
		switch {
		case errors.Is(err, store.ErrDuplicateEndpoint):
			writeError(w, http.StatusConflict, err.Error())
		case errors.Is(err, store.ErrInvalidEndpoint):
			writeError(w, http.StatusBadRequest, err.Error())
		case err != nil:
			s.internalError(w, r, err)
		default:
			writeJSON(w, http.StatusCreated, ep)
		}

	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// handleEndpointDetail routes /api/endpoints/{name} and /api/endpoints/{id}/...
func (s *Server) handleEndpointDetail(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/endpoints/"), "/")
	parts := strings.Split(path, "/")
	if path == "" || len(parts) > 2 {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	key := parts[0]
	action := ""
	if len(parts) == 2 {
		action = parts[1]
	}

	switch {
	case action == "" && r.Method == http.MethodDelete:
		s.removeEndpoint(w, r, key)
	case (action == "publish" || action == "hide") && r.Method == http.MethodPost:
		s.setPublic(w, r, key, action == "publish")
	case action == "status" && r.Method == http.MethodGet:
		s.endpointStatus(w, r, key)
	case action == "uptime" && r.Method == http.MethodGet:
		s.endpointUptime(w, r, key)
	case action == "" || action == "publish" || action == "hide" || action == "status" || action == "uptime":
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

func (s *Server) removeEndpoint(w http.ResponseWriter, r *http.Request, name string) {
	ep, err := s.store.RemoveEndpoint(r.Context(), name)
	if errors.Is(err, store.ErrEndpointNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	s.engine.Forget(ep.ID)
	writeJSON(w, http.StatusOK, map[string]interface{}{"removed": ep})
}

func (s *Server) setPublic(w http.ResponseWriter, r *http.Request, name string, public bool) {
	err := s.store.SetPublic(r.Context(), name, public)
	if errors.Is(err, store.ErrEndpointNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"name": name, "public": public})
}

// lookup resolves a numeric endpoint id from the path
func (s *Server) lookup(w http.ResponseWriter, r *http.Request, key string) (types.Endpoint, bool) {
	id, err := strconv.ParseUint(key, 10, 32)
	if err != nil {
		writeError(w, http.StatusBadRequest, "endpoint id must be numeric")
		return types.Endpoint{}, false
	}
	ep, err := s.store.GetEndpoint(r.Context(), uint(id))
	if errors.Is(err, store.ErrEndpointNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return types.Endpoint{}, false
	}
	if err != nil {
		s.internalError(w, r, err)
		return types.Endpoint{}, false
	}
	return ep, true
}

func (s *Server) endpointStatus(w http.ResponseWriter, r *http.Request, key string) {
	ep, ok := s.lookup(w, r, key)
	if !ok {
		return
	}
	status, err := s.store.GetStatus(r.Context(), ep.ID)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	state, _ := s.engine.Snapshot(ep.ID)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"endpoint": ep,
		"status":   status,
		"alert":    state,
		"phase":    state.Phase(),
	})
}

func (s *Server) endpointUptime(w http.ResponseWriter, r *http.Request, key string) {
	window, ok := s.window(w, r)
	if !ok {
		return
	}
	ep, ok := s.lookup(w, r, key)
	if !ok {
		return
	}
	report, err := s.uptime.Report(r.Context(), ep, window)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// window parses ?window=, falling back to the configured default
func (s *Server) window(w http.ResponseWriter, r *http.Request) (time.Duration, bool) {
	s.mu.RLock()
	window := s.uptimeWindow
	s.mu.RUnlock()

	raw := r.URL.Query().Get("window")
	if raw == "" {
		return window, true
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		writeError(w, http.StatusBadRequest, "window must be a positive duration such as 24h")
		return 0, false
	}
	return d, true
}

// handleCheck runs an ad-hoc sweep over all endpoints
func (s *Server) handleCheck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	endpoints, err := s.store.ListEndpoints(r.Context())
	if err != nil {
		s.internalError(w, r, err)
		return
	}

	report := s.scheduler.RunAdHocSweep(r.Context(), endpoints)
	writeJSON(w, http.StatusOK, report)
}

type intervalRequest struct {
	Seconds int `json:"seconds"`
}

// handleInterval reads or changes the check interval
func (s *Server) handleInterval(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
	case http.MethodPost:
		var req intervalRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		if err := s.scheduler.SetInterval(time.Duration(req.Seconds) * time.Second); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"interval_seconds": int(s.scheduler.Interval().Seconds()),
	})
}

// handleAlerts returns endpoints currently in ALERTING
func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	alerts := s.engine.GetActiveAlerts()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"alerts": alerts,
		"count":  len(alerts),
	})
}

type publicEndpoint struct {
	types.EndpointStatus
	Uptime types.UptimeReport `json:"uptime"`
}

// handlePublic returns public endpoints with their status and uptime report
func (s *Server) handlePublic(w http.ResponseWriter, r *http.Request) {
	window, ok := s.window(w, r)
	if !ok {
		return
	}
	list, err := s.store.ListPublicWithStatus(r.Context())
	if err != nil {
		s.internalError(w, r, err)
		return
	}

	endpoints := make([]types.Endpoint, 0, len(list))
	for _, e := range list {
		endpoints = append(endpoints, e.Endpoint)
	}
	reports, err := s.uptime.ReportAll(r.Context(), endpoints, window)
	if err != nil {
		s.internalError(w, r, err)
		return
	}

	out := make([]publicEndpoint, 0, len(list))
	for i, e := range list {
		out = append(out, publicEndpoint{EndpointStatus: e, Uptime: reports[i]})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"endpoints": out,
		"window":    window.String(),
	})
}

// handleLogs returns recent log entries as JSON
func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	lb := s.logBuffer
	s.mu.RUnlock()

	limit := 200
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}

	entries := []webui.LogEntry{}
	if lb != nil {
		entries = lb.GetRecentEntries(limit, r.URL.Query().Get("level"))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"entries": entries,
		"count":   len(entries),
	})
}
