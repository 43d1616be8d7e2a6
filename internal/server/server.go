package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"TrafficLens/internal/aggregate"
	"TrafficLens/internal/anomaly"
	"TrafficLens/internal/capture"
	"TrafficLens/internal/coordinator"
	"TrafficLens/internal/filter"
	"TrafficLens/internal/model"

	"github.com/gorilla/mux"
	jsoniter "github.com/json-iterator/go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// SourceFactory turns source specs from a start request into capture sources.
type SourceFactory func(specs []string) ([]model.CaptureSource, error)

// Deps are the components the control surface operates on.
type Deps struct {
	Coordinator *coordinator.Coordinator
	Store       *aggregate.Store
	Filter      *filter.Holder
	Engine      *anomaly.Engine
	Sources     SourceFactory
	// DefaultSources are used when a start request names none.
	DefaultSources []string

	// Optional.
	Observers  http.Handler
	Querier    model.Querier
	Gatherer   prometheus.Gatherer
	Interfaces func(ctx context.Context) ([]capture.Interface, error)
}

// Server exposes the control API, observers and metrics.
type Server struct {
	deps   Deps
	logger *zap.Logger
}

// New creates a server.
func New(deps Deps, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Interfaces == nil {
		deps.Interfaces = capture.ListInterfaces
	}
	return &Server{deps: deps, logger: logger.Named("server")}
}

// Router builds the HTTP routes.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.health).Methods(http.MethodGet)
	if s.deps.Observers != nil {
		r.Handle("/ws", s.deps.Observers)
	}
	if s.deps.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{}))
	}

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/interfaces", s.interfaces).Methods(http.MethodGet)
	api.HandleFunc("/capture/start", s.startCapture).Methods(http.MethodPost)
	api.HandleFunc("/capture/stop", s.stopCapture).Methods(http.MethodPost)
	api.HandleFunc("/capture/reset", s.resetCapture).Methods(http.MethodPost)
	api.HandleFunc("/capture/status", s.captureStatus).Methods(http.MethodGet)
	api.HandleFunc("/stats", s.stats).Methods(http.MethodGet)
	api.HandleFunc("/filters", s.getFilters).Methods(http.MethodGet)
	api.HandleFunc("/filters", s.updateFilters).Methods(http.MethodPut, http.MethodPost)
	api.HandleFunc("/alerts", s.getAlerts).Methods(http.MethodGet)
	api.HandleFunc("/alerts", s.updateAlerts).Methods(http.MethodPut, http.MethodPost)
	api.HandleFunc("/history/{kind:packets|stats|anomalies}", s.history).Methods(http.MethodGet)
	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"status": "error", "message": msg})
}

func decodeBody(r *http.Request, v any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		return err
	}
	if len(body) == 0 {
		return nil
	}
	return json.Unmarshal(body, v)
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"state":  s.deps.Coordinator.State().String(),
	})
}

func (s *Server) interfaces(w http.ResponseWriter, r *http.Request) {
	ifaces, err := s.deps.Interfaces(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "success", "interfaces": ifaces})
}

type startRequest struct {
	SessionName string   `json:"session_name"`
	Interfaces  []string `json:"interfaces"`
}

func (s *Server) startCapture(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "failed to decode request: "+err.Error())
		return
	}
	specs := req.Interfaces
	if len(specs) == 0 {
		specs = s.deps.DefaultSources
	}
	sources, err := s.deps.Sources(specs)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	sess, err := s.deps.Coordinator.Start(r.Context(), coordinator.StartRequest{SessionName: req.SessionName, Sources: sources})
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, coordinator.ErrNoSources) {
			status = http.StatusBadRequest
		}
		writeError(w, status, err.Error())
		return
	}
	s.logger.Info("Capture started via API", zap.String("session", sess.Name), zap.Strings("sources", specs))
	writeJSON(w, http.StatusOK, map[string]any{"status": "success", "session": sess})
}

func (s *Server) stopCapture(w http.ResponseWriter, r *http.Request) {
	fin, err := s.deps.Coordinator.Stop()
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, coordinator.ErrNotRunning) {
			status = http.StatusConflict
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "success", "session": fin.Session})
}

func (s *Server) resetCapture(w http.ResponseWriter, r *http.Request) {
	s.deps.Coordinator.ForceReset()
	writeJSON(w, http.StatusOK, map[string]string{"status": "success", "state": coordinator.Idle.String()})
}

func (s *Server) captureStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Coordinator.Status())
}

func (s *Server) stats(w http.ResponseWriter, r *http.Request) {
	snap := s.deps.Store.Snapshot(aggregate.DefaultLimits)
	st := s.deps.Coordinator.Status()
	snap.CaptureState = st.State.String()
	if st.Session != nil {
		snap.ActiveSession = st.Session.Name
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) getFilters(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Filter.Get())
}

func (s *Server) updateFilters(w http.ResponseWriter, r *http.Request) {
	var update map[string]any
	if err := decodeBody(r, &update); err != nil {
		writeError(w, http.StatusBadRequest, "failed to decode request: "+err.Error())
		return
	}
	err := s.deps.Filter.Apply(update)
	writeUpdate(w, err, s.deps.Filter.Get())
}

func (s *Server) getAlerts(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Engine.Config())
}

func (s *Server) updateAlerts(w http.ResponseWriter, r *http.Request) {
	var update map[string]any
	if err := decodeBody(r, &update); err != nil {
		writeError(w, http.StatusBadRequest, "failed to decode request: "+err.Error())
		return
	}
	err := s.deps.Engine.ApplyConfig(update)
	writeUpdate(w, err, s.deps.Engine.Config())
}

// writeUpdate reports a loose configuration update. Ignored fields do not
// fail the request; they are listed next to the resulting configuration.
func writeUpdate(w http.ResponseWriter, err error, current any) {
	var cfgErr *model.ConfigurationError
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]any{"status": "success", "config": current})
	case errors.As(err, &cfgErr):
		writeJSON(w, http.StatusOK, map[string]any{"status": "partial", "config": current, "ignored": cfgErr.Ignored})
	default:
		writeError(w, http.StatusBadRequest, err.Error())
	}
}

const defaultHistoryLimit = 100

func (s *Server) history(w http.ResponseWriter, r *http.Request) {
	if s.deps.Querier == nil {
		writeError(w, http.StatusServiceUnavailable, "durable storage is disabled")
		return
	}
	q := r.URL.Query()
	from, err := parseTime(q.Get("from"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid from: "+err.Error())
		return
	}
	to, err := parseTime(q.Get("to"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid to: "+err.Error())
		return
	}
	limit := defaultHistoryLimit
	if v := q.Get("limit"); v != "" {
		if limit, err = strconv.Atoi(v); err != nil || limit < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
	}

	var rows any
	switch mux.Vars(r)["kind"] {
	case "packets":
		rows, err = s.deps.Querier.QueryPackets(r.Context(), from, to, limit)
	case "stats":
		rows, err = s.deps.Querier.QueryStats(r.Context(), from, to, limit)
	case "anomalies":
		rows, err = s.deps.Querier.QueryAnomalies(r.Context(), from, to, limit)
	}
	if err != nil {
		s.logger.Error("History query failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to query history: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "success", "rows": rows})
}

// parseTime accepts RFC 3339 or unix seconds; empty means unbounded.
func parseTime(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	if secs, err := strconv.ParseInt(v, 10, 64); err == nil {
		return time.Unix(secs, 0), nil
	}
	return time.Parse(time.RFC3339, v)
}
