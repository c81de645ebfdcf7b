package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"mailroom/pkg/agent"
	"mailroom/pkg/metrics"
	"mailroom/pkg/router"
	"mailroom/pkg/status"
)

const maxListLimit = 1000

type statusResponse struct {
	Status        string                 `json:"status"`
	UptimeSeconds int64                  `json:"uptime_seconds"`
	Processor     bool                   `json:"processor_running"`
	Agents        map[string]agentHealth `json:"agents"`
}

type routeResponse struct {
	Endpoint string `json:"endpoint"`
	Type     string `json:"type,omitempty"`
	Handler  string `json:"handler"`
	Matched  bool   `json:"matched"`
}

type routingTableResponse struct {
	Routes  []router.Route `json:"routes"`
	Default string         `json:"default"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Handler returns the daemon HTTP API.
func (s *Service) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(metricsMiddleware)
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)

	r.Route("/api", func(r chi.Router) {
		r.Get("/statuses", s.handleListStatuses)
		// Ids fall back to mailbox-relative paths, which contain slashes.
		r.Get("/statuses/*", s.handleGetStatus)
		r.Get("/routes", s.handleRoutes)
		r.Get("/routes/resolve", s.handleResolveRoute)
		r.Get("/agents", s.handleAgents)
		r.Get("/handlers", s.handleHandlers)
	})

	return r
}

func (s *Service) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.respondStatus(w, http.StatusOK, "ok")
}

func (s *Service) handleReady(w http.ResponseWriter, _ *http.Request) {
	if !s.Ready() {
		s.respondStatus(w, http.StatusServiceUnavailable, "not_ready")
		return
	}
	s.respondStatus(w, http.StatusOK, "ready")
}

func (s *Service) respondStatus(w http.ResponseWriter, code int, state string) {
	s.writeJSON(w, code, statusResponse{
		Status:        state,
		UptimeSeconds: int64(s.uptime().Seconds()),
		Processor:     s.processor.Running(),
		Agents:        s.health.snapshot(),
	})
}

func (s *Service) handleListStatuses(w http.ResponseWriter, r *http.Request) {
	filter := status.Filter{}

	if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
		state, err := status.ParseState(raw)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, err)
			return
		}
		filter.Status = state
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 || limit > maxListLimit {
			s.writeError(w, http.StatusBadRequest, errors.New("limit must be between 0 and 1000"))
			return
		}
		filter.Limit = limit
	}

	records, err := s.store.List(r.Context(), filter)
	if err != nil {
		s.log.Error("List statuses failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	if records == nil {
		records = []status.Record{}
	}

	s.writeJSON(w, http.StatusOK, records)
}

func (s *Service) handleGetStatus(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "*"))
	if id == "" {
		s.writeError(w, http.StatusBadRequest, errors.New("id is required"))
		return
	}

	record, err := s.store.Get(r.Context(), id)
	if errors.Is(err, status.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, err)
		return
	}
	if err != nil {
		s.log.Error("Get status failed", "id", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}

	s.writeJSON(w, http.StatusOK, record)
}

func (s *Service) handleRoutes(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, routingTableResponse{
		Routes:  s.router.Routes(),
		Default: s.router.DefaultHandler().String(),
	})
}

func (s *Service) handleResolveRoute(w http.ResponseWriter, r *http.Request) {
	endpoint := strings.TrimSpace(r.URL.Query().Get("endpoint"))
	msgType := strings.TrimSpace(r.URL.Query().Get("type"))

	if !s.cfg.Mailbox.Has(endpoint) {
		s.writeError(w, http.StatusNotFound, errors.New("unknown endpoint"))
		return
	}

	ref, matched := s.router.Resolve(endpoint, msgType)
	s.writeJSON(w, http.StatusOK, routeResponse{
		Endpoint: endpoint,
		Type:     msgType,
		Handler:  ref.String(),
		Matched:  matched,
	})
}

func (s *Service) handleAgents(w http.ResponseWriter, _ *http.Request) {
	infos := make([]agent.Info, 0, len(s.agents))
	for _, a := range s.agents {
		infos = append(infos, a.Info())
	}

	s.writeJSON(w, http.StatusOK, infos)
}

func (s *Service) handleHandlers(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.handlers.Names())
}

func (s *Service) writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log.Error("Failed to write response", "error", err)
	}
}

func (s *Service) writeError(w http.ResponseWriter, code int, err error) {
	s.writeJSON(w, code, errorResponse{Error: err.Error()})
}

// metricsMiddleware records request counts and latency by route pattern.
func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				path = pattern
			}
		}

		code := ww.Status()
		if code == 0 {
			code = http.StatusOK
		}

		metrics.HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(code)).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}
