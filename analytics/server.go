package analytics

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server exposes a Store over HTTP: POST /record, GET /aggregates, GET /health and GET /metrics.
type Server struct {
	Store    Store
	Addr     string
	Gatherer prometheus.Gatherer

	router  *chi.Mux
	httpSrv *http.Server
}

// NewServer creates a server for store. A nil gatherer serves the default Prometheus registry.
func NewServer(store Store, addr string, gatherer prometheus.Gatherer) *Server {
	if addr == "" {
		addr = ":8080"
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	s := &Server{Store: store, Addr: addr, Gatherer: gatherer, router: chi.NewRouter()}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RealIP)
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		MaxAge:         300,
	}))
}

func (s *Server) setupRoutes() {
	s.router.Post("/record", s.handleRecord)
	s.router.Put("/record", s.handleRecord)
	s.router.Get("/aggregates", s.handleAggregates)
	s.router.Get("/aggregates/{groupBy}", s.handleAggregates)
	s.router.Get("/health", s.handleHealth)
	s.router.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.Gatherer, promhttp.HandlerOpts{}))
}

// Router returns the HTTP handler, for tests and embedding.
func (s *Server) Router() http.Handler {
	return s.router
}

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	s.httpSrv = &http.Server{
		Addr:              s.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s.httpSrv.ListenAndServe()
}

// Shutdown gracefully stops a started server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

type recordRequest struct {
	ProviderID  string `json:"provider_id"`
	Model       string `json:"model"`
	LatencyMs   int64  `json:"latency_ms"`
	OutputChars int    `json:"output_chars"`
	Deltas      int    `json:"deltas"`
	Success     bool   `json:"success"`
	Cancelled   bool   `json:"cancelled"`
	At          string `json:"at,omitempty"` // RFC3339
}

type aggregateResponse struct {
	Aggregates []Aggregate `json:"aggregates"`
}

func (s *Server) handleRecord(w http.ResponseWriter, r *http.Request) {
	var req recordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON: "+err.Error(), http.StatusBadRequest)
		return
	}
	if req.ProviderID == "" || req.Model == "" {
		http.Error(w, "provider_id and model required", http.StatusBadRequest)
		return
	}
	rec := RunRecord{
		ProviderID:  req.ProviderID,
		Model:       req.Model,
		LatencyMs:   req.LatencyMs,
		OutputChars: req.OutputChars,
		Deltas:      req.Deltas,
		Success:     req.Success,
		Cancelled:   req.Cancelled,
	}
	if req.At != "" {
		t, err := time.Parse(time.RFC3339, req.At)
		if err != nil {
			http.Error(w, "at must be RFC3339", http.StatusBadRequest)
			return
		}
		rec.At = t
	}
	if err := s.Store.Record(r.Context(), rec); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAggregates(w http.ResponseWriter, r *http.Request) {
	v := r.URL.Query()
	q := Query{
		ProviderID: v.Get("provider_id"),
		Model:      v.Get("model"),
		GroupBy:    v.Get("group_by"),
		Limit:      defaultLimit,
	}
	if g := chi.URLParam(r, "groupBy"); g != "" {
		q.GroupBy = g
	}
	if from := v.Get("from"); from != "" {
		if t, err := time.Parse(time.RFC3339, from); err == nil {
			q.From = t
		}
	}
	if to := v.Get("to"); to != "" {
		if t, err := time.Parse(time.RFC3339, to); err == nil {
			q.To = t
		}
	}
	if limit := v.Get("limit"); limit != "" {
		if n, err := strconv.Atoi(limit); err == nil && n > 0 {
			q.Limit = n
		}
	}
	agg, err := s.Store.Query(r.Context(), q)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if agg == nil {
		agg = []Aggregate{}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(aggregateResponse{Aggregates: agg})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}
