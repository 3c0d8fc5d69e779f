// Package api mounts the HTTP surface: the websocket endpoint, health,
// metrics and read-only JSON views of sessions, the reference animation and
// the playback run log.
package api

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/banshee-data/articulate/internal/httputil"
	"github.com/banshee-data/articulate/internal/landmarks"
	"github.com/banshee-data/articulate/internal/monitoring"
	"github.com/banshee-data/articulate/internal/session"
)

// RunLister reads the playback run log.
type RunLister interface {
	RecentRuns(ctx context.Context, limit int) ([]session.Run, error)
}

// MaxRunsLimit caps the limit query parameter of /api/runs.
const MaxRunsLimit = 500

type Server struct {
	manager  *session.Manager
	runs     RunLister
	gatherer prometheus.Gatherer
	ws       http.Handler
	log      zerolog.Logger
}

// NewServer builds the API. runs may be nil when no run log is configured;
// gatherer defaults to prometheus.DefaultGatherer.
func NewServer(m *session.Manager, ws http.Handler, runs RunLister, gatherer prometheus.Gatherer) *Server {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return &Server{
		manager:  m,
		runs:     runs,
		gatherer: gatherer,
		ws:       ws,
		log:      monitoring.Component("http"),
	}
}

// Router returns the chi router with all routes mounted.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.LoggingMiddleware)

	if s.ws != nil {
		r.Get("/ws", s.ws.ServeHTTP)
	}
	r.Get("/healthz", s.health)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/sessions", s.listSessions)
		r.Get("/reference", s.showReference)
		r.Get("/reference/frames/{index}", s.showFrame)
		r.Get("/runs", s.listRuns)
	})
	return r
}

type healthResponse struct {
	Status    string `json:"status"`
	Animation string `json:"animation"`
	Frames    int    `json:"frames"`
	Sessions  int    `json:"sessions"`
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	anim := s.manager.Animation()
	httputil.WriteJSONOK(w, healthResponse{
		Status:    "ok",
		Animation: anim.Name(),
		Frames:    anim.Len(),
		Sessions:  len(s.manager.Sessions()),
	})
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSONOK(w, s.manager.Sessions())
}

type referenceResponse struct {
	Name        string           `json:"name"`
	Frames      int              `json:"frames"`
	Cardinality int              `json:"cardinality"`
	Bounds      landmarks.Bounds `json:"bounds"`
	Regions     regionsResponse  `json:"regions"`
}

type regionsResponse struct {
	Jaw   []int `json:"jaw"`
	Mouth []int `json:"mouth"`
}

func (s *Server) showReference(w http.ResponseWriter, r *http.Request) {
	anim := s.manager.Animation()
	regions := s.manager.Regions()
	httputil.WriteJSONOK(w, referenceResponse{
		Name:        anim.Name(),
		Frames:      anim.Len(),
		Cardinality: anim.Cardinality(),
		Bounds:      anim.Bounds(),
		Regions:     regionsResponse{Jaw: regions.Jaw.Indices, Mouth: regions.Mouth.Indices},
	})
}

type frameResponse struct {
	Frame  int                   `json:"frame"`
	Total  int                   `json:"total"`
	Points landmarks.LandmarkSet `json:"points"`
}

// showFrame returns one unaligned reference frame.
func (s *Server) showFrame(w http.ResponseWriter, r *http.Request) {
	idx, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		httputil.BadRequest(w, "frame index must be an integer")
		return
	}
	anim := s.manager.Animation()
	if idx < 0 || idx >= anim.Len() {
		httputil.NotFound(w, fmt.Sprintf("frame %d not found (animation has %d frames)", idx, anim.Len()))
		return
	}
	httputil.WriteJSONOK(w, frameResponse{Frame: idx, Total: anim.Len(), Points: anim.Frame(idx)})
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		httputil.ServiceUnavailable(w, "run log is not configured")
		return
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			httputil.BadRequest(w, "limit must be a positive integer")
			return
		}
		limit = min(n, MaxRunsLimit)
	}
	runs, err := s.runs.RecentRuns(r.Context(), limit)
	if err != nil {
		s.log.Error().Err(err).Msg("list runs failed")
		httputil.InternalServerError(w, "failed to read run log")
		return
	}
	httputil.WriteJSONOK(w, runs)
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

// Hijack passes through so the websocket upgrade works behind the logger.
func (lrw *loggingResponseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := lrw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	lrw.statusCode = http.StatusSwitchingProtocols
	return h.Hijack()
}

// LoggingMiddleware logs method, path, status and duration at debug level.
func (s *Server) LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		s.log.Debug().
			Int("status", lrw.statusCode).
			Str("method", r.Method).
			Str("uri", r.RequestURI).
			Float64("ms", float64(time.Since(start).Nanoseconds())/1e6).
			Msg("request")
	})
}
