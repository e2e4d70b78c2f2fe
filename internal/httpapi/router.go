// Package httpapi is the thin HTTP translation layer over the
// recalculation platform's usecases: one handler per spec.md §6 route,
// delegating to internal/rework, internal/session, internal/beatmaps,
// and internal/ppalgo. Grounded on the original's api/routes/** module-
// per-resource layout, realized with go-chi/chi/v5 + go-chi/cors the way
// the example pack's services route HTTP.
package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/osuAkatsuki/performance-service/internal/beatmaps"
	"github.com/osuAkatsuki/performance-service/internal/logging"
	"github.com/osuAkatsuki/performance-service/internal/metrics"
	"github.com/osuAkatsuki/performance-service/internal/ppalgo"
	"github.com/osuAkatsuki/performance-service/internal/rework"
	"github.com/osuAkatsuki/performance-service/internal/session"
	"github.com/osuAkatsuki/performance-service/internal/users"
)

// Server holds every dependency a route handler needs. Handlers are
// methods on *Server so they share this wiring without globals.
type Server struct {
	reworks     *rework.Repository
	leaderboard *rework.RedisLeaderboard
	sessions    *session.Service
	users       *users.Repository
	beatmapSrc  *beatmaps.Source
	registry    *ppalgo.Registry
	logger      logging.Logger
	metrics     *metrics.Metrics
}

// NewServer wires a Server over its dependencies. m may be nil to
// disable metrics recording.
func NewServer(
	reworks *rework.Repository,
	leaderboard *rework.RedisLeaderboard,
	sessions *session.Service,
	usersRepo *users.Repository,
	beatmapSrc *beatmaps.Source,
	registry *ppalgo.Registry,
	logger logging.Logger,
	m *metrics.Metrics,
) *Server {
	return &Server{
		reworks:     reworks,
		leaderboard: leaderboard,
		sessions:    sessions,
		users:       usersRepo,
		beatmapSrc:  beatmapSrc,
		registry:    registry,
		logger:      logger,
		metrics:     m,
	}
}

// Router builds the full chi.Router for the HTTP API component.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		MaxAge:           300,
	}))

	r.Get("/_health", s.handleHealth)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/calculate", s.handleCalculate)

		r.Route("/reworks", func(r chi.Router) {
			r.Get("/", s.handleListReworks)
			r.Post("/sessions", s.handleCreateSession)
			r.Delete("/sessions/{token}", s.handleDeleteSession)
			r.Get("/users/{user_id}", s.handleReworkUser)

			r.Route("/{rework_id}", func(r chi.Router) {
				r.Get("/", s.handleGetRework)
				r.Post("/queue", s.handleEnqueue)
				r.Get("/leaderboards", s.handleLeaderboard)
				r.Get("/scores/{user_id}", s.handleUserScores)
				r.Get("/users/{user_id}/stats", s.handleUserStats)
				r.Get("/users/search", s.handleSearchUsers)
			})
		})
	})

	return r
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := logging.WithCorrelationID(r.Context(), middleware.GetReqID(r.Context()))
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r.WithContext(ctx))
		duration := time.Since(start)
		s.logger.InfoContext(ctx, "http request",
			"method", r.Method, "path", r.URL.Path,
			"status", ww.Status(), "duration_ms", duration.Milliseconds())
		if s.metrics != nil {
			route := chi.RouteContext(r.Context()).RoutePattern()
			if route == "" {
				route = r.URL.Path
			}
			s.metrics.HTTPRequestsTotal.WithLabelValues(route, http.StatusText(ww.Status())).Inc()
			s.metrics.HTTPRequestDuration.WithLabelValues(route).Observe(duration.Seconds())
		}
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
