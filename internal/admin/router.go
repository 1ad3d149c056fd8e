package admin

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/desipipe/desipipe/internal/config"
	"github.com/desipipe/desipipe/internal/events"
	"github.com/desipipe/desipipe/internal/logger"
	"github.com/desipipe/desipipe/internal/metrics"
	"github.com/desipipe/desipipe/internal/store"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Server is the admin HTTP surface: liveness, metrics, and an event-tail
// websocket. Grounded on the teacher's internal/api.Server
// (internal/api/routes.go) — same chi router assembly and middleware
// stack, trimmed to the endpoints SPEC_FULL §6 actually calls for (no
// task CRUD: tasks are created via the TaskManager API or the CLI
// against the store directly, not over HTTP).
type Server struct {
	router *chi.Mux
	hub    *Hub
}

// NewServer builds the router. st is used only for the /healthz check
// (can the admin server still reach the queue's store); pub drives the
// /ws tail.
func NewServer(cfg config.AdminConfig, metricsCfg config.MetricsConfig, st *store.Store, pub events.Publisher) *Server {
	s := &Server{
		router: chi.NewRouter(),
		hub:    NewHub(pub),
	}

	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Recoverer)
	s.router.Use(requestLogger)

	s.router.Get("/healthz", healthHandler(st))

	if metricsCfg.Enabled {
		path := metricsCfg.Path
		if path == "" {
			path = "/metrics"
		}
		s.router.Handle(path, promhttp.Handler())
	}

	s.router.Route("/ws", func(r chi.Router) {
		r.Use(authMiddleware(cfg.Auth))
		r.Get("/", s.serveWS)
	})

	return s
}

// Run starts the hub's fan-out goroutines; call once before serving.
func (s *Server) Run(ctx context.Context) { s.hub.Run(ctx) }

// Stop tears the hub down.
func (s *Server) Stop() { s.hub.Stop() }

// Router exposes the chi.Mux for http.ListenAndServe.
func (s *Server) Router() *chi.Mux { return s.router }

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error().Err(err).Msg("admin: failed to upgrade websocket")
		return
	}

	client := NewClient(s.hub, conn)
	client.SubscribeAll()
	s.hub.Register(client)

	go client.WritePump()
	go client.ReadPump()
}

func healthHandler(st *store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if _, err := st.Size(ctx); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"unavailable"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		duration := time.Since(start).Seconds()
		status := strconv.Itoa(ww.Status())
		metrics.RecordHTTPRequest(r.Method, r.URL.Path, status, duration)
		logger.Debug().Str("method", r.Method).Str("path", r.URL.Path).Int("status", ww.Status()).Dur("duration", time.Since(start)).Msg("admin request")
	})
}
