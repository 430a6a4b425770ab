package web

import (
	"log/slog"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/conorfennell/recall/internal/progress"
	"github.com/conorfennell/recall/internal/scheduler"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Server holds the dependencies for the HTTP server.
type Server struct {
	scheduler *scheduler.Scheduler
	processor *progress.Processor
	logger    *slog.Logger
	validate  *validator.Validate
	now       func() time.Time
	timeout   time.Duration
	router    chi.Router
	handler   http.Handler
}

// Option customises a Server.
type Option func(*Server)

// WithClock replaces the clock used when a schedule request omits "now".
func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

// WithRequestTimeout bounds how long a request may run, lock waits included.
func WithRequestTimeout(d time.Duration) Option {
	return func(s *Server) { s.timeout = d }
}

// DefaultRequestTimeout applies when no WithRequestTimeout option is given.
const DefaultRequestTimeout = 30 * time.Second

// NewServer creates and configures a new server.
func NewServer(sched *scheduler.Scheduler, proc *progress.Processor, logger *slog.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		scheduler: sched,
		processor: proc,
		logger:    logger,
		validate:  newValidator(),
		now:       time.Now,
		timeout:   DefaultRequestTimeout,
		router:    chi.NewRouter(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.routes()
	s.handler = otelhttp.NewHandler(s.router, "recall")
	return s
}

// ServeHTTP implements the http.Handler interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// routes sets up the routing for the server.
func (s *Server) routes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(requestLogger(s.logger))
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(s.timeout))
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	s.router.Get("/healthz", s.handleHealth())

	jsonOnly := requireJSON(s.logger)
	retention := func(r chi.Router) {
		r.With(jsonOnly).Post("/schedule", s.handleSchedule())
		r.With(jsonOnly).Post("/progress", s.handlePostProgress())
		r.Get("/progress", s.handleGetProgress())
	}
	s.router.Group(retention)
	// Route names used by existing clients.
	s.router.Route("/api/certified", retention)
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report field names the way clients send them.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}
