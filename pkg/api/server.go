// Package api exposes enrollment, attendance and administration over HTTP.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/MrCodeEU/faceattend/pkg/attendance"
	"github.com/MrCodeEU/faceattend/pkg/employees"
	"github.com/MrCodeEU/faceattend/pkg/enrollment"
	"github.com/MrCodeEU/faceattend/pkg/logging"
	"github.com/MrCodeEU/faceattend/pkg/store"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Enroller runs enrollments.
type Enroller interface {
	Enroll(ctx context.Context, name string) (*enrollment.Result, error)
}

// Scanner runs attendance scans. Stop ends the running scan early and
// still records the employees it has seen.
type Scanner interface {
	MarkAttendance(ctx context.Context, action attendance.Action) (*attendance.ScanResult, error)
	Stop()
}

// Shutter takes the next enrollment sample on request.
type Shutter interface {
	Fire()
}

// Employees manages enrolled employees.
type Employees interface {
	List(ctx context.Context) ([]employees.Summary, error)
	Delete(ctx context.Context, id uint) (*store.Employee, error)
	FaceCount() int
}

// Records reads and deletes attendance records.
type Records interface {
	GetTodaysAttendance(ctx context.Context, date string) ([]store.AttendanceRecord, error)
	GetAttendanceBetweenDates(ctx context.Context, from, to string) ([]store.AttendanceRecord, error)
	DeleteAttendanceRecord(ctx context.Context, id uint) error
	Ping(ctx context.Context) error
}

// Images resolves sample image paths.
type Images interface {
	Path(name, file string) (string, error)
}

// SessionState reports whether the camera is in use.
type SessionState interface {
	Active() bool
}

// Deps are the collaborators the handlers call.
type Deps struct {
	Enroller  Enroller
	Shutter   Shutter
	Scanner   Scanner
	Employees Employees
	Records   Records
	Images    Images
	Sessions  SessionState
	Gatherer  prometheus.Gatherer
	Now       func() time.Time
}

// Server is the HTTP front end.
type Server struct {
	deps       Deps
	router     *chi.Mux
	httpServer *http.Server
}

// NewServer creates a server listening on addr.
func NewServer(deps Deps, addr string) *Server {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}

	r := chi.NewRouter()
	s := &Server{deps: deps, router: r}

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(requestLogger)
	r.Use(chiMiddleware.Recoverer)

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:        addr,
		Handler:     r,
		ReadTimeout: 30 * time.Second,

		// Enrollment holds the request for the whole capture.
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

func (s *Server) setupRoutes() {
	s.router.Get("/api/v1/health", s.health)
	s.router.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{}))

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Get("/dashboard", s.dashboard)

		r.Get("/employees", s.listEmployees)
		r.Post("/employees", s.enroll)
		r.Delete("/employees/{id}", s.deleteEmployee)
		r.Post("/enrollment/capture", s.captureSample)

		r.Post("/attendance", s.markAttendance)
		r.Post("/attendance/stop", s.stopScan)
		r.Delete("/attendance/{id}", s.deleteRecord)

		r.Get("/report", s.report)
	})

	s.router.With(noCache).Get(employees.ImageRoute+"/{name}/{file}", s.serveImage)
}

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	logging.Component("api").WithField("addr", s.httpServer.Addr).Info("starting web server")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	logging.Component("api").Info("shutting down web server")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down server: %w", err)
	}
	return nil
}

// Router returns the chi router for testing
func (s *Server) Router() *chi.Mux {
	return s.router
}

// requestLogger logs each request through the structured logger.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		logging.Component("api").WithFields(logging.Fields{
			"method":     r.Method,
			"path":       r.URL.Path,
			"status":     ww.Status(),
			"bytes":      ww.BytesWritten(),
			"duration":   time.Since(start).String(),
			"request_id": chiMiddleware.GetReqID(r.Context()),
		}).Debug("request")
	})
}

// noCache keeps browsers from showing stale sample images after a
// re-enrollment under the same name.
func noCache(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
		w.Header().Set("Pragma", "no-cache")
		w.Header().Set("Expires", "0")
		next.ServeHTTP(w, r)
	})
}
