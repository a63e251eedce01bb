package server

import (
	"context"
	"errors"
	"io/fs"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/videobox/videobox/internal/auth"
	"github.com/videobox/videobox/internal/database"
	"github.com/videobox/videobox/internal/identity"
	"github.com/videobox/videobox/internal/ratelimit"
	"github.com/videobox/videobox/internal/share"
	"github.com/videobox/videobox/internal/video"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

// Mailer delivers every transactional message the API sends.
type Mailer interface {
	auth.EmailSender
	share.Notifier
}

type ShareConfig struct {
	AllowOpenShares       bool
	RequireRecipientMatch bool
	CallTimeout           time.Duration
}

type Config struct {
	DB                    database.DBTX
	Pinger                Pinger
	Storage               video.ObjectStorage
	WebFS                 fs.FS
	JWTSecret             string
	BaseURL               string
	MaxUploadBytes        int64
	PlaybackURLTTL        time.Duration
	S3PublicEndpoint      string
	AllowedFrameAncestors string
	Mailer                Mailer
	Geo                   share.CountryLookup
	Share                 ShareConfig
}

type Server struct {
	router       chi.Router
	pinger       Pinger
	authHandler  *auth.Handler
	videoHandler *video.Handler
	shareHandler *share.Handler
	webFS        fs.FS
}

func New(cfg Config) (*Server, error) {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(slogMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(securityHeaders(SecurityConfig{
		BaseURL:               cfg.BaseURL,
		StorageEndpoint:       cfg.S3PublicEndpoint,
		AllowedFrameAncestors: cfg.AllowedFrameAncestors,
	}))

	s := &Server{router: r, pinger: cfg.Pinger, webFS: cfg.WebFS}

	if cfg.DB != nil {
		if cfg.JWTSecret == "" {
			return nil, errors.New("server: JWT secret is required")
		}
		if cfg.Storage == nil {
			return nil, errors.New("server: object storage is required")
		}

		baseURL := cfg.BaseURL
		if baseURL == "" {
			baseURL = "http://localhost:8080"
		}

		secureCookies := strings.HasPrefix(baseURL, "https://")
		s.authHandler = auth.NewHandler(cfg.DB, cfg.JWTSecret, secureCookies)
		if cfg.Mailer != nil {
			s.authHandler.SetEmailSender(cfg.Mailer, baseURL)
		}

		s.videoHandler = video.NewHandler(cfg.DB, cfg.Storage, cfg.MaxUploadBytes, cfg.PlaybackURLTTL)

		store := share.NewPostgresStore(cfg.DB)
		catalog := video.NewCatalog(cfg.DB, cfg.Storage, cfg.PlaybackURLTTL)
		directory := identity.NewDirectory(cfg.DB)
		registry := share.NewRegistry(store, catalog, directory, share.RegistryConfig{
			AllowOpenShares: cfg.Share.AllowOpenShares,
			CallTimeout:     cfg.Share.CallTimeout,
		})
		evaluator := share.NewEvaluator(registry, catalog, directory, share.EvaluatorConfig{
			RequireRecipientMatch: cfg.Share.RequireRecipientMatch,
			CallTimeout:           cfg.Share.CallTimeout,
		})
		s.shareHandler = share.NewHandler(registry, evaluator, share.NewViewRecorder(store, cfg.Geo), baseURL)
		if cfg.Mailer != nil {
			s.shareHandler.SetNotifier(cfg.Mailer)
		}
	}

	s.routes()
	return s, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Wait blocks until background work started by requests (view recording,
// object purges) has finished. Call it after the HTTP server has shut down.
func (s *Server) Wait() {
	if s.shareHandler != nil {
		s.shareHandler.Wait()
	}
	if s.videoHandler != nil {
		s.videoHandler.Wait()
	}
}

func (s *Server) routes() {
	s.router.Get("/api/health", s.handleHealth)
	s.router.Handle("/metrics", promhttp.Handler())

	if s.authHandler != nil {
		authLimiter := ratelimit.NewLimiter(0.5, 5)
		s.router.Route("/api/auth", func(r chi.Router) {
			r.Use(authLimiter.Middleware)
			r.Post("/register", s.authHandler.Register)
			r.Post("/activate", s.authHandler.Activate)
			r.Post("/login", s.authHandler.Login)
			r.Post("/refresh", s.authHandler.Refresh)
			r.Post("/logout", s.authHandler.Logout)
			r.Post("/forgot-password", s.authHandler.ForgotPassword)
			r.Post("/reset-password", s.authHandler.ResetPassword)
		})
	}

	if s.videoHandler != nil {
		coachLimiter := ratelimit.NewLimiter(2, 10)
		coachOnly := func(r chi.Router) {
			r.Use(coachLimiter.Middleware)
			r.Use(s.authHandler.Middleware)
			r.Use(auth.RequireRole(auth.RoleCoach))
		}

		s.router.Get("/api/limits", s.videoHandler.Limits)

		s.router.Route("/api/courses", func(r chi.Router) {
			coachOnly(r)
			r.Get("/", s.videoHandler.ListCourses)
			r.Post("/", s.videoHandler.CreateCourse)
		})

		s.router.Route("/api/videos", func(r chi.Router) {
			coachOnly(r)
			r.Post("/", s.videoHandler.Create)
			r.Get("/", s.videoHandler.List)
			r.Get("/{id}", s.videoHandler.Get)
			r.Delete("/{id}", s.videoHandler.Delete)
			r.Post("/{id}/complete", s.videoHandler.Complete)
			r.Get("/{id}/shares", s.shareHandler.List)
		})

		s.router.Route("/api/shares", func(r chi.Router) {
			coachOnly(r)
			r.Post("/", s.shareHandler.Issue)
			r.Delete("/{shareToken}", s.shareHandler.Revoke)
		})

		viewLimiter := ratelimit.NewLimiter(5, 20)
		s.router.With(viewLimiter.Middleware, s.authHandler.OptionalMiddleware).
			Get("/api/view/{shareToken}", s.shareHandler.Resolve)
	}

	if s.webFS != nil {
		spa := newSPAFileServer(s.webFS)
		s.router.NotFound(spa.ServeHTTP)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if s.pinger != nil {
		if err := s.pinger.Ping(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"unhealthy","error":"database unreachable"}`))
			return
		}
	}
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}
