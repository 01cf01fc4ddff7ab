// Package portal is the kiosk's HTTP surface: session pages, the dashboard
// with its capture controls, and the admin views.
package portal

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"attendkiosk/internal/attendance"
	"attendkiosk/internal/auth"
	"attendkiosk/internal/backend"
	"attendkiosk/internal/capture"
	"attendkiosk/internal/guard"
	"attendkiosk/internal/httpmiddleware"
	"attendkiosk/internal/metrics"
	"attendkiosk/internal/schedule"
	"attendkiosk/internal/store"
)

// Accounts is the attendance server as seen by the portal.
type Accounts interface {
	Login(ctx context.Context, studentID, password string) (string, error)
	Register(ctx context.Context, r backend.Registration) (string, error)
	Profile(ctx context.Context, token string) (backend.Profile, error)
	AdminSchedule(ctx context.Context, section string) (schedule.Map, error)
	SaveAdminSchedule(ctx context.Context, token, section string, m schedule.Map) (string, error)
	TodayAttendance(ctx context.Context) ([]string, error)
	AttendanceHistory(ctx context.Context) ([]backend.DayRecord, error)
}

// FaceStatus reports enrollment and today's check-in.
type FaceStatus interface {
	Presence(ctx context.Context, studentID, token string) (bool, error)
	TodayMarked(ctx context.Context, studentID, token string) (bool, error)
}

// Schedules serves normalized schedules.
type Schedules interface {
	ForStudent(ctx context.Context, studentID, token string) ([]schedule.Entry, error)
}

// Capturer drives the station camera.
type Capturer interface {
	Start(ctx context.Context, mode capture.Mode) (capture.State, error)
	State() capture.State
}

// AttemptLister reads the capture journal.
type AttemptLister interface {
	Recent(ctx context.Context, studentID string, limit, offset int) ([]attendance.Attempt, error)
}

// HealthCheck probes one dependency.
type HealthCheck func(ctx context.Context) error

// Options wires a Server. Accounts, Faces, Schedules and Capture are required.
type Options struct {
	Accounts  Accounts
	Faces     FaceStatus
	Schedules Schedules
	Capture   Capturer
	// Attempts is optional; without it the profile omits recent attempts.
	Attempts AttemptLister

	Credentials *auth.MemoryStore
	Cache       store.Cache
	StatusTTL   time.Duration
	Inspector   auth.Inspector
	Limiter     *httpmiddleware.RateLimiter

	CookieName   string
	SecureCookie bool
	CORSOrigins  []string

	Checks   map[string]HealthCheck
	Metrics  *metrics.Metrics
	Gatherer prometheus.Gatherer
	Logger   *slog.Logger
}

// Server holds the portal handlers.
type Server struct {
	opts   Options
	logger *slog.Logger
}

// New creates a Server.
func New(opts Options) *Server {
	if opts.CookieName == "" {
		opts.CookieName = "auth_token"
	}
	if opts.StatusTTL <= 0 {
		opts.StatusTTL = 30 * time.Second
	}
	if opts.Inspector.Clock == nil {
		opts.Inspector = auth.NewInspector(nil)
	}
	if opts.Credentials == nil {
		opts.Credentials = &auth.MemoryStore{}
	}
	if opts.Cache == nil {
		opts.Cache = store.NewMemory(opts.Inspector.Clock)
	}
	if opts.Limiter == nil {
		opts.Limiter = httpmiddleware.NewRateLimiter(0, 30, opts.Inspector.Clock)
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{opts: opts, logger: logger}
}

// Handler builds the gin engine.
func (s *Server) Handler() http.Handler {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	if len(s.opts.CORSOrigins) > 0 {
		r.Use(cors.New(cors.Config{
			AllowOrigins:     s.opts.CORSOrigins,
			AllowMethods:     []string{"GET", "POST", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}))
	}
	r.Use(securityHeaders())
	r.Use(auth.Session(s.opts.CookieName))
	r.Use(guard.Middleware(s.opts.Inspector, s.opts.Metrics, s.logger))

	r.GET("/healthz", s.healthz)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.opts.Gatherer, promhttp.HandlerOpts{})))

	r.GET("/login", s.loginView)
	r.POST("/login", s.login)
	r.GET("/register", s.registerView)
	r.POST("/register", s.register)
	r.POST("/logout", s.logout)

	r.GET("/dashboard", s.dashboard)
	r.GET("/dashboard/capture", s.captureState)
	r.POST("/dashboard/capture/:mode", s.opts.Limiter.Middleware(), s.startCapture)
	r.GET("/profile", s.profile)

	r.GET("/admin", s.admin)
	r.GET("/admin/schedules", s.adminSchedule)
	r.POST("/admin/schedules", s.saveAdminSchedule)

	return r
}

func (s *Server) healthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	status := http.StatusOK
	checks := gin.H{}
	for name, check := range s.opts.Checks {
		if err := check(ctx); err != nil {
			checks[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}
	state := "ok"
	if status != http.StatusOK {
		state = "degraded"
	}
	c.JSON(status, gin.H{"status": state, "checks": checks})
}

func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		if gin.Mode() == gin.ReleaseMode {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}
		c.Next()
	}
}

// session returns the request's credential and its student id. The guard has
// already checked validity; a token without a subject is treated as absent.
func (s *Server) session(c *gin.Context) (token, studentID string, ok bool) {
	token, ok = auth.RequestCredential(c)
	if !ok {
		c.Redirect(http.StatusFound, guard.LoginPath)
		return "", "", false
	}
	studentID, err := auth.StudentID(token)
	if err != nil {
		s.clearCookie(c)
		c.Redirect(http.StatusFound, guard.LoginPath)
		return "", "", false
	}
	return token, studentID, true
}

// backendError maps a backend failure to a response, passing the server's
// status and message through.
func (s *Server) backendError(c *gin.Context, err error, fallback string) {
	var apiErr *backend.APIError
	if errors.As(err, &apiErr) {
		msg := apiErr.Message
		if msg == "" {
			msg = fallback
		}
		c.JSON(apiErr.Status, gin.H{"error": msg})
		return
	}
	s.logger.Warn("backend call failed", slog.String("path", c.Request.URL.Path), slog.Any("error", err))
	c.JSON(http.StatusBadGateway, gin.H{"error": capture.MsgNetworkError})
}
