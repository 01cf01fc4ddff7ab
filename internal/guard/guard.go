// Package guard decides, on every navigation, whether a view may render or
// the visitor must be redirected, based on the session credential's validity.
package guard

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"attendkiosk/internal/auth"
	"attendkiosk/internal/metrics"
)

// Fallback views.
const (
	LoginPath     = "/login"
	DashboardPath = "/dashboard"
)

// ViewClass groups paths by access policy.
type ViewClass string

const (
	Protected  ViewClass = "protected"
	PublicOnly ViewClass = "public_only"
	Unknown    ViewClass = "unknown"
	// Exempt paths (API, probes, assets, logout) are never guarded.
	Exempt ViewClass = "exempt"
)

var protectedRoots = []string{"/dashboard", "/profile", "/admin"}

var publicOnly = map[string]bool{
	"/login":    true,
	"/register": true,
}

var exemptPrefixes = []string{"/api/", "/static/"}

var exemptPaths = map[string]bool{
	"/healthz": true,
	"/metrics": true,
	"/logout":  true,
}

// Classify maps a request path to its view class.
func Classify(path string) ViewClass {
	p := cleanPath(path)
	if exemptPaths[p] {
		return Exempt
	}
	for _, prefix := range exemptPrefixes {
		if strings.HasPrefix(p+"/", prefix) {
			return Exempt
		}
	}
	if publicOnly[p] {
		return PublicOnly
	}
	for _, root := range protectedRoots {
		if p == root || strings.HasPrefix(p, root+"/") {
			return Protected
		}
	}
	return Unknown
}

// Decision is the outcome of a guard check.
type Decision struct {
	Render   bool
	Redirect string
}

// Decide applies the access policy to path given the credential's validity.
func Decide(path string, valid bool) Decision {
	switch Classify(path) {
	case Exempt:
		return Decision{Render: true}
	case Protected:
		if valid {
			return Decision{Render: true}
		}
		return Decision{Redirect: LoginPath}
	case PublicOnly:
		if valid {
			return Decision{Redirect: DashboardPath}
		}
		return Decision{Render: true}
	default:
		if valid {
			return Decision{Redirect: DashboardPath}
		}
		return Decision{Redirect: LoginPath}
	}
}

// Middleware evaluates Decide on every request. Nothing is cached: the
// credential may expire or be cleared between navigations.
func Middleware(insp auth.Inspector, m *metrics.Metrics, logger *slog.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = slog.Default()
	}
	return func(c *gin.Context) {
		path := c.Request.URL.Path
		class := Classify(path)
		if class == Exempt {
			c.Next()
			return
		}

		tok, _ := auth.RequestCredential(c)
		d := Decide(path, insp.Valid(tok))
		if d.Render {
			m.ObserveGuard(string(class), "render")
			c.Next()
			return
		}

		m.ObserveGuard(string(class), "redirect")
		logger.Debug("guard redirect",
			slog.String("path", path),
			slog.String("redirect", d.Redirect))

		code := http.StatusFound
		if c.Request.Method != http.MethodGet && c.Request.Method != http.MethodHead {
			code = http.StatusSeeOther
		}
		c.Redirect(code, d.Redirect)
		c.Abort()
	}
}

func cleanPath(path string) string {
	if path == "" {
		return "/"
	}
	if len(path) > 1 {
		path = strings.TrimRight(path, "/")
		if path == "" {
			return "/"
		}
	}
	return path
}
