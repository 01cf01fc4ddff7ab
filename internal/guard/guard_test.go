package guard

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"attendkiosk/internal/auth"
	"attendkiosk/internal/clock"
	"attendkiosk/internal/metrics"
)

func TestClassify(t *testing.T) {
	tests := map[string]ViewClass{
		"/dashboard":         Protected,
		"/dashboard/":        Protected,
		"/dashboard/capture": Protected,
		"/profile":           Protected,
		"/admin":             Protected,
		"/admin/schedules":   Protected,
		"/login":             PublicOnly,
		"/register/":         PublicOnly,
		"/":                  Unknown,
		"/nowhere":           Unknown,
		"/dashboards":        Unknown,
		"/api/anything":      Exempt,
		"/static/app.js":     Exempt,
		"/healthz":           Exempt,
		"/metrics":           Exempt,
		"/logout":            Exempt,
	}
	for path, want := range tests {
		assert.Equal(t, want, Classify(path), path)
	}
}

func TestDecide_PolicyTable(t *testing.T) {
	tests := []struct {
		path  string
		valid bool
		want  Decision
	}{
		{"/dashboard", true, Decision{Render: true}},
		{"/dashboard", false, Decision{Redirect: LoginPath}},
		{"/profile", false, Decision{Redirect: LoginPath}},
		{"/admin", false, Decision{Redirect: LoginPath}},
		{"/login", true, Decision{Redirect: DashboardPath}},
		{"/register", true, Decision{Redirect: DashboardPath}},
		{"/login", false, Decision{Render: true}},
		{"/register", false, Decision{Render: true}},
		{"/somewhere", true, Decision{Redirect: DashboardPath}},
		{"/somewhere", false, Decision{Redirect: LoginPath}},
		{"/healthz", false, Decision{Render: true}},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Decide(tt.path, tt.valid), "%s valid=%v", tt.path, tt.valid)
	}
}

func newRouter(now time.Time) (*gin.Engine, *clock.Fake) {
	gin.SetMode(gin.TestMode)
	fake := clock.NewFake(now)
	r := gin.New()
	r.Use(auth.Session("auth_token"))
	r.Use(Middleware(auth.NewInspector(fake), metrics.New(nil), nil))
	ok := func(c *gin.Context) { c.String(http.StatusOK, c.Request.URL.Path) }
	r.GET("/dashboard", ok)
	r.GET("/login", ok)
	r.POST("/login", ok)
	r.GET("/healthz", ok)
	r.NoRoute(ok)
	return r, fake
}

func token(t *testing.T, exp time.Time) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, auth.Claims{
		StudentID:        "S1",
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(exp)},
	}).SignedString([]byte("k"))
	require.NoError(t, err)
	return tok
}

func do(r http.Handler, method, path, tok string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if tok != "" {
		req.AddCookie(&http.Cookie{Name: "auth_token", Value: tok})
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestMiddleware_ValidCredentialOnPublicView(t *testing.T) {
	now := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	r, _ := newRouter(now)

	w := do(r, http.MethodGet, "/login", token(t, now.Add(time.Hour)))
	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, DashboardPath, w.Header().Get("Location"))
}

func TestMiddleware_InvalidCredentialOnProtectedView(t *testing.T) {
	now := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	r, _ := newRouter(now)

	w := do(r, http.MethodGet, "/dashboard", token(t, now.Add(-time.Second)))
	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, LoginPath, w.Header().Get("Location"))

	w = do(r, http.MethodGet, "/dashboard", "garbage")
	assert.Equal(t, LoginPath, w.Header().Get("Location"))
}

func TestMiddleware_ReevaluatedOnEveryRequest(t *testing.T) {
	now := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	r, fake := newRouter(now)
	tok := token(t, now.Add(time.Minute))

	w := do(r, http.MethodGet, "/dashboard", tok)
	assert.Equal(t, http.StatusOK, w.Code)

	fake.Advance(2 * time.Minute)
	w = do(r, http.MethodGet, "/dashboard", tok)
	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, LoginPath, w.Header().Get("Location"))
}

func TestMiddleware_UnknownAndExempt(t *testing.T) {
	now := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	r, _ := newRouter(now)

	w := do(r, http.MethodGet, "/elsewhere", "")
	assert.Equal(t, LoginPath, w.Header().Get("Location"))

	w = do(r, http.MethodGet, "/elsewhere", token(t, now.Add(time.Hour)))
	assert.Equal(t, DashboardPath, w.Header().Get("Location"))

	w = do(r, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestMiddleware_PostRedirectUsesSeeOther(t *testing.T) {
	now := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	r, _ := newRouter(now)

	w := do(r, http.MethodPost, "/login", token(t, now.Add(time.Hour)))
	assert.Equal(t, http.StatusSeeOther, w.Code)
	assert.Equal(t, DashboardPath, w.Header().Get("Location"))
}
