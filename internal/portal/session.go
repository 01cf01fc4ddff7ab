package portal

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"attendkiosk/internal/auth"
	"attendkiosk/internal/backend"
	"attendkiosk/internal/guard"
)

type loginRequest struct {
	StudentID string `json:"studentId" form:"studentId" binding:"required"`
	Password  string `json:"password"  form:"password"  binding:"required"`
}

type registerRequest struct {
	StudentID string `json:"studentId" form:"studentId" binding:"required"`
	Name      string `json:"name"      form:"name"      binding:"required"`
	Email     string `json:"email"     form:"email"     binding:"required,email"`
	Password  string `json:"password"  form:"password"  binding:"required"`
}

func (s *Server) loginView(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"view": "login", "fields": []string{"studentId", "password"}})
}

func (s *Server) registerView(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"view": "register", "fields": []string{"studentId", "name", "email", "password"}})
}

func (s *Server) login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing studentId or password"})
		return
	}
	tok, err := s.opts.Accounts.Login(c.Request.Context(), strings.TrimSpace(req.StudentID), req.Password)
	if err != nil {
		s.backendError(c, err, "Login failed.")
		return
	}
	if !s.opts.Inspector.Valid(tok) {
		s.logger.Warn("login returned an unusable token", slog.String("student_id", req.StudentID))
		c.JSON(http.StatusBadGateway, gin.H{"error": "Login failed."})
		return
	}

	s.setCookie(c, tok)
	s.opts.Credentials.Set(tok)
	s.logger.Info("student logged in", slog.String("student_id", req.StudentID))
	c.JSON(http.StatusOK, gin.H{"message": "Login successful!", "redirect": guard.DashboardPath})
}

func (s *Server) register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing data"})
		return
	}
	msg, err := s.opts.Accounts.Register(c.Request.Context(), backend.Registration{
		StudentID: strings.TrimSpace(req.StudentID),
		Name:      req.Name,
		Email:     req.Email,
		Password:  req.Password,
	})
	if err != nil {
		s.backendError(c, err, "Registration failed.")
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": msg, "redirect": guard.LoginPath})
}

func (s *Server) logout(c *gin.Context) {
	s.clearCookie(c)
	s.opts.Credentials.Clear()
	c.Redirect(http.StatusSeeOther, guard.LoginPath)
}

func (s *Server) setCookie(c *gin.Context, tok string) {
	maxAge := 0
	if claims, err := auth.Inspect(tok); err == nil {
		if d := claims.Expiry().Sub(s.opts.Inspector.Clock.Now()); d > 0 {
			maxAge = int(d.Seconds())
		}
	}
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(s.opts.CookieName, tok, maxAge, "/", "", s.opts.SecureCookie, true)
}

func (s *Server) clearCookie(c *gin.Context) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(s.opts.CookieName, "", -1, "/", "", s.opts.SecureCookie, true)
}
