package portal

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"attendkiosk/internal/backend"
	"attendkiosk/internal/schedule"
)

func (s *Server) admin(c *gin.Context) {
	ctx := c.Request.Context()
	withHistory := c.Query("view") == "history"
	var (
		today   []string
		history []backend.DayRecord
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		today, err = s.opts.Accounts.TodayAttendance(gctx)
		return err
	})
	if withHistory {
		g.Go(func() (err error) {
			history, err = s.opts.Accounts.AttendanceHistory(gctx)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		s.backendError(c, err, "Failed to fetch attendance.")
		return
	}
	if today == nil {
		today = []string{}
	}
	resp := gin.H{"today": today, "sections": schedule.Sections}
	if withHistory {
		if history == nil {
			history = []backend.DayRecord{}
		}
		resp["history"] = history
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) adminSchedule(c *gin.Context) {
	section := c.DefaultQuery("section", schedule.Sections[0])
	if !schedule.ValidSection(section) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown section"})
		return
	}
	m, err := s.opts.Accounts.AdminSchedule(c.Request.Context(), section)
	switch {
	case backend.IsStatus(err, http.StatusNotFound):
		c.JSON(http.StatusOK, gin.H{
			"section":  section,
			"found":    false,
			"message":  "No schedule found for this section. Please create one.",
			"schedule": schedule.DefaultTemplate(),
		})
		return
	case err != nil:
		s.backendError(c, err, "Could not fetch schedule.")
		return
	}
	if m == nil {
		m = schedule.Map{}
	}
	c.JSON(http.StatusOK, gin.H{"section": section, "found": true, "schedule": m})
}

type saveScheduleRequest struct {
	Section  string       `json:"section"  binding:"required"`
	Schedule schedule.Map `json:"schedule" binding:"required"`
}

func (s *Server) saveAdminSchedule(c *gin.Context) {
	tok, _, ok := s.session(c)
	if !ok {
		return
	}
	var req saveScheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "section and schedule required"})
		return
	}
	if !schedule.ValidSection(req.Section) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown section"})
		return
	}
	for slot, activity := range req.Schedule {
		if strings.TrimSpace(activity) == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Activity is required", "slot": slot})
			return
		}
	}
	msg, err := s.opts.Accounts.SaveAdminSchedule(c.Request.Context(), tok, req.Section, req.Schedule)
	if err != nil {
		s.backendError(c, err, "Failed to save schedule.")
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": msg})
}
