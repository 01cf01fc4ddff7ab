package portal

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"attendkiosk/internal/attendance"
	"attendkiosk/internal/capture"
	"attendkiosk/internal/schedule"
)

const statusKeyPrefix = "kiosk:status:"

// faceStatus is the cached part of the dashboard.
type faceStatus struct {
	HasFaceData      bool `json:"has_face_data"`
	AttendanceMarked bool `json:"attendance_marked"`
}

type dashboardView struct {
	StudentID     string           `json:"student_id"`
	Status        *faceStatus      `json:"status,omitempty"`
	StatusError   string           `json:"status_error,omitempty"`
	Schedule      []schedule.Entry `json:"schedule"`
	ScheduleError string           `json:"schedule_error,omitempty"`
	Capture       capture.State    `json:"capture"`
	// Action is the capture the student should take next.
	Action capture.Mode `json:"action,omitempty"`
}

func (s *Server) dashboard(c *gin.Context) {
	tok, studentID, ok := s.session(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	view := dashboardView{StudentID: studentID, Schedule: []schedule.Entry{}, Capture: s.opts.Capture.State()}

	st, err := s.status(ctx, studentID, tok)
	if err != nil {
		s.logger.Warn("dashboard status unavailable", slog.String("student_id", studentID), slog.Any("error", err))
		view.StatusError = capture.MsgNetworkError
	} else {
		view.Status = &st
		switch {
		case !st.HasFaceData:
			view.Action = capture.ModeEnroll
		case !st.AttendanceMarked:
			view.Action = capture.ModeVerify
		}
	}

	entries, err := s.opts.Schedules.ForStudent(ctx, studentID, tok)
	if err != nil {
		s.logger.Warn("schedule unavailable", slog.String("student_id", studentID), slog.Any("error", err))
		view.ScheduleError = "Could not load schedule."
	} else {
		view.Schedule = entries
	}
	c.JSON(http.StatusOK, view)
}

// status returns enrollment and check-in flags, cached per student until
// StatusTTL passes or Refresh drops them.
func (s *Server) status(ctx context.Context, studentID, tok string) (faceStatus, error) {
	key := statusKeyPrefix + studentID
	if b, err := s.opts.Cache.Get(ctx, key); err != nil {
		s.logger.Warn("status cache get failed", slog.Any("error", err))
	} else if b != nil {
		var st faceStatus
		if err := json.Unmarshal(b, &st); err == nil {
			return st, nil
		}
	}

	var st faceStatus
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		has, err := s.opts.Faces.Presence(gctx, studentID, tok)
		st.HasFaceData = has
		return err
	})
	g.Go(func() error {
		marked, err := s.opts.Faces.TodayMarked(gctx, studentID, tok)
		st.AttendanceMarked = marked
		return err
	})
	if err := g.Wait(); err != nil {
		return faceStatus{}, err
	}

	if b, err := json.Marshal(st); err == nil {
		if err := s.opts.Cache.Set(ctx, key, b, s.opts.StatusTTL); err != nil {
			s.logger.Warn("status cache set failed", slog.Any("error", err))
		}
	}
	return st, nil
}

// Refresh drops state that a finished capture made stale. It is the
// orchestrator's reset hook.
func (s *Server) Refresh(mode capture.Mode, studentID string) {
	if studentID == "" {
		return
	}
	if _, err := s.opts.Cache.Delete(context.Background(), statusKeyPrefix+studentID); err != nil {
		s.logger.Warn("status cache delete failed", slog.String("student_id", studentID), slog.Any("error", err))
	}
	s.logger.Info("dashboard refreshed", slog.String("student_id", studentID), slog.String("mode", string(mode)))
}

func (s *Server) captureState(c *gin.Context) {
	st := s.opts.Capture.State()
	c.JSON(http.StatusOK, gin.H{"state": st, "busy": st.Busy(), "can_start": st.CanStart()})
}

func (s *Server) startCapture(c *gin.Context) {
	mode, ok := capture.ParseMode(c.Param("mode"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown capture mode"})
		return
	}
	// The run outlives the request but keeps its credential.
	ctx := context.WithoutCancel(c.Request.Context())
	st, err := s.opts.Capture.Start(ctx, mode)
	switch {
	case errors.Is(err, capture.ErrBusy):
		c.JSON(http.StatusConflict, gin.H{"state": st, "error": "capture already in progress"})
	case err != nil:
		c.JSON(http.StatusServiceUnavailable, gin.H{"state": st, "error": st.Message})
	default:
		c.JSON(http.StatusAccepted, gin.H{"state": st})
	}
}

func (s *Server) profile(c *gin.Context) {
	tok, studentID, ok := s.session(c)
	if !ok {
		return
	}
	p, err := s.opts.Accounts.Profile(c.Request.Context(), tok)
	if err != nil {
		s.backendError(c, err, "Profile not found")
		return
	}
	resp := gin.H{"profile": p}
	if s.opts.Attempts != nil {
		attempts, err := s.opts.Attempts.Recent(c.Request.Context(), studentID, 10, 0)
		if err != nil {
			s.logger.Warn("recent attempts unavailable", slog.String("student_id", studentID), slog.Any("error", err))
			attempts = nil
		}
		if attempts == nil {
			attempts = []attendance.Attempt{}
		}
		resp["recent_attempts"] = attempts
	}
	c.JSON(http.StatusOK, resp)
}
