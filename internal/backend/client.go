// Package backend calls the attendance server's account, profile, schedule
// and attendance endpoints.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"attendkiosk/internal/schedule"
)

// APIError is a non-2xx answer from the server.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("backend: status %d", e.Status)
	}
	return fmt.Sprintf("backend: status %d: %s", e.Status, e.Message)
}

// IsStatus reports whether err is an APIError with the given status.
func IsStatus(err error, status int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == status
}

// Registration is a new student account.
type Registration struct {
	StudentID string `json:"studentId"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	Password  string `json:"password"`
}

// Profile is the public part of a student record.
type Profile struct {
	StudentID string `json:"studentId"`
	Name      string `json:"name"`
	Email     string `json:"email"`
}

// DayRecord lists who checked in on a date (YYYY-MM-DD).
type DayRecord struct {
	Date       string   `json:"date"`
	StudentIDs []string `json:"student_ids"`
}

// Client talks to the attendance server.
type Client struct {
	BaseURL string
	HTTP    *http.Client
}

// New creates a client with a 10s request timeout.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		HTTP:    &http.Client{Timeout: 10 * time.Second},
	}
}

// Login exchanges credentials for a session token.
func (c *Client) Login(ctx context.Context, studentID, password string) (string, error) {
	var out struct {
		Token string `json:"token"`
	}
	in := map[string]string{"studentId": studentID, "password": password}
	if err := c.do(ctx, http.MethodPost, "/login", "", in, &out); err != nil {
		return "", err
	}
	if out.Token == "" {
		return "", errors.New("backend: login response carried no token")
	}
	return out.Token, nil
}

// Register creates an account and returns the server's message.
func (c *Client) Register(ctx context.Context, r Registration) (string, error) {
	var out struct {
		Message string `json:"message"`
	}
	if err := c.do(ctx, http.MethodPost, "/register", "", r, &out); err != nil {
		return "", err
	}
	return out.Message, nil
}

// Profile fetches the token holder's profile.
func (c *Client) Profile(ctx context.Context, token string) (Profile, error) {
	var p Profile
	err := c.do(ctx, http.MethodGet, "/profile", token, nil, &p)
	return p, err
}

// StudentSchedule fetches the raw schedule for studentID.
func (c *Client) StudentSchedule(ctx context.Context, studentID, token string) (schedule.Map, error) {
	var out struct {
		Schedule schedule.Map `json:"schedule"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/schedules/"+url.PathEscape(studentID), token, nil, &out); err != nil {
		return nil, err
	}
	return out.Schedule, nil
}

// AdminSchedule fetches a section's schedule. A section without one yields
// an APIError with status 404.
func (c *Client) AdminSchedule(ctx context.Context, section string) (schedule.Map, error) {
	var out struct {
		Schedule schedule.Map `json:"schedule"`
	}
	q := url.Values{"section": {section}}
	if err := c.do(ctx, http.MethodGet, "/api/admin/schedules?"+q.Encode(), "", nil, &out); err != nil {
		return nil, err
	}
	return out.Schedule, nil
}

// SaveAdminSchedule stores a section's schedule and returns the server's message.
func (c *Client) SaveAdminSchedule(ctx context.Context, token, section string, m schedule.Map) (string, error) {
	in := struct {
		Section  string       `json:"section"`
		Schedule schedule.Map `json:"schedule"`
	}{Section: section, Schedule: m}
	var out struct {
		Message string `json:"message"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/admin/schedules", token, in, &out); err != nil {
		return "", err
	}
	return out.Message, nil
}

// TodayAttendance lists students who checked in today.
func (c *Client) TodayAttendance(ctx context.Context) ([]string, error) {
	var out struct {
		StudentIDs []string `json:"student_ids"`
		Students   []string `json:"students"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/attendance/today", "", nil, &out); err != nil {
		return nil, err
	}
	if len(out.StudentIDs) == 0 {
		return out.Students, nil
	}
	return out.StudentIDs, nil
}

// AttendanceHistory lists every recorded day, newest first. An empty
// history is not an error.
func (c *Client) AttendanceHistory(ctx context.Context) ([]DayRecord, error) {
	var out struct {
		History []DayRecord `json:"history"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/attendance/history", "", nil, &out); err != nil {
		if IsStatus(err, http.StatusNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return out.History, nil
}

func (c *Client) do(ctx context.Context, method, path, token string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("backend: encode request: %w", err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	client := c.HTTP
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("backend %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("backend %s %s: read body: %w", method, path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var msg struct {
			Message string `json:"message"`
		}
		_ = json.Unmarshal(raw, &msg)
		return &APIError{Status: resp.StatusCode, Message: msg.Message}
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("backend %s %s: decode response: %w", method, path, err)
	}
	return nil
}
