package faceclient

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
)

// ErrTransport marks failures where no structured service response was
// available: unreachable host, cancelled request or an undecodable body.
var ErrTransport = errors.New("verification service unreachable")

// Endpoint selects the verification operation.
type Endpoint string

const (
	// Enroll stores reference face data for a student.
	Enroll Endpoint = "add-face-data"
	// Compare matches live frames against stored face data and marks attendance.
	Compare Endpoint = "compare-face-data"
)

// Result is the service verdict for a submitted burst.
type Result struct {
	OK      bool
	Status  int
	Message string
}

// Client calls the remote verification service.
type Client struct {
	BaseURL string
	HTTP    *http.Client
	Skip    bool
}

// New creates a client. No request timeout is set: a hung verification call
// is left to the caller's context.
func New(baseURL string, skip bool) *Client {
	return &Client{
		BaseURL: baseURL,
		Skip:    skip,
		HTTP:    &http.Client{},
	}
}

// Submit posts the ordered frame burst to the endpoint for studentID,
// presenting token as a bearer credential. A non-2xx answer carrying a
// message is a rejection (OK=false, nil error); anything without a
// structured answer wraps ErrTransport.
func (c *Client) Submit(ctx context.Context, ep Endpoint, studentID, token string, images []string) (Result, error) {
	if c.Skip {
		msg := "Face matched! Attendance marked successfully"
		if ep == Enroll {
			msg = "Face data enrolled successfully with anti-spoofing check"
		}
		return Result{OK: true, Status: http.StatusOK, Message: msg}, nil
	}
	if ep != Enroll && ep != Compare {
		return Result{}, fmt.Errorf("unknown endpoint %q", ep)
	}

	body, err := json.Marshal(map[string][]string{"images": images})
	if err != nil {
		return Result{}, err
	}
	endpoint := c.BaseURL + "/" + string(ep) + "/" + url.PathEscape(studentID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return Result{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	defer resp.Body.Close()

	var out struct {
		Message string `json:"message"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Result{Status: resp.StatusCode}, fmt.Errorf("%w: decode response (%s): %v", ErrTransport, resp.Status, err)
	}
	return Result{
		OK:      resp.StatusCode >= 200 && resp.StatusCode < 300,
		Status:  resp.StatusCode,
		Message: out.Message,
	}, nil
}

// Presence reports whether studentID has enrolled face data.
func (c *Client) Presence(ctx context.Context, studentID, token string) (bool, error) {
	if c.Skip {
		return true, nil
	}
	var out struct {
		HasFaceData bool `json:"hasFaceData"`
	}
	if err := c.getJSON(ctx, "/check-face-data-presence/"+url.PathEscape(studentID), token, &out); err != nil {
		return false, err
	}
	return out.HasFaceData, nil
}

// TodayMarked reports whether studentID's attendance is already recorded today.
func (c *Client) TodayMarked(ctx context.Context, studentID, token string) (bool, error) {
	if c.Skip {
		return false, nil
	}
	var out struct {
		IsAttendanceMarked bool `json:"isAttendanceMarked"`
	}
	if err := c.getJSON(ctx, "/is-todays-attendance-marked/"+url.PathEscape(studentID), token, &out); err != nil {
		return false, err
	}
	return out.IsAttendanceMarked, nil
}

// Health checks if the service is reachable.
func (c *Client) Health(ctx context.Context) error {
	if c.Skip {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/api/attendance/today", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient().Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		return fmt.Errorf("verification service unhealthy: %s", resp.Status)
	}
	return nil
}

func (c *Client) getJSON(ctx context.Context, path, token string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("verification service error %s: %s", resp.Status, string(bodyBytes))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode response: %v", ErrTransport, err)
	}
	return nil
}

func (c *Client) httpClient() *http.Client {
	if c.HTTP == nil {
		return http.DefaultClient
	}
	return c.HTTP
}
