package capture

import (
	"errors"

	"attendkiosk/internal/faceclient"
)

var (
	// ErrBusy is returned when a run is requested while another is in flight
	// or waiting for its post-success reset.
	ErrBusy = errors.New("capture already in progress")
	// ErrCameraNotReady means no camera is attached or it has been released.
	ErrCameraNotReady = errors.New("camera not ready")
	// ErrNoFrame means a frame acquisition produced no image.
	ErrNoFrame = errors.New("no frame captured")
	// ErrNoCredential means no valid session credential was available at dispatch.
	ErrNoCredential = errors.New("no valid session credential")
	// ErrRejected means the verification service answered with a failure.
	ErrRejected = errors.New("verification rejected")
)

// User-facing status messages.
const (
	MsgCameraNotReady = "Webcam is not ready."
	MsgNoFrame        = "Failed to capture image from webcam."
	MsgNetworkError   = "Network error. Please try again."
	msgCapturing      = "Capturing frames for liveness check..."
)

// Mode selects what a capture run is for.
type Mode string

const (
	ModeEnroll Mode = "enroll"
	ModeVerify Mode = "verify"
)

// ParseMode accepts "enroll" or "verify".
func ParseMode(s string) (Mode, bool) {
	switch Mode(s) {
	case ModeEnroll, ModeVerify:
		return Mode(s), true
	}
	return "", false
}

func (m Mode) endpoint() faceclient.Endpoint {
	if m == ModeEnroll {
		return faceclient.Enroll
	}
	return faceclient.Compare
}

// IdleMessage is the prompt shown before a run starts.
func (m Mode) IdleMessage() string {
	if m == ModeEnroll {
		return "Click 'Start' to capture your face."
	}
	return "Click 'Mark Attendance' to check in."
}

func (m Mode) loginMessage() string {
	if m == ModeEnroll {
		return "Please log in to enroll face data."
	}
	return "Please log in to mark attendance."
}

func (m Mode) dispatchMessage() string {
	if m == ModeEnroll {
		return "Images captured! Sending to server for processing..."
	}
	return "Images captured! Sending to server for verification..."
}

func (m Mode) successFallback() string {
	if m == ModeEnroll {
		return "Face data successfully enrolled!"
	}
	return "Attendance marked."
}

func (m Mode) failureFallback() string {
	if m == ModeEnroll {
		return "Face enrollment failed."
	}
	return "Attendance failed."
}

// Phase is the orchestrator's lifecycle position.
type Phase string

const (
	Idle        Phase = "idle"
	Capturing   Phase = "capturing"
	Dispatching Phase = "dispatching"
	Succeeded   Phase = "succeeded"
	Failed      Phase = "failed"
)

// Reason classifies a Failed state.
type Reason string

const (
	ReasonNone           Reason = ""
	ReasonCameraNotReady Reason = "camera_not_ready"
	ReasonNoFrame        Reason = "frame_unavailable"
	ReasonNoCredential   Reason = "no_credential"
	ReasonRejected       Reason = "rejected"
	ReasonTransport      Reason = "transport"
)

// State is a snapshot of the orchestrator. Reason is set only when Phase is
// Failed, or on the Idle state that immediately follows a failure.
type State struct {
	Phase     Phase  `json:"phase"`
	Mode      Mode   `json:"mode,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	Message   string `json:"message"`
	Reason    Reason `json:"reason,omitempty"`
}

// Busy reports whether the phase blocks a new run from the triggering control.
func (s State) Busy() bool {
	return s.Phase == Capturing || s.Phase == Dispatching
}

// CanStart reports whether a new run may begin.
func (s State) CanStart() bool {
	return s.Phase == Idle || s.Phase == Failed
}
