// Package capture runs the liveness burst: a fixed number of camera stills
// taken at a fixed interval, submitted together to the verification service.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"attendkiosk/internal/attendance"
	"attendkiosk/internal/auth"
	"attendkiosk/internal/clock"
	"attendkiosk/internal/faceclient"
	"attendkiosk/internal/metrics"
)

// Burst defaults.
const (
	DefaultFrames     = 3
	DefaultInterval   = 300 * time.Millisecond
	DefaultResetDelay = 2 * time.Second
)

// Verifier submits a frame burst to the remote verification service.
type Verifier interface {
	Submit(ctx context.Context, ep faceclient.Endpoint, studentID, token string, images []string) (faceclient.Result, error)
}

// Journal records finished runs.
type Journal interface {
	Record(ctx context.Context, a attendance.Attempt) error
}

// Options tune an Orchestrator. Zero values take the defaults.
type Options struct {
	Frames     int
	Interval   time.Duration
	ResetDelay time.Duration

	Clock       clock.Clock
	Credentials auth.CredentialSource

	// OnTransition observes every state change, including the Failed state
	// that is immediately followed by Idle.
	OnTransition func(State)
	// OnReset fires after the post-success delay, once state is back to Idle.
	// Dependent views should refresh here.
	OnReset func(mode Mode, studentID string)

	Journal Journal
	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// Orchestrator drives one camera through capture runs. It is not re-entrant.
type Orchestrator struct {
	camera   Camera
	verifier Verifier
	opts     Options

	mu    sync.Mutex
	state State
	reset clock.Timer
}

// New creates an orchestrator. camera may be nil, in which case every run
// fails with MsgCameraNotReady.
func New(camera Camera, verifier Verifier, opts Options) *Orchestrator {
	if opts.Frames <= 0 {
		opts.Frames = DefaultFrames
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.ResetDelay <= 0 {
		opts.ResetDelay = DefaultResetDelay
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	if opts.Credentials == nil {
		opts.Credentials = auth.ContextSource{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Orchestrator{
		camera:   camera,
		verifier: verifier,
		opts:     opts,
		state:    State{Phase: Idle},
	}
}

// State returns the current state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// run carries the bookkeeping for one capture attempt.
type run struct {
	mode      Mode
	sessionID string
	studentID string
	frames    int
	started   time.Time
}

// Run performs one capture for mode and returns the terminal state. The
// returned error is nil only when the service accepted the burst; otherwise
// it wraps one of ErrCameraNotReady, ErrNoFrame, ErrNoCredential,
// ErrRejected or faceclient.ErrTransport. ErrBusy leaves state untouched.
//
// Dispatch has no timeout of its own: a hung service keeps the orchestrator
// in Dispatching until ctx ends.
func (o *Orchestrator) Run(ctx context.Context, mode Mode) (State, error) {
	r, st, err := o.begin(ctx, mode)
	if r == nil {
		return st, err
	}
	return o.proceed(ctx, r)
}

// Start begins a run and completes it on a new goroutine. It returns
// synchronously with Capturing, or with the same error Run would give for a
// busy orchestrator or a camera that is not ready. ctx must outlive the run.
func (o *Orchestrator) Start(ctx context.Context, mode Mode) (State, error) {
	r, st, err := o.begin(ctx, mode)
	if r == nil {
		return st, err
	}
	go func() {
		if _, err := o.proceed(ctx, r); err != nil {
			o.opts.Logger.Info("capture run failed",
				slog.String("session_id", r.sessionID), slog.Any("error", err))
		}
	}()
	return st, nil
}

// begin claims the orchestrator for a new run. A nil run means the attempt
// ended here and st/err are final.
func (o *Orchestrator) begin(ctx context.Context, mode Mode) (*run, State, error) {
	o.mu.Lock()
	if !o.state.CanStart() {
		st := o.state
		o.mu.Unlock()
		return nil, st, ErrBusy
	}
	r := &run{mode: mode, sessionID: uuid.NewString(), started: o.opts.Clock.Now()}
	ready := o.camera != nil && o.camera.Ready()
	if ready {
		o.state = State{Phase: Capturing, Mode: mode, SessionID: r.sessionID, Message: msgCapturing}
	}
	st := o.state
	o.mu.Unlock()

	if !ready {
		st, err := o.fail(ctx, r, ReasonCameraNotReady, MsgCameraNotReady, ErrCameraNotReady)
		return nil, st, err
	}
	o.notify(st)
	return r, st, nil
}

func (o *Orchestrator) proceed(ctx context.Context, r *run) (State, error) {
	frames, err := o.burst(ctx)
	if err != nil {
		return o.fail(ctx, r, ReasonNoFrame, MsgNoFrame, err)
	}
	r.frames = len(frames)

	o.transition(State{Phase: Dispatching, Mode: r.mode, SessionID: r.sessionID, Message: r.mode.dispatchMessage()})
	return o.dispatch(ctx, r, frames)
}

// burst acquires opts.Frames stills, waiting opts.Interval between
// acquisitions. Any missing image aborts the burst and discards what was taken.
func (o *Orchestrator) burst(ctx context.Context) ([]Frame, error) {
	frames := make([]Frame, 0, o.opts.Frames)
	for i := 0; i < o.opts.Frames; i++ {
		if i > 0 {
			if err := o.opts.Clock.Sleep(ctx, o.opts.Interval); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrNoFrame, err)
			}
		}
		f, err := o.camera.Snapshot(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: frame %d: %v", ErrNoFrame, i+1, err)
		}
		if f.Empty() {
			return nil, fmt.Errorf("%w: frame %d empty", ErrNoFrame, i+1)
		}
		frames = append(frames, f)
	}
	return frames, nil
}

func (o *Orchestrator) dispatch(ctx context.Context, r *run, frames []Frame) (State, error) {
	tok, ok := o.opts.Credentials.Credential(ctx)
	if !ok || !auth.IsValid(tok, o.opts.Clock.Now()) {
		return o.fail(ctx, r, ReasonNoCredential, r.mode.loginMessage(), ErrNoCredential)
	}
	studentID, err := auth.StudentID(tok)
	if err != nil {
		return o.fail(ctx, r, ReasonNoCredential, r.mode.loginMessage(), fmt.Errorf("%w: %v", ErrNoCredential, err))
	}
	r.studentID = studentID

	images := make([]string, len(frames))
	for i, f := range frames {
		images[i] = f.DataURL()
	}

	start := o.opts.Clock.Now()
	res, err := o.verifier.Submit(ctx, r.mode.endpoint(), studentID, tok, images)
	o.opts.Metrics.ObserveDispatch(string(r.mode), o.opts.Clock.Now().Sub(start))
	if err != nil {
		if !errors.Is(err, faceclient.ErrTransport) {
			err = fmt.Errorf("%w: %v", faceclient.ErrTransport, err)
		}
		return o.fail(ctx, r, ReasonTransport, MsgNetworkError, err)
	}
	if !res.OK {
		msg := res.Message
		if msg == "" {
			msg = r.mode.failureFallback()
		}
		return o.fail(ctx, r, ReasonRejected, msg, fmt.Errorf("%w: status %d", ErrRejected, res.Status))
	}

	if o.camera != nil {
		if err := o.camera.Release(); err != nil {
			o.opts.Logger.Warn("camera release failed",
				slog.String("session_id", r.sessionID), slog.Any("error", err))
		}
	}

	msg := res.Message
	if msg == "" {
		msg = r.mode.successFallback()
	}
	st := State{Phase: Succeeded, Mode: r.mode, SessionID: r.sessionID, Message: msg}
	o.mu.Lock()
	o.state = st
	o.reset = o.opts.Clock.AfterFunc(o.opts.ResetDelay, func() { o.resetAfterSuccess(r) })
	o.mu.Unlock()
	o.notify(st)

	o.finish(ctx, r, st)
	return st, nil
}

// fail publishes Failed and then returns to Idle so the user can retry. The
// camera stays attached.
func (o *Orchestrator) fail(ctx context.Context, r *run, reason Reason, msg string, cause error) (State, error) {
	failed := State{Phase: Failed, Mode: r.mode, SessionID: r.sessionID, Message: msg, Reason: reason}
	idle := failed
	idle.Phase = Idle
	o.mu.Lock()
	o.state = idle
	o.mu.Unlock()
	o.notify(failed)
	o.notify(idle)

	o.finish(ctx, r, failed)
	return failed, cause
}

func (o *Orchestrator) resetAfterSuccess(r *run) {
	if o.camera != nil {
		if err := o.camera.Open(context.Background()); err != nil {
			o.opts.Logger.Warn("camera reopen failed", slog.Any("error", err))
		}
	}

	o.mu.Lock()
	if o.state.Phase != Succeeded || o.state.SessionID != r.sessionID {
		o.mu.Unlock()
		return
	}
	o.state = State{Phase: Idle, Mode: r.mode, Message: r.mode.IdleMessage()}
	o.reset = nil
	st := o.state
	o.mu.Unlock()
	o.notify(st)
	if o.opts.OnReset != nil {
		o.opts.OnReset(r.mode, r.studentID)
	}
}

// Close cancels a pending post-success reset.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.reset != nil {
		o.reset.Stop()
		o.reset = nil
	}
}

func (o *Orchestrator) transition(st State) {
	o.mu.Lock()
	o.state = st
	o.mu.Unlock()
	o.notify(st)
}

func (o *Orchestrator) notify(st State) {
	o.opts.Logger.Info("capture transition",
		slog.String("session_id", st.SessionID),
		slog.String("mode", string(st.Mode)),
		slog.String("phase", string(st.Phase)))
	if o.opts.OnTransition != nil {
		o.opts.OnTransition(st)
	}
}

// finish reports the terminal state to metrics and the journal. Journal
// failures are logged and never change the outcome.
func (o *Orchestrator) finish(ctx context.Context, r *run, st State) {
	outcome := attendance.OutcomeFailed
	if st.Phase == Succeeded {
		outcome = attendance.OutcomeSucceeded
	}
	o.opts.Metrics.ObserveCapture(string(r.mode), outcome)

	if o.opts.Journal == nil {
		return
	}
	a := attendance.Attempt{
		SessionID:  r.sessionID,
		StudentID:  r.studentID,
		Mode:       string(r.mode),
		Outcome:    outcome,
		Reason:     string(st.Reason),
		Message:    st.Message,
		Frames:     r.frames,
		StartedAt:  r.started,
		FinishedAt: o.opts.Clock.Now(),
	}
	if err := o.opts.Journal.Record(context.WithoutCancel(ctx), a); err != nil {
		o.opts.Logger.Warn("journal record failed",
			slog.String("session_id", r.sessionID), slog.Any("error", err))
	}
}
