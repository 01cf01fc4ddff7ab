package capture

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"attendkiosk/internal/attendance"
	"attendkiosk/internal/auth"
	"attendkiosk/internal/clock"
	"attendkiosk/internal/faceclient"
)

var epoch = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

type fakeCamera struct {
	mu       sync.Mutex
	clk      *clock.Fake
	ready    bool
	failAt   int // 1-based snapshot that yields no image
	calls    int
	shotAt   []time.Time
	released int
	opened   int
}

func (c *fakeCamera) Ready() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ready
}

func (c *fakeCamera) Snapshot(ctx context.Context) (Frame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	c.shotAt = append(c.shotAt, c.clk.Now())
	if c.calls == c.failAt {
		return Frame{}, nil
	}
	return Frame{ContentType: "image/png", Data: []byte{byte('0' + c.calls)}}, nil
}

func (c *fakeCamera) Open(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.opened++
	c.ready = true
	return nil
}

func (c *fakeCamera) Release() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.released++
	c.ready = false
	return nil
}

type submission struct {
	ep        faceclient.Endpoint
	studentID string
	token     string
	images    []string
}

type fakeVerifier struct {
	mu      sync.Mutex
	subs    []submission
	res     faceclient.Result
	err     error
	block   chan struct{}
	entered chan struct{}
}

func (v *fakeVerifier) Submit(ctx context.Context, ep faceclient.Endpoint, studentID, token string, images []string) (faceclient.Result, error) {
	v.mu.Lock()
	v.subs = append(v.subs, submission{ep: ep, studentID: studentID, token: token, images: images})
	block, entered := v.block, v.entered
	v.mu.Unlock()
	if entered != nil {
		close(entered)
	}
	if block != nil {
		<-block
	}
	return v.res, v.err
}

func (v *fakeVerifier) submissions() []submission {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]submission(nil), v.subs...)
}

type recordingJournal struct {
	mu       sync.Mutex
	attempts []attendance.Attempt
}

func (j *recordingJournal) Record(ctx context.Context, a attendance.Attempt) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.attempts = append(j.attempts, a)
	return nil
}

func validToken(t *testing.T, studentID string) string {
	t.Helper()
	claims := auth.Claims{
		StudentID:        studentID,
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(epoch.Add(time.Hour))},
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("secret"))
	require.NoError(t, err)
	return tok
}

type fixture struct {
	clk      *clock.Fake
	cam      *fakeCamera
	verifier *fakeVerifier
	journal  *recordingJournal
	orch     *Orchestrator

	mu     sync.Mutex
	states []State
	resets []string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		clk:      clock.NewFake(epoch),
		verifier: &fakeVerifier{res: faceclient.Result{OK: true, Status: 200, Message: "Face matched! Attendance marked successfully"}},
		journal:  &recordingJournal{},
	}
	f.cam = &fakeCamera{clk: f.clk, ready: true}
	f.orch = New(f.cam, f.verifier, Options{
		Clock:   f.clk,
		Journal: f.journal,
		OnTransition: func(st State) {
			f.mu.Lock()
			f.states = append(f.states, st)
			f.mu.Unlock()
		},
		OnReset: func(mode Mode, studentID string) {
			f.mu.Lock()
			f.resets = append(f.resets, studentID)
			f.mu.Unlock()
		},
	})
	t.Cleanup(f.orch.Close)
	return f
}

func (f *fixture) phases() []Phase {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Phase, len(f.states))
	for i, st := range f.states {
		out[i] = st.Phase
	}
	return out
}

func TestRun_DispatchesThreeFramesInOrder(t *testing.T) {
	f := newFixture(t)
	tok := validToken(t, "S42")

	st, err := f.orch.Run(auth.WithCredential(context.Background(), tok), ModeVerify)
	require.NoError(t, err)
	assert.Equal(t, Succeeded, st.Phase)
	assert.Equal(t, "Face matched! Attendance marked successfully", st.Message)

	subs := f.verifier.submissions()
	require.Len(t, subs, 1)
	assert.Equal(t, faceclient.Compare, subs[0].ep)
	assert.Equal(t, "S42", subs[0].studentID)
	assert.Equal(t, tok, subs[0].token)
	assert.Equal(t, []string{
		"data:image/png;base64,MQ==",
		"data:image/png;base64,Mg==",
		"data:image/png;base64,Mw==",
	}, subs[0].images)

	assert.Equal(t, []time.Duration{DefaultInterval, DefaultInterval}, f.clk.Sleeps())
	require.Len(t, f.cam.shotAt, 3)
	assert.Equal(t, epoch, f.cam.shotAt[0], "no wait before the first frame")
	assert.GreaterOrEqual(t, f.cam.shotAt[2].Sub(f.cam.shotAt[0]), 2*DefaultInterval)

	assert.Equal(t, []Phase{Capturing, Dispatching, Succeeded}, f.phases())
}

func TestRun_SecondFrameMissingAbortsBeforeDispatch(t *testing.T) {
	f := newFixture(t)
	f.cam.failAt = 2

	st, err := f.orch.Run(auth.WithCredential(context.Background(), validToken(t, "S42")), ModeVerify)
	require.ErrorIs(t, err, ErrNoFrame)
	assert.Equal(t, Failed, st.Phase)
	assert.Equal(t, ReasonNoFrame, st.Reason)
	assert.Equal(t, MsgNoFrame, st.Message)

	assert.Empty(t, f.verifier.submissions())
	assert.Equal(t, 2, f.cam.calls, "remaining frames are not captured")
	assert.Zero(t, f.cam.released)
	assert.Equal(t, []Phase{Capturing, Failed, Idle}, f.phases())

	cur := f.orch.State()
	assert.Equal(t, Idle, cur.Phase)
	assert.Equal(t, MsgNoFrame, cur.Message)
}

func TestRun_CameraNotReady(t *testing.T) {
	f := newFixture(t)
	f.cam.ready = false

	st, err := f.orch.Run(auth.WithCredential(context.Background(), validToken(t, "S42")), ModeEnroll)
	require.ErrorIs(t, err, ErrCameraNotReady)
	assert.Equal(t, Failed, st.Phase)
	assert.Equal(t, MsgCameraNotReady, st.Message)
	assert.Zero(t, f.cam.calls)
	assert.Empty(t, f.clk.Sleeps())
	assert.Empty(t, f.verifier.submissions())
}

func TestRun_NilCamera(t *testing.T) {
	o := New(nil, &fakeVerifier{}, Options{Clock: clock.NewFake(epoch)})
	st, err := o.Run(context.Background(), ModeVerify)
	require.ErrorIs(t, err, ErrCameraNotReady)
	assert.Equal(t, MsgCameraNotReady, st.Message)
}

func TestRun_NoCredential(t *testing.T) {
	tests := []struct {
		name string
		ctx  context.Context
	}{
		{name: "absent", ctx: context.Background()},
		{name: "expired", ctx: auth.WithCredential(context.Background(), func() string {
			claims := auth.Claims{StudentID: "S42", RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(epoch.Add(-time.Minute))}}
			tok, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("secret"))
			return tok
		}())},
		{name: "garbage", ctx: auth.WithCredential(context.Background(), "garbage")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			st, err := f.orch.Run(tt.ctx, ModeVerify)
			require.ErrorIs(t, err, ErrNoCredential)
			assert.Equal(t, ReasonNoCredential, st.Reason)
			assert.Equal(t, "Please log in to mark attendance.", st.Message)
			assert.Empty(t, f.verifier.submissions())
		})
	}
}

func TestRun_RejectionKeepsCameraAttached(t *testing.T) {
	f := newFixture(t)
	f.verifier.res = faceclient.Result{OK: false, Status: 401, Message: "Face does not match or is a spoof"}

	st, err := f.orch.Run(auth.WithCredential(context.Background(), validToken(t, "S42")), ModeVerify)
	require.ErrorIs(t, err, ErrRejected)
	assert.Equal(t, Failed, st.Phase)
	assert.Equal(t, "Face does not match or is a spoof", st.Message)
	assert.Zero(t, f.cam.released)
	assert.Zero(t, f.clk.Pending())

	// immediate retry is allowed
	f.verifier.res = faceclient.Result{OK: true, Status: 200, Message: "ok"}
	st, err = f.orch.Run(auth.WithCredential(context.Background(), validToken(t, "S42")), ModeVerify)
	require.NoError(t, err)
	assert.Equal(t, Succeeded, st.Phase)
}

func TestRun_RejectionWithoutMessageUsesFallback(t *testing.T) {
	f := newFixture(t)
	f.verifier.res = faceclient.Result{OK: false, Status: 400}

	st, err := f.orch.Run(auth.WithCredential(context.Background(), validToken(t, "S42")), ModeEnroll)
	require.ErrorIs(t, err, ErrRejected)
	assert.Equal(t, "Face enrollment failed.", st.Message)
}

func TestRun_TransportFailure(t *testing.T) {
	f := newFixture(t)
	f.verifier.err = errors.New("connection refused")

	st, err := f.orch.Run(auth.WithCredential(context.Background(), validToken(t, "S42")), ModeVerify)
	require.ErrorIs(t, err, faceclient.ErrTransport)
	assert.Equal(t, ReasonTransport, st.Reason)
	assert.Equal(t, MsgNetworkError, st.Message)
	assert.Zero(t, f.cam.released)
}

func TestRun_SuccessReleasesCameraAndResets(t *testing.T) {
	f := newFixture(t)
	f.verifier.res = faceclient.Result{OK: true, Status: 201}

	st, err := f.orch.Run(auth.WithCredential(context.Background(), validToken(t, "S42")), ModeEnroll)
	require.NoError(t, err)
	assert.Equal(t, "Face data successfully enrolled!", st.Message)
	assert.Equal(t, 1, f.cam.released)
	assert.False(t, f.cam.Ready())

	_, err = f.orch.Run(auth.WithCredential(context.Background(), validToken(t, "S42")), ModeEnroll)
	assert.ErrorIs(t, err, ErrBusy, "runs are blocked until the reset")

	f.clk.Advance(DefaultResetDelay - time.Millisecond)
	assert.Equal(t, Succeeded, f.orch.State().Phase)
	assert.Empty(t, f.resets)

	f.clk.Advance(time.Millisecond)
	cur := f.orch.State()
	assert.Equal(t, Idle, cur.Phase)
	assert.Equal(t, ModeEnroll.IdleMessage(), cur.Message)
	assert.Equal(t, []string{"S42"}, f.resets)
	assert.Equal(t, 1, f.cam.opened)
	assert.True(t, f.cam.Ready())
}

func TestRun_BusyWhileDispatching(t *testing.T) {
	f := newFixture(t)
	f.verifier.block = make(chan struct{})
	f.verifier.entered = make(chan struct{})

	done := make(chan error, 1)
	go func() {
		_, err := f.orch.Run(auth.WithCredential(context.Background(), validToken(t, "S42")), ModeVerify)
		done <- err
	}()
	<-f.verifier.entered

	assert.True(t, f.orch.State().Busy())
	st, err := f.orch.Run(auth.WithCredential(context.Background(), validToken(t, "S42")), ModeVerify)
	assert.ErrorIs(t, err, ErrBusy)
	assert.Equal(t, Dispatching, st.Phase)

	close(f.verifier.block)
	require.NoError(t, <-done)
	assert.Len(t, f.verifier.submissions(), 1)
}

func TestRun_JournalsEveryAttempt(t *testing.T) {
	f := newFixture(t)
	ctx := auth.WithCredential(context.Background(), validToken(t, "S42"))

	f.cam.failAt = 1
	_, err := f.orch.Run(ctx, ModeVerify)
	require.Error(t, err)

	f.cam.failAt = 0
	_, err = f.orch.Run(ctx, ModeVerify)
	require.NoError(t, err)

	require.Len(t, f.journal.attempts, 2)
	first, second := f.journal.attempts[0], f.journal.attempts[1]
	assert.Equal(t, attendance.OutcomeFailed, first.Outcome)
	assert.Equal(t, string(ReasonNoFrame), first.Reason)
	assert.Zero(t, first.Frames)
	assert.Equal(t, attendance.OutcomeSucceeded, second.Outcome)
	assert.Equal(t, "S42", second.StudentID)
	assert.Equal(t, 3, second.Frames)
	assert.NotEqual(t, first.SessionID, second.SessionID)
	assert.Equal(t, epoch, second.StartedAt)
	assert.Equal(t, epoch.Add(2*DefaultInterval), second.FinishedAt)
}

func TestRun_CustomBurst(t *testing.T) {
	f := newFixture(t)
	o := New(f.cam, f.verifier, Options{Clock: f.clk, Frames: 5, Interval: 100 * time.Millisecond})
	defer o.Close()

	_, err := o.Run(auth.WithCredential(context.Background(), validToken(t, "S42")), ModeVerify)
	require.NoError(t, err)
	assert.Len(t, f.verifier.submissions()[0].images, 5)
	assert.Len(t, f.clk.Sleeps(), 4)
}

func TestClose_CancelsPendingReset(t *testing.T) {
	f := newFixture(t)
	_, err := f.orch.Run(auth.WithCredential(context.Background(), validToken(t, "S42")), ModeVerify)
	require.NoError(t, err)
	require.Equal(t, 1, f.clk.Pending())

	f.orch.Close()
	assert.Zero(t, f.clk.Pending())
	f.clk.Advance(time.Minute)
	assert.Equal(t, Succeeded, f.orch.State().Phase)
	assert.Empty(t, f.resets)
}

func TestStart_RunsInBackground(t *testing.T) {
	f := newFixture(t)
	f.verifier.block = make(chan struct{})
	f.verifier.entered = make(chan struct{})
	ctx := auth.WithCredential(context.Background(), validToken(t, "S42"))

	st, err := f.orch.Start(ctx, ModeVerify)
	require.NoError(t, err)
	assert.Equal(t, Capturing, st.Phase)

	_, err = f.orch.Start(ctx, ModeVerify)
	assert.ErrorIs(t, err, ErrBusy)

	<-f.verifier.entered
	close(f.verifier.block)
	assert.Eventually(t, func() bool {
		return f.orch.State().Phase == Succeeded
	}, time.Second, 5*time.Millisecond)
}

func TestStart_CameraNotReadyIsSynchronous(t *testing.T) {
	f := newFixture(t)
	f.cam.ready = false

	st, err := f.orch.Start(context.Background(), ModeEnroll)
	require.ErrorIs(t, err, ErrCameraNotReady)
	assert.Equal(t, Failed, st.Phase)
	assert.Equal(t, Idle, f.orch.State().Phase)
}
