package engine

import (
	"context"
	"encoding/base64"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davoodhazareh-sketch/alaem-shenasi-server/backend"
	"github.com/davoodhazareh-sketch/alaem-shenasi-server/live"
	"github.com/davoodhazareh-sketch/alaem-shenasi-server/pcm"
	"github.com/davoodhazareh-sketch/alaem-shenasi-server/report"
)

type fakeCapturer struct{}

func (f *fakeCapturer) Initialize() error { return nil }
func (f *fakeCapturer) Terminate()        {}
func (f *fakeCapturer) Open() error       { return nil }
func (f *fakeCapturer) Close() error      { return nil }
func (f *fakeCapturer) StartCapture(ctx context.Context, frames chan<- []float32) error {
	<-ctx.Done()
	return ctx.Err()
}

type fakeStream struct{}

func (f *fakeStream) SendAudio(chunk pcm.Chunk) error { return nil }
func (f *fakeStream) Close() error                    { return nil }

type fakeDialer struct {
	err error

	mu       sync.Mutex
	handlers live.EventHandlers
}

func (f *fakeDialer) Dial(ctx context.Context, cfg live.StreamConfig, handlers live.EventHandlers) (live.Stream, error) {
	f.mu.Lock()
	f.handlers = handlers
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return &fakeStream{}, nil
}

func (f *fakeDialer) remote() live.EventHandlers {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.handlers
}

type fakeScheduler struct{}

func (f *fakeScheduler) Schedule(samples []float32) time.Duration {
	return pcm.Duration(len(samples), pcm.PlaybackRate)
}

func (f *fakeScheduler) Flush() {}

type fakeDiagnoser struct {
	diagnosis *report.Diagnosis
	err       error
	prompts   []string
}

func (f *fakeDiagnoser) Generate(ctx context.Context, prompt string, images []report.Image) (*report.Diagnosis, error) {
	f.prompts = append(f.prompts, prompt)
	return f.diagnosis, f.err
}

type fakeHistory struct {
	user     *backend.User
	loginErr error
	saveErr  error
	saved    []backend.Report
	listed   []backend.Report
}

func (f *fakeHistory) Register(ctx context.Context, username, password string) (*backend.User, error) {
	return f.user, f.loginErr
}

func (f *fakeHistory) Login(ctx context.Context, username, password string) (*backend.User, error) {
	return f.user, f.loginErr
}

func (f *fakeHistory) SaveReport(ctx context.Context, token string, r backend.Report) (*backend.Report, error) {
	if f.saveErr != nil {
		return nil, f.saveErr
	}
	f.saved = append(f.saved, r)
	return &r, nil
}

func (f *fakeHistory) ListReports(ctx context.Context, token, userID string) ([]backend.Report, error) {
	return f.listed, nil
}

func newTestEngine(cfg Config, diagnoser *fakeDiagnoser, history *fakeHistory) (*Engine, *fakeDialer) {
	dialer := &fakeDialer{}
	e := New(cfg, dialer, &fakeCapturer{}, &fakeScheduler{}, live.StreamConfig{
		Model:   "test-model",
		Voice:   "Puck",
		Persona: "test persona",
	}, diagnoser, history)
	return e, dialer
}

func TestDiagnoseWithoutLoginSkipsHistory(t *testing.T) {
	diagnoser := &fakeDiagnoser{diagnosis: &report.Diagnosis{Condition: "flu"}}
	history := &fakeHistory{}
	e, _ := newTestEngine(Config{}, diagnoser, history)

	diagnosis, err := e.Diagnose(context.Background(), "fever and chills", nil)
	require.NoError(t, err)
	assert.Equal(t, "flu", diagnosis.Condition)
	assert.Empty(t, history.saved)

	require.Len(t, diagnoser.prompts, 1)
	assert.Contains(t, diagnoser.prompts[0], "fever and chills")
}

func TestDiagnoseSavesReportWhenSignedIn(t *testing.T) {
	diagnoser := &fakeDiagnoser{diagnosis: &report.Diagnosis{
		Condition:       "flu",
		Severity:        "moderate",
		Summary:         "Influenza symptoms.",
		Recommendations: []string{"rest", "fluids"},
	}}
	history := &fakeHistory{user: &backend.User{ID: "u1", Token: "tok"}}
	e, _ := newTestEngine(Config{}, diagnoser, history)

	require.NoError(t, e.Login(context.Background(), "sara", "hunter2"))

	_, err := e.Diagnose(context.Background(), "fever", nil)
	require.NoError(t, err)
	require.Len(t, history.saved, 1)
	assert.Equal(t, "u1", history.saved[0].UserID)
	assert.Equal(t, "flu", history.saved[0].Condition)
	assert.Equal(t, []string{"rest", "fluids"}, history.saved[0].Recommendations)
}

func TestDiagnoseSurvivesHistoryOutage(t *testing.T) {
	diagnoser := &fakeDiagnoser{diagnosis: &report.Diagnosis{Condition: "flu"}}
	history := &fakeHistory{
		user:    &backend.User{ID: "u1", Token: "tok"},
		saveErr: errors.New("backend down"),
	}
	e, _ := newTestEngine(Config{}, diagnoser, history)
	require.NoError(t, e.Login(context.Background(), "sara", "hunter2"))

	diagnosis, err := e.Diagnose(context.Background(), "fever", nil)
	require.NoError(t, err)
	assert.Equal(t, "flu", diagnosis.Condition)
}

func TestHistoryRequiresLogin(t *testing.T) {
	e, _ := newTestEngine(Config{}, &fakeDiagnoser{}, &fakeHistory{})
	_, err := e.History(context.Background())
	assert.Error(t, err)
}

func TestHistoryListsReports(t *testing.T) {
	history := &fakeHistory{
		user:   &backend.User{ID: "u1", Token: "tok"},
		listed: []backend.Report{{ID: "r1"}, {ID: "r2"}},
	}
	e, _ := newTestEngine(Config{}, &fakeDiagnoser{}, history)
	require.NoError(t, e.Login(context.Background(), "sara", "hunter2"))

	reports, err := e.History(context.Background())
	require.NoError(t, err)
	assert.Len(t, reports, 2)
}

func TestRunStopsOnContextCancel(t *testing.T) {
	e, dialer := newTestEngine(Config{}, &fakeDiagnoser{}, &fakeHistory{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	require.Eventually(t, func() bool {
		return dialer.remote().OnOpen != nil
	}, time.Second, 5*time.Millisecond)
	dialer.remote().OnOpen()

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}

func TestRunReturnsWhenDialFails(t *testing.T) {
	e, dialer := newTestEngine(Config{}, &fakeDiagnoser{}, &fakeHistory{})
	dialer.err = errors.New("service unreachable")

	done := make(chan error, 1)
	go func() { done <- e.Run(context.Background()) }()

	select {
	case err := <-done:
		require.Error(t, err)
		assert.Contains(t, err.Error(), "service unreachable")
	case <-time.After(time.Second):
		t.Fatal("Run did not return after the dial failed")
	}
}

func TestRunWritesSessionRecording(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.wav")
	e, dialer := newTestEngine(Config{RecordPath: path}, &fakeDiagnoser{}, &fakeHistory{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	require.Eventually(t, func() bool {
		return dialer.remote().OnOpen != nil
	}, time.Second, 5*time.Millisecond)
	remote := dialer.remote()
	remote.OnOpen()

	samples := make([]float32, 2400)
	remote.OnMessage(live.ServerMessage{
		Audio:    base64.StdEncoding.EncodeToString(pcm.EncodeFrame(samples)),
		MIMEType: pcm.MIMEType(pcm.PlaybackRate),
	})

	// Let the session deliver the audio callback before shutting down.
	require.Eventually(t, func() bool {
		e.recordMu.Lock()
		defer e.recordMu.Unlock()
		return len(e.recorded) == len(samples)
	}, time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Greater(t, len(data), 44)
	assert.Equal(t, "RIFF", string(data[:4]))
	assert.Equal(t, 44+len(samples)*2, len(data))
}
