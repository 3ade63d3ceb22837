// Package engine is the owning application: it wires the voice session
// callbacks to the console, records sessions to disk, and turns symptom
// descriptions into saved diagnosis reports.
package engine

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"sync/atomic"

	"github.com/davoodhazareh-sketch/alaem-shenasi-server/audio"
	"github.com/davoodhazareh-sketch/alaem-shenasi-server/backend"
	"github.com/davoodhazareh-sketch/alaem-shenasi-server/live"
	"github.com/davoodhazareh-sketch/alaem-shenasi-server/pcm"
	"github.com/davoodhazareh-sketch/alaem-shenasi-server/report"
)

// Diagnoser produces a structured report from a prompt and photos.
type Diagnoser interface {
	Generate(ctx context.Context, prompt string, images []report.Image) (*report.Diagnosis, error)
}

// HistoryStore is the account and report history backend.
type HistoryStore interface {
	Register(ctx context.Context, username, password string) (*backend.User, error)
	Login(ctx context.Context, username, password string) (*backend.User, error)
	SaveReport(ctx context.Context, token string, r backend.Report) (*backend.Report, error)
	ListReports(ctx context.Context, token, userID string) ([]backend.Report, error)
}

// Config holds the engine settings.
type Config struct {
	// RecordPath, when set, is where the assistant audio of a finished
	// session is written as a WAV file.
	RecordPath string
}

// Engine glues the voice session, the report generator and the history
// backend together behind one application-facing surface.
type Engine struct {
	cfg       Config
	session   *live.Session
	diagnoser Diagnoser
	history   HistoryStore

	userMu sync.RWMutex
	user   *backend.User

	recordMu sync.Mutex
	recorded []float32

	opened    atomic.Bool
	closed    chan struct{}
	closeOnce sync.Once
	errMu     sync.Mutex
	runErr    error
}

func New(
	cfg Config,
	dialer live.Dialer,
	capturer audio.Capturer,
	scheduler live.PlaybackScheduler,
	stream live.StreamConfig,
	diagnoser Diagnoser,
	history HistoryStore,
) *Engine {
	e := &Engine{
		cfg:       cfg,
		diagnoser: diagnoser,
		history:   history,
		closed:    make(chan struct{}),
	}
	e.session = live.NewSession(dialer, capturer, scheduler, stream, live.Callbacks{
		OnOpen:      e.handleOpen,
		OnMessage:   e.handleMessage,
		OnAudioData: e.handleAudioData,
		OnError:     e.handleError,
		OnClose:     e.handleClose,
	})
	return e
}

// Run connects the voice session and blocks until the context is cancelled
// or the session ends, including a session that fails during setup before
// ever opening. The session recording, if enabled, is flushed to disk
// before Run returns.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.session.Connect(ctx); err != nil {
		return fmt.Errorf("failed to start voice session: %w", err)
	}

	select {
	case <-ctx.Done():
		e.session.Disconnect()
	case <-e.closed:
	}

	if err := e.writeRecording(); err != nil {
		log.Printf("Failed to write session recording: %v", err)
	}

	e.errMu.Lock()
	defer e.errMu.Unlock()
	return e.runErr
}

// Register creates an account on the history backend and signs the engine
// in as that user.
func (e *Engine) Register(ctx context.Context, username, password string) error {
	user, err := e.history.Register(ctx, username, password)
	if err != nil {
		return err
	}
	e.setUser(user)
	return nil
}

// Login signs the engine in so that diagnosis reports get saved to history.
func (e *Engine) Login(ctx context.Context, username, password string) error {
	user, err := e.history.Login(ctx, username, password)
	if err != nil {
		return err
	}
	e.setUser(user)
	return nil
}

// Diagnose produces a report from a symptom description and optional
// photos. When a user is signed in the report is also saved to history; a
// save failure is logged but does not discard the report.
func (e *Engine) Diagnose(ctx context.Context, description string, images []report.Image) (*report.Diagnosis, error) {
	diagnosis, err := e.diagnoser.Generate(ctx, report.DiagnosisPrompt(description), images)
	if err != nil {
		return nil, err
	}

	if user := e.currentUser(); user != nil {
		_, err := e.history.SaveReport(ctx, user.Token, backend.Report{
			UserID:          user.ID,
			Condition:       diagnosis.Condition,
			Severity:        diagnosis.Severity,
			Summary:         diagnosis.Summary,
			Recommendations: diagnosis.Recommendations,
		})
		if err != nil {
			log.Printf("Failed to save report to history: %v", err)
		}
	}
	return diagnosis, nil
}

// History lists the signed-in user's saved reports.
func (e *Engine) History(ctx context.Context) ([]backend.Report, error) {
	user := e.currentUser()
	if user == nil {
		return nil, fmt.Errorf("not signed in")
	}
	return e.history.ListReports(ctx, user.Token, user.ID)
}

func (e *Engine) handleOpen() {
	e.opened.Store(true)
	log.Println("Voice session open. Speak into the microphone.")
}

func (e *Engine) handleMessage(text string, userTranscript bool) {
	if userTranscript {
		log.Printf("You: %s", text)
	} else {
		log.Printf("Assistant: %s", text)
	}
}

func (e *Engine) handleAudioData(samples []float32) {
	if e.cfg.RecordPath == "" {
		return
	}
	e.recordMu.Lock()
	e.recorded = append(e.recorded, samples...)
	e.recordMu.Unlock()
}

func (e *Engine) handleError(err error) {
	log.Printf("Voice session error: %v", err)

	// A setup failure rolls the session back to Disconnected without a
	// close event ever firing; Run would otherwise wait forever.
	if e.opened.Load() || e.session.State() != live.StateDisconnected {
		return
	}
	e.errMu.Lock()
	if e.runErr == nil {
		e.runErr = err
	}
	e.errMu.Unlock()
	e.closeOnce.Do(func() { close(e.closed) })
}

func (e *Engine) handleClose() {
	log.Println("Voice session closed.")
	e.closeOnce.Do(func() { close(e.closed) })
}

func (e *Engine) writeRecording() error {
	if e.cfg.RecordPath == "" {
		return nil
	}
	e.recordMu.Lock()
	samples := e.recorded
	e.recorded = nil
	e.recordMu.Unlock()

	if len(samples) == 0 {
		return nil
	}
	wav := pcm.WAV(pcm.EncodeFrame(samples), pcm.PlaybackRate, 16, pcm.Channels)
	if err := os.WriteFile(e.cfg.RecordPath, wav, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", e.cfg.RecordPath, err)
	}
	log.Printf("Session recording written to %s", e.cfg.RecordPath)
	return nil
}

func (e *Engine) setUser(user *backend.User) {
	e.userMu.Lock()
	e.user = user
	e.userMu.Unlock()
}

func (e *Engine) currentUser() *backend.User {
	e.userMu.RLock()
	defer e.userMu.RUnlock()
	return e.user
}
