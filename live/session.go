// Package live owns the bidirectional voice session: microphone frames out,
// synthesized audio back, with an explicit connection state machine.
package live

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/davoodhazareh-sketch/alaem-shenasi-server/audio"
	"github.com/davoodhazareh-sketch/alaem-shenasi-server/pcm"
)

// State is the session connection state.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateOpen
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateOpen:
		return "OPEN"
	case StateClosing:
		return "CLOSING"
	default:
		return "UNKNOWN"
	}
}

// Callbacks notify the owning application of session events. All fields are
// optional and fire-and-forget; no return value is consumed.
type Callbacks struct {
	OnOpen      func()
	OnMessage   func(text string, userTranscript bool)
	OnAudioData func(samples []float32)
	OnError     func(err error)
	OnClose     func()
}

// PlaybackScheduler schedules decoded audio for gapless playback.
// *sound.Scheduler satisfies it.
type PlaybackScheduler interface {
	Schedule(samples []float32) time.Duration

	// Flush discards audio not yet played and rewinds the timeline.
	Flush()
}

// Session drives one live connection to the voice service: it owns the
// microphone, the remote stream handle, and both audio pipelines. At most
// one connection is open per Session at a time; Connect and Disconnect may
// be called repeatedly.
type Session struct {
	dialer    Dialer
	capturer  audio.Capturer
	scheduler PlaybackScheduler
	cfg       StreamConfig
	cb        Callbacks

	state atomic.Int32

	mu            sync.Mutex
	gen           uint64
	tearingDown   bool
	hostUp        bool
	deviceOpen    bool
	handle        *streamHandle
	captureCancel context.CancelFunc
}

func NewSession(dialer Dialer, capturer audio.Capturer, scheduler PlaybackScheduler, cfg StreamConfig, cb Callbacks) *Session {
	return &Session{
		dialer:    dialer,
		capturer:  capturer,
		scheduler: scheduler,
		cfg:       cfg,
		cb:        cb,
	}
}

// State returns the current connection state.
func (s *Session) State() State {
	return State(s.state.Load())
}

// Connect acquires the microphone and opens the remote stream. It is a
// no-op when a connection attempt is already underway or open. The remote
// stream resolves asynchronously after Connect returns; captured frames are
// queued in order until it does. Any setup failure is surfaced through
// OnError and rolls the session back to Disconnected with all partially
// acquired resources released.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	gen := s.gen
	ok := s.state.CompareAndSwap(int32(StateDisconnected), int32(StateConnecting))
	s.mu.Unlock()
	if !ok {
		return nil
	}

	if err := s.capturer.Initialize(); err != nil {
		err = fmt.Errorf("audio capture is not available on this system: %w", err)
		s.failConnect(err)
		return err
	}
	if !s.claim(gen, func() { s.hostUp = true }) {
		s.capturer.Terminate()
		return nil
	}

	if err := s.capturer.Open(); err != nil {
		err = fmt.Errorf("could not access the microphone: %w", err)
		s.failConnect(err)
		return err
	}

	captureCtx, cancel := context.WithCancel(context.Background())
	handle := newStreamHandle()

	if !s.claim(gen, func() {
		s.deviceOpen = true
		s.handle = handle
		s.captureCancel = cancel
	}) {
		cancel()
		if err := s.capturer.Close(); err != nil {
			log.Printf("Error closing capture device: %v", err)
		}
		return nil
	}

	frames := make(chan []float32, 8)
	go s.capture(captureCtx, frames)
	go s.pump(captureCtx, frames, handle)
	go s.dial(ctx, handle)

	return nil
}

// claim registers a resource acquired by a connect attempt. It fails when a
// teardown ran since the attempt started; the caller then releases what it
// just acquired itself and stands down. Resources already registered were
// released by that teardown.
func (s *Session) claim(gen uint64, register func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != gen {
		return false
	}
	register()
	return true
}

// dial opens the remote stream and resolves the pending-send handle. Runs
// on its own goroutine so Connect never blocks on the network.
func (s *Session) dial(ctx context.Context, handle *streamHandle) {
	stream, err := s.dialer.Dial(ctx, s.cfg, EventHandlers{
		OnOpen:    s.handleRemoteOpen,
		OnMessage: s.handleMessage,
		OnError:   s.handleRemoteError,
		OnClose:   s.handleRemoteClose,
	})
	if err != nil {
		if handle.isClosed() {
			// The session was torn down while the dial was in flight.
			return
		}
		s.failConnect(fmt.Errorf("could not reach the voice service: %w", err))
		return
	}
	handle.resolve(stream)
}

// capture feeds microphone frames into the input pipeline until cancelled.
func (s *Session) capture(ctx context.Context, frames chan<- []float32) {
	defer close(frames)
	if err := s.capturer.StartCapture(ctx, frames); err != nil && ctx.Err() == nil {
		log.Printf("Audio capture error: %v", err)
	}
}

// pump is the input pipeline: one captured frame becomes exactly one wire
// chunk handed to the stream handle, in capture order, with no batching.
func (s *Session) pump(ctx context.Context, frames <-chan []float32, handle *streamHandle) {
	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-frames:
			if !ok {
				return
			}
			handle.Send(pcm.EncodeChunk(frame, pcm.CaptureRate))
		}
	}
}

// handleMessage is the output pipeline: decode inbound audio if present and
// append it to the playback timeline; forward transcript text. One bad
// chunk is logged and skipped, never fatal.
func (s *Session) handleMessage(msg ServerMessage) {
	if s.State() != StateOpen {
		return
	}

	// The service interrupts its own reply when the user talks over it;
	// everything queued for playback is stale from that point on.
	if msg.Interrupted && s.scheduler != nil {
		s.scheduler.Flush()
	}

	if msg.Audio != "" {
		samples, err := pcm.DecodeChunk(msg.Audio)
		if err != nil {
			log.Printf("Error decoding audio chunk: %v", err)
		} else if len(samples) > 0 {
			if s.scheduler != nil {
				s.scheduler.Schedule(samples)
			}
			if s.cb.OnAudioData != nil {
				s.cb.OnAudioData(samples)
			}
		}
	}

	if msg.Text != "" && s.cb.OnMessage != nil {
		s.cb.OnMessage(msg.Text, msg.UserTranscript)
	}
}

func (s *Session) handleRemoteOpen() {
	if s.state.CompareAndSwap(int32(StateConnecting), int32(StateOpen)) {
		if s.cb.OnOpen != nil {
			s.cb.OnOpen()
		}
	}
}

// handleRemoteError surfaces a runtime error without tearing the session
// down; the paired close event performs teardown.
func (s *Session) handleRemoteError(err error) {
	s.notifyError(err)
}

// handleRemoteClose funnels a remote-initiated close into the same
// teardown path as a local Disconnect.
func (s *Session) handleRemoteClose() {
	s.Disconnect()
}

// Disconnect tears the session down: capture stopped, microphone released,
// remote stream closed best-effort, state back to Disconnected. Idempotent
// and safe from any state, including mid-connect; OnClose fires exactly
// once per call that actually tears something down.
func (s *Session) Disconnect() {
	if s.teardown() && s.cb.OnClose != nil {
		s.cb.OnClose()
	}
}

// failConnect rolls a failed connection attempt back and reports it.
func (s *Session) failConnect(err error) {
	s.teardown()
	s.notifyError(err)
}

// teardown releases everything the session owns. Returns true when this
// call actually released resources, false when there was nothing registered
// to tear down or another teardown is already in flight. Bumping the
// generation makes any connect attempt still acquiring resources roll back
// instead of registering them against a dead session.
func (s *Session) teardown() bool {
	s.mu.Lock()
	if s.tearingDown || s.State() == StateDisconnected {
		s.mu.Unlock()
		return false
	}
	s.tearingDown = true
	s.gen++
	s.state.Store(int32(StateClosing))

	cancel := s.captureCancel
	handle := s.handle
	deviceOpen := s.deviceOpen
	hostUp := s.hostUp
	s.captureCancel = nil
	s.handle = nil
	s.deviceOpen = false
	s.hostUp = false
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if deviceOpen {
		if err := s.capturer.Close(); err != nil {
			log.Printf("Error closing capture device: %v", err)
		}
	}
	if hostUp {
		s.capturer.Terminate()
	}
	if handle != nil {
		handle.close()
	}

	s.state.Store(int32(StateDisconnected))
	s.mu.Lock()
	s.tearingDown = false
	s.mu.Unlock()
	return hostUp || deviceOpen || handle != nil || cancel != nil
}

func (s *Session) notifyError(err error) {
	if err == nil {
		return
	}
	if s.cb.OnError != nil {
		s.cb.OnError(err)
	} else {
		log.Printf("Session error: %v", err)
	}
}
