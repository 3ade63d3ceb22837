package live

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/davoodhazareh-sketch/alaem-shenasi-server/pcm"
)

// DefaultEndpoint is the bidirectional streaming endpoint of the voice
// service.
const DefaultEndpoint = "wss://generativelanguage.googleapis.com/ws/" +
	"google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent"

// WebsocketDialer opens live voice streams over a websocket.
type WebsocketDialer struct {
	APIKey   string
	Endpoint string
	Dialer   *websocket.Dialer
}

var _ Dialer = (*WebsocketDialer)(nil)

func NewWebsocketDialer(apiKey string) *WebsocketDialer {
	return &WebsocketDialer{APIKey: apiKey}
}

// Dial establishes the websocket, sends the session setup frame, and starts
// the read loop. The stream is usable immediately; OnOpen fires once the
// service acknowledges setup.
func (d *WebsocketDialer) Dial(ctx context.Context, cfg StreamConfig, handlers EventHandlers) (Stream, error) {
	endpoint := d.Endpoint
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse endpoint: %w", err)
	}
	q := u.Query()
	q.Set("key", d.APIKey)
	u.RawQuery = q.Encode()

	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}

	conn, resp, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket dial failed (status %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("websocket dial failed: %w", err)
	}

	if err := conn.WriteJSON(setupFrame(cfg)); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("send session setup: %w", err)
	}

	s := &websocketStream{
		conn:     conn,
		handlers: handlers,
	}
	go s.readLoop()
	return s, nil
}

type websocketStream struct {
	conn     *websocket.Conn
	handlers EventHandlers

	writeMu   sync.Mutex
	closeOnce sync.Once
	closed    atomic.Bool
}

var _ Stream = (*websocketStream)(nil)

func (s *websocketStream) SendAudio(chunk pcm.Chunk) error {
	if s.closed.Load() {
		return errors.New("stream is closed")
	}
	frame := clientFrame{
		RealtimeInput: &realtimeInput{
			MediaChunks: []mediaChunk{{MIMEType: chunk.MIMEType, Data: chunk.Data}},
		},
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteJSON(frame)
}

func (s *websocketStream) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.writeMu.Lock()
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(2*time.Second))
		s.writeMu.Unlock()
		_ = s.conn.Close()
	})
	return nil
}

// readLoop decodes inbound frames and drives the event handlers. It exits
// on any read error; OnClose fires exactly once on exit.
func (s *websocketStream) readLoop() {
	defer func() {
		if s.handlers.OnClose != nil {
			s.handlers.OnClose()
		}
	}()

	for {
		// The service sends JSON in both text and binary frames.
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if !s.closed.Load() && !isNormalClose(err) && s.handlers.OnError != nil {
				s.handlers.OnError(fmt.Errorf("voice stream read: %w", err))
			}
			return
		}

		var frame serverFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			if s.handlers.OnError != nil {
				s.handlers.OnError(fmt.Errorf("decode server frame: %w", err))
			}
			continue
		}
		s.dispatch(frame)
	}
}

func (s *websocketStream) dispatch(frame serverFrame) {
	if frame.SetupComplete != nil {
		if s.handlers.OnOpen != nil {
			s.handlers.OnOpen()
		}
		return
	}

	sc := frame.ServerContent
	if sc == nil {
		return
	}

	emit := func(msg ServerMessage) {
		if s.handlers.OnMessage != nil {
			s.handlers.OnMessage(msg)
		}
	}

	if sc.Interrupted {
		emit(ServerMessage{Interrupted: true})
	}
	if sc.ModelTurn != nil {
		for _, part := range sc.ModelTurn.Parts {
			if part.InlineData != nil && part.InlineData.Data != "" {
				emit(ServerMessage{
					Audio:    part.InlineData.Data,
					MIMEType: part.InlineData.MIMEType,
				})
			}
			if part.Text != "" {
				emit(ServerMessage{Text: part.Text})
			}
		}
	}
	if sc.InputTranscription != nil && sc.InputTranscription.Text != "" {
		emit(ServerMessage{Text: sc.InputTranscription.Text, UserTranscript: true})
	}
	if sc.OutputTranscription != nil && sc.OutputTranscription.Text != "" {
		emit(ServerMessage{Text: sc.OutputTranscription.Text})
	}
	if sc.TurnComplete {
		emit(ServerMessage{TurnComplete: true})
	}
}

func isNormalClose(err error) bool {
	return websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) ||
		strings.Contains(err.Error(), "use of closed network connection")
}
