package live

import (
	"context"

	"github.com/davoodhazareh-sketch/alaem-shenasi-server/pcm"
)

// StreamConfig is the fixed configuration a session is opened with: the
// model, a named voice, and the persona text used as system instruction.
// The response modality is always audio.
type StreamConfig struct {
	Model   string
	Voice   string
	Persona string
}

// ServerMessage is one inbound unit from the voice service, already
// stripped of transport framing. Audio is the base64 payload and is empty
// when the message carries transcript text only.
type ServerMessage struct {
	Audio          string
	MIMEType       string
	Text           string
	UserTranscript bool
	TurnComplete   bool
	Interrupted    bool
}

// EventHandlers are the four callbacks a transport invokes over the life of
// a stream. OnOpen fires once when the remote session acknowledges setup,
// OnMessage per inbound server message, OnError on a runtime failure, and
// OnClose exactly once when the stream ends for any reason.
type EventHandlers struct {
	OnOpen    func()
	OnMessage func(ServerMessage)
	OnError   func(error)
	OnClose   func()
}

// Stream is an open connection to the voice service.
type Stream interface {
	// SendAudio ships one wire audio chunk. Fire-and-forget: no
	// acknowledgment is awaited.
	SendAudio(chunk pcm.Chunk) error

	// Close shuts the stream down. Safe to call more than once.
	Close() error
}

// Dialer opens streams to the voice service.
type Dialer interface {
	Dial(ctx context.Context, cfg StreamConfig, handlers EventHandlers) (Stream, error)
}
