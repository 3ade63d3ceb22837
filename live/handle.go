package live

import (
	"log"
	"sync"

	"github.com/davoodhazareh-sketch/alaem-shenasi-server/pcm"
)

// maxPendingChunks bounds the queue held while the stream is still being
// dialed. At 4096-sample frames this is over 30 seconds of audio.
const maxPendingChunks = 128

// streamHandle wraps a Stream that resolves asynchronously. Chunks sent
// before the stream exists are queued and drained in order on resolve, so
// the capture side never blocks on connection establishment and frames are
// never reordered.
type streamHandle struct {
	mu      sync.Mutex
	stream  Stream
	pending []pcm.Chunk
	closed  bool
}

func newStreamHandle() *streamHandle {
	return &streamHandle{}
}

// Send ships a chunk on the resolved stream, or queues it while the stream
// is still pending. Send failures are logged and the chunk dropped; the
// session carries on.
func (h *streamHandle) Send(chunk pcm.Chunk) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	if h.stream == nil {
		if len(h.pending) >= maxPendingChunks {
			log.Printf("Pending audio queue full, dropping frame")
			return
		}
		h.pending = append(h.pending, chunk)
		return
	}
	if err := h.stream.SendAudio(chunk); err != nil {
		log.Printf("Error sending audio frame: %v", err)
	}
}

// resolve installs the dialed stream and flushes queued chunks in
// submission order. Resolving after close shuts the stream straight down.
func (h *streamHandle) resolve(stream Stream) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		_ = stream.Close()
		return
	}
	h.stream = stream
	for _, chunk := range h.pending {
		if err := stream.SendAudio(chunk); err != nil {
			log.Printf("Error sending queued audio frame: %v", err)
		}
	}
	h.pending = nil
}

func (h *streamHandle) isClosed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

// close requests a best-effort stream close and discards anything queued.
// Close errors never block teardown.
func (h *streamHandle) close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true
	h.pending = nil
	if h.stream != nil {
		if err := h.stream.Close(); err != nil {
			log.Printf("Error closing stream: %v", err)
		}
		h.stream = nil
	}
}
