package sound

import (
	"log"
	"sync"
	"time"

	"github.com/davoodhazareh-sketch/alaem-shenasi-server/pcm"
)

// Clock reports elapsed time on a monotonic timeline. The real
// implementation measures time since the scheduler was created.
type Clock interface {
	Now() time.Duration
}

type monotonicClock struct {
	start time.Time
}

func (c *monotonicClock) Now() time.Duration {
	return time.Since(c.start)
}

// queueDepth bounds how many decoded buffers can wait for the playback
// worker before Schedule starts dropping.
const queueDepth = 64

type scheduledBuffer struct {
	samples []float32
	start   time.Duration
}

// Scheduler queues decoded playback buffers back-to-back on a monotonic
// timeline. It tracks the end of the last scheduled buffer in a cursor so
// buffers never overlap and never leave a gap, no matter how irregularly
// they arrive.
type Scheduler struct {
	player Player
	clock  Clock
	rate   int

	mu        sync.Mutex
	nextStart time.Duration

	queue chan scheduledBuffer
	done  chan struct{}
}

func NewScheduler(player Player, rate int) *Scheduler {
	return newScheduler(player, rate, &monotonicClock{start: time.Now()})
}

func newScheduler(player Player, rate int, clock Clock) *Scheduler {
	if rate <= 0 {
		rate = pcm.PlaybackRate
	}
	s := &Scheduler{
		player: player,
		clock:  clock,
		rate:   rate,
		queue:  make(chan scheduledBuffer, queueDepth),
		done:   make(chan struct{}),
	}
	go s.run()
	return s
}

// Schedule appends a buffer to the playback timeline and returns its start
// position. The cursor is read-modified-written under a lock so start times
// stay monotonically non-decreasing even if callers race. A buffer that
// cannot be queued is dropped without advancing the cursor, so the timeline
// carries no hole for audio that will never play.
func (s *Scheduler) Schedule(samples []float32) time.Duration {
	s.mu.Lock()
	start := s.clock.Now()
	if s.nextStart > start {
		start = s.nextStart
	}

	select {
	case s.queue <- scheduledBuffer{samples: samples, start: start}:
		s.nextStart = start + pcm.Duration(len(samples), s.rate)
		s.mu.Unlock()
	default:
		s.mu.Unlock()
		log.Printf("Playback queue full, dropping %d samples", len(samples))
	}
	return start
}

// Flush discards queued buffers and rewinds the cursor so the next buffer
// plays immediately. A buffer the worker already picked up still finishes.
func (s *Scheduler) Flush() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for {
		select {
		case <-s.queue:
		default:
			s.nextStart = 0
			return
		}
	}
}

func (s *Scheduler) run() {
	for {
		select {
		case <-s.done:
			return
		case buf := <-s.queue:
			if wait := buf.start - s.clock.Now(); wait > 0 {
				select {
				case <-s.done:
					return
				case <-time.After(wait):
				}
			}
			if err := s.player.Play(buf.samples); err != nil {
				log.Printf("Error writing audio: %v", err)
			}
		}
	}
}

// Close stops the playback worker. Buffers still queued are discarded.
func (s *Scheduler) Close() {
	select {
	case <-s.done:
	default:
		close(s.done)
	}
}
