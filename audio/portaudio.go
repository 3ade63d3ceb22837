package audio

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/gordonklaus/portaudio"

	"github.com/davoodhazareh-sketch/alaem-shenasi-server/pcm"
)

type Config struct {
	SampleRate      float64
	FramesPerBuffer int
}

func GetDefaultConfig() Config {
	return Config{
		SampleRate:      pcm.CaptureRate,
		FramesPerBuffer: pcm.FramesPerBuffer,
	}
}

// PortaudioCapturer captures single-channel float32 audio from the default
// input device.
type PortaudioCapturer struct {
	stream *portaudio.Stream
	buffer []float32
	config Config
}

var _ Capturer = (*PortaudioCapturer)(nil)

func NewPortaudioCapturer(config Config) *PortaudioCapturer {
	if config.SampleRate == 0 {
		config.SampleRate = pcm.CaptureRate
	}
	if config.FramesPerBuffer == 0 {
		config.FramesPerBuffer = pcm.FramesPerBuffer
	}
	return &PortaudioCapturer{
		config: config,
		buffer: make([]float32, config.FramesPerBuffer),
	}
}

func (c *PortaudioCapturer) Initialize() error {
	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("%w: %v", ErrHostUnavailable, err)
	}
	return nil
}

func (c *PortaudioCapturer) Terminate() {
	portaudio.Terminate()
}

func (c *PortaudioCapturer) Open() error {
	if _, err := portaudio.DefaultInputDevice(); err != nil {
		return fmt.Errorf("%w: %v", ErrNoInputDevice, err)
	}
	stream, err := portaudio.OpenDefaultStream(
		pcm.Channels,
		0,
		c.config.SampleRate,
		c.config.FramesPerBuffer,
		c.buffer,
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNoInputDevice, err)
	}
	c.stream = stream
	return nil
}

func (c *PortaudioCapturer) Close() error {
	if c.stream != nil {
		err := c.stream.Close()
		c.stream = nil
		return err
	}
	return nil
}

func (c *PortaudioCapturer) StartCapture(ctx context.Context, frames chan<- []float32) error {
	if c.stream == nil {
		return errors.New("stream not opened")
	}

	if err := c.stream.Start(); err != nil {
		return err
	}
	defer c.stream.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			if err := c.stream.Read(); err != nil {
				log.Printf("Error reading audio: %v", err)
				continue
			}

			// The portaudio buffer is reused between reads.
			frame := make([]float32, len(c.buffer))
			copy(frame, c.buffer)

			select {
			case frames <- frame:
			case <-ctx.Done():
				return ctx.Err()
			default:
				// Drop the frame if the consumer is behind.
			}
		}
	}
}
