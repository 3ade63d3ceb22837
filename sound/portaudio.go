package sound

import (
	"errors"
	"fmt"

	"github.com/gordonklaus/portaudio"

	"github.com/davoodhazareh-sketch/alaem-shenasi-server/pcm"
)

type PlayerConfig struct {
	SampleRate      float64
	FramesPerBuffer int
}

func GetDefaultConfig() PlayerConfig {
	return PlayerConfig{
		SampleRate:      pcm.PlaybackRate,
		FramesPerBuffer: 1024,
	}
}

// PortaudioPlayer plays float32 mono audio on the default output device.
type PortaudioPlayer struct {
	stream  *portaudio.Stream
	buffer  []float32
	pending []float32
	config  PlayerConfig
}

var _ Player = (*PortaudioPlayer)(nil)

func NewPortaudioPlayer(config PlayerConfig) *PortaudioPlayer {
	if config.SampleRate == 0 {
		config.SampleRate = pcm.PlaybackRate
	}
	if config.FramesPerBuffer == 0 {
		config.FramesPerBuffer = 1024
	}
	return &PortaudioPlayer{
		config: config,
		buffer: make([]float32, config.FramesPerBuffer),
	}
}

func (p *PortaudioPlayer) Initialize() error {
	return portaudio.Initialize()
}

func (p *PortaudioPlayer) Terminate() {
	portaudio.Terminate()
}

func (p *PortaudioPlayer) Open() error {
	stream, err := portaudio.OpenDefaultStream(
		0,
		pcm.Channels,
		p.config.SampleRate,
		p.config.FramesPerBuffer,
		p.buffer,
	)
	if err != nil {
		return fmt.Errorf("open output stream: %w", err)
	}
	p.stream = stream
	return p.stream.Start()
}

func (p *PortaudioPlayer) Close() error {
	if p.stream != nil {
		_ = p.stream.Stop()
		err := p.stream.Close()
		p.stream = nil
		return err
	}
	return nil
}

// Play chunks the samples into the stream's fixed write size. A partial
// tail is held back and prepended to the next call so consecutive buffers
// play without inserted silence.
func (p *PortaudioPlayer) Play(samples []float32) error {
	if p.stream == nil {
		return errors.New("stream not opened")
	}

	p.pending = append(p.pending, samples...)
	for len(p.pending) >= len(p.buffer) {
		copy(p.buffer, p.pending[:len(p.buffer)])
		p.pending = p.pending[len(p.buffer):]
		if err := p.stream.Write(); err != nil {
			return err
		}
	}
	return nil
}

// Flush plays any held-back partial buffer, padding the tail with silence.
func (p *PortaudioPlayer) Flush() error {
	if p.stream == nil || len(p.pending) == 0 {
		return nil
	}
	n := copy(p.buffer, p.pending)
	for i := n; i < len(p.buffer); i++ {
		p.buffer[i] = 0
	}
	p.pending = p.pending[:0]
	return p.stream.Write()
}
