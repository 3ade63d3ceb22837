// Package pcm converts between float32 sample buffers and the 16-bit
// little-endian PCM wire encoding exchanged with the voice service.
package pcm

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"time"
)

// Fixed stream parameters. The two legs are intentionally asymmetric:
// microphone frames are captured at 16 kHz while synthesized audio comes
// back at 24 kHz.
const (
	CaptureRate     = 16000
	PlaybackRate    = 24000
	FramesPerBuffer = 4096
	Channels        = 1
)

// Chunk is one wire-encoded audio unit: base64 of raw little-endian 16-bit
// mono PCM plus a MIME descriptor carrying the sample rate.
type Chunk struct {
	Data     string
	MIMEType string
}

// MIMEType builds the descriptor for raw PCM at the given sample rate.
func MIMEType(rate int) string {
	return fmt.Sprintf("audio/pcm;rate=%d", rate)
}

// EncodeFrame quantizes float32 samples to 16-bit signed integers and lays
// them out as little-endian bytes. Samples are scaled by 32768 without
// clamping: out-of-range input wraps through integer overflow, matching the
// wire producer this client replaces.
func EncodeFrame(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		q := int16(int32(s * 32768))
		binary.LittleEndian.PutUint16(out[i*2:], uint16(q))
	}
	return out
}

// EncodeChunk packs one captured frame into a transport-safe chunk.
func EncodeChunk(samples []float32, rate int) Chunk {
	return Chunk{
		Data:     base64.StdEncoding.EncodeToString(EncodeFrame(samples)),
		MIMEType: MIMEType(rate),
	}
}

// DecodeBytes reinterprets little-endian 16-bit PCM as float32 samples in
// [-1, 1). A trailing odd byte is ignored.
func DecodeBytes(b []byte) []float32 {
	samples := make([]float32, len(b)/2)
	for i := range samples {
		s := int16(binary.LittleEndian.Uint16(b[i*2 : i*2+2]))
		samples[i] = float32(s) / 32768.0
	}
	return samples
}

// DecodeChunk decodes a base64 audio payload back into float32 samples.
func DecodeChunk(data string) ([]float32, error) {
	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, fmt.Errorf("decode audio payload: %w", err)
	}
	return DecodeBytes(raw), nil
}

// Duration reports how long n mono samples last at the given sample rate.
func Duration(n, rate int) time.Duration {
	if rate <= 0 || n <= 0 {
		return 0
	}
	return time.Duration(n) * time.Second / time.Duration(rate)
}
