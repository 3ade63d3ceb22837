package sound

// Player defines the interface for audio playback devices.
type Player interface {
	// Initialize initializes the audio playback system.
	Initialize() error

	// Terminate terminates the audio playback system.
	Terminate()

	// Open acquires the output device.
	Open() error

	// Close releases the output device.
	Close() error

	// Play writes a buffer of float32 mono samples to the device,
	// blocking until the device has consumed it.
	Play(samples []float32) error
}
