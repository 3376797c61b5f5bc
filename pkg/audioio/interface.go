package audioio

import (
	"io"
	"sync"
)

// InputDevice records one question, StopRecording returns it as wav bytes.
type InputDevice interface {
	StartRecording() error
	StopRecording() ([]byte, error)
}

type OutputDevice interface {
	// Play expects S16LE samples matching the device sample rate and channels.
	Play(audioOutput io.Reader) (*sync.WaitGroup, error)
	Stop() error
}
