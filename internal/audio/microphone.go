package audio

import (
	"errors"
	"fmt"

	"github.com/gordonklaus/portaudio"

	"capri/internal/wakeword"
)

// Init must be called once before any stream is opened, Terminate once on
// shutdown.
func Init() error {
	return portaudio.Initialize()
}

func Terminate() {
	portaudio.Terminate()
}

// Microphone is the default capture device, exposed as a wakeword.Source.
type Microphone struct{}

func NewMicrophone() *Microphone { return &Microphone{} }

func (m *Microphone) Open(sampleRate, frameSize int) (wakeword.Stream, error) {
	buf := make([]float32, frameSize)

	stream, err := portaudio.OpenDefaultStream(1, 0, float64(sampleRate), frameSize, buf)
	if err != nil {
		return nil, fmt.Errorf("open input stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return nil, fmt.Errorf("start input stream: %w", err)
	}

	return &micStream{stream: stream, buf: buf}, nil
}

type micStream struct {
	stream *portaudio.Stream
	buf    []float32
}

// Read blocks for the next frame. The returned slice is reused between
// calls; the caller copies before handing it off.
func (s *micStream) Read() ([]float32, error) {
	if err := s.stream.Read(); err != nil {
		if errors.Is(err, portaudio.InputOverflowed) {
			return nil, fmt.Errorf("%w: input overflow", wakeword.ErrTransient)
		}
		return nil, err
	}
	return s.buf, nil
}

func (s *micStream) Close() error {
	s.stream.Stop()
	return s.stream.Close()
}
