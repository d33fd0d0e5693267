package wakeword

import "errors"

// ErrTransient marks a single-frame capture fault. The drain loop logs it
// and keeps going; any other stream error terminates listening.
var ErrTransient = errors.New("transient capture error")

// Source opens a live mono audio input. The microphone in internal/audio
// implements it over portaudio; tests script their own.
type Source interface {
	Open(sampleRate, frameSize int) (Stream, error)
}

// Stream delivers frames of exactly frameSize normalized samples in
// capture order. Read blocks until the next frame is available and must
// return an error once the stream is closed. Close releases the device
// handle and must be safe to call while a Read is in flight.
type Stream interface {
	Read() ([]float32, error)
	Close() error
}
