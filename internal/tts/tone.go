package tts

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/faiface/beep"
	"github.com/faiface/beep/speaker"
)

const (
	toneRate     = 22050
	toneFreq     = 440.0 // A4
	tonePeak     = 0.3
	secPerChar   = 0.05
	speakerBufMs = 100
)

// Tone renders text as a 440 Hz sine whose duration tracks the text
// length. It keeps the TTS seam exercised end to end without a model.
type Tone struct {
	once    sync.Once
	initErr error
}

func NewTone() *Tone { return &Tone{} }

func (t *Tone) Speak(text string) error {
	if text == "" {
		return nil
	}

	t.once.Do(func() {
		sr := beep.SampleRate(toneRate)
		t.initErr = speaker.Init(sr, sr.N(speakerBufMs*time.Millisecond))
	})
	if t.initErr != nil {
		return fmt.Errorf("init speaker: %w", t.initErr)
	}

	done := make(chan struct{})
	speaker.Play(beep.Seq(
		&sampleStreamer{samples: Synthesize(text)},
		beep.Callback(func() { close(done) }),
	))
	<-done
	return nil
}

// Synthesize is the pure half of the engine: text in, mono samples at
// 22.05 kHz out, peak-limited to 0.3 so the placeholder never blasts.
func Synthesize(text string) []float32 {
	n := int(math.Round(toneRate * secPerChar * float64(len(text))))
	out := make([]float32, n)
	for i := range out {
		ts := float64(i) / toneRate
		out[i] = float32(tonePeak * math.Sin(2*math.Pi*toneFreq*ts))
	}
	return out
}

type sampleStreamer struct {
	samples []float32
	pos     int
}

func (s *sampleStreamer) Stream(out [][2]float64) (int, bool) {
	if s.pos >= len(s.samples) {
		return 0, false
	}
	n := 0
	for i := range out {
		if s.pos >= len(s.samples) {
			break
		}
		v := float64(s.samples[s.pos])
		out[i][0], out[i][1] = v, v
		s.pos++
		n++
	}
	return n, true
}

func (s *sampleStreamer) Err() error { return nil }
