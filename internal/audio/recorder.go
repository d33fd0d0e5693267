package audio

import (
	"errors"
	"math"
	"time"

	"github.com/gordonklaus/portaudio"
)

// RecorderConfig tunes command-utterance capture. Zero values fall back to
// the defaults below.
type RecorderConfig struct {
	SampleRate  int
	FrameSize   int
	SilenceRMS  float64       // RMS below this counts as silence
	SilenceHold time.Duration // this much trailing silence ends the take
	MaxDuration time.Duration // hard cap on a single utterance
}

const (
	defaultRecordRate  = 16000
	defaultRecordFrame = 320 // 20ms @ 16kHz
	defaultSilenceRMS  = 0.015
	defaultSilenceHold = 600 * time.Millisecond
	defaultMaxDuration = 10 * time.Second
)

func (c *RecorderConfig) applyDefaults() {
	if c.SampleRate <= 0 {
		c.SampleRate = defaultRecordRate
	}
	if c.FrameSize <= 0 {
		c.FrameSize = defaultRecordFrame
	}
	if c.SilenceRMS <= 0 {
		c.SilenceRMS = defaultSilenceRMS
	}
	if c.SilenceHold <= 0 {
		c.SilenceHold = defaultSilenceHold
	}
	if c.MaxDuration <= 0 {
		c.MaxDuration = defaultMaxDuration
	}
}

// Recorder captures a single command utterance after a wake. It waits for
// speech, then stops once the speaker has been quiet for SilenceHold.
type Recorder struct {
	cfg RecorderConfig
}

func NewRecorder(cfg RecorderConfig) *Recorder {
	cfg.applyDefaults()
	return &Recorder{cfg: cfg}
}

// SampleRate reports the rate the recorder captures at.
func (r *Recorder) SampleRate() int { return r.cfg.SampleRate }

// Record blocks until an utterance has been captured or MaxDuration
// elapses. Returns mono float32 samples at the configured rate.
func (r *Recorder) Record() ([]float32, error) {
	buf := make([]float32, r.cfg.FrameSize)
	out := make([]float32, 0, r.cfg.SampleRate*3)

	stream, err := portaudio.OpenDefaultStream(1, 0, float64(r.cfg.SampleRate), len(buf), buf)
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	if err := stream.Start(); err != nil {
		return nil, err
	}
	defer stream.Stop()

	frameDur := time.Duration(r.cfg.FrameSize) * time.Second / time.Duration(r.cfg.SampleRate)
	maxFrames := int(r.cfg.MaxDuration / frameDur)

	var (
		speaking     bool
		quietStretch time.Duration
	)

	for i := 0; i < maxFrames; i++ {
		if err := stream.Read(); err != nil {
			return nil, err
		}

		if FrameRMS(buf) > r.cfg.SilenceRMS {
			speaking = true
			quietStretch = 0
			out = append(out, buf...)
			continue
		}

		if !speaking {
			continue
		}

		quietStretch += frameDur
		if quietStretch >= r.cfg.SilenceHold {
			break
		}
		out = append(out, buf...)
	}

	if len(out) == 0 {
		return nil, errors.New("no speech recorded")
	}
	return out, nil
}

// FrameRMS is the root-mean-square amplitude of a frame.
func FrameRMS(f []float32) float64 {
	if len(f) == 0 {
		return 0
	}
	var s float64
	for _, x := range f {
		s += float64(x) * float64(x)
	}
	return math.Sqrt(s / float64(len(f)))
}
