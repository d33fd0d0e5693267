package tts

import (
	"math"
	"testing"
)

func TestSynthesizeDurationTracksText(t *testing.T) {
	got := Synthesize("hello")
	want := int(math.Round(toneRate * secPerChar * 5))
	if len(got) != want {
		t.Fatalf("sample count = %d, want %d", len(got), want)
	}
}

func TestSynthesizeEmptyText(t *testing.T) {
	if got := Synthesize(""); len(got) != 0 {
		t.Fatalf("empty text produced %d samples", len(got))
	}
}

func TestSynthesizePeakLimited(t *testing.T) {
	var peak float64
	for _, v := range Synthesize("a reasonably long reply") {
		if a := math.Abs(float64(v)); a > peak {
			peak = a
		}
	}
	if peak > tonePeak+1e-6 {
		t.Fatalf("peak %v exceeds limit %v", peak, tonePeak)
	}
	if peak < tonePeak*0.95 {
		t.Fatalf("peak %v suspiciously quiet, want about %v", peak, tonePeak)
	}
}

func TestStreamerDrainsAllSamples(t *testing.T) {
	s := &sampleStreamer{samples: Synthesize("ab")}
	buf := make([][2]float64, 512)

	total := 0
	for {
		n, ok := s.Stream(buf)
		total += n
		if !ok {
			break
		}
	}
	if total != len(s.samples) {
		t.Fatalf("streamed %d samples, want %d", total, len(s.samples))
	}
}
