package wakeword

// Scorer decides whether a single frame contains the wake word.
// Implementations must be pure: no side effects, deterministic for the
// same frame. The energy heuristic below is the default; a real acoustic
// keyword-spotting model slots in through this interface.
type Scorer interface {
	Detect(frame []float32) bool
}

// EnergyScorer gates on mean squared amplitude in two stages: frames at or
// below Threshold are rejected outright as silence, and of the rest only
// those above Threshold*Multiplier count as a detection.
type EnergyScorer struct {
	Threshold  float64
	Multiplier float64
}

func (s EnergyScorer) Detect(frame []float32) bool {
	e := Energy(frame)
	if e <= s.Threshold {
		return false
	}
	return e > s.Threshold*s.Multiplier
}

// Energy returns the mean squared amplitude of a frame.
func Energy(frame []float32) float64 {
	if len(frame) == 0 {
		return 0
	}
	var sum float64
	for _, x := range frame {
		sum += float64(x) * float64(x)
	}
	return sum / float64(len(frame))
}
