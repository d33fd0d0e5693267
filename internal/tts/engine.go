// Package tts turns reply text into audible speech. The Tone engine is a
// deliberate placeholder (a sine sweep standing in for a real
// synthesizer); Espeak produces actual speech where espeak-ng is
// installed.
package tts

type Engine interface {
	Speak(text string) error
}
