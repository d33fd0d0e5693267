package notify

import (
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/faiface/beep"
	"github.com/faiface/beep/mp3"
	"github.com/faiface/beep/speaker"
)

// Earcon plays a short mp3 chime so the user hears that the wake word
// landed before the recorder starts.
func Earcon(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open earcon: %w", err)
	}
	defer f.Close()

	streamer, format, err := mp3.Decode(f)
	if err != nil {
		return fmt.Errorf("decode earcon: %w", err)
	}
	defer streamer.Close()

	if err := speaker.Init(format.SampleRate, format.SampleRate.N(time.Second/10)); err != nil {
		return fmt.Errorf("init speaker: %w", err)
	}

	done := make(chan struct{})
	speaker.Play(beep.Seq(streamer, beep.Callback(func() {
		close(done)
	})))
	<-done
	return nil
}

// Desktop pushes a transient notification where notify-send exists.
// Failure is not worth surfacing; the voice path already acknowledged.
func Desktop(msg string) {
	_ = exec.Command("notify-send", "-t", "2000", "capri", msg).Run()
}
