package assistant

import (
	"context"

	"capri/pkg/stt"
)

type whisperTranscriber struct {
	tr   *stt.Transcriber
	opts stt.Options
}

// WhisperTranscriber adapts the whisper.cpp transcriber to the narrow
// interface the assistant consumes.
func WhisperTranscriber(tr *stt.Transcriber, opts stt.Options) Transcriber {
	return &whisperTranscriber{tr: tr, opts: opts}
}

func (w *whisperTranscriber) Transcribe(ctx context.Context, pcm []float32) (string, error) {
	res, err := w.tr.TranscribePCM(ctx, pcm, w.opts)
	if err != nil {
		return "", err
	}
	return res.Text, nil
}
