// Package assistant wires the voice pipeline together: wake, record,
// transcribe, route to home control or the LLM, speak. Everything it
// depends on comes in through Deps, so the HTTP API and the tests run the
// same code with fakes.
package assistant

import (
	"context"
	"fmt"
	log "log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"capri/internal/audio"
	"capri/internal/home"
	"capri/internal/llm"
	"capri/internal/notify"
	"capri/internal/tts"
)

const (
	defaultHistoryLimit  = 10
	defaultAnswerTimeout = 60 * time.Second

	fallbackRepeat = "Sorry, I didn't catch that. Could you repeat?"
	fallbackFailed = "Sorry, I couldn't process that request."
)

type Transcriber interface {
	Transcribe(ctx context.Context, pcm []float32) (string, error)
}

type Generator interface {
	Generate(ctx context.Context, prompt string, history []llm.Message) (string, error)
}

type Recorder interface {
	Record() ([]float32, error)
	SampleRate() int
}

type Config struct {
	WakeWord      string
	EarconPath    string        // "" = no chime
	DumpDir       string        // "" = don't save utterances
	HistoryLimit  int           // turns kept per context, 0 = default
	AnswerTimeout time.Duration // transcribe + reply budget per wake
}

type Deps struct {
	Recorder    Recorder
	Transcriber Transcriber
	Generator   Generator
	Speech      tts.Engine
	Home        *home.Controller
	Ducker      *audio.Ducker             // optional
	Events      func(kind, content string) // optional observer, must not block
}

type Assistant struct {
	cfg  Config
	deps Deps

	mu       sync.Mutex
	contexts map[string][]llm.Message
}

func New(cfg Config, deps Deps) *Assistant {
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = defaultHistoryLimit
	}
	if cfg.AnswerTimeout <= 0 {
		cfg.AnswerTimeout = defaultAnswerTimeout
	}
	return &Assistant{
		cfg:      cfg,
		deps:     deps,
		contexts: make(map[string][]llm.Message),
	}
}

// Home exposes the device controller for the HTTP API.
func (a *Assistant) Home() *home.Controller { return a.deps.Home }

// OnWake is the detector callback: one full voice turn. It never returns
// an error because there is nobody to return it to; failures are logged
// and, where it makes sense, spoken.
func (a *Assistant) OnWake() {
	a.emit("wake", a.cfg.WakeWord)
	log.Info("wake acknowledged, recording command")

	if a.cfg.EarconPath != "" {
		if err := notify.Earcon(a.cfg.EarconPath); err != nil {
			log.Warn("earcon failed", "err", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.AnswerTimeout)
	defer cancel()

	if a.deps.Ducker != nil {
		if err := a.deps.Ducker.Duck(ctx, 0.3, 150*time.Millisecond); err != nil {
			log.Warn("duck failed", "err", err)
		}
		defer func() {
			if err := a.deps.Ducker.Restore(context.Background(), 300*time.Millisecond); err != nil {
				log.Warn("restore volumes failed", "err", err)
			}
		}()
	}

	pcm, err := a.deps.Recorder.Record()
	if err != nil {
		log.Error("recording failed", "err", err)
		return
	}
	log.Info("command recorded", "samples", len(pcm))

	if a.cfg.DumpDir != "" {
		path := filepath.Join(a.cfg.DumpDir,
			fmt.Sprintf("command-%s.wav", time.Now().Format("20060102-150405")))
		if err := audio.WriteWAV(path, pcm, a.deps.Recorder.SampleRate()); err != nil {
			log.Warn("dump failed", "path", path, "err", err)
		}
	}

	text, err := a.deps.Transcriber.Transcribe(ctx, pcm)
	if err != nil {
		log.Error("transcription failed", "err", err)
		return
	}
	a.emit("transcript", text)
	log.Info("transcribed", "text", text)

	if strings.TrimSpace(text) == "" {
		a.Speak(fallbackRepeat)
		return
	}

	reply, err := a.ProcessText(ctx, text, "voice")
	if err != nil {
		log.Error("processing failed", "err", err)
		a.Speak(fallbackFailed)
		return
	}
	a.Speak(reply)
}

// ProcessText routes one utterance and maintains the per-context history.
// Home-automation phrasing goes to the device router, everything else to
// the LLM with the context's history attached.
func (a *Assistant) ProcessText(ctx context.Context, text, contextID string) (string, error) {
	if contextID == "" {
		contextID = "default"
	}

	var reply string
	if home.IsHomeCommand(text) {
		reply = a.deps.Home.HandleCommand(text)
	} else {
		r, err := a.deps.Generator.Generate(ctx, text, a.History(contextID))
		if err != nil {
			return "", fmt.Errorf("generate: %w", err)
		}
		reply = r
	}

	a.remember(contextID, text, reply)
	a.emit("reply", reply)
	return reply, nil
}

// Speak voices a reply; TTS failure is logged, not propagated, so the
// listening loop stays alive.
func (a *Assistant) Speak(text string) {
	a.emit("speak", text)
	if err := a.deps.Speech.Speak(text); err != nil {
		log.Error("tts failed", "err", err)
	}
}

// History returns a copy of a context's conversation so far.
func (a *Assistant) History(contextID string) []llm.Message {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]llm.Message(nil), a.contexts[contextID]...)
}

func (a *Assistant) remember(contextID, userText, reply string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	h := append(a.contexts[contextID],
		llm.Message{Role: llm.RoleUser, Content: userText},
		llm.Message{Role: llm.RoleAssistant, Content: reply},
	)
	if len(h) > a.cfg.HistoryLimit {
		h = h[len(h)-a.cfg.HistoryLimit:]
	}
	a.contexts[contextID] = h
}

func (a *Assistant) emit(kind, content string) {
	if a.deps.Events != nil {
		a.deps.Events(kind, content)
	}
}
