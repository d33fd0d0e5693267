package main

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	cli "github.com/spf13/pflag"

	"github.com/lmittmann/tint"
	log "log/slog"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"capri/internal/assistant"
	"capri/internal/audio"
	"capri/internal/home"
	"capri/internal/ipc"
	"capri/internal/llm"
	"capri/internal/proxy"
	"capri/internal/tts"
	"capri/internal/wakeword"
	"capri/pkg/stt"
)

var logLevelMap = map[string]log.Level{
	"debug": log.LevelDebug,
	"info":  log.LevelInfo,
	"warn":  log.LevelWarn,
	"error": log.LevelError,
}

func main() {
	envFile := cli.StringP("env", "e", ".env", "Env file path")
	proxyAddr := cli.StringP("proxy", "p", "", "SOCKS proxy address, empty for direct")
	logLevel := cli.StringP("log", "l", "info", "Log level")
	modelPath := cli.StringP("model", "m", "models/ggml-base.en.bin", "Whisper model path")
	wakeWord := cli.StringP("wake-word", "w", "capri", "Wake word name")
	devicesPath := cli.StringP("devices", "d", "devices.json", "Smart-home device registry")
	ttsEngine := cli.StringP("tts", "t", "tone", "TTS engine: tone or espeak")
	chatModel := cli.String("chat-model", "", "Chat model, empty for the default")
	earcon := cli.String("earcon", "", "Wake chime mp3, empty for silent")
	dumpDir := cli.String("dump-audio", "", "Directory to save recorded commands, empty to discard")
	duck := cli.Bool("duck", false, "Lower other playback while listening")
	threshold := cli.Float64("threshold", 0.01, "Energy silence gate")
	multiplier := cli.Float64("multiplier", 3.0, "Detection gate multiplier")
	cooldown := cli.Duration("cooldown", 2*time.Second, "Minimum spacing between wakes")
	sampleRate := cli.Int("rate", 16000, "Capture sample rate")
	frameSize := cli.Int("frame", 512, "Samples per analysis frame")
	cli.Parse()

	log.SetDefault(log.New(tint.NewHandler(os.Stdout, &tint.Options{
		Level: logLevelMap[*logLevel],
	})))

	log.Info("Booting up")

	godotenv.Load(*envFile)
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		log.Error("OPENAI_API_KEY not set")
		os.Exit(1)
	}

	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if *proxyAddr != "" {
		httpClient, err := proxy.NewSocksClient(*proxyAddr, 0)
		if err != nil {
			log.Error("Failed to dial socks proxy", "proxy", *proxyAddr, "err", err)
			os.Exit(1)
		}
		opts = append(opts, option.WithHTTPClient(httpClient))
		log.Debug("Loaded proxy")
	}
	api := openai.NewClient(opts...)

	if err := audio.Init(); err != nil {
		log.Error("Failed to init audio", "err", err)
		os.Exit(1)
	}
	defer audio.Terminate()

	whisper, err := stt.NewTranscriber(*modelPath)
	if err != nil {
		log.Error("Failed to init whisper", "model", *modelPath, "err", err)
		os.Exit(1)
	}
	defer whisper.Close()

	log.Debug("Loaded whisper")

	var speech tts.Engine
	switch *ttsEngine {
	case "espeak":
		speech = tts.Espeak{}
	default:
		speech = tts.NewTone()
	}

	deps := assistant.Deps{
		Recorder:    audio.NewRecorder(audio.RecorderConfig{SampleRate: *sampleRate}),
		Transcriber: assistant.WhisperTranscriber(whisper, stt.Options{Language: "auto"}),
		Generator:   llm.NewClient(api, llm.Config{Model: *chatModel}),
		Speech:      speech,
		Home:        home.NewController(home.LoadConfig(*devicesPath)),
	}
	if *duck {
		deps.Ducker = audio.NewDucker([]string{"capri"}, 10)
	}

	a := assistant.New(assistant.Config{
		WakeWord:   *wakeWord,
		EarconPath: *earcon,
		DumpDir:    *dumpDir,
	}, deps)

	det, err := wakeword.New(wakeword.Config{
		WakeWord:            *wakeWord,
		SampleRate:          *sampleRate,
		FrameSize:           *frameSize,
		EnergyThreshold:     *threshold,
		DetectionMultiplier: *multiplier,
		Cooldown:            *cooldown,
	}, audio.NewMicrophone())
	if err != nil {
		log.Error("Bad detector config", "err", err)
		os.Exit(1)
	}
	det.SetCallback(a.OnWake)

	if err := ipc.StartServer(func(msg ipc.ControlMessage) ipc.Reply {
		switch msg.Cmd {
		case "trigger":
			go a.OnWake()
			return ipc.Reply{OK: true, Detail: "wake triggered"}
		case "stop":
			det.Stop()
			return ipc.Reply{OK: true, Detail: "listener stopped"}
		case "status":
			if det.Listening() {
				return ipc.Reply{OK: true, Detail: "listening"}
			}
			return ipc.Reply{OK: true, Detail: "stopped"}
		default:
			log.Warn("Unknown command", "cmd", msg.Cmd)
			return ipc.Reply{OK: false, Detail: "unknown command"}
		}
	}); err != nil {
		log.Error("Failed ipc server", "err", err)
		os.Exit(1)
	}

	log.Info("Boot up - successful")

	quit := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			err := det.Listen()
			if err == nil {
				return
			}
			log.Error("Listening failed, retrying", "err", err)
			select {
			case <-quit:
				return
			case <-time.After(2 * time.Second):
			}
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sig:
		log.Info("Shutting down")
		close(quit)
		det.Stop()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			log.Warn("Listener did not stop in time")
		}
	case <-done:
		log.Info("Listener exited")
	}
}
