package main

import (
	"net/http"
	"os"

	"github.com/joho/godotenv"
	cli "github.com/spf13/pflag"

	"github.com/lmittmann/tint"
	log "log/slog"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"capri/internal/api"
	"capri/internal/assistant"
	"capri/internal/audio"
	"capri/internal/home"
	"capri/internal/llm"
	"capri/internal/proxy"
	"capri/internal/tts"
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
	addr := cli.StringP("addr", "a", ":8000", "HTTP listen address")
	proxyAddr := cli.StringP("proxy", "p", "", "SOCKS proxy address, empty for direct")
	logLevel := cli.StringP("log", "l", "info", "Log level")
	modelPath := cli.StringP("model", "m", "", "Whisper model path, empty disables /transcribe")
	devicesPath := cli.StringP("devices", "d", "devices.json", "Smart-home device registry")
	chatModel := cli.String("chat-model", "", "Chat model, empty for the default")
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
	}
	client := openai.NewClient(opts...)

	var transcriber assistant.Transcriber
	if *modelPath != "" {
		whisper, err := stt.NewTranscriber(*modelPath)
		if err != nil {
			log.Error("Failed to init whisper", "model", *modelPath, "err", err)
			os.Exit(1)
		}
		defer whisper.Close()
		transcriber = assistant.WhisperTranscriber(whisper, stt.Options{Language: "auto"})
		log.Debug("Loaded whisper")
	}

	hub := api.NewHub()
	a := assistant.New(assistant.Config{WakeWord: "capri"}, assistant.Deps{
		Recorder:    audio.NewRecorder(audio.RecorderConfig{}),
		Transcriber: transcriber,
		Generator:   llm.NewClient(client, llm.Config{Model: *chatModel}),
		Speech:      tts.NewTone(),
		Home:        home.NewController(home.LoadConfig(*devicesPath)),
		Events:      hub.Broadcast,
	})

	srv := api.NewServer(a, transcriber, hub)

	log.Info("Serving", "addr", *addr)
	if err := http.ListenAndServe(*addr, srv.Handler()); err != nil {
		log.Error("Server failed", "err", err)
		os.Exit(1)
	}
}
