// Package api is the HTTP surface of the assistant: text chat, device
// listing and control, TTS, file transcription, health, and a websocket
// event stream.
package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	log "log/slog"
	"net/http"
	"path/filepath"
	"strings"

	"capri/internal/assistant"
	"capri/internal/home"
	"capri/pkg/audioconv"
)

const (
	maxUploadBytes = 32 << 20
	transcribeRate = 16000
	maxAudioSecs   = 120
)

type Server struct {
	assistant   *assistant.Assistant
	transcriber assistant.Transcriber // nil when no STT model is loaded
	hub         *Hub
	mux         *http.ServeMux
}

func NewServer(a *assistant.Assistant, tr assistant.Transcriber, hub *Hub) *Server {
	s := &Server{assistant: a, transcriber: tr, hub: hub}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleRoot)
	mux.HandleFunc("POST /chat", s.handleChat)
	mux.HandleFunc("GET /devices", s.handleDevices)
	mux.HandleFunc("POST /home/control", s.handleHomeControl)
	mux.HandleFunc("POST /tts", s.handleTTS)
	mux.HandleFunc("POST /transcribe", s.handleTranscribe)
	mux.HandleFunc("GET /health", s.handleHealth)
	if hub != nil {
		mux.HandleFunc("GET /ws", hub.handleWS)
	}
	s.mux = mux
	return s
}

func (s *Server) Handler() http.Handler { return s.mux }

type chatRequest struct {
	Text      string `json:"text"`
	ContextID string `json:"context_id,omitempty"`
}

type chatResponse struct {
	Response  string `json:"response"`
	ContextID string `json:"context_id"`
}

type controlRequest struct {
	DeviceID string         `json:"device_id"`
	Action   string         `json:"action"`
	Params   map[string]any `json:"params,omitempty"`
}

type statusResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}

	contextID := req.ContextID
	if contextID == "" {
		contextID = "default"
	}

	reply, err := s.assistant.ProcessText(r.Context(), req.Text, contextID)
	if err != nil {
		log.Error("chat failed", "err", err)
		writeError(w, http.StatusInternalServerError, "error processing request")
		return
	}
	writeJSON(w, http.StatusOK, chatResponse{Response: reply, ContextID: contextID})
}

func (s *Server) handleDevices(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]home.DeviceInfo{
		"devices": s.assistant.Home().Devices(),
	})
}

func (s *Server) handleHomeControl(w http.ResponseWriter, r *http.Request) {
	var req controlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.DeviceID == "" || req.Action == "" {
		writeError(w, http.StatusBadRequest, "device_id and action are required")
		return
	}

	err := s.assistant.Home().Control(req.DeviceID, req.Action, req.Params)
	switch {
	case errors.Is(err, home.ErrUnknownDevice):
		writeError(w, http.StatusNotFound, err.Error())
	case err != nil:
		log.Error("device control failed", "device", req.DeviceID, "err", err)
		writeError(w, http.StatusBadGateway, fmt.Sprintf("failed to control device %s", req.DeviceID))
	default:
		writeJSON(w, http.StatusOK, statusResponse{
			Status:  "success",
			Message: fmt.Sprintf("device %s controlled", req.DeviceID),
		})
	}
}

func (s *Server) handleTTS(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}

	s.assistant.Speak(req.Text)
	writeJSON(w, http.StatusOK, statusResponse{Status: "success", Message: "text spoken"})
}

// handleTranscribe accepts an audio file (wav/mp3/ogg) as the request
// body and returns its transcript. The filename query parameter, if
// present, hints the format; otherwise the payload is sniffed.
func (s *Server) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	if s.transcriber == nil {
		writeError(w, http.StatusServiceUnavailable, "no speech model loaded")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxUploadBytes))
	if err != nil || len(body) == 0 {
		writeError(w, http.StatusBadRequest, "empty audio payload")
		return
	}

	ext := filepath.Ext(r.URL.Query().Get("filename"))
	pcm, err := audioconv.Decode(bytes.NewReader(body), ext, transcribeRate, audioconv.Options{
		MaxSamples: transcribeRate * maxAudioSecs,
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("cannot decode audio: %v", err))
		return
	}

	text, err := s.transcriber.Transcribe(r.Context(), pcm)
	if err != nil {
		log.Error("transcription failed", "err", err)
		writeError(w, http.StatusInternalServerError, "transcription failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"text": text})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	sttState := "not loaded"
	if s.transcriber != nil {
		sttState = "loaded"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "healthy",
		"components": map[string]string{
			"assistant":    "loaded",
			"stt":          sttState,
			"home_control": "loaded",
		},
	})
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "capri voice assistant API",
		"endpoints": []map[string]string{
			{"method": "POST", "path": "/chat", "description": "send text to the assistant"},
			{"method": "GET", "path": "/devices", "description": "list smart home devices"},
			{"method": "POST", "path": "/home/control", "description": "control a home device"},
			{"method": "POST", "path": "/tts", "description": "speak text aloud"},
			{"method": "POST", "path": "/transcribe", "description": "transcribe an audio file"},
			{"method": "GET", "path": "/health", "description": "health check"},
			{"method": "GET", "path": "/ws", "description": "websocket event stream"},
		},
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn("encoding response", "err", err)
	}
}

func writeError(w http.ResponseWriter, code int, detail string) {
	writeJSON(w, code, map[string]string{"detail": detail})
}
