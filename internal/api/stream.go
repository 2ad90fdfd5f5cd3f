package api

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"

	"github.com/adminease/assistant/internal/core"
	"github.com/adminease/assistant/internal/protocol"
)

type ChatStreamRequest struct {
	SessionID    string `json:"session_id"`
	Message      string `json:"message"`
	AutoGreeting bool   `json:"auto_greeting"`
	TTSEnabled   bool   `json:"tts_enabled"`
	VoiceName    string `json:"voice_name"`
	AudioFormat  string `json:"audio_format"`
}

// ChatStreamHandler runs one assistant turn over SSE. Each event is a
// JSON object on its own data line; the stream always terminates with
// the done sentinel, error or not, so clients can read to completion.
func (h *APIHandler) ChatStreamHandler(w http.ResponseWriter, r *http.Request) {
	userID := r.Context().Value("userID").(int64)

	var req ChatStreamRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if req.SessionID == "" {
		respondError(w, http.StatusBadRequest, "session_id is required")
		return
	}
	if req.Message == "" && !req.AutoGreeting {
		respondError(w, http.StatusBadRequest, "message is required")
		return
	}

	// Verify before committing to the SSE content type; a missing
	// session is a plain JSON 404.
	session, err := h.chatService.VerifySession(req.SessionID, userID)
	if err != nil {
		log.Printf("Error verifying session %s for stream: %v", req.SessionID, err)
		respondError(w, http.StatusInternalServerError, "Failed to verify session")
		return
	}
	if session == nil {
		respondError(w, http.StatusNotFound, "Session not found")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "Streaming is not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	// An immediate comment defeats proxy buffering before the first
	// real event arrives.
	fmt.Fprint(w, ": keep-alive\n\n")
	flusher.Flush()

	emit := func(ev protocol.Event) {
		data, err := protocol.Encode(ev)
		if err != nil {
			log.Printf("Failed to encode %s event: %v", ev.EventType(), err)
			return
		}
		fmt.Fprintf(w, "data: %s\n\n", data)
		flusher.Flush()
		streamEventsTotal.WithLabelValues(string(ev.EventType())).Inc()
	}

	opts := core.StreamOptions{
		TTSEnabled:   req.TTSEnabled,
		VoiceName:    req.VoiceName,
		AudioFormat:  req.AudioFormat,
		AutoGreeting: req.AutoGreeting,
	}
	if err := h.chatService.StreamResponse(r.Context(), req.SessionID, userID, req.Message, opts, emit); err != nil {
		log.Printf("Stream failed for session %s: %v", req.SessionID, err)
		emit(protocol.NewError(err.Error()))
	}

	fmt.Fprintf(w, "data: %s\n\n", protocol.Done)
	flusher.Flush()
}
