package core

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/adminease/assistant/internal/config"
)

const defaultVoiceName = "en-US-Standard-C"

// TTSService fronts the external speech synthesis API. When no base
// URL is configured the service reports disabled and callers skip
// audio entirely; chat streaming still works.
type TTSService struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

type SynthesizeRequest struct {
	Text         string `json:"text"`
	VoiceName    string `json:"voice_name"`
	ModelName    string `json:"model_name,omitempty"`
	AudioFormat  string `json:"audio_format"`
	LanguageCode string `json:"language_code,omitempty"`
}

type SynthesizeResult struct {
	AudioData   string `json:"audio_data"` // base64
	AudioFormat string `json:"audio_format"`
	VoiceUsed   string `json:"voice_used"`
}

func NewTTSService() *TTSService {
	return &TTSService{
		baseURL: config.AppConfig.TTSAPIBaseURL,
		apiKey:  config.AppConfig.TTSAPIKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (s *TTSService) Enabled() bool {
	return s.baseURL != ""
}

// Synthesize converts one piece of text to audio. Zero-value request
// fields fall back to the default voice and mp3 output.
func (s *TTSService) Synthesize(ctx context.Context, req SynthesizeRequest) (*SynthesizeResult, error) {
	if !s.Enabled() {
		return nil, fmt.Errorf("speech synthesis is not configured")
	}
	if req.Text == "" {
		return nil, fmt.Errorf("text is required for synthesis")
	}
	if req.VoiceName == "" {
		req.VoiceName = defaultVoiceName
	}
	if req.AudioFormat == "" {
		req.AudioFormat = "mp3"
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal synthesis request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/v1/synthesize", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build synthesis request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("synthesis request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("synthesis backend returned status %s", resp.Status)
	}

	var decoded struct {
		Success     bool   `json:"success"`
		AudioData   string `json:"audio_data"`
		AudioFormat string `json:"audio_format"`
		VoiceUsed   string `json:"voice_used"`
		Error       string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("failed to decode synthesis response: %w", err)
	}
	if !decoded.Success {
		return nil, fmt.Errorf("synthesis backend error: %s", decoded.Error)
	}
	if decoded.AudioData == "" {
		return nil, fmt.Errorf("synthesis backend returned no audio data")
	}
	if decoded.AudioFormat == "" {
		decoded.AudioFormat = req.AudioFormat
	}

	return &SynthesizeResult{
		AudioData:   decoded.AudioData,
		AudioFormat: decoded.AudioFormat,
		VoiceUsed:   decoded.VoiceUsed,
	}, nil
}
