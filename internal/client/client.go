// Package client is a typed HTTP client for the assistant API. It
// mirrors the server's endpoint surface: JSON envelopes everywhere
// except the chat stream, which is consumed as typed SSE events.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/adminease/assistant/internal/core"
	"github.com/adminease/assistant/internal/protocol"
	"github.com/adminease/assistant/internal/sseclient"
	"github.com/adminease/assistant/internal/store"
)

// autoGreetingTimeout bounds the server's opening turn so a stalled
// model cannot hang a freshly opened chat.
const autoGreetingTimeout = 30 * time.Second

type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

func New(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{},
	}
}

// SetToken installs the bearer token used on authenticated calls.
func (c *Client) SetToken(token string) {
	c.token = token
}

func (c *Client) doJSON(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	var envelope struct {
		Success bool   `json:"success"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return fmt.Errorf("unexpected response (%s): %s", resp.Status, truncate(data))
	}
	if !envelope.Success {
		return fmt.Errorf("server error (%s): %s", resp.Status, envelope.Error)
	}
	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

func truncate(data []byte) string {
	const max = 200
	if len(data) > max {
		return string(data[:max]) + "..."
	}
	return string(data)
}

func (c *Client) Signup(ctx context.Context, userID, password, role string) error {
	return c.doJSON(ctx, http.MethodPost, "/api/signup", map[string]string{
		"user_id": userID, "password": password, "role": role,
	}, nil)
}

// Login authenticates and installs the returned token on the client.
func (c *Client) Login(ctx context.Context, userID, password string) (role string, err error) {
	var out struct {
		Token string `json:"token"`
		Role  string `json:"role"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/api/login", map[string]string{
		"user_id": userID, "password": password,
	}, &out); err != nil {
		return "", err
	}
	c.token = out.Token
	return out.Role, nil
}

func (c *Client) CreateSession(ctx context.Context) (string, error) {
	var out struct {
		SessionID string `json:"session_id"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/api/session", map[string]string{}, &out); err != nil {
		return "", err
	}
	return out.SessionID, nil
}

func (c *Client) ListSessions(ctx context.Context) ([]core.SessionSummary, error) {
	var out struct {
		Sessions []core.SessionSummary `json:"sessions"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/api/sessions", nil, &out); err != nil {
		return nil, err
	}
	return out.Sessions, nil
}

// SessionHistory returns the stored conversation plus its files.
func (c *Client) SessionHistory(ctx context.Context, sessionID string) ([]store.Message, []store.UploadedFile, error) {
	var out struct {
		Messages []store.Message      `json:"messages"`
		Files    []store.UploadedFile `json:"files"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/api/session/"+sessionID+"/history", nil, &out); err != nil {
		return nil, nil, err
	}
	return out.Messages, out.Files, nil
}

func (c *Client) NewChat(ctx context.Context, sessionID string) error {
	return c.doJSON(ctx, http.MethodPost, "/api/new-chat", map[string]string{"session_id": sessionID}, nil)
}

// StreamChatRequest mirrors the chat-stream endpoint's body.
type StreamChatRequest struct {
	SessionID    string `json:"session_id"`
	Message      string `json:"message"`
	AutoGreeting bool   `json:"auto_greeting"`
	TTSEnabled   bool   `json:"tts_enabled"`
	VoiceName    string `json:"voice_name,omitempty"`
	AudioFormat  string `json:"audio_format,omitempty"`
}

// StreamChat runs one assistant turn, invoking handle for every typed
// event as it arrives, and returns the accumulated response text.
// Auto-greeting turns carry a hard timeout so an unresponsive backend
// cannot block a new chat from opening.
func (c *Client) StreamChat(ctx context.Context, req StreamChatRequest, handle func(protocol.Event)) (string, error) {
	if req.AutoGreeting {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, autoGreetingTimeout)
		defer cancel()
	}

	encoded, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("failed to encode stream request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat-stream", bytes.NewReader(encoded))
	if err != nil {
		return "", fmt.Errorf("failed to build stream request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	if c.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("stream request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("stream request failed (%s): %s", resp.Status, truncate(data))
	}

	return sseclient.Consume(ctx, resp.Body, handle)
}

// UploadResult describes the spreadsheet the server registered.
type UploadResult struct {
	FileID   string `json:"file_id"`
	DataInfo struct {
		Filename  string `json:"filename"`
		SizeBytes int64  `json:"size_bytes"`
		Rows      int    `json:"rows"`
		Columns   int    `json:"columns"`
	} `json:"data_info"`
}

// UploadFile sends a local spreadsheet into the session via multipart
// upload.
func (c *Client) UploadFile(ctx context.Context, sessionID, path string) (*UploadResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("session_id", sessionID); err != nil {
		return nil, fmt.Errorf("failed to write form field: %w", err)
	}
	fw, err := mw.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := io.Copy(fw, f); err != nil {
		return nil, fmt.Errorf("failed to copy file contents: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/upload-full", &buf)
	if err != nil {
		return nil, fmt.Errorf("failed to build upload request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upload failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read upload response: %w", err)
	}

	var out struct {
		Success bool   `json:"success"`
		Error   string `json:"error"`
		UploadResult
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("unexpected upload response (%s): %s", resp.Status, truncate(data))
	}
	if !out.Success {
		return nil, fmt.Errorf("upload rejected (%s): %s", resp.Status, out.Error)
	}
	return &out.UploadResult, nil
}

// LinkGoogleSheet registers a Google Sheets URL as the session's data
// source.
func (c *Client) LinkGoogleSheet(ctx context.Context, sessionID, sheetURL, sheetName string) (string, error) {
	var out struct {
		FileID string `json:"file_id"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/api/upload-google-sheet", map[string]string{
		"session_id":      sessionID,
		"spreadsheet_url": sheetURL,
		"sheet_name":      sheetName,
	}, &out); err != nil {
		return "", err
	}
	return out.FileID, nil
}

func (c *Client) SessionFiles(ctx context.Context, sessionID string) ([]store.UploadedFile, error) {
	var out struct {
		Files []store.UploadedFile `json:"files"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/api/session-files/"+sessionID, nil, &out); err != nil {
		return nil, err
	}
	return out.Files, nil
}

func (c *Client) SetActiveFile(ctx context.Context, sessionID, fileID string) error {
	return c.doJSON(ctx, http.MethodPost, "/api/set-active-file", map[string]string{
		"session_id": sessionID, "file_id": fileID,
	}, nil)
}

// Preview returns the parsed rows of an uploaded CSV.
type Preview struct {
	Filename  string     `json:"filename"`
	Columns   []string   `json:"columns"`
	Rows      [][]string `json:"rows"`
	Truncated bool       `json:"truncated"`
}

func (c *Client) PreviewFile(ctx context.Context, filename string) (*Preview, error) {
	var out Preview
	if err := c.doJSON(ctx, http.MethodGet, "/api/preview/"+filename, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DownloadFile streams a stored file into w.
func (c *Client) DownloadFile(ctx context.Context, filename string, w io.Writer) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/download/"+filename, nil)
	if err != nil {
		return fmt.Errorf("failed to build download request: %w", err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("download failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download failed: %s", resp.Status)
	}
	_, err = io.Copy(w, resp.Body)
	return err
}

// Synthesize converts text to speech through the server's TTS proxy.
func (c *Client) Synthesize(ctx context.Context, text, voiceName, audioFormat string) (*core.SynthesizeResult, error) {
	var out core.SynthesizeResult
	if err := c.doJSON(ctx, http.MethodPost, "/api/tts/synthesize", core.SynthesizeRequest{
		Text:        text,
		VoiceName:   voiceName,
		AudioFormat: audioFormat,
	}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SubmitForm starts a new approval workflow for the authenticated user.
func (c *Client) SubmitForm(ctx context.Context, formType, employeeName string, payload interface{}) (*store.Form, error) {
	var out struct {
		Form *store.Form `json:"form"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/api/forms", map[string]interface{}{
		"form_type":     formType,
		"employee_name": employeeName,
		"payload":       payload,
	}, &out); err != nil {
		return nil, err
	}
	return out.Form, nil
}

// RoleQueue fetches the dashboard rows and summary for a role.
func (c *Client) RoleQueue(ctx context.Context, role string) ([]core.QueueItem, core.Summary, error) {
	var out struct {
		Forms   []core.QueueItem `json:"forms"`
		Summary core.Summary     `json:"summary"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/api/"+role+"/queue", nil, &out); err != nil {
		return nil, core.Summary{}, err
	}
	return out.Forms, out.Summary, nil
}

// UpdateStatus records an approve/reject decision as the given role.
func (c *Client) UpdateStatus(ctx context.Context, role, formID, status string) (*store.Form, error) {
	var out struct {
		Form *store.Form `json:"form"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/api/"+role+"/update-status", map[string]string{
		"form_id": formID, "status": status,
	}, &out); err != nil {
		return nil, err
	}
	return out.Form, nil
}

// FormDetails returns a form plus the status label derived for role.
func (c *Client) FormDetails(ctx context.Context, role, formID string) (*store.Form, string, error) {
	var out struct {
		Form          *store.Form `json:"form"`
		DerivedStatus string      `json:"derived_status"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/api/"+role+"/form-details/"+formID, nil, &out); err != nil {
		return nil, "", err
	}
	return out.Form, out.DerivedStatus, nil
}
