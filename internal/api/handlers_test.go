package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/generative-ai-go/genai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adminease/assistant/internal/config"
	"github.com/adminease/assistant/internal/core"
	"github.com/adminease/assistant/internal/protocol"
	"github.com/adminease/assistant/internal/sseclient"
	"github.com/adminease/assistant/internal/store"
)

type fakeCompleter struct {
	tokens []string
}

func (f *fakeCompleter) StreamChatCompletion(ctx context.Context, history []*genai.Content, emit func(string)) (string, error) {
	var full strings.Builder
	for _, tok := range f.tokens {
		if emit != nil {
			emit(tok)
		}
		full.WriteString(tok)
	}
	return full.String(), nil
}

func (f *fakeCompleter) GenerateTitleForChat(chatSummary string) (string, error) {
	return "Test Chat", nil
}

type fakeSynthesizer struct {
	enabled bool
}

func (f *fakeSynthesizer) Enabled() bool { return f.enabled }

func (f *fakeSynthesizer) Synthesize(ctx context.Context, req core.SynthesizeRequest) (*core.SynthesizeResult, error) {
	return &core.SynthesizeResult{
		AudioData:   "ZmFrZSBhdWRpbw==",
		AudioFormat: "mp3",
		VoiceUsed:   "test-voice",
	}, nil
}

func newTestServer(t *testing.T, tokens []string) *httptest.Server {
	t.Helper()
	config.AppConfig = config.Config{
		JWTSecret:  "test-secret",
		UploadsDir: t.TempDir(),
		OutputsDir: t.TempDir(),
	}

	db, err := store.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	tts := &fakeSynthesizer{enabled: true}
	chatService := core.NewChatService(db, &fakeCompleter{tokens: tokens}, tts)
	approvalService := core.NewApprovalService(db)
	handler := NewAPIHandler(chatService, approvalService, tts)

	srv := httptest.NewServer(NewRouter(handler))
	t.Cleanup(srv.Close)
	return srv
}

func doJSON(t *testing.T, method, url, token string, body interface{}) (*http.Response, map[string]json.RawMessage) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })

	decoded := map[string]json.RawMessage{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	return resp, decoded
}

func signupAndLogin(t *testing.T, srv *httptest.Server, userID, role string) string {
	t.Helper()
	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/api/signup", "", map[string]string{
		"user_id": userID, "password": "hunter22", "role": role,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/login", "", map[string]string{
		"user_id": userID, "password": "hunter22",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var token string
	require.NoError(t, json.Unmarshal(body["token"], &token))
	require.NotEmpty(t, token)
	return token
}

func createSession(t *testing.T, srv *httptest.Server, token string) string {
	t.Helper()
	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/session", token, map[string]string{})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var sessionID string
	require.NoError(t, json.Unmarshal(body["session_id"], &sessionID))
	return sessionID
}

func TestAuthRequiredOnProtectedRoutes(t *testing.T) {
	srv := newTestServer(t, nil)

	resp, body := doJSON(t, http.MethodGet, srv.URL+"/api/sessions", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.JSONEq(t, "false", string(body["success"]))

	resp, _ = doJSON(t, http.MethodGet, srv.URL+"/api/sessions", "not-a-token", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	srv := newTestServer(t, nil)
	signupAndLogin(t, srv, "casey", core.RoleEmployee)

	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/api/login", "", map[string]string{
		"user_id": "casey", "password": "wrong",
	})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/api/login", "", map[string]string{
		"user_id": "nobody", "password": "hunter22",
	})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestSessionLifecycle(t *testing.T) {
	srv := newTestServer(t, nil)
	token := signupAndLogin(t, srv, "casey", core.RoleEmployee)

	sessionID := createSession(t, srv, token)

	resp, body := doJSON(t, http.MethodGet, srv.URL+"/api/sessions", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var sessions []core.SessionSummary
	require.NoError(t, json.Unmarshal(body["sessions"], &sessions))
	require.Len(t, sessions, 1)
	assert.Equal(t, sessionID, sessions[0].ID)

	resp, body = doJSON(t, http.MethodGet, srv.URL+"/api/session/"+sessionID+"/history", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var messages []store.Message
	require.NoError(t, json.Unmarshal(body["messages"], &messages))
	assert.Empty(t, messages)

	resp, _ = doJSON(t, http.MethodGet, srv.URL+"/api/session/no-such-session/history", token, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/api/new-chat", token, map[string]string{"session_id": sessionID})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestChatStreamEmitsTypedEventsAndDone(t *testing.T) {
	srv := newTestServer(t, []string{"Hello", " there. ", "How can I help?"})
	token := signupAndLogin(t, srv, "casey", core.RoleEmployee)
	sessionID := createSession(t, srv, token)

	payload, _ := json.Marshal(map[string]interface{}{
		"session_id":  sessionID,
		"message":     "hi",
		"tts_enabled": true,
	})
	req, err := http.NewRequest(http.MethodPost, srv.URL+"/api/chat-stream", bytes.NewReader(payload))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	var events []protocol.Event
	text, err := sseclient.Consume(context.Background(), resp.Body, func(ev protocol.Event) {
		events = append(events, ev)
	})
	require.NoError(t, err)
	assert.Equal(t, "Hello there. How can I help?", text)

	types := map[protocol.EventType]int{}
	for _, ev := range events {
		types[ev.EventType()]++
	}
	assert.Equal(t, 3, types[protocol.TypeToken])
	assert.NotZero(t, types[protocol.TypeTTSChunk])
	assert.Equal(t, 1, types[protocol.TypeSuggestions])
	assert.Equal(t, 1, types[protocol.TypeComplete])

	// The turn was persisted: user message plus full model reply.
	resp2, body := doJSON(t, http.MethodGet, srv.URL+"/api/session/"+sessionID+"/history", token, nil)
	require.Equal(t, http.StatusOK, resp2.StatusCode)
	var messages []store.Message
	require.NoError(t, json.Unmarshal(body["messages"], &messages))
	require.Len(t, messages, 2)
	assert.Equal(t, "user", messages[0].Sender)
	assert.Equal(t, "Hello there. How can I help?", messages[1].Content)
}

func TestChatStreamRejectsUnknownSession(t *testing.T) {
	srv := newTestServer(t, []string{"hi"})
	token := signupAndLogin(t, srv, "casey", core.RoleEmployee)

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/chat-stream", token, map[string]interface{}{
		"session_id": "missing", "message": "hi",
	})
	// Verification happens before any SSE bytes, so the client gets a
	// plain JSON 404 instead of a broken stream.
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.JSONEq(t, "false", string(body["success"]))
}

func TestUploadPreviewAndDownloadCSV(t *testing.T) {
	srv := newTestServer(t, nil)
	token := signupAndLogin(t, srv, "casey", core.RoleEmployee)
	sessionID := createSession(t, srv, token)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("session_id", sessionID))
	fw, err := mw.CreateFormFile("file", "sales.csv")
	require.NoError(t, err)
	fmt.Fprint(fw, "region,amount\nnorth,100\nsouth,250\n")
	require.NoError(t, mw.Close())

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/api/upload-full", &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var uploaded struct {
		Success  bool `json:"success"`
		DataInfo struct {
			Filename string `json:"filename"`
			Rows     int    `json:"rows"`
			Columns  int    `json:"columns"`
		} `json:"data_info"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&uploaded))
	assert.True(t, uploaded.Success)
	assert.Equal(t, "sales.csv", uploaded.DataInfo.Filename)
	assert.Equal(t, 2, uploaded.DataInfo.Rows)
	assert.Equal(t, 2, uploaded.DataInfo.Columns)

	respFiles, body := doJSON(t, http.MethodGet, srv.URL+"/api/session-files/"+sessionID, token, nil)
	require.Equal(t, http.StatusOK, respFiles.StatusCode)
	var files []store.UploadedFile
	require.NoError(t, json.Unmarshal(body["files"], &files))
	require.Len(t, files, 1)
	assert.True(t, files[0].Active)

	respPrev, prev := doJSON(t, http.MethodGet, srv.URL+"/api/preview/"+files[0].Filename, token, nil)
	require.Equal(t, http.StatusOK, respPrev.StatusCode)
	var columns []string
	require.NoError(t, json.Unmarshal(prev["columns"], &columns))
	assert.Equal(t, []string{"region", "amount"}, columns)

	reqDl, err := http.NewRequest(http.MethodGet, srv.URL+"/api/download/"+files[0].Filename, nil)
	require.NoError(t, err)
	reqDl.Header.Set("Authorization", "Bearer "+token)
	respDl, err := http.DefaultClient.Do(reqDl)
	require.NoError(t, err)
	defer respDl.Body.Close()
	assert.Equal(t, http.StatusOK, respDl.StatusCode)
	assert.Contains(t, respDl.Header.Get("Content-Disposition"), "attachment")
}

func TestUploadRejectsUnsupportedExtension(t *testing.T) {
	srv := newTestServer(t, nil)
	token := signupAndLogin(t, srv, "casey", core.RoleEmployee)
	sessionID := createSession(t, srv, token)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("session_id", sessionID))
	fw, err := mw.CreateFormFile("file", "notes.txt")
	require.NoError(t, err)
	fmt.Fprint(fw, "plain text")
	require.NoError(t, mw.Close())

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/api/upload-full", &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGoogleSheetLinkValidation(t *testing.T) {
	srv := newTestServer(t, nil)
	token := signupAndLogin(t, srv, "casey", core.RoleEmployee)
	sessionID := createSession(t, srv, token)

	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/api/upload-google-sheet", token, map[string]string{
		"session_id": sessionID, "spreadsheet_url": "https://example.com/not-a-sheet",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/upload-google-sheet", token, map[string]string{
		"session_id":      sessionID,
		"spreadsheet_url": "https://docs.google.com/spreadsheets/d/abc123/edit",
		"sheet_name":      "Q3 Budget",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var fileID string
	require.NoError(t, json.Unmarshal(body["file_id"], &fileID))
	assert.NotEmpty(t, fileID)
}

func TestApprovalEndpointsEnforceRoles(t *testing.T) {
	srv := newTestServer(t, nil)
	empToken := signupAndLogin(t, srv, "emp-1", core.RoleEmployee)
	mgrToken := signupAndLogin(t, srv, "mgr-1", core.RoleManager)

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/forms", empToken, map[string]interface{}{
		"form_type":     core.FormLeaveRequest,
		"employee_name": "Casey Vance",
		"payload":       map[string]interface{}{"days": 3},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var form store.Form
	require.NoError(t, json.Unmarshal(body["form"], &form))
	assert.Equal(t, core.RoleManager, form.StageRole)

	// An employee token cannot read the manager dashboard.
	resp, _ = doJSON(t, http.MethodGet, srv.URL+"/api/manager/queue", empToken, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, body = doJSON(t, http.MethodGet, srv.URL+"/api/manager/queue", mgrToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var queue []core.QueueItem
	require.NoError(t, json.Unmarshal(body["forms"], &queue))
	require.Len(t, queue, 1)
	assert.Equal(t, "Pending", queue[0].DerivedStatus)

	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/api/manager/update-status", mgrToken, map[string]string{
		"form_id": form.ID, "status": store.FormStatusApproved,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// Deciding twice at the same stage conflicts.
	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/api/manager/update-status", mgrToken, map[string]string{
		"form_id": form.ID, "status": store.FormStatusApproved,
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	// The employee sees the granular stage label on their own queue.
	resp, body = doJSON(t, http.MethodGet, srv.URL+"/api/employee/queue", empToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body["forms"], &queue))
	require.Len(t, queue, 1)
	assert.Equal(t, "Pending with HR", queue[0].DerivedStatus)

	resp, body = doJSON(t, http.MethodGet, srv.URL+"/api/employee/form-details/"+form.ID, empToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var label string
	require.NoError(t, json.Unmarshal(body["derived_status"], &label))
	assert.Equal(t, "Pending with HR", label)

	// Another employee cannot read someone else's form.
	otherToken := signupAndLogin(t, srv, "emp-2", core.RoleEmployee)
	resp, _ = doJSON(t, http.MethodGet, srv.URL+"/api/employee/form-details/"+form.ID, otherToken, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, _ = doJSON(t, http.MethodGet, srv.URL+"/api/wizard/queue", mgrToken, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestTTSSynthesizeEndpoint(t *testing.T) {
	srv := newTestServer(t, nil)
	token := signupAndLogin(t, srv, "casey", core.RoleEmployee)

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/tts/synthesize", token, map[string]string{
		"text": "Your request was approved.",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var audio string
	require.NoError(t, json.Unmarshal(body["audio_data"], &audio))
	assert.NotEmpty(t, audio)

	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/api/tts/synthesize", token, map[string]string{"text": ""})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHealthEndpoint(t *testing.T) {
	srv := newTestServer(t, nil)
	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
