package api

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/adminease/assistant/internal/auth"
	"github.com/adminease/assistant/internal/config"
	"github.com/adminease/assistant/internal/core"
	"github.com/adminease/assistant/internal/store"
)

type APIHandler struct {
	chatService     *core.ChatService
	approvalService *core.ApprovalService
	ttsService      core.Synthesizer
}

func NewAPIHandler(cs *core.ChatService, as *core.ApprovalService, tts core.Synthesizer) *APIHandler {
	return &APIHandler{chatService: cs, approvalService: as, ttsService: tts}
}

// respondJSON writes payload with "success": true folded in.
func respondJSON(w http.ResponseWriter, status int, payload map[string]interface{}) {
	if payload == nil {
		payload = map[string]interface{}{}
	}
	payload["success"] = true
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": false,
		"error":   message,
	})
}

func (h *APIHandler) JWTAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			respondError(w, http.StatusUnauthorized, "Authorization header is required")
			return
		}

		tokenString := strings.TrimPrefix(authHeader, "Bearer ")
		externalUserID, role, err := auth.ValidateJWT(tokenString)
		if err != nil {
			respondError(w, http.StatusUnauthorized, "Invalid token")
			return
		}

		user, err := h.chatService.GetUserByExternalID(externalUserID)
		if err != nil {
			log.Printf("Error in JWTAuthMiddleware for user %s: %v", externalUserID, err)
			respondError(w, http.StatusInternalServerError, "Failed to process user identity")
			return
		}

		if user == nil {
			respondError(w, http.StatusUnauthorized, "User not found")
			return
		}

		ctx := context.WithValue(r.Context(), "userID", user.ID)
		ctx = context.WithValue(ctx, "externalUserID", user.ExternalUserID)
		ctx = context.WithValue(ctx, "role", role)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type SignupRequest struct {
	UserID   string `json:"user_id"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

func (h *APIHandler) SignupHandler(w http.ResponseWriter, r *http.Request) {
	var req SignupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	if req.UserID == "" || req.Password == "" {
		respondError(w, http.StatusBadRequest, "User ID and password are required")
		return
	}
	if req.Role == "" {
		req.Role = core.RoleEmployee
	}

	hashedPassword, err := auth.HashPassword(req.Password)
	if err != nil {
		log.Printf("Error hashing password for user %s: %v", req.UserID, err)
		respondError(w, http.StatusInternalServerError, "Failed to process password")
		return
	}

	user, err := h.chatService.CreateUser(req.UserID, hashedPassword, req.Role)
	if err != nil {
		log.Printf("Error creating user %s: %v", req.UserID, err)
		respondError(w, http.StatusInternalServerError, "Failed to create user")
		return
	}

	respondJSON(w, http.StatusCreated, map[string]interface{}{"user": user})
}

type LoginRequest struct {
	UserID   string `json:"user_id"`
	Password string `json:"password"`
}

func (h *APIHandler) LoginHandler(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	if req.UserID == "" || req.Password == "" {
		respondError(w, http.StatusBadRequest, "User ID and password are required")
		return
	}

	user, err := h.chatService.GetUserByExternalID(req.UserID)
	if err != nil {
		log.Printf("Error getting user %s: %v", req.UserID, err)
		respondError(w, http.StatusUnauthorized, "Invalid credentials")
		return
	}

	if user == nil || !auth.CheckPasswordHash(req.Password, user.PasswordHash) {
		respondError(w, http.StatusUnauthorized, "Invalid credentials")
		return
	}

	token, err := auth.GenerateJWT(user.ExternalUserID, user.Role)
	if err != nil {
		log.Printf("Error generating JWT for user %s: %v", req.UserID, err)
		respondError(w, http.StatusInternalServerError, "Failed to generate token")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"token": token,
		"role":  user.Role,
	})
}

func (h *APIHandler) CreateSessionHandler(w http.ResponseWriter, r *http.Request) {
	userID := r.Context().Value("userID").(int64)

	session, err := h.chatService.CreateSession(userID)
	if err != nil {
		log.Printf("Error creating session for user %d: %v", userID, err)
		respondError(w, http.StatusInternalServerError, "Failed to create session")
		return
	}

	respondJSON(w, http.StatusCreated, map[string]interface{}{
		"session_id": session.ID,
		"created_at": session.CreatedAt,
	})
}

func (h *APIHandler) ListSessionsHandler(w http.ResponseWriter, r *http.Request) {
	userID := r.Context().Value("userID").(int64)

	sessions, err := h.chatService.ListSessions(userID)
	if err != nil {
		log.Printf("Error listing sessions for user %d: %v", userID, err)
		respondError(w, http.StatusInternalServerError, "Failed to list sessions")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"sessions": sessions})
}

func (h *APIHandler) SessionHistoryHandler(w http.ResponseWriter, r *http.Request) {
	userID := r.Context().Value("userID").(int64)
	sessionID := chi.URLParam(r, "sessionID")

	session, messages, files, err := h.chatService.GetSessionHistory(sessionID, userID)
	if err != nil {
		log.Printf("Error getting history for user %d, session %s: %v", userID, sessionID, err)
		respondError(w, http.StatusInternalServerError, "Failed to get session history")
		return
	}
	if session == nil {
		respondError(w, http.StatusNotFound, "Session not found")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"session":  session,
		"messages": messages,
		"files":    files,
	})
}

type NewChatRequest struct {
	SessionID string `json:"session_id"`
}

func (h *APIHandler) NewChatHandler(w http.ResponseWriter, r *http.Request) {
	userID := r.Context().Value("userID").(int64)

	var req NewChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if req.SessionID == "" {
		respondError(w, http.StatusBadRequest, "session_id is required")
		return
	}

	if err := h.chatService.ResetSession(req.SessionID, userID); err != nil {
		if err.Error() == "session not found" {
			respondError(w, http.StatusNotFound, err.Error())
			return
		}
		log.Printf("Error resetting session %s for user %d: %v", req.SessionID, userID, err)
		respondError(w, http.StatusInternalServerError, "Failed to reset session")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"message": "Chat history cleared"})
}

const maxUploadBytes = 32 << 20 // 32 MiB

func (h *APIHandler) UploadFullHandler(w http.ResponseWriter, r *http.Request) {
	userID := r.Context().Value("userID").(int64)

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid multipart form: "+err.Error())
		return
	}

	sessionID := r.FormValue("session_id")
	if sessionID == "" {
		respondError(w, http.StatusBadRequest, "session_id is required")
		return
	}
	session, err := h.chatService.VerifySession(sessionID, userID)
	if err != nil {
		log.Printf("Error verifying session %s for upload: %v", sessionID, err)
		respondError(w, http.StatusInternalServerError, "Failed to verify session")
		return
	}
	if session == nil {
		respondError(w, http.StatusNotFound, "Session not found")
		return
	}

	src, header, err := r.FormFile("file")
	if err != nil {
		respondError(w, http.StatusBadRequest, "file field is required")
		return
	}
	defer src.Close()

	original := filepath.Base(header.Filename)
	ext := strings.ToLower(filepath.Ext(original))
	if ext != ".csv" && ext != ".xlsx" && ext != ".xls" {
		respondError(w, http.StatusBadRequest, "Only .csv, .xlsx and .xls files are supported")
		return
	}

	storedName := fmt.Sprintf("%s_%s%s", sessionID, uuid.NewString()[:8], ext)
	destPath := filepath.Join(config.AppConfig.UploadsDir, storedName)
	if err := os.MkdirAll(config.AppConfig.UploadsDir, 0o755); err != nil {
		log.Printf("Error creating uploads dir: %v", err)
		respondError(w, http.StatusInternalServerError, "Failed to store file")
		return
	}

	dest, err := os.Create(destPath)
	if err != nil {
		log.Printf("Error creating upload file %s: %v", destPath, err)
		respondError(w, http.StatusInternalServerError, "Failed to store file")
		return
	}
	size, err := io.Copy(dest, src)
	dest.Close()
	if err != nil {
		os.Remove(destPath)
		log.Printf("Error writing upload file %s: %v", destPath, err)
		respondError(w, http.StatusInternalServerError, "Failed to store file")
		return
	}

	rows, columns := 0, 0
	if ext == ".csv" {
		rows, columns, err = inspectCSV(destPath)
		if err != nil {
			log.Printf("Could not inspect CSV %s: %v", destPath, err)
		}
	}

	file := &store.UploadedFile{
		SessionID:        sessionID,
		Filename:         storedName,
		OriginalFilename: original,
		SizeBytes:        size,
		Rows:             rows,
		Columns:          columns,
	}
	if err := h.chatService.RegisterUpload(file); err != nil {
		os.Remove(destPath)
		log.Printf("Error registering upload for session %s: %v", sessionID, err)
		respondError(w, http.StatusInternalServerError, "Failed to register file")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"file_id": file.ID,
		"data_info": map[string]interface{}{
			"filename":   original,
			"size_bytes": size,
			"rows":       rows,
			"columns":    columns,
		},
	})
}

// inspectCSV counts data rows and header columns without loading the
// whole file into memory.
func inspectCSV(path string) (rows, columns int, err error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1 // Tolerate ragged rows
	header, err := reader.Read()
	if err != nil {
		if err == io.EOF {
			return 0, 0, nil
		}
		return 0, 0, err
	}
	columns = len(header)
	for {
		_, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return rows, columns, err
		}
		rows++
	}
	return rows, columns, nil
}

type GoogleSheetRequest struct {
	SessionID      string `json:"session_id"`
	SpreadsheetURL string `json:"spreadsheet_url"`
	SheetName      string `json:"sheet_name"`
}

func (h *APIHandler) UploadGoogleSheetHandler(w http.ResponseWriter, r *http.Request) {
	userID := r.Context().Value("userID").(int64)

	var req GoogleSheetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if req.SessionID == "" || req.SpreadsheetURL == "" {
		respondError(w, http.StatusBadRequest, "session_id and spreadsheet_url are required")
		return
	}
	if !strings.Contains(req.SpreadsheetURL, "docs.google.com/spreadsheets") {
		respondError(w, http.StatusBadRequest, "spreadsheet_url must be a Google Sheets link")
		return
	}

	session, err := h.chatService.VerifySession(req.SessionID, userID)
	if err != nil {
		log.Printf("Error verifying session %s for sheet link: %v", req.SessionID, err)
		respondError(w, http.StatusInternalServerError, "Failed to verify session")
		return
	}
	if session == nil {
		respondError(w, http.StatusNotFound, "Session not found")
		return
	}

	name := req.SheetName
	if name == "" {
		name = "Google Sheet"
	}
	file := &store.UploadedFile{
		SessionID:        req.SessionID,
		Filename:         "sheet_" + uuid.NewString()[:8],
		OriginalFilename: name,
		SheetURL:         req.SpreadsheetURL,
	}
	if err := h.chatService.RegisterUpload(file); err != nil {
		log.Printf("Error registering sheet for session %s: %v", req.SessionID, err)
		respondError(w, http.StatusInternalServerError, "Failed to register sheet")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"file_id":   file.ID,
		"sheet_url": req.SpreadsheetURL,
	})
}

func (h *APIHandler) SessionFilesHandler(w http.ResponseWriter, r *http.Request) {
	userID := r.Context().Value("userID").(int64)
	sessionID := chi.URLParam(r, "sessionID")

	session, err := h.chatService.VerifySession(sessionID, userID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to verify session")
		return
	}
	if session == nil {
		respondError(w, http.StatusNotFound, "Session not found")
		return
	}

	files, err := h.chatService.SessionFiles(sessionID)
	if err != nil {
		log.Printf("Error listing files for session %s: %v", sessionID, err)
		respondError(w, http.StatusInternalServerError, "Failed to list files")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"files": files})
}

type SetActiveFileRequest struct {
	SessionID string `json:"session_id"`
	FileID    string `json:"file_id"`
}

func (h *APIHandler) SetActiveFileHandler(w http.ResponseWriter, r *http.Request) {
	userID := r.Context().Value("userID").(int64)

	var req SetActiveFileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if req.SessionID == "" || req.FileID == "" {
		respondError(w, http.StatusBadRequest, "session_id and file_id are required")
		return
	}

	session, err := h.chatService.VerifySession(req.SessionID, userID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to verify session")
		return
	}
	if session == nil {
		respondError(w, http.StatusNotFound, "Session not found")
		return
	}

	if err := h.chatService.SetActiveFile(req.SessionID, req.FileID); err != nil {
		if err.Error() == "file not found" {
			respondError(w, http.StatusNotFound, err.Error())
			return
		}
		log.Printf("Error activating file %s in session %s: %v", req.FileID, req.SessionID, err)
		respondError(w, http.StatusInternalServerError, "Failed to activate file")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"active_file_id": req.FileID})
}

const previewRowLimit = 1000

func (h *APIHandler) PreviewHandler(w http.ResponseWriter, r *http.Request) {
	filename := filepath.Base(chi.URLParam(r, "filename"))

	path := filepath.Join(config.AppConfig.UploadsDir, filename)
	if _, err := os.Stat(path); err != nil {
		path = filepath.Join(config.AppConfig.OutputsDir, filename)
		if _, err := os.Stat(path); err != nil {
			respondError(w, http.StatusNotFound, "File not found")
			return
		}
	}

	if strings.ToLower(filepath.Ext(filename)) != ".csv" {
		respondError(w, http.StatusUnsupportedMediaType, "Only CSV files can be previewed; download the file instead")
		return
	}

	f, err := os.Open(path)
	if err != nil {
		log.Printf("Error opening preview file %s: %v", path, err)
		respondError(w, http.StatusInternalServerError, "Failed to open file")
		return
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1
	header, err := reader.Read()
	if err == io.EOF {
		header = []string{}
	} else if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to parse file")
		return
	}

	var rows [][]string
	truncated := false
	for err == nil {
		record, readErr := reader.Read()
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			respondError(w, http.StatusInternalServerError, "Failed to parse file")
			return
		}
		if len(rows) >= previewRowLimit {
			truncated = true
			break
		}
		rows = append(rows, record)
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"filename":  filename,
		"columns":   header,
		"rows":      rows,
		"truncated": truncated,
	})
}

func (h *APIHandler) DownloadHandler(w http.ResponseWriter, r *http.Request) {
	filename := filepath.Base(chi.URLParam(r, "filename"))

	for _, dir := range []string{config.AppConfig.OutputsDir, config.AppConfig.UploadsDir} {
		path := filepath.Join(dir, filename)
		if _, err := os.Stat(path); err == nil {
			w.Header().Set("Content-Disposition", "attachment; filename=\""+filename+"\"")
			http.ServeFile(w, r, path)
			return
		}
	}
	respondError(w, http.StatusNotFound, "File not found")
}

func (h *APIHandler) TTSSynthesizeHandler(w http.ResponseWriter, r *http.Request) {
	var req core.SynthesizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if req.Text == "" {
		respondError(w, http.StatusBadRequest, "text is required")
		return
	}
	if !h.ttsService.Enabled() {
		respondError(w, http.StatusServiceUnavailable, "Speech synthesis is not configured")
		return
	}

	result, err := h.ttsService.Synthesize(r.Context(), req)
	if err != nil {
		log.Printf("Synthesis failed: %v", err)
		respondError(w, http.StatusBadGateway, "Speech synthesis failed")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"audio_data":   result.AudioData,
		"audio_format": result.AudioFormat,
		"voice_used":   result.VoiceUsed,
	})
}

type SubmitFormRequest struct {
	FormType     string          `json:"form_type"`
	EmployeeName string          `json:"employee_name"`
	Payload      json.RawMessage `json:"payload"`
}

func (h *APIHandler) SubmitFormHandler(w http.ResponseWriter, r *http.Request) {
	externalUserID := r.Context().Value("externalUserID").(string)

	var req SubmitFormRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	payload := "{}"
	if len(req.Payload) > 0 {
		payload = string(req.Payload)
	}
	form, err := h.approvalService.SubmitForm(req.FormType, externalUserID, req.EmployeeName, payload)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	respondJSON(w, http.StatusCreated, map[string]interface{}{"form": form})
}

// roleFromPath validates the {role} path segment against the caller's
// token. Every authenticated user may act as employee over their own
// submissions; any other role must match the token's role claim.
func roleFromPath(r *http.Request) (string, error) {
	pathRole := chi.URLParam(r, "role")
	if ValidRole(pathRole) {
		tokenRole, _ := r.Context().Value("role").(string)
		if pathRole == core.RoleEmployee || pathRole == tokenRole {
			return pathRole, nil
		}
		return "", fmt.Errorf("token role %q cannot access the %s dashboard", tokenRole, pathRole)
	}
	return "", fmt.Errorf("unknown role %q", pathRole)
}

func ValidRole(role string) bool {
	switch role {
	case core.RoleManager, core.RoleHR, core.RoleIT, core.RoleFacilities,
		core.RoleFacilitiesManager, core.RoleFinance, core.RoleLegal, core.RoleEmployee:
		return true
	}
	return false
}

func (h *APIHandler) RoleQueueHandler(w http.ResponseWriter, r *http.Request) {
	externalUserID := r.Context().Value("externalUserID").(string)

	role, err := roleFromPath(r)
	if err != nil {
		respondError(w, http.StatusForbidden, err.Error())
		return
	}

	items, summary, err := h.approvalService.QueueForRole(role, externalUserID)
	if err != nil {
		log.Printf("Error loading queue for role %s: %v", role, err)
		respondError(w, http.StatusInternalServerError, "Failed to load queue")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"forms":   items,
		"summary": summary,
	})
}

type UpdateStatusRequest struct {
	FormID string `json:"form_id"`
	Status string `json:"status"`
}

func (h *APIHandler) UpdateStatusHandler(w http.ResponseWriter, r *http.Request) {
	externalUserID := r.Context().Value("externalUserID").(string)

	role, err := roleFromPath(r)
	if err != nil {
		respondError(w, http.StatusForbidden, err.Error())
		return
	}
	if role == core.RoleEmployee {
		respondError(w, http.StatusForbidden, "Employees cannot decide forms")
		return
	}

	var req UpdateStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if req.FormID == "" {
		respondError(w, http.StatusBadRequest, "form_id is required")
		return
	}

	form, err := h.approvalService.Decide(req.FormID, role, req.Status, externalUserID)
	if err != nil {
		switch {
		case err.Error() == "form not found":
			respondError(w, http.StatusNotFound, err.Error())
		case strings.HasPrefix(err.Error(), "invalid decision"):
			respondError(w, http.StatusBadRequest, err.Error())
		default:
			respondError(w, http.StatusConflict, err.Error())
		}
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"form": form})
}

func (h *APIHandler) FormDetailsHandler(w http.ResponseWriter, r *http.Request) {
	externalUserID := r.Context().Value("externalUserID").(string)

	role, err := roleFromPath(r)
	if err != nil {
		respondError(w, http.StatusForbidden, err.Error())
		return
	}

	formID := chi.URLParam(r, "formID")
	form, err := h.approvalService.FormDetails(formID)
	if err != nil {
		log.Printf("Error loading form %s: %v", formID, err)
		respondError(w, http.StatusInternalServerError, "Failed to load form")
		return
	}
	if form == nil {
		respondError(w, http.StatusNotFound, "Form not found")
		return
	}
	if role == core.RoleEmployee && form.EmployeeID != externalUserID {
		respondError(w, http.StatusForbidden, "Form belongs to another employee")
		return
	}

	var label string
	if role == core.RoleEmployee {
		label = core.DeriveEmployeeStatus(*form)
	} else {
		label = core.DeriveRoleStatus(*form, role)
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"form":           form,
		"derived_status": label,
	})
}
