package core

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/adminease/assistant/internal/config"
	"github.com/adminease/assistant/internal/protocol"
	"github.com/adminease/assistant/internal/store"
	"github.com/google/generative-ai-go/genai"
)

// Completer is the slice of LLMService the chat service depends on.
type Completer interface {
	StreamChatCompletion(ctx context.Context, promptHistory []*genai.Content, emit func(token string)) (string, error)
	GenerateTitleForChat(chatSummary string) (string, error)
}

// Synthesizer is the slice of TTSService the chat service depends on.
type Synthesizer interface {
	Enabled() bool
	Synthesize(ctx context.Context, req SynthesizeRequest) (*SynthesizeResult, error)
}

type ChatService struct {
	dbStore    *store.SQLiteStore
	llmService Completer
	ttsService Synthesizer
}

func NewChatService(db *store.SQLiteStore, llm Completer, tts Synthesizer) *ChatService {
	return &ChatService{
		dbStore:    db,
		llmService: llm,
		ttsService: tts,
	}
}

func (s *ChatService) GetUserByExternalID(externalUserID string) (*store.User, error) {
	return s.dbStore.GetUserByExternalID(externalUserID)
}

func (s *ChatService) CreateUser(externalUserID, passwordHash, role string) (*store.User, error) {
	return s.dbStore.CreateUser(externalUserID, passwordHash, role)
}

func (s *ChatService) CreateSession(userID int64) (*store.Session, error) {
	return s.dbStore.CreateSession(userID, nil)
}

// SessionSummary is the row shape of the session list endpoint.
type SessionSummary struct {
	ID           string `json:"id"`
	CreatedAt    string `json:"created_at"`
	MessageCount int    `json:"message_count"`
	Filename     string `json:"filename"`
}

func (s *ChatService) ListSessions(userID int64) ([]SessionSummary, error) {
	sessions, err := s.dbStore.GetSessionsByUserID(userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}

	summaries := make([]SessionSummary, 0, len(sessions))
	for _, session := range sessions {
		count, err := s.dbStore.CountMessagesBySessionID(session.ID)
		if err != nil {
			log.Printf("Failed to count messages for session %s: %v", session.ID, err)
		}
		name := "Chat " + session.ID[:8]
		if session.Title != nil && *session.Title != "" {
			name = *session.Title
		}
		summaries = append(summaries, SessionSummary{
			ID:           session.ID,
			CreatedAt:    session.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
			MessageCount: count,
			Filename:     name,
		})
	}
	return summaries, nil
}

func (s *ChatService) GetSessionHistory(sessionID string, userID int64) (*store.Session, []store.Message, []store.UploadedFile, error) {
	session, err := s.dbStore.GetSessionByID(sessionID, userID)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to get session: %w", err)
	}
	if session == nil {
		return nil, nil, nil, nil // Not found
	}

	messages, err := s.dbStore.GetMessagesBySessionID(sessionID, 100, 0)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to get messages for session: %w", err)
	}
	files, err := s.dbStore.GetFilesBySessionID(sessionID)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to get files for session: %w", err)
	}
	return session, messages, files, nil
}

// ResetSession drops a session's messages and files so the client can
// start a fresh conversation under the same id.
func (s *ChatService) ResetSession(sessionID string, userID int64) error {
	session, err := s.dbStore.GetSessionByID(sessionID, userID)
	if err != nil {
		return fmt.Errorf("failed to verify session: %w", err)
	}
	if session == nil {
		return fmt.Errorf("session not found")
	}
	return s.dbStore.ClearSession(sessionID, userID)
}

// VerifySession returns the session if it exists and belongs to the
// user, nil otherwise.
func (s *ChatService) VerifySession(sessionID string, userID int64) (*store.Session, error) {
	return s.dbStore.GetSessionByID(sessionID, userID)
}

func (s *ChatService) RegisterUpload(file *store.UploadedFile) error {
	return s.dbStore.CreateUploadedFile(file)
}

func (s *ChatService) SessionFiles(sessionID string) ([]store.UploadedFile, error) {
	return s.dbStore.GetFilesBySessionID(sessionID)
}

func (s *ChatService) SetActiveFile(sessionID, fileID string) error {
	return s.dbStore.SetActiveFile(sessionID, fileID)
}

// StreamOptions controls one streamed turn.
type StreamOptions struct {
	TTSEnabled   bool
	VoiceName    string
	AudioFormat  string
	AutoGreeting bool
}

// StreamResponse runs one assistant turn: persist the user message,
// stream the model's answer as typed events, interleave TTS chunks,
// and persist the full response. Event emission order is: link/artifact
// events first, then tokens (with tts_chunk events as sentences
// complete), then suggestions and complete. Errors mid-stream surface
// as an error event; the caller still terminates the stream normally.
func (s *ChatService) StreamResponse(ctx context.Context, sessionID string, userID int64, userContent string, opts StreamOptions, emit func(protocol.Event)) error {
	session, err := s.dbStore.GetSessionByID(sessionID, userID)
	if err != nil {
		return fmt.Errorf("failed to verify session: %w", err)
	}
	if session == nil {
		return fmt.Errorf("session not found")
	}

	if !opts.AutoGreeting {
		userMsg := store.Message{SessionID: sessionID, Sender: "user", Content: userContent}
		if err := s.dbStore.CreateMessage(&userMsg); err != nil {
			return fmt.Errorf("failed to store user message: %w", err)
		}
	}

	files, err := s.dbStore.GetFilesBySessionID(sessionID)
	if err != nil {
		log.Printf("Failed to load files for session %s: %v", sessionID, err)
	}

	// A linked Google Sheet renders as an inline link above the answer.
	for _, f := range files {
		if f.Active && f.SheetURL != "" {
			emit(protocol.NewURL(f.SheetURL, "Open "+f.OriginalFilename))
			break
		}
	}

	// Spreadsheet artifacts generated for this session are offered for
	// download up front, the way chart/file events precede the text.
	if artifacts := sessionArtifacts(sessionID); len(artifacts) > 0 {
		emit(protocol.NewExcel(artifacts))
	}

	history, err := s.buildHistory(sessionID, userContent, files, opts.AutoGreeting)
	if err != nil {
		return err
	}

	chunker := NewSentenceChunker()
	chunkIndex := 0
	emitToken := func(token string) {
		emit(protocol.NewToken(token))
		if !opts.TTSEnabled || s.ttsService == nil || !s.ttsService.Enabled() {
			return
		}
		for _, sentence := range chunker.Write(token) {
			s.emitTTSChunk(ctx, sentence, &chunkIndex, opts, emit)
		}
	}

	response, err := s.llmService.StreamChatCompletion(ctx, history, emitToken)
	if err != nil {
		log.Printf("Error generating model response for session %s: %v", sessionID, err)
		emit(protocol.NewError("I'm sorry, I encountered an error while processing your request."))
		return nil
	}

	if opts.TTSEnabled && s.ttsService != nil && s.ttsService.Enabled() {
		for _, sentence := range chunker.Flush() {
			s.emitTTSChunk(ctx, sentence, &chunkIndex, opts, emit)
		}
	}

	modelMsg := store.Message{SessionID: sessionID, Sender: "model", Content: response}
	if err := s.dbStore.CreateMessage(&modelMsg); err != nil {
		log.Printf("Failed to store model message for session %s: %v", sessionID, err)
	}

	emit(protocol.NewSuggestions(suggestionsFor(files, userContent)))
	emit(protocol.NewComplete(detectApprovalIntent(userContent + " " + response)))

	if session.Title == nil || *session.Title == "" {
		basis := userContent
		if opts.AutoGreeting {
			basis = response
		}
		go s.generateAndSaveSessionTitle(sessionID, userID, basis)
	}
	return nil
}

func (s *ChatService) buildHistory(sessionID, userContent string, files []store.UploadedFile, autoGreeting bool) ([]*genai.Content, error) {
	historyMsgs, err := s.dbStore.GetLastNMessagesBySessionID(sessionID, 10)
	if err != nil {
		log.Printf("Error getting history for session %s: %v. Proceeding without history.", sessionID, err)
		historyMsgs = []store.Message{}
	}

	var history []*genai.Content
	for _, msg := range historyMsgs {
		history = append(history, &genai.Content{
			Role:  msg.Sender,
			Parts: []genai.Part{genai.Text(msg.Content)},
		})
	}

	finalContent := userContent
	if autoGreeting {
		finalContent = "Greet the user warmly in one or two sentences and offer help with their data or workplace requests."
	} else if len(files) > 0 {
		var names []string
		for _, f := range files {
			names = append(names, fmt.Sprintf("%s (%d rows x %d columns)", f.OriginalFilename, f.Rows, f.Columns))
		}
		finalContent = fmt.Sprintf("The user has loaded the following spreadsheet(s): %s.\n\nAnswer their question: %s",
			strings.Join(names, "; "), userContent)
	}

	history = append(history, &genai.Content{
		Role:  "user",
		Parts: []genai.Part{genai.Text(finalContent)},
	})
	return history, nil
}

func (s *ChatService) emitTTSChunk(ctx context.Context, sentence SentenceChunk, index *int, opts StreamOptions, emit func(protocol.Event)) {
	result, err := s.ttsService.Synthesize(ctx, SynthesizeRequest{
		Text:        sentence.Text,
		VoiceName:   opts.VoiceName,
		AudioFormat: opts.AudioFormat,
	})
	if err != nil {
		// Speech is best effort; the text already streamed.
		log.Printf("TTS synthesis failed for chunk %d: %v", *index, err)
		return
	}
	emit(protocol.NewTTSChunk(result.AudioData, result.AudioFormat, sentence.Text, *index, sentence.Start, sentence.End))
	*index++
}

func (s *ChatService) generateAndSaveSessionTitle(sessionID string, userID int64, basisContent string) {
	log.Printf("Attempting to generate title for session %s", sessionID)
	title, err := s.llmService.GenerateTitleForChat(basisContent)
	if err != nil {
		log.Printf("Failed to generate title for session %s: %v", sessionID, err)
		return
	}
	title = strings.Trim(title, "\"'\n\r\t .")

	err = s.dbStore.UpdateSessionTitle(sessionID, userID, title)
	if err != nil {
		log.Printf("Failed to save generated title '%s' for session %s: %v", title, sessionID, err)
	} else {
		log.Printf("Successfully generated and saved title '%s' for session %s", title, sessionID)
	}
}

// sessionArtifacts lists download URLs for generated spreadsheet files
// belonging to the session. Artifact generation itself lives behind the
// outputs directory contract: anything named <sessionID>_*.xlsx there
// is offered to the client.
func sessionArtifacts(sessionID string) []string {
	pattern := filepath.Join(config.AppConfig.OutputsDir, sessionID+"_*.xlsx")
	matches, err := filepath.Glob(pattern)
	if err != nil || len(matches) == 0 {
		return nil
	}
	urls := make([]string, 0, len(matches))
	for _, m := range matches {
		if _, err := os.Stat(m); err == nil {
			urls = append(urls, "/api/download/"+filepath.Base(m))
		}
	}
	return urls
}

func suggestionsFor(files []store.UploadedFile, userContent string) []string {
	if len(files) > 0 {
		return []string{
			"Summarize the data",
			"Which columns have missing values?",
			"Show totals by category",
		}
	}
	if detectApprovalIntent(userContent) {
		return []string{
			"Check my request status",
			"Submit another request",
			"Talk to the assistant",
		}
	}
	return []string{
		"Upload a spreadsheet",
		"Submit a leave request",
		"Check my pending approvals",
	}
}

// detectApprovalIntent reports whether the text references one of the
// submittable form workflows, which makes the client surface its
// approval action button.
func detectApprovalIntent(text string) bool {
	lowered := strings.ToLower(text)
	for _, phrase := range []string{
		"leave request", "petty cash", "it incident", "password reset",
		"meeting room", "facility access", "purchase requisition",
	} {
		if strings.Contains(lowered, phrase) {
			return true
		}
	}
	return false
}
