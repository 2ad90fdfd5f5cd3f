package core

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/adminease/assistant/internal/config"
	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

const (
	defaultChatModelName  = "gemini-1.5-flash-latest"
	defaultTitleModelName = "gemini-1.5-flash-latest"

	chatSystemInstruction = "You are a helpful workplace assistant. Answer questions about the user's " +
		"uploaded spreadsheet data and their pending requests (leave, petty cash, IT incidents, " +
		"meeting rooms, facility access, purchase requisitions). Keep answers concise and directly " +
		"related to the user's question. Do not make up information; if you don't know, say so."

	titleSystemInstruction = "You are a helpful assistant that generates concise titles for chat conversations. " +
		"The title should be 3-5 words maximum. Just return the title itself, nothing else."
)

type LLMService struct {
	client *genai.Client
}

func NewLLMService() *LLMService {
	ctx := context.Background()
	client, err := genai.NewClient(ctx, option.WithAPIKey(config.AppConfig.GeminiAPIKey))
	if err != nil {
		log.Fatalf("Failed to create GenAI client: %v", err)
	}

	return &LLMService{
		client: client,
	}
}

func (s *LLMService) Close() {
	if s.client != nil {
		if err := s.client.Close(); err != nil {
			log.Printf("Error closing GenAI client: %v", err)
		} else {
			log.Println("GenAI client closed.")
		}
	}
}

// StreamChatCompletion sends the last user turn of promptHistory and
// invokes emit for each text fragment as the model produces it. The
// full response text is returned once the stream ends.
func (s *LLMService) StreamChatCompletion(ctx context.Context, promptHistory []*genai.Content, emit func(token string)) (string, error) {
	if len(promptHistory) == 0 {
		return "", fmt.Errorf("prompt history is empty for chat completion")
	}

	lastUserMessage := promptHistory[len(promptHistory)-1]
	if lastUserMessage.Role != "user" {
		return "", fmt.Errorf("last message in history is not from 'user', cannot proceed with chat completion")
	}

	model := s.client.GenerativeModel(defaultChatModelName)
	model.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(chatSystemInstruction)},
	}

	chatSession := model.StartChat()
	chatSession.History = promptHistory[:len(promptHistory)-1]

	iter := chatSession.SendMessageStream(ctx, lastUserMessage.Parts...)

	var responseText strings.Builder
	for {
		resp, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			if responseText.Len() > 0 {
				// A partial answer already streamed to the client; keep it.
				log.Printf("Gemini stream interrupted after %d bytes: %v", responseText.Len(), err)
				break
			}
			return "", fmt.Errorf("gemini chat stream failed: %w", err)
		}
		if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
			continue
		}
		for _, part := range resp.Candidates[0].Content.Parts {
			txt, ok := part.(genai.Text)
			if !ok {
				log.Printf("Gemini response part was not text: %T", part)
				continue
			}
			responseText.WriteString(string(txt))
			if emit != nil {
				emit(string(txt))
			}
		}
	}

	if responseText.Len() == 0 {
		return "I'm sorry, I couldn't generate a response at this time. Please try again.", nil
	}
	return responseText.String(), nil
}

// GetChatCompletion is the non-streaming variant used where the caller
// wants the full answer in one piece (auto-greetings, simple chat).
func (s *LLMService) GetChatCompletion(ctx context.Context, promptHistory []*genai.Content) (string, error) {
	return s.StreamChatCompletion(ctx, promptHistory, nil)
}

func (s *LLMService) GenerateTitleForChat(chatSummary string) (string, error) {
	ctx := context.Background()
	model := s.client.GenerativeModel(defaultTitleModelName)

	model.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(titleSystemInstruction)},
	}

	temp := float32(0.3)
	maxTokens := int32(20)

	model.GenerationConfig = genai.GenerationConfig{
		MaxOutputTokens: &maxTokens,
		Temperature:     &temp,
	}

	userPromptForTitle := fmt.Sprintf("Generate a very concise title (3-5 words maximum) for a conversation that starts with or is about: \"%s\".", chatSummary)

	resp, err := model.GenerateContent(ctx, genai.Text(userPromptForTitle))
	if err != nil {
		return "", fmt.Errorf("gemini title generation request failed: %w", err)
	}

	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("gemini title generation returned no candidates")
	}

	var title strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			title.WriteString(string(txt))
		}
	}
	if title.Len() == 0 {
		return "", fmt.Errorf("gemini title generation returned no text")
	}
	return title.String(), nil
}
