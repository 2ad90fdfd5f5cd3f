// Package protocol defines the typed event protocol carried over the
// chat SSE stream. Every event is a JSON object with an explicit "type"
// field; the stream itself is terminated by the literal sentinel Done.
package protocol

import (
	"encoding/json"
	"fmt"
)

// Done is the literal data payload that terminates a stream.
const Done = "[DONE]"

type EventType string

const (
	TypeToken       EventType = "token"
	TypeCharts      EventType = "charts"
	TypeExcel       EventType = "excel"
	TypeURL         EventType = "url"
	TypeSuggestions EventType = "suggestions"
	TypeTTSChunk    EventType = "tts_chunk"
	TypeTTS         EventType = "tts"
	TypeComplete    EventType = "complete"
	TypeError       EventType = "error"
)

// Event is implemented by every stream event payload.
type Event interface {
	EventType() EventType
}

// TokenEvent carries one increment of assistant text.
type TokenEvent struct {
	Type    EventType `json:"type"`
	Content string    `json:"content"`
}

// ChartsEvent carries renderable chart specs produced for a data session.
type ChartsEvent struct {
	Type   EventType         `json:"type"`
	Charts []json.RawMessage `json:"charts"`
}

// ExcelEvent carries download URLs for generated spreadsheet artifacts.
type ExcelEvent struct {
	Type       EventType `json:"type"`
	ExcelFiles []string  `json:"excel_files"`
}

// URLEvent carries a single link the client should render inline.
type URLEvent struct {
	Type     EventType `json:"type"`
	SheetURL string    `json:"sheet_url"`
	LinkText string    `json:"link_text"`
}

// SuggestionsEvent carries follow-up prompts for the client to offer.
type SuggestionsEvent struct {
	Type        EventType `json:"type"`
	Suggestions []string  `json:"suggestions"`
}

// TTSChunkEvent carries one base64-encoded unit of synthesized speech,
// ordered by ChunkIndex and anchored to a span of the streamed text.
type TTSChunkEvent struct {
	Type              EventType `json:"type"`
	AudioData         string    `json:"audio_data"`
	AudioFormat       string    `json:"audio_format"`
	Text              string    `json:"text"`
	ChunkIndex        int       `json:"chunk_index"`
	TextStartPosition int       `json:"text_start_position"`
	TextEndPosition   int       `json:"text_end_position"`
}

// TTSEvent carries a whole-message synthesis result (non-incremental).
type TTSEvent struct {
	Type        EventType `json:"type"`
	AudioData   string    `json:"audio_data"`
	AudioFormat string    `json:"audio_format"`
}

// CompleteEvent signals that the assistant turn finished normally.
type CompleteEvent struct {
	Type               EventType `json:"type"`
	ShowApprovalAction bool      `json:"show_approval_action"`
}

// ErrorEvent surfaces a stream-level failure to the client.
type ErrorEvent struct {
	Type    EventType `json:"type"`
	Message string    `json:"error"`
}

func (e TokenEvent) EventType() EventType       { return TypeToken }
func (e ChartsEvent) EventType() EventType      { return TypeCharts }
func (e ExcelEvent) EventType() EventType       { return TypeExcel }
func (e URLEvent) EventType() EventType         { return TypeURL }
func (e SuggestionsEvent) EventType() EventType { return TypeSuggestions }
func (e TTSChunkEvent) EventType() EventType    { return TypeTTSChunk }
func (e TTSEvent) EventType() EventType         { return TypeTTS }
func (e CompleteEvent) EventType() EventType    { return TypeComplete }
func (e ErrorEvent) EventType() EventType       { return TypeError }

func NewToken(content string) TokenEvent {
	return TokenEvent{Type: TypeToken, Content: content}
}

func NewCharts(charts []json.RawMessage) ChartsEvent {
	return ChartsEvent{Type: TypeCharts, Charts: charts}
}

func NewExcel(files []string) ExcelEvent {
	return ExcelEvent{Type: TypeExcel, ExcelFiles: files}
}

func NewURL(sheetURL, linkText string) URLEvent {
	return URLEvent{Type: TypeURL, SheetURL: sheetURL, LinkText: linkText}
}

func NewSuggestions(suggestions []string) SuggestionsEvent {
	return SuggestionsEvent{Type: TypeSuggestions, Suggestions: suggestions}
}

func NewTTSChunk(audioData, audioFormat, text string, index, start, end int) TTSChunkEvent {
	return TTSChunkEvent{
		Type:              TypeTTSChunk,
		AudioData:         audioData,
		AudioFormat:       audioFormat,
		Text:              text,
		ChunkIndex:        index,
		TextStartPosition: start,
		TextEndPosition:   end,
	}
}

func NewTTS(audioData, audioFormat string) TTSEvent {
	return TTSEvent{Type: TypeTTS, AudioData: audioData, AudioFormat: audioFormat}
}

func NewComplete(showApprovalAction bool) CompleteEvent {
	return CompleteEvent{Type: TypeComplete, ShowApprovalAction: showApprovalAction}
}

func NewError(message string) ErrorEvent {
	return ErrorEvent{Type: TypeError, Message: message}
}

// Encode serializes an event for transmission as a single SSE data line.
func Encode(ev Event) ([]byte, error) {
	return json.Marshal(ev)
}

// Decode parses a single event payload. The type tag is probed first so
// each variant unmarshals into its concrete struct. Unknown types are an
// error; callers on the stream path drop the event and keep reading.
func Decode(data []byte) (Event, error) {
	var probe struct {
		Type EventType `json:"type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("failed to probe event type: %w", err)
	}

	switch probe.Type {
	case TypeToken:
		var ev TokenEvent
		return ev, json.Unmarshal(data, &ev)
	case TypeCharts:
		var ev ChartsEvent
		return ev, json.Unmarshal(data, &ev)
	case TypeExcel:
		var ev ExcelEvent
		return ev, json.Unmarshal(data, &ev)
	case TypeURL:
		var ev URLEvent
		return ev, json.Unmarshal(data, &ev)
	case TypeSuggestions:
		var ev SuggestionsEvent
		return ev, json.Unmarshal(data, &ev)
	case TypeTTSChunk:
		var ev TTSChunkEvent
		return ev, json.Unmarshal(data, &ev)
	case TypeTTS:
		var ev TTSEvent
		return ev, json.Unmarshal(data, &ev)
	case TypeComplete:
		var ev CompleteEvent
		return ev, json.Unmarshal(data, &ev)
	case TypeError:
		var ev ErrorEvent
		return ev, json.Unmarshal(data, &ev)
	default:
		return nil, fmt.Errorf("unknown event type %q", probe.Type)
	}
}
