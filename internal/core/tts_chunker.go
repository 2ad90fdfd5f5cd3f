package core

import "strings"

// SentenceChunk is a complete sentence cut from the streamed response,
// with byte offsets into the accumulated text so audio playback can be
// anchored to the visible token stream.
type SentenceChunk struct {
	Text  string
	Start int
	End   int
}

// minChunkRunes avoids synthesizing fragments like "1." or "e.g." on
// their own; short sentences are merged into the next one.
const minChunkRunes = 8

// SentenceChunker accumulates streamed tokens and emits sentences as
// they complete. Offsets are byte positions in the full streamed text,
// which is what the client reports back as text progress.
type SentenceChunker struct {
	buf      strings.Builder
	consumed int // bytes already emitted as chunks
}

func NewSentenceChunker() *SentenceChunker {
	return &SentenceChunker{}
}

// Write appends a token and returns any sentences completed by it.
func (c *SentenceChunker) Write(token string) []SentenceChunk {
	c.buf.WriteString(token)
	return c.drain(false)
}

// Flush returns whatever text remains as a final chunk.
func (c *SentenceChunker) Flush() []SentenceChunk {
	return c.drain(true)
}

func (c *SentenceChunker) drain(flush bool) []SentenceChunk {
	text := c.buf.String()
	var chunks []SentenceChunk

	start := c.consumed
	for {
		end := sentenceEnd(text, start)
		if end < 0 {
			break
		}
		// Too short to synthesize alone; extend into following sentences.
		for end >= 0 && len([]rune(strings.TrimSpace(text[start:end]))) < minChunkRunes {
			end = sentenceEnd(text, end)
		}
		if end < 0 {
			break
		}
		if trimmed := strings.TrimSpace(text[start:end]); trimmed != "" {
			chunks = append(chunks, SentenceChunk{Text: trimmed, Start: start, End: end})
		}
		start = end
	}

	if flush {
		if trimmed := strings.TrimSpace(text[start:]); trimmed != "" {
			chunks = append(chunks, SentenceChunk{Text: trimmed, Start: start, End: len(text)})
		}
		start = len(text)
	}

	c.consumed = start
	return chunks
}

// sentenceEnd returns the byte offset just past the first sentence
// terminator at or after start, or -1 when the text from start has no
// completed sentence yet. A terminator only counts when followed by
// whitespace, so decimals and abbreviations mid-stream don't split.
func sentenceEnd(text string, start int) int {
	for i := start; i < len(text); i++ {
		switch text[i] {
		case '.', '!', '?', '\n':
			j := i + 1
			for j < len(text) && (text[j] == '.' || text[j] == '!' || text[j] == '?') {
				j++
			}
			if j < len(text) && (text[j] == ' ' || text[j] == '\n' || text[j] == '\t') {
				return j + 1
			}
		}
	}
	return -1
}
