package audio

import "time"

// Chunk is one unit of synthesized speech queued for playback. AudioData
// is base64-encoded; ChunkIndex reflects the order the TTS pipeline
// produced it. TextStartPosition/TextEndPosition anchor the chunk to a
// span of the streamed assistant text.
type Chunk struct {
	ID                string
	AudioData         string
	AudioFormat       string
	Text              string
	ChunkIndex        int
	Timestamp         time.Time
	TextStartPosition int
	TextEndPosition   int

	// ShouldWaitForText defers playback until the host has reported at
	// least TextStartPosition bytes of visible text. Best effort: the
	// chunk plays as soon as the counter catches up, never rolls back.
	ShouldWaitForText bool
}

// Status is a synchronous snapshot of the queue. CurrentChunk is nil
// when nothing is playing.
type Status struct {
	QueueSize    int
	IsPlaying    bool
	CurrentChunk *Chunk
}
