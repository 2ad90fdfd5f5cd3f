// Package audio serializes playback of TTS chunks that arrive
// asynchronously while a chat response streams, so the listener hears
// one continuous voice rather than overlapping clips.
package audio

import (
	"context"
	"encoding/base64"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultMaxQueueSize bounds the pending queue. Enqueueing past the
// bound evicts the oldest unplayed chunk; audio is lossy backpressure,
// never an error.
const DefaultMaxQueueSize = 50

// Options holds the lifecycle callbacks a host wires in to drive its
// own state (e.g. an avatar switching between speaking and idle).
// Callbacks are invoked from the queue's worker goroutine and must not
// call back into the queue synchronously from OnPlay/OnComplete.
type Options struct {
	OnPlay       func(Chunk)
	OnComplete   func(Chunk)
	OnError      func(Chunk, error)
	OnQueueEmpty func()
}

// Queue plays chunks strictly in enqueue order, one at a time. A single
// worker goroutine drains the pending list; Enqueue never blocks the
// caller. Construct with New and release with Close.
type Queue struct {
	player  Player
	maxSize int

	mu      sync.Mutex
	cond    *sync.Cond
	pending []Chunk
	playing bool
	current *Chunk
	opts    Options
	textLen int // monotonic streamed-text length reported by the host
	gen     int // bumped by Clear/Stop to invalidate in-flight waits
	closed  bool

	cancelPlay context.CancelFunc
	done       chan struct{}
}

// New creates a queue that renders chunks through player. maxSize <= 0
// selects DefaultMaxQueueSize. The worker goroutine starts immediately
// and runs until Close.
func New(player Player, maxSize int) *Queue {
	if maxSize <= 0 {
		maxSize = DefaultMaxQueueSize
	}
	q := &Queue{
		player:  player,
		maxSize: maxSize,
		done:    make(chan struct{}),
	}
	q.cond = sync.NewCond(&q.mu)
	go q.run()
	return q
}

// SetOptions replaces the lifecycle callbacks. Safe at any time; the
// new callbacks apply from the next chunk transition.
func (q *Queue) SetOptions(opts Options) {
	q.mu.Lock()
	q.opts = opts
	q.mu.Unlock()
}

// Enqueue appends a chunk and returns its generated ID for diagnostic
// correlation. An empty AudioData payload is a precondition violation
// and the call is a silent no-op returning "". Never blocks.
func (q *Queue) Enqueue(chunk Chunk) string {
	if chunk.AudioData == "" {
		return ""
	}

	chunk.ID = uuid.NewString()
	chunk.Timestamp = time.Now()

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ""
	}
	if len(q.pending) >= q.maxSize {
		dropped := q.pending[0]
		q.pending = q.pending[1:]
		log.Printf("audio queue full (%d), dropping oldest chunk %s (index %d)",
			q.maxSize, dropped.ID, dropped.ChunkIndex)
	}
	q.pending = append(q.pending, chunk)
	q.cond.Broadcast()
	return chunk.ID
}

// ReportTextProgress tells the queue how much streamed text the host
// has rendered so far. The counter is monotonic; lower values are
// ignored. Chunks with ShouldWaitForText block (in the worker, never
// the caller) until the counter reaches their TextStartPosition.
func (q *Queue) ReportTextProgress(length int) {
	q.mu.Lock()
	if length > q.textLen {
		q.textLen = length
		q.cond.Broadcast()
	}
	q.mu.Unlock()
}

// Clear empties the pending queue and halts the in-flight chunk
// immediately. Safe to call at any time, including mid-playback, and
// idempotent when there is nothing to do.
func (q *Queue) Clear() {
	q.mu.Lock()
	q.pending = nil
	q.gen++
	cancel := q.cancelPlay
	q.cond.Broadcast()
	q.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Stop is Clear plus a reset of the text-progress counter, used when
// playback ends for good within a session (e.g. the user toggles TTS
// off). The queue remains usable afterwards.
func (q *Queue) Stop() {
	q.Clear()
	q.mu.Lock()
	q.textLen = 0
	q.mu.Unlock()
}

// Close stops playback and terminates the worker goroutine. The queue
// must not be used after Close.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.pending = nil
	q.gen++
	cancel := q.cancelPlay
	q.cond.Broadcast()
	q.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	<-q.done
}

// Status returns a snapshot of the queue. No side effects.
func (q *Queue) Status() Status {
	q.mu.Lock()
	defer q.mu.Unlock()
	st := Status{QueueSize: len(q.pending), IsPlaying: q.playing}
	if q.current != nil {
		c := *q.current
		st.CurrentChunk = &c
	}
	return st
}

func (q *Queue) run() {
	defer close(q.done)
	for {
		q.mu.Lock()
		for len(q.pending) == 0 && !q.closed {
			q.cond.Wait()
		}
		if q.closed {
			q.mu.Unlock()
			return
		}

		chunk := q.pending[0]
		q.pending = q.pending[1:]
		gen := q.gen

		// Best-effort sync with the visible token stream: hold this
		// chunk until the host-reported text length reaches its start
		// position. A Clear/Stop bump of gen abandons the wait and the
		// chunk with it.
		if chunk.ShouldWaitForText && chunk.TextStartPosition > 0 {
			for q.textLen < chunk.TextStartPosition && q.gen == gen && !q.closed {
				q.cond.Wait()
			}
			if q.gen != gen || q.closed {
				q.mu.Unlock()
				continue
			}
		}

		ctx, cancel := context.WithCancel(context.Background())
		q.playing = true
		q.current = &chunk
		q.cancelPlay = cancel
		opts := q.opts
		q.mu.Unlock()

		cancelled := q.playChunk(ctx, chunk, opts)
		cancel()

		q.mu.Lock()
		q.playing = false
		q.current = nil
		q.cancelPlay = nil
		drained := len(q.pending) == 0 && q.gen == gen
		q.mu.Unlock()

		if drained && !cancelled && opts.OnQueueEmpty != nil {
			opts.OnQueueEmpty()
		}
	}
}

// playChunk decodes and renders one chunk. Failures invoke OnError and
// the loop proceeds to the next chunk; nothing is retried or replayed.
// Returns true when playback was cut short by Clear/Stop/Close.
func (q *Queue) playChunk(ctx context.Context, chunk Chunk, opts Options) bool {
	data, err := base64.StdEncoding.DecodeString(chunk.AudioData)
	if err != nil {
		log.Printf("audio chunk %s (index %d): decode failed: %v", chunk.ID, chunk.ChunkIndex, err)
		if opts.OnError != nil {
			opts.OnError(chunk, err)
		}
		return false
	}

	if opts.OnPlay != nil {
		opts.OnPlay(chunk)
	}

	err = q.player.Play(ctx, data, MIMEType(chunk.AudioFormat))
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return true
		}
		if errors.Is(err, ErrPlaybackUnavailable) {
			log.Printf("audio chunk %s (index %d): output unavailable, skipping: %v",
				chunk.ID, chunk.ChunkIndex, err)
		} else {
			log.Printf("audio chunk %s (index %d): playback failed: %v", chunk.ID, chunk.ChunkIndex, err)
		}
		if opts.OnError != nil {
			opts.OnError(chunk, err)
		}
		return false
	}

	if opts.OnComplete != nil {
		opts.OnComplete(chunk)
	}
	return false
}
