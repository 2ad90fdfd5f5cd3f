package audio

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validChunk(index int) Chunk {
	return Chunk{
		AudioData:   base64.StdEncoding.EncodeToString([]byte(fmt.Sprintf("audio-%d", index))),
		AudioFormat: "mp3",
		Text:        fmt.Sprintf("sentence %d", index),
		ChunkIndex:  index,
	}
}

// eventLog records callback invocations in order.
type eventLog struct {
	mu     sync.Mutex
	events []string
	empty  chan struct{}
}

func newEventLog() *eventLog {
	return &eventLog{empty: make(chan struct{}, 10)}
}

func (l *eventLog) options() Options {
	return Options{
		OnPlay: func(c Chunk) {
			l.append(fmt.Sprintf("play:%d", c.ChunkIndex))
		},
		OnComplete: func(c Chunk) {
			l.append(fmt.Sprintf("complete:%d", c.ChunkIndex))
		},
		OnError: func(c Chunk, err error) {
			l.append(fmt.Sprintf("error:%d", c.ChunkIndex))
		},
		OnQueueEmpty: func() {
			l.append("empty")
			l.empty <- struct{}{}
		},
	}
}

func (l *eventLog) append(ev string) {
	l.mu.Lock()
	l.events = append(l.events, ev)
	l.mu.Unlock()
}

func (l *eventLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.events...)
}

func (l *eventLog) waitEmpty(t *testing.T) {
	t.Helper()
	select {
	case <-l.empty:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for OnQueueEmpty")
	}
}

func TestQueuePlaysInFIFOOrderWithOrderedCallbacks(t *testing.T) {
	release := make(chan struct{})
	player := PlayerFunc(func(ctx context.Context, data []byte, mimeType string) error {
		<-release
		return nil
	})

	logs := newEventLog()
	q := New(player, 0)
	defer q.Close()
	q.SetOptions(logs.options())

	ids := make([]string, 0, 3)
	for i := 0; i < 3; i++ {
		id := q.Enqueue(validChunk(i))
		require.NotEmpty(t, id)
		ids = append(ids, id)
	}
	assert.Len(t, ids, 3)

	close(release)
	logs.waitEmpty(t)

	assert.Equal(t, []string{
		"play:0", "complete:0",
		"play:1", "complete:1",
		"play:2", "complete:2",
		"empty",
	}, logs.snapshot())
}

func TestQueueNeverPlaysTwoChunksConcurrently(t *testing.T) {
	var inFlight, maxInFlight int32
	player := PlayerFunc(func(ctx context.Context, data []byte, mimeType string) error {
		n := atomic.AddInt32(&inFlight, 1)
		for {
			max := atomic.LoadInt32(&maxInFlight)
			if n <= max || atomic.CompareAndSwapInt32(&maxInFlight, max, n) {
				break
			}
		}
		time.Sleep(time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
		return nil
	})

	logs := newEventLog()
	q := New(player, 0)
	defer q.Close()
	q.SetOptions(logs.options())

	for i := 0; i < 8; i++ {
		q.Enqueue(validChunk(i))
	}
	logs.waitEmpty(t)

	assert.Equal(t, int32(1), atomic.LoadInt32(&maxInFlight))
	st := q.Status()
	assert.False(t, st.IsPlaying)
	assert.Zero(t, st.QueueSize)
	assert.Nil(t, st.CurrentChunk)
}

func TestQueueEvictsOldestWhenFull(t *testing.T) {
	firstPlaying := make(chan struct{})
	release := make(chan struct{})
	var first sync.Once
	player := PlayerFunc(func(ctx context.Context, data []byte, mimeType string) error {
		first.Do(func() { close(firstPlaying) })
		<-release
		return nil
	})

	logs := newEventLog()
	q := New(player, 2)
	defer q.Close()
	q.SetOptions(logs.options())

	q.Enqueue(validChunk(0))
	<-firstPlaying

	// Chunk 0 is in flight, so the pending bound of 2 holds chunks 1-2.
	// Chunk 3 evicts chunk 1, the oldest unplayed.
	q.Enqueue(validChunk(1))
	q.Enqueue(validChunk(2))
	q.Enqueue(validChunk(3))
	assert.Equal(t, 2, q.Status().QueueSize)

	close(release)
	logs.waitEmpty(t)

	events := logs.snapshot()
	assert.Contains(t, events, "play:0")
	assert.Contains(t, events, "play:2")
	assert.Contains(t, events, "play:3")
	assert.NotContains(t, events, "play:1")
}

func TestStopAndClearAreIdempotentOnEmptyQueue(t *testing.T) {
	q := New(PlayerFunc(func(ctx context.Context, data []byte, mimeType string) error {
		return nil
	}), 0)
	defer q.Close()

	assert.NotPanics(t, func() {
		q.Clear()
		q.Clear()
		q.Stop()
		q.Stop()
	})
	st := q.Status()
	assert.False(t, st.IsPlaying)
	assert.Zero(t, st.QueueSize)
}

func TestPlaybackErrorDoesNotStallQueue(t *testing.T) {
	player := PlayerFunc(func(ctx context.Context, data []byte, mimeType string) error {
		decoded, _ := base64.StdEncoding.DecodeString(validChunk(1).AudioData)
		if string(data) == string(decoded) {
			return errors.New("codec rejected payload")
		}
		return nil
	})

	logs := newEventLog()
	q := New(player, 0)
	defer q.Close()
	q.SetOptions(logs.options())

	q.Enqueue(validChunk(0))
	q.Enqueue(validChunk(1))
	q.Enqueue(validChunk(2))
	logs.waitEmpty(t)

	events := logs.snapshot()
	assert.Contains(t, events, "error:1")
	assert.NotContains(t, events, "complete:1")
	assert.Contains(t, events, "complete:0")
	assert.Contains(t, events, "complete:2")
}

func TestInvalidBase64FiresErrorAndNextChunkPlays(t *testing.T) {
	logs := newEventLog()
	q := New(PlayerFunc(func(ctx context.Context, data []byte, mimeType string) error {
		return nil
	}), 0)
	defer q.Close()
	q.SetOptions(logs.options())

	bad := Chunk{AudioData: "not/base64!!!", AudioFormat: "mp3", ChunkIndex: 7}
	require.NotEmpty(t, q.Enqueue(bad))
	q.Enqueue(validChunk(8))
	logs.waitEmpty(t)

	events := logs.snapshot()
	assert.Contains(t, events, "error:7")
	assert.NotContains(t, events, "play:7")
	assert.NotContains(t, events, "complete:7")
	assert.Contains(t, events, "complete:8")
}

func TestEnqueueEmptyPayloadIsNoOp(t *testing.T) {
	played := make(chan struct{}, 1)
	q := New(PlayerFunc(func(ctx context.Context, data []byte, mimeType string) error {
		played <- struct{}{}
		return nil
	}), 0)
	defer q.Close()

	id := q.Enqueue(Chunk{AudioFormat: "mp3"})
	assert.Empty(t, id)

	select {
	case <-played:
		t.Fatal("empty chunk must not reach the player")
	case <-time.After(100 * time.Millisecond):
	}
	assert.Zero(t, q.Status().QueueSize)
}

func TestChunkWaitsForReportedTextProgress(t *testing.T) {
	playing := make(chan struct{}, 1)
	q := New(PlayerFunc(func(ctx context.Context, data []byte, mimeType string) error {
		playing <- struct{}{}
		return nil
	}), 0)
	defer q.Close()

	chunk := validChunk(0)
	chunk.ShouldWaitForText = true
	chunk.TextStartPosition = 20
	q.Enqueue(chunk)

	select {
	case <-playing:
		t.Fatal("chunk played before text caught up")
	case <-time.After(100 * time.Millisecond):
	}

	q.ReportTextProgress(10)
	select {
	case <-playing:
		t.Fatal("chunk played before text reached its start position")
	case <-time.After(100 * time.Millisecond):
	}

	q.ReportTextProgress(20)
	select {
	case <-playing:
	case <-time.After(2 * time.Second):
		t.Fatal("chunk never played after text caught up")
	}
}

func TestClearHaltsInFlightPlaybackAndDropsPending(t *testing.T) {
	started := make(chan struct{}, 4)
	interrupted := make(chan error, 1)
	player := PlayerFunc(func(ctx context.Context, data []byte, mimeType string) error {
		started <- struct{}{}
		select {
		case <-ctx.Done():
			interrupted <- ctx.Err()
			return ctx.Err()
		case <-time.After(5 * time.Second):
			return nil
		}
	})

	logs := newEventLog()
	q := New(player, 0)
	defer q.Close()
	q.SetOptions(logs.options())

	q.Enqueue(validChunk(0))
	q.Enqueue(validChunk(1))
	<-started

	q.Clear()

	select {
	case err := <-interrupted:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Clear did not halt in-flight playback")
	}
	assert.Zero(t, q.Status().QueueSize)

	// The halted chunk surfaces no completion, the pending chunk never
	// starts, and the queue stays usable for new work.
	events := logs.snapshot()
	assert.NotContains(t, events, "complete:0")
	assert.NotContains(t, events, "play:1")

	q.Enqueue(validChunk(2))
	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("queue unusable after Clear")
	}
}

func TestMIMETypeMapping(t *testing.T) {
	tests := []struct {
		format string
		want   string
	}{
		{"mp3", "audio/mpeg"},
		{"ogg_opus", "audio/ogg"},
		{"ogg", "audio/ogg"},
		{"wav", "audio/wav"},
		{"linear16", "audio/wav"},
		{"", "audio/mpeg"},
		{"flac", "audio/mpeg"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, MIMEType(tt.format), "format %q", tt.format)
	}
}
