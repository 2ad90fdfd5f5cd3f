package sseclient

import (
	"context"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adminease/assistant/internal/protocol"
)

func TestConsumeAccumulatesTokensAndDispatchesEvents(t *testing.T) {
	stream := strings.Join([]string{
		": keep-alive",
		"",
		`data: {"type":"token","content":"Hello"}`,
		"",
		`data: {"type":"token","content":" world"}`,
		"",
		`data: {"type":"suggestions","suggestions":["Show totals","Plot by month"]}`,
		"",
		`data: {"type":"complete","show_approval_action":true}`,
		"",
		"data: [DONE]",
		"",
	}, "\n")

	var got []protocol.Event
	text, err := Consume(context.Background(), strings.NewReader(stream), func(ev protocol.Event) {
		got = append(got, ev)
	})
	require.NoError(t, err)
	assert.Equal(t, "Hello world", text)
	require.Len(t, got, 4)

	sugg, ok := got[2].(protocol.SuggestionsEvent)
	require.True(t, ok)
	assert.Equal(t, []string{"Show totals", "Plot by month"}, sugg.Suggestions)

	done, ok := got[3].(protocol.CompleteEvent)
	require.True(t, ok)
	assert.True(t, done.ShowApprovalAction)
}

func TestConsumeHoldsPartialLinesAcrossReads(t *testing.T) {
	stream := "data: {\"type\":\"token\",\"content\":\"chunked\"}\n\ndata: [DONE]\n\n"

	// One byte per read forces every line to straddle read boundaries.
	text, err := Consume(context.Background(), iotest.OneByteReader(strings.NewReader(stream)), nil)
	require.NoError(t, err)
	assert.Equal(t, "chunked", text)
}

func TestConsumeDropsMalformedPayloadsWithoutAborting(t *testing.T) {
	stream := strings.Join([]string{
		`data: {"type":"charts","charts":[{"broken"`,
		`data: {"type":"starship","content":"??"}`,
		`data: {"type":"token","content":"still here"}`,
		"data: [DONE]",
	}, "\n\n")

	var count int
	text, err := Consume(context.Background(), strings.NewReader(stream), func(protocol.Event) {
		count++
	})
	require.NoError(t, err)
	assert.Equal(t, "still here", text)
	assert.Equal(t, 1, count)
}

func TestConsumeStopsAtDoneSentinel(t *testing.T) {
	stream := strings.Join([]string{
		`data: {"type":"token","content":"before"}`,
		"data: [DONE]",
		`data: {"type":"token","content":"after"}`,
	}, "\n\n")

	text, err := Consume(context.Background(), strings.NewReader(stream), nil)
	require.NoError(t, err)
	assert.Equal(t, "before", text)
}

func TestConsumeReturnsPartialTextOnEarlyEOF(t *testing.T) {
	stream := "data: {\"type\":\"token\",\"content\":\"cut off\"}\n"
	text, err := Consume(context.Background(), strings.NewReader(stream), nil)
	require.NoError(t, err)
	assert.Equal(t, "cut off", text)
}

func TestConsumeHonorsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	stream := "data: {\"type\":\"token\",\"content\":\"x\"}\n\ndata: [DONE]\n\n"
	_, err := Consume(ctx, strings.NewReader(stream), nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestConsumeDecodesTTSChunkEvents(t *testing.T) {
	stream := `data: {"type":"tts_chunk","audio_data":"QUJD","audio_format":"mp3","text":"Hi.","chunk_index":0,"text_start_position":0,"text_end_position":3}` +
		"\n\ndata: [DONE]\n\n"

	var chunk protocol.TTSChunkEvent
	_, err := Consume(context.Background(), strings.NewReader(stream), func(ev protocol.Event) {
		if c, ok := ev.(protocol.TTSChunkEvent); ok {
			chunk = c
		}
	})
	require.NoError(t, err)
	assert.Equal(t, "QUJD", chunk.AudioData)
	assert.Equal(t, "mp3", chunk.AudioFormat)
	assert.Equal(t, 3, chunk.TextEndPosition)
}
