// Package sseclient turns a text/event-stream response body into a
// sequence of typed protocol events. Parsing is purely sequential and
// line-buffered: partial lines straddling network reads are held until
// the next read completes them.
package sseclient

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log"
	"strings"

	"github.com/adminease/assistant/internal/protocol"
)

const dataPrefix = "data: "

// maxLineSize bounds a single event line. TTS chunk payloads carry
// base64 audio, so the default 64KB scanner buffer is not enough.
const maxLineSize = 4 * 1024 * 1024

// Consume reads events from body until the [DONE] sentinel, EOF, or
// ctx cancellation, invoking handle for each decoded event. It returns
// the accumulated assistant text. Malformed payloads are logged and
// dropped without aborting the stream; comment keep-alives are ignored.
func Consume(ctx context.Context, body io.Reader, handle func(protocol.Event)) (string, error) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)

	var text strings.Builder
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return text.String(), err
		}

		line := scanner.Text()
		if line == "" || strings.HasPrefix(line, ":") {
			continue
		}
		if !strings.HasPrefix(line, dataPrefix) {
			continue
		}

		payload := line[len(dataPrefix):]
		if payload == protocol.Done {
			return text.String(), nil
		}

		ev, err := protocol.Decode([]byte(payload))
		if err != nil {
			log.Printf("sse: dropping malformed event: %v", err)
			continue
		}
		if tok, ok := ev.(protocol.TokenEvent); ok {
			text.WriteString(tok.Content)
		}
		if handle != nil {
			handle(ev)
		}
	}
	if err := scanner.Err(); err != nil {
		return text.String(), fmt.Errorf("stream read failed: %w", err)
	}
	// EOF without [DONE]: the server went away mid-stream. Partial text
	// is still useful to the caller.
	return text.String(), nil
}
