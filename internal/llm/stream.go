package llm

import (
	"bufio"
	"context"
	"io"
	"strings"

	"crosstalk/internal/domain"
)

// dataPrefix is the server-push line marker. Providers disagree on whether a
// space follows the colon, so the payload is trimmed after stripping it.
const dataPrefix = "data:"

// doneSentinel terminates OpenAI-shaped streams early. DashScope streams have
// no sentinel; they end when the transport closes.
const doneSentinel = "[DONE]"

// maxLineSize bounds one streamed event. Provider deltas are small; 1 MiB
// leaves generous room for usage-bearing final events.
const maxLineSize = 1 << 20

// scanStream decodes newline-delimited data: events from r. Each payload is
// handed to parse; payloads parse rejects (malformed or content-free) are
// skipped without aborting the stream. sentinel, when non-empty, closes the
// sequence early. Returns an error only for transport-level read failures;
// a gone consumer (ctx cancelled) is not an error.
func scanStream(ctx context.Context, r io.Reader, sentinel string, parse func([]byte) (domain.CompletionChunk, bool), out chan<- domain.CompletionChunk) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, dataPrefix) {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, dataPrefix))
		if payload == "" {
			continue
		}
		if sentinel != "" && payload == sentinel {
			return nil
		}
		chunk, ok := parse([]byte(payload))
		if !ok {
			continue
		}
		if !emit(ctx, out, chunk) {
			return nil
		}
	}
	return scanner.Err()
}
