package translator

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"yagpt-router/internal/models"
)

// ErrMalformedFragment marks an upstream stream fragment that could not be decoded.
var ErrMalformedFragment = errors.New("malformed stream fragment")

// FragmentDecoder decodes one complete upstream stream object. Message.Content
// carries the cumulative text generated so far.
type FragmentDecoder func(fragment []byte) (*models.ChatResponse, error)

// ChatCompletionChunk is one event of an OpenAI-compatible completion stream.
type ChatCompletionChunk struct {
	ID                string        `json:"id"`
	Object            string        `json:"object"`
	Created           int64         `json:"created"`
	Model             string        `json:"model"`
	SystemFingerprint string        `json:"system_fingerprint,omitempty"`
	Choices           []ChunkChoice `json:"choices"`
	Usage             *OpenAIUsage  `json:"usage,omitempty"`
}

// ChunkChoice holds the delta of a stream event.
type ChunkChoice struct {
	Index        int        `json:"index"`
	Delta        ChunkDelta `json:"delta"`
	FinishReason *string    `json:"finish_reason"`
}

// ChunkDelta is either a text delta or a tool-call delta.
type ChunkDelta struct {
	Role      string          `json:"role,omitempty"`
	Content   *string         `json:"content,omitempty"`
	ToolCalls []ToolCallDelta `json:"tool_calls,omitempty"`
}

// ToolCallDelta is a tool call inside a stream delta.
type ToolCallDelta struct {
	Index    int          `json:"index"`
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function FunctionCall `json:"function"`
}

// StreamTranslator converts a cumulative-text upstream stream into OpenAI
// delta chunks. It holds per-stream state and is not safe for concurrent use.
type StreamTranslator struct {
	id      string
	model   string
	created int64
	decode  FragmentDecoder
	buffer  *FragmentBuffer
	newID   func() string

	emitted   int
	toolIndex int
	roleSent  bool
	skipped   int
}

// NewStreamTranslator creates the state for one streamed completion.
func NewStreamTranslator(model string, created int64, decode FragmentDecoder) *StreamTranslator {
	return &StreamTranslator{
		id:      NewCompletionID(),
		model:   model,
		created: created,
		decode:  decode,
		buffer:  NewFragmentBuffer(DefaultFragmentLimit),
		newID:   NewToolCallID,
	}
}

// ID returns the completion identifier shared by all chunks of the stream.
func (t *StreamTranslator) ID() string {
	return t.id
}

// Skipped returns how many fragments were dropped as malformed.
func (t *StreamTranslator) Skipped() int {
	return t.skipped
}

// Write consumes raw upstream bytes and returns the chunks they complete.
// Malformed fragments are skipped and the stream continues.
func (t *StreamTranslator) Write(p []byte) []ChatCompletionChunk {
	objects, overflow := t.buffer.Write(p)
	if overflow {
		t.skipped++
		slog.Warn("dropping oversized stream fragment", "stream", t.id)
	}

	var out []ChatCompletionChunk
	for _, obj := range objects {
		chunks, err := t.Translate(obj)
		if err != nil {
			t.skipped++
			slog.Debug("skipping stream fragment", "stream", t.id, "error", err)
			continue
		}
		out = append(out, chunks...)
	}
	return out
}

// Close reports whether an incomplete fragment was left when the upstream ended.
func (t *StreamTranslator) Close() (truncated bool) {
	if t.buffer.Pending() {
		t.skipped++
		t.buffer.Reset()
		return true
	}
	return false
}

// Translate converts one complete upstream object into downstream chunks.
func (t *StreamTranslator) Translate(fragment []byte) ([]ChatCompletionChunk, error) {
	resp, err := t.decode(fragment)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFragment, err)
	}

	var chunks []ChatCompletionChunk
	if len(resp.ToolCalls) > 0 {
		chunks = make([]ChatCompletionChunk, 0, len(resp.ToolCalls))
		for _, call := range resp.ToolCalls {
			delta := ChunkDelta{
				ToolCalls: []ToolCallDelta{{
					Index: t.toolIndex,
					ID:    t.newID(),
					Type:  "function",
					Function: FunctionCall{
						Name:      call.Name,
						Arguments: call.Arguments,
					},
				}},
			}
			t.toolIndex++
			chunks = append(chunks, t.chunk(delta, resp.ModelVersion))
		}
	} else {
		text := t.advance(resp.Message.Content)
		chunks = []ChatCompletionChunk{t.chunk(ChunkDelta{Content: &text}, resp.ModelVersion)}
	}

	if resp.FinishReason != "" {
		last := &chunks[len(chunks)-1]
		reason := resp.FinishReason
		last.Choices[0].FinishReason = &reason
		if !resp.Usage.IsZero() {
			last.Usage = &OpenAIUsage{
				PromptTokens:     resp.Usage.PromptTokens,
				CompletionTokens: resp.Usage.CompletionTokens,
				TotalTokens:      resp.Usage.TotalTokens,
			}
		}
	}
	return chunks, nil
}

// advance returns the suffix of the cumulative text not yet emitted.
func (t *StreamTranslator) advance(full string) string {
	delta := DeltaText(full, t.emitted)
	if len(full) > t.emitted {
		t.emitted = len(full)
	}
	return delta
}

// DeltaText returns full[emitted:], or "" when nothing new was generated.
func DeltaText(full string, emitted int) string {
	if emitted < 0 {
		emitted = 0
	}
	if emitted >= len(full) {
		return ""
	}
	return full[emitted:]
}

func (t *StreamTranslator) chunk(delta ChunkDelta, fingerprint string) ChatCompletionChunk {
	if !t.roleSent {
		delta.Role = "assistant"
		t.roleSent = true
	}
	return ChatCompletionChunk{
		ID:                t.id,
		Object:            "chat.completion.chunk",
		Created:           t.created,
		Model:             t.model,
		SystemFingerprint: fingerprint,
		Choices:           []ChunkChoice{{Index: 0, Delta: delta}},
	}
}

// EncodeSSE frames a chunk as a single server-sent event.
func EncodeSSE(chunk ChatCompletionChunk) ([]byte, error) {
	data, err := json.Marshal(chunk)
	if err != nil {
		return nil, fmt.Errorf("marshal stream chunk: %w", err)
	}
	frame := make([]byte, 0, len(data)+8)
	frame = append(frame, "data: "...)
	frame = append(frame, data...)
	frame = append(frame, "\n\n"...)
	return frame, nil
}

// DoneFrame terminates an OpenAI-compatible stream.
var DoneFrame = []byte("data: [DONE]\n\n")
