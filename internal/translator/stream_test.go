package translator

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"yagpt-router/internal/models"
)

// testDecoder understands {"text":..., "toolCalls":[{"name":...,"arguments":...}], "status":..., "usage":{...}}.
func testDecoder(fragment []byte) (*models.ChatResponse, error) {
	var raw struct {
		Text      *string `json:"text"`
		ToolCalls []struct {
			Name      string          `json:"name"`
			Arguments json.RawMessage `json:"arguments"`
		} `json:"toolCalls"`
		Finish string `json:"finish"`
		Usage  *struct {
			Prompt     int `json:"prompt"`
			Completion int `json:"completion"`
		} `json:"usage"`
	}
	if err := json.Unmarshal(fragment, &raw); err != nil {
		return nil, err
	}
	if raw.Text == nil && raw.ToolCalls == nil {
		return nil, fmt.Errorf("fragment has neither text nor tool calls")
	}

	resp := &models.ChatResponse{FinishReason: raw.Finish}
	if raw.Text != nil {
		resp.Message = models.Message{Role: "assistant", Content: *raw.Text}
	}
	for _, call := range raw.ToolCalls {
		args := string(call.Arguments)
		var s string
		if json.Unmarshal(call.Arguments, &s) == nil {
			args = s
		}
		resp.ToolCalls = append(resp.ToolCalls, models.ToolCall{Name: call.Name, Arguments: args})
	}
	if raw.Usage != nil {
		resp.Usage = models.Usage{
			PromptTokens:     raw.Usage.Prompt,
			CompletionTokens: raw.Usage.Completion,
			TotalTokens:      raw.Usage.Prompt + raw.Usage.Completion,
		}
	}
	return resp, nil
}

func contents(t *testing.T, chunks []ChatCompletionChunk) []string {
	t.Helper()
	out := make([]string, 0, len(chunks))
	for _, c := range chunks {
		require.Len(t, c.Choices, 1)
		require.NotNil(t, c.Choices[0].Delta.Content)
		out = append(out, *c.Choices[0].Delta.Content)
	}
	return out
}

func TestStreamTranslatorCumulativeToDelta(t *testing.T) {
	st := NewStreamTranslator("yandexgpt/latest", 1700000000, testDecoder)

	var chunks []ChatCompletionChunk
	chunks = append(chunks, st.Write([]byte(`{"text":"He"}`))...)
	chunks = append(chunks, st.Write([]byte(`{"text":"Hello"}`))...)

	assert.Equal(t, []string{"He", "llo"}, contents(t, chunks))
	assert.Equal(t, "assistant", chunks[0].Choices[0].Delta.Role)
	assert.Empty(t, chunks[1].Choices[0].Delta.Role)
	for _, c := range chunks {
		assert.Equal(t, st.ID(), c.ID)
		assert.Equal(t, "chat.completion.chunk", c.Object)
		assert.Equal(t, int64(1700000000), c.Created)
		assert.Equal(t, "yandexgpt/latest", c.Model)
	}
}

func TestStreamTranslatorReconstructsFinalText(t *testing.T) {
	final := "The quick brown fox jumps over the lazy dog. Привет, мир!"
	st := NewStreamTranslator("m", 1, testDecoder)

	var b strings.Builder
	for _, end := range []int{0, 3, 3, 10, 25, 44, len(final)} {
		frag, err := json.Marshal(map[string]string{"text": final[:end]})
		require.NoError(t, err)
		for _, s := range contents(t, st.Write(frag)) {
			b.WriteString(s)
		}
	}

	assert.Equal(t, final, b.String())
}

func TestStreamTranslatorRepeatedTextYieldsEmptyDelta(t *testing.T) {
	st := NewStreamTranslator("m", 1, testDecoder)

	first := contents(t, st.Write([]byte(`{"text":"Hello"}`)))
	again := contents(t, st.Write([]byte(`{"text":"Hello"}`)))
	shorter := contents(t, st.Write([]byte(`{"text":"Hel"}`)))
	more := contents(t, st.Write([]byte(`{"text":"Hello!"}`)))

	assert.Equal(t, []string{"Hello"}, first)
	assert.Equal(t, []string{""}, again)
	assert.Equal(t, []string{""}, shorter)
	assert.Equal(t, []string{"!"}, more)
}

func TestStreamTranslatorToolCalls(t *testing.T) {
	st := NewStreamTranslator("m", 1, testDecoder)

	chunks := st.Write([]byte(`{"toolCalls":[` +
		`{"name":"get_weather","arguments":{"city":"Moscow"}},` +
		`{"name":"get_time","arguments":"{\"tz\":\"UTC\"}"},` +
		`{"name":"get_weather","arguments":{"city":"Moscow"}}` +
		`],"finish":"tool_calls"}`))
	require.Len(t, chunks, 3)

	ids := make(map[string]struct{})
	for i, c := range chunks {
		require.Len(t, c.Choices[0].Delta.ToolCalls, 1)
		call := c.Choices[0].Delta.ToolCalls[0]
		assert.Equal(t, i, call.Index)
		assert.Equal(t, "function", call.Type)
		assert.True(t, strings.HasPrefix(call.ID, "call_"))
		ids[call.ID] = struct{}{}
		assert.Nil(t, c.Choices[0].Delta.Content)
	}
	assert.Len(t, ids, 3, "identical calls must still get distinct ids")

	assert.Equal(t, "get_weather", chunks[0].Choices[0].Delta.ToolCalls[0].Function.Name)
	assert.JSONEq(t, `{"city":"Moscow"}`, chunks[0].Choices[0].Delta.ToolCalls[0].Function.Arguments)
	assert.Equal(t, "get_time", chunks[1].Choices[0].Delta.ToolCalls[0].Function.Name)
	assert.JSONEq(t, `{"tz":"UTC"}`, chunks[1].Choices[0].Delta.ToolCalls[0].Function.Arguments)

	assert.Nil(t, chunks[0].Choices[0].FinishReason)
	require.NotNil(t, chunks[2].Choices[0].FinishReason)
	assert.Equal(t, "tool_calls", *chunks[2].Choices[0].FinishReason)

	more := st.Write([]byte(`{"toolCalls":[{"name":"later","arguments":{}}]}`))
	require.Len(t, more, 1)
	assert.Equal(t, 3, more[0].Choices[0].Delta.ToolCalls[0].Index)
}

func TestStreamTranslatorFinishCarriesUsage(t *testing.T) {
	st := NewStreamTranslator("m", 1, testDecoder)

	st.Write([]byte(`{"text":"Hi"}`))
	chunks := st.Write([]byte(`{"text":"Hi there","finish":"stop","usage":{"prompt":5,"completion":2}}`))

	require.Len(t, chunks, 1)
	require.NotNil(t, chunks[0].Choices[0].FinishReason)
	assert.Equal(t, "stop", *chunks[0].Choices[0].FinishReason)
	require.NotNil(t, chunks[0].Usage)
	assert.Equal(t, OpenAIUsage{PromptTokens: 5, CompletionTokens: 2, TotalTokens: 7}, *chunks[0].Usage)
}

func TestStreamTranslatorReassemblesFragments(t *testing.T) {
	st := NewStreamTranslator("m", 1, testDecoder)

	var got []string
	for _, part := range []string{`{"te`, `xt":"Hel"}`, "\n", `{"text":"Hello"}{"text":"Hello, w`, `orld"}`} {
		got = append(got, contents(t, st.Write([]byte(part)))...)
	}

	assert.Equal(t, []string{"Hel", "lo", ", world"}, got)
	assert.False(t, st.Close())
	assert.Zero(t, st.Skipped())
}

func TestStreamTranslatorSkipsMalformedFragments(t *testing.T) {
	st := NewStreamTranslator("m", 1, testDecoder)

	var got []string
	got = append(got, contents(t, st.Write([]byte(`{"text":"A"}`)))...)
	got = append(got, contents(t, st.Write([]byte(`{"text": }`)))...)
	got = append(got, contents(t, st.Write([]byte(`{"other":1}`)))...)
	got = append(got, contents(t, st.Write([]byte(`{"text":"AB"}`)))...)
	got = append(got, contents(t, st.Write([]byte(`{"text":"ABC`)))...)

	assert.Equal(t, []string{"A", "B"}, got)
	assert.Equal(t, 2, st.Skipped())
	assert.True(t, st.Close(), "unterminated trailing fragment is reported")
	assert.Equal(t, 3, st.Skipped())
}

func TestDeltaText(t *testing.T) {
	assert.Equal(t, "llo", DeltaText("Hello", 2))
	assert.Equal(t, "", DeltaText("Hello", 5))
	assert.Equal(t, "", DeltaText("He", 5))
	assert.Equal(t, "Hello", DeltaText("Hello", -1))
}

func TestEncodeSSE(t *testing.T) {
	st := NewStreamTranslator("m", 1, testDecoder)
	chunks := st.Write([]byte(`{"text":"Hi"}`))
	require.Len(t, chunks, 1)

	frame, err := EncodeSSE(chunks[0])
	require.NoError(t, err)

	s := string(frame)
	require.True(t, strings.HasPrefix(s, "data: "))
	require.True(t, strings.HasSuffix(s, "\n\n"))

	var decoded map[string]any
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSuffix(strings.TrimPrefix(s, "data: "), "\n\n")), &decoded))
	choice := decoded["choices"].([]any)[0].(map[string]any)
	assert.Equal(t, "Hi", choice["delta"].(map[string]any)["content"])
	assert.Contains(t, choice, "finish_reason")
	assert.Nil(t, choice["finish_reason"])
}
