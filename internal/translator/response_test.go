package translator

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"yagpt-router/internal/models"
)

type fixedCounter int

func (f fixedCounter) Count(text string) int {
	if text == "" {
		return 0
	}
	return int(f)
}

func TestFromUnifiedChatText(t *testing.T) {
	resp := &models.ChatResponse{
		Message:      models.Message{Role: "assistant", Content: "Hello!"},
		FinishReason: "stop",
		Usage:        models.Usage{PromptTokens: 10, CompletionTokens: 2, TotalTokens: 12},
		ModelVersion: "23.10.2024",
	}

	out := FromUnifiedChat("yandexgpt/latest", 1700000000, nil, resp, fixedCounter(99))

	assert.True(t, strings.HasPrefix(out.ID, "chatcmpl-"))
	assert.Equal(t, "chat.completion", out.Object)
	assert.Equal(t, int64(1700000000), out.Created)
	assert.Equal(t, "yandexgpt/latest", out.Model)
	assert.Equal(t, "23.10.2024", out.SystemFingerprint)
	require.Len(t, out.Choices, 1)
	require.NotNil(t, out.Choices[0].Message.Content)
	assert.Equal(t, "Hello!", *out.Choices[0].Message.Content)
	assert.Equal(t, "assistant", out.Choices[0].Message.Role)
	assert.Equal(t, "stop", out.Choices[0].FinishReason)
	assert.Equal(t, OpenAIUsage{PromptTokens: 10, CompletionTokens: 2, TotalTokens: 12}, out.Usage)
}

func TestFromUnifiedChatEstimatesUsage(t *testing.T) {
	prompt := []models.Message{{Role: "user", Content: "hi"}}
	resp := &models.ChatResponse{Message: models.Message{Content: "Hello"}}

	out := FromUnifiedChat("m", 1, prompt, resp, fixedCounter(3))

	// user message: 4 overhead + 3 role + 3 content.
	assert.Equal(t, OpenAIUsage{PromptTokens: 10, CompletionTokens: 3, TotalTokens: 13}, out.Usage)
	assert.Equal(t, "stop", out.Choices[0].FinishReason)
}

func TestFromUnifiedChatToolCalls(t *testing.T) {
	resp := &models.ChatResponse{
		ToolCalls: []models.ToolCall{
			{Name: "get_weather", Arguments: `{"city":"Moscow"}`},
			{Name: "get_time", Arguments: `{}`},
		},
		Usage: models.Usage{PromptTokens: 1, CompletionTokens: 1, TotalTokens: 2},
	}

	out := FromUnifiedChat("m", 1, nil, resp, fixedCounter(1))

	msg := out.Choices[0].Message
	assert.Nil(t, msg.Content)
	require.Len(t, msg.ToolCalls, 2)
	assert.NotEqual(t, msg.ToolCalls[0].ID, msg.ToolCalls[1].ID)
	assert.Equal(t, "function", msg.ToolCalls[0].Type)
	assert.Equal(t, "get_weather", msg.ToolCalls[0].Function.Name)
	assert.Equal(t, "tool_calls", out.Choices[0].FinishReason)

	data, err := json.Marshal(out)
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	message := decoded["choices"].([]any)[0].(map[string]any)["message"].(map[string]any)
	assert.Contains(t, message, "content")
	assert.Nil(t, message["content"])
}
