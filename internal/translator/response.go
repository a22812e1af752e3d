package translator

import (
	"strings"

	"github.com/google/uuid"

	"yagpt-router/internal/models"
	"yagpt-router/internal/usage"
)

// ChatCompletionResponse models the OpenAI-compatible chat response.
type ChatCompletionResponse struct {
	ID                string       `json:"id"`
	Object            string       `json:"object"`
	Created           int64        `json:"created"`
	Model             string       `json:"model"`
	SystemFingerprint string       `json:"system_fingerprint,omitempty"`
	Choices           []ChatChoice `json:"choices"`
	Usage             OpenAIUsage  `json:"usage"`
}

// ChatChoice represents a single choice in the response payload.
type ChatChoice struct {
	Index        int             `json:"index"`
	Message      ResponseMessage `json:"message"`
	FinishReason string          `json:"finish_reason"`
	Logprobs     any             `json:"logprobs"`
}

// ResponseMessage is the assistant message of a completed choice.
type ResponseMessage struct {
	Role      string     `json:"role"`
	Content   *string    `json:"content"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}

// OpenAIUsage mirrors the token usage block in OpenAI responses.
type OpenAIUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// NewCompletionID returns an identifier in the chatcmpl-* form.
func NewCompletionID() string {
	return "chatcmpl-" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// NewToolCallID returns a unique synthetic tool-call identifier.
func NewToolCallID() string {
	return "call_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// FromUnifiedChat constructs the OpenAI response shape from a complete
// upstream result. Missing usage counts are estimated from prompt and output.
func FromUnifiedChat(modelID string, createdUnix int64, prompt []models.Message, resp *models.ChatResponse, est usage.Estimator) ChatCompletionResponse {
	msg := ResponseMessage{Role: "assistant"}
	completion := resp.Message.Content

	if len(resp.ToolCalls) > 0 {
		msg.ToolCalls = make([]ToolCall, 0, len(resp.ToolCalls))
		var args strings.Builder
		for _, call := range resp.ToolCalls {
			id := call.ID
			if id == "" {
				id = NewToolCallID()
			}
			msg.ToolCalls = append(msg.ToolCalls, ToolCall{
				ID:   id,
				Type: "function",
				Function: FunctionCall{
					Name:      call.Name,
					Arguments: call.Arguments,
				},
			})
			args.WriteString(call.Name)
			args.WriteString(call.Arguments)
		}
		if completion == "" {
			completion = args.String()
		}
	}
	if resp.Message.Content != "" || len(resp.ToolCalls) == 0 {
		content := resp.Message.Content
		msg.Content = &content
	}

	finish := resp.FinishReason
	if finish == "" {
		finish = "stop"
		if len(resp.ToolCalls) > 0 {
			finish = "tool_calls"
		}
	}

	u := usage.Fill(est, resp.Usage, prompt, completion)

	return ChatCompletionResponse{
		ID:                NewCompletionID(),
		Object:            "chat.completion",
		Created:           createdUnix,
		Model:             modelID,
		SystemFingerprint: resp.ModelVersion,
		Choices: []ChatChoice{
			{
				Index:        0,
				Message:      msg,
				FinishReason: finish,
			},
		},
		Usage: OpenAIUsage{
			PromptTokens:     u.PromptTokens,
			CompletionTokens: u.CompletionTokens,
			TotalTokens:      u.TotalTokens,
		},
	}
}
