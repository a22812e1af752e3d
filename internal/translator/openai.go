package translator

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"yagpt-router/internal/models"
)

// ErrInvalidRequest is wrapped by every request validation failure.
var ErrInvalidRequest = errors.New("invalid request")

const defaultTemperature = 0.7

var (
	errEmptyModel     = fmt.Errorf("%w: model must be provided", ErrInvalidRequest)
	errEmptyMessages  = fmt.Errorf("%w: at least one message is required", ErrInvalidRequest)
	errInvalidRole    = fmt.Errorf("%w: invalid role", ErrInvalidRequest)
	errInvalidContent = fmt.Errorf("%w: invalid message content", ErrInvalidRequest)
	errInvalidTool    = fmt.Errorf("%w: invalid tool definition", ErrInvalidRequest)
)

var allowedRoles = map[string]struct{}{
	"system":    {},
	"user":      {},
	"assistant": {},
	"tool":      {},
}

// ChatCompletionRequest models the OpenAI chat/completions request payload.
type ChatCompletionRequest struct {
	Model       string
	Messages    []ChatMessage
	Stream      bool
	MaxTokens   *int
	Temperature float64
	Tools       []ToolDefinition
	ToolChoice  *models.ToolChoice
}

// UnmarshalJSON implements custom parsing to enforce validation.
func (r *ChatCompletionRequest) UnmarshalJSON(data []byte) error {
	type alias struct {
		Model       string           `json:"model"`
		Messages    []ChatMessage    `json:"messages"`
		Stream      bool             `json:"stream"`
		MaxTokens   *int             `json:"max_tokens"`
		Temperature *float64         `json:"temperature"`
		Tools       []ToolDefinition `json:"tools"`
		ToolChoice  json.RawMessage  `json:"tool_choice"`
	}

	var raw alias
	if err := json.Unmarshal(data, &raw); err != nil {
		if errors.Is(err, ErrInvalidRequest) {
			return err
		}
		return fmt.Errorf("%w: decode chat request: %v", ErrInvalidRequest, err)
	}

	toolChoice, err := parseToolChoice(raw.ToolChoice)
	if err != nil {
		return err
	}

	r.Model = strings.TrimSpace(raw.Model)
	r.Messages = raw.Messages
	r.Stream = raw.Stream
	r.MaxTokens = raw.MaxTokens
	r.Temperature = defaultTemperature
	if raw.Temperature != nil {
		r.Temperature = *raw.Temperature
	}
	r.Tools = raw.Tools
	r.ToolChoice = toolChoice

	return r.validate()
}

func (r *ChatCompletionRequest) validate() error {
	if r.Model == "" {
		return errEmptyModel
	}
	if len(r.Messages) == 0 {
		return errEmptyMessages
	}
	if r.Temperature < 0 || r.Temperature > 2 {
		return fmt.Errorf("%w: temperature must be between 0 and 2", ErrInvalidRequest)
	}
	if r.MaxTokens != nil && *r.MaxTokens <= 0 {
		return fmt.Errorf("%w: max_tokens must be positive", ErrInvalidRequest)
	}

	names := make(map[string]struct{}, len(r.Tools))
	for i, tool := range r.Tools {
		if err := tool.validate(); err != nil {
			return fmt.Errorf("tools[%d]: %w", i, err)
		}
		if _, dup := names[tool.Function.Name]; dup {
			return fmt.Errorf("tools[%d]: %w: duplicate function name %q", i, errInvalidTool, tool.Function.Name)
		}
		names[tool.Function.Name] = struct{}{}
	}

	if r.ToolChoice != nil && r.ToolChoice.FunctionName != "" {
		if _, ok := names[r.ToolChoice.FunctionName]; !ok {
			return fmt.Errorf("%w: tool_choice references unknown function %q", ErrInvalidRequest, r.ToolChoice.FunctionName)
		}
	}
	return nil
}

// ToUnified converts the OpenAI request into the canonical format, flattening
// tool exchanges into plain conversation text.
func (r ChatCompletionRequest) ToUnified() (models.ChatRequest, error) {
	msgs, err := TranslateMessages(r.Messages)
	if err != nil {
		return models.ChatRequest{}, err
	}

	tools := make([]models.Tool, 0, len(r.Tools))
	for _, t := range r.Tools {
		tools = append(tools, models.Tool{
			Name:        t.Function.Name,
			Description: t.Function.Description,
			Parameters:  t.Function.Parameters,
		})
	}

	var maxTokens *int
	if r.MaxTokens != nil {
		v := *r.MaxTokens
		maxTokens = &v
	}

	return models.ChatRequest{
		Model:       r.Model,
		Messages:    msgs,
		Stream:      r.Stream,
		Temperature: r.Temperature,
		MaxTokens:   maxTokens,
		Tools:       tools,
		ToolChoice:  r.ToolChoice,
	}, nil
}

// ToolDefinition is an OpenAI function tool declaration.
type ToolDefinition struct {
	Type     string             `json:"type"`
	Function FunctionDefinition `json:"function"`
}

// FunctionDefinition describes the callable function of a tool.
type FunctionDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

func (t ToolDefinition) validate() error {
	if t.Type != "function" {
		return fmt.Errorf("%w: type %q must be \"function\"", errInvalidTool, t.Type)
	}
	if strings.TrimSpace(t.Function.Name) == "" {
		return fmt.Errorf("%w: function name is required", errInvalidTool)
	}
	params := bytes.TrimSpace(t.Function.Parameters)
	if len(params) == 0 || bytes.Equal(params, []byte("null")) {
		return nil
	}
	var schema map[string]any
	if err := json.Unmarshal(params, &schema); err != nil {
		return fmt.Errorf("%w: function %q parameters must be a JSON schema object", errInvalidTool, t.Function.Name)
	}
	return nil
}

func parseToolChoice(raw json.RawMessage) (*models.ToolChoice, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}

	var mode string
	if err := json.Unmarshal(raw, &mode); err == nil {
		switch mode {
		case "auto", "none", "required":
			return &models.ToolChoice{Mode: mode}, nil
		default:
			return nil, fmt.Errorf("%w: unsupported tool_choice %q", ErrInvalidRequest, mode)
		}
	}

	var named struct {
		Type     string `json:"type"`
		Function struct {
			Name string `json:"name"`
		} `json:"function"`
	}
	if err := json.Unmarshal(raw, &named); err != nil || named.Type != "function" || named.Function.Name == "" {
		return nil, fmt.Errorf("%w: unsupported tool_choice structure", ErrInvalidRequest)
	}
	return &models.ToolChoice{FunctionName: named.Function.Name}, nil
}

// ChatMessage captures a single message within the chat request.
type ChatMessage struct {
	Role       string
	Content    string
	Name       string
	ToolCallID string
	ToolCalls  []ToolCall
}

// UnmarshalJSON supports string, null and array-of-text content formats.
func (m *ChatMessage) UnmarshalJSON(data []byte) error {
	type alias struct {
		Role       string          `json:"role"`
		Content    json.RawMessage `json:"content"`
		Name       string          `json:"name"`
		ToolCallID string          `json:"tool_call_id"`
		ToolCalls  []ToolCall      `json:"tool_calls"`
	}

	var raw alias
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("%w: decode message: %v", ErrInvalidRequest, err)
	}

	content, err := extractMessageContent(raw.Content)
	if err != nil {
		return err
	}

	m.Role = strings.TrimSpace(raw.Role)
	m.Content = content
	m.Name = strings.TrimSpace(raw.Name)
	m.ToolCallID = strings.TrimSpace(raw.ToolCallID)
	m.ToolCalls = raw.ToolCalls

	return m.validate()
}

func (m *ChatMessage) validate() error {
	if m.Role == "" {
		return fmt.Errorf("%w: role is required", errInvalidRole)
	}
	if _, ok := allowedRoles[m.Role]; !ok {
		return fmt.Errorf("%w: %s", errInvalidRole, m.Role)
	}
	if m.Role == "assistant" && len(m.ToolCalls) > 0 {
		for i, call := range m.ToolCalls {
			if strings.TrimSpace(call.Function.Name) == "" {
				return fmt.Errorf("%w: tool_calls[%d] function name is required", errInvalidContent, i)
			}
		}
		return nil
	}
	if strings.TrimSpace(m.Content) == "" {
		return fmt.Errorf("%w: message content must not be empty", errInvalidContent)
	}
	return nil
}

func extractMessageContent(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", nil
	}

	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return text, nil
	}

	var segments []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &segments); err == nil {
		var builder strings.Builder
		for _, segment := range segments {
			if segment.Type != "text" {
				return "", fmt.Errorf("%w: segment type %q not supported", errInvalidContent, segment.Type)
			}
			if builder.Len() > 0 && segment.Text != "" {
				builder.WriteString("\n")
			}
			builder.WriteString(segment.Text)
		}
		return builder.String(), nil
	}

	return "", fmt.Errorf("%w: unsupported content structure", errInvalidContent)
}

// ToolCall is the OpenAI representation of a function call, used in both
// assistant history messages and responses.
type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function FunctionCall `json:"function"`
}

// FunctionCall holds a called function name and its JSON-encoded arguments.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// UnmarshalJSON accepts arguments given either as a JSON string or an object.
func (f *FunctionCall) UnmarshalJSON(data []byte) error {
	var raw struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	f.Name = strings.TrimSpace(raw.Name)

	args := bytes.TrimSpace(raw.Arguments)
	switch {
	case len(args) == 0 || bytes.Equal(args, []byte("null")):
		f.Arguments = "{}"
	case args[0] == '"':
		if err := json.Unmarshal(args, &f.Arguments); err != nil {
			return err
		}
	default:
		var compact bytes.Buffer
		if err := json.Compact(&compact, args); err != nil {
			return err
		}
		f.Arguments = compact.String()
	}
	return nil
}
