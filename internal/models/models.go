package models

import "encoding/json"

// Message represents a single conversational message in the unified schema.
// Content is plain text; tool exchanges are already flattened by the translator.
type Message struct {
	Role    string
	Content string
}

// Tool declares a function the model may call.
type Tool struct {
	Name        string
	Description string
	Parameters  json.RawMessage
}

// ToolChoice constrains tool selection. Mode is one of auto, none, required;
// FunctionName forces a specific function when set.
type ToolChoice struct {
	Mode         string
	FunctionName string
}

// ToolCall is a function invocation produced by the model.
// Arguments is always a JSON-encoded string.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string
}

// ChatRequest is the canonical representation of a chat completion.
type ChatRequest struct {
	Model       string
	Messages    []Message
	Stream      bool
	Temperature float64
	MaxTokens   *int
	Tools       []Tool
	ToolChoice  *ToolChoice
}

// ChatResponse captures one upstream result, either complete or a single stream
// fragment. For fragments Message.Content holds the cumulative text so far.
type ChatResponse struct {
	Message      Message
	ToolCalls    []ToolCall
	Usage        Usage
	FinishReason string
	ModelVersion string
}

// Usage records token accounting information.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// IsZero reports whether no counts were provided.
func (u Usage) IsZero() bool {
	return u.PromptTokens == 0 && u.CompletionTokens == 0 && u.TotalTokens == 0
}

// Embedding is the vector produced for a single input text.
type Embedding struct {
	Vector    []float64
	NumTokens int
}

// ImageRequest describes an asynchronous image generation job.
type ImageRequest struct {
	Model       string
	Prompt      string
	WidthRatio  int
	HeightRatio int
}

// Operation is the polled state of an asynchronous upstream job.
type Operation struct {
	ID    string
	Done  bool
	Error string
	// Image holds the transport-encoded (base64) artifact once Done.
	Image string
}

// Model identifies a model exposed through the models listing.
type Model struct {
	ID      string
	OwnedBy string
	Created int64
}

// Credentials are resolved per request and never persisted.
type Credentials struct {
	CatalogID string
	SecretKey string
	UserID    string
	BYOK      bool
}
