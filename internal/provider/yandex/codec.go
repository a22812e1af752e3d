package yandex

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/pretty"
	"github.com/tidwall/sjson"

	"yagpt-router/internal/models"
)

const imageMimeType = "image/jpeg"

var errNoMessage = errors.New("yandex response did not include result.alternatives[0].message")

var emptyParameters = []byte(`{"type":"object","properties":{}}`)

type completionPayload struct {
	ModelURI          string            `json:"modelUri"`
	CompletionOptions completionOptions `json:"completionOptions"`
	Messages          []message         `json:"messages"`
}

type completionOptions struct {
	Stream      bool    `json:"stream"`
	Temperature float64 `json:"temperature"`
	MaxTokens   *int    `json:"maxTokens,omitempty"`
}

type message struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

// ModelURI builds the upstream model reference, e.g. gpt://<catalog>/yandexgpt/latest.
func ModelURI(scheme, catalogID, model string) string {
	return scheme + "://" + catalogID + "/" + model
}

func buildCompletionPayload(catalogID string, req models.ChatRequest, stream bool) ([]byte, error) {
	payload := completionPayload{
		ModelURI: ModelURI("gpt", catalogID, req.Model),
		CompletionOptions: completionOptions{
			Stream:      stream,
			Temperature: req.Temperature,
			MaxTokens:   req.MaxTokens,
		},
		Messages: make([]message, 0, len(req.Messages)),
	}
	for _, msg := range req.Messages {
		payload.Messages = append(payload.Messages, message{Role: msg.Role, Text: msg.Content})
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	for i, tool := range req.Tools {
		prefix := "tools." + strconv.Itoa(i) + ".function."
		if body, err = sjson.SetBytes(body, prefix+"name", tool.Name); err != nil {
			return nil, fmt.Errorf("set tool name: %w", err)
		}
		if tool.Description != "" {
			if body, err = sjson.SetBytes(body, prefix+"description", tool.Description); err != nil {
				return nil, fmt.Errorf("set tool description: %w", err)
			}
		}
		params := []byte(tool.Parameters)
		if len(params) == 0 {
			params = emptyParameters
		}
		if body, err = sjson.SetRawBytes(body, prefix+"parameters", params); err != nil {
			return nil, fmt.Errorf("set tool parameters: %w", err)
		}
	}

	if choice := req.ToolChoice; choice != nil {
		switch {
		case choice.FunctionName != "":
			body, err = sjson.SetBytes(body, "toolChoice.functionName", choice.FunctionName)
		case choice.Mode != "":
			body, err = sjson.SetBytes(body, "toolChoice.mode", strings.ToUpper(choice.Mode))
		}
		if err != nil {
			return nil, fmt.Errorf("set tool choice: %w", err)
		}
	}

	return body, nil
}

func buildEmbeddingPayload(catalogID, model, text string) ([]byte, error) {
	body, err := json.Marshal(struct {
		ModelURI string `json:"modelUri"`
		Text     string `json:"text"`
	}{
		ModelURI: ModelURI("emb", catalogID, model),
		Text:     text,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return body, nil
}

type imagePayload struct {
	ModelURI          string         `json:"modelUri"`
	Messages          []imageMessage `json:"messages"`
	GenerationOptions generationOpts `json:"generationOptions"`
}

type imageMessage struct {
	Text   string `json:"text"`
	Weight int    `json:"weight"`
}

type generationOpts struct {
	MimeType    string      `json:"mimeType"`
	AspectRatio aspectRatio `json:"aspectRatio"`
}

type aspectRatio struct {
	WidthRatio  int `json:"widthRatio"`
	HeightRatio int `json:"heightRatio"`
}

func buildImagePayload(catalogID string, req models.ImageRequest) ([]byte, error) {
	body, err := json.Marshal(imagePayload{
		ModelURI: ModelURI("art", catalogID, req.Model),
		Messages: []imageMessage{{Text: req.Prompt, Weight: 1}},
		GenerationOptions: generationOpts{
			MimeType: imageMimeType,
			AspectRatio: aspectRatio{
				WidthRatio:  req.WidthRatio,
				HeightRatio: req.HeightRatio,
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return body, nil
}

// ParseCompletion decodes one upstream completion object. It serves both the
// one-shot response and each streamed fragment, where message text is cumulative.
func ParseCompletion(data []byte) (*models.ChatResponse, error) {
	if !gjson.ValidBytes(data) {
		return nil, errors.New("yandex response is not valid JSON")
	}

	result := gjson.GetBytes(data, "result")
	alt := result.Get("alternatives.0")
	msg := alt.Get("message")
	if !msg.IsObject() {
		return nil, errNoMessage
	}

	resp := &models.ChatResponse{
		Message: models.Message{
			Role:    msg.Get("role").String(),
			Content: msg.Get("text").String(),
		},
		FinishReason: finishReason(alt.Get("status").String()),
		ModelVersion: result.Get("modelVersion").String(),
	}
	if resp.Message.Role == "" {
		resp.Message.Role = "assistant"
	}

	msg.Get("toolCallList.toolCalls").ForEach(func(_, call gjson.Result) bool {
		fn := call.Get("functionCall")
		if !fn.Exists() {
			return true
		}
		resp.ToolCalls = append(resp.ToolCalls, models.ToolCall{
			Name:      fn.Get("name").String(),
			Arguments: encodeArguments(fn.Get("arguments")),
		})
		return true
	})

	usage := result.Get("usage")
	resp.Usage = models.Usage{
		PromptTokens:     int(usage.Get("inputTextTokens").Int()),
		CompletionTokens: int(usage.Get("completionTokens").Int()),
		TotalTokens:      int(usage.Get("totalTokens").Int()),
	}

	return resp, nil
}

// encodeArguments returns tool arguments as a JSON string; structured
// arguments are serialised compactly.
func encodeArguments(args gjson.Result) string {
	switch {
	case !args.Exists() || args.Type == gjson.Null:
		return "{}"
	case args.IsObject() || args.IsArray():
		return string(pretty.Ugly([]byte(args.Raw)))
	default:
		return args.String()
	}
}

func finishReason(status string) string {
	switch status {
	case "ALTERNATIVE_STATUS_FINAL", "FINAL":
		return "stop"
	case "ALTERNATIVE_STATUS_TRUNCATED_FINAL", "TRUNCATED_FINAL":
		return "length"
	case "ALTERNATIVE_STATUS_TOOL_CALLS", "TOOL_CALLS":
		return "tool_calls"
	case "ALTERNATIVE_STATUS_CONTENT_FILTER", "CONTENT_FILTER":
		return "content_filter"
	default:
		return ""
	}
}

func parseEmbedding(data []byte) (*models.Embedding, error) {
	if !gjson.ValidBytes(data) {
		return nil, errors.New("yandex embedding response is not valid JSON")
	}

	vector := gjson.GetBytes(data, "embedding")
	if !vector.IsArray() {
		return nil, errors.New("yandex embedding response did not include an embedding")
	}

	values := vector.Array()
	out := &models.Embedding{
		Vector:    make([]float64, 0, len(values)),
		NumTokens: int(gjson.GetBytes(data, "numTokens").Int()),
	}
	for _, v := range values {
		out.Vector = append(out.Vector, v.Float())
	}
	return out, nil
}

func parseOperation(data []byte) (*models.Operation, error) {
	if !gjson.ValidBytes(data) {
		return nil, errors.New("yandex operation response is not valid JSON")
	}

	root := gjson.ParseBytes(data)
	op := &models.Operation{
		ID:    root.Get("id").String(),
		Done:  root.Get("done").Bool(),
		Image: root.Get("response.image").String(),
	}
	if errObj := root.Get("error"); errObj.Exists() {
		op.Error = errObj.Get("message").String()
		if op.Error == "" {
			op.Error = strings.TrimSpace(errObj.Raw)
		}
	}
	return op, nil
}
