package translator

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"yagpt-router/internal/models"
)

// EmbeddingsRequest models the OpenAI embeddings request payload.
type EmbeddingsRequest struct {
	Model          string
	Input          []string
	EncodingFormat string
}

// UnmarshalJSON normalises input into a list and validates the encoding format.
func (r *EmbeddingsRequest) UnmarshalJSON(data []byte) error {
	var raw struct {
		Model          string          `json:"model"`
		Input          json.RawMessage `json:"input"`
		EncodingFormat string          `json:"encoding_format"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("%w: decode embeddings request: %v", ErrInvalidRequest, err)
	}

	input, err := parseEmbeddingInput(raw.Input)
	if err != nil {
		return err
	}

	r.Model = strings.TrimSpace(raw.Model)
	r.Input = input
	r.EncodingFormat = strings.TrimSpace(raw.EncodingFormat)
	if r.EncodingFormat == "" {
		r.EncodingFormat = "float"
	}

	if r.Model == "" {
		return errEmptyModel
	}
	if r.EncodingFormat != "float" && r.EncodingFormat != "base64" {
		return fmt.Errorf("%w: encoding_format must be \"float\" or \"base64\"", ErrInvalidRequest)
	}
	return nil
}

func parseEmbeddingInput(raw json.RawMessage) ([]string, error) {
	errInput := fmt.Errorf("%w: `input` must be a string or a list of strings", ErrInvalidRequest)

	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, errInput
	}

	var single string
	if err := json.Unmarshal(raw, &single); err == nil {
		return []string{single}, nil
	}

	var many []string
	if err := json.Unmarshal(raw, &many); err != nil || len(many) == 0 {
		return nil, errInput
	}
	return many, nil
}

// EmbeddingsResponse models the OpenAI embeddings list response.
type EmbeddingsResponse struct {
	Object string          `json:"object"`
	Data   []EmbeddingData `json:"data"`
	Model  string          `json:"model"`
	Usage  EmbeddingsUsage `json:"usage"`
}

// EmbeddingData is a single vector; Embedding is []float64 or a base64 string.
type EmbeddingData struct {
	Object    string `json:"object"`
	Embedding any    `json:"embedding"`
	Index     int    `json:"index"`
}

// EmbeddingsUsage reports the tokens consumed by all inputs.
type EmbeddingsUsage struct {
	PromptTokens int `json:"prompt_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// FromEmbeddings builds the downstream response, one entry per input in order.
func FromEmbeddings(model string, results []models.Embedding, b64 bool) EmbeddingsResponse {
	resp := EmbeddingsResponse{
		Object: "list",
		Data:   make([]EmbeddingData, 0, len(results)),
		Model:  model,
	}
	for i, res := range results {
		var vector any = res.Vector
		if b64 {
			vector = EncodeVectorBase64(res.Vector)
		}
		resp.Data = append(resp.Data, EmbeddingData{
			Object:    "embedding",
			Embedding: vector,
			Index:     i,
		})
		resp.Usage.PromptTokens += res.NumTokens
	}
	resp.Usage.TotalTokens = resp.Usage.PromptTokens
	return resp
}

// EncodeVectorBase64 packs the vector as little-endian float32 values.
func EncodeVectorBase64(vector []float64) string {
	buf := make([]byte, 4*len(vector))
	for i, v := range vector {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(float32(v)))
	}
	return base64.StdEncoding.EncodeToString(buf)
}
