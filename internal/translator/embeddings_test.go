package translator

import (
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"yagpt-router/internal/models"
)

func TestEmbeddingsRequestInputForms(t *testing.T) {
	var req EmbeddingsRequest
	require.NoError(t, json.Unmarshal([]byte(`{"model":"text-embedding-3-small","input":"hello"}`), &req))
	assert.Equal(t, []string{"hello"}, req.Input)
	assert.Equal(t, "float", req.EncodingFormat)

	require.NoError(t, json.Unmarshal([]byte(`{"model":"m","input":["a","b"],"encoding_format":"base64"}`), &req))
	assert.Equal(t, []string{"a", "b"}, req.Input)
	assert.Equal(t, "base64", req.EncodingFormat)
}

func TestEmbeddingsRequestValidation(t *testing.T) {
	for name, body := range map[string]string{
		"missing input":   `{"model":"m"}`,
		"numeric input":   `{"model":"m","input":42}`,
		"mixed list":      `{"model":"m","input":["a",1]}`,
		"empty list":      `{"model":"m","input":[]}`,
		"missing model":   `{"input":"a"}`,
		"bad encoding":    `{"model":"m","input":"a","encoding_format":"hex"}`,
		"not json object": `"text"`,
	} {
		t.Run(name, func(t *testing.T) {
			var req EmbeddingsRequest
			assert.ErrorIs(t, json.Unmarshal([]byte(body), &req), ErrInvalidRequest)
		})
	}
}

func TestFromEmbeddingsFloat(t *testing.T) {
	results := []models.Embedding{
		{Vector: []float64{0.1, 0.2}, NumTokens: 2},
		{Vector: []float64{0.3, 0.4}, NumTokens: 3},
	}

	out := FromEmbeddings("text-search-query/latest", results, false)

	assert.Equal(t, "list", out.Object)
	require.Len(t, out.Data, 2)
	for i, d := range out.Data {
		assert.Equal(t, i, d.Index)
		assert.Equal(t, "embedding", d.Object)
		assert.Equal(t, results[i].Vector, d.Embedding)
	}
	assert.Equal(t, EmbeddingsUsage{PromptTokens: 5, TotalTokens: 5}, out.Usage)
}

func TestFromEmbeddingsBase64(t *testing.T) {
	results := []models.Embedding{{Vector: []float64{1.5, -2}}, {Vector: []float64{0.25}}}

	out := FromEmbeddings("m", results, true)

	require.Len(t, out.Data, 2)
	for i, d := range out.Data {
		encoded, ok := d.Embedding.(string)
		require.True(t, ok)
		raw, err := base64.StdEncoding.DecodeString(encoded)
		require.NoError(t, err)
		require.Len(t, raw, 4*len(results[i].Vector))
		for j, want := range results[i].Vector {
			got := math.Float32frombits(binary.LittleEndian.Uint32(raw[j*4:]))
			assert.Equal(t, float32(want), got)
		}
	}
}
