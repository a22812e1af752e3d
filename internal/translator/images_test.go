package translator

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestImageGenerationRequestDefaults(t *testing.T) {
	var req ImageGenerationRequest
	require.NoError(t, json.Unmarshal([]byte(`{"model":"dall-e-3","prompt":"a cat"}`), &req))

	assert.Equal(t, 1, req.N)
	assert.Equal(t, "1024x1024", req.Size)
	assert.Equal(t, "url", req.ResponseFormat)
	assert.Equal(t, 45, req.Timeout)
}

func TestImageGenerationRequestValidation(t *testing.T) {
	for name, body := range map[string]string{
		"missing prompt": `{"model":"m"}`,
		"two images":     `{"model":"m","prompt":"p","n":2}`,
		"bad format":     `{"model":"m","prompt":"p","response_format":"png"}`,
		"zero timeout":   `{"model":"m","prompt":"p","timeout":0}`,
		"huge timeout":   `{"model":"m","prompt":"p","timeout":100000}`,
	} {
		t.Run(name, func(t *testing.T) {
			var req ImageGenerationRequest
			assert.ErrorIs(t, json.Unmarshal([]byte(body), &req), ErrInvalidRequest)
		})
	}
}

func TestAspectRatio(t *testing.T) {
	cases := map[string][2]int{
		"1792x1024": {1792, 1024},
		"16X9":      {16, 9},
		"1024":      {1024, 1024},
		"axb":       {1024, 1024},
		"0x10":      {1024, 1024},
	}
	for size, want := range cases {
		w, h := ImageGenerationRequest{Size: size}.AspectRatio()
		assert.Equal(t, want, [2]int{w, h}, size)
	}
}

func TestImageResponses(t *testing.T) {
	data, err := json.Marshal(FromImageURL(10, "http://host/images/op.jpg", "a cat"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"created":10,"data":[{"url":"http://host/images/op.jpg","revised_prompt":"a cat"}]}`, string(data))

	data, err = json.Marshal(FromImageBase64(10, "QUJD", ""))
	require.NoError(t, err)
	assert.JSONEq(t, `{"created":10,"data":[{"b64_json":"QUJD"}]}`, string(data))
}
