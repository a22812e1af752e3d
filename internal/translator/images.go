package translator

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

const (
	defaultImageSize    = "1024x1024"
	defaultImageTimeout = 45
	maxImageTimeout     = 600
)

// ImageGenerationRequest models the OpenAI images/generations request payload.
type ImageGenerationRequest struct {
	Model          string
	Prompt         string
	N              int
	Size           string
	ResponseFormat string
	Timeout        int
}

// UnmarshalJSON fills defaults and validates the request.
func (r *ImageGenerationRequest) UnmarshalJSON(data []byte) error {
	var raw struct {
		Model          string `json:"model"`
		Prompt         string `json:"prompt"`
		N              *int   `json:"n"`
		Size           string `json:"size"`
		Quality        string `json:"quality"`
		ResponseFormat string `json:"response_format"`
		Style          string `json:"style"`
		Timeout        *int   `json:"timeout"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("%w: decode image request: %v", ErrInvalidRequest, err)
	}

	r.Model = strings.TrimSpace(raw.Model)
	r.Prompt = strings.TrimSpace(raw.Prompt)
	r.N = 1
	if raw.N != nil {
		r.N = *raw.N
	}
	r.Size = strings.TrimSpace(raw.Size)
	if r.Size == "" {
		r.Size = defaultImageSize
	}
	r.ResponseFormat = strings.TrimSpace(raw.ResponseFormat)
	if r.ResponseFormat == "" {
		r.ResponseFormat = "url"
	}
	r.Timeout = defaultImageTimeout
	if raw.Timeout != nil {
		r.Timeout = *raw.Timeout
	}

	switch {
	case r.Model == "":
		return errEmptyModel
	case r.Prompt == "":
		return fmt.Errorf("%w: prompt must not be empty", ErrInvalidRequest)
	case r.N != 1:
		return fmt.Errorf("%w: only n=1 is supported", ErrInvalidRequest)
	case r.ResponseFormat != "url" && r.ResponseFormat != "b64_json":
		return fmt.Errorf("%w: response_format must be \"url\" or \"b64_json\"", ErrInvalidRequest)
	case r.Timeout <= 0 || r.Timeout > maxImageTimeout:
		return fmt.Errorf("%w: timeout must be between 1 and %d seconds", ErrInvalidRequest, maxImageTimeout)
	}
	return nil
}

// AspectRatio parses a WxH size; malformed sizes fall back to 1024x1024.
func (r ImageGenerationRequest) AspectRatio() (width, height int) {
	w, h, ok := strings.Cut(strings.ToLower(r.Size), "x")
	if ok {
		pw, errW := strconv.Atoi(strings.TrimSpace(w))
		ph, errH := strconv.Atoi(strings.TrimSpace(h))
		if errW == nil && errH == nil && pw > 0 && ph > 0 {
			return pw, ph
		}
	}
	return 1024, 1024
}

// ImagesResponse models the OpenAI images response.
type ImagesResponse struct {
	Created int64       `json:"created"`
	Data    []ImageData `json:"data"`
}

// ImageData is either a retrieval URL or an inline base64 payload.
type ImageData struct {
	URL           string `json:"url,omitempty"`
	B64JSON       string `json:"b64_json,omitempty"`
	RevisedPrompt string `json:"revised_prompt,omitempty"`
}

// FromImageURL builds a response pointing at a stored image.
func FromImageURL(created int64, url, prompt string) ImagesResponse {
	return ImagesResponse{
		Created: created,
		Data:    []ImageData{{URL: url, RevisedPrompt: prompt}},
	}
}

// FromImageBase64 builds a response carrying the image inline.
func FromImageBase64(created int64, b64, prompt string) ImagesResponse {
	return ImagesResponse{
		Created: created,
		Data:    []ImageData{{B64JSON: b64, RevisedPrompt: prompt}},
	}
}

// ModelsResponse lists available models.
type ModelsResponse struct {
	Object string        `json:"object"`
	Data   []ModelObject `json:"data"`
}

// ModelObject describes a single model.
type ModelObject struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	OwnedBy string `json:"owned_by"`
}
