// Package usage estimates token counts when the upstream omits them.
package usage

import (
	"log/slog"
	"sync"

	"github.com/tiktoken-go/tokenizer"

	"yagpt-router/internal/models"
)

// perMessageOverhead approximates the role/separator tokens added per chat message.
const perMessageOverhead = 4

// Estimator counts tokens in text.
type Estimator interface {
	Count(text string) int
}

// BPEEstimator counts tokens with the cl100k BPE vocabulary, falling back to a
// character heuristic if the codec cannot be loaded.
type BPEEstimator struct {
	once  sync.Once
	codec tokenizer.Codec
}

// NewBPEEstimator returns a lazily initialised BPE estimator.
func NewBPEEstimator() *BPEEstimator {
	return &BPEEstimator{}
}

// Count returns the number of tokens in text.
func (e *BPEEstimator) Count(text string) int {
	if text == "" {
		return 0
	}

	e.once.Do(func() {
		codec, err := tokenizer.Get(tokenizer.Cl100kBase)
		if err != nil {
			slog.Warn("load tokenizer failed, using character estimate", "error", err)
			return
		}
		e.codec = codec
	})

	if e.codec == nil {
		return roughCount(text)
	}

	ids, _, err := e.codec.Encode(text)
	if err != nil {
		return roughCount(text)
	}
	return len(ids)
}

// roughCount assumes about four bytes per token.
func roughCount(text string) int {
	n := len(text) / 4
	if n == 0 {
		return 1
	}
	return n
}

// Fill returns u unchanged when the upstream reported counts, otherwise an
// estimate over the prompt messages and the completion text.
func Fill(est Estimator, u models.Usage, prompt []models.Message, completion string) models.Usage {
	if !u.IsZero() {
		if u.TotalTokens == 0 {
			u.TotalTokens = u.PromptTokens + u.CompletionTokens
		}
		return u
	}

	var promptTokens int
	for _, msg := range prompt {
		promptTokens += perMessageOverhead + est.Count(msg.Role) + est.Count(msg.Content)
	}
	completionTokens := est.Count(completion)

	return models.Usage{
		PromptTokens:     promptTokens,
		CompletionTokens: completionTokens,
		TotalTokens:      promptTokens + completionTokens,
	}
}
