package router

import "strings"

// Upstream model identifiers targeted by the alias rules.
const (
	FlagshipModel    = "yandexgpt/latest"
	LiteModel        = "yandexgpt-lite/latest"
	DocEmbedModel    = "text-search-doc/latest"
	QueryEmbedModel  = "text-search-query/latest"
	ImageModelTarget = "yandex-art/latest"
)

// ChatModel maps a downstream chat model name to an upstream model. Rules are
// checked in order, so "gpt-4o-mini" resolves to the lite model.
func ChatModel(name string) string {
	switch {
	case strings.HasPrefix(name, "gpt-3.5"), strings.Contains(name, "mini"):
		return LiteModel
	case strings.HasPrefix(name, "gpt-4"):
		return FlagshipModel
	default:
		return name
	}
}

// EmbeddingModel maps a downstream embedding model name to an upstream model.
func EmbeddingModel(name string) string {
	switch name {
	case "text-embedding-3-large":
		return DocEmbedModel
	case "text-embedding-3-small", "text-embedding-ada-002":
		return QueryEmbedModel
	default:
		return name
	}
}

// ImageModel maps a downstream image model name to an upstream model.
func ImageModel(name string) string {
	if strings.Contains(name, "dall-e") {
		return ImageModelTarget
	}
	return name
}
