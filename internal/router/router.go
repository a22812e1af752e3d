package router

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"yagpt-router/internal/images"
	"yagpt-router/internal/models"
	"yagpt-router/internal/provider"
)

// DefaultEmbeddingConcurrency bounds parallel upstream embedding calls per request.
const DefaultEmbeddingConcurrency = 4

// Router resolves model aliases and dispatches requests to the upstream.
type Router struct {
	upstream         provider.Upstream
	poller           *images.Poller
	embedConcurrency int
}

// New constructs a router backed by the provided upstream and image poller.
func New(upstream provider.Upstream, poller *images.Poller) *Router {
	if poller == nil {
		poller = images.NewPoller(upstream)
	}
	return &Router{
		upstream:         upstream,
		poller:           poller,
		embedConcurrency: DefaultEmbeddingConcurrency,
	}
}

// Chat routes a one-shot chat completion and returns the resolved model.
func (r *Router) Chat(ctx context.Context, creds models.Credentials, req models.ChatRequest) (*models.ChatResponse, string, error) {
	routed := req
	routed.Model = ChatModel(req.Model)
	routed.Stream = false

	resp, err := r.upstream.Complete(ctx, creds, routed)
	if err != nil {
		return nil, routed.Model, fmt.Errorf("chat request for %s: %w", routed.Model, err)
	}
	return resp, routed.Model, nil
}

// ChatStream opens a streaming chat completion and returns the raw upstream body
// with the resolved model. The body must be closed by the caller.
func (r *Router) ChatStream(ctx context.Context, creds models.Credentials, req models.ChatRequest) (io.ReadCloser, string, error) {
	routed := req
	routed.Model = ChatModel(req.Model)
	routed.Stream = true

	body, err := r.upstream.CompleteStream(ctx, creds, routed)
	if err != nil {
		return nil, routed.Model, fmt.Errorf("stream request for %s: %w", routed.Model, err)
	}
	return body, routed.Model, nil
}

// Embeddings computes one embedding per input, preserving input order. The
// first upstream failure cancels the remaining calls.
func (r *Router) Embeddings(ctx context.Context, creds models.Credentials, model string, inputs []string) ([]models.Embedding, string, error) {
	resolved := EmbeddingModel(model)
	results := make([]models.Embedding, len(inputs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.embedConcurrency)
	for i, text := range inputs {
		i, text := i, text
		g.Go(func() error {
			emb, err := r.upstream.Embed(gctx, creds, resolved, text)
			if err != nil {
				return fmt.Errorf("embedding input %d: %w", i, err)
			}
			results[i] = *emb
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, resolved, err
	}
	return results, resolved, nil
}

// Image submits an image job and polls it until it completes or timeout elapses.
func (r *Router) Image(ctx context.Context, creds models.Credentials, req models.ImageRequest, timeout time.Duration) (*images.Result, string, error) {
	routed := req
	routed.Model = ImageModel(req.Model)

	res, err := r.poller.Generate(ctx, creds, routed, timeout)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			slog.Warn("image generation failed", "model", routed.Model, "error", err)
		}
		return nil, routed.Model, err
	}
	return res, routed.Model, nil
}
