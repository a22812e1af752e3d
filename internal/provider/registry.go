package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"yagpt-router/internal/models"
)

// ErrUnknownModel indicates the requested model is not registered.
var ErrUnknownModel = errors.New("unknown model")

// ErrDuplicateModel indicates an attempt to register the same model twice.
var ErrDuplicateModel = errors.New("model already registered")

// ErrOperationFailed indicates the upstream reported an error for an asynchronous job.
var ErrOperationFailed = errors.New("upstream operation failed")

// Upstream defines the calls the router issues against the backend API.
// Credentials are resolved per request and passed through unchanged.
type Upstream interface {
	Complete(ctx context.Context, creds models.Credentials, req models.ChatRequest) (*models.ChatResponse, error)
	// CompleteStream returns the raw upstream body. The caller must close it;
	// cancelling ctx aborts the underlying connection.
	CompleteStream(ctx context.Context, creds models.Credentials, req models.ChatRequest) (io.ReadCloser, error)
	Embed(ctx context.Context, creds models.Credentials, model, text string) (*models.Embedding, error)
	GenerateImage(ctx context.Context, creds models.Credentials, req models.ImageRequest) (string, error)
	Operation(ctx context.Context, creds models.Credentials, id string) (*models.Operation, error)
}

// Registry holds the static model catalog served by the models listing.
// It is filled once at startup and only read afterwards.
type Registry struct {
	mu     sync.RWMutex
	models map[string]models.Model
	order  []string
}

// NewRegistry constructs an empty model registry.
func NewRegistry() *Registry {
	return &Registry{
		models: make(map[string]models.Model),
	}
}

// Register adds a model to the catalog, preserving registration order.
func (r *Registry) Register(model models.Model) error {
	if model.ID == "" {
		return errors.New("model id must not be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.models[model.ID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateModel, model.ID)
	}
	r.models[model.ID] = model
	r.order = append(r.order, model.ID)
	return nil
}

// LookupModel returns the metadata for a given model ID.
func (r *Registry) LookupModel(modelID string) (models.Model, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	model, ok := r.models[modelID]
	if !ok {
		return models.Model{}, fmt.Errorf("%w: %s", ErrUnknownModel, modelID)
	}
	return model, nil
}

// ListModels returns a copy of the catalog in registration order.
func (r *Registry) ListModels() []models.Model {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]models.Model, 0, len(r.order))
	for _, id := range r.order {
		result = append(result, r.models[id])
	}
	return result
}
