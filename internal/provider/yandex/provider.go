// Package yandex implements the upstream client for the Yandex Foundation Models API.
package yandex

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"yagpt-router/internal/config"
	"yagpt-router/internal/metrics"
	"yagpt-router/internal/models"
	"yagpt-router/internal/provider"
)

const (
	contentTypeJSON  = "application/json"
	userAgent        = "yagpt-router/0.1"
	maxErrorBody     = 64 * 1024
	maxResponseBytes = 32 << 20
)

// Provider issues completion, embedding and image requests against the upstream API.
type Provider struct {
	client        *http.Client
	streamClient  *http.Client
	dataLogging   bool
	completionURL string
	embeddingURL  string
	imageURL      string
	operationsURL string
}

var _ provider.Upstream = (*Provider)(nil)

// New creates a new upstream provider. client serves one-shot calls and should
// carry an overall timeout; streamClient holds connections open for the whole
// stream and should not.
func New(cfg config.UpstreamConfig, client, streamClient *http.Client) (*Provider, error) {
	if client == nil || streamClient == nil {
		return nil, errors.New("http client must not be nil")
	}

	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		return nil, errors.New("base url must not be empty")
	}
	operationsURL := strings.TrimRight(cfg.OperationsURL, "/")
	if operationsURL == "" {
		return nil, errors.New("operations url must not be empty")
	}

	return &Provider{
		client:        client,
		streamClient:  streamClient,
		dataLogging:   cfg.DataLogging,
		completionURL: baseURL + "/completion",
		embeddingURL:  baseURL + "/textEmbedding",
		imageURL:      baseURL + "/imageGenerationAsync",
		operationsURL: operationsURL,
	}, nil
}

// Complete performs a non-streaming completion.
func (p *Provider) Complete(ctx context.Context, creds models.Credentials, req models.ChatRequest) (*models.ChatResponse, error) {
	body, err := buildCompletionPayload(creds.CatalogID, req, false)
	if err != nil {
		return nil, err
	}

	data, err := p.do(ctx, p.client, creds, "completion", http.MethodPost, p.completionURL, body)
	if err != nil {
		return nil, err
	}
	return ParseCompletion(data)
}

// CompleteStream starts a streaming completion and hands back the raw body.
// A non-200 status is returned as *provider.UpstreamError before any byte is read.
func (p *Provider) CompleteStream(ctx context.Context, creds models.Credentials, req models.ChatRequest) (io.ReadCloser, error) {
	body, err := buildCompletionPayload(creds.CatalogID, req, true)
	if err != nil {
		return nil, err
	}

	httpReq, err := p.newRequest(ctx, creds, http.MethodPost, p.completionURL, body)
	if err != nil {
		return nil, err
	}

	httpResp, err := p.streamClient.Do(httpReq)
	if err != nil {
		observe("completion_stream", "error")
		return nil, fmt.Errorf("yandex stream request failed: %w", err)
	}
	observe("completion_stream", strconv.Itoa(httpResp.StatusCode))

	if httpResp.StatusCode != http.StatusOK {
		defer httpResp.Body.Close()
		return nil, parseAPIError(httpResp)
	}
	return httpResp.Body, nil
}

// Embed computes the embedding of a single text.
func (p *Provider) Embed(ctx context.Context, creds models.Credentials, model, text string) (*models.Embedding, error) {
	body, err := buildEmbeddingPayload(creds.CatalogID, model, text)
	if err != nil {
		return nil, err
	}

	data, err := p.do(ctx, p.client, creds, "embedding", http.MethodPost, p.embeddingURL, body)
	if err != nil {
		return nil, err
	}
	return parseEmbedding(data)
}

// GenerateImage submits an asynchronous image job and returns its operation id.
func (p *Provider) GenerateImage(ctx context.Context, creds models.Credentials, req models.ImageRequest) (string, error) {
	body, err := buildImagePayload(creds.CatalogID, req)
	if err != nil {
		return "", err
	}

	data, err := p.do(ctx, p.client, creds, "image_generation", http.MethodPost, p.imageURL, body)
	if err != nil {
		return "", err
	}

	op, err := parseOperation(data)
	if err != nil {
		return "", err
	}
	if op.Error != "" {
		return "", fmt.Errorf("%w: %s", provider.ErrOperationFailed, op.Error)
	}
	if op.ID == "" {
		return "", errors.New("yandex image response did not include an operation id")
	}
	return op.ID, nil
}

// Operation fetches the current state of an asynchronous job.
func (p *Provider) Operation(ctx context.Context, creds models.Credentials, id string) (*models.Operation, error) {
	data, err := p.do(ctx, p.client, creds, "operation", http.MethodGet, p.operationsURL+"/"+id, nil)
	if err != nil {
		return nil, err
	}

	op, err := parseOperation(data)
	if err != nil {
		return nil, err
	}
	if op.ID == "" {
		op.ID = id
	}
	return op, nil
}

func (p *Provider) do(ctx context.Context, client *http.Client, creds models.Credentials, endpoint, method, url string, body []byte) ([]byte, error) {
	httpReq, err := p.newRequest(ctx, creds, method, url, body)
	if err != nil {
		return nil, err
	}

	httpResp, err := client.Do(httpReq)
	if err != nil {
		observe(endpoint, "error")
		return nil, fmt.Errorf("yandex %s request failed: %w", endpoint, err)
	}
	defer httpResp.Body.Close()
	observe(endpoint, strconv.Itoa(httpResp.StatusCode))

	if httpResp.StatusCode != http.StatusOK {
		return nil, parseAPIError(httpResp)
	}

	data, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read yandex %s response: %w", endpoint, err)
	}
	return data, nil
}

func (p *Provider) newRequest(ctx context.Context, creds models.Credentials, method, url string, body []byte) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("construct request: %w", err)
	}

	req.Header.Set("Content-Type", contentTypeJSON)
	req.Header.Set("Accept", contentTypeJSON)
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Authorization", "Api-Key "+creds.SecretKey)
	req.Header.Set("x-folder-id", creds.CatalogID)
	req.Header.Set("x-data-logging-enabled", strconv.FormatBool(p.dataLogging))

	return req, nil
}

func parseAPIError(resp *http.Response) error {
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil {
		return fmt.Errorf("upstream error status %d and failed to read body: %w", resp.StatusCode, err)
	}
	return &provider.UpstreamError{
		StatusCode: resp.StatusCode,
		Body:       string(body),
	}
}

func observe(endpoint, status string) {
	metrics.UpstreamRequestsTotal.WithLabelValues(endpoint, status).Inc()
}
