package server

import (
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"yagpt-router/internal/images"
	"yagpt-router/internal/metrics"
	"yagpt-router/internal/models"
	"yagpt-router/internal/translator"
)

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleChatCompletions(c echo.Context) error {
	var req translator.ChatCompletionRequest
	if err := decodeRequestBody(c, &req); err != nil {
		return err
	}

	unifiedReq, err := req.ToUnified()
	if err != nil {
		return err
	}

	creds, _ := credentialsFrom(c)
	slog.Info("chat completion requested", "user", creds.UserID, "model", req.Model, "stream", req.Stream)

	if req.Stream {
		return s.streamChat(c, creds, unifiedReq)
	}

	resp, model, err := s.router.Chat(c.Request().Context(), creds, unifiedReq)
	if err != nil {
		return err
	}
	if resp == nil {
		return requestError{
			Status:  http.StatusBadGateway,
			Message: "upstream provider returned an empty response",
			Type:    "upstream_error",
		}
	}

	openAIResp := translator.FromUnifiedChat(model, s.now().Unix(), unifiedReq.Messages, resp, s.estimator)
	recordTokens(model, openAIResp.Usage)
	slog.Info("chat completion served",
		"user", creds.UserID,
		"id", openAIResp.ID,
		"prompt_tokens", openAIResp.Usage.PromptTokens,
		"completion_tokens", openAIResp.Usage.CompletionTokens,
		"total_tokens", openAIResp.Usage.TotalTokens,
	)
	return c.JSON(http.StatusOK, openAIResp)
}

func (s *Server) handleEmbeddings(c echo.Context) error {
	var req translator.EmbeddingsRequest
	if err := decodeRequestBody(c, &req); err != nil {
		return err
	}

	creds, _ := credentialsFrom(c)
	slog.Info("embeddings requested", "user", creds.UserID, "model", req.Model, "inputs", len(req.Input))

	results, model, err := s.router.Embeddings(c.Request().Context(), creds, req.Model, req.Input)
	if err != nil {
		return err
	}

	resp := translator.FromEmbeddings(model, results, req.EncodingFormat == "base64")
	metrics.TokensTotal.WithLabelValues(model, "prompt").Add(float64(resp.Usage.PromptTokens))
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleImageGeneration(c echo.Context) error {
	var req translator.ImageGenerationRequest
	if err := decodeRequestBody(c, &req); err != nil {
		return err
	}

	creds, _ := credentialsFrom(c)
	slog.Info("image generation requested", "user", creds.UserID, "model", req.Model, "size", req.Size)

	width, height := req.AspectRatio()
	created := s.now().Unix()
	timeout := time.Duration(req.Timeout) * time.Second

	res, model, err := s.router.Image(c.Request().Context(), creds, models.ImageRequest{
		Model:       req.Model,
		Prompt:      req.Prompt,
		WidthRatio:  width,
		HeightRatio: height,
	}, timeout)
	if err != nil {
		if errors.Is(err, images.ErrTimeout) {
			return requestError{
				Status:  http.StatusInternalServerError,
				Message: fmt.Sprintf("Image generation timeout (%ds)", req.Timeout),
				Type:    "server_error",
				Code:    "timeout",
			}
		}
		return err
	}

	slog.Info("image generated", "user", creds.UserID, "model", model, "operation", res.OperationID, "polls", res.Polls)

	if req.ResponseFormat == "b64_json" {
		return c.JSON(http.StatusOK, translator.FromImageBase64(created, base64.StdEncoding.EncodeToString(res.Image), ""))
	}

	name, err := s.store.Save(res.OperationID, res.Image)
	if err != nil {
		slog.Error("store generated image failed", "operation", res.OperationID, "error", err)
		return requestError{
			Status:  http.StatusInternalServerError,
			Message: "failed to store generated image",
			Type:    "server_error",
		}
	}

	url := strings.TrimRight(s.cfg.Server.PublicURL, "/") + "/images/" + name
	return c.JSON(http.StatusOK, translator.FromImageURL(created, url, ""))
}

func (s *Server) handleGetImage(c echo.Context) error {
	name := c.Param("id")
	path, err := s.store.Path(name)
	if errors.Is(err, images.ErrNotFound) && !strings.HasSuffix(name, ".jpg") {
		path, err = s.store.Path(name + ".jpg")
	}
	if err != nil {
		return err
	}

	c.Response().Header().Set(echo.HeaderContentType, "image/jpeg")
	return c.File(path)
}

func (s *Server) handleModels(c echo.Context) error {
	list := s.registry.ListModels()
	resp := translator.ModelsResponse{
		Object: "list",
		Data:   make([]translator.ModelObject, 0, len(list)),
	}
	for _, m := range list {
		resp.Data = append(resp.Data, modelObject(m))
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleModel(c echo.Context) error {
	model, err := s.registry.LookupModel(c.Param("*"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, modelObject(model))
}

func modelObject(m models.Model) translator.ModelObject {
	return translator.ModelObject{
		ID:      m.ID,
		Object:  "model",
		Created: m.Created,
		OwnedBy: m.OwnedBy,
	}
}

func recordTokens(model string, u translator.OpenAIUsage) {
	metrics.TokensTotal.WithLabelValues(model, "prompt").Add(float64(u.PromptTokens))
	metrics.TokensTotal.WithLabelValues(model, "completion").Add(float64(u.CompletionTokens))
}
