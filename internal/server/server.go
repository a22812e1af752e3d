package server

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"yagpt-router/internal/auth"
	"yagpt-router/internal/config"
	"yagpt-router/internal/images"
	"yagpt-router/internal/metrics"
	"yagpt-router/internal/provider"
	"yagpt-router/internal/router"
	"yagpt-router/internal/translator"
	"yagpt-router/internal/usage"
)

const (
	maxBodyBytes        = 8 << 20 // 8 MiB
	shutdownGracePeriod = 10 * time.Second
	readTimeout         = 30 * time.Second
	writeTimeout        = 11 * time.Minute
	idleTimeout         = 120 * time.Second
)

// Dependencies are the collaborators the HTTP layer dispatches to.
type Dependencies struct {
	Router    *router.Router
	Registry  *provider.Registry
	Resolver  *auth.Resolver
	Store     *images.Store
	Decoder   translator.FragmentDecoder
	Estimator usage.Estimator
}

type Server struct {
	cfg       config.Config
	router    *router.Router
	registry  *provider.Registry
	resolver  *auth.Resolver
	store     *images.Store
	decode    translator.FragmentDecoder
	estimator usage.Estimator
	now       func() time.Time
	app       *echo.Echo
	address   string
}

// New constructs an HTTP server wired with routing and middleware.
func New(cfg config.Config, deps Dependencies) (*Server, error) {
	switch {
	case deps.Router == nil:
		return nil, errors.New("router must not be nil")
	case deps.Registry == nil:
		return nil, errors.New("registry must not be nil")
	case deps.Resolver == nil:
		return nil, errors.New("auth resolver must not be nil")
	case deps.Store == nil:
		return nil, errors.New("image store must not be nil")
	case deps.Decoder == nil:
		return nil, errors.New("stream decoder must not be nil")
	}
	if deps.Estimator == nil {
		deps.Estimator = usage.NewBPEEstimator()
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = openAIErrorHandler

	e.Pre(middleware.RemoveTrailingSlash())
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogLatency: true,
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogError:   true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			creds, _ := credentialsFrom(c)
			status := v.Status
			if v.Error != nil && !c.Response().Committed {
				status = statusForError(v.Error)
			}
			slog.Info("request",
				"method", v.Method,
				"uri", v.URI,
				"status", status,
				"latency_ms", v.Latency.Milliseconds(),
				"user", creds.UserID,
				"error", v.Error,
			)
			return nil
		},
	}))
	e.Use(middleware.SecureWithConfig(middleware.SecureConfig{
		XSSProtection:         "1; mode=block",
		ContentTypeNosniff:    "nosniff",
		XFrameOptions:         "DENY",
		HSTSMaxAge:            31536000,
		ContentSecurityPolicy: "default-src 'none'; frame-ancestors 'none'; form-action 'none'",
	}))
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     cfg.Server.CORSOrigins,
		AllowMethods:     []string{http.MethodGet, http.MethodPost},
		AllowHeaders:     []string{echo.HeaderAuthorization, echo.HeaderContentType, echo.HeaderAccept},
		AllowCredentials: true,
	}))
	e.Use(metrics.Middleware(statusForError))

	srv := &Server{
		cfg:       cfg,
		router:    deps.Router,
		registry:  deps.Registry,
		resolver:  deps.Resolver,
		store:     deps.Store,
		decode:    deps.Decoder,
		estimator: deps.Estimator,
		now:       time.Now,
		app:       e,
		address:   net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port)),
	}

	srv.registerRoutes()

	return srv, nil
}

// Handler exposes the routed application, e.g. for httptest.
func (s *Server) Handler() http.Handler {
	return s.app
}

// Run starts the HTTP server and blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:         s.address,
		Handler:      s.app,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  idleTimeout,
	}

	scheme := "http"
	if s.cfg.Server.TLSCert != "" {
		cert, err := tls.LoadX509KeyPair(s.cfg.Server.TLSCert, s.cfg.Server.TLSKey)
		if err != nil {
			return fmt.Errorf("load tls key pair: %w", err)
		}
		httpServer.TLSConfig = &tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS12,
		}
		scheme = "https"
	}

	printStartupBanner(scheme, s.cfg.Server.Port, s.cfg.Server.PublicURL)
	slog.Info("starting server", "addr", s.address, "tls", scheme == "https")

	errCh := make(chan error, 1)
	go func() {
		if err := s.app.StartServer(httpServer); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGracePeriod)
		defer cancel()
		if err := s.app.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		slog.Info("server shutdown complete")
		return nil
	case err := <-errCh:
		return err
	}
}

func (s *Server) registerRoutes() {
	s.app.GET("/metrics", echo.WrapHandler(metrics.Handler()))

	for _, prefix := range []string{"", "/v1"} {
		s.app.GET(prefix+"/health", s.handleHealth)
		s.app.POST(prefix+"/chat/completions", s.handleChatCompletions, s.requireAuth)
		s.app.POST(prefix+"/embeddings", s.handleEmbeddings, s.requireAuth)
		s.app.POST(prefix+"/images/generations", s.handleImageGeneration, s.requireAuth)
		s.app.GET(prefix+"/images/:id", s.handleGetImage, s.requireAuth)
		s.app.GET(prefix+"/models", s.handleModels, s.requireAuth)
		s.app.GET(prefix+"/models/*", s.handleModel, s.requireAuth)
	}
}

func decodeRequestBody[T any](c echo.Context, target *T) error {
	req := c.Request()
	defer req.Body.Close()

	req.Body = http.MaxBytesReader(c.Response(), req.Body, maxBodyBytes)

	decoder := json.NewDecoder(req.Body)
	if err := decoder.Decode(target); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.Is(err, io.EOF):
			return requestError{
				Status:  http.StatusBadRequest,
				Message: "request body is required",
				Type:    "invalid_request_error",
			}
		case errors.As(err, &maxErr):
			return requestError{
				Status:  http.StatusRequestEntityTooLarge,
				Message: fmt.Sprintf("request body exceeds %d bytes", maxErr.Limit),
				Type:    "invalid_request_error",
			}
		case errors.Is(err, translator.ErrInvalidRequest):
			return requestError{
				Status:  http.StatusBadRequest,
				Message: err.Error(),
				Type:    "invalid_request_error",
			}
		}
		return requestError{
			Status:  http.StatusBadRequest,
			Message: fmt.Sprintf("invalid JSON payload: %v", err),
			Type:    "invalid_request_error",
		}
	}

	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return requestError{
			Status:  http.StatusBadRequest,
			Message: "request body must contain a single JSON object",
			Type:    "invalid_request_error",
		}
	}
	return nil
}

type requestError struct {
	Status  int
	Message string
	Type    string
	Code    string
}

func (e requestError) Error() string {
	return e.Message
}

type errorBody struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code,omitempty"`
	} `json:"error"`
}

func writeError(c echo.Context, status int, message, errType, code string) error {
	var payload errorBody
	payload.Error.Message = message
	payload.Error.Type = errType
	payload.Error.Code = code
	return c.JSON(status, payload)
}

func openAIErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	reqErr := toHTTPError(err)
	if reqErr.Status == http.StatusUnauthorized {
		c.Response().Header().Set(echo.HeaderWWWAuthenticate, "Bearer")
	}
	if reqErr.Status >= http.StatusInternalServerError {
		slog.Error("request failed", "uri", c.Request().RequestURI, "status", reqErr.Status, "error", err)
	}
	_ = writeError(c, reqErr.Status, reqErr.Message, reqErr.Type, reqErr.Code)
}

func statusForError(err error) int {
	return toHTTPError(err).Status
}

func toHTTPError(err error) requestError {
	var reqErr requestError
	if errors.As(err, &reqErr) {
		return reqErr
	}

	var upstreamErr *provider.UpstreamError
	var echoErr *echo.HTTPError

	switch {
	case errors.As(err, &echoErr):
		return requestError{
			Status:  echoErr.Code,
			Message: fmt.Sprint(echoErr.Message),
			Type:    "invalid_request_error",
		}
	case errors.Is(err, auth.ErrUnauthorized):
		return requestError{
			Status:  http.StatusUnauthorized,
			Message: "Invalid token",
			Type:    "invalid_request_error",
			Code:    "invalid_api_key",
		}
	case errors.Is(err, translator.ErrInvalidRequest):
		return requestError{
			Status:  http.StatusBadRequest,
			Message: err.Error(),
			Type:    "invalid_request_error",
		}
	case errors.As(err, &upstreamErr):
		return requestError{
			Status:  upstreamErr.StatusCode,
			Message: upstreamErr.Body,
			Type:    "upstream_error",
		}
	case errors.Is(err, provider.ErrUnknownModel):
		return requestError{
			Status:  http.StatusNotFound,
			Message: err.Error(),
			Type:    "invalid_request_error",
			Code:    "model_not_found",
		}
	case errors.Is(err, images.ErrNotFound):
		return requestError{
			Status:  http.StatusNotFound,
			Message: "Image not found",
			Type:    "invalid_request_error",
		}
	case errors.Is(err, images.ErrTimeout):
		return requestError{
			Status:  http.StatusInternalServerError,
			Message: err.Error(),
			Type:    "server_error",
			Code:    "timeout",
		}
	case errors.Is(err, provider.ErrOperationFailed):
		return requestError{
			Status:  http.StatusInternalServerError,
			Message: err.Error(),
			Type:    "server_error",
		}
	case errors.Is(err, context.Canceled):
		return requestError{
			Status:  499,
			Message: "client closed request",
			Type:    "invalid_request_error",
		}
	}

	return requestError{
		Status:  http.StatusBadGateway,
		Message: "upstream provider error",
		Type:    "upstream_error",
	}
}

func printStartupBanner(scheme string, port int, publicURL string) {
	host := "127.0.0.1"
	fmt.Println()
	fmt.Println("yagpt-router ready")
	fmt.Printf("Listening on %s://%s:%d (public URL %s)\n", scheme, host, port, publicURL)
	fmt.Println("Endpoints (also under /v1):")
	fmt.Println("  GET  /health")
	fmt.Println("  GET  /models")
	fmt.Println("  POST /chat/completions")
	fmt.Println("  POST /embeddings")
	fmt.Println("  POST /images/generations")
	fmt.Println("  GET  /images/{id}")
	fmt.Println("  GET  /metrics")
	fmt.Printf("OpenAI-style example:\n  curl %s://%s:%d/v1/chat/completions -H 'Authorization: Bearer <token>' -H 'Content-Type: application/json' -d '{\"model\":\"gpt-4o\",\"messages\":[{\"role\":\"user\",\"content\":\"hello\"}]}'\n\n", scheme, host, port)
}
