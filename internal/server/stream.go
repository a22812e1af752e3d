package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"yagpt-router/internal/metrics"
	"yagpt-router/internal/models"
	"yagpt-router/internal/translator"
)

const streamReadSize = 32 * 1024

// streamChat relays an upstream stream as OpenAI chunks. Upstream failures
// before the first byte surface as regular errors; afterwards the stream is
// simply ended. Cancelling the request context aborts the upstream call.
func (s *Server) streamChat(c echo.Context, creds models.Credentials, req models.ChatRequest) error {
	ctx := c.Request().Context()

	body, model, err := s.router.ChatStream(ctx, creds, req)
	if err != nil {
		return err
	}
	defer body.Close()

	res := c.Response()
	rc := http.NewResponseController(res)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil && !errors.Is(err, http.ErrNotSupported) {
		slog.Debug("clear stream write deadline", "error", err)
	}

	header := res.Header()
	header.Set(echo.HeaderContentType, "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	header.Set("X-Accel-Buffering", "no")
	res.WriteHeader(http.StatusOK)

	metrics.StreamingConnections.Inc()
	defer metrics.StreamingConnections.Dec()

	tr := translator.NewStreamTranslator(model, s.now().Unix(), s.decode)
	err = relayStream(body, res, rc, tr, model)
	metrics.StreamFragmentsSkipped.Add(float64(tr.Skipped()))

	switch {
	case err == nil:
		slog.Info("chat stream served", "user", creds.UserID, "id", tr.ID(), "skipped_fragments", tr.Skipped())
	case errors.Is(err, context.Canceled) || ctx.Err() != nil:
		slog.Info("chat stream cancelled by client", "user", creds.UserID, "id", tr.ID())
	default:
		slog.Warn("chat stream aborted", "user", creds.UserID, "id", tr.ID(), "error", err)
	}
	return nil
}

func relayStream(body io.Reader, w io.Writer, rc *http.ResponseController, tr *translator.StreamTranslator, model string) error {
	buf := make([]byte, streamReadSize)
	for {
		n, readErr := body.Read(buf)
		if n > 0 {
			chunks := tr.Write(buf[:n])
			for _, chunk := range chunks {
				frame, err := translator.EncodeSSE(chunk)
				if err != nil {
					return err
				}
				if _, err := w.Write(frame); err != nil {
					return fmt.Errorf("write stream frame: %w", err)
				}
				metrics.StreamChunksTotal.WithLabelValues(chunkKind(chunk)).Inc()
				if chunk.Usage != nil {
					recordTokens(model, *chunk.Usage)
				}
			}
			if len(chunks) > 0 {
				if err := rc.Flush(); err != nil {
					return fmt.Errorf("flush stream: %w", err)
				}
			}
		}

		if errors.Is(readErr, io.EOF) {
			break
		}
		if readErr != nil {
			return fmt.Errorf("read upstream stream: %w", readErr)
		}
	}

	if tr.Close() {
		slog.Warn("upstream stream ended inside a fragment", "id", tr.ID())
	}

	if _, err := w.Write(translator.DoneFrame); err != nil {
		return fmt.Errorf("write stream terminator: %w", err)
	}
	if err := rc.Flush(); err != nil {
		return fmt.Errorf("flush stream: %w", err)
	}
	return nil
}

func chunkKind(chunk translator.ChatCompletionChunk) string {
	if len(chunk.Choices) > 0 && len(chunk.Choices[0].Delta.ToolCalls) > 0 {
		return "tool_call"
	}
	return "text"
}
