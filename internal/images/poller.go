// Package images runs asynchronous image generation jobs and stores their results.
package images

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"yagpt-router/internal/metrics"
	"yagpt-router/internal/models"
	"yagpt-router/internal/provider"
)

// DefaultInterval is the pause before each operation status query.
const DefaultInterval = time.Second

// ErrTimeout indicates the operation did not finish before the caller's deadline.
var ErrTimeout = errors.New("image generation timeout")

// State is a step of a generation job.
type State int

const (
	StateRequested State = iota
	StatePolling
	StateDone
	StateFailed
	StateTimedOut
)

func (s State) String() string {
	switch s {
	case StateRequested:
		return "requested"
	case StatePolling:
		return "polling"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	case StateTimedOut:
		return "timed_out"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Client is the subset of the upstream used by the poller.
type Client interface {
	GenerateImage(ctx context.Context, creds models.Credentials, req models.ImageRequest) (string, error)
	Operation(ctx context.Context, creds models.Credentials, id string) (*models.Operation, error)
}

// Result is a finished generation job.
type Result struct {
	OperationID string
	Image       []byte
	Polls       int
}

// Poller submits generation jobs and polls them to completion.
type Poller struct {
	client   Client
	interval time.Duration
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error
}

// Option customises a Poller.
type Option func(*Poller)

// WithInterval overrides the pause between status queries.
func WithInterval(d time.Duration) Option {
	return func(p *Poller) {
		if d > 0 {
			p.interval = d
		}
	}
}

// WithClock replaces the wall clock and sleep function, mainly for tests.
func WithClock(now func() time.Time, sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(p *Poller) {
		if now != nil {
			p.now = now
		}
		if sleep != nil {
			p.sleep = sleep
		}
	}
}

// NewPoller constructs a poller backed by client.
func NewPoller(client Client, opts ...Option) *Poller {
	p := &Poller{
		client:   client,
		interval: DefaultInterval,
		now:      time.Now,
		sleep:    sleepContext,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Generate submits req and waits for the job to finish. A status query is only
// issued while the clock is within timeout (plus half an interval of slack) of
// the submission; with a one second interval the job succeeds iff it reports
// completion within timeout polls.
func (p *Poller) Generate(ctx context.Context, creds models.Credentials, req models.ImageRequest, timeout time.Duration) (*Result, error) {
	id, err := p.client.GenerateImage(ctx, creds, req)
	if err != nil {
		return nil, fmt.Errorf("submit image generation: %w", err)
	}
	slog.Debug("image operation submitted", "operation", id, "state", StateRequested)

	state := StatePolling
	deadline := p.now().Add(timeout + p.interval/2)
	polls := 0

	for state == StatePolling {
		if err := p.sleep(ctx, p.interval); err != nil {
			return nil, err
		}
		if p.now().After(deadline) {
			state = StateTimedOut
			break
		}

		op, err := p.client.Operation(ctx, creds, id)
		polls++
		if err != nil {
			metrics.ImagePollsTotal.WithLabelValues("error").Inc()
			return nil, fmt.Errorf("poll operation %s: %w", id, err)
		}

		switch {
		case op.Error != "":
			state = StateFailed
			metrics.ImagePollsTotal.WithLabelValues(state.String()).Inc()
			return nil, fmt.Errorf("%w: %s", provider.ErrOperationFailed, op.Error)
		case op.Done:
			state = StateDone
			metrics.ImagePollsTotal.WithLabelValues(state.String()).Inc()
			image, err := decodeImage(op.Image)
			if err != nil {
				return nil, fmt.Errorf("operation %s: %w", id, err)
			}
			slog.Debug("image operation finished", "operation", id, "polls", polls)
			return &Result{OperationID: id, Image: image, Polls: polls}, nil
		default:
			metrics.ImagePollsTotal.WithLabelValues("pending").Inc()
		}
	}

	metrics.ImagePollsTotal.WithLabelValues(state.String()).Inc()
	slog.Warn("image operation timed out", "operation", id, "polls", polls, "timeout", timeout)
	return nil, fmt.Errorf("%w (%ds)", ErrTimeout, int(timeout/time.Second))
}

func decodeImage(encoded string) ([]byte, error) {
	if encoded == "" {
		return nil, fmt.Errorf("%w: completed without an image", provider.ErrOperationFailed)
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	return data, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
