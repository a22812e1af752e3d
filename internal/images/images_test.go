package images

import (
	"context"
	"encoding/base64"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"yagpt-router/internal/models"
	"yagpt-router/internal/provider"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.now = c.now.Add(d)
	return nil
}

// scriptedClient reports pending for the first pending polls, then done.
type scriptedClient struct {
	pending   int
	polls     int
	failWith  string
	submitErr error
	lastReq   models.ImageRequest
}

func (c *scriptedClient) GenerateImage(_ context.Context, _ models.Credentials, req models.ImageRequest) (string, error) {
	c.lastReq = req
	if c.submitErr != nil {
		return "", c.submitErr
	}
	return "op-1", nil
}

func (c *scriptedClient) Operation(_ context.Context, _ models.Credentials, id string) (*models.Operation, error) {
	c.polls++
	if c.failWith != "" {
		return &models.Operation{ID: id, Error: c.failWith}, nil
	}
	if c.polls <= c.pending {
		return &models.Operation{ID: id}, nil
	}
	return &models.Operation{ID: id, Done: true, Image: base64.StdEncoding.EncodeToString([]byte("jpeg-bytes"))}, nil
}

func newTestPoller(client Client) *Poller {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	return NewPoller(client, WithClock(clock.Now, clock.Sleep))
}

func TestGenerateSucceedsIffPendingBelowTimeout(t *testing.T) {
	const timeout = 5
	for pending := 0; pending <= timeout+2; pending++ {
		client := &scriptedClient{pending: pending}
		res, err := newTestPoller(client).Generate(context.Background(), models.Credentials{}, models.ImageRequest{Prompt: "cat"}, timeout*time.Second)

		if pending < timeout {
			require.NoError(t, err, "pending=%d", pending)
			assert.Equal(t, "op-1", res.OperationID)
			assert.Equal(t, []byte("jpeg-bytes"), res.Image)
			assert.Equal(t, pending+1, res.Polls)
		} else {
			require.ErrorIs(t, err, ErrTimeout, "pending=%d", pending)
			assert.Contains(t, err.Error(), "(5s)")
			assert.Equal(t, timeout, client.polls)
		}
	}
}

func TestGenerateOperationError(t *testing.T) {
	client := &scriptedClient{failWith: "content policy"}

	_, err := newTestPoller(client).Generate(context.Background(), models.Credentials{}, models.ImageRequest{}, 10*time.Second)
	require.ErrorIs(t, err, provider.ErrOperationFailed)
	assert.Contains(t, err.Error(), "content policy")
	assert.Equal(t, 1, client.polls)
}

func TestGenerateSubmitError(t *testing.T) {
	upstreamErr := &provider.UpstreamError{StatusCode: 400, Body: "bad"}
	client := &scriptedClient{submitErr: upstreamErr}

	_, err := newTestPoller(client).Generate(context.Background(), models.Credentials{}, models.ImageRequest{Model: "yandex-art/latest"}, time.Second)

	var target *provider.UpstreamError
	require.ErrorAs(t, err, &target)
	assert.Equal(t, 0, client.polls)
	assert.Equal(t, "yandex-art/latest", client.lastReq.Model)
}

func TestGenerateHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestPoller(&scriptedClient{}).Generate(ctx, models.Credentials{}, models.ImageRequest{}, time.Second)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestSleepContext(t *testing.T) {
	assert.NoError(t, sleepContext(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, sleepContext(ctx, time.Hour), context.Canceled)
}

func TestStoreSaveAndPath(t *testing.T) {
	store, err := NewStore(filepath.Join(t.TempDir(), "images"))
	require.NoError(t, err)

	name, err := store.Save("op-1", []byte("jpeg"))
	require.NoError(t, err)
	assert.Equal(t, "op-1.jpg", name)

	path, err := store.Path(name)
	require.NoError(t, err)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []byte("jpeg"), data)

	for _, bad := range []string{"missing.jpg", "../secret", "a/b.jpg", ".hidden.jpg", ""} {
		_, err := store.Path(bad)
		assert.ErrorIs(t, err, ErrNotFound, bad)
	}

	_, err = store.Save("../escape", []byte("x"))
	assert.Error(t, err)
}

func TestStoreClear(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir)
	require.NoError(t, err)

	_, err = store.Save("a", []byte("1"))
	require.NoError(t, err)
	_, err = store.Save("b", []byte("2"))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("keep"), 0o644))

	removed, err := store.Clear()
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "notes.txt", entries[0].Name())
}
